package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// KeepAlive is the heartbeat frame body.
const KeepAlive = ""

// Script is what StreamServer does for one incoming connection.
type Script struct {
	// Status defaults to 200.
	Status int
	// Body is written instead of frames when Status is not 200.
	Body string
	// Frames are written one per line, each followed by "\r\n".
	Frames []string
	// FrameDelay is slept between frames.
	FrameDelay time.Duration
	// Abort drops the connection after the frames instead of ending the
	// response cleanly.
	Abort bool
	// Hold keeps the response open until the client goes away.
	Hold bool
}

// StreamServer serves scripted stream responses. Connections past the end
// of the script get the last entry again.
type StreamServer struct {
	*httptest.Server

	mu          sync.Mutex
	scripts     []Script
	connections int
	headers     []http.Header
	disconnects chan struct{}
}

// NewStreamServer starts a StreamServer.
func NewStreamServer(scripts ...Script) *StreamServer {
	s := &StreamServer{scripts: scripts, disconnects: make(chan struct{}, 64)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Connections returns how many stream requests were received.
func (s *StreamServer) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

// Headers returns the request headers of connection n (zero based).
func (s *StreamServer) Headers(n int) http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n >= len(s.headers) {
		return nil
	}
	return s.headers[n]
}

// Disconnects receives a value whenever a held connection is released by the client.
func (s *StreamServer) Disconnects() <-chan struct{} {
	return s.disconnects
}

func (s *StreamServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	idx := s.connections
	s.connections++
	s.headers = append(s.headers, r.Header.Clone())
	var script Script
	if len(s.scripts) > 0 {
		if idx >= len(s.scripts) {
			idx = len(s.scripts) - 1
		}
		script = s.scripts[idx]
	}
	s.mu.Unlock()

	status := script.Status
	if status == 0 {
		status = http.StatusOK
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(script.Body))
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	for _, frame := range script.Frames {
		if script.FrameDelay > 0 {
			select {
			case <-time.After(script.FrameDelay):
			case <-r.Context().Done():
				return
			}
		}
		_, _ = fmt.Fprintf(w, "%s\r\n", frame)
		if flusher != nil {
			flusher.Flush()
		}
	}

	if script.Abort {
		panic(http.ErrAbortHandler)
	}
	if script.Hold {
		<-r.Context().Done()
		s.disconnects <- struct{}{}
	}
}

// TweetFrame builds a data frame for a tweet by username.
func TweetFrame(tweetID, authorID, username, name string) string {
	frame := map[string]interface{}{
		"data": map[string]string{"id": tweetID, "author_id": authorID, "text": "hello"},
		"includes": map[string]interface{}{
			"users": []map[string]string{{
				"id":                authorID,
				"username":          username,
				"name":              name,
				"profile_image_url": "https://pbs.example/" + username + ".jpg",
			}},
		},
		"matching_rules": []map[string]string{{"id": "1", "tag": "stream-bridge 1"}},
	}
	data, _ := json.Marshal(frame)
	return string(data)
}

// ConnectionLimitFrame is the frame sent when a previous connection is still open.
func ConnectionLimitFrame() string {
	return `{"title":"ConnectionException","detail":"This stream is currently at the maximum allowed connection limit.","connection_issue":"TooManyConnections","type":"https://api.twitter.com/2/problems/streaming-connection"}`
}

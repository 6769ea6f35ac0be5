package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// Delivery is one request received by WebhookServer.
type Delivery struct {
	Payload     map[string]string
	ContentType string
	ReceivedAt  time.Time
}

// WebhookServer records webhook deliveries and answers with a fixed status.
type WebhookServer struct {
	*httptest.Server

	mu         sync.Mutex
	status     int
	delay      time.Duration
	deliveries []Delivery
	received   chan Delivery
}

// NewWebhookServer starts a WebhookServer answering with status.
func NewWebhookServer(status int) *WebhookServer {
	s := &WebhookServer{status: status, received: make(chan Delivery, 256)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// SetDelay makes every response wait d first.
func (s *WebhookServer) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Deliveries returns every recorded delivery.
func (s *WebhookServer) Deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Delivery(nil), s.deliveries...)
}

// Received is fed every delivery as it arrives.
func (s *WebhookServer) Received() <-chan Delivery {
	return s.received
}

func (s *WebhookServer) handle(w http.ResponseWriter, r *http.Request) {
	d := Delivery{ContentType: r.Header.Get("Content-Type"), ReceivedAt: time.Now()}
	_ = json.NewDecoder(r.Body).Decode(&d.Payload)

	s.mu.Lock()
	s.deliveries = append(s.deliveries, d)
	status, delay := s.status, s.delay
	s.mu.Unlock()

	select {
	case s.received <- d:
	default:
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	w.WriteHeader(status)
	if status >= 300 {
		_, _ = w.Write([]byte(`{"message":"rejected"}`))
	}
}

// Package stream owns a single filtered-stream HTTP connection and turns its
// newline-delimited frames into events.
package stream

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"stream-bridge/internal/common/errors"
)

// Kind classifies a parsed frame.
type Kind int

const (
	// KindData is a matched tweet
	KindData Kind = iota
	// KindKeepAlive is the empty heartbeat frame
	KindKeepAlive
	// KindError is an upstream problem report that does not end the stream
	KindError
	// KindConnectionLimit means the upstream still holds a previous connection
	KindConnectionLimit
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindKeepAlive:
		return "keep_alive"
	case KindError:
		return "error"
	case KindConnectionLimit:
		return "connection_limit"
	default:
		return "unknown"
	}
}

const connectionLimitMarker = "maximum allowed connection"

// Tweet is the "data" object of a frame.
type Tweet struct {
	ID       string `json:"id"`
	Text     string `json:"text,omitempty"`
	AuthorID string `json:"author_id,omitempty"`
}

// User is an expanded user from "includes.users".
type User struct {
	ID              string `json:"id"`
	Name            string `json:"name,omitempty"`
	Username        string `json:"username"`
	ProfileImageURL string `json:"profile_image_url,omitempty"`
}

// MatchingRule identifies the rule that selected a tweet.
type MatchingRule struct {
	ID  string `json:"id"`
	Tag string `json:"tag,omitempty"`
}

// Problem is an upstream error object.
type Problem struct {
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
	Type   string `json:"type,omitempty"`
}

type frame struct {
	Data     *Tweet `json:"data"`
	Includes struct {
		Users []User `json:"users"`
	} `json:"includes"`
	MatchingRules []MatchingRule `json:"matching_rules"`
	Errors        []Problem      `json:"errors"`
	Title         string         `json:"title"`
	Detail        string         `json:"detail"`
	Type          string         `json:"type"`
}

// Event is one parsed unit of the stream.
type Event struct {
	Kind       Kind
	ReceivedAt time.Time

	// Data events
	Raw           json.RawMessage
	Tweet         *Tweet
	Author        *User
	Users         []User
	MatchingRules []MatchingRule
	// Accounts are the usernames this event is routed by.
	Accounts []string

	// Error and connection-limit events
	Title  string
	Detail string
}

// ParseFrame parses one frame with its line terminator removed. A frame
// carrying an "errors" array and no data yields one event per entry.
func ParseFrame(raw []byte) ([]Event, error) {
	now := time.Now()
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return []Event{{Kind: KindKeepAlive, ReceivedAt: now}}, nil
	}

	var f frame
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return nil, errors.ParseError("frame is not valid JSON", err).
			WithContext("frame", truncate(string(trimmed), 256))
	}

	if f.Data == nil && (f.Title != "" || f.Detail != "") {
		kind := KindError
		if isConnectionLimit(f.Title, f.Detail) {
			kind = KindConnectionLimit
		}
		return []Event{{Kind: kind, ReceivedAt: now, Title: f.Title, Detail: f.Detail}}, nil
	}

	if f.Data == nil && len(f.Errors) > 0 {
		events := make([]Event, 0, len(f.Errors))
		for _, p := range f.Errors {
			kind := KindError
			if isConnectionLimit(p.Title, p.Detail) {
				kind = KindConnectionLimit
			}
			events = append(events, Event{Kind: kind, ReceivedAt: now, Title: p.Title, Detail: p.Detail})
		}
		return events, nil
	}

	ev := Event{
		Kind:          KindData,
		ReceivedAt:    now,
		Raw:           json.RawMessage(append([]byte(nil), trimmed...)),
		Tweet:         f.Data,
		Users:         f.Includes.Users,
		MatchingRules: f.MatchingRules,
	}
	if author := findAuthor(f.Data, f.Includes.Users); author != nil {
		ev.Author = author
		ev.Accounts = []string{author.Username}
	}
	return []Event{ev}, nil
}

func findAuthor(tweet *Tweet, users []User) *User {
	if tweet == nil || len(users) == 0 {
		return nil
	}
	for i := range users {
		if users[i].ID == tweet.AuthorID {
			return &users[i]
		}
	}
	if tweet.AuthorID == "" {
		return &users[0]
	}
	return nil
}

func isConnectionLimit(title, detail string) bool {
	return title == "ConnectionException" || strings.Contains(detail, connectionLimitMarker)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

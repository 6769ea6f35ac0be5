// Package testutil provides in-process fakes of the upstream endpoints and
// webhook destinations for tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
)

// FakeRule is a rule held by RulesServer.
type FakeRule struct {
	ID    string `json:"id"`
	Value string `json:"value"`
	Tag   string `json:"tag,omitempty"`
}

// RecordedRequest is a request seen by one of the fakes.
type RecordedRequest struct {
	Method        string
	Operation     string
	Authorization string
	UserAgent     string
	Body          map[string]interface{}
}

// RulesServer is an in-memory rules endpoint. GET lists rules, POST with
// "add" creates them (201) and POST with "delete" removes them (200).
type RulesServer struct {
	*httptest.Server

	mu       sync.Mutex
	rules    []FakeRule
	nextID   int
	requests []RecordedRequest
	failures map[string]int
	rejected map[string]bool
}

// NewRulesServer starts a RulesServer holding the given rules.
func NewRulesServer(initial ...FakeRule) *RulesServer {
	s := &RulesServer{rules: initial, nextID: 1000, failures: map[string]int{}, rejected: map[string]bool{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// FailOn makes every request for operation ("fetch", "add" or "delete")
// answer with status.
func (s *RulesServer) FailOn(operation string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[operation] = status
}

// RejectValues makes add skip rules with these values and report each in
// the "errors" array of an otherwise successful 201 response.
func (s *RulesServer) RejectValues(values ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range values {
		s.rejected[v] = true
	}
}

// Rules returns a copy of the stored rules.
func (s *RulesServer) Rules() []FakeRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FakeRule(nil), s.rules...)
}

// Requests returns every request received so far.
func (s *RulesServer) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// Operations returns the operation name of every request, in order.
func (s *RulesServer) Operations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := make([]string, 0, len(s.requests))
	for _, r := range s.requests {
		ops = append(ops, r.Operation)
	}
	return ops
}

func (s *RulesServer) handle(w http.ResponseWriter, r *http.Request) {
	rec := RecordedRequest{
		Method:        r.Method,
		Authorization: r.Header.Get("Authorization"),
		UserAgent:     r.Header.Get("User-Agent"),
	}

	switch r.Method {
	case http.MethodGet:
		rec.Operation = "fetch"
	case http.MethodPost:
		if err := json.NewDecoder(r.Body).Decode(&rec.Body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"title": "Invalid Request"})
			return
		}
		switch {
		case rec.Body["add"] != nil:
			rec.Operation = "add"
		case rec.Body["delete"] != nil:
			rec.Operation = "delete"
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, rec)

	if status, ok := s.failures[rec.Operation]; ok {
		writeJSON(w, status, map[string]string{"title": http.StatusText(status), "detail": "injected failure"})
		return
	}

	switch rec.Operation {
	case "fetch":
		resp := map[string]interface{}{"meta": map[string]interface{}{"result_count": len(s.rules)}}
		if len(s.rules) > 0 {
			resp["data"] = s.rules
		}
		writeJSON(w, http.StatusOK, resp)
	case "add":
		var created []FakeRule
		var ruleErrors []map[string]string
		for _, item := range rec.Body["add"].([]interface{}) {
			entry := item.(map[string]interface{})
			value, _ := entry["value"].(string)
			if s.rejected[value] {
				ruleErrors = append(ruleErrors, map[string]string{"value": value, "title": "DuplicateRule"})
				continue
			}
			s.nextID++
			rule := FakeRule{ID: strconv.Itoa(s.nextID), Value: value}
			rule.Tag, _ = entry["tag"].(string)
			created = append(created, rule)
		}
		s.rules = append(s.rules, created...)
		resp := map[string]interface{}{"data": created}
		if len(ruleErrors) > 0 {
			resp["errors"] = ruleErrors
		}
		writeJSON(w, http.StatusCreated, resp)
	case "delete":
		ids := map[string]bool{}
		del := rec.Body["delete"].(map[string]interface{})
		for _, id := range del["ids"].([]interface{}) {
			ids[id.(string)] = true
		}
		kept := s.rules[:0]
		for _, rule := range s.rules {
			if !ids[rule.ID] {
				kept = append(kept, rule)
			}
		}
		s.rules = kept
		writeJSON(w, http.StatusOK, map[string]interface{}{"meta": map[string]interface{}{"summary": map[string]int{"deleted": len(ids)}}})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"title": "Invalid Request"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

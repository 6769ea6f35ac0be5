// Package upstream talks to the filtered-stream rules endpoint. It fetches,
// deletes and adds filter rules, and runs the full replace sequence the
// lifecycle manager needs before a stream is opened.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"stream-bridge/internal/common/errors"
	httpclient "stream-bridge/internal/common/http"
	"stream-bridge/internal/common/logging"
	"stream-bridge/internal/rules"
)

// Config holds what the rules client needs to reach the endpoint.
type Config struct {
	RulesURL    string
	BearerToken string
	UserAgent   string
	BodyLimit   int64
}

// Rule is a filter rule as stored upstream.
type Rule struct {
	ID    string `json:"id"`
	Value string `json:"value"`
	Tag   string `json:"tag,omitempty"`
}

// APIError is an entry of the "errors" array returned alongside rule writes.
type APIError struct {
	Value  string `json:"value,omitempty"`
	ID     string `json:"id,omitempty"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
	Type   string `json:"type,omitempty"`
}

// Meta is the summary block of a rules response.
type Meta struct {
	Sent        string `json:"sent,omitempty"`
	ResultCount int    `json:"result_count,omitempty"`
}

// RuleList is the body of every rules endpoint response.
type RuleList struct {
	Data   []Rule     `json:"data"`
	Meta   Meta       `json:"meta"`
	Errors []APIError `json:"errors,omitempty"`
}

// IDs returns the ids of every rule in the list.
func (l *RuleList) IDs() []string {
	if l == nil {
		return nil
	}
	ids := make([]string, 0, len(l.Data))
	for _, r := range l.Data {
		ids = append(ids, r.ID)
	}
	return ids
}

type deleteRequest struct {
	Delete struct {
		IDs []string `json:"ids"`
	} `json:"delete"`
}

type addRequest struct {
	Add []rules.FilterRule `json:"add"`
}

// Client is the rules endpoint client.
type Client struct {
	cfg    Config
	http   *http.Client
	logger logging.Logger
}

// NewClient creates a rules client. A nil httpClient gets the default
// outbound client with a 20 second timeout.
func NewClient(cfg Config, httpClient *http.Client, logger logging.Logger) *Client {
	if httpClient == nil {
		httpClient = httpclient.NewHTTPClient(httpclient.WithTimeout(defaultTimeout))
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = httpclient.DefaultBodyLimit
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logger.WithFields(logging.Field{Key: "component", Value: "rules_client"}),
	}
}

// FetchCurrentRules returns the rules currently active upstream. Only a 200
// response is accepted.
func (c *Client) FetchCurrentRules(ctx context.Context) (*RuleList, error) {
	list, err := c.do(ctx, "fetch rules", http.MethodGet, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	if list.Data == nil {
		list.Data = []Rule{}
	}
	return list, nil
}

// DeleteRules removes the rules with the given ids. An empty id list is a
// no-op and does not reach the endpoint.
func (c *Client) DeleteRules(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	var body deleteRequest
	body.Delete.IDs = ids

	list, err := c.do(ctx, "delete rules", http.MethodPost, body, http.StatusOK)
	if err != nil {
		return err
	}
	c.logRuleErrors("delete rules", list.Errors)
	return nil
}

// AddRules creates the given rules. An empty rule list is a no-op. Both 201
// and 200 are treated as success.
func (c *Client) AddRules(ctx context.Context, filterRules []rules.FilterRule) (*RuleList, error) {
	if len(filterRules) == 0 {
		return &RuleList{Data: []Rule{}}, nil
	}

	list, err := c.do(ctx, "add rules", http.MethodPost, addRequest{Add: filterRules}, http.StatusCreated, http.StatusOK)
	if err != nil {
		return nil, err
	}
	c.logRuleErrors("add rules", list.Errors)
	return list, nil
}

func (c *Client) do(ctx context.Context, operation, method string, payload interface{}, accepted ...int) (*RuleList, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.InternalError(fmt.Sprintf("failed to encode %s request", operation), err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.RulesURL, body)
	if err != nil {
		return nil, requestFailed(operation, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, requestFailed(operation, err)
	}
	defer resp.Body.Close()

	raw, err := httpclient.ReadBody(resp.Body, c.cfg.BodyLimit)
	if err != nil {
		return nil, requestFailed(operation, err)
	}

	if !statusIn(resp.StatusCode, accepted) {
		c.logger.Error("Rules endpoint rejected request", nil,
			logging.String("operation", operation),
			logging.Int("status", resp.StatusCode),
			logging.String("body", string(raw)),
		)
		return nil, errors.UpstreamRuleError(operation, resp.StatusCode, string(raw))
	}

	list := &RuleList{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, list); err != nil {
			appErr := errors.UpstreamRuleError(operation, resp.StatusCode, string(raw))
			appErr.Cause = err
			return nil, appErr
		}
	}
	return list, nil
}

func (c *Client) logRuleErrors(operation string, apiErrors []APIError) {
	for _, e := range apiErrors {
		c.logger.Warn("Rules endpoint reported a rule error",
			logging.String("operation", operation),
			logging.String("title", e.Title),
			logging.String("detail", e.Detail),
			logging.String("value", e.Value),
		)
	}
}

func requestFailed(operation string, cause error) *errors.AppError {
	return &errors.AppError{
		Type:    errors.ErrTypeUpstreamRule,
		Message: operation + " request failed",
		Cause:   cause,
	}
}

func statusIn(status int, accepted []int) bool {
	for _, s := range accepted {
		if status == s {
			return true
		}
	}
	return false
}

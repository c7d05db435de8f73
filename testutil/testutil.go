// Package testutil provides helpers for exercising HTTP endpoints that answer
// with {"result": ...} and {"error": {...}} envelopes, including SSE streams.
// It imports nothing from the module so any package can use it.
package testutil

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// RequestBuilder builds test requests with a fluent API.
type RequestBuilder struct {
	method  string
	path    string
	body    []byte
	headers map[string]string
	query   url.Values
}

// NewRequest returns a builder for GET /.
func NewRequest() *RequestBuilder {
	return &RequestBuilder{
		method:  http.MethodGet,
		path:    "/",
		headers: make(map[string]string),
		query:   make(url.Values),
	}
}

// GET sets the method to GET.
func (b *RequestBuilder) GET(path string) *RequestBuilder {
	b.method, b.path = http.MethodGet, path
	return b
}

// POST sets the method to POST.
func (b *RequestBuilder) POST(path string) *RequestBuilder {
	b.method, b.path = http.MethodPost, path
	return b
}

// WithJSON sets v, encoded as JSON, as the body.
func (b *RequestBuilder) WithJSON(v any) *RequestBuilder {
	data, _ := json.Marshal(v)
	b.body = data
	b.headers["Content-Type"] = "application/json"
	return b
}

// WithBody sets the raw body.
func (b *RequestBuilder) WithBody(body string) *RequestBuilder {
	b.body = []byte(body)
	return b
}

// WithHeader sets a request header.
func (b *RequestBuilder) WithHeader(key, value string) *RequestBuilder {
	b.headers[key] = value
	return b
}

// WithQuery adds a query parameter.
func (b *RequestBuilder) WithQuery(key, value string) *RequestBuilder {
	b.query.Add(key, value)
	return b
}

// Build creates the request and a ResponseRecorder.
func (b *RequestBuilder) Build() (*http.Request, *httptest.ResponseRecorder) {
	target := b.path
	if len(b.query) > 0 {
		target += "?" + b.query.Encode()
	}
	var req *http.Request
	if len(b.body) > 0 {
		req = httptest.NewRequest(b.method, target, bytes.NewReader(b.body))
	} else {
		req = httptest.NewRequest(b.method, target, nil)
	}
	for k, v := range b.headers {
		req.Header.Set(k, v)
	}
	return req, httptest.NewRecorder()
}

// Do builds the request and serves it with h.
func (b *RequestBuilder) Do(h http.Handler) *httptest.ResponseRecorder {
	req, w := b.Build()
	h.ServeHTTP(w, req)
	return w
}

// AssertStatus checks the response status code.
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, w.Code, w.Body.String())
	}
}

// AssertHeader checks a response header.
func AssertHeader(t *testing.T, w *httptest.ResponseRecorder, key, expected string) {
	t.Helper()
	if actual := w.Header().Get(key); actual != expected {
		t.Errorf("expected header %s=%s, got %s", key, expected, actual)
	}
}

// DecodeResult decodes the "result" member of a success envelope into v.
func DecodeResult(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Errorf("expected Content-Type to contain application/json, got %s", ct)
	}
	var env struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode response: %v\nBody: %s", err, w.Body.String())
	}
	if err := json.Unmarshal(env.Result, v); err != nil {
		t.Fatalf("failed to decode result: %v\nBody: %s", err, w.Body.String())
	}
}

// ErrorResponse is the body of an error envelope.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// AssertJSONError checks that the response is an error envelope with code.
func AssertJSONError(t *testing.T, w *httptest.ResponseRecorder, code string) *ErrorResponse {
	t.Helper()
	var env struct {
		Error *ErrorResponse `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil || env.Error == nil {
		t.Fatalf("failed to decode error response: %v\nBody: %s", err, w.Body.String())
	}
	if env.Error.Code != code {
		t.Errorf("expected error code %s, got %s (message: %s)", code, env.Error.Code, env.Error.Message)
	}
	return env.Error
}

// Event is one server-sent event.
type Event struct {
	ID    string
	Event string
	Data  json.RawMessage
}

// ReadEvents parses an SSE body, skipping comments such as heartbeats.
func ReadEvents(t *testing.T, body string) []Event {
	t.Helper()
	var (
		events []Event
		cur    Event
		data   []string
	)
	flush := func() {
		if len(data) > 0 {
			cur.Data = json.RawMessage(strings.Join(data, "\n"))
			events = append(events, cur)
		}
		cur, data = Event{}, nil
	}
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			cur.ID = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			cur.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
	flush()
	if err := sc.Err(); err != nil {
		t.Fatalf("failed to read events: %v", err)
	}
	return events
}

package musinsa

import (
	"context"
	"errors"
	"fmt"
	"strings"

	json "github.com/json-iterator/go"
)

// Request is one call against the site API.
type Request struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// Response is the raw outcome of a Request. Non-2xx statuses are not errors at this layer.
type Response struct {
	Status int    `json:"status"`
	Body   []byte `json:"-"`
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r != nil && r.Status >= 200 && r.Status < 300 }

// Decode unmarshals the body into v. An empty or malformed body leaves v untouched and
// returns the decoding error.
func (r *Response) Decode(v interface{}) error {
	if r == nil || len(r.Body) == 0 {
		return ErrEmptyBody
	}
	return json.Unmarshal(r.Body, v)
}

// Doer performs requests. The page fetcher runs them inside the logged-in tab; the HTTP
// client runs them directly with cookies copied from it.
type Doer interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// DoerFunc adapts a function to Doer.
type DoerFunc func(ctx context.Context, req Request) (*Response, error)

func (f DoerFunc) Do(ctx context.Context, req Request) (*Response, error) { return f(ctx, req) }

var ErrEmptyBody = errors.New("musinsa: empty response body")

// StatusError is a non-success HTTP status. Code is the reason string reported to callers,
// e.g. list_status_429.
type StatusError struct {
	Prefix string
	Status int
}

func (e *StatusError) Error() string { return e.Code() }

// Code renders prefix + "status_" + status.
func (e *StatusError) Code() string {
	return fmt.Sprintf("%sstatus_%d", e.Prefix, e.Status)
}

// Transient reports rate limiting and server-side failures.
func (e *StatusError) Transient() bool {
	return e.Status == 429 || e.Status >= 500
}

// NewStatusError builds a StatusError for a listing ("list_"), detail ("detail_") or plain
// ("") request.
func NewStatusError(prefix string, status int) *StatusError {
	return &StatusError{Prefix: prefix, Status: status}
}

// Meta is the envelope header most API responses carry.
type Meta struct {
	Result    string `json:"result"`
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// Succeeded reports the server-side success marker.
func (m Meta) Succeeded() bool { return strings.EqualFold(m.Result, "SUCCESS") }

// JSONHeaders are the headers sent with every JSON request.
func (e Endpoints) JSONHeaders() map[string]string {
	return map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
		"Origin":       e.Origin(),
		"Referer":      e.Referer(),
	}
}

// GetJSON is a GET with an Accept: application/json header.
func GetJSON(url string) Request {
	return Request{Method: "GET", URL: url, Headers: map[string]string{"Accept": "application/json"}}
}

// Truncate shortens a response body for logs and reason strings.
func Truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}

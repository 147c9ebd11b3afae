package transport

import (
	"context"
	"sync"

	"limepq/internal/domain"
)

// Handler answers one posted request with a status code and body, the same
// shape a real key-distribution server would return.
type Handler func(url, from string, body []byte) (code int, respBody []byte)

// Fake is an in-memory domain.Transport used by tests and the CLI harness's
// in-process mode, grounded on the teacher's fake relay used in
// internal/services tests. Requests are dispatched synchronously and
// recorded for assertions.
type Fake struct {
	mu       sync.Mutex
	handler  Handler
	requests []FakeRequest
}

// FakeRequest records one call to Post for test assertions.
type FakeRequest struct {
	URL  string
	From string
	Body []byte
}

func NewFake(h Handler) *Fake {
	return &Fake{handler: h}
}

func (f *Fake) Post(ctx context.Context, url string, from string, body []byte, cb func(code int, body []byte, err error)) {
	f.mu.Lock()
	f.requests = append(f.requests, FakeRequest{URL: url, From: from, Body: body})
	h := f.handler
	f.mu.Unlock()

	if h == nil {
		cb(0, nil, errNoHandler)
		return
	}
	code, respBody := h(url, from, body)
	cb(code, respBody, nil)
}

func (f *Fake) Requests() []FakeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

func (f *Fake) SetHandler(h Handler) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

var errNoHandler = domainError("transport.Fake: no handler installed")

type domainError string

func (e domainError) Error() string { return string(e) }

var _ domain.Transport = (*Fake)(nil)

// Package transport implements the external `post(url, from, body,
// response_cb)` collaborator the core consumes (spec §1, §6), grounded on
// the teacher's internal/relay/http.go HTTP client shape, generalized to
// the domain.Transport interface's callback-based contract.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"limepq/internal/domain"
)

// HTTP posts requests over net/http. The callback is invoked synchronously
// on the calling goroutine once the round trip completes — callers must not
// assume otherwise (spec §5 "the transport callback may be invoked on any
// thread, including reentrantly").
type HTTP struct {
	Client *http.Client
}

// NewHTTP returns an HTTP transport with a sane default timeout, grounded
// on the teacher's relay client's http.Client construction.
func NewHTTP() *HTTP {
	return &HTTP{Client: &http.Client{Timeout: 30 * time.Second}}
}

func (h *HTTP) Post(ctx context.Context, url string, from string, body []byte, cb func(code int, body []byte, err error)) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		cb(0, nil, fmt.Errorf("transport: build request: %w", err))
		return
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Limepq-From", from)

	resp, err := h.Client.Do(req)
	if err != nil {
		cb(0, nil, fmt.Errorf("transport: round trip: %w", err))
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		cb(resp.StatusCode, nil, fmt.Errorf("transport: read body: %w", err))
		return
	}
	cb(resp.StatusCode, respBody, nil)
}

var _ domain.Transport = (*HTTP)(nil)

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/ashureev/companion/internal/stream"
)

const (
	maxErrorBody  = 4 << 10
	maxSingleShot = 8 << 20
)

// HTTPTransport posts the request as JSON. A text/event-stream or NDJSON
// response is decoded incrementally; any other body is read whole and
// decoded as a single-shot reply.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
	tokens   TokenSource
	opts     []stream.Option
	logger   *slog.Logger
	maxBody  int64
}

// NewHTTPTransport returns a transport posting to endpoint. A nil client uses
// a client without a global timeout; each send is bounded by its context.
func NewHTTPTransport(endpoint string, client *http.Client, tokens TokenSource, logger *slog.Logger, opts ...stream.Option) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTransport{endpoint: endpoint, client: client, tokens: tokens, opts: opts, logger: logger, maxBody: maxSingleShot}
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, req Request) iter.Seq2[stream.Event, error] {
	tok, err := token(ctx, t.tokens)
	if err != nil {
		return fail(err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fail(fmt.Errorf("marshal chat request: %w", err))
	}

	return func(yield func(stream.Event, error) bool) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
		if err != nil {
			yield(stream.Event{}, fmt.Errorf("build chat request: %w", err))
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream, application/x-ndjson, application/json")
		httpReq.Header.Set("Authorization", "Bearer "+tok)
		if req.SessionID != "" {
			httpReq.Header.Set("X-Session-ID", req.SessionID)
		}

		resp, err := t.client.Do(httpReq)
		if err != nil {
			yield(stream.Event{}, fmt.Errorf("post chat request: %w", err))
			return
		}
		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				t.logger.Debug("failed to close chat response body", "error", closeErr)
			}
		}()

		if err := checkStatus(resp); err != nil {
			yield(stream.Event{}, err)
			return
		}

		if isStreaming(resp) {
			for ev, err := range stream.Read(ctx, resp.Body, t.opts...) {
				if !yield(ev, err) || err != nil {
					return
				}
			}
			return
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBody+1))
		if err != nil {
			yield(stream.Event{}, fmt.Errorf("%w: %w", stream.ErrInterrupted, err))
			return
		}
		if int64(len(data)) > t.maxBody {
			yield(stream.Event{}, fmt.Errorf("%w: single-shot reply over %d bytes", ErrResponseTooLarge, t.maxBody))
			return
		}
		t.logger.Debug("decoding single-shot chat response", "bytes", len(data), "session_id", req.SessionID)
		events, err := stream.DecodeBody(data, t.opts...)
		for ev, err := range emit(events, err) {
			if !yield(ev, err) {
				return
			}
		}
	}
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	se := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %w", ErrUnauthorized, se)
	}
	return se
}

func isStreaming(resp *http.Response) bool {
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		mediaType = ""
	}
	switch mediaType {
	case "text/event-stream", "application/x-ndjson", "application/stream+json":
		return true
	case "application/json":
		return false
	}
	// Untyped chunked bodies are decoded as they arrive.
	for _, te := range resp.TransferEncoding {
		if te == "chunked" {
			return true
		}
	}
	return false
}

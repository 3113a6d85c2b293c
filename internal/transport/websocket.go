package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/ashureev/companion/internal/stream"
)

// WebSocketTransport writes the request as one text message and treats every
// message received afterwards as an arbitrary stream chunk. A normal closure
// from the server ends the stream.
type WebSocketTransport struct {
	url    string
	tokens TokenSource
	opts   []stream.Option
	logger *slog.Logger
}

// NewWebSocketTransport returns a transport dialing url for every send.
func NewWebSocketTransport(url string, tokens TokenSource, logger *slog.Logger, opts ...stream.Option) *WebSocketTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketTransport{url: url, tokens: tokens, opts: opts, logger: logger}
}

// Send implements Transport.
func (t *WebSocketTransport) Send(ctx context.Context, req Request) iter.Seq2[stream.Event, error] {
	tok, err := token(ctx, t.tokens)
	if err != nil {
		return fail(err)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fail(fmt.Errorf("marshal chat request: %w", err))
	}

	return func(yield func(stream.Event, error) bool) {
		header := http.Header{}
		header.Set("Authorization", "Bearer "+tok)
		conn, resp, err := websocket.Dial(ctx, t.url, &websocket.DialOptions{HTTPHeader: header})
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				err = fmt.Errorf("%w: %w", ErrUnauthorized, &StatusError{Code: resp.StatusCode})
			}
			yield(stream.Event{}, fmt.Errorf("dial chat websocket: %w", err))
			return
		}
		defer func() { _ = conn.CloseNow() }()
		conn.SetReadLimit(maxSingleShot)

		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			yield(stream.Event{}, fmt.Errorf("write chat request: %w", err))
			return
		}

		chunks := func(yield func([]byte, error) bool) {
			for {
				_, data, err := conn.Read(ctx)
				if err != nil {
					if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
						return
					}
					yield(nil, err)
					return
				}
				if !yield(data, nil) {
					return
				}
			}
		}

		for ev, err := range stream.Decode(ctx, chunks, t.opts...) {
			if !yield(ev, err) || err != nil {
				return
			}
		}
		if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
			t.logger.Debug("chat websocket close", "error", err)
		}
	}
}

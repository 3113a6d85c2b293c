// Package transport sends a chat turn to the companion backend and streams
// back decoded reply events.
package transport

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"

	"github.com/ashureev/companion/internal/stream"
)

var (
	// ErrUnauthorized covers a missing, expired or rejected credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrMissingCredential is returned when no token is available at send time.
	ErrMissingCredential = fmt.Errorf("%w: no credential available", ErrUnauthorized)
	// ErrResponseTooLarge is returned when a single-shot reply exceeds the read limit.
	ErrResponseTooLarge = errors.New("response body too large")
)

// Request is the body of one chat turn.
type Request struct {
	SessionID      string `json:"session_id"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
	ImageURL       string `json:"image_url,omitempty"`
	TraceID        string `json:"trace_id,omitempty"`
}

// Transport delivers a Request and yields reply events. The sequence ends
// with a Done event or a single error.
type Transport interface {
	Send(ctx context.Context, req Request) iter.Seq2[stream.Event, error]
}

// TokenSource supplies the bearer credential for each send.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

// Token returns the token or ErrMissingCredential when empty.
func (s StaticToken) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", ErrMissingCredential
	}
	return string(s), nil
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// IsUnauthorized reports whether err is an authentication failure, including
// a 401/403 delivered as a status or inside the stream.
func IsUnauthorized(err error) bool {
	if errors.Is(err, ErrUnauthorized) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden
	}
	var fe *stream.FrameError
	if errors.As(err, &fe) {
		return fe.Code == http.StatusUnauthorized || fe.Code == http.StatusForbidden
	}
	return false
}

func token(ctx context.Context, src TokenSource) (string, error) {
	if src == nil {
		return "", ErrMissingCredential
	}
	tok, err := src.Token(ctx)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if tok == "" {
		return "", ErrMissingCredential
	}
	return tok, nil
}

// fail yields a single error.
func fail(err error) iter.Seq2[stream.Event, error] {
	return func(yield func(stream.Event, error) bool) {
		yield(stream.Event{}, err)
	}
}

// emit yields pre-decoded events followed by err, if any.
func emit(events []stream.Event, err error) iter.Seq2[stream.Event, error] {
	return func(yield func(stream.Event, error) bool) {
		for _, ev := range events {
			if !yield(ev, nil) {
				return
			}
		}
		if err != nil {
			yield(stream.Event{}, err)
		}
	}
}

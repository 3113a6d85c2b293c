// Package identity generates message and trace ids and carries the chat
// session id through request contexts.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ashureev/companion/internal/domain"
)

const (
	// SessionHeaderName carries the client session id on HTTP requests.
	SessionHeaderName = "X-Session-ID"
	messagePrefix     = "msg_"
	tracePrefix       = "trace_"
)

type contextKey int

const sessionIDKey contextKey = iota

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// Generator produces process-unique opaque ids.
type Generator interface {
	MessageID() string
	TraceID() string
}

// UUIDGenerator issues random UUID-based ids.
type UUIDGenerator struct{}

// MessageID returns a new message id.
func (UUIDGenerator) MessageID() string {
	return messagePrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// TraceID returns a new trace id.
func (UUIDGenerator) TraceID() string {
	return tracePrefix + uuid.NewString()
}

// SequenceGenerator issues predictable ids ("msg_1", "msg_2", ...). Useful in tests.
type SequenceGenerator struct {
	n atomic.Uint64
}

// MessageID returns the next message id.
func (g *SequenceGenerator) MessageID() string {
	return messagePrefix + strconv.FormatUint(g.n.Add(1), 10)
}

// TraceID returns the next trace id.
func (g *SequenceGenerator) TraceID() string {
	return tracePrefix + strconv.FormatUint(g.n.Add(1), 10)
}

// SanitizeSessionID returns id if it is a usable session id, or the temp placeholder.
func SanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return domain.TempSessionID
	}
	return id
}

// WithSessionID stores the session id in ctx.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFromContext extracts the session id, defaulting to the temp placeholder.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok && v != "" {
		return v
	}
	return domain.TempSessionID
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return SanitizeSessionID(sid)
}

// Middleware injects the per-request session id.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithSessionID(r.Context(), sessionIDFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

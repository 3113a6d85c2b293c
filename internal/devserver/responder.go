package devserver

import (
	"context"
	"strings"

	"github.com/ashureev/companion/internal/transport"
)

// Responder produces the full reply text for one chat request.
type Responder interface {
	Reply(ctx context.Context, req transport.Request) (string, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, req transport.Request) (string, error)

// Reply implements Responder.
func (f ResponderFunc) Reply(ctx context.Context, req transport.Request) (string, error) {
	return f(ctx, req)
}

// EchoResponder answers with a two-line echo, so clients see a split reply.
type EchoResponder struct{}

// Reply implements Responder.
func (EchoResponder) Reply(_ context.Context, req transport.Request) (string, error) {
	if req.ImageURL != "" {
		return "Nice picture!\nI can see it at " + req.ImageURL, nil
	}
	return "You said: " + strings.TrimSpace(req.Message) + "\nWhat else is on your mind?", nil
}

// chunkWords splits text after each space, keeping newlines attached to
// their words so the concatenation is unchanged.
func chunkWords(text string) []string {
	var out []string
	for _, w := range strings.SplitAfter(text, " ") {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

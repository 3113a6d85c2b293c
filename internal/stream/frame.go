// Package stream decodes chunked companion replies into text fragments.
package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrRemote is the base of every failure reported inside the stream itself.
var ErrRemote = errors.New("remote reported failure")

// FrameKind tags the decoded shape of one line.
type FrameKind int

const (
	// FrameIgnore covers blank lines, SSE metadata, sentinels and malformed JSON.
	FrameIgnore FrameKind = iota
	// FrameReply carries reply text and/or a conversation id.
	FrameReply
	// FrameFailure terminates the stream with an error.
	FrameFailure
)

func (k FrameKind) String() string {
	switch k {
	case FrameReply:
		return "reply"
	case FrameFailure:
		return "failure"
	default:
		return "ignore"
	}
}

// Frame is the tagged result of ParseFrame.
type Frame struct {
	Kind           FrameKind
	Text           string
	ConversationID string
	Err            *FrameError
}

// FrameError is a failure frame sent by the server.
type FrameError struct {
	Code    int
	Message string
}

func (e *FrameError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
	}
	return "remote error: " + e.Message
}

// Unwrap lets callers match any frame failure with errors.Is(err, ErrRemote).
func (e *FrameError) Unwrap() error { return ErrRemote }

// payload lists every field the companion backend has been seen to send.
type payload struct {
	Code            json.RawMessage `json:"code"`
	Status          string          `json:"status"`
	Error           json.RawMessage `json:"error"`
	Msg             string          `json:"msg"`
	Message         string          `json:"message"`
	Reply           *string         `json:"reply"`
	Content         *string         `json:"content"`
	Text            *string         `json:"text"`
	Delta           *string         `json:"delta"`
	ConversationID  *string         `json:"conversation_id"`
	ConversationAlt *string         `json:"conversationId"`
	Data            json.RawMessage `json:"data"`
}

var (
	dataPrefix   = []byte("data:")
	donePayload  = []byte("[DONE]")
	metaPrefixes = [][]byte{[]byte("event:"), []byte("id:"), []byte("retry:")}
)

// ParseFrame decodes one complete line. It never fails: anything it cannot
// understand is reported as FrameIgnore.
func ParseFrame(line []byte) Frame {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] == ':' {
		return Frame{Kind: FrameIgnore}
	}
	for _, p := range metaPrefixes {
		if bytes.HasPrefix(line, p) {
			return Frame{Kind: FrameIgnore}
		}
	}
	if bytes.HasPrefix(line, dataPrefix) {
		line = bytes.TrimSpace(line[len(dataPrefix):])
	}
	if len(line) == 0 || bytes.Equal(line, donePayload) || line[0] != '{' {
		return Frame{Kind: FrameIgnore}
	}

	var p payload
	if err := json.Unmarshal(line, &p); err != nil {
		return Frame{Kind: FrameIgnore}
	}
	return p.frame(true)
}

func (p *payload) frame(descend bool) Frame {
	if ferr := p.failure(); ferr != nil {
		return Frame{Kind: FrameFailure, Err: ferr}
	}

	f := Frame{Kind: FrameReply}
	f.Text = firstString(p.Reply, p.Content, p.Text, p.Delta)
	f.ConversationID = firstString(p.ConversationID, p.ConversationAlt)

	// A nested data object is consulted only for what the top level lacks.
	if descend && len(p.Data) > 0 && p.Data[0] == '{' {
		var inner payload
		if err := json.Unmarshal(p.Data, &inner); err == nil {
			nested := inner.frame(false)
			if nested.Kind == FrameFailure {
				return nested
			}
			if f.Text == "" {
				f.Text = nested.Text
			}
			if f.ConversationID == "" {
				f.ConversationID = nested.ConversationID
			}
		}
	}
	return f
}

// failure checks, in order: a non-success code, an error status, a non-empty error field.
func (p *payload) failure() *FrameError {
	if code, ok := parseCode(p.Code); ok && code != 0 && code != 200 {
		return &FrameError{Code: code, Message: p.errorText("request failed")}
	}
	switch strings.ToLower(p.Status) {
	case "error", "failed", "fail":
		return &FrameError{Message: p.errorText(p.Status)}
	}
	if msg := errorField(p.Error); msg != "" {
		return &FrameError{Message: msg}
	}
	return nil
}

func (p *payload) errorText(fallback string) string {
	if msg := errorField(p.Error); msg != "" {
		return msg
	}
	if p.Msg != "" {
		return p.Msg
	}
	if p.Message != "" {
		return p.Message
	}
	return fallback
}

func parseCode(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n, true
		}
	}
	return 0, false
}

// errorField accepts both "error":"text" and "error":{"message":"text"}.
func errorField(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	switch string(raw) {
	case "false", "0", "{}", "[]":
		return ""
	}
	return string(raw)
}

func firstString(candidates ...*string) string {
	for _, c := range candidates {
		if c != nil && *c != "" {
			return *c
		}
	}
	return ""
}

package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"unicode/utf8"
)

// DefaultMaxLineBytes bounds a single buffered line. A partial line that
// grows past it is discarded up to the next newline.
const DefaultMaxLineBytes = 1 << 20

// ErrDecoderClosed is returned by Feed after the terminal event.
var ErrDecoderClosed = errors.New("decoder already terminated")

// Event is one decoder output. Exactly one Event per stream has Done set;
// it is always the last one and carries the captured conversation id, if any.
type Event struct {
	Fragment       string
	Done           bool
	ConversationID string
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithBatchedFragments emits one fragment per frame instead of one per character.
func WithBatchedFragments() Option {
	return func(d *Decoder) { d.batch = true }
}

// WithMaxLineBytes overrides DefaultMaxLineBytes.
func WithMaxLineBytes(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.maxLine = n
		}
	}
}

// Decoder turns arbitrarily split chunks into reply fragments.
// It is not safe for concurrent use.
type Decoder struct {
	buf            []byte
	conversationID string
	batch          bool
	maxLine        int
	skipping       bool
	dropped        int
	done           bool
}

// NewDecoder returns a decoder with an empty rolling buffer.
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{maxLine: DefaultMaxLineBytes}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Feed appends a chunk and returns the fragments of every line it completed.
// A failure frame returns the fragments decoded before it together with the
// error; the remaining buffer is discarded and the decoder is terminated.
func (d *Decoder) Feed(chunk []byte) ([]Event, error) {
	if d.done {
		return nil, ErrDecoderClosed
	}
	d.buf = append(d.buf, chunk...)

	var events []Event
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		d.buf = d.buf[i+1:]
		if d.skipping {
			// Tail of an oversized line.
			d.skipping = false
			continue
		}

		var err error
		events, err = d.consume(events, line)
		if err != nil {
			return events, err
		}
	}

	if !d.skipping && len(d.buf) > d.maxLine {
		d.skipping = true
		d.dropped++
	}
	if d.skipping {
		d.buf = d.buf[:0:0]
	}
	// Reclaim consumed prefix so the buffer does not grow across a long stream.
	if len(d.buf) == 0 {
		d.buf = d.buf[:0:0]
	}
	return events, nil
}

// Dropped returns how many oversized lines were discarded.
func (d *Decoder) Dropped() int { return d.dropped }

// Finish parses any trailing line without a newline and emits the terminal event.
func (d *Decoder) Finish() ([]Event, error) {
	if d.done {
		return nil, ErrDecoderClosed
	}
	var events []Event
	if len(d.buf) > 0 && !d.skipping {
		line := d.buf
		d.buf = nil
		var err error
		events, err = d.consume(events, line)
		if err != nil {
			return events, err
		}
	}
	d.done = true
	return append(events, Event{Done: true, ConversationID: d.conversationID}), nil
}

func (d *Decoder) consume(events []Event, line []byte) ([]Event, error) {
	f := ParseFrame(line)
	switch f.Kind {
	case FrameFailure:
		d.terminate()
		return events, f.Err
	case FrameReply:
		if f.ConversationID != "" {
			d.conversationID = f.ConversationID
		}
		return d.emit(events, f.Text), nil
	default:
		return events, nil
	}
}

func (d *Decoder) emit(events []Event, text string) []Event {
	if text == "" {
		return events
	}
	if d.batch {
		return append(events, Event{Fragment: text})
	}
	for len(text) > 0 {
		_, size := utf8.DecodeRuneInString(text)
		events = append(events, Event{Fragment: text[:size]})
		text = text[size:]
	}
	return events
}

func (d *Decoder) terminate() {
	d.done = true
	d.buf = nil
}

// DecodeBody handles a response that arrived in one piece. A body that is a
// single JSON document (possibly spread over several lines) is treated as one
// frame; anything else is decoded line by line.
func DecodeBody(body []byte, opts ...Option) ([]Event, error) {
	d := NewDecoder(opts...)
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' && bytes.IndexByte(trimmed, '\n') >= 0 {
		var doc bytes.Buffer
		if err := json.Compact(&doc, trimmed); err == nil {
			return d.consumeAll(doc.Bytes())
		}
	}

	events, err := d.Feed(body)
	if err != nil {
		return events, err
	}
	rest, err := d.Finish()
	return append(events, rest...), err
}

func (d *Decoder) consumeAll(line []byte) ([]Event, error) {
	events, err := d.consume(nil, line)
	if err != nil {
		return events, err
	}
	d.done = true
	return append(events, Event{Done: true, ConversationID: d.conversationID}), nil
}

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
)

const readChunkSize = 4096

// ErrInterrupted wraps a transport error that ended a stream before its terminal event.
var ErrInterrupted = errors.New("stream interrupted")

// Decode runs chunks through a fresh Decoder. The sequence ends after the
// Done event or after the first error; a chunk error is wrapped in ErrInterrupted.
func Decode(ctx context.Context, chunks iter.Seq2[[]byte, error], opts ...Option) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		d := NewDecoder(opts...)
		for chunk, err := range chunks {
			if err != nil {
				yield(Event{}, interrupted(ctx, err))
				return
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				yield(Event{}, interrupted(ctx, ctxErr))
				return
			}
			events, err := d.Feed(chunk)
			if !yieldAll(yield, events) {
				return
			}
			if err != nil {
				yield(Event{}, err)
				return
			}
		}

		events, err := d.Finish()
		if !yieldAll(yield, events) {
			return
		}
		if err != nil {
			yield(Event{}, err)
		}
	}
}

// Read decodes everything r delivers until EOF.
func Read(ctx context.Context, r io.Reader, opts ...Option) iter.Seq2[Event, error] {
	return Decode(ctx, ReaderChunks(r), opts...)
}

// ReaderChunks yields whatever each Read call returns, ending cleanly at io.EOF.
func ReaderChunks(r io.Reader) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		buf := make([]byte, readChunkSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				if !yield(chunk, nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

func yieldAll(yield func(Event, error) bool, events []Event) bool {
	for _, ev := range events {
		if !yield(ev, nil) {
			return false
		}
	}
	return true
}

func interrupted(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %w (%w)", ErrInterrupted, ctxErr, err)
	}
	return fmt.Errorf("%w: %w", ErrInterrupted, err)
}

package domain

import (
	"errors"
	"fmt"
)

// Status is a message lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSending   Status = "sending"
	StatusStreaming Status = "streaming"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
)

// ErrInvalidTransition is returned for a status change the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[Status][]Status{
	StatusPending:   {StatusSending, StatusFailed},
	StatusSending:   {StatusStreaming, StatusSent, StatusFailed},
	StatusStreaming: {StatusSent, StatusFailed},
	StatusFailed:    {StatusSending},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSending, StatusStreaming, StatusSent, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether a message may move from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition validates a move from s to next.
func (s Status) Transition(next Status) error {
	if !s.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return nil
}

// Terminal reports whether no further change is expected without a retry.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

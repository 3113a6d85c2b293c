// Package history persists completed chat turns so a session can be reopened.
package history

import (
	"context"
	"time"

	"github.com/ashureev/companion/internal/domain"
)

// Repository loads and records session messages.
type Repository interface {
	// Load returns the persisted messages of a session, oldest first.
	Load(ctx context.Context, sessionID string) ([]domain.Message, error)

	// Save creates or replaces a message.
	Save(ctx context.Context, msg domain.Message) error

	// Sessions lists known sessions, most recently active first.
	Sessions(ctx context.Context) ([]Session, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// Session summarizes one persisted conversation.
type Session struct {
	ID           string
	MessageCount int
	LastActive   time.Time
}

package domain

import (
	"strconv"
	"time"
)

// TempSessionID is the placeholder session used before the server assigns one.
const TempSessionID = "temp"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Media describes the image attached to a message.
type Media struct {
	LocalURI       string `json:"local_uri,omitempty"`
	RemoteURL      string `json:"remote_url,omitempty"`
	ThumbnailURI   string `json:"thumbnail_uri,omitempty"`
	UploadProgress int    `json:"upload_progress"`
}

// Message is one chat bubble in a session.
type Message struct {
	ID              string     `json:"id"`
	SessionID       string     `json:"session_id"`
	Role            Role       `json:"role"`
	Content         string     `json:"content"`
	Status          Status     `json:"status"`
	ClientTimestamp time.Time  `json:"client_timestamp"`
	ServerTimestamp *time.Time `json:"server_timestamp,omitempty"`
	Media           *Media     `json:"media,omitempty"`

	// Seq is assigned by the store on insert and breaks timestamp ties.
	Seq uint64 `json:"-"`
}

// SortTime returns the timestamp used for ordering.
func (m Message) SortTime() time.Time {
	if m.ServerTimestamp != nil {
		return *m.ServerTimestamp
	}
	return m.ClientTimestamp
}

// Clone returns a deep copy so callers never share Media or timestamps with the store.
func (m Message) Clone() Message {
	if m.Media != nil {
		media := *m.Media
		m.Media = &media
	}
	if m.ServerTimestamp != nil {
		ts := *m.ServerTimestamp
		m.ServerTimestamp = &ts
	}
	return m
}

// HasMedia reports whether the message carries an image.
func (m Message) HasMedia() bool {
	return m.Media != nil
}

// AssistantID derives the id of the assistant reply triggered by a user message.
// Attempt 0 yields "assistant-<userID>"; later attempts append the attempt number
// so a retried turn never collides with the partial reply of a failed one.
func AssistantID(triggerID string, attempt int) string {
	if attempt <= 0 {
		return "assistant-" + triggerID
	}
	return "assistant-" + triggerID + "-" + strconv.Itoa(attempt)
}

// Package store holds the per-session message lists that drive the chat UI.
//
// Every mutation goes through one of the methods below; readers always get
// copies, so a caller holding a Message never observes later changes.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ashureev/companion/internal/domain"
)

var (
	// ErrMessageExists is returned when an id is already present in the session.
	ErrMessageExists = errors.New("message already exists")
	// ErrMessageNotFound is returned when no message has the given id in the session.
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotStreaming is returned by AppendFragment for a message that is not streaming.
	ErrNotStreaming = errors.New("message is not streaming")
	// ErrStreamingConflict is returned when a second streaming message would exist in a session.
	ErrStreamingConflict = errors.New("session already has a streaming message")
	// ErrInvalidSplit is returned when split parts do not start with the original message.
	ErrInvalidSplit = errors.New("invalid split")
)

// Op names the mutation that produced a Change.
type Op string

const (
	OpCreate Op = "create"
	OpSeed   Op = "seed"
	OpAppend Op = "append"
	OpStatus Op = "status"
	OpMedia  Op = "media"
	OpSplit  Op = "split"
	OpActive Op = "active"
	OpConvID Op = "conversation_id"
)

// Change describes one committed mutation.
type Change struct {
	SessionID string
	MessageID string
	Op        Op
}

type session struct {
	messages       []*domain.Message
	index          map[string]*domain.Message
	activeID       string
	conversationID string
}

// Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session
	seq      uint64

	subMu   sync.RWMutex
	subs    map[int]func(Change)
	nextSub int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		sessions: make(map[string]*session),
		subs:     make(map[int]func(Change)),
	}
}

func (s *Store) session(id string) *session {
	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{index: make(map[string]*domain.Message)}
		s.sessions[id] = sess
	}
	return sess
}

func (s *Store) insertLocked(sess *session, m domain.Message, at int) *domain.Message {
	s.seq++
	m.Seq = s.seq
	stored := m.Clone()
	if at < 0 || at >= len(sess.messages) {
		sess.messages = append(sess.messages, &stored)
	} else {
		sess.messages = append(sess.messages, nil)
		copy(sess.messages[at+1:], sess.messages[at:])
		sess.messages[at] = &stored
	}
	sess.index[stored.ID] = &stored
	return &stored
}

func (sess *session) streamingID() string {
	for _, m := range sess.messages {
		if m.Status == domain.StatusStreaming {
			return m.ID
		}
	}
	return ""
}

// Create inserts a new message at the end of its session.
func (s *Store) Create(m domain.Message) (domain.Message, error) {
	if m.SessionID == "" || m.ID == "" {
		return domain.Message{}, errors.New("create message: session id and message id are required")
	}
	if !m.Status.Valid() {
		return domain.Message{}, fmt.Errorf("create message %s: unknown status %q", m.ID, m.Status)
	}

	s.mu.Lock()
	sess := s.session(m.SessionID)
	if _, ok := sess.index[m.ID]; ok {
		s.mu.Unlock()
		return domain.Message{}, fmt.Errorf("%w: %s", ErrMessageExists, m.ID)
	}
	if m.Status == domain.StatusStreaming {
		if other := sess.streamingID(); other != "" {
			s.mu.Unlock()
			return domain.Message{}, fmt.Errorf("%w: %s", ErrStreamingConflict, other)
		}
	}
	stored := s.insertLocked(sess, m, -1)
	out := stored.Clone()
	s.mu.Unlock()

	s.publish(Change{SessionID: m.SessionID, MessageID: m.ID, Op: OpCreate})
	return out, nil
}

// Seed inserts previously persisted messages, skipping ids already present
// and demoting non-terminal statuses to failed. It returns how many were inserted.
func (s *Store) Seed(sessionID string, msgs []domain.Message) int {
	s.mu.Lock()
	sess := s.session(sessionID)
	n := 0
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		if _, ok := sess.index[m.ID]; ok {
			continue
		}
		m.SessionID = sessionID
		if !m.Status.Terminal() {
			m.Status = domain.StatusFailed
		}
		s.insertLocked(sess, m, -1)
		n++
	}
	s.mu.Unlock()

	if n > 0 {
		s.publish(Change{SessionID: sessionID, Op: OpSeed})
	}
	return n
}

// Get returns a copy of one message.
func (s *Store) Get(sessionID, id string) (domain.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return domain.Message{}, false
	}
	m, ok := sess.index[id]
	if !ok {
		return domain.Message{}, false
	}
	return m.Clone(), true
}

// Messages returns the session list in insertion order.
func (s *Store) Messages(sessionID string) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]domain.Message, len(sess.messages))
	for i, m := range sess.messages {
		out[i] = m.Clone()
	}
	return out
}

// StreamingCount returns how many messages of a session are streaming.
func (s *Store) StreamingCount(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return 0
	}
	n := 0
	for _, m := range sess.messages {
		if m.Status == domain.StatusStreaming {
			n++
		}
	}
	return n
}

// errUnchanged lets a mutation report success without publishing a change.
var errUnchanged = errors.New("unchanged")

// mutate applies fn to one message under the write lock and publishes op on success.
func (s *Store) mutate(sessionID, id string, op Op, fn func(*session, *domain.Message) error) (domain.Message, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return domain.Message{}, fmt.Errorf("%w: %s/%s", ErrMessageNotFound, sessionID, id)
	}
	m, ok := sess.index[id]
	if !ok {
		s.mu.Unlock()
		return domain.Message{}, fmt.Errorf("%w: %s/%s", ErrMessageNotFound, sessionID, id)
	}
	if err := fn(sess, m); err != nil {
		s.mu.Unlock()
		if errors.Is(err, errUnchanged) {
			return m.Clone(), nil
		}
		return domain.Message{}, err
	}
	out := m.Clone()
	s.mu.Unlock()

	s.publish(Change{SessionID: sessionID, MessageID: id, Op: op})
	return out, nil
}

// AppendFragment appends text to a streaming message.
func (s *Store) AppendFragment(sessionID, id, text string) (domain.Message, error) {
	return s.mutate(sessionID, id, OpAppend, func(_ *session, m *domain.Message) error {
		if m.Status != domain.StatusStreaming {
			return fmt.Errorf("%w: %s is %s", ErrNotStreaming, id, m.Status)
		}
		m.Content += text
		return nil
	})
}

// MarkStatus moves a message to a new status. Moving to the current status is a no-op.
func (s *Store) MarkStatus(sessionID, id string, to domain.Status) (domain.Message, error) {
	return s.mutate(sessionID, id, OpStatus, func(sess *session, m *domain.Message) error {
		if m.Status == to {
			return errUnchanged
		}
		if err := m.Status.Transition(to); err != nil {
			return fmt.Errorf("message %s: %w", id, err)
		}
		if to == domain.StatusStreaming {
			if other := sess.streamingID(); other != "" && other != id {
				return fmt.Errorf("%w: %s", ErrStreamingConflict, other)
			}
		}
		m.Status = to
		return nil
	})
}

// SetUploadProgress records upload progress on a sending image message.
// Progress never decreases, and values of 100 or more are left to MarkUploaded
// so completion and the sent status land together.
func (s *Store) SetUploadProgress(sessionID, id string, pct int) (domain.Message, error) {
	return s.mutate(sessionID, id, OpMedia, func(_ *session, m *domain.Message) error {
		if m.Media == nil {
			return fmt.Errorf("message %s has no media", id)
		}
		if m.Status != domain.StatusSending {
			return fmt.Errorf("message %s: progress while %s: %w", id, m.Status, domain.ErrInvalidTransition)
		}
		if pct >= 100 || pct <= m.Media.UploadProgress {
			return errUnchanged
		}
		m.Media.UploadProgress = pct
		return nil
	})
}

// MarkUploaded completes an upload: remote URL set, progress 100, status sent.
func (s *Store) MarkUploaded(sessionID, id, remoteURL string) (domain.Message, error) {
	return s.mutate(sessionID, id, OpMedia, func(_ *session, m *domain.Message) error {
		if m.Media == nil {
			return fmt.Errorf("message %s has no media", id)
		}
		if err := m.Status.Transition(domain.StatusSent); err != nil {
			return fmt.Errorf("message %s: %w", id, err)
		}
		m.Media.RemoteURL = remoteURL
		m.Media.UploadProgress = 100
		m.Status = domain.StatusSent
		return nil
	})
}

// RestartUpload moves a failed image message back to sending with progress 0,
// keeping its local URI and replacing the thumbnail when one is given.
func (s *Store) RestartUpload(sessionID, id, thumbnailURI string) (domain.Message, error) {
	return s.mutate(sessionID, id, OpMedia, func(_ *session, m *domain.Message) error {
		if m.Media == nil {
			return fmt.Errorf("message %s has no media", id)
		}
		if err := m.Status.Transition(domain.StatusSending); err != nil {
			return fmt.Errorf("message %s: %w", id, err)
		}
		m.Status = domain.StatusSending
		m.Media.UploadProgress = 0
		m.Media.RemoteURL = ""
		if thumbnailURI != "" {
			m.Media.ThumbnailURI = thumbnailURI
		}
		return nil
	})
}

// ReplaceWithSplit substitutes the message id with parts, in place.
// parts[0] must carry the original id; the others must be new ids.
func (s *Store) ReplaceWithSplit(sessionID, id string, parts []domain.Message) error {
	if len(parts) == 0 || parts[0].ID != id {
		return fmt.Errorf("%w: first part must keep id %s", ErrInvalidSplit, id)
	}

	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", ErrMessageNotFound, sessionID, id)
	}
	orig, ok := sess.index[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", ErrMessageNotFound, sessionID, id)
	}
	seen := map[string]bool{id: true}
	for _, p := range parts[1:] {
		if _, exists := sess.index[p.ID]; exists || seen[p.ID] || p.ID == "" {
			s.mu.Unlock()
			return fmt.Errorf("%w: part id %q is not new", ErrInvalidSplit, p.ID)
		}
		seen[p.ID] = true
	}

	pos := 0
	for i, m := range sess.messages {
		if m.ID == id {
			pos = i
			break
		}
	}

	first := parts[0].Clone()
	first.SessionID = sessionID
	first.Seq = orig.Seq
	*orig = first
	for i, p := range parts[1:] {
		p.SessionID = sessionID
		s.insertLocked(sess, p, pos+1+i)
	}
	s.mu.Unlock()

	s.publish(Change{SessionID: sessionID, MessageID: id, Op: OpSplit})
	return nil
}

// ActiveAssistant returns the id of the assistant message receiving fragments, or "".
func (s *Store) ActiveAssistant(sessionID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sess, ok := s.sessions[sessionID]; ok {
		return sess.activeID
	}
	return ""
}

// SetActiveAssistant points the session at the assistant message for the current turn.
func (s *Store) SetActiveAssistant(sessionID, id string) {
	s.mu.Lock()
	s.session(sessionID).activeID = id
	s.mu.Unlock()

	s.publish(Change{SessionID: sessionID, MessageID: id, Op: OpActive})
}

// ClearActiveAssistant clears the pointer only if it still equals expected.
// An empty expected clears unconditionally. It reports whether it cleared.
func (s *Store) ClearActiveAssistant(sessionID, expected string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.activeID == "" || (expected != "" && sess.activeID != expected) {
		s.mu.Unlock()
		return false
	}
	sess.activeID = ""
	s.mu.Unlock()

	s.publish(Change{SessionID: sessionID, Op: OpActive})
	return true
}

// ConversationID returns the server conversation id of a session, or "".
func (s *Store) ConversationID(sessionID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sess, ok := s.sessions[sessionID]; ok {
		return sess.conversationID
	}
	return ""
}

// SetConversationID records the id issued by the server; empty ids are ignored.
func (s *Store) SetConversationID(sessionID, id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	sess := s.session(sessionID)
	changed := sess.conversationID != id
	sess.conversationID = id
	s.mu.Unlock()

	if changed {
		s.publish(Change{SessionID: sessionID, Op: OpConvID})
	}
}

// Subscribe registers fn to be called after every committed change.
// fn runs on the mutating goroutine and must not block. The returned func unsubscribes.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) publish(c Change) {
	s.subMu.RLock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}

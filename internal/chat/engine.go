// Package chat drives one companion conversation: it creates optimistic
// messages, streams replies into the store, retries failed sends and turns
// every failure into a status change plus a Notice.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/companion/internal/convlog"
	"github.com/ashureev/companion/internal/domain"
	"github.com/ashureev/companion/internal/identity"
	"github.com/ashureev/companion/internal/media"
	"github.com/ashureev/companion/internal/render"
	"github.com/ashureev/companion/internal/retry"
	"github.com/ashureev/companion/internal/split"
	"github.com/ashureev/companion/internal/store"
	"github.com/ashureev/companion/internal/stream"
	"github.com/ashureev/companion/internal/transport"
)

// DefaultSendTimeout bounds one streaming attempt.
const DefaultSendTimeout = 2 * time.Minute

const recordTimeout = 5 * time.Second

var (
	// ErrEmptyMessage is returned for blank text; no message is created.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrSendInFlight is returned while another send for the session is running.
	ErrSendInFlight = errors.New("a send is already in flight for this session")
	// ErrNotRetryable is returned by Retry for anything but a failed user message.
	ErrNotRetryable = errors.New("message cannot be retried")
	// ErrNoMedia is returned when image sending is not configured.
	ErrNoMedia = errors.New("image sending is not configured")
)

type sessionState struct {
	opened       bool
	historyCount int
	inFlight     bool
	generation   uint64
	cancel       context.CancelFunc
}

// Engine is safe for concurrent use. Sends for one session are serialized by
// rejecting overlapping calls with ErrSendInFlight.
type Engine struct {
	store     *store.Store
	transport Transport
	history   HistoryLoader
	recorder  Recorder
	media     MediaPipeline
	retry     *retry.Controller
	ids       identity.Generator
	now       func() time.Time
	timeout   time.Duration
	greeting  string
	channel   string
	onNotice  func(Notice)
	convlog   ConversationLogger
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// Option configures an Engine.
type Option func(*Engine)

// WithHistory sets the loader used by OpenSession.
func WithHistory(h HistoryLoader) Option {
	return func(e *Engine) { e.history = h }
}

// WithRecorder persists completed turns.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithMedia enables SendImage and image retries.
func WithMedia(m MediaPipeline) Option {
	return func(e *Engine) { e.media = m }
}

// WithRetry replaces the default 3-retry controller.
func WithRetry(c *retry.Controller) Option {
	return func(e *Engine) { e.retry = c }
}

// WithIDs sets the message and trace id generator.
func WithIDs(ids identity.Generator) Option {
	return func(e *Engine) { e.ids = ids }
}

// WithClock sets the time source for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSendTimeout bounds each streaming attempt.
func WithSendTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithGreeting sets the synthetic greeting shown first by Render.
func WithGreeting(text string) Option {
	return func(e *Engine) { e.greeting = text }
}

// WithChannel names the transport in conversation log events.
func WithChannel(name string) Option {
	return func(e *Engine) { e.channel = name }
}

// WithNoticeHandler receives every user-facing notice.
func WithNoticeHandler(fn func(Notice)) Option {
	return func(e *Engine) { e.onNotice = fn }
}

// WithConversationLog records user and assistant messages.
func WithConversationLog(l ConversationLogger) Option {
	return func(e *Engine) { e.convlog = l }
}

// WithLogger sets the logger; nil means slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New returns an Engine writing to st and sending through t.
func New(st *store.Store, t Transport, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		transport: t,
		ids:       identity.UUIDGenerator{},
		now:       time.Now,
		timeout:   DefaultSendTimeout,
		channel:   "chat",
		convlog:   convlog.Noop{},
		sessions:  make(map[string]*sessionState),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.retry == nil {
		e.retry = retry.New(retry.DefaultConfig(), retry.WithLogger(e.logger))
	}
	if e.timeout <= 0 {
		e.timeout = DefaultSendTimeout
	}
	return e
}

// Store returns the message store the engine writes to.
func (e *Engine) Store() *store.Store {
	return e.store
}

func (e *Engine) stateLocked(sessionID string) *sessionState {
	st, ok := e.sessions[sessionID]
	if !ok {
		st = &sessionState{}
		e.sessions[sessionID] = st
	}
	return st
}

// begin claims the session for one send. The returned func releases it.
func (e *Engine) begin(ctx context.Context, sessionID string) (context.Context, uint64, func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateLocked(sessionID)
	if st.inFlight {
		return nil, 0, nil, ErrSendInFlight
	}
	sendCtx, cancel := context.WithCancel(ctx)
	st.inFlight = true
	st.generation++
	st.cancel = cancel
	gen := st.generation

	release := func() {
		cancel()
		e.mu.Lock()
		st.inFlight = false
		st.cancel = nil
		e.mu.Unlock()
	}
	return sendCtx, gen, release, nil
}

func (e *Engine) current(sessionID string, gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.sessions[sessionID]
	return ok && st.generation == gen
}

func (e *Engine) generation(sessionID string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked(sessionID).generation
}

// Cancel aborts the in-flight send for the session. Callbacks still running
// for the aborted send are ignored. It reports whether a send was running.
func (e *Engine) Cancel(sessionID string) bool {
	e.mu.Lock()
	st, ok := e.sessions[sessionID]
	if !ok || !st.inFlight || st.cancel == nil {
		e.mu.Unlock()
		return false
	}
	st.generation++
	cancel := st.cancel
	e.mu.Unlock()

	cancel()
	e.logger.Info("send cancelled", "session_id", sessionID)
	return true
}

// InputEnabled reports whether the session accepts a new send.
func (e *Engine) InputEnabled(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.sessions[sessionID]
	return !ok || !st.inFlight
}

// OpenSession seeds the store from history the first time a session is
// entered and returns the number of messages present at load time.
func (e *Engine) OpenSession(ctx context.Context, sessionID string) (int, error) {
	e.mu.Lock()
	st := e.stateLocked(sessionID)
	if st.opened {
		n := st.historyCount
		e.mu.Unlock()
		return n, nil
	}
	e.mu.Unlock()

	var seeded int
	if e.history != nil {
		msgs, err := e.history.Load(ctx, sessionID)
		if err != nil {
			return 0, fmt.Errorf("load history for %s: %w", sessionID, err)
		}
		seeded = e.store.Seed(sessionID, msgs)
	}
	count := len(e.store.Messages(sessionID))

	e.mu.Lock()
	if !st.opened {
		st.opened = true
		st.historyCount = count
	}
	count = st.historyCount
	e.mu.Unlock()

	e.logger.Info("session opened", "session_id", sessionID, "history_count", count, "seeded", seeded)
	return count, nil
}

// Render returns the merged render sequence for the session.
func (e *Engine) Render(sessionID string) []render.Item {
	var historyCount int
	e.mu.Lock()
	if st, ok := e.sessions[sessionID]; ok {
		historyCount = st.historyCount
	}
	e.mu.Unlock()

	return render.Merge(e.store.Messages(sessionID), render.Options{
		Greeting:          e.greeting,
		HistoryCount:      historyCount,
		ActiveAssistantID: e.store.ActiveAssistant(sessionID),
	})
}

// SendText creates the user message in sending and streams the reply,
// retrying automatically. It returns the final state of the user message.
func (e *Engine) SendText(ctx context.Context, sessionID, text string) (domain.Message, error) {
	if strings.TrimSpace(text) == "" {
		e.notify(Notice{Kind: NoticeValidation, SessionID: sessionID, Err: ErrEmptyMessage})
		return domain.Message{}, ErrEmptyMessage
	}

	sendCtx, gen, release, err := e.begin(ctx, sessionID)
	if err != nil {
		return domain.Message{}, err
	}
	defer release()

	user, err := e.store.Create(domain.Message{
		ID:              e.ids.MessageID(),
		SessionID:       sessionID,
		Role:            domain.RoleUser,
		Content:         text,
		Status:          domain.StatusSending,
		ClientTimestamp: e.now(),
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("create user message: %w", err)
	}
	e.logger.Info("sending message", "session_id", sessionID, "message_id", user.ID)
	e.convlog.Log(convlog.Event{
		SessionID:  sessionID,
		MessageID:  user.ID,
		Channel:    e.channel,
		Direction:  "outbound",
		EventType:  "chat_user_message",
		ContentRaw: text,
	})

	return e.runText(sendCtx, gen, user)
}

// SendImage runs the media pipeline for a picked image. Failures are not
// retried automatically.
func (e *Engine) SendImage(ctx context.Context, sessionID, localURI string) (domain.Message, error) {
	if e.media == nil {
		return domain.Message{}, ErrNoMedia
	}
	sendCtx, _, release, err := e.begin(ctx, sessionID)
	if err != nil {
		return domain.Message{}, err
	}
	defer release()

	m, err := e.media.Send(sendCtx, sessionID, localURI)
	return e.finishImage(sendCtx, sessionID, m, err)
}

// Retry re-sends a failed user message under its original id. Text restarts
// the automatic retry counter; images re-enter the pipeline at compression.
func (e *Engine) Retry(ctx context.Context, sessionID, messageID string) (domain.Message, error) {
	m, ok := e.store.Get(sessionID, messageID)
	if !ok {
		return domain.Message{}, fmt.Errorf("%w: %s", store.ErrMessageNotFound, messageID)
	}
	if m.Role != domain.RoleUser || m.Status != domain.StatusFailed {
		return m, fmt.Errorf("%w: %s is a %s %s message", ErrNotRetryable, messageID, m.Status, m.Role)
	}

	sendCtx, gen, release, err := e.begin(ctx, sessionID)
	if err != nil {
		return m, err
	}
	defer release()

	e.logger.Info("manual retry", "session_id", sessionID, "message_id", messageID, "image", m.HasMedia())
	if m.HasMedia() {
		if e.media == nil {
			return m, ErrNoMedia
		}
		out, err := e.media.Retry(sendCtx, sessionID, messageID)
		return e.finishImage(sendCtx, sessionID, out, err)
	}
	return e.runText(sendCtx, gen, m)
}

// NotifyUpload sends an uploaded image URL through the streaming path. It
// makes a single attempt; the media pipeline calls it after a successful upload.
func (e *Engine) NotifyUpload(ctx context.Context, sessionID, messageID, remoteURL string) error {
	gen := e.generation(sessionID)
	m, ok := e.store.Get(sessionID, messageID)
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrMessageNotFound, messageID)
	}
	e.record(ctx, sessionID, messageID)
	e.convlog.Log(convlog.Event{
		SessionID: sessionID,
		MessageID: messageID,
		Channel:   e.channel,
		Direction: "outbound",
		EventType: "chat_user_image",
		Meta:      map[string]any{"image_url": remoteURL},
	})

	req := transport.Request{SessionID: sessionID, Message: m.Content, ImageURL: remoteURL}
	return e.streamReply(ctx, gen, sessionID, messageID, req)
}

func (e *Engine) runText(ctx context.Context, gen uint64, user domain.Message) (domain.Message, error) {
	sessionID := user.SessionID
	req := transport.Request{SessionID: sessionID, Message: user.Content}

	err := e.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		// Every attempt re-establishes the sending state from the store.
		if _, err := e.store.MarkStatus(sessionID, user.ID, domain.StatusSending); err != nil {
			return retry.Permanent(fmt.Errorf("re-enter sending: %w", err))
		}
		err := e.streamReply(ctx, gen, sessionID, user.ID, req)
		if err != nil && transport.IsUnauthorized(err) {
			return retry.Permanent(err)
		}
		return err
	})

	m, _ := e.store.Get(sessionID, user.ID)
	if err == nil {
		return m, nil
	}

	kind := NoticeSendFailed
	switch {
	case transport.IsUnauthorized(err):
		kind = NoticeAuth
	case errors.Is(err, retry.ErrExhausted):
		kind = NoticeDegraded
	case ctx.Err() != nil:
		kind = NoticeCancelled
	}
	e.reset(sessionID)
	e.logger.Warn("send failed", "session_id", sessionID, "message_id", user.ID, "notice", kind.String(), "error", err)
	e.notify(Notice{Kind: kind, SessionID: sessionID, MessageID: user.ID, Err: err})
	return m, err
}

func (e *Engine) finishImage(ctx context.Context, sessionID string, m domain.Message, err error) (domain.Message, error) {
	if err == nil {
		return m, nil
	}
	kind := NoticeSendFailed
	switch {
	case media.IsValidation(err):
		kind = NoticeValidation
	case transport.IsUnauthorized(err):
		kind = NoticeAuth
	case ctx.Err() != nil:
		kind = NoticeCancelled
	}
	e.reset(sessionID)
	e.logger.Warn("image send failed", "session_id", sessionID, "message_id", m.ID, "notice", kind.String(), "error", err)
	e.notify(Notice{Kind: kind, SessionID: sessionID, MessageID: m.ID, Err: err})
	return m, err
}

// reset clears transient turn state after a send gives up.
func (e *Engine) reset(sessionID string) {
	e.store.ClearActiveAssistant(sessionID, "")
}

// streamReply runs one attempt: activate a fresh assistant id, consume the
// transport and apply the terminal event.
func (e *Engine) streamReply(ctx context.Context, gen uint64, sessionID, userID string, req transport.Request) error {
	assistantID := e.nextAssistantID(sessionID, userID)
	e.store.SetActiveAssistant(sessionID, assistantID)
	req.ConversationID = e.store.ConversationID(sessionID)
	req.TraceID = e.ids.TraceID()

	actx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	e.logger.Debug("streaming reply",
		"session_id", sessionID,
		"message_id", userID,
		"assistant_id", assistantID,
		"trace_id", req.TraceID)

	var chunks int
	for ev, err := range e.transport.Send(actx, req) {
		if err != nil {
			e.failTurn(sessionID, userID, assistantID, chunks, err)
			return err
		}
		if ev.Fragment != "" {
			chunks++
			e.applyFragment(gen, sessionID, assistantID, ev.Fragment)
		}
		if ev.Done {
			e.completeTurn(ctx, gen, sessionID, userID, assistantID, ev.ConversationID, chunks)
			return nil
		}
	}
	err := fmt.Errorf("%w: reply ended without a terminal event", stream.ErrInterrupted)
	e.failTurn(sessionID, userID, assistantID, chunks, err)
	return err
}

// nextAssistantID returns the first derived id not yet used in the session,
// so a retry never appends to the partial reply of a failed attempt.
func (e *Engine) nextAssistantID(sessionID, userID string) string {
	for n := 0; ; n++ {
		id := domain.AssistantID(userID, n)
		if _, ok := e.store.Get(sessionID, id); !ok {
			return id
		}
	}
}

// applyFragment re-reads the active pointer at call time and never fails:
// errors are logged and the fragment is dropped.
func (e *Engine) applyFragment(gen uint64, sessionID, derivedID, text string) {
	if !e.current(sessionID, gen) {
		e.logger.Debug("dropping fragment from superseded send", "session_id", sessionID, "assistant_id", derivedID)
		return
	}
	id := e.store.ActiveAssistant(sessionID)
	if id == "" {
		id = derivedID
	}

	if _, ok := e.store.Get(sessionID, id); ok {
		if _, err := e.store.AppendFragment(sessionID, id, text); err != nil {
			e.logger.Warn("dropping fragment", "session_id", sessionID, "assistant_id", id, "error", err)
		}
		return
	}
	_, err := e.store.Create(domain.Message{
		ID:              id,
		SessionID:       sessionID,
		Role:            domain.RoleAssistant,
		Content:         text,
		Status:          domain.StatusStreaming,
		ClientTimestamp: e.now(),
	})
	if err != nil {
		e.logger.Warn("dropping first fragment", "session_id", sessionID, "assistant_id", id, "error", err)
	}
}

func (e *Engine) completeTurn(ctx context.Context, gen uint64, sessionID, userID, assistantID, conversationID string, chunks int) {
	if !e.current(sessionID, gen) {
		e.logger.Debug("ignoring completion of superseded send", "session_id", sessionID, "assistant_id", assistantID)
		return
	}

	_, hasReply := e.store.Get(sessionID, assistantID)
	if hasReply {
		if _, err := e.store.MarkStatus(sessionID, assistantID, domain.StatusSent); err != nil {
			e.logger.Warn("failed to complete reply", "session_id", sessionID, "assistant_id", assistantID, "error", err)
		}
	}
	if _, err := e.store.MarkStatus(sessionID, userID, domain.StatusSent); err != nil {
		e.logger.Warn("failed to complete user message", "session_id", sessionID, "message_id", userID, "error", err)
	}
	e.store.ClearActiveAssistant(sessionID, assistantID)
	e.store.SetConversationID(sessionID, conversationID)

	record := []string{userID}
	var content string
	parts := 0
	if hasReply {
		reply, _ := e.store.Get(sessionID, assistantID)
		content = reply.Content
		record = append(record, assistantID)
		parts = 1
		if pieces := split.Split(reply, e.ids.MessageID); pieces != nil {
			if err := e.store.ReplaceWithSplit(sessionID, assistantID, pieces); err != nil {
				e.logger.Warn("failed to split reply", "session_id", sessionID, "assistant_id", assistantID, "error", err)
			} else {
				for _, p := range pieces[1:] {
					record = append(record, p.ID)
				}
				parts = len(pieces)
			}
		}
	}
	e.record(ctx, sessionID, record...)

	e.logger.Info("reply completed",
		"session_id", sessionID,
		"message_id", userID,
		"assistant_id", assistantID,
		"stream_chunks", chunks,
		"parts", parts)
	e.convlog.Log(convlog.Event{
		SessionID:  sessionID,
		MessageID:  assistantID,
		Channel:    e.channel,
		Direction:  "inbound",
		EventType:  "chat_assistant_message",
		ContentRaw: content,
		Meta: map[string]any{
			"stream_chunks":   chunks,
			"partial":         false,
			"parts":           parts,
			"conversation_id": conversationID,
		},
	})
}

// failTurn leaves a partial reply in place as failed and marks the trigger
// failed unless it is an image that already reached sent.
func (e *Engine) failTurn(sessionID, userID, assistantID string, chunks int, cause error) {
	var partial string
	if m, ok := e.store.Get(sessionID, assistantID); ok {
		partial = m.Content
		if m.Status == domain.StatusStreaming {
			if _, err := e.store.MarkStatus(sessionID, assistantID, domain.StatusFailed); err != nil {
				e.logger.Warn("failed to mark reply failed", "session_id", sessionID, "assistant_id", assistantID, "error", err)
			}
		}
	}
	if u, ok := e.store.Get(sessionID, userID); ok && u.Status != domain.StatusSent {
		if _, err := e.store.MarkStatus(sessionID, userID, domain.StatusFailed); err != nil {
			e.logger.Warn("failed to mark message failed", "session_id", sessionID, "message_id", userID, "error", err)
		}
	}
	e.store.ClearActiveAssistant(sessionID, assistantID)

	e.logger.Info("reply attempt failed",
		"session_id", sessionID,
		"message_id", userID,
		"assistant_id", assistantID,
		"stream_chunks", chunks,
		"error", cause)
	e.convlog.Log(convlog.Event{
		SessionID:  sessionID,
		MessageID:  assistantID,
		Channel:    e.channel,
		Direction:  "inbound",
		EventType:  "chat_assistant_message",
		ContentRaw: partial,
		Meta: map[string]any{
			"stream_chunks": chunks,
			"partial":       chunks > 0,
			"stream_error":  cause.Error(),
		},
	})
}

func (e *Engine) record(ctx context.Context, sessionID string, ids ...string) {
	if e.recorder == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	for _, id := range ids {
		m, ok := e.store.Get(sessionID, id)
		if !ok {
			continue
		}
		if err := e.recorder.Save(rctx, m); err != nil {
			e.logger.Error("failed to record message", "session_id", sessionID, "message_id", id, "error", err)
		}
	}
}

func (e *Engine) notify(n Notice) {
	if n.Text == "" {
		n.Text = noticeText(n.Kind)
	}
	if e.onNotice != nil {
		e.onNotice(n)
	}
}

package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/companion/internal/convlog"
	"github.com/ashureev/companion/internal/domain"
	"github.com/ashureev/companion/internal/identity"
	"github.com/ashureev/companion/internal/media"
	"github.com/ashureev/companion/internal/render"
	"github.com/ashureev/companion/internal/retry"
	"github.com/ashureev/companion/internal/store"
	"github.com/ashureev/companion/internal/stream"
	"github.com/ashureev/companion/internal/transport"
)

var testClock = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// reply yields text one rune at a time, then the terminal event.
func reply(conversationID, text string) iter.Seq2[stream.Event, error] {
	return func(yield func(stream.Event, error) bool) {
		for _, r := range text {
			if !yield(stream.Event{Fragment: string(r)}, nil) {
				return
			}
		}
		yield(stream.Event{Done: true, ConversationID: conversationID}, nil)
	}
}

// failure yields partial text, then err.
func failure(partial string, err error) iter.Seq2[stream.Event, error] {
	return func(yield func(stream.Event, error) bool) {
		for _, r := range partial {
			if !yield(stream.Event{Fragment: string(r)}, nil) {
				return
			}
		}
		yield(stream.Event{}, err)
	}
}

type harness struct {
	engine  *Engine
	store   *store.Store
	mu      sync.Mutex
	delays  []time.Duration
	notices []Notice
}

func (h *harness) sleeps() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.delays...)
}

func (h *harness) seen() []Notice {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Notice(nil), h.notices...)
}

func newHarness(t *testing.T, tr Transport, cfg retry.Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{store: store.New()}
	ctrl := retry.New(cfg, retry.WithSleeper(func(_ context.Context, d time.Duration) error {
		h.mu.Lock()
		h.delays = append(h.delays, d)
		h.mu.Unlock()
		return nil
	}))
	base := []Option{
		WithRetry(ctrl),
		WithIDs(&identity.SequenceGenerator{}),
		WithClock(func() time.Time { return testClock }),
		WithNoticeHandler(func(n Notice) {
			h.mu.Lock()
			h.notices = append(h.notices, n)
			h.mu.Unlock()
		}),
	}
	h.engine = New(h.store, tr, append(base, opts...)...)
	return h
}

func contents(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestSendTextStreamsAndSplits(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)
	rec := NewMockRecorder(ctrl)
	clog := NewMockConversationLogger(ctrl)

	tr.EXPECT().Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req transport.Request) iter.Seq2[stream.Event, error] {
			assert.Equal(t, "s1", req.SessionID)
			assert.Equal(t, "hello", req.Message)
			assert.Empty(t, req.ConversationID)
			assert.NotEmpty(t, req.TraceID)
			return reply("conv-1", "Hi!\nHow are you?\n")
		})
	var saved []string
	rec.EXPECT().Save(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, m domain.Message) error {
			assert.Equal(t, domain.StatusSent, m.Status)
			saved = append(saved, m.ID)
			return nil
		}).Times(3)
	var events []string
	clog.EXPECT().Log(gomock.Any()).
		Do(func(e convlog.Event) { events = append(events, e.EventType) }).
		Times(2)

	h := newHarness(t, tr, retry.DefaultConfig(), WithRecorder(rec), WithConversationLog(clog))
	user, err := h.engine.SendText(context.Background(), "s1", "hello")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, user.Status)

	msgs := h.store.Messages("s1")
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"hello", "Hi!", "How are you?"}, contents(msgs))
	assert.Equal(t, domain.AssistantID(user.ID, 0), msgs[1].ID)
	for _, m := range msgs {
		assert.Equal(t, domain.StatusSent, m.Status, m.ID)
	}
	assert.True(t, msgs[2].ClientTimestamp.After(msgs[1].ClientTimestamp))

	assert.Equal(t, "conv-1", h.store.ConversationID("s1"))
	assert.Empty(t, h.store.ActiveAssistant("s1"))
	assert.True(t, h.engine.InputEnabled("s1"))
	assert.Equal(t, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID}, saved)
	assert.Equal(t, []string{"chat_user_message", "chat_assistant_message"}, events)
	assert.Empty(t, h.seen())
}

func TestSendTextAttachesConversationID(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)
	gomock.InOrder(
		tr.EXPECT().Send(gomock.Any(), gomock.Any()).Return(reply("conv-9", "one")),
		tr.EXPECT().Send(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, req transport.Request) iter.Seq2[stream.Event, error] {
				assert.Equal(t, "conv-9", req.ConversationID)
				return reply("", "two")
			}),
	)

	h := newHarness(t, tr, retry.DefaultConfig())
	_, err := h.engine.SendText(context.Background(), "s1", "first")
	require.NoError(t, err)
	_, err = h.engine.SendText(context.Background(), "s1", "second")
	require.NoError(t, err)
	assert.Equal(t, "conv-9", h.store.ConversationID("s1"))
}

func TestSendTextRetriesWithBackoff(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)
	netErr := fmt.Errorf("%w: connection reset", stream.ErrInterrupted)
	tr.EXPECT().Send(gomock.Any(), gomock.Any()).Return(failure("", netErr)).Times(4)

	h := newHarness(t, tr, retry.DefaultConfig())
	user, err := h.engine.SendText(context.Background(), "s1", "anyone there?")
	require.ErrorIs(t, err, retry.ErrExhausted)

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, h.sleeps())
	assert.Equal(t, domain.StatusFailed, user.Status)

	msgs := h.store.Messages("s1")
	require.Len(t, msgs, 1, "retries must reuse the original message")
	assert.Equal(t, user.ID, msgs[0].ID)

	notices := h.seen()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeDegraded, notices[0].Kind)
	assert.Equal(t, user.ID, notices[0].MessageID)
	assert.NotEmpty(t, notices[0].Text)
	assert.True(t, h.engine.InputEnabled("s1"))
	assert.Empty(t, h.store.ActiveAssistant("s1"))
}

func TestSendTextRecoversAfterPartialReply(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)
	gomock.InOrder(
		tr.EXPECT().Send(gomock.Any(), gomock.Any()).
			Return(failure("Hel", fmt.Errorf("%w: EOF", stream.ErrInterrupted))),
		tr.EXPECT().Send(gomock.Any(), gomock.Any()).Return(reply("conv-2", "Hello")),
	)

	h := newHarness(t, tr, retry.DefaultConfig())
	maxStreaming := 0
	unsub := h.store.Subscribe(func(c store.Change) {
		maxStreaming = max(maxStreaming, h.store.StreamingCount(c.SessionID))
	})
	defer unsub()

	user, err := h.engine.SendText(context.Background(), "s1", "hi")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, user.Status)
	assert.Equal(t, []time.Duration{time.Second}, h.sleeps())
	assert.Equal(t, 1, maxStreaming)

	partial, ok := h.store.Get("s1", domain.AssistantID(user.ID, 0))
	require.True(t, ok)
	assert.Equal(t, "Hel", partial.Content)
	assert.Equal(t, domain.StatusFailed, partial.Status)

	final, ok := h.store.Get("s1", domain.AssistantID(user.ID, 1))
	require.True(t, ok)
	assert.Equal(t, "Hello", final.Content)
	assert.Equal(t, domain.StatusSent, final.Status)
}

func TestSendTextAuthFailureSkipsRetry(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)
	authErr := fmt.Errorf("%w: %w", transport.ErrUnauthorized, &transport.StatusError{Code: 401})
	tr.EXPECT().Send(gomock.Any(), gomock.Any()).Return(failure("", authErr)).Times(1)

	h := newHarness(t, tr, retry.DefaultConfig())
	user, err := h.engine.SendText(context.Background(), "s1", "hi")
	require.ErrorIs(t, err, transport.ErrUnauthorized)
	assert.False(t, errors.Is(err, retry.ErrExhausted))
	assert.Empty(t, h.sleeps())
	assert.Equal(t, domain.StatusFailed, user.Status)

	notices := h.seen()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeAuth, notices[0].Kind)
}

func TestSendTextRejectsEmpty(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)

	h := newHarness(t, tr, retry.DefaultConfig())
	_, err := h.engine.SendText(context.Background(), "s1", " \n\t")
	require.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, h.store.Messages("s1"))

	notices := h.seen()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeValidation, notices[0].Kind)
}

func TestSendInFlightAndCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)
	tr.EXPECT().Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ transport.Request) iter.Seq2[stream.Event, error] {
			return func(yield func(stream.Event, error) bool) {
				if !yield(stream.Event{Fragment: "w"}, nil) {
					return
				}
				<-ctx.Done()
				if !yield(stream.Event{Fragment: "late"}, nil) {
					return
				}
				yield(stream.Event{}, fmt.Errorf("%w: %w", stream.ErrInterrupted, ctx.Err()))
			}
		})

	h := newHarness(t, tr, retry.DefaultConfig())
	type result struct {
		msg domain.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, err := h.engine.SendText(context.Background(), "s1", "long question")
		done <- result{m, err}
	}()

	require.Eventually(t, func() bool {
		_, ok := h.store.Get("s1", domain.AssistantID("msg_1", 0))
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, h.engine.InputEnabled("s1"))

	_, err := h.engine.SendText(context.Background(), "s1", "again")
	require.ErrorIs(t, err, ErrSendInFlight)

	require.True(t, h.engine.Cancel("s1"))
	var res result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("send did not stop after Cancel")
	}
	require.ErrorIs(t, res.err, context.Canceled)
	assert.Equal(t, domain.StatusFailed, res.msg.Status)
	assert.Empty(t, h.sleeps())

	partial, ok := h.store.Get("s1", domain.AssistantID("msg_1", 0))
	require.True(t, ok)
	assert.Equal(t, "w", partial.Content, "fragments after Cancel are dropped")
	assert.Equal(t, domain.StatusFailed, partial.Status)

	notices := h.seen()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeCancelled, notices[0].Kind)
	assert.True(t, h.engine.InputEnabled("s1"))
	assert.False(t, h.engine.Cancel("s1"))
}

func TestTypingIndicatorUntilFirstFragment(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)
	gate := make(chan struct{})
	tr.EXPECT().Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, transport.Request) iter.Seq2[stream.Event, error] {
			return func(yield func(stream.Event, error) bool) {
				<-gate
				for ev, err := range reply("", "ok") {
					if !yield(ev, err) {
						return
					}
				}
			}
		})

	h := newHarness(t, tr, retry.DefaultConfig())
	done := make(chan error, 1)
	go func() {
		_, err := h.engine.SendText(context.Background(), "s1", "ping")
		done <- err
	}()

	require.Eventually(t, func() bool {
		return h.store.ActiveAssistant("s1") != ""
	}, 2*time.Second, 5*time.Millisecond)
	items := h.engine.Render("s1")
	require.NotEmpty(t, items)
	assert.Equal(t, render.KindTyping, items[len(items)-1].Kind)

	close(gate)
	require.NoError(t, <-done)
	items = h.engine.Render("s1")
	assert.Equal(t, render.KindMessage, items[len(items)-1].Kind)
	assert.Equal(t, "ok", items[len(items)-1].Message.Content)
}

func TestManualRetryReusesID(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)
	gomock.InOrder(
		tr.EXPECT().Send(gomock.Any(), gomock.Any()).
			Return(failure("", fmt.Errorf("%w: reset", stream.ErrInterrupted))),
		tr.EXPECT().Send(gomock.Any(), gomock.Any()).
			Return(failure("", fmt.Errorf("%w: reset", stream.ErrInterrupted))),
		tr.EXPECT().Send(gomock.Any(), gomock.Any()).Return(reply("", "back")),
	)

	h := newHarness(t, tr, retry.Config{MaxRetries: 1, BaseDelay: time.Second})
	failed, err := h.engine.SendText(context.Background(), "s1", "hello?")
	require.ErrorIs(t, err, retry.ErrExhausted)
	require.Equal(t, domain.StatusFailed, failed.Status)

	sent, err := h.engine.Retry(context.Background(), "s1", failed.ID)
	require.NoError(t, err)
	assert.Equal(t, failed.ID, sent.ID)
	assert.Equal(t, domain.StatusSent, sent.Status)
	assert.Equal(t, []time.Duration{time.Second}, h.sleeps(), "manual retry succeeded on its first attempt")

	_, err = h.engine.Retry(context.Background(), "s1", failed.ID)
	assert.ErrorIs(t, err, ErrNotRetryable)
	_, err = h.engine.Retry(context.Background(), "s1", "nope")
	assert.ErrorIs(t, err, store.ErrMessageNotFound)
}

func TestOpenSessionSeedsHistoryOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)
	hist := NewMockHistoryLoader(ctrl)

	at := func(day int) time.Time { return time.Date(2025, 12, day, 9, 0, 0, 0, time.UTC) }
	hist.EXPECT().Load(gomock.Any(), "s1").Return([]domain.Message{
		{ID: "h2", SessionID: "s1", Role: domain.RoleAssistant, Content: "two", Status: domain.StatusSent, ClientTimestamp: at(2)},
		{ID: "h1", SessionID: "s1", Role: domain.RoleUser, Content: "one", Status: domain.StatusSent, ClientTimestamp: at(1)},
		{ID: "h4", SessionID: "s1", Role: domain.RoleAssistant, Content: "four", Status: domain.StatusSent, ClientTimestamp: at(4)},
		{ID: "h3", SessionID: "s1", Role: domain.RoleUser, Content: "three", Status: domain.StatusSending, ClientTimestamp: at(3)},
	}, nil).Times(1)
	tr.EXPECT().Send(gomock.Any(), gomock.Any()).Return(reply("", "five")).Times(1)

	h := newHarness(t, tr, retry.DefaultConfig(), WithHistory(hist), WithGreeting("Hello!"))
	n, err := h.engine.OpenSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	n, err = h.engine.OpenSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	interrupted, ok := h.store.Get("s1", "h3")
	require.True(t, ok)
	assert.Equal(t, domain.StatusFailed, interrupted.Status)

	_, err = h.engine.SendText(context.Background(), "s1", "back again")
	require.NoError(t, err)

	var kinds []render.Kind
	var texts []string
	for _, it := range h.engine.Render("s1") {
		kinds = append(kinds, it.Kind)
		texts = append(texts, it.Message.Content)
	}
	assert.Equal(t, []render.Kind{
		render.KindGreeting,
		render.KindMessage, render.KindMessage, render.KindMessage, render.KindMessage,
		render.KindDivider,
		render.KindMessage, render.KindMessage,
	}, kinds)
	assert.Equal(t, []string{"", "one", "two", "three", "four", "", "back again", "five"}, texts)
}

func TestOpenSessionLoadError(t *testing.T) {
	ctrl := gomock.NewController(t)
	hist := NewMockHistoryLoader(ctrl)
	hist.EXPECT().Load(gomock.Any(), "s1").Return(nil, errors.New("disk gone"))

	h := newHarness(t, NewMockTransport(ctrl), retry.DefaultConfig(), WithHistory(hist))
	_, err := h.engine.OpenSession(context.Background(), "s1")
	require.Error(t, err)
	assert.True(t, h.engine.InputEnabled("s1"))
}

func TestStaleCallbacksAreIgnored(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := newHarness(t, NewMockTransport(ctrl), retry.DefaultConfig())
	e := h.engine

	_, oldGen, release, err := e.begin(context.Background(), "s1")
	require.NoError(t, err)
	release()
	_, gen, release, err := e.begin(context.Background(), "s1")
	require.NoError(t, err)
	defer release()
	require.NotEqual(t, oldGen, gen)

	e.store.SetActiveAssistant("s1", "assistant-new")
	e.applyFragment(oldGen, "s1", "assistant-old", "stale")
	assert.Empty(t, h.store.Messages("s1"))

	e.applyFragment(gen, "s1", "assistant-new", "fresh")
	m, ok := h.store.Get("s1", "assistant-new")
	require.True(t, ok)
	assert.Equal(t, "fresh", m.Content)
	assert.Equal(t, domain.StatusStreaming, m.Status)

	e.completeTurn(context.Background(), oldGen, "s1", "u-old", "assistant-new", "conv-stale", 1)
	m, _ = h.store.Get("s1", "assistant-new")
	assert.Equal(t, domain.StatusStreaming, m.Status)
	assert.Empty(t, h.store.ConversationID("s1"))
}

func TestFragmentFallsBackToDerivedID(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := newHarness(t, NewMockTransport(ctrl), retry.DefaultConfig())
	e := h.engine

	_, gen, release, err := e.begin(context.Background(), "s1")
	require.NoError(t, err)
	defer release()

	e.applyFragment(gen, "s1", "assistant-u1", "a")
	e.applyFragment(gen, "s1", "assistant-u1", "b")
	m, ok := h.store.Get("s1", "assistant-u1")
	require.True(t, ok)
	assert.Equal(t, "ab", m.Content)
}

func TestSendImageValidationNotice(t *testing.T) {
	ctrl := gomock.NewController(t)
	pipe := NewMockMediaPipeline(ctrl)
	pipe.EXPECT().Send(gomock.Any(), "s1", "file:///huge.png").
		Return(domain.Message{}, fmt.Errorf("%w: 12 MiB", media.ErrTooLarge))

	h := newHarness(t, NewMockTransport(ctrl), retry.DefaultConfig(), WithMedia(pipe))
	_, err := h.engine.SendImage(context.Background(), "s1", "file:///huge.png")
	require.ErrorIs(t, err, media.ErrTooLarge)

	notices := h.seen()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeValidation, notices[0].Kind)
	assert.True(t, h.engine.InputEnabled("s1"))
}

func TestRetryDispatchesImages(t *testing.T) {
	ctrl := gomock.NewController(t)
	pipe := NewMockMediaPipeline(ctrl)

	h := newHarness(t, NewMockTransport(ctrl), retry.DefaultConfig(), WithMedia(pipe))
	img, err := h.store.Create(domain.Message{
		ID:              "img-1",
		SessionID:       "s1",
		Role:            domain.RoleUser,
		Status:          domain.StatusFailed,
		ClientTimestamp: testClock,
		Media:           &domain.Media{LocalURI: "file:///pick.jpg"},
	})
	require.NoError(t, err)

	sent := img
	sent.Status = domain.StatusSent
	pipe.EXPECT().Retry(gomock.Any(), "s1", "img-1").Return(sent, nil)

	got, err := h.engine.Retry(context.Background(), "s1", "img-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, got.Status)
	assert.Empty(t, h.sleeps())
}

func TestSendImageWithoutPipeline(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := newHarness(t, NewMockTransport(ctrl), retry.DefaultConfig())
	_, err := h.engine.SendImage(context.Background(), "s1", "file:///x.png")
	assert.ErrorIs(t, err, ErrNoMedia)
}

func TestNotifyUploadStreamsReply(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)
	rec := NewMockRecorder(ctrl)
	gomock.InOrder(
		tr.EXPECT().Send(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, req transport.Request) iter.Seq2[stream.Event, error] {
				assert.Equal(t, "https://cdn.example/a.jpg", req.ImageURL)
				return reply("conv-img", "Nice photo!")
			}),
		tr.EXPECT().Send(gomock.Any(), gomock.Any()).
			Return(failure("Hm", fmt.Errorf("%w: reset", stream.ErrInterrupted))),
	)
	rec.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	h := newHarness(t, tr, retry.DefaultConfig(), WithRecorder(rec))
	_, err := h.store.Create(domain.Message{
		ID:              "img-1",
		SessionID:       "s1",
		Role:            domain.RoleUser,
		Status:          domain.StatusSent,
		ClientTimestamp: testClock,
		Media:           &domain.Media{LocalURI: "file:///pick.jpg", RemoteURL: "https://cdn.example/a.jpg", UploadProgress: 100},
	})
	require.NoError(t, err)

	require.NoError(t, h.engine.NotifyUpload(context.Background(), "s1", "img-1", "https://cdn.example/a.jpg"))
	replyMsg, ok := h.store.Get("s1", domain.AssistantID("img-1", 0))
	require.True(t, ok)
	assert.Equal(t, "Nice photo!", replyMsg.Content)
	assert.Equal(t, domain.StatusSent, replyMsg.Status)
	assert.Equal(t, "conv-img", h.store.ConversationID("s1"))

	err = h.engine.NotifyUpload(context.Background(), "s1", "img-1", "https://cdn.example/a.jpg")
	require.ErrorIs(t, err, stream.ErrInterrupted)
	second, ok := h.store.Get("s1", domain.AssistantID("img-1", 1))
	require.True(t, ok)
	assert.Equal(t, domain.StatusFailed, second.Status)

	img, _ := h.store.Get("s1", "img-1")
	assert.Equal(t, domain.StatusSent, img.Status, "an uploaded image keeps its sent status")
	assert.Empty(t, h.sleeps())
}

func TestNoticeKindString(t *testing.T) {
	tests := map[NoticeKind]string{
		NoticeValidation: "validation",
		NoticeAuth:       "auth",
		NoticeDegraded:   "degraded",
		NoticeSendFailed: "send_failed",
		NoticeCancelled:  "cancelled",
		NoticeKind(42):   "NoticeKind(42)",
	}
	for k, want := range tests {
		assert.Equal(t, want, k.String())
	}
}

package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashureev/companion/internal/domain"
	"github.com/ashureev/companion/internal/identity"
	"github.com/ashureev/companion/internal/store"
)

var (
	// ErrNotRetryable is returned by Retry for a message that is not a failed image.
	ErrNotRetryable = errors.New("message cannot be retried as an image")
	// ErrNotifyFailed wraps a failure of the downstream reply after a successful upload.
	ErrNotifyFailed = errors.New("image reply failed")
)

// Notifier sends the uploaded URL through the chat send path.
type Notifier interface {
	NotifyUpload(ctx context.Context, sessionID, messageID, remoteURL string) error
}

// Config sets the size ceiling and the two re-encoding passes.
type Config struct {
	MaxBytes         int64
	PrimaryLongEdge  int
	PrimaryQuality   int
	ThumbnailEdge    int
	ThumbnailQuality int
}

// DefaultConfig returns a 10 MiB ceiling, 1280px/q80 uploads and 320px/q60 previews.
func DefaultConfig() Config {
	return Config{
		MaxBytes:         DefaultMaxBytes,
		PrimaryLongEdge:  1280,
		PrimaryQuality:   80,
		ThumbnailEdge:    320,
		ThumbnailQuality: 60,
	}
}

// Pipeline runs validation, compression, placeholder creation, upload and notify.
type Pipeline struct {
	store      *store.Store
	compressor Compressor
	uploader   Uploader
	notifier   Notifier
	ids        identity.Generator
	now        func() time.Time
	cfg        Config
	logger     *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithConfig overrides DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) { p.cfg = cfg }
}

// WithIDs sets the message id generator.
func WithIDs(ids identity.Generator) Option {
	return func(p *Pipeline) { p.ids = ids }
}

// WithClock sets the time source for placeholder timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger sets the logger; nil means slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline wires the collaborators. A notifier can be attached later with SetNotifier.
func NewPipeline(st *store.Store, c Compressor, u Uploader, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:      st,
		compressor: c,
		uploader:   u,
		ids:        identity.UUIDGenerator{},
		now:        time.Now,
		cfg:        DefaultConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// SetNotifier attaches the downstream reply step.
func (p *Pipeline) SetNotifier(n Notifier) {
	p.notifier = n
}

// Send processes a newly picked image. Validation and compression failures
// return before any message exists; later failures leave a failed message
// that Retry can resume.
func (p *Pipeline) Send(ctx context.Context, sessionID, localURI string) (domain.Message, error) {
	if _, err := (Validator{MaxBytes: p.cfg.MaxBytes}).Validate(localURI); err != nil {
		return domain.Message{}, err
	}

	primary, thumb, err := p.prepare(ctx, localURI)
	if err != nil {
		return domain.Message{}, err
	}

	m, err := p.store.Create(domain.Message{
		ID:              p.ids.MessageID(),
		SessionID:       sessionID,
		Role:            domain.RoleUser,
		Status:          domain.StatusSending,
		ClientTimestamp: p.now(),
		Media: &domain.Media{
			LocalURI:     localURI,
			ThumbnailURI: thumb,
		},
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("create image placeholder: %w", err)
	}
	p.logger.Info("image placeholder created", "session_id", sessionID, "message_id", m.ID)

	return p.upload(ctx, m, primary)
}

// Retry resumes a failed image message from compression, reusing its local URI.
func (p *Pipeline) Retry(ctx context.Context, sessionID, messageID string) (domain.Message, error) {
	m, ok := p.store.Get(sessionID, messageID)
	if !ok {
		return domain.Message{}, fmt.Errorf("%w: %s", store.ErrMessageNotFound, messageID)
	}
	if m.Media == nil || m.Media.LocalURI == "" || m.Status != domain.StatusFailed {
		return m, fmt.Errorf("%w: %s is %s", ErrNotRetryable, messageID, m.Status)
	}

	primary, thumb, err := p.prepare(ctx, m.Media.LocalURI)
	if err != nil {
		return m, err
	}

	m, err = p.store.RestartUpload(sessionID, messageID, thumb)
	if err != nil {
		return m, fmt.Errorf("restart upload: %w", err)
	}
	p.logger.Info("retrying image upload", "session_id", sessionID, "message_id", messageID)
	return p.upload(ctx, m, primary)
}

// prepare runs primary compression and thumbnail generation in parallel. A
// thumbnail failure falls back to the primary asset.
func (p *Pipeline) prepare(ctx context.Context, localURI string) (string, string, error) {
	var primary, thumb string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := p.compressor.Compress(gctx, localURI, p.cfg.PrimaryLongEdge, p.cfg.PrimaryQuality)
		if err != nil {
			return fmt.Errorf("compress image: %w", err)
		}
		primary = out
		return nil
	})
	g.Go(func() error {
		out, err := p.compressor.Thumbnail(gctx, localURI, p.cfg.ThumbnailEdge, p.cfg.ThumbnailQuality)
		if err != nil {
			p.logger.Warn("thumbnail generation failed, previewing primary asset", "uri", localURI, "error", err)
			return nil
		}
		thumb = out
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", "", err
	}
	if thumb == "" {
		thumb = primary
	}
	return primary, thumb, nil
}

func (p *Pipeline) upload(ctx context.Context, m domain.Message, primary string) (domain.Message, error) {
	sessionID, id := m.SessionID, m.ID

	remote, err := p.uploader.Upload(ctx, primary, func(pct int) {
		if _, err := p.store.SetUploadProgress(sessionID, id, pct); err != nil {
			p.logger.Debug("dropping upload progress", "message_id", id, "progress", pct, "error", err)
		}
	})
	if err != nil {
		p.logger.Warn("image upload failed", "session_id", sessionID, "message_id", id, "error", err)
		failed, markErr := p.store.MarkStatus(sessionID, id, domain.StatusFailed)
		if markErr != nil {
			p.logger.Error("failed to mark image message failed", "message_id", id, "error", markErr)
			failed = m
		}
		return failed, fmt.Errorf("upload image: %w", err)
	}

	sent, err := p.store.MarkUploaded(sessionID, id, remote)
	if err != nil {
		return m, fmt.Errorf("complete upload: %w", err)
	}

	if p.notifier == nil {
		return sent, nil
	}
	if err := p.notifier.NotifyUpload(ctx, sessionID, id, remote); err != nil {
		return sent, fmt.Errorf("%w: %w", ErrNotifyFailed, err)
	}
	return sent, nil
}

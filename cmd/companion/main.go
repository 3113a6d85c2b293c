// Terminal companion chat client.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashureev/companion/internal/chat"
	"github.com/ashureev/companion/internal/config"
	"github.com/ashureev/companion/internal/convlog"
	"github.com/ashureev/companion/internal/domain"
	"github.com/ashureev/companion/internal/history"
	"github.com/ashureev/companion/internal/identity"
	"github.com/ashureev/companion/internal/media"
	"github.com/ashureev/companion/internal/retry"
	"github.com/ashureev/companion/internal/store"
	"github.com/ashureev/companion/internal/transport"
)

const readyTimeout = 5 * time.Second

const usage = "commands: /image <path>, /retry <message-id>, /cancel, /quit"

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// stdout belongs to the conversation.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))
	slog.SetDefault(logger)

	sessionID := domain.TempSessionID
	if len(os.Args) > 1 {
		sessionID = identity.SanitizeSessionID(os.Args[1])
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, sessionID, logger); err != nil {
		slog.Error("Companion stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, sessionID string, logger *slog.Logger) error {
	tokens := transport.StaticToken(cfg.AuthToken)

	tr, closeTransport, err := newTransport(ctx, cfg, tokens, logger)
	if err != nil {
		return err
	}
	defer closeTransport()

	if err := os.MkdirAll(filepath.Dir(cfg.HistoryDB), 0o755); err != nil {
		return fmt.Errorf("create history directory: %w", err)
	}
	repo, err := history.NewSQLite(cfg.HistoryDB, logger)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close history", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("history health check: %w", err)
	}

	clog, err := convlog.New(convlog.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("open conversation log: %w", err)
	}
	defer func() { _ = clog.Close() }()

	compressor, err := media.NewJPEGCompressor(cfg.Media.CacheDir, logger)
	if err != nil {
		return err
	}

	st := store.New()
	pipe := media.NewPipeline(st, compressor,
		media.NewHTTPUploader(cfg.UploadURL, http.DefaultClient, tokens, logger),
		media.WithConfig(media.Config{
			MaxBytes:         cfg.Media.MaxBytes,
			PrimaryLongEdge:  cfg.Media.PrimaryEdge,
			PrimaryQuality:   cfg.Media.PrimaryQuality,
			ThumbnailEdge:    cfg.Media.ThumbnailEdge,
			ThumbnailQuality: cfg.Media.ThumbnailQuality,
		}),
		media.WithLogger(logger),
	)

	v := newView(os.Stdout, sessionID)
	engine := chat.New(st, tr,
		chat.WithHistory(repo),
		chat.WithRecorder(repo),
		chat.WithMedia(pipe),
		chat.WithRetry(retry.New(retry.Config{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.Retry.BaseDelay,
		}, retry.WithLogger(logger), retry.WithOnRetry(v.retrying))),
		chat.WithSendTimeout(cfg.SendTimeout),
		chat.WithGreeting(cfg.Greeting),
		chat.WithChannel("terminal"),
		chat.WithNoticeHandler(v.notice),
		chat.WithConversationLog(clog),
		chat.WithLogger(logger),
	)
	pipe.SetNotifier(engine)
	v.attach(engine)
	defer st.Subscribe(v.change)()

	if _, err := engine.OpenSession(ctx, sessionID); err != nil {
		return err
	}
	v.draw()
	v.printf("%s\n", usage)

	// Sends still recording to history must finish before repo closes.
	var sends sync.WaitGroup
	defer sends.Wait()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			engine.Cancel(sessionID)
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := dispatch(ctx, engine, v, &sends, sessionID, strings.TrimSpace(line)); quit {
				engine.Cancel(sessionID)
				return nil
			}
		}
	}
}

// dispatch runs one input line. Sends run in the background so /cancel
// stays available while a reply streams.
func dispatch(ctx context.Context, engine *chat.Engine, v *view, sends *sync.WaitGroup, sessionID, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
		return false
	case "/quit":
		return true
	case "/cancel":
		if !engine.Cancel(sessionID) {
			v.printf("nothing to cancel\n")
		}
		return false
	case "/help":
		v.printf("%s\n", usage)
		return false
	}

	if !engine.InputEnabled(sessionID) {
		v.printf("waiting for the reply, use /cancel to stop it\n")
		return false
	}

	var send func() (domain.Message, error)
	switch cmd {
	case "/image":
		path, err := filepath.Abs(arg)
		if err != nil || arg == "" {
			v.printf("usage: /image <path>\n")
			return false
		}
		send = func() (domain.Message, error) { return engine.SendImage(ctx, sessionID, media.FileURI(path)) }
	case "/retry":
		if arg == "" {
			v.printf("usage: /retry <message-id>\n")
			return false
		}
		send = func() (domain.Message, error) { return engine.Retry(ctx, sessionID, arg) }
	default:
		send = func() (domain.Message, error) { return engine.SendText(ctx, sessionID, line) }
	}

	sends.Add(1)
	go func() {
		defer sends.Done()
		msg, err := send()
		v.finish(msg, err)
	}()
	return false
}

func newTransport(ctx context.Context, cfg *config.Config, tokens transport.TokenSource, logger *slog.Logger) (chat.Transport, func(), error) {
	switch cfg.Transport {
	case config.TransportWebSocket:
		return transport.NewWebSocketTransport(cfg.ChatWSURL, tokens, logger), func() {}, nil
	case config.TransportGRPC:
		tr, err := transport.NewGRPCTransport(transport.DefaultGRPCConfig(cfg.ChatGRPCAddr), tokens, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect chat backend: %w", err)
		}
		readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
		defer cancel()
		if err := tr.WaitReady(readyCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("Chat backend not ready yet, sends will retry", "address", cfg.ChatGRPCAddr, "error", err)
		}
		return tr, tr.Close, nil
	default:
		return transport.NewHTTPTransport(cfg.ChatURL, http.DefaultClient, tokens, logger), func() {}, nil
	}
}

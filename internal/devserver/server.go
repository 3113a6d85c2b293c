// Package devserver is a local companion backend. It streams replies as
// SSE data frames, single-shot JSON, WebSocket chunks or gRPC chunks, and it
// stores multipart image uploads.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"
	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ashureev/companion/internal/domain"
	"github.com/ashureev/companion/internal/identity"
	"github.com/ashureev/companion/internal/middleware"
	"github.com/ashureev/companion/internal/transport"
)

const (
	maxRequestBodySize    = 1 << 20
	defaultMaxUploadBytes = 10 << 20
	defaultRateWindow     = time.Minute
)

var errBadRequest = errors.New("bad request")

// Config controls the dev server.
type Config struct {
	// AuthToken is the expected bearer token; empty disables auth.
	AuthToken string
	// UploadDir stores uploaded images, served back under /uploads/.
	UploadDir string
	// PublicURL prefixes upload URLs; empty means the request's own host.
	PublicURL      string
	MaxUploadBytes int64
	// FailFirst makes the first N chat requests fail with 503 (or the
	// transport's equivalent) to exercise client backoff.
	FailFirst      int
	RateLimit      int
	RateWindow     time.Duration
	FrameDelay     time.Duration
	AllowedOrigins []string
	AccessLog      bool
}

// Server serves the companion chat API.
type Server struct {
	cfg       Config
	responder Responder
	limiter   *RateLimiter
	failures  atomic.Int64
	logger    *slog.Logger

	mu    sync.Mutex
	convs map[string]string
}

// Option configures a Server.
type Option func(*Server)

// WithResponder replaces EchoResponder.
func WithResponder(r Responder) Option {
	return func(s *Server) { s.responder = r }
}

// WithLogger sets the logger; nil means slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New returns a Server. Call Close to stop the rate limiter.
func New(cfg Config, opts ...Option) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = defaultRateWindow
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	s := &Server{
		cfg:       cfg,
		responder: EchoResponder{},
		convs:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.limiter = NewRateLimiter(cfg.RateLimit, cfg.RateWindow)
	s.failures.Store(int64(cfg.FailFirst))
	return s
}

// Close releases background resources.
func (s *Server) Close() {
	s.limiter.Close()
}

// Router returns the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	if s.cfg.AccessLog {
		r.Use(chiMiddleware.Logger)
	}
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(s.cfg.AllowedOrigins))
	r.Use(identity.Middleware)

	if s.cfg.UploadDir != "" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(s.cfg.UploadDir))))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuth(s.cfg.AuthToken))
		r.Post("/api/chat", s.handleChat)
		r.Get("/ws/chat", s.handleWebSocket)
		r.Post("/api/upload", s.handleUpload)
	})
	return r
}

// GRPCServer returns a server handling transport.StreamMethod.
func (s *Server) GRPCServer() *grpc.Server {
	return grpc.NewServer(
		grpc.UnknownServiceHandler(s.handleGRPC),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             time.Minute,
			PermitWithoutStream: true,
		}),
	)
}

// frame is one wire record of the reply stream.
type frame struct {
	Reply          string `json:"reply,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Status         string `json:"status,omitempty"`
	Code           int    `json:"code,omitempty"`
	Message        string `json:"message,omitempty"`
}

func encodeFrame(f frame) string {
	data, _ := json.Marshal(f)
	return string(data)
}

// turn resolves one request into the ordered stream payloads and the
// equivalent single-shot frame.
func (s *Server) turn(ctx context.Context, req transport.Request) ([]string, frame) {
	text, err := s.responder.Reply(ctx, req)
	if err != nil {
		s.logger.Warn("responder failed", "session_id", req.SessionID, "error", err)
		f := frame{Status: "error", Code: http.StatusInternalServerError, Message: err.Error()}
		return []string{encodeFrame(f)}, f
	}

	convID := s.conversationID(req)
	words := chunkWords(text)
	payloads := make([]string, 0, len(words)+1)
	for _, w := range words {
		payloads = append(payloads, encodeFrame(frame{Reply: w}))
	}
	payloads = append(payloads, encodeFrame(frame{ConversationID: convID}))

	s.logger.Info("reply prepared",
		"session_id", req.SessionID,
		"trace_id", req.TraceID,
		"frames", len(payloads),
		"image", req.ImageURL != "")
	return payloads, frame{Reply: text, ConversationID: convID}
}

func (s *Server) conversationID(req transport.Request) string {
	if req.ConversationID != "" {
		return req.ConversationID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.convs[req.SessionID]
	if !ok {
		id = "conv_" + uuid.NewString()
		s.convs[req.SessionID] = id
	}
	return id
}

// shouldFail consumes one of the configured forced failures.
func (s *Server) shouldFail() bool {
	for {
		n := s.failures.Load()
		if n <= 0 {
			return false
		}
		if s.failures.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

func (s *Server) pace(ctx context.Context) error {
	if s.cfg.FrameDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.cfg.FrameDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func parseRequest(data []byte, fallbackSession string) (transport.Request, error) {
	var req transport.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("%w: invalid request body", errBadRequest)
	}
	if strings.TrimSpace(req.Message) == "" && req.ImageURL == "" {
		return req, fmt.Errorf("%w: message is required", errBadRequest)
	}
	if req.SessionID == "" {
		req.SessionID = fallbackSession
	}
	return req, nil
}

// splitLine cuts a frame line in two at a rune boundary so clients see
// frames that straddle chunks.
func splitLine(line string) []string {
	mid := len(line) / 2
	for mid > 0 && !utf8.RuneStart(line[mid]) {
		mid--
	}
	if mid == 0 {
		return []string{line}
	}
	return []string{line[:mid], line[mid:]}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(identity.IPFromRequest(r)) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req, err := parseRequest(body, identity.SessionIDFromContext(r.Context()))
	if err != nil {
		Error(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), errBadRequest.Error()+": "))
		return
	}

	if s.shouldFail() {
		s.logger.Info("failing chat request on purpose", "session_id", req.SessionID)
		Error(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}

	payloads, single := s.turn(r.Context(), req)
	if r.URL.Query().Get("mode") == "json" {
		JSON(w, http.StatusOK, single)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for i, p := range payloads {
		event := "message"
		if i == len(payloads)-1 {
			event = "done"
		}
		if err := writeSSE(w, event, p); err != nil {
			s.logger.Warn("failed to write SSE frame", "session_id", req.SessionID, "error", err)
			return
		}
		flusher.Flush()
		if err := s.pace(r.Context()); err != nil {
			return
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(identity.IPFromRequest(r)) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		s.logger.Error("failed to accept WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	ctx := r.Context()
	_, data, err := conn.Read(ctx)
	if err != nil {
		s.logger.Debug("WebSocket closed before request", "error", err)
		return
	}
	req, err := parseRequest(data, identity.SessionIDFromContext(ctx))
	if err != nil {
		_ = conn.Close(websocket.StatusUnsupportedData, err.Error())
		return
	}
	if s.shouldFail() {
		s.logger.Info("failing chat request on purpose", "session_id", req.SessionID, "transport", "ws")
		_ = conn.Close(websocket.StatusInternalError, "temporarily unavailable")
		return
	}

	payloads, _ := s.turn(ctx, req)
	for _, p := range payloads {
		for _, part := range splitLine("data: " + p + "\n") {
			if err := conn.Write(ctx, websocket.MessageText, []byte(part)); err != nil {
				s.logger.Warn("failed to write WebSocket chunk", "session_id", req.SessionID, "error", err)
				return
			}
		}
		if err := s.pace(ctx); err != nil {
			return
		}
	}
	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		s.logger.Debug("failed to close WebSocket", "error", err)
	}
}

func (s *Server) handleGRPC(_ any, ss grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(ss)
	if method != transport.StreamMethod {
		return status.Errorf(codes.Unimplemented, "unknown method %s", method)
	}
	ctx := ss.Context()

	if s.cfg.AuthToken != "" {
		md, _ := metadata.FromIncomingContext(ctx)
		auth := md.Get("authorization")
		if len(auth) == 0 || auth[0] != "Bearer "+s.cfg.AuthToken {
			return status.Error(codes.Unauthenticated, "unauthorized")
		}
	}
	key := "grpc"
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		key = p.Addr.String()
		if host, _, err := net.SplitHostPort(key); err == nil {
			key = host
		}
	}
	if !s.limiter.Allow(key) {
		return status.Error(codes.ResourceExhausted, "rate limit exceeded")
	}

	in := &wrapperspb.BytesValue{}
	if err := ss.RecvMsg(in); err != nil {
		return err
	}
	req, err := parseRequest(in.GetValue(), domain.TempSessionID)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if s.shouldFail() {
		s.logger.Info("failing chat request on purpose", "session_id", req.SessionID, "transport", "grpc")
		return status.Error(codes.Unavailable, "temporarily unavailable")
	}

	payloads, _ := s.turn(ctx, req)
	for _, p := range payloads {
		for _, part := range splitLine("data: " + p + "\n") {
			if err := ss.SendMsg(wrapperspb.Bytes([]byte(part))); err != nil {
				return err
			}
		}
		if err := s.pace(ctx); err != nil {
			return status.FromContextError(err).Err()
		}
	}
	return nil
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.cfg.UploadDir == "" {
		Error(w, http.StatusNotImplemented, "uploads are disabled")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+(1<<20))

	file, hdr, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		Error(w, http.StatusBadRequest, "file is required")
		return
	}
	defer func() { _ = file.Close() }()

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		s.logger.Error("failed to create upload directory", "error", err)
		Error(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	tmp, err := os.CreateTemp(s.cfg.UploadDir, ".upload-*")
	if err != nil {
		s.logger.Error("failed to create upload file", "error", err)
		Error(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	n, copyErr := io.Copy(tmp, io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	closeErr := tmp.Close()
	discard := func() { _ = os.Remove(tmp.Name()) }
	if copyErr != nil || closeErr != nil {
		discard()
		Error(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	if n > s.cfg.MaxUploadBytes {
		discard()
		Error(w, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}

	mt, err := mimetype.DetectFile(tmp.Name())
	if err != nil || !strings.HasPrefix(mt.String(), "image/") {
		discard()
		Error(w, http.StatusUnsupportedMediaType, "only images can be uploaded")
		return
	}
	name := uuid.NewString() + mt.Extension()
	if err := os.Rename(tmp.Name(), filepath.Join(s.cfg.UploadDir, name)); err != nil {
		discard()
		s.logger.Error("failed to store upload", "error", err)
		Error(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	base := strings.TrimRight(s.cfg.PublicURL, "/")
	if base == "" {
		base = "http://" + r.Host
	}
	url := base + "/uploads/" + name
	s.logger.Info("upload stored",
		"session_id", identity.SessionIDFromContext(r.Context()),
		"filename", hdr.Filename,
		"size", humanize.IBytes(uint64(n)),
		"type", mt.String(),
		"url", url)
	JSON(w, http.StatusCreated, map[string]string{"url": url})
}

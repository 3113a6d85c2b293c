package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/ashureev/companion/internal/transport"
)

// DefaultProgressInterval throttles progress callbacks during an upload.
const DefaultProgressInterval = 100 * time.Millisecond

// Uploader transfers a local asset and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, uri string, onProgress func(pct int)) (string, error)
}

// HTTPUploader posts the asset as multipart/form-data field "file" and expects
// {"url": "..."} (or {"data": {"url": "..."}}) in response.
type HTTPUploader struct {
	endpoint string
	client   *http.Client
	tokens   transport.TokenSource
	interval time.Duration
	logger   *slog.Logger
}

// NewHTTPUploader returns an uploader posting to endpoint.
func NewHTTPUploader(endpoint string, client *http.Client, tokens transport.TokenSource, logger *slog.Logger) *HTTPUploader {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPUploader{
		endpoint: endpoint,
		client:   client,
		tokens:   tokens,
		interval: DefaultProgressInterval,
		logger:   logger,
	}
}

type uploadResponse struct {
	URL  string `json:"url"`
	Data struct {
		URL string `json:"url"`
	} `json:"data"`
}

// Upload implements Uploader. onProgress may be nil.
func (u *HTTPUploader) Upload(ctx context.Context, uri string, onProgress func(pct int)) (string, error) {
	if u.tokens == nil {
		return "", transport.ErrMissingCredential
	}
	tok, err := u.tokens.Token(ctx)
	if err != nil {
		if errors.Is(err, transport.ErrUnauthorized) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", transport.ErrUnauthorized, err)
	}

	path := LocalPath(uri)
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open upload asset: %w", err)
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat upload asset: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	progress := newProgress(info.Size(), u.interval, onProgress)

	done := make(chan struct{})
	go func() {
		defer close(done)
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, io.TeeReader(f, progress)); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.CloseWithError(mw.Close())
	}()
	// The writer goroutine must be gone before returning so no progress
	// callback lands after the caller has moved on.
	stop := sync.OnceFunc(func() {
		_ = pr.CloseWithError(io.ErrClosedPipe)
		<-done
	})
	defer stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, pr)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+tok)

	start := time.Now()
	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		se := &transport.StatusError{Code: resp.StatusCode, Body: string(data)}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return "", fmt.Errorf("%w: %w", transport.ErrUnauthorized, se)
		}
		return "", fmt.Errorf("upload image: %w", se)
	}

	var body uploadResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	url := body.URL
	if url == "" {
		url = body.Data.URL
	}
	if url == "" {
		return "", errors.New("upload response has no url")
	}

	stop()
	progress.finish()
	u.logger.Info("image uploaded",
		"size", humanize.IBytes(uint64(info.Size())),
		"elapsed", time.Since(start).Round(time.Millisecond),
		"url", url)
	return url, nil
}

// progress converts written bytes into throttled percentage callbacks.
type progress struct {
	total    int64
	written  int64
	last     int
	throttle rate.Sometimes
	report   func(int)
}

func newProgress(total int64, interval time.Duration, report func(int)) *progress {
	return &progress{total: total, last: -1, throttle: rate.Sometimes{Interval: interval}, report: report}
}

func (p *progress) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.report == nil || p.total <= 0 {
		return len(b), nil
	}
	pct := int(p.written * 100 / p.total)
	if pct >= 100 {
		// 100 is reported only once the server has accepted the upload.
		pct = 99
	}
	p.throttle.Do(func() { p.emit(pct) })
	return len(b), nil
}

func (p *progress) emit(pct int) {
	if pct > p.last {
		p.last = pct
		p.report(pct)
	}
}

func (p *progress) finish() {
	if p.report != nil {
		p.emit(100)
	}
}

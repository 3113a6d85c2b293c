// Local companion backend for development.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/companion/internal/config"
	"github.com/ashureev/companion/internal/devserver"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))
	slog.SetDefault(logger)

	origins := []string{"*"}
	if !cfg.IsDevelopment() {
		origins = []string{cfg.Dev.FrontendURL}
	}
	ds := devserver.New(devserver.Config{
		AuthToken:      cfg.AuthToken,
		UploadDir:      cfg.Dev.UploadDir,
		PublicURL:      cfg.Dev.PublicURL,
		MaxUploadBytes: cfg.Media.MaxBytes,
		FailFirst:      cfg.Dev.FailFirst,
		RateLimit:      cfg.Dev.RateLimit,
		FrameDelay:     40 * time.Millisecond,
		AllowedOrigins: origins,
		AccessLog:      true,
	}, devserver.WithLogger(logger))
	defer ds.Close()

	slog.Info("Starting dev server",
		"port", cfg.Dev.Port,
		"grpc_port", cfg.Dev.GRPCPort,
		"fail_first", cfg.Dev.FailFirst,
		"dev", cfg.IsDevelopment())

	// SSE replies stream for as long as the client reads, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Dev.Port,
		Handler:      ds.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	gs := ds.GRPCServer()

	lis, err := net.Listen("tcp", ":"+cfg.Dev.GRPCPort)
	if err != nil {
		slog.Error("Failed to listen for gRPC", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("HTTP listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("gRPC listening", "addr", lis.Addr().String())
		return gs.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		gs.GracefulStop()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	chiTransport "github.com/kailas-cloud/bmae/internal/transport/chi"
	"github.com/kailas-cloud/bmae/internal/usecase/conversation"
	"github.com/kailas-cloud/bmae/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat and admin HTTP server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	s, err := open(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	cfg, logger := s.cfg, s.logger
	logger.Info("Starting bmae API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("collection", cfg.Embedding.Collection),
		zap.String("chunk_dir", cfg.ChunkStore.Dir),
		zap.String("vector_dir", cfg.VectorStore.Dir),
	)
	if cfg.Auth.AdminPassword == "" {
		logger.Warn("Admin password is not set, admin routes are disabled")
	}

	if cfg.ChunkStore.Watch {
		if err := s.rt.WatchChunks(ctx); err != nil {
			logger.Warn("Chunk store watcher not started", zap.Error(err))
		}
	}

	if ttl := cfg.Session.IdleTTL(); ttl > 0 {
		go evictIdleSessions(ctx, s.rt.Sessions, ttl, logger)
	}

	server := chiTransport.NewServer(s.rt.Assistant, s.rt.Sessions, s.rt, s.rt.Health, chiTransport.Options{
		AdminPassword:  cfg.Auth.AdminPassword,
		MaxUploadBytes: cfg.HTTP.MaxUploadMB << 20,
	}, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		ReadTimeout:       time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
	return nil
}

func evictIdleSessions(ctx context.Context, sessions *conversation.Manager, ttl time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(min(ttl, time.Minute))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Evict(ttl); n > 0 {
				logger.Info("Idle sessions evicted", zap.Int("count", n), zap.Int("live", sessions.Len()))
			}
		}
	}
}

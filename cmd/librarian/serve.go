package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hyperengineering/librarian/internal/api"
	"github.com/hyperengineering/librarian/internal/index"
	"github.com/hyperengineering/librarian/internal/worker"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(cmd.Context(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Collaborators (configuration and logger are loaded by the root command)
	a := newApp(cfg)
	defer a.Close()

	svc, synth, err := a.services()
	if err != nil {
		return err
	}
	slog.Info("services initialized",
		"chat_model", cfg.OpenAI.ChatModel,
		"embedding_model", a.embedder.ModelName(),
		"moderation", cfg.ModerationMode(),
	)

	// 3. Report index state; serving without an index is allowed so health
	// can answer while ingest runs elsewhere.
	if info, err := a.idx.Info(ctx, cfg.Index.Collection); err != nil {
		if !errors.Is(err, index.ErrCollectionNotFound) {
			return err
		}
		slog.Warn("index collection missing, run 'librarian ingest'",
			"collection", cfg.Index.Collection,
			"path", cfg.Index.Path,
		)
	} else {
		slog.Info("index loaded",
			"collection", info.Collection,
			"generation", info.Generation,
			"documents", info.Count,
		)
	}

	// 4. HTTP router
	handler := api.NewHandler(svc, api.Info{
		Version:        Version,
		ChatModel:      cfg.OpenAI.ChatModel,
		EmbeddingModel: a.embedder.ModelName(),
		Collection:     cfg.Index.Collection,
	}, cfg.Auth.APIKey)
	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	router := api.NewRouter(handler, limiter)
	if cfg.Auth.APIKey == "" {
		slog.Warn("LIBRARIAN_API_KEY not set, API is unauthenticated")
	}

	// 5. HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 6. Workers
	var wg sync.WaitGroup
	if ttl := time.Duration(cfg.Speech.CacheTTL); ttl > 0 {
		pruner := worker.NewAudioCacheWorker(synth, ttl, time.Duration(cfg.Speech.PruneInterval))
		startWorker(ctx, &wg, "audio-cache", pruner.Run)
	}

	// 7. Serve until signalled
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 8. Graceful shutdown: server, then workers, then index
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	wg.Wait()
	a.Close()

	slog.Info("shutdown complete")
	return nil
}

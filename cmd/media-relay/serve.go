package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/media-relay/internal/logging"
	"github.com/fpang/media-relay/internal/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive updates on an HTTP webhook",
	Long: `Serve listens for Telegram webhook deliveries. With --webhook-url the
webhook is registered on start-up; otherwise it must already point here.`,
	Run: runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	logging.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, "webhook")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start relay")
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.WebhookPath, webhook.NewHandler(cfg.WebhookSecret, a.dispatcher))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         cfg.WebhookAddr,
		Handler:      withLogging(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.WebhookURL != "" {
		if err := a.client.RegisterWebhook(ctx, cfg.WebhookURL, cfg.WebhookSecret); err != nil {
			log.Fatal().Err(err).Msg("Failed to register webhook")
		}
	}

	// Graceful shutdown
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	a.startup.Path("listen", cfg.WebhookAddr).Config("webhookPath", cfg.WebhookPath).Log()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
	<-drained
	a.shutdown()
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

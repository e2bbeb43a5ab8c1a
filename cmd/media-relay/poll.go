package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/media-relay/internal/bot"
	"github.com/fpang/media-relay/internal/logging"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Receive updates with getUpdates long polling",
	Run:   runPoll,
}

func runPoll(cmd *cobra.Command, args []string) {
	logging.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, "polling")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start relay")
	}

	// getUpdates is refused while a webhook is registered.
	if err := a.client.ClearWebhook(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to clear webhook")
	}

	a.startup.Log()
	if err := bot.Poll(ctx, a.client.API(), a.dispatcher); err != nil {
		log.Error().Err(err).Msg("Polling stopped")
	}
	a.shutdown()
}

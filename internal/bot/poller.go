package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// pollTimeout is the getUpdates long-poll timeout in seconds.
const pollTimeout = 60

// UpdateSource is the long-polling half of tgbotapi.BotAPI.
type UpdateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Poll receives updates until ctx is canceled or the source closes its
// channel, handing each one to d.
func Poll(ctx context.Context, src UpdateSource, d *Dispatcher) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = pollTimeout
	cfg.AllowedUpdates = []string{"message", "channel_post"}

	updates := src.GetUpdatesChan(cfg)
	log.Info().Int("timeout", pollTimeout).Msg("Polling for updates")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stopping update polling")
			src.StopReceivingUpdates()
			return nil
		case u, ok := <-updates:
			if !ok {
				log.Warn().Msg("Update channel closed")
				return nil
			}
			d.HandleUpdate(ctx, u)
		}
	}
}

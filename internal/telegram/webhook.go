package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// relayedUpdates are the update types the relay consumes.
var relayedUpdates = []string{"message", "channel_post"}

// RegisterWebhook points the bot at url. Telegram echoes secret back in the
// X-Telegram-Bot-Api-Secret-Token header of every delivery.
//
// tgbotapi's WebhookConfig has no secret_token field, so the call is built
// by hand.
func (c *Client) RegisterWebhook(ctx context.Context, url, secret string) error {
	params := tgbotapi.Params{"url": url}
	params.AddNonEmpty("secret_token", secret)
	if err := params.AddInterface("allowed_updates", relayedUpdates); err != nil {
		return fmt.Errorf("encode allowed updates: %w", err)
	}

	if _, err := call(ctx, func() (*tgbotapi.APIResponse, error) {
		return c.api.MakeRequest("setWebhook", params)
	}); err != nil {
		return fmt.Errorf("setWebhook: %w", err)
	}
	log.Info().Str("url", url).Bool("secret", secret != "").Msg("Webhook registered")
	return nil
}

// ClearWebhook removes any registered webhook so getUpdates can be used.
// Pending updates are kept.
func (c *Client) ClearWebhook(ctx context.Context) error {
	if _, err := call(ctx, func() (*tgbotapi.APIResponse, error) {
		return c.api.Request(tgbotapi.DeleteWebhookConfig{})
	}); err != nil {
		return fmt.Errorf("deleteWebhook: %w", err)
	}
	log.Debug().Msg("Webhook cleared")
	return nil
}

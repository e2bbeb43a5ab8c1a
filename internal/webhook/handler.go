// Package webhook provides the HTTP handler Telegram calls when the bot runs
// in webhook mode.
//
// Telegram POSTs one JSON-encoded Update per request and sends the secret
// given to setWebhook in the X-Telegram-Bot-Api-Secret-Token header. The
// handler checks the secret, decodes the update, hands it to the dispatcher
// and answers 200 right away. Any non-2xx answer makes Telegram redeliver
// the update, so undecodable bodies are logged and acknowledged.
//
// Reference: https://core.telegram.org/bots/api#setwebhook
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// SecretHeader carries the webhook secret on every Telegram request.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// maxBodySize is the maximum allowed request body size (1 MB). A single
// update is a few kilobytes.
const maxBodySize = 1 << 20

// UpdateHandler consumes decoded updates. Implemented by bot.Dispatcher.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, u tgbotapi.Update)
}

// Handler receives Telegram webhook calls.
type Handler struct {
	secret   string
	dispatch UpdateHandler
}

// NewHandler creates a webhook handler. An empty secret disables the header
// check; only use that behind another authenticating proxy.
func NewHandler(secret string, dispatch UpdateHandler) *Handler {
	if secret == "" {
		log.Warn().Msg("Webhook secret not set, requests are not authenticated")
	}
	return &Handler{
		secret:   secret,
		dispatch: dispatch,
	}
}

// ServeHTTP accepts POSTed updates only.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.verifySecret(r.Header.Get(SecretHeader)) {
		log.Warn().Str("remoteAddr", r.RemoteAddr).Msg("Webhook update: invalid secret token")
		http.Error(w, "invalid secret token", http.StatusForbidden)
		return
	}

	// Read one byte past the limit to detect oversized bodies.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		log.Error().Err(err).Msg("Webhook update: failed to read body")
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if len(body) > maxBodySize {
		log.Warn().Int("limit", maxBodySize).Msg("Webhook update: body too large")
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}
	if len(body) == 0 {
		log.Warn().Msg("Webhook update: empty body")
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}

	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		log.Error().Err(err).Int("bodySize", len(body)).Msg("Webhook update: undecodable body acknowledged")
		w.WriteHeader(http.StatusOK)
		return
	}

	log.Debug().Int("updateId", update.UpdateID).Int("bodySize", len(body)).Msg("Webhook update received")
	h.dispatch.HandleUpdate(context.WithoutCancel(r.Context()), update)
	w.WriteHeader(http.StatusOK)
}

// verifySecret compares the header with the configured secret in constant time.
func (h *Handler) verifySecret(header string) bool {
	if h.secret == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(header), []byte(h.secret)) == 1
}

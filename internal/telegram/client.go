// Package telegram is the relay's Bot API client. It resolves file handles
// to download URLs, delivers items to the target chat, and answers back in
// the originating conversation.
//
// All calls go through go-telegram-bot-api. The client requires a bot token
// and a target chat, typically loaded at start-up from flags, files or SSM
// Parameter Store.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-relay/internal/fetch"
)

// defaultTimeout is the HTTP client timeout for API calls, uploads included.
const defaultTimeout = 2 * time.Minute

// Target is the chat every relayed item is delivered to. Exactly one of
// ChatID and Username is set.
type Target struct {
	ChatID   int64
	Username string // public channel, including the leading @
}

// ParseTarget accepts a numeric chat id ("-1001234567890") or a public
// channel username ("@mychannel").
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Target{}, errors.New("target chat is empty")
	}
	if strings.HasPrefix(s, "@") {
		if len(s) == 1 {
			return Target{}, fmt.Errorf("invalid channel username %q", s)
		}
		return Target{Username: s}, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Target{}, fmt.Errorf("target chat %q is neither a chat id nor an @username", s)
	}
	return Target{ChatID: id}, nil
}

func (t Target) String() string {
	if t.Username != "" {
		return t.Username
	}
	return strconv.FormatInt(t.ChatID, 10)
}

// Options tunes the client. Empty endpoints select the public Bot API.
type Options struct {
	APIEndpoint  string // format string with token and method, e.g. tgbotapi.APIEndpoint
	FileEndpoint string // format string with token and file path
	HTTPClient   *http.Client
}

// Client wraps a tgbotapi.BotAPI bound to one target chat.
type Client struct {
	api          *tgbotapi.BotAPI
	target       Target
	fileEndpoint string
}

// New creates a Client and validates the token with getMe.
func New(token string, target Target, opts Options) (*Client, error) {
	if opts.APIEndpoint == "" {
		opts.APIEndpoint = tgbotapi.APIEndpoint
	}
	if opts.FileEndpoint == "" {
		opts.FileEndpoint = tgbotapi.FileEndpoint
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}

	api, err := tgbotapi.NewBotAPIWithClient(token, opts.APIEndpoint, opts.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("connect to bot api: %w", err)
	}
	log.Info().Str("bot", api.Self.UserName).Str("target", target.String()).Msg("Bot API client ready")

	return &Client{
		api:          api,
		target:       target,
		fileEndpoint: opts.FileEndpoint,
	}, nil
}

// API exposes the underlying client for update polling.
func (c *Client) API() *tgbotapi.BotAPI {
	return c.api
}

// BotName is the bot's @username without the @.
func (c *Client) BotName() string {
	return c.api.Self.UserName
}

// FileURL resolves a file handle into a download URL via getFile.
// "file is too big" errors are reported as fetch.ErrSizeExceeded.
func (c *Client) FileURL(ctx context.Context, fileID string) (string, error) {
	file, err := call(ctx, func() (tgbotapi.File, error) {
		return c.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	})
	if err != nil {
		if isTooBig(err) {
			return "", fmt.Errorf("getFile %s: %w", fileID, fetch.ErrSizeExceeded)
		}
		return "", fmt.Errorf("getFile %s: %w", fileID, err)
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("getFile %s: empty file path", fileID)
	}
	return fmt.Sprintf(c.fileEndpoint, c.api.Token, file.FilePath), nil
}

// isTooBig matches the Bot API error for files above the download ceiling.
func isTooBig(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return strings.Contains(strings.ToLower(apiErr.Message), "file is too big")
	}
	return strings.Contains(strings.ToLower(err.Error()), "file is too big")
}

// call runs a blocking Bot API request and gives up when ctx ends first.
// tgbotapi has no context support; the abandoned request is still bounded by
// the HTTP client timeout.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

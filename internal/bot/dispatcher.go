// Package bot routes inbound Telegram updates to the relay engine. The same
// Dispatcher serves long polling and the webhook.
package bot

import (
	"context"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-relay/internal/media"
)

// CommandChatID replies with the conversation's chat id.
const CommandChatID = "get_chat_id"

const replyTimeout = 15 * time.Second

// Registrar accepts resolved media items. Implemented by relay.Engine.
type Registrar interface {
	RegisterItem(it media.Item)
}

// Responder answers bot commands. Implemented by telegram.Client.
type Responder interface {
	SendChatID(ctx context.Context, chatID int64, messageID int) error
}

// Dispatcher turns updates into engine registrations and command replies.
// HandleUpdate never blocks on the network.
type Dispatcher struct {
	engine    Registrar
	responder Responder
	botName   string

	replies sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. botName is the bot's username, used to
// ignore commands addressed to other bots in group chats.
func NewDispatcher(engine Registrar, responder Responder, botName string) *Dispatcher {
	return &Dispatcher{engine: engine, responder: responder, botName: botName}
}

// HandleUpdate processes one update. Messages and channel posts are handled
// alike; everything else is ignored.
func (d *Dispatcher) HandleUpdate(ctx context.Context, u tgbotapi.Update) {
	msg := u.Message
	if msg == nil {
		msg = u.ChannelPost
	}
	if msg == nil || msg.Chat == nil {
		return
	}

	if msg.IsCommand() {
		d.handleCommand(ctx, msg)
		return
	}

	it, ok := media.Resolve(msg)
	if !ok {
		log.Debug().Int64("chatId", msg.Chat.ID).Int("messageId", msg.MessageID).Msg("Message without media ignored")
		return
	}
	d.engine.RegisterItem(it)
}

func (d *Dispatcher) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	if at := strings.Index(msg.CommandWithAt(), "@"); at >= 0 {
		target := msg.CommandWithAt()[at+1:]
		if d.botName != "" && !strings.EqualFold(target, d.botName) {
			return
		}
	}

	switch msg.Command() {
	case CommandChatID:
		chatID, messageID := msg.Chat.ID, msg.MessageID
		d.replies.Add(1)
		go func() {
			defer d.replies.Done()
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), replyTimeout)
			defer cancel()
			if err := d.responder.SendChatID(ctx, chatID, messageID); err != nil {
				log.Warn().Err(err).Int64("chatId", chatID).Msg("Failed to answer chat id command")
			}
		}()
	default:
		log.Debug().Str("command", msg.Command()).Int64("chatId", msg.Chat.ID).Msg("Unknown command ignored")
	}
}

// Wait blocks until pending command replies are sent.
func (d *Dispatcher) Wait() {
	d.replies.Wait()
}

package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/fpang/media-relay/internal/media"
	"github.com/fpang/media-relay/internal/relay"
)

var _ relay.Notifier = (*Client)(nil)

// NotifyDuplicate tells the sender the item was already posted, linking the
// earlier copy when the target chat supports message links.
func (c *Client) NotifyDuplicate(ctx context.Context, origin media.Item, priorRef int) error {
	text := "This file was already posted."
	if link := c.messageLink(priorRef); link != "" {
		text = fmt.Sprintf("This file was already posted: %s", link)
	}
	return c.reply(ctx, origin, text, "")
}

// NotifyDuplicateBatch reports how many items of an album were skipped.
func (c *Client) NotifyDuplicateBatch(ctx context.Context, origin media.Item, count int) error {
	return c.reply(ctx, origin, fmt.Sprintf("%d files were already posted and were skipped.", count), "")
}

// NotifyError replies to the originating message with msg.
func (c *Client) NotifyError(ctx context.Context, origin media.Item, msg string) error {
	return c.reply(ctx, origin, msg, "")
}

// SendChatID answers the chat-id command with the conversation's id.
func (c *Client) SendChatID(ctx context.Context, chatID int64, messageID int) error {
	origin := media.Item{ChatID: chatID, MessageID: messageID}
	return c.reply(ctx, origin, fmt.Sprintf("Chat ID: `%d`", chatID), tgbotapi.ModeMarkdown)
}

func (c *Client) reply(ctx context.Context, origin media.Item, text, parseMode string) error {
	msg := tgbotapi.NewMessage(origin.ChatID, text)
	msg.ReplyToMessageID = origin.MessageID
	msg.AllowSendingWithoutReply = true
	msg.ParseMode = parseMode

	_, err := call(ctx, func() (tgbotapi.Message, error) {
		return c.api.Send(msg)
	})
	if err != nil {
		return fmt.Errorf("reply to chat %d: %w", origin.ChatID, err)
	}
	return nil
}

// messageLink builds a t.me link to a message in the target chat. Private
// chats and groups without a supergroup id have no link.
func (c *Client) messageLink(ref int) string {
	if ref <= 0 {
		return ""
	}
	if c.target.Username != "" {
		return fmt.Sprintf("https://t.me/%s/%d", strings.TrimPrefix(c.target.Username, "@"), ref)
	}
	id := strconv.FormatInt(c.target.ChatID, 10)
	if !strings.HasPrefix(id, "-100") {
		return ""
	}
	return fmt.Sprintf("https://t.me/c/%s/%d", strings.TrimPrefix(id, "-100"), ref)
}

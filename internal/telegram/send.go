package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-relay/internal/media"
	"github.com/fpang/media-relay/internal/relay"
)

// maxGroupItems is the sendMediaGroup size limit.
const maxGroupItems = 10

var _ relay.Sender = (*Client)(nil)

// SendSingle delivers one item with the kind-appropriate send method and
// returns the message id in the target chat.
func (c *Client) SendSingle(ctx context.Context, out relay.Outgoing) (int, error) {
	cfg, err := c.singleConfig(out)
	if err != nil {
		return 0, err
	}

	msg, err := call(ctx, func() (tgbotapi.Message, error) {
		return c.api.Send(cfg)
	})
	if err != nil {
		return 0, fmt.Errorf("send %s: %w", out.Item.Kind, err)
	}

	log.Debug().
		Str("kind", string(out.Item.Kind)).
		Bool("byReference", out.ByReference()).
		Int("ref", msg.MessageID).
		Msg("Item delivered")
	return msg.MessageID, nil
}

// SendGroup delivers items as an album and returns one message id per item,
// in order. Telegram only groups photos with videos, documents with
// documents, and audio with audio, at most ten at a time, so the items are
// split into compatible runs; a run of one falls back to SendSingle.
func (c *Client) SendGroup(ctx context.Context, outs []relay.Outgoing) ([]int, error) {
	refs := make([]int, 0, len(outs))
	for _, batch := range planBatches(outs) {
		if len(batch) == 1 {
			ref, err := c.SendSingle(ctx, batch[0])
			if err != nil {
				return nil, err
			}
			refs = append(refs, ref)
			continue
		}

		inputs := make([]interface{}, len(batch))
		for i, out := range batch {
			inputs[i] = inputMedia(out)
		}
		cfg := tgbotapi.NewMediaGroup(c.target.ChatID, inputs)
		cfg.ChannelUsername = c.target.Username

		msgs, err := call(ctx, func() ([]tgbotapi.Message, error) {
			return c.api.SendMediaGroup(cfg)
		})
		if err != nil {
			return nil, fmt.Errorf("send media group of %d: %w", len(batch), err)
		}
		if len(msgs) != len(batch) {
			return nil, fmt.Errorf("send media group: expected %d messages, got %d", len(batch), len(msgs))
		}
		for _, m := range msgs {
			refs = append(refs, m.MessageID)
		}
	}

	log.Debug().Int("items", len(outs)).Ints("refs", refs).Msg("Album delivered")
	return refs, nil
}

// requestFile uploads bytes when present, otherwise reuses the file handle.
func requestFile(out relay.Outgoing) tgbotapi.RequestFileData {
	if out.ByReference() {
		return tgbotapi.FileID(out.Item.FileID)
	}
	return tgbotapi.FileBytes{Name: out.Item.UploadName(), Bytes: out.Data}
}

func (c *Client) singleConfig(out relay.Outgoing) (tgbotapi.Chattable, error) {
	file := requestFile(out)
	chatID, username := c.target.ChatID, c.target.Username

	switch out.Item.Kind {
	case media.KindPhoto:
		cfg := tgbotapi.NewPhoto(chatID, file)
		cfg.ChannelUsername = username
		return cfg, nil
	case media.KindVideo:
		cfg := tgbotapi.NewVideo(chatID, file)
		cfg.ChannelUsername = username
		return cfg, nil
	case media.KindAnimation:
		cfg := tgbotapi.NewAnimation(chatID, file)
		cfg.ChannelUsername = username
		return cfg, nil
	case media.KindDocument:
		cfg := tgbotapi.NewDocument(chatID, file)
		cfg.ChannelUsername = username
		return cfg, nil
	case media.KindAudio:
		cfg := tgbotapi.NewAudio(chatID, file)
		cfg.ChannelUsername = username
		return cfg, nil
	default:
		return nil, fmt.Errorf("unsupported media kind %q", out.Item.Kind)
	}
}

func inputMedia(out relay.Outgoing) interface{} {
	file := requestFile(out)
	switch out.Item.Kind {
	case media.KindVideo:
		return tgbotapi.NewInputMediaVideo(file)
	case media.KindDocument:
		return tgbotapi.NewInputMediaDocument(file)
	case media.KindAudio:
		return tgbotapi.NewInputMediaAudio(file)
	default:
		return tgbotapi.NewInputMediaPhoto(file)
	}
}

// groupClass returns which items may share an album. Animations cannot be
// sent in a media group at all.
func groupClass(k media.Kind) string {
	switch k {
	case media.KindPhoto, media.KindVideo:
		return "visual"
	case media.KindDocument:
		return "document"
	case media.KindAudio:
		return "audio"
	default:
		return ""
	}
}

// planBatches splits items into consecutive runs that Telegram accepts as
// one media group. Order is preserved.
func planBatches(outs []relay.Outgoing) [][]relay.Outgoing {
	var batches [][]relay.Outgoing
	var cur []relay.Outgoing
	curClass := ""

	for _, out := range outs {
		class := groupClass(out.Item.Kind)
		if len(cur) > 0 && (class == "" || class != curClass || len(cur) == maxGroupItems) {
			batches = append(batches, cur)
			cur = nil
		}
		cur = append(cur, out)
		curClass = class
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

package media

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Resolve extracts the media descriptor from msg. Kinds are checked in a
// fixed priority order (photo, video, animation, document, audio) and the
// first match wins. ok is false when the message carries no supported media.
func Resolve(msg *tgbotapi.Message) (Item, bool) {
	if msg == nil {
		return Item{}, false
	}

	it := Item{
		MessageID: msg.MessageID,
		AlbumID:   msg.MediaGroupID,
	}
	if msg.Chat != nil {
		it.ChatID = msg.Chat.ID
	}

	switch {
	case len(msg.Photo) > 0:
		p := largestPhoto(msg.Photo)
		it.Kind = KindPhoto
		it.FileID = p.FileID
		it.UniqueID = p.FileUniqueID
		it.Size = int64(p.FileSize)
	case msg.Video != nil:
		it.Kind = KindVideo
		it.FileID = msg.Video.FileID
		it.UniqueID = msg.Video.FileUniqueID
		it.FileName = msg.Video.FileName
		it.MimeType = msg.Video.MimeType
		it.Size = int64(msg.Video.FileSize)
	case msg.Animation != nil:
		// Telegram also sets Document on animations; the animation wins.
		it.Kind = KindAnimation
		it.FileID = msg.Animation.FileID
		it.UniqueID = msg.Animation.FileUniqueID
		it.FileName = msg.Animation.FileName
		it.MimeType = msg.Animation.MimeType
		it.Size = int64(msg.Animation.FileSize)
	case msg.Document != nil:
		it.Kind = KindDocument
		it.FileID = msg.Document.FileID
		it.UniqueID = msg.Document.FileUniqueID
		it.FileName = msg.Document.FileName
		it.MimeType = msg.Document.MimeType
		it.Size = int64(msg.Document.FileSize)
	case msg.Audio != nil:
		it.Kind = KindAudio
		it.FileID = msg.Audio.FileID
		it.UniqueID = msg.Audio.FileUniqueID
		it.FileName = msg.Audio.FileName
		it.MimeType = msg.Audio.MimeType
		it.Size = int64(msg.Audio.FileSize)
	default:
		return Item{}, false
	}

	if it.FileID == "" {
		return Item{}, false
	}
	return it, true
}

// largestPhoto picks the highest-resolution size. Telegram lists sizes in
// ascending order, so ties resolve to the later entry.
func largestPhoto(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := sizes[0]
	for _, s := range sizes[1:] {
		if s.Width*s.Height >= best.Width*best.Height {
			best = s
		}
	}
	return best
}

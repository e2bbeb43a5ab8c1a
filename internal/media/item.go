// Package media turns heterogeneous inbound Telegram messages into one
// canonical descriptor per media item.
package media

import "strconv"

// Kind is the single media kind carried by a message.
type Kind string

const (
	KindPhoto     Kind = "photo"
	KindVideo     Kind = "video"
	KindAnimation Kind = "animation"
	KindDocument  Kind = "document"
	KindAudio     Kind = "audio"
)

// defaultNames are used when re-uploading bytes that arrived without a file name.
var defaultNames = map[Kind]string{
	KindPhoto:     "photo.jpg",
	KindVideo:     "video.mp4",
	KindAnimation: "animation.mp4",
	KindDocument:  "document",
	KindAudio:     "audio.mp3",
}

// Item describes one inbound media message.
type Item struct {
	ChatID    int64  // originating conversation
	MessageID int    // arrival ordinal within the chat, used as the sort key
	AlbumID   string // media group id; empty for a standalone item
	Kind      Kind
	FileID    string // handle used for downloading and forwarding by reference
	UniqueID  string // stable across bots; preferred dedup key
	FileName  string
	MimeType  string
	Size      int64 // declared size, 0 when unknown
}

// DedupKey is the source file identifier used for handle-based dedup.
func (it Item) DedupKey() string {
	if it.UniqueID != "" {
		return it.UniqueID
	}
	return it.FileID
}

// UploadName is the file name used when the item is re-uploaded from bytes.
// Documents keep their original name.
func (it Item) UploadName() string {
	if it.FileName != "" {
		return it.FileName
	}
	if n, ok := defaultNames[it.Kind]; ok {
		return n
	}
	return "file"
}

// Standalone reports whether the item arrived outside of an album.
func (it Item) Standalone() bool {
	return it.AlbumID == ""
}

// GroupKey is the key the aggregation engine files the item under. Albums
// share their media group id; standalone items get a key of their own.
func (it Item) GroupKey() string {
	if it.AlbumID != "" {
		return it.AlbumID
	}
	return "single:" + strconv.FormatInt(it.ChatID, 10) + ":" + strconv.Itoa(it.MessageID)
}

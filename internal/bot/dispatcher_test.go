package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/fpang/media-relay/internal/media"
)

type fakeEngine struct {
	mu    sync.Mutex
	items []media.Item
}

func (e *fakeEngine) RegisterItem(it media.Item) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.items = append(e.items, it)
}

func (e *fakeEngine) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.items)
}

type chatIDReply struct {
	chatID    int64
	messageID int
}

type fakeResponder struct {
	replies chan chatIDReply
}

func (r *fakeResponder) SendChatID(_ context.Context, chatID int64, messageID int) error {
	r.replies <- chatIDReply{chatID, messageID}
	return nil
}

func newDispatcher() (*Dispatcher, *fakeEngine, *fakeResponder) {
	engine := &fakeEngine{}
	responder := &fakeResponder{replies: make(chan chatIDReply, 4)}
	return NewDispatcher(engine, responder, "relay_bot"), engine, responder
}

func command(text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 11,
		Chat:      &tgbotapi.Chat{ID: -42},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
	}
}

func TestHandleUpdate_MediaRegistered(t *testing.T) {
	d, engine, _ := newDispatcher()

	msg := &tgbotapi.Message{
		MessageID:    5,
		Chat:         &tgbotapi.Chat{ID: -42},
		MediaGroupID: "G1",
		Photo:        []tgbotapi.PhotoSize{{FileID: "p", FileUniqueID: "up", Width: 10, Height: 10}},
	}
	d.HandleUpdate(context.Background(), tgbotapi.Update{Message: msg})

	if engine.count() != 1 {
		t.Fatalf("expected one registration, got %d", engine.count())
	}
	if it := engine.items[0]; it.AlbumID != "G1" || it.FileID != "p" {
		t.Errorf("unexpected item %+v", it)
	}
}

func TestHandleUpdate_ChannelPost(t *testing.T) {
	d, engine, _ := newDispatcher()

	post := &tgbotapi.Message{
		MessageID: 6,
		Chat:      &tgbotapi.Chat{ID: -100},
		Document:  &tgbotapi.Document{FileID: "d", FileUniqueID: "ud", FileName: "a.zip"},
	}
	d.HandleUpdate(context.Background(), tgbotapi.Update{ChannelPost: post})

	if engine.count() != 1 {
		t.Fatalf("expected channel post to register, got %d", engine.count())
	}
}

func TestHandleUpdate_IgnoresTextAndEmpty(t *testing.T) {
	d, engine, _ := newDispatcher()

	d.HandleUpdate(context.Background(), tgbotapi.Update{})
	d.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}, Text: "hello"}})

	if engine.count() != 0 {
		t.Errorf("expected no registrations, got %d", engine.count())
	}
}

func TestHandleUpdate_ChatIDCommand(t *testing.T) {
	d, engine, responder := newDispatcher()

	d.HandleUpdate(context.Background(), tgbotapi.Update{Message: command("/get_chat_id")})
	d.Wait()

	select {
	case got := <-responder.replies:
		if got.chatID != -42 || got.messageID != 11 {
			t.Errorf("unexpected reply target %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a chat id reply")
	}
	if engine.count() != 0 {
		t.Error("commands must not reach the engine")
	}
}

func TestHandleUpdate_CommandForOtherBot(t *testing.T) {
	d, _, responder := newDispatcher()

	d.HandleUpdate(context.Background(), tgbotapi.Update{Message: command("/get_chat_id@other_bot")})
	d.HandleUpdate(context.Background(), tgbotapi.Update{Message: command("/get_chat_id@Relay_Bot")})
	d.Wait()

	if n := len(responder.replies); n != 1 {
		t.Errorf("expected only the command addressed to this bot to be answered, got %d replies", n)
	}
}

// fakeSource feeds a fixed channel of updates.
type fakeSource struct {
	ch      chan tgbotapi.Update
	stopped chan struct{}
}

func (s *fakeSource) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return s.ch
}

func (s *fakeSource) StopReceivingUpdates() {
	close(s.stopped)
}

func TestPoll_DispatchesUntilCanceled(t *testing.T) {
	d, engine, _ := newDispatcher()
	src := &fakeSource{ch: make(chan tgbotapi.Update, 2), stopped: make(chan struct{})}
	src.ch <- tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 1,
		Chat:      &tgbotapi.Chat{ID: 1},
		Audio:     &tgbotapi.Audio{FileID: "a"},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Poll(ctx, src, d) }()

	deadline := time.Now().Add(time.Second)
	for engine.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Poll did not return after cancel")
	}
	select {
	case <-src.stopped:
	default:
		t.Error("expected StopReceivingUpdates on cancel")
	}
	if engine.count() != 1 {
		t.Errorf("expected one registration, got %d", engine.count())
	}
}

func TestPoll_ReturnsWhenChannelCloses(t *testing.T) {
	d, _, _ := newDispatcher()
	src := &fakeSource{ch: make(chan tgbotapi.Update), stopped: make(chan struct{})}
	close(src.ch)

	if err := Poll(context.Background(), src, d); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

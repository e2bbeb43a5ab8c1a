// Package relay implements the media-group aggregation engine.
//
// Telegram delivers each item of an album as its own message. The engine
// collects those messages per album, waits until every download has resolved
// and a grace window has passed without new members, then orders the items by
// message id, drops content that was already delivered, and hands the rest to
// the Sender as one unit.
//
// All album state lives behind a single mutex. Flushes run outside the lock on
// a snapshot that has already been removed from the album table.
package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fpang/media-relay/internal/dedup"
	"github.com/fpang/media-relay/internal/fetch"
	"github.com/fpang/media-relay/internal/media"
	"github.com/fpang/media-relay/internal/metrics"
	"github.com/rs/zerolog/log"
)

// ErrSendFailed is returned by FlushAlbum when the Sender rejects the album.
var ErrSendFailed = errors.New("album send failed")

const (
	DefaultGraceWindow  = 3 * time.Second
	DefaultRecheckDelay = 1 * time.Second
	defaultFlushTimeout = 2 * time.Minute
)

// Downloader fetches file bytes asynchronously. done must be called exactly
// once per Submit.
type Downloader interface {
	Submit(fileID string, sizeHint int64, done func([]byte, error))
}

// Outgoing is one item handed to the Sender. A nil Data means the item is
// forwarded by reference using Item.FileID.
type Outgoing struct {
	Item media.Item
	Data []byte
}

// ByReference reports whether the item is sent by file handle instead of bytes.
func (o Outgoing) ByReference() bool {
	return o.Data == nil
}

// Sender delivers to the target chat. Both methods are atomic from the
// engine's point of view: a ref for every input, or an error.
type Sender interface {
	SendSingle(ctx context.Context, out Outgoing) (int, error)
	SendGroup(ctx context.Context, outs []Outgoing) ([]int, error)
}

// Notifier reports back to the conversation an item came from. origin
// identifies the chat and the message to reply to.
type Notifier interface {
	NotifyDuplicate(ctx context.Context, origin media.Item, priorRef int) error
	NotifyDuplicateBatch(ctx context.Context, origin media.Item, count int) error
	NotifyError(ctx context.Context, origin media.Item, msg string) error
}

// Archiver keeps a copy of delivered payloads. Optional.
type Archiver interface {
	Archive(ctx context.Context, hash string, data []byte) error
}

// Options tunes an Engine. Zero durations select the defaults.
type Options struct {
	GraceWindow  time.Duration
	RecheckDelay time.Duration
	FlushTimeout time.Duration
	Metrics      *metrics.Sink
	Archiver     Archiver
}

// resolved is an album member whose download has finished.
type resolved struct {
	item  media.Item
	data  []byte
	byRef bool
}

type album struct {
	key        string
	standalone bool
	pending    int
	items      []resolved
	timer      *time.Timer
	gen        uint64
	opened     time.Time
}

// Engine owns the album table. Create one with New and release it with Close.
type Engine struct {
	downloader Downloader
	store      dedup.Store
	sender     Sender
	notifier   Notifier
	archiver   Archiver
	metrics    *metrics.Sink

	grace        time.Duration
	recheck      time.Duration
	flushTimeout time.Duration

	mu     sync.Mutex
	albums map[string]*album
	closed bool

	ctx     context.Context
	cancel  context.CancelFunc
	flushes sync.WaitGroup
}

// New creates an Engine. store, sender and notifier are required.
func New(downloader Downloader, store dedup.Store, sender Sender, notifier Notifier, opts Options) *Engine {
	if opts.GraceWindow <= 0 {
		opts.GraceWindow = DefaultGraceWindow
	}
	if opts.RecheckDelay <= 0 {
		opts.RecheckDelay = DefaultRecheckDelay
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = defaultFlushTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		downloader:   downloader,
		store:        store,
		sender:       sender,
		notifier:     notifier,
		archiver:     opts.Archiver,
		metrics:      opts.Metrics,
		grace:        opts.GraceWindow,
		recheck:      opts.RecheckDelay,
		flushTimeout: opts.FlushTimeout,
		albums:       make(map[string]*album),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// RegisterItem adds an inbound media item and starts its download. It never
// blocks on the network. Album members push the album's flush deadline out
// to a full grace window; standalone items flush as soon as their download
// resolves.
func (e *Engine) RegisterItem(it media.Item) {
	key := it.GroupKey()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		log.Warn().Str("albumId", key).Int("messageId", it.MessageID).Msg("Engine closed, item ignored")
		return
	}
	a, ok := e.albums[key]
	if !ok {
		a = &album{key: key, standalone: it.Standalone(), opened: time.Now()}
		e.albums[key] = a
	}
	a.pending++
	if !a.standalone {
		e.scheduleLocked(a, e.grace)
	}
	pending := a.pending
	e.mu.Unlock()

	log.Debug().
		Str("albumId", key).
		Int("messageId", it.MessageID).
		Str("kind", string(it.Kind)).
		Int("pending", pending).
		Msg("Item registered")

	e.downloader.Submit(it.FileID, it.Size, func(data []byte, err error) {
		e.onDownloadResolved(a, it, data, err)
	})
}

// onDownloadResolved settles one pending download of album a.
func (e *Engine) onDownloadResolved(a *album, it media.Item, data []byte, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.albums[a.key] != a {
		log.Debug().Str("albumId", a.key).Int("messageId", it.MessageID).Msg("Download resolved for a dropped album")
		return
	}
	a.pending--

	switch {
	case err == nil:
		a.items = append(a.items, resolved{item: it, data: data})
	case errors.Is(err, fetch.ErrSizeExceeded):
		log.Info().
			Str("albumId", a.key).
			Int("messageId", it.MessageID).
			Int64("size", it.Size).
			Msg("File too large to download, forwarding by reference")
		a.items = append(a.items, resolved{item: it, byRef: true})
	default:
		log.Warn().
			Err(err).
			Str("albumId", a.key).
			Int("messageId", it.MessageID).
			Msg("Download failed, item dropped")
	}

	if a.standalone && a.pending == 0 {
		e.scheduleLocked(a, 0)
	}
}

// scheduleLocked replaces the album's flush timer. Caller holds e.mu.
func (e *Engine) scheduleLocked(a *album, delay time.Duration) {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.gen++
	gen := a.gen
	a.timer = time.AfterFunc(delay, func() {
		e.fire(a, gen)
	})
}

// fire runs when a flush timer expires. Stale generations are ignored.
func (e *Engine) fire(a *album, gen uint64) {
	e.mu.Lock()
	if e.closed || e.albums[a.key] != a || a.gen != gen {
		e.mu.Unlock()
		return
	}
	items, ok := e.takeLocked(a)
	e.mu.Unlock()
	if !ok {
		return
	}
	defer e.flushes.Done()
	e.flush(a, items)
}

// takeLocked removes a from the table and returns its items, or reschedules
// the flush if downloads are still pending. Caller holds e.mu. On success
// the caller owns one e.flushes slot.
func (e *Engine) takeLocked(a *album) ([]resolved, bool) {
	if a.pending > 0 {
		log.Debug().
			Str("albumId", a.key).
			Int("pending", a.pending).
			Dur("recheck", e.recheck).
			Msg("Downloads still pending, flush deferred")
		e.scheduleLocked(a, e.recheck)
		return nil, false
	}
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	delete(e.albums, a.key)
	e.flushes.Add(1)
	return a.items, true
}

// FlushAlbum flushes the album immediately when it has no pending downloads.
// Otherwise it defers the flush by the re-check delay and returns nil.
func (e *Engine) FlushAlbum(key string) error {
	e.mu.Lock()
	a, ok := e.albums[key]
	if e.closed || !ok {
		e.mu.Unlock()
		return nil
	}
	items, ok := e.takeLocked(a)
	e.mu.Unlock()
	if !ok {
		return nil
	}
	defer e.flushes.Done()
	return e.flush(a, items)
}

// OpenAlbums returns the number of albums waiting to be flushed.
func (e *Engine) OpenAlbums() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.albums)
}

// Close stops all timers, drops open albums, waits for running flushes and
// closes the dedup store.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	dropped := len(e.albums)
	for _, a := range e.albums {
		if a.timer != nil {
			a.timer.Stop()
		}
	}
	e.albums = make(map[string]*album)
	e.mu.Unlock()

	if dropped > 0 {
		log.Warn().Int("albums", dropped).Msg("Dropping unflushed albums on shutdown")
	}

	e.flushes.Wait()
	e.cancel()
	return e.store.Close()
}

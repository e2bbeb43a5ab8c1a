// Package fetch downloads Telegram files on a bounded pool of workers.
//
// Every fetch is a single attempt with a fixed deadline. Failures are
// classified into two sentinel errors so callers can tell an oversized file
// (which can still be forwarded by reference) from everything else.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrSizeExceeded means the provider refuses to serve the file because
	// it is larger than its download ceiling.
	ErrSizeExceeded = errors.New("file exceeds download size limit")

	// ErrTransport covers every other download failure.
	ErrTransport = errors.New("file download failed")
)

const (
	// DefaultMaxSize is the Bot API download ceiling (20 MB).
	DefaultMaxSize = 20 << 20

	defaultWorkers = 5
	defaultTimeout = 30 * time.Second
)

// Locator resolves an opaque file handle into a downloadable URL.
// Implementations return an error wrapping ErrSizeExceeded when the
// provider reports the file as too big.
type Locator interface {
	FileURL(ctx context.Context, fileID string) (string, error)
}

// Options tunes a Downloader. Zero values select the defaults.
type Options struct {
	Workers    int
	Timeout    time.Duration
	MaxSize    int64
	HTTPClient *http.Client
}

// Downloader fetches file bytes with bounded concurrency. Requests beyond
// the worker limit queue on the semaphore.
type Downloader struct {
	locator    Locator
	httpClient *http.Client
	sem        *semaphore.Weighted
	timeout    time.Duration
	maxSize    int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Downloader backed by locator.
func New(locator Locator, opts Options) *Downloader {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Downloader{
		locator:    locator,
		httpClient: opts.HTTPClient,
		sem:        semaphore.NewWeighted(int64(opts.Workers)),
		timeout:    opts.Timeout,
		maxSize:    opts.MaxSize,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Submit queues a download and returns immediately. done is invoked exactly
// once, from a pool goroutine, with either the bytes or a classified error.
func (d *Downloader) Submit(fileID string, sizeHint int64, done func([]byte, error)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		if err := d.sem.Acquire(d.ctx, 1); err != nil {
			done(nil, fmt.Errorf("%w: %w", ErrTransport, err))
			return
		}
		defer d.sem.Release(1)

		data, err := d.Fetch(d.ctx, fileID, sizeHint)
		done(data, err)
	}()
}

// Fetch downloads one file synchronously. It does not take a pool slot;
// use Submit for pooled, asynchronous downloads.
func (d *Downloader) Fetch(ctx context.Context, fileID string, sizeHint int64) ([]byte, error) {
	if sizeHint > d.maxSize {
		log.Debug().Str("fileId", fileID).Int64("size", sizeHint).Int64("maxSize", d.maxSize).Msg("Declared size over download ceiling")
		return nil, fmt.Errorf("%w: declared %d bytes", ErrSizeExceeded, sizeHint)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	fileURL, err := d.locator.FileURL(ctx, fileID)
	if err != nil {
		if errors.Is(err, ErrSizeExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: locate %s: %w", ErrTransport, fileID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrTransport, err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrTransport, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrTransport, err)
	}
	if int64(len(data)) > d.maxSize {
		return nil, fmt.Errorf("%w: body over %d bytes", ErrSizeExceeded, d.maxSize)
	}

	log.Debug().
		Str("fileId", fileID).
		Int("bytes", len(data)).
		Dur("duration", time.Since(start)).
		Msg("File downloaded")
	return data, nil
}

// Close cancels queued and in-flight downloads and waits for every
// callback to return.
func (d *Downloader) Close() {
	d.cancel()
	d.wg.Wait()
}

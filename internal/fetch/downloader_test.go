package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// staticLocator maps every file id to server.URL + "/" + id.
type staticLocator struct {
	base string
	errs map[string]error
}

func (l *staticLocator) FileURL(_ context.Context, fileID string) (string, error) {
	if err, ok := l.errs[fileID]; ok {
		return "", err
	}
	return l.base + "/" + fileID, nil
}

func TestFetch_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/photo-1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte("jpeg-bytes"))
	}))
	defer server.Close()

	d := New(&staticLocator{base: server.URL}, Options{HTTPClient: server.Client()})
	defer d.Close()

	data, err := d.Fetch(context.Background(), "photo-1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Errorf("unexpected body %q", data)
	}
}

func TestFetch_LocatorTooBig(t *testing.T) {
	loc := &staticLocator{errs: map[string]error{
		"huge": fmt.Errorf("getFile: %w", ErrSizeExceeded),
	}}
	d := New(loc, Options{})
	defer d.Close()

	_, err := d.Fetch(context.Background(), "huge", 0)
	if !errors.Is(err, ErrSizeExceeded) {
		t.Fatalf("expected ErrSizeExceeded, got %v", err)
	}
	if errors.Is(err, ErrTransport) {
		t.Error("size errors must not also classify as transport errors")
	}
}

func TestFetch_DeclaredSizeOverCeiling(t *testing.T) {
	loc := &staticLocator{errs: map[string]error{"big": errors.New("locator should not be called")}}
	d := New(loc, Options{MaxSize: 100})
	defer d.Close()

	_, err := d.Fetch(context.Background(), "big", 101)
	if !errors.Is(err, ErrSizeExceeded) {
		t.Fatalf("expected ErrSizeExceeded, got %v", err)
	}
}

func TestFetch_BodyOverCeiling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer server.Close()

	d := New(&staticLocator{base: server.URL}, Options{MaxSize: 32, HTTPClient: server.Client()})
	defer d.Close()

	_, err := d.Fetch(context.Background(), "f", 0)
	if !errors.Is(err, ErrSizeExceeded) {
		t.Fatalf("expected ErrSizeExceeded, got %v", err)
	}
}

func TestFetch_TransportErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	loc := &staticLocator{base: server.URL, errs: map[string]error{"broken": errors.New("connection reset")}}
	d := New(loc, Options{HTTPClient: server.Client()})
	defer d.Close()

	for _, id := range []string{"missing", "broken"} {
		_, err := d.Fetch(context.Background(), id, 0)
		if !errors.Is(err, ErrTransport) {
			t.Errorf("%s: expected ErrTransport, got %v", id, err)
		}
	}
}

func TestFetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	d := New(&staticLocator{base: server.URL}, Options{Timeout: 50 * time.Millisecond, HTTPClient: server.Client()})
	defer d.Close()

	start := time.Now()
	_, err := d.Fetch(context.Background(), "slow", 0)
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport on timeout, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("timeout not enforced, took %s", time.Since(start))
	}
}

func TestSubmit_BoundedConcurrency(t *testing.T) {
	const workers = 2
	const jobs = 6

	var inFlight, maxSeen int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxSeen)
			if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		w.Write([]byte(r.URL.Path))
	}))
	defer server.Close()

	d := New(&staticLocator{base: server.URL}, Options{Workers: workers, HTTPClient: server.Client()})
	defer d.Close()

	var wg sync.WaitGroup
	var calls int32
	wg.Add(jobs)
	for i := 0; i < jobs; i++ {
		d.Submit(fmt.Sprintf("f%d", i), 0, func(data []byte, err error) {
			defer wg.Done()
			atomic.AddInt32(&calls, 1)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
	wg.Wait()

	if calls != jobs {
		t.Errorf("expected %d callbacks, got %d", jobs, calls)
	}
	if maxSeen > workers {
		t.Errorf("expected at most %d concurrent fetches, saw %d", workers, maxSeen)
	}
}

func TestSubmit_CloseCancelsQueued(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(block)

	d := New(&staticLocator{base: server.URL}, Options{Workers: 1, HTTPClient: server.Client()})

	results := make(chan error, 2)
	d.Submit("a", 0, func(_ []byte, err error) { results <- err })
	d.Submit("b", 0, func(_ []byte, err error) { results <- err })

	time.Sleep(20 * time.Millisecond)
	d.Close()

	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			if !errors.Is(err, ErrTransport) {
				t.Errorf("expected ErrTransport after close, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("callback not invoked after Close")
		}
	}
}

package archive

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/zstd"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
	headErr error
	puts    int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, meta: map[string]map[string]string{}}
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.headErr != nil {
		return nil, f.headErr
	}
	if _, ok := f.objects[*in.Key]; ok {
		return &s3.HeadObjectOutput{}, nil
	}
	return nil, &types.NotFound{}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Key] = body
	f.meta[*in.Key] = in.Metadata
	f.puts++
	return &s3.PutObjectOutput{}, nil
}

func TestKey(t *testing.T) {
	if got := Key("abcdef"); got != "media/ab/abcdef.zst" {
		t.Errorf("unexpected key %s", got)
	}
	if got := Key("a"); got != "media/a.zst" {
		t.Errorf("unexpected short key %s", got)
	}
}

func TestArchive_CompressesAndStores(t *testing.T) {
	s3c := newFakeS3()
	a, err := NewS3Archiver(s3c, "relay-archive")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	payload := []byte(strings.Repeat("jpeg-bytes ", 200))
	if err := a.Archive(context.Background(), "ff00aa", payload); err != nil {
		t.Fatalf("archive: %v", err)
	}

	stored, ok := s3c.objects["media/ff/ff00aa.zst"]
	if !ok {
		t.Fatal("object not stored")
	}
	if len(stored) >= len(payload) {
		t.Errorf("expected compression, stored %d of %d bytes", len(stored), len(payload))
	}

	dec, _ := zstd.NewReader(nil)
	defer dec.Close()
	got, err := dec.DecodeAll(stored, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(got) != string(payload) {
		t.Error("round trip mismatch")
	}
	if s3c.meta["media/ff/ff00aa.zst"]["original-size"] != "2200" {
		t.Errorf("unexpected metadata %v", s3c.meta["media/ff/ff00aa.zst"])
	}
}

func TestArchive_SkipsExisting(t *testing.T) {
	s3c := newFakeS3()
	a, _ := NewS3Archiver(s3c, "relay-archive")
	defer a.Close()

	for i := 0; i < 2; i++ {
		if err := a.Archive(context.Background(), "1234", []byte("x")); err != nil {
			t.Fatalf("archive: %v", err)
		}
	}
	if s3c.puts != 1 {
		t.Errorf("expected one put, got %d", s3c.puts)
	}
}

func TestArchive_Errors(t *testing.T) {
	s3c := newFakeS3()
	a, _ := NewS3Archiver(s3c, "relay-archive")
	defer a.Close()

	if err := a.Archive(context.Background(), "", []byte("x")); err == nil {
		t.Error("expected error for empty hash")
	}

	s3c.headErr = errors.New("access denied")
	if err := a.Archive(context.Background(), "abcd", []byte("x")); err == nil {
		t.Error("expected head error to surface")
	}
	if s3c.puts != 0 {
		t.Error("nothing should be written after a head failure")
	}
}

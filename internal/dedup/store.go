// Package dedup remembers which source files have already been delivered to
// the target chat, keyed by source file handle and by content fingerprint.
//
// Every backend implements Store. Lookups return the delivery reference (the
// message id in the target chat) of the earlier copy so callers can point the
// sender at it.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
)

// ErrAlreadyExists is returned by Record when the handle is already recorded.
var ErrAlreadyExists = errors.New("dedup record already exists")

// Record is one delivered item. Hash and Size are empty when the payload was
// never downloaded (forwarded by reference).
type Record struct {
	Handle string
	Ref    int
	Hash   string
	Size   int64
}

// HasFingerprint reports whether the record carries a content fingerprint.
func (r Record) HasFingerprint() bool {
	return r.Hash != ""
}

// Store is safe for concurrent use.
type Store interface {
	// LookupByHandle returns the delivery reference for a source file handle.
	LookupByHandle(ctx context.Context, handle string) (ref int, found bool, err error)

	// LookupByHash returns the delivery reference for identical content.
	LookupByHash(ctx context.Context, hash string, size int64) (ref int, found bool, err error)

	// Record stores a delivery. Returns ErrAlreadyExists if the handle is
	// already known; the fingerprint index is written first-wins. The handle
	// entry is written even when the fingerprint write fails.
	Record(ctx context.Context, rec Record) error

	Close() error
}

// Fingerprint computes the content hash used for hash-based dedup (SHA-256, hex).
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FingerprintKey combines hash and size into one lookup key.
func FingerprintKey(hash string, size int64) string {
	return hash + "#" + strconv.FormatInt(size, 10)
}

// joinRecordErrors combines the outcome of the handle and fingerprint writes.
// A lone handle error is returned as is so ErrAlreadyExists stays comparable.
func joinRecordErrors(handleErr, hashErr error) error {
	if hashErr == nil {
		return handleErr
	}
	if handleErr == nil {
		return hashErr
	}
	return errors.Join(handleErr, hashErr)
}

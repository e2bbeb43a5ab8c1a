// Package archive keeps a compressed copy of every payload the relay
// delivers, in S3 under its content hash.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

const (
	keyPrefix   = "media/"
	contentType = "application/zstd"
)

// S3API is the subset of the S3 client used by S3Archiver.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes zstd-compressed payloads to one bucket. Objects are
// content-addressed, so an existing key is never rewritten.
type S3Archiver struct {
	client  S3API
	bucket  string
	encoder *zstd.Encoder
}

// NewS3Archiver creates an archiver for bucket.
func NewS3Archiver(client S3API, bucket string) (*S3Archiver, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(12)))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &S3Archiver{client: client, bucket: bucket, encoder: enc}, nil
}

// Key returns the object key for a content hash.
func Key(hash string) string {
	if len(hash) < 2 {
		return keyPrefix + hash + ".zst"
	}
	return keyPrefix + hash[:2] + "/" + hash + ".zst"
}

// Archive stores data under hash unless an object already exists.
func (a *S3Archiver) Archive(ctx context.Context, hash string, data []byte) error {
	if hash == "" {
		return errors.New("archive: empty content hash")
	}
	key := Key(hash)

	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &a.bucket, Key: &key})
	if err == nil {
		log.Debug().Str("key", key).Msg("Payload already archived")
		return nil
	}
	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return fmt.Errorf("head %s: %w", key, err)
	}

	start := time.Now()
	compressed := a.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &a.bucket,
		Key:           &key,
		Body:          bytes.NewReader(compressed),
		ContentLength: aws.Int64(int64(len(compressed))),
		ContentType:   aws.String(contentType),
		Metadata: map[string]string{
			"original-size": strconv.Itoa(len(data)),
		},
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}

	log.Info().
		Str("key", key).
		Int("bytes", len(data)).
		Int("compressed", len(compressed)).
		Dur("duration", time.Since(start)).
		Msg("Payload archived")
	return nil
}

// Close releases the encoder.
func (a *S3Archiver) Close() error {
	return a.encoder.Close()
}

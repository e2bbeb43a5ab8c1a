package relay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fpang/media-relay/internal/dedup"
	"github.com/fpang/media-relay/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Flush outcomes, used as the Outcome metric dimension.
const (
	outcomeEmpty      = "empty"
	outcomeDuplicates = "duplicates"
	outcomeSingle     = "single"
	outcomeGroup      = "group"
	outcomeFailed     = "failed"
)

// candidate is a resolved item after the dedup pass.
type candidate struct {
	resolved
	hash     string
	size     int64
	dup      bool
	priorRef int

	// twin is set when the same content is already new earlier in this
	// flush; it indexes that copy in the fresh list and priorRef is filled
	// in once the copy is delivered.
	twin    int
	hasTwin bool
}

func (c candidate) outgoing() Outgoing {
	return Outgoing{Item: c.item, Data: c.data}
}

// flush sends one album snapshot. The album is already out of the table.
func (e *Engine) flush(a *album, items []resolved) error {
	start := time.Now()
	flushID := uuid.NewString()
	logger := log.With().Str("flushId", flushID).Str("albumId", a.key).Logger()

	ctx, cancel := context.WithTimeout(e.ctx, e.flushTimeout)
	defer cancel()

	if len(items) == 0 {
		logger.Info().Msg("Album has no deliverable items, purged")
		e.emit(flushID, outcomeEmpty, 0, 0, start)
		return nil
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].item.MessageID < items[j].item.MessageID
	})

	var fresh, dups []candidate
	seen := make(map[string]int)
	for _, r := range items {
		c := e.classify(ctx, logger, r)
		if !c.dup && c.hash != "" {
			key := dedup.FingerprintKey(c.hash, c.size)
			if i, ok := seen[key]; ok {
				logger.Debug().Str("hash", c.hash).Int("messageId", c.item.MessageID).Msg("Duplicate content within album")
				c.dup, c.twin, c.hasTwin = true, i, true
			} else {
				seen[key] = len(fresh)
			}
		}
		if c.dup {
			dups = append(dups, c)
		} else {
			fresh = append(fresh, c)
		}
	}

	logger.Debug().
		Int("items", len(items)).
		Int("new", len(fresh)).
		Int("duplicates", len(dups)).
		Dur("age", time.Since(a.opened)).
		Msg("Album ready to flush")

	outcome := outcomeDuplicates
	var refs []int
	var err error
	switch {
	case len(fresh) == 0:
	case len(fresh) == 1 && len(dups) == 0:
		outcome = outcomeSingle
		var ref int
		ref, err = e.sender.SendSingle(ctx, fresh[0].outgoing())
		refs = []int{ref}
	default:
		outcome = outcomeGroup
		outs := make([]Outgoing, len(fresh))
		for i, c := range fresh {
			outs[i] = c.outgoing()
		}
		refs, err = e.sender.SendGroup(ctx, outs)
	}
	if err == nil && len(refs) != len(fresh) {
		err = fmt.Errorf("sender returned %d refs for %d items", len(refs), len(fresh))
	}

	if err != nil {
		origin := items[0].item
		logger.Error().Err(err).Int("new", len(fresh)).Msg("Failed to send album")
		msg := fmt.Sprintf("Failed to relay media: %v", err)
		if a.standalone {
			msg = fmt.Sprintf("Failed to relay %s: %v", origin.Kind, err)
		}
		if nerr := e.notifier.NotifyError(ctx, origin, msg); nerr != nil {
			logger.Warn().Err(nerr).Msg("Failed to send error notification")
		}
		e.emit(flushID, outcomeFailed, 0, len(dups), start)
		return fmt.Errorf("%w: %s: %w", ErrSendFailed, a.key, err)
	}

	for i, c := range fresh {
		e.record(ctx, logger, c, refs[i])
	}
	for i := range dups {
		if !dups[i].hasTwin {
			continue
		}
		dups[i].priorRef = refs[dups[i].twin]
		e.storeRecord(ctx, logger, dedup.Record{Handle: dups[i].item.DedupKey(), Ref: dups[i].priorRef})
	}

	e.reportDuplicates(ctx, logger, dups)

	logger.Info().
		Int("sent", len(fresh)).
		Int("duplicates", len(dups)).
		Str("path", outcome).
		Dur("duration", time.Since(start)).
		Msg("Album flushed")
	e.emit(flushID, outcome, len(fresh), len(dups), start)
	return nil
}

// classify runs the dedup lookups for one item. Lookup errors count as a miss.
func (e *Engine) classify(ctx context.Context, logger zerolog.Logger, r resolved) candidate {
	c := candidate{resolved: r}
	handle := r.item.DedupKey()

	ref, found, err := e.store.LookupByHandle(ctx, handle)
	if err != nil {
		logger.Warn().Err(err).Str("handle", handle).Msg("Dedup lookup by handle failed, treating item as new")
	} else if found {
		logger.Debug().Str("handle", handle).Int("priorRef", ref).Msg("Duplicate by handle")
		c.dup, c.priorRef = true, ref
		return c
	}

	if r.byRef || r.data == nil {
		return c
	}

	c.hash = dedup.Fingerprint(r.data)
	c.size = int64(len(r.data))
	ref, found, err = e.store.LookupByHash(ctx, c.hash, c.size)
	if err != nil {
		logger.Warn().Err(err).Str("hash", c.hash).Msg("Dedup lookup by hash failed, treating item as new")
	} else if found {
		logger.Debug().Str("hash", c.hash).Int64("size", c.size).Int("priorRef", ref).Msg("Duplicate by content")
		c.dup, c.priorRef = true, ref
	}
	return c
}

// record stores the delivery and archives the payload. Failures are logged.
func (e *Engine) record(ctx context.Context, logger zerolog.Logger, c candidate, ref int) {
	e.storeRecord(ctx, logger, dedup.Record{
		Handle: c.item.DedupKey(),
		Ref:    ref,
		Hash:   c.hash,
		Size:   c.size,
	})

	if e.archiver == nil || c.data == nil {
		return
	}
	if err := e.archiver.Archive(ctx, c.hash, c.data); err != nil {
		logger.Warn().Err(err).Str("hash", c.hash).Msg("Failed to archive payload")
	}
}

func (e *Engine) storeRecord(ctx context.Context, logger zerolog.Logger, rec dedup.Record) {
	if err := e.store.Record(ctx, rec); err != nil && !errors.Is(err, dedup.ErrAlreadyExists) {
		logger.Warn().Err(err).Str("handle", rec.Handle).Int("ref", rec.Ref).Msg("Failed to record delivery")
	}
}

func (e *Engine) reportDuplicates(ctx context.Context, logger zerolog.Logger, dups []candidate) {
	var err error
	switch len(dups) {
	case 0:
		return
	case 1:
		err = e.notifier.NotifyDuplicate(ctx, dups[0].item, dups[0].priorRef)
	default:
		err = e.notifier.NotifyDuplicateBatch(ctx, dups[0].item, len(dups))
	}
	if err != nil {
		logger.Warn().Err(err).Int("duplicates", len(dups)).Msg("Failed to send duplicate notification")
	}
}

func (e *Engine) emit(flushID, outcome string, sent, dups int, start time.Time) {
	e.metrics.New().
		Dimension("Outcome", outcome).
		Metric("ItemsSent", float64(sent), metrics.UnitCount).
		Metric("Duplicates", float64(dups), metrics.UnitCount).
		Metric("FlushLatencyMs", float64(time.Since(start).Milliseconds()), metrics.UnitMilliseconds).
		Property("flushId", flushID).
		Flush()
}

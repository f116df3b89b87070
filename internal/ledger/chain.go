// Package ledger is the tamper-evident audit chain. Every entry carries the
// SHA-256 digest of its own content and of the entry before it, so editing
// or removing any historical entry breaks verification from that point on.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"mailvault.org/internal/ids"
	"mailvault.org/internal/obs"
)

const verifyPageSize = 500

// Chain appends to and verifies a Store.
type Chain struct {
	// mu serializes appends within the process; stores add their own
	// cross-process exclusion around the tail.
	mu       sync.Mutex
	store    Store
	now      func() time.Time
	observer func(Entry)
}

// Option configures Chain.
type Option func(*Chain)

// WithClock overrides the timestamp source.
func WithClock(fn func() time.Time) Option {
	return func(c *Chain) {
		if fn != nil {
			c.now = fn
		}
	}
}

// WithObserver registers fn to receive every entry after it is persisted.
// fn runs under the append lock, so it sees entries in Seq order and must
// not block.
func WithObserver(fn func(Entry)) Option {
	return func(c *Chain) { c.observer = fn }
}

func NewChain(store Store, opts ...Option) *Chain {
	c := &Chain{store: store, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Append links rec to the tail. A persistence failure returns an error
// wrapping ErrNotRecorded and leaves the chain unchanged.
func (c *Chain) Append(ctx context.Context, rec Record) (Entry, error) {
	action := strings.TrimSpace(rec.Action)
	if action == "" {
		return Entry{}, fmt.Errorf("%w: action is required", ErrInvalidRecord)
	}
	if rec.ResultCount != nil && *rec.ResultCount < 0 {
		return Entry{}, fmt.Errorf("%w: result count must not be negative", ErrInvalidRecord)
	}
	params, err := CanonicalParameters(rec.Parameters)
	if err != nil {
		return Entry{}, err
	}
	var target *string
	if rec.TargetID != "" {
		t := rec.TargetID
		target = &t
	}

	start := time.Now()
	c.mu.Lock()
	entry, err := c.store.AppendLinked(ctx, func(tail *Entry) (Entry, error) {
		now := c.now().UTC().Truncate(time.Microsecond)
		e := Entry{
			ID:          ids.NewAt(now),
			Seq:         1,
			ActorID:     rec.ActorID,
			ActorRoles:  rec.ActorRoles,
			Action:      action,
			Parameters:  params,
			ResultCount: rec.ResultCount,
			TargetID:    target,
			CreatedAt:   now,
		}
		if tail != nil {
			prev := tail.Digest
			e.PrevDigest = &prev
			e.Seq = tail.Seq + 1
		}
		digest, err := ComputeDigest(e)
		if err != nil {
			return Entry{}, err
		}
		e.Digest = digest
		return e, nil
	})
	if err == nil && c.observer != nil {
		c.observer(entry)
	}
	c.mu.Unlock()
	obs.ObserveLedgerAppend(err, time.Since(start))

	if err != nil {
		obs.Ctx(ctx).Error().Err(err).
			Str("action", action).
			Str("actor_id", rec.ActorID).
			Msg("audit entry not recorded")
		return Entry{}, fmt.Errorf("%w: %w", ErrNotRecorded, err)
	}
	return entry, nil
}

// Report summarises a successful verification.
type Report struct {
	Entries int    `json:"entries"`
	Head    string `json:"head,omitempty"`
}

// Verify walks the chain in order and returns an *IntegrityError at the
// first entry whose link or digest does not check out.
func (c *Chain) Verify(ctx context.Context) (Report, error) {
	var (
		report  Report
		prev    *string
		lastSeq uint64
	)
	for {
		page, err := c.store.Scan(ctx, lastSeq, verifyPageSize)
		if err != nil {
			return report, fmt.Errorf("scan ledger: %w", err)
		}
		for _, e := range page {
			if ierr := check(e, prev, lastSeq); ierr != nil {
				obs.LedgerVerifyFailed()
				obs.Ctx(ctx).Error().
					Str("entry_id", ierr.EntryID).
					Uint64("seq", ierr.Seq).
					Str("kind", ierr.Kind).
					Msg("audit ledger integrity violation")
				return report, ierr
			}
			digest := e.Digest
			prev = &digest
			lastSeq = e.Seq
			report.Entries++
			report.Head = e.Digest
		}
		if len(page) < verifyPageSize {
			return report, nil
		}
	}
}

func check(e Entry, prev *string, prevSeq uint64) *IntegrityError {
	if !sameDigest(e.PrevDigest, prev) {
		return &IntegrityError{EntryID: e.ID, Seq: e.Seq, Kind: KindBrokenLink}
	}
	if e.Seq != prevSeq+1 {
		return &IntegrityError{EntryID: e.ID, Seq: e.Seq, Kind: KindSequenceGap}
	}
	want, err := ComputeDigest(e)
	if err != nil || want != e.Digest {
		return &IntegrityError{EntryID: e.ID, Seq: e.Seq, Kind: KindDigestMismatch}
	}
	return nil
}

func sameDigest(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// List returns entries newest first.
func (c *Chain) List(ctx context.Context, f Filter) ([]Entry, error) {
	return c.store.List(ctx, f.Normalize())
}

func (c *Chain) Get(ctx context.Context, id string) (Entry, error) {
	return c.store.Get(ctx, id)
}

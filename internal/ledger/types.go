package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Entry is one immutable link of the audit chain.
type Entry struct {
	ID          string          `json:"id"`
	Seq         uint64          `json:"seq"`
	ActorID     string          `json:"actor_id,omitempty"`
	ActorRoles  string          `json:"actor_roles"`
	Action      string          `json:"action"`
	Parameters  json.RawMessage `json:"parameters"`
	ResultCount *int64          `json:"result_count,omitempty"`
	TargetID    *string         `json:"target_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Digest      string          `json:"digest"`
	PrevDigest  *string         `json:"prev_digest,omitempty"`
}

// Record is what a caller asks to have recorded.
type Record struct {
	ActorID     string
	ActorRoles  string
	Action      string
	Parameters  map[string]any
	ResultCount *int64
	TargetID    string
}

// Filter narrows a reverse-chronological listing.
type Filter struct {
	ActorID string
	Action  string
	Limit   int
	Offset  int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Normalize clamps Limit and Offset into their accepted ranges.
func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Matches reports whether e passes the actor and action filters.
func (f Filter) Matches(e Entry) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	return true
}

// LinkFunc builds the next entry given the current tail, nil for an empty chain.
type LinkFunc func(tail *Entry) (Entry, error)

// Store persists entries. AppendLinked must read the tail and persist the
// linked entry atomically with respect to every other writer, and must
// leave nothing visible when it fails.
type Store interface {
	AppendLinked(ctx context.Context, link LinkFunc) (Entry, error)
	// Scan returns up to limit entries with Seq greater than afterSeq in Seq order.
	Scan(ctx context.Context, afterSeq uint64, limit int) ([]Entry, error)
	Get(ctx context.Context, id string) (Entry, error)
	// List returns matching entries newest first.
	List(ctx context.Context, f Filter) ([]Entry, error)
}

var (
	ErrNotFound      = errors.New("ledger: entry not found")
	ErrInvalidRecord = errors.New("ledger: invalid record")
	// ErrNotRecorded means the action may have happened but left no audit
	// entry. It is fatal and must not be retried automatically.
	ErrNotRecorded = errors.New("ledger: audit entry not recorded")
)

// Integrity failure kinds.
const (
	KindBrokenLink     = "broken_link"
	KindDigestMismatch = "digest_mismatch"
	KindSequenceGap    = "sequence_gap"
)

// IntegrityError reports the first entry at which the chain stops verifying.
type IntegrityError struct {
	EntryID string
	Seq     uint64
	Kind    string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("ledger: integrity violation at entry %s (seq %d): %s", e.EntryID, e.Seq, e.Kind)
}

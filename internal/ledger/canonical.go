package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"reflect"
	"time"

	"github.com/goccy/go-json"
)

// TimeLayout is the fixed form every timestamp takes inside a digest.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in TimeLayout, in UTC and truncated to microseconds.
func FormatTime(t time.Time) string {
	return t.UTC().Truncate(time.Microsecond).Format(TimeLayout)
}

// Canonicalize replaces time values with their TimeLayout strings,
// recursing into maps and slices of any element type. Other values are
// returned unchanged.
func Canonicalize(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return FormatTime(val)
	case *time.Time:
		if val == nil {
			return nil
		}
		return FormatTime(*val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Canonicalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Canonicalize(item)
		}
		return out
	case json.RawMessage, []byte:
		return v
	}
	return canonicalizeReflect(reflect.ValueOf(v), v)
}

// canonicalizeReflect handles typed containers such as map[string]time.Time
// or []*time.Time.
func canonicalizeReflect(rv reflect.Value, v any) any {
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() || rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = Canonicalize(iter.Value().Interface())
		}
		return out
	case reflect.Slice:
		if rv.IsNil() || rv.Type().Elem().Kind() == reflect.Uint8 {
			return v
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Canonicalize(rv.Index(i).Interface())
		}
		return out
	default:
		return v
	}
}

// CanonicalParameters encodes params as compact JSON with sorted keys.
func CanonicalParameters(params map[string]any) (json.RawMessage, error) {
	if params == nil {
		params = map[string]any{}
	}
	raw, err := json.Marshal(Canonicalize(params))
	if err != nil {
		return nil, fmt.Errorf("%w: parameters: %v", ErrInvalidRecord, err)
	}
	return raw, nil
}

// digestPayload fields are declared in key order so the encoding is sorted.
type digestPayload struct {
	Action      string          `json:"action"`
	ActorID     *string         `json:"actor_id"`
	ActorRoles  string          `json:"actor_roles"`
	ID          string          `json:"id"`
	Parameters  json.RawMessage `json:"parameters"`
	ResultCount *int64          `json:"result_count"`
	Seq         uint64          `json:"seq"`
	TargetID    *string         `json:"target_id"`
	Timestamp   string          `json:"timestamp"`
}

// ComputeDigest returns hex(SHA-256(payload || prev)) for e, where prev is
// the previous digest or empty for the first entry.
func ComputeDigest(e Entry) (string, error) {
	p := digestPayload{
		Action:      e.Action,
		ActorRoles:  e.ActorRoles,
		ID:          e.ID,
		Parameters:  e.Parameters,
		ResultCount: e.ResultCount,
		Seq:         e.Seq,
		TargetID:    e.TargetID,
		Timestamp:   FormatTime(e.CreatedAt),
	}
	if e.ActorID != "" {
		actor := e.ActorID
		p.ActorID = &actor
	}
	if len(p.Parameters) == 0 {
		p.Parameters = json.RawMessage("{}")
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode digest payload: %w", err)
	}
	h := sha256.New()
	h.Write(payload)
	if e.PrevDigest != nil {
		h.Write([]byte(*e.PrevDigest))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

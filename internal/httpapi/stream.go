package httpapi

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"mailvault.org/internal/obs"
)

const streamHeartbeat = 15 * time.Second

// handleAuditStream sends every newly appended audit entry as a Server-Sent
// Event. Past entries are read with GET /v1/audit.
func (a *API) handleAuditStream(w http.ResponseWriter, r *http.Request) {
	if a.Feed == nil {
		writeDetail(w, r, http.StatusServiceUnavailable, "stream_unavailable")
		return
	}

	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	ch := a.Feed.Subscribe(ctx)

	_, _ = w.Write([]byte(": stream started\n\n"))
	if err := rc.Flush(); err != nil {
		obs.Ctx(ctx).Warn().Err(err).Msg("audit stream: flush unsupported")
		return
	}

	ticker := time.NewTicker(streamHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
		case e, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(e)
			if err != nil {
				obs.Ctx(ctx).Error().Err(err).Str("entry_id", e.ID).Msg("audit stream: encode entry")
				continue
			}
			_, _ = w.Write([]byte("id: " + e.ID + "\nevent: audit_entry\ndata: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

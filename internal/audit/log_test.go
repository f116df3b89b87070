package audit

import (
	"bytes"
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailvault.org/internal/auth"
	"mailvault.org/internal/directory"
	"mailvault.org/internal/obs"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	obs.InitLogger(obs.LogConfig{Level: "debug", Output: &buf})
	t.Cleanup(func() { obs.InitLogger(obs.LogConfig{}) })
	return &buf
}

func TestLogEvent(t *testing.T) {
	buf := captureLog(t)

	ctx := obs.WithRequestID(context.Background(), "req-123")
	ctx = auth.ContextWithSession(ctx, auth.Session{
		Principal: auth.Principal{User: directory.User{ID: "user-42", Roles: []string{"legal_user"}}},
	})

	require.NoError(t, LogEvent(ctx, EventAccessDenied, map[string]any{"reason": "mfa_required"}))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "audit", entry["type"])
	assert.Equal(t, EventAccessDenied, entry["event"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "user-42", entry["user_id"])
	assert.Equal(t, []any{"legal_user"}, entry["roles"])
	fields, ok := entry["fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "mfa_required", fields["reason"])
}

func TestLogEventInfoLevelAndEmptyFields(t *testing.T) {
	buf := captureLog(t)

	require.NoError(t, LogEvent(context.Background(), EventMFAEnrolled, nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.NotContains(t, entry, "user_id")
	assert.Equal(t, map[string]any{}, entry["fields"])
}

func TestLogEventRequiresName(t *testing.T) {
	require.Error(t, LogEvent(context.Background(), "  ", nil))
}

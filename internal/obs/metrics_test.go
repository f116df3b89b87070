package obs

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Instrument)
	r.Get("/v1/emails/{id}/access", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/emails/{id}/access", "418"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/emails/abc/access", nil))
	require.Equal(t, http.StatusTeapot, rr.Code)

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/emails/{id}/access", "418"))
	assert.Equal(t, before+1, after)
}

func TestDomainCounters(t *testing.T) {
	okBefore := testutil.ToFloat64(ledgerAppends.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(ledgerAppends.WithLabelValues("error"))
	ObserveLedgerAppend(nil, time.Millisecond)
	ObserveLedgerAppend(errors.New("boom"), time.Millisecond)
	assert.Equal(t, okBefore+1, testutil.ToFloat64(ledgerAppends.WithLabelValues("ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(ledgerAppends.WithLabelValues("error")))

	deniedBefore := testutil.ToFloat64(authzDenials.WithLabelValues("mfa_required"))
	AuthzDenied("mfa_required")
	assert.Equal(t, deniedBefore+1, testutil.ToFloat64(authzDenials.WithLabelValues("mfa_required")))
}

func TestInitIsIdempotent(t *testing.T) {
	require.NotPanics(t, func() {
		Init()
		Init()
	})
}

func TestInitBuildInfoIsIdempotent(t *testing.T) {
	InitBuildInfo("1.2.3", "abc")
	InitBuildInfo("1.2.3", "abc")
	assert.Equal(t, 1.0, testutil.ToFloat64(buildInfo.WithLabelValues("1.2.3", "abc", runtime.Version())))
	assert.Greater(t, testutil.ToFloat64(startTime), 0.0)
}

package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"mailvault.org/internal/obs"
)

// HealthReporter publishes readiness through the standard grpc.health.v1
// service, both for the empty service name and for serviceName.
type HealthReporter struct {
	server    *health.Server
	readiness Readiness
}

func NewHealthReporter(r Readiness) *HealthReporter {
	if r == nil {
		r = ReadyFunc(nil)
	}
	hr := &HealthReporter{server: health.NewServer(), readiness: r}
	hr.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return hr
}

// Register attaches the health service to s.
func (h *HealthReporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Refresh runs the readiness probe once and publishes the result.
func (h *HealthReporter) Refresh(ctx context.Context) {
	if err := h.readiness.Check(ctx); err != nil {
		obs.Ctx(ctx).Warn().Err(err).Msg("grpc health: not serving")
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
}

// Run refreshes every interval until ctx is done.
func (h *HealthReporter) Run(ctx context.Context, interval time.Duration) {
	h.Refresh(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.Refresh(ctx)
		}
	}
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (h *HealthReporter) Shutdown() { h.server.Shutdown() }

func (h *HealthReporter) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(serviceName, status)
}

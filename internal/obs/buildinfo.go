package obs

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailvault_build_info",
			Help: "Build of the running binary; always 1.",
		},
		[]string{"version", "commit", "goversion"},
	)

	startTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mailvault_start_time_seconds",
		Help: "Unix time the process published its build info.",
	})
)

// InitBuildInfo registers the build gauges once and publishes version,
// commit and the Go runtime version. Later calls only add label sets.
func InitBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo, startTime)
		startTime.Set(float64(time.Now().Unix()))
	})
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}

package obs

import (
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "build_info",
			Help:        "Always 1; labels identify the running worksuite-api binary.",
			ConstLabels: prometheus.Labels{"service": "worksuite-api"},
		},
		[]string{"version", "commit", "goversion"},
	)
)

// InitBuildInfo publishes the binary's version labels. Safe to call again
// after a relabel; registration happens once.
func InitBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	if version == "" {
		version = "dev"
	}
	if commit == "" {
		commit = "unknown"
	}
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}

package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/andrewtheguy/securesend/internal/config"
	"github.com/andrewtheguy/securesend/internal/metrics"
)

func testMetrics() *metrics.Metrics {
	return metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
}

func minimalConfig() *config.Config {
	return config.Default()
}

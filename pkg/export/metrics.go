package export

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"gitlab.com/davidxarnold/census/pkg/core"
)

// NewRegistry returns a registry holding the inventory gauges for one
// provider's summary:
//
//	census_resources_total{provider}
//	census_resources{provider,dimension,bucket}
func NewRegistry(provider string, s core.Summary) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()

	total := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "census_resources_total",
		Help: "Number of resources found in the last inventory run.",
	}, []string{"provider"})
	dist := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "census_resources",
		Help: "Number of resources per distribution bucket in the last inventory run.",
	}, []string{"provider", "dimension", "bucket"})

	for _, c := range []prometheus.Collector{total, dist} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	total.WithLabelValues(provider).Set(float64(s.Total))
	for dimension, m := range map[string]map[string]int{
		"os_type":  s.ByOSType,
		"state":    s.ByState,
		"location": s.ByLocation,
	} {
		for bucket, n := range m {
			dist.WithLabelValues(provider, dimension, bucket).Set(float64(n))
		}
	}
	return reg, nil
}

// WriteMetricsFile writes the inventory gauges to path in the Prometheus
// text format, for the node exporter textfile collector.
func WriteMetricsFile(path, provider string, s core.Summary) error {
	reg, err := NewRegistry(provider, s)
	if err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("write metrics file: %w", err)
	}
	return nil
}

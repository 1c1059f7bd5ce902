package telemetry

import (
	"context"
	"fmt"
	"io"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

var defaultEncoder = attribute.DefaultEncoder()

// Provider is an in-process meter provider whose accumulated values can be
// collected on demand, e.g. printed by `bapelctl run` on exit.
type Provider struct {
	*sdkmetric.MeterProvider
	reader *sdkmetric.ManualReader
}

// NewProvider creates a Provider backed by a manual reader.
func NewProvider() *Provider {
	reader := sdkmetric.NewManualReader()
	return &Provider{
		MeterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		reader:        reader,
	}
}

// Collect returns the current value of every int64 sum and gauge data
// point, keyed by "name{attr=value,...}".
func (p *Provider) Collect(ctx context.Context) (map[string]int64, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("failed to collect metrics: %w", err)
	}

	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[seriesKey(m.Name, dp.Attributes.Encoded(defaultEncoder))] = dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					out[seriesKey(m.Name, dp.Attributes.Encoded(defaultEncoder))] = dp.Value
				}
			}
		}
	}
	return out, nil
}

// WriteSummary prints collected series to w, one per line, sorted by key.
func (p *Provider) WriteSummary(ctx context.Context, w io.Writer) error {
	series, err := p.Collect(ctx)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(series))
	for k := range series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%s %d\n", k, series[k]); err != nil {
			return err
		}
	}
	return nil
}

func seriesKey(name, attrs string) string {
	if attrs == "" {
		return name
	}
	return name + "{" + attrs + "}"
}

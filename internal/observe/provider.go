/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package observe

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the OpenTelemetry SDK meter provider.
type ProviderConfig struct {
	// ServiceName is the service name reported in telemetry. Default: "loqa-adapt".
	ServiceName    string
	ServiceVersion string
}

// Provider owns an SDK meter provider whose readings can be pulled on
// demand, which suits a short-lived CLI process.
type Provider struct {
	mp      *sdkmetric.MeterProvider
	reader  *sdkmetric.ManualReader
	Metrics *Metrics
}

// Point is one aggregated data point from a Snapshot.
type Point struct {
	Name       string  `json:"name"`
	Attributes string  `json:"attributes,omitempty"`
	Value      float64 `json:"value"`           // counter total or histogram sum
	Count      uint64  `json:"count,omitempty"` // histogram observations
}

// NewProvider builds the meter provider, registers it globally and creates
// the instruments on it.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "loqa-adapt"
	}

	// The service resource carries no schema URL; the SDK default supplies it.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	met, err := NewMetrics(mp)
	if err != nil {
		_ = mp.Shutdown(context.Background())
		return nil, err
	}

	return &Provider{mp: mp, reader: reader, Metrics: met}, nil
}

// Snapshot collects every instrument that has recorded something, ordered
// by name then attributes.
func (p *Provider) Snapshot(ctx context.Context) ([]Point, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}

	var points []Point
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					points = append(points, Point{Name: m.Name, Attributes: formatAttributes(dp.Attributes), Value: float64(dp.Value)})
				}
			case metricdata.Histogram[int64]:
				for _, dp := range data.DataPoints {
					points = append(points, Point{Name: m.Name, Attributes: formatAttributes(dp.Attributes), Value: float64(dp.Sum), Count: dp.Count})
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					points = append(points, Point{Name: m.Name, Attributes: formatAttributes(dp.Attributes), Value: dp.Sum, Count: dp.Count})
				}
			}
		}
	}

	sort.Slice(points, func(i, j int) bool {
		if points[i].Name != points[j].Name {
			return points[i].Name < points[j].Name
		}
		return points[i].Attributes < points[j].Attributes
	})
	return points, nil
}

func formatAttributes(set attribute.Set) string {
	kvs := set.ToSlice()
	parts := make([]string, len(kvs))
	for i, kv := range kvs {
		parts[i] = string(kv.Key) + "=" + kv.Value.Emit()
	}
	return strings.Join(parts, ",")
}

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.mp.Shutdown(ctx)
}

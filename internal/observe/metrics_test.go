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
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestRecordCorrection(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCorrection(ctx, "applied")
	m.RecordCorrection(ctx, "applied")
	m.RecordCorrection(ctx, "noop")

	met := findMetric(collect(t, reader), "loqa_adapt.corrections")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", met.Data)
	}

	got := map[string]int64{}
	for _, dp := range sum.DataPoints {
		outcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
		got[outcome.AsString()] = dp.Value
	}
	if got["applied"] != 2 || got["noop"] != 1 {
		t.Errorf("counts = %v", got)
	}
}

func TestRecordTranscription(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTranscription(ctx, "transcribe", 0.42, 0.87)
	m.RecordTranscription(ctx, "transcribe", 1.5, 0.6)

	rm := collect(t, reader)
	for _, name := range []string{"loqa_adapt.transcription.duration", "loqa_adapt.transcription.confidence"} {
		t.Run(name, func(t *testing.T) {
			met := findMetric(rm, name)
			if met == nil {
				t.Fatalf("metric %q not found", name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", name)
			}
			if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 2 {
				t.Errorf("data points = %+v", hist.DataPoints)
			}
		})
	}
}

func TestDiscard(t *testing.T) {
	m := Discard()
	ctx := context.Background()
	m.RecordCorrection(ctx, "applied")
	m.VoiceUpdates.Add(ctx, 1)
	m.SuggestionsReturned.Record(ctx, 3)
}

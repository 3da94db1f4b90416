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

// Package observe holds the OpenTelemetry instruments for adaptive learning.
// Tests should build [Metrics] from their own MeterProvider via [NewMetrics].
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/loqalabs/loqa-adapt"

// Metrics holds all instruments. The OTel types are safe for concurrent use.
type Metrics struct {
	// Corrections counts correction requests. Attribute "outcome":
	// applied, noop, failed.
	Corrections metric.Int64Counter

	// TermsLearned counts custom term mappings recorded.
	TermsLearned metric.Int64Counter

	// VoiceUpdates counts voice feature vectors appended to profiles.
	VoiceUpdates metric.Int64Counter

	// SuggestionsReturned records how many suggestions a request produced.
	SuggestionsReturned metric.Int64Histogram

	// ProfileSaveFailures counts failed profile writes.
	ProfileSaveFailures metric.Int64Counter

	// AdaptationFailures counts corrections and voice updates that failed
	// for a reason other than invalid input. Attribute "stage".
	AdaptationFailures metric.Int64Counter

	// ProfileResets counts profile resets.
	ProfileResets metric.Int64Counter

	// TranscriptionDuration tracks engine latency. Attribute "task":
	// transcribe, translate.
	TranscriptionDuration metric.Float64Histogram

	// TranscriptionConfidence records the averaged segment confidence.
	TranscriptionConfidence metric.Float64Histogram
}

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

var confidenceBuckets = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Corrections, err = m.Int64Counter("loqa_adapt.corrections",
		metric.WithDescription("Correction requests by outcome."),
	); err != nil {
		return nil, err
	}
	if met.TermsLearned, err = m.Int64Counter("loqa_adapt.terms_learned",
		metric.WithDescription("Custom term mappings recorded from corrections."),
	); err != nil {
		return nil, err
	}
	if met.VoiceUpdates, err = m.Int64Counter("loqa_adapt.voice_updates",
		metric.WithDescription("Voice feature vectors appended to profiles."),
	); err != nil {
		return nil, err
	}
	if met.SuggestionsReturned, err = m.Int64Histogram("loqa_adapt.suggestions.returned",
		metric.WithDescription("Suggestions returned per request."),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 3, 5, 10, 20),
	); err != nil {
		return nil, err
	}
	if met.ProfileSaveFailures, err = m.Int64Counter("loqa_adapt.profile.save_failures",
		metric.WithDescription("Failed profile writes."),
	); err != nil {
		return nil, err
	}
	if met.AdaptationFailures, err = m.Int64Counter("loqa_adapt.adaptation.failures",
		metric.WithDescription("Corrections and voice updates that failed unexpectedly."),
	); err != nil {
		return nil, err
	}
	if met.ProfileResets, err = m.Int64Counter("loqa_adapt.profile.resets",
		metric.WithDescription("Profiles reset on request."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionDuration, err = m.Float64Histogram("loqa_adapt.transcription.duration",
		metric.WithDescription("Latency of the speech-to-text engine."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionConfidence, err = m.Float64Histogram("loqa_adapt.transcription.confidence",
		metric.WithDescription("Average segment confidence of a transcription."),
		metric.WithExplicitBucketBoundaries(confidenceBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Discard returns instruments that record nothing.
func Discard() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: noop meter provider failed: " + err.Error())
	}
	return m
}

// RecordCorrection counts one correction request with its outcome.
func (m *Metrics) RecordCorrection(ctx context.Context, outcome string) {
	m.Corrections.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordTranscription records latency and confidence for one engine call.
func (m *Metrics) RecordTranscription(ctx context.Context, task string, seconds, confidence float64) {
	attrs := metric.WithAttributes(attribute.String("task", task))
	m.TranscriptionDuration.Record(ctx, seconds, attrs)
	m.TranscriptionConfidence.Record(ctx, confidence, attrs)
}

// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package threat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tomtom215/aegis/internal/logging"
	"github.com/tomtom215/aegis/internal/metrics"
)

const tracerName = "github.com/tomtom215/aegis/internal/threat"

// errDetectorTimeout marks a detector that did not finish in time.
var errDetectorTimeout = errors.New("detector timed out")

// Analyzer runs the pattern matcher and all detectors against a signal and
// scores the result. Detectors run concurrently under a shared deadline;
// whatever has finished by then is used.
type Analyzer struct {
	matcher   *PatternMatcher
	scorer    *Scorer
	decider   *Decider
	detectors []Detector
	timeout   time.Duration
	tracer    trace.Tracer
}

// NewAnalyzer creates an analyzer. timeout bounds the detector fan-out.
func NewAnalyzer(matcher *PatternMatcher, scorer *Scorer, decider *Decider, timeout time.Duration, detectors ...Detector) *Analyzer {
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	return &Analyzer{
		matcher:   matcher,
		scorer:    scorer,
		decider:   decider,
		detectors: detectors,
		timeout:   timeout,
		tracer:    otel.Tracer(tracerName),
	}
}

// Analyze scores sig. It never fails: detector errors, panics and timeouts
// are recorded in the returned Analysis and contribute no anomalies.
func (a *Analyzer) Analyze(ctx context.Context, sig *RequestSignal) *Analysis {
	start := time.Now()
	ctx, span := a.tracer.Start(ctx, "threat.Analyze", trace.WithAttributes(
		attribute.String("request.id", sig.RequestID),
		attribute.String("http.method", sig.Method),
		attribute.String("url.path", sig.Path),
	))
	defer span.End()

	patterns := a.matcher.Match(sig)
	for cat, n := range patterns {
		if n > 0 {
			metrics.PatternMatches.WithLabelValues(string(cat)).Add(float64(n))
		}
	}

	results := a.runDetectors(ctx, sig)
	anomalies := make([]Anomaly, 0)
	for _, r := range results {
		if !r.OK() {
			continue
		}
		for _, an := range r.Anomalies {
			metrics.AnomaliesDetected.WithLabelValues(string(an.Type), string(an.Severity)).Inc()
		}
		anomalies = append(anomalies, r.Anomalies...)
	}

	score, breakdown := a.scorer.Score(patterns, anomalies)
	decision := a.decider.Decide(score)
	elapsed := time.Since(start)

	metrics.RecordEvaluation(string(decision.Action), score, elapsed)
	span.SetAttributes(
		attribute.Float64("threat.score", score),
		attribute.String("threat.action", string(decision.Action)),
		attribute.Int("threat.anomalies", len(anomalies)),
	)

	return &Analysis{
		Score:           score,
		Breakdown:       breakdown,
		PatternMatches:  patterns,
		Anomalies:       anomalies,
		Detectors:       results,
		Decision:        decision,
		PatternVersion:  PatternTableVersion,
		DurationSeconds: elapsed.Seconds(),
	}
}

type indexedResult struct {
	index  int
	result DetectorResult
}

func (a *Analyzer) runDetectors(ctx context.Context, sig *RequestSignal) []DetectorResult {
	results := make([]DetectorResult, len(a.detectors))
	if len(a.detectors) == 0 {
		return results
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	// Buffered so late detectors never block after the deadline.
	ch := make(chan indexedResult, len(a.detectors))
	for i, d := range a.detectors {
		go func() {
			ch <- indexedResult{index: i, result: a.runOne(ctx, d, sig)}
		}()
	}

	done := make([]bool, len(a.detectors))
	start := time.Now()
collect:
	for received := 0; received < len(a.detectors); received++ {
		select {
		case r := <-ch:
			results[r.index] = r.result
			done[r.index] = true
		case <-ctx.Done():
			break collect
		}
	}

	for i, d := range a.detectors {
		if done[i] {
			continue
		}
		elapsed := time.Since(start)
		results[i] = DetectorResult{
			Name:            d.Name(),
			Err:             &DetectorError{Detector: d.Name(), Err: errDetectorTimeout},
			Error:           errDetectorTimeout.Error(),
			TimedOut:        true,
			DurationSeconds: elapsed.Seconds(),
		}
		metrics.RecordDetector(d.Name(), elapsed, "timeout")
		logging.Ctx(ctx).Warn().
			Str("detector", d.Name()).
			Dur("timeout", a.timeout).
			Msg("Detector timed out, continuing without its result")
	}
	return results
}

func (a *Analyzer) runOne(ctx context.Context, d Detector, sig *RequestSignal) (res DetectorResult) {
	name := d.Name()
	ctx, span := a.tracer.Start(ctx, "threat.detector."+name)
	start := time.Now()
	res.Name = name

	defer func() {
		elapsed := time.Since(start)
		res.DurationSeconds = elapsed.Seconds()

		if p := recover(); p != nil {
			res.Anomalies = nil
			res.Err = &DetectorError{Detector: name, Panic: true, Err: fmt.Errorf("%v", p)}
		}

		reason := ""
		if res.Err != nil {
			res.Error = res.Err.Error()
			reason = "error"
			var de *DetectorError
			if errors.As(res.Err, &de) && de.Panic {
				reason = "panic"
			}
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Error)
			logging.Ctx(ctx).Warn().Err(res.Err).Str("detector", name).Msg("Detector failed, continuing without its result")
		}
		metrics.RecordDetector(name, elapsed, reason)
		span.End()
	}()

	anomalies, err := d.Detect(ctx, sig)
	if err != nil {
		res.Err = &DetectorError{Detector: name, Err: err}
		return res
	}
	res.Anomalies = anomalies
	return res
}

// Matcher returns the pattern matcher.
func (a *Analyzer) Matcher() *PatternMatcher { return a.matcher }

// Scorer returns the scorer.
func (a *Analyzer) Scorer() *Scorer { return a.scorer }

// Decider returns the decider.
func (a *Analyzer) Decider() *Decider { return a.decider }

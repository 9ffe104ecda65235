// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/aegis/internal/alerting"
	"github.com/tomtom215/aegis/internal/config"
	"github.com/tomtom215/aegis/internal/eventbus"
	"github.com/tomtom215/aegis/internal/logging"
	"github.com/tomtom215/aegis/internal/profile"
	"github.com/tomtom215/aegis/internal/storage"
)

// Task names.
const (
	TaskProfileAggregation = "profile-aggregation"
	TaskMetricsBroadcast   = "metrics-broadcast"
	TaskCacheCleanup       = "cache-cleanup"
	TaskAlertRequeue       = "alert-requeue"
	TaskThreatDigest       = "threat-digest"
)

// ProfileSource exposes behavioural profiles.
type ProfileSource interface {
	Range(fn func(profile.Snapshot) bool)
	CleanupExpired() int
}

// Publisher publishes bus events.
type Publisher interface {
	Publish(ctx context.Context, topic, eventType string, payload any) error
}

// MetricsSource produces the realtime metrics snapshot.
type MetricsSource interface {
	RealtimeMetrics(ctx context.Context) (any, error)
}

// Cleaner drops expired state.
type Cleaner interface {
	Cleanup(ctx context.Context) (int, error)
}

// Sweeper drops idle in-memory counters and returns how many it removed.
type Sweeper interface {
	Cleanup() int
}

// AlertService retries failed alerts and sends digests.
type AlertService interface {
	RequeueFailed(ctx context.Context) (alerting.RequeueReport, error)
	SendDigest(ctx context.Context, d alerting.Digest) error
}

// StatsSource aggregates the threat log and incidents.
type StatsSource interface {
	ThreatStats(ctx context.Context, since time.Time) (storage.ThreatStats, error)
	CountIncidents(ctx context.Context, since time.Time) (storage.IncidentCounts, error)
}

// HighRiskIdentity is published for identities whose recent scores stay high.
type HighRiskIdentity struct {
	Key          string    `json:"key"`
	AverageScore float64   `json:"averageScore"`
	Samples      int       `json:"samples"`
	LastSeen     time.Time `json:"lastSeen"`
}

// Jobs holds the dependencies of the built-in tasks. Nil dependencies
// disable the tasks that need them.
type Jobs struct {
	Profiles  ProfileSource
	Publisher Publisher
	Metrics   MetricsSource
	State     Cleaner
	Audit     Cleaner
	Sweepers  []Sweeper
	Alerts    AlertService
	Stats     StatsSource

	cfg config.SchedulerConfig
	now func() time.Time

	mu         sync.Mutex
	lastDigest time.Time
}

// NewJobs binds the scheduler settings.
func NewJobs(cfg config.SchedulerConfig) *Jobs {
	return &Jobs{cfg: cfg, now: time.Now}
}

// Register adds every task whose dependencies are present and whose
// schedule is configured.
func (j *Jobs) Register(s *Scheduler) error {
	var errs []error
	add := func(t Task, enabled bool) {
		if !enabled {
			logging.Debug().Str("task", t.Name).Msg("scheduled task disabled")
			return
		}
		if err := s.Add(t); err != nil {
			errs = append(errs, err)
		}
	}

	add(Task{Name: TaskProfileAggregation, Interval: j.cfg.ProfileAggregation, Run: j.AggregateProfiles},
		j.Profiles != nil && j.Publisher != nil && j.cfg.ProfileAggregation > 0)
	add(Task{Name: TaskMetricsBroadcast, Interval: j.cfg.MetricsBroadcast, Timeout: 10 * time.Second, Run: j.BroadcastMetrics},
		j.Metrics != nil && j.Publisher != nil && j.cfg.MetricsBroadcast > 0)
	add(Task{Name: TaskCacheCleanup, Interval: j.cfg.CacheCleanup, Run: j.CleanupCaches},
		(j.Profiles != nil || j.State != nil || j.Audit != nil || len(j.Sweepers) > 0) && j.cfg.CacheCleanup > 0)
	add(Task{Name: TaskAlertRequeue, Interval: j.cfg.AlertRequeue, Timeout: 5 * time.Minute, Run: j.RequeueAlerts},
		j.Alerts != nil && j.cfg.AlertRequeue > 0)
	add(Task{Name: TaskThreatDigest, Cron: j.cfg.DigestCron, Timeout: 2 * time.Minute, Run: j.SendDigest},
		j.Alerts != nil && j.Stats != nil && j.cfg.DigestCron != "")
	return errors.Join(errs...)
}

// AggregateProfiles flags identities whose average over the last
// HighRiskWindow scores exceeds HighRiskAverage with more than
// HighRiskMinSamples samples.
func (j *Jobs) AggregateProfiles(ctx context.Context) error {
	var flagged []HighRiskIdentity
	j.Profiles.Range(func(s profile.Snapshot) bool {
		avg, n := s.AverageRecent(j.cfg.HighRiskWindow)
		if n > j.cfg.HighRiskMinSamples && avg > j.cfg.HighRiskAverage {
			flagged = append(flagged, HighRiskIdentity{Key: s.Key, AverageScore: avg, Samples: n, LastSeen: s.LastSeen})
		}
		return ctx.Err() == nil
	})

	var errs []error
	for _, id := range flagged {
		logging.Ctx(ctx).Warn().Str("identity", id.Key).Float64("average_score", id.AverageScore).
			Int("samples", id.Samples).Msg("high-risk identity detected")
		if err := j.Publisher.Publish(ctx, eventbus.TopicThreats, eventbus.EventHighRiskIdentity, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BroadcastMetrics publishes the realtime metrics snapshot.
func (j *Jobs) BroadcastMetrics(ctx context.Context) error {
	snapshot, err := j.Metrics.RealtimeMetrics(ctx)
	if err != nil {
		return fmt.Errorf("collect realtime metrics: %w", err)
	}
	return j.Publisher.Publish(ctx, eventbus.TopicMetrics, eventbus.EventMetricsUpdate, snapshot)
}

// CleanupCaches drops idle profiles, expired response flags and audit
// events past retention.
func (j *Jobs) CleanupCaches(ctx context.Context) error {
	profiles := 0
	if j.Profiles != nil {
		profiles = j.Profiles.CleanupExpired()
	}
	flags := 0
	if j.State != nil {
		n, err := j.State.Cleanup(ctx)
		if err != nil {
			return fmt.Errorf("cleanup response state: %w", err)
		}
		flags = n
	}
	audited := 0
	if j.Audit != nil {
		n, err := j.Audit.Cleanup(ctx)
		if err != nil {
			return fmt.Errorf("cleanup audit trail: %w", err)
		}
		audited = n
	}
	counters := 0
	for _, sw := range j.Sweepers {
		counters += sw.Cleanup()
	}
	logging.Debug().Int("profiles", profiles).Int("flags", flags).Int("audit_events", audited).Int("counters", counters).
		Msg("expired entries removed")
	return nil
}

// RequeueAlerts retries failed alert deliveries.
func (j *Jobs) RequeueAlerts(ctx context.Context) error {
	report, err := j.Alerts.RequeueFailed(ctx)
	if err != nil {
		return fmt.Errorf("requeue alerts: %w", err)
	}
	if report.Attempted > 0 {
		logging.Info().Int("attempted", report.Attempted).Int("sent", report.Sent).
			Int("failed", report.Failed).Msg("failed alerts requeued")
	}
	return nil
}

// SendDigest summarises activity since the previous digest.
func (j *Jobs) SendDigest(ctx context.Context) error {
	now := j.now().UTC()
	j.mu.Lock()
	since := j.lastDigest
	j.mu.Unlock()
	if since.IsZero() {
		since = now.Add(-time.Hour)
	}

	stats, err := j.Stats.ThreatStats(ctx, since)
	if err != nil {
		return fmt.Errorf("digest threat stats: %w", err)
	}
	counts, err := j.Stats.CountIncidents(ctx, since)
	if err != nil {
		return fmt.Errorf("digest incident counts: %w", err)
	}

	d := alerting.Digest{
		Since:         since,
		Until:         now,
		TotalRequests: stats.Total,
		ByAction:      make(map[string]int, len(stats.ByAction)),
		Incidents:     int(counts.Total),
		OpenIncidents: int(counts.Open),
	}
	for action, n := range stats.ByAction {
		d.ByAction[action] = int(n)
	}
	for _, ip := range stats.TopIPs {
		d.TopIPs = append(d.TopIPs, ip.IP)
	}
	if err := j.Alerts.SendDigest(ctx, d); err != nil {
		return fmt.Errorf("send digest: %w", err)
	}

	j.mu.Lock()
	j.lastDigest = now
	j.mu.Unlock()
	return nil
}

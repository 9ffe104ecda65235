// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrDuplicateRulePriority is returned when two rules share a priority.
var ErrDuplicateRulePriority = errors.New("duplicate rule priority")

var validSeverities = map[string]bool{"LOW": true, "MEDIUM": true, "HIGH": true, "CRITICAL": true}

var validRuleActions = map[string]bool{
	"BLOCK_IP":            true,
	"SUSPEND_USER":        true,
	"INCREASE_MONITORING": true,
	"FORCE_MFA":           true,
	"NOTIFY_ADMIN":        true,
}

// Validate checks that the configuration is complete and internally
// consistent. It is called by Load and by every hot reload.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateServer,
		c.validateLogging,
		c.validateStorage,
		c.validateSecurity,
		c.validateThreat,
		c.validateDetectors,
		c.validateProfiles,
		c.validateIncidents,
		c.validateRules,
		c.validateAlerts,
		c.validateEventBus,
		c.validateScheduler,
		c.validateAudit,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Server.Environment {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("ENVIRONMENT must be development, staging or production, got %q", c.Server.Environment)
	}
	if c.Server.UpstreamURL != "" {
		u, err := url.Parse(c.Server.UpstreamURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("UPSTREAM_URL must be an absolute http(s) URL, got %q", c.Server.UpstreamURL)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be trace, debug, info, warn or error, got %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.Driver != "duckdb" && c.Storage.Driver != "sqlite3" {
		return fmt.Errorf("STORAGE_DRIVER must be duckdb or sqlite3, got %q", c.Storage.Driver)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("STORAGE_PATH is required")
	}
	switch c.State.Backend {
	case "memory":
	case "badger":
		if c.State.Path == "" {
			return fmt.Errorf("STATE_PATH is required when STATE_BACKEND=badger")
		}
	default:
		return fmt.Errorf("STATE_BACKEND must be memory or badger, got %q", c.State.Backend)
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if c.IsProduction() && len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}
	if !c.Security.RateLimitDisabled && (c.Security.RateLimitReqs <= 0 || c.Security.RateLimitWindow <= 0) {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive")
	}
	for _, cidr := range c.Security.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil && net.ParseIP(cidr) == nil {
			return fmt.Errorf("TRUSTED_PROXIES entry %q is neither an IP nor a CIDR", cidr)
		}
	}
	return nil
}

func (c *Config) validateThreat() error {
	w := c.Threat.Weights
	for name, v := range map[string]float64{
		"pattern": w.Pattern, "behavioral": w.Behavioral, "frequency": w.Frequency,
		"geographic": w.Geographic, "temporal": w.Temporal,
	} {
		if !unitInterval(v) {
			return fmt.Errorf("threat.weights.%s must be within [0,1], got %v", name, v)
		}
	}
	k := c.Threat.Constants
	for name, v := range map[string]float64{
		"pattern_per_match": k.PatternPerMatch, "frequency_critical": k.FrequencyCritical,
		"frequency_suspicious": k.FrequencySuspicious, "geographic": k.Geographic, "temporal": k.Temporal,
	} {
		if !unitInterval(v) {
			return fmt.Errorf("threat.constants.%s must be within [0,1], got %v", name, v)
		}
	}
	s := c.Threat.SeverityWeights
	for name, v := range map[string]float64{"critical": s.Critical, "high": s.High, "medium": s.Medium, "low": s.Low} {
		if !unitInterval(v) {
			return fmt.Errorf("threat.severity_weights.%s must be within [0,1], got %v", name, v)
		}
	}

	t := c.Threat.Thresholds
	steps := []float64{0, t.Log, t.Monitor, t.Challenge, t.Block}
	for i := 1; i < len(steps); i++ {
		if !(steps[i] > steps[i-1]) || steps[i] > 1 {
			return fmt.Errorf("threat.thresholds must be strictly ascending within (0,1]: log=%v monitor=%v challenge=%v block=%v",
				t.Log, t.Monitor, t.Challenge, t.Block)
		}
	}
	return nil
}

func (c *Config) validateDetectors() error {
	d := c.Detectors
	if d.Timeout <= 0 {
		return fmt.Errorf("DETECTOR_TIMEOUT must be positive")
	}
	if d.Frequency.Enabled {
		if d.Frequency.Window <= 0 || d.Frequency.Buckets <= 0 {
			return fmt.Errorf("detectors.frequency window and buckets must be positive")
		}
		if d.Frequency.Suspicious <= 0 || d.Frequency.Critical <= d.Frequency.Suspicious {
			return fmt.Errorf("detectors.frequency requires 0 < suspicious < critical")
		}
	}
	if d.Geographic.Enabled && (d.Geographic.MaxDistanceKm <= 0 || d.Geographic.Window <= 0) {
		return fmt.Errorf("detectors.geographic max_distance_km and window must be positive")
	}
	if d.Temporal.Enabled {
		if d.Temporal.StartHour < 0 || d.Temporal.StartHour > 23 || d.Temporal.EndHour < 0 || d.Temporal.EndHour > 23 {
			return fmt.Errorf("detectors.temporal hours must be within [0,23]")
		}
		if d.Temporal.StartHour > d.Temporal.EndHour {
			return fmt.Errorf("detectors.temporal start_hour must not exceed end_hour")
		}
		if _, err := time.LoadLocation(d.Temporal.Timezone); err != nil {
			return fmt.Errorf("TEMPORAL_TIMEZONE is invalid: %w", err)
		}
	}
	if d.DataVolume.Enabled && (d.DataVolume.Suspicious <= 0 || d.DataVolume.Critical <= d.DataVolume.Suspicious) {
		return fmt.Errorf("detectors.data_volume requires 0 < suspicious < critical")
	}
	if d.AuthFailure.Enabled {
		if d.AuthFailure.Window <= 0 {
			return fmt.Errorf("AUTH_FAILURE_WINDOW must be positive")
		}
		if d.AuthFailure.Suspicious <= 0 || d.AuthFailure.Critical <= d.AuthFailure.Suspicious {
			return fmt.Errorf("detectors.auth_failure requires 0 < suspicious < critical")
		}
	}
	return nil
}

func (c *Config) validateProfiles() error {
	if c.Profiles.Capacity <= 0 || c.Profiles.IdleTTL <= 0 || c.Profiles.RecentScores <= 0 {
		return fmt.Errorf("profiles capacity, idle_ttl and recent_scores must be positive")
	}
	if c.Pipeline.Workers <= 0 || c.Pipeline.QueueSize <= 0 || c.Pipeline.BodySampleBytes < 0 {
		return fmt.Errorf("pipeline workers and queue_size must be positive")
	}
	return nil
}

func (c *Config) validateIncidents() error {
	if !validSeverities[c.Incidents.AnomalyMinSeverity] {
		return fmt.Errorf("INCIDENT_ANOMALY_MIN_SEVERITY must be LOW, MEDIUM, HIGH or CRITICAL, got %q", c.Incidents.AnomalyMinSeverity)
	}
	if c.Actions.BlockDuration <= 0 || c.Actions.MFADuration <= 0 || c.Actions.MonitoringDuration <= 0 {
		return fmt.Errorf("actions block, mfa and monitoring durations must be positive")
	}
	if c.Actions.SuspendDuration < 0 {
		return fmt.Errorf("SUSPEND_DURATION must not be negative")
	}
	return nil
}

// validateRules checks the rule table. Rule semantics are enforced again
// when the table is compiled; failing here stops startup before any
// component is built.
func (c *Config) validateRules() error {
	return ValidateRules(c.Rules)
}

// ValidateRules checks a rule table in isolation.
func ValidateRules(rules []RuleConfig) error {
	names := make(map[string]bool, len(rules))
	priorities := make(map[int]string, len(rules))
	for _, r := range rules {
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("rule with priority %d has no name", r.Priority)
		}
		if names[r.Name] {
			return fmt.Errorf("rule name %q is used more than once", r.Name)
		}
		names[r.Name] = true
		if other, ok := priorities[r.Priority]; ok {
			return fmt.Errorf("%w: rules %q and %q both use priority %d", ErrDuplicateRulePriority, other, r.Name, r.Priority)
		}
		priorities[r.Priority] = r.Name

		if len(r.Actions) == 0 {
			return fmt.Errorf("rule %q has no actions", r.Name)
		}
		for _, a := range r.Actions {
			if !validRuleActions[a] {
				return fmt.Errorf("rule %q has unknown action %q", r.Name, a)
			}
		}
		cond := r.Conditions
		if cond.Severity != "" && !validSeverities[cond.Severity] {
			return fmt.Errorf("rule %q has unknown severity %q", r.Name, cond.Severity)
		}
		if err := checkRange(r.Name, "score", cond.MinScore, cond.MaxScore); err != nil {
			return err
		}
		if err := checkRange(r.Name, "distance", cond.MinDistanceKm, cond.MaxDistanceKm); err != nil {
			return err
		}
		if err := checkRange(r.Name, "failures", intPtrToFloat(cond.MinFailures), intPtrToFloat(cond.MaxFailures)); err != nil {
			return err
		}
	}
	return nil
}

func checkRange(rule, field string, lo, hi *float64) error {
	if lo != nil && hi != nil && *lo > *hi {
		return fmt.Errorf("rule %q has an empty %s range [%v, %v]", rule, field, *lo, *hi)
	}
	return nil
}

func intPtrToFloat(v *int) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}

func (c *Config) validateAlerts() error {
	a := c.Alerts
	if a.MaxRetries < 0 {
		return fmt.Errorf("ALERT_MAX_RETRIES must not be negative")
	}
	if a.DeliveryTimeout <= 0 {
		return fmt.Errorf("ALERT_DELIVERY_TIMEOUT must be positive")
	}
	for name, common := range map[string]ChannelCommon{
		"email": a.Email.Common(), "webhook": a.Webhook.Common(), "slack": a.Slack.Common(),
		"discord": a.Discord.Common(), "sms": a.SMS.Common(),
	} {
		if common.Enabled && !validSeverities[common.MinSeverity] {
			return fmt.Errorf("alerts.%s.min_severity must be LOW, MEDIUM, HIGH or CRITICAL, got %q", name, common.MinSeverity)
		}
	}
	if a.Email.Enabled {
		if a.Email.Host == "" || a.Email.From == "" || len(a.Email.Recipients) == 0 {
			return fmt.Errorf("SMTP_HOST, SMTP_FROM and ALERT_EMAIL_RECIPIENTS are required when email alerts are enabled")
		}
	}
	if a.Webhook.Enabled {
		if len(a.Webhook.Endpoints) == 0 {
			return fmt.Errorf("ALERT_WEBHOOK_ENDPOINTS is required when webhook alerts are enabled")
		}
		for _, e := range a.Webhook.Endpoints {
			if err := validateEndpointURL(e, "ALERT_WEBHOOK_ENDPOINTS"); err != nil {
				return err
			}
		}
	}
	if a.Slack.Enabled {
		if err := validateEndpointURL(a.Slack.WebhookURL, "SLACK_WEBHOOK_URL"); err != nil {
			return err
		}
	}
	if a.Discord.Enabled {
		if err := validateEndpointURL(a.Discord.WebhookURL, "DISCORD_WEBHOOK_URL"); err != nil {
			return err
		}
	}
	if a.SMS.Enabled {
		if a.SMS.AccountSID == "" || a.SMS.AuthToken == "" || a.SMS.From == "" || len(a.SMS.To) == 0 {
			return fmt.Errorf("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, TWILIO_FROM and ALERT_SMS_TO are required when SMS alerts are enabled")
		}
	}
	return nil
}

func (c *Config) validateEventBus() error {
	switch c.EventBus.Driver {
	case "memory":
		return nil
	case "nats":
		if c.EventBus.DurablePrefix == "" {
			return fmt.Errorf("eventbus.durable_prefix is required when EVENTBUS_DRIVER is nats")
		}
		if c.EventBus.EmbeddedServer {
			return nil
		}
		return validateNATSURL(c.EventBus.URL)
	default:
		return fmt.Errorf("EVENTBUS_DRIVER must be memory or nats, got %q", c.EventBus.Driver)
	}
}

func (c *Config) validateScheduler() error {
	s := c.Scheduler
	for name, d := range map[string]time.Duration{
		"profile_aggregation": s.ProfileAggregation, "metrics_broadcast": s.MetricsBroadcast,
		"cache_cleanup": s.CacheCleanup, "alert_requeue": s.AlertRequeue,
	} {
		if d <= 0 {
			return fmt.Errorf("scheduler.%s must be positive", name)
		}
	}
	if s.DigestCron != "" {
		if _, err := cron.ParseStandard(s.DigestCron); err != nil {
			return fmt.Errorf("SCHEDULE_DIGEST_CRON is invalid: %w", err)
		}
	}
	return nil
}

func (c *Config) validateAudit() error {
	if c.Audit.Retention < 0 {
		return fmt.Errorf("AUDIT_RETENTION must not be negative")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return fmt.Errorf("AUDIT_BUFFER_SIZE must be positive, got %d", c.Audit.BufferSize)
	}
	return nil
}

// validateEndpointURL accepts absolute http(s) URLs with any path.
func validateEndpointURL(rawURL, fieldName string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s failed to parse URL: %w", fieldName, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got: %q", fieldName, parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s host is required", fieldName)
	}
	return nil
}

// validateNATSURL validates that the NATS URL is properly formatted.
func validateNATSURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("NATS_URL failed to parse: %w", err)
	}
	switch parsed.Scheme {
	case "nats", "tls", "ws", "wss":
	default:
		return fmt.Errorf("NATS_URL scheme must be nats, tls, ws, or wss, got: %s", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("NATS_URL host is required")
	}
	return nil
}

func unitInterval(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

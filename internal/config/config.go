// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

// Package config loads Aegis configuration.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: built-in values from Defaults()
//  2. Config File: optional YAML file (CONFIG_PATH, ./config.yaml, /etc/aegis/config.yaml)
//  3. Environment Variables: mapped explicitly through envTransformFunc
//
// Every scoring weight, action threshold and detector constant is a
// configuration value. Load validates the result and refuses to start on a
// malformed rule table or non-monotonic thresholds.
//
// Config is immutable after Load and safe for concurrent reads. Hot reload
// (Watch) produces a new *Config; it never mutates the old one.
package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Storage   StorageConfig   `koanf:"storage"`
	State     StateConfig     `koanf:"state"`
	Security  SecurityConfig  `koanf:"security"`
	Threat    ThreatConfig    `koanf:"threat"`
	Detectors DetectorsConfig `koanf:"detectors"`
	GeoIP     GeoIPConfig     `koanf:"geoip"`
	Profiles  ProfilesConfig  `koanf:"profiles"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Incidents IncidentsConfig `koanf:"incidents"`
	Rules     []RuleConfig    `koanf:"rules"`
	Actions   ActionsConfig   `koanf:"actions"`
	Alerts    AlertsConfig    `koanf:"alerts"`
	Realtime  RealtimeConfig  `koanf:"realtime"`
	EventBus  EventBusConfig  `koanf:"eventbus"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Audit     AuditConfig     `koanf:"audit"`

	// SourcePath is the config file that was loaded, if any.
	SourcePath string `koanf:"-"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	Host            string        `koanf:"host"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	Environment     string        `koanf:"environment"` // development, staging, production
	// UpstreamURL is the protected application. Requests outside the admin
	// API are scored and, unless blocked, reverse-proxied there. Empty
	// serves a bare 404 behind the threat middleware.
	UpstreamURL string `koanf:"upstream_url"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig holds logging settings for zerolog.
//
// Environment Variables:
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, console (default: json)
//   - LOG_CALLER: true/false (default: false)
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// StorageConfig selects the SQL store for threat logs, incidents and alerts.
type StorageConfig struct {
	// Driver is duckdb or sqlite3.
	Driver       string `koanf:"driver"`
	Path         string `koanf:"path"`
	MaxOpenConns int    `koanf:"max_open_conns"`
}

// StateConfig selects where enforcement flags (blocked IPs, suspended users,
// forced MFA) are kept.
type StateConfig struct {
	// Backend is memory or badger.
	Backend string `koanf:"backend"`
	Path    string `koanf:"path"`
}

// SecurityConfig holds admin API authentication and request-edge settings.
type SecurityConfig struct {
	// JWTSecret verifies HS256 bearer tokens for both identity extraction and
	// the admin API. Empty disables token parsing.
	JWTSecret         string        `koanf:"jwt_secret"`
	JWTIssuer         string        `koanf:"jwt_issuer"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	TrustedProxies    []string      `koanf:"trusted_proxies"`
	Casbin            CasbinConfig  `koanf:"casbin"`
}

// CasbinConfig locates optional model/policy overrides for admin RBAC.
type CasbinConfig struct {
	ModelPath   string `koanf:"model_path"`
	PolicyPath  string `koanf:"policy_path"`
	DefaultRole string `koanf:"default_role"`
}

// ThreatConfig holds the scoring formula and action thresholds.
type ThreatConfig struct {
	Weights         WeightsConfig         `koanf:"weights"`
	Constants       ScoreConstantsConfig  `koanf:"constants"`
	SeverityWeights SeverityWeightsConfig `koanf:"severity_weights"`
	Thresholds      ActionThresholds      `koanf:"thresholds"`
}

// WeightsConfig are the coefficients of the five score terms.
type WeightsConfig struct {
	Pattern    float64 `koanf:"pattern"`
	Behavioral float64 `koanf:"behavioral"`
	Frequency  float64 `koanf:"frequency"`
	Geographic float64 `koanf:"geographic"`
	Temporal   float64 `koanf:"temporal"`
}

// ScoreConstantsConfig maps detector outcomes to term values.
type ScoreConstantsConfig struct {
	PatternPerMatch     float64 `koanf:"pattern_per_match"`
	FrequencyCritical   float64 `koanf:"frequency_critical"`
	FrequencySuspicious float64 `koanf:"frequency_suspicious"`
	Geographic          float64 `koanf:"geographic"`
	Temporal            float64 `koanf:"temporal"`
}

// SeverityWeightsConfig is the behavioral contribution of one anomaly.
type SeverityWeightsConfig struct {
	Critical float64 `koanf:"critical"`
	High     float64 `koanf:"high"`
	Medium   float64 `koanf:"medium"`
	Low      float64 `koanf:"low"`
}

// ActionThresholds are inclusive lower bounds for each action.
type ActionThresholds struct {
	Log       float64 `koanf:"log"`
	Monitor   float64 `koanf:"monitor"`
	Challenge float64 `koanf:"challenge"`
	Block     float64 `koanf:"block"`
}

// DetectorsConfig configures the anomaly detectors.
type DetectorsConfig struct {
	// Timeout bounds the whole parallel detector fan-out per request.
	Timeout     time.Duration     `koanf:"timeout"`
	Frequency   FrequencyConfig   `koanf:"frequency"`
	Geographic  GeographicConfig  `koanf:"geographic"`
	Temporal    TemporalConfig    `koanf:"temporal"`
	DataVolume  DataVolumeConfig  `koanf:"data_volume"`
	AuthFailure AuthFailureConfig `koanf:"auth_failure"`
	Behavioral  BehavioralConfig  `koanf:"behavioral"`
}

// FrequencyConfig configures the per-(ip, user) request rate detector.
type FrequencyConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Window     time.Duration `koanf:"window"`
	Buckets    int           `koanf:"buckets"`
	Suspicious int64         `koanf:"suspicious"`
	Critical   int64         `koanf:"critical"`
	MaxKeys    int           `koanf:"max_keys"`
}

// GeographicConfig configures impossible-travel detection.
type GeographicConfig struct {
	Enabled         bool          `koanf:"enabled"`
	MaxDistanceKm   float64       `koanf:"max_distance_km"`
	Window          time.Duration `koanf:"window"`
	CacheSize       int           `koanf:"cache_size"`
	LatitudeHeader  string        `koanf:"latitude_header"`
	LongitudeHeader string        `koanf:"longitude_header"`
	CountryHeader   string        `koanf:"country_header"`
}

// TemporalConfig configures off-hours detection.
type TemporalConfig struct {
	Enabled   bool   `koanf:"enabled"`
	StartHour int    `koanf:"start_hour"`
	EndHour   int    `koanf:"end_hour"`
	Timezone  string `koanf:"timezone"`
}

// Location resolves Timezone, falling back to UTC.
func (t TemporalConfig) Location() *time.Location {
	if t.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DataVolumeConfig configures the declared body size detector.
type DataVolumeConfig struct {
	Enabled    bool  `koanf:"enabled"`
	Suspicious int64 `koanf:"suspicious"`
	Critical   int64 `koanf:"critical"`
}

// AuthFailureConfig configures the per-IP authentication failure detector.
type AuthFailureConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Window     time.Duration `koanf:"window"`
	Suspicious int64         `koanf:"suspicious"`
	Critical   int64         `koanf:"critical"`
	MaxKeys    int           `koanf:"max_keys"`
	// LoginPaths are path prefixes on which a downstream 401 counts as an
	// authentication failure.
	LoginPaths []string `koanf:"login_paths"`
}

// BehavioralConfig configures first-seen method/path detection.
type BehavioralConfig struct {
	Enabled    bool  `koanf:"enabled"`
	MinSamples int64 `koanf:"min_samples"`
}

// GeoIPConfig locates an optional MaxMind GeoIP2/GeoLite2 City database.
type GeoIPConfig struct {
	DatabasePath string `koanf:"database_path"`
}

// ProfilesConfig bounds the behavioral profile store.
type ProfilesConfig struct {
	Capacity     int           `koanf:"capacity"`
	IdleTTL      time.Duration `koanf:"idle_ttl"`
	RecentScores int           `koanf:"recent_scores"`
}

// PipelineConfig bounds the request-path work.
type PipelineConfig struct {
	Workers         int `koanf:"workers"`
	QueueSize       int `koanf:"queue_size"`
	BodySampleBytes int `koanf:"body_sample_bytes"`
}

// IncidentsConfig controls incident generation from analyses.
type IncidentsConfig struct {
	// AnomalyMinSeverity is the lowest anomaly severity that opens its own
	// typed incident.
	AnomalyMinSeverity string `koanf:"anomaly_min_severity"`
}

// RuleConfig is one row of the incident response rule table.
type RuleConfig struct {
	Name       string               `koanf:"name"`
	Priority   int                  `koanf:"priority"`
	Disabled   bool                 `koanf:"disabled"`
	Conditions RuleConditionsConfig `koanf:"conditions"`
	Actions    []string             `koanf:"actions"`
}

// RuleConditionsConfig holds optional equality and inclusive range
// conditions. Absent fields do not constrain the match.
type RuleConditionsConfig struct {
	Severity      string   `koanf:"severity"`
	IncidentType  string   `koanf:"incident_type"`
	MinScore      *float64 `koanf:"min_score"`
	MaxScore      *float64 `koanf:"max_score"`
	MinDistanceKm *float64 `koanf:"min_distance_km"`
	MaxDistanceKm *float64 `koanf:"max_distance_km"`
	MinFailures   *int     `koanf:"min_failures"`
	MaxFailures   *int     `koanf:"max_failures"`
}

// ActionsConfig holds remediation durations.
type ActionsConfig struct {
	BlockDuration      time.Duration `koanf:"block_duration"`
	MFADuration        time.Duration `koanf:"mfa_duration"`
	MonitoringDuration time.Duration `koanf:"monitoring_duration"`
	// SuspendDuration of zero means until lifted by an administrator.
	SuspendDuration time.Duration `koanf:"suspend_duration"`
}

// AlertsConfig configures the alert channels.
type AlertsConfig struct {
	MaxRetries      int           `koanf:"max_retries"`
	DeliveryTimeout time.Duration `koanf:"delivery_timeout"`
	AdminRecipients []string      `koanf:"admin_recipients"`
	Breaker         BreakerConfig `koanf:"breaker"`
	Email           EmailConfig   `koanf:"email"`
	Webhook         WebhookConfig `koanf:"webhook"`
	Slack           SlackConfig   `koanf:"slack"`
	Discord         DiscordConfig `koanf:"discord"`
	SMS             SMSConfig     `koanf:"sms"`
}

// BreakerConfig configures the per-channel circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        `koanf:"max_failures"`
	Timeout     time.Duration `koanf:"timeout"`
	Interval    time.Duration `koanf:"interval"`
}

// ChannelCommon holds the settings shared by every alert channel.
type ChannelCommon struct {
	Enabled     bool
	MinSeverity string
	RatePerSec  float64
	Digest      bool
}

// EmailConfig configures SMTP delivery.
type EmailConfig struct {
	Enabled     bool     `koanf:"enabled"`
	MinSeverity string   `koanf:"min_severity"`
	RatePerSec  float64  `koanf:"rate_per_sec"`
	Digest      bool     `koanf:"digest"`
	Host        string   `koanf:"host"`
	Port        int      `koanf:"port"`
	Username    string   `koanf:"username"`
	Password    string   `koanf:"password"`
	From        string   `koanf:"from"`
	Recipients  []string `koanf:"recipients"`
}

// WebhookConfig configures generic JSON webhooks.
type WebhookConfig struct {
	Enabled     bool              `koanf:"enabled"`
	MinSeverity string            `koanf:"min_severity"`
	RatePerSec  float64           `koanf:"rate_per_sec"`
	Digest      bool              `koanf:"digest"`
	Endpoints   []string          `koanf:"endpoints"`
	Headers     map[string]string `koanf:"headers"`
}

// SlackConfig configures a Slack incoming webhook.
type SlackConfig struct {
	Enabled     bool    `koanf:"enabled"`
	MinSeverity string  `koanf:"min_severity"`
	RatePerSec  float64 `koanf:"rate_per_sec"`
	Digest      bool    `koanf:"digest"`
	WebhookURL  string  `koanf:"webhook_url"`
	Channel     string  `koanf:"channel"`
}

// DiscordConfig configures a Discord webhook.
type DiscordConfig struct {
	Enabled     bool    `koanf:"enabled"`
	MinSeverity string  `koanf:"min_severity"`
	RatePerSec  float64 `koanf:"rate_per_sec"`
	Digest      bool    `koanf:"digest"`
	WebhookURL  string  `koanf:"webhook_url"`
}

// SMSConfig configures Twilio SMS delivery.
type SMSConfig struct {
	Enabled     bool     `koanf:"enabled"`
	MinSeverity string   `koanf:"min_severity"`
	RatePerSec  float64  `koanf:"rate_per_sec"`
	Digest      bool     `koanf:"digest"`
	AccountSID  string   `koanf:"account_sid"`
	AuthToken   string   `koanf:"auth_token"`
	From        string   `koanf:"from"`
	To          []string `koanf:"to"`
	BaseURL     string   `koanf:"base_url"`
}

// RealtimeConfig configures the websocket dashboard feed.
type RealtimeConfig struct {
	Enabled        bool     `koanf:"enabled"`
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// EventBusConfig selects the event bus transport.
type EventBusConfig struct {
	// Driver is memory (Watermill GoChannel) or nats (JetStream).
	Driver           string        `koanf:"driver"`
	URL              string        `koanf:"url"`
	EmbeddedServer   bool          `koanf:"embedded_server"`
	StoreDir         string        `koanf:"store_dir"`
	QueueGroup       string        `koanf:"queue_group"`
	DurablePrefix    string        `koanf:"durable_prefix"`
	SubscribersCount int           `koanf:"subscribers_count"`
	AckWaitTimeout   time.Duration `koanf:"ack_wait_timeout"`
}

// SchedulerConfig holds periodic task schedules.
type SchedulerConfig struct {
	ProfileAggregation time.Duration `koanf:"profile_aggregation"`
	MetricsBroadcast   time.Duration `koanf:"metrics_broadcast"`
	CacheCleanup       time.Duration `koanf:"cache_cleanup"`
	AlertRequeue       time.Duration `koanf:"alert_requeue"`
	// DigestCron is a standard five-field cron expression; empty disables
	// the digest.
	DigestCron string `koanf:"digest_cron"`
	// High-risk identity heuristic used by profile aggregation.
	HighRiskAverage    float64 `koanf:"high_risk_average"`
	HighRiskWindow     int     `koanf:"high_risk_window"`
	HighRiskMinSamples int     `koanf:"high_risk_min_samples"`
}

// AuditConfig controls the administrative audit trail.
type AuditConfig struct {
	Enabled bool `koanf:"enabled"`
	// Retention of zero keeps events forever.
	Retention  time.Duration `koanf:"retention"`
	BufferSize int           `koanf:"buffer_size"`
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Common returns the shared channel settings.
func (c EmailConfig) Common() ChannelCommon {
	return ChannelCommon{Enabled: c.Enabled, MinSeverity: c.MinSeverity, RatePerSec: c.RatePerSec, Digest: c.Digest}
}

// Common returns the shared channel settings.
func (c WebhookConfig) Common() ChannelCommon {
	return ChannelCommon{Enabled: c.Enabled, MinSeverity: c.MinSeverity, RatePerSec: c.RatePerSec, Digest: c.Digest}
}

// Common returns the shared channel settings.
func (c SlackConfig) Common() ChannelCommon {
	return ChannelCommon{Enabled: c.Enabled, MinSeverity: c.MinSeverity, RatePerSec: c.RatePerSec, Digest: c.Digest}
}

// Common returns the shared channel settings.
func (c DiscordConfig) Common() ChannelCommon {
	return ChannelCommon{Enabled: c.Enabled, MinSeverity: c.MinSeverity, RatePerSec: c.RatePerSec, Digest: c.Digest}
}

// Common returns the shared channel settings.
func (c SMSConfig) Common() ChannelCommon {
	return ChannelCommon{Enabled: c.Enabled, MinSeverity: c.MinSeverity, RatePerSec: c.RatePerSec, Digest: c.Digest}
}

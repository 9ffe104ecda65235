// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/aegis/config.yaml",
	"/etc/aegis/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Defaults returns a Config populated with built-in defaults. The rule
// table is empty here; Load falls back to DefaultRules when neither the
// file nor the environment supplies rules.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Environment:     "development",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			Driver:       "duckdb",
			Path:         "/data/aegis.duckdb",
			MaxOpenConns: 4,
		},
		State: StateConfig{
			Backend: "memory",
			Path:    "/data/state",
		},
		Security: SecurityConfig{
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
			TrustedProxies:  []string{},
			Casbin: CasbinConfig{
				DefaultRole: "viewer",
			},
		},
		Threat: ThreatConfig{
			Weights: WeightsConfig{
				Pattern:    0.30,
				Behavioral: 0.25,
				Frequency:  0.20,
				Geographic: 0.15,
				Temporal:   0.10,
			},
			Constants: ScoreConstantsConfig{
				PatternPerMatch:     0.2,
				FrequencyCritical:   1.0,
				FrequencySuspicious: 0.6,
				Geographic:          0.7,
				Temporal:            0.5,
			},
			SeverityWeights: SeverityWeightsConfig{
				Critical: 0.4,
				High:     0.3,
				Medium:   0.2,
				Low:      0.1,
			},
			Thresholds: ActionThresholds{
				Log:       0.3,
				Monitor:   0.6,
				Challenge: 0.8,
				Block:     0.9,
			},
		},
		Detectors: DetectorsConfig{
			Timeout: 50 * time.Millisecond,
			Frequency: FrequencyConfig{
				Enabled:    true,
				Window:     time.Minute,
				Buckets:    60,
				Suspicious: 100,
				Critical:   500,
				MaxKeys:    100000,
			},
			Geographic: GeographicConfig{
				Enabled:         true,
				MaxDistanceKm:   1000,
				Window:          time.Hour,
				CacheSize:       100000,
				LatitudeHeader:  "X-Geo-Latitude",
				LongitudeHeader: "X-Geo-Longitude",
				CountryHeader:   "X-Geo-Country",
			},
			Temporal: TemporalConfig{
				Enabled:   true,
				StartHour: 6,
				EndHour:   22,
				Timezone:  "UTC",
			},
			DataVolume: DataVolumeConfig{
				Enabled:    true,
				Suspicious: 5000,
				Critical:   10000,
			},
			AuthFailure: AuthFailureConfig{
				Enabled:    true,
				Window:     time.Hour,
				Suspicious: 5,
				Critical:   20,
				MaxKeys:    100000,
				LoginPaths: []string{"/api/auth/login"},
			},
			Behavioral: BehavioralConfig{
				Enabled:    true,
				MinSamples: 50,
			},
		},
		Profiles: ProfilesConfig{
			Capacity:     100000,
			IdleTTL:      24 * time.Hour,
			RecentScores: 100,
		},
		Pipeline: PipelineConfig{
			Workers:         4,
			QueueSize:       1024,
			BodySampleBytes: 64 << 10,
		},
		Incidents: IncidentsConfig{
			AnomalyMinSeverity: "HIGH",
		},
		Actions: ActionsConfig{
			BlockDuration:      time.Hour,
			MFADuration:        30 * time.Minute,
			MonitoringDuration: time.Hour,
		},
		Alerts: AlertsConfig{
			MaxRetries:      3,
			DeliveryTimeout: 10 * time.Second,
			Breaker: BreakerConfig{
				MaxFailures: 5,
				Timeout:     60 * time.Second,
				Interval:    time.Minute,
			},
			Email: EmailConfig{
				Port:        587,
				MinSeverity: "HIGH",
				RatePerSec:  1,
			},
			Webhook: WebhookConfig{
				MinSeverity: "LOW",
				RatePerSec:  5,
			},
			Slack: SlackConfig{
				MinSeverity: "MEDIUM",
				RatePerSec:  1,
				Digest:      true,
			},
			Discord: DiscordConfig{
				MinSeverity: "MEDIUM",
				RatePerSec:  1,
			},
			SMS: SMSConfig{
				MinSeverity: "CRITICAL",
				RatePerSec:  0.2,
				BaseURL:     "https://api.twilio.com",
			},
		},
		Realtime: RealtimeConfig{
			Enabled: true,
		},
		EventBus: EventBusConfig{
			Driver:           "memory",
			URL:              "nats://127.0.0.1:4222",
			StoreDir:         "/data/nats",
			QueueGroup:       "aegis",
			DurablePrefix:    "aegis",
			SubscribersCount: 2,
			AckWaitTimeout:   30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			ProfileAggregation: 5 * time.Minute,
			MetricsBroadcast:   30 * time.Second,
			CacheCleanup:       time.Hour,
			AlertRequeue:       5 * time.Minute,
			DigestCron:         "0 * * * *",
			HighRiskAverage:    0.7,
			HighRiskWindow:     20,
			HighRiskMinSamples: 10,
		},
		Audit: AuditConfig{
			Enabled:    true,
			Retention:  90 * 24 * time.Hour,
			BufferSize: 1000,
		},
	}
}

// DefaultRules returns the built-in incident response rule table.
func DefaultRules() []RuleConfig {
	f := func(v float64) *float64 { return &v }
	i := func(v int) *int { return &v }
	return []RuleConfig{
		{
			Name:       "Critical Threat Response",
			Priority:   1,
			Conditions: RuleConditionsConfig{Severity: "CRITICAL", MinScore: f(0.9)},
			Actions:    []string{"BLOCK_IP", "SUSPEND_USER", "NOTIFY_ADMIN"},
		},
		{
			Name:       "High Threat Response",
			Priority:   2,
			Conditions: RuleConditionsConfig{Severity: "HIGH", MinScore: f(0.7), MaxScore: f(0.9)},
			Actions:    []string{"INCREASE_MONITORING", "FORCE_MFA", "NOTIFY_ADMIN"},
		},
		{
			Name:       "Geographic Anomaly Response",
			Priority:   3,
			Conditions: RuleConditionsConfig{IncidentType: "GEOGRAPHIC_ANOMALY", MinDistanceKm: f(1000)},
			Actions:    []string{"FORCE_MFA", "NOTIFY_ADMIN"},
		},
		{
			Name:       "Authentication Failure Response",
			Priority:   4,
			Conditions: RuleConditionsConfig{IncidentType: "AUTH_FAILURE", MinFailures: i(5)},
			Actions:    []string{"BLOCK_IP", "NOTIFY_ADMIN"},
		},
		{
			Name:       "Medium Threat Response",
			Priority:   5,
			Conditions: RuleConditionsConfig{Severity: "MEDIUM", MinScore: f(0.5), MaxScore: f(0.8)},
			Actions:    []string{"INCREASE_MONITORING"},
		},
	}
}

// Load loads configuration from the first config file found and the
// environment. See the package documentation for precedence.
func Load() (*Config, error) {
	return LoadFile(findConfigFile())
}

// LoadFile loads configuration from path (may be empty) and the environment.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}
	if err := processMapFields(k); err != nil {
		return nil, fmt.Errorf("failed to process map fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.SourcePath = path
	if len(cfg.Rules) == 0 {
		cfg.Rules = DefaultRules()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated strings when set through the environment.
var sliceConfigPaths = []string{
	"security.cors_origins",
	"security.trusted_proxies",
	"detectors.auth_failure.login_paths",
	"alerts.admin_recipients",
	"alerts.email.recipients",
	"alerts.webhook.endpoints",
	"alerts.sms.to",
	"realtime.allowed_origins",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := splitList(strVal)
		if len(parts) == 0 {
			continue
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// mapConfigPaths are parsed from "k=v,k2=v2" strings when set through the environment.
var mapConfigPaths = []string{
	"alerts.webhook.headers",
}

func processMapFields(k *koanf.Koanf) error {
	for _, path := range mapConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		result := make(map[string]interface{})
		for _, item := range splitList(strVal) {
			// Split on first = only (value may contain = characters)
			kv := strings.SplitN(item, "=", 2)
			if len(kv) == 2 && strings.TrimSpace(kv[0]) != "" {
				result[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
			}
		}
		k.Delete(path)
		if err := k.Set(path, result); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envMappings maps environment variable names (lowercased) to koanf paths.
// Unmapped variables are ignored so unrelated environment cannot leak in.
var envMappings = map[string]string{
	// Server
	"http_port":          "server.port",
	"http_host":          "server.host",
	"http_read_timeout":  "server.read_timeout",
	"http_write_timeout": "server.write_timeout",
	"shutdown_timeout":   "server.shutdown_timeout",
	"environment":        "server.environment",
	"upstream_url":       "server.upstream_url",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Storage and state
	"storage_driver":         "storage.driver",
	"storage_path":           "storage.path",
	"duckdb_path":            "storage.path",
	"storage_max_open_conns": "storage.max_open_conns",
	"state_backend":          "state.backend",
	"state_path":             "state.path",

	// Security
	"jwt_secret":          "security.jwt_secret",
	"jwt_issuer":          "security.jwt_issuer",
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",
	"cors_origins":        "security.cors_origins",
	"trusted_proxies":     "security.trusted_proxies",
	"casbin_model_path":   "security.casbin.model_path",
	"casbin_policy_path":  "security.casbin.policy_path",
	"casbin_default_role": "security.casbin.default_role",

	// Scoring
	"threat_weight_pattern":      "threat.weights.pattern",
	"threat_weight_behavioral":   "threat.weights.behavioral",
	"threat_weight_frequency":    "threat.weights.frequency",
	"threat_weight_geographic":   "threat.weights.geographic",
	"threat_weight_temporal":     "threat.weights.temporal",
	"threat_pattern_per_match":   "threat.constants.pattern_per_match",
	"threat_threshold_log":       "threat.thresholds.log",
	"threat_threshold_monitor":   "threat.thresholds.monitor",
	"threat_threshold_challenge": "threat.thresholds.challenge",
	"threat_threshold_block":     "threat.thresholds.block",

	// Detectors
	"detector_timeout":         "detectors.timeout",
	"frequency_window":         "detectors.frequency.window",
	"frequency_suspicious":     "detectors.frequency.suspicious",
	"frequency_critical":       "detectors.frequency.critical",
	"geo_max_distance_km":      "detectors.geographic.max_distance_km",
	"geo_window":               "detectors.geographic.window",
	"geo_latitude_header":      "detectors.geographic.latitude_header",
	"geo_longitude_header":     "detectors.geographic.longitude_header",
	"temporal_start_hour":      "detectors.temporal.start_hour",
	"temporal_end_hour":        "detectors.temporal.end_hour",
	"temporal_timezone":        "detectors.temporal.timezone",
	"data_volume_suspicious":   "detectors.data_volume.suspicious",
	"data_volume_critical":     "detectors.data_volume.critical",
	"auth_failure_window":      "detectors.auth_failure.window",
	"auth_failure_suspicious":  "detectors.auth_failure.suspicious",
	"auth_failure_critical":    "detectors.auth_failure.critical",
	"auth_failure_login_paths": "detectors.auth_failure.login_paths",
	"behavioral_min_samples":   "detectors.behavioral.min_samples",
	"geoip_database_path":      "geoip.database_path",

	// Profiles and pipeline
	"profile_capacity":              "profiles.capacity",
	"profile_idle_ttl":              "profiles.idle_ttl",
	"pipeline_workers":              "pipeline.workers",
	"pipeline_queue_size":           "pipeline.queue_size",
	"pipeline_body_sample_bytes":    "pipeline.body_sample_bytes",
	"incident_anomaly_min_severity": "incidents.anomaly_min_severity",

	// Actions
	"block_duration":      "actions.block_duration",
	"mfa_duration":        "actions.mfa_duration",
	"monitoring_duration": "actions.monitoring_duration",
	"suspend_duration":    "actions.suspend_duration",

	// Alerts
	"alert_max_retries":       "alerts.max_retries",
	"alert_delivery_timeout":  "alerts.delivery_timeout",
	"alert_admin_recipients":  "alerts.admin_recipients",
	"alert_email_enabled":     "alerts.email.enabled",
	"smtp_host":               "alerts.email.host",
	"smtp_port":               "alerts.email.port",
	"smtp_username":           "alerts.email.username",
	"smtp_password":           "alerts.email.password",
	"smtp_from":               "alerts.email.from",
	"alert_email_recipients":  "alerts.email.recipients",
	"alert_webhook_enabled":   "alerts.webhook.enabled",
	"alert_webhook_endpoints": "alerts.webhook.endpoints",
	"alert_webhook_headers":   "alerts.webhook.headers",
	"alert_slack_enabled":     "alerts.slack.enabled",
	"slack_webhook_url":       "alerts.slack.webhook_url",
	"slack_channel":           "alerts.slack.channel",
	"alert_discord_enabled":   "alerts.discord.enabled",
	"discord_webhook_url":     "alerts.discord.webhook_url",
	"alert_sms_enabled":       "alerts.sms.enabled",
	"twilio_account_sid":      "alerts.sms.account_sid",
	"twilio_auth_token":       "alerts.sms.auth_token",
	"twilio_from":             "alerts.sms.from",
	"alert_sms_to":            "alerts.sms.to",

	// Realtime and event bus
	"realtime_enabled":         "realtime.enabled",
	"realtime_allowed_origins": "realtime.allowed_origins",
	"eventbus_driver":          "eventbus.driver",
	"nats_url":                 "eventbus.url",
	"nats_embedded":            "eventbus.embedded_server",
	"nats_store_dir":           "eventbus.store_dir",

	// Scheduler
	"schedule_profile_aggregation": "scheduler.profile_aggregation",
	"schedule_metrics_broadcast":   "scheduler.metrics_broadcast",
	"schedule_cache_cleanup":       "scheduler.cache_cleanup",
	"schedule_alert_requeue":       "scheduler.alert_requeue",
	"schedule_digest_cron":         "scheduler.digest_cron",

	// Audit
	"audit_enabled":     "audit.enabled",
	"audit_retention":   "audit.retention",
	"audit_buffer_size": "audit.buffer_size",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - HTTP_PORT -> server.port
//   - THREAT_WEIGHT_PATTERN -> threat.weights.pattern
//   - SLACK_WEBHOOK_URL -> alerts.slack.webhook_url
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// Watch reloads the configuration whenever the file at path changes and
// passes each successfully validated result to onChange. A reload that fails
// validation is reported to onError and the previous configuration stays in
// effect. The returned function stops watching.
func Watch(path string, onChange func(*Config), onError func(error)) (func() error, error) {
	if path == "" {
		return nil, fmt.Errorf("no config file to watch")
	}
	provider := file.Provider(path)
	err := provider.Watch(func(_ interface{}, err error) {
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		cfg, err := LoadFile(path)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	if err != nil {
		return nil, err
	}
	return provider.Unwatch, nil
}

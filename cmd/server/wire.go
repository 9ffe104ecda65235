// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tomtom215/aegis/internal/alerting"
	"github.com/tomtom215/aegis/internal/api"
	"github.com/tomtom215/aegis/internal/audit"
	"github.com/tomtom215/aegis/internal/auth"
	"github.com/tomtom215/aegis/internal/authz"
	"github.com/tomtom215/aegis/internal/config"
	"github.com/tomtom215/aegis/internal/eventbus"
	"github.com/tomtom215/aegis/internal/incident"
	"github.com/tomtom215/aegis/internal/logging"
	"github.com/tomtom215/aegis/internal/middleware"
	"github.com/tomtom215/aegis/internal/pipeline"
	"github.com/tomtom215/aegis/internal/profile"
	"github.com/tomtom215/aegis/internal/response"
	"github.com/tomtom215/aegis/internal/scheduler"
	"github.com/tomtom215/aegis/internal/storage"
	"github.com/tomtom215/aegis/internal/supervisor"
	"github.com/tomtom215/aegis/internal/supervisor/services"
	"github.com/tomtom215/aegis/internal/threat"
	ws "github.com/tomtom215/aegis/internal/websocket"
)

// app holds every wired component. Fields that need explicit release are
// closed by close in reverse construction order.
type app struct {
	cfg *config.Config

	store     *storage.Store
	auditor   *audit.Logger
	state     response.State
	geo       *threat.GeoIPResolver
	collector *threat.Collector
	bus       *eventbus.Bus
	tokens    *auth.TokenManager
	profiles  *profile.Store
	detectors *threat.DetectorSet
	analyzer  *threat.Analyzer
	executor  *response.Executor
	alerter   *alerting.Dispatcher
	engine    *incident.Engine
	runner    *pipeline.Runner
	stats     *pipeline.Stats
	pipeline  *pipeline.Pipeline
	hub       *ws.Hub
	scheduler *scheduler.Scheduler
	server    *http.Server
}

// build constructs the component graph from cfg. On error every resource
// opened so far is released.
func build(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.build(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) (err error) {
	cfg := a.cfg

	if a.store, err = storage.Open(ctx, cfg.Storage); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	if cfg.Audit.Enabled {
		a.auditor = audit.NewLogger(a.store, cfg.Audit)
	}

	if a.state, err = response.NewState(cfg.State); err != nil {
		return fmt.Errorf("enforcement state: %w", err)
	}

	if a.bus, err = eventbus.New(ctx, cfg.EventBus); err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	logging.Info().Str("driver", a.bus.Driver()).Msg("Event bus connected")

	if cfg.Security.JWTSecret != "" {
		if a.tokens, err = auth.NewTokenManager(cfg.Security); err != nil {
			return fmt.Errorf("token manager: %w", err)
		}
	} else {
		logging.Warn().Msg("JWT_SECRET not set: identities are not extracted and the admin API rejects every request")
	}

	if a.collector, err = a.buildCollector(); err != nil {
		return err
	}
	if err = a.buildResponse(); err != nil {
		return err
	}
	if err = a.buildPipeline(); err != nil {
		return err
	}

	if cfg.Realtime.Enabled {
		a.hub = ws.NewHub(a.stats)
	}

	if err = a.buildScheduler(); err != nil {
		return err
	}
	if err = a.buildServer(); err != nil {
		return err
	}
	return nil
}

func (a *app) buildCollector() (*threat.Collector, error) {
	cfg := a.cfg
	var opts []threat.CollectorOption
	if a.tokens != nil {
		opts = append(opts, threat.WithTokenValidator(a.tokens))
	}
	if cfg.GeoIP.DatabasePath != "" {
		geo, err := threat.OpenGeoIP(cfg.GeoIP.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("geoip: %w", err)
		}
		a.geo = geo
		opts = append(opts, threat.WithGeoResolver(geo))
		logging.Info().Str("path", cfg.GeoIP.DatabasePath).Msg("GeoIP database loaded")
	}
	return threat.NewCollector(cfg.Security, cfg.Detectors.Geographic, cfg.Pipeline, opts...), nil
}

// buildResponse wires alerting, remediation and the incident engine.
func (a *app) buildResponse() error {
	cfg := a.cfg

	regs, err := alerting.BuildRegistrations(cfg.Alerts)
	if err != nil {
		return fmt.Errorf("alert channels: %w", err)
	}
	alertOpts := []alerting.Option{alerting.WithEventPublisher(a.bus)}
	for _, reg := range regs {
		if mailer, ok := reg.Channel.(*alerting.EmailChannel); ok {
			alertOpts = append(alertOpts, alerting.WithAdminMailer(mailer))
		}
	}
	a.alerter = alerting.NewDispatcher(cfg.Alerts, a.store, regs, alertOpts...)
	logging.Info().Strs("channels", a.alerter.Channels()).Msg("Alert channels registered")

	a.executor = response.NewExecutor(a.state, cfg.Actions, response.WithAdminNotifier(a.alerter))

	rules, err := incident.RuleSetFromConfig(cfg.Rules)
	if err != nil {
		return fmt.Errorf("incident rules: %w", err)
	}
	a.engine = incident.NewEngine(rules, a.store, a.executor,
		incident.WithAlerter(a.alerter),
		incident.WithEventPublisher(a.bus))
	logging.Info().Int("rules", rules.Len()).Msg("Incident rule table loaded")
	return nil
}

func (a *app) buildPipeline() error {
	cfg := a.cfg

	a.profiles = profile.NewStore(cfg.Profiles, profile.WithLocation(cfg.Detectors.Temporal.Location()))
	a.detectors = threat.NewDetectorSet(cfg.Detectors, a.profiles, time.Now)
	a.analyzer = threat.NewAnalyzer(
		threat.NewPatternMatcher(cfg.Pipeline.BodySampleBytes),
		threat.NewScorer(cfg.Threat),
		threat.NewDecider(cfg.Threat.Thresholds),
		cfg.Detectors.Timeout,
		a.detectors.Enabled()...,
	)

	minSeverity, err := threat.ParseSeverity(cfg.Incidents.AnomalyMinSeverity)
	if err != nil {
		return fmt.Errorf("incidents.anomaly_min_severity: %w", err)
	}

	a.runner = pipeline.NewRunner(cfg.Pipeline.Workers, cfg.Pipeline.QueueSize)
	a.stats = pipeline.NewStats(a.runner, time.Now)
	a.pipeline = pipeline.New(a.collector, a.analyzer, a.runner,
		pipeline.WithProfiles(a.profiles),
		pipeline.WithThreatLog(a.store),
		pipeline.WithIncidents(a.engine, minSeverity),
		pipeline.WithPublisher(a.bus),
		pipeline.WithStats(a.stats),
	)
	return nil
}

func (a *app) buildScheduler() error {
	a.scheduler = scheduler.New(logging.NewSlogLogger())
	jobs := scheduler.NewJobs(a.cfg.Scheduler)
	jobs.Profiles = a.profiles
	jobs.Publisher = a.bus
	jobs.Metrics = a.stats
	jobs.State = a.executor
	if a.auditor != nil {
		jobs.Audit = a.auditor
	}
	jobs.Sweepers = []scheduler.Sweeper{a.detectors, a.stats}
	jobs.Alerts = a.alerter
	jobs.Stats = a.store
	if err := jobs.Register(a.scheduler); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	logging.Info().Strs("tasks", a.scheduler.Names()).Msg("Scheduled tasks registered")
	return nil
}

// buildServer assembles the HTTP surface: the admin API and, as fallback,
// the protected application behind the threat middleware.
func (a *app) buildServer() error {
	cfg := a.cfg

	protected, err := protectedApp(cfg.Server.UpstreamURL)
	if err != nil {
		return err
	}
	if cfg.Detectors.AuthFailure.Enabled {
		protected = middleware.LoginFailures(a.detectors.AuthFailure, a.collector.ClientIP,
			cfg.Detectors.AuthFailure.LoginPaths)(protected)
	}
	protected = middleware.ThreatProtection(a.pipeline, a.executor)(protected)

	enforcer, err := authz.NewEnforcer(cfg.Security.Casbin)
	if err != nil {
		return fmt.Errorf("casbin: %w", err)
	}

	var trail api.AuditTrail
	if a.auditor != nil {
		trail = a.auditor
	}
	handler := api.NewHandler(api.Deps{
		Threats:      a.store,
		Incidents:    a.store,
		Alerts:       a.store,
		Engine:       a.engine,
		Alerter:      a.alerter,
		Profiles:     a.profiles,
		AuthFailures: a.detectors.AuthFailure,
		Enforcement:  a.executor,
		Realtime:     a.stats,
		Audit:        trail,
		ClientIP:     a.collector.ClientIP,
		HealthChecks: []api.HealthCheck{
			{Name: "storage", Check: a.store.Ping},
		},
		Version: version,
	})

	opts := []api.RouterOption{api.WithProtectedApp(protected)}
	if a.hub != nil {
		opts = append(opts, api.WithWebSocket(ws.NewHandler(a.hub, cfg.Realtime.AllowedOrigins)))
	}

	router := api.NewRouter(handler, a.authenticator(), authz.NewMiddleware(enforcer),
		api.NewChiMiddleware(api.ChiMiddlewareConfigFrom(cfg.Security)), opts...)

	a.server = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.Setup(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	return nil
}

// authenticator returns the admin API authentication middleware. Without a
// configured secret every admin request is refused.
func (a *app) authenticator() api.Authenticator {
	if a.tokens == nil {
		return denyAll{}
	}
	return auth.NewMiddleware(a.tokens)
}

type denyAll struct{}

func (denyAll) Authenticate(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "authentication is not configured", http.StatusUnauthorized)
	})
}

// supervise adds every long-running component to tree.
func (a *app) supervise(tree *supervisor.SupervisorTree) {
	tree.AddDataService(a.runner)
	tree.AddDataService(a.scheduler)
	if a.auditor != nil {
		tree.AddDataService(a.auditor)
	}

	tree.AddMessagingService(services.NewEventBusService(a.bus))
	if a.hub != nil {
		tree.AddMessagingService(a.hub)
		tree.AddMessagingService(ws.NewBridge(a.hub, a.bus))
	}

	tree.AddAPIService(services.NewHTTPServerService(a.server, a.cfg.Server.ShutdownTimeout))
}

// applyReload swaps the hot-reloadable settings: scoring weights,
// thresholds, the rule table and the log level.
func (a *app) applyReload(next *config.Config) error {
	rules, err := incident.RuleSetFromConfig(next.Rules)
	if err != nil {
		return fmt.Errorf("incident rules: %w", err)
	}
	a.analyzer.Scorer().Update(next.Threat)
	a.analyzer.Decider().Update(next.Threat.Thresholds)
	a.engine.SetRules(rules)
	logging.SetLevelString(next.Logging.Level)
	logging.Info().Int("rules", rules.Len()).Msg("Configuration reloaded")
	if a.auditor != nil {
		a.auditor.Log(&audit.Event{
			Type:        audit.EventConfigReloaded,
			Actor:       audit.ActorSystem,
			Target:      audit.Target{Type: "config", ID: next.SourcePath},
			Description: "configuration reloaded",
			Metadata:    audit.Metadata(map[string]any{"rules": rules.Len(), "log_level": next.Logging.Level}),
		})
	}
	return nil
}

// close releases resources that are not owned by a supervised service.
// The event bus is closed by its service; closing it again is a no-op.
func (a *app) close() {
	var errs []error
	if a.bus != nil {
		errs = append(errs, a.bus.Close())
	}
	if a.geo != nil {
		errs = append(errs, a.geo.Close())
	}
	if a.state != nil {
		errs = append(errs, a.state.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		logging.Error().Err(err).Msg("Error releasing resources")
	}
}

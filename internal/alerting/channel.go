// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package alerting

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/aegis/internal/config"
	"github.com/tomtom215/aegis/internal/logging"
	"github.com/tomtom215/aegis/internal/metrics"
	"github.com/tomtom215/aegis/internal/threat"
)

// Channel delivers alert payloads to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, p Payload) error
}

// Registration binds a channel to its dispatch settings.
type Registration struct {
	Channel     Channel
	MinSeverity threat.Severity
	// RatePerSec of zero disables rate limiting.
	RatePerSec float64
	Digest     bool
}

// guardedChannel wraps a Channel with a circuit breaker and rate limiter.
type guardedChannel struct {
	Channel
	minSeverity threat.Severity
	digest      bool
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker[struct{}]
}

func newGuardedChannel(reg Registration, bc config.BreakerConfig) *guardedChannel {
	name := "alert_" + reg.Channel.Name()
	maxFailures := bc.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("alert channel circuit breaker changed state")
		},
	}

	g := &guardedChannel{
		Channel:     reg.Channel,
		minSeverity: reg.MinSeverity,
		digest:      reg.Digest,
		breaker:     gobreaker.NewCircuitBreaker[struct{}](settings),
	}
	if g.minSeverity == "" {
		g.minSeverity = threat.SeverityLow
	}
	if reg.RatePerSec > 0 {
		burst := int(reg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(reg.RatePerSec), burst)
	}
	return g
}

func (g *guardedChannel) admits(sev threat.Severity) bool {
	return sev.AtLeast(g.minSeverity)
}

// deliver sends p and converts panics and open circuits into errors.
func (g *guardedChannel) deliver(ctx context.Context, p Payload) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel %s panicked: %v", g.Name(), r)
		}
		metrics.RecordAlertDelivery(g.Name(), err == nil, time.Since(start))
	}()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	_, err = g.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, g.Send(ctx, p)
	})
	breakerName := "alert_" + g.Name()
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "rejected").Inc()
	case err != nil:
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "failure").Inc()
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "success").Inc()
	}
	return err
}

// BuildRegistrations creates the channels enabled in cfg.
func BuildRegistrations(cfg config.AlertsConfig) ([]Registration, error) {
	var regs []Registration
	add := func(ch Channel, common config.ChannelCommon) error {
		sev := threat.SeverityLow
		if common.MinSeverity != "" {
			s, err := threat.ParseSeverity(common.MinSeverity)
			if err != nil {
				return fmt.Errorf("channel %s: %w", ch.Name(), err)
			}
			sev = s
		}
		regs = append(regs, Registration{Channel: ch, MinSeverity: sev, RatePerSec: common.RatePerSec, Digest: common.Digest})
		return nil
	}

	if cfg.Email.Enabled {
		if err := add(NewEmailChannel(cfg.Email), cfg.Email.Common()); err != nil {
			return nil, err
		}
	}
	if cfg.Webhook.Enabled {
		if err := add(NewWebhookChannel(cfg.Webhook), cfg.Webhook.Common()); err != nil {
			return nil, err
		}
	}
	if cfg.Slack.Enabled {
		if err := add(NewSlackChannel(cfg.Slack), cfg.Slack.Common()); err != nil {
			return nil, err
		}
	}
	if cfg.Discord.Enabled {
		if err := add(NewDiscordChannel(cfg.Discord), cfg.Discord.Common()); err != nil {
			return nil, err
		}
	}
	if cfg.SMS.Enabled {
		if err := add(NewSMSChannel(cfg.SMS), cfg.SMS.Common()); err != nil {
			return nil, err
		}
	}
	return regs, nil
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// postJSON sends body as JSON and treats any status >= 400 as failure.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return doRequest(client, req)
}

func doRequest(client *http.Client, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", logging.SanitizeURL(req.URL.String()), err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s returned status %d", logging.SanitizeURL(req.URL.String()), resp.StatusCode)
	}
	return nil
}

// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package alerting

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tomtom215/aegis/internal/config"
)

// WebhookChannel posts the JSON payload to every configured endpoint.
type WebhookChannel struct {
	endpoints []string
	headers   map[string]string
	client    *http.Client
}

// NewWebhookChannel creates a webhook channel.
func NewWebhookChannel(cfg config.WebhookConfig) *WebhookChannel {
	headers := make(map[string]string, len(cfg.Headers)+1)
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	headers["X-Security-Alert"] = "true"
	return &WebhookChannel{
		endpoints: append([]string(nil), cfg.Endpoints...),
		headers:   headers,
		client:    defaultHTTPClient(),
	}
}

func (c *WebhookChannel) Name() string { return "webhook" }

// Send fails if any endpoint fails.
func (c *WebhookChannel) Send(ctx context.Context, p Payload) error {
	if len(c.endpoints) == 0 {
		return errors.New("no webhook endpoints configured")
	}
	var errs []error
	for _, url := range c.endpoints {
		if err := postJSON(ctx, c.client, url, c.headers, p); err != nil {
			errs = append(errs, fmt.Errorf("webhook: %w", err))
		}
	}
	return errors.Join(errs...)
}

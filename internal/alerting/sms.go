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
	"net/url"
	"strings"

	"github.com/tomtom215/aegis/internal/config"
)

const (
	defaultTwilioBaseURL = "https://api.twilio.com"
	maxSMSLength         = 1600
)

// SMSChannel sends text messages through the Twilio REST API.
type SMSChannel struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	to         []string
	client     *http.Client
}

// NewSMSChannel creates an SMS channel.
func NewSMSChannel(cfg config.SMSConfig) *SMSChannel {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultTwilioBaseURL
	}
	return &SMSChannel{
		baseURL:    base,
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.From,
		to:         append([]string(nil), cfg.To...),
		client:     defaultHTTPClient(),
	}
}

func (c *SMSChannel) Name() string { return "sms" }

// Send texts every recipient; it fails if any message fails.
func (c *SMSChannel) Send(ctx context.Context, p Payload) error {
	if c.accountSID == "" || c.authToken == "" || c.from == "" {
		return errors.New("sms: twilio credentials not configured")
	}
	if len(c.to) == 0 {
		return errors.New("sms: no recipients configured")
	}

	body := smsText(p)
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, url.PathEscape(c.accountSID))

	var errs []error
	for _, to := range c.to {
		form := url.Values{"To": {to}, "From": {c.from}, "Body": {body}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return fmt.Errorf("sms: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(c.accountSID, c.authToken)
		if err := doRequest(c.client, req); err != nil {
			errs = append(errs, fmt.Errorf("sms: %w", err))
		}
	}
	return errors.Join(errs...)
}

func smsText(p Payload) string {
	text := fmt.Sprintf("SECURITY ALERT: %s - %s - %s", p.Severity, p.Type, p.Message)
	if len(text) > maxSMSLength {
		text = text[:maxSMSLength]
	}
	return text
}

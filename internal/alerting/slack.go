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
	"sort"

	"github.com/tomtom215/aegis/internal/config"
	"github.com/tomtom215/aegis/internal/threat"
)

// SlackChannel posts to a Slack incoming webhook.
type SlackChannel struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlackChannel creates a Slack channel.
func NewSlackChannel(cfg config.SlackConfig) *SlackChannel {
	return &SlackChannel{webhookURL: cfg.WebhookURL, channel: cfg.Channel, client: defaultHTTPClient()}
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Send(ctx context.Context, p Payload) error {
	if c.webhookURL == "" {
		return errors.New("slack webhook URL not configured")
	}
	if err := postJSON(ctx, c.client, c.webhookURL, nil, c.buildMessage(p)); err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	return nil
}

func (c *SlackChannel) buildMessage(p Payload) slackMessage {
	fields := []slackField{
		{Title: "Severity", Value: string(p.Severity), Short: true},
		{Title: "Type", Value: string(p.Type), Short: true},
	}
	keys := make([]string, 0, len(p.Details))
	for k := range p.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, slackField{Title: k, Value: fmt.Sprint(p.Details[k]), Short: true})
	}

	return slackMessage{
		Channel: c.channel,
		Text:    fmt.Sprintf("Security Alert: %s", p.Severity),
		Attachments: []slackAttachment{{
			Color:  slackColor(p.Severity),
			Title:  string(p.Type),
			Text:   p.Message,
			Fields: fields,
			Footer: "incident " + p.IncidentID,
			Ts:     p.Timestamp.Unix(),
		}},
	}
}

func slackColor(sev threat.Severity) string {
	switch sev {
	case threat.SeverityCritical:
		return "#ff0000"
	case threat.SeverityHigh:
		return "#ff6600"
	case threat.SeverityMedium:
		return "#ffcc00"
	default:
		return "#00cc00"
	}
}

type slackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields,omitempty"`
	Footer string       `json:"footer,omitempty"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

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
	"time"

	"github.com/tomtom215/aegis/internal/config"
	"github.com/tomtom215/aegis/internal/threat"
)

// DiscordChannel posts embeds to a Discord webhook.
type DiscordChannel struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordChannel creates a Discord channel.
func NewDiscordChannel(cfg config.DiscordConfig) *DiscordChannel {
	return &DiscordChannel{webhookURL: cfg.WebhookURL, client: defaultHTTPClient()}
}

func (c *DiscordChannel) Name() string { return "discord" }

func (c *DiscordChannel) Send(ctx context.Context, p Payload) error {
	if c.webhookURL == "" {
		return errors.New("discord webhook URL not configured")
	}
	payload := discordWebhookPayload{Embeds: []discordEmbed{buildDiscordEmbed(p)}}
	if err := postJSON(ctx, c.client, c.webhookURL, nil, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

func buildDiscordEmbed(p Payload) discordEmbed {
	fields := []discordEmbedField{
		{Name: "Severity", Value: string(p.Severity), Inline: true},
		{Name: "Type", Value: string(p.Type), Inline: true},
	}
	if ip, ok := p.Details["ipAddress"].(string); ok && ip != "" {
		fields = append(fields, discordEmbedField{Name: "IP Address", Value: ip, Inline: true})
	}
	if user, ok := p.Details["userId"].(string); ok && user != "" {
		fields = append(fields, discordEmbedField{Name: "User", Value: user, Inline: true})
	}

	return discordEmbed{
		Title:       "Security Alert: " + string(p.Type),
		Description: p.Message,
		Color:       discordColor(p.Severity),
		Timestamp:   p.Timestamp.Format(time.RFC3339),
		Fields:      fields,
		Footer:      discordEmbedFooter{Text: "Aegis incident " + p.IncidentID},
	}
}

func discordColor(sev threat.Severity) int {
	switch sev {
	case threat.SeverityCritical:
		return 0xFF0000
	case threat.SeverityHigh:
		return 0xFF6600
	case threat.SeverityMedium:
		return 0xFFCC00
	default:
		return 0x00CC00
	}
}

type discordWebhookPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Footer      discordEmbedFooter  `json:"footer,omitempty"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbedFooter struct {
	Text string `json:"text,omitempty"`
}

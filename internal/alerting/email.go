// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package alerting

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/aegis/internal/config"
)

const defaultSMTPFrom = "security@aegis.local"

var emailTemplate = template.Must(template.New("alert").Parse(`<h2>Security Alert</h2>
<p><strong>Severity:</strong> {{.Severity}}</p>
<p><strong>Type:</strong> {{.Type}}</p>
<p><strong>Time:</strong> {{.Timestamp}}</p>
<p><strong>Message:</strong> {{.Message}}</p>
<p><strong>Details:</strong></p>
<pre>{{.Details}}</pre>
{{if .Urgent}}<p>Please review and take appropriate action.</p>{{end}}
`))

// EmailChannel delivers alerts over SMTP, upgrading to TLS when the server
// offers STARTTLS.
type EmailChannel struct {
	host       string
	port       int
	username   string
	password   string
	from       string
	recipients []string
}

// NewEmailChannel creates an email channel.
func NewEmailChannel(cfg config.EmailConfig) *EmailChannel {
	from := cfg.From
	if from == "" {
		from = defaultSMTPFrom
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	return &EmailChannel{
		host:       cfg.Host,
		port:       port,
		username:   cfg.Username,
		password:   cfg.Password,
		from:       from,
		recipients: append([]string(nil), cfg.Recipients...),
	}
}

func (c *EmailChannel) Name() string { return "email" }

// Send mails the payload to the configured recipients.
func (c *EmailChannel) Send(ctx context.Context, p Payload) error {
	subject := fmt.Sprintf("Security Alert: %s - %s", p.Severity, p.Type)
	body, err := renderEmail(p, false)
	if err != nil {
		return err
	}
	return c.SendTo(ctx, c.recipients, subject, body)
}

// SendTo mails an HTML body to arbitrary recipients.
func (c *EmailChannel) SendTo(ctx context.Context, to []string, subject, htmlBody string) error {
	if c.host == "" {
		return errors.New("email: SMTP host not configured")
	}
	if len(to) == 0 {
		return errors.New("email: no recipients")
	}

	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("email: dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, c.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("email: smtp handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: c.host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("email: starttls: %w", err)
		}
	}
	if c.username != "" {
		if err := client.Auth(smtp.PlainAuth("", c.username, c.password, c.host)); err != nil {
			return fmt.Errorf("email: auth: %w", err)
		}
	}
	if err := client.Mail(c.from); err != nil {
		return fmt.Errorf("email: MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("email: RCPT TO: %w", err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("email: DATA: %w", err)
	}
	if _, err := w.Write(buildMIME(c.from, to, subject, htmlBody)); err != nil {
		w.Close()
		return fmt.Errorf("email: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("email: finish body: %w", err)
	}
	return client.Quit()
}

func buildMIME(from string, to []string, subject, htmlBody string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(htmlBody)
	return b.Bytes()
}

func renderEmail(p Payload, urgent bool) (string, error) {
	details, err := json.MarshalIndent(sortedDetails(p.Details), "", "  ")
	if err != nil {
		return "", fmt.Errorf("email: marshal details: %w", err)
	}
	var b bytes.Buffer
	err = emailTemplate.Execute(&b, map[string]any{
		"Severity":  p.Severity,
		"Type":      p.Type,
		"Timestamp": p.Timestamp.UTC().Format(time.RFC3339),
		"Message":   p.Message,
		"Details":   string(details),
		"Urgent":    urgent,
	})
	if err != nil {
		return "", fmt.Errorf("email: render: %w", err)
	}
	return b.String(), nil
}

type detailPair struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func sortedDetails(m map[string]any) []detailPair {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]detailPair, 0, len(keys))
	for _, k := range keys {
		out = append(out, detailPair{Key: k, Value: m[k]})
	}
	return out
}

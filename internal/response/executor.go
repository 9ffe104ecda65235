// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package response

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/aegis/internal/config"
	"github.com/tomtom215/aegis/internal/incident"
	"github.com/tomtom215/aegis/internal/logging"
)

// notifiedTTL bounds how long NOTIFY_ADMIN remembers an incident.
const notifiedTTL = 24 * time.Hour

// Errors reported in failed action results.
var (
	ErrNoSubjectUser = errors.New("incident has no subject user")
	ErrNoSubjectIP   = errors.New("incident has no subject IP")
	ErrNoNotifier    = errors.New("no admin notifier configured")
)

// AdminNotifier delivers the urgent NOTIFY_ADMIN message.
type AdminNotifier interface {
	NotifyAdmins(ctx context.Context, inc *incident.Incident) error
}

// Executor applies remediation primitives against a State. Every
// primitive is idempotent: repeating it while the flag is live is a no-op.
type Executor struct {
	state    State
	cfg      config.ActionsConfig
	notifier AdminNotifier
}

// Option configures an Executor.
type Option func(*Executor)

// WithAdminNotifier sets the NOTIFY_ADMIN delivery path.
func WithAdminNotifier(n AdminNotifier) Option {
	return func(e *Executor) { e.notifier = n }
}

// NewExecutor creates an executor. Zero durations fall back to 1h block,
// 1h monitoring and 30m MFA.
func NewExecutor(state State, cfg config.ActionsConfig, opts ...Option) *Executor {
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = time.Hour
	}
	if cfg.MonitoringDuration <= 0 {
		cfg.MonitoringDuration = time.Hour
	}
	if cfg.MFADuration <= 0 {
		cfg.MFADuration = 30 * time.Minute
	}
	e := &Executor{state: state, cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one primitive for inc.
func (e *Executor) Execute(ctx context.Context, action incident.ActionName, inc *incident.Incident) incident.ActionResult {
	switch action {
	case incident.ActionBlockIP:
		if inc.SubjectIP == "" {
			return failed(ErrNoSubjectIP)
		}
		return e.setFlag(ctx, PrefixBlockedIP+inc.SubjectIP, inc.SubjectIP, inc, e.cfg.BlockDuration)

	case incident.ActionSuspendUser:
		user := inc.UserIDOr("")
		if user == "" {
			return failed(ErrNoSubjectUser)
		}
		return e.setFlag(ctx, PrefixSuspendedUser+user, user, inc, e.cfg.SuspendDuration)

	case incident.ActionIncreaseMonitoring:
		subject := monitoringSubject(inc)
		if subject == "" {
			return failed(ErrNoSubjectIP)
		}
		return e.setFlag(ctx, PrefixMonitoring+subject, subject, inc, e.cfg.MonitoringDuration)

	case incident.ActionForceMFA:
		user := inc.UserIDOr("")
		if user == "" {
			return failed(ErrNoSubjectUser)
		}
		return e.setFlag(ctx, PrefixForceMFA+user, user, inc, e.cfg.MFADuration)

	case incident.ActionNotifyAdmin:
		return e.notifyAdmins(ctx, inc)

	default:
		return failed(fmt.Errorf("unknown action %q", action))
	}
}

func (e *Executor) setFlag(ctx context.Context, key, subject string, inc *incident.Incident, ttl time.Duration) incident.ActionResult {
	stored, err := e.state.SetIfAbsent(ctx, Entry{
		Key:        key,
		Subject:    subject,
		Reason:     fmt.Sprintf("%s %s", inc.Severity, inc.Type),
		IncidentID: inc.ID,
	}, ttl)
	if err != nil {
		return failed(err)
	}
	if !stored {
		return incident.ActionResult{Success: true, NoOp: true}
	}
	logging.Ctx(ctx).Info().
		Str("flag", key).
		Dur("ttl", ttl).
		Msg("enforcement flag set")
	return incident.ActionResult{Success: true}
}

func (e *Executor) notifyAdmins(ctx context.Context, inc *incident.Incident) incident.ActionResult {
	if e.notifier == nil {
		return failed(ErrNoNotifier)
	}
	key := PrefixNotified + inc.ID
	stored, err := e.state.SetIfAbsent(ctx, Entry{Key: key, Subject: inc.ID, IncidentID: inc.ID}, notifiedTTL)
	if err != nil {
		return failed(err)
	}
	if !stored {
		return incident.ActionResult{Success: true, NoOp: true}
	}
	if err := e.notifier.NotifyAdmins(ctx, inc); err != nil {
		// Allow a retry of the notification.
		if _, delErr := e.state.Delete(ctx, key); delErr != nil {
			logging.Ctx(ctx).Warn().Err(delErr).Msg("failed to clear admin notification marker")
		}
		return failed(err)
	}
	return incident.ActionResult{Success: true}
}

func monitoringSubject(inc *incident.Incident) string {
	if u := inc.UserIDOr(""); u != "" {
		return "user:" + u
	}
	if inc.SubjectIP != "" {
		return "ip:" + inc.SubjectIP
	}
	return ""
}

func failed(err error) incident.ActionResult {
	return incident.ActionResult{Err: err}
}

// Enforcement is the set of live flags affecting a request.
type Enforcement struct {
	BlockedIP     bool   `json:"blockedIp"`
	SuspendedUser bool   `json:"suspendedUser"`
	ForceMFA      bool   `json:"forceMfa"`
	Monitoring    bool   `json:"monitoring"`
	Reason        string `json:"reason,omitempty"`
}

// Denied reports whether the request must be refused.
func (en Enforcement) Denied() bool {
	return en.BlockedIP || en.SuspendedUser
}

// Check looks up the live flags for ip and userID (which may be empty).
// Lookup errors are returned together with whatever flags were read.
func (e *Executor) Check(ctx context.Context, ip, userID string) (Enforcement, error) {
	var en Enforcement
	var errs []error

	lookup := func(key string) (Entry, bool) {
		entry, ok, err := e.state.Get(ctx, key)
		if err != nil {
			errs = append(errs, err)
			return Entry{}, false
		}
		return entry, ok
	}

	if ip != "" {
		if entry, ok := lookup(PrefixBlockedIP + ip); ok {
			en.BlockedIP = true
			en.Reason = "IP address blocked: " + entry.Reason
		}
		if _, ok := lookup(PrefixMonitoring + "ip:" + ip); ok {
			en.Monitoring = true
		}
	}
	if userID != "" {
		if entry, ok := lookup(PrefixSuspendedUser + userID); ok {
			en.SuspendedUser = true
			if en.Reason == "" {
				en.Reason = "User account suspended: " + entry.Reason
			}
		}
		if _, ok := lookup(PrefixForceMFA + userID); ok {
			en.ForceMFA = true
		}
		if _, ok := lookup(PrefixMonitoring + "user:" + userID); ok {
			en.Monitoring = true
		}
	}
	return en, errors.Join(errs...)
}

// Unblock lifts an IP block. It reports whether a live block existed.
func (e *Executor) Unblock(ctx context.Context, ip string) (bool, error) {
	return e.state.Delete(ctx, PrefixBlockedIP+ip)
}

// Reinstate lifts a user suspension.
func (e *Executor) Reinstate(ctx context.Context, userID string) (bool, error) {
	return e.state.Delete(ctx, PrefixSuspendedUser+userID)
}

// Blocks lists live IP blocks.
func (e *Executor) Blocks(ctx context.Context) ([]Entry, error) {
	return e.state.List(ctx, PrefixBlockedIP)
}

// Cleanup drops expired flags.
func (e *Executor) Cleanup(ctx context.Context) (int, error) {
	return e.state.Cleanup(ctx)
}

// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/tomtom215/aegis/internal/logging"
	"github.com/tomtom215/aegis/internal/metrics"
	"github.com/tomtom215/aegis/internal/pipeline"
	"github.com/tomtom215/aegis/internal/response"
	"github.com/tomtom215/aegis/internal/threat"
)

// Response headers set by ThreatProtection.
const (
	HeaderSecurityMonitor   = "X-Security-Monitor"
	HeaderSecurityChallenge = "X-Security-Challenge"
	HeaderThreatScore       = "X-Threat-Score"
	HeaderMFARequired       = "X-MFA-Required"
)

// Evaluator scores a request.
type Evaluator interface {
	Evaluate(ctx context.Context, r *http.Request) pipeline.Result
}

// Enforcer reports the live enforcement flags for a client.
type Enforcer interface {
	Check(ctx context.Context, ip, userID string) (response.Enforcement, error)
}

// BlockedResponse is the 403 body for refused requests.
type BlockedResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Reason    string `json:"reason"`
	RequestID string `json:"requestId"`
}

// ThreatProtection scores every request and applies the decision:
// ALLOW and LOG pass, MONITOR and CHALLENGE pass with advisory headers,
// BLOCK is refused with 403. Requests from blocked IPs or suspended users
// are refused the same way. enforcer may be nil.
func ThreatProtection(ev Evaluator, enforcer Enforcer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := ev.Evaluate(r.Context(), r)
			sig, a := res.Signal, res.Analysis
			ctx := r.Context()
			if logging.RequestIDFromContext(ctx) == "" {
				ctx = logging.ContextWithRequestID(ctx, sig.RequestID)
				r = r.WithContext(ctx)
			}

			if enforcer != nil {
				en, err := enforcer.Check(ctx, sig.IP, sig.UserIDOr(""))
				if err != nil {
					logging.Ctx(ctx).Warn().Err(err).Str("ip", sig.IP).Msg("enforcement lookup failed")
				}
				if en.Denied() {
					reason := "blocked_ip"
					if !en.BlockedIP {
						reason = "suspended_user"
					}
					metrics.EnforcementHits.WithLabelValues(reason).Inc()
					writeBlocked(w, en.Reason, sig.RequestID)
					return
				}
				if en.ForceMFA {
					metrics.EnforcementHits.WithLabelValues("force_mfa").Inc()
					w.Header().Set(HeaderMFARequired, "true")
				}
				if en.Monitoring {
					w.Header().Set(HeaderSecurityMonitor, "active")
				}
			}

			score := strconv.FormatFloat(a.Score, 'f', 3, 64)
			switch a.Decision.Action {
			case threat.ActionBlock:
				writeBlocked(w, a.Decision.Reason, sig.RequestID)
				return
			case threat.ActionChallenge:
				w.Header().Set(HeaderSecurityChallenge, "required")
				w.Header().Set(HeaderThreatScore, score)
			case threat.ActionMonitor:
				w.Header().Set(HeaderSecurityMonitor, "active")
				w.Header().Set(HeaderThreatScore, score)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeBlocked(w http.ResponseWriter, reason, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(BlockedResponse{
		Error:     "Access blocked",
		Message:   "Request blocked due to security threat",
		Reason:    reason,
		RequestID: requestID,
	})
}

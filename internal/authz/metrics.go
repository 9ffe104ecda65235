// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package authz

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AuthzDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Total number of authorization decisions",
		},
		[]string{"role", "resource", "action", "decision"},
	)

	AuthzDecisionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authz_decision_duration_seconds",
			Help:    "Duration of authorization decisions in seconds",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		},
		[]string{"cache_hit"},
	)

	// AuthzDeniedTotal tracks denials separately for alerting.
	AuthzDeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_denied_total",
			Help: "Total number of authorization denials",
		},
		[]string{"role", "resource", "action"},
	)

	AuthzPolicyReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_policy_reloads_total",
			Help: "Total number of policy reloads",
		},
		[]string{"result"},
	)

	AuthzPolicyRules = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "authz_policy_rules",
			Help: "Number of loaded policy rules",
		},
		[]string{"type"},
	)

	AuthzErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_errors_total",
			Help: "Total number of authorization errors",
		},
		[]string{"error_type"},
	)
)

// RecordAuthzDecision records one decision.
func RecordAuthzDecision(role, resource, action string, allowed bool, duration time.Duration, cacheHit bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	AuthzDecisionsTotal.WithLabelValues(role, resource, action, decision).Inc()
	AuthzDecisionDuration.WithLabelValues(strconv.FormatBool(cacheHit)).Observe(duration.Seconds())
	if !allowed {
		AuthzDeniedTotal.WithLabelValues(role, resource, action).Inc()
	}
}

// RecordPolicyReload records a policy reload attempt.
func RecordPolicyReload(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	AuthzPolicyReloadsTotal.WithLabelValues(result).Inc()
}

// UpdatePolicyStats sets the policy size gauges.
func UpdatePolicyStats(policyRules, groupingRules int) {
	AuthzPolicyRules.WithLabelValues("policy").Set(float64(policyRules))
	AuthzPolicyRules.WithLabelValues("grouping").Set(float64(groupingRules))
}

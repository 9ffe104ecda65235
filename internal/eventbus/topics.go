// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package eventbus

// Topics carried by the bus. Each maps to a dashboard subscription channel.
const (
	TopicThreats   = "security.threats"
	TopicIncidents = "security.incidents"
	TopicAlerts    = "security.alerts"
	TopicMetrics   = "security.metrics"
)

// Event types.
const (
	EventThreatScored      = "THREAT_SCORED"
	EventSecurityIncident  = "SECURITY_INCIDENT"
	EventIncidentResolved  = "INCIDENT_RESOLVED"
	EventSecurityAlert     = "SECURITY_ALERT"
	EventMetricsUpdate     = "METRICS_UPDATE"
	EventHighRiskIdentity  = "HIGH_RISK_IDENTITY"
	EventAdminNotification = "ADMIN_NOTIFICATION"
	EventThreatDigest      = "THREAT_DIGEST"
)

// Topics lists every topic in subscription order.
var Topics = []string{TopicThreats, TopicIncidents, TopicAlerts, TopicMetrics}

// ChannelForTopic returns the short dashboard channel name for a topic.
func ChannelForTopic(topic string) string {
	switch topic {
	case TopicThreats:
		return "threats"
	case TopicIncidents:
		return "incidents"
	case TopicAlerts:
		return "alerts"
	case TopicMetrics:
		return "metrics"
	default:
		return ""
	}
}

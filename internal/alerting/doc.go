// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

/*
Package alerting delivers incident alerts to notification channels.

A Dispatcher creates one Alert per enabled channel whose minimum severity
admits the incident. Alerts start PENDING, are delivered concurrently with
a per-delivery timeout, and end SENT or FAILED with the last error. Every
channel sits behind its own circuit breaker (sony/gobreaker) and token
bucket (x/time/rate), so an outage in one provider never delays another.

Channels:

  - email: SMTP with STARTTLS
  - webhook: JSON POST to every endpoint, X-Security-Alert: true
  - slack: incoming webhook attachment coloured by severity
  - discord: webhook embed
  - sms: Twilio Messages API

FAILED alerts are retried by RequeueFailed until max_retries attempts.
*/
package alerting

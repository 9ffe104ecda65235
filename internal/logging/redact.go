// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package logging

import "strings"

// SanitizeToken masks a credential, keeping only the first and last four
// characters. Short values are replaced entirely.
func SanitizeToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 12 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// SanitizeEmail masks the local part of an address.
// "john.doe@example.com" becomes "jo***@example.com".
func SanitizeEmail(email string) string {
	if email == "" {
		return ""
	}
	at := strings.Index(email, "@")
	if at <= 0 {
		return "***"
	}
	local, domain := email[:at], email[at:]
	if len(local) <= 2 {
		return "***" + domain
	}
	return local[:2] + "***" + domain
}

// SanitizeURL reduces a URL to its scheme and host. Incoming webhook URLs
// (Slack, Discord) carry their secret in the path, so nothing past the host
// is kept.
func SanitizeURL(raw string) string {
	scheme := strings.Index(raw, "://")
	if scheme < 0 {
		return "***"
	}
	rest := raw[scheme+3:]
	if at := strings.LastIndex(rest[:hostEnd(rest)], "@"); at >= 0 {
		rest = rest[at+1:]
	}
	host := rest[:hostEnd(rest)]
	if len(host) < len(rest) {
		return raw[:scheme+3] + host + "/..."
	}
	return raw[:scheme+3] + host
}

func hostEnd(s string) int {
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		return i
	}
	return len(s)
}

// Truncate shortens s to at most maxLen bytes, marking the cut.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

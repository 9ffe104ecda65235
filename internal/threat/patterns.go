// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package threat

import (
	"net/url"
	"regexp"
	"strings"
)

// PatternTableVersion identifies the attack pattern table. Bump it whenever a
// matcher is added, removed or changed so persisted analyses stay comparable.
const PatternTableVersion = 1

// Category is an attack pattern family.
type Category string

const (
	CategorySQLInjection     Category = "sqlInjection"
	CategoryXSS              Category = "xss"
	CategoryPathTraversal    Category = "pathTraversal"
	CategoryCommandInjection Category = "commandInjection"
	CategoryFileInclusion    Category = "fileInclusion"
	CategoryLDAPInjection    Category = "ldapInjection"
	CategoryNoSQLInjection   Category = "nosqlInjection"
)

// Categories lists every category in evaluation order.
var Categories = []Category{
	CategorySQLInjection,
	CategoryXSS,
	CategoryPathTraversal,
	CategoryCommandInjection,
	CategoryFileInclusion,
	CategoryLDAPInjection,
	CategoryNoSQLInjection,
}

// patternTable is the single ordered source of attack matchers. Each entry is
// one distinct technique, so a request hitting n techniques counts n.
// Patterns are RE2 and match in linear time.
var patternTable = map[Category][]string{
	CategorySQLInjection: {
		`'\s*(?:or|and)\s+'?\w+'?\s*(?:=|like)\s*'?\w+`,
		`\bunion\b[\s\S]{0,40}?\bselect\b`,
		`;\s*(?:drop|delete|insert|update|alter|create|truncate)\b`,
		`'\s*(?:--|#|/\*)`,
		`\b(?:sleep|benchmark|pg_sleep)\s*\(|\bwaitfor\s+delay\b`,
		`\bselect\b[\s\S]{0,100}?\bfrom\b[\s\S]{0,100}?\b(?:information_schema|pg_catalog|sysobjects|mysql\.user)\b`,
		`\bor\s+1\s*=\s*1\b`,
		`\bexec(?:ute)?\s+(?:xp_|sp_)\w+`,
	},
	CategoryXSS: {
		`<\s*script\b`,
		`\b(?:java|vb)script\s*:`,
		`\bon(?:load|error|click|mouseover|focus|blur|submit|change|key(?:up|down|press)|abort|unload)\s*=`,
		`<\s*(?:iframe|object|embed)\b`,
		`\bdocument\.(?:cookie|location|write)\b`,
		`<\s*svg\b[^>]*\bon\w+\s*=`,
	},
	CategoryPathTraversal: {
		`(?:\.\.|%2e%2e|%252e%252e)(?:/|\\|%2f|%5c|%252f)`,
		`(?:^|[^./\w])/(?:etc/(?:passwd|shadow|hosts|group)|proc/(?:self/|version|cpuinfo|meminfo))`,
		`(?:c:)?[/\\]windows[/\\]system32\b`,
	},
	CategoryCommandInjection: {
		`(?:;|\|\|?|&&|` + "`" + `)\s*(?:cat|ls|rm|wget|curl|nc|ncat|bash|sh|zsh|whoami|id|uname|ping|chmod|chown)\b`,
		`\$\([^)]{1,200}\)`,
		"`[^`]{1,200}`",
		`\b(?:/bin/(?:ba)?sh|cmd\.exe|powershell(?:\.exe)?)\b`,
	},
	CategoryFileInclusion: {
		`\b(?:include|require)(?:_once)?\s*\(`,
		`\b(?:php|data|expect|phar|zip|file)://`,
		`=\s*(?:https?|ftp)://[^&\s]+\.(?:php|txt|sh|inc)\b`,
		`\b(?:fopen|file_get_contents|file_put_contents|readfile|move_uploaded_file)\s*\(`,
	},
	CategoryLDAPInjection: {
		`\*\)\s*\(`,
		`\(\s*[|&!]\s*\(`,
		`\(\s*\w+\s*=\s*\*\s*\)`,
		`\)\s*\)\s*\(\s*\|`,
	},
	CategoryNoSQLInjection: {
		`["'\[]\$(?:ne|eq|gt|gte|lt|lte|in|nin|exists|regex|not)\b`,
		`\$where\b`,
		`\{\s*["']?\$(?:or|and|nor|expr)\b`,
		`\bthis\.\w+\s*(?:==|!=|>|<)`,
	},
}

// PatternMatcher scans requests for known attack techniques. It is
// stateless after construction and safe for concurrent use.
type PatternMatcher struct {
	matchers map[Category][]*regexp.Regexp
	maxBlob  int
}

// NewPatternMatcher compiles the pattern table. maxBlob caps the scanned
// text; zero or less means 64 KiB.
func NewPatternMatcher(maxBlob int) *PatternMatcher {
	if maxBlob <= 0 {
		maxBlob = 64 << 10
	}
	m := &PatternMatcher{
		matchers: make(map[Category][]*regexp.Regexp, len(patternTable)),
		maxBlob:  maxBlob,
	}
	for _, cat := range Categories {
		for _, p := range patternTable[cat] {
			m.matchers[cat] = append(m.matchers[cat], regexp.MustCompile(`(?i)`+p))
		}
	}
	return m
}

// Match returns the number of matchers hit per category. Every category is
// always present; a clean request yields all zeros.
func (m *PatternMatcher) Match(sig *RequestSignal) map[Category]int {
	return m.MatchText(m.searchText(sig))
}

// MatchText scans arbitrary text.
func (m *PatternMatcher) MatchText(text string) map[Category]int {
	if len(text) > m.maxBlob {
		text = text[:m.maxBlob]
	}
	out := make(map[Category]int, len(Categories))
	for _, cat := range Categories {
		n := 0
		for _, re := range m.matchers[cat] {
			if re.MatchString(text) {
				n++
			}
		}
		out[cat] = n
	}
	return out
}

// searchedHeaders are the request headers folded into the scanned text.
var searchedHeaders = []string{"User-Agent", "Referer", "X-Forwarded-Host"}

func (m *PatternMatcher) searchText(sig *RequestSignal) string {
	var b strings.Builder
	b.WriteString(sig.URL)
	if decoded, err := url.QueryUnescape(sig.URL); err == nil && decoded != sig.URL {
		b.WriteByte('\n')
		b.WriteString(decoded)
	}
	if sig.Query != "" && !strings.Contains(sig.URL, sig.Query) {
		b.WriteByte('\n')
		b.WriteString(sig.Query)
	}
	if sig.BodySample != "" {
		b.WriteByte('\n')
		b.WriteString(sig.BodySample)
	}
	for _, h := range searchedHeaders {
		if v := sig.Headers[h]; v != "" {
			b.WriteByte('\n')
			b.WriteString(v)
		}
	}
	return b.String()
}

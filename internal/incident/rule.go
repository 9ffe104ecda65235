// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package incident

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tomtom215/aegis/internal/config"
	"github.com/tomtom215/aegis/internal/threat"
)

// Range is an inclusive interval. A nil bound is open.
type Range struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// IsZero reports whether neither bound is set.
func (r Range) IsZero() bool {
	return r.Min == nil && r.Max == nil
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v float64) bool {
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

// Conditions restrict which incidents a rule matches. Zero fields do not
// constrain.
type Conditions struct {
	Severity     threat.Severity `json:"severity,omitempty" validate:"omitempty,severity"`
	IncidentType Type            `json:"incidentType,omitempty"`
	ThreatScore  Range           `json:"threatScore"`
	DistanceKm   Range           `json:"distanceKm"`
	FailureCount Range           `json:"failureCount"`
}

// Rule maps incident conditions to response actions.
type Rule struct {
	Name       string       `json:"name" validate:"required,max=128"`
	Priority   int          `json:"priority" validate:"min=0"`
	Enabled    bool         `json:"enabled"`
	Conditions Conditions   `json:"conditions"`
	Actions    []ActionName `json:"actions" validate:"required,min=1,dive,incident_action"`
}

// Matches reports whether the rule applies to inc. A range on a metric the
// incident does not carry never matches.
func (r *Rule) Matches(inc *Incident) bool {
	if !r.Enabled {
		return false
	}
	c := r.Conditions
	if c.Severity != "" && c.Severity != inc.Severity {
		return false
	}
	if c.IncidentType != "" && c.IncidentType != inc.Type {
		return false
	}
	if !c.ThreatScore.IsZero() && !c.ThreatScore.Contains(inc.ThreatScore) {
		return false
	}
	if !c.DistanceKm.IsZero() {
		if inc.DistanceKm == nil || !c.DistanceKm.Contains(*inc.DistanceKm) {
			return false
		}
	}
	if !c.FailureCount.IsZero() {
		if inc.FailureCount == nil || !c.FailureCount.Contains(float64(*inc.FailureCount)) {
			return false
		}
	}
	return true
}

func (r *Rule) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if r.Priority < 0 {
		return fmt.Errorf("%w: rule %q has negative priority", ErrInvalidRule, r.Name)
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("%w: rule %q has no actions", ErrInvalidRule, r.Name)
	}
	for _, a := range r.Actions {
		if _, err := ParseActionName(string(a)); err != nil {
			return fmt.Errorf("%w: rule %q: %w", ErrInvalidRule, r.Name, err)
		}
	}
	if r.Conditions.Severity != "" {
		if _, err := threat.ParseSeverity(string(r.Conditions.Severity)); err != nil {
			return fmt.Errorf("%w: rule %q: %w", ErrInvalidRule, r.Name, err)
		}
	}
	for label, rg := range map[string]Range{
		"threat score": r.Conditions.ThreatScore,
		"distance":     r.Conditions.DistanceKm,
		"failures":     r.Conditions.FailureCount,
	} {
		if rg.Min != nil && rg.Max != nil && *rg.Min > *rg.Max {
			return fmt.Errorf("%w: rule %q has an empty %s range", ErrInvalidRule, r.Name, label)
		}
	}
	return nil
}

// RuleSet is an immutable rule table ordered by ascending priority.
type RuleSet struct {
	rules []Rule
}

// NewRuleSet validates rules and orders them by priority. Names and
// priorities must be unique.
func NewRuleSet(rules []Rule) (*RuleSet, error) {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)

	names := make(map[string]struct{}, len(sorted))
	byPriority := make(map[int]string, len(sorted))
	for i := range sorted {
		r := &sorted[i]
		if err := r.validate(); err != nil {
			return nil, err
		}
		if _, dup := names[r.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate rule name %q", ErrInvalidRule, r.Name)
		}
		names[r.Name] = struct{}{}
		if first, dup := byPriority[r.Priority]; dup {
			return nil, &DuplicatePriorityError{Priority: r.Priority, First: first, Second: r.Name}
		}
		byPriority[r.Priority] = r.Name
		r.Actions = append([]ActionName(nil), r.Actions...)
	}

	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	return &RuleSet{rules: sorted}, nil
}

// Rules returns a copy of the table in priority order.
func (s *RuleSet) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Len returns the number of rules.
func (s *RuleSet) Len() int {
	return len(s.rules)
}

// Match returns the rules matching inc in ascending priority.
func (s *RuleSet) Match(inc *Incident) []Rule {
	var matched []Rule
	for i := range s.rules {
		if s.rules[i].Matches(inc) {
			matched = append(matched, s.rules[i])
		}
	}
	return matched
}

// RulesFromConfig converts the configured rule table.
func RulesFromConfig(cfgs []config.RuleConfig) ([]Rule, error) {
	rules := make([]Rule, 0, len(cfgs))
	for _, rc := range cfgs {
		r := Rule{
			Name:     rc.Name,
			Priority: rc.Priority,
			Enabled:  !rc.Disabled,
			Conditions: Conditions{
				Severity:     threat.Severity(strings.ToUpper(rc.Conditions.Severity)),
				IncidentType: Type(strings.ToUpper(rc.Conditions.IncidentType)),
				ThreatScore:  Range{Min: rc.Conditions.MinScore, Max: rc.Conditions.MaxScore},
				DistanceKm:   Range{Min: rc.Conditions.MinDistanceKm, Max: rc.Conditions.MaxDistanceKm},
				FailureCount: Range{Min: intToFloat(rc.Conditions.MinFailures), Max: intToFloat(rc.Conditions.MaxFailures)},
			},
		}
		for _, a := range rc.Actions {
			name, err := ParseActionName(strings.ToUpper(a))
			if err != nil {
				return nil, fmt.Errorf("%w: rule %q: %w", ErrInvalidRule, rc.Name, err)
			}
			r.Actions = append(r.Actions, name)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// RuleSetFromConfig builds a validated table from configuration.
func RuleSetFromConfig(cfgs []config.RuleConfig) (*RuleSet, error) {
	rules, err := RulesFromConfig(cfgs)
	if err != nil {
		return nil, err
	}
	return NewRuleSet(rules)
}

func intToFloat(v *int) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}

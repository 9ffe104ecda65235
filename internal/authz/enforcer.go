// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package authz

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"

	"github.com/tomtom215/aegis/internal/cache"
	"github.com/tomtom215/aegis/internal/config"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Roles of the admin API.
const (
	RoleAdmin   = "admin"
	RoleAnalyst = "analyst"
	RoleViewer  = "viewer"
)

// Actions.
const (
	ActionRead   = "read"
	ActionWrite  = "write"
	ActionDelete = "delete"
)

const (
	decisionCacheSize = 4096
	decisionCacheTTL  = 5 * time.Minute
)

// Enforcer wraps a Casbin enforcer with a decision cache.
type Enforcer struct {
	enforcer    *casbin.SyncedEnforcer
	decisions   *cache.LRU[string, bool]
	defaultRole string
	fromFile    bool
}

// NewEnforcer loads the model and policy. Paths in cfg override the
// embedded defaults when the files exist.
func NewEnforcer(cfg config.CasbinConfig) (*Enforcer, error) {
	var (
		m   model.Model
		err error
	)
	if cfg.ModelPath != "" && fileExists(cfg.ModelPath) {
		m, err = model.NewModelFromFile(cfg.ModelPath)
	} else {
		m, err = model.NewModelFromString(embeddedModel)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}

	var enforcer *casbin.SyncedEnforcer
	fromFile := cfg.PolicyPath != "" && fileExists(cfg.PolicyPath)
	if fromFile {
		enforcer, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(cfg.PolicyPath))
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
		if err == nil {
			err = loadEmbeddedPolicy(enforcer, embeddedPolicy)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	e := &Enforcer{
		enforcer:    enforcer,
		decisions:   cache.NewLRU[string, bool](decisionCacheSize, decisionCacheTTL),
		defaultRole: cfg.DefaultRole,
		fromFile:    fromFile,
	}
	e.updatePolicyStats()
	return e, nil
}

// loadEmbeddedPolicy parses the policy CSV.
func loadEmbeddedPolicy(enforcer *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		switch {
		case parts[0] == "p" && len(parts) >= 4:
			if _, err := enforcer.AddPolicy(parts[1], parts[2], parts[3]); err != nil {
				return fmt.Errorf("failed to add policy %v: %w", parts[1:], err)
			}
		case parts[0] == "g" && len(parts) >= 3:
			if _, err := enforcer.AddGroupingPolicy(parts[1], parts[2]); err != nil {
				return fmt.Errorf("failed to add grouping policy %v: %w", parts[1:], err)
			}
		}
	}
	return nil
}

// Enforce reports whether role may perform action on object. An empty role
// falls back to the configured default role.
func (e *Enforcer) Enforce(role, object, action string) (bool, error) {
	start := time.Now()
	if role == "" {
		role = e.defaultRole
	}
	if role == "" {
		RecordAuthzDecision("anonymous", object, action, false, time.Since(start), false)
		return false, nil
	}

	key := role + "\x00" + object + "\x00" + action
	if allowed, ok := e.decisions.Get(key); ok {
		RecordAuthzDecision(role, object, action, allowed, time.Since(start), true)
		return allowed, nil
	}

	allowed, err := e.enforcer.Enforce(role, object, action)
	if err != nil {
		AuthzErrorsTotal.WithLabelValues("enforce").Inc()
		return false, fmt.Errorf("enforcement failed: %w", err)
	}
	e.decisions.Set(key, allowed)
	RecordAuthzDecision(role, object, action, allowed, time.Since(start), false)
	return allowed, nil
}

// ReloadPolicy rereads the policy file. With the embedded policy it is a
// no-op.
func (e *Enforcer) ReloadPolicy() error {
	if !e.fromFile {
		return nil
	}
	if err := e.enforcer.LoadPolicy(); err != nil {
		RecordPolicyReload(false)
		return fmt.Errorf("reload casbin policy: %w", err)
	}
	e.decisions.Clear()
	RecordPolicyReload(true)
	e.updatePolicyStats()
	return nil
}

// Policy returns all policy rules.
func (e *Enforcer) Policy() [][]string {
	//nolint:errcheck // only fails on a nil model
	policies, _ := e.enforcer.GetPolicy()
	return policies
}

func (e *Enforcer) updatePolicyStats() {
	//nolint:errcheck // only fails on a nil model
	p, _ := e.enforcer.GetPolicy()
	//nolint:errcheck // only fails on a nil model
	g, _ := e.enforcer.GetGroupingPolicy()
	UpdatePolicyStats(len(p), len(g))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

// Package authz decides which POS roles may trigger backup operations.
//
// The POS shell authenticates the operator and hands the agent a role
// string. The agent still re-checks every mutating request against a
// Casbin RBAC policy so a misbehaving caller cannot delete backups with a
// cashier session. The model and policy are embedded; operators can
// override either with files.
package authz

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"

	"github.com/tomtom215/shelfguard/internal/metrics"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Objects and actions used by the agent.
const (
	ObjectBackups  = "backups"
	ObjectRemote   = "remote"
	ObjectSettings = "settings"

	ActionRead    = "read"
	ActionCreate  = "create"
	ActionDelete  = "delete"
	ActionConnect = "connect"
	ActionUpdate  = "update"
)

// Config selects optional model and policy files.
type Config struct {
	ModelPath  string
	PolicyPath string
}

// Enforcer wraps a Casbin SyncedEnforcer.
type Enforcer struct {
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer loads the model and policy. Missing override files fall back
// to the embedded defaults.
func NewEnforcer(cfg Config) (*Enforcer, error) {
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

	var e *casbin.SyncedEnforcer
	if cfg.PolicyPath != "" && fileExists(cfg.PolicyPath) {
		e, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(cfg.PolicyPath))
	} else {
		e, err = casbin.NewSyncedEnforcer(m)
		if err == nil {
			err = loadPolicy(e, embeddedPolicy)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	return &Enforcer{enforcer: e}, nil
}

// loadPolicy reads "p, sub, obj, act" and "g, child, parent" lines.
func loadPolicy(e *casbin.SyncedEnforcer, policy string) error {
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
		case parts[0] == "p" && len(parts) == 4:
			if _, err := e.AddPolicy(parts[1], parts[2], parts[3]); err != nil {
				return fmt.Errorf("failed to add policy %v: %w", parts[1:], err)
			}
		case parts[0] == "g" && len(parts) == 3:
			if _, err := e.AddGroupingPolicy(parts[1], parts[2]); err != nil {
				return fmt.Errorf("failed to add grouping policy %v: %w", parts[1:], err)
			}
		default:
			return fmt.Errorf("malformed policy line %q", line)
		}
	}
	return nil
}

// Enforce reports whether subject (a role) may perform action on object.
// Role names are matched case-insensitively.
func (e *Enforcer) Enforce(subject, object, action string) (bool, error) {
	allowed, err := e.enforcer.Enforce(strings.ToLower(strings.TrimSpace(subject)), object, action)
	if err != nil {
		return false, fmt.Errorf("enforcement failed: %w", err)
	}
	metrics.RecordAuthzDecision(object, action, allowed)
	return allowed, nil
}

// Roles returns every role named in the policy, inherited ones included.
func (e *Enforcer) Roles() []string {
	//nolint:errcheck // only fails on a nil model
	subjects, _ := e.enforcer.GetAllSubjects()
	//nolint:errcheck // only fails on a nil model
	grouping, _ := e.enforcer.GetGroupingPolicy()

	seen := make(map[string]bool)
	var roles []string
	add := func(r string) {
		if !seen[r] {
			seen[r] = true
			roles = append(roles, r)
		}
	}
	for _, s := range subjects {
		add(s)
	}
	for _, g := range grouping {
		if len(g) > 0 {
			add(g[0])
		}
	}
	return roles
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

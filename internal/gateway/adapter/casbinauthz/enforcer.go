// Package casbinauthz decides path access for the mac filter with a casbin
// RBAC policy.
package casbinauthz

import (
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"

	"authgate/internal/domain"
	"authgate/internal/gateway"
)

//go:embed model.conf
var modelText string

// Enforcer answers whether a principal may call method on path.
//
// Policy lines have the form "p, subject, path pattern, method" where the
// subject is a principal ID or role, the pattern uses keyMatch syntax
// ("/admin/*") and method "*" matches every method. Grouping lines
// "g, user, role" assign extra roles.
type Enforcer struct {
	e *casbin.SyncedEnforcer
}

var _ gateway.AccessDecider = (*Enforcer)(nil)

// New creates an enforcer. policyPath names a casbin CSV policy file; when
// empty the enforcer starts with no policy and denies everything.
func New(policyPath string) (*Enforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}

	var e *casbin.SyncedEnforcer
	if policyPath != "" {
		e, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(policyPath))
	} else {
		e, err = casbin.NewSyncedEnforcer(m)
	}
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}
	return &Enforcer{e: e}, nil
}

// Permit adds an allow rule for subject.
func (e *Enforcer) Permit(subject, pathPattern, method string) error {
	if _, err := e.e.AddPolicy(subject, pathPattern, method); err != nil {
		return fmt.Errorf("add policy %s %s %s: %w", subject, pathPattern, method, err)
	}
	return nil
}

// Assign grants role to subject.
func (e *Enforcer) Assign(subject, role string) error {
	if _, err := e.e.AddGroupingPolicy(subject, role); err != nil {
		return fmt.Errorf("assign %s to %s: %w", role, subject, err)
	}
	return nil
}

// Allowed checks the principal's ID first and then each of its roles.
func (e *Enforcer) Allowed(p domain.Principal, path, method string) (bool, error) {
	if p.IsZero() {
		return false, nil
	}
	subjects := append([]string{p.ID}, p.Roles...)
	for _, sub := range subjects {
		ok, err := e.e.Enforce(sub, path, method)
		if err != nil {
			return false, fmt.Errorf("enforce %s %s %s: %w", sub, method, path, err)
		}
		if ok {
			return true, nil
		}
	}
	slog.Debug("policy denied access", "principal_id", p.ID, "path", path, "method", method)
	return false, nil
}

// PolicyCount returns the number of allow rules.
func (e *Enforcer) PolicyCount() int {
	rules, err := e.e.GetPolicy()
	if err != nil {
		return 0
	}
	return len(rules)
}

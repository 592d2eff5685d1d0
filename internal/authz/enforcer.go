// Package authz decides which roles may read or change dashboards, zones and
// device captures. The role policy is a Casbin RBAC model embedded in the
// binary.
package authz

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	casbinmodel "github.com/casbin/casbin/v2/model"

	"cityeye-service/internal/model"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

type Object string

const (
	ObjectAnalytics Object = "analytics"
	ObjectZones     Object = "zones"
	ObjectCapture   Object = "capture"
)

type Action string

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
)

type Enforcer struct {
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer() (*Enforcer, error) {
	return NewEnforcerWithPolicy(embeddedPolicy)
}

func NewEnforcerWithPolicy(policy string) (*Enforcer, error) {
	m, err := casbinmodel.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, fmt.Errorf("load casbin model: %w", err)
	}

	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}

	if err := loadPolicy(enforcer, policy); err != nil {
		return nil, err
	}

	return &Enforcer{enforcer: enforcer}, nil
}

func loadPolicy(enforcer *casbin.SyncedEnforcer, policy string) error {
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
			if _, err := enforcer.AddPolicy(parts[1], parts[2], parts[3]); err != nil {
				return fmt.Errorf("add policy %v: %w", parts[1:], err)
			}
		case parts[0] == "g" && len(parts) == 3:
			if _, err := enforcer.AddGroupingPolicy(parts[1], parts[2]); err != nil {
				return fmt.Errorf("add grouping policy %v: %w", parts[1:], err)
			}
		default:
			return fmt.Errorf("malformed policy line %q", line)
		}
	}
	return nil
}

func (e *Enforcer) Allowed(role model.UserRole, obj Object, act Action) (bool, error) {
	allowed, err := e.enforcer.Enforce(string(role), string(obj), string(act))
	if err != nil {
		return false, fmt.Errorf("enforce %s %s %s: %w", role, obj, act, err)
	}
	return allowed, nil
}

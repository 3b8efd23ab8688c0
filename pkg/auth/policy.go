package auth

import (
	"fmt"
	"strings"

	"clientops-controlplane/pkg/config"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

const defaultModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && keyMatch(r.obj, p.obj) && (p.act == "*" || r.act == p.act)
`

// NewEnforcer builds an in-memory casbin enforcer. Policy lines have the form
// "role, path pattern, method".
func NewEnforcer(cfg *config.Config) (*casbin.Enforcer, error) {
	text := cfg.AccessControl.Model
	if strings.TrimSpace(text) == "" {
		text = defaultModel
	}

	m, err := model.NewModelFromString(text)
	if err != nil {
		return nil, fmt.Errorf("casbin model: %w", err)
	}

	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}

	for _, line := range cfg.AccessControl.Policy {
		rule, err := parsePolicy(line)
		if err != nil {
			return nil, err
		}
		if _, err := e.AddPolicy(rule[0], rule[1], rule[2]); err != nil {
			return nil, fmt.Errorf("casbin policy %q: %w", line, err)
		}
	}

	return e, nil
}

func parsePolicy(line string) ([]string, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 3 {
		return nil, fmt.Errorf("casbin policy %q: want \"role, path, method\"", line)
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
		if parts[i] == "" {
			return nil, fmt.Errorf("casbin policy %q: empty field", line)
		}
	}
	return parts, nil
}

// Package memory provides in-memory collaborator implementations used
// by tests and by dev-mode serving.
package memory

import (
	"context"
	"sync"

	"github.com/stratakit/strata/ports"
)

// AllowAll is an access-control collaborator that grants everything.
// Dev mode only.
type AllowAll struct {
	// Roles returned for every account.
	Roles []ports.Role
}

// GetRoles returns the configured roles, defaulting to "admin".
func (a AllowAll) GetRoles(ctx context.Context, accountID string) ([]ports.Role, error) {
	if len(a.Roles) > 0 {
		return a.Roles, nil
	}
	return []ports.Role{{Name: "admin"}}, nil
}

// CanDo always grants.
func (AllowAll) CanDo(ctx context.Context, roles []ports.Role, entity string, action ports.Action) (bool, error) {
	return true, nil
}

// FilterAction returns every record unchanged.
func (AllowAll) FilterAction(ctx context.Context, roles []ports.Role, entity string, records []map[string]any, action ports.Action) ([]map[string]any, error) {
	return records, nil
}

// Ensure interface compliance.
var _ ports.AccessControl = AllowAll{}

// RuleSet is a configurable access-control collaborator for tests.
type RuleSet struct {
	mu sync.RWMutex

	// roles by account id
	roles map[string][]ports.Role

	// denied actions, keyed by entity then action
	denied map[string]map[ports.Action]bool

	// hidden fields stripped by FilterAction, keyed by entity
	hidden map[string][]string
}

// NewRuleSet creates an empty rule set. With no rules it behaves like
// AllowAll for accounts that have roles assigned.
func NewRuleSet() *RuleSet {
	return &RuleSet{
		roles:  make(map[string][]ports.Role),
		denied: make(map[string]map[ports.Action]bool),
		hidden: make(map[string][]string),
	}
}

// GrantRoles assigns roles to an account.
func (r *RuleSet) GrantRoles(accountID string, roles ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range roles {
		r.roles[accountID] = append(r.roles[accountID], ports.Role{Name: name})
	}
}

// Deny blocks an action on an entity for everyone.
func (r *RuleSet) Deny(entity string, action ports.Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.denied[entity] == nil {
		r.denied[entity] = make(map[ports.Action]bool)
	}
	r.denied[entity][action] = true
}

// Hide strips a field from every FilterAction result for an entity.
func (r *RuleSet) Hide(entity string, fields ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hidden[entity] = append(r.hidden[entity], fields...)
}

// GetRoles resolves an account's roles.
func (r *RuleSet) GetRoles(ctx context.Context, accountID string) ([]ports.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ports.Role{}, r.roles[accountID]...), nil
}

// CanDo grants unless the action is denied or the caller has no roles.
func (r *RuleSet) CanDo(ctx context.Context, roles []ports.Role, entity string, action ports.Action) (bool, error) {
	if len(roles) == 0 {
		return false, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.denied[entity][action], nil
}

// FilterAction strips hidden fields from each record.
func (r *RuleSet) FilterAction(ctx context.Context, roles []ports.Role, entity string, records []map[string]any, action ports.Action) ([]map[string]any, error) {
	r.mu.RLock()
	hidden := append([]string{}, r.hidden[entity]...)
	r.mu.RUnlock()

	if len(hidden) == 0 {
		return records, nil
	}

	filtered := make([]map[string]any, 0, len(records))
	for _, record := range records {
		out := make(map[string]any, len(record))
		for k, v := range record {
			out[k] = v
		}
		for _, field := range hidden {
			delete(out, field)
		}
		filtered = append(filtered, out)
	}
	return filtered, nil
}

// Ensure interface compliance.
var _ ports.AccessControl = (*RuleSet)(nil)

package policy

import (
	"sort"

	"github.com/eliteGoblin/devreload/internal/domain"
)

// Registry holds the watch policies, keyed by ID.
type Registry struct {
	policies map[string]WatchPolicy
}

// NewRegistry creates a registry with all default policies.
func NewRegistry() *Registry {
	return NewRegistryWithPolicies(NewCodePolicy(), NewAssetPolicy())
}

// NewRegistryFromConfig creates the registry for a run, applying the extra
// patterns from the configuration.
func NewRegistryFromConfig(cfg domain.Config) *Registry {
	return NewRegistryWithPolicies(
		NewCodePolicyWith(cfg.CodePatterns, cfg.IgnorePatterns),
		NewAssetPolicyWith(cfg.IgnorePatterns),
	)
}

// NewRegistryWithPolicies creates a registry with custom policies (for testing).
func NewRegistryWithPolicies(policies ...WatchPolicy) *Registry {
	r := &Registry{
		policies: make(map[string]WatchPolicy),
	}
	for _, p := range policies {
		r.Register(p)
	}
	return r
}

// Register adds a policy to the registry.
func (r *Registry) Register(p WatchPolicy) {
	r.policies[p.ID()] = p
}

// Get returns a policy by ID.
func (r *Registry) Get(id string) (WatchPolicy, bool) {
	p, ok := r.policies[id]
	return p, ok
}

// ForClass returns the policy producing the given change class.
func (r *Registry) ForClass(class domain.ChangeClass) (WatchPolicy, bool) {
	for _, p := range r.policies {
		if p.Class() == class {
			return p, true
		}
	}
	return nil, false
}

// GetAll returns all registered policies, ordered by ID.
func (r *Registry) GetAll() []WatchPolicy {
	result := make([]WatchPolicy, 0, len(r.policies))
	for _, id := range r.List() {
		result = append(result, r.policies[id])
	}
	return result
}

// List returns all policy IDs, sorted.
func (r *Registry) List() []string {
	ids := make([]string, 0, len(r.policies))
	for id := range r.policies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

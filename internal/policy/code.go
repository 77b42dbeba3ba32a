package policy

import (
	"github.com/eliteGoblin/devreload/internal/domain"
)

// CodePolicy matches Go sources. A change restarts the application.
type CodePolicy struct {
	include []string
	ignore  []string
}

// NewCodePolicy creates the default code policy.
func NewCodePolicy() *CodePolicy {
	return NewCodePolicyWith(nil, nil)
}

// NewCodePolicyWith creates a code policy with extra include and ignore globs.
func NewCodePolicyWith(extraInclude, extraIgnore []string) *CodePolicy {
	include := []string{"*.go", "*/go.mod", "*/go.sum", "*.tmpl"}
	return &CodePolicy{
		include: append(include, extraInclude...),
		ignore:  append(append(DefaultIgnorePatterns(), "*_test.go"), extraIgnore...),
	}
}

func (p *CodePolicy) ID() string {
	return "code"
}

func (p *CodePolicy) Name() string {
	return "Go sources"
}

func (p *CodePolicy) Class() domain.ChangeClass {
	return domain.ClassCode
}

func (p *CodePolicy) IncludePatterns() []string {
	return p.include
}

// IgnorePatterns also skips Go test files; they never change the running app.
func (p *CodePolicy) IgnorePatterns() []string {
	return p.ignore
}

// Ensure CodePolicy implements WatchPolicy.
var _ WatchPolicy = (*CodePolicy)(nil)

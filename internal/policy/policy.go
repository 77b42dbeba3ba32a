// Package policy implements the Strategy pattern for watch rules.
// Each change class (code, asset) has its own policy defining which paths
// count as a change.
package policy

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/eliteGoblin/devreload/internal/domain"
	"github.com/eliteGoblin/devreload/internal/watch"
)

// WatchPolicy defines which files under a watch root produce a change.
type WatchPolicy interface {
	// ID returns unique identifier (e.g., "code", "asset").
	ID() string

	// Name returns human-readable name for display.
	Name() string

	// Class returns the change class produced by matching files.
	Class() domain.ChangeClass

	// IncludePatterns returns globs a path must match.
	IncludePatterns() []string

	// IgnorePatterns returns globs that exclude a path even if included.
	IgnorePatterns() []string
}

// BaseIgnorePatterns are dropped by every policy: version control, dependency
// and IDE directories plus editor backup files.
var BaseIgnorePatterns = []string{
	"*/.git/*",
	"*/.hg/*",
	"*/.svn/*",
	"*/vendor/*",
	"*/node_modules/*",
	"*/pkg/mod/*",
	"*/.idea/*",
	"*/.vscode/*",
	"*~",
	"*.swp",
	watch.BackupFilePattern,
}

// DefaultIgnorePatterns returns BaseIgnorePatterns plus the directory this
// tool is installed in.
func DefaultIgnorePatterns() []string {
	patterns := append([]string(nil), BaseIgnorePatterns...)
	if exe, err := os.Executable(); err == nil {
		patterns = append(patterns, filepath.Join(filepath.Dir(exe), "*"))
	}
	return patterns
}

// ToFilter builds the debounce filter for a policy.
func ToFilter(p WatchPolicy, logger *zap.Logger) (*watch.Filter, error) {
	return watch.NewFilter(p.Class(), p.IncludePatterns(), p.IgnorePatterns(), logger.With(zap.String("policy", p.ID())))
}

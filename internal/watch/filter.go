// Package watch turns raw filesystem events into debounced, classified changes.
package watch

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/devreload/internal/domain"
)

// DebounceInterval is the minimum spacing between two accepted changes.
// Editors emit several raw events per save; only the first one counts.
const DebounceInterval = time.Second

// BackupFilePattern matches JetBrains "safe write" temp files.
const BackupFilePattern = "*___jb_???___"

var backupFile = MustCompilePattern(BackupFilePattern)

// Filter classifies raw events for one change class and debounces them.
// It is safe for concurrent use.
type Filter struct {
	class     domain.ChangeClass
	include   []Pattern
	ignore    []Pattern
	threshold time.Duration
	now       func() time.Time
	logger    *zap.Logger

	mu           sync.Mutex
	lastAccepted time.Time
	count        int
}

// NewFilter creates a filter that accepts paths matching include and not
// matching ignore.
func NewFilter(class domain.ChangeClass, include, ignore []string, logger *zap.Logger) (*Filter, error) {
	return NewFilterWithClock(class, include, ignore, time.Now, logger)
}

// NewFilterWithClock creates a filter with a custom clock (for testing).
func NewFilterWithClock(
	class domain.ChangeClass,
	include, ignore []string,
	now func() time.Time,
	logger *zap.Logger,
) (*Filter, error) {
	inc, err := CompilePatterns(include)
	if err != nil {
		return nil, err
	}
	ign, err := CompilePatterns(ignore)
	if err != nil {
		return nil, err
	}
	return &Filter{
		class:     class,
		include:   inc,
		ignore:    ign,
		threshold: DebounceInterval,
		now:       now,
		logger:    logger,
	}, nil
}

// Class returns the class of changes this filter produces.
func (f *Filter) Class() domain.ChangeClass {
	return f.class
}

// Count returns how many changes have been accepted so far.
func (f *Filter) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// Classify applies the path rules without touching debounce state.
func (f *Filter) Classify(ev domain.WatchEvent) domain.ChangeClass {
	if ev.IsDir {
		return domain.ClassIgnored
	}
	if ev.Op == domain.OpMoved && (backupFile.Match(ev.Path) || (ev.Dest != "" && backupFile.Match(ev.Dest))) {
		return domain.ClassIgnored
	}

	paths := []string{ev.Path}
	if ev.Op == domain.OpMoved && ev.Dest != "" {
		paths = append(paths, ev.Dest)
	}
	for _, p := range paths {
		if MatchAny(f.ignore, p) {
			return domain.ClassIgnored
		}
	}
	for _, p := range paths {
		if MatchAny(f.include, p) {
			return f.class
		}
	}
	return domain.ClassIgnored
}

// Dispatch classifies ev and applies the debounce policy. An event within
// DebounceInterval of the last accepted one is dropped and does not move the
// window.
func (f *Filter) Dispatch(ev domain.WatchEvent) (domain.Change, bool) {
	if f.Classify(ev) == domain.ClassIgnored {
		return domain.Change{}, false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	first := f.count == 0
	elapsed := now.Sub(f.lastAccepted)
	if !first && elapsed <= f.threshold {
		f.logger.Debug("skipping change",
			zap.Stringer("event", ev),
			zap.String("since_last", formatSeconds(elapsed)))
		return domain.Change{}, false
	}

	f.lastAccepted = now
	f.count++
	if first {
		elapsed = 0
	}
	return domain.Change{
		Event:     ev,
		Class:     f.class,
		Count:     f.count,
		SinceLast: elapsed,
		First:     first,
	}, true
}

// formatSeconds renders d like "0.412s".
func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%0.3fs", d.Seconds())
}

var _ domain.ChangeFilter = (*Filter)(nil)

package watch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/eliteGoblin/devreload/internal/domain"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

var testIgnore = []string{
	"*/.git/*",
	"*/vendor/*",
	"*/.idea/*",
	BackupFilePattern,
}

func newCodeFilter(t *testing.T, clock *fakeClock) *Filter {
	t.Helper()
	f, err := NewFilterWithClock(domain.ClassCode, []string{"*.go"}, testIgnore, clock.Now, zap.NewNop())
	require.NoError(t, err)
	return f
}

func modified(path string) domain.WatchEvent {
	return domain.WatchEvent{Path: path, Op: domain.OpModified}
}

// TestFilter_FirstEventAccepted verifies the first matching event passes and is marked First
func TestFilter_FirstEventAccepted(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	f := newCodeFilter(t, clock)

	change, ok := f.Dispatch(modified("/proj/main.go"))

	require.True(t, ok)
	assert.True(t, change.First)
	assert.Equal(t, 1, change.Count)
	assert.Equal(t, domain.ClassCode, change.Class)
	assert.Equal(t, 1, f.Count())
}

// TestFilter_DebounceWithinInterval verifies events under one second apart collapse
func TestFilter_DebounceWithinInterval(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	f := newCodeFilter(t, clock)

	_, ok := f.Dispatch(modified("/proj/main.go"))
	require.True(t, ok)

	clock.Advance(999 * time.Millisecond)
	_, ok = f.Dispatch(modified("/proj/main.go"))
	assert.False(t, ok)
	assert.Equal(t, 1, f.Count())
}

// TestFilter_ExactlyOneSecondIsSuppressed verifies the boundary is inclusive
func TestFilter_ExactlyOneSecondIsSuppressed(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	f := newCodeFilter(t, clock)

	_, ok := f.Dispatch(modified("/proj/main.go"))
	require.True(t, ok)

	clock.Advance(DebounceInterval)
	_, ok = f.Dispatch(modified("/proj/main.go"))
	assert.False(t, ok)

	clock.Advance(time.Millisecond)
	change, ok := f.Dispatch(modified("/proj/main.go"))
	assert.True(t, ok)
	assert.False(t, change.First)
	assert.Equal(t, 2, change.Count)
}

// TestFilter_SuppressedEventDoesNotMoveWindow verifies suppression leaves state untouched
func TestFilter_SuppressedEventDoesNotMoveWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	f := newCodeFilter(t, clock)

	_, ok := f.Dispatch(modified("/proj/a.go"))
	require.True(t, ok)

	// 0.6s: suppressed. 1.2s after the first accepted event: accepted,
	// even though only 0.6s passed since the suppressed one.
	clock.Advance(600 * time.Millisecond)
	_, ok = f.Dispatch(modified("/proj/a.go"))
	require.False(t, ok)

	clock.Advance(600 * time.Millisecond)
	change, ok := f.Dispatch(modified("/proj/a.go"))
	require.True(t, ok)
	assert.Equal(t, 1200*time.Millisecond, change.SinceLast)
}

// TestFilter_BurstScenario mirrors three quick saves and one later save
func TestFilter_BurstScenario(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	f := newCodeFilter(t, clock)

	accepted := 0
	for i := 0; i < 3; i++ {
		if _, ok := f.Dispatch(modified("/proj/app.go")); ok {
			accepted++
		}
		clock.Advance(100 * time.Millisecond)
	}
	assert.Equal(t, 1, accepted)

	clock.Advance(time.Second)
	if _, ok := f.Dispatch(modified("/proj/app.go")); ok {
		accepted++
	}
	assert.Equal(t, 2, accepted)
}

// TestFilter_IgnoresDirectories verifies directory events never pass
func TestFilter_IgnoresDirectories(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	f := newCodeFilter(t, clock)

	_, ok := f.Dispatch(domain.WatchEvent{Path: "/proj/pkg.go", Op: domain.OpCreated, IsDir: true})
	assert.False(t, ok)
	assert.Equal(t, 0, f.Count())
}

// TestFilter_BackupFileMoves verifies a move touching a backup file is dropped on either side
func TestFilter_BackupFileMoves(t *testing.T) {
	tests := []struct {
		name string
		ev   domain.WatchEvent
	}{
		{
			name: "backup source",
			ev:   domain.WatchEvent{Path: "/proj/main.go___jb_tmp___", Dest: "/proj/main.go", Op: domain.OpMoved},
		},
		{
			name: "backup destination",
			ev:   domain.WatchEvent{Path: "/proj/main.go", Dest: "/proj/main.go___jb_old___", Op: domain.OpMoved},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{t: time.Unix(1000, 0)}
			f := newCodeFilter(t, clock)

			_, ok := f.Dispatch(tt.ev)
			assert.False(t, ok)
			assert.Equal(t, 0, f.Count())
		})
	}
}

// TestFilter_MoveMatchesEitherPath verifies a normal rename still counts
func TestFilter_MoveMatchesEitherPath(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	f := newCodeFilter(t, clock)

	_, ok := f.Dispatch(domain.WatchEvent{Path: "/proj/old.txt", Dest: "/proj/new.go", Op: domain.OpMoved})
	assert.True(t, ok)
}

// TestFilter_IgnoredDirectories verifies VCS and vendor paths are dropped
func TestFilter_IgnoredDirectories(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	f := newCodeFilter(t, clock)

	for _, p := range []string{
		"/proj/.git/hooks/pre-commit.go",
		"/proj/vendor/github.com/x/y.go",
		"/proj/.idea/workspace.go",
	} {
		_, ok := f.Dispatch(modified(p))
		assert.False(t, ok, p)
	}
	assert.Equal(t, 0, f.Count())
}

// TestFilter_IncludePatterns verifies non-matching files are dropped
func TestFilter_IncludePatterns(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	f := newCodeFilter(t, clock)

	assert.Equal(t, domain.ClassIgnored, f.Classify(modified("/proj/README.md")))
	assert.Equal(t, domain.ClassCode, f.Classify(modified("/proj/internal/deep/x.go")))
}

// TestFilter_AssetClass verifies an asset filter accepts any extension
func TestFilter_AssetClass(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	f, err := NewFilterWithClock(domain.ClassAsset, []string{"*.*"}, testIgnore, clock.Now, zap.NewNop())
	require.NoError(t, err)

	change, ok := f.Dispatch(modified("/proj/static/style.css"))
	require.True(t, ok)
	assert.Equal(t, domain.ClassAsset, change.Class)
	assert.Equal(t, domain.ClassAsset, f.Class())
}

// TestFilter_LogsSuppressedAtDebug verifies suppression is logged at debug level
func TestFilter_LogsSuppressedAtDebug(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	clock := &fakeClock{t: time.Unix(1000, 0)}
	f, err := NewFilterWithClock(domain.ClassCode, []string{"*.go"}, nil, clock.Now, zap.New(core))
	require.NoError(t, err)

	f.Dispatch(modified("/proj/main.go"))
	clock.Advance(200 * time.Millisecond)
	f.Dispatch(modified("/proj/main.go"))

	entries := logs.FilterMessage("skipping change").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "0.200s", entries[0].ContextMap()["since_last"])
}

// TestNewFilter_BadPattern verifies an invalid glob is reported
func TestNewFilter_BadPattern(t *testing.T) {
	_, err := NewFilter(domain.ClassCode, []string{"*.go"}, []string{"[z-a]"}, zap.NewNop())
	assert.Error(t, err)
}

// Package domain contains core entities and interfaces.
// This is the innermost layer - no external dependencies.
package domain

import (
	"path/filepath"
	"time"
)

// WatchOp is the kind of filesystem change reported by the watch facility.
type WatchOp string

const (
	OpCreated  WatchOp = "created"
	OpModified WatchOp = "modified"
	OpDeleted  WatchOp = "deleted"
	OpMoved    WatchOp = "moved"
)

// WatchEvent is a single raw filesystem event. Consumed once.
type WatchEvent struct {
	Path  string
	Dest  string // Destination of a move, empty when unknown
	Op    WatchOp
	IsDir bool
	Time  time.Time
}

// String renders the event the way it shows up in logs.
func (e WatchEvent) String() string {
	if e.Op == OpMoved && e.Dest != "" {
		return string(e.Op) + " " + e.Path + " -> " + e.Dest
	}
	return string(e.Op) + " " + e.Path
}

// ChangeClass says what an accepted event should trigger.
type ChangeClass int

const (
	ClassIgnored ChangeClass = iota
	ClassCode
	ClassAsset
)

func (c ChangeClass) String() string {
	switch c {
	case ClassCode:
		return "code"
	case ClassAsset:
		return "asset"
	default:
		return "ignored"
	}
}

// Change is an event that passed classification and debouncing.
type Change struct {
	Event     WatchEvent
	Class     ChangeClass
	Count     int           // Accepted changes for this filter, including this one
	SinceLast time.Duration // Time since the previous accepted change
	First     bool          // No change was accepted before this one
}

// SupervisedProcess is the running application instance.
type SupervisedProcess struct {
	PID       int
	StartedAt time.Time
	Command   string
}

// Live-reload protocol constants.
const (
	ProtocolOfficial7 = "http://livereload.com/protocols/official-7"
	ServerName        = "devreload"

	CommandHello  = "hello"
	CommandReload = "reload"
	CommandInfo   = "info"
)

// ReloadCommand is the JSON frame exchanged with a browser session.
type ReloadCommand struct {
	Command    string   `json:"command"`
	Protocols  []string `json:"protocols,omitempty"`
	ServerName string   `json:"serverName,omitempty"`
	Path       string   `json:"path,omitempty"`
	LiveCSS    bool     `json:"liveCSS,omitempty"`
	LiveImg    bool     `json:"liveImg,omitempty"`
	URL        string   `json:"url,omitempty"`
	Plugins    any      `json:"plugins,omitempty"`
}

// HasProtocol reports whether the frame advertises the given protocol.
func (c ReloadCommand) HasProtocol(id string) bool {
	for _, p := range c.Protocols {
		if p == id {
			return true
		}
	}
	return false
}

// Config is the configuration surface. It is read once at startup.
type Config struct {
	AppPath          string        `yaml:"app"`
	AppArgs          []string      `yaml:"app_args,omitempty"`
	MainPort         int           `yaml:"port"`
	AuxPort          int           `yaml:"aux_port"`
	StaticDir        string        `yaml:"static,omitempty"`
	StaticURL        string        `yaml:"static_url"`
	Verbose          bool          `yaml:"verbose"`
	StopTimeout      time.Duration `yaml:"stop_timeout"`
	ForceKill        bool          `yaml:"force_kill"`
	CodePatterns     []string      `yaml:"code_patterns,omitempty"`
	IgnorePatterns   []string      `yaml:"ignore_patterns,omitempty"`
	LiveReloadScript string        `yaml:"livereload_script,omitempty"`
}

// DefaultConfig returns the defaults used when neither flags nor a config
// file say otherwise.
func DefaultConfig() Config {
	return Config{
		MainPort:    8000,
		AuxPort:     8001,
		StaticURL:   "/static/",
		StopTimeout: 5 * time.Second,
	}
}

// StaticRoot returns the absolute static directory, or "" when unset.
func (c Config) StaticRoot() string {
	if c.StaticDir == "" {
		return ""
	}
	abs, err := filepath.Abs(c.StaticDir)
	if err != nil {
		return c.StaticDir
	}
	return abs
}

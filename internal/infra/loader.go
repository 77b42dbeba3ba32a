package infra

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/eliteGoblin/devreload/internal/domain"
	"github.com/eliteGoblin/devreload/pkg/inject"
)

// Environment passed to the supervised application.
const (
	EnvPort      = "PORT"
	EnvAuxPort   = "DEVRELOAD_AUX_PORT"
	EnvStaticURL = "DEVRELOAD_STATIC_URL"
)

// CommandLoader resolves an application path to a command.
//
// Accepted forms:
//   - a directory holding a Go main package: run with "go run ." there, the
//     enclosing module root is watched
//   - a Go source file: run with "go run <file>"
//   - an executable file: run as is, its directory is watched
type CommandLoader struct {
	fs     domain.FileSystemManager
	goTool string
}

// NewCommandLoader creates a loader that uses the go tool from PATH.
func NewCommandLoader(fs domain.FileSystemManager) *CommandLoader {
	return &CommandLoader{fs: fs, goTool: "go"}
}

// Resolve returns the factory for spec and the code watch root.
func (l *CommandLoader) Resolve(spec string) (domain.AppFactory, string, error) {
	if spec == "" {
		return nil, "", &domain.LoaderError{Spec: spec, Err: errors.New("empty application path")}
	}
	path, err := filepath.Abs(l.fs.ExpandHome(spec))
	if err != nil {
		return nil, "", &domain.LoaderError{Spec: spec, Err: err}
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", &domain.LoaderError{Spec: spec, Err: err}
	}

	switch {
	case info.IsDir():
		if !hasMainPackage(path) {
			return nil, "", &domain.LoaderError{Spec: spec, Err: errors.New("directory has no Go main package")}
		}
		return &goRunFactory{goTool: l.goTool, dir: path, target: "."}, moduleRoot(path), nil

	case strings.HasSuffix(path, ".go"):
		dir := filepath.Dir(path)
		return &goRunFactory{goTool: l.goTool, dir: dir, target: filepath.Base(path)}, moduleRoot(dir), nil

	case info.Mode().IsRegular() && info.Mode().Perm()&0111 != 0:
		return &binaryFactory{path: path}, filepath.Dir(path), nil

	default:
		return nil, "", &domain.LoaderError{Spec: spec, Err: errors.New("not a Go package, Go file or executable")}
	}
}

// hasMainPackage reports whether dir contains a non-test Go file declaring
// package main.
func hasMainPackage(dir string) bool {
	files, _ := filepath.Glob(filepath.Join(dir, "*.go"))
	for _, f := range files {
		if strings.HasSuffix(f, "_test.go") {
			continue
		}
		if packageName(f) == "main" {
			return true
		}
	}
	return false
}

func packageName(file string) string {
	f, err := os.Open(file)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if rest, ok := strings.CutPrefix(line, "package "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

// moduleRoot walks up from dir to the nearest directory with a go.mod.
// Falls back to dir itself.
func moduleRoot(dir string) string {
	for d := dir; ; {
		if _, err := os.Stat(filepath.Join(d, "go.mod")); err == nil {
			return d
		}
		parent := filepath.Dir(d)
		if parent == d {
			return dir
		}
		d = parent
	}
}

// appEnv is the environment of the supervised application.
func appEnv(cfg domain.Config) []string {
	env := append(os.Environ(),
		EnvPort+"="+strconv.Itoa(cfg.MainPort),
		EnvAuxPort+"="+strconv.Itoa(cfg.AuxPort),
		inject.EnvSnippet+"="+inject.Snippet(cfg.AuxPort),
	)
	if cfg.StaticDir != "" {
		env = append(env, EnvStaticURL+"="+fmt.Sprintf("http://localhost:%d%s", cfg.AuxPort, cfg.StaticURL))
	}
	return env
}

type goRunFactory struct {
	goTool string
	dir    string
	target string
}

func (f *goRunFactory) Command(cfg domain.Config) (*exec.Cmd, error) {
	args := append([]string{"run", f.target}, cfg.AppArgs...)
	cmd := exec.Command(f.goTool, args...)
	cmd.Dir = f.dir
	cmd.Env = appEnv(cfg)
	return cmd, nil
}

func (f *goRunFactory) Describe() string {
	return fmt.Sprintf("%s run %s (in %s)", f.goTool, f.target, f.dir)
}

type binaryFactory struct {
	path string
}

func (f *binaryFactory) Command(cfg domain.Config) (*exec.Cmd, error) {
	cmd := exec.Command(f.path, cfg.AppArgs...)
	cmd.Dir = filepath.Dir(f.path)
	cmd.Env = appEnv(cfg)
	return cmd, nil
}

func (f *binaryFactory) Describe() string {
	return f.path
}

// Ensure CommandLoader implements domain.AppLoader.
var _ domain.AppLoader = (*CommandLoader)(nil)

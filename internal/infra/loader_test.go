package infra

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/devreload/internal/domain"
	"github.com/eliteGoblin/devreload/pkg/inject"
)

func writeFile(t *testing.T, path, content string, perm os.FileMode) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
}

func newTestLoader(home string) *CommandLoader {
	return NewCommandLoader(NewFileSystemManagerWithHome(home))
}

func envValue(env []string, key string) (string, bool) {
	for _, kv := range env {
		if v, ok := strings.CutPrefix(kv, key+"="); ok {
			return v, true
		}
	}
	return "", false
}

// TestResolve_MainPackageDir verifies a main package runs with go run in its module
func TestResolve_MainPackageDir(t *testing.T) {
	module := t.TempDir()
	writeFile(t, filepath.Join(module, "go.mod"), "module example.com/app\n", 0644)
	writeFile(t, filepath.Join(module, "cmd", "web", "main.go"), "// web server\npackage main\n\nfunc main() {}\n", 0644)

	factory, root, err := newTestLoader(module).Resolve(filepath.Join(module, "cmd", "web"))
	require.NoError(t, err)
	assert.Equal(t, module, root)

	cmd, err := factory.Command(domain.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "run", "."}, cmd.Args)
	assert.Equal(t, filepath.Join(module, "cmd", "web"), cmd.Dir)
	assert.Contains(t, factory.Describe(), "go run .")
}

// TestResolve_DirWithoutMain verifies a library package is rejected
func TestResolve_DirWithoutMain(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "lib.go"), "package lib\n", 0644)
	writeFile(t, filepath.Join(dir, "main_test.go"), "package main\n", 0644)

	_, _, err := newTestLoader(dir).Resolve(dir)
	var loaderErr *domain.LoaderError
	require.ErrorAs(t, err, &loaderErr)
	assert.Equal(t, dir, loaderErr.Spec)
	assert.True(t, domain.IsFatal(err))
}

// TestResolve_GoFile verifies a single Go file runs with go run
func TestResolve_GoFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "server.go"), "package main\n", 0644)

	factory, root, err := newTestLoader(dir).Resolve(filepath.Join(dir, "server.go"))
	require.NoError(t, err)
	assert.Equal(t, dir, root, "no go.mod falls back to the file's directory")

	cfg := domain.DefaultConfig()
	cfg.AppArgs = []string{"-debug"}
	cmd, err := factory.Command(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "run", "server.go", "-debug"}, cmd.Args)
}

// TestResolve_Executable verifies an executable runs directly and its directory is watched
func TestResolve_Executable(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "app")
	writeFile(t, bin, "#!/bin/sh\nexit 0\n", 0755)

	factory, root, err := newTestLoader(dir).Resolve(bin)
	require.NoError(t, err)
	assert.Equal(t, dir, root)
	assert.Equal(t, bin, factory.Describe())

	cmd, err := factory.Command(domain.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, bin, cmd.Path)
	assert.Equal(t, dir, cmd.Dir)
}

// TestResolve_Invalid verifies unusable specifiers are loader errors
func TestResolve_Invalid(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "notes.txt"), "hello", 0644)

	tests := []struct {
		name string
		spec string
	}{
		{"empty", ""},
		{"missing", filepath.Join(dir, "missing")},
		{"plain file", filepath.Join(dir, "notes.txt")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := newTestLoader(dir).Resolve(tt.spec)
			var loaderErr *domain.LoaderError
			assert.ErrorAs(t, err, &loaderErr)
		})
	}
}

// TestResolve_HomeExpansion verifies ~ is expanded
func TestResolve_HomeExpansion(t *testing.T) {
	home := t.TempDir()
	writeFile(t, filepath.Join(home, "bin", "app"), "#!/bin/sh\n", 0755)

	_, root, err := newTestLoader(home).Resolve("~/bin/app")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "bin"), root)
}

// TestAppEnv verifies the environment handed to the application
func TestAppEnv(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.MainPort = 9000
	cfg.AuxPort = 9001

	env := appEnv(cfg)
	port, ok := envValue(env, EnvPort)
	require.True(t, ok)
	assert.Equal(t, "9000", port)

	aux, _ := envValue(env, EnvAuxPort)
	assert.Equal(t, "9001", aux)

	snippet, _ := envValue(env, inject.EnvSnippet)
	assert.Equal(t, inject.Snippet(9001), snippet)

	_, ok = envValue(env, EnvStaticURL)
	assert.False(t, ok, "no static URL without a static dir")

	cfg.StaticDir = "static"
	staticURL, ok := envValue(appEnv(cfg), EnvStaticURL)
	require.True(t, ok)
	assert.Equal(t, "http://localhost:9001/static/", staticURL)
}

// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// appScript records its PID and idles until interrupted.
const appScript = `#!/bin/sh
echo $$ >> "$(dirname "$0")/pids.log"
trap 'exit 0' INT TERM
while true; do sleep 0.1; done
`

// FakeProject is a project directory with an executable app and a static dir.
type FakeProject struct {
	Dir string
}

// NewFakeProject creates a new fake project generator rooted at dir.
func NewFakeProject(dir string) *FakeProject {
	return &FakeProject{Dir: dir}
}

// Create writes the app, a Go source file and the static directory.
func (p *FakeProject) Create() error {
	if err := os.MkdirAll(p.StaticDir(), 0755); err != nil {
		return err
	}
	files := []struct {
		path string
		data string
		perm os.FileMode
	}{
		{p.AppPath(), appScript, 0755},
		{filepath.Join(p.Dir, "main.go"), "package main\n\nfunc main() {}\n", 0644},
		{filepath.Join(p.StaticDir(), "style.css"), "body { color: black; }\n", 0644},
		{filepath.Join(p.StaticDir(), "index.html"), "<html><body>hi</body></html>\n", 0644},
	}
	for _, f := range files {
		if err := os.WriteFile(f.path, []byte(f.data), f.perm); err != nil {
			return err
		}
	}
	return nil
}

// AppPath returns the executable the supervisor runs.
func (p *FakeProject) AppPath() string {
	return filepath.Join(p.Dir, "app.sh")
}

// StaticDir returns the static directory.
func (p *FakeProject) StaticDir() string {
	return filepath.Join(p.Dir, "static")
}

// TouchCode rewrites main.go.
func (p *FakeProject) TouchCode(content string) error {
	return os.WriteFile(filepath.Join(p.Dir, "main.go"), []byte(content), 0644)
}

// TouchAsset rewrites a file below the static directory.
func (p *FakeProject) TouchAsset(name, content string) error {
	return os.WriteFile(filepath.Join(p.StaticDir(), name), []byte(content), 0644)
}

// PIDs returns the PIDs of every app instance started so far, oldest first.
func (p *FakeProject) PIDs() []int {
	f, err := os.Open(filepath.Join(p.Dir, "pids.log"))
	if err != nil {
		return nil
	}
	defer f.Close()

	var pids []int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if pid, err := strconv.Atoi(strings.TrimSpace(scanner.Text())); err == nil {
			pids = append(pids, pid)
		}
	}
	return pids
}

// FreePort returns a TCP port that was free a moment ago.
func FreePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

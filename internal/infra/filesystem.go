package infra

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/devreload/internal/domain"
)

// FileSystemManagerImpl implements domain.FileSystemManager.
type FileSystemManagerImpl struct {
	homeDir string
}

// NewFileSystemManager creates a new filesystem manager.
func NewFileSystemManager() domain.FileSystemManager {
	home, _ := os.UserHomeDir()
	return &FileSystemManagerImpl{homeDir: home}
}

// NewFileSystemManagerWithHome creates a filesystem manager with custom home (for testing).
func NewFileSystemManagerWithHome(home string) domain.FileSystemManager {
	return &FileSystemManagerImpl{homeDir: home}
}

// Exists checks if a path exists.
func (fm *FileSystemManagerImpl) Exists(path string) bool {
	_, err := os.Stat(fm.ExpandHome(path))
	return err == nil
}

// IsDir checks that path is a directory whose entries can be listed.
func (fm *FileSystemManagerImpl) IsDir(path string) bool {
	expanded := fm.ExpandHome(path)
	info, err := os.Stat(expanded)
	if err != nil || !info.IsDir() {
		return false
	}
	f, err := os.Open(expanded)
	if err != nil {
		return false
	}
	defer f.Close()
	_, err = f.Readdirnames(1)
	return err == nil || errors.Is(err, io.EOF)
}

// ReadFile reads a whole file.
func (fm *FileSystemManagerImpl) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(fm.ExpandHome(path))
}

// ExpandHome expands ~ to the user's home directory.
func (fm *FileSystemManagerImpl) ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(fm.homeDir, path[2:])
	}
	if path == "~" {
		return fm.homeDir
	}
	return path
}

// Ensure FileSystemManagerImpl implements domain.FileSystemManager.
var _ domain.FileSystemManager = (*FileSystemManagerImpl)(nil)

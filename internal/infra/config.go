package infra

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/devreload/internal/domain"
)

// LoadConfigFile decodes a YAML config file on top of base. Keys missing
// from the file keep their value from base; unknown keys are an error.
func LoadConfigFile(fs domain.FileSystemManager, path string, base domain.Config) (domain.Config, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := base
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty file
			return base, nil
		}
		return base, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// EncodeConfig renders cfg as YAML, the same shape LoadConfigFile reads.
func EncodeConfig(cfg domain.Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

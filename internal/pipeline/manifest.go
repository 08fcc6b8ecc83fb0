package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/fim-rem-etl/internal/domain"
)

// ManifestFile is written last; its presence marks a complete output tree.
const ManifestFile = "manifest.yaml"

// WriteManifest writes the run summary as YAML into dir.
func WriteManifest(dir string, s domain.RunSummary) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	path := filepath.Join(dir, ManifestFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(dir string) (domain.RunSummary, error) {
	var s domain.RunSummary
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse manifest: %w", err)
	}
	return s, nil
}

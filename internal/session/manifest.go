package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the per-session metadata file name
const ManifestFile = "manifest.yaml"

// Manifest records enough about a session to reprocess its raw captures after a crash
type Manifest struct {
	ScopeID      string                `yaml:"scope_id"`
	SessionID    string                `yaml:"session_id"`
	StartedAt    time.Time             `yaml:"started_at"`
	State        string                `yaml:"state"`
	SampleRate   int                   `yaml:"sample_rate"`
	Channels     int                   `yaml:"channels"`
	Participants []ManifestParticipant `yaml:"participants"`
}

// ManifestParticipant is one captured speaker
type ManifestParticipant struct {
	ID      string `yaml:"id"`
	Label   string `yaml:"label"`
	Order   int    `yaml:"order"`
	RawFile string `yaml:"raw_file"` // relative to the session directory
}

// SortParticipants orders participants by first speech
func (m *Manifest) SortParticipants() {
	sort.Slice(m.Participants, func(i, j int) bool {
		return m.Participants[i].Order < m.Participants[j].Order
	})
}

// WriteManifest atomically replaces dir/manifest.yaml
func WriteManifest(dir string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".manifest-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close manifest: %w", err)
	}

	if err := os.Rename(tmpName, filepath.Join(dir, ManifestFile)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace manifest: %w", err)
	}
	return nil
}

// ReadManifest loads dir/manifest.yaml
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest in %s: %w", dir, err)
	}
	m.SortParticipants()
	return &m, nil
}

// FindOrphans returns session directories under dataDir that still hold a manifest
func FindOrphans(dataDir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dataDir, "*", "*", ManifestFile))
	if err != nil {
		return nil, err
	}

	dirs := make([]string, 0, len(matches))
	for _, match := range matches {
		dirs = append(dirs, filepath.Dir(match))
	}
	sort.Strings(dirs)
	return dirs, nil
}

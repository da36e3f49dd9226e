package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// BaseDir returns the root data directory: $TABT_HOME if set, else ~/.tabt.
func BaseDir() (string, error) {
	if dir := os.Getenv("TABT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".tabt"), nil
}

// QueuePath returns the path of the offline queue database inside base.
func QueuePath(base string) string {
	return filepath.Join(base, "queue.db")
}

// Settings is the small key-value state that survives restarts.
type Settings struct {
	AuthToken    string         `json:"authToken"`
	RefreshToken string         `json:"refreshToken"`
	IsTracking   bool           `json:"isTracking"`
	User         map[string]any `json:"user,omitempty"`
}

func defaultSettings() Settings {
	return Settings{IsTracking: true}
}

// SettingsStore persists Settings as a single JSON file. Every write replaces
// the file atomically.
type SettingsStore struct {
	mu   sync.Mutex
	path string
}

// NewSettingsStore returns a store backed by base/settings.json.
func NewSettingsStore(base string) *SettingsStore {
	return &SettingsStore{path: filepath.Join(base, "settings.json")}
}

// Path returns the backing file path.
func (s *SettingsStore) Path() string {
	return s.path
}

// Load returns the stored settings, or defaults if none were saved yet.
func (s *SettingsStore) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *SettingsStore) load() (Settings, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return defaultSettings(), nil
	}
	if err != nil {
		return defaultSettings(), fmt.Errorf("storage error reading %s: %w", s.path, err)
	}

	st := defaultSettings()
	if err := json.Unmarshal(data, &st); err != nil {
		// Back up corrupt file and fall back to defaults.
		backupPath := s.path + ".corrupt"
		_ = os.Rename(s.path, backupPath)
		return defaultSettings(), fmt.Errorf("corrupt JSON in %s (backed up to %s): %w", s.path, backupPath, err)
	}
	return st, nil
}

// Save atomically writes st.
func (s *SettingsStore) Save(st Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(st)
}

// Update applies fn to the current settings and saves the result.
func (s *SettingsStore) Update(fn func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load()
	if err != nil {
		// A corrupt file was moved aside; continue from defaults.
		st = defaultSettings()
	}
	fn(&st)
	return s.save(st)
}

func (s *SettingsStore) save(st Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("storage error creating directories: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("storage error marshalling JSON: %w", err)
	}

	// Atomic write: write to temp file then rename.
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("storage error writing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("storage error renaming temp file: %w", err)
	}
	return nil
}

package storage_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Tiliavir/tab-tracker/internal/storage"
)

func TestLoadNotExist(t *testing.T) {
	s := storage.NewSettingsStore(t.TempDir())
	st, err := s.Load()
	if err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if !st.IsTracking {
		t.Errorf("IsTracking = false, want true by default")
	}
	if st.AuthToken != "" {
		t.Errorf("AuthToken = %q, want empty", st.AuthToken)
	}
}

func TestSaveAndLoad(t *testing.T) {
	base := t.TempDir()
	s := storage.NewSettingsStore(base)

	in := storage.Settings{AuthToken: "access", RefreshToken: "refresh", IsTracking: false}
	if err := s.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// A fresh store simulates a restart.
	loaded, err := storage.NewSettingsStore(base).Load()
	if err != nil {
		t.Fatalf("Load after save: %v", err)
	}
	if loaded.AuthToken != "access" || loaded.RefreshToken != "refresh" {
		t.Errorf("tokens = %q/%q, want access/refresh", loaded.AuthToken, loaded.RefreshToken)
	}
	if loaded.IsTracking {
		t.Errorf("IsTracking = true, want false")
	}
}

func TestUpdate(t *testing.T) {
	s := storage.NewSettingsStore(t.TempDir())
	if err := s.Save(storage.Settings{AuthToken: "a", RefreshToken: "r", IsTracking: true}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	err := s.Update(func(st *storage.Settings) {
		st.AuthToken = "b"
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	st, _ := s.Load()
	if st.AuthToken != "b" || st.RefreshToken != "r" {
		t.Errorf("after Update tokens = %q/%q, want b/r", st.AuthToken, st.RefreshToken)
	}
}

func TestCorruptFileBackedUp(t *testing.T) {
	base := t.TempDir()
	s := storage.NewSettingsStore(base)
	if err := os.WriteFile(s.Path(), []byte("{broken"), 0o600); err != nil {
		t.Fatal(err)
	}

	st, err := s.Load()
	if err == nil {
		t.Fatal("expected error for corrupt settings")
	}
	if !st.IsTracking {
		t.Errorf("corrupt load should fall back to defaults")
	}
	if _, err := os.Stat(s.Path() + ".corrupt"); err != nil {
		t.Errorf("backup file missing: %v", err)
	}
}

func TestNoTempFileLeft(t *testing.T) {
	base := t.TempDir()
	s := storage.NewSettingsStore(base)
	if err := s.Save(storage.Settings{IsTracking: true}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(base, "*.tmp"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestBaseDirEnvOverride(t *testing.T) {
	t.Setenv("TABT_HOME", "/tmp/tabt-test")
	got, err := storage.BaseDir()
	if err != nil {
		t.Fatalf("BaseDir: %v", err)
	}
	if got != "/tmp/tabt-test" {
		t.Errorf("BaseDir = %q, want /tmp/tabt-test", got)
	}
}

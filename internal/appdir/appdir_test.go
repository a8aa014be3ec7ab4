package appdir

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir_EnvOverride(t *testing.T) {
	original := os.Getenv(DirEnv)
	defer func() {
		os.Setenv(DirEnv, original)
		ResetCache()
	}()

	ResetCache()

	customDir := t.TempDir()
	os.Setenv(DirEnv, customDir)

	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir() failed: %v", err)
	}

	if dir != customDir {
		t.Errorf("Dir() = %q, want %q", dir, customDir)
	}
}

func TestDir_DefaultPath(t *testing.T) {
	original := os.Getenv(DirEnv)
	defer func() {
		os.Setenv(DirEnv, original)
		ResetCache()
	}()

	ResetCache()
	os.Unsetenv(DirEnv)

	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir() failed: %v", err)
	}

	if !strings.Contains(strings.ToLower(dir), "catchat") {
		t.Errorf("Dir() = %q, expected path to contain 'catchat'", dir)
	}
}

func TestEnsureDir(t *testing.T) {
	original := os.Getenv(DirEnv)
	defer func() {
		os.Setenv(DirEnv, original)
		ResetCache()
	}()

	ResetCache()

	tmpDir := filepath.Join(t.TempDir(), "catchat-test")
	os.Setenv(DirEnv, tmpDir)

	if _, err := os.Stat(tmpDir); !os.IsNotExist(err) {
		t.Fatalf("temp dir should not exist initially")
	}

	if err := EnsureDir(); err != nil {
		t.Fatalf("EnsureDir() failed: %v", err)
	}

	info, err := os.Stat(tmpDir)
	if err != nil {
		t.Fatalf("main dir does not exist after EnsureDir(): %v", err)
	}
	if !info.IsDir() {
		t.Error("main path is not a directory")
	}

	stateDir := filepath.Join(tmpDir, StateDirName)
	info, err = os.Stat(stateDir)
	if err != nil {
		t.Fatalf("state dir does not exist after EnsureDir(): %v", err)
	}
	if !info.IsDir() {
		t.Error("state path is not a directory")
	}
}

func TestSettingsPath(t *testing.T) {
	original := os.Getenv(DirEnv)
	defer func() {
		os.Setenv(DirEnv, original)
		ResetCache()
	}()

	ResetCache()

	customDir := t.TempDir()
	os.Setenv(DirEnv, customDir)

	settingsPath, err := SettingsPath()
	if err != nil {
		t.Fatalf("SettingsPath() failed: %v", err)
	}

	expected := filepath.Join(customDir, SettingsFileName)
	if settingsPath != expected {
		t.Errorf("SettingsPath() = %q, want %q", settingsPath, expected)
	}
}

func TestStateDir(t *testing.T) {
	original := os.Getenv(DirEnv)
	defer func() {
		os.Setenv(DirEnv, original)
		ResetCache()
	}()

	ResetCache()

	customDir := t.TempDir()
	os.Setenv(DirEnv, customDir)

	stateDir, err := StateDir()
	if err != nil {
		t.Fatalf("StateDir() failed: %v", err)
	}

	expected := filepath.Join(customDir, StateDirName)
	if stateDir != expected {
		t.Errorf("StateDir() = %q, want %q", stateDir, expected)
	}
}

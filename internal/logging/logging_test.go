package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSetup(t *testing.T) {
	tmpDir := t.TempDir()

	logger, cleanup, err := Setup(Config{LogDir: tmpDir, Debug: true})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer cleanup()

	logger.Debug("test message", "key", "value")

	today := time.Now().Format(dateLayout)
	logPath := filepath.Join(tmpDir, logFilePrefix+today+logFileSuffix)

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}

	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(content))), &record); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if record["msg"] != "test message" || record["key"] != "value" {
		t.Errorf("record = %v", record)
	}

	info, err := os.Stat(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != logFileMode {
		t.Errorf("mode = %v, want %v", info.Mode().Perm(), os.FileMode(logFileMode))
	}
}

func TestSetupWithDefaults(t *testing.T) {
	t.Setenv("SITERESTORE_SERVICE", "1")

	logger, cleanup, err := SetupWithDefaults(t.TempDir(), false)
	if err != nil {
		t.Fatalf("SetupWithDefaults failed: %v", err)
	}
	defer cleanup()

	if logger == nil {
		t.Fatal("logger should not be nil")
	}
	if rl := GetRotatingLogger(); rl == nil || rl.stdout != nil {
		t.Error("service mode should not mirror to stdout")
	}
}

func TestSetupWithInvalidDir(t *testing.T) {
	// Should fall back to stdout-only logging
	logger, cleanup, err := Setup(Config{LogDir: "/nonexistent/path/that/should/not/exist"})
	if err != nil {
		t.Fatalf("Setup should not error: %v", err)
	}
	defer cleanup()

	if logger == nil {
		t.Fatal("logger should not be nil even with invalid dir")
	}
}

func TestRotation(t *testing.T) {
	tmpDir := t.TempDir()
	day := time.Date(2024, 1, 1, 23, 59, 0, 0, time.UTC)

	rl := &RotatingLogger{dir: tmpDir, now: func() time.Time { return day }, maxKeep: 2}
	rl.mu.Lock()
	if err := rl.openLocked(); err != nil {
		t.Fatal(err)
	}
	rl.mu.Unlock()
	defer rl.Close()

	for i := 0; i < 3; i++ {
		rl.Write([]byte("line\n"))
		day = day.Add(24 * time.Hour)
	}

	files, err := GetLogFiles(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("kept %d files, want 2: %v", len(files), files)
	}
	if !strings.Contains(filepath.Base(files[0]), "2024-01-03") {
		t.Errorf("newest file = %s", files[0])
	}
	if !strings.HasSuffix(rl.CurrentFile(), "2024-01-03"+logFileSuffix) {
		t.Errorf("CurrentFile() = %s", rl.CurrentFile())
	}
}

func TestGetCurrentLogFile(t *testing.T) {
	_, cleanup, err := Setup(Config{LogDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer cleanup()

	currentFile := GetCurrentLogFile()
	today := time.Now().Format(dateLayout)
	if !strings.Contains(currentFile, today) {
		t.Errorf("current log file should contain today's date: %s", currentFile)
	}
}

func TestGetLogFiles(t *testing.T) {
	tmpDir := t.TempDir()

	for _, date := range []string{"2024-01-01", "2024-01-02", "2024-01-03"} {
		path := filepath.Join(tmpDir, logFilePrefix+date+logFileSuffix)
		if err := os.WriteFile(path, []byte("test log"), logFileMode); err != nil {
			t.Fatalf("failed to create test log file: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "other.log"), []byte("other"), logFileMode); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(tmpDir, logFilePrefix+"dir"+logFileSuffix), 0755); err != nil {
		t.Fatal(err)
	}

	files, err := GetLogFiles(tmpDir)
	if err != nil {
		t.Fatalf("GetLogFiles failed: %v", err)
	}
	if len(files) != 3 {
		t.Errorf("expected 3 log files, got %d", len(files))
	}
	if !strings.Contains(filepath.Base(files[0]), "2024-01-03") {
		t.Error("log files should be sorted newest first")
	}
}

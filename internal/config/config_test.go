package config

import (
	"os"
	"path/filepath"
	"testing"
)

const minimalConfig = `
video:
  source_width: 1920
  source_height: 1080
folders:
  video_pending: /tmp/pending
  video_done: /tmp/done
  video_error: /tmp/error
  images_output: /tmp/output
  images_debug: /tmp/debug
files:
  event_db: /tmp/events.db
  lock_file: /tmp/camsift.lock
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Processing.TimeIncrementMs != 1000 {
		t.Errorf("TimeIncrementMs = %d, want 1000", cfg.Processing.TimeIncrementMs)
	}
	if cfg.Processing.TimeoutSecs != 720 {
		t.Errorf("TimeoutSecs = %d, want 720", cfg.Processing.TimeoutSecs)
	}
	if cfg.Processing.MaxVideos != -1 {
		t.Errorf("MaxVideos = %d, want -1", cfg.Processing.MaxVideos)
	}
	if cfg.Video.LargeWidth != 1024 {
		t.Errorf("LargeWidth = %d, want 1024", cfg.Video.LargeWidth)
	}
	if cfg.Detection.SubjectMinArea != 1500 {
		t.Errorf("SubjectMinArea = %v, want 1500", cfg.Detection.SubjectMinArea)
	}
	if cfg.Composite.PrimaryMinAreaFraction != 0.75 {
		t.Errorf("PrimaryMinAreaFraction = %v, want 0.75", cfg.Composite.PrimaryMinAreaFraction)
	}
	if len(cfg.Outputs.CompositeStyles) != 1 || cfg.Outputs.CompositeStyles[0] != "Primary" {
		t.Errorf("CompositeStyles = %v, want [Primary]", cfg.Outputs.CompositeStyles)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CAMSIFT_LOG_LEVEL", "debug")
	t.Setenv("CAMSIFT_PENDING_DIR", "/override/pending")
	t.Setenv("CAMSIFT_MAX_MEM_MB", "512")
	t.Setenv("CAMSIFT_TIME_INCREMENT_MS", "500")
	t.Setenv("CAMSIFT_MAX_VIDEOS", "3")

	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Folders.VideoPending != "/override/pending" {
		t.Errorf("VideoPending = %q", cfg.Folders.VideoPending)
	}
	if cfg.Processing.MaxMemUsageMB != 512 {
		t.Errorf("MaxMemUsageMB = %v, want 512", cfg.Processing.MaxMemUsageMB)
	}
	if cfg.Processing.TimeIncrementMs != 500 {
		t.Errorf("TimeIncrementMs = %d, want 500", cfg.Processing.TimeIncrementMs)
	}
	if cfg.Processing.MaxVideos != 3 {
		t.Errorf("MaxVideos = %d, want 3", cfg.Processing.MaxVideos)
	}
}

func TestLoadRejectsMissingDimensions(t *testing.T) {
	if _, err := Load(writeConfig(t, `
folders:
  video_pending: /tmp/pending
  video_done: /tmp/done
  video_error: /tmp/error
  images_output: /tmp/output
  images_debug: /tmp/debug
files:
  event_db: /tmp/events.db
`)); err == nil {
		t.Fatal("expected validation error for missing source dimensions")
	}
}

func TestLoadRejectsBadMask(t *testing.T) {
	if _, err := Load(writeConfig(t, minimalConfig+`
masks:
  - type: contour
    points: [[0, 0], [10, 0]]
`)); err == nil {
		t.Fatal("expected validation error for two-point contour")
	}
	if _, err := Load(writeConfig(t, minimalConfig+`
masks:
  - type: banana
`)); err == nil {
		t.Fatal("expected validation error for unknown mask type")
	}
}

func TestLoadRejectsUnlabeledZone(t *testing.T) {
	if _, err := Load(writeConfig(t, minimalConfig+`
trigger_zones:
  - points: [[0, 0], [10, 0], [10, 10]]
`)); err == nil {
		t.Fatal("expected validation error for missing zone label")
	}
}

func TestZoneContour(t *testing.T) {
	z := ZoneDef{Label: "gate", Points: [][]int{{1, 2}, {3, 4}, {5, 6}}}
	pts := z.Contour()
	if len(pts) != 3 || pts[0].X != 1 || pts[0].Y != 2 || pts[2].X != 5 {
		t.Errorf("Contour() = %v", pts)
	}
}

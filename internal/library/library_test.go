package library

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestBuildInventoriesSizes(t *testing.T) {
	videos := t.TempDir()
	images := t.TempDir()
	writeFile(t, filepath.Join(videos, "20180517", "a-20180517-1200-00000.mp4"), 100)
	writeFile(t, filepath.Join(videos, "20180517", "b-20180517-1300-00000.mp4"), 200)
	writeFile(t, filepath.Join(videos, "notes.txt"), 1000)
	writeFile(t, filepath.Join(images, "a-20180517-1200-00000-CompositePrimary.jpg"), 50)

	lib, err := Build(map[string]string{"videos": videos, "images": images})
	if err != nil {
		t.Fatal(err)
	}
	if lib.Size("videos") != 300 {
		t.Errorf("videos size = %d, want 300", lib.Size("videos"))
	}
	if lib.Size("images") != 50 {
		t.Errorf("images size = %d, want 50", lib.Size("images"))
	}
}

func TestBuildToleratesMissingFolder(t *testing.T) {
	if _, err := Build(map[string]string{"gone": filepath.Join(t.TempDir(), "missing")}); err != nil {
		t.Fatalf("Build failed on missing folder: %v", err)
	}
}

func TestDetermineCleanupFolder(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()
	writeFile(t, filepath.Join(a, "x.mp4"), 400)
	writeFile(t, filepath.Join(b, "y.jpg"), 300)

	lib, err := Build(map[string]string{"a": a, "b": b})
	if err != nil {
		t.Fatal(err)
	}

	// a is larger in absolute terms but has four times the share: b is the
	// one most over its target.
	got := lib.DetermineCleanupFolder(map[string]float64{"a": 4, "b": 1})
	if got != "b" {
		t.Errorf("DetermineCleanupFolder = %q, want b", got)
	}
	folder, err := lib.CleanupFolder()
	if err != nil || folder != "b" {
		t.Errorf("CleanupFolder = %q, %v", folder, err)
	}
}

func TestCleanupFolderBeforeDetermine(t *testing.T) {
	lib, err := Build(map[string]string{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := lib.CleanupFolder(); err != ErrNoCleanupFolder {
		t.Errorf("CleanupFolder error = %v, want ErrNoCleanupFolder", err)
	}
}

func TestAgesAndPenalties(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "cam-20180517-1200-00000.mp4"), 10)
	writeFile(t, filepath.Join(dir, "unstamped.mp4"), 10)

	lib, err := Build(map[string]string{"videos": dir})
	if err != nil {
		t.Fatal(err)
	}
	lib.DetermineCleanupFolder(nil)

	now := time.Date(2018, 5, 18, 12, 0, 0, 0, time.Local)
	if err := lib.ComputeAges(now); err != nil {
		t.Fatal(err)
	}
	ages := map[string]float64{}
	for _, entry := range lib.entries["videos"] {
		ages[entry.Basename] = entry.AgeHours
	}
	if got := ages["cam-20180517-1200-00000"]; got != 24 {
		t.Errorf("stamped age = %v, want 24", got)
	}
	if got := ages["unstamped"]; got != unknownAgeHours {
		t.Errorf("unstamped age = %v, want %v", got, unknownAgeHours)
	}

	attrs := map[string]ClipAttrs{
		"cam-20180517-1200-00000": {IsNight: true, NumSegments: 0},
	}
	if err := lib.ModifyAges(attrs, 1.5, 2.0); err != nil {
		t.Fatal(err)
	}
	for _, entry := range lib.entries["videos"] {
		if entry.Basename == "cam-20180517-1200-00000" && entry.AgeHours != 24*1.5*2.0 {
			t.Errorf("penalized age = %v, want %v", entry.AgeHours, 24*1.5*2.0)
		}
		if entry.Basename == "unstamped" && entry.AgeHours != unknownAgeHours {
			t.Errorf("unmatched entry age changed to %v", entry.AgeHours)
		}
	}
}

func TestCleanupDeletesOldestFirst(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "20180517", "cam-20180517-1200-00000.mp4")
	newPath := filepath.Join(dir, "20180518", "cam-20180518-1200-00000.mp4")
	writeFile(t, oldPath, 1<<20)
	writeFile(t, newPath, 1<<20)

	lib, err := Build(map[string]string{"videos": dir})
	if err != nil {
		t.Fatal(err)
	}
	lib.DetermineCleanupFolder(nil)
	if err := lib.ComputeAges(time.Date(2018, 5, 19, 0, 0, 0, 0, time.Local)); err != nil {
		t.Fatal(err)
	}

	// Ask for less than one file's worth, so exactly one entry goes.
	if err := lib.Cleanup(0.0001, 0, 100); err != nil {
		t.Fatal(err)
	}
	if len(lib.DeletedFiles) != 1 {
		t.Fatalf("deleted %d files, want 1", len(lib.DeletedFiles))
	}
	if lib.DeletedFiles[0].FullPath != oldPath {
		t.Errorf("deleted %q, want oldest %q", lib.DeletedFiles[0].FullPath, oldPath)
	}
	if _, err := os.Stat(oldPath); err == nil {
		t.Error("oldest file still on disk")
	}
	if _, err := os.Stat(newPath); err != nil {
		t.Error("newest file was deleted")
	}
	// Its now-empty date folder goes with it.
	if len(lib.DeletedFolders) != 1 {
		t.Errorf("deleted %d folders, want 1", len(lib.DeletedFolders))
	}
}

func TestCleanupUsesShortfall(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "cam-20180517-1200-00000.mp4"), 1<<20)
	writeFile(t, filepath.Join(dir, "cam-20180518-1200-00000.mp4"), 1<<20)

	lib, err := Build(map[string]string{"videos": dir})
	if err != nil {
		t.Fatal(err)
	}
	lib.DetermineCleanupFolder(nil)
	if err := lib.ComputeAges(time.Date(2018, 5, 19, 0, 0, 0, 0, time.Local)); err != nil {
		t.Fatal(err)
	}

	// Shortfall of 10GB exceeds both files, so everything goes.
	if err := lib.Cleanup(0.0001, 10, 0); err != nil {
		t.Fatal(err)
	}
	if len(lib.DeletedFiles) != 2 {
		t.Errorf("deleted %d files, want 2", len(lib.DeletedFiles))
	}
}

func TestBasenamesStripDescriptors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "cam-20180517-1200-00000-CompositePrimary.jpg"), 1)
	writeFile(t, filepath.Join(dir, "cam-20180517-1200-00000A-CompositeComplete.jpg"), 1)
	writeFile(t, filepath.Join(dir, "misc.jpg"), 1)

	lib, err := Build(map[string]string{"images": dir})
	if err != nil {
		t.Fatal(err)
	}
	basenames := lib.Basenames()
	if _, ok := basenames["cam-20180517-1200-00000"]; !ok {
		t.Errorf("clip basename missing from %v", basenames)
	}
	if _, ok := basenames["misc"]; !ok {
		t.Errorf("unstamped basename missing from %v", basenames)
	}
	if len(basenames) != 2 {
		t.Errorf("Basenames = %v, want 2 entries", basenames)
	}
}

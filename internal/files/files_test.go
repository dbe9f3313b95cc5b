package files

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gocv.io/x/gocv"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestPendingVideos(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "b.mp4"))
	touch(t, filepath.Join(dir, "a.mp4"))
	touch(t, filepath.Join(dir, "notes.txt"))
	touch(t, filepath.Join(dir, "cam2", "c.mp4"))

	videos, err := PendingVideos(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a.mp4", "b.mp4", filepath.Join("cam2", "c.mp4")}
	if len(videos) != len(want) {
		t.Fatalf("PendingVideos = %v, want %v", videos, want)
	}
	for i := range want {
		if videos[i] != want[i] {
			t.Errorf("videos[%d] = %q, want %q", i, videos[i], want[i])
		}
	}
}

func TestSaveImageCollisionNumbering(t *testing.T) {
	dir := t.TempDir()
	img := gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8UC3)
	defer img.Close()

	first, err := SaveImage(img, dir, "clip", "CompositePrimary", "20180517", "")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(first) != "clip-CompositePrimary.jpg" {
		t.Errorf("first save = %q", first)
	}

	second, err := SaveImage(img, dir, "clip", "CompositePrimary", "20180517", "")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(second) != "clip-CompositePrimary01.jpg" {
		t.Errorf("second save = %q", second)
	}
	// The original must have been renumbered to 00.
	renamed := filepath.Join(dir, "20180517", "clip-CompositePrimary00.jpg")
	if _, err := os.Stat(renamed); err != nil {
		t.Errorf("original not renumbered to 00: %v", err)
	}
	if _, err := os.Stat(first); err == nil {
		t.Error("unnumbered original still present after renumbering")
	}

	third, err := SaveImage(img, dir, "clip", "CompositePrimary", "20180517", "")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(third) != "clip-CompositePrimary02.jpg" {
		t.Errorf("third save = %q", third)
	}
}

func TestSaveImageGroupSubfolder(t *testing.T) {
	dir := t.TempDir()
	img := gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8UC3)
	defer img.Close()

	path, err := SaveImage(img, dir, "clip", "CompositePrimary", "20180517", "Gate+Drive")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, "20180517", "Gate+Drive", "clip-CompositePrimary.jpg")
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
}

func TestRenameBasenameAppend(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "20180517", "clip-CompositePrimary.jpg"))
	touch(t, filepath.Join(dir, "20180517", "clip-CompositeComplete.jpg"))
	touch(t, filepath.Join(dir, "20180517", "clip-Annotated.jpg"))

	if err := RenameBasenameAppend(dir, "20180517", "clip", "A", "Composite"); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"clipA-CompositePrimary.jpg", "clipA-CompositeComplete.jpg", "clip-Annotated.jpg"} {
		if _, err := os.Stat(filepath.Join(dir, "20180517", name)); err != nil {
			t.Errorf("expected %s after rename: %v", name, err)
		}
	}
}

func TestMoveToDone(t *testing.T) {
	pending := t.TempDir()
	done := t.TempDir()
	src := filepath.Join(pending, "clip.mp4")
	touch(t, src)

	target, err := MoveToDone(done, src, "20180517", "clip.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if target != filepath.Join(done, "20180517", "clip.mp4") {
		t.Errorf("target = %q", target)
	}
	if _, err := os.Stat(target); err != nil {
		t.Errorf("moved file missing: %v", err)
	}
	if _, err := os.Stat(src); err == nil {
		t.Error("source still present after move")
	}
}

func TestRemoveWithBasename(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "cam2", "clip.mp4"))
	touch(t, filepath.Join(dir, "cam2", "clip.jpg"))
	touch(t, filepath.Join(dir, "cam2", "other.mp4"))

	if err := RemoveWithBasename(dir, "cam2", "clip"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "cam2", "clip.mp4")); err == nil {
		t.Error("clip.mp4 not removed")
	}
	if _, err := os.Stat(filepath.Join(dir, "cam2", "other.mp4")); err != nil {
		t.Error("unrelated file removed")
	}
}

func TestRemoveEmptyFolder(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	RemoveEmptyFolder(dir, filepath.Join("a", "b"))
	if _, err := os.Stat(filepath.Join(dir, "a")); err == nil {
		t.Error("empty parent folder not removed")
	}

	// Non-empty folders stay.
	touch(t, filepath.Join(dir, "c", "keep.txt"))
	RemoveEmptyFolder(dir, "c")
	if _, err := os.Stat(filepath.Join(dir, "c")); err != nil {
		t.Error("non-empty folder removed")
	}
}

func TestLockFile(t *testing.T) {
	lock := NewLockFile(filepath.Join(t.TempDir(), "camsift.lock"))
	if lock.Fresh(time.Minute) {
		t.Error("missing lock file reported fresh")
	}
	if err := lock.Refresh(); err != nil {
		t.Fatal(err)
	}
	if !lock.Fresh(time.Minute) {
		t.Error("just-refreshed lock not fresh")
	}
	if lock.Fresh(0) {
		t.Error("lock fresh with zero window")
	}
	lock.Remove()
	if lock.Fresh(time.Minute) {
		t.Error("removed lock reported fresh")
	}
}

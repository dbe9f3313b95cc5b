// Package library inventories the completed output folders and handles
// retention: choosing the folder most over its target share, aging entries
// weighted by clip characteristics, and deleting oldest-first until enough
// space is freed.
package library

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/camsift/camsift/internal/files"
)

// ErrNoCleanupFolder is returned when cleanup operations run before
// DetermineCleanupFolder.
var ErrNoCleanupFolder = errors.New("cleanup folder not yet determined")

// unknownAgeHours is assumed for files whose basename carries no timestamp.
// Old enough to be stable, young enough that such files (usually test files)
// are unlikely to be deleted.
const unknownAgeHours = 48

// Entry is one inventoried output file.
type Entry struct {
	FullPath string
	Basename string
	Size     int64
	// AgeHours is the file age used for deletion ordering, after any
	// multiplicative penalties.
	AgeHours float64
}

// ClipAttrs carries the clip-record fields that weight retention.
type ClipAttrs struct {
	IsNight     bool
	NumSegments int
}

// Library is an inventory of the output folders, built once per cleanup run.
type Library struct {
	entries map[string][]*Entry
	sizes   map[string]int64

	cleanupFolder string

	DeletedFiles   []*Entry
	DeletedFolders []string
}

// Build walks each named folder collecting .mp4 and .jpg files with sizes.
func Build(folders map[string]string) (*Library, error) {
	lib := &Library{
		entries: make(map[string][]*Entry, len(folders)),
		sizes:   make(map[string]int64, len(folders)),
	}
	for name, dir := range folders {
		lib.entries[name] = nil
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			if !strings.HasSuffix(path, ".mp4") && !strings.HasSuffix(path, ".jpg") {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			base := strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
			lib.entries[name] = append(lib.entries[name], &Entry{
				FullPath: path,
				Basename: base,
				Size:     info.Size(),
			})
			lib.sizes[name] += info.Size()
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return lib, nil
}

// Size returns the total inventoried bytes for a folder.
func (l *Library) Size(folder string) int64 { return l.sizes[folder] }

// DetermineCleanupFolder picks the folder whose size most exceeds its target
// share. Each folder's size is divided by its configured ratio; the largest
// quotient wins. Folders without a ratio default to 1.
func (l *Library) DetermineCleanupFolder(targetRatios map[string]float64) string {
	best := ""
	bestScore := -1.0
	names := make([]string, 0, len(l.entries))
	for name := range l.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ratio := targetRatios[name]
		if ratio <= 0 {
			ratio = 1
		}
		score := float64(l.sizes[name]) / ratio
		if score > bestScore {
			best, bestScore = name, score
		}
	}
	l.cleanupFolder = best
	return best
}

// CleanupFolder returns the folder chosen by DetermineCleanupFolder.
func (l *Library) CleanupFolder() (string, error) {
	if l.cleanupFolder == "" {
		return "", ErrNoCleanupFolder
	}
	return l.cleanupFolder, nil
}

// ComputeAges sets each cleanup-folder entry's age in hours from its
// basename timestamp, assuming unknownAgeHours when the name carries none.
func (l *Library) ComputeAges(now time.Time) error {
	folder, err := l.CleanupFolder()
	if err != nil {
		return err
	}
	for _, entry := range l.entries[folder] {
		if stamp, ok := files.FileTime(entry.Basename); ok {
			entry.AgeHours = now.Sub(stamp).Hours()
		} else {
			entry.AgeHours = unknownAgeHours
		}
	}
	return nil
}

// ModifyAges applies the retention penalties: night clips age by nightFactor,
// clips that produced no segments by noSegmentsFactor. Entries without a clip
// record keep their raw age.
func (l *Library) ModifyAges(attrs map[string]ClipAttrs, nightFactor, noSegmentsFactor float64) error {
	folder, err := l.CleanupFolder()
	if err != nil {
		return err
	}
	for _, entry := range l.entries[folder] {
		rec, ok := attrs[entry.Basename]
		if !ok {
			continue
		}
		if rec.IsNight {
			entry.AgeHours *= nightFactor
		}
		if rec.NumSegments == 0 {
			entry.AgeHours *= noSegmentsFactor
		}
	}
	return nil
}

// Cleanup deletes the oldest entries from the cleanup folder until at least
// the target amount of space is freed, removing now-empty parent folders.
// Deleted files and folders are recorded for logging.
func (l *Library) Cleanup(minGBToRemove, minRemainingGB, freeGB float64) error {
	folder, err := l.CleanupFolder()
	if err != nil {
		return err
	}

	gbToRemove := minGBToRemove
	if shortfall := minRemainingGB - freeGB; shortfall > gbToRemove {
		gbToRemove = shortfall
	}
	bytesToRemove := int64(gbToRemove * (1 << 30))

	entries := l.entries[folder]
	sort.Slice(entries, func(i, j int) bool { return entries[i].AgeHours < entries[j].AgeHours })

	var removed int64
	for removed <= bytesToRemove && len(entries) > 0 {
		// Oldest entries sort to the end.
		oldest := entries[len(entries)-1]
		entries = entries[:len(entries)-1]

		removed += oldest.Size
		if err := os.Remove(oldest.FullPath); err != nil && !os.IsNotExist(err) {
			return err
		}
		l.DeletedFiles = append(l.DeletedFiles, oldest)

		dir := filepath.Dir(oldest.FullPath)
		if err := os.Remove(dir); err == nil {
			l.DeletedFolders = append(l.DeletedFolders, dir)
		}
	}
	l.entries[folder] = entries
	return nil
}

// clipBasenameRe matches the normalized clip-name prefix of an output file,
// stripping segment letters and composite descriptors.
var clipBasenameRe = regexp.MustCompile(`^[A-Za-z0-9]+-\d{8}-\d{4}-\d{5}`)

// Basenames returns the clip basenames of every remaining inventoried file
// across all folders, feeding event-log cleanup. Output filenames carry
// segment letters and descriptors after the clip name; those are stripped.
func (l *Library) Basenames() map[string]struct{} {
	basenames := make(map[string]struct{})
	for _, entries := range l.entries {
		for _, entry := range entries {
			if m := clipBasenameRe.FindString(entry.Basename); m != "" {
				basenames[m] = struct{}{}
			} else {
				basenames[entry.Basename] = struct{}{}
			}
		}
	}
	return basenames
}

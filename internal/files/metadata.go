// Package files handles the on-disk conventions: pending-video scanning,
// camera filename parsing, image output with collision numbering, and the
// move/cleanup operations around processed videos.
package files

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Metadata describes one pending video file, with its filename normalized to
// the name-YYYYMMDD-HHMM-SSmms convention where the camera format allows.
type Metadata struct {
	Original         string
	SubFolder        string
	SourcePath       string
	Filename         string
	Basename         string
	BasenameOriginal string
	// FileDate is the YYYYMMDD capture date from the filename, or
	// "NO_DATE" when the name doesn't carry one.
	FileDate string
}

// ParseMetadata parses a video path relative to the pending folder. Camera
// filename formats seen in the wild:
//
//	XXCam_01_20180517203949574.mp4
//	XXCam_01_20190702203949.mp4
//	XXCam-20180502-1727-34996.mp4
//	XXCam-01-20180502-1727-34996.mp4
func ParseMetadata(pendingDir, relPath string) Metadata {
	filename := filepath.Base(relPath)
	basename := strings.TrimSuffix(filename, filepath.Ext(filename))
	ext := filepath.Ext(filename)

	meta := Metadata{
		Original:         filename,
		SubFolder:        filepath.Dir(relPath),
		SourcePath:       filepath.Join(pendingDir, relPath),
		BasenameOriginal: basename,
	}
	if meta.SubFolder == "." {
		meta.SubFolder = ""
	}

	underscore := strings.Split(basename, "_")
	dash := strings.Split(basename, "-")
	switch {
	case len(underscore) == 3 && isDigits(underscore[2]) && len(underscore[2]) == 17:
		stamp := underscore[2]
		meta.FileDate = stamp[0:8]
		meta.Basename = fmt.Sprintf("%s-%s-%s-%s",
			underscore[0], stamp[0:8], stamp[8:12], stamp[12:17])
	case len(underscore) == 3 && isDigits(underscore[2]) && len(underscore[2]) == 14:
		stamp := underscore[2]
		meta.FileDate = stamp[0:8]
		meta.Basename = fmt.Sprintf("%s-%s-%s", underscore[0], stamp[0:8], stamp[8:14])
	case len(dash) == 4 && isDigits(dash[1]) && len(dash[1]) == 8 &&
		isDigits(dash[2]) && len(dash[2]) == 4 && isDigits(dash[3]) && len(dash[3]) == 5:
		meta.Basename = basename
		meta.FileDate = dash[1]
	case len(dash) == 5 && isDigits(dash[2]) && len(dash[2]) == 8 &&
		isDigits(dash[3]) && len(dash[3]) == 4 && isDigits(dash[4]) && len(dash[4]) == 5:
		meta.Basename = basename
		meta.FileDate = dash[2]
	default:
		meta.Basename = basename
		meta.FileDate = "NO_DATE"
	}

	meta.Filename = meta.Basename + ext
	return meta
}

// FileTime recovers the capture time from a normalized basename. Returns
// false when the basename doesn't follow the convention.
func FileTime(basename string) (time.Time, bool) {
	parts := strings.Split(basename, "-")
	var date, clock, secs string
	switch {
	case len(parts) == 4 && isDigits(parts[1]) && len(parts[1]) == 8 &&
		isDigits(parts[2]) && len(parts[2]) == 4 && isDigits(parts[3]) && len(parts[3]) == 5:
		date, clock, secs = parts[1], parts[2], parts[3][0:2]
	case len(parts) == 5 && isDigits(parts[2]) && len(parts[2]) == 8 &&
		isDigits(parts[3]) && len(parts[3]) == 4 && isDigits(parts[4]) && len(parts[4]) == 5:
		date, clock, secs = parts[2], parts[3], parts[4][0:2]
	default:
		return time.Time{}, false
	}
	t, err := time.ParseInLocation("20060102150405", date+clock+secs, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// IsRecentlyModified reports whether the file changed within the window,
// which usually means it is still being uploaded.
func IsRecentlyModified(path string, window time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) < window
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

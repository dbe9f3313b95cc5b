package files

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gocv.io/x/gocv"
)

// PendingVideos lists .mp4 files under the pending folder, recursing into
// subfolders, as sorted relative paths.
func PendingVideos(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var videos []string
	for _, entry := range entries {
		if entry.IsDir() {
			sub, err := PendingVideos(filepath.Join(dir, entry.Name()))
			if err != nil {
				return nil, err
			}
			for _, s := range sub {
				videos = append(videos, filepath.Join(entry.Name(), s))
			}
		} else if strings.HasSuffix(entry.Name(), ".mp4") {
			videos = append(videos, entry.Name())
		}
	}
	sort.Strings(videos)
	return videos, nil
}

// SaveImage writes an image as <basename>-<descriptor>.jpg under dir, inside
// the optional date and group subfolders. When the name is taken, a two-digit
// counter is appended and, the first time a collision occurs, the original
// file is renumbered to suffix "00" for consistency.
func SaveImage(img gocv.Mat, dir, basename, descriptor, dateSubfolder, groupSubfolder string) (string, error) {
	if dateSubfolder != "" {
		dir = filepath.Join(dir, dateSubfolder)
	}
	if groupSubfolder != "" {
		dir = filepath.Join(dir, groupSubfolder)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	name := func(suffix string) string {
		return filepath.Join(dir, fmt.Sprintf("%s-%s%s.jpg", basename, descriptor, suffix))
	}
	outputPath := name("")
	isOrig := fileExists(name(""))
	isZero := fileExists(name("00"))
	if isOrig || isZero {
		num := 0
		for {
			num++
			if !fileExists(name(fmt.Sprintf("%02d", num))) {
				break
			}
		}
		outputPath = name(fmt.Sprintf("%02d", num))
		if isOrig && !isZero {
			if err := os.Rename(name(""), name("00")); err != nil {
				return "", err
			}
		}
	}

	if ok := gocv.IMWrite(outputPath, img); !ok {
		return "", fmt.Errorf("write image %s failed", outputPath)
	}
	return outputPath, nil
}

// RenameBasenameAppend renames every file matching
// <dir>/<subfolder>/<basename>-<conditionalSuffix>* so that insert appears
// directly after the basename. Used to retroactively letter the first
// segment's files once a second segment appears.
func RenameBasenameAppend(dir, subfolder, basename, insert, conditionalSuffix string) error {
	prefix := filepath.Join(dir, subfolder, basename)
	matches, err := filepath.Glob(prefix + "-" + conditionalSuffix + "*")
	if err != nil {
		return err
	}
	for _, match := range matches {
		suffix := match[len(prefix):]
		if err := os.Rename(match, prefix+insert+suffix); err != nil {
			return err
		}
	}
	return nil
}

// MoveToDone moves a processed video into the done folder under its capture
// date, returning the new path.
func MoveToDone(doneDir, sourcePath, fileDate, filename string) (string, error) {
	if err := os.MkdirAll(filepath.Join(doneDir, fileDate), 0o755); err != nil {
		return "", err
	}
	target := filepath.Join(doneDir, fileDate, filename)
	if err := os.Rename(sourcePath, target); err != nil {
		return "", err
	}
	return target, nil
}

// RemoveWithBasename deletes every file in dir/subfolder whose name starts
// with basename.
func RemoveWithBasename(dir, subfolder, basename string) error {
	folder := filepath.Join(dir, subfolder)
	entries, err := os.ReadDir(folder)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), basename) {
			if err := os.Remove(filepath.Join(folder, entry.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// RemoveEmptyFolder removes dir/subfolder if it is empty, then walks up the
// subfolder path removing newly empty parents. Non-empty folders are left
// alone.
func RemoveEmptyFolder(dir, subfolder string) {
	if subfolder == "" || subfolder == "." {
		return
	}
	if err := os.Remove(filepath.Join(dir, subfolder)); err != nil {
		return
	}
	RemoveEmptyFolder(dir, filepath.Dir(subfolder))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

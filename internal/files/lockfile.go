package files

import (
	"os"
	"strings"
	"time"
)

const lockTimeFormat = "2006-01-02 15:04:05"

// LockFile guards against concurrent instances. The running process
// periodically rewrites the file with the current time; a starting process
// checks the recorded time to decide whether another instance is alive.
type LockFile struct {
	path string
}

// NewLockFile returns a lock over the given path. Nothing is written until
// Refresh is called.
func NewLockFile(path string) *LockFile {
	return &LockFile{path: path}
}

// Fresh reports whether the lock file exists and was refreshed within maxAge.
// A missing or unparseable lock file is not fresh.
func (l *LockFile) Fresh(maxAge time.Duration) bool {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return false
	}
	stamp, err := time.ParseInLocation(lockTimeFormat,
		strings.TrimSpace(string(data)), time.Local)
	if err != nil {
		return false
	}
	return time.Since(stamp) < maxAge
}

// Refresh rewrites the lock file with the current time.
func (l *LockFile) Refresh() error {
	return os.WriteFile(l.path, []byte(time.Now().Format(lockTimeFormat)+"\n"), 0o644)
}

// Remove deletes the lock file. A missing file is fine.
func (l *LockFile) Remove() {
	os.Remove(l.path)
}

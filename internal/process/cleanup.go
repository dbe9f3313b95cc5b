package process

import (
	"time"

	"github.com/camsift/camsift/internal/library"
	"github.com/camsift/camsift/internal/sysmon"
	"github.com/camsift/camsift/internal/worker"
)

const (
	criticalRetryDelay = 2 * time.Minute
	activityRetention  = 7 * 24 * time.Hour
)

// RunCleanup watches disk space and frees it by deleting the oldest output
// files. Startup blocks while space is critically low so no other work makes
// it worse.
func (p *Processor) RunCleanup(w *worker.Worker) error {
	cfg := p.cfg.DiskSpace

	for !w.Aborting() {
		low, free := sysmon.DiskSpaceLow(p.cfg.Folders.VideoDone, cfg.CriticalRemainingGB)
		if !low {
			break
		}
		p.log.Warn().Float64("free_gb", free).
			Msg("disk space critically low, waiting for cleanup")
		if err := p.cleanupPass(free); err != nil {
			p.log.Error().Err(err).Msg("cleanup failed")
		}
		w.Sleep(criticalRetryDelay)
	}

	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	var lastCheck time.Time
	for !w.Aborting() {
		low, free := sysmon.DiskSpaceLow(p.cfg.Folders.VideoDone, cfg.MinRemainingGB)
		if lastCheck.IsZero() || low || time.Since(lastCheck) >= interval {
			lastCheck = time.Now()
			p.store.LogActivity("Disk free space %.1fGB", free)
			if low || p.cfg.Debug.AlwaysCleanup {
				if err := p.cleanupPass(free); err != nil {
					p.log.Error().Err(err).Msg("cleanup failed")
				}
			}
			if n, err := p.store.CleanupActivityBefore(activityRetention); err != nil {
				p.log.Error().Err(err).Msg("activity log cleanup failed")
			} else if n > 0 {
				p.log.Debug().Int64("removed", n).Msg("trimmed activity log")
			}
		}
		w.Sleep(5 * time.Second)
	}
	return nil
}

// cleanupPass inventories the output folders, picks the one most over its
// target share and deletes its oldest files until enough space is freed,
// then drops clip records whose files are gone.
func (p *Processor) cleanupPass(freeGB float64) error {
	cfg := p.cfg.DiskSpace

	lib, err := library.Build(map[string]string{
		"video_done":    p.cfg.Folders.VideoDone,
		"images_output": p.cfg.Folders.ImagesOutput,
		"images_debug":  p.cfg.Folders.ImagesDebug,
	})
	if err != nil {
		return err
	}

	folder := lib.DetermineCleanupFolder(cfg.TargetRatios)
	p.store.LogActivity("Cleaning up folder %s (%.1fGB used)", folder,
		float64(lib.Size(folder))/(1<<30))

	if err := lib.ComputeAges(time.Now()); err != nil {
		return err
	}
	attrs, err := p.store.ClipAttrs()
	if err != nil {
		return err
	}
	libAttrs := make(map[string]library.ClipAttrs, len(attrs))
	for basename, a := range attrs {
		libAttrs[basename] = library.ClipAttrs{IsNight: a.IsNight, NumSegments: a.NumSegments}
	}
	if err := lib.ModifyAges(libAttrs, cfg.NightAgeFactor, cfg.NoSegmentsAgeFactor); err != nil {
		return err
	}
	if err := lib.Cleanup(cfg.MinGBToRemove, cfg.MinRemainingGB, freeGB); err != nil {
		return err
	}

	for _, entry := range lib.DeletedFiles {
		p.log.Debug().Str("file", entry.FullPath).Msg("deleted")
	}
	p.store.LogActivity("Removed %d files and %d folders from %s",
		len(lib.DeletedFiles), len(lib.DeletedFolders), folder)

	stale, err := p.store.CleanupClips(lib.Basenames())
	if err != nil {
		return err
	}
	if len(stale) > 0 {
		p.store.LogActivity("Removed %d clip records without files", len(stale))
	}
	return nil
}

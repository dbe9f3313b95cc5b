// Package process orchestrates the appliance: watching the pending folder,
// running the per-video worker pipeline under a watchdog, and the long-lived
// cleanup and status workers.
package process

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/camsift/camsift/internal/clip"
	"github.com/camsift/camsift/internal/config"
	"github.com/camsift/camsift/internal/eventlog"
	"github.com/camsift/camsift/internal/files"
	"github.com/camsift/camsift/internal/frame"
	"github.com/camsift/camsift/internal/logger"
	"github.com/camsift/camsift/internal/sysmon"
	"github.com/camsift/camsift/internal/worker"
)

const (
	// uploadSettleWindow is how long a pending video must be unmodified
	// before it is considered fully uploaded.
	uploadSettleWindow = time.Minute

	supervisePoll = 50 * time.Millisecond
)

const (
	statusComplete = "complete"
	statusError    = "error"
)

// Processor owns the per-video pipeline and the pending-folder loop.
type Processor struct {
	cfg    *config.Config
	store  *eventlog.Store
	params *frame.Params
	log    zerolog.Logger
}

// New builds a processor over the loaded configuration and event store.
func New(cfg *config.Config, store *eventlog.Store) *Processor {
	return &Processor{
		cfg:    cfg,
		store:  store,
		params: frame.NewParams(cfg),
		log:    logger.With("process"),
	}
}

// Run scans the pending folder and processes videos one at a time until
// stopped. Between scans it waits on filesystem notifications so new uploads
// are picked up promptly, with a timer fallback.
func (p *Processor) Run(w *worker.Worker) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		p.log.Warn().Err(err).Msg("filesystem watcher unavailable, polling only")
		watcher = nil
	} else {
		defer watcher.Close()
		if err := watcher.Add(p.cfg.Folders.VideoPending); err != nil {
			p.log.Warn().Err(err).Str("dir", p.cfg.Folders.VideoPending).
				Msg("cannot watch pending folder, polling only")
		}
	}

	processed := 0
	for !w.Aborting() {
		videos, err := files.PendingVideos(p.cfg.Folders.VideoPending)
		if err != nil {
			p.log.Error().Err(err).Msg("failed to scan pending folder")
			w.Sleep(5 * time.Second)
			continue
		}

		handled := false
		for _, relPath := range videos {
			if w.Aborting() {
				return nil
			}
			if p.ProcessVideo(w, relPath) {
				handled = true
				processed++
				break
			}
		}

		if max := p.cfg.Processing.MaxVideos; max >= 0 && processed >= max {
			p.log.Info().Int("processed", processed).Msg("video limit reached, stopping")
			return nil
		}
		if handled {
			continue
		}

		if watcher != nil {
			select {
			case <-watcher.Events:
			case err := <-watcher.Errors:
				p.log.Warn().Err(err).Msg("filesystem watcher error")
			case <-time.After(5 * time.Second):
			case <-w.Stopping():
				return nil
			}
		} else if !w.Sleep(5 * time.Second) {
			return nil
		}
	}
	return nil
}

// ProcessVideo runs the full pipeline over one pending video. It returns true
// when the video was consumed, successfully or not, and false when it was
// skipped and should be retried later.
func (p *Processor) ProcessVideo(w *worker.Worker, relPath string) bool {
	meta := files.ParseMetadata(p.cfg.Folders.VideoPending, relPath)

	if files.IsRecentlyModified(meta.SourcePath, uploadSettleWindow) {
		p.log.Debug().Str("video", meta.Original).Msg("still uploading, skipping for now")
		return false
	}
	if seen, err := p.store.HasClip(meta.Basename); err != nil {
		p.log.Error().Err(err).Msg("clip record lookup failed")
		return false
	} else if seen {
		p.log.Warn().Str("basename", meta.Basename).
			Msg("video already has a clip record, leaving in place")
		return false
	}

	p.store.LogActivity("Processing video %s", meta.Filename)

	cl, err := clip.New(meta.SourcePath, 0,
		[]string{frame.PurposeSegment, frame.PurposeOutput},
		p.cfg.Processing.TimeIncrementMs, p.params)
	if err != nil {
		p.videoError(meta, nil, nil, err)
		return true
	}
	if err := cl.SetupExclusions(p.cfg.Masks); err != nil {
		p.videoError(meta, nil, cl, err)
		return true
	}

	maxMem := p.cfg.Processing.MaxMemUsageMB
	segmentPurposes := []string{frame.PurposeOutput, frame.PurposeComposite, frame.PurposeTriggerZone}
	framePurposes := []string{frame.PurposeComposite, frame.PurposeTriggerZone}

	workers := []*worker.Worker{
		worker.Start("frame_getter", func(w *worker.Worker) error {
			return cl.RunFrameGetter(w, maxMem, sysmon.MemoryUsageMB, []string{frame.PurposeSegment, frame.PurposeOutput})
		}),
		worker.Start("segment_builder", func(w *worker.Worker) error {
			return cl.RunSegmentBuilder(w, maxMem, sysmon.MemoryUsageMB, segmentPurposes, framePurposes)
		}),
		worker.Start("composite_builder", func(w *worker.Worker) error {
			return cl.RunCompositeBuilder(w, p.cfg.Composite.PrimaryMinAreaFraction)
		}),
		worker.Start("trigger_zones", func(w *worker.Worker) error {
			return cl.RunTriggerZones(w, p.cfg.TriggerZones)
		}),
		worker.Start("output_frames", func(w *worker.Worker) error {
			return p.RunOutputFrames(w, cl, meta)
		}),
		worker.Start("output_segments", func(w *worker.Worker) error {
			return p.RunOutputSegments(w, cl, meta)
		}),
	}

	start := time.Now()
	lastNotice := start
	stillWorking := time.Duration(p.cfg.Processing.StillWorkingSecs) * time.Second
	timeout := time.Duration(p.cfg.Processing.TimeoutSecs) * time.Second

	for {
		if w.Aborting() {
			// Shutdown mid-video. Leave the file pending for the next run.
			stopReverse(workers)
			cl.Close()
			return false
		}

		running := false
		for _, pw := range workers {
			if err := pw.Err(); err != nil {
				p.videoError(meta, workers, cl, err)
				return true
			}
			if pw.Running() {
				running = true
			}
		}
		if !running {
			break
		}

		if elapsed := time.Since(start); elapsed > timeout {
			p.videoError(meta, workers, cl,
				fmt.Errorf("processing timed out after %s", elapsed.Round(time.Second)))
			return true
		} else if time.Since(lastNotice) > stillWorking {
			lastNotice = time.Now()
			p.store.LogActivity("Still working on %s after %s, %d frames buffered",
				meta.Filename, elapsed.Round(time.Second), cl.NumFrames())
		}
		w.Sleep(supervisePoll)
	}

	p.finishVideo(meta, cl)
	cl.Close()
	return true
}

// finishVideo records the completed clip and tidies the pending folder.
func (p *Processor) finishVideo(meta files.Metadata, cl *clip.Clip) {
	videoPath := meta.SourcePath
	if p.cfg.Debug.MoveCompleteVideos {
		moved, err := files.MoveToDone(p.cfg.Folders.VideoDone, meta.SourcePath, meta.FileDate, meta.Filename)
		if err != nil {
			p.log.Error().Err(err).Str("video", meta.Filename).Msg("failed to move completed video")
		} else {
			videoPath = moved
			if err := files.RemoveWithBasename(p.cfg.Folders.VideoPending, meta.SubFolder, meta.BasenameOriginal); err != nil {
				p.log.Warn().Err(err).Msg("failed to remove leftover files")
			}
			files.RemoveEmptyFolder(p.cfg.Folders.VideoPending, meta.SubFolder)
		}
	}

	record := eventlog.ClipRecord{
		Basename:       meta.Basename,
		VideoPath:      videoPath,
		Status:         statusComplete,
		IsNight:        cl.IsNight(),
		ClipLengthSecs: cl.DurationSecs(),
		Segments:       segmentRecords(cl),
	}
	if err := p.store.AddClipRecord(record); err != nil {
		p.log.Error().Err(err).Msg("failed to record clip")
	}
	if err := p.store.UpdateDailyStats(); err != nil {
		p.log.Error().Err(err).Msg("failed to update daily stats")
	}
	p.store.LogActivity("Completed %s: %d segments", meta.Filename, cl.NumSegments())
}

// videoError stops the pipeline, records the failure and quarantines the
// video so it will not be retried.
func (p *Processor) videoError(meta files.Metadata, workers []*worker.Worker, cl *clip.Clip, cause error) {
	p.store.LogActivity("ERROR processing %s: %v", meta.Filename, cause)
	stopReverse(workers)

	record := eventlog.ClipRecord{
		Basename:  meta.Basename,
		VideoPath: meta.SourcePath,
		Status:    statusError,
	}
	if cl != nil {
		record.ClipLengthSecs = cl.DurationSecs()
		cl.Close()
	}
	if err := p.store.AddClipRecord(record); err != nil {
		p.log.Error().Err(err).Msg("failed to record clip error")
	}

	if err := os.MkdirAll(p.cfg.Folders.VideoError, 0o755); err == nil {
		target := filepath.Join(p.cfg.Folders.VideoError, meta.Filename)
		if err := os.Rename(meta.SourcePath, target); err != nil {
			p.log.Error().Err(err).Str("video", meta.SourcePath).
				Msg("failed to move video to error folder")
		} else {
			files.RemoveEmptyFolder(p.cfg.Folders.VideoPending, meta.SubFolder)
		}
	}
}

// stopReverse stops pipeline workers downstream first so upstream stages
// never block on consumers that have already gone away.
func stopReverse(workers []*worker.Worker) {
	for i := len(workers) - 1; i >= 0; i-- {
		workers[i].Stop(true)
	}
}

func segmentRecords(cl *clip.Clip) []eventlog.SegmentRecord {
	segments := cl.Segments()
	records := make([]eventlog.SegmentRecord, 0, len(segments))
	for _, seg := range segments {
		records = append(records, eventlog.SegmentRecord{
			Index:        SegmentLetter(seg.Index),
			TimeBegin:    seg.StartTime,
			TimeEnd:      seg.EndTime,
			TriggerZones: seg.TriggerZones(),
		})
	}
	return records
}

// SegmentLetter maps a segment index to its output letter, A for the first.
func SegmentLetter(index int) string {
	return string(rune('A' + index))
}

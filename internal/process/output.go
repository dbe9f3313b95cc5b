package process

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"
	"time"

	"github.com/camsift/camsift/internal/clip"
	"github.com/camsift/camsift/internal/files"
	"github.com/camsift/camsift/internal/frame"
	"github.com/camsift/camsift/internal/worker"
)

// RunOutputFrames persists the configured per-frame debug images, discharging
// each frame's output purpose once its images are written. The annotated base
// frame is saved once up front.
func (p *Processor) RunOutputFrames(w *worker.Worker, cl *clip.Clip, meta files.Metadata) error {
	if p.cfg.Debug.SaveAnnotated {
		if err := p.saveAnnotated(cl, meta); err != nil {
			return err
		}
	}

	for {
		if w.Aborting() {
			return nil
		}

		progressed := false
		for _, t := range cl.FrameTimes() {
			f, ok := cl.Frame(t)
			if !ok || !f.RequiredFor(frame.PurposeOutput) {
				continue
			}
			ready, err := p.saveFrameOutputs(cl, f, meta)
			if err != nil {
				return err
			}
			if !ready {
				continue
			}
			cl.RemoveFrameIfUnneeded(t, frame.PurposeOutput)
			progressed = true
		}

		if cl.RetrievedAllFrames() && !cl.FramesRequired(frame.PurposeOutput) {
			return nil
		}
		if !progressed {
			w.Sleep(100 * time.Millisecond)
		}
	}
}

// saveAnnotated writes the base frame overlaid with the alignment grid, the
// exclusion mask contours and the trigger zone outlines.
func (p *Processor) saveAnnotated(cl *clip.Clip, meta files.Metadata) error {
	img := cl.BaseFrame().Img(frame.VariantAnnotated)
	AnnotateGrid(&img, 50)
	AnnotateContours(&img, cl.MaskContours(), maskColor)
	for _, zone := range p.cfg.TriggerZones {
		AnnotateContours(&img, [][]image.Point{zone.Contour()}, zoneColor)
	}
	_, err := files.SaveImage(img, p.cfg.Folders.ImagesDebug,
		meta.Basename, "Annotated", meta.FileDate, "")
	return err
}

// saveFrameOutputs writes the debug images for one frame. It reports false
// when subject information is still pending, so the frame is retried.
func (p *Processor) saveFrameOutputs(cl *clip.Clip, f *frame.Frame, meta files.Metadata) (bool, error) {
	d := p.cfg.Debug
	needSubjects := d.SaveSubjectCrops || d.SaveFramesWithSubjects || d.SaveFramesActive

	subjects, err := f.Subjects()
	if err != nil {
		// Frames ahead of the segment builder have no subjects yet. Once
		// segment building finishes, no more detection will happen and the
		// frame is output without subject information.
		if needSubjects && !cl.CreatedAllSegments() {
			return false, nil
		}
		subjects = nil
	}

	numActive := 0
	var active []*frame.Subject
	for _, subject := range subjects {
		isActive, err := subject.Active()
		if err != nil {
			if !cl.CreatedAllSegments() {
				return false, nil
			}
			continue
		}
		if isActive {
			numActive++
			active = append(active, subject)
		}
	}

	if d.SaveSubjectCrops {
		for i, subject := range active {
			crop := subject.CroppedImg(f.Img(frame.VariantLarge), true)
			_, err := files.SaveImage(crop, p.cfg.Folders.ImagesDebug, meta.Basename,
				fmt.Sprintf("Subject-%08d-%d", f.Time, i), meta.FileDate, "")
			crop.Close()
			if err != nil {
				return false, err
			}
		}
	}

	save := d.SaveFramesAll ||
		(d.SaveFramesWithSubjects && len(subjects) > 0) ||
		(d.SaveFramesActive && numActive > 0)
	if save {
		_, err := files.SaveImage(f.Img(frame.VariantLarge), p.cfg.Folders.ImagesDebug,
			meta.Basename, fmt.Sprintf("Frame-%08d", f.Time), meta.FileDate, "")
		if err != nil {
			return false, err
		}
	}
	return true, nil
}

// RunOutputSegments persists each segment's composites once its composite and
// trigger-zone work has finished, discharging the segment's output purpose.
func (p *Processor) RunOutputSegments(w *worker.Worker, cl *clip.Clip, meta files.Metadata) error {
	for {
		if w.Aborting() {
			return nil
		}

		progressed := false
		for _, seg := range cl.Segments() {
			if !seg.RequiredFor(frame.PurposeOutput) ||
				seg.RequiredForAny(frame.PurposeComposite, frame.PurposeTriggerZone) {
				continue
			}
			if err := p.saveSegment(cl, seg, meta); err != nil {
				return err
			}
			seg.RemovePurpose(frame.PurposeOutput)
			progressed = true
		}

		if cl.CreatedAllSegments() && !cl.SegmentsRequired(frame.PurposeOutput) {
			return nil
		}
		if !progressed {
			w.Sleep(100 * time.Millisecond)
		}
	}
}

// saveSegment writes one segment's composites to the output and debug
// folders. Single-segment clips carry no segment letter; when a second
// segment appears the first segment's already-written files are renamed to
// carry letter A.
func (p *Processor) saveSegment(cl *clip.Clip, seg *clip.Segment, meta files.Metadata) error {
	segBasename := meta.Basename
	if cl.NumSegments() > 1 {
		segBasename += SegmentLetter(seg.Index)
	}

	if seg.Index == 1 {
		if first, ok := cl.SegmentByIndex(0); ok {
			subfolder := segmentSubfolder(meta.FileDate, first)
			for _, dir := range []string{p.cfg.Folders.ImagesOutput, p.cfg.Folders.ImagesDebug} {
				if err := files.RenameBasenameAppend(dir, subfolder, meta.Basename, "A", "Composite"); err != nil {
					p.log.Warn().Err(err).Msg("failed to letter first segment files")
				}
			}
		}
	}

	group := strings.Join(seg.TriggerZones(), "+")
	for _, composite := range seg.Composites() {
		descriptor := "Composite" + composite.Style
		var dir string
		switch {
		case containsString(p.cfg.Outputs.CompositeStyles, composite.Style):
			dir = p.cfg.Folders.ImagesOutput
		case containsString(p.cfg.Debug.CompositeStyles, composite.Style):
			dir = p.cfg.Folders.ImagesDebug
		default:
			continue
		}
		if _, err := files.SaveImage(composite.Image, dir, segBasename, descriptor, meta.FileDate, group); err != nil {
			return err
		}
	}
	return nil
}

func segmentSubfolder(fileDate string, seg *clip.Segment) string {
	group := strings.Join(seg.TriggerZones(), "+")
	if group == "" {
		return fileDate
	}
	return filepath.Join(fileDate, group)
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

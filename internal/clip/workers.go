package clip

import (
	"errors"
	"image"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/camsift/camsift/internal/config"
	"github.com/camsift/camsift/internal/frame"
	"github.com/camsift/camsift/internal/video"
	"github.com/camsift/camsift/internal/worker"
)

// MemProbe reports the process memory usage in MB. Injected so tests can
// simulate memory pressure.
type MemProbe func() float64

// RunFrameGetter decodes frames sequentially into the buffer, one per time
// increment, until the source is exhausted. Decode pauses while the memory
// probe reports usage above the ceiling, letting downstream consumers drain
// the buffer.
func (c *Clip) RunFrameGetter(w *worker.Worker, maxMemUsageMB float64, memUsage MemProbe, purposes []string) error {
	t := c.BaseFrame().Time
	for t <= c.durationMsec {
		if w.Aborting() {
			return nil
		}
		if memUsage() > maxMemUsageMB {
			w.Sleep(250 * time.Millisecond)
			continue
		}
		if _, ok := c.Frame(t); !ok {
			img, err := video.ReadAt(c.source, t)
			if errors.Is(err, io.EOF) {
				// Source ended before its reported duration.
				break
			}
			if err != nil {
				return err
			}
			f, err := frame.New(img, t, false, purposes, c.p)
			if err != nil {
				return err
			}
			c.PutFrame(f)
		}
		t += c.timeIncrement
	}
	c.setRetrievedAllFrames()
	return nil
}

// RunSegmentBuilder walks frame pairs, detecting subjects and activity, and
// delimits segments of sustained motion. Zero-subject frames directly after
// the base frame slide the base forward; zero-subject frames after activity
// close the open segment. Memory pressure closes the open segment early so
// its frames can be released.
func (c *Clip) RunSegmentBuilder(w *worker.Worker, maxMemUsageMB float64, memUsage MemProbe, segmentPurposes, framePurposes []string) error {
	segmentStart := c.BaseFrame().Time
	for {
		if w.Aborting() {
			return nil
		}

		var segmentEnd int64
		finalSegment := false
		memLow := false
		frameProcessed := false
		f1 := segmentStart

		for {
			if w.Aborting() {
				return nil
			}

			if frameProcessed {
				// A slid-past frame is no longer needed for
				// segment building.
				if f1 < segmentStart {
					c.RemoveFrameIfUnneeded(f1, frame.PurposeSegment)
				}
				f1 += c.timeIncrement
				frameProcessed = false
			}
			f2 := f1 + c.timeIncrement

			if memUsage() > maxMemUsageMB {
				memLow = true
				log.Warn().Float64("mem_mb", memUsage()).
					Msg("memory ceiling exceeded, closing segment early")
				segmentEnd = f1
				break
			}

			fr1, ok1 := c.Frame(f1)
			fr2, ok2 := c.Frame(f2)
			switch {
			case ok1 && ok2:
				fr2.DetectSubjectsAndActivity(c.BaseFrame(), fr1, c.retainMask)
				numSubjects, err := fr2.NumSubjects(false)
				if err != nil {
					return err
				}
				if numSubjects == 0 {
					if f1 == c.BaseFrame().Time {
						// No activity since the base frame;
						// slide the reference forward.
						if err := c.ReplaceBaseFrame(f2); err != nil {
							return err
						}
						segmentStart = f2
					} else {
						segmentEnd = f2
						break
					}
				}
				frameProcessed = true
				continue
			case c.RetrievedAllFrames():
				segmentEnd = f1
				finalSegment = true
			default:
				w.Sleep(50 * time.Millisecond)
				continue
			}
			break
		}

		if w.Aborting() {
			return nil
		}

		if segmentEnd > segmentStart {
			c.appendSegment(segmentStart, segmentEnd, segmentPurposes)
			for t := segmentStart; t < segmentEnd; t += c.timeIncrement {
				if f, ok := c.Frame(t); ok {
					f.AddPurpose(framePurposes...)
					f.RemovePurpose(frame.PurposeSegment)
				}
			}
		}

		if finalSegment {
			break
		}
		if err := c.ReplaceBaseFrame(segmentEnd); err != nil {
			return err
		}
		segmentStart = segmentEnd
		if memLow {
			w.Sleep(500 * time.Millisecond)
		}
	}

	c.markLastSegment()
	c.setCreatedAllSegments()
	return nil
}

// RunCompositeBuilder assembles composites for each closed segment in index
// order, then discharges the segment's and its frames' composite purposes.
func (c *Clip) RunCompositeBuilder(w *worker.Worker, minFraction float64) error {
	targetPoint := image.Pt(c.p.Dims.Large.X/2, c.p.Dims.Large.Y/2)
	index := 0
	for {
		if w.Aborting() {
			return nil
		}

		seg, ok := c.SegmentByIndex(index)
		if !ok {
			if c.CreatedAllSegments() {
				break
			}
			w.Sleep(50 * time.Millisecond)
			continue
		}

		if err := c.BuildCompleteComposite(seg); err != nil {
			return err
		}
		if err := c.BuildPrimaryComposite(seg, targetPoint, minFraction); err != nil {
			return err
		}
		for {
			err := c.BuildFallbackComposite(seg)
			if errors.Is(err, ErrNoneAdded) {
				break
			}
			if err != nil {
				return err
			}
		}

		c.RemoveFramesBefore(seg.EndTime, frame.PurposeComposite)
		seg.RemovePurpose(frame.PurposeComposite)
		index++
	}
	return nil
}

// RunTriggerZones tags each closed segment with the configured zones its
// subjects' centroids fall inside, then discharges the trigger-zone purposes.
func (c *Clip) RunTriggerZones(w *worker.Worker, zones []config.ZoneDef) error {
	contours := make([][]image.Point, len(zones))
	for i, zone := range zones {
		contours[i] = zone.Contour()
	}

	for {
		if w.Aborting() {
			return nil
		}

		progressed := false
		for _, seg := range c.Segments() {
			if !seg.RequiredFor(frame.PurposeTriggerZone) {
				continue
			}
			progressed = true

			for t := seg.StartTime; t < seg.EndTime; t += c.timeIncrement {
				if f, ok := c.Frame(t); ok {
					subjects, err := f.Subjects()
					if err != nil {
						return err
					}
					for _, subject := range subjects {
						for i, zone := range zones {
							if subject.InZone(contours[i]) {
								seg.AddTriggerZone(zone.Label)
							}
						}
					}
				}
				c.RemoveFrameIfUnneeded(t, frame.PurposeTriggerZone)
			}
			seg.RemovePurpose(frame.PurposeTriggerZone)
		}

		if c.CreatedAllSegments() && !c.SegmentsRequired(frame.PurposeTriggerZone) {
			break
		}
		if !progressed {
			w.Sleep(200 * time.Millisecond)
		}
	}
	return nil
}

package clip

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/camsift/camsift/internal/frame"
)

// Composite styles, attempted in the fixed order Complete, Primary, then
// Fallback until exhausted. The order matters: fallback passes flip subjects'
// used flags, which later passes read.
const (
	StyleComplete = "Complete"
	StylePrimary  = "Primary"
	StyleFallback = "Fallback"
)

var maskFillBlack = color.RGBA{}

// Composite is an assembled still image for a segment, with the running mask
// covering every subject placed on it.
type Composite struct {
	Style string
	Image gocv.Mat
	Mask  gocv.Mat
}

// Close releases the composite's image and mask.
func (c Composite) Close() {
	c.Image.Close()
	c.Mask.Close()
}

// newCanvas seeds a composite canvas with the base frame image and an empty
// placement mask.
func (c *Clip) newCanvas() (gocv.Mat, gocv.Mat) {
	canvas := c.BaseFrame().Img(frame.VariantLarge).Clone()
	mask := gocv.NewMatWithSize(c.p.Dims.Large.Y, c.p.Dims.Large.X, gocv.MatTypeCV8U)
	return canvas, mask
}

// BuildCompleteComposite assembles the diagnostic composite holding every
// active subject in the segment, overlap permitted and used flags ignored.
// A segment with no active subjects simply gets no Complete composite.
func (c *Clip) BuildCompleteComposite(seg *Segment) error {
	canvas, mask := c.newCanvas()
	added, err := c.addSegmentSubjects(seg, &canvas, &mask, true, true)
	if err != nil || !added {
		canvas.Close()
		mask.Close()
		return err
	}
	seg.addComposite(Composite{Style: StyleComplete, Image: canvas, Mask: mask})
	return nil
}

// BuildPrimaryComposite assembles a composite around the single best subject:
// among unconsumed active subjects at least minFraction of the segment's
// largest, the one nearest targetPoint. Further non-overlapping subjects are
// added as an interim fallback pass. Having no qualifying subject is an
// expected outcome and produces no composite.
func (c *Clip) BuildPrimaryComposite(seg *Segment, targetPoint image.Point, minFraction float64) error {
	primaryFrame, primary, err := c.primarySubject(seg, targetPoint, minFraction)
	if err == ErrNoSubject {
		return nil
	}
	if err != nil {
		return err
	}

	canvas, mask := c.newCanvas()
	c.addToComposite(primaryFrame, primary, &canvas, &mask, false, false)
	if _, err := c.addSegmentSubjects(seg, &canvas, &mask, false, false); err != nil {
		canvas.Close()
		mask.Close()
		return err
	}
	seg.addComposite(Composite{Style: StylePrimary, Image: canvas, Mask: mask})
	return nil
}

// BuildFallbackComposite greedily packs remaining unconsumed active subjects
// onto a fresh canvas, rejecting any placement that overlaps one already
// made. Returns ErrNoneAdded when a pass places nothing, which ends the
// fallback loop.
func (c *Clip) BuildFallbackComposite(seg *Segment) error {
	canvas, mask := c.newCanvas()
	added, err := c.addSegmentSubjects(seg, &canvas, &mask, false, false)
	if err != nil || !added {
		canvas.Close()
		mask.Close()
		if err == nil {
			err = ErrNoneAdded
		}
		return err
	}
	seg.addComposite(Composite{Style: StyleFallback, Image: canvas, Mask: mask})
	return nil
}

// addSegmentSubjects walks the segment's frames and tries to place every
// eligible subject onto the canvas. With skipUsed set, used flags are neither
// honored nor set.
func (c *Clip) addSegmentSubjects(seg *Segment, canvas, mask *gocv.Mat, allowOverlap, skipUsed bool) (bool, error) {
	anyAdded := false
	for t := seg.StartTime + c.timeIncrement; t < seg.EndTime; t += c.timeIncrement {
		f, ok := c.Frame(t)
		if !ok {
			continue
		}
		subjects, err := f.Subjects()
		if err != nil {
			return anyAdded, err
		}
		for _, subject := range subjects {
			if subject.Tracked() || (subject.Used() && !skipUsed) {
				continue
			}
			active, err := subject.Active()
			if err != nil {
				return anyAdded, err
			}
			if !active {
				continue
			}
			if c.addToComposite(f, subject, canvas, mask, allowOverlap, skipUsed) {
				anyAdded = true
			}
		}
	}
	return anyAdded, nil
}

// addToComposite tries to place one subject onto the canvas. With overlap
// disallowed, any shared non-zero pixel between the subject's dilated mask
// and the running mask rejects the placement without mutating anything.
func (c *Clip) addToComposite(f *frame.Frame, subject *frame.Subject, canvas, mask *gocv.Mat, allowOverlap, skipUsed bool) bool {
	subjectMask := subject.Mask(true, false, false)
	defer subjectMask.Close()

	if !allowOverlap {
		overlap := gocv.NewMat()
		gocv.BitwiseAnd(*mask, subjectMask, &overlap)
		overlapping := gocv.CountNonZero(overlap)
		overlap.Close()
		if overlapping > 0 {
			return false
		}
	}

	if !skipUsed {
		subject.SetUsed()
	}
	overlayImgs(canvas, f.Img(frame.VariantLarge), subjectMask)
	gocv.BitwiseOr(*mask, subjectMask, mask)
	return true
}

// overlayImgs copies the masked region of subjectImg onto the canvas. The
// canvas keeps its pixels everywhere the mask is zero.
func overlayImgs(canvas *gocv.Mat, subjectImg, subjectMask gocv.Mat) {
	inverted := gocv.NewMat()
	defer inverted.Close()
	gocv.BitwiseNot(subjectMask, &inverted)

	invertedBGR := gocv.NewMat()
	defer invertedBGR.Close()
	gocv.CvtColor(inverted, &invertedBGR, gocv.ColorGrayToBGR)
	maskBGR := gocv.NewMat()
	defer maskBGR.Close()
	gocv.CvtColor(subjectMask, &maskBGR, gocv.ColorGrayToBGR)

	kept := gocv.NewMat()
	defer kept.Close()
	gocv.BitwiseAnd(*canvas, invertedBGR, &kept)
	added := gocv.NewMat()
	defer added.Close()
	gocv.BitwiseAnd(subjectImg, maskBGR, &added)

	gocv.BitwiseOr(kept, added, canvas)
}

// primarySubject selects the segment's primary subject: unconsumed, active,
// at least minFraction of the largest candidate's area, nearest targetPoint.
// Distance ties keep the earliest discovered candidate.
func (c *Clip) primarySubject(seg *Segment, targetPoint image.Point, minFraction float64) (*frame.Frame, *frame.Subject, error) {
	type candidate struct {
		frame    *frame.Frame
		subject  *frame.Subject
		area     float64
		distance float64
	}

	var candidates []candidate
	maxArea := 0.0
	for t := seg.StartTime + c.timeIncrement; t < seg.EndTime; t += c.timeIncrement {
		f, ok := c.Frame(t)
		if !ok {
			continue
		}
		subjects, err := f.Subjects()
		if err != nil {
			return nil, nil, err
		}
		for _, subject := range subjects {
			if subject.Tracked() || subject.Used() {
				continue
			}
			active, err := subject.Active()
			if err != nil {
				return nil, nil, err
			}
			if !active {
				continue
			}
			candidates = append(candidates, candidate{
				frame:    f,
				subject:  subject,
				area:     subject.Area,
				distance: subject.DistFrom(targetPoint),
			})
			if subject.Area > maxArea {
				maxArea = subject.Area
			}
		}
	}
	if len(candidates) == 0 {
		return nil, nil, ErrNoSubject
	}

	minArea := maxArea * minFraction
	var best *candidate
	for i := range candidates {
		cand := &candidates[i]
		if cand.area < minArea {
			continue
		}
		if best == nil || cand.distance < best.distance {
			best = cand
		}
	}
	if best == nil {
		return nil, nil, ErrNoSubject
	}
	return best.frame, best.subject, nil
}

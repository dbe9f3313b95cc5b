package frame

import (
	"image"
	"image/color"
	"math"
	"sync"

	"gocv.io/x/gocv"
)

var (
	fillWhite     = color.RGBA{R: 255, G: 255, B: 255}
	fillBlack     = color.RGBA{}
	annotateColor = color.RGBA{R: 255}
)

// Subject is a single contiguous region of detected change within one frame.
// Geometry is fixed at creation; the tracked/used flags are set by consumers
// and the activity flag is write-once via TestActivity.
type Subject struct {
	p *Params

	// Contour is the original, unmasked change region. Dilated is the same
	// region grown by the configured dilation, used for composite masks.
	Contour []image.Point
	Dilated []image.Point
	Center  image.Point
	Area    float64
	Bounds  image.Rectangle
	// Crop is Bounds grown by the padding and clamped to the large image.
	Crop image.Rectangle

	mu           sync.Mutex
	active       bool
	testedActive bool
	tracked      bool
	used         bool
}

// NewSubject builds a subject from a change-region contour in large-image
// coordinates.
func NewSubject(contour []image.Point, p *Params) *Subject {
	s := &Subject{p: p, Contour: contour}

	size := p.Dims.Large
	mask := gocv.NewMatWithSize(size.Y, size.X, gocv.MatTypeCV8U)
	defer mask.Close()
	drawFilled(&mask, contour, fillWhite, image.Point{})
	s.Dilated = dilateMask(mask, p.DilatePixels)

	m := gocv.Moments(mask, true)
	if m00 := m["m00"]; m00 != 0 {
		s.Center = image.Pt(int(m["m10"]/m00), int(m["m01"]/m00))
	}

	pv := gocv.NewPointVectorFromPoints(contour)
	defer pv.Close()
	s.Area = gocv.ContourArea(pv)
	s.Bounds = gocv.BoundingRect(pv)
	s.Crop = image.Rect(
		max(s.Bounds.Min.X-p.BoundsPadding, 0),
		max(s.Bounds.Min.Y-p.BoundsPadding, 0),
		min(s.Bounds.Max.X+p.BoundsPadding, size.X),
		min(s.Bounds.Max.Y+p.BoundsPadding, size.Y),
	)
	return s
}

// Active reports whether the subject was moving relative to the previous
// frame. It is an error to call this before TestActivity has run.
func (s *Subject) Active() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.testedActive {
		return false, ErrActivityNotTested
	}
	return s.active, nil
}

// TestActivity compares the previous and current greyblur images within the
// subject's own contour. The subject is active if the changed-pixel count
// exceeds the configured fraction of its area or the configured absolute
// count; either threshold alone qualifies.
func (s *Subject) TestActivity(prevGreyblur, thisGreyblur gocv.Mat) bool {
	prevCrop := s.CroppedImg(prevGreyblur, false)
	defer prevCrop.Close()
	thisCrop := s.CroppedImg(thisGreyblur, false)
	defer thisCrop.Close()

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(prevCrop, thisCrop, &diff)
	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, s.p.IntensityThreshold, 255, gocv.ThresholdBinary)

	// Differences only count inside the exact contour, not the dilation.
	mask := s.Mask(false, true, false)
	defer mask.Close()
	masked := gocv.NewMat()
	defer masked.Close()
	gocv.BitwiseAnd(thresh, mask, &masked)

	changed := gocv.CountNonZero(masked)
	active := float64(changed)/s.Area > s.p.ActivityMinFraction ||
		changed > s.p.ActivityMinPixels

	s.mu.Lock()
	s.active = active
	s.testedActive = true
	s.mu.Unlock()
	return active
}

// Tracked reports whether a tracker has claimed this subject.
func (s *Subject) Tracked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracked
}

// SetTracked marks the subject as claimed by a tracker.
func (s *Subject) SetTracked() {
	s.mu.Lock()
	s.tracked = true
	s.mu.Unlock()
}

// Used reports whether the subject has been placed in a composite.
func (s *Subject) Used() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

// SetUsed marks the subject as placed in a composite.
func (s *Subject) SetUsed() {
	s.mu.Lock()
	s.used = true
	s.mu.Unlock()
}

// Mask renders the subject as an include mask, white on black by default.
// With crop set the mask covers only the padded crop box, with invert set the
// subject is black on white.
func (s *Subject) Mask(dilated, crop, invert bool) gocv.Mat {
	size := s.p.Dims.Large
	offset := image.Point{}
	if crop {
		size = image.Pt(s.Crop.Dx(), s.Crop.Dy())
		offset = image.Pt(-s.Crop.Min.X, -s.Crop.Min.Y)
	}

	var mask gocv.Mat
	fill := fillWhite
	if invert {
		mask = gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0),
			size.Y, size.X, gocv.MatTypeCV8U)
		fill = fillBlack
	} else {
		mask = gocv.NewMatWithSize(size.Y, size.X, gocv.MatTypeCV8U)
	}

	contour := s.Contour
	if dilated {
		contour = s.Dilated
	}
	drawFilled(&mask, contour, fill, offset)
	return mask
}

// CroppedImg returns a copy of img cropped to the subject's padded crop box.
// img must be large-sized. With annotate set the contour outline is drawn
// onto the copy.
func (s *Subject) CroppedImg(img gocv.Mat, annotate bool) gocv.Mat {
	region := img.Region(s.Crop)
	defer region.Close()
	cropped := region.Clone()
	if annotate {
		drawOutline(&cropped, s.Contour, annotateColor,
			image.Pt(-s.Crop.Min.X, -s.Crop.Min.Y))
	}
	return cropped
}

// DistFrom returns the pixel distance from the subject's centroid to a point.
func (s *Subject) DistFrom(pt image.Point) float64 {
	return math.Hypot(float64(pt.X-s.Center.X), float64(pt.Y-s.Center.Y))
}

// InZone reports whether the subject's centroid falls inside the zone contour.
func (s *Subject) InZone(zone []image.Point) bool {
	pv := gocv.NewPointVectorFromPoints(zone)
	defer pv.Close()
	return gocv.PointPolygonTest(pv, s.Center, false) >= 0
}

func drawFilled(dst *gocv.Mat, contour []image.Point, c color.RGBA, offset image.Point) {
	drawContour(dst, contour, c, -1, offset)
}

func drawOutline(dst *gocv.Mat, contour []image.Point, c color.RGBA, offset image.Point) {
	drawContour(dst, contour, c, 1, offset)
}

func drawContour(dst *gocv.Mat, contour []image.Point, c color.RGBA, thickness int, offset image.Point) {
	pv := gocv.NewPointsVectorFromPoints([][]image.Point{contour})
	defer pv.Close()
	if offset == (image.Point{}) {
		gocv.DrawContours(dst, pv, -1, c, thickness)
		return
	}
	hierarchy := gocv.NewMat()
	defer hierarchy.Close()
	gocv.DrawContoursWithParams(dst, pv, -1, c, thickness, gocv.Line8, hierarchy, 0, offset)
}

// dilateMask grows a filled contour mask and re-extracts the outer contour.
// Dilating a single filled contour always yields a single contour back.
func dilateMask(mask gocv.Mat, pixels int) []image.Point {
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(pixels, pixels))
	defer kernel.Close()
	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.MorphologyEx(mask, &dilated, gocv.MorphDilate, kernel)

	contours := gocv.FindContours(dilated, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	if contours.Size() == 0 {
		return nil
	}
	return contours.At(0).ToPoints()
}

package frame

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Frame is a single decoded image at a timestamp within a clip, together with
// lazily built derived variants and the subjects discovered by comparing it
// to a base frame. Frames are owned by the clip's buffer and evicted once
// their purpose set is empty.
type Frame struct {
	// Time is the frame's position in the clip in milliseconds. Fixed at
	// creation.
	Time int64
	// OutOfSync marks frames deliberately created off the time-increment
	// grid. They never become segment boundaries.
	OutOfSync bool

	p *Params

	mu               sync.Mutex
	imgs             map[Variant]gocv.Mat
	subjects         []*Subject
	detectedSubjects bool
	testedActivity   bool
	purposes         map[string]struct{}
	closed           bool
}

// New wraps a decoded source image as a Frame, taking ownership of the Mat.
// The image must match the configured source dimensions.
func New(img gocv.Mat, timeMsec int64, outOfSync bool, purposes []string, p *Params) (*Frame, error) {
	if img.Cols() != p.Dims.Source.X || img.Rows() != p.Dims.Source.Y {
		img.Close()
		return nil, fmt.Errorf("frame at %dms: source is %dx%d, expected %dx%d",
			timeMsec, img.Cols(), img.Rows(), p.Dims.Source.X, p.Dims.Source.Y)
	}
	f := &Frame{
		Time:      timeMsec,
		OutOfSync: outOfSync,
		p:         p,
		imgs:      map[Variant]gocv.Mat{VariantSource: img},
		purposes:  make(map[string]struct{}, len(purposes)),
	}
	for _, purpose := range purposes {
		f.purposes[purpose] = struct{}{}
	}
	return f, nil
}

// Img returns the requested variant, building and caching it on first use.
// The returned Mat is owned by the frame; callers must not close it.
func (f *Frame) Img(v Variant) gocv.Mat {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.img(v)
}

func (f *Frame) img(v Variant) gocv.Mat {
	if img, ok := f.imgs[v]; ok {
		return img
	}
	var img gocv.Mat
	switch v {
	case VariantLarge, VariantMedium, VariantSmall:
		img = gocv.NewMat()
		gocv.Resize(f.imgs[VariantSource], &img,
			f.p.Dims.Of(v), 0, 0, gocv.InterpolationArea)
	case VariantGreyblur:
		grey := gocv.NewMat()
		defer grey.Close()
		gocv.CvtColor(f.img(VariantLarge), &grey, gocv.ColorBGRToGray)
		img = gocv.NewMat()
		gocv.GaussianBlur(grey, &img,
			image.Pt(f.p.BlurWidth, f.p.BlurWidth), 0, 0, gocv.BorderDefault)
	case VariantAnnotated:
		img = f.img(VariantLarge).Clone()
	default:
		panic(fmt.Sprintf("frame: unknown image variant %q", v))
	}
	f.imgs[v] = img
	return img
}

// AddPurpose tags the frame with outstanding consumer needs.
func (f *Frame) AddPurpose(purposes ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, purpose := range purposes {
		f.purposes[purpose] = struct{}{}
	}
}

// RemovePurpose discharges consumer needs; unknown purposes are ignored.
func (f *Frame) RemovePurpose(purposes ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, purpose := range purposes {
		delete(f.purposes, purpose)
	}
}

// Required reports whether any purpose is still outstanding.
func (f *Frame) Required() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.purposes) > 0
}

// RequiredFor reports whether the given purpose is still outstanding.
func (f *Frame) RequiredFor(purpose string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.purposes[purpose]
	return ok
}

// DetectSubjects finds change regions against the base frame. The comparison
// runs at most once per frame; repeat calls return the already-detected list,
// so detection is idempotent. The base frame is marked detected too, since it
// has nothing to compare against.
func (f *Frame) DetectSubjects(base *Frame, retainMask gocv.Mat) []*Subject {
	f.mu.Lock()
	if f.detectedSubjects {
		subjects := f.subjects
		f.mu.Unlock()
		return subjects
	}
	f.mu.Unlock()

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(base.Img(VariantGreyblur), f.Img(VariantGreyblur), &diff)
	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, f.p.IntensityThreshold, 255, gocv.ThresholdBinary)

	kernel := gocv.GetStructuringElement(gocv.MorphRect,
		image.Pt(f.p.MorphRadius, f.p.MorphRadius))
	defer kernel.Close()
	merged := gocv.NewMat()
	defer merged.Close()
	gocv.MorphologyEx(thresh, &merged, gocv.MorphClose, kernel)

	var found []*Subject
	contours := gocv.FindContours(merged, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i).ToPoints()
		if subject := f.subjectFromContour(contour, retainMask); subject != nil {
			found = append(found, subject)
		}
	}

	f.mu.Lock()
	if !f.detectedSubjects {
		f.subjects = found
		f.detectedSubjects = true
	}
	subjects := f.subjects
	f.mu.Unlock()

	base.mu.Lock()
	base.detectedSubjects = true
	base.mu.Unlock()
	return subjects
}

// subjectFromContour re-renders one change region, applies the retain mask
// and keeps the region only if the masked area is still large enough. The
// subject stores the original unmasked contour so a subject straddling an
// excluded area is not clipped in the output.
func (f *Frame) subjectFromContour(contour []image.Point, retainMask gocv.Mat) *Subject {
	size := f.p.Dims.Large
	contourImg := gocv.NewMatWithSize(size.Y, size.X, gocv.MatTypeCV8U)
	defer contourImg.Close()
	drawFilled(&contourImg, contour, fillWhite, image.Point{})

	masked := gocv.NewMat()
	defer masked.Close()
	gocv.BitwiseAnd(contourImg, retainMask, &masked)

	maskedContours := gocv.FindContours(masked, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer maskedContours.Close()
	for i := 0; i < maskedContours.Size(); i++ {
		if gocv.ContourArea(maskedContours.At(i)) > f.p.SubjectMinArea {
			return NewSubject(contour, f.p)
		}
	}
	return nil
}

// DetectSubjectsAndActivity runs subject detection against the base frame and
// then tests each subject's activity against the previous frame. The base and
// previous frames are flagged as tested too, either having been tested before
// or having no applicable test.
func (f *Frame) DetectSubjectsAndActivity(base, prev *Frame, retainMask gocv.Mat) []*Subject {
	subjects := f.DetectSubjects(base, retainMask)

	f.mu.Lock()
	tested := f.testedActivity
	f.mu.Unlock()
	if !tested {
		prevGreyblur := prev.Img(VariantGreyblur)
		thisGreyblur := f.Img(VariantGreyblur)
		for _, subject := range subjects {
			subject.TestActivity(prevGreyblur, thisGreyblur)
		}
	}

	f.mu.Lock()
	f.testedActivity = true
	f.mu.Unlock()
	base.mu.Lock()
	base.testedActivity = true
	base.mu.Unlock()
	prev.mu.Lock()
	prev.testedActivity = true
	prev.mu.Unlock()
	return subjects
}

// Subjects returns the detected subjects, or ErrSubjectsNotDetected when
// detection has not run on this frame.
func (f *Frame) Subjects() ([]*Subject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.detectedSubjects {
		return nil, ErrSubjectsNotDetected
	}
	return f.subjects, nil
}

// NumSubjects counts the frame's subjects, optionally only the active ones.
func (f *Frame) NumSubjects(onlyActive bool) (int, error) {
	subjects, err := f.Subjects()
	if err != nil {
		return 0, err
	}
	if !onlyActive {
		return len(subjects), nil
	}
	count := 0
	for _, subject := range subjects {
		active, err := subject.Active()
		if err != nil {
			return 0, err
		}
		if active {
			count++
		}
	}
	return count, nil
}

// Close releases every cached image variant. Safe to call more than once.
func (f *Frame) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for v, img := range f.imgs {
		img.Close()
		delete(f.imgs, v)
	}
}

package frame

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"gocv.io/x/gocv"
)

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

func testParams() *Params {
	src := image.Pt(320, 240)
	return &Params{
		BlurWidth:           7,
		IntensityThreshold:  40,
		MorphRadius:         15,
		SubjectMinArea:      1000,
		BoundsPadding:       10,
		DilatePixels:        15,
		ActivityMinFraction: 0.05,
		ActivityMinPixels:   100,
		Dims: Dimensions{
			Source: src,
			Large:  src,
			Medium: image.Pt(160, 120),
			Small:  image.Pt(80, 60),
		},
	}
}

// testImage builds a black source image with filled white rectangles.
func testImage(rects ...image.Rectangle) gocv.Mat {
	img := gocv.NewMatWithSize(240, 320, gocv.MatTypeCV8UC3)
	for _, r := range rects {
		gocv.Rectangle(&img, r, white, -1)
	}
	return img
}

func testFrame(t *testing.T, msec int64, p *Params, rects ...image.Rectangle) *Frame {
	t.Helper()
	f, err := New(testImage(rects...), msec, false, []string{PurposeSegment}, p)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(f.Close)
	return f
}

func fullRetainMask(p *Params) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0),
		p.Dims.Large.Y, p.Dims.Large.X, gocv.MatTypeCV8U)
}

func TestNewRejectsWrongDimensions(t *testing.T) {
	p := testParams()
	img := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8UC3)
	if _, err := New(img, 0, false, nil, p); err == nil {
		t.Fatal("expected dimension error")
	}
}

func TestVariantDimensions(t *testing.T) {
	p := testParams()
	f := testFrame(t, 0, p)

	if got := f.Img(VariantSmall); got.Cols() != 80 || got.Rows() != 60 {
		t.Errorf("small variant is %dx%d", got.Cols(), got.Rows())
	}
	if got := f.Img(VariantMedium); got.Cols() != 160 {
		t.Errorf("medium variant is %d wide", got.Cols())
	}
	if got := f.Img(VariantGreyblur); got.Channels() != 1 {
		t.Errorf("greyblur has %d channels, want 1", got.Channels())
	}
	if got := f.Img(VariantAnnotated); got.Cols() != p.Dims.Large.X {
		t.Errorf("annotated variant is %d wide", got.Cols())
	}
}

func TestSubjectsBeforeDetection(t *testing.T) {
	f := testFrame(t, 0, testParams())
	if _, err := f.Subjects(); !errors.Is(err, ErrSubjectsNotDetected) {
		t.Errorf("Subjects error = %v, want ErrSubjectsNotDetected", err)
	}
	if _, err := f.NumSubjects(false); !errors.Is(err, ErrSubjectsNotDetected) {
		t.Errorf("NumSubjects error = %v, want ErrSubjectsNotDetected", err)
	}
}

func TestDetectSubjects(t *testing.T) {
	p := testParams()
	base := testFrame(t, 0, p)
	f := testFrame(t, 1000, p, image.Rect(100, 80, 170, 150))
	mask := fullRetainMask(p)
	defer mask.Close()

	subjects := f.DetectSubjects(base, mask)
	if len(subjects) != 1 {
		t.Fatalf("detected %d subjects, want 1", len(subjects))
	}
	s := subjects[0]
	if !image.Pt(135, 115).In(s.Bounds) {
		t.Errorf("bounds %v do not contain the rectangle center", s.Bounds)
	}
	if s.Area < 3000 {
		t.Errorf("area = %v, suspiciously small for a 70x70 region", s.Area)
	}

	// Detection only runs once per frame.
	again := f.DetectSubjects(base, mask)
	if len(again) != 1 || again[0] != s {
		t.Error("repeat detection did not return the cached subjects")
	}

	// The base frame is marked detected, with nothing to compare against.
	baseSubjects, err := base.Subjects()
	if err != nil {
		t.Fatalf("base Subjects error: %v", err)
	}
	if len(baseSubjects) != 0 {
		t.Errorf("base frame has %d subjects, want 0", len(baseSubjects))
	}
}

func TestRetainMaskExcludesSubject(t *testing.T) {
	p := testParams()
	base := testFrame(t, 0, p)
	f := testFrame(t, 1000, p, image.Rect(100, 80, 170, 150))

	mask := fullRetainMask(p)
	defer mask.Close()
	// Black out the area around the rectangle.
	gocv.Rectangle(&mask, image.Rect(80, 60, 200, 180), color.RGBA{}, -1)

	if subjects := f.DetectSubjects(base, mask); len(subjects) != 0 {
		t.Errorf("detected %d subjects in excluded area, want 0", len(subjects))
	}
}

func TestActivityAgainstPreviousFrame(t *testing.T) {
	p := testParams()
	rect := image.Rect(100, 80, 170, 150)
	mask := fullRetainMask(p)
	defer mask.Close()

	// The subject appeared since the previous frame: active.
	base := testFrame(t, 0, p)
	prev := testFrame(t, 1000, p)
	f := testFrame(t, 2000, p, rect)
	f.DetectSubjectsAndActivity(base, prev, mask)
	if n, err := f.NumSubjects(true); err != nil || n != 1 {
		t.Errorf("active subjects = %d, %v, want 1", n, err)
	}

	// The subject is unchanged from the previous frame: present but idle.
	base2 := testFrame(t, 0, p)
	prev2 := testFrame(t, 1000, p, rect)
	f2 := testFrame(t, 2000, p, rect)
	f2.DetectSubjectsAndActivity(base2, prev2, mask)
	if n, err := f2.NumSubjects(false); err != nil || n != 1 {
		t.Fatalf("subjects = %d, %v, want 1", n, err)
	}
	if n, err := f2.NumSubjects(true); err != nil || n != 0 {
		t.Errorf("active subjects = %d, %v, want 0", n, err)
	}
}

func TestActiveBeforeActivityTest(t *testing.T) {
	p := testParams()
	base := testFrame(t, 0, p)
	f := testFrame(t, 1000, p, image.Rect(100, 80, 170, 150))
	mask := fullRetainMask(p)
	defer mask.Close()

	subjects := f.DetectSubjects(base, mask)
	if len(subjects) != 1 {
		t.Fatalf("detected %d subjects, want 1", len(subjects))
	}
	if _, err := subjects[0].Active(); !errors.Is(err, ErrActivityNotTested) {
		t.Errorf("Active error = %v, want ErrActivityNotTested", err)
	}
	if _, err := f.NumSubjects(true); !errors.Is(err, ErrActivityNotTested) {
		t.Errorf("NumSubjects(true) error = %v, want ErrActivityNotTested", err)
	}
}

func TestPurposes(t *testing.T) {
	f := testFrame(t, 0, testParams())
	if !f.RequiredFor(PurposeSegment) {
		t.Error("creation purpose missing")
	}
	f.AddPurpose(PurposeComposite, PurposeTriggerZone)
	f.RemovePurpose(PurposeSegment)
	if f.RequiredFor(PurposeSegment) {
		t.Error("discharged purpose still present")
	}
	if !f.Required() {
		t.Error("frame with purposes not required")
	}
	f.RemovePurpose(PurposeComposite, PurposeTriggerZone)
	if f.Required() {
		t.Error("frame with no purposes still required")
	}
}

func TestSubjectGeometry(t *testing.T) {
	p := testParams()
	contour := []image.Point{{100, 80}, {170, 80}, {170, 150}, {100, 150}}
	s := NewSubject(contour, p)

	if dx, dy := s.Center.X-135, s.Center.Y-115; dx < -2 || dx > 2 || dy < -2 || dy > 2 {
		t.Errorf("Center = %v, want near (135, 115)", s.Center)
	}
	if s.Area < 4000 || s.Area > 6000 {
		t.Errorf("Area = %v, want near 4900", s.Area)
	}
	if !s.Bounds.In(s.Crop) {
		t.Errorf("bounds %v not inside padded crop %v", s.Bounds, s.Crop)
	}

	zone := []image.Point{{50, 50}, {250, 50}, {250, 200}, {50, 200}}
	if !s.InZone(zone) {
		t.Error("centroid not reported inside enclosing zone")
	}
	far := []image.Point{{0, 0}, {20, 0}, {20, 20}, {0, 20}}
	if s.InZone(far) {
		t.Error("centroid reported inside distant zone")
	}

	if d := s.DistFrom(s.Center); d != 0 {
		t.Errorf("DistFrom(center) = %v, want 0", d)
	}
}

func TestSubjectMasks(t *testing.T) {
	p := testParams()
	contour := []image.Point{{100, 80}, {170, 80}, {170, 150}, {100, 150}}
	s := NewSubject(contour, p)

	plain := s.Mask(false, false, false)
	defer plain.Close()
	dilated := s.Mask(true, false, false)
	defer dilated.Close()
	if plain.Cols() != p.Dims.Large.X || plain.Rows() != p.Dims.Large.Y {
		t.Errorf("full mask is %dx%d", plain.Cols(), plain.Rows())
	}
	if gocv.CountNonZero(dilated) <= gocv.CountNonZero(plain) {
		t.Error("dilated mask not larger than the exact contour mask")
	}

	cropped := s.Mask(false, true, false)
	defer cropped.Close()
	if cropped.Cols() != s.Crop.Dx() || cropped.Rows() != s.Crop.Dy() {
		t.Errorf("cropped mask is %dx%d, want %dx%d",
			cropped.Cols(), cropped.Rows(), s.Crop.Dx(), s.Crop.Dy())
	}

	inverted := s.Mask(false, false, true)
	defer inverted.Close()
	total := p.Dims.Large.X * p.Dims.Large.Y
	if gocv.CountNonZero(inverted)+gocv.CountNonZero(plain) != total {
		t.Error("inverted mask does not complement the plain mask")
	}
}

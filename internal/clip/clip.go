// Package clip owns the per-video processing state: the reference-counted
// frame buffer, the segment list and the composite assembly, plus the worker
// loops that drive them.
package clip

import (
	"errors"
	"fmt"
	"image"
	"math/rand"
	"sort"
	"sync"

	"gocv.io/x/gocv"

	"github.com/camsift/camsift/internal/config"
	"github.com/camsift/camsift/internal/frame"
	"github.com/camsift/camsift/internal/video"
)

var (
	// ErrNoSubject signals that no subject qualified for a primary
	// composite. Expected, not a failure.
	ErrNoSubject = errors.New("no qualifying subject")

	// ErrNoneAdded signals that a fallback composite pass placed nothing,
	// ending the fallback loop.
	ErrNoneAdded = errors.New("no subjects added to composite")
)

// Clip represents one video file being processed. Frames, segments and flags
// are shared between the pipeline workers; access goes through short critical
// sections on the clip mutex.
type Clip struct {
	Path string

	p             *frame.Params
	timeIncrement int64
	source        video.FrameSource
	durationMsec  int64

	mu                 sync.Mutex
	frames             map[int64]*frame.Frame
	baseFrame          *frame.Frame
	segments           []*Segment
	numSegments        int
	retrievedAllFrames bool
	createdAllSegments bool
	isNight            *bool

	// retainMask is mutated only during setup, before workers start, and
	// read-only afterwards. Non-zero pixels are the areas kept for motion
	// detection.
	retainMask   gocv.Mat
	maskContours [][]image.Point
}

// New opens a video file and decodes its base frame. Open failure, a source
// reporting zero frames, or failure to decode the very first frame all return
// io.EOF wrapped errors; the clip cannot be processed.
func New(path string, baseFrameTime int64, purposes []string, timeIncrement int64, p *frame.Params) (*Clip, error) {
	source, err := video.Open(path)
	if err != nil {
		return nil, err
	}
	c, err := NewFromSource(source, path, baseFrameTime, purposes, timeIncrement, p)
	if err != nil {
		source.Close()
		return nil, err
	}
	return c, nil
}

// NewFromSource builds a clip over an already-open frame source. The clip
// takes ownership of the source.
func NewFromSource(source video.FrameSource, path string, baseFrameTime int64, purposes []string, timeIncrement int64, p *frame.Params) (*Clip, error) {
	c := &Clip{
		Path:          path,
		p:             p,
		timeIncrement: timeIncrement,
		source:        source,
		durationMsec:  source.DurationMsec(),
		frames:        make(map[int64]*frame.Frame),
		retainMask: gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0),
			p.Dims.Large.Y, p.Dims.Large.X, gocv.MatTypeCV8U),
	}

	img, err := video.ReadAt(source, baseFrameTime)
	if err != nil {
		c.retainMask.Close()
		return nil, fmt.Errorf("base frame at %dms: %w", baseFrameTime, err)
	}
	base, err := frame.New(img, baseFrameTime, false, purposes, p)
	if err != nil {
		c.retainMask.Close()
		return nil, err
	}
	c.frames[baseFrameTime] = base
	c.baseFrame = base
	return c, nil
}

// TimeIncrement returns the spacing between buffered frames in milliseconds.
func (c *Clip) TimeIncrement() int64 { return c.timeIncrement }

// DurationMsec returns the source's reported duration.
func (c *Clip) DurationMsec() int64 { return c.durationMsec }

// DurationSecs returns the source's reported duration in whole seconds.
func (c *Clip) DurationSecs() int { return int(c.durationMsec / 1000) }

// Frame returns the buffered frame at the given time, if present.
func (c *Clip) Frame(t int64) (*frame.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.frames[t]
	return f, ok
}

// PutFrame adds a decoded frame to the buffer.
func (c *Clip) PutFrame(f *frame.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames[f.Time] = f
}

// FrameTimes returns the buffered timestamps in increasing order.
func (c *Clip) FrameTimes() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	times := make([]int64, 0, len(c.frames))
	for t := range c.frames {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	return times
}

// NumFrames returns the current buffer occupancy.
func (c *Clip) NumFrames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// BaseFrame returns the current reference frame for difference detection.
func (c *Clip) BaseFrame() *frame.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseFrame
}

// ReplaceBaseFrame advances the reference frame to the buffered frame at t.
func (c *Clip) ReplaceBaseFrame(t int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.frames[t]
	if !ok {
		return fmt.Errorf("replace base frame: no frame at %dms", t)
	}
	c.baseFrame = f
	return nil
}

// RemoveFrameIfUnneeded discharges the expired purpose, if given, and evicts
// the frame when no purposes remain and it is not the base frame. Eviction
// closes the frame's images.
func (c *Clip) RemoveFrameIfUnneeded(t int64, expiredPurpose string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.frames[t]
	if !ok {
		return
	}
	if expiredPurpose != "" {
		f.RemovePurpose(expiredPurpose)
	}
	if !f.Required() && t != c.baseFrame.Time {
		delete(c.frames, t)
		f.Close()
	}
}

// RemoveFramesBefore applies RemoveFrameIfUnneeded to every buffered frame
// earlier than t.
func (c *Clip) RemoveFramesBefore(t int64, expiredPurpose string) {
	for _, ft := range c.FrameTimes() {
		if ft < t {
			c.RemoveFrameIfUnneeded(ft, expiredPurpose)
		}
	}
}

// FramesRequired reports whether any buffered frame still carries the given
// purpose, or any purpose at all when purpose is empty.
func (c *Clip) FramesRequired(purpose string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.frames {
		if purpose == "" {
			if f.Required() {
				return true
			}
		} else if f.RequiredFor(purpose) {
			return true
		}
	}
	return false
}

// Segments returns a snapshot of the segment list.
func (c *Clip) Segments() []*Segment {
	c.mu.Lock()
	defer c.mu.Unlock()
	segments := make([]*Segment, len(c.segments))
	copy(segments, c.segments)
	return segments
}

// SegmentByIndex returns the segment with the given index, if created.
func (c *Clip) SegmentByIndex(index int) (*Segment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, seg := range c.segments {
		if seg.Index == index {
			return seg, true
		}
	}
	return nil, false
}

// NumSegments returns the number of segments created so far.
func (c *Clip) NumSegments() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.numSegments
}

// SegmentsRequired reports whether any segment still carries the given
// purpose, or any purpose at all when purpose is empty.
func (c *Clip) SegmentsRequired(purpose string) bool {
	for _, seg := range c.Segments() {
		if purpose == "" {
			if seg.Required() {
				return true
			}
		} else if seg.RequiredFor(purpose) {
			return true
		}
	}
	return false
}

func (c *Clip) appendSegment(startTime, endTime int64, purposes []string) *Segment {
	c.mu.Lock()
	defer c.mu.Unlock()
	seg := NewSegment(c.numSegments, startTime, endTime, purposes)
	c.segments = append(c.segments, seg)
	c.numSegments++
	return seg
}

func (c *Clip) markLastSegment() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.segments) > 0 {
		c.segments[len(c.segments)-1].SetLast()
	}
}

// RetrievedAllFrames reports whether the frame getter has exhausted the
// source.
func (c *Clip) RetrievedAllFrames() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retrievedAllFrames
}

func (c *Clip) setRetrievedAllFrames() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retrievedAllFrames = true
}

// CreatedAllSegments reports whether the segment builder has finished.
func (c *Clip) CreatedAllSegments() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createdAllSegments
}

func (c *Clip) setCreatedAllSegments() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createdAllSegments = true
}

// IsNight tests whether the clip was recorded in night mode, where the camera
// produces greyscale images still encoded as BGR. A sample of random pixels
// from the base frame is checked; a single colour pixel proves daytime. The
// result is cached.
func (c *Clip) IsNight() bool {
	c.mu.Lock()
	if c.isNight != nil {
		night := *c.isNight
		c.mu.Unlock()
		return night
	}
	base := c.baseFrame
	c.mu.Unlock()

	img := base.Img(frame.VariantSource)
	night := true
	for i := 0; i < 25; i++ {
		x := rand.Intn(img.Cols())
		y := rand.Intn(img.Rows())
		px := img.GetVecbAt(y, x)
		if px[0] != px[1] || px[1] != px[2] {
			night = false
			break
		}
	}

	c.mu.Lock()
	c.isNight = &night
	c.mu.Unlock()
	return night
}

// RetainMask returns the shared exclusion mask. Read-only once workers run.
func (c *Clip) RetainMask() gocv.Mat { return c.retainMask }

// MaskContours returns the contours excluded from the retain mask, for
// annotation.
func (c *Clip) MaskContours() [][]image.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	contours := make([][]image.Point, len(c.maskContours))
	copy(contours, c.maskContours)
	return contours
}

// SetupExclusions applies the configured exclusion areas to the retain mask.
// Must run before the pipeline workers start.
func (c *Clip) SetupExclusions(masks []config.MaskDef) error {
	for i, def := range masks {
		switch def.Type {
		case "contour":
			c.ExcludeContour(def.Contour())
		case "image":
			if err := c.ExcludeImage(def.Path); err != nil {
				return fmt.Errorf("mask %d: %w", i, err)
			}
		default:
			return fmt.Errorf("mask %d: invalid type %q", i, def.Type)
		}
	}
	return nil
}

// ExcludeContour zeroes the enclosed area in the retain mask so it is ignored
// during motion detection.
func (c *Clip) ExcludeContour(contour []image.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pv := gocv.NewPointsVectorFromPoints([][]image.Point{contour})
	defer pv.Close()
	gocv.DrawContours(&c.retainMask, pv, -1, maskFillBlack, -1)
	c.maskContours = append(c.maskContours, contour)
}

// ExcludeImage merges a black-on-white mask image into the retain mask. The
// image is resized to the working resolution, inverted to find the masked
// object contours, and those are filled black into the retain mask.
func (c *Clip) ExcludeImage(path string) error {
	img := gocv.IMRead(path, gocv.IMReadGrayScale)
	if img.Empty() {
		return fmt.Errorf("read mask image %s: empty or unreadable", path)
	}
	defer img.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, c.p.Dims.Large, 0, 0, gocv.InterpolationNearestNeighbor)
	inverted := gocv.NewMat()
	defer inverted.Close()
	gocv.BitwiseNot(resized, &inverted)

	contours := gocv.FindContours(inverted, gocv.RetrievalTree, gocv.ChainApproxSimple)
	defer contours.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	gocv.DrawContours(&c.retainMask, contours, -1, maskFillBlack, -1)
	for i := 0; i < contours.Size(); i++ {
		c.maskContours = append(c.maskContours, contours.At(i).ToPoints())
	}
	return nil
}

// Close releases every buffered frame, all segment composites, the retain
// mask and the video source.
func (c *Clip) Close() {
	c.mu.Lock()
	frames := make([]*frame.Frame, 0, len(c.frames))
	for t, f := range c.frames {
		frames = append(frames, f)
		delete(c.frames, t)
	}
	segments := make([]*Segment, len(c.segments))
	copy(segments, c.segments)
	c.baseFrame = nil
	c.mu.Unlock()

	for _, f := range frames {
		f.Close()
	}
	for _, seg := range segments {
		seg.clearComposites()
	}
	c.retainMask.Close()
	if c.source != nil {
		c.source.Close()
	}
}

// Package frame holds the per-frame image model: lazily derived image
// variants, subject detection against a base frame, and the per-subject
// activity test.
package frame

import (
	"errors"
	"image"

	"github.com/camsift/camsift/internal/config"
)

// Purpose tags record outstanding consumer needs on frames and segments.
// A frame stays buffered while any purpose remains.
const (
	PurposeSegment     = "SEGMENT"
	PurposeComposite   = "COMPOSITE"
	PurposeTriggerZone = "TRIGGER_ZONE"
	PurposeOutput      = "OUTPUT"
)

var (
	// ErrSubjectsNotDetected is returned when subject accessors are used
	// before DetectSubjects has run on the frame.
	ErrSubjectsNotDetected = errors.New("subjects not yet detected for frame")

	// ErrActivityNotTested is returned when Subject.Active is read before
	// TestActivity has run.
	ErrActivityNotTested = errors.New("subject activity not yet tested")
)

// Variant names a derived image resolution or purpose.
type Variant string

const (
	VariantSource    Variant = "source"
	VariantLarge     Variant = "large"
	VariantMedium    Variant = "medium"
	VariantSmall     Variant = "small"
	VariantGreyblur  Variant = "greyblur"
	VariantAnnotated Variant = "annotated"
)

// Dimensions holds the source resolution and the derived widths, each with
// height scaled to preserve the source aspect ratio. Greyblur and annotated
// variants share the large dimensions.
type Dimensions struct {
	Source image.Point
	Large  image.Point
	Medium image.Point
	Small  image.Point
}

// Of returns the pixel dimensions for a variant.
func (d Dimensions) Of(v Variant) image.Point {
	switch v {
	case VariantSource:
		return d.Source
	case VariantMedium:
		return d.Medium
	case VariantSmall:
		return d.Small
	default:
		return d.Large
	}
}

// Params bundles the detection and geometry settings shared by every Frame
// and Subject of a run. Built once from config and passed into constructors.
type Params struct {
	BlurWidth           int
	IntensityThreshold  float32
	MorphRadius         int
	SubjectMinArea      float64
	BoundsPadding       int
	DilatePixels        int
	ActivityMinFraction float64
	ActivityMinPixels   int
	Dims                Dimensions
}

// NewParams derives frame parameters from the loaded configuration.
func NewParams(cfg *config.Config) *Params {
	src := image.Pt(cfg.Video.SourceWidth, cfg.Video.SourceHeight)
	return &Params{
		BlurWidth:           cfg.Detection.BlurWidth,
		IntensityThreshold:  cfg.Detection.IntensityThreshold,
		MorphRadius:         cfg.Detection.MorphRadius,
		SubjectMinArea:      cfg.Detection.SubjectMinArea,
		BoundsPadding:       cfg.Detection.BoundsPadding,
		DilatePixels:        cfg.Detection.DilatePixels,
		ActivityMinFraction: cfg.Activity.MinAreaFraction,
		ActivityMinPixels:   cfg.Activity.MinAreaPixels,
		Dims: Dimensions{
			Source: src,
			Large:  scaledTo(src, cfg.Video.LargeWidth),
			Medium: scaledTo(src, cfg.Video.MediumWidth),
			Small:  scaledTo(src, cfg.Video.SmallWidth),
		},
	}
}

func scaledTo(src image.Point, width int) image.Point {
	return image.Pt(width, src.Y*width/src.X)
}

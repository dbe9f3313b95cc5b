package process

import (
	"image"
	"testing"

	"gocv.io/x/gocv"
)

func TestSegmentLetter(t *testing.T) {
	if got := SegmentLetter(0); got != "A" {
		t.Errorf("SegmentLetter(0) = %q, want A", got)
	}
	if got := SegmentLetter(2); got != "C" {
		t.Errorf("SegmentLetter(2) = %q, want C", got)
	}
}

func TestAnnotateGrid(t *testing.T) {
	img := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8UC3)
	defer img.Close()

	AnnotateGrid(&img, 50)
	if img.GetVecbAt(10, 50)[0] == 0 {
		t.Error("vertical grid line not drawn at x=50")
	}
	if img.GetVecbAt(50, 10)[0] == 0 {
		t.Error("horizontal grid line not drawn at y=50")
	}
	if img.GetVecbAt(10, 10)[0] != 0 {
		t.Error("pixel off the grid was painted")
	}
}

func TestAnnotateContours(t *testing.T) {
	img := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8UC3)
	defer img.Close()

	contour := []image.Point{{20, 20}, {80, 20}, {80, 80}, {20, 80}}
	AnnotateContours(&img, [][]image.Point{contour}, maskColor)
	if img.GetVecbAt(20, 50)[1] == 0 {
		t.Error("contour edge not drawn")
	}
	if img.GetVecbAt(50, 50)[1] != 0 {
		t.Error("contour interior was filled")
	}

	// A nil contour list is a no-op.
	AnnotateContours(&img, nil, maskColor)
}

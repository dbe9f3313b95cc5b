package process

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var (
	gridColor = color.RGBA{R: 153, G: 153, B: 102}
	maskColor = color.RGBA{R: 255, G: 255, B: 0}
	zoneColor = color.RGBA{R: 0, G: 255, B: 255}
)

// AnnotateGrid draws alignment lines every spacing pixels, used to read
// contour coordinates off the annotated base frame when configuring masks
// and trigger zones.
func AnnotateGrid(img *gocv.Mat, spacing int) {
	for x := spacing; x < img.Cols(); x += spacing {
		gocv.Line(img, image.Pt(x, 0), image.Pt(x, img.Rows()), gridColor, 1)
	}
	for y := spacing; y < img.Rows(); y += spacing {
		gocv.Line(img, image.Pt(0, y), image.Pt(img.Cols(), y), gridColor, 1)
	}
}

// AnnotateContours outlines the given contours on the image.
func AnnotateContours(img *gocv.Mat, contours [][]image.Point, c color.RGBA) {
	if len(contours) == 0 {
		return
	}
	pv := gocv.NewPointsVectorFromPoints(contours)
	defer pv.Close()
	gocv.DrawContours(img, pv, -1, c, 2)
}

package yolocore

import (
	"github.com/chewxy/math32"
)

// iouEps guards against division by zero in degenerate overlaps
const iouEps = 1e-7

// IoU computes the intersection over union of two xyxy boxes given as
// 4 element slices.  Boxes with non positive area yield zero, identical
// boxes yield exactly 1.
func IoU(a, b []float32) float32 {
	iw := math32.Min(a[2], b[2]) - math32.Max(a[0], b[0])
	ih := math32.Min(a[3], b[3]) - math32.Max(a[1], b[1])

	if iw <= 0 || ih <= 0 {
		return 0
	}

	inter := iw * ih
	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])

	if areaA <= 0 || areaB <= 0 {
		return 0
	}

	return inter / (areaA + areaB - inter + iouEps)
}

// CIoU computes the complete IoU of two xyxy boxes: plain IoU penalised by
// normalised center distance and aspect ratio mismatch.  It equals IoU
// when centers coincide and aspect ratios match.
func CIoU(a, b []float32) float32 {
	iou := IoU(a, b)

	// enclosing rectangle diagonal squared
	cw := math32.Max(a[2], b[2]) - math32.Min(a[0], b[0])
	ch := math32.Max(a[3], b[3]) - math32.Min(a[1], b[1])
	c2 := cw*cw + ch*ch + iouEps

	// center distance squared
	dx := (b[0] + b[2] - a[0] - a[2]) / 2
	dy := (b[1] + b[3] - a[1] - a[3]) / 2
	rho2 := dx*dx + dy*dy

	// aspect ratio consistency term
	wA := a[2] - a[0]
	hA := a[3] - a[1]
	wB := b[2] - b[0]
	hB := b[3] - b[1]

	v := 4 / (math32.Pi * math32.Pi) *
		math32.Pow(math32.Atan(wB/(hB+iouEps))-math32.Atan(wA/(hA+iouEps)), 2)

	alpha := v / (v + (1 - iou) + iouEps)

	return iou - rho2/c2 - alpha*v
}

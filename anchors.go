package yolocore

// DefaultAnchorOffset centers each anchor point in its grid cell
const DefaultAnchorOffset = 0.5

// AnchorTable holds the anchor points for a full feature pyramid.  Points
// are grid cell centers in feature map units, Strides pairs each point
// with its level stride.  Tables are built once per feature geometry and
// shared between forwards, see detect.Detector.
type AnchorTable struct {
	// Points is N x 2 holding (x, y) cell centers in feature map units
	Points *Tensor
	// Strides is N x 1 holding the level stride of each anchor
	Strides *Tensor
	// PixelPoints is N x 2 holding the anchor centers scaled to input
	// image pixels, ie: Points * Strides
	PixelPoints *Tensor

	sizes [][2]int
}

// MakeAnchors generates anchor points for the given per level feature
// sizes.  sizes holds (height, width) per level in pyramid order.  Within
// a level rows iterate over r and columns over c, so anchor k of level i
// is at (c+offset, r+offset) with (r, c) = divmod(k, width).
func MakeAnchors(sizes [][2]int, pyramid PyramidConfig, offset float32) (*AnchorTable, error) {
	if len(sizes) != pyramid.Levels() {
		return nil, &ShapeError{
			Got:     []int{len(sizes)},
			Want:    []int{pyramid.Levels()},
			Context: "feature sizes per pyramid level",
		}
	}

	total := 0

	for _, hw := range sizes {
		if hw[0] < 0 || hw[1] < 0 {
			return nil, &ShapeError{
				Got:     []int{hw[0], hw[1]},
				Context: "negative feature size",
			}
		}
		total += hw[0] * hw[1]
	}

	points := NewTensor(total, 2)
	strides := NewTensor(total, 1)
	pixels := NewTensor(total, 2)

	pd := points.Data()
	sd := strides.Data()
	xd := pixels.Data()

	n := 0

	for i, hw := range sizes {
		h, w := hw[0], hw[1]
		stride := float32(pyramid.Stride(i))

		for r := 0; r < h; r++ {
			for c := 0; c < w; c++ {
				x := float32(c) + offset
				y := float32(r) + offset

				pd[n*2+0] = x
				pd[n*2+1] = y
				sd[n] = stride
				xd[n*2+0] = x * stride
				xd[n*2+1] = y * stride
				n++
			}
		}
	}

	table := &AnchorTable{
		Points:      points,
		Strides:     strides,
		PixelPoints: pixels,
		sizes:       make([][2]int, len(sizes)),
	}
	copy(table.sizes, sizes)

	return table, nil
}

// NumAnchors returns the total anchor count across all levels
func (a *AnchorTable) NumAnchors() int {
	return a.Points.Dim(0)
}

// Matches reports whether the table was built for the given feature sizes
func (a *AnchorTable) Matches(sizes [][2]int) bool {
	if len(sizes) != len(a.sizes) {
		return false
	}
	for i := range sizes {
		if sizes[i] != a.sizes[i] {
			return false
		}
	}
	return true
}

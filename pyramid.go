package yolocore

// PyramidConfig is the ordered set of feature pyramid levels a model
// predicts at.  Strides are in input image pixels per feature map cell and
// must be positive and strictly increasing, eg: 8, 16, 32.  The config is
// immutable for the lifetime of a model.
type PyramidConfig struct {
	strides []int
}

// NewPyramidConfig validates the given level strides and returns the
// pyramid configuration
func NewPyramidConfig(strides ...int) (PyramidConfig, error) {
	if len(strides) == 0 {
		return PyramidConfig{}, &ConfigError{
			Field:  "strides",
			Reason: "at least one pyramid level is required",
		}
	}

	for i, s := range strides {
		if s <= 0 {
			return PyramidConfig{}, &ConfigError{
				Field:  "strides",
				Reason: "stride must be positive",
			}
		}
		if i > 0 && s <= strides[i-1] {
			return PyramidConfig{}, &ConfigError{
				Field:  "strides",
				Reason: "strides must be strictly increasing",
			}
		}
	}

	return PyramidConfig{strides: append([]int(nil), strides...)}, nil
}

// Levels returns the number of pyramid levels
func (p PyramidConfig) Levels() int {
	return len(p.strides)
}

// Stride returns the stride of level i
func (p PyramidConfig) Stride(i int) int {
	return p.strides[i]
}

// Strides returns a copy of all level strides in pyramid order
func (p PyramidConfig) Strides() []int {
	return append([]int(nil), p.strides...)
}

// LetterboxContext describes the affine mapping a letterbox preprocessor
// applied to take an original image into the model input:
//
//	inputPixel = origPixel*Ratio + Pad
//
// The postprocessor uses the inverse mapping to return detections in
// original image pixels.
type LetterboxContext struct {
	// OrigWidth and OrigHeight are the source image dimensions
	OrigWidth  int
	OrigHeight int
	// Ratio is the uniform scale factor applied to the source image
	Ratio float32
	// PadX and PadY are the letterbox border offsets in input pixels
	PadX float32
	PadY float32
	// InputWidth and InputHeight are the model input dimensions
	InputWidth  int
	InputHeight int
}

// IdentityLetterbox returns a pass through context for a model fed at its native
// resolution without letterboxing
func IdentityLetterbox(width, height int) LetterboxContext {
	return LetterboxContext{
		OrigWidth:   width,
		OrigHeight:  height,
		Ratio:       1.0,
		InputWidth:  width,
		InputHeight: height,
	}
}

// GroundTruthBatch holds padded ground truth annotations for a batch of
// images.  Each image owns MaxBoxes slots, slots with Mask false are
// padding and never read.  Boxes are xyxy in model input pixels, after
// letterboxing.
type GroundTruthBatch struct {
	// Class holds the object class per slot, flattened Batch*MaxBoxes
	Class []int
	// Boxes is Batch x MaxBoxes x 4 in xyxy input pixels
	Boxes *Tensor
	// Mask selects the valid slots, flattened Batch*MaxBoxes
	Mask []bool
	// Batch is the number of images
	Batch int
	// MaxBoxes is the number of padded slots per image
	MaxBoxes int
}

// Validate checks the ground truth buffers agree with the declared batch
// geometry and the model's class count
func (g *GroundTruthBatch) Validate(classes int) error {
	n := g.Batch * g.MaxBoxes

	if len(g.Class) != n || len(g.Mask) != n {
		return &ShapeError{
			Got:     []int{len(g.Class), len(g.Mask)},
			Want:    []int{n, n},
			Context: "ground truth class/mask buffers",
		}
	}

	want := []int{g.Batch, g.MaxBoxes, 4}

	if g.Boxes == nil || g.Boxes.Rank() != 3 ||
		g.Boxes.Dim(0) != g.Batch || g.Boxes.Dim(1) != g.MaxBoxes ||
		g.Boxes.Dim(2) != 4 {

		got := []int(nil)
		if g.Boxes != nil {
			got = g.Boxes.Shape()
		}
		return &ShapeError{Got: got, Want: want, Context: "ground truth boxes"}
	}

	for i, m := range g.Mask {
		if m && (g.Class[i] < 0 || g.Class[i] >= classes) {
			return &ConfigError{
				Field:  "GroundTruthBatch.Class",
				Reason: "class index out of range",
			}
		}
	}

	return nil
}

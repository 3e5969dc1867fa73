package head

import (
	"github.com/chewxy/math32"

	yolocore "github.com/edgevision/go-yolocore"
)

// LevelOutput holds the raw outputs of one pyramid level.  Box is
// B x 4R x H x W and Cls is B x C x H x W, both channel major with the
// spatial cells in r-major order.
type LevelOutput struct {
	Box *yolocore.Tensor
	Cls *yolocore.Tensor
}

// SplitLevel carves a fused B x (4R+C) x H x W level output into its box
// distribution and class logit blocks.  The split is a copy, the fused
// tensor is left untouched.
func SplitLevel(fused *yolocore.Tensor, regMax, classes int) (LevelOutput, error) {
	if fused.Rank() != 4 || fused.Dim(1) != 4*regMax+classes {
		return LevelOutput{}, &yolocore.ShapeError{
			Got:     fused.Shape(),
			Want:    []int{-1, 4*regMax + classes, -1, -1},
			Context: "fused level output",
		}
	}

	batch := fused.Dim(0)
	h := fused.Dim(2)
	w := fused.Dim(3)
	boxCh := 4 * regMax
	cells := h * w

	box := yolocore.NewTensor(batch, boxCh, h, w)
	cls := yolocore.NewTensor(batch, classes, h, w)

	in := fused.Data()
	bd := box.Data()
	cd := cls.Data()

	for b := 0; b < batch; b++ {
		src := b * (boxCh + classes) * cells
		copy(bd[b*boxCh*cells:(b+1)*boxCh*cells], in[src:src+boxCh*cells])
		copy(cd[b*classes*cells:(b+1)*classes*cells],
			in[src+boxCh*cells:src+(boxCh+classes)*cells])
	}

	return LevelOutput{Box: box, Cls: cls}, nil
}

// Decoded is the output of DecodeHead.Decode.  Boxes and Scores are
// anchor major, RawDist and ClsLogit keep the channel major concatenation
// for the training path.
type Decoded struct {
	// Boxes is B x N x 4 in xywh input image pixels
	Boxes *yolocore.Tensor
	// Scores is B x N x C with sigmoid applied
	Scores *yolocore.Tensor
	// RawDist is B x 4R x N, the concatenated box distributions
	RawDist *yolocore.Tensor
	// ClsLogit is B x C x N, the concatenated raw class logits
	ClsLogit *yolocore.Tensor
}

// Batch returns the number of images decoded
func (d *Decoded) Batch() int {
	return d.Boxes.Dim(0)
}

// NumAnchors returns the anchor count decoded per image
func (d *Decoded) NumAnchors() int {
	return d.Boxes.Dim(1)
}

// DecodeHead turns raw per level predictions into boxes and scores.  It
// is shared by every task head variant.
type DecodeHead struct {
	// RegMax is the DFL bin count per box side
	RegMax int
	// Classes is the number of object classes
	Classes int
}

// NewDecodeHead validates the head geometry
func NewDecodeHead(regMax, classes int) (*DecodeHead, error) {
	if regMax < 1 {
		return nil, &yolocore.ConfigError{Field: "RegMax", Reason: "must be at least 1"}
	}
	if classes < 1 {
		return nil, &yolocore.ConfigError{Field: "Classes", Reason: "must be at least 1"}
	}
	return &DecodeHead{RegMax: regMax, Classes: classes}, nil
}

// Decode reshapes and concatenates the per level outputs in pyramid
// order, converts box distributions to distances through the DFL
// integral, anchors them at the cached points, scales to input image
// pixels by the per anchor stride and applies sigmoid to the class
// logits.  Empty batches decode to empty tensors of the correct
// dimensions.
func (h *DecodeHead) Decode(levels []LevelOutput, anchors *yolocore.AnchorTable) (*Decoded, error) {
	rawDist, clsLogit, err := h.concat(levels, anchors)
	if err != nil {
		return nil, err
	}

	batch := rawDist.Dim(0)
	n := anchors.NumAnchors()

	// distances in feature map units
	dist, err := Integral(rawDist, h.RegMax)
	if err != nil {
		return nil, err
	}

	// boxes at the anchor points, still in feature map units
	boxes, err := yolocore.DistToBoxes(dist, anchors.Points, true)
	if err != nil {
		return nil, err
	}

	// scale to input image pixels by the per anchor stride
	bd := boxes.Data()
	sd := anchors.Strides.Data()

	for i := 0; i < len(bd); i += 4 {
		s := sd[(i/4)%n]
		bd[i+0] *= s
		bd[i+1] *= s
		bd[i+2] *= s
		bd[i+3] *= s
	}

	// sigmoid scores, transposed to anchor major
	scores := yolocore.NewTensor(batch, n, h.Classes)
	ld := clsLogit.Data()
	od := scores.Data()

	for b := 0; b < batch; b++ {
		for c := 0; c < h.Classes; c++ {
			row := (b*h.Classes + c) * n
			for a := 0; a < n; a++ {
				od[(b*n+a)*h.Classes+c] = sigmoid(ld[row+a])
			}
		}
	}

	return &Decoded{
		Boxes:    boxes,
		Scores:   scores,
		RawDist:  rawDist,
		ClsLogit: clsLogit,
	}, nil
}

// concat validates the per level outputs against the anchor table and
// concatenates them along the anchor dimension in pyramid order
func (h *DecodeHead) concat(levels []LevelOutput, anchors *yolocore.AnchorTable) (rawDist, clsLogit *yolocore.Tensor, err error) {
	boxCh := 4 * h.RegMax
	n := anchors.NumAnchors()

	batch := 0
	if len(levels) > 0 && levels[0].Box != nil && levels[0].Box.Rank() == 4 {
		batch = levels[0].Box.Dim(0)
	}

	total := 0

	for _, lv := range levels {
		if lv.Box == nil || lv.Cls == nil {
			return nil, nil, &yolocore.ShapeError{Context: "nil level output"}
		}

		if lv.Box.Rank() != 4 || lv.Box.Dim(0) != batch || lv.Box.Dim(1) != boxCh {
			return nil, nil, &yolocore.ShapeError{
				Got:     lv.Box.Shape(),
				Want:    []int{batch, boxCh, -1, -1},
				Context: "level box distribution",
			}
		}

		if lv.Cls.Rank() != 4 || lv.Cls.Dim(0) != batch ||
			lv.Cls.Dim(1) != h.Classes ||
			lv.Cls.Dim(2) != lv.Box.Dim(2) || lv.Cls.Dim(3) != lv.Box.Dim(3) {

			return nil, nil, &yolocore.ShapeError{
				Got:     lv.Cls.Shape(),
				Want:    []int{batch, h.Classes, lv.Box.Dim(2), lv.Box.Dim(3)},
				Context: "level class logits",
			}
		}

		total += lv.Box.Dim(2) * lv.Box.Dim(3)
	}

	if total != n {
		return nil, nil, &yolocore.ShapeError{
			Got:     []int{total},
			Want:    []int{n},
			Context: "anchor count across levels",
		}
	}

	rawDist = yolocore.NewTensor(batch, boxCh, n)
	clsLogit = yolocore.NewTensor(batch, h.Classes, n)

	rd := rawDist.Data()
	cd := clsLogit.Data()

	off := 0

	for _, lv := range levels {
		cells := lv.Box.Dim(2) * lv.Box.Dim(3)
		bd := lv.Box.Data()
		ld := lv.Cls.Data()

		for b := 0; b < batch; b++ {
			for c := 0; c < boxCh; c++ {
				copy(rd[(b*boxCh+c)*n+off:(b*boxCh+c)*n+off+cells],
					bd[(b*boxCh+c)*cells:(b*boxCh+c+1)*cells])
			}
			for c := 0; c < h.Classes; c++ {
				copy(cd[(b*h.Classes+c)*n+off:(b*h.Classes+c)*n+off+cells],
					ld[(b*h.Classes+c)*cells:(b*h.Classes+c+1)*cells])
			}
		}

		off += cells
	}

	return rawDist, clsLogit, nil
}

// sigmoid is the logistic function
func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

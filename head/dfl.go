// Package head decodes raw per level detector outputs into calibrated
// boxes and class scores, shared by the inference and training paths.
package head

import (
	"github.com/chewxy/math32"

	yolocore "github.com/edgevision/go-yolocore"
)

// Integral applies the DFL integral to a box distribution tensor.  The
// input is B x 4R x N channel major with the 4R channels laid out as four
// side blocks of R bins each (l, t, r, b).  Each block is softmaxed over
// its R bins and reduced to the expectation over the bin indices 0..R-1,
// so outputs lie in [0, R-1].  The result is anchor major B x N x 4.
//
// The projection weights 0..R-1 are an immutable constant of the
// parameterisation, never trainable parameters.  A regMax of 1 means the
// channels already hold scalar distances and they pass through unchanged.
func Integral(dist *yolocore.Tensor, regMax int) (*yolocore.Tensor, error) {
	if regMax < 1 {
		return nil, &yolocore.ConfigError{
			Field:  "regMax",
			Reason: "must be at least 1",
		}
	}

	if dist.Rank() != 3 || dist.Dim(1) != 4*regMax {
		return nil, &yolocore.ShapeError{
			Got:     dist.Shape(),
			Want:    []int{-1, 4 * regMax, -1},
			Context: "DFL integral input",
		}
	}

	batch := dist.Dim(0)
	anchors := dist.Dim(2)

	out := yolocore.NewTensor(batch, anchors, 4)
	in := dist.Data()
	od := out.Data()

	bins := make([]float32, regMax)

	for b := 0; b < batch; b++ {
		base := b * 4 * regMax * anchors

		for n := 0; n < anchors; n++ {
			for side := 0; side < 4; side++ {

				if regMax == 1 {
					od[(b*anchors+n)*4+side] = in[base+side*anchors+n]
					continue
				}

				// gather the R bins for this side, channel side*R+k
				maxv := math32.Inf(-1)

				for k := 0; k < regMax; k++ {
					v := in[base+(side*regMax+k)*anchors+n]
					bins[k] = v
					if v > maxv {
						maxv = v
					}
				}

				// softmax expectation with max subtraction for stability
				expSum := float32(0)
				accSum := float32(0)

				for k := 0; k < regMax; k++ {
					e := math32.Exp(bins[k] - maxv)
					expSum += e
					accSum += e * float32(k)
				}

				od[(b*anchors+n)*4+side] = accSum / expSum
			}
		}
	}

	return out, nil
}

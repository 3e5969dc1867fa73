// Package assign implements the task aligned label assigner that pairs
// predicted anchors to ground truth boxes during training.
package assign

import (
	"log"

	"github.com/chewxy/math32"
	"gonum.org/v1/gonum/mat"

	yolocore "github.com/edgevision/go-yolocore"
)

// Params configures the task aligned assigner
type Params struct {
	// TopK is the number of candidate anchors retained per ground truth
	TopK int
	// Alpha is the classification score exponent of the alignment metric
	Alpha float32
	// Beta is the IoU exponent of the alignment metric
	Beta float32
	// Classes is the number of object classes
	Classes int
	// Eps guards the per ground truth score normalisation
	Eps float32
}

// DefaultParams returns the assigner parameters used by the reference
// detector training recipe
func DefaultParams(classes int) Params {
	return Params{
		TopK:    13,
		Alpha:   0.5,
		Beta:    6.0,
		Classes: classes,
		Eps:     1e-9,
	}
}

// Assigner matches predictions to ground truths by the alignment metric
// score^alpha * IoU^beta.  All ranking tie breaks are deterministic: the
// lower anchor index wins, then the lower ground truth index.
type Assigner struct {
	p Params
}

// NewAssigner validates the parameters and returns an assigner
func NewAssigner(p Params) (*Assigner, error) {
	if p.TopK < 1 {
		return nil, &yolocore.ConfigError{Field: "TopK", Reason: "must be at least 1"}
	}
	if p.Classes < 1 {
		return nil, &yolocore.ConfigError{Field: "Classes", Reason: "must be at least 1"}
	}
	if p.Alpha < 0 || p.Beta < 0 {
		return nil, &yolocore.ConfigError{Field: "Alpha/Beta", Reason: "must be non negative"}
	}
	return &Assigner{p: p}, nil
}

// Result holds the per anchor assignment targets for a batch
type Result struct {
	// TargetBoxes is B x N x 4 in xyxy input pixels, zero for background
	TargetBoxes *yolocore.Tensor
	// TargetScores is B x N x C soft class targets, zero rows for
	// background anchors
	TargetScores *yolocore.Tensor
	// Foreground flags the matched anchors, flattened B*N
	Foreground []bool
	// ScoreSum is the sum of all target scores, used by the loss for
	// normalisation
	ScoreSum float32
}

// Assign produces per anchor targets for a batch.  scores is B x N x C in
// [0,1], boxes is B x N x 4 decoded predictions in xyxy input pixels and
// centers is N x 2 anchor centers in input pixels.  Images without valid
// ground truths, and images where no anchor center falls inside any
// ground truth, produce all zero targets.
func (a *Assigner) Assign(scores, boxes, centers *yolocore.Tensor,
	gt *yolocore.GroundTruthBatch) (*Result, error) {

	if scores.Rank() != 3 || scores.Dim(2) != a.p.Classes {
		return nil, &yolocore.ShapeError{
			Got:     scores.Shape(),
			Want:    []int{gt.Batch, -1, a.p.Classes},
			Context: "assigner scores",
		}
	}

	batch := scores.Dim(0)
	n := scores.Dim(1)

	if boxes.Rank() != 3 || boxes.Dim(0) != batch || boxes.Dim(1) != n || boxes.Dim(2) != 4 {
		return nil, &yolocore.ShapeError{
			Got:     boxes.Shape(),
			Want:    []int{batch, n, 4},
			Context: "assigner boxes",
		}
	}

	if centers.Rank() != 2 || centers.Dim(0) != n || centers.Dim(1) != 2 {
		return nil, &yolocore.ShapeError{
			Got:     centers.Shape(),
			Want:    []int{n, 2},
			Context: "assigner anchor centers",
		}
	}

	if err := gt.Validate(a.p.Classes); err != nil {
		return nil, err
	}

	if gt.Batch != batch {
		return nil, &yolocore.ShapeError{
			Got:     []int{gt.Batch},
			Want:    []int{batch},
			Context: "ground truth batch size",
		}
	}

	res := &Result{
		TargetBoxes:  yolocore.NewTensor(batch, n, 4),
		TargetScores: yolocore.NewTensor(batch, n, a.p.Classes),
		Foreground:   make([]bool, batch*n),
	}

	for b := 0; b < batch; b++ {
		a.assignImage(b, n, scores, boxes, centers, gt, res)
	}

	return res, nil
}

// assignImage runs the assignment for one image of the batch
func (a *Assigner) assignImage(b, n int, scores, boxes, centers *yolocore.Tensor,
	gt *yolocore.GroundTruthBatch, res *Result) {

	m := gt.MaxBoxes
	gd := gt.Boxes.Data()
	cd := centers.Data()
	sd := scores.Data()
	bd := boxes.Data()

	// valid ground truth slots, degenerate boxes are masked out
	valid := make([]bool, m)
	anyValid := false

	for g := 0; g < m; g++ {
		if !gt.Mask[b*m+g] {
			continue
		}

		gb := gd[(b*m+g)*4 : (b*m+g)*4+4]

		if gb[2]-gb[0] <= 0 || gb[3]-gb[1] <= 0 {
			log.Printf("assign: ground truth %d of image %d has non positive "+
				"area, masking out", g, b)
			continue
		}

		valid[g] = true
		anyValid = true
	}

	if !anyValid {
		return
	}

	// alignment metric and IoU grids over anchors x ground truths
	align := mat.NewDense(n, m, nil)
	iou := mat.NewDense(n, m, nil)
	inside := make([]bool, n*m)
	anyInside := false

	for g := 0; g < m; g++ {
		if !valid[g] {
			continue
		}

		gb := gd[(b*m+g)*4 : (b*m+g)*4+4]
		cls := gt.Class[b*m+g]

		for an := 0; an < n; an++ {
			ax := cd[an*2]
			ay := cd[an*2+1]

			// candidate containment: center strictly inside the box
			if ax <= gb[0] || ax >= gb[2] || ay <= gb[1] || ay >= gb[3] {
				continue
			}

			inside[an*m+g] = true
			anyInside = true

			pb := bd[(b*n+an)*4 : (b*n+an)*4+4]
			ov := yolocore.IoU(pb, gb)
			sc := sd[(b*n+an)*a.p.Classes+cls]

			iou.Set(an, g, float64(ov))
			align.Set(an, g, float64(
				math32.Pow(sc, a.p.Alpha)*math32.Pow(ov, a.p.Beta)))
		}
	}

	if !anyInside {
		return
	}

	// top-k candidates per ground truth, ties keep the lower anchor index
	topk := make([]bool, n*m)

	for g := 0; g < m; g++ {
		if !valid[g] {
			continue
		}

		for k := 0; k < a.p.TopK; k++ {
			best := -1
			bestAlign := -1.0

			for an := 0; an < n; an++ {
				if !inside[an*m+g] || topk[an*m+g] {
					continue
				}
				if v := align.At(an, g); v > bestAlign {
					bestAlign = v
					best = an
				}
			}

			if best < 0 {
				break
			}

			topk[best*m+g] = true
		}
	}

	// conflict resolution: an anchor claimed by several ground truths
	// keeps the one with the highest IoU, ties keep the lower index
	match := make([]int, n)

	for an := 0; an < n; an++ {
		match[an] = -1
		bestIoU := -1.0

		for g := 0; g < m; g++ {
			if !topk[an*m+g] {
				continue
			}
			if v := iou.At(an, g); v > bestIoU {
				bestIoU = v
				match[an] = g
			}
		}
	}

	// per ground truth maxima over the matched set for score calibration
	maxAlign := make([]float64, m)
	maxIoU := make([]float64, m)

	for an := 0; an < n; an++ {
		g := match[an]
		if g < 0 {
			continue
		}
		if v := align.At(an, g); v > maxAlign[g] {
			maxAlign[g] = v
		}
		if v := iou.At(an, g); v > maxIoU[g] {
			maxIoU[g] = v
		}
	}

	// emit targets
	tb := res.TargetBoxes.Data()
	ts := res.TargetScores.Data()

	for an := 0; an < n; an++ {
		g := match[an]
		if g < 0 {
			continue
		}

		res.Foreground[b*n+an] = true

		gb := gd[(b*m+g)*4 : (b*m+g)*4+4]
		copy(tb[(b*n+an)*4:(b*n+an)*4+4], gb)

		// rescale so the best alignment of each ground truth maps to its
		// best matched IoU
		w := align.At(an, g) * maxIoU[g] / (maxAlign[g] + float64(a.p.Eps))

		cls := gt.Class[b*m+g]
		ts[(b*n+an)*a.p.Classes+cls] = float32(w)
		res.ScoreSum += float32(w)
	}
}

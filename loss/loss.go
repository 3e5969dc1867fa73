// Package loss composes the detector training loss from its
// classification, box regression and distribution focal terms.
package loss

import (
	"github.com/chewxy/math32"

	yolocore "github.com/edgevision/go-yolocore"
	"github.com/edgevision/go-yolocore/assign"
)

// Gains weight the three loss components in the scalar total
type Gains struct {
	Box float32
	Cls float32
	DFL float32
}

// DefaultGains returns the reference training recipe weights
func DefaultGains() Gains {
	return Gains{Box: 7.5, Cls: 0.5, DFL: 1.5}
}

// Components indexes the parts slice returned by Engine.Compute
const (
	ComponentBox = iota
	ComponentCls
	ComponentDFL
)

// Engine computes the composite training loss.  All denominators are
// floored at 1 so empty assignments yield zero loss rather than NaN.
type Engine struct {
	gains   Gains
	regMax  int
	classes int
}

// NewEngine validates the geometry and returns a loss engine
func NewEngine(gains Gains, regMax, classes int) (*Engine, error) {
	if regMax < 1 {
		return nil, &yolocore.ConfigError{Field: "regMax", Reason: "must be at least 1"}
	}
	if classes < 1 {
		return nil, &yolocore.ConfigError{Field: "classes", Reason: "must be at least 1"}
	}
	if gains.Box < 0 || gains.Cls < 0 || gains.DFL < 0 {
		return nil, &yolocore.ConfigError{Field: "gains", Reason: "must be non negative"}
	}

	return &Engine{gains: gains, regMax: regMax, classes: classes}, nil
}

// Compute returns the gain weighted scalar loss and the unweighted
// component values [box, cls, dfl].
//
// rawDist is B x 4R x N and clsLogit B x C x N as retained by the decode
// head, predBoxes is B x N x 4 decoded predictions in xyxy input pixels,
// and anchors supplies the points and per anchor strides the targets are
// converted against.  The DFL term is only computed when R > 1.
func (e *Engine) Compute(rawDist, clsLogit, predBoxes *yolocore.Tensor,
	anchors *yolocore.AnchorTable, asn *assign.Result) (float32, [3]float32, error) {

	var parts [3]float32

	n := anchors.NumAnchors()

	if clsLogit.Rank() != 3 || clsLogit.Dim(1) != e.classes || clsLogit.Dim(2) != n {
		return 0, parts, &yolocore.ShapeError{
			Got:     clsLogit.Shape(),
			Want:    []int{-1, e.classes, n},
			Context: "loss class logits",
		}
	}

	batch := clsLogit.Dim(0)

	if rawDist.Rank() != 3 || rawDist.Dim(0) != batch ||
		rawDist.Dim(1) != 4*e.regMax || rawDist.Dim(2) != n {

		return 0, parts, &yolocore.ShapeError{
			Got:     rawDist.Shape(),
			Want:    []int{batch, 4 * e.regMax, n},
			Context: "loss box distributions",
		}
	}

	if predBoxes.Rank() != 3 || predBoxes.Dim(0) != batch ||
		predBoxes.Dim(1) != n || predBoxes.Dim(2) != 4 {

		return 0, parts, &yolocore.ShapeError{
			Got:     predBoxes.Shape(),
			Want:    []int{batch, n, 4},
			Context: "loss predicted boxes",
		}
	}

	norm := asn.ScoreSum
	if norm < 1 {
		norm = 1
	}

	parts[ComponentCls] = e.clsLoss(clsLogit, asn, batch, n) / norm
	parts[ComponentBox] = e.boxLoss(predBoxes, asn, batch, n) / norm

	if e.regMax > 1 {
		parts[ComponentDFL] = e.dflLoss(rawDist, anchors, asn, batch, n) / norm
	}

	total := e.gains.Box*parts[ComponentBox] +
		e.gains.Cls*parts[ComponentCls] +
		e.gains.DFL*parts[ComponentDFL]

	return total, parts, nil
}

// clsLoss is binary cross entropy with logits between the class logits
// and the soft target scores, summed over all anchors and classes
func (e *Engine) clsLoss(clsLogit *yolocore.Tensor, asn *assign.Result, batch, n int) float32 {
	ld := clsLogit.Data()
	td := asn.TargetScores.Data()

	sum := float32(0)

	for b := 0; b < batch; b++ {
		for c := 0; c < e.classes; c++ {
			row := (b*e.classes + c) * n
			for a := 0; a < n; a++ {
				sum += bceWithLogits(ld[row+a], td[(b*n+a)*e.classes+c])
			}
		}
	}

	return sum
}

// boxLoss is the CIoU term over foreground anchors, weighted by each
// anchor's summed target score
func (e *Engine) boxLoss(predBoxes *yolocore.Tensor, asn *assign.Result, batch, n int) float32 {
	pd := predBoxes.Data()
	tb := asn.TargetBoxes.Data()

	sum := float32(0)

	for i, fg := range asn.Foreground {
		if !fg {
			continue
		}

		w := e.anchorWeight(asn, i)
		pb := pd[i*4 : i*4+4]
		gb := tb[i*4 : i*4+4]

		sum += (1 - yolocore.CIoU(pb, gb)) * w
	}

	return sum
}

// dflLoss distributes each target side distance over its two neighbouring
// bins and cross entropies the predicted distribution against both
func (e *Engine) dflLoss(rawDist *yolocore.Tensor, anchors *yolocore.AnchorTable,
	asn *assign.Result, batch, n int) float32 {

	rd := rawDist.Data()
	tb := asn.TargetBoxes.Data()
	pts := anchors.Points.Data()
	sd := anchors.Strides.Data()

	r := e.regMax
	limit := float32(r-1) - 0.01
	logits := make([]float32, r)

	sum := float32(0)

	for i, fg := range asn.Foreground {
		if !fg {
			continue
		}

		b := i / n
		a := i % n
		w := e.anchorWeight(asn, i)
		stride := sd[a]
		ax := pts[a*2]
		ay := pts[a*2+1]

		// target box in feature map units relative to the anchor point
		gb := tb[i*4 : i*4+4]
		target := [4]float32{
			ax - gb[0]/stride,
			ay - gb[1]/stride,
			gb[2]/stride - ax,
			gb[3]/stride - ay,
		}

		anchorSum := float32(0)

		for side := 0; side < 4; side++ {
			t := target[side]
			if t < 0 {
				t = 0
			}
			if t > limit {
				t = limit
			}

			tl := math32.Floor(t)
			wl := tl + 1 - t
			wr := 1 - wl

			left := int(tl)
			right := left + 1
			if right > r-1 {
				right = r - 1
			}

			for k := 0; k < r; k++ {
				logits[k] = rd[(b*4*r+side*r+k)*n+a]
			}

			anchorSum += wl*crossEntropy(logits, left) +
				wr*crossEntropy(logits, right)
		}

		// mean over the four sides, weighted like the box term
		sum += anchorSum / 4 * w
	}

	return sum
}

// anchorWeight is the summed target score of a foreground anchor
func (e *Engine) anchorWeight(asn *assign.Result, i int) float32 {
	ts := asn.TargetScores.Data()

	w := float32(0)
	for c := 0; c < e.classes; c++ {
		w += ts[i*e.classes+c]
	}

	return w
}

// bceWithLogits is the numerically stable binary cross entropy
// max(x,0) - x*t + log(1 + exp(-|x|))
func bceWithLogits(x, t float32) float32 {
	z := x
	if z < 0 {
		z = 0
	}
	return z - x*t + math32.Log1p(math32.Exp(-math32.Abs(x)))
}

// crossEntropy is -log softmax(logits)[class] computed through a stable
// log-sum-exp
func crossEntropy(logits []float32, class int) float32 {
	maxv := logits[0]
	for _, v := range logits[1:] {
		if v > maxv {
			maxv = v
		}
	}

	sum := float32(0)
	for _, v := range logits {
		sum += math32.Exp(v - maxv)
	}

	return maxv + math32.Log(sum) - logits[class]
}

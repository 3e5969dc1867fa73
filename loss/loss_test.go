package loss

import (
	"errors"
	"testing"

	yolocore "github.com/edgevision/go-yolocore"
	"github.com/edgevision/go-yolocore/assign"
)

// testAnchors builds a single level anchor table for an h x w grid
func testAnchors(t *testing.T, stride, h, w int) *yolocore.AnchorTable {
	t.Helper()

	pyramid, err := yolocore.NewPyramidConfig(stride)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	anchors, err := yolocore.MakeAnchors([][2]int{{h, w}}, pyramid,
		yolocore.DefaultAnchorOffset)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	return anchors
}

// emptyAssignment builds an all background assignment over n anchors
func emptyAssignment(n, classes int) *assign.Result {
	return &assign.Result{
		TargetBoxes:  yolocore.NewTensor(1, n, 4),
		TargetScores: yolocore.NewTensor(1, n, classes),
		Foreground:   make([]bool, n),
	}
}

func TestComputeEmptyAssignment(t *testing.T) {
	e, err := NewEngine(DefaultGains(), 4, 1)

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	anchors := testAnchors(t, 8, 1, 1)

	rawDist := yolocore.NewTensor(1, 16, 1)
	clsLogit := yolocore.NewTensor(1, 1, 1)
	predBoxes := yolocore.NewTensor(1, 1, 4)

	total, parts, err := e.Compute(rawDist, clsLogit, predBoxes, anchors,
		emptyAssignment(1, 1))

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// box and dfl terms vanish without foreground anchors, the cls term
	// is bce(0, 0) = ln 2 on the single anchor, normalised by the
	// floored denominator of 1
	if parts[ComponentBox] != 0 || parts[ComponentDFL] != 0 {
		t.Errorf("Expected zero box and dfl parts, got %v", parts)
	}

	expectedCls := float32(0.693147)

	if diff := parts[ComponentCls] - expectedCls; diff > 1e-4 || diff < -1e-4 {
		t.Errorf("Expected cls part %f, got %f", expectedCls, parts[ComponentCls])
	}

	expectedTotal := 0.5 * expectedCls

	if diff := total - expectedTotal; diff > 1e-4 || diff < -1e-4 {
		t.Errorf("Expected total %f, got %f", expectedTotal, total)
	}
}

func TestComputePerfectPrediction(t *testing.T) {
	// a prediction that exactly reproduces its assigned target must
	// yield a near zero loss on all three components
	regMax := 4
	classes := 1

	e, _ := NewEngine(DefaultGains(), regMax, classes)

	anchors := testAnchors(t, 8, 2, 2)
	n := anchors.NumAnchors()

	// ground truth one feature unit from anchor 3 at (12, 12) on every
	// side, so the target bin is exactly 1
	gtBox := [4]float32{4, 4, 20, 20}

	gtBoxes, _ := yolocore.TensorFromSlice(gtBox[:], 1, 1, 4)

	gt := &yolocore.GroundTruthBatch{
		Class:    []int{0},
		Boxes:    gtBoxes,
		Mask:     []bool{true},
		Batch:    1,
		MaxBoxes: 1,
	}

	// predictions: anchor 3 reproduces the ground truth with full
	// confidence, everything else is confidently background
	predBoxes := yolocore.NewTensor(1, n, 4)
	scores := yolocore.NewTensor(1, n, classes)
	clsLogit := yolocore.NewTensor(1, classes, n)
	rawDist := yolocore.NewTensor(1, 4*regMax, n)

	for a := 0; a < n; a++ {
		for i := 0; i < 4; i++ {
			predBoxes.Set(gtBox[i], 0, a, i)
		}
		clsLogit.Set(-50, 0, 0, a)
	}

	scores.Set(1, 0, 3, 0)
	clsLogit.Set(50, 0, 0, 3)

	for side := 0; side < 4; side++ {
		rawDist.Set(50, 0, side*regMax+1, 3)
	}

	asn, err := assign.NewAssigner(assign.DefaultParams(classes))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	res, err := asn.Assign(scores, predBoxes, anchors.PixelPoints, gt)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !res.Foreground[3] {
		t.Fatalf("Expected anchor 3 to be foreground, got %v", res.Foreground)
	}

	total, parts, err := e.Compute(rawDist, clsLogit, predBoxes, anchors, res)

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	for i, p := range parts {
		if p > 1e-3 || p < 0 {
			t.Errorf("Expected near zero component %d, got %f", i, p)
		}
	}

	if total > 1e-2 {
		t.Errorf("Expected near zero total, got %f", total)
	}
}

func TestComputeScoreSumNormalisation(t *testing.T) {
	// the same prediction error spread over a larger score sum must
	// shrink the normalised components
	classes := 1

	e, _ := NewEngine(DefaultGains(), 1, classes)

	anchors := testAnchors(t, 8, 1, 1)

	rawDist := yolocore.NewTensor(1, 4, 1)
	clsLogit := yolocore.NewTensor(1, classes, 1)
	predBoxes, _ := yolocore.TensorFromSlice([]float32{0, 0, 8, 8}, 1, 1, 4)

	res := emptyAssignment(1, classes)
	res.Foreground[0] = true
	res.TargetScores.Set(1, 0, 0, 0)

	for i, v := range []float32{0, 0, 4, 8} {
		res.TargetBoxes.Set(v, 0, 0, i)
	}

	res.ScoreSum = 1

	_, partsOne, err := e.Compute(rawDist, clsLogit, predBoxes, anchors, res)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	res.ScoreSum = 4

	_, partsFour, err := e.Compute(rawDist, clsLogit, predBoxes, anchors, res)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if partsFour[ComponentBox]*4 < partsOne[ComponentBox]-1e-5 ||
		partsFour[ComponentBox]*4 > partsOne[ComponentBox]+1e-5 {
		t.Errorf("Expected the box part to scale with the score sum, got %f and %f",
			partsOne[ComponentBox], partsFour[ComponentBox])
	}
}

func TestComputeNoDFLForScalarHead(t *testing.T) {
	// regMax 1 has no distribution to supervise
	e, _ := NewEngine(DefaultGains(), 1, 1)

	anchors := testAnchors(t, 8, 1, 1)

	rawDist := yolocore.NewTensor(1, 4, 1)
	clsLogit := yolocore.NewTensor(1, 1, 1)
	predBoxes, _ := yolocore.TensorFromSlice([]float32{0, 0, 8, 8}, 1, 1, 4)

	res := emptyAssignment(1, 1)
	res.Foreground[0] = true
	res.TargetScores.Set(1, 0, 0, 0)

	for i, v := range []float32{0, 0, 8, 8} {
		res.TargetBoxes.Set(v, 0, 0, i)
	}

	res.ScoreSum = 1

	_, parts, err := e.Compute(rawDist, clsLogit, predBoxes, anchors, res)

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if parts[ComponentDFL] != 0 {
		t.Errorf("Expected zero dfl part for regMax 1, got %f", parts[ComponentDFL])
	}
}

func TestComputeShapeErrors(t *testing.T) {
	e, _ := NewEngine(DefaultGains(), 4, 2)

	anchors := testAnchors(t, 8, 1, 1)
	res := emptyAssignment(1, 2)

	good := func() (*yolocore.Tensor, *yolocore.Tensor, *yolocore.Tensor) {
		return yolocore.NewTensor(1, 16, 1), yolocore.NewTensor(1, 2, 1),
			yolocore.NewTensor(1, 1, 4)
	}

	rd, cl, pb := good()

	if _, _, err := e.Compute(rd, cl, pb, anchors, res); err != nil {
		t.Errorf("Unexpected error for valid shapes: %v", err)
	}

	rd, _, pb = good()

	if _, _, err := e.Compute(rd, yolocore.NewTensor(1, 3, 1), pb, anchors, res); err == nil {
		t.Errorf("Expected error for class channel mismatch")
	}

	_, cl, pb = good()

	if _, _, err := e.Compute(yolocore.NewTensor(1, 8, 1), cl, pb, anchors, res); err == nil {
		t.Errorf("Expected error for distribution channel mismatch")
	}

	rd, cl, _ = good()

	if _, _, err := e.Compute(rd, cl, yolocore.NewTensor(1, 2, 4), anchors, res); err == nil {
		t.Errorf("Expected error for predicted box count mismatch")
	}

	// wrong rank logits error rather than panicking
	rd, _, pb = good()

	var shapeErr *yolocore.ShapeError

	if _, _, err := e.Compute(rd, yolocore.NewTensor(), pb, anchors, res); !errors.As(err, &shapeErr) {
		t.Errorf("Expected shape error for rank 0 logits, got %v", err)
	}
}

func TestNewEngineValidation(t *testing.T) {
	tests := []struct {
		gains     Gains
		regMax    int
		classes   int
		expectErr bool
	}{
		{DefaultGains(), 16, 80, false},
		{DefaultGains(), 0, 80, true},
		{DefaultGains(), 16, 0, true},
		{Gains{Box: -1, Cls: 0.5, DFL: 1.5}, 16, 80, true},
	}

	for i, tc := range tests {
		_, err := NewEngine(tc.gains, tc.regMax, tc.classes)

		if (err != nil) != tc.expectErr {
			t.Errorf("Case %d: expected error=%v, got %v", i, tc.expectErr, err)
		}
	}
}

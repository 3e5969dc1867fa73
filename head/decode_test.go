package head

import (
	"testing"

	yolocore "github.com/edgevision/go-yolocore"
)

func TestSplitLevel(t *testing.T) {
	regMax := 1
	classes := 2

	// 1 x (4+2) x 1 x 2, channel c filled with the value c
	fused := yolocore.NewTensor(1, 6, 1, 2)

	for c := 0; c < 6; c++ {
		for x := 0; x < 2; x++ {
			fused.Set(float32(c), 0, c, 0, x)
		}
	}

	lv, err := SplitLevel(fused, regMax, classes)

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expectedBox := []float32{0, 0, 1, 1, 2, 2, 3, 3}
	expectedCls := []float32{4, 4, 5, 5}

	if !floatsEqual(lv.Box.Data(), expectedBox, 1e-6) {
		t.Errorf("Box block wrong, expected %v, got %v", expectedBox, lv.Box.Data())
	}

	if !floatsEqual(lv.Cls.Data(), expectedCls, 1e-6) {
		t.Errorf("Class block wrong, expected %v, got %v", expectedCls, lv.Cls.Data())
	}

	// the split is a copy, mutating the fused tensor must not leak
	fused.Set(99, 0, 0, 0, 0)

	if lv.Box.At(0, 0, 0, 0) != 0 {
		t.Errorf("Split shares backing data with the fused tensor")
	}

	// channel count mismatch must error
	if _, err := SplitLevel(fused, 2, classes); err == nil {
		t.Errorf("Expected error for channel count mismatch")
	}

	// a wrong rank tensor errors rather than panicking
	if _, err := SplitLevel(yolocore.NewTensor(6, 2), regMax, classes); err == nil {
		t.Errorf("Expected error for rank 2 input")
	}
}

// makeAnchorsFor builds an anchor table for the given level outputs
func makeAnchorsFor(t *testing.T, levels []LevelOutput, strides ...int) *yolocore.AnchorTable {
	t.Helper()

	pyramid, err := yolocore.NewPyramidConfig(strides...)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	sizes := make([][2]int, len(levels))
	for i, lv := range levels {
		sizes[i] = [2]int{lv.Box.Dim(2), lv.Box.Dim(3)}
	}

	anchors, err := yolocore.MakeAnchors(sizes, pyramid, yolocore.DefaultAnchorOffset)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	return anchors
}

func TestDecodeToyGrid(t *testing.T) {
	// a single 2x2 level at stride 8, regMax 2, one class, all logits
	// zero.  Every side softmaxes to expectation 0.5 so each cell
	// decodes to a unit box centered on its anchor, scaled by stride.
	h, err := NewDecodeHead(2, 1)

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	levels := []LevelOutput{{
		Box: yolocore.NewTensor(1, 8, 2, 2),
		Cls: yolocore.NewTensor(1, 1, 2, 2),
	}}

	anchors := makeAnchorsFor(t, levels, 8)

	dec, err := h.Decode(levels, anchors)

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if dec.Batch() != 1 || dec.NumAnchors() != 4 {
		t.Fatalf("Expected 1 image with 4 anchors, got %d and %d",
			dec.Batch(), dec.NumAnchors())
	}

	expectedBoxes := []float32{
		4, 4, 8, 8,
		12, 4, 8, 8,
		4, 12, 8, 8,
		12, 12, 8, 8,
	}

	if !floatsEqual(dec.Boxes.Data(), expectedBoxes, 1e-4) {
		t.Errorf("Expected boxes %v, got %v", expectedBoxes, dec.Boxes.Data())
	}

	// sigmoid of zero logits
	expectedScores := []float32{0.5, 0.5, 0.5, 0.5}

	if !floatsEqual(dec.Scores.Data(), expectedScores, 1e-6) {
		t.Errorf("Expected scores %v, got %v", expectedScores, dec.Scores.Data())
	}
}

func TestDecodeTwoLevels(t *testing.T) {
	// levels concatenate in pyramid order and each anchor scales by its
	// own level stride
	h, _ := NewDecodeHead(2, 1)

	levels := []LevelOutput{
		{
			Box: yolocore.NewTensor(1, 8, 2, 2),
			Cls: yolocore.NewTensor(1, 1, 2, 2),
		},
		{
			Box: yolocore.NewTensor(1, 8, 1, 1),
			Cls: yolocore.NewTensor(1, 1, 1, 1),
		},
	}

	// make the coarse level's anchor identifiable through its score
	levels[1].Cls.Set(4, 0, 0, 0, 0)

	anchors := makeAnchorsFor(t, levels, 8, 16)

	dec, err := h.Decode(levels, anchors)

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if dec.NumAnchors() != 5 {
		t.Fatalf("Expected 5 anchors, got %d", dec.NumAnchors())
	}

	// last anchor belongs to the stride 16 level, unit box at (0.5, 0.5)
	lastBox := dec.Boxes.Data()[16:20]
	expected := []float32{8, 8, 16, 16}

	if !floatsEqual(lastBox, expected, 1e-4) {
		t.Errorf("Expected coarse level box %v, got %v", expected, lastBox)
	}

	if score := dec.Scores.At(0, 4, 0); score < 0.98 {
		t.Errorf("Expected the raised logit to survive the concat, got %f", score)
	}
}

func TestDecodeEmptyBatch(t *testing.T) {
	h, _ := NewDecodeHead(2, 3)

	levels := []LevelOutput{{
		Box: yolocore.NewTensor(0, 8, 2, 2),
		Cls: yolocore.NewTensor(0, 3, 2, 2),
	}}

	anchors := makeAnchorsFor(t, levels, 8)

	dec, err := h.Decode(levels, anchors)

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if dec.Batch() != 0 || dec.NumAnchors() != 4 {
		t.Errorf("Expected empty batch over 4 anchors, got %d and %d",
			dec.Batch(), dec.NumAnchors())
	}

	if dec.Boxes.NumElems() != 0 || dec.Scores.NumElems() != 0 {
		t.Errorf("Expected empty decoded tensors")
	}
}

func TestDecodeAnchorMismatch(t *testing.T) {
	h, _ := NewDecodeHead(2, 1)

	levels := []LevelOutput{{
		Box: yolocore.NewTensor(1, 8, 2, 2),
		Cls: yolocore.NewTensor(1, 1, 2, 2),
	}}

	// anchor table built for a different geometry
	pyramid, _ := yolocore.NewPyramidConfig(8)
	anchors, _ := yolocore.MakeAnchors([][2]int{{3, 3}}, pyramid,
		yolocore.DefaultAnchorOffset)

	if _, err := h.Decode(levels, anchors); err == nil {
		t.Errorf("Expected error for anchor count mismatch")
	}
}

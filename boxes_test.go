package yolocore

import (
	"testing"
)

func TestXYWHToXYXY(t *testing.T) {
	boxes, _ := TensorFromSlice([]float32{
		4, 4, 8, 8,
		10, 20, 4, 2,
	}, 2, 4)

	out, err := XYWHToXYXY(boxes)

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expected := []float32{
		0, 0, 8, 8,
		8, 19, 12, 21,
	}

	if !floatsEqual(out.Data(), expected, 1e-6) {
		t.Errorf("Expected %v, got %v", expected, out.Data())
	}
}

func TestXYXYToXYWHRoundTrip(t *testing.T) {
	boxes, _ := TensorFromSlice([]float32{
		0, 0, 8, 8,
		8, 19, 12, 21,
	}, 1, 2, 4)

	xywh, err := XYXYToXYWH(boxes)

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	back, err := XYWHToXYXY(xywh)

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !floatsEqual(back.Data(), boxes.Data(), 1e-5) {
		t.Errorf("Round trip changed boxes, expected %v, got %v",
			boxes.Data(), back.Data())
	}
}

func TestDistToBoxes(t *testing.T) {
	points, _ := TensorFromSlice([]float32{
		2, 2,
		5, 5,
	}, 2, 2)

	dist, _ := TensorFromSlice([]float32{
		1, 1, 1, 1,
		2, 1, 2, 3,
	}, 1, 2, 4)

	// corner form
	xyxy, err := DistToBoxes(dist, points, false)

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expectedXYXY := []float32{
		1, 1, 3, 3,
		3, 4, 7, 8,
	}

	if !floatsEqual(xyxy.Data(), expectedXYXY, 1e-6) {
		t.Errorf("Expected %v, got %v", expectedXYXY, xyxy.Data())
	}

	// center+size form
	xywh, err := DistToBoxes(dist, points, true)

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expectedXYWH := []float32{
		2, 2, 2, 2,
		5, 6, 4, 4,
	}

	if !floatsEqual(xywh.Data(), expectedXYWH, 1e-6) {
		t.Errorf("Expected %v, got %v", expectedXYWH, xywh.Data())
	}
}

func TestBoxesToDistRoundTrip(t *testing.T) {
	points, _ := TensorFromSlice([]float32{
		2, 2,
		5, 5,
	}, 2, 2)

	dist, _ := TensorFromSlice([]float32{
		1, 1, 1, 1,
		2, 1, 2, 3,
	}, 1, 2, 4)

	boxes, err := DistToBoxes(dist, points, false)

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// maxDist large enough that no clamping happens
	back, err := BoxesToDist(points, boxes, 16)

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !floatsEqual(back.Data(), dist.Data(), 1e-5) {
		t.Errorf("Round trip changed distances, expected %v, got %v",
			dist.Data(), back.Data())
	}
}

func TestBoxesToDistClamping(t *testing.T) {
	points, _ := TensorFromSlice([]float32{4, 4}, 1, 2)

	// box far outside the bin range on all sides, and crossing the
	// anchor so the raw left distance would be negative
	boxes, _ := TensorFromSlice([]float32{6, -20, 30, 30}, 1, 1, 4)

	out, err := BoxesToDist(points, boxes, 3)

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expected := []float32{0, 2.99, 2.99, 2.99}

	if !floatsEqual(out.Data(), expected, 1e-5) {
		t.Errorf("Expected %v, got %v", expected, out.Data())
	}
}

func TestBoxShapeErrors(t *testing.T) {
	bad, _ := TensorFromSlice([]float32{1, 2, 3}, 1, 3)

	if _, err := XYWHToXYXY(bad); err == nil {
		t.Errorf("Expected error for innermost dimension != 4")
	}

	points, _ := TensorFromSlice([]float32{2, 2}, 1, 2)
	dist, _ := TensorFromSlice([]float32{1, 1, 1, 1, 1, 1, 1, 1}, 2, 4)

	if _, err := DistToBoxes(dist, points, false); err == nil {
		t.Errorf("Expected error for anchor count mismatch")
	}
}

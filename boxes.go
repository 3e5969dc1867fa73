package yolocore

// distEps keeps converted distances strictly inside the DFL bin range
const distEps = 0.01

// XYWHToXYXY converts boxes from center+size to corner form.  The input
// holds box rows in its innermost dimension of size 4 and any leading
// batch layout, a new tensor of the same shape is returned.
func XYWHToXYXY(boxes *Tensor) (*Tensor, error) {
	if err := checkBoxRows(boxes, "xywh2xyxy input"); err != nil {
		return nil, err
	}

	out := NewTensor(boxes.Shape()...)
	in := boxes.Data()
	od := out.Data()

	for i := 0; i < len(in); i += 4 {
		cx, cy, w, h := in[i], in[i+1], in[i+2], in[i+3]
		od[i+0] = cx - w/2
		od[i+1] = cy - h/2
		od[i+2] = cx + w/2
		od[i+3] = cy + h/2
	}

	return out, nil
}

// XYXYToXYWH converts boxes from corner to center+size form.  Width and
// height are never negated, the caller is responsible for validity.
func XYXYToXYWH(boxes *Tensor) (*Tensor, error) {
	if err := checkBoxRows(boxes, "xyxy2xywh input"); err != nil {
		return nil, err
	}

	out := NewTensor(boxes.Shape()...)
	in := boxes.Data()
	od := out.Data()

	for i := 0; i < len(in); i += 4 {
		x1, y1, x2, y2 := in[i], in[i+1], in[i+2], in[i+3]
		od[i+0] = (x1 + x2) / 2
		od[i+1] = (y1 + y2) / 2
		od[i+2] = x2 - x1
		od[i+3] = y2 - y1
	}

	return out, nil
}

// DistToBoxes converts per anchor side distances (l, t, r, b) into boxes
// anchored at the given points.  dist holds rows of 4 in its innermost
// dimension with the anchor dimension immediately before it, points is
// N x 2 in the same units as the distances.  When xywh is true the boxes
// are returned in center+size form, otherwise corner form.
func DistToBoxes(dist, points *Tensor, xywh bool) (*Tensor, error) {
	n, err := checkAnchorRows(dist, points, "dist2bbox")
	if err != nil {
		return nil, err
	}

	out := NewTensor(dist.Shape()...)
	in := dist.Data()
	od := out.Data()
	pd := points.Data()

	for i := 0; i < len(in); i += 4 {
		a := (i / 4) % n
		ax, ay := pd[a*2], pd[a*2+1]

		x1 := ax - in[i+0]
		y1 := ay - in[i+1]
		x2 := ax + in[i+2]
		y2 := ay + in[i+3]

		if xywh {
			od[i+0] = (x1 + x2) / 2
			od[i+1] = (y1 + y2) / 2
			od[i+2] = x2 - x1
			od[i+3] = y2 - y1
		} else {
			od[i+0] = x1
			od[i+1] = y1
			od[i+2] = x2
			od[i+3] = y2
		}
	}

	return out, nil
}

// BoxesToDist converts xyxy boxes into per anchor side distances, the
// inverse of DistToBoxes.  Distances are clamped to [0, maxDist-0.01] so
// they remain strictly inside the DFL bin range.
func BoxesToDist(points, boxes *Tensor, maxDist float32) (*Tensor, error) {
	n, err := checkAnchorRows(boxes, points, "bbox2dist")
	if err != nil {
		return nil, err
	}

	out := NewTensor(boxes.Shape()...)
	in := boxes.Data()
	od := out.Data()
	pd := points.Data()
	limit := maxDist - distEps

	for i := 0; i < len(in); i += 4 {
		a := (i / 4) % n
		ax, ay := pd[a*2], pd[a*2+1]

		od[i+0] = clampDist(ax-in[i+0], limit)
		od[i+1] = clampDist(ay-in[i+1], limit)
		od[i+2] = clampDist(in[i+2]-ax, limit)
		od[i+3] = clampDist(in[i+3]-ay, limit)
	}

	return out, nil
}

// clampDist restricts a side distance to [0, limit]
func clampDist(v, limit float32) float32 {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}

// checkBoxRows validates the innermost dimension holds box rows of 4
func checkBoxRows(t *Tensor, context string) error {
	if t.Rank() < 1 || t.Dim(-1) != 4 {
		return &ShapeError{Got: t.Shape(), Context: context}
	}
	return nil
}

// checkAnchorRows validates a ...xNx4 tensor against N x 2 anchor points
// and returns N
func checkAnchorRows(t, points *Tensor, context string) (int, error) {
	if t.Rank() < 2 || t.Dim(-1) != 4 {
		return 0, &ShapeError{Got: t.Shape(), Context: context}
	}
	if points.Rank() != 2 || points.Dim(1) != 2 {
		return 0, &ShapeError{Got: points.Shape(), Context: context + " anchor points"}
	}

	n := points.Dim(0)

	if t.Dim(-2) != n {
		return 0, &ShapeError{
			Got:     t.Shape(),
			Want:    []int{n, 4},
			Context: context + " anchor count",
		}
	}

	return n, nil
}

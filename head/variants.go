package head

import (
	yolocore "github.com/edgevision/go-yolocore"
)

// Task tags the detector head variant.  Every variant shares the same
// DecodeHead for boxes and scores, the variants differ only in the extra
// per anchor channels they carry through.
type Task int

const (
	// TaskDetect is plain object detection with no extra channels
	TaskDetect Task = iota
	// TaskSegment carries mask coefficients per anchor
	TaskSegment
	// TaskPose carries keypoint triplets (x, y, visibility) per anchor
	TaskPose
	// TaskOBB carries one rotation channel per anchor
	TaskOBB
)

// TaskHead wraps the shared DecodeHead with a task tag and the extra
// channel budget of that task.  The channel budget is shared across
// levels, derived from the smallest level.  Extra channels are not
// decoded here: mask coefficients and rotation pass through unchanged,
// and keypoint coordinates pass through raw with only the visibility
// channels sigmoided, their consumers apply the task specific transform.
type TaskHead struct {
	Task Task
	Head *DecodeHead
	// ExtraChannels is the per anchor channel count beyond 4R+C:
	// mask coefficients for segment, 3*keypoints for pose, 1 for obb,
	// 0 for detect
	ExtraChannels int
}

// NewTaskHead validates the variant's extra channel budget against its
// task tag
func NewTaskHead(task Task, h *DecodeHead, extraChannels int) (*TaskHead, error) {
	switch task {
	case TaskDetect:
		if extraChannels != 0 {
			return nil, &yolocore.ConfigError{
				Field:  "ExtraChannels",
				Reason: "detect head carries no extra channels",
			}
		}
	case TaskSegment:
		if extraChannels < 1 {
			return nil, &yolocore.ConfigError{
				Field:  "ExtraChannels",
				Reason: "segment head needs at least one mask coefficient",
			}
		}
	case TaskPose:
		if extraChannels < 3 || extraChannels%3 != 0 {
			return nil, &yolocore.ConfigError{
				Field:  "ExtraChannels",
				Reason: "pose head needs a multiple of three channels",
			}
		}
	case TaskOBB:
		if extraChannels != 1 {
			return nil, &yolocore.ConfigError{
				Field:  "ExtraChannels",
				Reason: "obb head carries exactly one rotation channel",
			}
		}
	default:
		return nil, &yolocore.ConfigError{Field: "Task", Reason: "unknown task"}
	}

	return &TaskHead{Task: task, Head: h, ExtraChannels: extraChannels}, nil
}

// Decode runs the shared decode on the box and class blocks and
// concatenates the per level extra channels, if any, into a channel
// major B x E x N tensor in pyramid order.  For the pose task the
// visibility channel of each keypoint triplet is sigmoided, everything
// else passes through untouched.
func (t *TaskHead) Decode(levels []LevelOutput, extras []*yolocore.Tensor,
	anchors *yolocore.AnchorTable) (*Decoded, *yolocore.Tensor, error) {

	dec, err := t.Head.Decode(levels, anchors)
	if err != nil {
		return nil, nil, err
	}

	if t.ExtraChannels == 0 {
		return dec, nil, nil
	}

	if len(extras) != len(levels) {
		return nil, nil, &yolocore.ShapeError{
			Got:     []int{len(extras)},
			Want:    []int{len(levels)},
			Context: "extra channel levels",
		}
	}

	batch := dec.Batch()
	n := anchors.NumAnchors()
	e := t.ExtraChannels

	out := yolocore.NewTensor(batch, e, n)
	od := out.Data()

	off := 0

	for i, ex := range extras {
		if ex == nil || ex.Rank() != 4 || ex.Dim(0) != batch || ex.Dim(1) != e ||
			ex.Dim(2) != levels[i].Box.Dim(2) || ex.Dim(3) != levels[i].Box.Dim(3) {

			got := []int(nil)
			if ex != nil {
				got = ex.Shape()
			}
			return nil, nil, &yolocore.ShapeError{
				Got:     got,
				Want:    []int{batch, e, levels[i].Box.Dim(2), levels[i].Box.Dim(3)},
				Context: "level extra channels",
			}
		}

		cells := ex.Dim(2) * ex.Dim(3)
		xd := ex.Data()

		for b := 0; b < batch; b++ {
			for c := 0; c < e; c++ {
				copy(od[(b*e+c)*n+off:(b*e+c)*n+off+cells],
					xd[(b*e+c)*cells:(b*e+c+1)*cells])
			}
		}

		off += cells
	}

	if t.Task == TaskPose {
		// keypoint triplets are (x, y, visibility), sigmoid visibility only
		for b := 0; b < batch; b++ {
			for c := 2; c < e; c += 3 {
				row := (b*e + c) * n
				for a := 0; a < n; a++ {
					od[row+a] = sigmoid(od[row+a])
				}
			}
		}
	}

	return dec, out, nil
}

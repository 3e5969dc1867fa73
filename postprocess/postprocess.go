// Package postprocess turns decoded predictions into final detections:
// confidence filtering, per class non maximum suppression and letterbox
// un-mapping back to original image pixels.
package postprocess

import (
	yolocore "github.com/edgevision/go-yolocore"
	"github.com/edgevision/go-yolocore/head"
	"github.com/edgevision/go-yolocore/postprocess/result"
)

// Params defines the post processing parameters
type Params struct {
	// ConfThreshold is the minimum best class score required for an
	// anchor to be considered for processing
	ConfThreshold float32
	// IoUThreshold is the maximum allowed Intersection Over Union (IoU)
	// between two bounding boxes for both to be kept
	IoUThreshold float32
	// MaxDetections is the maximum number of detections returned per
	// image
	MaxDetections int
	// MaxCandidates caps the number of boxes entering NMS per image
	MaxCandidates int
	// ClassAgnostic disables the per class separation during NMS so
	// boxes of different classes suppress each other
	ClassAgnostic bool
	// ClassOffset is the coordinate shift applied per class index so a
	// single NMS pass never suppresses across classes.  It must exceed
	// the largest model input dimension.
	ClassOffset float32
}

// DefaultParams returns post processing parameters matching the
// reference detector defaults
func DefaultParams() Params {
	return Params{
		ConfThreshold: 0.25,
		IoUThreshold:  0.45,
		MaxDetections: 300,
		MaxCandidates: 30000,
		ClassAgnostic: false,
		ClassOffset:   7680,
	}
}

// PostProcessor filters decoded predictions into detection results
type PostProcessor struct {
	// Params are the post processing configuration parameters
	Params Params
	// idGen provides the next number for each detection result ID
	idGen *result.IDGenerator
}

// NewPostProcessor validates the parameters and returns a post processor
func NewPostProcessor(p Params) (*PostProcessor, error) {
	if p.ConfThreshold < 0 || p.IoUThreshold < 0 {
		return nil, &yolocore.ConfigError{
			Field:  "ConfThreshold/IoUThreshold",
			Reason: "thresholds must be non negative",
		}
	}
	if p.MaxDetections < 1 || p.MaxCandidates < 1 {
		return nil, &yolocore.ConfigError{
			Field:  "MaxDetections/MaxCandidates",
			Reason: "limits must be at least 1",
		}
	}

	return &PostProcessor{
		Params: p,
		idGen:  result.NewIDGenerator(),
	}, nil
}

// Process converts a decoded batch into per image detections in original
// image pixels.  letterbox supplies the affine context of each image in
// the batch.  Images with no candidate above the confidence threshold
// yield an empty, non nil slice.
func (p *PostProcessor) Process(dec *head.Decoded,
	letterbox []yolocore.LetterboxContext) ([][]result.Detection, error) {

	batch := dec.Batch()

	if len(letterbox) != batch {
		return nil, &yolocore.ShapeError{
			Got:     []int{len(letterbox)},
			Want:    []int{batch},
			Context: "letterbox contexts per image",
		}
	}

	out := make([][]result.Detection, batch)

	for b := 0; b < batch; b++ {
		out[b] = p.processImage(dec, b, letterbox[b])
	}

	return out, nil
}

// processImage runs the filter, NMS and un-mapping pipeline for one image
func (p *PostProcessor) processImage(dec *head.Decoded, b int,
	lb yolocore.LetterboxContext) []result.Detection {

	n := dec.NumAnchors()
	classes := dec.Scores.Dim(2)
	bd := dec.Boxes.Data()
	sd := dec.Scores.Data()

	s := getScratch(n)
	defer putScratch(s)

	// per anchor best class with confidence gate
	for a := 0; a < n; a++ {
		row := (b*n + a) * classes

		bestScore := sd[row]
		bestClass := 0

		for c := 1; c < classes; c++ {
			if sd[row+c] > bestScore {
				bestScore = sd[row+c]
				bestClass = c
			}
		}

		if bestScore <= p.Params.ConfThreshold {
			continue
		}

		// xywh to xyxy
		box := bd[(b*n+a)*4 : (b*n+a)*4+4]
		cx, cy, w, h := box[0], box[1], box[2], box[3]

		s.boxes = append(s.boxes, cx-w/2, cy-h/2, cx+w/2, cy+h/2)
		s.scores = append(s.scores, bestScore)
		s.classes = append(s.classes, bestClass)
	}

	order := sortByScore(s.scores)

	// cap the candidate count entering NMS, order is by descending
	// score so the cut keeps the best
	if len(order) > p.Params.MaxCandidates {
		order = order[:p.Params.MaxCandidates]
	}

	// shift each box by its class so one greedy pass never suppresses
	// across classes
	if !p.Params.ClassAgnostic {
		for i, c := range s.classes {
			off := float32(c) * p.Params.ClassOffset
			s.boxes[i*4+0] += off
			s.boxes[i*4+1] += off
			s.boxes[i*4+2] += off
			s.boxes[i*4+3] += off
		}
	}

	kept := nms(s.boxes, order, p.Params.IoUThreshold)

	if len(kept) > p.Params.MaxDetections {
		kept = kept[:p.Params.MaxDetections]
	}

	dets := make([]result.Detection, 0, len(kept))

	for _, idx := range kept {
		off := float32(0)
		if !p.Params.ClassAgnostic {
			off = float32(s.classes[idx]) * p.Params.ClassOffset
		}

		// un-shift, un-letterbox and clip to the original image
		x1 := clamp((s.boxes[idx*4+0]-off-lb.PadX)/lb.Ratio, 0, float32(lb.OrigWidth))
		y1 := clamp((s.boxes[idx*4+1]-off-lb.PadY)/lb.Ratio, 0, float32(lb.OrigHeight))
		x2 := clamp((s.boxes[idx*4+2]-off-lb.PadX)/lb.Ratio, 0, float32(lb.OrigWidth))
		y2 := clamp((s.boxes[idx*4+3]-off-lb.PadY)/lb.Ratio, 0, float32(lb.OrigHeight))

		dets = append(dets, result.Detection{
			X1:    x1,
			Y1:    y1,
			X2:    x2,
			Y2:    y2,
			Score: s.scores[idx],
			Class: s.classes[idx],
			ID:    p.idGen.GetNext(),
		})
	}

	return dets
}

// clamp restricts val to the range [min, max]
func clamp(val, min, max float32) float32 {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// Package detect wires the numeric core into full forward passes: decode
// plus post processing for inference, decode plus assignment plus loss
// for training.
package detect

import (
	"sync"

	yolocore "github.com/edgevision/go-yolocore"
	"github.com/edgevision/go-yolocore/assign"
	"github.com/edgevision/go-yolocore/head"
	"github.com/edgevision/go-yolocore/loss"
	"github.com/edgevision/go-yolocore/postprocess"
	"github.com/edgevision/go-yolocore/postprocess/result"
)

// Config carries the construction parameters of a Detector
type Config struct {
	// Classes is the number of object classes the model was trained with
	Classes int
	// RegMax is the DFL bin count per box side, at least 2 for a
	// distributional head
	RegMax int
	// Pyramid is the feature pyramid the model predicts at
	Pyramid yolocore.PyramidConfig
	// Assigner configures the task aligned assigner, zero value selects
	// the defaults
	Assigner assign.Params
	// Gains weight the loss components, zero value selects the defaults
	Gains loss.Gains
	// Post configures the post processor, zero value selects the
	// defaults
	Post postprocess.Params
}

// DefaultConfig returns a detector configuration with the reference
// recipe parameters for the given class count and pyramid strides
func DefaultConfig(classes int, strides ...int) (Config, error) {
	pyramid, err := yolocore.NewPyramidConfig(strides...)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Classes:  classes,
		RegMax:   16,
		Pyramid:  pyramid,
		Assigner: assign.DefaultParams(classes),
		Gains:    loss.DefaultGains(),
		Post:     postprocess.DefaultParams(),
	}, nil
}

// Detector orchestrates the numeric core.  It owns the anchor table
// cache, rebuilt only when the feature geometry changes and shared
// between concurrent forwards under a single writer, many reader
// discipline.
type Detector struct {
	cfg  Config
	head *head.DecodeHead
	asn  *assign.Assigner
	loss *loss.Engine
	post *postprocess.PostProcessor

	mu      sync.RWMutex
	anchors *yolocore.AnchorTable
}

// NewDetector validates the configuration and builds the component
// pipeline
func NewDetector(cfg Config) (*Detector, error) {
	if cfg.Pyramid.Levels() == 0 {
		return nil, &yolocore.ConfigError{
			Field:  "Pyramid",
			Reason: "pyramid configuration is required",
		}
	}

	h, err := head.NewDecodeHead(cfg.RegMax, cfg.Classes)
	if err != nil {
		return nil, err
	}

	if cfg.Assigner == (assign.Params{}) {
		cfg.Assigner = assign.DefaultParams(cfg.Classes)
	}
	if cfg.Assigner.Classes != cfg.Classes {
		return nil, &yolocore.ConfigError{
			Field:  "Assigner.Classes",
			Reason: "must match the detector class count",
		}
	}

	asn, err := assign.NewAssigner(cfg.Assigner)
	if err != nil {
		return nil, err
	}

	if cfg.Gains == (loss.Gains{}) {
		cfg.Gains = loss.DefaultGains()
	}

	eng, err := loss.NewEngine(cfg.Gains, cfg.RegMax, cfg.Classes)
	if err != nil {
		return nil, err
	}

	if cfg.Post == (postprocess.Params{}) {
		cfg.Post = postprocess.DefaultParams()
	}

	post, err := postprocess.NewPostProcessor(cfg.Post)
	if err != nil {
		return nil, err
	}

	return &Detector{
		cfg:  cfg,
		head: h,
		asn:  asn,
		loss: eng,
		post: post,
	}, nil
}

// Config returns the configuration the detector was built with
func (d *Detector) Config() Config {
	return d.cfg
}

// ForwardInfer decodes raw per level outputs and post processes them into
// detections in original image pixels, one slice per batch image
func (d *Detector) ForwardInfer(levels []head.LevelOutput,
	letterbox []yolocore.LetterboxContext) ([][]result.Detection, error) {

	anchors, err := d.anchorsFor(levels)
	if err != nil {
		return nil, err
	}

	dec, err := d.head.Decode(levels, anchors)
	if err != nil {
		return nil, err
	}

	return d.post.Process(dec, letterbox)
}

// ForwardTrain decodes raw per level outputs, assigns ground truths and
// computes the composite loss.  It returns the gain weighted total and
// the unweighted [box, cls, dfl] components.
func (d *Detector) ForwardTrain(levels []head.LevelOutput,
	gt *yolocore.GroundTruthBatch) (float32, [3]float32, error) {

	var parts [3]float32

	anchors, err := d.anchorsFor(levels)
	if err != nil {
		return 0, parts, err
	}

	dec, err := d.head.Decode(levels, anchors)
	if err != nil {
		return 0, parts, err
	}

	predXYXY, err := yolocore.XYWHToXYXY(dec.Boxes)
	if err != nil {
		return 0, parts, err
	}

	asn, err := d.asn.Assign(dec.Scores, predXYXY, anchors.PixelPoints, gt)
	if err != nil {
		return 0, parts, err
	}

	return d.loss.Compute(dec.RawDist, dec.ClsLogit, predXYXY, anchors, asn)
}

// anchorsFor returns the cached anchor table for the level geometry of
// the given outputs, rebuilding it when the feature sizes changed since
// the previous forward
func (d *Detector) anchorsFor(levels []head.LevelOutput) (*yolocore.AnchorTable, error) {
	if len(levels) != d.cfg.Pyramid.Levels() {
		return nil, &yolocore.ShapeError{
			Got:     []int{len(levels)},
			Want:    []int{d.cfg.Pyramid.Levels()},
			Context: "levels per forward",
		}
	}

	sizes := make([][2]int, len(levels))

	for i, lv := range levels {
		if lv.Box == nil || lv.Box.Rank() != 4 {
			return nil, &yolocore.ShapeError{Context: "level box output"}
		}
		sizes[i] = [2]int{lv.Box.Dim(2), lv.Box.Dim(3)}
	}

	d.mu.RLock()
	cached := d.anchors
	d.mu.RUnlock()

	if cached != nil && cached.Matches(sizes) {
		return cached, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// another forward may have rebuilt while we waited for the lock
	if d.anchors != nil && d.anchors.Matches(sizes) {
		return d.anchors, nil
	}

	table, err := yolocore.MakeAnchors(sizes, d.cfg.Pyramid, yolocore.DefaultAnchorOffset)
	if err != nil {
		return nil, err
	}

	d.anchors = table
	return table, nil
}

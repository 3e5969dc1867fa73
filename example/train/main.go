package main

import (
	"log"

	yolocore "github.com/edgevision/go-yolocore"
	"github.com/edgevision/go-yolocore/detect"
	"github.com/edgevision/go-yolocore/head"
)

const (
	inputSize = 64
	classes   = 2
	regMax    = 4
)

func main() {
	cfg, err := detect.DefaultConfig(classes, 8, 16)
	if err != nil {
		log.Fatal("Error building config: ", err)
	}

	cfg.RegMax = regMax

	det, err := detect.NewDetector(cfg)
	if err != nil {
		log.Fatal("Error creating detector: ", err)
	}

	// fabricate untrained head outputs, all logits zero
	levels := make([]head.LevelOutput, cfg.Pyramid.Levels())

	for i, stride := range cfg.Pyramid.Strides() {
		side := inputSize / stride
		fused := yolocore.NewTensor(1, 4*regMax+classes, side, side)

		levels[i], err = head.SplitLevel(fused, regMax, classes)
		if err != nil {
			log.Fatal("Error splitting level output: ", err)
		}
	}

	// a single ground truth box of class 0 in the top left quarter of
	// the input image
	boxes := yolocore.NewTensor(1, 1, 4)
	boxes.Set(4, 0, 0, 0)
	boxes.Set(4, 0, 0, 1)
	boxes.Set(28, 0, 0, 2)
	boxes.Set(28, 0, 0, 3)

	gt := &yolocore.GroundTruthBatch{
		Class:    []int{0},
		Boxes:    boxes,
		Mask:     []bool{true},
		Batch:    1,
		MaxBoxes: 1,
	}

	total, parts, err := det.ForwardTrain(levels, gt)
	if err != nil {
		log.Fatal("Error computing loss: ", err)
	}

	log.Printf("total=%.4f box=%.4f cls=%.4f dfl=%.4f",
		total, parts[0], parts[1], parts[2])
}

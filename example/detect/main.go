package main

import (
	"flag"
	"log"

	yolocore "github.com/edgevision/go-yolocore"
	"github.com/edgevision/go-yolocore/detect"
	"github.com/edgevision/go-yolocore/head"
	"github.com/edgevision/go-yolocore/render"
	"gocv.io/x/gocv"
)

// demo parameters, a tiny two level pyramid so the synthetic outputs
// stay readable
const (
	inputSize = 64
	classes   = 3
	regMax    = 4
)

func main() {
	confThresh := flag.Float64("c", 0.25, "Confidence threshold")
	saveFile := flag.String("o", "", "Optional image file to render detections to")
	flag.Parse()

	cfg, err := detect.DefaultConfig(classes, 8, 16)
	if err != nil {
		log.Fatal("Error building config: ", err)
	}

	cfg.RegMax = regMax
	cfg.Post.ConfThreshold = float32(*confThresh)

	det, err := detect.NewDetector(cfg)
	if err != nil {
		log.Fatal("Error creating detector: ", err)
	}

	// fabricate raw head outputs the way a backbone would produce them,
	// one fused tensor per pyramid level
	levels := make([]head.LevelOutput, cfg.Pyramid.Levels())

	for i, stride := range cfg.Pyramid.Strides() {
		side := inputSize / stride
		fused := yolocore.NewTensor(1, 4*regMax+classes, side, side)

		// bias every class logit strongly negative so the grid starts
		// empty of detections
		for c := 4 * regMax; c < 4*regMax+classes; c++ {
			for r := 0; r < side; r++ {
				for col := 0; col < side; col++ {
					fused.Set(-8, 0, c, r, col)
				}
			}
		}

		levels[i], err = head.SplitLevel(fused, regMax, classes)
		if err != nil {
			log.Fatal("Error splitting level output: ", err)
		}
	}

	// plant one confident class 1 object at cell (2, 3) of the stride 8
	// level, with all four box distributions peaked on the last bin
	plantObject(levels[0].Box, levels[0].Cls, 2, 3, 1)

	detections, err := det.ForwardInfer(levels,
		[]yolocore.LetterboxContext{yolocore.IdentityLetterbox(inputSize, inputSize)})
	if err != nil {
		log.Fatal("Error running inference: ", err)
	}

	for _, d := range detections[0] {
		log.Printf("class=%d score=%.3f box=(%.1f, %.1f, %.1f, %.1f)",
			d.Class, d.Score, d.X1, d.Y1, d.X2, d.Y2)
	}

	if *saveFile != "" {
		img := gocv.NewMatWithSize(inputSize, inputSize, gocv.MatTypeCV8UC3)
		defer img.Close()

		classNames := []string{"person", "car", "dog"}

		render.DetectionBoxes(&img, detections[0], classNames,
			render.DefaultFont(), 1)

		if ok := gocv.IMWrite(*saveFile, img); !ok {
			log.Fatal("Error writing image to ", *saveFile)
		}

		log.Println("Rendered detections to", *saveFile)
	}

	log.Println("done")
}

// plantObject makes the cell at (row, col) predict the given class with
// high confidence and a box distribution peaked on the largest bin
func plantObject(box, cls *yolocore.Tensor, row, col, class int) {
	for side := 0; side < 4; side++ {
		// one hot on the last bin, via a large logit gap
		box.Set(10, 0, side*regMax+regMax-1, row, col)
	}

	cls.Set(6, 0, class, row, col)
}

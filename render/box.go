package render

import (
	"fmt"
	"image"
	"image/color"

	"github.com/edgevision/go-yolocore/postprocess/result"
	"gocv.io/x/gocv"
)

// boxLabel holds the precalculated rendering details for a detection label
type boxLabel struct {
	rect    image.Rectangle
	clr     color.RGBA
	text    string
	textPos image.Point
}

// DetectionBoxes renders the bounding boxes around the objects detected
func DetectionBoxes(img *gocv.Mat, detections []result.Detection,
	classNames []string, font Font, lineThickness int) {

	// keep a record of all box labels for later rendering
	boxLabels := make([]boxLabel, 0, len(detections))

	// draw detection boxes
	for _, det := range detections {

		useClr := ClassColor(det.Class)

		boxLeft := int(det.X1)
		boxTop := int(det.Y1)
		boxRight := int(det.X2)
		boxBottom := int(det.Y2)

		// draw rectangle around detected object
		rect := image.Rect(boxLeft, boxTop, boxRight, boxBottom)
		gocv.Rectangle(img, rect, useClr, lineThickness)

		// create text for label
		text := fmt.Sprintf("%s %.2f", className(classNames, det.Class), det.Score)
		textSize := gocv.GetTextSize(text, font.Face, font.Scale, font.Thickness)

		// Calculate the alignment of text label
		var centerX int

		switch font.Alignment {
		case Center:
			centerX = (boxLeft + boxRight) / 2

		case Right:
			centerX = boxRight - (textSize.X / 2) - font.RightPad + (lineThickness / 2)

		case Left:
			fallthrough
		default:
			centerX = boxLeft + (textSize.X / 2) + font.LeftPad - (lineThickness / 2)
		}

		// Adjust the label position so the text is centered horizontally
		labelPosition := image.Pt(centerX-textSize.X/2, boxTop-font.BottomPad)

		// create box for placing text on
		bRect := image.Rect(centerX-textSize.X/2-font.LeftPad,
			boxTop-textSize.Y-font.TopPad-font.BottomPad,
			centerX+textSize.X/2+font.RightPad, boxTop)

		// record label rendering details
		nextLabel := boxLabel{
			rect:    bRect,
			clr:     useClr,
			text:    text,
			textPos: labelPosition,
		}
		boxLabels = append(boxLabels, nextLabel)
	}

	// draw all precalculated box labels last so they are the top most layer
	// on the image and don't get overlapped by neighbouring boxes
	for _, box := range boxLabels {
		// draw box text gets written on
		gocv.Rectangle(img, box.rect, box.clr, -1)

		// Draw the label over box
		gocv.PutTextWithParams(img, box.text, box.textPos,
			font.Face, font.Scale, font.Color, font.Thickness,
			font.LineType, false)
	}
}

// className returns the label for the given class index, falling back to
// the numeric index when no name is known
func className(classNames []string, class int) string {
	if class >= 0 && class < len(classNames) {
		return classNames[class]
	}

	return fmt.Sprintf("class %d", class)
}

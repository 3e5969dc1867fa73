package preprocess

import (
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"

	yolocore "github.com/edgevision/go-yolocore"
)

// LetterBoxImage letterboxes a source image to the given input
// dimensions using a pure Go scaler, for callers without an OpenCV
// runtime.  It returns the padded RGBA image and the affine context the
// resize applied.
func LetterBoxImage(src image.Image, inputWidth, inputHeight int,
	pad color.RGBA) (*image.RGBA, yolocore.LetterboxContext) {

	srcW := src.Bounds().Dx()
	srcH := src.Bounds().Dy()

	scaleW := float32(inputWidth) / float32(srcW)
	scaleH := float32(inputHeight) / float32(srcH)

	scale := scaleH
	resizeW := inputWidth
	resizeH := inputHeight

	if scaleW < scaleH {
		scale = scaleW
		resizeH = int(float32(srcH) * scale)
	} else {
		resizeW = int(float32(srcW) * scale)
	}

	xPad := (inputWidth - resizeW) / 2
	yPad := (inputHeight - resizeH) / 2

	dst := image.NewRGBA(image.Rect(0, 0, inputWidth, inputHeight))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(pad), image.Point{}, draw.Src)

	target := image.Rect(xPad, yPad, xPad+resizeW, yPad+resizeH)
	xdraw.ApproxBiLinear.Scale(dst, target, src, src.Bounds(), xdraw.Over, nil)

	ctx := yolocore.LetterboxContext{
		OrigWidth:   srcW,
		OrigHeight:  srcH,
		Ratio:       scale,
		PadX:        float32(xPad),
		PadY:        float32(yPad),
		InputWidth:  inputWidth,
		InputHeight: inputHeight,
	}

	return dst, ctx
}

// ImageToTensor converts a letterboxed RGBA image into a 1 x 3 x H x W
// float32 tensor in [0,1], channel major RGB, the layout backbone
// networks consume
func ImageToTensor(img *image.RGBA) *yolocore.Tensor {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()

	t := yolocore.NewTensor(1, 3, h, w)
	d := t.Data()
	cells := h * w

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := img.PixOffset(x, y)
			d[0*cells+y*w+x] = float32(img.Pix[i]) / 255
			d[1*cells+y*w+x] = float32(img.Pix[i+1]) / 255
			d[2*cells+y*w+x] = float32(img.Pix[i+2]) / 255
		}
	}

	return t
}

// Package result defines the detection records returned by the post
// processor.
package result

// Detection is a single detected object in original image pixels
type Detection struct {
	// X1, Y1, X2, Y2 are the bounding box corners in original image
	// pixels, clipped to the image bounds
	X1, Y1, X2, Y2 float32
	// Score is the confidence of the detection
	Score float32
	// Class is the object class index the model was trained with
	Class int
	// ID is a unique incremental ID assigned to the detection
	ID int64
}

// Width returns the bounding box width
func (d Detection) Width() float32 {
	return d.X2 - d.X1
}

// Height returns the bounding box height
func (d Detection) Height() float32 {
	return d.Y2 - d.Y1
}

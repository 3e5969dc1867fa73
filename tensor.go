package yolocore

import (
	"fmt"
)

// Tensor is a dense row-major float32 tensor.  It is the only numeric
// container the core exchanges between components, all heavy lifting is
// done by indexing into the flat backing slice directly.
type Tensor struct {
	shape []int
	data  []float32
}

// NewTensor returns a zero filled tensor with the given shape.  Dimensions
// may be zero to represent empty batches.
func NewTensor(shape ...int) *Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Tensor{
		shape: append([]int(nil), shape...),
		data:  make([]float32, n),
	}
}

// TensorFromSlice wraps an existing backing slice in a tensor of the given
// shape.  The slice is used directly without copying.
func TensorFromSlice(data []float32, shape ...int) (*Tensor, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return nil, &ShapeError{Got: shape, Context: "negative dimension"}
		}
		n *= d
	}

	if len(data) != n {
		return nil, &ShapeError{
			Got:     []int{len(data)},
			Want:    []int{n},
			Context: "backing slice length",
		}
	}

	return &Tensor{shape: append([]int(nil), shape...), data: data}, nil
}

// Shape returns the tensor dimensions.  The returned slice must not be
// modified.
func (t *Tensor) Shape() []int {
	return t.shape
}

// Rank returns the number of dimensions
func (t *Tensor) Rank() int {
	return len(t.shape)
}

// Dim returns the size of dimension i.  Negative values index from the
// last dimension, ie: Dim(-1) is the innermost size.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.shape)
	}
	return t.shape[i]
}

// NumElems returns the total number of elements
func (t *Tensor) NumElems() int {
	return len(t.data)
}

// Data returns the flat row-major backing slice
func (t *Tensor) Data() []float32 {
	return t.data
}

// At returns the element at the given multi dimensional index
func (t *Tensor) At(idx ...int) float32 {
	return t.data[t.offset(idx)]
}

// Set stores val at the given multi dimensional index
func (t *Tensor) Set(val float32, idx ...int) {
	t.data[t.offset(idx)] = val
}

// offset converts a multi dimensional index to a flat offset
func (t *Tensor) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor index has %d dims, shape has %d",
			len(idx), len(t.shape)))
	}

	off := 0

	for i, x := range idx {
		off = off*t.shape[i] + x
	}

	return off
}

// Clone returns a deep copy of the tensor
func (t *Tensor) Clone() *Tensor {
	c := &Tensor{
		shape: append([]int(nil), t.shape...),
		data:  make([]float32, len(t.data)),
	}
	copy(c.data, t.data)
	return c
}

// Reshape returns a view of the tensor with a new shape covering the same
// backing data.  The element count must be unchanged.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	n := 1
	for _, d := range shape {
		n *= d
	}

	if n != len(t.data) {
		return nil, &ShapeError{
			Got:     shape,
			Want:    t.shape,
			Context: "reshape element count",
		}
	}

	return &Tensor{shape: append([]int(nil), shape...), data: t.data}, nil
}

// SameShape reports whether two tensors have identical dimensions
func (t *Tensor) SameShape(o *Tensor) bool {
	if len(t.shape) != len(o.shape) {
		return false
	}
	for i := range t.shape {
		if t.shape[i] != o.shape[i] {
			return false
		}
	}
	return true
}

package yolocore

import "github.com/x448/float16"

var f16LookupTable [65536]float32

func init() {
	// precompute float16 lookup table for faster conversion to float32
	for i := range f16LookupTable {
		f16 := float16.Frombits(uint16(i))
		f16LookupTable[i] = f16.Float32()
	}
}

// TensorFromFloat16 converts a half precision feature map buffer, as
// produced by backends that emit float16 tensors, into a float32 tensor
// of the given shape using the precomputed lookup table.
func TensorFromFloat16(buf []uint16, shape ...int) (*Tensor, error) {
	data := make([]float32, len(buf))

	for i, u := range buf {
		data[i] = f16LookupTable[u]
	}

	return TensorFromSlice(data, shape...)
}

package postprocess

import (
	"sync"
)

// scratch holds the per image candidate buffers reused between Process
// calls to keep the hot path allocation free once warmed up
type scratch struct {
	boxes   []float32
	scores  []float32
	classes []int
}

// scratchPool recycles candidate buffers across images and goroutines
var scratchPool = sync.Pool{
	New: func() any {
		return &scratch{}
	},
}

// getScratch returns a scratch buffer with capacity for n candidates,
// lengths reset to zero
func getScratch(n int) *scratch {
	s := scratchPool.Get().(*scratch)

	if cap(s.boxes) < n*4 {
		s.boxes = make([]float32, 0, n*4)
		s.scores = make([]float32, 0, n)
		s.classes = make([]int, 0, n)
	}

	s.boxes = s.boxes[:0]
	s.scores = s.scores[:0]
	s.classes = s.classes[:0]

	return s
}

// putScratch returns a buffer to the pool
func putScratch(s *scratch) {
	scratchPool.Put(s)
}

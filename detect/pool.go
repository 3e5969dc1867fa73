package detect

import (
	"sync"
)

// Pool is a simple detector pool so external schedulers can run forwards
// for the same model configuration across multiple workers
type Pool struct {
	// pool of detectors
	detectors chan *Detector
	// size of pool
	size   int
	mu     sync.Mutex
	closed bool
	close  sync.Once
}

// NewPool creates a new detector pool of the given size
func NewPool(size int, cfg Config) (*Pool, error) {
	p := &Pool{
		detectors: make(chan *Detector, size),
		size:      size,
	}

	for i := 0; i < size; i++ {
		det, err := NewDetector(cfg)

		if err != nil {
			p.Close()
			return nil, err
		}

		// attach to pool
		p.Return(det)
	}

	return p, nil
}

// Get a detector from the pool, blocking until one is available
func (p *Pool) Get() *Detector {
	return <-p.detectors
}

// Return a detector to the pool.  Returning to a closed pool is a no-op.
func (p *Pool) Return(det *Detector) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	select {
	case p.detectors <- det:
	default:
		// pool is full
	}
}

// Close the pool
func (p *Pool) Close() {
	p.close.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		close(p.detectors)

		for range p.detectors {
		}
	})
}

package gossip

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// dedup remembers message ids in two bloom filters. When the current filter
// holds capacity ids it becomes the previous one and a fresh filter takes its
// place, so memory stays bounded and recent ids are always remembered.
type dedup struct {
	sync.Mutex
	capacity uint
	fpRate   float64
	current  *bloom.BloomFilter
	previous *bloom.BloomFilter
	count    uint
}

func newDedup(capacity uint, fpRate float64) *dedup {
	return &dedup{
		capacity: capacity,
		fpRate:   fpRate,
		current:  bloom.NewWithEstimates(capacity, fpRate),
		previous: bloom.NewWithEstimates(capacity, fpRate),
	}
}

// testAndAdd reports whether id was already seen, and remembers it.
func (d *dedup) testAndAdd(id string) bool {
	d.Lock()
	defer d.Unlock()

	if d.previous.TestString(id) {
		return true
	}
	if d.current.TestAndAddString(id) {
		return true
	}

	d.count++
	if d.count >= d.capacity {
		d.previous = d.current
		d.current = bloom.NewWithEstimates(d.capacity, d.fpRate)
		d.count = 0
	}
	return false
}

func (d *dedup) test(id string) bool {
	d.Lock()
	defer d.Unlock()
	return d.previous.TestString(id) || d.current.TestString(id)
}

package vm

import "fmt"

// A FramePool tracks, for every page frame, how many valid PTEs across all
// processes currently reference it. A frame is free iff its mapcount is 0.
type FramePool struct {
	mapcounts []uint32
}

// NewFramePool creates a pool of numFrames free frames.
func NewFramePool(numFrames uint64) *FramePool {
	return &FramePool{
		mapcounts: make([]uint32, numFrames),
	}
}

// NumFrames returns the size of the frame space.
func (p *FramePool) NumFrames() uint64 {
	return uint64(len(p.mapcounts))
}

// MapCount returns the number of PTEs referencing the frame.
func (p *FramePool) MapCount(frame uint64) uint32 {
	return p.mapcounts[frame]
}

// AllocateLowestFree claims the free frame with the smallest frame number and
// sets its mapcount to 1. The bool return value reports whether a free frame
// existed.
func (p *FramePool) AllocateLowestFree() (uint64, bool) {
	for frame := range p.mapcounts {
		if p.mapcounts[frame] == 0 {
			p.mapcounts[frame] = 1
			return uint64(frame), true
		}
	}

	return 0, false
}

// Increment records one more PTE referencing the frame.
func (p *FramePool) Increment(frame uint64) {
	p.mapcounts[frame]++
}

// Decrement records that one PTE referencing the frame is gone. Decrementing
// a free frame breaks the mapcount invariant and panics.
func (p *FramePool) Decrement(frame uint64) {
	if p.mapcounts[frame] == 0 {
		panic(fmt.Sprintf("mapcount underflow on frame %d", frame))
	}

	p.mapcounts[frame]--
}

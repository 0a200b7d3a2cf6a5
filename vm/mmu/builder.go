package mmu

import (
	"github.com/sarchlab/vmsim/datarecording"
	"github.com/sarchlab/vmsim/vm"
	"github.com/sarchlab/vmsim/vm/tlb"
)

// A Builder can build MMU cores.
type Builder struct {
	ptesPerPage uint64
	numFrames   uint64
	initialPID  vm.PID
	tlb         *tlb.Comp
	recorder    datarecording.DataRecorder
}

// MakeBuilder creates a new builder with default configurations.
func MakeBuilder() Builder {
	return Builder{
		ptesPerPage: 16,
		numFrames:   128,
	}
}

// WithPTEsPerPage sets the number of entries per page-table level.
func (b Builder) WithPTEsPerPage(n uint64) Builder {
	b.ptesPerPage = n
	return b
}

// WithNumFrames sets the number of page frames in the system.
func (b Builder) WithNumFrames(n uint64) Builder {
	b.numFrames = n
	return b
}

// WithInitialPID sets the PID of the process that is running when the
// simulation starts.
func (b Builder) WithInitialPID(pid vm.PID) Builder {
	b.initialPID = pid
	return b
}

// WithTLB sets the translation cache the MMU maintains. Without this option
// the MMU builds its own TLB with one entry per mappable page.
func (b Builder) WithTLB(t *tlb.Comp) Builder {
	b.tlb = t
	return b
}

// WithDataRecorder attaches a recorder that receives one row per MMU event.
func (b Builder) WithDataRecorder(r datarecording.DataRecorder) Builder {
	b.recorder = r
	return b
}

// Build returns a newly created MMU core with one running process.
func (b Builder) Build(name string) *Comp {
	c := &Comp{
		name:        name,
		ptesPerPage: b.ptesPerPage,
		framePool:   vm.NewFramePool(b.numFrames),
		ready:       vm.NewReadyQueue(),
		recorder:    b.recorder,
	}

	c.tlb = b.tlb
	if c.tlb == nil {
		c.tlb = tlb.MakeBuilder().
			WithNumEntries(int(b.ptesPerPage * b.ptesPerPage)).
			Build(name + ".TLB")
	}

	initial := vm.NewProcess(b.initialPID, b.ptesPerPage)
	c.current = initial
	c.ptbr = initial.PageTable

	if c.recorder != nil {
		c.recorder.CreateTable(mmuEventTable, mmuEvent{})
	}

	return c
}

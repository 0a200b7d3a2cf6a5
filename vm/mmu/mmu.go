// Package mmu provides the MMU core of the virtual memory simulator. It
// combines the page table, the frame pool, and the TLB, and exposes the
// operations the instruction driver issues: translation, demand allocation,
// page freeing, copy-on-write fault handling, and process switching with
// copy-on-write forking.
package mmu

import (
	"errors"

	"github.com/sarchlab/vmsim/datarecording"
	"github.com/sarchlab/vmsim/vm"
	"github.com/sarchlab/vmsim/vm/tlb"
)

// Errors reported to the driver. Each error aborts only the operation that
// raised it and leaves the simulation state untouched.
var (
	// ErrOutOfFrames is returned when every page frame is mapped.
	ErrOutOfFrames = errors.New("no free page frame")

	// ErrNoPageTable is returned when an operation is requested while no
	// process is running. It indicates driver misuse.
	ErrNoPageTable = errors.New("no active page table")

	// ErrInvalidAccessMode is returned for write-only allocation requests.
	ErrInvalidAccessMode = errors.New("allocation must include read access")

	// ErrNotMapped is returned when freeing a page that is not mapped.
	ErrNotMapped = errors.New("page is not mapped")

	// ErrAlreadyMapped is returned when allocating a vpn that is already
	// mapped.
	ErrAlreadyMapped = errors.New("vpn is already mapped")

	// ErrPIDInUse is returned when a switch requests the PID of the process
	// that is already running.
	ErrPIDInUse = errors.New("pid belongs to the running process")
)

// Comp is the MMU core. All operations run on the single logical thread of
// the driver; no locking is involved.
type Comp struct {
	name string

	ptesPerPage uint64

	tlb       *tlb.Comp
	framePool *vm.FramePool

	current *vm.Process
	ptbr    *vm.PageTable
	ready   *vm.ReadyQueue

	recorder datarecording.DataRecorder
}

// Name returns the name of the MMU.
func (c *Comp) Name() string {
	return c.name
}

// TLB returns the translation cache the MMU maintains.
func (c *Comp) TLB() *tlb.Comp {
	return c.tlb
}

// CurrentProcess returns the running process.
func (c *Comp) CurrentProcess() *vm.Process {
	return c.current
}

// FrameMapCount returns the number of valid PTEs referencing a frame.
func (c *Comp) FrameMapCount(frame uint64) uint32 {
	return c.framePool.MapCount(frame)
}

// NumFrames returns the size of the frame space.
func (c *Comp) NumFrames() uint64 {
	return c.framePool.NumFrames()
}

// ForEachProcess visits the running process and then every queued process.
func (c *Comp) ForEachProcess(f func(*vm.Process)) {
	if c.current != nil {
		f(c.current)
	}

	c.ready.ForEach(f)
}

// LookupTLB translates a vpn of the current process through the TLB. The
// bool return value reports whether the translation is cached.
func (c *Comp) LookupTLB(vpn uint64) (uint64, bool) {
	frame, hit := c.tlb.Lookup(vpn)

	if hit {
		c.record("tlb_hit", vpn, frame)
	} else {
		c.record("tlb_miss", vpn, 0)
	}

	return frame, hit
}

// InsertTLB caches the translation from vpn to frame.
func (c *Comp) InsertTLB(vpn, frame uint64) {
	c.tlb.Insert(vpn, frame)
}

// Translate resolves a vpn through the current page table, without touching
// the TLB. The bool return value reports whether the access can proceed: it
// is false when the mapping does not exist or when a write access hits a
// read-only mapping. The driver reacts to a false return by raising a page
// fault.
func (c *Comp) Translate(vpn uint64, mode vm.AccessMode) (uint64, bool) {
	if c.ptbr == nil {
		return 0, false
	}

	pte := c.ptbr.Walk(vpn)
	if pte == nil || !pte.Valid {
		return 0, false
	}

	if mode.IsWrite() && !pte.Writable {
		return 0, false
	}

	return pte.Frame, true
}

// AllocPage maps vpn to the free frame with the smallest frame number. The
// mapping is writable iff the access mode includes write. Write-only
// requests are rejected. On ErrOutOfFrames no state is changed; in
// particular, no empty page directory is left behind.
func (c *Comp) AllocPage(vpn uint64, mode vm.AccessMode) (uint64, error) {
	if c.ptbr == nil {
		return 0, ErrNoPageTable
	}

	if mode.IsWrite() && !mode.IsRead() {
		return 0, ErrInvalidAccessMode
	}

	if pte := c.ptbr.Walk(vpn); pte != nil && pte.Valid {
		return 0, ErrAlreadyMapped
	}

	frame, ok := c.framePool.AllocateLowestFree()
	if !ok {
		c.record("alloc_oom", vpn, 0)
		return 0, ErrOutOfFrames
	}

	dirIndex, entryIndex := c.ptbr.Decompose(vpn)
	dir := c.ptbr.EnsureDirectory(dirIndex)

	*dir.PTE(entryIndex) = vm.PTE{
		Valid:    true,
		Writable: mode.IsWrite(),
		Frame:    frame,
	}

	c.record("alloc", vpn, frame)

	return frame, nil
}

// FreePage removes the current process's mapping for vpn. The frame's
// mapcount drops by one; the frame becomes reusable once no other process
// references it. The PTE is cleared unconditionally, even while other
// processes still share the frame, because only the calling process's
// mapping is released. The covering directory is reclaimed if the freed
// entry was its last valid one.
func (c *Comp) FreePage(vpn uint64) error {
	if c.ptbr == nil {
		return ErrNoPageTable
	}

	pte := c.ptbr.Walk(vpn)
	if pte == nil || !pte.Valid {
		return ErrNotMapped
	}

	c.tlb.Invalidate(vpn)

	c.framePool.Decrement(pte.Frame)
	c.record("free", vpn, pte.Frame)

	*pte = vm.PTE{}

	dirIndex, _ := c.ptbr.Decompose(vpn)
	c.ptbr.ReclaimIfEmpty(dirIndex)

	return nil
}

// HandlePageFault resolves a fault raised after Translate failed for vpn.
// The only fault this engine resolves is a write to a valid, read-only,
// copy-on-write mapping: the shared claim on the old frame is released and
// the mapping is rebound, writable, to a fresh exclusive frame. Faults on
// pages that were never allocated, and writes to read-only mappings that are
// not copy-on-write, are reported as unresolved. The return value reports
// whether the fault was resolved.
func (c *Comp) HandlePageFault(vpn uint64, mode vm.AccessMode) bool {
	if c.ptbr == nil {
		return false
	}

	pte := c.ptbr.Walk(vpn)
	if pte == nil || !pte.Valid {
		c.record("fault_unmapped", vpn, 0)
		return false
	}

	if !mode.IsWrite() || pte.Writable {
		// Translate would have succeeded; nothing to resolve.
		return false
	}

	if !pte.COWShared {
		c.record("fault_protection", vpn, pte.Frame)
		return false
	}

	return c.resolveCopyOnWrite(vpn, pte)
}

func (c *Comp) resolveCopyOnWrite(vpn uint64, pte *vm.PTE) bool {
	oldFrame := pte.Frame

	// Release the shared claim first so that a frame this process held as
	// the last sharer can serve as its own private copy.
	c.framePool.Decrement(oldFrame)

	newFrame, ok := c.framePool.AllocateLowestFree()
	if !ok {
		c.framePool.Increment(oldFrame)
		c.record("fault_oom", vpn, oldFrame)

		return false
	}

	pte.Writable = true
	pte.COWShared = false
	pte.Frame = newFrame

	c.tlb.Invalidate(vpn)
	c.record("fault_cow", vpn, newFrame)

	return true
}

func (c *Comp) record(op string, vpn, frame uint64) {
	if c.recorder == nil {
		return
	}

	c.recorder.InsertData(mmuEventTable, mmuEvent{
		PID:   uint32(c.current.PID),
		Op:    op,
		VPN:   vpn,
		Frame: frame,
	})
}

const mmuEventTable = "mmu_events"

type mmuEvent struct {
	PID   uint32
	Op    string
	VPN   uint64
	Frame uint64
}

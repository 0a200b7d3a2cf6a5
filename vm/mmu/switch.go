package mmu

import (
	"github.com/sarchlab/vmsim/vm"
)

// SwitchProcess hands the CPU to the process with the given PID. If the PID
// is found in the ready queue, the queued process resumes. Otherwise, the
// request is a fork: a new process with that PID is created as a
// copy-on-write clone of the running process. Either way, the outgoing
// process is put into the ready queue, the page-table base moves to the new
// current process, and the TLB is flushed.
func (c *Comp) SwitchProcess(pid vm.PID) error {
	if c.current == nil {
		return ErrNoPageTable
	}

	if pid == c.current.PID {
		return ErrPIDInUse
	}

	next, found := c.ready.Find(pid)
	if found {
		c.switchTo(next)
		c.record("switch", 0, 0)

		return nil
	}

	child := c.forkCurrent(pid)
	c.ready.Add(c.current)
	c.activate(child)
	c.record("fork", 0, 0)

	return nil
}

// switchTo resumes a queued process. Every writable mapping of the outgoing
// process is downgraded to read-only, copy-on-write. The downgrade is
// unconditional: it protects mappings the outgoing process may share with
// any other process from silently diverging while it is not running.
func (c *Comp) switchTo(next *vm.Process) {
	c.downgradeWritable(c.current.PageTable)

	c.ready.Add(c.current)
	c.ready.Remove(next.PID)
	c.activate(next)
}

// forkCurrent builds a new process whose page table carries the same
// mappings as the running process's, frame for frame. Every shared frame
// gains one mapcount. Mappings that are writable in the parent are
// downgraded on both sides to read-only, copy-on-write, so that the first
// write by either process triggers a private copy. Mappings that are
// already read-only or copy-on-write are carried over unchanged.
func (c *Comp) forkCurrent(pid vm.PID) *vm.Process {
	child := vm.NewProcess(pid, c.ptesPerPage)

	parentTable := c.current.PageTable

	for dirIndex := uint64(0); dirIndex < c.ptesPerPage; dirIndex++ {
		dir := parentTable.Directory(dirIndex)
		if dir == nil {
			continue
		}

		for entryIndex := uint64(0); entryIndex < c.ptesPerPage; entryIndex++ {
			pte := dir.PTE(entryIndex)
			if !pte.Valid {
				continue
			}

			childDir := child.PageTable.EnsureDirectory(dirIndex)
			childPTE := childDir.PTE(entryIndex)
			*childPTE = *pte

			if pte.Writable {
				pte.Writable = false
				pte.COWShared = true
				childPTE.Writable = false
				childPTE.COWShared = true
			}

			c.framePool.Increment(pte.Frame)
		}
	}

	return child
}

func (c *Comp) downgradeWritable(table *vm.PageTable) {
	for dirIndex := uint64(0); dirIndex < c.ptesPerPage; dirIndex++ {
		dir := table.Directory(dirIndex)
		if dir == nil {
			continue
		}

		for entryIndex := uint64(0); entryIndex < c.ptesPerPage; entryIndex++ {
			pte := dir.PTE(entryIndex)
			if pte.Valid && pte.Writable {
				pte.Writable = false
				pte.COWShared = true
			}
		}
	}
}

// activate promotes a process to current. The page-table base register
// always points at the current process's page table, and the TLB never
// carries another process's translations.
func (c *Comp) activate(p *vm.Process) {
	c.current = p
	c.ptbr = p.PageTable
	c.tlb.InvalidateAll()
}

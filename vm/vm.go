// Package vm provides the data model of the virtual memory simulator,
// including page tables, the page frame pool, and processes.
package vm

// PID stands for Process ID.
type PID uint32

// An AccessMode describes how a virtual page is accessed.
type AccessMode uint32

// Access modes can be combined with bitwise or.
const (
	AccessRead AccessMode = 1 << iota
	AccessWrite
)

// IsRead returns true if the mode includes read access.
func (m AccessMode) IsRead() bool {
	return m&AccessRead != 0
}

// IsWrite returns true if the mode includes write access.
func (m AccessMode) IsWrite() bool {
	return m&AccessWrite != 0
}

// A PTE is a page-table entry. It maps one virtual page to one page frame.
// A PTE only carries meaning while Valid is true; an invalid PTE has all
// other fields at their zero values.
type PTE struct {
	Valid     bool
	Writable  bool
	COWShared bool
	Frame     uint64
}

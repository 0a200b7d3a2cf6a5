package vm

import "fmt"

// A PageDirectory is the inner level of a two-level page table. It holds one
// PTE per entry index and is allocated lazily, only while at least one of its
// entries is valid.
type PageDirectory struct {
	ptes []PTE
}

// PTE returns the entry at the given index within the directory.
func (d *PageDirectory) PTE(entryIndex uint64) *PTE {
	return &d.ptes[entryIndex]
}

// NumValid counts the valid entries in the directory.
func (d *PageDirectory) NumValid() int {
	count := 0
	for i := range d.ptes {
		if d.ptes[i].Valid {
			count++
		}
	}

	return count
}

// A PageTable is a two-level radix table that maps virtual page numbers to
// page frames. Each process owns exactly one page table.
type PageTable struct {
	ptesPerPage uint64
	directories []*PageDirectory
}

// NewPageTable creates an empty page table with the given number of entries
// per level.
func NewPageTable(ptesPerPage uint64) *PageTable {
	return &PageTable{
		ptesPerPage: ptesPerPage,
		directories: make([]*PageDirectory, ptesPerPage),
	}
}

// PTEsPerPage returns the number of entries per level.
func (pt *PageTable) PTEsPerPage() uint64 {
	return pt.ptesPerPage
}

// NumVPNs returns the number of virtual pages the table can map.
func (pt *PageTable) NumVPNs() uint64 {
	return pt.ptesPerPage * pt.ptesPerPage
}

// Decompose splits a virtual page number into its directory index and entry
// index.
func (pt *PageTable) Decompose(vpn uint64) (dirIndex, entryIndex uint64) {
	pt.vpnMustBeInRange(vpn)
	return vpn / pt.ptesPerPage, vpn % pt.ptesPerPage
}

// Walk resolves a virtual page number to its PTE. It returns nil if the
// covering directory is not allocated. A nil return is not an error; it means
// the mapping does not exist and the caller decides whether to establish one.
func (pt *PageTable) Walk(vpn uint64) *PTE {
	dirIndex, entryIndex := pt.Decompose(vpn)

	dir := pt.directories[dirIndex]
	if dir == nil {
		return nil
	}

	return dir.PTE(entryIndex)
}

// Directory returns the directory at the given index, or nil if it is not
// allocated.
func (pt *PageTable) Directory(dirIndex uint64) *PageDirectory {
	return pt.directories[dirIndex]
}

// EnsureDirectory returns the directory at the given index, allocating a
// zero-initialized one if absent.
func (pt *PageTable) EnsureDirectory(dirIndex uint64) *PageDirectory {
	dir := pt.directories[dirIndex]
	if dir == nil {
		dir = &PageDirectory{ptes: make([]PTE, pt.ptesPerPage)}
		pt.directories[dirIndex] = dir
	}

	return dir
}

// ReclaimIfEmpty releases the directory at the given index if it no longer
// holds any valid entry.
func (pt *PageTable) ReclaimIfEmpty(dirIndex uint64) {
	dir := pt.directories[dirIndex]
	if dir == nil {
		return
	}

	if dir.NumValid() == 0 {
		pt.directories[dirIndex] = nil
	}
}

func (pt *PageTable) vpnMustBeInRange(vpn uint64) {
	if vpn >= pt.NumVPNs() {
		panic(fmt.Sprintf("vpn %d out of range, table maps %d pages",
			vpn, pt.NumVPNs()))
	}
}

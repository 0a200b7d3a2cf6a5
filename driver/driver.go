// Package driver executes access traces against the MMU core. It plays the
// role of the CPU: it decides which virtual page to touch and with what
// access mode, performs translations through the TLB, and raises page faults
// when a translation fails.
package driver

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sarchlab/vmsim/vm"
	"github.com/sarchlab/vmsim/vm/mmu"
)

// ErrMalformedTrace is returned when a trace line cannot be parsed.
var ErrMalformedTrace = errors.New("malformed trace line")

// A Driver feeds trace events into an MMU core, one at a time.
type Driver struct {
	mmu *mmu.Comp
	out io.Writer
}

// New creates a driver for the given MMU core. Outcome lines are written to
// standard output.
func New(m *mmu.Comp) *Driver {
	return &Driver{
		mmu: m,
		out: os.Stdout,
	}
}

// WithOutput redirects the driver's outcome lines.
func (d *Driver) WithOutput(w io.Writer) *Driver {
	d.out = w
	return d
}

// Run executes every event in the trace. Blank lines and lines starting with
// '#' are skipped. Malformed lines are diagnosed and skipped; they never
// stop the run.
//
// Trace format, one event per line:
//
//	r <vpn>      read access
//	w <vpn>      write access
//	a <vpn> [w]  allocate a page, read-write when "w" is given
//	f <vpn>      free a page
//	s <pid>      switch to (or fork) the process with the pid
func (d *Driver) Run(r io.Reader) error {
	scanner := bufio.NewScanner(r)

	lineNo := 0
	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if err := d.ExecLine(line); err != nil {
			fmt.Fprintf(os.Stderr, "line %d: %s\n", lineNo, err)
		}
	}

	return scanner.Err()
}

// ExecLine parses and executes a single trace event.
func (d *Driver) ExecLine(line string) error {
	fields := strings.Fields(line)

	op := fields[0]
	if len(fields) < 2 {
		return fmt.Errorf("%w: %q", ErrMalformedTrace, line)
	}

	arg, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrMalformedTrace, line)
	}

	switch op {
	case "r":
		d.access(arg, vm.AccessRead)
	case "w":
		d.access(arg, vm.AccessRead|vm.AccessWrite)
	case "a":
		mode := vm.AccessMode(vm.AccessRead)
		if len(fields) > 2 && fields[2] == "w" {
			mode |= vm.AccessWrite
		}
		d.alloc(arg, mode)
	case "f":
		d.free(arg)
	case "s":
		d.switchProcess(vm.PID(arg))
	default:
		return fmt.Errorf("%w: unknown op %q", ErrMalformedTrace, op)
	}

	return nil
}

// access translates a vpn the way the hardware would: TLB first, then the
// page-table walk, then a page fault. A translation that succeeds past the
// TLB populates it for the next access. TLB entries carry no permission
// bits, so a write access is always verified against the page table; a
// cached translation of a read-only page must not let a write through.
func (d *Driver) access(vpn uint64, mode vm.AccessMode) {
	cachedFrame, tlbHit := d.mmu.LookupTLB(vpn)
	if tlbHit && !mode.IsWrite() {
		d.report(vpn, cachedFrame, "tlb hit")
		return
	}

	if frame, ok := d.mmu.Translate(vpn, mode); ok {
		if tlbHit {
			d.report(vpn, frame, "tlb hit")
			return
		}

		d.mmu.InsertTLB(vpn, frame)
		d.report(vpn, frame, "walk hit")

		return
	}

	if d.mmu.HandlePageFault(vpn, mode) {
		frame, ok := d.mmu.Translate(vpn, mode)
		if !ok {
			panic("translation failed right after a resolved page fault")
		}

		d.mmu.InsertTLB(vpn, frame)
		d.report(vpn, frame, "fault resolved")

		return
	}

	fmt.Fprintf(d.out, "pid %d vpn %d: segfault\n",
		d.mmu.CurrentProcess().PID, vpn)
}

func (d *Driver) alloc(vpn uint64, mode vm.AccessMode) {
	frame, err := d.mmu.AllocPage(vpn, mode)
	if err != nil {
		fmt.Fprintf(d.out, "pid %d vpn %d: alloc failed: %s\n",
			d.mmu.CurrentProcess().PID, vpn, err)
		return
	}

	d.report(vpn, frame, "allocated")
}

func (d *Driver) free(vpn uint64) {
	if err := d.mmu.FreePage(vpn); err != nil {
		fmt.Fprintf(d.out, "pid %d vpn %d: free failed: %s\n",
			d.mmu.CurrentProcess().PID, vpn, err)
		return
	}

	fmt.Fprintf(d.out, "pid %d vpn %d: freed\n",
		d.mmu.CurrentProcess().PID, vpn)
}

func (d *Driver) switchProcess(pid vm.PID) {
	if err := d.mmu.SwitchProcess(pid); err != nil {
		fmt.Fprintf(d.out, "switch to pid %d failed: %s\n", pid, err)
		return
	}

	fmt.Fprintf(d.out, "running pid %d\n", d.mmu.CurrentProcess().PID)
}

func (d *Driver) report(vpn, frame uint64, outcome string) {
	fmt.Fprintf(d.out, "pid %d vpn %d -> frame %d (%s)\n",
		d.mmu.CurrentProcess().PID, vpn, frame, outcome)
}

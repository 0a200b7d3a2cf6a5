package mmu

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/vmsim/vm"
)

// expectMapCountsConsistent checks that, for every frame, the mapcount equals
// the number of valid PTEs across all processes referencing the frame.
func expectMapCountsConsistent(c *Comp) {
	counts := make(map[uint64]uint32)

	c.ForEachProcess(func(p *vm.Process) {
		table := p.PageTable
		for vpn := uint64(0); vpn < table.NumVPNs(); vpn++ {
			pte := table.Walk(vpn)
			if pte != nil && pte.Valid {
				counts[pte.Frame]++
			}
		}
	})

	for frame := uint64(0); frame < c.NumFrames(); frame++ {
		ExpectWithOffset(1, c.FrameMapCount(frame)).
			To(Equal(counts[frame]),
				"mapcount of frame %d out of sync", frame)
	}
}

var _ = Describe("MMU", func() {
	var c *Comp

	rw := vm.AccessRead | vm.AccessWrite

	BeforeEach(func() {
		c = MakeBuilder().
			WithPTEsPerPage(4).
			WithNumFrames(8).
			Build("MMU")
	})

	Context("allocation", func() {
		It("should allocate the lowest free frame", func() {
			frame, err := c.AllocPage(5, vm.AccessRead)

			Expect(err).To(BeNil())
			Expect(frame).To(Equal(uint64(0)))
			Expect(c.FrameMapCount(0)).To(Equal(uint32(1)))
			expectMapCountsConsistent(c)
		})

		It("should mark the mapping writable only for read-write requests",
			func() {
				c.AllocPage(1, vm.AccessRead)
				c.AllocPage(2, rw)

				readOnly := c.CurrentProcess().PageTable.Walk(1)
				Expect(readOnly.Writable).To(BeFalse())

				writable := c.CurrentProcess().PageTable.Walk(2)
				Expect(writable.Writable).To(BeTrue())
				Expect(writable.COWShared).To(BeFalse())
			})

		It("should reject write-only requests", func() {
			_, err := c.AllocPage(5, vm.AccessWrite)

			Expect(err).To(MatchError(ErrInvalidAccessMode))
			Expect(c.CurrentProcess().PageTable.Walk(5)).To(BeNil())
		})

		It("should reject double allocation", func() {
			c.AllocPage(5, vm.AccessRead)

			_, err := c.AllocPage(5, rw)

			Expect(err).To(MatchError(ErrAlreadyMapped))
			expectMapCountsConsistent(c)
		})

		It("should reuse the lowest freed frame", func() {
			c.AllocPage(0, vm.AccessRead)
			c.AllocPage(1, vm.AccessRead)
			c.AllocPage(2, vm.AccessRead)

			c.FreePage(1)

			frame, err := c.AllocPage(9, vm.AccessRead)
			Expect(err).To(BeNil())
			Expect(frame).To(Equal(uint64(1)))
		})

		It("should fail without side effects when out of frames", func() {
			for vpn := uint64(0); vpn < 8; vpn++ {
				_, err := c.AllocPage(vpn, vm.AccessRead)
				Expect(err).To(BeNil())
			}

			_, err := c.AllocPage(9, vm.AccessRead)

			Expect(err).To(MatchError(ErrOutOfFrames))
			Expect(c.CurrentProcess().PageTable.Walk(9)).To(BeNil())
			Expect(c.CurrentProcess().PageTable.Directory(2)).To(BeNil(),
				"a failed allocation must not leave an empty directory")
			expectMapCountsConsistent(c)
		})
	})

	Context("freeing", func() {
		It("should clear the PTE and release the frame", func() {
			c.AllocPage(5, rw)

			err := c.FreePage(5)

			Expect(err).To(BeNil())
			Expect(c.FrameMapCount(0)).To(Equal(uint32(0)))
			Expect(c.CurrentProcess().PageTable.Walk(5)).To(BeNil(),
				"the directory should be reclaimed with its last entry")
			expectMapCountsConsistent(c)
		})

		It("should keep a directory that still has valid entries", func() {
			c.AllocPage(4, vm.AccessRead)
			c.AllocPage(5, vm.AccessRead)

			c.FreePage(5)

			Expect(c.CurrentProcess().PageTable.Directory(1)).NotTo(BeNil())

			pte := c.CurrentProcess().PageTable.Walk(5)
			Expect(pte).NotTo(BeNil())
			Expect(*pte).To(Equal(vm.PTE{}),
				"a freed PTE must be fully reset")
		})

		It("should purge the TLB entry of the freed page", func() {
			frame, _ := c.AllocPage(5, vm.AccessRead)
			c.InsertTLB(5, frame)

			c.FreePage(5)

			_, hit := c.LookupTLB(5)
			Expect(hit).To(BeFalse())
		})

		It("should reject freeing an unmapped page", func() {
			Expect(c.FreePage(5)).To(MatchError(ErrNotMapped))
		})

		It("should release only the caller's mapping of a shared frame",
			func() {
				c.AllocPage(5, rw)
				c.SwitchProcess(1)

				err := c.FreePage(5)

				Expect(err).To(BeNil())
				Expect(c.CurrentProcess().PageTable.Walk(5)).To(BeNil())
				Expect(c.FrameMapCount(0)).To(Equal(uint32(1)),
					"the other process still holds the frame")
				expectMapCountsConsistent(c)
			})
	})

	Context("page faults", func() {
		It("should not resolve a fault on a never-allocated page", func() {
			Expect(c.HandlePageFault(5, vm.AccessRead)).To(BeFalse())
			Expect(c.HandlePageFault(5, rw)).To(BeFalse())
		})

		It("should not resolve a write to a plain read-only page", func() {
			c.AllocPage(5, vm.AccessRead)

			Expect(c.HandlePageFault(5, rw)).To(BeFalse())

			pte := c.CurrentProcess().PageTable.Walk(5)
			Expect(pte.Writable).To(BeFalse())
			expectMapCountsConsistent(c)
		})

		It("should resolve a write to a copy-on-write page", func() {
			c.AllocPage(5, rw)
			c.SwitchProcess(1)

			resolved := c.HandlePageFault(5, rw)

			Expect(resolved).To(BeTrue())

			pte := c.CurrentProcess().PageTable.Walk(5)
			Expect(pte.Writable).To(BeTrue())
			Expect(pte.COWShared).To(BeFalse())
			Expect(pte.Frame).To(Equal(uint64(1)),
				"the writer rebinds to a fresh frame")
			Expect(c.FrameMapCount(0)).To(Equal(uint32(1)),
				"the parent keeps the original frame")
			expectMapCountsConsistent(c)
		})

		It("should purge the stale TLB entry on resolution", func() {
			c.AllocPage(5, rw)
			c.SwitchProcess(1)
			c.InsertTLB(5, 0)

			c.HandlePageFault(5, rw)

			_, hit := c.LookupTLB(5)
			Expect(hit).To(BeFalse())
		})

		It("should fail and restore state when no frame is free", func() {
			small := MakeBuilder().
				WithPTEsPerPage(4).
				WithNumFrames(1).
				Build("SmallMMU")
			small.AllocPage(5, rw)
			small.SwitchProcess(1)

			resolved := small.HandlePageFault(5, rw)

			Expect(resolved).To(BeFalse())
			Expect(small.FrameMapCount(0)).To(Equal(uint32(2)),
				"the shared claim must be restored")
			expectMapCountsConsistent(small)
		})

		It("should let the last sharer copy into its own frame", func() {
			small := MakeBuilder().
				WithPTEsPerPage(4).
				WithNumFrames(1).
				Build("SmallMMU")
			small.AllocPage(5, rw)
			small.SwitchProcess(1)
			small.FreePage(5)
			small.SwitchProcess(0)

			resolved := small.HandlePageFault(5, rw)

			Expect(resolved).To(BeTrue())

			pte := small.CurrentProcess().PageTable.Walk(5)
			Expect(pte.Writable).To(BeTrue())
			Expect(pte.Frame).To(Equal(uint64(0)))
			Expect(small.FrameMapCount(0)).To(Equal(uint32(1)))
			expectMapCountsConsistent(small)
		})
	})

	Context("switching and forking", func() {
		It("should reject the pid of the running process", func() {
			Expect(c.SwitchProcess(0)).To(MatchError(ErrPIDInUse))
		})

		It("should fork when the pid is not queued", func() {
			c.AllocPage(5, rw)

			err := c.SwitchProcess(1)

			Expect(err).To(BeNil())
			Expect(c.CurrentProcess().PID).To(Equal(vm.PID(1)))

			childPTE := c.CurrentProcess().PageTable.Walk(5)
			Expect(childPTE.Valid).To(BeTrue())
			Expect(childPTE.Writable).To(BeFalse())
			Expect(childPTE.COWShared).To(BeTrue())
			Expect(childPTE.Frame).To(Equal(uint64(0)))

			Expect(c.FrameMapCount(0)).To(Equal(uint32(2)))
			expectMapCountsConsistent(c)
		})

		It("should downgrade the parent's writable mappings on fork", func() {
			c.AllocPage(5, rw)
			c.AllocPage(6, vm.AccessRead)

			c.SwitchProcess(1)
			c.SwitchProcess(0)

			writableBefore := c.CurrentProcess().PageTable.Walk(5)
			Expect(writableBefore.Writable).To(BeFalse())
			Expect(writableBefore.COWShared).To(BeTrue())

			readOnlyBefore := c.CurrentProcess().PageTable.Walk(6)
			Expect(readOnlyBefore.Writable).To(BeFalse())
			Expect(readOnlyBefore.COWShared).To(BeFalse(),
				"read-only mappings are copied as-is")
		})

		It("should flush the TLB on every switch", func() {
			frame, _ := c.AllocPage(5, vm.AccessRead)
			c.InsertTLB(5, frame)

			c.SwitchProcess(1)

			Expect(c.TLB().NumValid()).To(Equal(0))
		})

		It("should round-trip through the ready queue", func() {
			c.AllocPage(5, rw)
			c.SwitchProcess(1)

			err := c.SwitchProcess(0)

			Expect(err).To(BeNil())
			Expect(c.CurrentProcess().PID).To(Equal(vm.PID(0)))

			queued := 0
			c.ForEachProcess(func(*vm.Process) { queued++ })
			Expect(queued).To(Equal(2),
				"the previous current process is requeued, never dropped")

			pte := c.CurrentProcess().PageTable.Walk(5)
			Expect(pte.Frame).To(Equal(uint64(0)),
				"the page table survives the round trip")
			expectMapCountsConsistent(c)
		})

		It("should run the full fork copy-on-write scenario", func() {
			// Parent maps a throwaway page and the contended page.
			c.AllocPage(9, rw)          // frame 0
			frame, _ := c.AllocPage(5, rw) // frame 1, shared after fork
			Expect(frame).To(Equal(uint64(1)))

			c.SwitchProcess(1)
			Expect(c.FrameMapCount(1)).To(Equal(uint32(2)))

			// The parent writes first and copies to a fresh frame.
			c.SwitchProcess(0)
			Expect(c.HandlePageFault(5, rw)).To(BeTrue())
			parentPTE := c.CurrentProcess().PageTable.Walk(5)
			Expect(parentPTE.Frame).To(Equal(uint64(2)))
			Expect(c.FrameMapCount(1)).To(Equal(uint32(1)))

			// Both drop the throwaway page so frame 0 becomes free.
			c.FreePage(9)
			c.SwitchProcess(1)
			c.FreePage(9)

			// The child's write then lands on a third distinct frame.
			Expect(c.HandlePageFault(5, rw)).To(BeTrue())
			childPTE := c.CurrentProcess().PageTable.Walk(5)
			Expect(childPTE.Frame).To(Equal(uint64(0)))
			Expect(c.FrameMapCount(1)).To(Equal(uint32(0)),
				"no process references the originally shared frame")
			expectMapCountsConsistent(c)
		})
	})

	Context("recording", func() {
		var (
			mockCtrl *gomock.Controller
			recorder *MockDataRecorder
		)

		BeforeEach(func() {
			mockCtrl = gomock.NewController(GinkgoT())
			recorder = NewMockDataRecorder(mockCtrl)
		})

		AfterEach(func() {
			mockCtrl.Finish()
		})

		It("should create the event table at build time", func() {
			recorder.EXPECT().CreateTable(mmuEventTable, mmuEvent{})

			MakeBuilder().WithDataRecorder(recorder).Build("RecordingMMU")
		})

		It("should record allocations", func() {
			recorder.EXPECT().CreateTable(mmuEventTable, mmuEvent{})
			rec := MakeBuilder().WithDataRecorder(recorder).Build("RecordingMMU")

			recorder.EXPECT().InsertData(mmuEventTable,
				mmuEvent{PID: 0, Op: "alloc", VPN: 5, Frame: 0})

			rec.AllocPage(5, rw)
		})
	})
})

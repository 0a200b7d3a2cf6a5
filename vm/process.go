package vm

import (
	"container/list"
	"fmt"
)

// A Process owns one page table. At any time a process is either the running
// process or sits in the ready queue, never both.
type Process struct {
	PID       PID
	PageTable *PageTable
}

// NewProcess creates a process with an empty page table.
func NewProcess(pid PID, ptesPerPage uint64) *Process {
	return &Process{
		PID:       pid,
		PageTable: NewPageTable(ptesPerPage),
	}
}

// A ReadyQueue holds the runnable-but-not-running processes. It preserves
// insertion order and supports removal by PID.
type ReadyQueue struct {
	entries      *list.List
	entriesTable map[PID]*list.Element
}

// NewReadyQueue creates an empty ready queue.
func NewReadyQueue() *ReadyQueue {
	return &ReadyQueue{
		entries:      list.New(),
		entriesTable: make(map[PID]*list.Element),
	}
}

// Len returns the number of queued processes.
func (q *ReadyQueue) Len() int {
	return q.entries.Len()
}

// Add appends a process to the queue.
func (q *ReadyQueue) Add(p *Process) {
	q.processMustNotExist(p.PID)

	elem := q.entries.PushBack(p)
	q.entriesTable[p.PID] = elem
}

// Find returns the queued process with the given PID. The bool return value
// reports whether such a process is queued.
func (q *ReadyQueue) Find(pid PID) (*Process, bool) {
	elem, found := q.entriesTable[pid]
	if !found {
		return nil, false
	}

	return elem.Value.(*Process), true
}

// Remove unlinks the process with the given PID from the queue and returns
// it.
func (q *ReadyQueue) Remove(pid PID) *Process {
	q.processMustExist(pid)

	elem := q.entriesTable[pid]
	q.entries.Remove(elem)
	delete(q.entriesTable, pid)

	return elem.Value.(*Process)
}

// ForEach visits every queued process in insertion order.
func (q *ReadyQueue) ForEach(f func(*Process)) {
	for elem := q.entries.Front(); elem != nil; elem = elem.Next() {
		f(elem.Value.(*Process))
	}
}

func (q *ReadyQueue) processMustExist(pid PID) {
	if _, found := q.entriesTable[pid]; !found {
		panic(fmt.Sprintf("process %d is not in the ready queue", pid))
	}
}

func (q *ReadyQueue) processMustNotExist(pid PID) {
	if _, found := q.entriesTable[pid]; found {
		panic(fmt.Sprintf("process %d is already in the ready queue", pid))
	}
}

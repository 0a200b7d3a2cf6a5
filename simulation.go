// Package vmsim provides a single-CPU virtual memory simulator. The MMU core
// lives in vm/mmu; this package wires the core together with recording and
// monitoring services.
package vmsim

import (
	"github.com/rs/xid"

	"github.com/sarchlab/vmsim/datarecording"
	"github.com/sarchlab/vmsim/monitoring"
)

// A Named object is an object that has a name.
type Named interface {
	Name() string
}

// A Simulation provides the services required to define a simulation.
type Simulation struct {
	id            string
	components    []Named
	compNameIndex map[string]int

	dataRecorder datarecording.DataRecorder
	monitor      *monitoring.Monitor
}

// NewSimulation creates a new simulation.
func NewSimulation() *Simulation {
	return &Simulation{
		id:            xid.New().String(),
		compNameIndex: make(map[string]int),
	}
}

// ID returns the unique ID of the simulation run.
func (s *Simulation) ID() string {
	return s.id
}

// RegisterComponent registers a component with the simulation.
func (s *Simulation) RegisterComponent(c Named) {
	compName := c.Name()
	if _, ok := s.compNameIndex[compName]; ok {
		panic("component " + compName + " already registered")
	}

	s.components = append(s.components, c)
	s.compNameIndex[compName] = len(s.components) - 1

	if s.monitor != nil {
		s.monitor.RegisterComponent(c)
	}
}

// GetComponentByName returns the component with the given name.
func (s *Simulation) GetComponentByName(name string) Named {
	index, ok := s.compNameIndex[name]
	if !ok {
		return nil
	}

	return s.components[index]
}

// Components returns all the registered components.
func (s *Simulation) Components() []Named {
	return s.components
}

// RegisterDataRecorder sets the recorder that components of the simulation
// write events to.
func (s *Simulation) RegisterDataRecorder(r datarecording.DataRecorder) {
	s.dataRecorder = r
}

// DataRecorder returns the recorder of the simulation, or nil if none is
// registered.
func (s *Simulation) DataRecorder() datarecording.DataRecorder {
	return s.dataRecorder
}

// RegisterMonitor attaches a monitor to the simulation. Components that are
// already registered become visible to the monitor.
func (s *Simulation) RegisterMonitor(m *monitoring.Monitor) {
	s.monitor = m

	for _, c := range s.components {
		m.RegisterComponent(c)
	}
}

// Monitor returns the monitor of the simulation, or nil if none is attached.
func (s *Simulation) Monitor() *monitoring.Monitor {
	return s.monitor
}

// Terminate flushes the recorder. It must be called when the simulation
// ends.
func (s *Simulation) Terminate() {
	if s.dataRecorder != nil {
		s.dataRecorder.Flush()
	}
}

package tlb

// A Builder can build TLBs.
type Builder struct {
	numEntries int
}

// MakeBuilder returns a Builder with default configurations.
func MakeBuilder() Builder {
	return Builder{
		numEntries: 256,
	}
}

// WithNumEntries sets the capacity of the TLB.
func (b Builder) WithNumEntries(n int) Builder {
	b.numEntries = n
	return b
}

// Build creates a new TLB.
func (b Builder) Build(name string) *Comp {
	t := &Comp{
		name:    name,
		entries: make([]entry, b.numEntries),
	}

	t.reset()

	return t
}

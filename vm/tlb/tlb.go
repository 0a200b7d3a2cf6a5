// Package tlb provides the translation cache of the simulator.
package tlb

// An entry caches one vpn-to-frame translation of the current process.
type entry struct {
	valid bool
	vpn   uint64
	frame uint64
}

// Comp is a small associative cache of vpn-to-frame translations. It only
// holds translations of the currently running process and is invalidated
// wholesale on every process switch or fork.
type Comp struct {
	name    string
	entries []entry
}

// Name returns the name of the TLB.
func (c *Comp) Name() string {
	return c.name
}

// NumEntries returns the capacity of the TLB.
func (c *Comp) NumEntries() int {
	return len(c.entries)
}

// NumValid returns the number of cached translations.
func (c *Comp) NumValid() int {
	count := 0
	for i := range c.entries {
		if c.entries[i].valid {
			count++
		}
	}

	return count
}

// Lookup translates a vpn through the cache. It has no side effects. The
// bool return value reports whether the translation is cached.
func (c *Comp) Lookup(vpn uint64) (uint64, bool) {
	for i := range c.entries {
		e := &c.entries[i]
		if e.valid && e.vpn == vpn {
			return e.frame, true
		}
	}

	return 0, false
}

// Insert caches the translation from vpn to frame in the first invalid slot.
// When every slot is valid the insert is silently dropped; the TLB has no
// eviction policy. This is a documented simplification of the model, not an
// oversight.
func (c *Comp) Insert(vpn, frame uint64) {
	for i := range c.entries {
		e := &c.entries[i]
		if !e.valid {
			*e = entry{valid: true, vpn: vpn, frame: frame}
			return
		}
	}
}

// Invalidate drops every cached translation for the given vpn. It is used
// when a single mapping is freed or reassigned.
func (c *Comp) Invalidate(vpn uint64) {
	for i := range c.entries {
		e := &c.entries[i]
		if e.valid && e.vpn == vpn {
			*e = entry{}
		}
	}
}

// InvalidateAll clears the whole cache. It must be called whenever the
// running process changes, as the cache carries no PID tags.
func (c *Comp) InvalidateAll() {
	c.reset()
}

func (c *Comp) reset() {
	for i := range c.entries {
		c.entries[i] = entry{}
	}
}

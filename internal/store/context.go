package store

import "maps"

// Context is a vector clock: a per-host logical counter attached to every
// stored version, used to detect causality and conflicts between writes
// made at different coordinators (spec §3 "Versioning").
//
// Each write increments the coordinating node's own counter. Comparing
// two contexts tells us whether one strictly happened-before the other,
// or whether they are concurrent (neither dominates) — a true conflict
// that must be surfaced to the client as siblings rather than silently
// resolved.
type Context map[string]int64

// Relation describes how two contexts relate under vector-clock
// dominance.
type Relation int

const (
	Equal      Relation = iota // identical counters everywhere
	Before                     // this context is strictly older
	After                      // this context is strictly newer
	Concurrent                 // neither dominates: a real conflict
)

// Increment bumps host's counter by one. Call this once per write made
// at host.
func (c Context) Increment(host string) {
	c[host]++
}

// Compare determines how c relates to other.
func (c Context) Compare(other Context) Relation {
	cDominates := false
	otherDominates := false

	for host, n := range c {
		if n > other[host] {
			cDominates = true
		} else if n < other[host] {
			otherDominates = true
		}
	}
	for host, n := range other {
		if _, ok := c[host]; !ok && n > 0 {
			otherDominates = true
		}
	}

	switch {
	case !cDominates && !otherDominates:
		return Equal
	case cDominates && !otherDominates:
		return After
	case !cDominates && otherDominates:
		return Before
	default:
		return Concurrent
	}
}

// Dominates reports whether c strictly dominates other (other happened
// before c and c is not merely equal to it).
func (c Context) Dominates(other Context) bool {
	return c.Compare(other) == After
}

// Merge returns a new context holding, for each host, the maximum of the
// two inputs' counters. It does not resolve conflicts — it only combines
// version history, e.g. when a client round-trips a context it read back
// into a subsequent write.
func (c Context) Merge(other Context) Context {
	merged := c.Copy()
	for host, n := range other {
		if n > merged[host] {
			merged[host] = n
		}
	}
	return merged
}

// Copy returns a deep copy, since Context is map-typed and two variables
// sharing the same map would silently alias mutations.
func (c Context) Copy() Context {
	out := make(Context, len(c))
	maps.Copy(out, c)
	return out
}

package tplayer

import (
	"slices"
	"strings"

	"github.com/bits-and-blooms/bitset"
)

// knownCapabilities lists every capability name this build understands.
// The index of a name is its bit in a [Capabilities] set.
// Sets never cross the process boundary as bits (the wire carries names),
// so only the order of [Capabilities.Names] depends on this order.
var knownCapabilities = []string{
	"base",
	"avatar",
	"emote",
	"follow",
	"location-messages",
	"realm-bookmarks",
	"guest-hosting",
}

// KnownCapabilities returns a copy of every capability name this build understands.
func KnownCapabilities() []string {
	return slices.Clone(knownCapabilities)
}

// Capabilities is a set of named features
// supported by a client or advertised by an instance.
//
// The zero value is the empty set.
// A Capabilities value is immutable once returned.
type Capabilities struct {
	bs *bitset.BitSet
}

// AllCapabilities returns the set of every known capability.
func AllCapabilities() Capabilities {
	bs := bitset.New(uint(len(knownCapabilities)))
	for i := range knownCapabilities {
		bs.Set(uint(i))
	}
	return Capabilities{bs: bs}
}

// ParseCapabilities converts names to a set.
// Names that this build does not know are returned in unsupported,
// and are not part of the set.
// Duplicate names are ignored.
func ParseCapabilities(names []string) (c Capabilities, unsupported []string) {
	bs := bitset.New(uint(len(knownCapabilities)))
	for _, n := range names {
		idx := slices.Index(knownCapabilities, n)
		if idx < 0 {
			unsupported = append(unsupported, n)
			continue
		}
		bs.Set(uint(idx))
	}
	return Capabilities{bs: bs}, unsupported
}

// MustParseCapabilities is like [ParseCapabilities]
// but panics on unknown names.
// It is intended for static configuration and tests.
func MustParseCapabilities(names ...string) Capabilities {
	c, unsupported := ParseCapabilities(names)
	if len(unsupported) > 0 {
		panic("unknown capabilities: " + strings.Join(unsupported, " "))
	}
	return c
}

// Has reports whether the named capability is in c.
func (c Capabilities) Has(name string) bool {
	if c.bs == nil {
		return false
	}
	idx := slices.Index(knownCapabilities, name)
	return idx >= 0 && c.bs.Test(uint(idx))
}

// Intersect returns the capabilities present in both c and o.
func (c Capabilities) Intersect(o Capabilities) Capabilities {
	if c.bs == nil || o.bs == nil {
		return Capabilities{}
	}
	return Capabilities{bs: c.bs.Intersection(o.bs)}
}

// Contains reports whether every capability in o is also in c.
func (c Capabilities) Contains(o Capabilities) bool {
	if o.bs == nil || o.bs.None() {
		return true
	}
	if c.bs == nil {
		return false
	}
	return c.bs.IsSuperSet(o.bs)
}

// Len returns the number of capabilities in c.
func (c Capabilities) Len() int {
	if c.bs == nil {
		return 0
	}
	return int(c.bs.Count())
}

// Equal reports whether c and o contain the same capabilities.
func (c Capabilities) Equal(o Capabilities) bool {
	return c.Contains(o) && o.Contains(c)
}

// Names returns the capability names in c, in a stable order.
func (c Capabilities) Names() []string {
	if c.bs == nil {
		return nil
	}
	out := make([]string, 0, c.bs.Count())
	for i, ok := c.bs.NextSet(0); ok; i, ok = c.bs.NextSet(i + 1) {
		out = append(out, knownCapabilities[i])
	}
	return out
}

func (c Capabilities) String() string {
	return "[" + strings.Join(c.Names(), " ") + "]"
}

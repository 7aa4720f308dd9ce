package tpeer

import (
	"fmt"

	"github.com/gordian-engine/tessera/twire"
)

// pendingTable maps locally minted correlation ids
// to the continuation awaiting the reply.
//
// Entries are only removed by a matching reply.
// An entry whose reply never arrives,
// for instance because the connection was replaced, stays until the actor stops.
type pendingTable[T any] struct {
	m map[uint32]func(T)
}

func newPendingTable[T any]() pendingTable[T] {
	return pendingTable[T]{m: make(map[uint32]func(T))}
}

func (t pendingTable[T]) add(id uint32, fn func(T)) {
	if _, ok := t.m[id]; ok {
		panic(fmt.Errorf("BUG: correlation id %d reused", id))
	}
	t.m[id] = fn
}

// resolve runs and removes the continuation for id.
// It reports false if there was none.
func (t pendingTable[T]) resolve(id uint32, v T) bool {
	fn, ok := t.m[id]
	if !ok {
		return false
	}
	delete(t.m, id)
	fn(v)
	return true
}

func (t pendingTable[T]) len() int {
	return len(t.m)
}

type correlationTables struct {
	online         pendingTable[twire.PlayerState]
	directMessages pendingTable[twire.DirectMessageStatus]
	realms         pendingTable[[]twire.RealmEntry]
	emotes         pendingTable[bool]
	follows        pendingTable[bool]
}

func newCorrelationTables() correlationTables {
	return correlationTables{
		online:         newPendingTable[twire.PlayerState](),
		directMessages: newPendingTable[twire.DirectMessageStatus](),
		realms:         newPendingTable[[]twire.RealmEntry](),
		emotes:         newPendingTable[bool](),
		follows:        newPendingTable[bool](),
	}
}

// TableSizes is the number of outstanding requests per kind.
type TableSizes struct {
	Online         int
	DirectMessages int
	Realms         int
	Emotes         int
	Follows        int
}

func (c correlationTables) sizes() TableSizes {
	return TableSizes{
		Online:         c.online.len(),
		DirectMessages: c.directMessages.len(),
		Realms:         c.realms.len(),
		Emotes:         c.emotes.len(),
		Follows:        c.follows.len(),
	}
}

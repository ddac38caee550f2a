package mesh

import "sync"

// SeenRegistry is the loop-prevention set of recently observed message
// identifiers (the node keys it on the combined 16-bit wire id, giving
// each packet of a multi-packet message its own entry). Ids are scoped
// per node, not globally unique across sources; a collision between two
// sources suppresses the later message, which the flood model tolerates
// (delivery is best-effort either way).
//
// Eviction is deliberately approximate: when the registry exceeds capacity
// the oldest half by insertion order is dropped. False negatives after
// eviction only cause a possible duplicate relay, never wrong delivery.
// Callers must not assume idempotent delivery at the application layer.
type SeenRegistry struct {
	mu       sync.Mutex
	seen     map[uint16]struct{}
	order    []uint16 // insertion order, oldest first
	capacity int
}

// NewSeenRegistry creates a registry that evicts above the given capacity
func NewSeenRegistry(capacity int) *SeenRegistry {
	return &SeenRegistry{
		seen:     make(map[uint16]struct{}),
		order:    make([]uint16, 0, capacity),
		capacity: capacity,
	}
}

// HasSeen reports whether the message id was observed recently
func (sr *SeenRegistry) HasSeen(messageID uint16) bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	_, ok := sr.seen[messageID]
	return ok
}

// MarkSeen records a message id. Nodes mark ids both when originating a
// message and on first receipt.
func (sr *SeenRegistry) MarkSeen(messageID uint16) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if _, ok := sr.seen[messageID]; ok {
		return
	}
	sr.seen[messageID] = struct{}{}
	sr.order = append(sr.order, messageID)
}

// EvictIfOverCapacity drops the oldest half of the registry once it
// exceeds capacity. Returns the number of evicted ids.
func (sr *SeenRegistry) EvictIfOverCapacity() int {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if len(sr.order) <= sr.capacity {
		return 0
	}

	half := len(sr.order) / 2
	for _, id := range sr.order[:half] {
		delete(sr.seen, id)
	}
	sr.order = append(sr.order[:0:0], sr.order[half:]...)
	return half
}

// Len returns the current registry size
func (sr *SeenRegistry) Len() int {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return len(sr.order)
}

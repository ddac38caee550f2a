package mesh

import (
	"sync"
	"time"

	"github.com/user/ghostmesh/mesh/packet"
)

// reassemblyKey identifies one logical message: packets from different
// sources never mix even when their 12-bit ids collide.
type reassemblyKey struct {
	source    packet.Address
	messageID uint16
}

// partialMessage holds the packets observed so far for one key
type partialMessage struct {
	chunks    map[uint8][]byte
	maxSeen   uint8
	firstSeen time.Time
}

// Reassembler reconstructs multi-packet messages. The wire format carries
// no length field, so completeness is incremental: a message is complete
// once packet 0 is present and no packet number up to the highest observed
// one is missing.
type Reassembler struct {
	mu       sync.Mutex
	partials map[reassemblyKey]*partialMessage
	now      func() time.Time
}

// NewReassembler creates an empty reassembler
func NewReassembler() *Reassembler {
	return &Reassembler{
		partials: make(map[reassemblyKey]*partialMessage),
		now:      time.Now,
	}
}

// Push inserts a packet and returns the assembled payload if the message
// became complete. On success the caller owns eviction: a matching Remove
// call keeps the state available for diagnostic replay until then.
func (r *Reassembler) Push(p *packet.Packet) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := reassemblyKey{source: p.Source, messageID: p.MessageID}
	partial, exists := r.partials[key]
	if !exists {
		partial = &partialMessage{
			chunks:    make(map[uint8][]byte),
			firstSeen: r.now(),
		}
		r.partials[key] = partial
	}

	// Duplicate packet numbers overwrite; chunks of one message are
	// identical on every arrival
	chunk := make([]byte, packet.PayloadSize)
	copy(chunk, p.Payload[:])
	partial.chunks[p.PacketNumber] = chunk
	if p.PacketNumber > partial.maxSeen {
		partial.maxSeen = p.PacketNumber
	}

	for n := uint8(0); n <= partial.maxSeen; n++ {
		if _, ok := partial.chunks[n]; !ok {
			return nil, false
		}
	}

	assembled := make([]byte, 0, (int(partial.maxSeen)+1)*packet.PayloadSize)
	for n := uint8(0); n <= partial.maxSeen; n++ {
		assembled = append(assembled, partial.chunks[n]...)
	}
	return assembled, true
}

// Remove evicts reassembly state for one message
func (r *Reassembler) Remove(source packet.Address, messageID uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.partials, reassemblyKey{source: source, messageID: messageID})
}

// PruneStale evicts partial messages older than maxAge. A message whose
// packet 0 never arrives would otherwise hold memory forever. Returns the
// number of evicted entries.
func (r *Reassembler) PruneStale(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxAge)
	evicted := 0
	for key, partial := range r.partials {
		if partial.firstSeen.Before(cutoff) {
			delete(r.partials, key)
			evicted++
		}
	}
	return evicted
}

// PendingCount returns the number of incomplete messages held
func (r *Reassembler) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.partials)
}

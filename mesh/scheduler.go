package mesh

import (
	"sync"

	"github.com/user/ghostmesh/mesh/packet"
)

// Priority classifies an outgoing queue entry. Higher values transmit first.
type Priority int

const (
	PriorityBroadcast Priority = iota // Broadcast destination
	PriorityDirect                    // Unicast destination
	PriorityEmergency                 // Reserved id range or explicit flag
)

// String returns a human-readable priority name
func (p Priority) String() string {
	switch p {
	case PriorityEmergency:
		return "emergency"
	case PriorityDirect:
		return "direct"
	case PriorityBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// ClassifyPacket derives the priority class from a packet's fields
func ClassifyPacket(p *packet.Packet) Priority {
	if p.MessageID >= EmergencyIDMin && p.MessageID <= EmergencyIDMax {
		return PriorityEmergency
	}
	if !p.Destination.IsBroadcast() {
		return PriorityDirect
	}
	return PriorityBroadcast
}

// queueEntry tags a packet with its class and arrival order
type queueEntry struct {
	pkt      *packet.Packet
	priority Priority
	seq      uint64
}

// OutgoingScheduler is the bounded, priority-ordered queue of packets
// awaiting their slot in the advertising rotation. Within a class entries
// transmit first-in-first-out. When full, the oldest entry of the lowest
// occupied class is evicted; Emergency entries are never evicted, so a
// queue that is all Emergency may briefly exceed capacity rather than
// drop emergency traffic.
type OutgoingScheduler struct {
	mu       sync.Mutex
	entries  []*queueEntry
	capacity int
	nextSeq  uint64
}

// NewOutgoingScheduler creates a scheduler bounded at capacity entries
func NewOutgoingScheduler(capacity int) *OutgoingScheduler {
	return &OutgoingScheduler{capacity: capacity}
}

// Enqueue adds a packet under the given priority class. Returns false if
// the packet was rejected because the queue was full of entries that may
// not be evicted.
func (s *OutgoingScheduler) Enqueue(p *packet.Packet, priority Priority) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) >= s.capacity {
		if !s.evictOneLocked(priority) {
			return false
		}
	}

	s.entries = append(s.entries, &queueEntry{pkt: p, priority: priority, seq: s.nextSeq})
	s.nextSeq++
	return true
}

// evictOneLocked removes the oldest entry of the lowest occupied class
// below or equal to incoming. Emergency entries are exempt. Returns false
// when nothing may be evicted.
func (s *OutgoingScheduler) evictOneLocked(incoming Priority) bool {
	for class := PriorityBroadcast; class < PriorityEmergency; class++ {
		victim := -1
		for i, e := range s.entries {
			if e.priority != class {
				continue
			}
			if victim == -1 || e.seq < s.entries[victim].seq {
				victim = i
			}
		}
		if victim >= 0 {
			s.entries = append(s.entries[:victim], s.entries[victim+1:]...)
			return true
		}
	}
	// Only Emergency entries remain; admit further Emergency traffic
	// above capacity, reject everything else
	return incoming == PriorityEmergency
}

// Next removes and returns the highest-priority, oldest packet, or nil
// when the queue is empty (the caller transmits an idle beacon instead).
func (s *OutgoingScheduler) Next() *packet.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()

	best := -1
	for i, e := range s.entries {
		if best == -1 {
			best = i
			continue
		}
		b := s.entries[best]
		if e.priority > b.priority || (e.priority == b.priority && e.seq < b.seq) {
			best = i
		}
	}
	if best == -1 {
		return nil
	}

	p := s.entries[best].pkt
	s.entries = append(s.entries[:best], s.entries[best+1:]...)
	return p
}

// Len returns the number of queued packets
func (s *OutgoingScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

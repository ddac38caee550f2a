package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/ghostmesh/mesh/packet"
)

func broadcastPacket(msgID uint16) *packet.Packet {
	return &packet.Packet{Destination: packet.Broadcast, Source: 1, MessageID: msgID, HopCount: 5}
}

func directPacket(msgID uint16) *packet.Packet {
	return &packet.Packet{Destination: 0x42, Source: 1, MessageID: msgID, HopCount: 5}
}

// TestSchedulerPriorityOrdering verifies Emergency > Direct > Broadcast
// even when enqueued in reverse priority order
func TestSchedulerPriorityOrdering(t *testing.T) {
	s := NewOutgoingScheduler(QueueCapacity)

	require.True(t, s.Enqueue(broadcastPacket(1), PriorityBroadcast))
	require.True(t, s.Enqueue(directPacket(2), PriorityDirect))
	require.True(t, s.Enqueue(broadcastPacket(EmergencyIDMin), PriorityEmergency))

	assert.Equal(t, EmergencyIDMin, s.Next().MessageID)
	assert.Equal(t, uint16(2), s.Next().MessageID)
	assert.Equal(t, uint16(1), s.Next().MessageID)
	assert.Nil(t, s.Next())
}

// TestSchedulerFIFOWithinClass verifies arrival order inside one class
func TestSchedulerFIFOWithinClass(t *testing.T) {
	s := NewOutgoingScheduler(QueueCapacity)

	for id := uint16(10); id < 15; id++ {
		require.True(t, s.Enqueue(broadcastPacket(id), PriorityBroadcast))
	}
	for id := uint16(10); id < 15; id++ {
		assert.Equal(t, id, s.Next().MessageID)
	}
}

// TestSchedulerCapacityEviction verifies the 11th entry evicts the oldest
// non-Emergency entry, never an Emergency one
func TestSchedulerCapacityEviction(t *testing.T) {
	s := NewOutgoingScheduler(10)

	require.True(t, s.Enqueue(broadcastPacket(EmergencyIDMin), PriorityEmergency))
	for id := uint16(1); id <= 9; id++ {
		require.True(t, s.Enqueue(broadcastPacket(id), PriorityBroadcast))
	}
	assert.Equal(t, 10, s.Len())

	// The 11th entry pushes out broadcast id 1, the oldest evictable entry
	require.True(t, s.Enqueue(directPacket(0x99), PriorityDirect))
	assert.Equal(t, 10, s.Len())

	got := make(map[uint16]bool)
	for p := s.Next(); p != nil; p = s.Next() {
		got[p.MessageID] = true
	}
	assert.True(t, got[EmergencyIDMin], "emergency entry must survive eviction")
	assert.False(t, got[1], "oldest broadcast entry should have been evicted")
	assert.True(t, got[0x99])
}

// TestSchedulerEvictsLowestClassFirst verifies a full queue sheds Broadcast
// before Direct
func TestSchedulerEvictsLowestClassFirst(t *testing.T) {
	s := NewOutgoingScheduler(4)

	require.True(t, s.Enqueue(directPacket(1), PriorityDirect))
	require.True(t, s.Enqueue(directPacket(2), PriorityDirect))
	require.True(t, s.Enqueue(broadcastPacket(3), PriorityBroadcast))
	require.True(t, s.Enqueue(directPacket(4), PriorityDirect))

	require.True(t, s.Enqueue(directPacket(5), PriorityDirect))

	got := make(map[uint16]bool)
	for p := s.Next(); p != nil; p = s.Next() {
		got[p.MessageID] = true
	}
	assert.False(t, got[3], "the lone broadcast entry is the victim")
	assert.True(t, got[1] && got[2] && got[4] && got[5])
}

// TestSchedulerFullOfEmergency verifies non-emergency traffic is rejected
// when only Emergency entries remain, while emergency traffic still enters
func TestSchedulerFullOfEmergency(t *testing.T) {
	s := NewOutgoingScheduler(3)

	for i := 0; i < 3; i++ {
		require.True(t, s.Enqueue(broadcastPacket(EmergencyIDMin+uint16(i)), PriorityEmergency))
	}

	assert.False(t, s.Enqueue(broadcastPacket(7), PriorityBroadcast))
	assert.True(t, s.Enqueue(broadcastPacket(EmergencyIDMin+3), PriorityEmergency))
	assert.Equal(t, 4, s.Len())
}

// TestClassifyPacket verifies class derivation from packet fields
func TestClassifyPacket(t *testing.T) {
	assert.Equal(t, PriorityBroadcast, ClassifyPacket(broadcastPacket(0x200)))
	assert.Equal(t, PriorityDirect, ClassifyPacket(directPacket(0x200)))
	assert.Equal(t, PriorityEmergency, ClassifyPacket(broadcastPacket(EmergencyIDMin)))
	assert.Equal(t, PriorityEmergency, ClassifyPacket(directPacket(EmergencyIDMax)))
}

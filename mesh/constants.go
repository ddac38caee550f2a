package mesh

import "time"

// Protocol tunables. The wire format fixes packet geometry in mesh/packet;
// everything here is node-local policy.
const (
	// DefaultHopLimit is the relay budget for locally originated traffic.
	// Independent of the 255-value ceiling the wire format allows.
	DefaultHopLimit = 10

	// RotationInterval drives the outgoing advertising rotation
	RotationInterval = 2000 * time.Millisecond

	// CleanupInterval drives registry and reassembly housekeeping
	CleanupInterval = 15 * time.Second

	// RegistryCapacity bounds the seen-message registry; exceeding it
	// evicts the oldest half by insertion order
	RegistryCapacity = 1000

	// QueueCapacity bounds the outgoing scheduler
	QueueCapacity = 10

	// JitterMin and JitterMax bound the uniform relay delay that
	// desynchronizes nodes re-broadcasting the same packet
	JitterMin = 100 * time.Millisecond
	JitterMax = 500 * time.Millisecond

	// ReassemblyMaxAge evicts partial messages that can never complete
	// (e.g. packet 0 lost). The original protocol leaves stuck partials
	// forever; one minute keeps memory bounded without dropping slow
	// multi-packet floods.
	ReassemblyMaxAge = 60 * time.Second

	// SendCooldown gates repeated multi-packet sends from one node so a
	// single chatty sender cannot saturate the shared channel
	SendCooldown = 10 * time.Second

	// PeerStaleAfter controls when a silent peer is re-announced via the
	// DeviceObserved event on its next packet, and when it is pruned
	PeerStaleAfter = 60 * time.Second
)

// Message id allocation. Ids are 12-bit; id 0 is reserved for idle presence
// beacons, and the top range marks emergency traffic.
const (
	BeaconMessageID uint16 = 0x000
	NormalIDMin     uint16 = 0x001
	NormalIDMax     uint16 = 0xEFF
	EmergencyIDMin  uint16 = 0xF00
	EmergencyIDMax  uint16 = 0xFFF
)

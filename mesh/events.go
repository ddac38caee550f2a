package mesh

import "github.com/user/ghostmesh/mesh/packet"

// Events is the surface the UI bridge consumes. Nil callbacks are skipped.
// MessageReceived and DeviceObserved run on the node's run loop;
// MessageRelayed runs on the relay jitter timer. Handlers must not block.
type Events struct {
	// MessageReceived fires when a message addressed to this node (or
	// broadcast) finishes reassembly. The payload has its zero padding
	// trimmed.
	MessageReceived func(payload []byte, source packet.Address)

	// MessageRelayed fires when a received packet is scheduled for
	// re-broadcast after its jitter delay
	MessageRelayed func(pkt packet.Packet)

	// DeviceObserved fires when a source address is seen for the first
	// time, or again after it has been silent past the staleness window
	DeviceObserved func(addr packet.Address)
}

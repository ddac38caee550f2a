package mesh

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/ghostmesh/mesh/packet"
	"github.com/user/ghostmesh/transport"
)

// fakeTransport is an in-memory radio: injected frames go straight to the
// node, transmitted frames land on a channel the test drains.
type fakeTransport struct {
	mu          sync.Mutex
	state       transport.PowerState
	receive     func(raw []byte)
	transmitted chan []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		state:       transport.StatePoweredOn,
		transmitted: make(chan []byte, 256),
	}
}

func (f *fakeTransport) Start() error { return f.State().Err() }
func (f *fakeTransport) Stop()        {}

func (f *fakeTransport) Transmit(raw []byte) error {
	frame := make([]byte, len(raw))
	copy(frame, raw)
	select {
	case f.transmitted <- frame:
	default:
	}
	return nil
}

func (f *fakeTransport) SetReceiveCallback(fn func(raw []byte)) {
	f.mu.Lock()
	f.receive = fn
	f.mu.Unlock()
}

func (f *fakeTransport) State() transport.PowerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) setState(s transport.PowerState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// inject encodes a packet and delivers it as if observed over the air
func (f *fakeTransport) inject(t *testing.T, p *packet.Packet) {
	t.Helper()
	raw, err := p.Encode()
	require.NoError(t, err)
	f.mu.Lock()
	fn := f.receive
	f.mu.Unlock()
	require.NotNil(t, fn, "receive callback not registered")
	fn(raw)
}

// testConfig returns a deterministic node config with short timers
func testConfig(addr packet.Address) *Config {
	cfg := DefaultConfig(addr)
	cfg.Name = "test"
	cfg.RotationInterval = 20 * time.Millisecond
	cfg.CleanupInterval = 50 * time.Millisecond
	cfg.JitterMin = 5 * time.Millisecond
	cfg.JitterMax = 10 * time.Millisecond
	cfg.Deterministic = true
	cfg.Seed = 1
	return cfg
}

// nextDataFrame drains transmissions until a non-beacon packet appears
func nextDataFrame(t *testing.T, f *fakeTransport, timeout time.Duration) *packet.Packet {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case raw := <-f.transmitted:
			p, err := packet.Decode(raw)
			require.NoError(t, err)
			if p.MessageID != BeaconMessageID {
				return p
			}
		case <-deadline:
			t.Fatal("timed out waiting for a data frame")
			return nil
		}
	}
}

// TestNodeStartFailsWhenRadioUnavailable verifies the distinct error per
// power state
func TestNodeStartFailsWhenRadioUnavailable(t *testing.T) {
	cases := map[transport.PowerState]error{
		transport.StatePoweredOff:   transport.ErrPoweredOff,
		transport.StateUnauthorized: transport.ErrUnauthorized,
		transport.StateUnsupported:  transport.ErrUnsupported,
		transport.StateResetting:    transport.ErrResetting,
		transport.StateUnknown:      transport.ErrStateUnknown,
	}

	for state, wantErr := range cases {
		tr := newFakeTransport()
		tr.setState(state)
		node := NewNode(testConfig(0x10), tr)
		assert.ErrorIs(t, node.Start(), wantErr, "state %s", state)
	}
}

// TestNodeIdempotentDedup verifies feeding the same encoded packet twice
// yields exactly one delivery and one relay attempt
func TestNodeIdempotentDedup(t *testing.T) {
	tr := newFakeTransport()
	node := NewNode(testConfig(0x10), tr)

	var delivered, relayed atomic.Int64
	node.SetEvents(Events{
		MessageReceived: func(payload []byte, source packet.Address) { delivered.Add(1) },
		MessageRelayed:  func(pkt packet.Packet) { relayed.Add(1) },
	})
	require.NoError(t, node.Start())
	defer node.Stop()

	p := &packet.Packet{Destination: packet.Broadcast, Source: 0x20, MessageID: 0x111, HopCount: 3}
	require.NoError(t, p.SetPayload([]byte("once")))

	tr.inject(t, p)
	tr.inject(t, p)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, int64(1), delivered.Load())
	assert.Equal(t, int64(1), relayed.Load())
}

// TestNodeHopExpiry verifies a packet arriving with hop count 0 is
// delivered but never rescheduled for relay
func TestNodeHopExpiry(t *testing.T) {
	tr := newFakeTransport()
	node := NewNode(testConfig(0x10), tr)

	var delivered, relayed atomic.Int64
	node.SetEvents(Events{
		MessageReceived: func(payload []byte, source packet.Address) { delivered.Add(1) },
		MessageRelayed:  func(pkt packet.Packet) { relayed.Add(1) },
	})
	require.NoError(t, node.Start())
	defer node.Stop()

	p := &packet.Packet{Destination: packet.Broadcast, Source: 0x20, MessageID: 0x112, HopCount: 0}
	require.NoError(t, p.SetPayload([]byte("last hop")))
	tr.inject(t, p)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(1), delivered.Load())
	assert.Equal(t, int64(0), relayed.Load())
}

// TestNodeRelayDecrementsHop verifies the relayed copy goes out with one
// hop less and the original message id
func TestNodeRelayDecrementsHop(t *testing.T) {
	tr := newFakeTransport()
	node := NewNode(testConfig(0x10), tr)
	require.NoError(t, node.Start())
	defer node.Stop()

	// Unicast for someone else entirely: relayed, never delivered
	p := &packet.Packet{Destination: 0x99, Source: 0x20, MessageID: 0x113, HopCount: 3}
	require.NoError(t, p.SetPayload([]byte("pass it on")))
	tr.inject(t, p)

	out := nextDataFrame(t, tr, time.Second)
	assert.Equal(t, uint16(0x113), out.MessageID)
	assert.Equal(t, uint8(2), out.HopCount)
	assert.Equal(t, packet.Address(0x20), out.Source, "relaying preserves the original source")
}

// TestNodeSendMessage verifies local sends are packetized, marked seen and
// transmitted with the configured hop budget
func TestNodeSendMessage(t *testing.T) {
	tr := newFakeTransport()
	cfg := testConfig(0x10)
	node := NewNode(cfg, tr)
	require.NoError(t, node.Start())
	defer node.Stop()

	msgID, err := node.SendMessage(packet.Broadcast, []byte("hello mesh"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, msgID, NormalIDMin)
	assert.LessOrEqual(t, msgID, NormalIDMax)

	out := nextDataFrame(t, tr, time.Second)
	assert.Equal(t, msgID, out.MessageID)
	assert.Equal(t, packet.Address(0x10), out.Source)
	assert.Equal(t, cfg.HopLimit, out.HopCount)
	assert.Equal(t, []byte("hello mesh"), packet.TrimPadding(out.Payload[:]))

	// Our own flood must not be re-processed when it echoes back
	tr.inject(t, out)
	time.Sleep(50 * time.Millisecond)
}

// TestNodeSendEmergency verifies the emergency id range
func TestNodeSendEmergency(t *testing.T) {
	tr := newFakeTransport()
	node := NewNode(testConfig(0x10), tr)
	require.NoError(t, node.Start())
	defer node.Stop()

	msgID, err := node.SendEmergencyMessage(0x55, []byte("mayday"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, msgID, EmergencyIDMin)
	assert.LessOrEqual(t, msgID, EmergencyIDMax)
}

// TestNodeSendErrors verifies oversize and not-started rejections
func TestNodeSendErrors(t *testing.T) {
	tr := newFakeTransport()
	node := NewNode(testConfig(0x10), tr)

	_, err := node.SendMessage(packet.Broadcast, []byte("x"))
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, node.Start())
	defer node.Stop()

	_, err = node.SendMessage(packet.Broadcast, make([]byte, packet.MaxMessageSize+1))
	assert.ErrorIs(t, err, packet.ErrMessageTooLarge)
}

// TestNodeMultiPacketCooldown verifies repeated multi-packet sends inside
// the cooldown window are rejected while single-packet sends pass
func TestNodeMultiPacketCooldown(t *testing.T) {
	tr := newFakeTransport()
	cfg := testConfig(0x10)
	cfg.SendCooldown = time.Hour
	node := NewNode(cfg, tr)
	require.NoError(t, node.Start())
	defer node.Stop()

	long := make([]byte, 40)

	_, err := node.SendMessage(packet.Broadcast, long)
	require.NoError(t, err)

	_, err = node.SendMessage(packet.Broadcast, long)
	assert.ErrorIs(t, err, ErrSendCooldown)

	_, err = node.SendMessage(packet.Broadcast, []byte("short is fine"))
	assert.NoError(t, err)
}

// TestNodeStopCancelsPendingRelays verifies a jittered relay never fires
// once the node is stopped
func TestNodeStopCancelsPendingRelays(t *testing.T) {
	tr := newFakeTransport()
	cfg := testConfig(0x10)
	cfg.JitterMin = 50 * time.Millisecond
	cfg.JitterMax = 80 * time.Millisecond
	node := NewNode(cfg, tr)

	var relayed atomic.Int64
	node.SetEvents(Events{
		MessageRelayed: func(pkt packet.Packet) { relayed.Add(1) },
	})
	require.NoError(t, node.Start())

	p := &packet.Packet{Destination: packet.Broadcast, Source: 0x20, MessageID: 0x114, HopCount: 5}
	require.NoError(t, p.SetPayload([]byte("never relayed")))
	tr.inject(t, p)

	// Stop before the jitter elapses
	time.Sleep(10 * time.Millisecond)
	node.Stop()
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, int64(0), relayed.Load())
}

// TestNodeIdleBeacon verifies the rotation transmits presence beacons when
// nothing is queued
func TestNodeIdleBeacon(t *testing.T) {
	tr := newFakeTransport()
	node := NewNode(testConfig(0x10), tr)
	require.NoError(t, node.Start())
	defer node.Stop()

	select {
	case raw := <-tr.transmitted:
		p, err := packet.Decode(raw)
		require.NoError(t, err)
		assert.Equal(t, BeaconMessageID, p.MessageID)
		assert.Equal(t, packet.Address(0x10), p.Source)
		assert.True(t, p.Destination.IsBroadcast())
		assert.Equal(t, uint8(0), p.HopCount, "beacons carry no relay budget")
		assert.Empty(t, packet.TrimPadding(p.Payload[:]))
	case <-time.After(time.Second):
		t.Fatal("no beacon transmitted")
	}
}

// TestNodeDeviceObserved verifies beacons announce a peer once, and that
// beacons are neither delivered nor relayed
func TestNodeDeviceObserved(t *testing.T) {
	tr := newFakeTransport()
	node := NewNode(testConfig(0x10), tr)

	var observed, delivered, relayed atomic.Int64
	node.SetEvents(Events{
		MessageReceived: func(payload []byte, source packet.Address) { delivered.Add(1) },
		MessageRelayed:  func(pkt packet.Packet) { relayed.Add(1) },
		DeviceObserved:  func(addr packet.Address) { observed.Add(1) },
	})
	require.NoError(t, node.Start())
	defer node.Stop()

	beacon := &packet.Packet{Destination: packet.Broadcast, Source: 0x77, MessageID: BeaconMessageID}
	tr.inject(t, beacon)
	tr.inject(t, beacon)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, int64(1), observed.Load(), "second beacon from a live peer is not re-announced")
	assert.Equal(t, int64(0), delivered.Load())
	assert.Equal(t, int64(0), relayed.Load())

	peers := node.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, packet.Address(0x77), peers[0].Address)
	assert.Equal(t, 2, peers[0].Packets)
}

// TestNodeMultiPacketDelivery verifies end-to-end reassembly through the
// receive pipeline in shuffled arrival order
func TestNodeMultiPacketDelivery(t *testing.T) {
	tr := newFakeTransport()
	node := NewNode(testConfig(0x10), tr)

	deliveredCh := make(chan []byte, 1)
	node.SetEvents(Events{
		MessageReceived: func(payload []byte, source packet.Address) {
			deliveredCh <- payload
		},
	})
	require.NoError(t, node.Start())
	defer node.Stop()

	msg := []byte("a forty byte message split across three..")
	packets, err := packet.Packetize(0x10, 0x20, 0x222, 5, msg)
	require.NoError(t, err)
	require.Len(t, packets, 3)

	tr.inject(t, packets[2])
	tr.inject(t, packets[0])
	tr.inject(t, packets[1])

	select {
	case payload := <-deliveredCh:
		assert.Equal(t, msg, payload)
	case <-time.After(time.Second):
		t.Fatal("multi-packet message never delivered")
	}
}

// TestNodeStopIdempotent verifies repeated Stop calls are safe
func TestNodeStopIdempotent(t *testing.T) {
	tr := newFakeTransport()
	node := NewNode(testConfig(0x10), tr)
	require.NoError(t, node.Start())

	node.Stop()
	node.Stop()

	_, err := node.SendMessage(packet.Broadcast, []byte("x"))
	assert.ErrorIs(t, err, ErrNotStarted)
}

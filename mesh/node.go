package mesh

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/user/ghostmesh/logger"
	"github.com/user/ghostmesh/mesh/packet"
	"github.com/user/ghostmesh/transport"
)

var (
	ErrNotStarted     = errors.New("mesh: node not started")
	ErrAlreadyStarted = errors.New("mesh: node already started")
	ErrSendCooldown   = errors.New("mesh: multi-packet send cooldown active")
)

// Config carries node-local policy. Zero values fall back to the
// documented defaults; DefaultConfig fills them in explicitly.
type Config struct {
	Address      packet.Address
	HardwareUUID string // Radio hardware identity; generated when empty
	Name         string

	HopLimit         uint8
	RotationInterval time.Duration
	CleanupInterval  time.Duration
	JitterMin        time.Duration
	JitterMax        time.Duration
	ReassemblyMaxAge time.Duration
	SendCooldown     time.Duration
	PeerStaleAfter   time.Duration
	RegistryCapacity int
	QueueCapacity    int

	// Deterministic mode for reproducible jitter and id allocation
	Deterministic bool
	Seed          int64
}

// DefaultConfig returns the documented protocol defaults for one node
func DefaultConfig(addr packet.Address) *Config {
	return &Config{
		Address:          addr,
		HardwareUUID:     uuid.New().String(),
		HopLimit:         DefaultHopLimit,
		RotationInterval: RotationInterval,
		CleanupInterval:  CleanupInterval,
		JitterMin:        JitterMin,
		JitterMax:        JitterMax,
		ReassemblyMaxAge: ReassemblyMaxAge,
		SendCooldown:     SendCooldown,
		PeerStaleAfter:   PeerStaleAfter,
		RegistryCapacity: RegistryCapacity,
		QueueCapacity:    QueueCapacity,
	}
}

// Node is the relay engine: it owns the seen registry, the reassembly
// table, the outgoing scheduler and the peer table, and serializes all
// protocol activity onto one run loop.
type Node struct {
	config    *Config
	transport transport.Transport
	events    Events

	registry    *SeenRegistry
	reassembler *Reassembler
	scheduler   *OutgoingScheduler
	peers       *peerTracker

	rng   *rand.Rand
	rngMu sync.Mutex

	inbound  chan []byte
	stopChan chan struct{}
	wg       sync.WaitGroup

	relayTimers map[*time.Timer]struct{}
	timerMu     sync.Mutex

	lastMultiSend time.Time
	sendMu        sync.Mutex

	started bool
	mu      sync.Mutex

	prefix string
}

// NewNode creates a node over the given transport. The transport's
// receive callback is claimed by the node.
func NewNode(config *Config, tr transport.Transport) *Node {
	if config == nil {
		config = DefaultConfig(0)
	}
	if config.HardwareUUID == "" {
		config.HardwareUUID = uuid.New().String()
	}

	var rng *rand.Rand
	if config.Deterministic {
		rng = rand.New(rand.NewSource(config.Seed))
	} else {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	prefix := config.HardwareUUID[:8]
	if config.Name != "" {
		prefix = fmt.Sprintf("%s %s", prefix, config.Name)
	}

	n := &Node{
		config:      config,
		transport:   tr,
		registry:    NewSeenRegistry(config.RegistryCapacity),
		reassembler: NewReassembler(),
		scheduler:   NewOutgoingScheduler(config.QueueCapacity),
		peers:       newPeerTracker(),
		rng:         rng,
		inbound:     make(chan []byte, 64),
		relayTimers: make(map[*time.Timer]struct{}),
		prefix:      prefix,
	}
	tr.SetReceiveCallback(n.onReceive)
	return n
}

// SetEvents registers the event surface. Must be called before Start.
func (n *Node) SetEvents(events Events) {
	n.events = events
}

// Address returns the node's own mesh address
func (n *Node) Address() packet.Address {
	return n.config.Address
}

// Peers returns a snapshot of the observed peer table
func (n *Node) Peers() []Peer {
	return n.peers.snapshot()
}

// Start brings the node up. Fails with the transport's distinct
// power-state error when the radio is unavailable.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return ErrAlreadyStarted
	}

	if err := n.transport.State().Err(); err != nil {
		return err
	}
	if err := n.transport.Start(); err != nil {
		return err
	}

	n.stopChan = make(chan struct{})
	n.started = true
	n.wg.Add(1)
	go n.run()

	logger.Info(n.prefix, "Node %s up, hop limit %d, rotation %s",
		n.config.Address, n.config.HopLimit, n.config.RotationInterval)
	return nil
}

// Stop tears the node down: tickers stop, pending jittered relays are
// cancelled and never fire, the transport is closed. Idempotent.
func (n *Node) Stop() {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return
	}
	n.started = false
	close(n.stopChan)
	n.mu.Unlock()

	n.timerMu.Lock()
	for timer := range n.relayTimers {
		timer.Stop()
	}
	n.relayTimers = make(map[*time.Timer]struct{})
	n.timerMu.Unlock()

	n.wg.Wait()
	n.transport.Stop()
	logger.Info(n.prefix, "Node %s stopped", n.config.Address)
}

// SendMessage packetizes a payload and enqueues every chunk for the next
// rotation slots. Returns the allocated 12-bit message id. Payloads over
// 288 bytes are rejected; repeated multi-packet sends inside the cooldown
// window return ErrSendCooldown.
func (n *Node) SendMessage(dest packet.Address, payload []byte) (uint16, error) {
	return n.send(dest, payload, false)
}

// SendEmergencyMessage sends with an id from the reserved emergency range
// so every relay along the flood path schedules it ahead of other traffic
func (n *Node) SendEmergencyMessage(dest packet.Address, payload []byte) (uint16, error) {
	return n.send(dest, payload, true)
}

func (n *Node) send(dest packet.Address, payload []byte, emergency bool) (uint16, error) {
	n.mu.Lock()
	started := n.started
	n.mu.Unlock()
	if !started {
		return 0, ErrNotStarted
	}

	if len(payload) > packet.MaxMessageSize {
		return 0, packet.ErrMessageTooLarge
	}

	multiPacket := len(payload) > packet.PayloadSize
	if multiPacket {
		n.sendMu.Lock()
		if since := time.Since(n.lastMultiSend); since < n.config.SendCooldown {
			n.sendMu.Unlock()
			return 0, ErrSendCooldown
		}
		n.lastMultiSend = time.Now()
		n.sendMu.Unlock()
	}

	msgID := n.allocateMessageID(emergency)
	packets, err := packet.Packetize(dest, n.config.Address, msgID, n.config.HopLimit, payload)
	if err != nil {
		return 0, err
	}

	// Originating counts as seeing: our own flood must not loop back
	for _, p := range packets {
		n.registry.MarkSeen(seenKey(p))
	}

	priority := PriorityBroadcast
	if emergency {
		priority = PriorityEmergency
	} else if !dest.IsBroadcast() {
		priority = PriorityDirect
	}

	for _, p := range packets {
		if !n.scheduler.Enqueue(p, priority) {
			logger.Warn(n.prefix, "Outgoing queue full, dropped packet %d of msg %03x", p.PacketNumber, msgID)
		}
	}

	logger.Info(n.prefix, "Queued msg %03x to %s (%d packet(s), %s)",
		msgID, dest, len(packets), priority)
	return msgID, nil
}

// seenKey is the loop-prevention registry key: the combined 16-bit wire
// id, so every packet of a multi-packet message has its own entry
func seenKey(p *packet.Packet) uint16 {
	return (p.MessageID << 4) | uint16(p.PacketNumber&0x0F)
}

// allocateMessageID picks a fresh random id, skipping ones whose packet 0
// was seen recently
func (n *Node) allocateMessageID(emergency bool) uint16 {
	min, max := NormalIDMin, NormalIDMax
	if emergency {
		min, max = EmergencyIDMin, EmergencyIDMax
	}

	n.rngMu.Lock()
	defer n.rngMu.Unlock()
	for i := 0; i < 8; i++ {
		id := min + uint16(n.rng.Intn(int(max-min)+1))
		if !n.registry.HasSeen(id << 4) {
			return id
		}
	}
	// Registry nearly saturated for this range; accept a reuse
	return min + uint16(n.rng.Intn(int(max-min)+1))
}

// onReceive is the transport's per-advertisement callback. It only hands
// the frame to the run loop; a full inbound buffer sheds load by dropping,
// which the flood model absorbs.
func (n *Node) onReceive(raw []byte) {
	frame := make([]byte, len(raw))
	copy(frame, raw)
	select {
	case n.inbound <- frame:
	default:
		logger.Warn(n.prefix, "Inbound buffer full, dropped advertisement")
	}
}

// run is the single serialization point for all protocol activity
func (n *Node) run() {
	defer n.wg.Done()

	rotation := time.NewTicker(n.config.RotationInterval)
	defer rotation.Stop()
	cleanup := time.NewTicker(n.config.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case raw := <-n.inbound:
			n.handleRaw(raw)
		case <-rotation.C:
			n.transmitNext()
		case <-cleanup.C:
			n.housekeeping()
		case <-n.stopChan:
			return
		}
	}
}

// handleRaw runs the per-packet state machine: decode, dedup, deliver,
// relay. Malformed frames are foreign traffic and dropped without note.
func (n *Node) handleRaw(raw []byte) {
	p, err := packet.Decode(raw)
	if err != nil {
		logger.Trace(n.prefix, "Dropped malformed frame (%d bytes)", len(raw))
		return
	}

	if p.Source != n.config.Address {
		if n.peers.observe(p.Source, n.config.PeerStaleAfter) {
			logger.Info(n.prefix, "Observed device %s", p.Source)
			if n.events.DeviceObserved != nil {
				n.events.DeviceObserved(p.Source)
			}
		}
	}

	// Presence beacons carry no message; they exist only to be observed
	if p.MessageID == BeaconMessageID {
		return
	}

	// The registry keys on the combined wire id so the packets of one
	// multi-packet message do not suppress each other
	if n.registry.HasSeen(seenKey(p)) {
		logger.Trace(n.prefix, "Duplicate msg %03x packet %d, dropped", p.MessageID, p.PacketNumber)
		return
	}
	n.registry.MarkSeen(seenKey(p))

	if p.Destination == n.config.Address || p.Destination.IsBroadcast() {
		if assembled, complete := n.reassembler.Push(p); complete {
			n.reassembler.Remove(p.Source, p.MessageID)
			payload := packet.TrimPadding(assembled)
			logger.Info(n.prefix, "Delivered msg %03x from %s (%d bytes)",
				p.MessageID, p.Source, len(payload))
			if n.events.MessageReceived != nil {
				n.events.MessageReceived(payload, p.Source)
			}
		}
	}

	if p.HopCount == 0 {
		logger.Debug(n.prefix, "Msg %03x packet %d expired (hop count 0)", p.MessageID, p.PacketNumber)
		return
	}

	relay := *p
	relay.HopCount--
	n.scheduleRelay(&relay)
}

// scheduleRelay enqueues a relay after the collision-avoidance jitter.
// The timer is tracked so Stop can cancel it before it fires.
func (n *Node) scheduleRelay(p *packet.Packet) {
	delay := n.relayJitter()
	stop := n.stopChan

	n.timerMu.Lock()
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		n.timerMu.Lock()
		delete(n.relayTimers, timer)
		n.timerMu.Unlock()

		select {
		case <-stop:
			return
		default:
		}

		if !n.scheduler.Enqueue(p, ClassifyPacket(p)) {
			logger.Debug(n.prefix, "Relay of msg %03x dropped, queue full", p.MessageID)
			return
		}
		logger.Debug(n.prefix, "Relaying msg %03x packet %d (hops left %d, jitter %s)",
			p.MessageID, p.PacketNumber, p.HopCount, delay.Round(time.Millisecond))
		if n.events.MessageRelayed != nil {
			n.events.MessageRelayed(*p)
		}
	})
	n.relayTimers[timer] = struct{}{}
	n.timerMu.Unlock()
}

// relayJitter draws a uniform delay from [JitterMin, JitterMax]
func (n *Node) relayJitter() time.Duration {
	n.rngMu.Lock()
	defer n.rngMu.Unlock()
	spread := n.config.JitterMax - n.config.JitterMin
	if spread <= 0 {
		return n.config.JitterMin
	}
	return n.config.JitterMin + time.Duration(n.rng.Int63n(int64(spread)+1))
}

// transmitNext sends one queued packet per rotation tick, or the idle
// presence beacon when nothing is queued so the node stays discoverable
func (n *Node) transmitNext() {
	p := n.scheduler.Next()
	if p == nil {
		p = &packet.Packet{
			Destination: packet.Broadcast,
			Source:      n.config.Address,
			MessageID:   BeaconMessageID,
			HopCount:    0,
		}
		logger.Trace(n.prefix, "Idle beacon")
	}

	raw, err := p.Encode()
	if err != nil {
		logger.Error(n.prefix, "Encode failed for msg %03x: %v", p.MessageID, err)
		return
	}
	if err := n.transport.Transmit(raw); err != nil {
		logger.Warn(n.prefix, "Transmit failed: %v", err)
	}
}

// housekeeping runs invariant-preserving maintenance; failures here never
// surface as errors
func (n *Node) housekeeping() {
	if evicted := n.registry.EvictIfOverCapacity(); evicted > 0 {
		logger.Debug(n.prefix, "Registry evicted %d oldest ids", evicted)
	}
	if evicted := n.reassembler.PruneStale(n.config.ReassemblyMaxAge); evicted > 0 {
		logger.Debug(n.prefix, "Pruned %d stale partial message(s)", evicted)
	}
	if pruned := n.peers.prune(5 * n.config.PeerStaleAfter); pruned > 0 {
		logger.Debug(n.prefix, "Pruned %d silent peer(s)", pruned)
	}
}

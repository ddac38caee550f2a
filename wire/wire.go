// Package wire simulates the shared broadcast medium over Unix domain
// sockets. Every node owns one socket under the data dir; transmitting an
// advertisement delivers it to every other node's socket, the way a radio
// broadcast reaches every listener in range. No global registries: the
// socket directory is the medium.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/user/ghostmesh/logger"
	"github.com/user/ghostmesh/transport"
	"github.com/user/ghostmesh/transport/advertising"
	"github.com/user/ghostmesh/util"
)

const socketPrefix = "ghostmesh-"

// maxFrameSize bounds one advertisement frame on the socket; anything
// larger is a corrupt stream and the connection is dropped
const maxFrameSize = 512

// Config controls the realism of the simulated medium
type Config struct {
	SocketDir      string  // Default: {dataDir}/sockets
	PacketLossRate float64 // Per-listener delivery loss, default 0
	Deterministic  bool    // Reproducible loss for tests
	Seed           int64
}

// DefaultConfig returns a lossless medium rooted at the standard data dir
func DefaultConfig() *Config {
	return &Config{SocketDir: util.GetSocketDir()}
}

// Wire is the socket-backed broadcast transport for one node
type Wire struct {
	hardwareUUID string
	advA         [6]byte
	config       *Config
	socketPath   string

	listener net.Listener
	receive  func(raw []byte)

	state   transport.PowerState
	stateMu sync.RWMutex

	rng   *rand.Rand
	rngMu sync.Mutex

	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	started  bool
}

// NewWire creates a transport for the node with the given hardware UUID
// and mesh address (used as the simulated advertiser address)
func NewWire(hardwareUUID string, meshAddress uint64, config *Config) *Wire {
	if config == nil {
		config = DefaultConfig()
	}
	if config.SocketDir == "" {
		config.SocketDir = util.GetSocketDir()
	}

	var rng *rand.Rand
	if config.Deterministic {
		rng = rand.New(rand.NewSource(config.Seed))
	} else {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Wire{
		hardwareUUID: hardwareUUID,
		advA:         advertising.AddressToAdvA(meshAddress),
		config:       config,
		socketPath:   filepath.Join(config.SocketDir, socketPrefix+hardwareUUID+".sock"),
		state:        transport.StatePoweredOn,
		rng:          rng,
	}
}

// SetReceiveCallback registers the per-advertisement callback
func (w *Wire) SetReceiveCallback(fn func(raw []byte)) {
	w.receive = fn
}

// State reports the simulated adapter power state
func (w *Wire) State() transport.PowerState {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.state
}

// SetState changes the simulated power state (tests flip radios off)
func (w *Wire) SetState(state transport.PowerState) {
	w.stateMu.Lock()
	w.state = state
	w.stateMu.Unlock()
}

// Start begins listening on the node's broadcast socket
func (w *Wire) Start() error {
	if err := w.State().Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}

	os.Remove(w.socketPath)
	listener, err := net.Listen("unix", w.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", w.socketPath, err)
	}

	w.listener = listener
	w.stopChan = make(chan struct{})
	w.started = true

	w.wg.Add(1)
	go w.acceptLoop()

	return nil
}

// Stop stops the wire and removes its socket (idempotent)
func (w *Wire) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	close(w.stopChan)
	w.mu.Unlock()

	w.listener.Close()
	w.wg.Wait()
	os.Remove(w.socketPath)
}

// Transmit emits one advertisement to every other node socket in the
// directory. Radio-off transports report their distinct state error.
func (w *Wire) Transmit(raw []byte) error {
	if err := w.State().Err(); err != nil {
		return err
	}

	advData, err := advertising.WrapPacket(raw)
	if err != nil {
		return fmt.Errorf("failed to frame advertisement: %w", err)
	}
	pdu := &advertising.AdvertisingPDU{
		PDUType: advertising.PDUTypeAdvNonconnInd,
		AdvA:    w.advA,
		AdvData: advData,
	}
	frame, err := pdu.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode advertising PDU: %w", err)
	}

	entries, err := os.ReadDir(w.config.SocketDir)
	if err != nil {
		return fmt.Errorf("failed to scan socket dir: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, socketPrefix) || !strings.HasSuffix(name, ".sock") {
			continue
		}
		if name == socketPrefix+w.hardwareUUID+".sock" {
			continue // A radio does not hear its own broadcast
		}
		if w.dropPacket() {
			logger.Trace(w.hardwareUUID[:8], "Simulated loss towards %s", name)
			continue
		}
		w.deliver(filepath.Join(w.config.SocketDir, name), frame)
	}

	return nil
}

// deliver writes one length-prefixed frame to a listener socket.
// Dead sockets are stale files from crashed nodes; ignore them.
func (w *Wire) deliver(path string, frame []byte) {
	conn, err := net.DialTimeout("unix", path, 200*time.Millisecond)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(500 * time.Millisecond))
	if err := binary.Write(conn, binary.BigEndian, uint32(len(frame))); err != nil {
		return
	}
	conn.Write(frame)
}

func (w *Wire) dropPacket() bool {
	if w.config.PacketLossRate <= 0 {
		return false
	}
	w.rngMu.Lock()
	defer w.rngMu.Unlock()
	return w.rng.Float64() < w.config.PacketLossRate
}

func (w *Wire) acceptLoop() {
	defer w.wg.Done()

	for {
		conn, err := w.listener.Accept()
		if err != nil {
			select {
			case <-w.stopChan:
				return
			default:
				logger.Warn(w.hardwareUUID[:8], "Accept failed: %v", err)
				continue
			}
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.readFrames(conn)
		}()
	}
}

// readFrames consumes length-prefixed advertisement frames until EOF.
// Frames that do not carry mesh manufacturer data are foreign traffic on
// the shared medium and are dropped without note.
func (w *Wire) readFrames(conn net.Conn) {
	defer conn.Close()

	for {
		var frameLen uint32
		if err := binary.Read(conn, binary.BigEndian, &frameLen); err != nil {
			return
		}
		if frameLen == 0 || frameLen > maxFrameSize {
			return
		}

		frame := make([]byte, frameLen)
		if _, err := io.ReadFull(conn, frame); err != nil {
			return
		}

		// A powered-off radio hears nothing
		if w.State() != transport.StatePoweredOn {
			continue
		}

		pdu, err := advertising.DecodeAdvertisingPDU(frame)
		if err != nil {
			continue
		}
		raw, err := advertising.UnwrapPacket(pdu.AdvData)
		if err != nil {
			continue
		}

		if w.receive != nil {
			w.receive(raw)
		}
	}
}

// Package bridge exposes the relay engine to a browser-session bridge
// process over a Unix socket with length-prefixed JSON frames. The bridge
// is a pure collaborator: its failures never touch node invariants, and a
// slow or dead client is simply dropped.
package bridge

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/user/ghostmesh/logger"
	"github.com/user/ghostmesh/mesh"
	"github.com/user/ghostmesh/mesh/packet"
)

// maxRequestSize bounds one inbound JSON frame
const maxRequestSize = 4096

// defaultWriteTimeout bounds one frame write towards a client so a wedged
// client can never stall the node's event path
const defaultWriteTimeout = 1 * time.Second

// client is one connected bridge process
type client struct {
	id      string
	conn    net.Conn
	writeMu sync.Mutex
}

// Server serves the bridge socket for one node
type Server struct {
	node         *mesh.Node
	socketPath   string
	writeTimeout time.Duration

	listener net.Listener
	clients  map[string]*client
	mu       sync.Mutex

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
}

// NewServer creates a bridge server bound to the given node
func NewServer(node *mesh.Node, socketPath string) *Server {
	return &Server{
		node:         node,
		socketPath:   socketPath,
		writeTimeout: defaultWriteTimeout,
		clients:      make(map[string]*client),
	}
}

// Start claims the node's event surface and begins accepting clients
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	os.Remove(s.socketPath)
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}

	s.node.SetEvents(mesh.Events{
		MessageReceived: s.onMessageReceived,
		MessageRelayed:  s.onMessageRelayed,
		DeviceObserved:  s.onDeviceObserved,
	})

	s.listener = listener
	s.stopChan = make(chan struct{})
	s.started = true

	s.wg.Add(1)
	go s.acceptLoop()

	logger.Info("bridge", "Listening on %s", s.socketPath)
	return nil
}

// Stop disconnects all clients and closes the socket (idempotent)
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopChan)
	clients := s.clients
	s.clients = make(map[string]*client)
	s.mu.Unlock()

	s.listener.Close()
	for _, c := range clients {
		c.conn.Close()
	}
	s.wg.Wait()
	os.Remove(s.socketPath)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
				logger.Warn("bridge", "Accept failed: %v", err)
				continue
			}
		}

		c := &client{id: uuid.New().String(), conn: conn}
		s.mu.Lock()
		s.clients[c.id] = c
		s.mu.Unlock()
		logger.Info("bridge", "Client %s connected", c.id[:8])

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveClient(c)
		}()
	}
}

func (s *Server) serveClient(c *client) {
	defer func() {
		c.conn.Close()
		s.mu.Lock()
		delete(s.clients, c.id)
		s.mu.Unlock()
		logger.Info("bridge", "Client %s disconnected", c.id[:8])
	}()

	for {
		var frameLen uint32
		if err := binary.Read(c.conn, binary.BigEndian, &frameLen); err != nil {
			return
		}
		if frameLen == 0 || frameLen > maxRequestSize {
			return
		}

		frame := make([]byte, frameLen)
		if _, err := io.ReadFull(c.conn, frame); err != nil {
			return
		}

		var req Request
		if err := json.Unmarshal(frame, &req); err != nil {
			s.writeFrame(c, &Reply{Type: "reply", Error: "malformed request"})
			continue
		}
		logger.DebugJSON("bridge", "Request from "+c.id[:8], req)
		s.writeFrame(c, s.handle(&req))
	}
}

// handle executes one bridge operation against the node
func (s *Server) handle(req *Request) *Reply {
	reply := &Reply{Type: "reply", RequestID: req.ID}

	switch req.Op {
	case OpSendMessage:
		var msgID uint16
		var err error
		if req.Emergency {
			msgID, err = s.node.SendEmergencyMessage(packet.Address(req.Destination), []byte(req.Payload))
		} else {
			msgID, err = s.node.SendMessage(packet.Address(req.Destination), []byte(req.Payload))
		}
		if err != nil {
			reply.Error = err.Error()
		} else {
			reply.MessageID = msgID
		}

	case OpPeers:
		reply.Peers = s.node.Peers()

	case OpStart:
		if err := s.node.Start(); err != nil {
			reply.Error = err.Error()
		}

	case OpStop:
		s.node.Stop()

	default:
		reply.Error = fmt.Sprintf("unknown op %q", req.Op)
	}

	return reply
}

// broadcast pushes an event to every connected client
func (s *Server) broadcast(event *Event) {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		s.writeFrame(c, event)
	}
}

// writeFrame sends one length-prefixed JSON document under a write
// deadline. A client that stops reading fills its socket buffer, hits the
// deadline and is closed; its read loop then reaps it. The node's run loop
// drives event pushes, so writes here must never block past the deadline.
func (s *Server) writeFrame(c *client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("bridge", "Marshal failed: %v", err)
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := binary.Write(c.conn, binary.BigEndian, uint32(len(data))); err != nil {
		c.conn.Close()
		return
	}
	if _, err := c.conn.Write(data); err != nil {
		logger.Warn("bridge", "Dropping wedged client %s: %v", c.id[:8], err)
		c.conn.Close()
	}
}

func (s *Server) onMessageReceived(payload []byte, source packet.Address) {
	s.broadcast(&Event{
		Type:    "event",
		Event:   EventMessageReceived,
		Source:  uint64(source),
		Payload: string(payload),
	})
}

func (s *Server) onMessageRelayed(pkt packet.Packet) {
	s.broadcast(&Event{
		Type:         "event",
		Event:        EventMessageRelayed,
		Source:       uint64(pkt.Source),
		MessageID:    pkt.MessageID,
		PacketNumber: pkt.PacketNumber,
		HopCount:     pkt.HopCount,
	})
}

func (s *Server) onDeviceObserved(addr packet.Address) {
	s.broadcast(&Event{
		Type:   "event",
		Event:  EventDeviceObserved,
		Device: uint64(addr),
	})
}

package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire layout (31 bytes, multi-byte fields little-endian):
//
//	[Destination: 5 bytes] [Source: 5 bytes] [MsgID/PktNum: 2 bytes]
//	[Hop Count: 1 byte] [Payload: 18 bytes, zero-padded]
const (
	AddressLen  = 5  // Node addresses are 40-bit
	PacketSize  = 31 // Fixed wire size of one packet
	PayloadSize = 18 // Fixed payload region per packet
	MaxPackets  = 16 // Packet numbers are 4-bit (0-15)

	// MaxMessageSize is the largest payload Packetize accepts
	MaxMessageSize = MaxPackets * PayloadSize // 288 bytes

	// MaxMessageID is the largest 12-bit message id
	MaxMessageID = 0xFFF

	offsetDestination = 0
	offsetSource      = 5
	offsetMsgID       = 10
	offsetHopCount    = 12
	offsetPayload     = 13
)

// Address is a 40-bit node identity. Compared by exact equality only.
type Address uint64

// Broadcast is the reserved all-ones destination address
const Broadcast Address = 0xFFFFFFFFFF

// MaxAddress is the largest encodable unicast address
const MaxAddress Address = 0xFFFFFFFFFE

// IsBroadcast reports whether the address is the reserved broadcast value
func (a Address) IsBroadcast() bool {
	return a == Broadcast
}

// String formats the address as a 10-digit hex id
func (a Address) String() string {
	return fmt.Sprintf("%010x", uint64(a))
}

var (
	ErrPacketTooShort  = errors.New("packet: fewer than 31 bytes")
	ErrPayloadTooLarge = fmt.Errorf("packet: payload exceeds %d bytes", PayloadSize)
	ErrMessageTooLarge = fmt.Errorf("packet: message exceeds %d bytes", MaxMessageSize)
	ErrAddressRange    = errors.New("packet: address exceeds 40 bits")
	ErrMessageIDRange  = errors.New("packet: message id exceeds 12 bits")
)

// Packet is the atomic wire unit of the mesh
type Packet struct {
	Destination  Address
	Source       Address
	MessageID    uint16 // 12-bit (0-4095)
	PacketNumber uint8  // 4-bit (0-15)
	HopCount     uint8  // Remaining relay budget, counts down
	Payload      [PayloadSize]byte
}

// SetPayload copies data into the payload region, zero-padding the rest.
// Data longer than PayloadSize is rejected, never truncated.
func (p *Packet) SetPayload(data []byte) error {
	if len(data) > PayloadSize {
		return ErrPayloadTooLarge
	}
	p.Payload = [PayloadSize]byte{}
	copy(p.Payload[:], data)
	return nil
}

// Encode serializes the packet to its 31-byte wire format
func (p *Packet) Encode() ([]byte, error) {
	if p.Destination > Broadcast || p.Source > Broadcast {
		return nil, ErrAddressRange
	}
	if p.MessageID > MaxMessageID {
		return nil, ErrMessageIDRange
	}

	buf := make([]byte, PacketSize)
	putAddress(buf[offsetDestination:], p.Destination)
	putAddress(buf[offsetSource:], p.Source)

	// Bits 15-4 carry the message id, bits 3-0 the packet number
	wireID := (p.MessageID << 4) | uint16(p.PacketNumber&0x0F)
	binary.LittleEndian.PutUint16(buf[offsetMsgID:], wireID)

	buf[offsetHopCount] = p.HopCount
	copy(buf[offsetPayload:], p.Payload[:])

	return buf, nil
}

// Decode parses a 31-byte wire packet. Callers are expected to drop
// malformed input silently; the shared medium routinely carries foreign
// traffic.
func Decode(data []byte) (*Packet, error) {
	if len(data) < PacketSize {
		return nil, ErrPacketTooShort
	}

	wireID := binary.LittleEndian.Uint16(data[offsetMsgID:])

	p := &Packet{
		Destination:  getAddress(data[offsetDestination:]),
		Source:       getAddress(data[offsetSource:]),
		MessageID:    (wireID >> 4) & 0xFFF,
		PacketNumber: uint8(wireID & 0x0F),
		HopCount:     data[offsetHopCount],
	}
	copy(p.Payload[:], data[offsetPayload:offsetPayload+PayloadSize])

	return p, nil
}

// Packetize splits a message payload into wire packets sharing one message
// id, packet numbers ascending from 0. Payloads over MaxMessageSize are
// rejected at send time, never truncated.
func Packetize(dest, src Address, msgID uint16, hopCount uint8, payload []byte) ([]*Packet, error) {
	if len(payload) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	if msgID > MaxMessageID {
		return nil, ErrMessageIDRange
	}

	// An empty payload still produces packet 0 (used for presence beacons)
	count := (len(payload) + PayloadSize - 1) / PayloadSize
	if count == 0 {
		count = 1
	}

	packets := make([]*Packet, 0, count)
	for i := 0; i < count; i++ {
		chunk := payload[i*PayloadSize:]
		if len(chunk) > PayloadSize {
			chunk = chunk[:PayloadSize]
		}

		p := &Packet{
			Destination:  dest,
			Source:       src,
			MessageID:    msgID,
			PacketNumber: uint8(i),
			HopCount:     hopCount,
		}
		if err := p.SetPayload(chunk); err != nil {
			return nil, err
		}
		packets = append(packets, p)
	}

	return packets, nil
}

// TrimPadding strips the trailing zero bytes the fixed payload region adds.
// Text payloads never carry embedded NULs, so this recovers the original
// content exactly.
func TrimPadding(data []byte) []byte {
	end := len(data)
	for end > 0 && data[end-1] == 0 {
		end--
	}
	return data[:end]
}

// putAddress writes a 40-bit address as 5 little-endian bytes
func putAddress(buf []byte, addr Address) {
	v := uint64(addr)
	for i := 0; i < AddressLen; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

// getAddress reads 5 little-endian bytes into a 40-bit address
func getAddress(buf []byte) Address {
	var v uint64
	for i := 0; i < AddressLen; i++ {
		v |= uint64(buf[i]) << (8 * i)
	}
	return Address(v)
}

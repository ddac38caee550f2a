// Package advertising implements the over-the-air framing of mesh packets:
// a BLE advertising PDU whose data region carries the 31-byte mesh packet
// inside a Manufacturer Specific Data structure.
package advertising

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PDU types for BLE advertising packets (Link Layer)
const (
	PDUTypeAdvInd        = 0x00 // Connectable undirected advertising
	PDUTypeAdvNonconnInd = 0x02 // Non-connectable undirected advertising
	PDUTypeAdvScanInd    = 0x06 // Scannable undirected advertising
)

// AD types used by the mesh framing (EIR/AD format)
const (
	ADTypeFlags                    = 0x01 // Flags
	ADTypeCompleteLocalName        = 0x09 // Complete Local Name
	ADTypeTxPowerLevel             = 0x0A // Tx Power Level
	ADTypeManufacturerSpecificData = 0xFF // Manufacturer Specific Data
)

// Advertising flags (used in ADTypeFlags)
const (
	FlagLEGeneralDiscoverableMode = 0x02 // LE General Discoverable Mode
	FlagBREDRNotSupported         = 0x04 // BR/EDR Not Supported
)

const (
	// CompanyID prefixes every mesh advertisement's manufacturer data.
	// 0xFFFF is the Bluetooth SIG value reserved for internal use.
	CompanyID uint16 = 0xFFFF

	// MaxAdvertisingDataLen caps the advertising data region. The PDU's
	// single length byte counts AdvA plus data, so data tops out at
	// 255 - 6. The legacy 31-byte limit cannot hold a mesh packet plus
	// its manufacturer framing, so the mesh requires extended advertising.
	MaxAdvertisingDataLen = 255 - BLEAddressLen

	BLEAddressLen = 6 // Bluetooth address is 6 bytes
)

var (
	ErrNotMeshData = errors.New("advertising: not a mesh advertisement")
)

// AdvertisingPDU represents a BLE advertising packet at the Link Layer
// Format: [PDU Type: 1 byte] [Length: 1 byte] [AdvA: 6 bytes] [AdvData: N bytes]
type AdvertisingPDU struct {
	PDUType byte
	AdvA    [6]byte
	AdvData []byte
}

// ADStructure represents a single TLV structure in advertising data
// Format: [Length: 1 byte] [Type: 1 byte] [Data: N bytes]
// Length includes the Type byte but not itself
type ADStructure struct {
	Type byte
	Data []byte
}

// Encode serializes the advertising PDU to binary format
func (pdu *AdvertisingPDU) Encode() ([]byte, error) {
	if len(pdu.AdvData) > MaxAdvertisingDataLen {
		return nil, fmt.Errorf("advertising data exceeds %d bytes: %d", MaxAdvertisingDataLen, len(pdu.AdvData))
	}

	totalLen := 2 + BLEAddressLen + len(pdu.AdvData)
	buf := make([]byte, totalLen)

	buf[0] = pdu.PDUType
	buf[1] = byte(BLEAddressLen + len(pdu.AdvData))
	copy(buf[2:8], pdu.AdvA[:])
	copy(buf[8:], pdu.AdvData)

	return buf, nil
}

// DecodeAdvertisingPDU parses a binary advertising PDU
func DecodeAdvertisingPDU(data []byte) (*AdvertisingPDU, error) {
	if len(data) < 8 {
		return nil, errors.New("advertising PDU too short (minimum 8 bytes)")
	}

	pdu := &AdvertisingPDU{PDUType: data[0]}

	payloadLen := int(data[1])
	if payloadLen < BLEAddressLen {
		return nil, errors.New("invalid payload length (must be at least 6 for address)")
	}
	if len(data) < 2+payloadLen {
		return nil, fmt.Errorf("advertising PDU truncated: expected %d bytes, got %d", 2+payloadLen, len(data))
	}

	copy(pdu.AdvA[:], data[2:8])
	advDataLen := payloadLen - BLEAddressLen
	if advDataLen > 0 {
		if advDataLen > MaxAdvertisingDataLen {
			return nil, fmt.Errorf("advertising data exceeds %d bytes: %d", MaxAdvertisingDataLen, advDataLen)
		}
		pdu.AdvData = make([]byte, advDataLen)
		copy(pdu.AdvData, data[8:8+advDataLen])
	}

	return pdu, nil
}

// EncodeADStructures encodes AD structures into one advertising data payload
func EncodeADStructures(structures []ADStructure) ([]byte, error) {
	var buf []byte
	for _, s := range structures {
		length := 1 + len(s.Data)
		if length > 255 {
			return nil, fmt.Errorf("AD structure too long: %d bytes (max 255)", length)
		}
		buf = append(buf, byte(length))
		buf = append(buf, s.Type)
		buf = append(buf, s.Data...)
	}
	if len(buf) > MaxAdvertisingDataLen {
		return nil, fmt.Errorf("total advertising data exceeds %d bytes: %d", MaxAdvertisingDataLen, len(buf))
	}
	return buf, nil
}

// DecodeADStructures parses advertising data into individual AD structures
func DecodeADStructures(data []byte) ([]ADStructure, error) {
	var structures []ADStructure
	offset := 0

	for offset < len(data) {
		length := int(data[offset])
		if length == 0 {
			// Padding or end of data
			break
		}

		offset++
		if offset+length > len(data) {
			return nil, fmt.Errorf("AD structure length exceeds data: length=%d, remaining=%d", length, len(data)-offset)
		}

		adType := data[offset]
		offset++
		adData := make([]byte, length-1)
		copy(adData, data[offset:offset+length-1])
		offset += length - 1

		structures = append(structures, ADStructure{Type: adType, Data: adData})
	}

	return structures, nil
}

// NewManufacturerSpecificDataAD creates a manufacturer-specific data AD
// structure with a little-endian company id prefix
func NewManufacturerSpecificDataAD(companyID uint16, data []byte) ADStructure {
	payload := make([]byte, 2+len(data))
	binary.LittleEndian.PutUint16(payload[0:2], companyID)
	copy(payload[2:], data)
	return ADStructure{Type: ADTypeManufacturerSpecificData, Data: payload}
}

// GetManufacturerData extracts manufacturer-specific data from AD structures
func GetManufacturerData(structures []ADStructure) (companyID uint16, data []byte, found bool) {
	for _, s := range structures {
		if s.Type == ADTypeManufacturerSpecificData && len(s.Data) >= 2 {
			companyID = binary.LittleEndian.Uint16(s.Data[0:2])
			data = s.Data[2:]
			found = true
			return
		}
	}
	return 0, nil, false
}

// WrapPacket frames a raw 31-byte mesh packet as advertising data: a
// manufacturer-specific structure prefixed with the mesh company id.
func WrapPacket(raw []byte) ([]byte, error) {
	return EncodeADStructures([]ADStructure{
		NewManufacturerSpecificDataAD(CompanyID, raw),
	})
}

// UnwrapPacket recovers the raw mesh packet from advertising data.
// Advertisements without our manufacturer structure are foreign traffic
// and return ErrNotMeshData; callers drop them silently.
func UnwrapPacket(advData []byte) ([]byte, error) {
	structures, err := DecodeADStructures(advData)
	if err != nil {
		return nil, err
	}
	companyID, data, found := GetManufacturerData(structures)
	if !found || companyID != CompanyID {
		return nil, ErrNotMeshData
	}
	return data, nil
}

// AddressToAdvA derives the 6-byte advertiser address from a 40-bit mesh
// address. The top byte is fixed so simulated AdvA values stay in the
// static random address range.
func AddressToAdvA(addr uint64) [6]byte {
	var a [6]byte
	for i := 0; i < 5; i++ {
		a[i] = byte(addr >> (8 * i))
	}
	a[5] = 0xC0
	return a
}

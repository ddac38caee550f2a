package bridge

// Frame format on the bridge socket: 4-byte big-endian length, then one
// JSON document. Requests flow browser-side to node, events flow back.

// Request is one operation from a bridge client
type Request struct {
	ID string `json:"id,omitempty"` // Echoed back in the reply
	Op string `json:"op"`           // send_message | peers | start | stop

	// send_message fields
	Destination uint64 `json:"destination,omitempty"`
	Payload     string `json:"payload,omitempty"`
	Emergency   bool   `json:"emergency,omitempty"`
}

// Reply answers one request
type Reply struct {
	Type      string `json:"type"` // Always "reply"
	RequestID string `json:"request_id,omitempty"`
	MessageID uint16 `json:"message_id,omitempty"`
	Peers     any    `json:"peers,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Event is pushed to every connected client
type Event struct {
	Type    string `json:"type"`  // Always "event"
	Event   string `json:"event"` // message_received | message_relayed | device_observed
	Source  uint64 `json:"source,omitempty"`
	Device  uint64 `json:"device,omitempty"`
	Payload string `json:"payload,omitempty"`

	// message_relayed detail
	MessageID    uint16 `json:"message_id,omitempty"`
	PacketNumber uint8  `json:"packet_number,omitempty"`
	HopCount     uint8  `json:"hop_count,omitempty"`
}

// Operation names
const (
	OpSendMessage = "send_message"
	OpPeers       = "peers"
	OpStart       = "start"
	OpStop        = "stop"
)

// Event names
const (
	EventMessageReceived = "message_received"
	EventMessageRelayed  = "message_relayed"
	EventDeviceObserved  = "device_observed"
)

package observerproto

import "liftsim/internal/protocol"

// Version is the observer feed protocol version (separate from the store API).
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeEvent     = "EVENT"
)

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to change the filter.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// Kinds limits the feed to these event kinds. Empty means all.
	Kinds []string `json:"kinds,omitempty"`
}

// HTTP response for GET /observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string            `json:"protocol_version"`
	Car             protocol.CarState `json:"car"`
	State           protocol.State    `json:"state"`
}

// Server -> Client. One per car event.
type EventMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	Event           protocol.CarEvent `json:"event"`
}

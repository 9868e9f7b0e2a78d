// Package domain contains entity without logic, just meta-data
package domain

type (
	// PeerID is the connection id issued when the signaling socket is accepted.
	PeerID      string
	TransportID string
	ProducerID  string
	ConsumerID  string
)

// Peer is one connected participant and the ids of the resources it owns.
// Handles live in the registries; the peer record only tags ownership.
type Peer struct {
	ID          PeerID
	RoomName    RoomName
	DisplayName string
	IsAdmin     bool

	Transports map[TransportID]struct{}
	Producers  map[ProducerID]struct{}
	Consumers  map[ConsumerID]struct{}
}

// NewPeer avoids raw literals in adapters and keeps construction obvious.
func NewPeer(id PeerID) *Peer {
	return &Peer{ID: id}
}

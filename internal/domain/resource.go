package domain

// MediaKind distinguishes audio and video streams.
type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == MediaKindAudio || k == MediaKindVideo
}

// Transport tags a negotiated media channel with its owner.
// IsConsumer marks the receive direction; a peer has at most one send transport.
type Transport struct {
	ID         TransportID
	PeerID     PeerID
	RoomName   RoomName
	IsConsumer bool
}

// Producer tags an outbound stream published over a send transport.
type Producer struct {
	ID       ProducerID
	PeerID   PeerID
	RoomName RoomName
	Kind     MediaKind
}

// Consumer tags an inbound stream bound to one remote producer. It is valid
// only while both its transport and its producer are alive; either closing
// tears it down.
type Consumer struct {
	ID          ConsumerID
	PeerID      PeerID
	RoomName    RoomName
	ProducerID  ProducerID
	TransportID TransportID
}

package domain

// RecordingSession pairs one audio and one video producer under an external
// recorder job. Identity is the producer id pair.
type RecordingSession struct {
	AudioProducerID ProducerID
	VideoProducerID ProducerID
	RoomName        RoomName
	PeerID          PeerID
	FileName        string
	Active          bool
}

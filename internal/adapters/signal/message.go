package signal

import (
	"encoding/json"
	"errors"

	"github.com/ametov/parley/internal/core"
	"github.com/ametov/parley/internal/domain"
)

// Envelope frames every message in both directions. Requests carry an id and
// get exactly one response envelope echoing type and id; pushes carry none.
type Envelope struct {
	Type string          `json:"type"`
	ID   uint64          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type joinRoomRequest struct {
	RoomName string `json:"roomName"`
	UserName string `json:"userName"`
}

type joinRoomResponse struct {
	RoutingCapabilities json.RawMessage `json:"routingCapabilities"`
}

type createTransportRequest struct {
	IsConsumer bool `json:"isConsumer"`
}

type transportConnectRequest struct {
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

type transportProduceRequest struct {
	Kind          domain.MediaKind `json:"kind"`
	RTPParameters json.RawMessage  `json:"rtpParameters"`
}

type transportProduceResponse struct {
	ID             domain.ProducerID `json:"id"`
	ProducersExist bool              `json:"producersExist"`
}

type recvConnectRequest struct {
	DTLSParameters            json.RawMessage    `json:"dtlsParameters"`
	ServerConsumerTransportID domain.TransportID `json:"serverConsumerTransportId"`
}

type consumeRequest struct {
	RTPCapabilities           json.RawMessage    `json:"rtpCapabilities"`
	RemoteProducerID          domain.ProducerID  `json:"remoteProducerId"`
	ServerConsumerTransportID domain.TransportID `json:"serverConsumerTransportId"`
}

type consumerResumeRequest struct {
	ServerConsumerID domain.ConsumerID `json:"serverConsumerId"`
}

type recordingRequest struct {
	AudioProducerID domain.ProducerID `json:"audioProducerId"`
	VideoProducerID domain.ProducerID `json:"videoProducerId"`
}

type startRecordingResponse struct {
	Success  bool   `json:"success"`
	FileName string `json:"fileName"`
}

type stopRecordingResponse struct {
	Success  bool   `json:"success"`
	FilePath string `json:"filePath"`
}

type connectionSuccessPush struct {
	ConnectionID domain.PeerID `json:"connectionId"`
}

type newProducerPush struct {
	ProducerID domain.ProducerID `json:"producerId"`
}

type producerClosedPush struct {
	RemoteProducerID domain.ProducerID `json:"remoteProducerId"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// errorText maps a handler failure onto the message shown to the client.
// Internal detail stays in the logs.
func errorText(err error) string {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return "not found"
	case errors.Is(err, core.ErrInvalidState):
		return "invalid state"
	case errors.Is(err, core.ErrInvalidKind):
		return "invalid kind"
	case errors.Is(err, core.ErrCannotConsume):
		return "cannot consume"
	case errors.Is(err, core.ErrRecorderFailure):
		return "recorder failure"
	case errors.Is(err, core.ErrEngineFailure):
		return "engine failure"
	default:
		return "internal error"
	}
}

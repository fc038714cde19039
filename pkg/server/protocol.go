package server

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Inbound message names.
const (
	actionBegin = "Begin"
	actionEnd   = "End"
)

// Outbound event names.
const (
	eventStarted       = "Started"
	eventSentenceBegin = "SentenceBegin"
	eventResult        = "Result"
	eventSentenceEnd   = "SentenceEnd"
	eventCompleted     = "Completed"
	eventFailed        = "Failed"
)

// Header is the common frame header. Inbound frames carry at least name;
// outbound frames add status, a fresh message id, and status text.
type Header struct {
	Name       string `json:"name"`
	Status     int    `json:"status,omitempty"`
	MessageID  string `json:"mid,omitempty"`
	StatusText string `json:"status_text,omitempty"`
}

// inMessage is the inbound frame shape. Header stays raw so a missing or
// non-object header can be distinguished from other malformations.
type inMessage struct {
	Header  json.RawMessage `json:"header"`
	Payload json.RawMessage `json:"payload"`
}

// envelope is the outbound frame shape.
type envelope struct {
	Header  Header `json:"header"`
	Payload any    `json:"payload"`
}

// BeginPayload is the recognized payload of a Begin frame.
type BeginPayload struct {
	// Format must be "pcm".
	Format string `json:"fmt"`

	// Rate must be 16000.
	Rate int `json:"rate"`

	// ITN toggles inverse text normalization; defaults to true.
	ITN *bool `json:"itn"`

	// Silence overrides the VAD minimum silence duration (ms) when
	// greater than 50.
	Silence int `json:"silence"`

	// SessionID lets the client pick its own session id.
	SessionID string `json:"session_id"`
}

func defaultBeginPayload() BeginPayload {
	return BeginPayload{Format: "pcm", Rate: 16000, Silence: 800}
}

type startedPayload struct {
	SID string `json:"sid"`
}

type sentenceBeginPayload struct {
	Idx  int   `json:"idx"`
	Time int64 `json:"time"`
}

type resultPayload struct {
	Idx       int    `json:"idx"`
	Time      int64  `json:"time"`
	Text      string `json:"text"`
	SpeakerID string `json:"speaker_id,omitempty"`
	Speaker   string `json:"speaker,omitempty"`
}

type sentenceEndPayload struct {
	Idx       int    `json:"idx"`
	Time      int64  `json:"time"`
	Begin     int64  `json:"begin"`
	Text      string `json:"text"`
	SpeakerID string `json:"speaker_id,omitempty"`
	Speaker   string `json:"speaker,omitempty"`
}

// encodeEvent marshals one outbound frame with a fresh message id.
func encodeEvent(name string, payload any, status int, statusText string) []byte {
	if payload == nil {
		payload = struct{}{}
	}
	data, err := json.Marshal(envelope{
		Header: Header{
			Name:       name,
			Status:     status,
			MessageID:  uuid.NewString(),
			StatusText: statusText,
		},
		Payload: payload,
	})
	if err != nil {
		// All outbound payload types are marshalable; this cannot happen
		// for well-formed events.
		return nil
	}
	return data
}

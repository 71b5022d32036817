package messages

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Inbound message types
const (
	TypeConnected           = "connected"
	TypeInputTranscription  = "input_transcription"
	TypeOutputTranscription = "output_transcription"
	TypeAudioResponse       = "audio_response"
	TypeTurnComplete        = "turn_complete"
	TypeSpeechState         = "speech_state"
	TypeError               = "error"
)

// SpeechState is the backend's tri-state voice activity indicator.
type SpeechState string

const (
	SpeechSpeaking   SpeechState = "speaking"
	SpeechSilent     SpeechState = "silent"
	SpeechProcessing SpeechState = "processing"
)

// Server is one deserialized backend message. The union is closed: every
// recognized type has its own variant, and anything else parses into
// Unknown so new backend message types never break the client.
type Server interface {
	serverMessage()
}

// Connected confirms the backend accepted the init configuration.
type Connected struct {
	SessionID string
}

// InputTranscription is a fragment of the user's transcribed speech.
// IsFinal distinguishes a committed utterance from an in-progress one.
type InputTranscription struct {
	Text     string
	IsFinal  bool
	Language string
}

// OutputTranscription is a fragment of the interpreter's response text.
type OutputTranscription struct {
	Text     string
	IsFinal  bool
	Language string
}

// AudioResponse carries one chunk of synthesized speech as base64 PCM16.
type AudioResponse struct {
	Data       string
	SampleRate int
}

// TurnComplete delimits one full exchange.
type TurnComplete struct {
	InputText  string
	OutputText string
}

// SpeechStateChange reports the backend's voice activity state.
type SpeechStateChange struct {
	State     SpeechState
	Timestamp int64
}

// ServerError is an error reported by the backend.
type ServerError struct {
	Message string
	Code    string
}

// Unknown preserves an unrecognized message type for forward
// compatibility. Current logic ignores it.
type Unknown struct {
	Type string
	Raw  []byte
}

func (Connected) serverMessage()           {}
func (InputTranscription) serverMessage()  {}
func (OutputTranscription) serverMessage() {}
func (AudioResponse) serverMessage()       {}
func (TurnComplete) serverMessage()        {}
func (SpeechStateChange) serverMessage()   {}
func (ServerError) serverMessage()         {}
func (Unknown) serverMessage()             {}

// serverEnvelope is the superset of all recognized inbound fields.
// An absent isFinal means false.
type serverEnvelope struct {
	Type       string      `json:"type"`
	SessionID  string      `json:"sessionId"`
	Text       string      `json:"text"`
	IsFinal    bool        `json:"isFinal"`
	Language   string      `json:"language"`
	Data       string      `json:"data"`
	SampleRate int         `json:"sampleRate"`
	InputText  string      `json:"inputText"`
	OutputText string      `json:"outputText"`
	State      SpeechState `json:"state"`
	Timestamp  int64       `json:"timestamp"`
	Message    string      `json:"message"`
	Code       string      `json:"code"`
}

// ParseServer deserializes one inbound text frame. A frame that is not
// valid JSON is an error; a valid frame with an unrecognized type parses
// into Unknown.
func ParseServer(frame []byte) (Server, error) {
	var env serverEnvelope
	if err := sonic.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("malformed server message: %w", err)
	}

	switch env.Type {
	case TypeConnected:
		return Connected{SessionID: env.SessionID}, nil
	case TypeInputTranscription:
		return InputTranscription{Text: env.Text, IsFinal: env.IsFinal, Language: env.Language}, nil
	case TypeOutputTranscription:
		return OutputTranscription{Text: env.Text, IsFinal: env.IsFinal, Language: env.Language}, nil
	case TypeAudioResponse:
		return AudioResponse{Data: env.Data, SampleRate: env.SampleRate}, nil
	case TypeTurnComplete:
		return TurnComplete{InputText: env.InputText, OutputText: env.OutputText}, nil
	case TypeSpeechState:
		return SpeechStateChange{State: env.State, Timestamp: env.Timestamp}, nil
	case TypeError:
		return ServerError{Message: env.Message, Code: env.Code}, nil
	default:
		raw := make([]byte, len(frame))
		copy(raw, frame)
		return Unknown{Type: env.Type, Raw: raw}, nil
	}
}

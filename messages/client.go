package messages

import "github.com/bytedance/sonic"

// Outbound message types
const (
	TypeInit      = "init"
	TypeAudio     = "audio"
	TypeInterrupt = "interrupt"
	TypeClose     = "close"
)

// InitConfig is the immutable session configuration sent once per
// connection attempt, immediately after the transport opens. It is
// retained by the session client so it can be replayed verbatim on
// reconnect.
type InitConfig struct {
	Language   string `json:"language"`
	UseWhisper bool   `json:"useWhisper"`
	SampleRate int    `json:"sampleRate"`
}

// Init announces the session configuration to the backend.
type Init struct {
	Type   string     `json:"type"`
	Config InitConfig `json:"config"`
}

// Audio carries one base64 PCM16 capture chunk.
type Audio struct {
	Type      string `json:"type"`
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"` // capture time, epoch ms
}

// Interrupt tells the backend to stop producing audio for the current turn.
type Interrupt struct {
	Type string `json:"type"`
}

// Close notifies the backend of an explicit disconnect.
type Close struct {
	Type string `json:"type"`
}

// NewInit creates an init message
func NewInit(cfg InitConfig) *Init {
	return &Init{Type: TypeInit, Config: cfg}
}

// NewAudio creates an audio data message
func NewAudio(base64Data string, timestampMS int64) *Audio {
	return &Audio{Type: TypeAudio, Data: base64Data, Timestamp: timestampMS}
}

// NewInterrupt creates an interrupt control message
func NewInterrupt() *Interrupt {
	return &Interrupt{Type: TypeInterrupt}
}

// NewClose creates a close notice
func NewClose() *Close {
	return &Close{Type: TypeClose}
}

// Marshal serializes an outbound message as a JSON text frame.
func Marshal(msg any) ([]byte, error) {
	return sonic.Marshal(msg)
}

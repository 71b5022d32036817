package interp

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/room4-2/OpenInterpreter/messages"
	"github.com/room4-2/OpenInterpreter/session"
)

// ConnectionState is the orchestrator's coarse session state, derived
// from stream client events.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Errored
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Errored:
		return "error"
	default:
		return "unknown"
	}
}

// Role identifies who produced a transcript line.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ChatMessage is one committed transcript line.
type ChatMessage struct {
	ID        string
	Role      Role
	Text      string
	Timestamp time.Time
	IsFinal   bool
}

// Stream is the session transport the orchestrator drives. Satisfied by
// session.StreamClient.
type Stream interface {
	Connect(cfg messages.InitConfig) error
	Disconnect(notifyServer bool)
	Events() <-chan session.Event
	Interrupt()
	SendAudioData(base64Data string, timestampMS int64)
}

// AudioPipeline is the duplex audio path. Satisfied by
// pipeline.Controller.
type AudioPipeline interface {
	Start() error
	Stop()
	HandleAudioResponse(base64Data string)
	SetMuted(muted bool)
	Muted() bool
	SetVolume(gain float64) error
	Volume() float64
	InputLevel() float64
	OutputLevel() float64
	FlushPlayback()
}

// Status is a point-in-time snapshot for display.
type Status struct {
	State         ConnectionState
	SessionID     string
	Speech        messages.SpeechState
	Muted         bool
	Volume        float64
	InputLevel    float64
	OutputLevel   float64
	Committed     int
	PartialInput  string
	PartialOutput string
}

// Orchestrator ties the stream client, the audio pipeline, and the
// transcript together for one interpretation session. It consumes the
// client's event stream on a single goroutine, so all protocol handling
// is serialized in arrival order.
type Orchestrator struct {
	stream  Stream
	pipe    AudioPipeline
	archive *session.Archive
	logger  *zap.Logger
	cfg     messages.InitConfig

	now func() time.Time

	mu         sync.Mutex
	started    bool
	state      ConnectionState
	sessionID  string
	speech     messages.SpeechState
	transcript []ChatMessage
	partialIn  string
	partialOut string
	lastErr    error

	commits chan ChatMessage

	loopWG sync.WaitGroup
}

// New creates an orchestrator. archive may be a disabled archive but
// must not be nil.
func New(stream Stream, pipe AudioPipeline, archive *session.Archive, cfg messages.InitConfig, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		stream:  stream,
		pipe:    pipe,
		archive: archive,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
		state:   Disconnected,
		speech:  messages.SpeechSilent,
		commits: make(chan ChatMessage, 64),
	}
}

// Start acquires the audio devices and opens the session. The
// microphone is acquired first: if the device is unavailable nothing
// ever reaches the network. Returns an error only for device failure;
// connection failures surface through the state as the client retries.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return errors.New("session already started")
	}
	o.started = true
	o.state = Connecting
	o.mu.Unlock()

	if err := o.pipe.Start(); err != nil {
		o.mu.Lock()
		o.started = false
		o.state = Disconnected
		o.mu.Unlock()
		return err
	}

	o.loopWG.Add(1)
	go o.eventLoop()

	if err := o.stream.Connect(o.cfg); err != nil {
		// The client keeps retrying on its own; the event loop tracks
		// the outcome.
		o.logger.Warn("initial connect failed, retrying", zap.Error(err))
	}
	return nil
}

// eventLoop runs until the stream client's event channel closes. It is
// the only goroutine that commits transcript lines, so it owns closing
// the commits channel.
func (o *Orchestrator) eventLoop() {
	defer o.loopWG.Done()
	defer close(o.commits)

	for ev := range o.stream.Events() {
		switch e := ev.(type) {
		case session.Opened:
			o.mu.Lock()
			o.state = Connected
			o.mu.Unlock()
			o.logger.Info("session connected")

		case session.Closed:
			o.mu.Lock()
			if e.Intentional {
				o.state = Disconnected
			} else if o.state != Errored {
				o.state = Connecting
			}
			o.mu.Unlock()

		case session.Failure:
			o.mu.Lock()
			o.state = Errored
			o.lastErr = e.Err
			o.mu.Unlock()
			o.logger.Error("session failed", zap.Error(e.Err))

		case session.MessageReceived:
			o.handleServerMessage(e.Msg)
		}
	}

	// Terminal: the client will emit nothing further.
	o.mu.Lock()
	if o.state != Errored {
		o.state = Disconnected
	}
	o.mu.Unlock()
}

func (o *Orchestrator) handleServerMessage(msg messages.Server) {
	switch m := msg.(type) {
	case messages.Connected:
		o.mu.Lock()
		o.sessionID = m.SessionID
		o.mu.Unlock()
		o.logger.Info("session established", zap.String("sessionId", m.SessionID))

	case messages.InputTranscription:
		o.handleTranscription(RoleUser, m.Text, m.IsFinal)

	case messages.OutputTranscription:
		o.handleTranscription(RoleModel, m.Text, m.IsFinal)

	case messages.AudioResponse:
		o.pipe.HandleAudioResponse(m.Data)

	case messages.TurnComplete:
		o.handleTurnComplete(m)

	case messages.SpeechStateChange:
		o.mu.Lock()
		o.speech = m.State
		o.mu.Unlock()

	case messages.ServerError:
		o.mu.Lock()
		o.state = Errored
		o.lastErr = errors.New(m.Message)
		o.mu.Unlock()
		o.logger.Error("server reported error",
			zap.String("message", m.Message),
			zap.String("code", m.Code))

	case messages.Unknown:
		o.logger.Debug("ignoring unrecognized server message", zap.String("type", m.Type))
	}
}

// handleTranscription buffers partials and commits finals. A final with
// blank text clears the partial without committing anything.
func (o *Orchestrator) handleTranscription(role Role, text string, isFinal bool) {
	if !isFinal {
		o.mu.Lock()
		if role == RoleUser {
			o.partialIn = text
		} else {
			o.partialOut = text
		}
		o.mu.Unlock()
		return
	}

	o.mu.Lock()
	if role == RoleUser {
		o.partialIn = ""
	} else {
		o.partialOut = ""
	}
	o.mu.Unlock()

	o.commit(role, text)
}

// handleTurnComplete closes out the turn: any transcript text the turn
// summary carries that was never committed as a final lands now, and the
// partial buffers clear.
func (o *Orchestrator) handleTurnComplete(m messages.TurnComplete) {
	o.mu.Lock()
	hadPartialIn := o.partialIn != ""
	hadPartialOut := o.partialOut != ""
	o.partialIn = ""
	o.partialOut = ""
	o.mu.Unlock()

	if hadPartialIn {
		o.commit(RoleUser, m.InputText)
	}
	if hadPartialOut {
		o.commit(RoleModel, m.OutputText)
	}
}

// commit appends one transcript line, skipping blank text, and archives
// it best effort.
func (o *Orchestrator) commit(role Role, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}

	msg := ChatMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: o.now(),
		IsFinal:   true,
	}

	o.mu.Lock()
	o.transcript = append(o.transcript, msg)
	sessionID := o.sessionID
	o.mu.Unlock()

	select {
	case o.commits <- msg:
	default:
		// A stalled display must not block protocol handling.
	}

	o.archive.Append(context.Background(), sessionID, session.ArchiveEntry{
		Role:      string(role),
		Text:      text,
		Timestamp: msg.Timestamp,
	})
}

// Stop ends the session gracefully: the server is notified, the audio
// devices are released, and the event loop drains. Idempotent.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	o.mu.Unlock()

	o.stream.Disconnect(true)
	o.loopWG.Wait()
	o.pipe.Stop()
}

// Interrupt stops the current model turn: the backend is told to stop
// producing audio and everything queued locally is flushed.
func (o *Orchestrator) Interrupt() {
	o.stream.Interrupt()
	o.pipe.FlushPlayback()
}

// SetMuted toggles microphone transmission.
func (o *Orchestrator) SetMuted(muted bool) {
	o.pipe.SetMuted(muted)
}

// SetVolume adjusts playback gain.
func (o *Orchestrator) SetVolume(gain float64) error {
	return o.pipe.SetVolume(gain)
}

// Commits streams transcript lines as they are committed, for live
// display. The channel closes when the session ends.
func (o *Orchestrator) Commits() <-chan ChatMessage {
	return o.commits
}

// Transcript returns a copy of the committed transcript lines.
func (o *Orchestrator) Transcript() []ChatMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]ChatMessage(nil), o.transcript...)
}

// State returns the current connection state.
func (o *Orchestrator) State() ConnectionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// LastError returns the most recent terminal or server error.
func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Snapshot assembles a display status.
func (o *Orchestrator) Snapshot() Status {
	o.mu.Lock()
	st := Status{
		State:         o.state,
		SessionID:     o.sessionID,
		Speech:        o.speech,
		Committed:     len(o.transcript),
		PartialInput:  o.partialIn,
		PartialOutput: o.partialOut,
	}
	o.mu.Unlock()

	st.Muted = o.pipe.Muted()
	st.Volume = o.pipe.Volume()
	st.InputLevel = o.pipe.InputLevel()
	st.OutputLevel = o.pipe.OutputLevel()
	return st
}

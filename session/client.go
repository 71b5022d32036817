package session

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/room4-2/OpenInterpreter/messages"
)

// State is the stream client's connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateOpening
	StateOpen
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrReconnectExhausted is surfaced through the event stream once the
// reconnect attempt cap is exceeded. No further retries follow.
var ErrReconnectExhausted = errors.New("maximum reconnect attempts reached")

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
	eventBufferSize = 256
)

// wsConn bundles one transport connection with its write queue so a
// stale pump can never touch a successor connection.
type wsConn struct {
	ws *websocket.Conn

	mu           sync.Mutex
	writeChan    chan []byte
	writesClosed bool
}

// enqueue adds a frame to the write queue (non-blocking). Reports false
// when the queue is full or already closed; outbound traffic is
// fire-and-forget either way.
func (cw *wsConn) enqueue(frame []byte) bool {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.writesClosed {
		return false
	}
	select {
	case cw.writeChan <- frame:
		return true
	default:
		return false
	}
}

// closeWrites lets the write pump drain what is queued and then close
// the transport.
func (cw *wsConn) closeWrites() {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if !cw.writesClosed {
		cw.writesClosed = true
		close(cw.writeChan)
	}
}

// StreamClient owns one logical connection to the interpreter backend:
// connect, reconnect with linear backoff, graceful teardown. At most one
// live transport exists per client at a time. A client serves a single
// session; its event channel closes once the client reaches a terminal
// state (idle after an intentional disconnect, or failed).
type StreamClient struct {
	url    string
	dialer *websocket.Dialer
	logger *zap.Logger

	maxReconnectAttempts int
	reconnectBaseDelay   time.Duration

	// afterFunc schedules reconnect timers; replaceable in tests.
	afterFunc func(time.Duration, func()) *time.Timer

	events chan Event

	mu                sync.Mutex
	state             State
	current           *wsConn
	initConfig        messages.InitConfig
	haveConfig        bool
	shouldReconnect   bool
	reconnectAttempts int
	reconnectTimer    *time.Timer

	finishOnce sync.Once
	emitMu     sync.Mutex
	finished   bool
}

// NewStreamClient creates a client for the given WebSocket endpoint.
// maxReconnectAttempts bounds automatic reconnects after an abnormal
// close; the delay before attempt n is n × reconnectBaseDelay.
func NewStreamClient(url string, maxReconnectAttempts int, reconnectBaseDelay time.Duration, logger *zap.Logger) *StreamClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamClient{
		url:                  url,
		dialer:               websocket.DefaultDialer,
		logger:               logger,
		maxReconnectAttempts: maxReconnectAttempts,
		reconnectBaseDelay:   reconnectBaseDelay,
		afterFunc:            time.AfterFunc,
		events:               make(chan Event, eventBufferSize),
		state:                StateIdle,
	}
}

// Events returns the client's event stream. Messages are delivered
// strictly in arrival order.
func (c *StreamClient) Events() <-chan Event {
	return c.events
}

// State returns the current lifecycle state.
func (c *StreamClient) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect stores the init configuration and opens the transport. The
// configuration is replayed verbatim on every reconnect. The failure
// counter resets only on a successful open, not here.
func (c *StreamClient) Connect(cfg messages.InitConfig) error {
	c.mu.Lock()
	c.initConfig = cfg
	c.haveConfig = true
	c.shouldReconnect = true
	c.clearReconnectTimerLocked()
	c.mu.Unlock()

	return c.dial()
}

func (c *StreamClient) dial() error {
	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return errors.New("transport already open")
	}
	c.state = StateOpening
	c.mu.Unlock()

	ws, _, err := c.dialer.Dial(c.url, nil)
	if err != nil {
		c.logger.Warn("websocket dial failed", zap.String("url", c.url), zap.Error(err))
		// A failed attempt counts as an unintentional close and feeds
		// the same backoff as a dropped connection.
		c.emit(Closed{Intentional: false})
		c.afterTransportClosed()
		return err
	}

	cw := &wsConn{
		ws:        ws,
		writeChan: make(chan []byte, writeBufferSize),
	}

	c.mu.Lock()
	if !c.shouldReconnect {
		// Disconnect landed while the dial was in flight; it saw no
		// transport and already finished the teardown, so this fresh
		// connection must not be installed.
		if c.state != StateFailed {
			c.state = StateIdle
		}
		c.mu.Unlock()
		_ = ws.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		_ = ws.Close()
		return nil
	}
	c.current = cw
	c.state = StateOpen
	c.reconnectAttempts = 0
	cfg := c.initConfig
	c.mu.Unlock()

	go c.writePump(cw)
	go c.readPump(cw)

	c.emit(Opened{})

	// Init goes out first; the write queue is empty at this point.
	if frame, err := messages.Marshal(messages.NewInit(cfg)); err == nil {
		cw.enqueue(frame)
	}

	return nil
}

// writePump serializes all outbound frames for one connection. On exit
// it sends the protocol close frame and releases the transport.
func (c *StreamClient) writePump(cw *wsConn) {
	defer func() {
		_ = cw.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = cw.ws.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		_ = cw.ws.Close()
	}()

	for frame := range cw.writeChan {
		_ = cw.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := cw.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			c.logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

// readPump parses inbound frames until the transport closes, then runs
// the close handling for this connection.
func (c *StreamClient) readPump(cw *wsConn) {
	for {
		_, frame, err := cw.ws.ReadMessage()
		if err != nil {
			c.handleConnClosed(cw, err)
			return
		}

		msg, perr := messages.ParseServer(frame)
		if perr != nil {
			// Malformed frames are dropped; the connection continues.
			c.logger.Warn("discarding malformed server message", zap.Error(perr))
			continue
		}
		c.emit(MessageReceived{Msg: msg})
	}
}

func (c *StreamClient) handleConnClosed(cw *wsConn, cause error) {
	c.mu.Lock()
	if c.current != cw {
		// A stale pump from a superseded connection.
		c.mu.Unlock()
		return
	}
	c.current = nil
	intentional := !c.shouldReconnect
	c.mu.Unlock()

	cw.closeWrites()

	if intentional {
		c.logger.Info("websocket closed")
	} else {
		c.logger.Warn("websocket closed unexpectedly", zap.Error(cause))
	}
	c.emit(Closed{Intentional: intentional})

	if intentional {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		c.finish()
		return
	}
	c.afterTransportClosed()
}

// afterTransportClosed decides between another reconnect attempt and
// giving up, after any unintentional close or failed dial.
func (c *StreamClient) afterTransportClosed() {
	c.mu.Lock()
	if !c.shouldReconnect || !c.haveConfig {
		if c.state != StateFailed {
			c.state = StateIdle
		}
		c.mu.Unlock()
		c.finish()
		return
	}
	if c.reconnectAttempts >= c.maxReconnectAttempts {
		c.state = StateFailed
		c.mu.Unlock()
		c.emit(Failure{Err: ErrReconnectExhausted})
		c.finish()
		return
	}

	c.reconnectAttempts++
	attempt := c.reconnectAttempts
	delay := time.Duration(attempt) * c.reconnectBaseDelay
	c.state = StateReconnecting
	c.clearReconnectTimerLocked()
	c.reconnectTimer = c.afterFunc(delay, func() {
		c.mu.Lock()
		retry := c.shouldReconnect
		c.mu.Unlock()
		if retry {
			_ = c.dial()
		}
	})
	c.mu.Unlock()

	c.logger.Info("scheduling reconnect",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay))
}

// send marshals and queues a message if the transport is currently open;
// otherwise the message is silently dropped.
func (c *StreamClient) send(msg any) {
	c.mu.Lock()
	cw := c.current
	open := c.state == StateOpen
	c.mu.Unlock()
	if cw == nil || !open {
		return
	}

	frame, err := messages.Marshal(msg)
	if err != nil {
		c.logger.Warn("marshal outbound message failed", zap.Error(err))
		return
	}
	if !cw.enqueue(frame) {
		c.logger.Warn("outbound queue unavailable, dropping frame")
	}
}

// SendAudioData forwards one base64 PCM16 chunk with its capture
// timestamp in epoch milliseconds.
func (c *StreamClient) SendAudioData(base64Data string, timestampMS int64) {
	c.send(messages.NewAudio(base64Data, timestampMS))
}

// Interrupt asks the backend to stop producing audio for the current
// turn. Caller-triggered; never sent automatically.
func (c *StreamClient) Interrupt() {
	c.send(messages.NewInterrupt())
}

// Disconnect tears the connection down gracefully: the retry flag and
// any pending reconnect timer are cleared first so the close handler
// does not reconnect. With notifyServer, a close notice is queued ahead
// of the transport close. Calling it without an active transport is a
// no-op beyond the flag resets.
func (c *StreamClient) Disconnect(notifyServer bool) {
	c.mu.Lock()
	c.shouldReconnect = false
	c.clearReconnectTimerLocked()
	cw := c.current
	c.mu.Unlock()

	if cw == nil {
		c.mu.Lock()
		if c.state != StateFailed {
			c.state = StateIdle
		}
		c.mu.Unlock()
		c.finish()
		return
	}

	if notifyServer {
		if frame, err := messages.Marshal(messages.NewClose()); err == nil {
			cw.enqueue(frame)
		}
	}

	// Drain the queue, then the write pump closes the transport and the
	// read pump finishes the teardown.
	cw.closeWrites()
}

func (c *StreamClient) clearReconnectTimerLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *StreamClient) emit(e Event) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if c.finished {
		return
	}
	c.events <- e
}

func (c *StreamClient) finish() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.finishOnce.Do(func() {
		c.finished = true
		close(c.events)
	})
}

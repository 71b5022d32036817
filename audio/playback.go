package audio

import (
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MaxGain bounds the output volume multiplier.
const MaxGain = 1.5

// Player consumes raw s16le PCM and renders it in real time.
type Player interface {
	Write(p []byte) error
	Close() error
}

// NewSoxPlayer pipes PCM into a sox subprocess playing to the default
// output device.
func NewSoxPlayer(sampleRate int) (Player, error) {
	if _, err := exec.LookPath("sox"); err != nil {
		return nil, fmt.Errorf("%w: sox not found in PATH", ErrDeviceUnavailable)
	}

	cmd := exec.Command("sox",
		"-t", "raw",
		"-r", fmt.Sprintf("%d", sampleRate),
		"-b", "16",
		"-c", "1",
		"-e", "signed-integer",
		"-q",
		"-",
		"-d",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	return &soxPlayer{cmd: cmd, stdin: stdin}, nil
}

type soxPlayer struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	closed bool
}

func (p *soxPlayer) Write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	_, err := p.stdin.Write(data)
	return err
}

func (p *soxPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	_ = p.stdin.Close()
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
		_ = p.cmd.Wait()
	}
	return nil
}

// Scheduler places decoded playback buffers onto a single output
// timeline. The cursor marks the next free slot: a new buffer starts at
// max(cursor, now) and advances the cursor by its duration, so buffers
// play back-to-back with no gap and no overlap regardless of when each
// one arrives. Scheduled-but-unplayed buffers stay tracked until they
// fire so Stop can cancel them all.
type Scheduler struct {
	mu         sync.Mutex
	player     Player
	sampleRate int
	gain       float64
	cursor     time.Time
	pending    map[int64]*time.Timer
	nextID     int64
	stopped    bool

	outMeter *Meter
	logger   *zap.Logger

	// Replaceable in tests.
	now   func() time.Time
	after func(time.Duration, func()) *time.Timer
}

// NewScheduler creates a scheduler writing to player at sampleRate.
// outMeter may be nil.
func NewScheduler(player Player, sampleRate int, outMeter *Meter, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		player:     player,
		sampleRate: sampleRate,
		gain:       1.0,
		pending:    make(map[int64]*time.Timer),
		outMeter:   outMeter,
		logger:     logger,
		now:        time.Now,
		after:      time.AfterFunc,
	}
}

// Schedule queues samples for gapless playback and returns their start
// time on the output timeline. A stopped scheduler drops the buffer.
func (s *Scheduler) Schedule(samples []float32) (time.Time, bool) {
	if len(samples) == 0 {
		return time.Time{}, false
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return time.Time{}, false
	}

	now := s.now()
	start := s.cursor
	if start.Before(now) {
		start = now
	}
	s.cursor = start.Add(Duration(len(samples), s.sampleRate))

	id := s.nextID
	s.nextID++

	timer := s.after(start.Sub(now), func() {
		s.play(id, samples)
	})
	s.pending[id] = timer
	s.mu.Unlock()

	return start, true
}

func (s *Scheduler) play(id int64, samples []float32) {
	s.mu.Lock()
	if _, tracked := s.pending[id]; !tracked {
		// Cancelled by Stop between firing and locking.
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	gain := s.gain
	player := s.player
	meter := s.outMeter
	s.mu.Unlock()

	buf := make([]byte, len(samples)*bytesPerSample)
	scaled := make([]float32, len(samples))
	for i, v := range samples {
		v *= float32(gain)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		scaled[i] = v

		var iv int16
		if v < 0 {
			iv = int16(v * 32768)
		} else {
			iv = int16(v * 32767)
		}
		buf[i*2] = byte(iv)
		buf[i*2+1] = byte(iv >> 8)
	}

	if meter != nil {
		meter.Push(scaled)
	}

	if err := player.Write(buf); err != nil {
		s.logger.Warn("playback write failed", zap.Error(err))
	}
}

// SetGain updates the output volume multiplier, clamped to [0, MaxGain].
// Takes effect on the next buffer written to the output.
func (s *Scheduler) SetGain(g float64) {
	if g < 0 {
		g = 0
	} else if g > MaxGain {
		g = MaxGain
	}
	s.mu.Lock()
	s.gain = g
	s.mu.Unlock()
}

// Gain returns the current output volume multiplier.
func (s *Scheduler) Gain() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gain
}

// PendingCount returns the number of scheduled-but-unplayed buffers.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// CancelPending drops every scheduled-but-unplayed buffer and resets
// the cursor, without touching the player. Used for barge-in: whatever
// already reached the output device keeps playing, everything queued
// behind it is discarded.
func (s *Scheduler) CancelPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	for id, timer := range s.pending {
		timer.Stop()
		delete(s.pending, id)
	}
	s.cursor = time.Time{}
}

// Stop cancels every scheduled buffer, resets the cursor, and releases
// the player. Safe to call repeatedly.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for id, timer := range s.pending {
		timer.Stop()
		delete(s.pending, id)
	}
	s.cursor = time.Time{}
	player := s.player
	s.mu.Unlock()

	if player != nil {
		if err := player.Close(); err != nil {
			s.logger.Warn("player close failed", zap.Error(err))
		}
	}
}

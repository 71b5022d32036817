package pipeline

import (
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/room4-2/OpenInterpreter/audio"
)

// Sender carries encoded microphone audio toward the backend. Satisfied
// by session.StreamClient.
type Sender interface {
	SendAudioData(base64Data string, timestampMS int64)
}

// ErrNotRunning is returned by operations that need live audio devices
// when the pipeline has not been started.
var ErrNotRunning = errors.New("audio pipeline is not running")

// captureReadSize is the chunk size for reads from the capture source.
// Smaller than a full frame so the framer sees steady input instead of
// bursts.
const captureReadSize = 2048

// Controller owns the full duplex audio path for one session: it pulls
// PCM from the microphone, re-chunks it into fixed frames, encodes and
// ships each frame upstream, and schedules decoded response audio for
// gapless playback. Mute suppresses transmission only; capture and the
// input meter keep running so the level display stays live.
type Controller struct {
	sender Sender
	logger *zap.Logger

	inMeter  *audio.Meter
	outMeter *audio.Meter

	// Replaceable in tests.
	openMic   func(sampleRate int) (audio.CaptureSource, error)
	newPlayer func(sampleRate int) (audio.Player, error)
	now       func() time.Time

	mu        sync.Mutex
	running   bool
	muted     bool
	source    audio.CaptureSource
	framer    *audio.Framer
	scheduler *audio.Scheduler
	captureWG sync.WaitGroup
}

// NewController creates an idle pipeline. Start acquires the devices.
func NewController(sender Sender, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		sender:    sender,
		logger:    logger,
		inMeter:   audio.NewMeter(),
		outMeter:  audio.NewMeter(),
		openMic:   audio.OpenMicrophone,
		newPlayer: audio.NewSoxPlayer,
		now:       time.Now,
	}
}

// Start acquires the microphone and the playback device and begins
// streaming. Device acquisition failure leaves the pipeline stopped and
// is fatal to the caller's session start.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	source, err := c.openMic(audio.CaptureSampleRate)
	if err != nil {
		return err
	}

	player, err := c.newPlayer(audio.PlaybackSampleRate)
	if err != nil {
		_ = source.Close()
		return err
	}

	c.source = source
	c.framer = audio.NewFramer(audio.FrameSize)
	c.scheduler = audio.NewScheduler(player, audio.PlaybackSampleRate, c.outMeter, c.logger)
	c.running = true

	c.captureWG.Add(1)
	go c.captureLoop(source, c.framer)

	c.logger.Info("audio pipeline started",
		zap.Int("captureRate", audio.CaptureSampleRate),
		zap.Int("playbackRate", audio.PlaybackSampleRate),
		zap.Int("frameSize", audio.FrameSize))
	return nil
}

// captureLoop reads raw PCM until the source closes, pushing every
// complete frame through the meter and, unless muted, upstream.
func (c *Controller) captureLoop(source audio.CaptureSource, framer *audio.Framer) {
	defer c.captureWG.Done()

	buf := make([]byte, captureReadSize)
	for {
		n, err := source.Read(buf)
		if n > 0 {
			for _, frame := range framer.Push(buf[:n]) {
				c.handleCapturedFrame(frame)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Warn("microphone read failed", zap.Error(err))
			}
			return
		}
	}
}

func (c *Controller) handleCapturedFrame(frame []float32) {
	// The meter sees every frame, muted or not.
	c.inMeter.Push(frame)

	c.mu.Lock()
	muted := c.muted
	running := c.running
	c.mu.Unlock()
	if muted || !running {
		return
	}

	encoded := audio.EncodePCM16(frame)
	if encoded == "" {
		return
	}
	c.sender.SendAudioData(encoded, c.now().UnixMilli())
}

// HandleAudioResponse decodes one base64 PCM chunk from the backend and
// schedules it on the playback timeline. Chunks are decoded in arrival
// order so the timeline assignment matches the stream order; a chunk
// that fails to decode is dropped without disturbing its neighbors.
func (c *Controller) HandleAudioResponse(base64Data string) {
	c.mu.Lock()
	scheduler := c.scheduler
	running := c.running
	c.mu.Unlock()
	if !running || scheduler == nil {
		return
	}

	samples, err := audio.DecodePCM16(base64Data)
	if err != nil {
		c.logger.Warn("dropping undecodable audio chunk", zap.Error(err))
		return
	}
	if len(samples) == 0 {
		return
	}
	scheduler.Schedule(samples)
}

// SetMuted toggles upstream transmission. Capture continues either way.
func (c *Controller) SetMuted(muted bool) {
	c.mu.Lock()
	c.muted = muted
	c.mu.Unlock()
}

// Muted reports whether transmission is currently suppressed.
func (c *Controller) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// SetVolume adjusts the playback gain, clamped to [0, audio.MaxGain].
// Returns ErrNotRunning before Start.
func (c *Controller) SetVolume(gain float64) error {
	c.mu.Lock()
	scheduler := c.scheduler
	c.mu.Unlock()
	if scheduler == nil {
		return ErrNotRunning
	}
	scheduler.SetGain(gain)
	return nil
}

// Volume returns the current playback gain.
func (c *Controller) Volume() float64 {
	c.mu.Lock()
	scheduler := c.scheduler
	c.mu.Unlock()
	if scheduler == nil {
		return 1.0
	}
	return scheduler.Gain()
}

// InputLevel returns the RMS amplitude of the latest captured frame.
func (c *Controller) InputLevel() float64 {
	return c.inMeter.Level()
}

// OutputLevel returns the RMS amplitude of the latest played frame,
// measured after gain.
func (c *Controller) OutputLevel() float64 {
	return c.outMeter.Level()
}

// FlushPlayback cancels everything scheduled but not yet played, for
// barge-in. The playback device stays open.
func (c *Controller) FlushPlayback() {
	c.mu.Lock()
	scheduler := c.scheduler
	c.mu.Unlock()
	if scheduler == nil {
		return
	}
	scheduler.CancelPending()
}

// Stop releases the microphone, cancels scheduled playback, and closes
// the output device. Idempotent; the pipeline can be started again.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	source := c.source
	scheduler := c.scheduler
	c.source = nil
	c.scheduler = nil
	c.framer = nil
	c.mu.Unlock()

	if source != nil {
		_ = source.Close()
	}
	c.captureWG.Wait()

	if scheduler != nil {
		scheduler.Stop()
	}

	c.inMeter.Reset()
	c.outMeter.Reset()
	c.logger.Info("audio pipeline stopped")
}

package pipeline

import (
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/room4-2/OpenInterpreter/audio"
)

// fakeSource feeds scripted PCM chunks and then blocks until closed.
type fakeSource struct {
	mu     sync.Mutex
	chunks [][]byte
	closed chan struct{}
	once   sync.Once
}

func newFakeSource(chunks ...[]byte) *fakeSource {
	return &fakeSource{chunks: chunks, closed: make(chan struct{})}
}

func (f *fakeSource) Read(p []byte) (int, error) {
	f.mu.Lock()
	if len(f.chunks) > 0 {
		n := copy(p, f.chunks[0])
		if n == len(f.chunks[0]) {
			f.chunks = f.chunks[1:]
		} else {
			f.chunks[0] = f.chunks[0][n:]
		}
		f.mu.Unlock()
		return n, nil
	}
	f.mu.Unlock()
	<-f.closed
	return 0, io.EOF
}

func (f *fakeSource) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

type fakePlayer struct {
	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func (f *fakePlayer) Write(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte(nil), p...))
	return nil
}

func (f *fakePlayer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePlayer) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type recordingSender struct {
	mu    sync.Mutex
	sends []sentChunk
}

type sentChunk struct {
	data        string
	timestampMS int64
}

func (r *recordingSender) SendAudioData(data string, timestampMS int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, sentChunk{data, timestampMS})
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sends)
}

func (r *recordingSender) all() []sentChunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentChunk(nil), r.sends...)
}

// s16le encodes constant-amplitude samples as raw little-endian bytes.
func s16le(value int16, n int) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		out[i*2] = byte(value)
		out[i*2+1] = byte(value >> 8)
	}
	return out
}

func newTestController(t *testing.T, sender Sender, source audio.CaptureSource, player audio.Player) *Controller {
	t.Helper()
	c := NewController(sender, zap.NewNop())
	c.openMic = func(int) (audio.CaptureSource, error) { return source, nil }
	c.newPlayer = func(int) (audio.Player, error) { return player, nil }
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestCaptureFramesAreEncodedAndSent(t *testing.T) {
	// Two reads that together hold exactly one 4096-sample frame.
	half := audio.FrameSize / 2
	source := newFakeSource(s16le(1000, half), s16le(1000, half))
	sender := &recordingSender{}
	c := newTestController(t, sender, source, &fakePlayer{})

	if err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop()

	waitFor(t, func() bool { return sender.count() == 1 }, "frame never sent")

	sent := sender.all()[0]
	if sent.timestampMS != 1700000000000 {
		t.Errorf("timestamp = %d", sent.timestampMS)
	}
	want := audio.EncodePCM16(frameOf(float32(1000)/32768.0, audio.FrameSize))
	if sent.data != want {
		t.Error("sent frame does not match the encoded capture bytes")
	}

	if c.InputLevel() == 0 {
		t.Error("input meter did not register the captured frame")
	}
}

func frameOf(v float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestMuteSuppressesSendsButMetersContinue(t *testing.T) {
	source := newFakeSource(s16le(2000, audio.FrameSize))
	sender := &recordingSender{}
	c := newTestController(t, sender, source, &fakePlayer{})
	c.SetMuted(true)

	if err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop()

	waitFor(t, func() bool { return c.InputLevel() > 0 }, "input meter never updated while muted")

	if sender.count() != 0 {
		t.Errorf("muted pipeline sent %d frames", sender.count())
	}
	if !c.Muted() {
		t.Error("Muted() = false after SetMuted(true)")
	}
}

func TestHandleAudioResponseSchedulesPlayback(t *testing.T) {
	player := &fakePlayer{}
	c := newTestController(t, &recordingSender{}, newFakeSource(), player)
	if err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop()

	chunk := audio.EncodePCM16([]float32{0.25, -0.25, 0.5, -0.5})
	c.HandleAudioResponse(chunk)

	waitFor(t, func() bool {
		player.mu.Lock()
		defer player.mu.Unlock()
		return len(player.writes) == 1
	}, "scheduled chunk never reached the player")

	player.mu.Lock()
	got := player.writes[0]
	player.mu.Unlock()
	if len(got) != 8 {
		t.Errorf("player received %d bytes, want 8", len(got))
	}
}

func TestHandleAudioResponseDropsUndecodableChunk(t *testing.T) {
	player := &fakePlayer{}
	c := newTestController(t, &recordingSender{}, newFakeSource(), player)
	if err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop()

	c.HandleAudioResponse("%%% not base64 %%%")
	good := audio.EncodePCM16([]float32{0.1, 0.2})
	c.HandleAudioResponse(good)

	waitFor(t, func() bool {
		player.mu.Lock()
		defer player.mu.Unlock()
		return len(player.writes) == 1
	}, "valid chunk after a bad one never played")
}

func TestHandleAudioResponseBeforeStartIsNoop(t *testing.T) {
	c := NewController(&recordingSender{}, zap.NewNop())
	c.HandleAudioResponse(audio.EncodePCM16([]float32{0.1}))
}

func TestSetVolume(t *testing.T) {
	c := NewController(&recordingSender{}, zap.NewNop())
	if err := c.SetVolume(1.2); err != ErrNotRunning {
		t.Fatalf("SetVolume before Start = %v, want ErrNotRunning", err)
	}

	c = newTestController(t, &recordingSender{}, newFakeSource(), &fakePlayer{})
	if err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop()

	if err := c.SetVolume(1.2); err != nil {
		t.Fatalf("SetVolume failed: %v", err)
	}
	if got := c.Volume(); got != 1.2 {
		t.Errorf("Volume = %v, want 1.2", got)
	}

	// Out-of-range values clamp instead of erroring.
	if err := c.SetVolume(9); err != nil {
		t.Fatalf("SetVolume failed: %v", err)
	}
	if got := c.Volume(); got != audio.MaxGain {
		t.Errorf("Volume = %v, want %v", got, audio.MaxGain)
	}
}

func TestStopIsIdempotentAndReleasesDevices(t *testing.T) {
	source := newFakeSource()
	player := &fakePlayer{}
	sender := &recordingSender{}
	c := newTestController(t, sender, source, player)

	if err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	c.Stop()
	c.Stop()

	if !player.isClosed() {
		t.Error("player not closed by Stop")
	}
	if c.InputLevel() != 0 || c.OutputLevel() != 0 {
		t.Error("meters not reset by Stop")
	}

	// Responses after Stop are dropped.
	c.HandleAudioResponse(audio.EncodePCM16([]float32{0.3}))
	time.Sleep(10 * time.Millisecond)
	player.mu.Lock()
	writes := len(player.writes)
	player.mu.Unlock()
	if writes != 0 {
		t.Errorf("stopped pipeline played %d chunks", writes)
	}
}

func TestFlushPlaybackCancelsQueuedAudio(t *testing.T) {
	player := &fakePlayer{}
	c := newTestController(t, &recordingSender{}, newFakeSource(), player)
	if err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop()

	// A long chunk followed by a short one; the second is queued behind
	// the first on the timeline.
	long := audio.EncodePCM16(frameOf(0.2, audio.PlaybackSampleRate)) // one second
	short := audio.EncodePCM16([]float32{0.1, 0.2})
	c.HandleAudioResponse(long)
	c.HandleAudioResponse(short)
	c.FlushPlayback()

	time.Sleep(20 * time.Millisecond)
	player.mu.Lock()
	writes := len(player.writes)
	player.mu.Unlock()
	// The first chunk fires at its start time immediately, so at most it
	// alone may have been written before the flush landed.
	if writes > 1 {
		t.Errorf("flushed pipeline played %d chunks", writes)
	}
}

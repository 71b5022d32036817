package audio

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"
)

// ErrDeviceUnavailable is returned when microphone capture cannot be
// opened. Fatal to session start; there is no retry.
var ErrDeviceUnavailable = errors.New("audio capture device unavailable")

// CaptureSource delivers raw single-channel s16le PCM from a microphone.
type CaptureSource interface {
	io.ReadCloser
}

// OpenMicrophone acquires exclusive microphone access through ffmpeg and
// streams s16le PCM at the given sample rate. A missing binary or a
// failed start is reported as ErrDeviceUnavailable.
func OpenMicrophone(sampleRate int) (CaptureSource, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not found in PATH", ErrDeviceUnavailable)
	}

	args, err := micArgs(runtime.GOOS, sampleRate)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	return &micCapture{cmd: cmd, stdout: stdout}, nil
}

func micArgs(goos string, sampleRate int) ([]string, error) {
	switch goos {
	case "darwin":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "avfoundation", "-i", ":0",
			"-ac", "1", "-ar", fmt.Sprintf("%d", sampleRate),
			"-f", "s16le", "-",
		}, nil
	case "linux":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "pulse", "-i", "default",
			"-ac", "1", "-ar", fmt.Sprintf("%d", sampleRate),
			"-f", "s16le", "-",
		}, nil
	default:
		return nil, fmt.Errorf("%w: no capture backend for %s", ErrDeviceUnavailable, goos)
	}
}

type micCapture struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser

	mu     sync.Mutex
	closed bool
}

func (m *micCapture) Read(p []byte) (int, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return 0, io.EOF
	}
	return m.stdout.Read(p)
}

func (m *micCapture) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	if m.cmd != nil && m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
		_ = m.cmd.Wait()
	}
	return nil
}

// Framer re-chunks a raw s16le byte stream into fixed-size float32
// frames. Bytes accumulate until a whole frame is available; a trailing
// partial sample is kept for the next push.
type Framer struct {
	mu        sync.Mutex
	buf       []byte
	frameSize int
}

// NewFramer creates a framer emitting frames of frameSize samples.
func NewFramer(frameSize int) *Framer {
	if frameSize <= 0 {
		frameSize = FrameSize
	}
	return &Framer{frameSize: frameSize}
}

// Push appends captured bytes and returns every complete frame they
// produce, in order. Returns nil when no frame is ready yet.
func (f *Framer) Push(p []byte) [][]float32 {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.buf = append(f.buf, p...)

	frameBytes := f.frameSize * bytesPerSample
	var frames [][]float32
	for len(f.buf) >= frameBytes {
		frame := make([]float32, f.frameSize)
		for i := range frame {
			v := int16(uint16(f.buf[i*2]) | uint16(f.buf[i*2+1])<<8)
			frame[i] = float32(v) / 32768.0
		}
		frames = append(frames, frame)
		f.buf = f.buf[frameBytes:]
	}

	return frames
}

// Pending returns the number of buffered bytes not yet forming a frame.
func (f *Framer) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buf)
}

// Reset drops any partially accumulated frame.
func (f *Framer) Reset() {
	f.mu.Lock()
	f.buf = nil
	f.mu.Unlock()
}

package audio

import (
	"math"
	"sync"
)

// Meter is an amplitude analysis tap. The pipeline pushes every frame
// that passes through its attachment point (input pre-transmission,
// output post-gain) and any consumer reads the latest level. Reading
// never blocks the audio path.
type Meter struct {
	mu    sync.Mutex
	level float64
	peak  float64
}

// NewMeter creates an idle meter reporting zero level.
func NewMeter() *Meter {
	return &Meter{}
}

// Push updates the meter with a frame of samples.
func (m *Meter) Push(samples []float32) {
	if len(samples) == 0 {
		return
	}

	var sum float64
	var peak float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}

	m.mu.Lock()
	m.level = math.Sqrt(sum / float64(len(samples)))
	m.peak = peak
	m.mu.Unlock()
}

// Level returns the RMS amplitude of the most recent frame, in [0, 1].
func (m *Meter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Peak returns the peak amplitude of the most recent frame.
func (m *Meter) Peak() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

// Reset clears the meter back to silence.
func (m *Meter) Reset() {
	m.mu.Lock()
	m.level = 0
	m.peak = 0
	m.mu.Unlock()
}

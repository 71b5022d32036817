package audio

import (
	"testing"
)

func s16leBytes(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}
	return buf
}

func TestFramerAccumulatesAcrossPushes(t *testing.T) {
	f := NewFramer(4)

	if frames := f.Push(s16leBytes(100, 200)); frames != nil {
		t.Fatalf("expected no frame after 2 of 4 samples, got %d", len(frames))
	}
	if f.Pending() != 4 {
		t.Fatalf("pending = %d, want 4 bytes", f.Pending())
	}

	frames := f.Push(s16leBytes(300, -400))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if len(frames[0]) != 4 {
		t.Fatalf("frame has %d samples, want 4", len(frames[0]))
	}
	want := []int16{100, 200, 300, -400}
	for i, w := range want {
		got := frames[0][i] * 32768.0
		if int16(got) != w {
			t.Errorf("sample %d: got %v, want %d", i, got, w)
		}
	}
	if f.Pending() != 0 {
		t.Errorf("pending = %d after complete frame, want 0", f.Pending())
	}
}

func TestFramerEmitsMultipleFrames(t *testing.T) {
	f := NewFramer(2)

	frames := f.Push(s16leBytes(1, 2, 3, 4, 5))
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	// The trailing sample waits for its partner.
	if f.Pending() != 2 {
		t.Errorf("pending = %d, want 2", f.Pending())
	}
}

func TestFramerKeepsPartialSampleBytes(t *testing.T) {
	f := NewFramer(1)

	if frames := f.Push([]byte{0x34}); frames != nil {
		t.Fatal("half a sample must not produce a frame")
	}
	frames := f.Push([]byte{0x12})
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if got := int16(frames[0][0] * 32768.0); got != 0x1234 {
		t.Errorf("reassembled sample = %#x, want 0x1234", got)
	}
}

func TestFramerReset(t *testing.T) {
	f := NewFramer(8)
	f.Push(s16leBytes(1, 2, 3))
	f.Reset()
	if f.Pending() != 0 {
		t.Errorf("pending = %d after reset, want 0", f.Pending())
	}
}

package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// Fixed sample rates agreed with the backend. The wire format is raw
// single-channel 16-bit little-endian PCM with no header, so the rates
// are a configuration contract, not something inferred from the data.
const (
	CaptureSampleRate  = 16000
	PlaybackSampleRate = 24000

	// FrameSize is the number of samples delivered per capture frame.
	FrameSize = 4096

	bytesPerSample = 2
)

// ErrOddPCMLength is returned when a decoded payload does not contain a
// whole number of 16-bit samples.
var ErrOddPCMLength = errors.New("pcm payload has odd byte length")

// EncodePCM16 converts float samples in [-1, 1] to base64-encoded 16-bit
// little-endian PCM. Samples outside the range are clamped. Negative
// values scale by 32768 and positive by 32767 so that -1.0 maps to the
// minimum int16 and +1.0 to the maximum.
func EncodePCM16(samples []float32) string {
	if len(samples) == 0 {
		return ""
	}

	buf := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}

		var v int16
		if s < 0 {
			v = int16(s * 32768)
		} else {
			v = int16(s * 32767)
		}

		buf[i*2] = byte(v)
		buf[i*2+1] = byte(v >> 8)
	}

	return base64.StdEncoding.EncodeToString(buf)
}

// DecodePCM16 converts base64-encoded 16-bit little-endian PCM back into
// float samples in [-1, 1). The inverse scaling divides uniformly by
// 32768.
func DecodePCM16(encoded string) ([]float32, error) {
	if encoded == "" {
		return nil, nil
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode pcm base64: %w", err)
	}
	if len(raw)%bytesPerSample != 0 {
		return nil, ErrOddPCMLength
	}

	samples := make([]float32, len(raw)/bytesPerSample)
	for i := range samples {
		v := int16(uint16(raw[i*2]) | uint16(raw[i*2+1])<<8)
		samples[i] = float32(v) / 32768.0
	}

	return samples, nil
}

// Duration returns the playback duration of n samples at the given rate.
func Duration(nSamples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(nSamples) * time.Second / time.Duration(sampleRate)
}

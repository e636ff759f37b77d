// Package codec converts call audio between the carrier's narrow-band
// telephony encoding and the AI service's wide-band linear PCM.
package codec

import (
	"fmt"
	"strings"
	"time"
)

// Encoding names as they appear on the wire.
const (
	EncodingMulaw = "audio/x-mulaw"
	EncodingL16   = "audio/l16"
	EncodingPCM16 = "pcm16"
)

// Format describes one side of the conversion.
type Format struct {
	// Encoding is one of the Encoding constants.
	Encoding string

	// SampleRate in Hz.
	SampleRate int

	// SampleWidth is the number of bytes per encoded sample.
	SampleWidth int

	// FrameDuration is the fixed frame size the side expects.
	// Zero means chunks may be any whole number of samples.
	FrameDuration time.Duration
}

// Well-known formats.
var (
	// Mulaw8k is the carrier default: G.711 mu-law, 8 kHz, 20 ms frames.
	Mulaw8k = Format{Encoding: EncodingMulaw, SampleRate: 8000, SampleWidth: 1, FrameDuration: 20 * time.Millisecond}

	// L16_8k is 16-bit big-endian linear PCM at 8 kHz, 20 ms frames.
	L16_8k = Format{Encoding: EncodingL16, SampleRate: 8000, SampleWidth: 2, FrameDuration: 20 * time.Millisecond}

	// PCM16_24k is the AI side: 16-bit little-endian PCM at 24 kHz.
	PCM16_24k = Format{Encoding: EncodingPCM16, SampleRate: 24000, SampleWidth: 2}
)

// FormatFromMedia maps a carrier mediaFormat declaration to a Format.
func FormatFromMedia(encoding string, sampleRate int) (Format, error) {
	if sampleRate <= 0 {
		sampleRate = 8000
	}
	enc := strings.ToLower(strings.TrimSpace(encoding))
	// "audio/l16;rate=8000" style parameters are allowed.
	if i := strings.IndexByte(enc, ';'); i >= 0 {
		enc = enc[:i]
	}

	switch enc {
	case EncodingMulaw, "audio/pcmu", "":
		f := Mulaw8k
		f.SampleRate = sampleRate
		return f, nil
	case EncodingL16:
		f := L16_8k
		f.SampleRate = sampleRate
		return f, nil
	default:
		return Format{}, fmt.Errorf("codec: unsupported carrier encoding %q", encoding)
	}
}

// SamplesPerFrame returns the number of samples in one fixed frame.
func (f Format) SamplesPerFrame() int {
	return int(int64(f.SampleRate) * int64(f.FrameDuration) / int64(time.Second))
}

// FrameBytes returns the byte size of one fixed frame, or 0 if unframed.
func (f Format) FrameBytes() int {
	return f.SamplesPerFrame() * f.SampleWidth
}

// BytesFor returns the byte size of d worth of audio.
func (f Format) BytesFor(d time.Duration) int {
	return int(int64(f.SampleRate)*int64(d)/int64(time.Second)) * f.SampleWidth
}

// Duration returns the playback time of n bytes.
func (f Format) Duration(n int) time.Duration {
	if f.SampleWidth == 0 || f.SampleRate == 0 {
		return 0
	}
	samples := n / f.SampleWidth
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// String returns a short description, e.g. "audio/x-mulaw@8000".
func (f Format) String() string {
	return fmt.Sprintf("%s@%d", f.Encoding, f.SampleRate)
}

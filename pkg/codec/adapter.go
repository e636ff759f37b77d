package codec

import (
	"fmt"
	"time"

	"github.com/teslashibe/go-callbridge/pkg/callerr"
)

// MaxFrameDuration bounds a single carrier frame. Anything longer is
// treated as corrupt rather than as a burst of audio.
const MaxFrameDuration = time.Second

// Adapter converts audio for one call in both directions.
// Each direction owns its resampler and remainder buffer.
//
// An Adapter is not safe for concurrent use; the bridge drives it from a
// single goroutine.
type Adapter struct {
	carrier Format
	ai      Format

	inbound  *Resampler
	outbound *Resampler

	// Encoded carrier bytes waiting for a whole frame.
	remainder []byte
	silence   []byte
}

// NewAdapter creates an Adapter between a carrier format and an AI format.
func NewAdapter(carrier, ai Format) (*Adapter, error) {
	if carrier.Encoding != EncodingMulaw && carrier.Encoding != EncodingL16 {
		return nil, fmt.Errorf("codec: unsupported carrier encoding %q", carrier.Encoding)
	}
	if ai.Encoding != EncodingPCM16 {
		return nil, fmt.Errorf("codec: unsupported AI encoding %q", ai.Encoding)
	}
	if carrier.SampleRate <= 0 || ai.SampleRate <= 0 {
		return nil, fmt.Errorf("codec: sample rates must be positive")
	}
	if carrier.FrameBytes() <= 0 {
		return nil, fmt.Errorf("codec: carrier format %s needs a frame duration", carrier)
	}

	a := &Adapter{
		carrier:  carrier,
		ai:       ai,
		inbound:  NewResampler(carrier.SampleRate, ai.SampleRate),
		outbound: NewResampler(ai.SampleRate, carrier.SampleRate),
	}
	a.silence = a.encodeCarrier(make([]int16, carrier.SamplesPerFrame()))
	return a, nil
}

// CarrierFormat returns the carrier side format.
func (a *Adapter) CarrierFormat() Format { return a.carrier }

// AIFormat returns the AI side format.
func (a *Adapter) AIFormat() Format { return a.ai }

// ToAIFormat decodes one carrier frame and returns AI-format chunks.
// Chunk boundaries always fall on whole samples.
func (a *Adapter) ToAIFormat(frame []byte) ([][]byte, error) {
	if err := validate(a.carrier, frame, a.carrier.BytesFor(MaxFrameDuration)); err != nil {
		return nil, err
	}

	samples := a.decodeCarrier(frame)
	out := a.inbound.Process(samples)
	if len(out) == 0 {
		return nil, nil
	}
	return chunk(SamplesToBytes(out), a.ai.FrameBytes()), nil
}

// Decode validates one carrier frame and returns its linear samples at the
// carrier rate. It does not touch resampler state.
func (a *Adapter) Decode(frame []byte) ([]int16, error) {
	if err := validate(a.carrier, frame, a.carrier.BytesFor(MaxFrameDuration)); err != nil {
		return nil, err
	}
	return a.decodeCarrier(frame), nil
}

// ToCarrierFormat converts an AI chunk into whole carrier frames. Audio that
// does not fill a frame is kept and prepended to the next call.
func (a *Adapter) ToCarrierFormat(aiChunk []byte) ([][]byte, error) {
	if err := validate(a.ai, aiChunk, 0); err != nil {
		return nil, err
	}

	samples := a.outbound.Process(BytesToSamples(aiChunk))
	a.remainder = append(a.remainder, a.encodeCarrier(samples)...)

	size := a.carrier.FrameBytes()
	whole := len(a.remainder) / size
	if whole == 0 {
		return nil, nil
	}

	frames := make([][]byte, whole)
	for i := range frames {
		f := make([]byte, size)
		copy(f, a.remainder[i*size:])
		frames[i] = f
	}
	rest := copy(a.remainder, a.remainder[whole*size:])
	a.remainder = a.remainder[:rest]
	return frames, nil
}

// Pending returns the number of encoded bytes held for the next frame.
func (a *Adapter) Pending() int {
	return len(a.remainder)
}

// FlushCarrier pads any buffered remainder with silence to one whole frame
// and returns it. Returns nil when nothing is buffered.
func (a *Adapter) FlushCarrier() []byte {
	if len(a.remainder) == 0 {
		return nil
	}
	f := make([]byte, a.carrier.FrameBytes())
	n := copy(f, a.remainder)
	copy(f[n:], a.silence[n:])
	a.remainder = a.remainder[:0]
	return f
}

// ResetOutbound discards buffered outbound audio. Used on interruption.
func (a *Adapter) ResetOutbound() {
	a.remainder = a.remainder[:0]
	a.outbound.Reset()
}

// Reset clears all per-call state in both directions.
func (a *Adapter) Reset() {
	a.ResetOutbound()
	a.inbound.Reset()
}

func (a *Adapter) decodeCarrier(frame []byte) []int16 {
	if a.carrier.Encoding == EncodingL16 {
		return bigEndianToSamples(frame)
	}
	return DecodeMulaw(frame)
}

func (a *Adapter) encodeCarrier(samples []int16) []byte {
	if a.carrier.Encoding == EncodingL16 {
		return samplesToBigEndian(samples)
	}
	return EncodeMulaw(samples)
}

func validate(f Format, data []byte, max int) error {
	switch {
	case len(data) == 0:
		return callerr.NewCodecError(f.Encoding, 0, "empty frame")
	case len(data)%f.SampleWidth != 0:
		return callerr.NewCodecError(f.Encoding, len(data), "length not a multiple of sample width")
	case max > 0 && len(data) > max:
		return callerr.NewCodecError(f.Encoding, len(data), "frame exceeds maximum duration")
	}
	return nil
}

// chunk splits data into pieces of size bytes; size 0 returns data whole.
func chunk(data []byte, size int) [][]byte {
	if size <= 0 || len(data) <= size {
		return [][]byte{data}
	}
	out := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > size {
		out = append(out, data[:size:size])
		data = data[size:]
	}
	return append(out, data)
}

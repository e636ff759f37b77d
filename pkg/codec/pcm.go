package codec

import (
	"encoding/binary"
	"math"

	"github.com/zaf/g711"
)

// BytesToSamples converts raw PCM16 little-endian bytes to int16 samples.
// A trailing odd byte is ignored.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// SamplesToBytes converts int16 samples to raw PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

func bigEndianToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.BigEndian.Uint16(data[i*2:]))
	}
	return samples
}

func samplesToBigEndian(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.BigEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

// DecodeMulaw expands G.711 mu-law bytes to linear samples.
func DecodeMulaw(data []byte) []int16 {
	samples := make([]int16, len(data))
	for i, b := range data {
		samples[i] = g711.DecodeUlawFrame(b)
	}
	return samples
}

// EncodeMulaw compresses linear samples to G.711 mu-law.
func EncodeMulaw(samples []int16) []byte {
	return g711.EncodeUlaw(SamplesToBytes(samples))
}

// RMS returns the root mean square of samples normalised to 0.0-1.0.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

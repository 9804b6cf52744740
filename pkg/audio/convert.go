package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodePCM16LE serialises samples as little-endian signed 16-bit PCM.
func EncodePCM16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodePCM16LE parses little-endian signed 16-bit PCM. A trailing odd byte
// is ignored.
func DecodePCM16LE(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// DecodeFloat32LE parses little-endian IEEE-754 float32 samples, the layout
// a browser sends when it forwards Float32Array buffers verbatim.
// Returns an error if len(b) is not a multiple of four.
func DecodeFloat32LE(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("audio: float32 payload length %d is not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(binary.LittleEndian.Uint16(pcm[srcIdx*2:]))
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(binary.LittleEndian.Uint16(pcm[(srcIdx+1)*2:]))
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(interpolated))
	}
	return out
}

// Resample returns a copy of frame converted to dstRate. Frames already at
// dstRate are returned unchanged.
func Resample(frame AudioFrame, dstRate int) AudioFrame {
	if frame.SampleRate == dstRate || dstRate <= 0 || frame.SampleRate <= 0 {
		return frame
	}
	pcm := ResampleMono16(frame.Bytes(), frame.SampleRate, dstRate)
	return AudioFrame{
		PCM:        DecodePCM16LE(pcm),
		RMS:        frame.RMS,
		SampleRate: dstRate,
		Seq:        frame.Seq,
	}
}

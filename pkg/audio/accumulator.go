// Package audio turns raw microphone samples into discrete PCM frames suitable
// for streaming to a conversational agent.
//
// The pipeline has two stages:
//
//   - [Accumulator] buffers float samples delivered by the platform audio
//     callback and, once a full frame is buffered, emits an [AudioFrame]
//     carrying quantised PCM16 samples and the RMS energy of the window.
//   - [FrameQueue] hands frames from the audio callback to the transport
//     without blocking. It is bounded and drops the oldest frame when full.
//
// The callback side never blocks, never performs I/O, and only allocates the
// emitted frame's sample slice.
package audio

import "math"

// AccumulatorConfig configures an [Accumulator].
type AccumulatorConfig struct {
	// FrameSize is the minimum number of buffered samples that triggers a
	// frame. Default: [DefaultFrameSize].
	FrameSize int

	// SampleRate is stamped on every emitted frame. Default: [DefaultSampleRate].
	SampleRate int
}

// Accumulator buffers mono float samples in the range [-1, 1] and emits an
// [AudioFrame] whenever at least FrameSize samples are buffered. When a push
// crosses the threshold, the entire buffer (which may exceed FrameSize) is
// merged into one frame and the buffer is cleared.
//
// An Accumulator is owned by a single audio callback and is not safe for
// concurrent use.
type Accumulator struct {
	frameSize  int
	sampleRate int
	buf        []float32
	seq        uint64
}

// NewAccumulator returns an Accumulator with zero-value config fields replaced
// by their defaults.
func NewAccumulator(cfg AccumulatorConfig) *Accumulator {
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = DefaultFrameSize
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	return &Accumulator{
		frameSize:  cfg.FrameSize,
		sampleRate: cfg.SampleRate,
		// Room for a full frame plus one typical 128-sample render quantum
		// so steady-state pushes never grow the buffer.
		buf: make([]float32, 0, cfg.FrameSize+128),
	}
}

// FrameSize returns the configured emission threshold in samples.
func (a *Accumulator) FrameSize() int { return a.frameSize }

// Buffered returns the number of samples waiting for the next frame.
func (a *Accumulator) Buffered() int { return len(a.buf) }

// Push appends chunk to the working buffer. If the buffer reaches the frame
// threshold, the merged samples are converted into a frame which is returned
// with ok set to true, and the buffer is cleared.
//
// A nil or empty chunk (an absent or silent input channel) contributes
// nothing and never produces a frame.
func (a *Accumulator) Push(chunk []float32) (frame AudioFrame, ok bool) {
	if len(chunk) == 0 {
		return AudioFrame{}, false
	}
	a.buf = append(a.buf, chunk...)
	if len(a.buf) < a.frameSize {
		return AudioFrame{}, false
	}

	frame = AudioFrame{
		PCM:        make([]int16, len(a.buf)),
		RMS:        RMS(a.buf),
		SampleRate: a.sampleRate,
		Seq:        a.seq,
	}
	for i, s := range a.buf {
		frame.PCM[i] = QuantizePCM16(s)
	}
	a.seq++
	a.buf = a.buf[:0]
	return frame, true
}

// Flush discards any partially buffered samples. Partial frames are never
// emitted.
func (a *Accumulator) Flush() {
	a.buf = a.buf[:0]
}

// RMS returns sqrt(mean(s^2)) over samples, or 0 for an empty slice.
// The sum is accumulated in float64 to keep long windows precise.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// QuantizePCM16 converts a float sample to signed 16-bit PCM. The sample is
// clamped to [-1, 1]; positive values are scaled by 32767 and negative values
// by 32768. The asymmetric scale is intentional: it maps -1.0 onto the full
// negative range of int16 (-32768) while 1.0 maps onto 32767.
func QuantizePCM16(s float32) int16 {
	switch {
	case math.IsNaN(float64(s)):
		return 0
	case s > 1:
		s = 1
	case s < -1:
		s = -1
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

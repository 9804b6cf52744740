package audio

// DefaultFrameSize is the number of samples an [Accumulator] collects before
// emitting a frame. 2048 samples is 128ms at 16kHz.
const DefaultFrameSize = 2048

// DefaultSampleRate is the capture rate assumed when none is configured.
const DefaultSampleRate = 16000

// AudioFrame is a single quantised chunk of microphone audio ready for
// streaming. Frames are produced by an [Accumulator], handed to the transport
// through a [FrameQueue], and consumed exactly once. A frame must not be
// modified after it has been emitted.
type AudioFrame struct {
	// PCM holds signed 16-bit mono samples.
	PCM []int16

	// RMS is the root-mean-square energy of the float samples the frame was
	// quantised from, in the range [0, 1]. It is the voice-activity signal
	// consumed by the agent and the UI; no gating is applied to it.
	RMS float64

	// SampleRate of PCM in Hz.
	SampleRate int

	// Seq is the emission index of this frame within its stream, starting at 0.
	Seq uint64
}

// Bytes returns the frame's samples as little-endian PCM16.
func (f AudioFrame) Bytes() []byte {
	return EncodePCM16LE(f.PCM)
}

// Package voice connects a browser microphone stream to the conversational
// agent.
//
// A [Bridge] owns one live interview. Raw float chunks from the browser are
// framed by an [audio.Accumulator], handed off through a drop-oldest
// [audio.FrameQueue] and streamed to the agent by a dedicated sender. Agent
// events are consumed in order by a [transcript.Recorder]; agent speech is
// forwarded to an optional sink.
package voice

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/visacoach/internal/agent"
	"github.com/MrWong99/visacoach/internal/observe"
	"github.com/MrWong99/visacoach/internal/transcript"
	"github.com/MrWong99/visacoach/pkg/audio"
	"golang.org/x/sync/errgroup"
)

// Agent is the conversation a [Bridge] streams to.
type Agent interface {
	SendFrame(frame audio.AudioFrame) error
	Events() <-chan agent.Event
	Audio() <-chan []byte
	Close() error
}

var _ Agent = (*agent.Conversation)(nil)

// Option configures a [Bridge].
type Option func(*Bridge)

// WithFrameSize sets the accumulator threshold. Default: [audio.DefaultFrameSize].
func WithFrameSize(n int) Option {
	return func(b *Bridge) { b.frameSize = n }
}

// WithSampleRate sets the capture rate stamped on frames. Default:
// [audio.DefaultSampleRate].
func WithSampleRate(hz int) Option {
	return func(b *Bridge) { b.sampleRate = hz }
}

// WithQueueCapacity sets the frame queue size. Default:
// [audio.DefaultQueueCapacity].
func WithQueueCapacity(n int) Option {
	return func(b *Bridge) { b.queueCap = n }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithAgentAudio registers a sink for the agent's PCM16LE speech. Without a
// sink the audio is discarded.
func WithAgentAudio(fn func(ctx context.Context, pcm []byte)) Option {
	return func(b *Bridge) { b.onAudio = fn }
}

// WithFrameObserver registers a callback for every emitted frame. It runs on
// the producer goroutine and must not block.
func WithFrameObserver(fn func(ctx context.Context, frame audio.AudioFrame)) Option {
	return func(b *Bridge) { b.onFrame = fn }
}

// Bridge streams one microphone to one agent conversation.
type Bridge struct {
	agent    Agent
	recorder *transcript.Recorder

	frameSize  int
	sampleRate int
	queueCap   int
	metrics    *observe.Metrics
	onAudio    func(context.Context, []byte)
	onFrame    func(context.Context, audio.AudioFrame)
}

// NewBridge returns a Bridge that sends to a and records into rec. The
// bridge takes ownership of a and closes it when Run returns.
func NewBridge(a Agent, rec *transcript.Recorder, opts ...Option) *Bridge {
	b := &Bridge{agent: a, recorder: rec}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b
}

// Run pumps audio until in is closed, the agent hangs up or ctx is
// cancelled. A closed input or an agent hang-up returns nil; cancellation
// returns ctx.Err().
func (b *Bridge) Run(ctx context.Context, in <-chan []float32) error {
	acc := audio.NewAccumulator(audio.AccumulatorConfig{
		FrameSize:  b.frameSize,
		SampleRate: b.sampleRate,
	})
	q := audio.NewFrameQueue(b.queueCap)

	b.metrics.ActiveAudioStreams.Add(ctx, 1)
	defer b.metrics.ActiveAudioStreams.Add(context.WithoutCancel(ctx), -1)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	// Producer: browser chunks to frames.
	g.Go(func() error {
		defer q.Close()
		for {
			select {
			case <-gctx.Done():
				return nil
			case chunk, ok := <-in:
				if !ok {
					return nil
				}
				frame, ok := acc.Push(chunk)
				if !ok {
					continue
				}
				b.metrics.RecordFrame(gctx, frame.RMS)
				if b.onFrame != nil {
					b.onFrame(gctx, frame)
				}
				if q.Offer(frame) {
					b.metrics.FramesDropped.Add(gctx, 1)
				}
			}
		}
	})

	// Sender: queue to agent. Input end drains the queue and then hangs up,
	// which in turn closes the agent's event stream.
	g.Go(func() error {
		defer b.agent.Close()
		for {
			select {
			case <-gctx.Done():
				return nil
			case frame, ok := <-q.Frames():
				if !ok {
					return nil
				}
				if err := b.agent.SendFrame(frame); err != nil {
					if agent.IsClosed(err) {
						return nil
					}
					return fmt.Errorf("voice: send: %w", err)
				}
			}
		}
	})

	// Recorder: the event stream closing means the conversation is over.
	g.Go(func() error {
		defer cancel()
		err := b.recorder.Run(gctx, b.agent.Events())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case pcm, ok := <-b.agent.Audio():
				if !ok {
					return nil
				}
				if b.onAudio != nil {
					b.onAudio(gctx, pcm)
				}
			}
		}
	})

	err := g.Wait()
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

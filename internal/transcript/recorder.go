package transcript

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/visacoach/internal/agent"
	"github.com/MrWong99/visacoach/internal/observe"
	"github.com/MrWong99/visacoach/internal/session"
)

// Observer receives every event after the recorder has handled it. It runs
// on the recorder goroutine and must not block for long.
type Observer func(ctx context.Context, e agent.Event)

// Option configures a [Recorder].
type Option func(*Recorder)

// WithTagger sets the language tagger. Default: [EnglishOnly].
func WithTagger(t LanguageTagger) Option {
	return func(r *Recorder) {
		if t != nil {
			r.tagger = t
		}
	}
}

// WithObserver registers a callback for every handled event.
func WithObserver(o Observer) Option {
	return func(r *Recorder) { r.observer = o }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// Recorder writes agent turns into one session.
type Recorder struct {
	sess     *session.Session
	tagger   LanguageTagger
	observer Observer
	metrics  *observe.Metrics
}

// NewRecorder returns a Recorder for s.
func NewRecorder(s *session.Session, opts ...Option) *Recorder {
	r := &Recorder{sess: s, tagger: EnglishOnly}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Run handles events until the channel closes (nil) or ctx is cancelled
// (ctx.Err()).
func (r *Recorder) Run(ctx context.Context, events <-chan agent.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			r.Handle(ctx, e)
		}
	}
}

// Handle processes a single event. Turns that arrive after the session has
// ended are dropped.
func (r *Recorder) Handle(ctx context.Context, e agent.Event) {
	log := observe.Logger(ctx).With("session_id", r.sess.ID())

	switch e.Kind {
	case agent.EventTurn:
		role := session.RoleAgent
		if e.Source == agent.SourceUser {
			role = session.RoleStudent
		}
		lang := r.tagger.Tag(e.Text)
		err := r.sess.AddMessage(role, e.Text, lang)
		switch {
		case err == nil:
			r.metrics.RecordTranscriptEntry(ctx, string(role), lang)
			log.Debug("turn recorded", "role", role, "language", lang)
		case errors.Is(err, session.ErrSessionEnded):
			log.Debug("turn after session end dropped", "role", role)
		default:
			log.Warn("turn not recorded", "role", role, "err", fmt.Errorf("transcript: record: %w", err))
		}

	case agent.EventMode:
		log.Debug("agent mode changed", "mode", e.Mode)

	case agent.EventError:
		log.Warn("agent transport error", "err", e.Err)
	}

	if r.observer != nil {
		r.observer(ctx, e)
	}
}

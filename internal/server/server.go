// Package server exposes the interview coach over HTTP.
//
// The JSON API drives the session lifecycle (start, record, end, inspect)
// and one websocket per session streams browser microphone audio to the
// conversational agent. Routes:
//
//	POST /api/session/start
//	POST /api/session/{id}/message
//	POST /api/session/{id}/switch
//	POST /api/session/{id}/end
//	GET  /api/session/{id}
//	GET  /api/session/{id}/audio   (websocket)
//	GET  /api/questions
//
// Health probes, the metrics scrape endpoint and the static web UI are
// mounted on the same mux when configured.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/MrWong99/visacoach/internal/agent"
	"github.com/MrWong99/visacoach/internal/feedback"
	"github.com/MrWong99/visacoach/internal/health"
	"github.com/MrWong99/visacoach/internal/interview"
	"github.com/MrWong99/visacoach/internal/observe"
	"github.com/MrWong99/visacoach/internal/session"
	"github.com/MrWong99/visacoach/internal/transcript"
	"github.com/MrWong99/visacoach/internal/voice"
	"github.com/MrWong99/visacoach/pkg/audio"
)

// Resolver produces the agent connection details handed to a new session.
// It must not fail; implementations degrade to the public agent id.
type Resolver interface {
	Resolve(ctx context.Context) agent.Connection
}

var _ Resolver = (*agent.SignedURLClient)(nil)

// Dialer opens a live agent conversation for the audio websocket.
type Dialer func(ctx context.Context, cfg agent.ConversationConfig) (voice.Agent, error)

// DialAgent is the production [Dialer].
func DialAgent(ctx context.Context, cfg agent.ConversationConfig) (voice.Agent, error) {
	c, err := agent.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// AudioConfig sizes the per-session voice pipeline.
type AudioConfig struct {
	FrameSize       int
	SampleRate      int
	AgentSampleRate int
	QueueCapacity   int
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option configures a [Server].
type Option func(*Server)

// WithResolver sets the agent connection resolver. Without one, sessions
// start with an empty agent id.
func WithResolver(r Resolver) Option {
	return func(s *Server) { s.resolver = r }
}

// WithDialer replaces [DialAgent].
func WithDialer(d Dialer) Option {
	return func(s *Server) { s.dial = d }
}

// WithStore archives every report produced by the end endpoint. Default:
// [feedback.NopStore].
func WithStore(st feedback.Store) Option {
	return func(s *Server) { s.store = st }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithTagger sets the language tagger for turns transcribed from audio.
// Default: [transcript.EnglishOnly].
func WithTagger(t transcript.LanguageTagger) Option {
	return func(s *Server) { s.tagger = t }
}

// WithAllowedOrigins enables CORS for the given origins. "*" allows any.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = newOriginSet(origins) }
}

// WithStaticDir serves dir at "/".
func WithStaticDir(dir string) Option {
	return func(s *Server) { s.staticDir = dir }
}

// WithAudio sets the voice pipeline parameters.
func WithAudio(cfg AudioConfig) Option {
	return func(s *Server) { s.audio = cfg }
}

// WithAgentBaseURL sets the websocket base used when dialling by agent id.
func WithAgentBaseURL(u string) Option {
	return func(s *Server) { s.agentBaseURL = u }
}

// WithPromptOverride sends the built-in interviewer prompt to the agent
// instead of relying on the agent's configured prompt.
func WithPromptOverride(on bool) Option {
	return func(s *Server) { s.overridePrompt = on }
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithClock overrides the time source used for durations. Intended for
// tests.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// ── Server ─────────────────────────────────────────────────────────────────────

// Server holds the HTTP handlers. It is safe for concurrent use; all
// mutable state lives in the [session.Registry].
type Server struct {
	registry *session.Registry
	resolver Resolver
	dial     Dialer
	store    feedback.Store
	metrics  *observe.Metrics
	tagger   transcript.LanguageTagger
	prompt   string
	now      func() time.Time

	origins        originSet
	staticDir      string
	audio          AudioConfig
	agentBaseURL   string
	overridePrompt bool
	health         *health.Handler
	metricsHandler http.Handler
}

// New returns a Server backed by reg.
func New(reg *session.Registry, opts ...Option) *Server {
	s := &Server{
		registry: reg,
		resolver: staticResolver{},
		dial:     DialAgent,
		store:    feedback.NopStore{},
		tagger:   transcript.EnglishOnly,
		prompt:   interview.BuildSystemPrompt(),
		now:      time.Now,
		audio: AudioConfig{
			FrameSize:       audio.DefaultFrameSize,
			SampleRate:      audio.DefaultSampleRate,
			AgentSampleRate: audio.DefaultSampleRate,
			QueueCapacity:   audio.DefaultQueueCapacity,
		},
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the complete HTTP handler: routes wrapped in CORS and the
// observability middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session/start", s.handleStart)
	mux.HandleFunc("POST /api/session/{id}/message", s.handleMessage)
	mux.HandleFunc("POST /api/session/{id}/switch", s.handleSwitch)
	mux.HandleFunc("POST /api/session/{id}/end", s.handleEnd)
	mux.HandleFunc("GET /api/session/{id}", s.handleGet)
	mux.HandleFunc("GET /api/session/{id}/audio", s.handleAudio)
	mux.HandleFunc("GET /api/questions", s.handleQuestions)

	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	if s.staticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(s.staticDir)))
	}

	return observe.Middleware(s.metrics)(cors(s.origins, mux))
}

// staticResolver is used when no signed-URL client is configured.
type staticResolver struct{ agentID string }

func (r staticResolver) Resolve(context.Context) agent.Connection {
	return agent.Connection{AgentID: r.agentID}
}

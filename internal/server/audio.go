package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/visacoach/internal/agent"
	"github.com/MrWong99/visacoach/internal/observe"
	"github.com/MrWong99/visacoach/internal/session"
	"github.com/MrWong99/visacoach/internal/transcript"
	"github.com/MrWong99/visacoach/internal/voice"
	"github.com/MrWong99/visacoach/pkg/audio"
	"github.com/coder/websocket"
)

const (
	maxAudioMessage = 1 << 20
	inputBuffer     = 16
	outboxSize      = 64
	writeTimeout    = 5 * time.Second
)

// Messages sent to the browser over the audio websocket. Agent speech is
// sent as binary PCM16LE frames alongside these.
type (
	eventMessage struct {
		Type   string `json:"type"`
		Source string `json:"source,omitempty"`
		Text   string `json:"text,omitempty"`
		Mode   string `json:"mode,omitempty"`
		Error  string `json:"error,omitempty"`
	}

	frameMessage struct {
		Type string  `json:"type"`
		Seq  uint64  `json:"seq"`
		RMS  float64 `json:"rms"`
	}
)

func newEventMessage(e agent.Event) eventMessage {
	msg := eventMessage{Type: e.Kind.String()}
	switch e.Kind {
	case agent.EventTurn:
		msg.Source = string(e.Source)
		msg.Text = e.Text
	case agent.EventMode:
		msg.Mode = string(e.Mode)
	case agent.EventError:
		if e.Err != nil {
			msg.Error = e.Err.Error()
		}
	}
	return msg
}

// handleAudio upgrades to a websocket that carries float32LE microphone
// chunks from the browser and agent events, frame levels and agent speech
// back. The agent conversation lives exactly as long as the socket.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sess.Ended() {
		s.writeError(w, r, fmt.Errorf("server: audio %s: %w", sess.ID(), session.ErrSessionEnded))
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins.hostPatterns(),
	})
	if err != nil {
		observe.Logger(r.Context()).Debug("audio upgrade failed", "session_id", sess.ID(), "err", err)
		return
	}
	ws.SetReadLimit(maxAudioMessage)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := observe.Logger(ctx).With("session_id", sess.ID())
	out := newOutbox(ws, log)

	ag, err := s.dial(ctx, s.conversationConfig(ctx))
	if err != nil {
		log.Warn("agent dial failed", "err", err)
		out.sendJSON(eventMessage{Type: agent.EventError.String(), Error: "agent unavailable"})
		out.close()
		ws.Close(websocket.StatusInternalError, "agent unavailable")
		return
	}
	log.Info("audio stream opened")

	rec := transcript.NewRecorder(sess,
		transcript.WithTagger(s.tagger),
		transcript.WithMetrics(s.metrics),
		transcript.WithObserver(func(_ context.Context, e agent.Event) {
			out.sendJSON(newEventMessage(e))
		}),
	)
	bridge := voice.NewBridge(ag, rec,
		voice.WithFrameSize(s.audio.FrameSize),
		voice.WithSampleRate(s.audio.SampleRate),
		voice.WithQueueCapacity(s.audio.QueueCapacity),
		voice.WithMetrics(s.metrics),
		voice.WithAgentAudio(func(_ context.Context, pcm []byte) {
			out.send(websocket.MessageBinary, pcm)
		}),
		voice.WithFrameObserver(func(_ context.Context, f audio.AudioFrame) {
			out.sendJSON(frameMessage{Type: "frame", Seq: f.Seq, RMS: f.RMS})
		}),
	)

	in := make(chan []float32, inputBuffer)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		readAudio(r.Context(), ctx, ws, in, log)
	}()

	runErr := bridge.Run(ctx, in)
	cancel()

	status, reason := websocket.StatusNormalClosure, "interview ended"
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Warn("voice bridge failed", "err", runErr)
		out.sendJSON(eventMessage{Type: agent.EventError.String(), Error: runErr.Error()})
		status, reason = websocket.StatusInternalError, "voice bridge failed"
	}
	out.close()
	ws.Close(status, reason)
	<-readDone
	log.Info("audio stream closed")
}

func (s *Server) conversationConfig(ctx context.Context) agent.ConversationConfig {
	conn := s.resolver.Resolve(ctx)
	cfg := agent.ConversationConfig{
		SignedURL:       conn.SignedURL,
		AgentID:         conn.AgentID,
		BaseURL:         s.agentBaseURL,
		InputSampleRate: s.audio.AgentSampleRate,
		Metrics:         s.metrics,
	}
	if s.overridePrompt {
		cfg.OverrideSystemPrompt = s.prompt
	}
	return cfg
}

// readAudio decodes browser chunks into in until the socket closes or stop
// is cancelled, then closes in. Reads use readCtx so that stopping the
// bridge does not tear down the socket before the close handshake.
func readAudio(readCtx, stop context.Context, ws *websocket.Conn, in chan<- []float32, log *slog.Logger) {
	defer close(in)
	for {
		typ, data, err := ws.Read(readCtx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && stop.Err() == nil {
				log.Debug("audio read ended", "err", err)
			}
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		samples, err := audio.DecodeFloat32LE(data)
		if err != nil {
			log.Debug("audio chunk discarded", "bytes", len(data), "err", err)
			continue
		}
		select {
		case in <- samples:
		case <-stop.Done():
			return
		}
	}
}

// ── Outbox ─────────────────────────────────────────────────────────────────────

type outMessage struct {
	typ  websocket.MessageType
	data []byte
}

// outbox serialises writes to the browser on one goroutine. Sends never
// block; when the browser falls behind, messages are dropped.
type outbox struct {
	ws   *websocket.Conn
	log  *slog.Logger
	ch   chan outMessage
	done chan struct{}
}

func newOutbox(ws *websocket.Conn, log *slog.Logger) *outbox {
	o := &outbox{
		ws:   ws,
		log:  log,
		ch:   make(chan outMessage, outboxSize),
		done: make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *outbox) send(typ websocket.MessageType, data []byte) {
	select {
	case o.ch <- outMessage{typ: typ, data: data}:
	default:
		o.log.Debug("browser message dropped", "bytes", len(data))
	}
}

func (o *outbox) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		o.log.Error("encode browser message", "err", err)
		return
	}
	o.send(websocket.MessageText, data)
}

// close flushes pending messages and stops the writer. No send may follow.
func (o *outbox) close() {
	close(o.ch)
	<-o.done
}

func (o *outbox) run() {
	defer close(o.done)
	failed := false
	for m := range o.ch {
		if failed {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := o.ws.Write(ctx, m.typ, m.data)
		cancel()
		if err != nil {
			o.log.Debug("browser write failed", "err", err)
			failed = true
		}
	}
}

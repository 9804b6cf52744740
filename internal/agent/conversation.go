package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/visacoach/internal/observe"
	"github.com/MrWong99/visacoach/pkg/audio"
	"github.com/coder/websocket"
)

const (
	// DefaultConversationURL is the websocket endpoint used with a bare agent id.
	DefaultConversationURL = "wss://api.elevenlabs.io"

	conversationPath   = "/v1/convai/conversation"
	defaultEventBuffer = 64
	audioBuffer        = 64
)

// ConversationConfig describes how to open a [Conversation]. SignedURL takes
// precedence over AgentID; one of them is required.
type ConversationConfig struct {
	SignedURL string
	AgentID   string

	// BaseURL replaces [DefaultConversationURL] when dialling by AgentID.
	BaseURL string

	// InputSampleRate is the rate the agent expects. Frames captured at a
	// different rate are resampled by SendFrame. Default:
	// [audio.DefaultSampleRate].
	InputSampleRate int

	// EventBuffer sizes the Events channel. Default: 64.
	EventBuffer int

	// OverrideSystemPrompt, when set, replaces the agent's configured prompt.
	OverrideSystemPrompt string

	// Metrics receives event counters. Default: [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// URL returns the websocket URL to dial.
func (c ConversationConfig) URL() (string, error) {
	if c.SignedURL != "" {
		return c.SignedURL, nil
	}
	if c.AgentID == "" {
		return "", fmt.Errorf("agent: dial: %w: signed url or agent id required", ErrNotConfigured)
	}
	base := c.BaseURL
	if base == "" {
		base = DefaultConversationURL
	}
	return strings.TrimRight(base, "/") + conversationPath + "?agent_id=" + url.QueryEscape(c.AgentID), nil
}

// WebsocketBase maps a REST base URL to the matching websocket base, so one
// configured endpoint serves both the signed-URL and conversation calls.
func WebsocketBase(apiBase string) string {
	switch {
	case strings.HasPrefix(apiBase, "https://"):
		return "wss://" + strings.TrimPrefix(apiBase, "https://")
	case strings.HasPrefix(apiBase, "http://"):
		return "ws://" + strings.TrimPrefix(apiBase, "http://")
	}
	return apiBase
}

// ── Protocol messages ──────────────────────────────────────────────────────────

type initiationMessage struct {
	Type     string          `json:"type"`
	Override *configOverride `json:"conversation_config_override,omitempty"`
}

type configOverride struct {
	Agent agentOverride `json:"agent"`
}

type agentOverride struct {
	Prompt promptOverride `json:"prompt"`
}

type promptOverride struct {
	Prompt string `json:"prompt"`
}

type audioChunkMessage struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

type pongMessage struct {
	Type    string `json:"type"`
	EventID int    `json:"event_id"`
}

type serverMessage struct {
	Type string `json:"type"`

	UserTranscription *struct {
		UserTranscript string `json:"user_transcript"`
	} `json:"user_transcription_event,omitempty"`

	AgentResponse *struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event,omitempty"`

	Audio *struct {
		Audio   string `json:"audio_base_64"`
		EventID int    `json:"event_id"`
	} `json:"audio_event,omitempty"`

	Ping *struct {
		EventID int `json:"event_id"`
		PingMS  int `json:"ping_ms"`
	} `json:"ping_event,omitempty"`

	Metadata *struct {
		ConversationID    string `json:"conversation_id"`
		AgentOutputFormat string `json:"agent_output_audio_format"`
	} `json:"conversation_initiation_metadata_event,omitempty"`
}

// ── Conversation ───────────────────────────────────────────────────────────────

// Conversation is one live agent conversation. SendFrame may be called
// concurrently with event consumption. Consumers must drain both Events and
// Audio until they are closed.
type Conversation struct {
	conn    *websocket.Conn
	events  chan Event
	audio   chan []byte
	metrics *observe.Metrics
	rate    int

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	mode           Mode
	conversationID string
	err            error
	closed         bool

	closeOnce sync.Once
}

// Dial opens a conversation and sends the initiation message.
func Dial(ctx context.Context, cfg ConversationConfig) (*Conversation, error) {
	wsURL, err := cfg.URL()
	if err != nil {
		return nil, err
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.InputSampleRate <= 0 {
		cfg.InputSampleRate = audio.DefaultSampleRate
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("agent: dial: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	cctx, cancel := context.WithCancel(context.Background())
	c := &Conversation{
		conn:    conn,
		events:  make(chan Event, cfg.EventBuffer),
		audio:   make(chan []byte, audioBuffer),
		metrics: cfg.Metrics,
		rate:    cfg.InputSampleRate,
		ctx:     cctx,
		cancel:  cancel,
		mode:    ModeListening,
	}

	hello := initiationMessage{Type: "conversation_initiation_client_data"}
	if cfg.OverrideSystemPrompt != "" {
		hello.Override = &configOverride{Agent: agentOverride{Prompt: promptOverride{Prompt: cfg.OverrideSystemPrompt}}}
	}
	if err := c.writeJSON(ctx, hello); err != nil {
		cancel()
		conn.Close(websocket.StatusInternalError, "initiation failed")
		return nil, fmt.Errorf("agent: send initiation: %w", err)
	}

	go c.readLoop()
	return c, nil
}

// Events returns the ordered event stream. It is closed when the
// conversation ends.
func (c *Conversation) Events() <-chan Event { return c.events }

// Audio returns the agent's speech as raw PCM16LE chunks. It is closed
// together with Events.
func (c *Conversation) Audio() <-chan []byte { return c.audio }

// Mode returns the agent's current mode.
func (c *Conversation) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// ID returns the remote conversation id once the agent has announced it.
func (c *Conversation) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// Err returns the error that ended the conversation, if any.
func (c *Conversation) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SendFrame streams one captured frame to the agent, resampling it to the
// configured input rate first when needed.
func (c *Conversation) SendFrame(frame audio.AudioFrame) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if frame.SampleRate > 0 && frame.SampleRate != c.rate {
		frame = audio.Resample(frame, c.rate)
	}
	msg := audioChunkMessage{UserAudioChunk: base64.StdEncoding.EncodeToString(frame.Bytes())}
	if err := c.writeJSON(c.ctx, msg); err != nil {
		return fmt.Errorf("agent: send frame %d: %w", frame.Seq, err)
	}
	return nil
}

// Close ends the conversation. Idempotent.
func (c *Conversation) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.conn.Close(websocket.StatusNormalClosure, "conversation closed")
	return nil
}

func (c *Conversation) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// readLoop owns events and audio and closes both on exit.
func (c *Conversation) readLoop() {
	defer c.closeChannels()

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return
			}
			c.setErr(err)
			c.emit(Event{Kind: EventError, Err: fmt.Errorf("agent: read: %w", err)})
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.emit(Event{Kind: EventError, Err: fmt.Errorf("agent: decode %d bytes: %w", len(data), err)})
			continue
		}
		c.handle(&msg)
	}
}

func (c *Conversation) handle(msg *serverMessage) {
	switch msg.Type {
	case "conversation_initiation_metadata":
		if msg.Metadata != nil {
			c.mu.Lock()
			c.conversationID = msg.Metadata.ConversationID
			c.mu.Unlock()
			slog.Debug("agent conversation started",
				"conversation_id", msg.Metadata.ConversationID,
				"output_format", msg.Metadata.AgentOutputFormat)
		}

	case "ping":
		if msg.Ping == nil {
			return
		}
		if err := c.writeJSON(c.ctx, pongMessage{Type: "pong", EventID: msg.Ping.EventID}); err != nil && c.ctx.Err() == nil {
			slog.Warn("agent pong failed", "event_id", msg.Ping.EventID, "err", err)
		}

	case "audio":
		c.setMode(ModeSpeaking)
		if msg.Audio == nil || msg.Audio.Audio == "" {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(msg.Audio.Audio)
		if err != nil {
			c.emit(Event{Kind: EventError, Err: fmt.Errorf("agent: decode audio %d: %w", msg.Audio.EventID, err)})
			return
		}
		select {
		case c.audio <- pcm:
		case <-c.ctx.Done():
		}

	case "agent_response":
		if msg.AgentResponse != nil && msg.AgentResponse.AgentResponse != "" {
			c.emit(Event{Kind: EventTurn, Source: SourceAgent, Text: msg.AgentResponse.AgentResponse})
		}

	case "user_transcript":
		c.setMode(ModeListening)
		if msg.UserTranscription != nil && msg.UserTranscription.UserTranscript != "" {
			c.emit(Event{Kind: EventTurn, Source: SourceUser, Text: msg.UserTranscription.UserTranscript})
		}

	case "interruption":
		c.setMode(ModeListening)
	}
}

// setMode emits an EventMode only when the mode actually changes.
func (c *Conversation) setMode(m Mode) {
	c.mu.Lock()
	changed := c.mode != m
	c.mode = m
	c.mu.Unlock()
	if changed {
		c.emit(Event{Kind: EventMode, Mode: m})
	}
}

func (c *Conversation) emit(e Event) {
	e.Time = time.Now()
	c.metrics.RecordAgentEvent(c.ctx, e.Kind.String())
	select {
	case c.events <- e:
	case <-c.ctx.Done():
	}
}

func (c *Conversation) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Conversation) closeChannels() {
	c.closeOnce.Do(func() {
		close(c.events)
		close(c.audio)
	})
}

// IsClosed reports whether err signals a closed conversation.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) ||
		websocket.CloseStatus(err) == websocket.StatusNormalClosure
}

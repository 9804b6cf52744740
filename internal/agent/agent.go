// Package agent talks to the hosted conversational voice agent that plays
// the visa officer.
//
// Two pieces live here:
//
//   - [SignedURLClient] exchanges the API key for a short-lived signed
//     conversation URL. Each configured API endpoint sits behind its own
//     circuit breaker and failures degrade to the public agent id.
//   - [Conversation] is one live websocket conversation. Callers push
//     captured [audio.AudioFrame]s with [Conversation.SendFrame] and consume
//     turns and mode changes from [Conversation.Events].
package agent

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotConfigured is returned when the API key or agent id is missing.
	ErrNotConfigured = errors.New("agent: not configured")

	// ErrClosed is returned by operations on a closed [Conversation].
	ErrClosed = errors.New("agent: conversation closed")
)

// Source identifies who produced a turn.
type Source string

const (
	SourceAgent Source = "agent"
	SourceUser  Source = "user"
)

// Mode is the agent's conversational state.
type Mode string

const (
	ModeSpeaking  Mode = "speaking"
	ModeListening Mode = "listening"
)

// EventKind discriminates [Event] payloads.
type EventKind int

const (
	// EventTurn carries a finished transcript line in Source and Text.
	EventTurn EventKind = iota + 1

	// EventMode carries a mode change in Mode.
	EventMode

	// EventError carries a transport or protocol failure in Err. The
	// conversation may continue after non-fatal errors.
	EventError
)

// String returns the lower-case kind name used in metrics and client
// messages.
func (k EventKind) String() string {
	switch k {
	case EventTurn:
		return "turn"
	case EventMode:
		return "mode"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one message from a [Conversation], delivered in arrival order.
type Event struct {
	Kind   EventKind
	Source Source
	Text   string
	Mode   Mode
	Err    error
	Time   time.Time
}

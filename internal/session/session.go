// Package session tracks the lifecycle of mock interview sessions and the
// transcript and language-assistance events recorded against them.
//
// Sessions live in a process-scoped [Registry]. Nothing is persisted: all
// sessions are lost when the process exits.
package session

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// Sentinel errors returned by [Registry] and [Session].
var (
	// ErrNotFound is returned when no session exists for an id. Absence is an
	// expected outcome (an expired or never-created session).
	ErrNotFound = errors.New("session: not found")

	// ErrDuplicateID is returned by [Registry.Create] when the id is already
	// registered. Existing sessions are never overwritten.
	ErrDuplicateID = errors.New("session: duplicate id")

	// ErrInvalidID is returned by [Registry.Create] for an empty id.
	ErrInvalidID = errors.New("session: invalid id")

	// ErrSessionEnded is returned when recording against a session that has
	// already been ended.
	ErrSessionEnded = errors.New("session: already ended")

	// ErrInvalidRole is returned by [ParseRole] for unknown role names.
	ErrInvalidRole = errors.New("session: invalid role")
)

// Role identifies which side of the conversation produced a transcript entry.
type Role string

const (
	// RoleAgent is the interviewer (the remote conversational agent).
	RoleAgent Role = "agent"

	// RoleStudent is the end user practising for the interview.
	RoleStudent Role = "student"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleAgent, RoleStudent:
		return true
	}
	return false
}

// ParseRole converts a wire role name to a [Role]. "user" is accepted as an
// alias for [RoleStudent] and "ai" for [RoleAgent], matching the source names
// emitted by the conversational agent.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "agent", "ai":
		return RoleAgent, nil
	case "student", "user":
		return RoleStudent, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// Language tags recognised by the counters. Any tag other than
// [LanguageEnglish] is counted as Hindi.
const (
	LanguageEnglish = "en"
	LanguageHindi   = "hi"
)

// TranscriptEntry is one conversational turn.
type TranscriptEntry struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Language  string    `json:"language"`
	Timestamp time.Time `json:"timestamp"`
}

// LanguageSwitch records that the student needed Hindi assistance on a
// question.
type LanguageSwitch struct {
	QuestionID int       `json:"question_id"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}

// Session is a single interview session. The transcript and switch lists are
// append-only and the end time, once set, never changes.
//
// All methods are safe for concurrent use. Each call appends atomically, and
// sequential calls from one goroutine are recorded in call order.
type Session struct {
	id    string
	clock func() time.Time

	mu           sync.Mutex
	startTime    time.Time
	endTime      time.Time
	ended        bool
	transcript   []TranscriptEntry
	switches     []LanguageSwitch
	englishTurns int
	hindiTurns   int
}

func newSession(id string, clock func() time.Time) *Session {
	return &Session{
		id:        id,
		clock:     clock,
		startTime: clock().UTC(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// StartTime returns when the session was created.
func (s *Session) StartTime() time.Time { return s.startTime }

// Ended reports whether the session has been ended.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// AddMessage appends a transcript entry stamped with the current time. An
// empty language defaults to [LanguageEnglish]. Student turns increment the
// English counter when language is "en" and the Hindi counter otherwise;
// agent turns leave the counters untouched.
//
// Returns [ErrInvalidRole] for an unknown role and [ErrSessionEnded] if the
// session has ended.
func (s *Session) AddMessage(role Role, text, language string) error {
	if !role.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if language == "" {
		language = LanguageEnglish
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return fmt.Errorf("session %s: add message: %w", s.id, ErrSessionEnded)
	}
	s.transcript = append(s.transcript, TranscriptEntry{
		Role:      role,
		Text:      text,
		Language:  language,
		Timestamp: s.clock().UTC(),
	})
	if role == RoleStudent {
		if language == LanguageEnglish {
			s.englishTurns++
		} else {
			s.hindiTurns++
		}
	}
	return nil
}

// AddLanguageSwitch appends a language-assistance event for questionID.
// Unknown question ids are accepted.
func (s *Session) AddLanguageSwitch(questionID int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return fmt.Errorf("session %s: add language switch: %w", s.id, ErrSessionEnded)
	}
	s.switches = append(s.switches, LanguageSwitch{
		QuestionID: questionID,
		Reason:     reason,
		Timestamp:  s.clock().UTC(),
	})
	return nil
}

// end sets the end time if unset. Reports whether this call ended the
// session.
func (s *Session) end() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.ended = true
	s.endTime = s.clock().UTC()
	return true
}

// Snapshot returns a deep copy of the session's current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:               s.id,
		StartTime:        s.startTime,
		Transcript:       append([]TranscriptEntry(nil), s.transcript...),
		LanguageSwitches: append([]LanguageSwitch(nil), s.switches...),
		EnglishTurns:     s.englishTurns,
		HindiTurns:       s.hindiTurns,
	}
	if s.ended {
		end := s.endTime
		snap.EndTime = &end
	}
	return snap
}

// Snapshot is an immutable copy of a [Session] at one point in time.
type Snapshot struct {
	ID               string
	StartTime        time.Time
	EndTime          *time.Time
	Transcript       []TranscriptEntry
	LanguageSwitches []LanguageSwitch
	EnglishTurns     int
	HindiTurns       int
}

// Ended reports whether the snapshot was taken after the session ended.
func (s Snapshot) Ended() bool { return s.EndTime != nil }

// Duration returns the elapsed time from start to end. For an active session
// the duration is measured against now.
func (s Snapshot) Duration(now time.Time) time.Duration {
	end := now
	if s.EndTime != nil {
		end = *s.EndTime
	}
	return end.Sub(s.StartTime)
}

// DurationMinutes returns [Snapshot.Duration] in minutes rounded to one
// decimal place.
func (s Snapshot) DurationMinutes(now time.Time) float64 {
	return math.Round(s.Duration(now).Minutes()*10) / 10
}

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/visacoach/internal/feedback"
	"github.com/MrWong99/visacoach/internal/interview"
	"github.com/MrWong99/visacoach/internal/observe"
	"github.com/MrWong99/visacoach/internal/session"
)

const (
	maxBodyBytes  = 64 << 10
	createRetries = 3
)

// errBadRequest marks request validation failures.
var errBadRequest = errors.New("invalid request")

// ── Wire types ─────────────────────────────────────────────────────────────────

type startResponse struct {
	SessionID    string  `json:"session_id"`
	AgentID      string  `json:"agent_id"`
	SignedURL    *string `json:"signed_url"`
	SystemPrompt string  `json:"system_prompt"`
}

type messageRequest struct {
	Role     string `json:"role"`
	Text     string `json:"text"`
	Language string `json:"language"`
}

type switchRequest struct {
	QuestionID *int   `json:"question_id"`
	Reason     string `json:"reason"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type languageUsage struct {
	English int `json:"english"`
	Hindi   int `json:"hindi"`
}

type sessionResponse struct {
	SessionID            string                    `json:"session_id"`
	StartTime            time.Time                 `json:"start_time"`
	EndTime              *time.Time                `json:"end_time"`
	DurationMinutes      float64                   `json:"duration_minutes"`
	Transcript           []session.TranscriptEntry `json:"transcript"`
	LanguageSwitches     []session.LanguageSwitch  `json:"language_switches"`
	StudentLanguageUsage languageUsage             `json:"student_language_usage"`
}

func newSessionResponse(snap session.Snapshot, now time.Time) sessionResponse {
	resp := sessionResponse{
		SessionID:        snap.ID,
		StartTime:        snap.StartTime,
		EndTime:          snap.EndTime,
		DurationMinutes:  snap.DurationMinutes(now),
		Transcript:       snap.Transcript,
		LanguageSwitches: snap.LanguageSwitches,
		StudentLanguageUsage: languageUsage{
			English: snap.EnglishTurns,
			Hindi:   snap.HindiTurns,
		},
	}
	if resp.Transcript == nil {
		resp.Transcript = []session.TranscriptEntry{}
	}
	if resp.LanguageSwitches == nil {
		resp.LanguageSwitches = []session.LanguageSwitch{}
	}
	return resp
}

// ── Handlers ───────────────────────────────────────────────────────────────────

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, err := s.createSession()
	if err != nil {
		s.writeError(w, r, fmt.Errorf("server: start: %w", err))
		return
	}
	s.metrics.ActiveSessions.Add(ctx, 1)

	conn := s.resolver.Resolve(ctx)
	resp := startResponse{
		SessionID:    sess.ID(),
		AgentID:      conn.AgentID,
		SystemPrompt: s.prompt,
	}
	if conn.SignedURL != "" {
		resp.SignedURL = &conn.SignedURL
	}

	observe.Logger(ctx).Info("session started",
		"session_id", sess.ID(),
		"agent_id", conn.AgentID,
		"signed", conn.SignedURL != "")
	writeJSON(w, http.StatusOK, resp)
}

// createSession retries on the unlikely collision of two short ids.
func (s *Server) createSession() (*session.Session, error) {
	var err error
	for range createRetries {
		var sess *session.Session
		sess, err = s.registry.Create(session.NewID())
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, session.ErrDuplicateID) {
			return nil, err
		}
	}
	return nil, err
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req messageRequest
	err = decodeRequest(r, &req, func(q url.Values) error {
		req.Role, req.Text, req.Language = q.Get("role"), q.Get("text"), q.Get("language")
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	role, err := session.ParseRole(req.Role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.writeError(w, r, fmt.Errorf("%w: text is required", errBadRequest))
		return
	}

	if err := sess.AddMessage(role, req.Text, req.Language); err != nil {
		s.writeError(w, r, err)
		return
	}
	lang := req.Language
	if lang == "" {
		lang = session.LanguageEnglish
	}
	s.metrics.RecordTranscriptEntry(r.Context(), string(role), lang)
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req switchRequest
	err = decodeRequest(r, &req, func(q url.Values) error {
		if raw := q.Get("question_id"); raw != "" {
			id, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("%w: question_id: %v", errBadRequest, err)
			}
			req.QuestionID = &id
		}
		req.Reason = q.Get("reason")
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.QuestionID == nil {
		s.writeError(w, r, fmt.Errorf("%w: question_id is required", errBadRequest))
		return
	}

	if err := sess.AddLanguageSwitch(*req.QuestionID, req.Reason); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.RecordLanguageSwitch(r.Context(), *req.QuestionID)
	observe.Logger(r.Context()).Debug("language switch recorded",
		"session_id", sess.ID(), "question_id", *req.QuestionID)
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

// handleEnd is idempotent: later calls return a report for the same end
// time without counting or archiving it again.
func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, first, err := s.registry.EndOnce(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	report := feedback.Score(sess.Snapshot(), s.now())
	if first {
		s.metrics.ActiveSessions.Add(ctx, -1)
		s.metrics.RecordReport(ctx, string(report.Proficiency))
		if err := s.store.SaveReport(report); err != nil {
			observe.Logger(ctx).Warn("report not archived", "session_id", sess.ID(), "err", err)
		}
		observe.Logger(ctx).Info("session ended",
			"session_id", sess.ID(),
			"duration_minutes", report.DurationMinutes,
			"proficiency", report.Proficiency)
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(sess.Snapshot(), s.now()))
}

// handleQuestions serves the question bank, optionally filtered by
// ?category=.
func (s *Server) handleQuestions(w http.ResponseWriter, r *http.Request) {
	qs := interview.Questions()
	if c := r.URL.Query().Get("category"); c != "" {
		qs = interview.QuestionsByCategory(interview.Category(c))
	}
	if qs == nil {
		qs = []interview.Question{}
	}
	writeJSON(w, http.StatusOK, qs)
}

// ── Helpers ────────────────────────────────────────────────────────────────────

// decodeRequest reads a JSON body into v. A request without a body falls
// back to query parameters through fromQuery.
func decodeRequest(r *http.Request, v any, fromQuery func(url.Values) error) error {
	if r.Body == nil {
		return fromQuery(r.URL.Query())
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		return fromQuery(r.URL.Query())
	default:
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, session.ErrInvalidRole),
		errors.Is(err, session.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrSessionEnded):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/visacoach/internal/agent"
	"github.com/MrWong99/visacoach/internal/feedback"
	"github.com/MrWong99/visacoach/internal/health"
	"github.com/MrWong99/visacoach/internal/interview"
	"github.com/MrWong99/visacoach/internal/observe"
	"github.com/MrWong99/visacoach/internal/server"
	"github.com/MrWong99/visacoach/internal/session"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// ── Fakes ──────────────────────────────────────────────────────────────────────

type fakeResolver agent.Connection

func (f fakeResolver) Resolve(context.Context) agent.Connection { return agent.Connection(f) }

type memStore struct {
	mu      sync.Mutex
	reports []feedback.Report
	err     error
}

func (m *memStore) SaveReport(r feedback.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
	return m.err
}

func (m *memStore) saved() []feedback.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]feedback.Report(nil), m.reports...)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// ── Helpers ────────────────────────────────────────────────────────────────────

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type env struct {
	reg   *session.Registry
	clock *clock
	h     http.Handler
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newEnv(t *testing.T, opts ...server.Option) *env {
	t.Helper()
	clk := &clock{t: epoch}
	reg := session.NewRegistry(session.WithClock(clk.Now))
	opts = append([]server.Option{
		server.WithClock(clk.Now),
		server.WithMetrics(testMetrics(t)),
	}, opts...)
	return &env{reg: reg, clock: clk, h: server.New(reg, opts...).Handler()}
}

func (e *env) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func (e *env) start(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/session/start", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("start: status %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		SessionID string `json:"session_id"`
	}
	decode(t, rec, &resp)
	return resp.SessionID
}

func (e *env) mustOK(t *testing.T, method, path, body string) {
	t.Helper()
	if rec := e.do(t, method, path, body); rec.Code != http.StatusOK {
		t.Fatalf("%s %s: status %d: %s", method, path, rec.Code, rec.Body)
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

// ── Tests ──────────────────────────────────────────────────────────────────────

func TestStart(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		conn       agent.Connection
		wantSigned bool
	}{
		{"signed url", agent.Connection{AgentID: "agent_1", SignedURL: "wss://signed/abc"}, true},
		{"public agent id", agent.Connection{AgentID: "agent_1"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			e := newEnv(t, server.WithResolver(fakeResolver(tc.conn)))
			rec := e.do(t, http.MethodPost, "/api/session/start", "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status %d: %s", rec.Code, rec.Body)
			}

			var resp map[string]any
			decode(t, rec, &resp)

			id, _ := resp["session_id"].(string)
			if len(id) != 8 {
				t.Errorf("session_id = %q, want 8 characters", id)
			}
			if _, err := e.reg.Get(id); err != nil {
				t.Errorf("session %q not registered: %v", id, err)
			}
			if resp["agent_id"] != "agent_1" {
				t.Errorf("agent_id = %v", resp["agent_id"])
			}
			signed, present := resp["signed_url"]
			if !present {
				t.Fatal("signed_url missing from response")
			}
			if tc.wantSigned && signed != tc.conn.SignedURL {
				t.Errorf("signed_url = %v, want %q", signed, tc.conn.SignedURL)
			}
			if !tc.wantSigned && signed != nil {
				t.Errorf("signed_url = %v, want null", signed)
			}
			prompt, _ := resp["system_prompt"].(string)
			if !strings.Contains(prompt, interview.Questions()[0].English) {
				t.Error("system_prompt does not contain the question bank")
			}
		})
	}
}

func TestSessionFlow(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	e := newEnv(t, server.WithStore(store))
	id := e.start(t)
	base := "/api/session/" + id

	for _, body := range []string{
		`{"role":"agent","text":"Why this university?"}`,
		`{"role":"student","text":"Research.","language":"en"}`,
		`{"role":"user","text":"Funding is arranged.","language":"en"}`,
		`{"role":"student","text":"My father will pay."}`,
		`{"role":"student","text":"I will come back.","language":"en"}`,
		`{"role":"student","text":"Mera ghar India mein hai.","language":"hi"}`,
	} {
		e.mustOK(t, http.MethodPost, base+"/message", body)
	}
	e.mustOK(t, http.MethodPost, base+"/switch", `{"question_id":2,"reason":"did not understand"}`)
	// Query parameters are accepted as well.
	e.mustOK(t, http.MethodPost, base+"/switch?question_id=2&reason=asked+again", "")

	e.clock.Advance(3 * time.Minute)

	rec := e.do(t, http.MethodGet, base, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}
	var snap struct {
		SessionID        string             `json:"session_id"`
		EndTime          *time.Time         `json:"end_time"`
		DurationMinutes  float64            `json:"duration_minutes"`
		Transcript       []map[string]any   `json:"transcript"`
		LanguageSwitches []map[string]any   `json:"language_switches"`
		Usage            map[string]float64 `json:"student_language_usage"`
	}
	decode(t, rec, &snap)
	if snap.SessionID != id || snap.EndTime != nil {
		t.Errorf("snapshot id=%q end=%v", snap.SessionID, snap.EndTime)
	}
	if snap.DurationMinutes != 3 {
		t.Errorf("duration_minutes = %v, want 3", snap.DurationMinutes)
	}
	if len(snap.Transcript) != 6 || len(snap.LanguageSwitches) != 2 {
		t.Fatalf("transcript=%d switches=%d, want 6 and 2", len(snap.Transcript), len(snap.LanguageSwitches))
	}
	if snap.Usage["english"] != 4 || snap.Usage["hindi"] != 1 {
		t.Errorf("student_language_usage = %v, want english 4 hindi 1", snap.Usage)
	}
	if snap.Transcript[2]["role"] != "student" {
		t.Errorf("user alias recorded as %v", snap.Transcript[2]["role"])
	}

	rec = e.do(t, http.MethodPost, base+"/end", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("end: status %d", rec.Code)
	}
	var report feedback.Report
	decode(t, rec, &report)

	if report.StudentTurns != 5 {
		t.Errorf("StudentTurns = %d, want 5", report.StudentTurns)
	}
	if report.EnglishRatio != 0.8 || report.Proficiency != feedback.TierGood {
		t.Errorf("ratio=%v tier=%q, want 0.8 Good", report.EnglishRatio, report.Proficiency)
	}
	if report.Switches != 2 || len(report.QuestionsHelped) != 1 || report.QuestionsHelped[0] != 2 {
		t.Errorf("switches=%d helped=%v", report.Switches, report.QuestionsHelped)
	}
	if report.HindiResponses != 1 || len(report.Improvements) != 2 {
		t.Errorf("hindi=%d improvements=%v", report.HindiResponses, report.Improvements)
	}
	if report.DurationMinutes != 3 {
		t.Errorf("DurationMinutes = %v, want 3", report.DurationMinutes)
	}

	// A second end returns the same report without archiving it again.
	e.clock.Advance(10 * time.Minute)
	rec = e.do(t, http.MethodPost, base+"/end", "")
	var again feedback.Report
	decode(t, rec, &again)
	if again.DurationMinutes != 3 {
		t.Errorf("second end DurationMinutes = %v, want 3", again.DurationMinutes)
	}
	if n := len(store.saved()); n != 1 {
		t.Errorf("store saved %d reports, want 1", n)
	}

	rec = e.do(t, http.MethodGet, base, "")
	decode(t, rec, &snap)
	if snap.EndTime == nil || !snap.EndTime.Equal(epoch.Add(3*time.Minute)) {
		t.Errorf("end_time = %v, want %v", snap.EndTime, epoch.Add(3*time.Minute))
	}
}

func TestEnd_EmptySession(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	id := e.start(t)

	rec := e.do(t, http.MethodPost, "/api/session/"+id+"/end", "")
	var report feedback.Report
	decode(t, rec, &report)

	if report.Proficiency != feedback.TierWeak || report.EnglishRatio != 0 {
		t.Errorf("tier=%q ratio=%v, want Weak 0", report.Proficiency, report.EnglishRatio)
	}
	if len(report.Improvements) != 1 {
		t.Errorf("improvements = %v, want only the few-responses line", report.Improvements)
	}
	if !strings.Contains(report.Summary, "Hindi Assistance Needed: 0 time(s)") {
		t.Errorf("summary = %q", report.Summary)
	}
}

func TestEnd_StoreFailureStillReports(t *testing.T) {
	t.Parallel()

	store := &memStore{err: errors.New("disk full")}
	e := newEnv(t, server.WithStore(store))
	id := e.start(t)

	if rec := e.do(t, http.MethodPost, "/api/session/"+id+"/end", ""); rec.Code != http.StatusOK {
		t.Fatalf("end with failing store: status %d", rec.Code)
	}
}

func TestErrorStatus(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	live := e.start(t)
	ended := e.start(t)
	e.mustOK(t, http.MethodPost, "/api/session/"+ended+"/end", "")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"message unknown", http.MethodPost, "/api/session/nope/message", `{"role":"student","text":"x"}`, http.StatusNotFound},
		{"switch unknown", http.MethodPost, "/api/session/nope/switch", `{"question_id":1}`, http.StatusNotFound},
		{"end unknown", http.MethodPost, "/api/session/nope/end", "", http.StatusNotFound},
		{"get unknown", http.MethodGet, "/api/session/nope", "", http.StatusNotFound},
		{"audio unknown", http.MethodGet, "/api/session/nope/audio", "", http.StatusNotFound},
		{"bad role", http.MethodPost, "/api/session/" + live + "/message", `{"role":"officer","text":"x"}`, http.StatusBadRequest},
		{"missing text", http.MethodPost, "/api/session/" + live + "/message", `{"role":"student"}`, http.StatusBadRequest},
		{"malformed json", http.MethodPost, "/api/session/" + live + "/message", `{"role":`, http.StatusBadRequest},
		{"missing question", http.MethodPost, "/api/session/" + live + "/switch", `{"reason":"x"}`, http.StatusBadRequest},
		{"bad question query", http.MethodPost, "/api/session/" + live + "/switch?question_id=two", "", http.StatusBadRequest},
		{"message after end", http.MethodPost, "/api/session/" + ended + "/message", `{"role":"student","text":"x"}`, http.StatusConflict},
		{"switch after end", http.MethodPost, "/api/session/" + ended + "/switch", `{"question_id":1}`, http.StatusConflict},
		{"audio after end", http.MethodGet, "/api/session/" + ended + "/audio", "", http.StatusConflict},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rec := e.do(t, tc.method, tc.path, tc.body)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.want, rec.Body)
			}
			var body map[string]string
			decode(t, rec, &body)
			if body["error"] == "" {
				t.Error("error body missing")
			}
		})
	}
}

func TestQuestions(t *testing.T) {
	t.Parallel()

	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/questions", "")
	var all []interview.Question
	decode(t, rec, &all)
	if len(all) != 5 {
		t.Fatalf("got %d questions, want 5", len(all))
	}

	rec = e.do(t, http.MethodGet, "/api/questions?category=financial", "")
	var fin []interview.Question
	decode(t, rec, &fin)
	if len(fin) != 1 || fin[0].Category != interview.CategoryFinancial {
		t.Errorf("financial = %+v", fin)
	}

	rec = e.do(t, http.MethodGet, "/api/questions?category=unknown", "")
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("unknown category body = %s, want []", got)
	}
}

func TestOptionalMounts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>coach</h1>"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := newEnv(t,
		server.WithHealth(health.New()),
		server.WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		})),
		server.WithStaticDir(dir),
	)

	if rec := e.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("/healthz = %d", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/metrics", ""); !strings.HasPrefix(rec.Body.String(), "# metrics") {
		t.Errorf("/metrics body = %q", rec.Body)
	}
	if rec := e.do(t, http.MethodGet, "/", ""); !strings.Contains(rec.Body.String(), "coach") {
		t.Errorf("/ body = %q", rec.Body)
	}
}

func TestCORS(t *testing.T) {
	t.Parallel()

	e := newEnv(t, server.WithAllowedOrigins("https://coach.example"))

	req := httptest.NewRequest(http.MethodOptions, "/api/session/start", nil)
	req.Header.Set("Origin", "https://coach.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://coach.example" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/session/start", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec = httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign preflight status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/questions", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Errorf("foreign GET: status %d allow-origin %q", rec.Code, rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestCORS_Wildcard(t *testing.T) {
	t.Parallel()

	e := newEnv(t, server.WithAllowedOrigins("*"))
	req := httptest.NewRequest(http.MethodGet, "/api/questions", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

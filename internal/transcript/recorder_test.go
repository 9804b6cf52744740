package transcript_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/visacoach/internal/agent"
	"github.com/MrWong99/visacoach/internal/observe"
	"github.com/MrWong99/visacoach/internal/session"
	"github.com/MrWong99/visacoach/internal/transcript"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func newSession(t *testing.T) (*session.Registry, *session.Session) {
	t.Helper()
	reg := session.NewRegistry()
	s, err := reg.Create("rec00001")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return reg, s
}

// hindiIfPrefixed tags lines starting with "hi:" as Hindi.
var hindiIfPrefixed = transcript.TaggerFunc(func(text string) string {
	if len(text) > 3 && text[:3] == "hi:" {
		return session.LanguageHindi
	}
	return session.LanguageEnglish
})

func turn(src agent.Source, text string) agent.Event {
	return agent.Event{Kind: agent.EventTurn, Source: src, Text: text, Time: time.Now()}
}

func TestRecorder_Run(t *testing.T) {
	t.Parallel()

	_, s := newSession(t)
	m, reader := newMetrics(t)

	var (
		mu       sync.Mutex
		observed []agent.EventKind
	)
	rec := transcript.NewRecorder(s,
		transcript.WithTagger(hindiIfPrefixed),
		transcript.WithMetrics(m),
		transcript.WithObserver(func(_ context.Context, e agent.Event) {
			mu.Lock()
			observed = append(observed, e.Kind)
			mu.Unlock()
		}),
	)

	events := make(chan agent.Event, 8)
	events <- turn(agent.SourceAgent, "Why did you choose this university?")
	events <- agent.Event{Kind: agent.EventMode, Mode: agent.ModeListening}
	events <- turn(agent.SourceUser, "Because of its research programs.")
	events <- agent.Event{Kind: agent.EventError, Err: errors.New("socket hiccup")}
	events <- turn(agent.SourceUser, "hi: mera bhai wahan padhta hai")
	close(events)

	if err := rec.Run(context.Background(), events); err != nil {
		t.Fatalf("Run: %v", err)
	}

	snap := s.Snapshot()
	if len(snap.Transcript) != 3 {
		t.Fatalf("transcript has %d entries, want 3", len(snap.Transcript))
	}
	wantRoles := []session.Role{session.RoleAgent, session.RoleStudent, session.RoleStudent}
	for i, r := range wantRoles {
		if snap.Transcript[i].Role != r {
			t.Errorf("entry[%d].Role = %q, want %q", i, snap.Transcript[i].Role, r)
		}
	}
	if snap.EnglishTurns != 1 || snap.HindiTurns != 1 {
		t.Errorf("english=%d hindi=%d, want 1/1", snap.EnglishTurns, snap.HindiTurns)
	}
	if len(observed) != 5 {
		t.Errorf("observer saw %d events, want 5", len(observed))
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "visacoach.transcript.entries" {
				continue
			}
			for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
				total += dp.Value
			}
		}
	}
	if total != 3 {
		t.Errorf("transcript entries metric = %d, want 3", total)
	}
}

func TestRecorder_DropsTurnsAfterEnd(t *testing.T) {
	t.Parallel()

	reg, s := newSession(t)
	m, _ := newMetrics(t)
	rec := transcript.NewRecorder(s, transcript.WithMetrics(m))

	rec.Handle(context.Background(), turn(agent.SourceUser, "First answer."))
	if _, err := reg.End(s.ID()); err != nil {
		t.Fatalf("End: %v", err)
	}
	rec.Handle(context.Background(), turn(agent.SourceUser, "Late answer."))

	if n := len(s.Snapshot().Transcript); n != 1 {
		t.Errorf("transcript has %d entries, want 1", n)
	}
}

func TestRecorder_StopsOnCancel(t *testing.T) {
	t.Parallel()

	_, s := newSession(t)
	m, _ := newMetrics(t)
	rec := transcript.NewRecorder(s, transcript.WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx, make(chan agent.Event)) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

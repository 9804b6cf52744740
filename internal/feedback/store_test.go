package feedback_test

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/MrWong99/visacoach/internal/feedback"
)

func TestFileStore_SaveReport(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reports.jsonl")
	store := feedback.NewFileStore(path)

	reports := []feedback.Report{
		{SessionID: "aaaa1111", Proficiency: feedback.TierGood, EnglishRatio: 0.8},
		{SessionID: "bbbb2222", Proficiency: feedback.TierWeak},
	}
	for _, r := range reports {
		if err := store.SaveReport(r); err != nil {
			t.Fatalf("SaveReport: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var got []feedback.Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec feedback.Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		got = append(got, rec)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].SessionID != "aaaa1111" || got[1].SessionID != "bbbb2222" {
		t.Errorf("session ids = %q, %q", got[0].SessionID, got[1].SessionID)
	}
	if got[0].Timestamp.IsZero() {
		t.Error("record timestamp not set")
	}
}

func TestFileStore_Concurrent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reports.jsonl")
	store := feedback.NewFileStore(path)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.SaveReport(feedback.Report{SessionID: "x"}); err != nil {
				t.Errorf("SaveReport: %v", err)
			}
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 20 {
		t.Errorf("got %d lines, want 20", lines)
	}
}

func TestFileStore_BadPath(t *testing.T) {
	t.Parallel()

	store := feedback.NewFileStore(filepath.Join(t.TempDir(), "missing", "reports.jsonl"))
	if err := store.SaveReport(feedback.Report{}); err == nil {
		t.Error("expected error for a path in a missing directory")
	}
}

func TestFileStore_Check(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := feedback.NewFileStore(filepath.Join(dir, "reports.jsonl")).Check(context.Background()); err != nil {
		t.Errorf("Check in existing dir: %v", err)
	}
	if err := feedback.NewFileStore(filepath.Join(dir, "missing", "reports.jsonl")).Check(context.Background()); err == nil {
		t.Error("Check in missing dir: expected error")
	}
}

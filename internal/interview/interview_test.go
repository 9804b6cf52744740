package interview_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/visacoach/internal/interview"
)

func TestQuestions(t *testing.T) {
	t.Parallel()

	qs := interview.Questions()
	if len(qs) != 5 {
		t.Fatalf("len(Questions()) = %d, want 5", len(qs))
	}
	categories := make(map[interview.Category]bool)
	for i, q := range qs {
		if q.ID != i+1 {
			t.Errorf("question %d: ID = %d, want %d", i, q.ID, i+1)
		}
		if q.English == "" || q.HindiHint == "" {
			t.Errorf("question %d: missing text or hint", q.ID)
		}
		if len(q.FollowUps) == 0 {
			t.Errorf("question %d: no follow-ups", q.ID)
		}
		categories[q.Category] = true
	}
	for _, c := range []interview.Category{
		interview.CategoryStudyPlans,
		interview.CategoryFinancial,
		interview.CategoryReturnIntent,
		interview.CategoryAcademic,
		interview.CategoryEnglishProficiency,
	} {
		if !categories[c] {
			t.Errorf("category %q not covered", c)
		}
	}
}

func TestQuestions_ReturnsCopy(t *testing.T) {
	t.Parallel()

	qs := interview.Questions()
	qs[0].English = "changed"
	qs[0].FollowUps[0] = "changed"

	fresh := interview.Questions()
	if fresh[0].English == "changed" || fresh[0].FollowUps[0] == "changed" {
		t.Error("mutating the returned slice changed the question bank")
	}
}

func TestQuestionByID(t *testing.T) {
	t.Parallel()

	q, ok := interview.QuestionByID(1)
	if !ok {
		t.Fatal("question 1 not found")
	}
	if q.Category != interview.CategoryStudyPlans {
		t.Errorf("Category = %q, want %q", q.Category, interview.CategoryStudyPlans)
	}
	if _, ok := interview.QuestionByID(999); ok {
		t.Error("QuestionByID(999) should not be found")
	}
}

func TestQuestionsByCategory(t *testing.T) {
	t.Parallel()

	got := interview.QuestionsByCategory(interview.CategoryFinancial)
	if len(got) != 1 || got[0].ID != 2 {
		t.Errorf("QuestionsByCategory(financial) = %+v, want question 2", got)
	}
	if got := interview.QuestionsByCategory("unknown"); len(got) != 0 {
		t.Errorf("unknown category returned %d questions", len(got))
	}
}

func TestCategoryLabel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id   int
		want string
	}{
		{1, "study plans"},
		{2, "financial capability"},
		{3, "return intent"},
		{4, "academic background"},
		{5, "English proficiency"},
		{0, "general"},
		{42, "general"},
	}
	for _, tc := range tests {
		if got := interview.CategoryLabel(tc.id); got != tc.want {
			t.Errorf("CategoryLabel(%d) = %q, want %q", tc.id, got, tc.want)
		}
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	t.Parallel()

	prompt := interview.BuildSystemPrompt()

	for _, q := range interview.Questions() {
		if !strings.Contains(prompt, q.English) {
			t.Errorf("prompt missing question %d", q.ID)
		}
		if !strings.Contains(prompt, "   Hindi hint: "+q.HindiHint) {
			t.Errorf("prompt missing hint for question %d", q.ID)
		}
		for _, fu := range q.FollowUps {
			if !strings.Contains(prompt, "   - Follow-up: "+fu) {
				t.Errorf("prompt missing follow-up %q", fu)
			}
		}
	}

	wantFragments := []string{
		"You are a visa interview officer",
		"QUESTIONS TO ASK (in order):\n\n1. Why have you chosen",
		"   - Follow-up: How did you hear about this university?\n\n2. How will you fund",
		"How long have you been preparing for this interview?\n\n\nFLOW:",
		"LANGUAGE SWITCHING RULES:",
	}
	for _, f := range wantFragments {
		if !strings.Contains(prompt, f) {
			t.Errorf("prompt missing fragment %q", f)
		}
	}

	if strings.Contains(prompt, "{{") {
		t.Error("prompt contains unrendered template actions")
	}
	if interview.BuildSystemPrompt() != prompt {
		t.Error("BuildSystemPrompt is not stable across calls")
	}
}

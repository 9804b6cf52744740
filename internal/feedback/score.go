// Package feedback turns a finished interview session into a deterministic
// proficiency report, and optionally archives reports as JSON lines.
package feedback

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/MrWong99/visacoach/internal/interview"
	"github.com/MrWong99/visacoach/internal/session"
)

// Tier is an English proficiency classification.
type Tier string

const (
	TierStrong           Tier = "Strong"
	TierGood             Tier = "Good"
	TierNeedsImprovement Tier = "Needs Improvement"
	TierWeak             Tier = "Weak"
)

// Tier thresholds on the unrounded English ratio. Each bound is inclusive.
const (
	strongThreshold = 0.90
	goodThreshold   = 0.70
	needsThreshold  = 0.50
)

// minResponses is the student turn count below which the report asks for
// more detailed practice answers.
const minResponses = 5

// Report is the scored outcome of a session. It is derived entirely from a
// [session.Snapshot] and never mutated.
type Report struct {
	SessionID       string   `json:"session_id"`
	DurationMinutes float64  `json:"duration_minutes"`
	StudentTurns    int      `json:"total_questions_faced"`
	Proficiency     Tier     `json:"english_proficiency"`
	EnglishRatio    float64  `json:"english_response_ratio"`
	Switches        int      `json:"language_switches"`
	QuestionsHelped []int    `json:"questions_needing_hindi_help"`
	HindiResponses  int      `json:"hindi_responses"`
	Improvements    []string `json:"improvements"`
	Summary         string   `json:"summary"`
}

// ProficiencyTier classifies an English ratio. Thresholds are evaluated top
// down and are inclusive at each tier's lower bound.
func ProficiencyTier(ratio float64) Tier {
	switch {
	case ratio >= strongThreshold:
		return TierStrong
	case ratio >= goodThreshold:
		return TierGood
	case ratio >= needsThreshold:
		return TierNeedsImprovement
	default:
		return TierWeak
	}
}

// Score computes the report for s.
//
// Duration is measured to the session's end time. If s was taken from a
// session that has not been ended, duration is measured to now instead, so a
// live session can be previewed without ending it.
func Score(s session.Snapshot, now time.Time) Report {
	switches := len(s.LanguageSwitches)

	var studentTurns, english int
	for _, e := range s.Transcript {
		if e.Role != session.RoleStudent {
			continue
		}
		studentTurns++
		if e.Language == session.LanguageEnglish {
			english++
		}
	}

	var ratio float64
	if studentTurns > 0 {
		ratio = float64(english) / float64(studentTurns)
	}
	tier := ProficiencyTier(ratio)

	helped := distinctQuestions(s.LanguageSwitches)

	improvements := make([]string, 0, 3)
	if switches > 0 {
		labels := make([]string, len(helped))
		for i, id := range helped {
			labels[i] = interview.CategoryLabel(id)
		}
		improvements = append(improvements, fmt.Sprintf(
			"You needed Hindi help on %d occasion(s). Practice answering questions about: %s",
			switches, strings.Join(labels, ", ")))
	}
	if s.HindiTurns > 0 {
		improvements = append(improvements, fmt.Sprintf(
			"You answered %d question(s) in Hindi. Try to answer fully in English during the real interview.",
			s.HindiTurns))
	}
	if studentTurns < minResponses {
		improvements = append(improvements,
			"You gave very few responses. Practice giving detailed answers.")
	}

	duration := s.DurationMinutes(now)
	return Report{
		SessionID:       s.ID,
		DurationMinutes: duration,
		StudentTurns:    studentTurns,
		Proficiency:     tier,
		EnglishRatio:    math.Round(ratio*100) / 100,
		Switches:        switches,
		QuestionsHelped: helped,
		HindiResponses:  s.HindiTurns,
		Improvements:    improvements,
		Summary:         summary(duration, tier, switches, improvements),
	}
}

// distinctQuestions returns the question ids in switches, deduplicated and in
// order of first appearance.
func distinctQuestions(switches []session.LanguageSwitch) []int {
	seen := make(map[int]bool, len(switches))
	out := make([]int, 0, len(switches))
	for _, sw := range switches {
		if seen[sw.QuestionID] {
			continue
		}
		seen[sw.QuestionID] = true
		out = append(out, sw.QuestionID)
	}
	return out
}

func summary(duration float64, tier Tier, switches int, improvements []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Interview Duration: %s minutes\n", formatMinutes(duration))
	fmt.Fprintf(&b, "English Proficiency: %s\n", tier)
	fmt.Fprintf(&b, "Hindi Assistance Needed: %d time(s)\n", switches)
	b.WriteString("\n")
	b.WriteString("Areas for Improvement:\n")
	if len(improvements) == 0 {
		b.WriteString("  Great job! No major areas to improve.\n")
	}
	for _, imp := range improvements {
		b.WriteString("  - " + imp + "\n")
	}
	b.WriteString("\n")
	b.WriteString("Keep practicing - each session will help you feel more confident!")
	return b.String()
}

// formatMinutes renders a one-decimal duration, always with the decimal.
func formatMinutes(m float64) string {
	return fmt.Sprintf("%.1f", m)
}

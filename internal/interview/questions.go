// Package interview holds the mock visa interview script: the fixed question
// bank with Hindi hints and follow-ups, and the system prompt that configures
// the remote officer persona.
package interview

// Category groups questions by the topic a visa officer is probing.
type Category string

const (
	CategoryStudyPlans         Category = "study_plans"
	CategoryFinancial          Category = "financial"
	CategoryReturnIntent       Category = "return_intent"
	CategoryAcademic           Category = "academic"
	CategoryEnglishProficiency Category = "english_proficiency"
)

// Label returns the human-readable name used in feedback text.
func (c Category) Label() string {
	switch c {
	case CategoryStudyPlans:
		return "study plans"
	case CategoryFinancial:
		return "financial capability"
	case CategoryReturnIntent:
		return "return intent"
	case CategoryAcademic:
		return "academic background"
	case CategoryEnglishProficiency:
		return "English proficiency"
	}
	return "general"
}

// Question is one interview question.
type Question struct {
	ID        int      `json:"id"`
	English   string   `json:"question_en"`
	HindiHint string   `json:"hint_hi"`
	Category  Category `json:"category"`
	FollowUps []string `json:"follow_ups"`
}

var questions = []Question{
	{
		ID:        1,
		English:   "Why have you chosen to study in this country instead of studying in India?",
		HindiHint: "Aapne is desh mein padhne ka faisla kyun kiya? India mein kyun nahi padh rahe?",
		Category:  CategoryStudyPlans,
		FollowUps: []string{
			"What specific program have you been accepted into?",
			"How did you hear about this university?",
		},
	},
	{
		ID:        2,
		English:   "How will you fund your education and living expenses?",
		HindiHint: "Aap apni padhai aur rehne ka kharcha kaise uthayenge? Kaun pay karega?",
		Category:  CategoryFinancial,
		FollowUps: []string{
			"Do you have a scholarship or education loan?",
			"What is your family's annual income?",
		},
	},
	{
		ID:        3,
		English:   "What are your plans after completing your studies? Will you return to India?",
		HindiHint: "Padhai khatam hone ke baad aap kya karenge? Kya aap India wapas aayenge?",
		Category:  CategoryReturnIntent,
		FollowUps: []string{
			"Do you have any family ties in the destination country?",
			"What job opportunities exist for you back in India?",
		},
	},
	{
		ID:        4,
		English:   "Can you tell me about your academic background and how it relates to your chosen course?",
		HindiHint: "Apni padhai ke baare mein bataiye aur yeh course aapke liye kaise relevant hai?",
		Category:  CategoryAcademic,
		FollowUps: []string{
			"What was your percentage or GPA in your last qualification?",
			"Have you done any internships or projects in this field?",
		},
	},
	{
		ID:        5,
		English:   "Have you taken any English proficiency tests like IELTS or TOEFL? What was your score?",
		HindiHint: "Kya aapne IELTS ya TOEFL diya hai? Kitne marks aaye the?",
		Category:  CategoryEnglishProficiency,
		FollowUps: []string{
			"Which section did you find most challenging?",
			"How long have you been preparing for this interview?",
		},
	},
}

// Questions returns the question bank in interview order. The returned slice
// is a copy.
func Questions() []Question {
	out := make([]Question, len(questions))
	for i, q := range questions {
		q.FollowUps = append([]string(nil), q.FollowUps...)
		out[i] = q
	}
	return out
}

// QuestionByID returns the question with the given id.
func QuestionByID(id int) (Question, bool) {
	for _, q := range Questions() {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// QuestionsByCategory returns every question in category c.
func QuestionsByCategory(c Category) []Question {
	var out []Question
	for _, q := range Questions() {
		if q.Category == c {
			out = append(out, q)
		}
	}
	return out
}

// CategoryLabel returns the feedback label for the question with the given
// id, or "general" for unknown ids.
func CategoryLabel(questionID int) string {
	q, ok := QuestionByID(questionID)
	if !ok {
		return Category("").Label()
	}
	return q.Category.Label()
}

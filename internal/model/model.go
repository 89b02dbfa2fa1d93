package model

import (
	"fmt"
	"time"
)

// QuestionKind selects which question variant a quiz carries.
type QuestionKind string

const (
	// KindMultipleChoice is a single-choice question with four options.
	KindMultipleChoice QuestionKind = "multiple_choice"
	// KindShortAnswer is a free-text question graded against a rubric.
	KindShortAnswer QuestionKind = "short_answer"
)

// ParseQuestionKind accepts the canonical names plus the short forms used by the UI.
func ParseQuestionKind(s string) (QuestionKind, error) {
	switch s {
	case string(KindMultipleChoice), "mcq", "multiple-choice":
		return KindMultipleChoice, nil
	case string(KindShortAnswer), "short", "short-answer":
		return KindShortAnswer, nil
	}
	return "", fmt.Errorf("unknown question kind %q", s)
}

// Task is a unit of upcoming coursework. DaysLeft is derived at aggregation time.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	DueAt       time.Time `json:"due_at"`
	GroupID     string    `json:"group_id"`
	DaysLeft    int       `json:"days_left"`
}

// RawTask is a task record as returned by a task provider. Due is either an
// ISO-8601 string or a numeric epoch (seconds or milliseconds).
type RawTask struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Due         any    `json:"due"`
	GroupID     string `json:"group_id"`
}

// Resource is a study resource supplied by the resource provider.
type Resource struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Topic       string    `json:"topic,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"`
}

// QuizRequest holds everything needed to generate one quiz.
type QuizRequest struct {
	Topic        string
	Description  string
	Kind         QuestionKind
	ExtraContext string
}

// MultipleChoiceQuestion has exactly four options and a 0-based correct index.
type MultipleChoiceQuestion struct {
	ID                 int      `json:"id"`
	Prompt             string   `json:"prompt"`
	Options            []string `json:"options"`
	CorrectOptionIndex int      `json:"correct_option_index"`
	Explanation        string   `json:"explanation"`
}

// ShortAnswerQuestion is graded remotely against its marking criteria.
type ShortAnswerQuestion struct {
	ID              int      `json:"id"`
	Prompt          string   `json:"prompt"`
	Marks           int      `json:"marks"`
	SampleAnswer    string   `json:"sample_answer"`
	MarkingCriteria []string `json:"marking_criteria"`
}

// Quiz is homogeneous: exactly one of the question slices is populated,
// matching Kind. Use NewMultipleChoiceQuiz or NewShortAnswerQuiz.
type Quiz struct {
	Kind           QuestionKind             `json:"kind"`
	MultipleChoice []MultipleChoiceQuestion `json:"multiple_choice,omitempty"`
	ShortAnswer    []ShortAnswerQuestion    `json:"short_answer,omitempty"`
}

// NewMultipleChoiceQuiz builds a multiple-choice quiz.
func NewMultipleChoiceQuiz(qs []MultipleChoiceQuestion) *Quiz {
	return &Quiz{Kind: KindMultipleChoice, MultipleChoice: qs}
}

// NewShortAnswerQuiz builds a short-answer quiz.
func NewShortAnswerQuiz(qs []ShortAnswerQuestion) *Quiz {
	return &Quiz{Kind: KindShortAnswer, ShortAnswer: qs}
}

// Len returns the number of questions.
func (q *Quiz) Len() int {
	switch q.Kind {
	case KindMultipleChoice:
		return len(q.MultipleChoice)
	case KindShortAnswer:
		return len(q.ShortAnswer)
	}
	return 0
}

// QuestionIDs returns the question ids in quiz order.
func (q *Quiz) QuestionIDs() []int {
	ids := make([]int, 0, q.Len())
	switch q.Kind {
	case KindMultipleChoice:
		for _, mc := range q.MultipleChoice {
			ids = append(ids, mc.ID)
		}
	case KindShortAnswer:
		for _, sa := range q.ShortAnswer {
			ids = append(ids, sa.ID)
		}
	}
	return ids
}

// Answer is a student's response. Choice is meaningful for multiple-choice
// questions, Text for short-answer ones.
type Answer struct {
	Choice int    `json:"choice"`
	Text   string `json:"text,omitempty"`
}

// AnswerSet maps question id to response. A missing key means unanswered.
type AnswerSet map[int]Answer

// Clone returns an independent copy.
func (a AnswerSet) Clone() AnswerSet {
	out := make(AnswerSet, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// NoChoice marks an unanswered multiple-choice question in a report.
const NoChoice = -1

// MultipleChoiceResult is the outcome of one multiple-choice question.
type MultipleChoiceResult struct {
	QuestionID   int    `json:"question_id"`
	IsCorrect    bool   `json:"is_correct"`
	ChosenIndex  int    `json:"chosen_index"`
	CorrectIndex int    `json:"correct_index"`
	Explanation  string `json:"explanation"`
}

// MultipleChoiceReport is derived locally from a quiz and an answer set.
type MultipleChoiceReport struct {
	CorrectCount int                    `json:"correct_count"`
	TotalCount   int                    `json:"total_count"`
	Percentage   int                    `json:"percentage"`
	PerQuestion  []MultipleChoiceResult `json:"per_question"`
}

// ShortAnswerResult is the remote grader's verdict on one question.
type ShortAnswerResult struct {
	QuestionID   int    `json:"question_id"`
	MarksAwarded int    `json:"marks_awarded"`
	TotalMarks   int    `json:"total_marks"`
	Feedback     string `json:"feedback"`
}

// ShortAnswerReport is sourced from the remote grading call.
type ShortAnswerReport struct {
	PerQuestion     []ShortAnswerResult `json:"per_question"`
	TotalScore      int                 `json:"total_score"`
	TotalPossible   int                 `json:"total_possible"`
	OverallFeedback string              `json:"overall_feedback"`
}

// GradeReport carries exactly one variant, matching Kind.
type GradeReport struct {
	Kind           QuestionKind          `json:"kind"`
	MultipleChoice *MultipleChoiceReport `json:"multiple_choice,omitempty"`
	ShortAnswer    *ShortAnswerReport    `json:"short_answer,omitempty"`
}

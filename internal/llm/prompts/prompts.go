package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/syedsabbir-git/ClassSync-sub001/internal/model"
)

// Shape of generated quizzes.
const (
	MultipleChoiceCount = 15
	OptionCount         = 4
	ShortAnswerCount    = 3
	ShortAnswerMarks    = 5
)

// NoAnswer replaces blank student answers in grading prompts.
const NoAnswer = "[No answer provided]"

const maxInputRunes = 10000

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	studentContextRegex     = regexp.MustCompile(`(?i)</?\s*student-context\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

//go:embed templates/*.txt
var templateFS embed.FS

var templates = template.Must(
	template.New("prompts").
		Funcs(template.FuncMap{"inc": func(i int) int { return i + 1 }}).
		ParseFS(templateFS, "templates/*.txt"),
)

// QuizData holds template data for quiz generation prompts.
type QuizData struct {
	Topic        string
	Description  string
	ExtraContext string
	Count        int
	Options      int
	MaxIndex     int
	Marks        int
}

// GradeItem is one question of a grading prompt.
type GradeItem struct {
	ID              int
	Prompt          string
	Marks           int
	SampleAnswer    string
	MarkingCriteria []string
	Answer          string
}

// GradeData holds template data for the short-answer grading prompt.
type GradeData struct {
	Questions []GradeItem
	NoAnswer  string
}

// BuildQuizPrompt renders the generation prompt for the requested question kind.
func BuildQuizPrompt(req model.QuizRequest) (string, error) {
	data := QuizData{
		Topic:        strings.TrimSpace(req.Topic),
		Description:  strings.TrimSpace(req.Description),
		ExtraContext: sanitizeContext(req.ExtraContext),
	}

	var name string
	switch req.Kind {
	case model.KindMultipleChoice:
		name = "quiz_multiple_choice.txt"
		data.Count = MultipleChoiceCount
		data.Options = OptionCount
		data.MaxIndex = OptionCount - 1
	case model.KindShortAnswer:
		name = "quiz_short_answer.txt"
		data.Count = ShortAnswerCount
		data.Marks = ShortAnswerMarks
	default:
		return "", fmt.Errorf("unsupported question kind %q", req.Kind)
	}

	return execute(name, data)
}

// BuildGradePrompt renders the rubric-grounded grading prompt for a short-answer quiz.
func BuildGradePrompt(questions []model.ShortAnswerQuestion, answers model.AnswerSet) (string, error) {
	data := GradeData{NoAnswer: NoAnswer}
	for _, q := range questions {
		data.Questions = append(data.Questions, GradeItem{
			ID:              q.ID,
			Prompt:          q.Prompt,
			Marks:           q.Marks,
			SampleAnswer:    q.SampleAnswer,
			MarkingCriteria: q.MarkingCriteria,
			Answer:          sanitizeAnswer(answers[q.ID].Text),
		})
	}
	return execute("grade_short_answer.txt", data)
}

func execute(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// IsBlank reports whether an answer counts as not provided.
func IsBlank(answer string) bool {
	return stripTags(answer) == ""
}

func stripTags(s string) string {
	s = studentAnswerRegex.ReplaceAllString(s, "")
	s = studentContextRegex.ReplaceAllString(s, "")
	s = systemInstructionsRegex.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func truncate(s, note string) string {
	if utf8.RuneCountInString(s) <= maxInputRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxInputRunes]) + "\n\n" + note
}

func sanitizeAnswer(answer string) string {
	answer = stripTags(answer)
	if answer == "" {
		return NoAnswer
	}
	return truncate(answer, "[Answer truncated due to length]")
}

func sanitizeContext(extra string) string {
	return truncate(stripTags(extra), "[Context truncated due to length]")
}

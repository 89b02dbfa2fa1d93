package llm

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/syedsabbir-git/ClassSync-sub001/internal/llm/prompts"
	"github.com/syedsabbir-git/ClassSync-sub001/internal/model"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names, which is what the model was asked to produce.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Whitespace-only text is as useless to a student as missing text.
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	return v
}

// Wire shapes pinned by the prompt templates.

type multipleChoicePayload struct {
	Questions []multipleChoiceItem `json:"questions" validate:"len=15,unique=ID,dive"`
}

type multipleChoiceItem struct {
	ID            int      `json:"id" validate:"gt=0"`
	Question      string   `json:"question" validate:"notblank"`
	Options       []string `json:"options" validate:"len=4,dive,notblank"`
	CorrectAnswer *int     `json:"correctAnswer" validate:"required,min=0,max=3"`
	Explanation   string   `json:"explanation" validate:"notblank"`
}

type shortAnswerPayload struct {
	Questions []shortAnswerItem `json:"questions" validate:"len=3,unique=ID,dive"`
}

type shortAnswerItem struct {
	ID              int      `json:"id" validate:"gt=0"`
	Question        string   `json:"question" validate:"notblank"`
	Marks           int      `json:"marks" validate:"eq=5"`
	SampleAnswer    string   `json:"sampleAnswer" validate:"notblank"`
	MarkingCriteria []string `json:"markingCriteria" validate:"len=5,unique,dive,notblank"`
}

type gradePayload struct {
	Results         []gradeItem `json:"results" validate:"min=1,unique=QuestionID,dive"`
	TotalScore      *int        `json:"totalScore" validate:"required"`
	TotalPossible   *int        `json:"totalPossible" validate:"required"`
	OverallFeedback string      `json:"overallFeedback"`
}

type gradeItem struct {
	QuestionID   int    `json:"questionId" validate:"gt=0"`
	MarksAwarded *int   `json:"marksAwarded" validate:"required,min=0"`
	TotalMarks   int    `json:"totalMarks" validate:"gt=0"`
	Feedback     string `json:"feedback"`
}

func checkShape(op string, payload any) error {
	if err := validate.Struct(payload); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return contractViolation(op, errors.New(strings.Join(msgs, "; ")))
		}
		return contractViolation(op, err)
	}
	return nil
}

// decodeQuiz parses raw model text into a quiz of the requested kind.
func decodeQuiz(kind model.QuestionKind, raw string) (*model.Quiz, error) {
	const op = "generate quiz"
	switch kind {
	case model.KindMultipleChoice:
		p, err := ParseModelJSON[multipleChoicePayload](raw)
		if err != nil {
			return nil, err
		}
		if err := checkShape(op, p); err != nil {
			return nil, err
		}
		qs := make([]model.MultipleChoiceQuestion, 0, len(p.Questions))
		for _, it := range p.Questions {
			qs = append(qs, model.MultipleChoiceQuestion{
				ID:                 it.ID,
				Prompt:             it.Question,
				Options:            it.Options,
				CorrectOptionIndex: *it.CorrectAnswer,
				Explanation:        it.Explanation,
			})
		}
		return model.NewMultipleChoiceQuiz(qs), nil

	case model.KindShortAnswer:
		p, err := ParseModelJSON[shortAnswerPayload](raw)
		if err != nil {
			return nil, err
		}
		if err := checkShape(op, p); err != nil {
			return nil, err
		}
		qs := make([]model.ShortAnswerQuestion, 0, len(p.Questions))
		for _, it := range p.Questions {
			qs = append(qs, model.ShortAnswerQuestion{
				ID:              it.ID,
				Prompt:          it.Question,
				Marks:           it.Marks,
				SampleAnswer:    it.SampleAnswer,
				MarkingCriteria: it.MarkingCriteria,
			})
		}
		return model.NewShortAnswerQuiz(qs), nil
	}
	return nil, &Error{Kind: KindConfiguration, Op: op, Err: fmt.Errorf("unsupported question kind %q", kind)}
}

// decodeGrade parses raw grading output and reconciles it with the quiz.
// Every question must have exactly one result with the question's marks as
// totalMarks and marksAwarded within bounds. Blank answers are held at zero.
// Totals are the sums of the per-question values.
func decodeGrade(questions []model.ShortAnswerQuestion, answers model.AnswerSet, raw string) (*model.ShortAnswerReport, error) {
	const op = "grade short answers"
	p, err := ParseModelJSON[gradePayload](raw)
	if err != nil {
		return nil, err
	}
	if err := checkShape(op, p); err != nil {
		return nil, err
	}
	if len(p.Results) != len(questions) {
		return nil, contractViolation(op, fmt.Errorf("got %d results for %d questions", len(p.Results), len(questions)))
	}

	byID := make(map[int]gradeItem, len(p.Results))
	for _, r := range p.Results {
		byID[r.QuestionID] = r
	}

	report := &model.ShortAnswerReport{OverallFeedback: p.OverallFeedback}
	for _, q := range questions {
		r, ok := byID[q.ID]
		if !ok {
			return nil, contractViolation(op, fmt.Errorf("no result for question %d", q.ID))
		}
		if r.TotalMarks != q.Marks {
			return nil, contractViolation(op, fmt.Errorf("question %d: totalMarks %d, want %d", q.ID, r.TotalMarks, q.Marks))
		}
		awarded := *r.MarksAwarded
		if awarded > r.TotalMarks {
			return nil, contractViolation(op, fmt.Errorf("question %d: marksAwarded %d exceeds totalMarks %d", q.ID, awarded, r.TotalMarks))
		}
		if awarded > 0 && prompts.IsBlank(answers[q.ID].Text) {
			slog.Warn("grader awarded marks to a blank answer, holding at zero",
				"question_id", q.ID, "marks_awarded", awarded)
			awarded = 0
		}
		report.PerQuestion = append(report.PerQuestion, model.ShortAnswerResult{
			QuestionID:   q.ID,
			MarksAwarded: awarded,
			TotalMarks:   r.TotalMarks,
			Feedback:     r.Feedback,
		})
		report.TotalScore += awarded
		report.TotalPossible += r.TotalMarks
	}

	if *p.TotalScore != report.TotalScore || *p.TotalPossible != report.TotalPossible {
		slog.Debug("grader totals differ from per-question sums",
			"reported_score", *p.TotalScore, "reported_possible", *p.TotalPossible,
			"score", report.TotalScore, "possible", report.TotalPossible)
	}
	return report, nil
}

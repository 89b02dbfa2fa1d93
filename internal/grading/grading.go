// Package grading scores a submitted attempt. Multiple-choice quizzes are
// graded locally; short-answer quizzes go to a remote rubric grader.
package grading

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/syedsabbir-git/ClassSync-sub001/internal/model"
)

// ShortAnswerGrader grades free-text answers against each question's criteria.
type ShortAnswerGrader interface {
	GradeShortAnswers(ctx context.Context, questions []model.ShortAnswerQuestion, answers model.AnswerSet) (*model.ShortAnswerReport, error)
}

// ErrNoQuiz is returned when grading is asked for a nil quiz.
var ErrNoQuiz = errors.New("no quiz to grade")

// Engine picks the grading strategy from the quiz kind.
type Engine struct {
	grader ShortAnswerGrader
}

// NewEngine creates an engine. grader may be nil if only multiple-choice quizzes are graded.
func NewEngine(grader ShortAnswerGrader) *Engine {
	return &Engine{grader: grader}
}

// Grade scores answers against quiz. Only the short-answer path makes a remote call.
func (e *Engine) Grade(ctx context.Context, quiz *model.Quiz, answers model.AnswerSet) (*model.GradeReport, error) {
	if quiz == nil {
		return nil, ErrNoQuiz
	}
	switch quiz.Kind {
	case model.KindMultipleChoice:
		return &model.GradeReport{
			Kind:           model.KindMultipleChoice,
			MultipleChoice: GradeMultipleChoice(quiz.MultipleChoice, answers),
		}, nil
	case model.KindShortAnswer:
		if e.grader == nil {
			return nil, errors.New("short-answer grader is not configured")
		}
		report, err := e.grader.GradeShortAnswers(ctx, quiz.ShortAnswer, answers)
		if err != nil {
			return nil, err
		}
		return &model.GradeReport{Kind: model.KindShortAnswer, ShortAnswer: report}, nil
	}
	return nil, fmt.Errorf("unsupported question kind %q", quiz.Kind)
}

// GradeMultipleChoice compares each chosen index with the correct one.
// Unanswered questions count as incorrect with ChosenIndex set to NoChoice.
func GradeMultipleChoice(questions []model.MultipleChoiceQuestion, answers model.AnswerSet) *model.MultipleChoiceReport {
	report := &model.MultipleChoiceReport{
		TotalCount:  len(questions),
		PerQuestion: make([]model.MultipleChoiceResult, 0, len(questions)),
	}
	for _, q := range questions {
		chosen := model.NoChoice
		if a, ok := answers[q.ID]; ok {
			chosen = a.Choice
		}
		correct := chosen == q.CorrectOptionIndex
		if correct {
			report.CorrectCount++
		}
		report.PerQuestion = append(report.PerQuestion, model.MultipleChoiceResult{
			QuestionID:   q.ID,
			IsCorrect:    correct,
			ChosenIndex:  chosen,
			CorrectIndex: q.CorrectOptionIndex,
			Explanation:  q.Explanation,
		})
	}
	report.Percentage = Percentage(report.CorrectCount, report.TotalCount)
	return report
}

// Percentage rounds correct/total*100 half away from zero. Zero total yields zero.
func Percentage(correct, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(correct) / float64(total) * 100))
}

package handler

import (
	"context"

	appI18n "github.com/syedsabbir-git/ClassSync-sub001/internal/i18n"
	"github.com/syedsabbir-git/ClassSync-sub001/internal/model"
	"github.com/syedsabbir-git/ClassSync-sub001/internal/quiz"
)

type taskView struct {
	model.Task
	DueLabel string `json:"due_label"`
}

func newTaskView(ctx context.Context, t model.Task) taskView {
	return taskView{Task: t, DueLabel: appI18n.Tp(ctx, "DueInDays", t.DaysLeft)}
}

type tasksResponse struct {
	Tasks    []taskView            `json:"tasks"`
	Failures []model.SourceFailure `json:"failures"`
}

// questionView is what the student sees while answering. Correct options,
// sample answers and marking criteria stay on the server.
type questionView struct {
	ID      int      `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options,omitempty"`
	Marks   int      `json:"marks,omitempty"`
}

type quizView struct {
	State        quiz.State         `json:"state"`
	Task         *taskView          `json:"task,omitempty"`
	Kind         model.QuestionKind `json:"kind,omitempty"`
	ExtraContext string             `json:"extra_context,omitempty"`
	Questions    []questionView     `json:"questions"`
	Answers      model.AnswerSet    `json:"answers"`
	Report       *model.GradeReport `json:"report,omitempty"`
	Summary      string             `json:"summary,omitempty"`
	Related      []model.Resource   `json:"related_resources"`
	Grading      bool               `json:"grading"`
	Error        *errorBody         `json:"last_error,omitempty"`
}

func newQuizView(ctx context.Context, s quiz.Snapshot) quizView {
	v := quizView{
		State:        s.State,
		Kind:         s.Kind,
		ExtraContext: s.ExtraContext,
		Questions:    questionViews(s.Quiz),
		Answers:      s.Answers,
		Report:       s.Report,
		Summary:      summary(ctx, s.Report),
		Related:      s.Related,
		Grading:      s.Grading,
	}
	if s.Task != nil {
		tv := newTaskView(ctx, *s.Task)
		v.Task = &tv
	}
	if s.Err != nil {
		_, body := classify(s.Err)
		body.Message = appI18n.T(ctx, body.messageID)
		v.Error = &body
	}
	return v
}

func questionViews(q *model.Quiz) []questionView {
	out := []questionView{}
	if q == nil {
		return out
	}
	switch q.Kind {
	case model.KindMultipleChoice:
		for _, mc := range q.MultipleChoice {
			out = append(out, questionView{ID: mc.ID, Prompt: mc.Prompt, Options: mc.Options})
		}
	case model.KindShortAnswer:
		for _, sa := range q.ShortAnswer {
			out = append(out, questionView{ID: sa.ID, Prompt: sa.Prompt, Marks: sa.Marks})
		}
	}
	return out
}

func summary(ctx context.Context, r *model.GradeReport) string {
	if r == nil {
		return ""
	}
	switch r.Kind {
	case model.KindMultipleChoice:
		if r.MultipleChoice == nil {
			return ""
		}
		return appI18n.Td(ctx, "QuizPercentage", map[string]any{
			"Correct":    r.MultipleChoice.CorrectCount,
			"Total":      r.MultipleChoice.TotalCount,
			"Percentage": r.MultipleChoice.Percentage,
		})
	case model.KindShortAnswer:
		if r.ShortAnswer == nil {
			return ""
		}
		return appI18n.Td(ctx, "QuizScore", map[string]any{
			"Score": r.ShortAnswer.TotalScore,
			"Total": r.ShortAnswer.TotalPossible,
		})
	}
	return ""
}

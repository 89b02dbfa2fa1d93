package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/syedsabbir-git/ClassSync-sub001/internal/grading"
	"github.com/syedsabbir-git/ClassSync-sub001/internal/llm"
	"github.com/syedsabbir-git/ClassSync-sub001/internal/model"
)

func mcQuiz(n int) *model.Quiz {
	qs := make([]model.MultipleChoiceQuestion, n)
	for i := range qs {
		qs[i] = model.MultipleChoiceQuestion{
			ID:                 i + 1,
			Prompt:             fmt.Sprintf("Q%d", i+1),
			Options:            []string{"a", "b", "c", "d"},
			CorrectOptionIndex: i % 4,
			Explanation:        "e",
		}
	}
	return model.NewMultipleChoiceQuiz(qs)
}

func saQuiz() *model.Quiz {
	return model.NewShortAnswerQuiz([]model.ShortAnswerQuestion{
		{ID: 1, Prompt: "Define osmosis.", Marks: 5, SampleAnswer: "s", MarkingCriteria: []string{"c"}},
		{ID: 2, Prompt: "Define diffusion.", Marks: 5, SampleAnswer: "s", MarkingCriteria: []string{"c"}},
		{ID: 3, Prompt: "Define ATP.", Marks: 5, SampleAnswer: "s", MarkingCriteria: []string{"c"}},
	})
}

type fakeGen struct {
	quiz  *model.Quiz
	err   error
	calls int
	last  model.QuizRequest
}

func (f *fakeGen) GenerateQuiz(_ context.Context, req model.QuizRequest) (*model.Quiz, error) {
	f.calls++
	f.last = req
	return f.quiz, f.err
}

// blockingGen blocks until released or cancelled.
type blockingGen struct {
	started chan struct{}
	release chan struct{}
	quiz    *model.Quiz
}

func newBlockingGen(q *model.Quiz) *blockingGen {
	return &blockingGen{started: make(chan struct{}, 1), release: make(chan struct{}), quiz: q}
}

func (g *blockingGen) GenerateQuiz(ctx context.Context, _ model.QuizRequest) (*model.Quiz, error) {
	g.started <- struct{}{}
	select {
	case <-g.release:
		return g.quiz, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fakeGrader struct {
	report *model.GradeReport
	err    error
	calls  int
}

func (f *fakeGrader) Grade(_ context.Context, _ *model.Quiz, _ model.AnswerSet) (*model.GradeReport, error) {
	f.calls++
	return f.report, f.err
}

// blockingGrader returns report once released. With honorCancel it also
// returns early when its context is cancelled.
type blockingGrader struct {
	started     chan struct{}
	release     chan struct{}
	honorCancel bool
	report      *model.GradeReport
	ctxErr      chan error
}

func newBlockingGrader(report *model.GradeReport, honorCancel bool) *blockingGrader {
	return &blockingGrader{
		started:     make(chan struct{}, 1),
		release:     make(chan struct{}),
		honorCancel: honorCancel,
		report:      report,
		ctxErr:      make(chan error, 1),
	}
}

func (g *blockingGrader) Grade(ctx context.Context, _ *model.Quiz, _ model.AnswerSet) (*model.GradeReport, error) {
	g.started <- struct{}{}
	if g.honorCancel {
		select {
		case <-g.release:
		case <-ctx.Done():
			g.ctxErr <- ctx.Err()
			return nil, ctx.Err()
		}
	} else {
		<-g.release
	}
	g.ctxErr <- ctx.Err()
	return g.report, nil
}

type fakeResources struct {
	list []model.Resource
	err  error
}

func (f *fakeResources) ListResources(context.Context) ([]model.Resource, error) {
	return f.list, f.err
}

var biology = model.Task{ID: "t1", Title: "Photosynthesis", Description: "Lab report", GroupID: "A", DaysLeft: 2}

func activeMachine(t *testing.T, q *model.Quiz, grader Grader) *Machine {
	t.Helper()
	m := New(&fakeGen{quiz: q}, grader, nil)
	if err := m.SelectTask(context.Background(), biology); err != nil {
		t.Fatalf("SelectTask: %v", err)
	}
	if err := m.Configure(q.Kind, ""); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := m.Generate(context.Background()); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return m
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for generator")
	}
}

func TestGenerateGuards(t *testing.T) {
	gen := &fakeGen{quiz: mcQuiz(15)}
	m := New(gen, nil, nil)

	if err := m.Generate(context.Background()); !errors.Is(err, ErrNoTask) {
		t.Errorf("without task: got %v, want ErrNoTask", err)
	}
	if err := m.SelectTask(context.Background(), biology); err != nil {
		t.Fatalf("SelectTask: %v", err)
	}
	if err := m.Generate(context.Background()); !errors.Is(err, ErrNoKind) {
		t.Errorf("without kind: got %v, want ErrNoKind", err)
	}
	if err := m.Configure("essay", ""); !errors.Is(err, ErrNoKind) {
		t.Errorf("unknown kind: got %v, want ErrNoKind", err)
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times", gen.calls)
	}
	if m.State() != StateIdle {
		t.Errorf("state = %s, want idle", m.State())
	}
}

func TestGenerateSuccess(t *testing.T) {
	gen := &fakeGen{quiz: mcQuiz(15)}
	m := New(gen, nil, nil)
	_ = m.SelectTask(context.Background(), biology)
	if err := m.Configure(model.KindMultipleChoice, "focus on chlorophyll"); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := m.Generate(context.Background()); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	snap := m.Snapshot()
	if snap.State != StateActive {
		t.Errorf("state = %s, want active", snap.State)
	}
	if snap.Quiz.Len() != 15 {
		t.Errorf("quiz has %d questions", snap.Quiz.Len())
	}
	if len(snap.Answers) != 0 {
		t.Errorf("answers not reset: %v", snap.Answers)
	}
	want := model.QuizRequest{Topic: "Photosynthesis", Description: "Lab report", Kind: model.KindMultipleChoice, ExtraContext: "focus on chlorophyll"}
	if gen.last != want {
		t.Errorf("request = %+v, want %+v", gen.last, want)
	}

	if err := m.Generate(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("generate while active: got %v", err)
	}
	if err := m.Configure(model.KindShortAnswer, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("configure while active: got %v", err)
	}
}

func TestGenerateWrongKindRejected(t *testing.T) {
	m := New(&fakeGen{quiz: saQuiz()}, nil, nil)
	_ = m.SelectTask(context.Background(), biology)
	_ = m.Configure(model.KindMultipleChoice, "")
	if err := m.Generate(context.Background()); err == nil {
		t.Fatal("expected error for mismatched quiz kind")
	}
	if snap := m.Snapshot(); snap.State != StateIdle || snap.Quiz != nil {
		t.Errorf("unexpected state %s with quiz %v", snap.State, snap.Quiz)
	}
}

func TestSecondGenerateIsBusy(t *testing.T) {
	gen := newBlockingGen(mcQuiz(15))
	m := New(gen, nil, nil)
	_ = m.SelectTask(context.Background(), biology)
	_ = m.Configure(model.KindMultipleChoice, "")

	done := make(chan error, 1)
	go func() { done <- m.Generate(context.Background()) }()
	waitFor(t, gen.started)

	if m.State() != StateGenerating {
		t.Fatalf("state = %s, want generating", m.State())
	}
	if err := m.Generate(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("second generate: got %v, want ErrBusy", err)
	}
	if err := m.Submit(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("submit while generating: got %v", err)
	}
	if m.State() != StateGenerating {
		t.Errorf("busy call changed state to %s", m.State())
	}

	close(gen.release)
	if err := <-done; err != nil {
		t.Fatalf("first generate: %v", err)
	}
	if m.State() != StateActive {
		t.Errorf("state = %s, want active", m.State())
	}
}

func TestGenerateFailurePreservesSetup(t *testing.T) {
	want := errors.New("service unavailable")
	m := New(&fakeGen{err: want}, nil, nil)
	_ = m.SelectTask(context.Background(), biology)
	_ = m.Configure(model.KindShortAnswer, "chapter 3")

	if err := m.Generate(context.Background()); !errors.Is(err, want) {
		t.Fatalf("Generate: got %v", err)
	}
	snap := m.Snapshot()
	if snap.State != StateIdle {
		t.Errorf("state = %s, want idle", snap.State)
	}
	if snap.Task == nil || snap.Task.ID != biology.ID {
		t.Error("task not preserved")
	}
	if snap.Kind != model.KindShortAnswer || snap.ExtraContext != "chapter 3" {
		t.Errorf("settings not preserved: %s %q", snap.Kind, snap.ExtraContext)
	}
	if !errors.Is(snap.Err, want) {
		t.Errorf("snapshot error = %v", snap.Err)
	}
}

func TestProseResponseIsContractViolation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{"role": "assistant", "content": "Photosynthesis converts light into chemical energy."},
			}},
		})
	}))
	defer srv.Close()

	cfg := llm.DefaultConfig()
	cfg.BaseURL = srv.URL + "/v1"
	cfg.APIKey = "k"
	m := New(llm.New(cfg), nil, nil)
	_ = m.SelectTask(context.Background(), biology)
	_ = m.Configure(model.KindMultipleChoice, "")

	err := m.Generate(context.Background())
	if !llm.IsKind(err, llm.KindContractViolation) {
		t.Fatalf("expected contract violation, got %v", err)
	}
	snap := m.Snapshot()
	if snap.State != StateIdle || snap.Task.ID != biology.ID || snap.Kind != model.KindMultipleChoice {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestMultipleChoiceScenario(t *testing.T) {
	m := activeMachine(t, mcQuiz(15), grading.NewEngine(nil))
	snap := m.Snapshot()
	for i, q := range snap.Quiz.MultipleChoice {
		if len(q.Options) != 4 {
			t.Fatalf("question %d has %d options", q.ID, len(q.Options))
		}
		choice := q.CorrectOptionIndex
		if i >= 10 {
			choice = (choice + 1) % 4
		}
		// Change the answer once to check it can be revised.
		if err := m.ChooseOption(q.ID, (choice+2)%4); err != nil {
			t.Fatalf("ChooseOption: %v", err)
		}
		if err := m.ChooseOption(q.ID, choice); err != nil {
			t.Fatalf("ChooseOption: %v", err)
		}
	}

	if err := m.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	snap = m.Snapshot()
	if snap.State != StateSubmitted {
		t.Fatalf("state = %s, want submitted", snap.State)
	}
	if got := snap.Report.MultipleChoice.Percentage; got != 67 {
		t.Errorf("percentage = %d, want 67", got)
	}
	if err := m.ChooseOption(1, 0); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("answer after submit: got %v", err)
	}
	if err := m.Generate(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("generate from submitted: got %v", err)
	}
}

func TestSubmitPartialAnswers(t *testing.T) {
	m := activeMachine(t, mcQuiz(4), grading.NewEngine(nil))
	_ = m.ChooseOption(1, 0)
	if err := m.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	r := m.Snapshot().Report.MultipleChoice
	if r.CorrectCount != 1 || r.TotalCount != 4 || r.Percentage != 25 {
		t.Errorf("unexpected report %+v", r)
	}
}

func TestAnswerValidation(t *testing.T) {
	m := activeMachine(t, mcQuiz(15), grading.NewEngine(nil))

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unknown question", m.ChooseOption(99, 0), ErrUnknownQuestion},
		{"negative option", m.ChooseOption(1, -1), ErrInvalidAnswer},
		{"option too large", m.ChooseOption(1, 4), ErrInvalidAnswer},
		{"text on mcq", m.WriteAnswer(1, "b"), ErrInvalidAnswer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("got %v, want %v", tt.err, tt.want)
			}
		})
	}
	if n := len(m.Snapshot().Answers); n != 0 {
		t.Errorf("rejected answers were recorded: %d", n)
	}

	idle := New(&fakeGen{}, nil, nil)
	if err := idle.ChooseOption(1, 0); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("answer while idle: got %v", err)
	}
}

func TestShortAnswerGradingFailureStaysActive(t *testing.T) {
	grader := &fakeGrader{err: &llm.Error{Kind: llm.KindContractViolation, Op: "grade", Err: errors.New("bad json")}}
	m := activeMachine(t, saQuiz(), grader)
	if err := m.WriteAnswer(1, "water moves across a membrane"); err != nil {
		t.Fatalf("WriteAnswer: %v", err)
	}

	err := m.Submit(context.Background())
	if !llm.IsKind(err, llm.KindContractViolation) {
		t.Fatalf("Submit: got %v", err)
	}
	snap := m.Snapshot()
	if snap.State != StateActive || snap.Report != nil {
		t.Errorf("state = %s report = %v, want active without report", snap.State, snap.Report)
	}
	if snap.Answers[1].Text != "water moves across a membrane" {
		t.Error("answers lost after failed grading")
	}

	grader.err = nil
	grader.report = &model.GradeReport{Kind: model.KindShortAnswer, ShortAnswer: &model.ShortAnswerReport{TotalScore: 4, TotalPossible: 15}}
	if err := m.Submit(context.Background()); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if m.State() != StateSubmitted {
		t.Errorf("state = %s, want submitted", m.State())
	}
}

func TestNewQuiz(t *testing.T) {
	m := activeMachine(t, mcQuiz(4), grading.NewEngine(nil))
	_ = m.ChooseOption(1, 0)
	_ = m.Submit(context.Background())

	if err := m.NewQuiz(); err != nil {
		t.Fatalf("NewQuiz: %v", err)
	}
	snap := m.Snapshot()
	if snap.State != StateIdle || snap.Quiz != nil || snap.Report != nil || len(snap.Answers) != 0 {
		t.Errorf("not fully cleared: %+v", snap)
	}
	if snap.Task == nil || snap.Kind != model.KindMultipleChoice {
		t.Error("task and kind should survive a new quiz")
	}
	if err := m.NewQuiz(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("NewQuiz from idle: got %v", err)
	}
}

func TestSelectTaskResetsFromAnyState(t *testing.T) {
	m := activeMachine(t, mcQuiz(4), grading.NewEngine(nil))
	_ = m.ChooseOption(1, 0)

	other := model.Task{ID: "t2", Title: "Algebra"}
	if err := m.SelectTask(context.Background(), other); err != nil {
		t.Fatalf("SelectTask: %v", err)
	}
	snap := m.Snapshot()
	if snap.State != StateIdle || snap.Quiz != nil || len(snap.Answers) != 0 || snap.Kind != "" {
		t.Errorf("task switch did not hard reset: %+v", snap)
	}
	if snap.Task.ID != "t2" {
		t.Errorf("task = %s, want t2", snap.Task.ID)
	}
}

func TestTaskSwitchDiscardsInFlightGeneration(t *testing.T) {
	gen := newBlockingGen(mcQuiz(15))
	m := New(gen, nil, nil)
	_ = m.SelectTask(context.Background(), biology)
	_ = m.Configure(model.KindMultipleChoice, "")

	done := make(chan error, 1)
	go func() { done <- m.Generate(context.Background()) }()
	waitFor(t, gen.started)

	other := model.Task{ID: "t2", Title: "Algebra"}
	if err := m.SelectTask(context.Background(), other); err != nil {
		t.Fatalf("SelectTask: %v", err)
	}
	if err := <-done; !errors.Is(err, ErrStale) {
		t.Fatalf("in-flight generate: got %v, want ErrStale", err)
	}
	snap := m.Snapshot()
	if snap.State != StateIdle || snap.Quiz != nil || snap.Task.ID != "t2" || snap.Err != nil {
		t.Errorf("stale result leaked into state: %+v", snap)
	}
}

func TestCloseCancelsInFlight(t *testing.T) {
	gen := newBlockingGen(mcQuiz(15))
	m := New(gen, nil, nil)
	_ = m.SelectTask(context.Background(), biology)
	_ = m.Configure(model.KindMultipleChoice, "")

	done := make(chan error, 1)
	go func() { done <- m.Generate(context.Background()) }()
	waitFor(t, gen.started)

	m.Close()
	if err := <-done; !errors.Is(err, ErrStale) {
		t.Fatalf("in-flight generate: got %v, want ErrStale", err)
	}
	if m.Snapshot().Quiz != nil {
		t.Error("quiz applied after close")
	}
	if err := m.SelectTask(context.Background(), biology); !errors.Is(err, ErrClosed) {
		t.Errorf("SelectTask after close: got %v", err)
	}
	m.Close()
}

func saReport() *model.GradeReport {
	return &model.GradeReport{Kind: model.KindShortAnswer, ShortAnswer: &model.ShortAnswerReport{TotalScore: 15, TotalPossible: 15}}
}

func TestTaskSwitchDiscardsInFlightGrading(t *testing.T) {
	grader := newBlockingGrader(saReport(), false)
	m := activeMachine(t, saQuiz(), grader)
	_ = m.WriteAnswer(1, "water moves across a membrane")

	done := make(chan error, 1)
	go func() { done <- m.Submit(context.Background()) }()
	waitFor(t, grader.started)
	if !m.Snapshot().Grading {
		t.Error("snapshot should report grading while the call is in flight")
	}

	other := model.Task{ID: "t2", Title: "Algebra"}
	if err := m.SelectTask(context.Background(), other); err != nil {
		t.Fatalf("SelectTask: %v", err)
	}
	close(grader.release)

	if err := <-done; !errors.Is(err, ErrStale) {
		t.Fatalf("in-flight submit: got %v, want ErrStale", err)
	}
	if err := <-grader.ctxErr; !errors.Is(err, context.Canceled) {
		t.Errorf("grading context: got %v, want canceled", err)
	}
	snap := m.Snapshot()
	if snap.State != StateIdle || snap.Report != nil || snap.Quiz != nil || snap.Grading || snap.Err != nil {
		t.Errorf("late report leaked into state: %+v", snap)
	}
	if snap.Task.ID != "t2" || len(snap.Answers) != 0 {
		t.Errorf("task = %s answers = %v, want t2 and none", snap.Task.ID, snap.Answers)
	}
	if err := m.Configure(model.KindShortAnswer, ""); err != nil {
		t.Errorf("Configure after discarded grading: %v", err)
	}
}

func TestCloseCancelsInFlightGrading(t *testing.T) {
	grader := newBlockingGrader(saReport(), true)
	m := activeMachine(t, saQuiz(), grader)

	done := make(chan error, 1)
	go func() { done <- m.Submit(context.Background()) }()
	waitFor(t, grader.started)

	m.Close()
	if err := <-done; !errors.Is(err, ErrStale) {
		t.Fatalf("in-flight submit: got %v, want ErrStale", err)
	}
	if err := <-grader.ctxErr; !errors.Is(err, context.Canceled) {
		t.Errorf("grading context: got %v, want canceled", err)
	}
	snap := m.Snapshot()
	if snap.Report != nil || snap.State == StateSubmitted {
		t.Errorf("report applied after close: %+v", snap)
	}
	if err := m.Submit(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after close: got %v", err)
	}
}

func TestSelectTaskMatchesResources(t *testing.T) {
	res := &fakeResources{list: []model.Resource{
		{ID: "r1", Title: "Photosynthesis notes"},
		{ID: "r2", Title: "Algebra drills"},
		{ID: "r3", Tags: []string{"photosynthesis"}},
	}}
	m := New(&fakeGen{}, nil, res)
	if err := m.SelectTask(context.Background(), biology); err != nil {
		t.Fatalf("SelectTask: %v", err)
	}
	related := m.Snapshot().Related
	if len(related) != 2 || related[0].ID != "r1" || related[1].ID != "r3" {
		t.Errorf("related = %+v", related)
	}

	res.err = errors.New("db down")
	if err := m.SelectTask(context.Background(), model.Task{ID: "t2", Title: "Algebra"}); err != nil {
		t.Fatalf("resource failure should not fail selection: %v", err)
	}
	if n := len(m.Snapshot().Related); n != 0 {
		t.Errorf("related should be empty after a failed fetch, got %d", n)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	m := activeMachine(t, mcQuiz(4), grading.NewEngine(nil))
	_ = m.ChooseOption(1, 2)
	snap := m.Snapshot()
	snap.Answers[1] = model.Answer{Choice: 0}
	snap.Task.Title = "changed"

	again := m.Snapshot()
	if again.Answers[1].Choice != 2 {
		t.Error("snapshot answers alias machine state")
	}
	if again.Task.Title != biology.Title {
		t.Error("snapshot task aliases machine state")
	}
}

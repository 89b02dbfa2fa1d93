// Package quiz holds the state machine that drives one practice quiz from
// setup through generation, answering and grading.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/syedsabbir-git/ClassSync-sub001/internal/metrics"
	"github.com/syedsabbir-git/ClassSync-sub001/internal/model"
	"github.com/syedsabbir-git/ClassSync-sub001/internal/resources"
)

// State is a lifecycle stage of a Machine.
type State string

const (
	StateIdle       State = "idle"
	StateGenerating State = "generating"
	StateActive     State = "active"
	StateSubmitted  State = "submitted"
)

var (
	ErrBusy              = errors.New("a call is already in flight")
	ErrNoTask            = errors.New("no task selected")
	ErrNoKind            = errors.New("no question kind chosen")
	ErrInvalidTransition = errors.New("action not allowed in the current state")
	ErrUnknownQuestion   = errors.New("unknown question")
	ErrInvalidAnswer     = errors.New("invalid answer")
	ErrStale             = errors.New("result discarded, the quiz changed while the call was in flight")
	ErrClosed            = errors.New("quiz is closed")
)

// Generator produces a quiz for a request.
type Generator interface {
	GenerateQuiz(ctx context.Context, req model.QuizRequest) (*model.Quiz, error)
}

// Grader scores an attempt.
type Grader interface {
	Grade(ctx context.Context, quiz *model.Quiz, answers model.AnswerSet) (*model.GradeReport, error)
}

// ResourceSource lists study resources, newest first.
type ResourceSource interface {
	ListResources(ctx context.Context) ([]model.Resource, error)
}

// Snapshot is a copy of the machine state. It never aliases the machine's
// answer set or resource list.
type Snapshot struct {
	State        State              `json:"state"`
	Task         *model.Task        `json:"task,omitempty"`
	Kind         model.QuestionKind `json:"kind,omitempty"`
	ExtraContext string             `json:"extra_context,omitempty"`
	Quiz         *model.Quiz        `json:"quiz,omitempty"`
	Answers      model.AnswerSet    `json:"answers"`
	Report       *model.GradeReport `json:"report,omitempty"`
	Related      []model.Resource   `json:"related_resources"`
	Grading      bool               `json:"grading"`
	Err          error              `json:"-"`
}

// Machine is safe for concurrent use. Generation and grading run without
// holding the lock; their results are applied only if no task switch, reset
// or close happened in the meantime.
type Machine struct {
	gen       Generator
	grader    Grader
	resources ResourceSource

	mu      sync.Mutex
	state   State
	task    *model.Task
	kind    model.QuestionKind
	extra   string
	quiz    *model.Quiz
	answers model.AnswerSet
	report  *model.GradeReport
	related []model.Resource
	lastErr error
	grading bool
	closed  bool

	// attempt identifies the current generation or grading call.
	attempt uint64
	// epoch identifies the current task selection.
	epoch  uint64
	cancel context.CancelFunc
}

// New creates an idle machine. res may be nil, in which case no related
// resources are offered.
func New(gen Generator, grader Grader, res ResourceSource) *Machine {
	return &Machine{
		gen:       gen,
		grader:    grader,
		resources: res,
		state:     StateIdle,
		answers:   model.AnswerSet{},
	}
}

// SelectTask makes task current and hard-resets everything else, from any
// state. An in-flight call is cancelled and its result discarded. Related
// resources are then fetched and matched against the task; a fetch failure
// is logged and leaves the list empty.
func (m *Machine) SelectTask(ctx context.Context, task model.Task) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.abortLocked()
	m.epoch++
	epoch := m.epoch
	m.task = &task
	m.kind = ""
	m.extra = ""
	m.related = nil
	m.resetAttemptLocked()
	m.setStateLocked(StateIdle)
	m.mu.Unlock()

	slog.Debug("task selected", "task_id", task.ID, "title", task.Title)
	if m.resources == nil {
		return nil
	}

	all, err := m.resources.ListResources(ctx)
	if err != nil {
		slog.Warn("could not load resources for task", "task_id", task.ID, "error", err)
		return nil
	}
	related := resources.Match(task, all)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		slog.Debug("discarding resources for a stale task", "task_id", task.ID)
		return nil
	}
	m.related = related
	return nil
}

// Configure chooses the question kind and optional extra context. Only
// allowed while Idle.
func (m *Machine) Configure(kind model.QuestionKind, extraContext string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.state != StateIdle {
		return fmt.Errorf("configure in state %s: %w", m.state, ErrInvalidTransition)
	}
	switch kind {
	case model.KindMultipleChoice, model.KindShortAnswer:
	default:
		return fmt.Errorf("%w: %q", ErrNoKind, kind)
	}
	m.kind = kind
	m.extra = extraContext
	return nil
}

// Generate requests a new quiz for the selected task. It blocks until the
// generator returns. A second call while one is in flight returns ErrBusy
// and changes nothing. On failure the machine returns to Idle with task and
// settings kept, and the error is both returned and recorded.
func (m *Machine) Generate(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	switch {
	case m.state == StateGenerating:
		m.mu.Unlock()
		return ErrBusy
	case m.state != StateIdle:
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("generate in state %s: %w", state, ErrInvalidTransition)
	case m.task == nil:
		m.mu.Unlock()
		return ErrNoTask
	case m.kind == "":
		m.mu.Unlock()
		return ErrNoKind
	}

	req := model.QuizRequest{
		Topic:        m.task.Title,
		Description:  m.task.Description,
		Kind:         m.kind,
		ExtraContext: m.extra,
	}
	callCtx, token := m.beginCallLocked(ctx)
	m.lastErr = nil
	m.setStateLocked(StateGenerating)
	m.mu.Unlock()

	quiz, err := m.gen.GenerateQuiz(callCtx, req)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.endCallLocked(token) {
		return ErrStale
	}
	if err == nil && (quiz == nil || quiz.Kind != req.Kind) {
		err = fmt.Errorf("generator returned a quiz that is not %s", req.Kind)
	}
	if err != nil {
		m.lastErr = err
		m.setStateLocked(StateIdle)
		slog.Warn("quiz generation failed", "task_id", m.task.ID, "kind", req.Kind, "error", err)
		return err
	}

	m.quiz = quiz
	m.answers = model.AnswerSet{}
	m.report = nil
	m.setStateLocked(StateActive)
	return nil
}

// ChooseOption records a multiple-choice answer. The choice can be changed
// any number of times while Active.
func (m *Machine) ChooseOption(questionID, option int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.answerableLocked(model.KindMultipleChoice); err != nil {
		return err
	}
	i := slices.IndexFunc(m.quiz.MultipleChoice, func(q model.MultipleChoiceQuestion) bool { return q.ID == questionID })
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrUnknownQuestion, questionID)
	}
	if option < 0 || option >= len(m.quiz.MultipleChoice[i].Options) {
		return fmt.Errorf("%w: option %d out of range", ErrInvalidAnswer, option)
	}
	m.answers[questionID] = model.Answer{Choice: option}
	return nil
}

// WriteAnswer records a short-answer response. Blank text is kept and
// graded as no answer.
func (m *Machine) WriteAnswer(questionID int, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.answerableLocked(model.KindShortAnswer); err != nil {
		return err
	}
	if !slices.ContainsFunc(m.quiz.ShortAnswer, func(q model.ShortAnswerQuestion) bool { return q.ID == questionID }) {
		return fmt.Errorf("%w: %d", ErrUnknownQuestion, questionID)
	}
	m.answers[questionID] = model.Answer{Choice: model.NoChoice, Text: text}
	return nil
}

// Submit grades the current answers, complete or not. While grading is in
// flight answers are frozen and a second Submit returns ErrBusy. If grading
// fails the machine stays Active with the error recorded so the student can
// resubmit.
func (m *Machine) Submit(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state != StateActive {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("submit in state %s: %w", state, ErrInvalidTransition)
	}
	if m.grading {
		m.mu.Unlock()
		return ErrBusy
	}

	quiz := m.quiz
	answers := m.answers.Clone()
	callCtx, token := m.beginCallLocked(ctx)
	m.grading = true
	m.lastErr = nil
	m.mu.Unlock()

	report, err := m.grader.Grade(callCtx, quiz, answers)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.endCallLocked(token) {
		return ErrStale
	}
	m.grading = false
	if err != nil {
		m.lastErr = err
		slog.Warn("grading failed", "kind", quiz.Kind, "error", err)
		return err
	}
	m.report = report
	m.setStateLocked(StateSubmitted)
	return nil
}

// NewQuiz discards the quiz, answers and report and returns to Idle. The
// selected task and setup choices are kept.
func (m *Machine) NewQuiz() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.grading {
		return ErrBusy
	}
	if m.state != StateSubmitted && m.state != StateActive {
		return fmt.Errorf("new quiz in state %s: %w", m.state, ErrInvalidTransition)
	}
	m.resetAttemptLocked()
	m.setStateLocked(StateIdle)
	return nil
}

// Close cancels any in-flight call and discards its eventual result. Every
// later action returns ErrClosed.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.abortLocked()
	m.epoch++
	m.closed = true
}

// Snapshot returns a consistent copy of the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		State:        m.state,
		Kind:         m.kind,
		ExtraContext: m.extra,
		Quiz:         m.quiz,
		Answers:      m.answers.Clone(),
		Report:       m.report,
		Related:      slices.Clone(m.related),
		Grading:      m.grading,
		Err:          m.lastErr,
	}
	if m.task != nil {
		t := *m.task
		s.Task = &t
	}
	if s.Related == nil {
		s.Related = []model.Resource{}
	}
	return s
}

// State returns the current lifecycle stage.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) answerableLocked(kind model.QuestionKind) error {
	if m.closed {
		return ErrClosed
	}
	if m.state != StateActive {
		return fmt.Errorf("answer in state %s: %w", m.state, ErrInvalidTransition)
	}
	if m.grading {
		return ErrBusy
	}
	if m.quiz.Kind != kind {
		return fmt.Errorf("%w: quiz is %s", ErrInvalidAnswer, m.quiz.Kind)
	}
	return nil
}

// beginCallLocked starts a cancellable call and returns its token.
func (m *Machine) beginCallLocked(ctx context.Context) (context.Context, uint64) {
	callCtx, cancel := context.WithCancel(ctx)
	m.attempt++
	m.cancel = cancel
	return callCtx, m.attempt
}

// endCallLocked releases the call's context and reports whether its result
// may still be applied.
func (m *Machine) endCallLocked(token uint64) bool {
	if token != m.attempt || m.closed {
		return false
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	return true
}

// abortLocked cancels the in-flight call, if any, and invalidates its token.
func (m *Machine) abortLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.attempt++
	m.grading = false
}

func (m *Machine) resetAttemptLocked() {
	m.quiz = nil
	m.answers = model.AnswerSet{}
	m.report = nil
	m.lastErr = nil
}

func (m *Machine) setStateLocked(to State) {
	if m.state == to {
		return
	}
	metrics.ObserveTransition(string(m.state), string(to))
	slog.Debug("quiz state changed", "from", m.state, "to", to)
	m.state = to
}

package handler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"

	appI18n "github.com/syedsabbir-git/ClassSync-sub001/internal/i18n"
	"github.com/syedsabbir-git/ClassSync-sub001/internal/model"
	"github.com/syedsabbir-git/ClassSync-sub001/internal/quiz"
	"github.com/syedsabbir-git/ClassSync-sub001/internal/tasks"
)

const (
	sessionName   = "classsync"
	sessionIDKey  = "machine_id"
	sessionMaxAge = 7 * 24 * 60 * 60
)

// TaskLookup finds a single task record by id.
type TaskLookup interface {
	GetTask(ctx context.Context, id string) (model.RawTask, error)
}

// Config holds the HTTP boundary settings.
type Config struct {
	// Groups are used by the task list when the request names none.
	Groups        []string
	SessionSecret []byte
	SecureCookies bool
	// IdleTTL is how long an unused quiz session is kept.
	IdleTTL time.Duration
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	tasks      TaskLookup
	aggregator *tasks.Aggregator
	machines   *registry
	cookies    *sessions.CookieStore
	config     Config
	now        func() time.Time
}

// New creates a new Handler.
func New(lookup TaskLookup, agg *tasks.Aggregator, factory MachineFactory, cfg Config) (*Handler, error) {
	if len(cfg.SessionSecret) < 32 {
		return nil, fmt.Errorf("session secret must be at least 32 bytes, got %d", len(cfg.SessionSecret))
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 2 * time.Hour
	}
	cookies := sessions.NewCookieStore(cfg.SessionSecret)
	cookies.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   sessionMaxAge,
		HttpOnly: true,
		Secure:   cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	return &Handler{
		tasks:      lookup,
		aggregator: agg,
		machines:   newRegistry(factory),
		cookies:    cookies,
		config:     cfg,
		now:        time.Now,
	}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Get("/api/tasks", h.handleTasks)
	r.Get("/api/quiz", h.handleQuiz)
	r.Post("/api/quiz/task", h.handleSelectTask)
	r.Post("/api/quiz/setup", h.handleSetup)
	r.Post("/api/quiz/generate", h.handleGenerate)
	r.Post("/api/quiz/answers", h.handleAnswer)
	r.Post("/api/quiz/submit", h.handleSubmit)
	r.Post("/api/quiz/new", h.handleNewQuiz)
}

// RunSweeper evicts idle quiz sessions until ctx is done, then closes all of them.
func (h *Handler) RunSweeper(ctx context.Context) {
	h.machines.runSweeper(ctx, h.config.IdleTTL/4, h.config.IdleTTL)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"app":    appI18n.T(r.Context(), "AppTitle"),
	})
}

func (h *Handler) handleTasks(w http.ResponseWriter, r *http.Request) {
	groups := r.URL.Query()["group"]
	if len(groups) == 0 {
		groups = h.config.Groups
	}

	res, err := h.aggregator.Aggregate(r.Context(), groups, h.now())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	views := make([]taskView, 0, len(res.Tasks))
	for _, t := range res.Tasks {
		views = append(views, newTaskView(r.Context(), t))
	}
	writeJSON(w, http.StatusOK, tasksResponse{Tasks: views, Failures: res.Failures})
}

func (h *Handler) handleQuiz(w http.ResponseWriter, r *http.Request) {
	m, err := h.machine(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSnapshot(w, r, m)
}

func (h *Handler) handleSelectTask(w http.ResponseWriter, r *http.Request) {
	var req selectTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	m, err := h.machine(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	raw, err := h.tasks.GetTask(r.Context(), req.TaskID)
	if errors.Is(err, sql.ErrNoRows) {
		h.writeError(w, r, errTaskNotFound)
		return
	}
	if err != nil {
		h.writeError(w, r, fmt.Errorf("get task %s: %w", req.TaskID, err))
		return
	}
	task, err := tasks.FromRaw(raw, h.now())
	if err != nil {
		h.writeError(w, r, fmt.Errorf("task %s: %w", req.TaskID, err))
		return
	}

	if err := m.SelectTask(r.Context(), task); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSnapshot(w, r, m)
}

func (h *Handler) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req setupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	kind, err := model.ParseQuestionKind(req.Kind)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", quiz.ErrNoKind, err))
		return
	}
	m, err := h.machine(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := m.Configure(kind, req.Context); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSnapshot(w, r, m)
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	m, err := h.machine(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := m.Generate(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSnapshot(w, r, m)
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	m, err := h.machine(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if req.Choice != nil {
		err = m.ChooseOption(req.QuestionID, *req.Choice)
	} else {
		err = m.WriteAnswer(req.QuestionID, *req.Text)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSnapshot(w, r, m)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	m, err := h.machine(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := m.Submit(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSnapshot(w, r, m)
}

func (h *Handler) handleNewQuiz(w http.ResponseWriter, r *http.Request) {
	m, err := h.machine(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := m.NewQuiz(); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSnapshot(w, r, m)
}

// machine returns the quiz machine bound to the request's session cookie,
// issuing a new session when the cookie is missing or invalid.
func (h *Handler) machine(w http.ResponseWriter, r *http.Request) (*quiz.Machine, error) {
	sess, err := h.cookies.Get(r, sessionName)
	if err != nil {
		// A cookie signed with another secret; start over with a fresh session.
		slog.Debug("discarding unreadable session cookie", "error", err)
	}
	id, _ := sess.Values[sessionIDKey].(string)
	if _, perr := uuid.Parse(id); perr != nil {
		id = uuid.NewString()
		sess.Values[sessionIDKey] = id
		if err := sess.Save(r, w); err != nil {
			return nil, fmt.Errorf("save session: %w", err)
		}
	}
	return h.machines.get(id), nil
}

func (h *Handler) writeSnapshot(w http.ResponseWriter, r *http.Request, m *quiz.Machine) {
	writeJSON(w, http.StatusOK, newQuizView(r.Context(), m.Snapshot()))
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		slog.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	body.Message = appI18n.T(r.Context(), body.messageID)
	writeJSON(w, status, body)
}

package handler

import (
	"errors"
	"net/http"

	"github.com/syedsabbir-git/ClassSync-sub001/internal/llm"
	"github.com/syedsabbir-git/ClassSync-sub001/internal/quiz"
	"github.com/syedsabbir-git/ClassSync-sub001/internal/tasks"
)

var (
	errTaskNotFound = errors.New("task not found")
	errBadRequest   = errors.New("bad request")
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code    string `json:"error"`
	Message string `json:"message"`

	messageID string
}

func newErrorBody(code, messageID string) errorBody {
	return errorBody{Code: code, messageID: messageID}
}

var quizErrors = []struct {
	err    error
	status int
	code   string
	msgID  string
}{
	{quiz.ErrBusy, http.StatusConflict, "busy", "ErrBusy"},
	{quiz.ErrInvalidTransition, http.StatusConflict, "invalid_transition", "ErrInvalidTransition"},
	{quiz.ErrStale, http.StatusConflict, "stale", "ErrStale"},
	{quiz.ErrClosed, http.StatusGone, "closed", "ErrClosed"},
	{quiz.ErrNoTask, http.StatusBadRequest, "no_task", "ErrNoTask"},
	{quiz.ErrNoKind, http.StatusBadRequest, "no_kind", "ErrNoKind"},
	{quiz.ErrUnknownQuestion, http.StatusBadRequest, "unknown_question", "ErrUnknownQuestion"},
	{quiz.ErrInvalidAnswer, http.StatusBadRequest, "invalid_answer", "ErrInvalidAnswer"},
	{tasks.ErrNoEligibleGroups, http.StatusUnprocessableEntity, "no_eligible_groups", "ErrNoEligibleGroups"},
	{errTaskNotFound, http.StatusNotFound, "task_not_found", "ErrTaskNotFound"},
	{errBadRequest, http.StatusBadRequest, "bad_request", "ErrBadRequest"},
}

// classify maps an error to its HTTP status and response body.
func classify(err error) (int, errorBody) {
	if kind, ok := llm.KindOf(err); ok {
		switch kind {
		case llm.KindConfiguration:
			return http.StatusInternalServerError, newErrorBody(string(kind), "ErrConfiguration")
		case llm.KindTransport:
			return http.StatusBadGateway, newErrorBody(string(kind), "ErrTransport")
		case llm.KindEmptyResponse:
			return http.StatusBadGateway, newErrorBody(string(kind), "ErrEmptyResponse")
		case llm.KindContractViolation:
			return http.StatusBadGateway, newErrorBody(string(kind), "ErrContractViolation")
		}
	}
	for _, qe := range quizErrors {
		if errors.Is(err, qe.err) {
			return qe.status, newErrorBody(qe.code, qe.msgID)
		}
	}
	return http.StatusInternalServerError, newErrorBody("internal", "ErrInternal")
}

// Package api serves the unauthenticated notification callback route.
//
// Notification clients cannot present a session, so the signed token in the
// link is the only authorization. GET and POST behave the same because
// clients differ in which verb their action buttons issue.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ecociel/remind/domain"
	"github.com/ecociel/remind/uc"
	"github.com/emicklei/go-restful/v3"
)

type Verifier interface {
	Verify(reminderID, token string) bool
}

type ReminderFinder interface {
	FindReminder(ctx context.Context, id string) (domain.Reminder, error)
}

// Response is the JSON body of every callback response.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Action  string `json:"action,omitempty"`
	Minutes int    `json:"minutes,omitempty"`
}

type CallbackHandler struct {
	tokens     Verifier
	reminders  ReminderFinder
	reschedule uc.RescheduleUseCase
	dismiss    uc.DismissUseCase
	logger     *slog.Logger
}

func NewCallbackHandler(tokens Verifier, reminders ReminderFinder, reschedule uc.RescheduleUseCase, dismiss uc.DismissUseCase, logger *slog.Logger) *CallbackHandler {
	return &CallbackHandler{
		tokens:     tokens,
		reminders:  reminders,
		reschedule: reschedule,
		dismiss:    dismiss,
		logger:     logger,
	}
}

func (h *CallbackHandler) WebService() *restful.WebService {
	ws := new(restful.WebService)
	ws.Path("/callback").Doc("snooze or complete a reminder from a notification")

	params := []*restful.Parameter{
		ws.QueryParameter("id", "reminder id").Required(true),
		ws.QueryParameter("token", "signed reminder token").Required(true),
		ws.QueryParameter("mins", "minutes to snooze"),
		ws.QueryParameter("done", `"true" to dismiss and complete the task`),
	}
	for _, rb := range []*restful.RouteBuilder{ws.GET("").To(h.handle), ws.POST("").To(h.handle)} {
		for _, p := range params {
			rb.Param(p)
		}
		ws.Route(rb.Writes(Response{}))
	}
	return ws
}

// param reads a query parameter, or a form field of a POST body.
func param(req *restful.Request, name string) string {
	if v := req.QueryParameter(name); v != "" {
		return v
	}
	if req.Request.Method == http.MethodPost {
		return req.Request.PostFormValue(name)
	}
	return ""
}

func (h *CallbackHandler) handle(req *restful.Request, resp *restful.Response) {
	ctx := req.Request.Context()
	id, token := param(req, "id"), param(req, "token")
	if id == "" || token == "" {
		writeError(resp, http.StatusBadRequest, "Missing id or token")
		return
	}
	if !h.tokens.Verify(id, token) {
		h.logger.Warn("callback with invalid token", "reminder_id", id, "remote_addr", req.Request.RemoteAddr)
		writeError(resp, http.StatusForbidden, "Invalid token")
		return
	}

	mins, done := param(req, "mins"), param(req, "done") == "true"
	if mins == "" && !done {
		writeError(resp, http.StatusBadRequest, "Missing action: provide mins or done=true")
		return
	}

	if _, err := h.reminders.FindReminder(ctx, id); err != nil {
		h.fail(resp, id, err)
		return
	}

	if done {
		if err := h.dismiss(ctx, id); err != nil {
			h.fail(resp, id, err)
			return
		}
		h.logger.Info("reminder dismissed from notification", "reminder_id", id)
		write(resp, http.StatusOK, Response{Success: true, Action: "done"})
		return
	}

	minutes, err := strconv.Atoi(mins)
	if err != nil || minutes <= 0 {
		writeError(resp, http.StatusBadRequest, "mins must be a positive integer")
		return
	}
	if _, err := h.reschedule(ctx, id, minutes); err != nil {
		h.fail(resp, id, err)
		return
	}
	write(resp, http.StatusOK, Response{Success: true, Action: "snoozed", Minutes: minutes})
}

func (h *CallbackHandler) fail(resp *restful.Response, id string, err error) {
	var validationErr *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(resp, http.StatusNotFound, "Reminder not found")
	case errors.As(err, &validationErr):
		writeError(resp, http.StatusBadRequest, validationErr.Error())
	default:
		h.logger.Error("callback failed", "reminder_id", id, "error", err)
		writeError(resp, http.StatusInternalServerError, "Internal error")
	}
}

func writeError(resp *restful.Response, status int, msg string) {
	write(resp, status, Response{Success: false, Error: msg})
}

func write(resp *restful.Response, status int, body Response) {
	writeJSON(resp, status, body)
}

func writeJSON(resp *restful.Response, status int, body any) {
	if err := resp.WriteHeaderAndJson(status, body, restful.MIME_JSON); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

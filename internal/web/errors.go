package web

// errors.go turns handler errors into responses. The technical error is
// logged with the request ID; the client gets core.MapError's message as
// JSON, or as an HTML fragment for HTMX requests.

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/catalogimport/internal/core"
)

// ErrorResponse is the JSON body of an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// requestError is a problem with the request itself rather than the import.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &requestError{msg: msg}
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrSessionNotFound), errors.Is(err, core.ErrRowNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrSessionBusy), errors.Is(err, core.ErrAlreadyCommitted):
		return http.StatusConflict
	case errors.Is(err, core.ErrMalformedInput),
		errors.Is(err, core.ErrMappingConflict),
		errors.Is(err, core.ErrReservedField),
		errors.Is(err, core.ErrUnknownField),
		errors.Is(err, core.ErrFieldNotMapped),
		errors.Is(err, core.ErrInvalidCommitOptions):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrTooManyStages):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// userMessage maps err for display. Request errors carry their own text.
func userMessage(err error) core.UserMessage {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return core.UserMessage{
			Message: reqErr.msg,
			Action:  "Check the request and try again",
			Code:    "REQ001",
		}
	}
	return core.MapError(err)
}

// respondError logs err and writes the mapped response.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := userMessage(err)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	if isHTMX(r) {
		renderErrorPartial(r.Context(), w, msg, status)
		return
	}
	respondErrorJSON(w, msg, status)
}

func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

func renderErrorPartial(ctx context.Context, w http.ResponseWriter, msg core.UserMessage, status int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := errorAlert(msg).Render(ctx, w); err != nil {
		slog.Error("render error partial", "error", err)
	}
}

// errorAlert renders a dismissable alert for HTMX swaps.
func errorAlert(msg core.UserMessage) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<div class="alert alert-error" role="alert" data-code="`)
		b.WriteString(templ.EscapeString(msg.Code))
		b.WriteString(`"><p class="alert-message">`)
		b.WriteString(templ.EscapeString(msg.Message))
		b.WriteString(`</p>`)
		if msg.Action != "" {
			b.WriteString(`<p class="alert-action">`)
			b.WriteString(templ.EscapeString(msg.Action))
			b.WriteString(`</p>`)
		}
		b.WriteString(`<span class="alert-code">`)
		b.WriteString(templ.EscapeString(msg.Code))
		b.WriteString(`</span></div>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

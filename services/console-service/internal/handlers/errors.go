package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/md-rashed-zaman/vetdesk/libs/httpx"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/backend"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/filter"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/mutation"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, backend.ErrValidation),
		errors.Is(err, filter.ErrPresetName),
		errors.Is(err, mutation.ErrUnsupportedBulkOp):
		return http.StatusUnprocessableEntity
	case errors.Is(err, backend.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, backend.ErrNotFound), errors.Is(err, filter.ErrPresetNotFound):
		return http.StatusNotFound
	case errors.Is(err, backend.ErrTransport), errors.Is(err, backend.ErrServer):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (h *ConsoleHandler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= 500 {
		h.logger.Error("console request failed", "path", r.URL.Path, "status", status, "err", err)
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	httpx.WriteError(w, r, status, msg)
}

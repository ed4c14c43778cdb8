package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/bus"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/cdp"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/coordinator"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/logger"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/registry"
)

type errorResponse struct {
	Message string `json:"message"`
}

var errorStatuses = []struct {
	err    error
	status int
}{
	{registry.ErrGroupNotFound, http.StatusNotFound},
	{registry.ErrGroupInactive, http.StatusConflict},
	{registry.ErrGroupActive, http.StatusConflict},
	{registry.ErrInvalidMode, http.StatusBadRequest},
	{registry.ErrTooFewTabs, http.StatusBadRequest},
	{coordinator.ErrBadPayload, http.StatusBadRequest},
	{coordinator.ErrTabNotConnected, http.StatusUnprocessableEntity},
	{cdp.ErrTabNotFound, http.StatusNotFound},
	{cdp.ErrRestrictedURL, http.StatusUnprocessableEntity},
	{bus.ErrUnreachable, http.StatusServiceUnavailable},
	{context.DeadlineExceeded, http.StatusGatewayTimeout},
}

func statusFor(err error) int {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Message: msg})
}

// fail maps err to a status code and writes it.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeError(w, status, err.Error())
}

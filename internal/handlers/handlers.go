// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jobportal/videocall/internal/call"
	"github.com/jobportal/videocall/internal/media"
	"github.com/jobportal/videocall/internal/service"
)

// CallService is what the control API drives, one session per application.
type CallService interface {
	StartCall(ctx context.Context, applicationID string) (call.Snapshot, error)
	EndCall(ctx context.Context, applicationID string) (call.Snapshot, error)
	RetryCall(ctx context.Context, applicationID string) (call.Snapshot, error)
	ToggleMute(ctx context.Context, applicationID string) (call.Snapshot, error)
	ToggleCamera(ctx context.Context, applicationID string) (call.Snapshot, error)
	ToggleScreenShare(ctx context.Context, applicationID string) (call.Snapshot, error)
	ReconnectSignaling(ctx context.Context, applicationID string) (call.Snapshot, error)
	Snapshot(applicationID string) (call.Snapshot, error)
}

type Handler struct {
	Service CallService
}

func NewHandler(svc CallService) *Handler {
	return &Handler{Service: svc}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, service.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, call.ErrReauthRequired):
		return http.StatusUnauthorized
	case errors.Is(err, call.ErrSessionClosed), errors.Is(err, call.ErrMediaNotReady):
		return http.StatusConflict
	case errors.Is(err, media.ErrPermissionDenied),
		errors.Is(err, media.ErrDeviceNotFound),
		errors.Is(err, media.ErrDeviceError):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("call request failed", "path", r.URL.Path, "error", err)
	} else {
		slog.Info("call request rejected", "path", r.URL.Path, "error", err)
	}

	resp := ErrorResponse{Error: err.Error()}
	if status != http.StatusNotFound && status != http.StatusConflict {
		resp.Message = call.UserMessage(err)
	}
	writeJSON(w, status, resp)
}

func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

func (h *Handler) GetCall(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Service.Snapshot(r.PathValue("applicationId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CallResponse{Call: snap})
}

type action func(ctx context.Context, applicationID string) (call.Snapshot, error)

// run adapts a service action to a POST route on a call.
func (h *Handler) run(fn action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		applicationID := r.PathValue("applicationId")
		if applicationID == "" {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing application id"})
			return
		}

		snap, err := fn(r.Context(), applicationID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, CallResponse{Call: snap})
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /heartbeat", h.Heartbeat)

	mux.HandleFunc("GET /api/v1/calls/{applicationId}", h.GetCall)
	mux.HandleFunc("POST /api/v1/calls/{applicationId}/start", h.run(h.Service.StartCall))
	mux.HandleFunc("POST /api/v1/calls/{applicationId}/end", h.run(h.Service.EndCall))
	mux.HandleFunc("POST /api/v1/calls/{applicationId}/retry", h.run(h.Service.RetryCall))
	mux.HandleFunc("POST /api/v1/calls/{applicationId}/mute", h.run(h.Service.ToggleMute))
	mux.HandleFunc("POST /api/v1/calls/{applicationId}/camera", h.run(h.Service.ToggleCamera))
	mux.HandleFunc("POST /api/v1/calls/{applicationId}/screen-share", h.run(h.Service.ToggleScreenShare))
	mux.HandleFunc("POST /api/v1/calls/{applicationId}/reconnect", h.run(h.Service.ReconnectSignaling))
}

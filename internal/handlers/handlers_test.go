// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jobportal/videocall/internal/call"
	"github.com/jobportal/videocall/internal/media"
	"github.com/jobportal/videocall/internal/service"
)

const secret = "s3cret"

type fakeService struct {
	calls []string
	err   error
}

func (f *fakeService) record(op, id string) (call.Snapshot, error) {
	f.calls = append(f.calls, op+":"+id)
	if f.err != nil {
		return call.Snapshot{}, f.err
	}
	return call.Snapshot{ApplicationID: id, State: call.StateRinging}, nil
}

func (f *fakeService) StartCall(_ context.Context, id string) (call.Snapshot, error) {
	return f.record("start", id)
}

func (f *fakeService) EndCall(_ context.Context, id string) (call.Snapshot, error) {
	return f.record("end", id)
}

func (f *fakeService) RetryCall(_ context.Context, id string) (call.Snapshot, error) {
	return f.record("retry", id)
}

func (f *fakeService) ToggleMute(_ context.Context, id string) (call.Snapshot, error) {
	return f.record("mute", id)
}

func (f *fakeService) ToggleCamera(_ context.Context, id string) (call.Snapshot, error) {
	return f.record("camera", id)
}

func (f *fakeService) ToggleScreenShare(_ context.Context, id string) (call.Snapshot, error) {
	return f.record("screen-share", id)
}

func (f *fakeService) ReconnectSignaling(_ context.Context, id string) (call.Snapshot, error) {
	return f.record("reconnect", id)
}

func (f *fakeService) Snapshot(id string) (call.Snapshot, error) {
	return f.record("get", id)
}

func newTestServer(svc CallService) http.Handler {
	mux := http.NewServeMux()
	NewHandler(svc).RegisterRoutes(mux)
	return MetricsMiddleware(AuthMiddleware(secret, map[string]bool{"/heartbeat": true}, mux))
}

func do(t *testing.T, h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set(ControlTokenHeader, token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHeartbeatSkipsAuth(t *testing.T) {
	rec := do(t, newTestServer(&fakeService{}), http.MethodGet, "/heartbeat", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil || resp.Status != "ok" {
		t.Errorf("body %q", rec.Body.String())
	}
}

func TestAuthRequired(t *testing.T) {
	svc := &fakeService{}
	h := newTestServer(svc)

	if rec := do(t, h, http.MethodPost, "/api/v1/calls/app-1/start", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: status %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/calls/app-1/start", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status %d", rec.Code)
	}
	if len(svc.calls) != 0 {
		t.Errorf("service reached without auth: %v", svc.calls)
	}
}

func TestEmptySecretRejectsEverything(t *testing.T) {
	mux := http.NewServeMux()
	NewHandler(&fakeService{}).RegisterRoutes(mux)
	h := AuthMiddleware("", nil, mux)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/calls/app-1", nil)
	req.Header.Set(ControlTokenHeader, "anything")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status %d", rec.Code)
	}
}

func TestCallRoutes(t *testing.T) {
	for _, op := range []string{"start", "end", "retry", "mute", "camera", "screen-share", "reconnect"} {
		t.Run(op, func(t *testing.T) {
			svc := &fakeService{}
			rec := do(t, newTestServer(svc), http.MethodPost, "/api/v1/calls/app-7/"+op, secret)
			if rec.Code != http.StatusOK {
				t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
			}
			if len(svc.calls) != 1 || svc.calls[0] != op+":app-7" {
				t.Errorf("service calls %v", svc.calls)
			}

			var resp struct {
				Call struct {
					ApplicationID string `json:"applicationId"`
					State         string `json:"state"`
				} `json:"call"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Call.ApplicationID != "app-7" || resp.Call.State != "ringing" {
				t.Errorf("response %+v", resp)
			}
		})
	}
}

func TestGetCall(t *testing.T) {
	svc := &fakeService{}
	rec := do(t, newTestServer(svc), http.MethodGet, "/api/v1/calls/app-3", secret)
	if rec.Code != http.StatusOK || svc.calls[0] != "get:app-3" {
		t.Errorf("status %d, calls %v", rec.Code, svc.calls)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{service.ErrNoSession, http.StatusNotFound},
		{service.ErrShuttingDown, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: no token", call.ErrReauthRequired), http.StatusUnauthorized},
		{call.ErrSessionClosed, http.StatusConflict},
		{call.ErrMediaNotReady, http.StatusConflict},
		{fmt.Errorf("capture: %w", media.ErrPermissionDenied), http.StatusUnprocessableEntity},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := do(t, newTestServer(&fakeService{err: tt.err}), http.MethodPost, "/api/v1/calls/app-1/screen-share", secret)
			if rec.Code != tt.want {
				t.Errorf("status %d, want %d", rec.Code, tt.want)
			}
			var resp ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil || resp.Error == "" {
				t.Errorf("error body %q", rec.Body.String())
			}
		})
	}
}

func TestPermissionErrorCarriesUserMessage(t *testing.T) {
	svc := &fakeService{err: fmt.Errorf("capture: %w", media.ErrPermissionDenied)}
	rec := do(t, newTestServer(svc), http.MethodPost, "/api/v1/calls/app-1/screen-share", secret)

	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Message != media.UserMessage(media.ErrPermissionDenied) {
		t.Errorf("message %q", resp.Message)
	}
}

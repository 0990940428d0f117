// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package metric

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSessionGauge(t *testing.T) {
	before := testutil.ToFloat64(activeSessions)
	started := testutil.ToFloat64(callsStarted)

	SessionStarted()
	SessionStarted()
	SessionClosed()

	if got := testutil.ToFloat64(activeSessions) - before; got != 1 {
		t.Errorf("expected one active session, got %v", got)
	}
	if got := testutil.ToFloat64(callsStarted) - started; got != 2 {
		t.Errorf("expected two started sessions, got %v", got)
	}
}

func TestRecordTransition(t *testing.T) {
	before := testutil.ToFloat64(stateTransitions.WithLabelValues("connected"))
	RecordTransition("connected")
	if got := testutil.ToFloat64(stateTransitions.WithLabelValues("connected")) - before; got != 1 {
		t.Errorf("expected one transition, got %v", got)
	}
}

func TestServerEndpoints(t *testing.T) {
	RecordHTTPMetrics(http.MethodPost, "/api/v1/calls/{applicationId}/start", http.StatusOK, 10*time.Millisecond)
	ObserveCallSetup(2 * time.Second)

	srv := NewServer()

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, name := range []string{"videocall_http_requests_total", "videocall_setup_duration_seconds"} {
		if !strings.Contains(body, name) {
			t.Errorf("%s missing from /metrics", name)
		}
	}
}

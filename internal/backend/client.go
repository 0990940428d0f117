// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/pion/webrtc/v4"

	"github.com/jobportal/videocall/internal/constants"
)

var (
	// ErrCallExists is returned by StartCall when the application already
	// has a call in progress.
	ErrCallExists   = errors.New("call already exists")
	ErrUnauthorized = errors.New("backend rejected credentials")
)

// StatusError is an unexpected non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d", e.Method, e.Path, e.Status)
}

// Client talks to the job portal's call lifecycle endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, skipCertVerify bool) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if skipCertVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   constants.BackendTimeout,
			Transport: transport,
		},
	}
}

// StartCall registers a call for the application. A 400 or 409 response
// means another participant already started it and yields ErrCallExists.
func (c *Client) StartCall(ctx context.Context, applicationID, token string) error {
	path := fmt.Sprintf("/applications/%s/start-call", url.PathEscape(applicationID))
	_, err := c.do(ctx, http.MethodPost, path, token, struct{}{})
	if err != nil {
		var serr *StatusError
		if errors.As(err, &serr) && (serr.Status == http.StatusBadRequest || serr.Status == http.StatusConflict) {
			return fmt.Errorf("%w: %w", ErrCallExists, err)
		}
		return fmt.Errorf("start call: %w", err)
	}
	slog.Info("call registered", "application_id", applicationID)
	return nil
}

func (c *Client) EndCall(ctx context.Context, applicationID, token, reason string) error {
	path := fmt.Sprintf("/applications/%s/end-call", url.PathEscape(applicationID))
	_, err := c.do(ctx, http.MethodPost, path, token, map[string]string{"reason": reason})
	if err != nil {
		return fmt.Errorf("end call: %w", err)
	}
	return nil
}

// ICEServers fetches the STUN/TURN servers the portal hands out.
func (c *Client) ICEServers(ctx context.Context, token string) ([]webrtc.ICEServer, error) {
	body, err := c.do(ctx, http.MethodGet, "/webrtc/ice-servers", token, nil)
	if err != nil {
		return nil, fmt.Errorf("ice servers: %w", err)
	}

	var resp struct {
		ICEServers []webrtc.ICEServer `json:"iceServers"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing ice servers: %w", err)
	}
	return resp.ICEServers, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body any) ([]byte, error) {
	reqBody := io.Reader(http.NoBody)
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Warn("backend request failed", "method", method, "path", path, "status", resp.StatusCode, "body", string(respBody))
		serr := &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: string(respBody)}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, serr)
		}
		return nil, serr
	}

	return respBody, nil
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/felipepmaragno/tutor-gateway/internal/api"
	"github.com/felipepmaragno/tutor-gateway/internal/httputil"
)

// client talks to a running tutorgateway.
type client struct {
	base string
	http *http.Client
}

func newClient(addr string) *client {
	return &client{base: strings.TrimRight(addr, "/"), http: httputil.DefaultClient()}
}

type apiError struct {
	Status  int
	Type    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s (HTTP %d): %s", e.Type, e.Status, e.Message)
}

func (c *client) createSession(ctx context.Context, req api.CreateSessionRequest) (api.CreateSessionResponse, error) {
	var resp api.CreateSessionResponse
	err := c.do(ctx, http.MethodPost, "/v1/sessions", req, &resp)
	return resp, err
}

func (c *client) turn(ctx context.Context, id string, req api.TurnRequest) (api.TurnResponse, error) {
	var resp api.TurnResponse
	err := c.do(ctx, http.MethodPost, "/v1/sessions/"+id+"/turns", req, &resp)
	return resp, err
}

func (c *client) deleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/sessions/"+id, nil, nil)
}

func (c *client) lesson(ctx context.Context, req api.LessonRequest) (api.LessonResponse, error) {
	var resp api.LessonResponse
	err := c.do(ctx, http.MethodPost, "/v1/lessons", req, &resp)
	return resp, err
}

func (c *client) models(ctx context.Context) ([]api.RosterResponse, error) {
	var resp struct {
		Data []api.RosterResponse `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/models", nil, &resp)
	return resp.Data, err
}

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := httputil.ReadBody(resp.Body, 16<<20)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var e struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
		}
		_ = json.Unmarshal(data, &e)
		return &apiError{Status: resp.StatusCode, Type: e.Error.Type, Message: e.Error.Message}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

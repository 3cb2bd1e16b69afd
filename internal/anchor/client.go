package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	sessionTimeout = 30 * time.Second
	taskTimeout    = 10 * time.Minute
)

// SessionConfig describes the browser session to create: a named
// pre-authenticated browsing profile, the proxy region, and the page the
// session opens on.
type SessionConfig struct {
	ProfileName string
	Region      string
	StartURL    string
}

// TaskResult is the outcome of one automation task.
type TaskResult struct {
	Status   string // "completed" on success
	FinalURL string // last page the agent was on, may be empty
}

// TaskError is returned when the automation agent could not complete a task
// (navigation failure, timeout, step budget exhaustion).
type TaskError struct {
	SessionID string
	Status    string
	Message   string
}

func (e *TaskError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("automation task %s: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("automation task %s", e.Status)
}

// Client communicates with the browser automation cloud over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a Client targeting the given base URL.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 0, // per-call context timeouts below
		},
	}
}

type createSessionRequest struct {
	ProfileName string `json:"profile_name"`
	Region      string `json:"region,omitempty"`
	StartURL    string `json:"start_url,omitempty"`
}

type createSessionResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// CreateSession starts a browser session bound to the configured profile and
// region, opened on the start URL. The returned session id scopes all
// subsequent tasks.
func (c *Client) CreateSession(ctx context.Context, cfg SessionConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, sessionTimeout)
	defer cancel()

	body, err := json.Marshal(createSessionRequest{
		ProfileName: cfg.ProfileName,
		Region:      cfg.Region,
		StartURL:    cfg.StartURL,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/sessions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating session request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("session creation returned status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var out createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding session response: %w", err)
	}
	if out.Data.ID == "" {
		return "", fmt.Errorf("session creation returned empty id")
	}
	return out.Data.ID, nil
}

type runTaskRequest struct {
	SessionID string `json:"session_id"`
	Task      string `json:"task"`
	MaxSteps  int    `json:"max_steps"`
}

type runTaskResponse struct {
	Data struct {
		Status   string `json:"status"`
		FinalURL string `json:"final_url"`
		Error    string `json:"error"`
	} `json:"data"`
}

// RunTask asks the automation agent to perform the described task within the
// given step budget. It blocks until the agent reports completion or failure.
// Failures are returned as *TaskError.
func (c *Client) RunTask(ctx context.Context, sessionID, task string, maxSteps int) (TaskResult, error) {
	ctx, cancel := context.WithTimeout(ctx, taskTimeout)
	defer cancel()

	body, err := json.Marshal(runTaskRequest{
		SessionID: sessionID,
		Task:      task,
		MaxSteps:  maxSteps,
	})
	if err != nil {
		return TaskResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/tools/perform-web-task", bytes.NewReader(body))
	if err != nil {
		return TaskResult{}, fmt.Errorf("creating task request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TaskResult{}, &TaskError{SessionID: sessionID, Status: "unreachable", Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return TaskResult{}, &TaskError{
			SessionID: sessionID,
			Status:    fmt.Sprintf("http_%d", resp.StatusCode),
			Message:   readErrorBody(resp.Body),
		}
	}

	var out runTaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return TaskResult{}, &TaskError{SessionID: sessionID, Status: "bad_response", Message: err.Error()}
	}

	if out.Data.Status != "completed" {
		return TaskResult{}, &TaskError{
			SessionID: sessionID,
			Status:    out.Data.Status,
			Message:   out.Data.Error,
		}
	}

	return TaskResult{Status: out.Data.Status, FinalURL: out.Data.FinalURL}, nil
}

// EndSession releases the browser session. Best effort: errors are returned
// but callers typically only log them.
func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, sessionTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v1/sessions/"+sessionID, nil)
	if err != nil {
		return fmt.Errorf("creating end-session request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ending session: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("end session returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anchor-api-key", c.apiKey)
}

// readErrorBody extracts a short error description from a non-2xx response.
func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 2048))
	if err != nil || len(data) == 0 {
		return ""
	}
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(data))
}

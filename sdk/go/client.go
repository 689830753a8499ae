package titaniumsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Titanium HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Description  string  `json:"description,omitempty"`
	Status       string  `json:"status"`
	AssigneeID   *string `json:"assignee_id,omitempty"`
	AssigneeName *string `json:"assignee_name,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

// Step is one leg of a task's transit ledger.
type Step struct {
	ID             string       `json:"id"`
	Seq            int          `json:"seq"`
	FromUserID     string       `json:"from_user_id"`
	FromUserName   string       `json:"from_user_name,omitempty"`
	ToUserID       string       `json:"to_user_id"`
	ToUserName     string       `json:"to_user_name,omitempty"`
	Status         string       `json:"status"`
	IsActive       bool         `json:"is_active"`
	Notes          string       `json:"notes,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	CreatedAt      string       `json:"created_at"`
	SignedAt       *string      `json:"signed_at,omitempty"`
	RejectedAt     *string      `json:"rejected_at,omitempty"`
	TimeInAnalysis *int64       `json:"time_in_analysis,omitempty"`
}

// Attachment is a file bound to a step.
type Attachment struct {
	ID          string `json:"id"`
	StepID      string `json:"step_id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type,omitempty"`
	UploaderID  string `json:"uploader_id"`
	UploadedAt  string `json:"uploaded_at"`
}

// Process is the transit ledger of a task.
type Process struct {
	TaskID     string `json:"task_id"`
	Version    int64  `json:"version"`
	Steps      []Step `json:"steps"`
	TotalSteps int    `json:"total_steps"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// Metrics holds wall-clock transit timings in whole minutes.
type Metrics struct {
	TotalProcessTime int64 `json:"total_process_time"`
	AverageStepTime  int64 `json:"average_step_time"`
}

// Permissions says what the caller may do with a task.
type Permissions struct {
	CanForward bool `json:"can_forward"`
	CanSign    bool `json:"can_sign"`
	CanReject  bool `json:"can_reject"`
}

// Upload carries file content for transit operations.
type Upload struct {
	Name          string `json:"name"`
	ContentType   string `json:"content_type,omitempty"`
	ContentBase64 string `json:"content_base64"`
}

// Event is an audit log entry.
type Event struct {
	ID           int64  `json:"id"`
	TS           string `json:"ts"`
	Action       string `json:"action"`
	Detail       string `json:"detail,omitempty"`
	SubjectID    string `json:"subject_id,omitempty"`
	SubjectTitle string `json:"subject_title,omitempty"`
	ActorID      string `json:"actor_id"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, title, description, assigneeUID string) (Task, error) {
	body := map[string]any{"title": title}
	if description != "" {
		body["description"] = description
	}
	if assigneeUID != "" {
		body["assignee_uid"] = assigneeUID
	}
	var resp struct {
		Task Task `json:"task"`
	}
	err := c.do(ctx, http.MethodPost, "v1/tasks", body, &resp)
	return resp.Task, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp struct {
		Task Task `json:"task"`
	}
	err := c.do(ctx, http.MethodGet, taskPath(id, ""), nil, &resp)
	return resp.Task, err
}

// ListTasks returns all tasks.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	var resp struct {
		Items []Task `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v1/tasks", nil, &resp)
	return resp.Items, err
}

// InitializeProcess starts a task's transit ledger.
func (c *Client) InitializeProcess(ctx context.Context, taskID string) (Process, error) {
	var resp struct {
		Process Process `json:"process"`
	}
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "process"), nil, &resp)
	return resp.Process, err
}

// GetProcess fetches a task's transit ledger.
func (c *Client) GetProcess(ctx context.Context, taskID string) (Process, error) {
	var resp struct {
		Process Process `json:"process"`
	}
	err := c.do(ctx, http.MethodGet, taskPath(taskID, "process"), nil, &resp)
	return resp.Process, err
}

// Forward passes a task to another collaborator.
func (c *Client) Forward(ctx context.Context, taskID, toUserID, notes string, attachments []Upload) (Process, error) {
	body := map[string]any{"to_user_id": toUserID}
	if notes != "" {
		body["notes"] = notes
	}
	if len(attachments) > 0 {
		body["attachments"] = attachments
	}
	var resp struct {
		Process Process `json:"process"`
	}
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "process/forward"), body, &resp)
	return resp.Process, err
}

// Sign accepts a forwarded task with the caller's passphrase.
func (c *Client) Sign(ctx context.Context, taskID, passphrase, notes string, attachments []Upload) (Process, error) {
	body := map[string]any{"passphrase": passphrase}
	if notes != "" {
		body["notes"] = notes
	}
	if len(attachments) > 0 {
		body["attachments"] = attachments
	}
	var resp struct {
		Process Process `json:"process"`
	}
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "process/sign"), body, &resp)
	return resp.Process, err
}

// Reject sends a forwarded task back with a justification.
func (c *Client) Reject(ctx context.Context, taskID, reason string, attachments []Upload) (Process, error) {
	body := map[string]any{"reason": reason}
	if len(attachments) > 0 {
		body["attachments"] = attachments
	}
	var resp struct {
		Process Process `json:"process"`
	}
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "process/reject"), body, &resp)
	return resp.Process, err
}

// Metrics returns transit timings for a task.
func (c *Client) Metrics(ctx context.Context, taskID string) (Metrics, error) {
	var resp struct {
		Metrics Metrics `json:"metrics"`
	}
	err := c.do(ctx, http.MethodGet, taskPath(taskID, "process/metrics"), nil, &resp)
	return resp.Metrics, err
}

// Permissions returns transit permissions for the caller.
func (c *Client) Permissions(ctx context.Context, taskID string) (Permissions, error) {
	var resp struct {
		Permissions Permissions `json:"permissions"`
	}
	err := c.do(ctx, http.MethodGet, taskPath(taskID, "process/permissions"), nil, &resp)
	return resp.Permissions, err
}

// RegisterCredential sets the caller's signature passphrase.
func (c *Client) RegisterCredential(ctx context.Context, passphrase string) error {
	body := map[string]any{"passphrase": passphrase}
	return c.do(ctx, http.MethodPut, "v1/credentials", body, nil)
}

// HasCredential reports whether the caller registered a passphrase.
func (c *Client) HasCredential(ctx context.Context) (bool, error) {
	var resp struct {
		Registered bool `json:"registered"`
	}
	err := c.do(ctx, http.MethodGet, "v1/credentials", nil, &resp)
	return resp.Registered, err
}

// Events returns recent audit events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v1/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func taskPath(taskID, rest string) string {
	p := fmt.Sprintf("v1/tasks/%s", url.PathEscape(taskID))
	if rest != "" {
		p += "/" + strings.TrimLeft(rest, "/")
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

// Package httpapi implements the engine's external collaborators as thin
// HTTP clients against the host task-management API. The engine only ever
// sees the protocol interfaces; this package is the deployment glue the
// binaries wire in.
package httpapi

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

	"github.com/taskforge/taskforge/pkg/protocol"
)

const defaultTimeout = 30 * time.Second

// Client talks to the host API. One client backs every collaborator
// interface the actions and the engine need.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// TaskByID fetches the current task snapshot.
func (c *Client) TaskByID(ctx context.Context, id string) (map[string]any, error) {
	var task map[string]any
	if err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id), nil, &task); err != nil {
		return nil, err
	}

	return task, nil
}

// UpdateField mutates one field of a task.
func (c *Client) UpdateField(ctx context.Context, taskID, field string, value any) error {
	payload := map[string]any{"field": field, "value": value}

	return c.do(ctx, http.MethodPatch, "/tasks/"+url.PathEscape(taskID)+"/fields", payload, nil)
}

// ResponsibleUser resolves the user responsible for a project. An empty
// string means the project has no responsible user configured.
func (c *Client) ResponsibleUser(ctx context.Context, projectID string) (string, error) {
	var resp struct {
		UserID string `json:"user_id"`
	}

	if err := c.do(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID)+"/responsible-user", nil, &resp); err != nil {
		return "", err
	}

	return resp.UserID, nil
}

// Append records an activity line for an entity.
func (c *Client) Append(ctx context.Context, entityType, entityID, message string) error {
	payload := map[string]any{
		"entity_type": entityType,
		"entity_id":   entityID,
		"message":     message,
	}

	return c.do(ctx, http.MethodPost, "/activities", payload, nil)
}

// Notify creates a notification for a user.
func (c *Client) Notify(ctx context.Context, userID, title, message string) error {
	payload := map[string]any{
		"user_id": userID,
		"title":   title,
		"message": message,
	}

	return c.do(ctx, http.MethodPost, "/notifications", payload, nil)
}

// AuditClient posts execution audit records. It is a separate view of the
// client because the activity log already claims the Append method name.
type AuditClient struct {
	client *Client
}

// Audit returns the audit-log facet of the client.
func (c *Client) Audit() *AuditClient {
	return &AuditClient{client: c}
}

// Append records a finished execution in the host's audit trail.
func (a *AuditClient) Append(ctx context.Context, record protocol.AuditRecord) error {
	return a.client.do(ctx, http.MethodPost, "/audit", record, nil)
}

// Invoke delegates an agent invocation to the host's agent registry.
func (c *Client) Invoke(ctx context.Context, agentID string, input map[string]any, callContext map[string]any) (*protocol.AgentResult, error) {
	payload := map[string]any{
		"input":   input,
		"context": callContext,
	}

	var result protocol.AgentResult
	if err := c.do(ctx, http.MethodPost, "/agents/"+url.PathEscape(agentID)+"/invoke", payload, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader

	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}

		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s returned status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}

	return nil
}

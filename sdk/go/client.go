// Package cseflowsdk is a minimal typed client for the CSE Flow HTTP API.
package cseflowsdk

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

// Client talks to one CSE Flow server as one identity.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, bearerToken string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "api/v1",
		BearerToken: bearerToken,
		Timeout:     10 * time.Second,
	}
}

// Form mirrors the API form model.
type Form struct {
	ClientID      string          `json:"client_id"`
	Status        string          `json:"status"`
	Steps         map[string]Step `json:"steps"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     string          `json:"created_at"`
	LastUpdatedBy string          `json:"last_updated_by"`
	LastUpdatedAt string          `json:"last_updated_at"`
	ApprovedBy    string          `json:"approved_by,omitempty"`
	ApprovedAt    string          `json:"approved_at,omitempty"`
}

type Step struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Status          string          `json:"status"`
	Data            json.RawMessage `json:"data"`
	Comments        []Comment       `json:"comments"`
	NeedsCorrection bool            `json:"needs_correction"`
	LastUpdatedBy   string          `json:"last_updated_by"`
	LastUpdatedAt   string          `json:"last_updated_at"`
}

type Comment struct {
	ID        string `json:"id"`
	StepID    string `json:"step_id"`
	Text      string `json:"text"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at"`
	Role      string `json:"role"`
}

// IndexEntry mirrors the status index listing model.
type IndexEntry struct {
	ClientID      string `json:"client_id"`
	Status        string `json:"status"`
	LastUpdatedAt string `json:"last_updated_at"`
	CreatedBy     string `json:"created_by"`
	Title         string `json:"title"`
}

// CorrectionComment is a remark attached while requesting corrections.
type CorrectionComment struct {
	StepID string `json:"stepId"`
	Text   string `json:"text"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// GetForm fetches (and for creators lazily initializes) a client's form.
func (c *Client) GetForm(ctx context.Context, clientID string) (Form, error) {
	var resp Form
	err := c.do(ctx, http.MethodGet, c.apiPath("forms/"+url.PathEscape(clientID)), nil, &resp)
	return resp, err
}

// UpdateStep merges data into a step payload.
func (c *Client) UpdateStep(ctx context.Context, clientID, stepID string, data map[string]any, status *string) (Form, error) {
	body := map[string]any{}
	if data != nil {
		body["data"] = data
	}
	if status != nil {
		body["status"] = *status
	}
	var resp Form
	endpoint := c.apiPath(fmt.Sprintf("forms/%s/steps/%s", url.PathEscape(clientID), url.PathEscape(stepID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// AddComment appends a comment to a step.
func (c *Client) AddComment(ctx context.Context, clientID, stepID, text string) (Form, error) {
	var resp Form
	endpoint := c.apiPath(fmt.Sprintf("forms/%s/steps/%s/comments", url.PathEscape(clientID), url.PathEscape(stepID)))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"text": text}, &resp)
	return resp, err
}

// Submit moves a draft into internal review.
func (c *Client) Submit(ctx context.Context, clientID string) (Form, error) {
	var resp Form
	err := c.do(ctx, http.MethodPost, c.apiPath("forms/"+url.PathEscape(clientID)+"/submit"), nil, &resp)
	return resp, err
}

// InternalApprove passes internal review.
func (c *Client) InternalApprove(ctx context.Context, clientID string) (Form, error) {
	var resp Form
	err := c.do(ctx, http.MethodPost, c.apiPath("forms/"+url.PathEscape(clientID)+"/internal-review/approve"), nil, &resp)
	return resp, err
}

// Approve grants final authority approval.
func (c *Client) Approve(ctx context.Context, clientID string) (Form, error) {
	var resp Form
	err := c.do(ctx, http.MethodPost, c.apiPath("forms/"+url.PathEscape(clientID)+"/authority-review/approve"), nil, &resp)
	return resp, err
}

// RequestCorrections flags steps for rework. internal selects the
// internal-review leg; false selects the authority leg.
func (c *Client) RequestCorrections(ctx context.Context, clientID string, internal bool, steps []string, comments []CorrectionComment) (Form, error) {
	leg := "authority-review"
	if internal {
		leg = "internal-review"
	}
	body := map[string]any{"stepsToCorrect": steps}
	if len(comments) > 0 {
		body["comments"] = comments
	}
	var resp Form
	endpoint := c.apiPath(fmt.Sprintf("forms/%s/%s/request-corrections", url.PathEscape(clientID), leg))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// FormsByStatus queries the status index.
func (c *Client) FormsByStatus(ctx context.Context, status string) ([]IndexEntry, error) {
	var resp []IndexEntry
	endpoint := c.apiPath("index/forms-by-status?status=" + url.QueryEscape(status))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// PendingReviews lists forms awaiting authority review.
func (c *Client) PendingReviews(ctx context.Context) ([]IndexEntry, error) {
	var resp []IndexEntry
	err := c.do(ctx, http.MethodGet, c.apiPath("authority/pending-reviews"), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
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

func (c *Client) apiPath(p string) string {
	return strings.Trim(c.BasePath, "/") + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

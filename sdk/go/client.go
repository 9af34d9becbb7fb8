package seohubsdk

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

// Client is a minimal seohub HTTP API client. The vendor-side integration uses
// it to deliver webhook events; dashboards use the read methods.
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

// Deliverable mirrors the webhook deliverable shape.
type Deliverable struct {
	Type  string `json:"type,omitempty"`
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
}

// TaskEvent is one webhook delivery body.
type TaskEvent struct {
	EventID   string `json:"eventId,omitempty"`
	EventType string `json:"eventType"`
	Data      struct {
		ExternalID     string        `json:"externalId"`
		ClientID       string        `json:"clientId,omitempty"`
		ClientEmail    string        `json:"clientEmail,omitempty"`
		TaskType       string        `json:"taskType"`
		Status         string        `json:"status"`
		CompletionDate string        `json:"completionDate,omitempty"`
		Deliverables   []Deliverable `json:"deliverables,omitempty"`
	} `json:"data"`
}

// WebhookOutcome reports how the server disposed of a delivery.
type WebhookOutcome struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id,omitempty"`
}

// Request is the API request model (partial).
type Request struct {
	ID                    string  `json:"id"`
	ExternalID            string  `json:"external_id"`
	Title                 string  `json:"title"`
	Status                string  `json:"status"`
	PackageType           *string `json:"package_type,omitempty"`
	PagesCompleted        int     `json:"pages_completed"`
	BlogsCompleted        int     `json:"blogs_completed"`
	GBPPostsCompleted     int     `json:"gbp_posts_completed"`
	ImprovementsCompleted int     `json:"improvements_completed"`
}

// Event represents an audit log entry.
type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts"`
	Type    string `json:"type"`
	Payload string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// DeliverTaskEvent posts one webhook event.
func (c *Client) DeliverTaskEvent(ctx context.Context, evt TaskEvent) (WebhookOutcome, error) {
	var resp WebhookOutcome
	err := c.do(ctx, http.MethodPost, "v1/webhooks/seoworks", evt, &resp)
	return resp, err
}

// GetRequest fetches one request by id.
func (c *Client) GetRequest(ctx context.Context, id string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/requests/%s", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// ListRequests returns requests, optionally filtered by status.
func (c *Client) ListRequests(ctx context.Context, status string, limit int) ([]Request, error) {
	endpoint := "v1/requests"
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []Request
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RequestEvents returns the audit log for one request.
func (c *Client) RequestEvents(ctx context.Context, id string, limit int) ([]Event, error) {
	endpoint := fmt.Sprintf("v1/requests/%s/events", url.PathEscape(id))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
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

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

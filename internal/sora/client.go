package sora

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Provider error bodies are truncated to this many bytes.
const maxErrorBody = 4 << 10

// Client talks to the Sora-compatible video generation API.
type Client struct {
	baseURL        string
	apiKey         string
	httpClient     *http.Client
	downloadClient *http.Client
	backoffs       []time.Duration
}

type SubmitRequest struct {
	Model      string   `json:"model"`
	Prompt     string   `json:"prompt"`
	Seconds    int      `json:"seconds,omitempty"`
	Size       string   `json:"size,omitempty"`
	Images     []string `json:"images,omitempty"`
	Characters []string `json:"characters,omitempty"`
}

type SubmitResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

// StatusResponse is the provider's view of a task. Status is the raw
// provider value; use NormalizeStatus before storing it.
type StatusResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Progress   int    `json:"progress"`
	VideoURL   string `json:"video_url,omitempty"`
	FailReason string `json:"fail_reason,omitempty"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Reason returns the provider's failure explanation, if any.
func (s *StatusResponse) Reason() string {
	if s.FailReason != "" {
		return s.FailReason
	}
	if s.Error != nil {
		return s.Error.Message
	}
	return ""
}

// CharacterRequest registers a character from a reference video. Timestamps
// selects the seconds of the clip used for the identity, e.g. "1,3".
type CharacterRequest struct {
	URL        string `json:"url"`
	Timestamps string `json:"timestamps"`
}

type CharacterResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// APIError is returned for non-2xx provider responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider error: status %d, body: %s", e.StatusCode, e.Body)
}

// IsRetryable reports whether a later attempt may succeed.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		// Videos are large; the caller's context bounds the download.
		downloadClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		backoffs: []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
	}
}

// SetBackoffs replaces the RetryWithBackoff schedule.
func (c *Client) SetBackoffs(backoffs []time.Duration) {
	c.backoffs = backoffs
}

// Submit creates a generation task and returns the provider task id.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	var result SubmitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/videos", req, &result); err != nil {
		return nil, fmt.Errorf("failed to submit task: %w", err)
	}
	if result.ID == "" {
		return nil, fmt.Errorf("failed to submit task: empty task id in response")
	}
	return &result, nil
}

// GetStatus fetches the current status of a task.
func (c *Client) GetStatus(ctx context.Context, taskID string) (*StatusResponse, error) {
	var result StatusResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/videos/"+taskID, nil, &result); err != nil {
		return nil, fmt.Errorf("failed to get task status: %w", err)
	}
	if result.ID == "" {
		result.ID = taskID
	}
	return &result, nil
}

// RegisterCharacter turns a reference video into a reusable character
// identity.
func (c *Client) RegisterCharacter(ctx context.Context, req CharacterRequest) (*CharacterResponse, error) {
	var result CharacterResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/characters", req, &result); err != nil {
		return nil, fmt.Errorf("failed to register character: %w", err)
	}
	if result.Username == "" {
		return nil, fmt.Errorf("failed to register character: empty username in response")
	}
	return &result, nil
}

// AssertReachable performs a cheap authenticated request. Transport errors
// and 5xx responses count as unreachable.
func (c *Client) AssertReachable(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach provider: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode >= 500 {
		return &APIError{StatusCode: resp.StatusCode}
	}
	return nil
}

// DownloadFile fetches the bytes behind a result URL. Transient failures
// are retried on the backoff schedule.
func (c *Client) DownloadFile(ctx context.Context, fileURL string) ([]byte, error) {
	var data []byte
	err := c.RetryWithBackoff(func() error {
		var err error
		data, err = c.download(ctx, fileURL)
		return err
	}, len(c.backoffs)+1)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Client) download(ctx context.Context, fileURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("downloaded file is empty")
	}
	return data, nil
}

// RetryWithBackoff executes a function with exponential backoff retry logic.
// Non-retryable provider errors and context errors end the loop at once.
func (c *Client) RetryWithBackoff(fn func() error, maxRetries int) error {
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		if isPermanent(err) {
			return err
		}

		lastErr = err
		if i < len(c.backoffs) && i < maxRetries-1 {
			time.Sleep(c.backoffs[i])
		}
	}

	return fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

func isPermanent(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && !apiErr.IsRetryable()
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(respBody) > maxErrorBody {
			respBody = respBody[:maxErrorBody]
		}
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

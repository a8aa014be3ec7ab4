// Package videoapi is the REST client for the video generation service. All
// responses arrive in a `{code, message, data}` envelope where code 200 means
// success; everything else maps onto a small error taxonomy the caller can
// branch on with errors.Is. Requests pass through a shared rate limiter.
package videoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// Error kinds, matched with errors.Is against wrapped request errors.
var (
	ErrUnauthorized  = errors.New("videoapi: unauthorized")
	ErrInvalidParams = errors.New("videoapi: invalid parameters")
	ErrNotFound      = errors.New("videoapi: not found")
	ErrServer        = errors.New("videoapi: server error")
)

// Client provides HTTP methods for the video generation API.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithRateLimit caps outbound requests. The limiter also guards the
// progress-poll loop, which can fire often when the channel is down.
func WithRateLimit(rps float64, burst int) Option {
	return func(client *Client) {
		client.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// New creates a client for the given base URL (e.g. "http://localhost:8080").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope is the wire shape of every response.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// GenerateInput describes a generation job. Code is the client identity the
// progress channel was opened with, so events route back to this client.
type GenerateInput struct {
	Prompt string `json:"prompt"`
	Code   string `json:"code"`
}

// Progress is the poll-endpoint view of a task, mirroring the fields pushed
// over the channel.
type Progress struct {
	TaskID             int64   `json:"taskId"`
	Progress           int     `json:"progress"`
	Stage              int     `json:"stage"`
	StageDesc          string  `json:"stageDesc"`
	EstimatedRemaining float64 `json:"estimatedRemainingTime"`
	VideoURL           string  `json:"videoUrl"`
}

// Generate submits a generation job and returns the server-assigned task id.
func (c *Client) Generate(ctx context.Context, input GenerateInput) (int64, error) {
	var data struct {
		TaskID int64 `json:"taskId"`
	}
	if err := c.post(ctx, "/video/generate", input, &data); err != nil {
		return 0, fmt.Errorf("generate: %w", err)
	}
	return data.TaskID, nil
}

// Progress polls the current state of a task. Fallback for when the channel
// is down; the pushed events carry the same fields.
func (c *Client) Progress(ctx context.Context, taskID int64) (Progress, error) {
	var data Progress
	if err := c.get(ctx, fmt.Sprintf("/video/progress/%d", taskID), &data); err != nil {
		return Progress{}, fmt.Errorf("progress %d: %w", taskID, err)
	}
	if data.TaskID == 0 {
		data.TaskID = taskID
	}
	return data, nil
}

// Cancel asks the server to stop a task. Returns false when the server
// refused (task already finished or unknown).
func (c *Client) Cancel(ctx context.Context, taskID int64) (bool, error) {
	err := c.post(ctx, fmt.Sprintf("/video/cancel/%d", taskID), nil, nil)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidParams) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cancel %d: %w", taskID, err)
	}
	return true, nil
}

// CheckFile reports whether a generated file is still available server-side.
func (c *Client) CheckFile(ctx context.Context, path string) (bool, error) {
	var data struct {
		Exists bool `json:"exists"`
	}
	body := map[string]string{"path": path}
	if err := c.post(ctx, "/file/check", body, &data); err != nil {
		return false, fmt.Errorf("check file: %w", err)
	}
	return data.Exists, nil
}

// DownloadURL resolves a server file path to a fetchable URL.
func (c *Client) DownloadURL(ctx context.Context, path string) (string, error) {
	var data string
	if err := c.get(ctx, "/file/download?path="+url.QueryEscape(path), &data); err != nil {
		return "", fmt.Errorf("download url: %w", err)
	}
	return data, nil
}

// TestFileURL returns a known-good sample video URL, used to verify playback
// without spending a generation.
func (c *Client) TestFileURL(ctx context.Context) (string, error) {
	var data string
	if err := c.get(ctx, "/file/test-url", &data); err != nil {
		return "", fmt.Errorf("test file url: %w", err)
	}
	return data, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode envelope (status %d): %w", resp.StatusCode, err)
	}
	code := env.Code
	if code == 0 {
		code = resp.StatusCode
	}
	if code != http.StatusOK {
		return fmt.Errorf("%w: %s", kindFor(code), env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

// kindFor maps an envelope or HTTP status code onto an error kind.
func kindFor(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrUnauthorized
	case code == http.StatusNotFound:
		return ErrNotFound
	case code >= 400 && code < 500:
		return ErrInvalidParams
	default:
		return ErrServer
	}
}

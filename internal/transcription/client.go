package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrUpstreamUnavailable is returned when the engine cannot be reached,
// answers with a non-success status or sends a body we cannot read.
var ErrUpstreamUnavailable = errors.New("transcription engine unavailable")

// State is the engine-side status of a job, collapsed to three values.
type State int

const (
	StatePending State = iota
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// JobHandle is the opaque identifier the engine issues on submit.
type JobHandle string

// Status is the result of a single poll.
type Status struct {
	State  State
	Text   string
	Reason string
}

// Engine is the submit/poll contract of an asynchronous transcription service.
// Implementations must not retry; callers own the poll budget.
type Engine interface {
	Submit(ctx context.Context, audio []byte) (JobHandle, error)
	Poll(ctx context.Context, handle JobHandle) (Status, error)
}

// Observer receives one call per upstream HTTP request.
type Observer interface {
	RecordUpstreamRequest(operation, outcome string, duration time.Duration)
}

// Client talks to an AssemblyAI-compatible REST API: the audio is uploaded,
// a transcript is created from the returned URL, and the transcript is
// polled by id.
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{} // Rate limiting semaphore

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	submittedJobs   uint64
	polls           uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains transcription client configuration
type Config struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxConcurrent int

	LanguageCode string
	SpeechModel  string
	Punctuate    bool
	FormatText   bool

	Observer Observer
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	SubmittedJobs   uint64        `json:"submitted_jobs"`
	Polls           uint64        `json:"polls"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type transcriptRequest struct {
	AudioURL     string `json:"audio_url"`
	LanguageCode string `json:"language_code,omitempty"`
	SpeechModel  string `json:"speech_model,omitempty"`
	Punctuate    bool   `json:"punctuate"`
	FormatText   bool   `json:"format_text"`
}

type transcriptResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Text   string `json:"text"`
	Error  string `json:"error"`
}

// NewClient creates a new transcription HTTP client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if _, err := url.Parse(config.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", config.Endpoint, err)
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	config.Endpoint = strings.TrimRight(config.Endpoint, "/")

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// Submit uploads the audio and creates a transcript job for it.
func (c *Client) Submit(ctx context.Context, audio []byte) (JobHandle, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("submit: empty audio: %w", ErrUpstreamUnavailable)
	}

	release, err := c.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	var up uploadResponse
	if err := c.do(ctx, "upload", http.MethodPost, "/upload", "application/octet-stream", bytes.NewReader(audio), &up); err != nil {
		return "", err
	}
	if up.UploadURL == "" {
		return "", fmt.Errorf("upload: response has no upload_url: %w", ErrUpstreamUnavailable)
	}

	body, err := json.Marshal(transcriptRequest{
		AudioURL:     up.UploadURL,
		LanguageCode: c.config.LanguageCode,
		SpeechModel:  c.config.SpeechModel,
		Punctuate:    c.config.Punctuate,
		FormatText:   c.config.FormatText,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode transcript request: %w", err)
	}

	var tr transcriptResponse
	if err := c.do(ctx, "create", http.MethodPost, "/transcript", "application/json", bytes.NewReader(body), &tr); err != nil {
		return "", err
	}
	if tr.ID == "" {
		return "", fmt.Errorf("create: response has no transcript id: %w", ErrUpstreamUnavailable)
	}

	c.mu.Lock()
	c.submittedJobs++
	c.mu.Unlock()

	return JobHandle(tr.ID), nil
}

// Poll makes one status request for the given job.
func (c *Client) Poll(ctx context.Context, handle JobHandle) (Status, error) {
	if handle == "" {
		return Status{}, fmt.Errorf("poll: empty job handle")
	}

	release, err := c.acquire(ctx)
	if err != nil {
		return Status{}, err
	}
	defer release()

	c.mu.Lock()
	c.polls++
	c.mu.Unlock()

	var tr transcriptResponse
	path := "/transcript/" + url.PathEscape(string(handle))
	if err := c.do(ctx, "poll", http.MethodGet, path, "", nil, &tr); err != nil {
		return Status{}, err
	}

	switch tr.Status {
	case "completed":
		return Status{State: StateCompleted, Text: tr.Text}, nil
	case "error":
		reason := tr.Error
		if reason == "" {
			reason = "engine reported an error"
		}
		return Status{State: StateFailed, Reason: reason}, nil
	default:
		// queued, processing and anything newer the engine may add
		return Status{State: StatePending}, nil
	}
}

func (c *Client) acquire(ctx context.Context) (func(), error) {
	select {
	case c.semaphore <- struct{}{}:
		return func() { <-c.semaphore }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// do performs one request and decodes a JSON answer into out.
func (c *Client) do(ctx context.Context, op, method, path, contentType string, body io.Reader, out interface{}) error {
	startTime := time.Now()
	c.incrementTotalRequests()

	err := c.roundTrip(ctx, method, path, contentType, body, out)
	elapsed := time.Since(startTime)

	outcome := "success"
	if err != nil {
		outcome = "error"
		c.incrementFailedRequests()
	} else {
		c.incrementSuccessRequests()
		c.updateAvgResponseTime(elapsed)
	}
	if c.config.Observer != nil {
		c.config.Observer.RecordUpstreamRequest(op, outcome, elapsed)
	}

	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, method, c.config.Endpoint+path, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Authorization", c.config.APIKey)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "ai-stt-learning/1.0")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("HTTP request failed: %v: %w", err, ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response body: %v: %w", err, ErrUpstreamUnavailable)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP error %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(respBody)), ErrUpstreamUnavailable)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response JSON: %v: %w", err, ErrUpstreamUnavailable)
	}
	return nil
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		SubmittedJobs:   c.submittedJobs,
		Polls:           c.polls,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}

// Close waits for in-flight requests and releases idle connections.
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}
	c.httpClient.CloseIdleConnections()
	return nil
}

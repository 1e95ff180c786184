package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Multipart field names accepted by transcription endpoints. Individual
// uploads try fieldFile first and fall back to fieldFiles once when the
// server rejects the field name.
const (
	fieldFile  = "file"
	fieldFiles = "files"
)

// Config contains transcription client configuration.
type Config struct {
	Endpoint      string        // single-file endpoint; empty disables transcription
	BatchEndpoint string        // optional batch endpoint
	AuthHeader    string        // auth header name, e.g. "Authorization"
	AuthValue     string        // auth header value, e.g. "Bearer <token>"
	Timeout       time.Duration // per-request timeout, default 60s
	MaxRetries    int           // retries for retryable failures
	MaxConcurrent int           // concurrent upload limit
}

// File is one encoded audio artifact to transcribe. Results and errors are
// correlated back to files by Name.
type File struct {
	Name string
	Data []byte
}

// FileResult is a per-file transcription from a batch response.
type FileResult struct {
	Filename string
	Text     string
}

// FileError is a per-file failure from a batch response.
type FileError struct {
	Filename string
	Reason   string
}

// BatchOutcome is the tagged result of a batch attempt. Handled is false
// when the batch endpoint is unconfigured, fails structurally, or returns
// neither results nor errors; callers then fall back to individual
// uploads rather than silently dropping work.
type BatchOutcome struct {
	Handled bool
	Results []FileResult
	Errors  []FileError
}

// ClientStats reports upload counters for monitoring.
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// Client uploads audio segments to the transcription collaborator.
type Client struct {
	config     Config
	logger     *slog.Logger
	httpClient *http.Client
	semaphore  chan struct{}

	mu              sync.Mutex
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration
}

// NewClient creates a transcription client. An empty endpoint is allowed:
// transcription then degrades to skipped rather than failing startup.
func NewClient(config Config, logger *slog.Logger) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	if config.AuthHeader == "" && config.AuthValue != "" {
		config.AuthHeader = "Authorization"
	}

	return &Client{
		config: config,
		logger: logger,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		semaphore: make(chan struct{}, config.MaxConcurrent),
	}
}

// Enabled reports whether a transcription endpoint is configured.
func (c *Client) Enabled() bool {
	return c.config.Endpoint != ""
}

// BatchConfigured reports whether a batch endpoint is configured.
func (c *Client) BatchConfigured() bool {
	return c.config.BatchEndpoint != ""
}

// Transcribe uploads a single file and returns the transcribed text.
// Retryable failures (5xx, 429, network errors) are retried with
// exponential backoff. A schema-validation rejection of the multipart
// field name triggers one retry with the alternate field name.
func (c *Client) Transcribe(ctx context.Context, file File) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("transcription endpoint not configured")
	}

	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	startTime := time.Now()
	c.incr(&c.totalRequests)

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incr(&c.totalRetries)
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := c.uploadOne(ctx, file, fieldFile)
		if err == nil {
			c.incr(&c.successRequests)
			c.observeResponseTime(time.Since(startTime))
			return text, nil
		}

		var fieldErr *fieldNameError
		if errors.As(err, &fieldErr) {
			c.logger.Debug("Multipart field rejected, retrying with alternate field name",
				slog.String("filename", file.Name),
				slog.String("field", fieldFiles),
			)
			text, err = c.uploadOne(ctx, file, fieldFiles)
			if err == nil {
				c.incr(&c.successRequests)
				c.observeResponseTime(time.Since(startTime))
				return text, nil
			}
		}

		lastErr = err
		if !isRetryable(err) {
			break
		}
	}

	c.incr(&c.failedRequests)
	return "", fmt.Errorf("transcription of %s failed: %w", file.Name, lastErr)
}

// TranscribeBatch uploads all files in one multipart request to the batch
// endpoint. The outcome is explicitly tagged: an unconfigured endpoint, a
// structural failure, or an empty response all yield Handled=false.
func (c *Client) TranscribeBatch(ctx context.Context, files []File) BatchOutcome {
	if !c.BatchConfigured() || len(files) == 0 {
		return BatchOutcome{Handled: false}
	}

	c.incr(&c.totalRequests)
	startTime := time.Now()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, f := range files {
		fw, err := writer.CreateFormFile(fieldFiles, f.Name)
		if err != nil {
			c.logger.Warn("Failed to build batch request", slog.String("error", err.Error()))
			c.incr(&c.failedRequests)
			return BatchOutcome{Handled: false}
		}
		if _, err := fw.Write(f.Data); err != nil {
			c.logger.Warn("Failed to build batch request", slog.String("error", err.Error()))
			c.incr(&c.failedRequests)
			return BatchOutcome{Handled: false}
		}
	}
	if err := writer.Close(); err != nil {
		c.incr(&c.failedRequests)
		return BatchOutcome{Handled: false}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BatchEndpoint, &buf)
	if err != nil {
		c.incr(&c.failedRequests)
		return BatchOutcome{Handled: false}
	}
	c.setHeaders(req, writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Batch transcription request failed, falling back to individual upload",
			slog.String("error", err.Error()),
		)
		c.incr(&c.failedRequests)
		return BatchOutcome{Handled: false}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.incr(&c.failedRequests)
		return BatchOutcome{Handled: false}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("Batch transcription returned error status, falling back",
			slog.Int("status", resp.StatusCode),
			slog.String("body", truncate(string(body), 256)),
		)
		c.incr(&c.failedRequests)
		return BatchOutcome{Handled: false}
	}

	outcome, ok := parseBatchResponse(body)
	if !ok {
		c.logger.Warn("Batch transcription response not parseable, falling back",
			slog.String("body", truncate(string(body), 256)),
		)
		c.incr(&c.failedRequests)
		return BatchOutcome{Handled: false}
	}

	if len(outcome.Results) == 0 && len(outcome.Errors) == 0 {
		// Ambiguous empty response: treat as non-handling so no work is
		// silently dropped.
		c.logger.Warn("Batch transcription returned no results and no errors, falling back")
		return BatchOutcome{Handled: false}
	}

	c.incr(&c.successRequests)
	c.observeResponseTime(time.Since(startTime))
	return outcome
}

// uploadOne performs a single multipart upload using the given field name.
func (c *Client) uploadOne(ctx context.Context, file File, field string) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fw, err := writer.CreateFormFile(field, file.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fw.Write(file.Data); err != nil {
		return "", fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	c.setHeaders(req, writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnprocessableEntity && field == fieldFile {
		return "", &fieldNameError{status: resp.StatusCode, body: string(body)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("HTTP error %d: %s", resp.StatusCode, truncate(string(body), 256))
	}

	return parseTextResponse(body, resp.Header.Get("Content-Type"))
}

// setHeaders applies the shared request headers including configured auth.
func (c *Client) setHeaders(req *http.Request, contentType string) {
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.config.AuthHeader != "" && c.config.AuthValue != "" {
		req.Header.Set(c.config.AuthHeader, c.config.AuthValue)
	}
}

// fieldNameError marks a schema-validation rejection of the multipart
// field name, which triggers one retry with the alternate name.
type fieldNameError struct {
	status int
	body   string
}

func (e *fieldNameError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.status, truncate(e.body, 256))
}

// parseTextResponse extracts transcribed text from a plain-text or JSON
// response body. JSON bodies carry the text under "transcription" or
// "text".
func parseTextResponse(body []byte, contentType string) (string, error) {
	trimmed := bytes.TrimSpace(body)
	looksJSON := strings.Contains(contentType, "application/json") ||
		(len(trimmed) > 0 && trimmed[0] == '{')

	if looksJSON {
		var parsed struct {
			Transcription string `json:"transcription"`
			Text          string `json:"text"`
		}
		if err := json.Unmarshal(trimmed, &parsed); err != nil {
			return "", fmt.Errorf("failed to parse response JSON: %w", err)
		}
		if parsed.Transcription != "" {
			return parsed.Transcription, nil
		}
		return parsed.Text, nil
	}

	return string(trimmed), nil
}

// batchEntry tolerates the field name variants batch endpoints use.
type batchEntry struct {
	Filename      string `json:"filename"`
	Transcription string `json:"transcription"`
	Text          string `json:"text"`
	Error         string `json:"error"`
	Detail        string `json:"detail"`
	Message       string `json:"message"`
}

func (e *batchEntry) text() string {
	if e.Transcription != "" {
		return e.Transcription
	}
	return e.Text
}

func (e *batchEntry) reason() string {
	switch {
	case e.Error != "":
		return e.Error
	case e.Detail != "":
		return e.Detail
	case e.Message != "":
		return e.Message
	}
	return "unknown error"
}

// parseBatchResponse decodes a {results, errors} batch response body.
func parseBatchResponse(body []byte) (BatchOutcome, bool) {
	var parsed struct {
		Results []batchEntry `json:"results"`
		Errors  []batchEntry `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return BatchOutcome{}, false
	}

	outcome := BatchOutcome{Handled: true}
	for _, r := range parsed.Results {
		outcome.Results = append(outcome.Results, FileResult{Filename: r.Filename, Text: r.text()})
	}
	for _, e := range parsed.Errors {
		outcome.Errors = append(outcome.Errors, FileError{Filename: e.Filename, Reason: e.reason()})
	}
	return outcome, true
}

// isRetryable reports whether an upload failure is worth retrying.
func isRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	if strings.Contains(msg, "HTTP error 5") || strings.Contains(msg, "HTTP error 429") {
		return true
	}
	return strings.Contains(msg, "connection") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "refused")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func (c *Client) incr(counter *uint64) {
	c.mu.Lock()
	*counter++
	c.mu.Unlock()
}

func (c *Client) observeResponseTime(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.avgResponseTime == 0 {
		c.avgResponseTime = d
	} else {
		c.avgResponseTime = (c.avgResponseTime + d) / 2
	}
}

// GetStats returns current client statistics.
func (c *Client) GetStats() ClientStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
	}
}

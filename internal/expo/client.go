// Package expo is a client for the Expo push notification service. It covers
// the two calls a sender needs: sending messages for tickets and fetching the
// delivery receipts for those tickets later.
package expo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the public Expo API host.
	DefaultBaseURL = "https://exp.host"

	sendPath     = "/--/api/v2/push/send"
	receiptsPath = "/--/api/v2/push/getReceipts"

	// MaxMessagesPerChunk is the most messages Expo accepts in one send call.
	MaxMessagesPerChunk = 100
	// MaxReceiptIDsPerChunk is the most ticket ids Expo accepts in one receipt call.
	MaxReceiptIDsPerChunk = 300
)

// ErrCircuitOpen is returned while the breaker rejects calls to Expo.
var ErrCircuitOpen = errors.New("expo circuit breaker is open")

// APIError is a non-retryable error response from Expo.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("expo api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
}

// Config holds the Expo client configuration.
type Config struct {
	BaseURL     string        // default: https://exp.host
	AccessToken string        // optional, required when enhanced push security is on
	Timeout     time.Duration // per HTTP attempt
	MaxRetries  int           // retries on 429/5xx/transport errors
	MinWait     time.Duration
	MaxWait     time.Duration
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSleepFunc overrides the wait between retries. Tests use it to skip
// delays. The context is still checked once the function returns.
func WithSleepFunc(fn func(time.Duration)) Option {
	return func(c *Client) { c.sleep = fn }
}

// Client talks to the Expo push API.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	breaker     *gobreaker.CircuitBreaker[*rawResponse]
	maxRetries  int
	minWait     time.Duration
	maxWait     time.Duration
	sleep       func(time.Duration)
	logger      *zap.Logger
}

type rawResponse struct {
	status     int
	body       []byte
	retryAfter time.Duration
}

type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type sendResponse struct {
	Data   []Ticket       `json:"data"`
	Errors []apiErrorBody `json:"errors"`
}

type receiptsRequest struct {
	IDs []string `json:"ids"`
}

type receiptsResponse struct {
	Data   map[string]Receipt `json:"data"`
	Errors []apiErrorBody     `json:"errors"`
}

// NewClient creates a new Expo push client.
func NewClient(cfg Config, logger *zap.Logger, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MinWait == 0 {
		cfg.MinWait = 500 * time.Millisecond
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = 10 * time.Second
	}

	c := &Client{
		baseURL:     cfg.BaseURL,
		accessToken: cfg.AccessToken,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		maxRetries:  cfg.MaxRetries,
		minWait:     cfg.MinWait,
		maxWait:     cfg.MaxWait,
		logger:      logger,
	}

	c.breaker = gobreaker.NewCircuitBreaker[*rawResponse](gobreaker.Settings{
		Name:        "expo",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ChunkMessages splits messages into send-sized chunks, preserving order.
func (c *Client) ChunkMessages(messages []Message) [][]Message {
	return chunk(messages, MaxMessagesPerChunk)
}

// ChunkReceiptIDs splits ticket ids into receipt-query-sized chunks, preserving order.
func (c *Client) ChunkReceiptIDs(ids []string) [][]string {
	return chunk(ids, MaxReceiptIDsPerChunk)
}

// Send pushes one chunk of messages. The returned tickets line up by index
// with the messages.
func (c *Client) Send(ctx context.Context, messages []Message) ([]Ticket, error) {
	if len(messages) == 0 {
		return nil, nil
	}
	if len(messages) > MaxMessagesPerChunk {
		return nil, fmt.Errorf("chunk of %d messages exceeds limit of %d", len(messages), MaxMessagesPerChunk)
	}

	body, err := c.post(ctx, sendPath, messages)
	if err != nil {
		return nil, err
	}

	var resp sendResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse send response: %w", err)
	}
	if len(resp.Data) == 0 && len(resp.Errors) > 0 {
		return nil, &APIError{StatusCode: http.StatusOK, Code: resp.Errors[0].Code, Message: resp.Errors[0].Message}
	}
	if len(resp.Data) != len(messages) {
		return nil, fmt.Errorf("expected %d tickets, got %d", len(messages), len(resp.Data))
	}

	c.logger.Debug("push chunk sent", zap.Int("messages", len(messages)))

	return resp.Data, nil
}

// FetchReceipts returns the receipts that are ready for the given ticket ids.
// Ids without a receipt yet are simply absent from the map.
func (c *Client) FetchReceipts(ctx context.Context, ids []string) (map[string]Receipt, error) {
	if len(ids) == 0 {
		return map[string]Receipt{}, nil
	}
	if len(ids) > MaxReceiptIDsPerChunk {
		return nil, fmt.Errorf("chunk of %d receipt ids exceeds limit of %d", len(ids), MaxReceiptIDsPerChunk)
	}

	body, err := c.post(ctx, receiptsPath, receiptsRequest{IDs: ids})
	if err != nil {
		return nil, err
	}

	var resp receiptsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse receipts response: %w", err)
	}
	if resp.Data == nil && len(resp.Errors) > 0 {
		return nil, &APIError{StatusCode: http.StatusOK, Code: resp.Errors[0].Code, Message: resp.Errors[0].Message}
	}
	if resp.Data == nil {
		resp.Data = map[string]Receipt{}
	}

	c.logger.Debug("push receipts fetched",
		zap.Int("requested", len(ids)),
		zap.Int("returned", len(resp.Data)),
	)

	return resp.Data, nil
}

// post sends a JSON body through the breaker, retrying on 429, 5xx and
// transport errors. Any other non-2xx status is returned as *APIError.
func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := c.breaker.Execute(func() (*rawResponse, error) {
			return c.do(ctx, path, body)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		if err == nil {
			if resp.status >= 300 {
				return nil, parseAPIError(resp)
			}
			return resp.body, nil
		}

		lastErr = err
		if attempt == c.maxRetries {
			break
		}

		wait := c.backoff(attempt)
		if resp != nil && resp.retryAfter > 0 {
			wait = min(resp.retryAfter, c.maxWait)
		}
		c.logger.Warn("expo request failed, retrying",
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if err := c.wait(ctx, wait); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("expo request %s failed after %d attempts: %w", path, c.maxRetries+1, lastErr)
}

// do performs one HTTP attempt. 429 and 5xx come back as errors so the
// breaker counts them.
func (c *Client) do(ctx context.Context, path string, body []byte) (*rawResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "verdant/1.0")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	resp := &rawResponse{
		status:     httpResp.StatusCode,
		body:       respBody,
		retryAfter: parseRetryAfter(httpResp.Header.Get("Retry-After")),
	}

	if resp.status == http.StatusTooManyRequests || resp.status >= 500 {
		return resp, fmt.Errorf("upstream returned %d", resp.status)
	}
	return resp, nil
}

func (c *Client) wait(ctx context.Context, d time.Duration) error {
	if c.sleep != nil {
		c.sleep(d)
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	wait := c.minWait << attempt
	if wait <= 0 || wait > c.maxWait {
		wait = c.maxWait
	}
	return wait
}

func parseAPIError(resp *rawResponse) error {
	apiErr := &APIError{StatusCode: resp.status}
	var parsed struct {
		Errors []apiErrorBody `json:"errors"`
	}
	if err := json.Unmarshal(resp.body, &parsed); err == nil && len(parsed.Errors) > 0 {
		apiErr.Code = parsed.Errors[0].Code
		apiErr.Message = parsed.Errors[0].Message
	} else {
		apiErr.Message = string(resp.body)
	}
	return apiErr
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

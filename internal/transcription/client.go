package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/qxb-in/ot/internal/metrics"
	"github.com/qxb-in/ot/internal/provider"
	"github.com/qxb-in/ot/internal/proxyerr"
)

// Client runs batch transcriptions against a vendor with bounded
// concurrency and retries of transient failures
type Client struct {
	config    Config
	batch     provider.BatchTranscriber
	logger    *slog.Logger
	metrics   *metrics.Metrics
	semaphore chan struct{} // Concurrency limit

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains transcription client configuration
type Config struct {
	Timeout       time.Duration // per request, including vendor polling
	MaxRetries    int
	MaxConcurrent int
	MaxFileSize   int64
	NewBackOff    func() backoff.BackOff // nil selects exponential backoff
}

// ClientStats represents client statistics
type ClientStats struct {
	Vendor          string        `json:"vendor"`
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// NewClient creates a new batch transcription client
func NewClient(config Config, batch provider.BatchTranscriber, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if batch == nil {
		return nil, fmt.Errorf("batch transcriber cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if config.Timeout <= 0 {
		config.Timeout = 300 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	if config.NewBackOff == nil {
		config.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 30 * time.Second
			return b
		}
	}

	return &Client{
		config:    config,
		batch:     batch,
		logger:    logger,
		metrics:   m,
		semaphore: make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// TranscribeBatch transcribes one complete audio file
func (c *Client) TranscribeBatch(ctx context.Context, data []byte, filename string) (string, error) {
	if len(data) == 0 {
		return "", proxyerr.New(proxyerr.KindInvalidConfig, "audio file is empty")
	}
	if c.config.MaxFileSize > 0 && int64(len(data)) > c.config.MaxFileSize {
		return "", proxyerr.New(proxyerr.KindInvalidConfig,
			"audio file is %d bytes, limit is %d", len(data), c.config.MaxFileSize)
	}

	// Acquire semaphore for concurrency limiting
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	startTime := time.Now()
	c.incrementTotalRequests()
	c.metrics.RecordTranscriptionRequest()

	attempt := 0
	text, err := backoff.Retry(ctx, func() (string, error) {
		attempt++
		if attempt > 1 {
			c.incrementTotalRetries()
			c.metrics.RecordTranscriptionRetry()
		}

		text, err := c.batch.TranscribeBatch(ctx, data, filename)
		if err == nil {
			return text, nil
		}
		if !proxyerr.IsRetryable(err) {
			return "", backoff.Permanent(err)
		}
		c.logger.Warn("Transcription attempt failed, retrying",
			slog.String("vendor", c.batch.Name()),
			slog.String("filename", filename),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		return "", err
	},
		backoff.WithBackOff(c.config.NewBackOff()),
		backoff.WithMaxTries(uint(c.config.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
	)

	elapsed := time.Since(startTime)
	if err != nil {
		c.incrementFailedRequests()
		c.metrics.RecordTranscriptionFailure(elapsed.Seconds())
		c.logger.Error("Transcription failed",
			slog.String("vendor", c.batch.Name()),
			slog.String("filename", filename),
			slog.Int("attempts", attempt),
			slog.String("error", err.Error()),
		)
		return "", err
	}

	c.incrementSuccessRequests()
	c.updateAvgResponseTime(elapsed)
	c.metrics.RecordTranscriptionSuccess(elapsed.Seconds())
	c.logger.Info("Transcription completed",
		slog.String("vendor", c.batch.Name()),
		slog.String("filename", filename),
		slog.Int("bytes", len(data)),
		slog.Int("text_length", len(text)),
		slog.Duration("duration", elapsed),
	)
	return text, nil
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

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
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
		Vendor:          c.batch.Name(),
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}

// Close waits for active requests to complete
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}
	return nil
}

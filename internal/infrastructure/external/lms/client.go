// Package lms implements the client for the LMS backend of record. The
// backend owns all persisted progress and completion authority; this client
// only reads and proposes. Transport failures are contained here: rate
// limiting, circuit breaking and error classification keep the engine's
// view of the boundary clean.
package lms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/afritech-bridge/progress-engine/internal/application/tracking"
	"github.com/afritech-bridge/progress-engine/internal/domain/lesson"
	"github.com/afritech-bridge/progress-engine/internal/domain/shared"
	"github.com/afritech-bridge/progress-engine/pkg/circuitbreaker"
	"github.com/afritech-bridge/progress-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for the LMS client.
type Config struct {
	// BaseURL is the LMS API base URL.
	BaseURL string

	// APIToken authenticates this service against the LMS.
	APIToken string

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration

	// RequestsPerSecond caps the outbound request rate.
	RequestsPerSecond float64

	// Burst is the rate limiter burst size.
	Burst int

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for the given base URL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:           baseURL,
		Timeout:           8 * time.Second,
		RequestsPerSecond: 50,
		Burst:             25,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client talks to the LMS API. Implements tracking.BackendOfRecord.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *circuitbreaker.Breaker
	log        *slog.Logger
}

// NewClient creates an LMS client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 50
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 25
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	settings := circuitbreaker.LMSSettings(func(name string, from, to circuitbreaker.State) {
		cfg.Logger.Warn("circuit breaker state change",
			"breaker", name, "from", from.String(), "to", to.String())
	})
	// Refusals, "already completed" and auth errors are answers, not outages.
	settings.IsFailure = func(err error) bool {
		var refusalErr *tracking.RefusalError
		var alreadyDone *tracking.AlreadyCompletedError
		if err == nil || errors.As(err, &refusalErr) || errors.As(err, &alreadyDone) {
			return false
		}
		return !errors.Is(err, shared.ErrUnauthorized)
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker:    circuitbreaker.New(settings),
		log:        cfg.Logger,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// BACKEND OF RECORD OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// FetchProgress implements tracking.BackendOfRecord. A 404 means the student
// has never touched the lesson: nil progress, no error.
func (c *Client) FetchProgress(ctx context.Context, studentID string, lessonID lesson.ID) (*lesson.PersistedProgress, error) {
	path := fmt.Sprintf("/api/v1/lessons/%s/progress?student_id=%s",
		url.PathEscape(lessonID.String()), url.QueryEscape(studentID))

	var dto progressDTO
	status, err := c.do(ctx, http.MethodGet, path, nil, &dto)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch progress for %s: %w", lessonID, err)
	}

	return progressFromDTO(dto), nil
}

// SaveProgress implements tracking.BackendOfRecord.
func (c *Client) SaveProgress(ctx context.Context, studentID string, lessonID lesson.ID, w tracking.ProgressWrite) (*lesson.SaveAck, error) {
	path := fmt.Sprintf("/api/v1/lessons/%s/progress?student_id=%s",
		url.PathEscape(lessonID.String()), url.QueryEscape(studentID))

	var dto saveAckDTO
	if _, err := c.do(ctx, http.MethodPut, path, writeToDTO(w), &dto); err != nil {
		return nil, fmt.Errorf("save progress for %s: %w", lessonID, err)
	}

	return saveAckFromDTO(dto), nil
}

// CompleteLesson implements tracking.BackendOfRecord. Refusals come back as
// *tracking.RefusalError with the structured detail the LMS provided.
func (c *Client) CompleteLesson(ctx context.Context, studentID string, lessonID lesson.ID, req tracking.CompletionRequest) (*lesson.Confirmation, error) {
	path := fmt.Sprintf("/api/v1/lessons/%s/complete?student_id=%s",
		url.PathEscape(lessonID.String()), url.QueryEscape(studentID))

	var dto confirmationDTO
	if _, err := c.do(ctx, http.MethodPost, path, completeToDTO(req), &dto); err != nil {
		return nil, fmt.Errorf("complete lesson %s: %w", lessonID, err)
	}

	return confirmationFromDTO(dto), nil
}

// Healthy reports whether the LMS API answers its health endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	status, err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, nil)
	return err == nil && status == http.StatusOK
}

// BreakerState exposes the circuit breaker state for diagnostics.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSPORT
// ══════════════════════════════════════════════════════════════════════════════

// do performs one HTTP exchange through the rate limiter and the breaker.
// It returns the HTTP status (0 when the request never left) alongside the
// classified error.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, result interface{}) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	var status int
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		var opErr error
		status, opErr = c.exchange(ctx, method, path, body, result)
		return opErr
	})
	if errors.Is(err, circuitbreaker.ErrOpen) || errors.Is(err, circuitbreaker.ErrProbeInFlight) {
		// The breaker cooling down is as transient as the outage it guards.
		return 0, retry.Transient(err)
	}
	return status, err
}

// exchange performs the single request/response cycle.
func (c *Client) exchange(ctx context.Context, method, path string, body interface{}, result interface{}) (int, error) {
	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, retry.Transient(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, retry.Transient(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 400 {
		var apiErr apiErrorDTO
		_ = json.Unmarshal(respBody, &apiErr)
		return resp.StatusCode, mapError(resp.StatusCode, apiErr)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return resp.StatusCode, fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return resp.StatusCode, nil
}

package dialogue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/tellerbot/internal/config"
	"github.com/ashureev/tellerbot/internal/domain"
)

// maxResponseSize caps the body read from the backend (1MB).
const maxResponseSize = 1 << 20

var (
	// ErrUnavailable means the backend could not be reached after all retries.
	ErrUnavailable = errors.New("dialogue backend unavailable")
	// ErrMalformedResponse means the backend answered with something that is not a turn response.
	ErrMalformedResponse = errors.New("malformed dialogue response")
	// ErrRejected means the backend refused the request with a 4xx status.
	ErrRejected = errors.New("dialogue request rejected")
)

// Turner runs one turn against the backend.
type Turner interface {
	Turn(ctx context.Context, endpoint string, req Request) (*Response, error)
}

// Client is an HTTP client for the dialogue backend.
type Client struct {
	http       *http.Client
	baseURL    string
	timeout    time.Duration
	maxRetries int
	retryBase  time.Duration
	logger     *slog.Logger
	offline    atomic.Bool
	onStatus   func(online bool)
}

// NewClient creates a backend client from configuration.
func NewClient(cfg config.BackendConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	base := cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	return &Client{
		http:       &http.Client{},
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		timeout:    timeout,
		maxRetries: max(cfg.MaxRetries, 0),
		retryBase:  base,
		logger:     logger,
	}
}

// OnStatus registers fn to be called whenever reachability flips.
func (c *Client) OnStatus(fn func(online bool)) {
	c.onStatus = fn
}

// Offline reports whether the last turn failed to reach the backend.
func (c *Client) Offline() bool {
	return c.offline.Load()
}

// Turn posts req to endpoint and decodes the reply. Transport errors and 5xx
// responses are retried with exponential backoff; each attempt gets its own
// timeout.
func (c *Client) Turn(ctx context.Context, endpoint string, req Request) (*Response, error) {
	if req.Messages == nil {
		req.Messages = []domain.Turn{}
	}
	if req.SubstepFlags == nil {
		req.SubstepFlags = map[string]bool{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode turn request: %w", err)
	}
	url := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryBase * time.Duration(1<<(attempt-1))
			c.logger.Warn("Retrying dialogue backend", "url", url, "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("dialogue turn canceled: %w", ctx.Err())
			}
		}

		resp, retry, err := c.post(ctx, url, body)
		if err == nil {
			c.setOnline(true)
			return resp, nil
		}
		// A caller that gave up says nothing about the backend's health.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("dialogue turn canceled: %w", ctx.Err())
		}
		lastErr = err
		if !retry {
			if errors.Is(err, ErrMalformedResponse) || errors.Is(err, ErrRejected) {
				c.setOnline(true)
			}
			return nil, err
		}
	}

	c.setOnline(false)
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrUnavailable, c.maxRetries+1, lastErr)
}

// post makes one attempt. The bool reports whether the failure is retryable.
func (c *Client) post(ctx context.Context, url string, body []byte) (*Response, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build turn request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, true, fmt.Errorf("post turn: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, true, fmt.Errorf("read turn response: %w", err)
	}

	switch {
	case httpResp.StatusCode >= http.StatusInternalServerError:
		return nil, true, fmt.Errorf("backend returned %d", httpResp.StatusCode)
	case httpResp.StatusCode >= http.StatusBadRequest:
		return nil, false, fmt.Errorf("%w: status %d", ErrRejected, httpResp.StatusCode)
	}

	resp, err := c.decode(data)
	if err != nil {
		return nil, false, err
	}
	return resp, false, nil
}

// decode parses a turn response. A JSON null body is an empty response.
func (c *Client) decode(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if resp.HasState() && !IsObject(resp.State) {
		c.logger.Warn("Dropping non-object state from dialogue backend", "state", string(resp.State))
		resp.State = nil
	}
	return &resp, nil
}

// IsObject reports whether raw is a JSON object.
func IsObject(raw json.RawMessage) bool {
	var s structpb.Struct
	return protojson.Unmarshal(raw, &s) == nil
}

func (c *Client) setOnline(online bool) {
	wasOffline := c.offline.Swap(!online)
	if wasOffline == !online {
		return
	}
	if online {
		c.logger.Info("Dialogue backend reachable again", "url", c.baseURL)
	} else {
		c.logger.Error("Dialogue backend offline", "url", c.baseURL)
	}
	if c.onStatus != nil {
		c.onStatus(online)
	}
}

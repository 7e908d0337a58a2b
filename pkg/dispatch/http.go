package dispatch

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
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/deskflow/deskflow/pkg/engine"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	defaultMaxTries    = 3
)

var (
	// ErrRemoteRejected is returned when the support platform answers 4xx. It is never retried.
	ErrRemoteRejected = errors.New("request rejected by support platform")
	// ErrRemoteUnavailable is returned when the support platform keeps answering 5xx.
	ErrRemoteUnavailable = errors.New("support platform unavailable")
	// ErrInvalidEndpoint is returned for a missing or malformed base URL.
	ErrInvalidEndpoint = errors.New("invalid support platform endpoint")
)

// HTTPConfig configures the HTTP dispatcher.
type HTTPConfig struct {
	BaseURL string
	Token   string
	// Timeout bounds each attempt. Zero means 10s.
	Timeout time.Duration
	// MaxTries bounds attempts per call, including the first. Zero means 3.
	MaxTries uint
	// InitialInterval is the first retry delay. Zero keeps the backoff default.
	InitialInterval time.Duration
}

// HTTPDispatcher forwards actions, agent tasks, room requests and
// verifications to the support platform as JSON POSTs:
//
//	POST {base}/actions
//	POST {base}/agents/assignments
//	POST {base}/rooms
//	POST {base}/verifications
type HTTPDispatcher struct {
	config HTTPConfig
	base   *url.URL
	client *http.Client
	logger *slog.Logger
}

func NewHTTPDispatcher(config HTTPConfig, logger *slog.Logger) (*HTTPDispatcher, error) {
	base, err := url.Parse(strings.TrimSuffix(config.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEndpoint, config.BaseURL)
	}

	if config.Timeout <= 0 {
		config.Timeout = defaultHTTPTimeout
	}

	if config.MaxTries == 0 {
		config.MaxTries = defaultMaxTries
	}

	return &HTTPDispatcher{
		config: config,
		base:   base,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger.With("module", "http_dispatcher", "endpoint", base.String()),
	}, nil
}

// Collaborators wires the dispatcher into the slots it serves. Escalations
// go through a queue, not the platform API.
func (d *HTTPDispatcher) Collaborators(escalator engine.Escalator) engine.Collaborators {
	return engine.Collaborators{
		Actions:     d,
		Agents:      d,
		Escalations: escalator,
		ChatRooms:   d,
		Verifier:    d,
	}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, intent engine.ActionIntent) (engine.ActionOutcome, error) {
	var outcome engine.ActionOutcome
	if err := d.post(ctx, "/actions", intent, &outcome); err != nil {
		return engine.ActionOutcome{}, err
	}

	if outcome.Status == "" {
		outcome.Status = "accepted"
	}

	return outcome, nil
}

func (d *HTTPDispatcher) Assign(ctx context.Context, task engine.AgentTask) (engine.AgentAssignment, error) {
	var assignment engine.AgentAssignment
	if err := d.post(ctx, "/agents/assignments", task, &assignment); err != nil {
		return engine.AgentAssignment{}, err
	}

	return assignment, nil
}

func (d *HTTPDispatcher) CreateRoom(ctx context.Context, req engine.RoomRequest) (engine.Room, error) {
	var room engine.Room
	if err := d.post(ctx, "/rooms", req, &room); err != nil {
		return engine.Room{}, err
	}

	if room.Name == "" {
		room.Name = req.Name
	}

	return room, nil
}

func (d *HTTPDispatcher) Verify(ctx context.Context, req engine.VerificationRequest) (bool, error) {
	var verdict struct {
		Passed bool `json:"passed"`
	}
	if err := d.post(ctx, "/verifications", req, &verdict); err != nil {
		return false, err
	}

	return verdict.Passed, nil
}

func (d *HTTPDispatcher) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := d.base.JoinPath(path).String()

	b := backoff.NewExponentialBackOff()
	if d.config.InitialInterval > 0 {
		b.InitialInterval = d.config.InitialInterval
	}

	attempt := 0
	data, err := backoff.Retry(ctx, func() ([]byte, error) {
		attempt++

		return d.do(ctx, endpoint, body)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(d.config.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			d.logger.WarnContext(ctx, "retrying support platform call",
				"path", path, "attempt", attempt, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		return err
	}

	if len(bytes.TrimSpace(data)) == 0 || out == nil {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}

	return nil
}

func (d *HTTPDispatcher) do(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if d.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.config.Token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}

	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			d.logger.ErrorContext(ctx, "failed to close response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrRemoteUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, backoff.Permanent(fmt.Errorf("%w: status %d: %s", ErrRemoteRejected, resp.StatusCode, strings.TrimSpace(string(data))))
	}

	return data, nil
}

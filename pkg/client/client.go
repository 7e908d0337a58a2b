// Package client is a Go client for the Deskflow workflow API.
package client

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

	"github.com/cenkalti/backoff/v5"
	"github.com/moogar0880/problems"

	"github.com/deskflow/deskflow/pkg/graph"
	"github.com/deskflow/deskflow/pkg/models"
	"github.com/deskflow/deskflow/pkg/web"
)

const (
	apiPrefix      = "/api/v1"
	defaultTimeout = 30 * time.Second
	defaultRetries = 3
)

var ErrInvalidBaseURL = errors.New("invalid API base URL")

// APIError is returned for every non-2xx answer. Problem holds the decoded
// problem document when the server sent one.
type APIError struct {
	StatusCode int
	Problem    *problems.DefaultProblem
	Body       string
}

func (e *APIError) Error() string {
	if e.Problem != nil && e.Problem.Detail != "" {
		return fmt.Sprintf("deskflow api: status %d: %s", e.StatusCode, e.Problem.Detail)
	}

	return fmt.Sprintf("deskflow api: status %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError

	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Token is the bearer token issued by POST /auth/token.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type Client struct {
	base       *url.URL
	httpClient *http.Client
	maxTries   uint

	mu    sync.RWMutex
	token string
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithMaxTries bounds attempts of idempotent reads. Writes are never retried.
func WithMaxTries(tries uint) Option {
	return func(c *Client) {
		c.maxTries = max(tries, 1)
	}
}

// New creates a client for the server at baseURL, e.g. http://localhost:9091.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}

	c := &Client{
		base:       base,
		httpClient: &http.Client{Timeout: defaultTimeout},
		maxTries:   defaultRetries,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Login exchanges credentials for a bearer token and uses it on later calls.
func (c *Client) Login(ctx context.Context, username, password string) (*Token, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := c.newRequest(ctx, http.MethodPost, "/auth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var token Token

	err = c.do(req, &token)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.token = token.AccessToken
	c.mu.Unlock()

	return &token, nil
}

type graphRequest struct {
	Name      string         `json:"name,omitempty"`
	GraphJSON string         `json:"graph_json,omitempty"`
	Ticket    *models.Ticket `json:"ticket,omitempty"`
	Async     bool           `json:"async,omitempty"`
}

func encodeGraph(g *models.Graph) (string, error) {
	data, err := graph.Encode(g)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func (c *Client) CreateWorkflow(ctx context.Context, name string, g *models.Graph) (*models.Workflow, error) {
	graphJSON, err := encodeGraph(g)
	if err != nil {
		return nil, err
	}

	var workflow models.Workflow

	err = c.sendJSON(ctx, http.MethodPost, "/workflows", graphRequest{Name: name, GraphJSON: graphJSON}, &workflow)
	if err != nil {
		return nil, err
	}

	return &workflow, nil
}

func (c *Client) UpdateWorkflow(ctx context.Context, id, name string, g *models.Graph) (*models.Workflow, error) {
	graphJSON, err := encodeGraph(g)
	if err != nil {
		return nil, err
	}

	var workflow models.Workflow

	err = c.sendJSON(ctx, http.MethodPut, "/workflows/"+url.PathEscape(id), graphRequest{Name: name, GraphJSON: graphJSON}, &workflow)
	if err != nil {
		return nil, err
	}

	return &workflow, nil
}

func (c *Client) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	var workflow models.Workflow

	err := c.get(ctx, "/workflows/"+url.PathEscape(id), &workflow)
	if err != nil {
		return nil, err
	}

	return &workflow, nil
}

func (c *Client) DeleteWorkflow(ctx context.Context, id string) error {
	return c.sendJSON(ctx, http.MethodDelete, "/workflows/"+url.PathEscape(id), nil, nil)
}

// Validate runs the server-side validator over g.
func (c *Client) Validate(ctx context.Context, g *models.Graph) (*web.ValidationResponse, error) {
	graphJSON, err := encodeGraph(g)
	if err != nil {
		return nil, err
	}

	var result web.ValidationResponse

	err = c.sendJSON(ctx, http.MethodPost, "/workflows/validate", graphRequest{GraphJSON: graphJSON}, &result)
	if err != nil {
		return nil, err
	}

	return &result, nil
}

// ExecuteWorkflow runs an unsaved graph against ticket and waits for the result.
func (c *Client) ExecuteWorkflow(ctx context.Context, g *models.Graph, ticket *models.Ticket) (*web.ExecutionResponse, error) {
	graphJSON, err := encodeGraph(g)
	if err != nil {
		return nil, err
	}

	var result web.ExecutionResponse

	err = c.sendJSON(ctx, http.MethodPost, "/workflows/execute", graphRequest{GraphJSON: graphJSON, Ticket: ticket}, &result)
	if err != nil {
		return nil, err
	}

	return &result, nil
}

// ExecuteStoredWorkflow runs a saved workflow. With async set the server
// answers as soon as the run has started.
func (c *Client) ExecuteStoredWorkflow(ctx context.Context, id string, ticket *models.Ticket, async bool) (*web.ExecutionResponse, error) {
	var result web.ExecutionResponse

	err := c.sendJSON(ctx, http.MethodPost, "/workflows/"+url.PathEscape(id)+"/execute", graphRequest{Ticket: ticket, Async: async}, &result)
	if err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *Client) GetExecution(ctx context.Context, id string) (*web.ExecutionResponse, error) {
	var result web.ExecutionResponse

	err := c.get(ctx, "/executions/"+url.PathEscape(id), &result)
	if err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *Client) CancelExecution(ctx context.Context, id string) error {
	return c.sendJSON(ctx, http.MethodDelete, "/executions/"+url.PathEscape(id), nil, nil)
}

// ExportWorkflow downloads the workflow.json document of a saved workflow.
func (c *Client) ExportWorkflow(ctx context.Context, id string) ([]byte, error) {
	var raw json.RawMessage

	err := c.get(ctx, "/workflows/"+url.PathEscape(id)+"/export", &raw)
	if err != nil {
		return nil, err
	}

	return raw, nil
}

// ImportWorkflow creates a workflow from a workflow.json document.
func (c *Client) ImportWorkflow(ctx context.Context, document []byte) (*models.Workflow, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/workflows/import", bytes.NewReader(document))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	var workflow models.Workflow

	err = c.do(req, &workflow)
	if err != nil {
		return nil, err
	}

	return &workflow, nil
}

func (c *Client) sendJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}

		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, out)
}

// get retries transport failures and 5xx answers with exponential backoff.
func (c *Client) get(ctx context.Context, path string, out any) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		req, err := c.newRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}

		err = c.do(req, out)

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
			return struct{}{}, backoff.Permanent(err)
		}

		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries),
	)

	return err
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	endpoint := c.base.JoinPath(apiPrefix, path).String()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deskflow api: %s %s: %w", req.Method, req.URL.Path, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}

		var problem problems.DefaultProblem
		if json.Unmarshal(data, &problem) == nil && (problem.Type != "" || problem.Detail != "") {
			apiErr.Problem = &problem
		}

		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	err = json.Unmarshal(data, out)
	if err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", req.URL.Path, err)
	}

	return nil
}

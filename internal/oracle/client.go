package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/core"
)

// NextPageHeader carries the absolute url of the next page of operations
const NextPageHeader = "x-craft-ai-next-page-url"

// ErrUnauthorized is returned when the token is missing or rejected
var ErrUnauthorized = errors.New("oracle: unauthorized")

// APIError is a non-2xx answer of the service
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("oracle API error %d: %s", e.Status, e.Message)
}

// Is maps status codes onto the kit's sentinel errors
func (e *APIError) Is(target error) bool {
	switch target {
	case core.ErrAgentNotFound:
		return e.Status == http.StatusNotFound
	case core.ErrAgentExists:
		return e.Status == http.StatusConflict
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	}
	return false
}

// Client talks to the decision-tree service over its v1 REST API
type Client struct {
	baseURL    string
	owner      string
	project    string
	configured bool
	httpClient *http.Client
}

// Config for the service client
type Config struct {
	URL     string // Service root, e.g. https://beta.craft.ai
	Owner   string
	Project string
	Token   string
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults, reading the token from CRAFT_TOKEN
func DefaultConfig() Config {
	baseURL := os.Getenv("CRAFT_URL")
	if baseURL == "" {
		baseURL = "https://beta.craft.ai"
	}
	return Config{
		URL:     baseURL,
		Token:   os.Getenv("CRAFT_TOKEN"),
		Timeout: 60 * time.Second,
	}
}

// NewClient creates a new service client
func NewClient(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = "https://beta.craft.ai"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	httpClient := &http.Client{}
	if cfg.Token != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
		httpClient = oauth2.NewClient(context.Background(), src)
	}
	httpClient.Timeout = cfg.Timeout

	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		owner:      cfg.Owner,
		project:    cfg.Project,
		configured: cfg.Token != "" && cfg.Owner != "" && cfg.Project != "",
		httpClient: httpClient,
	}
}

// IsConfigured checks if token, owner and project are set
func (c *Client) IsConfigured() bool {
	return c.configured
}

func (c *Client) endpoint(path string) string {
	return fmt.Sprintf("%s/api/v1/%s/%s%s", c.baseURL, url.PathEscape(c.owner), url.PathEscape(c.project), path)
}

func agentPath(agentID string, suffix string) string {
	return "/agents/" + url.PathEscape(agentID) + suffix
}

// ListAgents returns the ids of every agent of the project
func (c *Client) ListAgents(ctx context.Context) ([]string, error) {
	var resp struct {
		AgentsList []string `json:"agentsList"`
	}
	if _, err := c.do(ctx, http.MethodGet, c.endpoint("/agents"), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	return resp.AgentsList, nil
}

// CreateAgent creates agentID with the given configuration
func (c *Client) CreateAgent(ctx context.Context, cfg Configuration, agentID string) error {
	body := struct {
		ID            string        `json:"id"`
		Configuration Configuration `json:"configuration"`
	}{ID: agentID, Configuration: cfg}

	if _, err := c.do(ctx, http.MethodPost, c.endpoint("/agents"), body, nil); err != nil {
		return fmt.Errorf("failed to create agent %s: %w", agentID, err)
	}
	return nil
}

// GetAgent returns what the service knows about agentID
func (c *Client) GetAgent(ctx context.Context, agentID string) (*AgentInfo, error) {
	var info AgentInfo
	if _, err := c.do(ctx, http.MethodGet, c.endpoint(agentPath(agentID, "")), nil, &info); err != nil {
		return nil, fmt.Errorf("failed to get agent %s: %w", agentID, err)
	}
	if info.ID == "" {
		info.ID = agentID
	}
	return &info, nil
}

// GetAgentContext returns the agent state at timestamp
func (c *Client) GetAgentContext(ctx context.Context, agentID string, timestamp int64) (*ContextOperation, error) {
	u := c.endpoint(agentPath(agentID, "/context/state")) + "?t=" + strconv.FormatInt(timestamp, 10)

	var op ContextOperation
	if _, err := c.do(ctx, http.MethodGet, u, nil, &op); err != nil {
		return nil, fmt.Errorf("failed to get context of %s: %w", agentID, err)
	}
	return &op, nil
}

// GetAgentContextOperations returns the full history of agentID,
// following the pagination links of the service.
func (c *Client) GetAgentContextOperations(ctx context.Context, agentID string) ([]ContextOperation, error) {
	var all []ContextOperation
	next := c.endpoint(agentPath(agentID, "/context"))

	for next != "" {
		var page []ContextOperation
		header, err := c.do(ctx, http.MethodGet, next, nil, &page)
		if err != nil {
			return nil, fmt.Errorf("failed to get operations of %s: %w", agentID, err)
		}
		all = append(all, page...)
		next = header.Get(NextPageHeader)
	}

	return all, nil
}

// GetAgentDecisionTree returns the model of agentID as learned at timestamp
func (c *Client) GetAgentDecisionTree(ctx context.Context, agentID string, timestamp int64) (*DecisionTree, error) {
	u := c.endpoint(agentPath(agentID, "/decision/tree")) + "?t=" + strconv.FormatInt(timestamp, 10)

	var tree DecisionTree
	if _, err := c.do(ctx, http.MethodGet, u, nil, &tree); err != nil {
		return nil, fmt.Errorf("failed to get decision tree of %s: %w", agentID, err)
	}
	return &tree, nil
}

// AddAgentContextOperations appends ops to the history of agentID
func (c *Client) AddAgentContextOperations(ctx context.Context, agentID string, ops []ContextOperation) error {
	if len(ops) == 0 {
		return nil
	}
	if _, err := c.do(ctx, http.MethodPost, c.endpoint(agentPath(agentID, "/context")), ops, nil); err != nil {
		return fmt.Errorf("failed to add %d operations to %s: %w", len(ops), agentID, err)
	}
	return nil
}

// DeleteAgent removes agentID and its history
func (c *Client) DeleteAgent(ctx context.Context, agentID string) error {
	if _, err := c.do(ctx, http.MethodDelete, c.endpoint(agentPath(agentID, "")), nil, nil); err != nil {
		return fmt.Errorf("failed to delete agent %s: %w", agentID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, u string, in, out any) (http.Header, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return resp.Header, nil
}

// errorMessage extracts the message of a JSON error body, if any
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(body))
}

var _ Oracle = (*Client)(nil)

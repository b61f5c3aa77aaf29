// Package remote implements the client side of worker agent delegation:
// the agent-card handshake, the message/send call with bounded retry, and
// fire-and-forget background delegation through the dispatch queue.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pranavk/stockpilot/internal/observability"
	"github.com/pranavk/stockpilot/internal/tracing"
	"github.com/pranavk/stockpilot/pkg/dispatchqueue"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 500 * time.Millisecond
	defaultTimeout    = 5 * time.Minute
)

// Endpoint is one worker base URL to handshake with
type Endpoint struct {
	URL     string
	Timeout time.Duration
}

// ResponseHandler receives the flattened response of a background
// delegation. It runs on the delegation pool, outside any turn.
type ResponseHandler func(ctx context.Context, agentName, response string)

// Config holds client dependencies and retry tuning
type Config struct {
	Endpoints []Endpoint

	// MaxRetries is the number of retries after the first attempt
	MaxRetries int
	BaseDelay  time.Duration

	Queue      *dispatchqueue.Queue
	OnResponse ResponseHandler
	Logger     zerolog.Logger
}

type agentConn struct {
	card    AgentCard
	baseURL string
	timeout time.Duration
}

// Client holds handshaken worker connections and delegates tasks to them
type Client struct {
	endpoints  []Endpoint
	maxRetries int
	baseDelay  time.Duration
	queue      *dispatchqueue.Queue
	onResponse ResponseHandler
	logger     zerolog.Logger

	agents map[string]*agentConn
	mu     sync.RWMutex
}

// NewClient creates a client. Init must run before any Call.
func NewClient(cfg Config) (*Client, error) {
	observability.EnsureRegistered()

	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one worker endpoint is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("dispatch queue is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}

	return &Client{
		endpoints:  cfg.Endpoints,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		queue:      cfg.Queue,
		onResponse: cfg.OnResponse,
		logger:     cfg.Logger,
		agents:     make(map[string]*agentConn),
	}, nil
}

// Init fetches the agent card from every endpoint. Endpoints that fail the
// handshake are logged and skipped; they never produce a partial registry
// entry. Startup proceeds with whatever registered.
func (c *Client) Init(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "stockpilot.remote", "remote.handshake")
	defer span.End()

	for _, endpoint := range c.endpoints {
		card, err := c.fetchCard(ctx, endpoint)
		if err != nil {
			c.logger.Error().
				Str("url", endpoint.URL).
				Err(err).
				Msg("Agent card handshake failed, skipping endpoint")
			observability.RecordHandshakeFailure(endpoint.URL)
			continue
		}

		timeout := endpoint.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}

		c.mu.Lock()
		c.agents[card.Name] = &agentConn{
			card:    card,
			baseURL: endpoint.URL,
			timeout: timeout,
		}
		c.mu.Unlock()

		c.logger.Info().
			Str("agent", card.Name).
			Str("url", endpoint.URL).
			Msg("Agent registered")
	}

	c.mu.RLock()
	registered := len(c.agents)
	c.mu.RUnlock()

	observability.SetRegisteredAgents(registered)
	if registered == 0 {
		c.logger.Warn().Msg("No worker agents registered")
	}
	span.SetAttributes(attribute.Int("registered", registered))
	return nil
}

func (c *Client) fetchCard(ctx context.Context, endpoint Endpoint) (AgentCard, error) {
	timeout := endpoint.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimSuffix(endpoint.URL, "/")+WellKnownPath, nil)
	if err != nil {
		return AgentCard{}, fmt.Errorf("failed to build card request: %w", err)
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return AgentCard{}, fmt.Errorf("card request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return AgentCard{}, fmt.Errorf("card request returned status %d", resp.StatusCode)
	}

	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return AgentCard{}, fmt.Errorf("failed to decode agent card: %w", err)
	}
	if card.Name == "" {
		return AgentCard{}, fmt.Errorf("agent card has no name")
	}
	if card.URL == "" {
		card.URL = endpoint.URL
	}
	return card, nil
}

// Agents returns the registered cards sorted by name
func (c *Client) Agents() []AgentCard {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cards := make([]AgentCard, 0, len(c.agents))
	for _, conn := range c.agents {
		cards = append(cards, conn.card)
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].Name < cards[j].Name })
	return cards
}

// AgentSummary renders one JSON line per registered agent, suitable for
// embedding in the host prompt.
func (c *Client) AgentSummary() string {
	cards := c.Agents()
	if len(cards) == 0 {
		return "No agents registered"
	}

	lines := make([]string, 0, len(cards))
	for _, card := range cards {
		line, err := json.Marshal(map[string]string{
			"name":        card.Name,
			"description": card.Description,
		})
		if err != nil {
			continue
		}
		lines = append(lines, string(line))
	}
	return strings.Join(lines, "\n")
}

// message/send wire types

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      string    `json:"id"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
}

type rpcParams struct {
	Message rpcMessage `json:"message"`
}

type rpcMessage struct {
	Role      string    `json:"role"`
	Parts     []rpcPart `json:"parts"`
	MessageID string    `json:"messageId"`
	TaskID    string    `json:"taskId"`
	ContextID string    `json:"contextId"`
}

type rpcPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type rpcResponse struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      string     `json:"id"`
	Result  *rpcResult `json:"result,omitempty"`
	Error   *rpcError  `json:"error,omitempty"`
}

type rpcResult struct {
	Artifacts []rpcArtifact `json:"artifacts"`
}

type rpcArtifact struct {
	Name  string    `json:"name,omitempty"`
	Parts []rpcPart `json:"parts"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// CallOptions carries continuation IDs. Zero values mean a fresh task.
type CallOptions struct {
	TaskID    string
	ContextID string
}

// Call sends a task to a named agent and returns the flattened response
// text. The request is attempted up to MaxRetries+1 times with exponential
// backoff and jitter, on a fresh transport each time; only timeouts,
// refused connections and 5xx responses are retried.
func (c *Client) Call(ctx context.Context, agentName, task string) (string, error) {
	return c.CallWithOptions(ctx, agentName, task, CallOptions{})
}

// CallWithOptions is Call with explicit continuation IDs
func (c *Client) CallWithOptions(ctx context.Context, agentName, task string, opts CallOptions) (string, error) {
	c.mu.RLock()
	conn := c.agents[agentName]
	c.mu.RUnlock()
	if conn == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownAgent, agentName)
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"stockpilot.remote",
		"remote.call",
		attribute.String("agent", agentName),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, c.logger)

	taskID := opts.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}
	contextID := opts.ContextID
	if contextID == "" {
		contextID = uuid.NewString()
	}
	messageID := uuid.NewString()

	request := rpcRequest{
		JSONRPC: "2.0",
		ID:      messageID,
		Method:  "message/send",
		Params: rpcParams{
			Message: rpcMessage{
				Role:      "user",
				Parts:     []rpcPart{{Type: "text", Text: task}},
				MessageID: messageID,
				TaskID:    taskID,
				ContextID: contextID,
			},
		},
	}
	body, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	attempts := c.maxRetries + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt - 1)
			logger.Warn().
				Str("agent", agentName).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Err(lastErr).
				Msg("Retrying delegation")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		start := time.Now()
		response, err := c.attempt(ctx, conn, body)
		observability.RecordDelegationAttempt(agentName, time.Since(start), err == nil)
		if err == nil {
			logger.Info().
				Str("agent", agentName).
				Int("attempt", attempt+1).
				Msg("Delegation succeeded")
			return response, nil
		}

		lastErr = err
		if !isRetryable(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}
	}

	terr := &TransientError{Agent: agentName, Attempts: attempts, Err: lastErr}
	span.RecordError(terr)
	span.SetStatus(codes.Error, terr.Error())
	return "", terr
}

// attempt performs one request on a transport of its own. A connection
// poisoned by a half-closed worker never carries over into the retry.
func (c *Client) attempt(ctx context.Context, conn *agentConn, body []byte) (string, error) {
	transport := &http.Transport{}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Timeout:   conn.timeout,
		Transport: transport,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conn.card.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return "", &statusError{code: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("worker returned status %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return "", fmt.Errorf("worker error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if rpcResp.Result == nil {
		return "", fmt.Errorf("worker response has no result")
	}

	return flattenArtifacts(rpcResp.Result.Artifacts), nil
}

// flattenArtifacts joins every artifact's text parts in order
func flattenArtifacts(artifacts []rpcArtifact) string {
	var parts []string
	for _, artifact := range artifacts {
		for _, part := range artifact.Parts {
			if part.Text != "" {
				parts = append(parts, part.Text)
			}
		}
	}
	return strings.Join(parts, "\n")
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("worker returned status %d", e.code)
}

func (c *Client) backoff(retry int) time.Duration {
	delay := c.baseDelay * (1 << retry)
	jitter := time.Duration(rand.Int63n(int64(c.baseDelay)))
	return delay + jitter
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if serr, ok := err.(*statusError); ok {
		return serr.code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}

// CallBackground enqueues the call onto the delegation pool and returns
// without waiting. Unknown agents still fail immediately; everything after
// enqueue is reported only through logs, metrics and the response handler.
func (c *Client) CallBackground(ctx context.Context, agentName, task string) (string, error) {
	c.mu.RLock()
	known := c.agents[agentName] != nil
	c.mu.RUnlock()
	if !known {
		return "", fmt.Errorf("%w: %s", ErrUnknownAgent, agentName)
	}

	return c.queue.Submit(ctx, dispatchqueue.DelegationLane, func(taskCtx context.Context) (interface{}, error) {
		response, err := c.Call(taskCtx, agentName, task)
		if err != nil {
			return nil, err
		}
		if c.onResponse != nil {
			c.onResponse(taskCtx, agentName, response)
		}
		return response, nil
	})
}

// DelegateBackground satisfies the workflow delegator contract. Failures
// never reach the caller: the fixed completion reply has already been
// chosen by the time delegation starts.
func (c *Client) DelegateBackground(ctx context.Context, agentName, task string) {
	if _, err := c.CallBackground(ctx, agentName, task); err != nil {
		logger := tracing.LoggerFromContext(ctx, c.logger)
		logger.Error().
			Str("agent", agentName).
			Err(err).
			Msg("Failed to enqueue background delegation")
	}
}

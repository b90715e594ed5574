package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"toadcore/internal/observability"
)

// HTTPAdapter is the reference action adapter: JSON-RPC 2.0 over HTTP POST
// to /mcp, with a GET /health liveness probe, retry-with-backoff, and a
// circuit breaker guarding the remote surface.
//
// Grounded on the teacher's internal/mcpclient.go HTTP transport (request
// shaping, header handling) combined with the corpus's circuit breaker
// pattern for resilience around a single remote dependency.
type HTTPAdapter struct {
	baseURL  string
	canvasID string
	client   *http.Client
	retry    RetryConfig
	breaker  *CircuitBreaker

	mu    sync.Mutex
	state ConnectionState

	stateCacheMu  sync.Mutex
	stateCache    map[string]any
	stateCacheAt  time.Time
	stateCacheTTL time.Duration
}

// HTTPAdapterConfig configures a new HTTPAdapter.
type HTTPAdapterConfig struct {
	BaseURL                 string
	CanvasID                string
	Timeout                 time.Duration
	Retry                   RetryConfig
	CircuitFailureThreshold int
	CircuitResetTimeout     time.Duration
}

// NewHTTPAdapter returns an adapter in the disconnected state.
func NewHTTPAdapter(cfg HTTPAdapterConfig) *HTTPAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.InitialDelay == 0 {
		retry = DefaultRetryConfig()
	}
	return &HTTPAdapter{
		baseURL: cfg.BaseURL,
		canvasID: cfg.CanvasID,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		retry:         retry,
		breaker:       NewCircuitBreaker(cfg.CircuitFailureThreshold, cfg.CircuitResetTimeout),
		state:         StateDisconnected,
		stateCacheTTL: 1 * time.Second,
	}
}

func (a *HTTPAdapter) ConnectionState() ConnectionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *HTTPAdapter) setState(s ConnectionState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Connect probes GET /health, expecting {"status":"ok"}.
func (a *HTTPAdapter) Connect(ctx context.Context) error {
	a.setState(StateConnecting)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/health", nil)
	if err != nil {
		a.setState(StateFailed)
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		a.setState(StateFailed)
		return fmt.Errorf("adapter: health probe failed: %w", err)
	}
	defer resp.Body.Close()
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Status != "ok" {
		a.setState(StateFailed)
		return fmt.Errorf("adapter: health probe returned unhealthy status")
	}
	a.setState(StateConnected)
	return nil
}

func (a *HTTPAdapter) Disconnect(ctx context.Context) error {
	a.setState(StateDisconnected)
	return nil
}

type jsonrpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Execute invokes action via JSON-RPC, retrying retryable transport
// failures with backoff and failing fast when the circuit breaker is open.
func (a *HTTPAdapter) Execute(ctx context.Context, action string, params map[string]any, opts ExecuteOptions) (ActionResult, error) {
	if !a.breaker.Allow() {
		remaining := a.breaker.RemainingCooldown()
		return ActionResult{
			Success: false,
			Error: &ActionError{
				Code:        "circuit_open",
				Message:     fmt.Sprintf("adapter circuit is open, retry in %s", remaining.Round(time.Millisecond)),
				Recoverable: true,
			},
		}, nil
	}

	retry := a.retry
	if opts.Retries > 0 {
		retry.MaxRetries = opts.Retries
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = a.client.Timeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := Retry(cctx, retry, func(ctx context.Context) (json.RawMessage, error) {
		return a.call(ctx, action, params)
	})
	if err != nil {
		a.breaker.RecordFailure()
		observability.LoggerWithTrace(ctx).Warn().Str("action", action).Err(err).Msg("adapter_execute_failed")
		return ActionResult{
			Success: false,
			Error:   &ActionError{Code: "execute_failed", Message: err.Error(), Recoverable: IsRetryable(err)},
		}, nil
	}

	a.breaker.RecordSuccess()
	a.InvalidateStateCache()
	var data any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &data)
	}
	return ActionResult{Success: true, Data: data}, nil
}

// InvalidateStateCache drops the cached state/awareness snapshot so the
// next GetState call refetches, per invariant 6 (every mutating action
// invalidates the cache).
func (a *HTTPAdapter) InvalidateStateCache() {
	a.stateCacheMu.Lock()
	a.stateCache = nil
	a.stateCacheAt = time.Time{}
	a.stateCacheMu.Unlock()
}

func (a *HTTPAdapter) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	reqBody := jsonrpcRequest{JSONRPC: "2.0", ID: uuid.NewString(), Method: method, Params: params}
	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/mcp", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if a.canvasID != "" {
		req.Header.Set("X-Canvas-Id", a.canvasID)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var rpcResp jsonrpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("adapter: malformed JSON-RPC response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("adapter: rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

// AvailableActions fetches the action catalog via the "actions/list" RPC
// method.
func (a *HTTPAdapter) AvailableActions(ctx context.Context) ([]ActionDescriptor, error) {
	raw, err := a.call(ctx, "actions/list", nil)
	if err != nil {
		return nil, err
	}
	var out []ActionDescriptor
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *HTTPAdapter) Supports(action string) bool {
	actions, err := a.AvailableActions(context.Background())
	if err != nil {
		return false
	}
	for _, d := range actions {
		if d.Name == action {
			return true
		}
	}
	return false
}

func (a *HTTPAdapter) Schema(action string) (map[string]any, bool) {
	actions, err := a.AvailableActions(context.Background())
	if err != nil {
		return nil, false
	}
	for _, d := range actions {
		if d.Name == action {
			return d.Schema, true
		}
	}
	return nil, false
}

// GetState returns the adapter's cached state snapshot, refreshing it when
// the cache is older than 1 second.
func (a *HTTPAdapter) GetState(ctx context.Context) (map[string]any, error) {
	a.stateCacheMu.Lock()
	if a.stateCache != nil && time.Since(a.stateCacheAt) < a.stateCacheTTL {
		defer a.stateCacheMu.Unlock()
		return a.stateCache, nil
	}
	a.stateCacheMu.Unlock()

	raw, err := a.call(ctx, "state/get", nil)
	if err != nil {
		return nil, err
	}
	var state map[string]any
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, err
	}

	a.stateCacheMu.Lock()
	a.stateCache = state
	a.stateCacheAt = time.Now()
	a.stateCacheMu.Unlock()
	return state, nil
}

func (a *HTTPAdapter) GetAwareness(ctx context.Context) (Awareness, error) {
	raw, err := a.call(ctx, "awareness/get", nil)
	if err != nil {
		return Awareness{}, err
	}
	var aw Awareness
	if err := json.Unmarshal(raw, &aw); err != nil {
		return Awareness{}, err
	}
	return aw, nil
}

var _ Adapter = (*HTTPAdapter)(nil)

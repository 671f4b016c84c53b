package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Node error codes the treasury reacts to.
const (
	rpcCodeWallet              = -4  // RPC_WALLET_ERROR
	rpcCodeInvalidAddressOrKey = -5  // RPC_INVALID_ADDRESS_OR_KEY
	rpcCodeVerifyError         = -25 // RPC_VERIFY_ERROR, e.g. missing inputs
)

// readRetries is how many times an idempotent call is repeated after a
// transport failure. Broadcasts are never repeated here.
const readRetries = 2

// RPCClient talks JSON-RPC 1.0 to a BSV node and serves as the chain backend
// for operators who run their own node instead of using the explorer.
type RPCClient struct {
	endpoint string
	user     string
	pass     string
	http     *http.Client
	seq      atomic.Int64
	retryGap time.Duration
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPCError is a node-level failure carried in the response body.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("network: rpc error %d: %s", e.Code, e.Message)
}

// NewRPCClient returns a client for cfg.URL, authenticating with HTTP Basic
// when cfg.User is set.
func NewRPCClient(cfg RPCConfig) *RPCClient {
	return &RPCClient{
		endpoint: cfg.URL,
		user:     cfg.User,
		pass:     cfg.Password,
		http:     newHTTPClient(cfg.Timeout),
		retryGap: 200 * time.Millisecond,
	}
}

// Call runs method once and decodes its result into result, which may be nil.
//
// Transport failures and non-2xx replies without a JSON-RPC body wrap
// ErrConnectionFailed. A node error is returned as *RPCError even when it
// arrives with HTTP 500, as bitcoind sends it.
func (c *RPCClient) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if c.endpoint == "" {
		return fmt.Errorf("%w: empty RPC URL", ErrNotConfigured)
	}
	if params == nil {
		params = []interface{}{}
	}
	id := c.seq.Add(1)

	status, raw, err := c.post(ctx, rpcRequest{JSONRPC: "1.0", ID: id, Method: method, Params: params})
	if err != nil {
		return err
	}
	return decodeRPC(status, raw, id, result)
}

// callIdempotent is Call with a short retry on ErrConnectionFailed. Only
// read-only methods go through it.
func (c *RPCClient) callIdempotent(ctx context.Context, method string, params []interface{}, result interface{}) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryGap
	policy.MaxElapsedTime = 0

	op := func() error {
		err := c.Call(ctx, method, params, result)
		if err != nil && !errors.Is(err, ErrConnectionFailed) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, readRetries), ctx))
}

func (c *RPCClient) post(ctx context.Context, body rpcRequest) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("network: marshal %s: %w", body.Method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("network: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, body.Method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read body: %w", ErrConnectionFailed, err)
	}
	return resp.StatusCode, raw, nil
}

func decodeRPC(status int, raw []byte, id int64, result interface{}) error {
	ok := status >= 200 && status < 300

	var resp rpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		if !ok {
			return fmt.Errorf("%w: HTTP %d: %s", ErrConnectionFailed, status, clip(raw))
		}
		return fmt.Errorf("%w: decode response: %w", ErrInvalidResponse, err)
	}
	switch {
	case resp.Error != nil:
		return resp.Error
	case !ok:
		return fmt.Errorf("%w: HTTP %d: %s", ErrConnectionFailed, status, clip(raw))
	case resp.ID != id:
		return fmt.Errorf("%w: response id %d, want %d", ErrInvalidResponse, resp.ID, id)
	}

	if result == nil || len(resp.Result) == 0 || bytes.Equal(resp.Result, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("%w: unmarshal result: %w", ErrInvalidResponse, err)
	}
	return nil
}

// rpcCode returns the node error code carried by err, or 0.
func rpcCode(err error) int {
	var re *RPCError
	if errors.As(err, &re) {
		return re.Code
	}
	return 0
}

func clip(b []byte) string {
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}
	return string(bytes.TrimSpace(b))
}

package network

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRPCCall_AuthAndEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "treasury", user)
		assert.Equal(t, "s3cret", pass)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "1.0", req.JSONRPC)
		assert.Equal(t, "getblockcount", req.Method)
		assert.NotNil(t, req.Params)

		_ = json.NewEncoder(w).Encode(rpcResponse{ID: req.ID, Result: json.RawMessage(`850000`)})
	}))
	defer srv.Close()

	c := NewRPCClient(RPCConfig{URL: srv.URL, User: "treasury", Password: "s3cret"})
	var height int
	require.NoError(t, c.Call(context.Background(), "getblockcount", nil, &height))
	assert.Equal(t, 850000, height)
}

func TestRPCCall_NullResultLeavesTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"id": req.ID, "result": nil, "error": nil})
	}))
	defer srv.Close()

	out := "unchanged"
	require.NoError(t, NewRPCClient(RPCConfig{URL: srv.URL}).Call(context.Background(), "importaddress", nil, &out))
	assert.Equal(t, "unchanged", out)
}

func TestRPCCall_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
		rpcCode int
	}{
		{
			name: "node error on HTTP 500",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(rpcResponse{Error: &RPCError{Code: -5, Message: "No such mempool or blockchain transaction"}})
			},
			rpcCode: -5,
		},
		{
			name: "HTTP error without JSON",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte("unauthorized"))
			},
			want: ErrConnectionFailed,
		},
		{
			name: "id mismatch",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_ = json.NewEncoder(w).Encode(rpcResponse{ID: 999, Result: json.RawMessage(`0`)})
			},
			want: ErrInvalidResponse,
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("<html>"))
			},
			want: ErrInvalidResponse,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			err := NewRPCClient(RPCConfig{URL: srv.URL}).Call(context.Background(), "getrawtransaction", []interface{}{"x"}, nil)
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
			assert.Equal(t, tt.rpcCode, rpcCode(err))
		})
	}
}

func TestRPCCall_Unreachable(t *testing.T) {
	err := NewRPCClient(RPCConfig{URL: "http://localhost:1"}).Call(context.Background(), "getblockcount", nil, nil)
	assert.ErrorIs(t, err, ErrConnectionFailed)

	err = NewRPCClient(RPCConfig{}).Call(context.Background(), "getblockcount", nil, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRPCCall_SequentialIDs(t *testing.T) {
	var ids []int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		ids = append(ids, req.ID)
		_ = json.NewEncoder(w).Encode(rpcResponse{ID: req.ID, Result: json.RawMessage(`0`)})
	}))
	defer srv.Close()

	c := NewRPCClient(RPCConfig{URL: srv.URL})
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Call(context.Background(), "getblockcount", nil, nil))
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

// flakyNode fails the first n requests with a bare 503, then serves result.
func flakyNode(t *testing.T, n int32, result string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if calls.Add(1) <= n {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(rpcResponse{ID: req.ID, Result: json.RawMessage(result)})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestRPCReads_RetryTransportFailures(t *testing.T) {
	srv, calls := flakyNode(t, 2, `[]`)
	c := NewRPCClient(RPCConfig{URL: srv.URL})
	c.retryGap = time.Millisecond

	utxos, err := c.ListUnspent(context.Background(), treasuryAddr)
	require.NoError(t, err)
	assert.Empty(t, utxos)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRPCReads_GiveUpAfterRetries(t *testing.T) {
	srv, calls := flakyNode(t, 10, `[]`)
	c := NewRPCClient(RPCConfig{URL: srv.URL})
	c.retryGap = time.Millisecond

	_, err := c.ListUnspent(context.Background(), treasuryAddr)
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.Equal(t, int32(1+readRetries), calls.Load())
}

func TestRPCBroadcast_NotRetried(t *testing.T) {
	srv, calls := flakyNode(t, 1, `"txid"`)
	c := NewRPCClient(RPCConfig{URL: srv.URL})
	c.retryGap = time.Millisecond

	_, err := c.BroadcastTx(context.Background(), "00")
	assert.ErrorIs(t, err, ErrBroadcastRejected)
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.Equal(t, int32(1), calls.Load())
}

package rpc

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewPoolRequiresURLs(t *testing.T) {
	_, err := NewPool(nil, 0, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrNoRPCNodes)
}

func TestPoolFailsOverOnNetworkError(t *testing.T) {
	pool, err := NewPool([]string{"http://a", "http://b", "http://c"}, time.Minute, zaptest.NewLogger(t))
	require.NoError(t, err)

	var seen []*solanarpc.Client
	err = pool.Do(context.Background(), "getSlot", func(cl *solanarpc.Client) error {
		seen = append(seen, cl)
		if len(seen) < 3 {
			return errors.New("dial tcp: connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 3)
	assert.NotSame(t, seen[0], seen[1])

	inactive := 0
	for _, n := range pool.Clients() {
		if !n.IsActive(time.Now()) {
			inactive++
		}
	}
	assert.Equal(t, 2, inactive)
}

func TestPoolStopsOnNonRetryableError(t *testing.T) {
	pool, err := NewPool([]string{"http://a", "http://b"}, time.Minute, zaptest.NewLogger(t))
	require.NoError(t, err)

	calls := 0
	rpcErr := &jsonrpc.RPCError{Code: -32002, Message: "Transaction simulation failed"}
	err = pool.Do(context.Background(), "sendTransaction", func(*solanarpc.Client) error {
		calls++
		return rpcErr
	})
	assert.Equal(t, 1, calls)

	var wrapped *Error
	require.ErrorAs(t, err, &wrapped)
	assert.Equal(t, "sendTransaction", wrapped.Method)
	var got *jsonrpc.RPCError
	assert.ErrorAs(t, err, &got)
	assert.False(t, IsRetryableError(err))
}

func TestPoolExhaustsAllNodes(t *testing.T) {
	pool, err := NewPool([]string{"http://a", "http://b"}, time.Minute, zaptest.NewLogger(t))
	require.NoError(t, err)

	calls := 0
	err = pool.Do(context.Background(), "getSlot", func(*solanarpc.Client) error {
		calls++
		return &jsonrpc.RPCError{Code: 429, Message: "Too Many Requests"}
	})
	assert.Equal(t, 2, calls)
	assert.ErrorIs(t, err, ErrRateLimit)
	assert.True(t, IsRetryableError(err))
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		critical  bool
	}{
		{"nil", nil, false, false},
		{"deadline", NewError(context.DeadlineExceeded, "u", "m"), true, false},
		{"reset", fmt.Errorf("read: connection reset by peer"), true, false},
		{"rate limit text", fmt.Errorf("HTTP 429 Too Many Requests"), true, false},
		{"unauthorized", fmt.Errorf("401 unauthorized"), false, true},
		{"invalid response", NewError(ErrInvalidResponse, "u", "m"), false, true},
		{"program error", fmt.Errorf("custom program error: 0x1"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryableError(tt.err))
			assert.Equal(t, tt.critical, IsCriticalError(tt.err))
		})
	}
}

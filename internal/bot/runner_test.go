package bot

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rovshanmuradov/solana-copybot/internal/config"
	"github.com/rovshanmuradov/solana-copybot/internal/dex/launchpad"
	"github.com/rovshanmuradov/solana-copybot/internal/utils/metrics"
)

func TestFeedFilterWatchesTargetsOnly(t *testing.T) {
	program := launchpad.DefaultConfig().ProgramID

	for _, multi := range []bool{false, true} {
		policy := config.TradingPolicy{Targets: []solana.PublicKey{targetA}, MultiWatch: multi}
		if multi {
			policy.Targets = append(policy.Targets, targetB)
		}

		filter := feedFilter(program, policy)

		assert.Equal(t, program, filter.Program)
		assert.Equal(t, policy.Targets, filter.Mentions(), "multi_watch=%v", multi)
		assert.NotContains(t, filter.Mentions(), program, "multi_watch=%v", multi)
	}
}

func TestServeMetricsFailureKeepsTrading(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	core, logs := observer.New(zapcore.ErrorLevel)
	done := make(chan error, 1)
	go func() {
		done <- serveMetrics(context.Background(), metrics.NewCollector(), busy.Addr().String(), zap.New(core))
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("metrics endpoint did not give up on a busy port")
	}
	require.Equal(t, 1, logs.FilterMessage("Metrics endpoint stopped").Len())
}

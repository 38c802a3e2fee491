package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const target = "7Vg5bYxB1nGQ5mKxd1bCkxW2RXdtjT5z5VdGZ6hmk9ZQ"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimal = `{
  "rpc_list": ["https://rpc.example.com/?api-key=secret"],
  "websocket_url": "wss://rpc.example.com",
  "wallet": {"private_key": "abc"},
  "trading": {
    "targets": ["` + target + `", "` + target + `"],
    "buy_amount_sol": 0.25,
    "take_profit_percent": 40,
    "stop_loss_percent": 20
  }
}`

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimal), "")
	require.NoError(t, err)

	p := cfg.Trading
	require.Len(t, p.Targets, 1)
	assert.Equal(t, solana.MustPublicKeyFromBase58(target), p.Targets[0])
	assert.True(t, p.IsTarget(p.Targets[0]))
	assert.False(t, p.IsTarget(solana.NewWallet().PublicKey()))

	assert.Equal(t, uint64(250_000_000), p.BuyAmountLamports)
	assert.Equal(t, ProtocolAuto, p.Protocol)
	assert.Equal(t, 10, p.CounterLimit)
	assert.Equal(t, 60*time.Second, p.SellingTime)
	assert.Equal(t, time.Second, p.PollInterval)
	assert.Equal(t, 400*time.Millisecond, p.RetryDelay)
	assert.True(t, decimal.NewFromInt(40).Equal(p.TakeProfitPercent))
	assert.Equal(t, 500*time.Millisecond, cfg.Monitor.ReconnectInitial)
	assert.Equal(t, 30*time.Second, cfg.Monitor.ReconnectMax)
	assert.Equal(t, "data/journal", cfg.Journal.Dir)
	assert.False(t, cfg.Keygen.Enabled())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("SOLANA_BOT_RPC_LIST", "https://a.example.com, https://b.example.com")
	t.Setenv("SOLANA_BOT_TRADING_COUNTER_LIMIT", "2")

	envPath := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("SOLANA_BOT_WALLET_PRIVATE_KEY=fromenv\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("SOLANA_BOT_WALLET_PRIVATE_KEY") })

	cfg, err := LoadConfig(writeConfig(t, minimal), envPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.RPCList)
	assert.Equal(t, 2, cfg.Trading.CounterLimit)
	assert.Equal(t, "fromenv", cfg.Wallet.PrivateKey)
}

func TestLoadConfigMissingEnvFileIsIgnored(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, minimal), filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "no rpc",
			body: `{"websocket_url":"wss://x","trading":{"targets":["` + target + `"],"buy_amount_sol":1}}`,
			want: "rpc_list",
		},
		{
			name: "bad target",
			body: `{"rpc_list":["https://x"],"websocket_url":"wss://x","trading":{"targets":["nope"],"buy_amount_sol":1}}`,
			want: "invalid target account",
		},
		{
			name: "no targets",
			body: `{"rpc_list":["https://x"],"websocket_url":"wss://x","trading":{"buy_amount_sol":1}}`,
			want: "trading.targets",
		},
		{
			name: "several targets without multi watch",
			body: `{"rpc_list":["https://x"],"websocket_url":"wss://x","trading":{"targets":["` + target + `","9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"],"buy_amount_sol":1}}`,
			want: "multi_watch",
		},
		{
			name: "zero buy",
			body: `{"rpc_list":["https://x"],"websocket_url":"wss://x","trading":{"targets":["` + target + `"]}}`,
			want: "buy_amount_sol",
		},
		{
			name: "unknown protocol",
			body: `{"rpc_list":["https://x"],"websocket_url":"wss://x","trading":{"targets":["` + target + `"],"buy_amount_sol":1,"protocol":"pumpfun"}}`,
			want: "unsupported trading.protocol",
		},
		{
			name: "http webhook",
			body: `{"rpc_list":["https://x"],"websocket_url":"wss://x","notify":{"webhook_url":"http://hook"},"trading":{"targets":["` + target + `"],"buy_amount_sol":1}}`,
			want: "HTTPS",
		},
		{
			name: "half telegram",
			body: `{"rpc_list":["https://x"],"websocket_url":"wss://x","notify":{"telegram_token":"t"},"trading":{"targets":["` + target + `"],"buy_amount_sol":1}}`,
			want: "telegram",
		},
		{
			name: "no exit trigger",
			body: `{"rpc_list":["https://x"],"websocket_url":"wss://x","trading":{"targets":["` + target + `"],"buy_amount_sol":1,"selling_time_sec":0}}`,
			want: "exit trigger",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body), "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMaskRPCForLogging(t *testing.T) {
	cfg := &Config{RPCList: []string{"https://rpc.example.com/?api-key=secret", "https://plain.example.com"}}
	masked := cfg.GetMaskedRPCList()
	assert.NotContains(t, masked[0], "secret")
	assert.Equal(t, "https://plain.example.com", masked[1])
}

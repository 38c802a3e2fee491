// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "SOLANA_BOT"

	ProtocolAuto      = "auto"
	ProtocolLaunchLab = "launchlab"
)

// Config holds application settings loaded from config.json.
type Config struct {
	License      string   `mapstructure:"license"`
	RPCList      []string `mapstructure:"rpc_list"`
	WebSocketURL string   `mapstructure:"websocket_url"`
	DebugLogging bool     `mapstructure:"debug_logging"`
	LogFile      string   `mapstructure:"log_file"`
	Workers      int      `mapstructure:"workers"`
	EventBuffer  int      `mapstructure:"event_buffer"`
	MetricsAddr  string   `mapstructure:"metrics_addr"`

	Wallet    WalletConfig    `mapstructure:"wallet"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Launchpad LaunchpadConfig `mapstructure:"launchpad"`
	Keygen    KeygenConfig    `mapstructure:"keygen"`

	TradingRaw tradingRaw    `mapstructure:"trading"`
	Trading    TradingPolicy `mapstructure:"-"`
}

// WalletConfig указывает источник ключа: private_key или CSV-файл с именованными кошельками.
type WalletConfig struct {
	PrivateKey string `mapstructure:"private_key"`
	File       string `mapstructure:"file"`
	Name       string `mapstructure:"name"`
}

// MonitorConfig - параметры переподключения и дедупликации потока транзакций.
type MonitorConfig struct {
	ReconnectInitial   time.Duration `mapstructure:"-"`
	ReconnectInitialMS int           `mapstructure:"reconnect_initial_ms"`
	ReconnectMax       time.Duration `mapstructure:"-"`
	ReconnectMaxMS     int           `mapstructure:"reconnect_max_ms"`
	DedupWindow        int           `mapstructure:"dedup_window"`
	FetchTimeout       time.Duration `mapstructure:"-"`
	FetchTimeoutMS     int           `mapstructure:"fetch_timeout_ms"`
}

// NotifyConfig - получатели уведомлений об исполнении.
type NotifyConfig struct {
	WebhookURL     string `mapstructure:"webhook_url"`
	TelegramToken  string `mapstructure:"telegram_token"`
	TelegramChatID string `mapstructure:"telegram_chat_id"`
}

// JournalConfig - журнал позиций на диске.
type JournalConfig struct {
	Dir              string `mapstructure:"dir"`
	SegmentThreshold int    `mapstructure:"segment_threshold"`
	MaxSegments      int    `mapstructure:"max_segments"`
	Sync             bool   `mapstructure:"sync"`
}

// LaunchpadConfig переопределяет адреса программы; пустые значения = mainnet.
type LaunchpadConfig struct {
	ProgramID      string `mapstructure:"program_id"`
	GlobalConfig   string `mapstructure:"global_config"`
	PlatformConfig string `mapstructure:"platform_config"`
}

// KeygenConfig - параметры проверки лицензии (опционально).
type KeygenConfig struct {
	AccountID    string `mapstructure:"account_id"`
	ProductToken string `mapstructure:"product_token"`
	ProductID    string `mapstructure:"product_id"`
}

// Enabled reports whether a license check is configured.
func (k KeygenConfig) Enabled() bool {
	return k.AccountID != "" && k.ProductToken != ""
}

type tradingRaw struct {
	Targets           []string `mapstructure:"targets"`
	MultiWatch        bool     `mapstructure:"multi_watch"`
	Protocol          string   `mapstructure:"protocol"`
	CounterLimit      int      `mapstructure:"counter_limit"`
	BuyAmountSOL      float64  `mapstructure:"buy_amount_sol"`
	SlippageBps       uint64   `mapstructure:"slippage_bps"`
	SellingTimeSec    int      `mapstructure:"selling_time_sec"`
	TakeProfitPercent float64  `mapstructure:"take_profit_percent"`
	StopLossPercent   float64  `mapstructure:"stop_loss_percent"`
	PollIntervalMS    int      `mapstructure:"poll_interval_ms"`
	MaxRetries        int      `mapstructure:"max_retries"`
	RetryDelayMS      int      `mapstructure:"retry_delay_ms"`
	RetryMaxDelayMS   int      `mapstructure:"retry_max_delay_ms"`
	AttemptTimeoutMS  int      `mapstructure:"attempt_timeout_ms"`
	ConfirmTimeoutMS  int      `mapstructure:"confirm_timeout_ms"`
	PriorityFeeSOL    float64  `mapstructure:"priority_fee_sol"`
	ComputeUnits      uint32   `mapstructure:"compute_units"`
	SkipPreflight     bool     `mapstructure:"skip_preflight"`
}

// TradingPolicy - неизменяемая после загрузки политика копирования и выхода.
type TradingPolicy struct {
	Targets      []solana.PublicKey
	MultiWatch   bool
	Protocol     string
	CounterLimit int

	BuyAmountSOL      decimal.Decimal
	BuyAmountLamports uint64
	SlippageBps       uint64

	SellingTime       time.Duration
	TakeProfitPercent decimal.Decimal
	StopLossPercent   decimal.Decimal
	PollInterval      time.Duration

	MaxRetries     int
	RetryDelay     time.Duration
	RetryMaxDelay  time.Duration
	AttemptTimeout time.Duration
	ConfirmTimeout time.Duration
	PriorityFeeSOL float64
	ComputeUnits   uint32
	SkipPreflight  bool
}

// IsTarget reports whether key is one of the configured target accounts.
func (p TradingPolicy) IsTarget(key solana.PublicKey) bool {
	for _, t := range p.Targets {
		if t.Equals(key) {
			return true
		}
	}
	return false
}

// LoadConfig reads .env (if present) and the JSON config at path, then validates.
func LoadConfig(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config error: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal error: %w", err)
	}
	applyEnvLists(v, &cfg)

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaults := map[string]interface{}{
		"license":       "",
		"debug_logging": false,
		"log_file":      "logs/copybot.log",
		"workers":       4,
		"event_buffer":  256,
		"metrics_addr":  "",

		"wallet.private_key": "",
		"wallet.file":        "configs/wallets.csv",
		"wallet.name":        "main",

		"monitor.reconnect_initial_ms": 500,
		"monitor.reconnect_max_ms":     30_000,
		"monitor.dedup_window":         4096,
		"monitor.fetch_timeout_ms":     10_000,

		"notify.webhook_url":      "",
		"notify.telegram_token":   "",
		"notify.telegram_chat_id": "",

		"journal.dir":               "data/journal",
		"journal.segment_threshold": 1000,
		"journal.max_segments":      10,
		"journal.sync":              true,

		"launchpad.program_id":      "",
		"launchpad.global_config":   "",
		"launchpad.platform_config": "",

		"keygen.account_id":    "",
		"keygen.product_token": "",
		"keygen.product_id":    "",

		"trading.multi_watch":         false,
		"trading.protocol":            ProtocolAuto,
		"trading.counter_limit":       10,
		"trading.slippage_bps":        500,
		"trading.selling_time_sec":    60,
		"trading.take_profit_percent": 0.0,
		"trading.stop_loss_percent":   0.0,
		"trading.poll_interval_ms":    1000,
		"trading.max_retries":         3,
		"trading.retry_delay_ms":      400,
		"trading.retry_max_delay_ms":  3000,
		"trading.attempt_timeout_ms":  20_000,
		"trading.confirm_timeout_ms":  15_000,
		"trading.priority_fee_sol":    0.0,
		"trading.compute_units":       150_000,
		"trading.skip_preflight":      false,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// applyEnvLists разбирает списки, переданные через переменные окружения через запятую.
func applyEnvLists(v *viper.Viper, cfg *Config) {
	if list := splitList(os.Getenv(EnvPrefix + "_RPC_LIST")); len(list) > 0 {
		cfg.RPCList = list
	}
	if list := splitList(os.Getenv(EnvPrefix + "_TRADING_TARGETS")); len(list) > 0 {
		cfg.TradingRaw.Targets = list
	}
	if key := v.GetString("wallet.private_key"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if clean := strings.TrimSpace(part); clean != "" {
			out = append(out, clean)
		}
	}
	return out
}

// finalize converts raw ms/second ints into durations and parses target keys.
func (c *Config) finalize() error {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }

	c.Monitor.ReconnectInitial = ms(c.Monitor.ReconnectInitialMS)
	c.Monitor.ReconnectMax = ms(c.Monitor.ReconnectMaxMS)
	c.Monitor.FetchTimeout = ms(c.Monitor.FetchTimeoutMS)

	raw := c.TradingRaw
	p := TradingPolicy{
		MultiWatch:        raw.MultiWatch,
		Protocol:          strings.ToLower(strings.TrimSpace(raw.Protocol)),
		CounterLimit:      raw.CounterLimit,
		BuyAmountSOL:      decimal.NewFromFloat(raw.BuyAmountSOL),
		SlippageBps:       raw.SlippageBps,
		SellingTime:       time.Duration(raw.SellingTimeSec) * time.Second,
		TakeProfitPercent: decimal.NewFromFloat(raw.TakeProfitPercent),
		StopLossPercent:   decimal.NewFromFloat(raw.StopLossPercent),
		PollInterval:      ms(raw.PollIntervalMS),
		MaxRetries:        raw.MaxRetries,
		RetryDelay:        ms(raw.RetryDelayMS),
		RetryMaxDelay:     ms(raw.RetryMaxDelayMS),
		AttemptTimeout:    ms(raw.AttemptTimeoutMS),
		ConfirmTimeout:    ms(raw.ConfirmTimeoutMS),
		PriorityFeeSOL:    raw.PriorityFeeSOL,
		ComputeUnits:      raw.ComputeUnits,
		SkipPreflight:     raw.SkipPreflight,
	}
	p.BuyAmountLamports = uint64(p.BuyAmountSOL.Shift(9).IntPart())

	seen := make(map[solana.PublicKey]struct{}, len(raw.Targets))
	for _, s := range raw.Targets {
		key, err := solana.PublicKeyFromBase58(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("invalid target account %q: %w", s, err)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		p.Targets = append(p.Targets, key)
	}

	c.Trading = p
	return nil
}

// validate checks required fields and value ranges.
func (c *Config) validate() error {
	if len(c.RPCList) == 0 {
		return errors.New("rpc_list must contain at least one RPC endpoint")
	}
	for _, rpcURL := range c.RPCList {
		if err := validateURL(rpcURL, "http"); err != nil {
			return fmt.Errorf("invalid RPC URL %q: %w", c.MaskRPCForLogging(rpcURL), err)
		}
	}
	if c.WebSocketURL == "" {
		return errors.New("websocket_url is required")
	}
	if err := validateURL(c.WebSocketURL, "ws"); err != nil {
		return fmt.Errorf("invalid websocket_url: %w", err)
	}
	if c.Notify.WebhookURL != "" {
		if err := validateURL(c.Notify.WebhookURL, "https"); err != nil {
			return errors.New("webhook URL must use HTTPS")
		}
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		return errors.New("telegram_token and telegram_chat_id must be set together")
	}
	if c.Wallet.PrivateKey == "" && c.Wallet.File == "" {
		return errors.New("wallet.private_key or wallet.file is required")
	}
	if c.Workers <= 0 {
		return errors.New("invalid workers count")
	}
	if c.EventBuffer <= 0 {
		return errors.New("invalid event_buffer")
	}
	if c.Monitor.ReconnectInitial <= 0 || c.Monitor.ReconnectMax < c.Monitor.ReconnectInitial {
		return errors.New("invalid monitor reconnect delays")
	}
	if c.Monitor.DedupWindow <= 0 {
		return errors.New("invalid monitor.dedup_window")
	}
	if c.Journal.Dir == "" {
		return errors.New("journal.dir is required")
	}
	return c.Trading.validate()
}

func (p TradingPolicy) validate() error {
	if len(p.Targets) == 0 {
		return errors.New("trading.targets must contain at least one account")
	}
	if len(p.Targets) > 1 && !p.MultiWatch {
		return errors.New("several trading.targets require trading.multi_watch")
	}
	if p.Protocol != ProtocolAuto && p.Protocol != ProtocolLaunchLab {
		return fmt.Errorf("unsupported trading.protocol %q", p.Protocol)
	}
	if p.CounterLimit <= 0 {
		return errors.New("trading.counter_limit must be positive")
	}
	if p.BuyAmountLamports == 0 {
		return errors.New("trading.buy_amount_sol must be positive")
	}
	if p.SlippageBps > 10_000 {
		return errors.New("trading.slippage_bps must be at most 10000")
	}
	if p.SellingTime < 0 || p.TakeProfitPercent.IsNegative() || p.StopLossPercent.IsNegative() {
		return errors.New("exit thresholds must not be negative")
	}
	if p.StopLossPercent.GreaterThan(decimal.NewFromInt(100)) {
		return errors.New("trading.stop_loss_percent must be at most 100")
	}
	if p.SellingTime == 0 && p.TakeProfitPercent.IsZero() && p.StopLossPercent.IsZero() {
		return errors.New("at least one exit trigger must be configured")
	}
	if p.PollInterval <= 0 {
		return errors.New("invalid trading.poll_interval_ms")
	}
	if p.MaxRetries < 1 {
		return errors.New("trading.max_retries must be at least 1")
	}
	if p.RetryDelay <= 0 || p.RetryMaxDelay < p.RetryDelay {
		return errors.New("invalid retry delays")
	}
	if p.AttemptTimeout <= 0 || p.ConfirmTimeout <= 0 {
		return errors.New("invalid attempt/confirm timeout")
	}
	if p.PriorityFeeSOL < 0 {
		return errors.New("invalid trading.priority_fee_sol")
	}
	return nil
}

func validateURL(rawURL string, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	return nil
}

// MaskRPCForLogging hides api keys in RPC URLs for logging.
func (c *Config) MaskRPCForLogging(rpcURL string) string {
	parsed, err := url.Parse(rpcURL)
	if err != nil {
		return rpcURL
	}
	q := parsed.Query()
	masked := false
	for key := range q {
		if strings.Contains(strings.ToLower(key), "key") || strings.Contains(strings.ToLower(key), "token") {
			q.Set(key, "***")
			masked = true
		}
	}
	if !masked {
		return rpcURL
	}
	parsed.RawQuery = q.Encode()
	return parsed.String()
}

// GetMaskedRPCList returns RPC list with masked API keys for logging
func (c *Config) GetMaskedRPCList() []string {
	masked := make([]string, len(c.RPCList))
	for i, rpc := range c.RPCList {
		masked[i] = c.MaskRPCForLogging(rpc)
	}
	return masked
}

// =============================
// File: internal/dex/launchpad/config.go
// =============================
package launchpad

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ProtocolName identifies the launchpad in trade events and config.
const ProtocolName = "launchlab"

// Known LaunchLab addresses (mainnet)
var (
	// Program ID for the LaunchLab launchpad
	ProgramID = solana.MustPublicKeyFromBase58("LanMV9sAd7wArD4vJFi2qDdfnVhFxYSUg6eADduJ3uj")

	// Default global config account
	GlobalConfigID = solana.MustPublicKeyFromBase58("6s1xP3hpbAfFoNtUNF8mfHsjr2Bd97JxFJRWLbL6aHuX")

	// Default platform config account
	PlatformConfigID = solana.MustPublicKeyFromBase58("FfYek5vEz23cMkWsdJwG2oa6EphsvXSHrGpdALN4g6W1")

	// Wrapped SOL, the quote mint of every SOL pool
	WrappedSOLMint = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
)

const (
	poolSeed           = "pool"
	poolVaultSeed      = "pool_vault"
	authSeed           = "vault_auth_seed"
	eventAuthoritySeed = "__event_authority"
)

// Config holds the addresses the codec builds instructions against.
type Config struct {
	ProgramID      solana.PublicKey
	GlobalConfig   solana.PublicKey
	PlatformConfig solana.PublicKey
	QuoteMint      solana.PublicKey

	// derived
	Authority      solana.PublicKey
	EventAuthority solana.PublicKey
}

// DefaultConfig returns the mainnet configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		ProgramID:      ProgramID,
		GlobalConfig:   GlobalConfigID,
		PlatformConfig: PlatformConfigID,
		QuoteMint:      WrappedSOLMint,
	}
	// mainnet defaults always derive
	_ = cfg.derive()
	return cfg
}

// NewConfig builds a Config from optional base58 overrides; empty strings keep the defaults.
func NewConfig(programID, globalConfig, platformConfig string) (*Config, error) {
	cfg := DefaultConfig()

	overrides := []struct {
		name  string
		value string
		dst   *solana.PublicKey
	}{
		{"program_id", programID, &cfg.ProgramID},
		{"global_config", globalConfig, &cfg.GlobalConfig},
		{"platform_config", platformConfig, &cfg.PlatformConfig},
	}
	for _, o := range overrides {
		if o.value == "" {
			continue
		}
		key, err := solana.PublicKeyFromBase58(o.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", o.name, err)
		}
		*o.dst = key
	}

	if err := cfg.derive(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) derive() error {
	var err error
	cfg.Authority, _, err = solana.FindProgramAddress([][]byte{[]byte(authSeed)}, cfg.ProgramID)
	if err != nil {
		return fmt.Errorf("failed to derive vault authority: %w", err)
	}
	cfg.EventAuthority, _, err = solana.FindProgramAddress([][]byte{[]byte(eventAuthoritySeed)}, cfg.ProgramID)
	if err != nil {
		return fmt.Errorf("failed to derive event authority: %w", err)
	}
	return nil
}

// PoolAddress derives the pool state PDA for a base/quote pair.
func (cfg *Config) PoolAddress(baseMint, quoteMint solana.PublicKey) (solana.PublicKey, error) {
	pool, _, err := solana.FindProgramAddress(
		[][]byte{[]byte(poolSeed), baseMint.Bytes(), quoteMint.Bytes()},
		cfg.ProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive pool address: %w", err)
	}
	return pool, nil
}

// VaultAddress derives a pool vault PDA for one side of the pool.
func (cfg *Config) VaultAddress(pool, mint solana.PublicKey) (solana.PublicKey, error) {
	vault, _, err := solana.FindProgramAddress(
		[][]byte{[]byte(poolVaultSeed), pool.Bytes(), mint.Bytes()},
		cfg.ProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive vault address: %w", err)
	}
	return vault, nil
}

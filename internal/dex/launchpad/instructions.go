// ==============================================
// File: internal/dex/launchpad/instructions.go
// ==============================================
package launchpad

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-copybot/internal/domain"
)

// ErrUnknownOrMalformed is wrapped by every decode failure.
var ErrUnknownOrMalformed = errors.New("unknown or malformed launchpad instruction")

// DecodeError describes why a single instruction could not be decoded.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "launchpad decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return ErrUnknownOrMalformed
}

func malformed(format string, args ...interface{}) error {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

const (
	discriminatorLen = 8
	swapArgsLen      = 24
	maxMetadataLen   = 512

	// buy/sell account order
	swapAccountsMin = 11
	swapAccountsLen = 15

	// initialize account order
	initializeAccountsMin = 10
)

type discriminator [discriminatorLen]byte

func anchorDiscriminator(name string) discriminator {
	sum := sha256.Sum256([]byte("global:" + name))
	var d discriminator
	copy(d[:], sum[:discriminatorLen])
	return d
}

var (
	buyExactInDiscriminator   = anchorDiscriminator("buy_exact_in")
	buyExactOutDiscriminator  = anchorDiscriminator("buy_exact_out")
	sellExactInDiscriminator  = anchorDiscriminator("sell_exact_in")
	sellExactOutDiscriminator = anchorDiscriminator("sell_exact_out")
	initializeDiscriminator   = anchorDiscriminator("initialize")
)

// Instructions of the program that carry no trade semantics.
var otherInstructionNames = []string{
	"initialize_v2",
	"initialize_with_token_2022",
	"migrate_to_amm",
	"migrate_to_cpswap",
	"claim_platform_fee",
	"claim_platform_fee_from_vault",
	"claim_creator_fee",
	"claim_vested_token",
	"create_vesting_account",
	"collect_fee",
	"collect_migrate_fee",
	"create_config",
	"update_config",
	"create_platform_config",
	"update_platform_config",
}

var otherInstructions = func() map[discriminator]string {
	m := make(map[discriminator]string, len(otherInstructionNames))
	for _, name := range otherInstructionNames {
		m[anchorDiscriminator(name)] = name
	}
	return m
}()

// Instruction is one decoded launchpad instruction:
// *SwapInstruction, *InitializeInstruction or *OtherInstruction.
type Instruction interface {
	Name() string
}

// SwapAccounts is the fixed account layout of buy/sell instructions.
type SwapAccounts struct {
	Payer             solana.PublicKey
	Authority         solana.PublicKey
	GlobalConfig      solana.PublicKey
	PlatformConfig    solana.PublicKey
	PoolState         solana.PublicKey
	UserBaseToken     solana.PublicKey
	UserQuoteToken    solana.PublicKey
	BaseVault         solana.PublicKey
	QuoteVault        solana.PublicKey
	BaseMint          solana.PublicKey
	QuoteMint         solana.PublicKey
	BaseTokenProgram  solana.PublicKey
	QuoteTokenProgram solana.PublicKey
	EventAuthority    solana.PublicKey
	Program           solana.PublicKey
}

// SwapInstruction is a decoded buy or sell.
type SwapInstruction struct {
	Direction domain.Direction
	ExactIn   bool
	// Amount is amount_in for exact-in and amount_out for exact-out.
	Amount uint64
	// Threshold is minimum_amount_out for exact-in and maximum_amount_in for exact-out.
	Threshold    uint64
	ShareFeeRate uint64
	Accounts     SwapAccounts
}

func (s *SwapInstruction) Name() string {
	switch {
	case s.Direction == domain.DirectionBuy && s.ExactIn:
		return "buy_exact_in"
	case s.Direction == domain.DirectionBuy:
		return "buy_exact_out"
	case s.ExactIn:
		return "sell_exact_in"
	default:
		return "sell_exact_out"
	}
}

// BaseAmount is the token side of the swap as stated by the instruction.
func (s *SwapInstruction) BaseAmount() uint64 {
	buy := s.Direction == domain.DirectionBuy
	if buy == s.ExactIn {
		// buy exact-in bounds the tokens out, sell exact-out bounds the tokens in
		return s.Threshold
	}
	return s.Amount
}

// QuoteAmount is the SOL side of the swap as stated by the instruction.
func (s *SwapInstruction) QuoteAmount() uint64 {
	buy := s.Direction == domain.DirectionBuy
	if buy == s.ExactIn {
		return s.Amount
	}
	return s.Threshold
}

// InitializeInstruction is a pool launch.
type InitializeInstruction struct {
	Decimals  uint8
	TokenName string
	Symbol    string
	URI       string

	Payer      solana.PublicKey
	Creator    solana.PublicKey
	PoolState  solana.PublicKey
	BaseMint   solana.PublicKey
	QuoteMint  solana.PublicKey
	BaseVault  solana.PublicKey
	QuoteVault solana.PublicKey
}

func (i *InitializeInstruction) Name() string { return "initialize" }

// OtherInstruction is a recognised instruction without trade semantics.
type OtherInstruction struct {
	Kind          string
	Discriminator [discriminatorLen]byte
}

func (o *OtherInstruction) Name() string { return o.Kind }

type swapArgs struct {
	Amount       uint64
	Threshold    uint64
	ShareFeeRate uint64
}

// Codec decodes and encodes launchpad instructions. It performs no I/O.
type Codec struct {
	cfg *Config
}

// NewCodec creates a codec bound to the given program addresses.
func NewCodec(cfg *Config) *Codec {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Codec{cfg: cfg}
}

// Config returns the addresses the codec uses.
func (c *Codec) Config() *Config {
	return c.cfg
}

// ProgramID returns the launchpad program id.
func (c *Codec) ProgramID() solana.PublicKey {
	return c.cfg.ProgramID
}

// Decode parses raw instruction data with the instruction's resolved account keys.
func (c *Codec) Decode(data []byte, accounts []solana.PublicKey) (Instruction, error) {
	if len(data) < discriminatorLen {
		return nil, malformed("data shorter than discriminator: %d bytes", len(data))
	}

	var disc discriminator
	copy(disc[:], data[:discriminatorLen])
	args := data[discriminatorLen:]

	switch disc {
	case buyExactInDiscriminator:
		return decodeSwap(args, accounts, domain.DirectionBuy, true)
	case buyExactOutDiscriminator:
		return decodeSwap(args, accounts, domain.DirectionBuy, false)
	case sellExactInDiscriminator:
		return decodeSwap(args, accounts, domain.DirectionSell, true)
	case sellExactOutDiscriminator:
		return decodeSwap(args, accounts, domain.DirectionSell, false)
	case initializeDiscriminator:
		return decodeInitialize(args, accounts)
	}

	if name, ok := otherInstructions[disc]; ok {
		return &OtherInstruction{Kind: name, Discriminator: disc}, nil
	}
	return nil, malformed("unknown discriminator %x", disc[:])
}

func decodeSwap(args []byte, accounts []solana.PublicKey, dir domain.Direction, exactIn bool) (*SwapInstruction, error) {
	if len(args) < swapArgsLen {
		return nil, malformed("swap args too short: %d bytes", len(args))
	}
	if len(accounts) < swapAccountsMin {
		return nil, malformed("swap needs at least %d accounts, got %d", swapAccountsMin, len(accounts))
	}

	var a swapArgs
	if err := bin.NewBorshDecoder(args).Decode(&a); err != nil {
		return nil, malformed("swap args: %v", err)
	}

	at := func(i int) solana.PublicKey {
		if i < len(accounts) {
			return accounts[i]
		}
		return solana.PublicKey{}
	}

	return &SwapInstruction{
		Direction:    dir,
		ExactIn:      exactIn,
		Amount:       a.Amount,
		Threshold:    a.Threshold,
		ShareFeeRate: a.ShareFeeRate,
		Accounts: SwapAccounts{
			Payer:             at(0),
			Authority:         at(1),
			GlobalConfig:      at(2),
			PlatformConfig:    at(3),
			PoolState:         at(4),
			UserBaseToken:     at(5),
			UserQuoteToken:    at(6),
			BaseVault:         at(7),
			QuoteVault:        at(8),
			BaseMint:          at(9),
			QuoteMint:         at(10),
			BaseTokenProgram:  at(11),
			QuoteTokenProgram: at(12),
			EventAuthority:    at(13),
			Program:           at(14),
		},
	}, nil
}

func decodeInitialize(args []byte, accounts []solana.PublicKey) (*InitializeInstruction, error) {
	if len(accounts) < initializeAccountsMin {
		return nil, malformed("initialize needs at least %d accounts, got %d", initializeAccountsMin, len(accounts))
	}

	dec := bin.NewBorshDecoder(args)
	decimals, err := dec.ReadUint8()
	if err != nil {
		return nil, malformed("mint decimals: %v", err)
	}

	var fields [3]string
	for i := range fields {
		fields[i], err = readBorshString(dec)
		if err != nil {
			return nil, malformed("mint params field %d: %v", i, err)
		}
	}

	return &InitializeInstruction{
		Decimals:   decimals,
		TokenName:  fields[0],
		Symbol:     fields[1],
		URI:        fields[2],
		Payer:      accounts[0],
		Creator:    accounts[1],
		PoolState:  accounts[5],
		BaseMint:   accounts[6],
		QuoteMint:  accounts[7],
		BaseVault:  accounts[8],
		QuoteVault: accounts[9],
	}, nil
}

func readBorshString(dec *bin.Decoder) (string, error) {
	n, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		return "", err
	}
	if n > maxMetadataLen || int(n) > dec.Remaining() {
		return "", fmt.Errorf("string length %d out of bounds", n)
	}
	raw, err := dec.ReadNBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// SwapParams describes an exact-in swap built by this bot.
type SwapParams struct {
	Payer            solana.PublicKey
	BaseMint         solana.PublicKey
	Direction        domain.Direction
	AmountIn         uint64
	MinimumAmountOut uint64
	ShareFeeRate     uint64

	// Optional; derived when zero.
	BaseTokenProgram solana.PublicKey
	UserBaseToken    solana.PublicKey
	UserQuoteToken   solana.PublicKey
}

// SwapAccountsFor derives the full account layout for a swap.
func (c *Codec) SwapAccountsFor(p SwapParams) (SwapAccounts, error) {
	if p.Payer.IsZero() || p.BaseMint.IsZero() {
		return SwapAccounts{}, fmt.Errorf("payer and base mint are required")
	}

	pool, err := c.cfg.PoolAddress(p.BaseMint, c.cfg.QuoteMint)
	if err != nil {
		return SwapAccounts{}, err
	}
	baseVault, err := c.cfg.VaultAddress(pool, p.BaseMint)
	if err != nil {
		return SwapAccounts{}, err
	}
	quoteVault, err := c.cfg.VaultAddress(pool, c.cfg.QuoteMint)
	if err != nil {
		return SwapAccounts{}, err
	}

	baseProgram := p.BaseTokenProgram
	if baseProgram.IsZero() {
		baseProgram = solana.TokenProgramID
	}

	userBase := p.UserBaseToken
	if userBase.IsZero() {
		if userBase, _, err = solana.FindAssociatedTokenAddress(p.Payer, p.BaseMint); err != nil {
			return SwapAccounts{}, fmt.Errorf("failed to derive base token account: %w", err)
		}
	}
	userQuote := p.UserQuoteToken
	if userQuote.IsZero() {
		if userQuote, _, err = solana.FindAssociatedTokenAddress(p.Payer, c.cfg.QuoteMint); err != nil {
			return SwapAccounts{}, fmt.Errorf("failed to derive quote token account: %w", err)
		}
	}

	return SwapAccounts{
		Payer:             p.Payer,
		Authority:         c.cfg.Authority,
		GlobalConfig:      c.cfg.GlobalConfig,
		PlatformConfig:    c.cfg.PlatformConfig,
		PoolState:         pool,
		UserBaseToken:     userBase,
		UserQuoteToken:    userQuote,
		BaseVault:         baseVault,
		QuoteVault:        quoteVault,
		BaseMint:          p.BaseMint,
		QuoteMint:         c.cfg.QuoteMint,
		BaseTokenProgram:  baseProgram,
		QuoteTokenProgram: solana.TokenProgramID,
		EventAuthority:    c.cfg.EventAuthority,
		Program:           c.cfg.ProgramID,
	}, nil
}

// EncodeSwap builds a buy_exact_in or sell_exact_in instruction.
func (c *Codec) EncodeSwap(p SwapParams) (solana.Instruction, error) {
	var disc discriminator
	switch p.Direction {
	case domain.DirectionBuy:
		disc = buyExactInDiscriminator
	case domain.DirectionSell:
		disc = sellExactInDiscriminator
	default:
		return nil, fmt.Errorf("unsupported swap direction %s", p.Direction)
	}
	if p.AmountIn == 0 {
		return nil, fmt.Errorf("swap amount must be positive")
	}

	accts, err := c.SwapAccountsFor(p)
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	buf.Write(disc[:])
	if err := bin.NewBorshEncoder(buf).Encode(swapArgs{
		Amount:       p.AmountIn,
		Threshold:    p.MinimumAmountOut,
		ShareFeeRate: p.ShareFeeRate,
	}); err != nil {
		return nil, fmt.Errorf("failed to encode swap args: %w", err)
	}

	// Account list must be in the exact order expected by the program
	metas := []*solana.AccountMeta{
		{PublicKey: accts.Payer, IsSigner: true, IsWritable: true},
		{PublicKey: accts.Authority, IsSigner: false, IsWritable: false},
		{PublicKey: accts.GlobalConfig, IsSigner: false, IsWritable: false},
		{PublicKey: accts.PlatformConfig, IsSigner: false, IsWritable: false},
		{PublicKey: accts.PoolState, IsSigner: false, IsWritable: true},
		{PublicKey: accts.UserBaseToken, IsSigner: false, IsWritable: true},
		{PublicKey: accts.UserQuoteToken, IsSigner: false, IsWritable: true},
		{PublicKey: accts.BaseVault, IsSigner: false, IsWritable: true},
		{PublicKey: accts.QuoteVault, IsSigner: false, IsWritable: true},
		{PublicKey: accts.BaseMint, IsSigner: false, IsWritable: false},
		{PublicKey: accts.QuoteMint, IsSigner: false, IsWritable: false},
		{PublicKey: accts.BaseTokenProgram, IsSigner: false, IsWritable: false},
		{PublicKey: accts.QuoteTokenProgram, IsSigner: false, IsWritable: false},
		{PublicKey: accts.EventAuthority, IsSigner: false, IsWritable: false},
		{PublicKey: accts.Program, IsSigner: false, IsWritable: false},
	}

	return solana.NewInstruction(c.cfg.ProgramID, metas, buf.Bytes()), nil
}

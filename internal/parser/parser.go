// internal/parser/parser.go
package parser

import (
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/dex/launchpad"
	"github.com/rovshanmuradov/solana-copybot/internal/domain"
	"github.com/rovshanmuradov/solana-copybot/internal/eventlistener"
	"github.com/rovshanmuradov/solana-copybot/internal/utils/metrics"
)

// Protocol is the value of TradeEvent.Protocol for launchpad trades.
const Protocol = "launchlab"

// Parser turns resolved transactions into trade events of target accounts.
type Parser struct {
	codec   *launchpad.Codec
	targets map[solana.PublicKey]struct{}
	metrics *metrics.Collector
	logger  *zap.Logger

	initializes atomic.Uint64
	skipped     atomic.Uint64
}

func New(codec *launchpad.Codec, targets []solana.PublicKey, collector *metrics.Collector, logger *zap.Logger) *Parser {
	set := make(map[solana.PublicKey]struct{}, len(targets))
	for _, t := range targets {
		set[t] = struct{}{}
	}
	return &Parser{
		codec:   codec,
		targets: set,
		metrics: collector,
		logger:  logger.Named("parser"),
	}
}

// Initializes returns how many pool launches were seen.
func (p *Parser) Initializes() uint64 { return p.initializes.Load() }

// Skipped returns how many launchpad instructions failed to decode.
func (p *Parser) Skipped() uint64 { return p.skipped.Load() }

// compiled is an instruction with indexes into the full account key list.
type compiled struct {
	program  int
	accounts []int
	data     []byte
}

// Parse never fails: anything it cannot interpret yields no events.
func (p *Parser) Parse(env *eventlistener.Envelope) []domain.TradeEvent {
	if env == nil || env.Transaction == nil || env.Failed() {
		return nil
	}
	tx, err := env.Decode()
	if err != nil {
		p.logger.Debug("Undecodable transaction",
			zap.String("signature", env.Signature.String()),
			zap.Error(err))
		return nil
	}

	meta := env.Transaction.Meta
	keys := accountKeys(tx, meta)
	slot := env.Slot
	if slot == 0 {
		slot = env.Transaction.Slot
	}

	var events []domain.TradeEvent
	for _, ix := range instructions(tx, meta) {
		if ix.program >= len(keys) || !keys[ix.program].Equals(p.codec.ProgramID()) {
			continue
		}
		accounts, ok := resolve(keys, ix.accounts)
		if !ok {
			p.skipped.Add(1)
			continue
		}

		decoded, err := p.codec.Decode(ix.data, accounts)
		if err != nil {
			p.skipped.Add(1)
			p.logger.Debug("Skipping launchpad instruction",
				zap.String("signature", env.Signature.String()),
				zap.Error(err))
			continue
		}

		switch in := decoded.(type) {
		case *launchpad.SwapInstruction:
			payer := in.Accounts.Payer
			if _, ok := p.targets[payer]; !ok {
				continue
			}
			ev := domain.TradeEvent{
				Source:      payer,
				Token:       in.Accounts.BaseMint,
				Pool:        in.Accounts.PoolState,
				Direction:   in.Direction,
				BaseAmount:  in.BaseAmount(),
				QuoteAmount: in.QuoteAmount(),
				Slot:        slot,
				Signature:   env.Signature,
				Protocol:    Protocol,
				ObservedAt:  env.ReceivedAt,
			}
			if delta := baseDelta(meta, payer, ev.Token, ev.Direction); delta > 0 {
				ev.BaseAmount = delta
			}
			p.metrics.TradeEvent(ev.Direction.String())
			events = append(events, ev)
		case *launchpad.InitializeInstruction:
			p.initializes.Add(1)
			p.logger.Debug("Pool initialized",
				zap.String("mint", in.BaseMint.String()),
				zap.String("symbol", in.Symbol))
		}
	}
	return events
}

func accountKeys(tx *solana.Transaction, meta *rpc.TransactionMeta) []solana.PublicKey {
	keys := make([]solana.PublicKey, 0, len(tx.Message.AccountKeys))
	keys = append(keys, tx.Message.AccountKeys...)
	if meta != nil {
		keys = append(keys, meta.LoadedAddresses.Writable...)
		keys = append(keys, meta.LoadedAddresses.ReadOnly...)
	}
	return keys
}

// instructions flattens outer instructions, each followed by its CPI calls.
func instructions(tx *solana.Transaction, meta *rpc.TransactionMeta) []compiled {
	inner := map[int][]compiled{}
	if meta != nil {
		for _, set := range meta.InnerInstructions {
			for _, in := range set.Instructions {
				c := compiled{program: int(in.ProgramIDIndex), data: []byte(in.Data)}
				for _, a := range in.Accounts {
					c.accounts = append(c.accounts, int(a))
				}
				inner[int(set.Index)] = append(inner[int(set.Index)], c)
			}
		}
	}

	var out []compiled
	for i, in := range tx.Message.Instructions {
		c := compiled{program: int(in.ProgramIDIndex), data: []byte(in.Data)}
		for _, a := range in.Accounts {
			c.accounts = append(c.accounts, int(a))
		}
		out = append(out, c)
		out = append(out, inner[i]...)
	}
	return out
}

func resolve(keys []solana.PublicKey, idx []int) ([]solana.PublicKey, bool) {
	out := make([]solana.PublicKey, len(idx))
	for i, k := range idx {
		if k < 0 || k >= len(keys) {
			return nil, false
		}
		out[i] = keys[k]
	}
	return out, true
}

var errNoAmount = errors.New("no token amount")

// baseDelta is the owner's change in mint balance, or zero when the meta
// does not carry it or it contradicts the direction.
func baseDelta(meta *rpc.TransactionMeta, owner, mint solana.PublicKey, dir domain.Direction) uint64 {
	if meta == nil || mint.Equals(launchpad.WrappedSOLMint) {
		return 0
	}
	pre, preOK := balanceOf(meta.PreTokenBalances, owner, mint)
	post, postOK := balanceOf(meta.PostTokenBalances, owner, mint)
	if !preOK && !postOK {
		return 0
	}
	switch {
	case dir == domain.DirectionBuy && post > pre:
		return post - pre
	case dir == domain.DirectionSell && pre > post:
		return pre - post
	}
	return 0
}

func balanceOf(balances []rpc.TokenBalance, owner, mint solana.PublicKey) (uint64, bool) {
	var (
		total uint64
		found bool
	)
	for _, b := range balances {
		if b.Owner == nil || !b.Owner.Equals(owner) || !b.Mint.Equals(mint) {
			continue
		}
		amount, err := tokenAmount(b)
		if err != nil {
			continue
		}
		total += amount
		found = true
	}
	return total, found
}

func tokenAmount(b rpc.TokenBalance) (uint64, error) {
	if b.UiTokenAmount == nil {
		return 0, errNoAmount
	}
	return strconv.ParseUint(b.UiTokenAmount.Amount, 10, 64)
}

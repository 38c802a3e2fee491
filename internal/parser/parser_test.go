package parser

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-copybot/internal/blockchain/solana/programs/computebudget"
	"github.com/rovshanmuradov/solana-copybot/internal/dex/launchpad"
	"github.com/rovshanmuradov/solana-copybot/internal/domain"
	"github.com/rovshanmuradov/solana-copybot/internal/eventlistener"
)

var routerProgram = solana.MustPublicKeyFromBase58("JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4")

type fixture struct {
	codec  *launchpad.Codec
	target solana.PrivateKey
	mint   solana.PublicKey
}

func newFixture() *fixture {
	return &fixture{
		codec:  launchpad.NewCodec(nil),
		target: solana.NewWallet().PrivateKey,
		mint:   solana.NewWallet().PublicKey(),
	}
}

func (f *fixture) parser(t *testing.T) *Parser {
	return New(f.codec, []solana.PublicKey{f.target.PublicKey()}, nil, zaptest.NewLogger(t))
}

func (f *fixture) swap(t *testing.T, signer solana.PrivateKey, dir domain.Direction) solana.Instruction {
	t.Helper()
	ix, err := f.codec.EncodeSwap(launchpad.SwapParams{
		Payer:            signer.PublicKey(),
		BaseMint:         f.mint,
		Direction:        dir,
		AmountIn:         1_000_000_000,
		MinimumAmountOut: 5_000_000,
	})
	require.NoError(t, err)
	return ix
}

func signedTx(t *testing.T, signer solana.PrivateKey, ixs ...solana.Instruction) *solana.Transaction {
	t.Helper()
	tx, err := solana.NewTransaction(ixs, solana.Hash{7}, solana.TransactionPayer(signer.PublicKey()))
	require.NoError(t, err)
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(signer.PublicKey()) {
			return &signer
		}
		return nil
	})
	require.NoError(t, err)
	return tx
}

// resolved wraps tx the way getTransaction returns it with base64 encoding.
func resolved(t *testing.T, tx *solana.Transaction, meta map[string]interface{}) *eventlistener.Envelope {
	t.Helper()
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	base := map[string]interface{}{
		"err":               nil,
		"fee":               5000,
		"preBalances":       []uint64{},
		"postBalances":      []uint64{},
		"innerInstructions": []interface{}{},
		"preTokenBalances":  []interface{}{},
		"postTokenBalances": []interface{}{},
		"loadedAddresses":   map[string]interface{}{"writable": []string{}, "readonly": []string{}},
	}
	for k, v := range meta {
		base[k] = v
	}

	body, err := json.Marshal(map[string]interface{}{
		"slot":        77,
		"transaction": []string{base64.StdEncoding.EncodeToString(raw), "base64"},
		"meta":        base,
	})
	require.NoError(t, err)

	var res rpc.GetTransactionResult
	require.NoError(t, json.Unmarshal(body, &res))
	return &eventlistener.Envelope{
		Signature:   tx.Signatures[0],
		Slot:        77,
		ReceivedAt:  time.Now(),
		Transaction: &res,
	}
}

func tokenBalance(index int, owner, mint solana.PublicKey, amount string) map[string]interface{} {
	return map[string]interface{}{
		"accountIndex": index,
		"mint":         mint.String(),
		"owner":        owner.String(),
		"uiTokenAmount": map[string]interface{}{
			"amount":         amount,
			"decimals":       6,
			"uiAmountString": amount,
		},
	}
}

func TestParseTargetBuy(t *testing.T) {
	f := newFixture()
	ixs := append(computebudget.Config{Units: 150_000, UnitPrice: 1000}.Instructions(),
		f.swap(t, f.target, domain.DirectionBuy))
	env := resolved(t, signedTx(t, f.target, ixs...), nil)

	events := f.parser(t).Parse(env)

	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, domain.DirectionBuy, ev.Direction)
	assert.Equal(t, f.target.PublicKey(), ev.Source)
	assert.Equal(t, f.mint, ev.Token)
	assert.Equal(t, uint64(1_000_000_000), ev.QuoteAmount)
	assert.Equal(t, uint64(5_000_000), ev.BaseAmount)
	assert.Equal(t, uint64(77), ev.Slot)
	assert.Equal(t, env.Signature, ev.Signature)
	assert.Equal(t, Protocol, ev.Protocol)

	pool, err := f.codec.Config().PoolAddress(f.mint, launchpad.WrappedSOLMint)
	require.NoError(t, err)
	assert.Equal(t, pool, ev.Pool)
}

func TestParseRefinesBaseAmountFromBalances(t *testing.T) {
	f := newFixture()
	owner := f.target.PublicKey()
	env := resolved(t, signedTx(t, f.target, f.swap(t, f.target, domain.DirectionSell)), map[string]interface{}{
		"preTokenBalances":  []interface{}{tokenBalance(1, owner, f.mint, "9000000")},
		"postTokenBalances": []interface{}{tokenBalance(1, owner, f.mint, "1500000")},
	})

	events := f.parser(t).Parse(env)

	require.Len(t, events, 1)
	assert.Equal(t, domain.DirectionSell, events[0].Direction)
	assert.Equal(t, uint64(7_500_000), events[0].BaseAmount)
}

func TestParseIgnoresNonTargets(t *testing.T) {
	f := newFixture()
	stranger := solana.NewWallet().PrivateKey
	env := resolved(t, signedTx(t, stranger, f.swap(t, stranger, domain.DirectionBuy)), nil)

	assert.Empty(t, f.parser(t).Parse(env))
}

func TestParseInnerInstruction(t *testing.T) {
	f := newFixture()
	swap := f.swap(t, f.target, domain.DirectionBuy)
	data, err := swap.Data()
	require.NoError(t, err)

	// router instruction carries every account the CPI swap needs
	metas := append(solana.AccountMetaSlice{}, swap.Accounts()...)
	metas = append(metas, solana.Meta(launchpad.ProgramID))
	router := solana.NewInstruction(routerProgram, metas, []byte{1, 2, 3})
	tx := signedTx(t, f.target, router)

	indexOf := func(pk solana.PublicKey) int {
		for i, k := range tx.Message.AccountKeys {
			if k.Equals(pk) {
				return i
			}
		}
		t.Fatalf("key %s not in message", pk)
		return -1
	}
	var accounts []int
	for _, m := range swap.Accounts() {
		accounts = append(accounts, indexOf(m.PublicKey))
	}

	env := resolved(t, tx, map[string]interface{}{
		"innerInstructions": []interface{}{map[string]interface{}{
			"index": 0,
			"instructions": []interface{}{map[string]interface{}{
				"programIdIndex": indexOf(launchpad.ProgramID),
				"accounts":       accounts,
				"data":           base58.Encode(data),
			}},
		}},
	})

	events := f.parser(t).Parse(env)

	require.Len(t, events, 1)
	assert.Equal(t, domain.DirectionBuy, events[0].Direction)
	assert.Equal(t, f.mint, events[0].Token)
}

func TestParseSkipsUnusableEnvelopes(t *testing.T) {
	f := newFixture()
	p := f.parser(t)

	assert.Empty(t, p.Parse(nil))
	assert.Empty(t, p.Parse(&eventlistener.Envelope{Signature: solana.Signature{1}, Slot: 1}))

	failed := resolved(t, signedTx(t, f.target, f.swap(t, f.target, domain.DirectionBuy)), map[string]interface{}{
		"err": map[string]interface{}{"InstructionError": []interface{}{0, map[string]interface{}{"Custom": 6005}}},
	})
	assert.Empty(t, p.Parse(failed))
}

func TestParseSkipsMalformedLaunchpadData(t *testing.T) {
	f := newFixture()
	swap := f.swap(t, f.target, domain.DirectionBuy)
	garbage := solana.NewInstruction(launchpad.ProgramID, swap.Accounts(), []byte{1, 2, 3})
	env := resolved(t, signedTx(t, f.target, garbage, swap), nil)

	p := f.parser(t)
	events := p.Parse(env)

	assert.Len(t, events, 1, "a bad instruction must not hide the valid one")
	assert.Equal(t, uint64(1), p.Skipped())
}

func TestParseCountsPoolLaunches(t *testing.T) {
	f := newFixture()

	disc := sha256.Sum256([]byte("global:initialize"))
	data := append([]byte{}, disc[:8]...)
	data = append(data, 6)
	for _, s := range []string{"Cat Coin", "CAT", "https://example.org/cat.json"} {
		data = binary.LittleEndian.AppendUint32(data, uint32(len(s)))
		data = append(data, s...)
	}
	data = append(data, make([]byte, 16)...)

	metas := solana.AccountMetaSlice{solana.Meta(f.target.PublicKey()).SIGNER().WRITE()}
	for i := 1; i < 12; i++ {
		metas = append(metas, solana.Meta(solana.NewWallet().PublicKey()).WRITE())
	}
	ix := solana.NewInstruction(f.codec.ProgramID(), metas, data)
	env := resolved(t, signedTx(t, f.target, ix), nil)

	p := f.parser(t)
	assert.Empty(t, p.Parse(env))
	assert.Equal(t, uint64(1), p.Initializes())
}

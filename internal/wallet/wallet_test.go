package wallet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWallet(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	w, err := NewWallet(key.String())
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), w.PublicKey)
	assert.Equal(t, key.PublicKey().String(), w.String())

	_, err = NewWallet("not-base58-0OIl")
	assert.Error(t, err)

	_, err = NewWallet(solana.NewWallet().PublicKey().String())
	assert.ErrorContains(t, err, "invalid private key length")
}

func TestLoadFromCSV(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	path := filepath.Join(t.TempDir(), "wallets.csv")
	content := "name,private_key\nmain," + key.String() + "\nbroken,xyz\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	w, err := Load("", path, "main")
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), w.PublicKey)

	_, err = Load("", path, "broken")
	assert.ErrorIs(t, err, ErrWalletNotFound)

	direct, err := Load(key.String(), "", "")
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), direct.PublicKey)
}

func TestGetATAIsCached(t *testing.T) {
	w, err := NewWallet(solana.NewWallet().PrivateKey.String())
	require.NoError(t, err)
	mint := solana.NewWallet().PublicKey()

	first, err := w.GetATA(mint)
	require.NoError(t, err)
	expected, _, err := solana.FindAssociatedTokenAddress(w.PublicKey, mint)
	require.NoError(t, err)
	assert.Equal(t, expected, first)

	second, err := w.GetATA(mint)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestWrapSOLInstructions(t *testing.T) {
	w, err := NewWallet(solana.NewWallet().PrivateKey.String())
	require.NoError(t, err)

	ixs, err := w.WrapSOLInstructions(1_000)
	require.NoError(t, err)
	require.Len(t, ixs, 3)
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, ixs[0].ProgramID())
	assert.Equal(t, solana.SystemProgramID, ixs[1].ProgramID())
	assert.Equal(t, solana.TokenProgramID, ixs[2].ProgramID())

	closeIx, err := w.CloseWSOLInstruction()
	require.NoError(t, err)
	assert.Equal(t, solana.TokenProgramID, closeIx.ProgramID())
}

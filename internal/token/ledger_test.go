package token_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quantfabric/twapd/errs"
	"github.com/quantfabric/twapd/internal/schema"
	"github.com/quantfabric/twapd/internal/token"
)

const (
	alice = schema.Identity("alice")
	bob   = schema.Identity("bob")
	usdc  = schema.Asset("USDC")
	weth  = schema.Asset("WETH")
)

func TestTransferMovesBalance(t *testing.T) {
	ledger := token.NewLedger()
	ledger.Mint(alice, usdc, 100)

	require.NoError(t, ledger.Transfer(alice, bob, usdc, 40))
	require.Equal(t, uint64(60), ledger.BalanceOf(alice, usdc))
	require.Equal(t, uint64(40), ledger.BalanceOf(bob, usdc))
}

func TestTransferInsufficientBalance(t *testing.T) {
	ledger := token.NewLedger()
	ledger.Mint(alice, usdc, 10)

	err := ledger.Transfer(alice, bob, usdc, 11)
	require.True(t, errs.Is(err, errs.CodeInsufficientBalance))
	require.Equal(t, uint64(10), ledger.BalanceOf(alice, usdc))
	require.Equal(t, uint64(0), ledger.BalanceOf(bob, usdc))
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	ledger := token.NewLedger()
	ledger.Mint(alice, usdc, 100)
	ledger.Approve(alice, bob, usdc, 70)

	require.NoError(t, ledger.TransferFrom(bob, alice, bob, usdc, 50))
	require.Equal(t, uint64(20), ledger.Allowance(alice, bob, usdc))
	require.Equal(t, uint64(50), ledger.BalanceOf(bob, usdc))

	err := ledger.TransferFrom(bob, alice, bob, usdc, 30)
	require.True(t, errs.Is(err, errs.CodeInsufficientAllowance))
}

func TestTransferFromInsufficientBalanceKeepsAllowance(t *testing.T) {
	ledger := token.NewLedger()
	ledger.Mint(alice, usdc, 10)
	ledger.Approve(alice, bob, usdc, 100)

	err := ledger.TransferFrom(bob, alice, bob, usdc, 50)
	require.True(t, errs.Is(err, errs.CodeInsufficientBalance))
	require.Equal(t, uint64(100), ledger.Allowance(alice, bob, usdc))
}

func TestExchangeSettlesBothLegsAtomically(t *testing.T) {
	ledger := token.NewLedger()
	ledger.Mint(alice, usdc, 100)
	ledger.Mint(bob, weth, 5)

	require.NoError(t, ledger.Exchange(alice, bob, usdc, weth, 100, 5))
	require.Equal(t, uint64(0), ledger.BalanceOf(alice, usdc))
	require.Equal(t, uint64(100), ledger.BalanceOf(bob, usdc))
	require.Equal(t, uint64(5), ledger.BalanceOf(alice, weth))
	require.Equal(t, uint64(0), ledger.BalanceOf(bob, weth))
}

func TestExchangeFailureLeavesNoPartialMutation(t *testing.T) {
	ledger := token.NewLedger()
	ledger.Mint(alice, usdc, 100)
	// bob holds no WETH: the output leg cannot settle.

	err := ledger.Exchange(alice, bob, usdc, weth, 100, 5)
	require.True(t, errs.Is(err, errs.CodeInsufficientBalance))
	require.Equal(t, uint64(100), ledger.BalanceOf(alice, usdc))
	require.Equal(t, uint64(0), ledger.BalanceOf(bob, usdc))
}

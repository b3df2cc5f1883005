// Package token implements the in-memory debit/credit ledger backing order
// custody and venue settlement. Every mutating operation is atomic: it either
// applies all of its balance changes or none of them.
package token

import (
	"sync"

	"github.com/quantfabric/twapd/errs"
	"github.com/quantfabric/twapd/internal/schema"
)

type balanceKey struct {
	account schema.Identity
	asset   schema.Asset
}

type allowanceKey struct {
	owner   schema.Identity
	spender schema.Identity
	asset   schema.Asset
}

// Ledger tracks account balances and delegated transfer allowances.
type Ledger struct {
	mu         sync.Mutex
	balances   map[balanceKey]uint64
	allowances map[allowanceKey]uint64
}

// NewLedger constructs an empty token ledger.
func NewLedger() *Ledger {
	ledger := new(Ledger)
	ledger.balances = make(map[balanceKey]uint64)
	ledger.allowances = make(map[allowanceKey]uint64)
	return ledger
}

// Mint credits freshly issued units to the account. Used for bootstrap and tests.
func (l *Ledger) Mint(account schema.Identity, asset schema.Asset, amount uint64) {
	if amount == 0 {
		return
	}
	l.mu.Lock()
	l.balances[balanceKey{account, asset}] += amount
	l.mu.Unlock()
}

// BalanceOf returns the account's balance for the asset.
func (l *Ledger) BalanceOf(account schema.Identity, asset schema.Asset) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[balanceKey{account, asset}]
}

// Approve grants spender the right to move up to amount of owner's asset.
// A second call overwrites the prior allowance.
func (l *Ledger) Approve(owner, spender schema.Identity, asset schema.Asset, amount uint64) {
	l.mu.Lock()
	l.allowances[allowanceKey{owner, spender, asset}] = amount
	l.mu.Unlock()
}

// Allowance returns the remaining delegated amount for the triple.
func (l *Ledger) Allowance(owner, spender schema.Identity, asset schema.Asset) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowances[allowanceKey{owner, spender, asset}]
}

// Transfer moves amount of asset from one account to another, failing loudly
// when the source balance cannot cover it.
func (l *Ledger) Transfer(from, to schema.Identity, asset schema.Asset, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(from, to, asset, amount)
}

// TransferFrom moves amount of owner's asset on behalf of spender, consuming
// the matching allowance. Both the allowance and the balance must cover the
// amount or nothing moves.
func (l *Ledger) TransferFrom(spender, from, to schema.Identity, asset schema.Asset, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := allowanceKey{from, spender, asset}
	if l.allowances[key] < amount {
		return errs.New("token/transfer-from", errs.CodeInsufficientAllowance,
			errs.WithMessage("allowance does not cover transfer"))
	}
	if err := l.move(from, to, asset, amount); err != nil {
		return err
	}
	l.allowances[key] -= amount
	return nil
}

// Exchange settles both legs of a swap between trader and venue in one atomic
// unit: trader pays amountIn of assetIn, venue pays amountOut of assetOut.
// Balances are validated up front so a failure leaves no partial mutation.
func (l *Ledger) Exchange(trader, venue schema.Identity, assetIn, assetOut schema.Asset, amountIn, amountOut uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[balanceKey{trader, assetIn}] < amountIn {
		return errs.New("token/exchange", errs.CodeInsufficientBalance,
			errs.WithMessage("trader balance does not cover swap input"))
	}
	if l.balances[balanceKey{venue, assetOut}] < amountOut {
		return errs.New("token/exchange", errs.CodeInsufficientBalance,
			errs.WithMessage("venue balance does not cover swap output"))
	}

	l.balances[balanceKey{trader, assetIn}] -= amountIn
	l.balances[balanceKey{venue, assetIn}] += amountIn
	l.balances[balanceKey{venue, assetOut}] -= amountOut
	l.balances[balanceKey{trader, assetOut}] += amountOut
	return nil
}

func (l *Ledger) move(from, to schema.Identity, asset schema.Asset, amount uint64) error {
	fromKey := balanceKey{from, asset}
	if l.balances[fromKey] < amount {
		return errs.New("token/transfer", errs.CodeInsufficientBalance,
			errs.WithMessage("balance does not cover transfer"))
	}
	l.balances[fromKey] -= amount
	l.balances[balanceKey{to, asset}] += amount
	return nil
}

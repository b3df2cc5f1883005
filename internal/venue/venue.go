// Package venue implements the fixed-rate price venue: an oracle plus
// liquidity ledger that quotes and settles tranche swaps.
package venue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantfabric/twapd/errs"
	"github.com/quantfabric/twapd/internal/bus/eventbus"
	"github.com/quantfabric/twapd/internal/schema"
	"github.com/quantfabric/twapd/internal/token"
)

// RateScale is the fixed-point denominator for pair rates: a stored rate of
// RateScale converts 1:1.
const RateScale uint64 = 10_000

type pair struct {
	in  schema.Asset
	out schema.Asset
}

// Venue quotes unidirectional pair rates and settles swaps against its own
// liquidity account on the token ledger. Rates are fixed per pair; the venue
// never reprices.
type Venue struct {
	identity schema.Identity
	tokens   *token.Ledger
	bus      eventbus.Bus

	mu    sync.RWMutex
	rates map[pair]uint64
	seq   uint64
}

// New constructs a venue settling against the given token ledger. The
// identity is the venue's liquidity account; bus receives SwapCompleted
// notifications and may be nil in tests.
func New(identity schema.Identity, tokens *token.Ledger, bus eventbus.Bus) *Venue {
	v := new(Venue)
	v.identity = identity
	v.tokens = tokens
	v.bus = bus
	v.rates = make(map[pair]uint64)
	return v
}

// Identity returns the venue's liquidity account.
func (v *Venue) Identity() schema.Identity { return v.identity }

// SetRate installs the conversion rate for the ordered pair, overwriting any
// prior rate. The rate is a scaled integer: RateScale represents 1:1.
func (v *Venue) SetRate(assetIn, assetOut schema.Asset, rate uint64) {
	v.mu.Lock()
	v.rates[pair{assetIn, assetOut}] = rate
	v.mu.Unlock()
}

// AddLiquidity debits the provider's balance and credits the venue's
// liquidity for the asset.
func (v *Venue) AddLiquidity(provider schema.Identity, asset schema.Asset, amount uint64) error {
	if amount == 0 {
		return errs.New("venue/add-liquidity", errs.CodeInvalid, errs.WithMessage("amount must be positive"))
	}
	return v.tokens.Transfer(provider, v.identity, asset, amount)
}

// Liquidity returns the venue's available balance for the asset.
func (v *Venue) Liquidity(asset schema.Asset) uint64 {
	return v.tokens.BalanceOf(v.identity, asset)
}

// Quote computes floor(amountIn * rate / RateScale) for the pair. The
// truncation is exact and intentional; no remainder is carried.
func (v *Venue) Quote(assetIn, assetOut schema.Asset, amountIn uint64) (uint64, error) {
	v.mu.RLock()
	rate, ok := v.rates[pair{assetIn, assetOut}]
	v.mu.RUnlock()
	if !ok {
		return 0, errs.New("venue/quote", errs.CodeRateNotSet,
			errs.WithMessage("no rate for pair "+string(assetIn)+"->"+string(assetOut)))
	}

	// The product can overflow uint64 for large amounts, so the arithmetic
	// runs in decimal space and truncates back to an integer quotient.
	product := decimal.NewFromUint64(amountIn).Mul(decimal.NewFromUint64(rate))
	quotient, _ := product.QuoRem(decimal.NewFromUint64(RateScale), 0)
	out := quotient.BigInt()
	if !out.IsUint64() {
		return 0, errs.New("venue/quote", errs.CodeInvalid, errs.WithMessage("quote overflows amount range"))
	}
	return out.Uint64(), nil
}

// Swap quotes the pair and settles both legs atomically: the trader pays
// amountIn into venue liquidity and receives the quoted output from it.
// Nothing moves when the rate is missing, liquidity cannot cover the output,
// or the trader cannot cover the input.
func (v *Venue) Swap(ctx context.Context, trader schema.Identity, assetIn, assetOut schema.Asset, amountIn uint64) (uint64, error) {
	amountOut, err := v.Quote(assetIn, assetOut, amountIn)
	if err != nil {
		return 0, err
	}
	if v.Liquidity(assetOut) < amountOut {
		return 0, errs.New("venue/swap", errs.CodeInsufficientLiquidity,
			errs.WithMessage("liquidity does not cover quoted output"))
	}
	if err := v.tokens.Exchange(trader, v.identity, assetIn, assetOut, amountIn, amountOut); err != nil {
		return 0, err
	}

	v.notifySwap(ctx, trader, assetIn, assetOut, amountIn, amountOut)
	return amountOut, nil
}

func (v *Venue) notifySwap(ctx context.Context, trader schema.Identity, assetIn, assetOut schema.Asset, amountIn, amountOut uint64) {
	if v.bus == nil {
		return
	}
	evt := &schema.Event{
		EventID: uuid.NewString(),
		Type:    schema.EventTypeSwapCompleted,
		Topic:   schema.EventTypeSwapCompleted.Topic(),
		Owner:   trader,
		Seq:     atomic.AddUint64(&v.seq, 1),
		EmitTS:  time.Now().UTC(),
		Payload: schema.SwapCompletedPayload{
			Trader:    trader,
			AssetIn:   assetIn,
			AssetOut:  assetOut,
			AmountIn:  amountIn,
			AmountOut: amountOut,
		},
	}
	// Swap settlement already happened; a saturated observer must not undo it.
	_ = v.bus.Publish(ctx, evt)
}

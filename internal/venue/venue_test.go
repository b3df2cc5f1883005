package venue_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quantfabric/twapd/errs"
	"github.com/quantfabric/twapd/internal/bus/eventbus"
	"github.com/quantfabric/twapd/internal/schema"
	"github.com/quantfabric/twapd/internal/token"
	"github.com/quantfabric/twapd/internal/venue"
)

const (
	pool   = schema.Identity("venue-pool")
	trader = schema.Identity("trader")
	usdc   = schema.Asset("USDC")
	weth   = schema.Asset("WETH")
)

func newVenue(t *testing.T) (*venue.Venue, *token.Ledger) {
	t.Helper()
	tokens := token.NewLedger()
	return venue.New(pool, tokens, nil), tokens
}

func TestQuoteAppliesScaledRateWithTruncation(t *testing.T) {
	v, _ := newVenue(t)
	v.SetRate(usdc, weth, 5_000) // 0.5 output per input

	out, err := v.Quote(usdc, weth, 100)
	require.NoError(t, err)
	require.Equal(t, uint64(50), out)

	// 3 * 0.5 = 1.5 truncates to 1.
	out, err = v.Quote(usdc, weth, 3)
	require.NoError(t, err)
	require.Equal(t, uint64(1), out)
}

func TestQuoteRateNotSet(t *testing.T) {
	v, _ := newVenue(t)
	_, err := v.Quote(usdc, weth, 100)
	require.True(t, errs.Is(err, errs.CodeRateNotSet))

	// Rates are unidirectional: setting one leg does not quote the reverse.
	v.SetRate(usdc, weth, venue.RateScale)
	_, err = v.Quote(weth, usdc, 100)
	require.True(t, errs.Is(err, errs.CodeRateNotSet))
}

func TestQuoteSurvivesUint64ProductOverflow(t *testing.T) {
	v, _ := newVenue(t)
	v.SetRate(usdc, weth, venue.RateScale) // 1:1

	const huge = uint64(1) << 62
	out, err := v.Quote(usdc, weth, huge)
	require.NoError(t, err)
	require.Equal(t, huge, out)
}

func TestAddLiquidityMovesProviderBalance(t *testing.T) {
	v, tokens := newVenue(t)
	tokens.Mint(trader, weth, 10)

	require.NoError(t, v.AddLiquidity(trader, weth, 10))
	require.Equal(t, uint64(10), v.Liquidity(weth))
	require.Equal(t, uint64(0), tokens.BalanceOf(trader, weth))

	err := v.AddLiquidity(trader, weth, 0)
	require.True(t, errs.Is(err, errs.CodeInvalid))
}

func TestSwapSettlesAllFourBalanceMutations(t *testing.T) {
	v, tokens := newVenue(t)
	v.SetRate(usdc, weth, 5_000)
	tokens.Mint(trader, usdc, 100)
	tokens.Mint(pool, weth, 50)

	out, err := v.Swap(context.Background(), trader, usdc, weth, 100)
	require.NoError(t, err)
	require.Equal(t, uint64(50), out)

	require.Equal(t, uint64(0), tokens.BalanceOf(trader, usdc))
	require.Equal(t, uint64(50), tokens.BalanceOf(trader, weth))
	require.Equal(t, uint64(100), v.Liquidity(usdc))
	require.Equal(t, uint64(0), v.Liquidity(weth))
}

func TestSwapInsufficientLiquidityLeavesBalancesUntouched(t *testing.T) {
	v, tokens := newVenue(t)
	v.SetRate(usdc, weth, venue.RateScale)
	tokens.Mint(trader, usdc, 100)
	tokens.Mint(pool, weth, 99)

	_, err := v.Swap(context.Background(), trader, usdc, weth, 100)
	require.True(t, errs.Is(err, errs.CodeInsufficientLiquidity))
	require.Equal(t, uint64(100), tokens.BalanceOf(trader, usdc))
	require.Equal(t, uint64(99), v.Liquidity(weth))
}

func TestSwapRateNotSetDoesNotMoveFunds(t *testing.T) {
	v, tokens := newVenue(t)
	tokens.Mint(trader, usdc, 100)

	_, err := v.Swap(context.Background(), trader, usdc, weth, 100)
	require.True(t, errs.Is(err, errs.CodeRateNotSet))
	require.Equal(t, uint64(100), tokens.BalanceOf(trader, usdc))
}

func TestSwapEmitsSwapCompleted(t *testing.T) {
	tokens := token.NewLedger()
	bus := eventbus.NewMemoryBus(eventbus.MemoryConfig{BufferSize: 4})
	t.Cleanup(bus.Close)
	v := venue.New(pool, tokens, bus)
	v.SetRate(usdc, weth, 5_000)
	tokens.Mint(trader, usdc, 100)
	tokens.Mint(pool, weth, 50)

	ctx := context.Background()
	_, ch, err := bus.Subscribe(ctx, schema.EventTypeSwapCompleted.Topic())
	require.NoError(t, err)

	_, err = v.Swap(ctx, trader, usdc, weth, 100)
	require.NoError(t, err)

	evt := <-ch
	require.Equal(t, schema.EventTypeSwapCompleted, evt.Type)
	payload, ok := evt.Payload.(schema.SwapCompletedPayload)
	require.True(t, ok)
	require.Equal(t, uint64(100), payload.AmountIn)
	require.Equal(t, uint64(50), payload.AmountOut)
}

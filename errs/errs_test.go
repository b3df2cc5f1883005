package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quantfabric/twapd/errs"
)

func TestErrorStringIncludesScopeCodeAndMessage(t *testing.T) {
	err := errs.New("venue/quote", errs.CodeRateNotSet, errs.WithMessage("no rate for USDC->WETH"))
	require.Contains(t, err.Error(), "scope=venue/quote")
	require.Contains(t, err.Error(), "code=rate_not_set")
	require.Contains(t, err.Error(), `message="no rate for USDC->WETH"`)
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	err := errs.New("ledger/execute", errs.CodeUnavailable, errs.WithCause(cause))
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), `cause="boom"`)
}

func TestCodeOfUnwrapsNestedEnvelopes(t *testing.T) {
	inner := errs.New("token/transfer", errs.CodeInsufficientBalance)
	wrapped := fmt.Errorf("execute tranche: %w", inner)
	require.Equal(t, errs.CodeInsufficientBalance, errs.CodeOf(wrapped))
	require.True(t, errs.Is(wrapped, errs.CodeInsufficientBalance))
	require.False(t, errs.Is(wrapped, errs.CodeUnauthorized))
}

func TestCodeOfPlainError(t *testing.T) {
	require.Equal(t, errs.Code(""), errs.CodeOf(errors.New("plain")))
	require.False(t, errs.Is(nil, errs.CodeInvalid))
}

func TestNilErrorString(t *testing.T) {
	var err *errs.E
	require.Equal(t, "<nil>", err.Error())
}

package observability_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quantfabric/twapd/internal/observability"
)

func TestWriterLoggerRendersFields(t *testing.T) {
	var buf strings.Builder
	logger := observability.NewWriterLogger(&buf, false)

	logger.Info("tranche executed", observability.F("order_id", 7), observability.F("count", 3))
	out := buf.String()
	require.Contains(t, out, "INFO tranche executed")
	require.Contains(t, out, "order_id=7")
	require.Contains(t, out, "count=3")
}

func TestWriterLoggerDropsDebugUnlessEnabled(t *testing.T) {
	var buf strings.Builder
	logger := observability.NewWriterLogger(&buf, false)
	logger.Debug("tick ignored")
	require.Empty(t, buf.String())

	verbose := observability.NewWriterLogger(&buf, true)
	verbose.Debug("tick ignored")
	require.Contains(t, buf.String(), "DEBUG tick ignored")
}

func TestGlobalLoggerDefaultsToNoop(t *testing.T) {
	observability.SetLogger(nil)
	require.NotNil(t, observability.Log())
	observability.Log().Info("should not panic")
}

func TestGlobalMetricsDefaultsToNoop(t *testing.T) {
	observability.SetMetrics(nil)
	require.NotNil(t, observability.Telemetry())
	observability.Count(observability.MetricTranchesExecuted, nil)
}

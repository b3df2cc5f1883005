package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/quantfabric/twapd/lib/telemetry"
)

func TestDisabledProviderIsInert(t *testing.T) {
	provider, err := telemetry.NewProvider(context.Background(), telemetry.Config{
		Enabled:     false,
		ServiceName: "twapd-test",
	})
	require.NoError(t, err)
	require.NotNil(t, provider.Meter("twapd-test"))
	require.NoError(t, provider.Shutdown(context.Background()))
}

func TestEmptyEndpointDisablesExport(t *testing.T) {
	provider, err := telemetry.NewProvider(context.Background(), telemetry.Config{
		Enabled:      true,
		OTLPEndpoint: "",
		ServiceName:  "twapd-test",
	})
	require.NoError(t, err)
	require.NoError(t, provider.Shutdown(context.Background()))
}

func TestMetricsAdapterRecordsCounters(t *testing.T) {
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	adapter := telemetry.NewMetricsAdapter(mp.Meter("twapd-test"))

	adapter.IncCounter("twapd_orders_created_total", 1, map[string]string{"env": "test"})
	adapter.IncCounter("twapd_orders_created_total", 1, nil)
	adapter.SetGauge("twapd_active_orders", 3, nil)
}

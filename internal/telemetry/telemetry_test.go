package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitDisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "leezr"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestMeterUsableWithoutInit(t *testing.T) {
	m := Meter("leezr/test")
	_, err := m.Int64Counter("boots")
	require.NoError(t, err)
}

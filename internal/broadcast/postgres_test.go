package broadcast

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djamelji/leezr-sub000/internal/testutil"
)

// TestPostgresTransportFanOut exercises the LISTEN/NOTIFY path end to
// end: two buses on separate connections, one publishes, the other
// receives. Requires Docker; skipped with -short.
func TestPostgresTransportFanOut(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	logger := slog.Default()

	ta, err := NewPostgresTransport(ctx, tc.DSN, logger)
	require.NoError(t, err)
	defer ta.Close()
	tb, err := NewPostgresTransport(ctx, tc.DSN, logger)
	require.NoError(t, err)
	defer tb.Close()

	received := make(chan Message, 8)
	busA := New(ta, Handlers{}, logger)
	busB := New(tb, Handlers{
		CacheInvalidate: func(_ context.Context, keys []string) {
			received <- Message{Kind: KindCacheInvalidate, Keys: keys}
		},
	}, logger)

	busA.Start(ctx)
	busB.Start(ctx)
	// LISTEN registration races Start; give the listener a beat.
	time.Sleep(500 * time.Millisecond)

	require.NoError(t, busA.CacheInvalidate(ctx, []string{"tenant:company", "features:modules"}))

	select {
	case msg := <-received:
		assert.Equal(t, []string{"tenant:company", "features:modules"}, msg.Keys)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

// TestPostgresTransportSelfDelivery checks that Postgres delivers a
// notification back to its sender connection and the bus filters it out
// by sender id.
func TestPostgresTransportSelfDelivery(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	logger := slog.Default()

	tr, err := NewPostgresTransport(ctx, tc.DSN, logger)
	require.NoError(t, err)
	defer tr.Close()

	fired := make(chan struct{}, 1)
	bus := New(tr, Handlers{
		Logout: func(context.Context) { fired <- struct{}{} },
	}, logger)
	bus.Start(ctx)
	time.Sleep(500 * time.Millisecond)

	require.NoError(t, bus.Logout(ctx))
	select {
	case <-fired:
		t.Fatal("bus must ignore its own notifications")
	case <-time.After(time.Second):
	}
}

package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
)

// Channel is the Postgres LISTEN/NOTIFY channel carrying runtime
// lifecycle messages.
const Channel = "leezr_runtime"

// PostgresTransport carries messages over Postgres LISTEN/NOTIFY, letting
// separate processes share one logical session. LISTEN requires a
// dedicated, non-pooled connection, so the transport holds two: one
// blocked in WaitForNotification and one for publishing.
type PostgresTransport struct {
	logger *slog.Logger

	listenConn *pgx.Conn

	pubMu   sync.Mutex
	pubConn *pgx.Conn
}

// NewPostgresTransport connects both conns to url. Pass a direct (non
// PgBouncer) URL: LISTEN/NOTIFY does not survive connection pooling.
func NewPostgresTransport(ctx context.Context, url string, logger *slog.Logger) (*PostgresTransport, error) {
	listenConn, err := pgx.Connect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("broadcast: connect listen conn: %w", err)
	}
	pubConn, err := pgx.Connect(ctx, url)
	if err != nil {
		_ = listenConn.Close(ctx)
		return nil, fmt.Errorf("broadcast: connect publish conn: %w", err)
	}
	return &PostgresTransport{
		logger:     logger,
		listenConn: listenConn,
		pubConn:    pubConn,
	}, nil
}

// Publish sends one payload on the shared channel.
func (t *PostgresTransport) Publish(ctx context.Context, payload []byte) error {
	t.pubMu.Lock()
	defer t.pubMu.Unlock()
	if _, err := t.pubConn.Exec(ctx, "SELECT pg_notify($1, $2)", Channel, string(payload)); err != nil {
		return fmt.Errorf("broadcast: notify %s: %w", Channel, err)
	}
	return nil
}

// Start listens on the shared channel and delivers every payload to
// receive until ctx is cancelled.
func (t *PostgresTransport) Start(ctx context.Context, receive func(payload []byte)) error {
	if _, err := t.listenConn.Exec(ctx, "LISTEN "+pgx.Identifier{Channel}.Sanitize()); err != nil {
		return fmt.Errorf("broadcast: listen %s: %w", Channel, err)
	}

	for {
		notification, err := t.listenConn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil // Shutting down.
			}
			t.logger.Warn("broadcast: notification error, retrying", "error", err)
			continue
		}
		receive([]byte(notification.Payload))
	}
}

// Close releases both connections.
func (t *PostgresTransport) Close() error {
	ctx := context.Background()
	var firstErr error
	if err := t.listenConn.Close(ctx); err != nil {
		firstErr = err
	}
	t.pubMu.Lock()
	defer t.pubMu.Unlock()
	if err := t.pubConn.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

package broadcast

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Handlers receives decoded lifecycle events. Nil fields are skipped.
// Handler invocations happen on the bus receive goroutine; handlers must
// not block indefinitely.
type Handlers struct {
	Logout          func(ctx context.Context)
	CompanySwitch   func(ctx context.Context, companyID int64)
	CacheInvalidate func(ctx context.Context, keys []string)
	SessionExtended func(ctx context.Context, ttl time.Duration)
	SessionExpired  func(ctx context.Context)
}

// Bus publishes and receives lifecycle messages over a Transport. Every
// bus has a unique sender id; messages it published itself are ignored on
// receipt. A bus over NoopTransport degrades to single-runtime operation
// without ever returning an error.
type Bus struct {
	id        uuid.UUID
	transport Transport
	handlers  Handlers
	logger    *slog.Logger
}

// New creates a bus. Call Start to begin receiving.
func New(transport Transport, handlers Handlers, logger *slog.Logger) *Bus {
	return &Bus{
		id:        uuid.New(),
		transport: transport,
		handlers:  handlers,
		logger:    logger,
	}
}

// Start runs the receive loop in a goroutine until ctx is cancelled.
func (b *Bus) Start(ctx context.Context) {
	go func() {
		if err := b.transport.Start(ctx, func(payload []byte) { b.dispatch(ctx, payload) }); err != nil {
			b.logger.Warn("broadcast: receive loop ended", "error", err)
		}
	}()
}

// Close shuts the underlying transport down.
func (b *Bus) Close() error {
	return b.transport.Close()
}

func (b *Bus) dispatch(ctx context.Context, payload []byte) {
	msg, err := decode(payload)
	if err != nil {
		b.logger.Warn("broadcast: dropping undecodable message", "error", err)
		return
	}
	if msg.Sender == b.id {
		return // own publish
	}

	switch msg.Kind {
	case KindLogout:
		if b.handlers.Logout != nil {
			b.handlers.Logout(ctx)
		}
	case KindCompanySwitch:
		if b.handlers.CompanySwitch != nil {
			b.handlers.CompanySwitch(ctx, msg.CompanyID)
		}
	case KindCacheInvalidate:
		if b.handlers.CacheInvalidate != nil {
			b.handlers.CacheInvalidate(ctx, msg.Keys)
		}
	case KindSessionExtended:
		if b.handlers.SessionExtended != nil {
			b.handlers.SessionExtended(ctx, time.Duration(msg.TTLSeconds)*time.Second)
		}
	case KindSessionExpired:
		if b.handlers.SessionExpired != nil {
			b.handlers.SessionExpired(ctx)
		}
	default:
		b.logger.Warn("broadcast: unknown message kind", "kind", msg.Kind)
	}
}

func (b *Bus) publish(ctx context.Context, msg Message) error {
	msg.ID = uuid.New()
	msg.Sender = b.id
	msg.SentAt = time.Now().UTC()

	raw, err := encode(msg)
	if err != nil {
		return err
	}
	return b.transport.Publish(ctx, raw)
}

// Logout announces a session logout to sibling runtimes.
func (b *Bus) Logout(ctx context.Context) error {
	return b.publish(ctx, Message{Kind: KindLogout})
}

// CompanySwitch announces a tenant change.
func (b *Bus) CompanySwitch(ctx context.Context, companyID int64) error {
	return b.publish(ctx, Message{Kind: KindCompanySwitch, CompanyID: companyID})
}

// CacheInvalidate announces that the named cache keys are no longer valid.
func (b *Bus) CacheInvalidate(ctx context.Context, keys []string) error {
	return b.publish(ctx, Message{Kind: KindCacheInvalidate, Keys: keys})
}

// SessionExtended announces a refreshed session lifetime.
func (b *Bus) SessionExtended(ctx context.Context, ttl time.Duration) error {
	return b.publish(ctx, Message{Kind: KindSessionExtended, TTLSeconds: int64(ttl / time.Second)})
}

// SessionExpired announces that the shared session has ended.
func (b *Bus) SessionExpired(ctx context.Context) error {
	return b.publish(ctx, Message{Kind: KindSessionExpired})
}

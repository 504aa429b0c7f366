// Package broadcast propagates a small, closed set of session lifecycle
// events between runtimes sharing one logical session — the equivalent of
// sibling browser tabs.
//
// The protocol is deliberately closed: five message kinds dispatched
// through one handler set, not a general-purpose event emitter, so every
// receiver matches the full protocol exhaustively.
package broadcast

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind tags a lifecycle message.
type Kind string

const (
	KindLogout          Kind = "logout"
	KindCompanySwitch   Kind = "company-switch"
	KindCacheInvalidate Kind = "cache-invalidate"
	KindSessionExtended Kind = "session-extended"
	KindSessionExpired  Kind = "session-expired"
)

// Message is the wire form of one lifecycle event. Sender identifies the
// publishing bus so a runtime never reacts to its own publishes.
type Message struct {
	ID         uuid.UUID `json:"id"`
	Sender     uuid.UUID `json:"sender"`
	Kind       Kind      `json:"kind"`
	SentAt     time.Time `json:"sent_at"`
	CompanyID  int64     `json:"company_id,omitempty"`  // company-switch
	Keys       []string  `json:"keys,omitempty"`        // cache-invalidate
	TTLSeconds int64     `json:"ttl_seconds,omitempty"` // session-extended
}

func encode(m Message) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("broadcast: encode %s message: %w", m.Kind, err)
	}
	return raw, nil
}

func decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("broadcast: decode message: %w", err)
	}
	return m, nil
}

// Package journal provides a bounded ring buffer of structured diagnostic
// events recorded throughout the boot lifecycle. It is an observability
// aid: consumers read it for debugging and the dev-mode invariant checker
// inspects it, but nothing in the orchestration path depends on it.
package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/djamelji/leezr-sub000/internal/telemetry"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 256

// Entry is one recorded diagnostic event.
type Entry struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
	At   time.Time      `json:"at"`
}

// Journal is a fixed-capacity ring buffer of entries; once full, the
// oldest entry is evicted first. All methods are safe for concurrent use.
type Journal struct {
	logger *slog.Logger

	mu      sync.Mutex
	entries []Entry
	start   int
	size    int

	recorded metric.Int64Counter
	evicted  metric.Int64Counter
}

// New creates a journal holding at most capacity entries.
func New(capacity int, logger *slog.Logger) *Journal {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	j := &Journal{
		logger:  logger,
		entries: make([]Entry, capacity),
	}
	j.registerMetrics()
	return j
}

func (j *Journal) registerMetrics() {
	meter := telemetry.Meter("leezr/journal")

	var err error
	j.recorded, err = meter.Int64Counter("leezr.journal.recorded",
		metric.WithDescription("Total journal entries recorded"))
	if err != nil {
		j.logger.Warn("journal: register recorded counter", "error", err)
	}
	j.evicted, err = meter.Int64Counter("leezr.journal.evicted",
		metric.WithDescription("Total journal entries evicted by the ring buffer"))
	if err != nil {
		j.logger.Warn("journal: register evicted counter", "error", err)
	}
}

// Record appends an event, evicting the oldest entry when the ring is full.
func (j *Journal) Record(typ string, data map[string]any) {
	entry := Entry{Type: typ, Data: data, At: time.Now().UTC()}

	j.mu.Lock()
	if j.size == len(j.entries) {
		// Full: overwrite the oldest slot.
		j.entries[j.start] = entry
		j.start = (j.start + 1) % len(j.entries)
		j.mu.Unlock()
		if j.evicted != nil {
			j.evicted.Add(context.Background(), 1)
		}
	} else {
		j.entries[(j.start+j.size)%len(j.entries)] = entry
		j.size++
		j.mu.Unlock()
	}

	if j.recorded != nil {
		j.recorded.Add(context.Background(), 1)
	}
}

// Entries returns a copy of the buffer, oldest first.
func (j *Journal) Entries() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]Entry, j.size)
	for i := 0; i < j.size; i++ {
		out[i] = j.entries[(j.start+i)%len(j.entries)]
	}
	return out
}

// Len returns the number of retained entries.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.size
}

// Capacity returns the fixed ring size.
func (j *Journal) Capacity() int {
	return len(j.entries)
}

// Clear discards all retained entries.
func (j *Journal) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.start, j.size = 0, 0
}

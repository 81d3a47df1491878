package events

import (
	"sync"

	"nftmarket/core/types"
)

// Event represents a structured state change emitted by the marketplace.
type Event interface {
	EventType() string
}

// Payloader is implemented by events that carry a serializable payload for
// downstream subscribers (RPC queries, indexers).
type Payloader interface {
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Recorder keeps the most recent events in a bounded in-memory ring so the
// RPC layer can serve them to external observers.
type Recorder struct {
	mu    sync.RWMutex
	buf   []*types.Event
	limit int
}

const defaultRecorderLimit = 1024

// NewRecorder builds a recorder that retains up to limit events; a
// non-positive limit selects the default capacity.
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = defaultRecorderLimit
	}
	return &Recorder{limit: limit}
}

// Emit implements the Emitter interface. Events without a payload are
// retained as type-only records.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	payload := &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
	if p, ok := evt.(Payloader); ok {
		if e := p.Event(); e != nil {
			payload = e.Clone()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) == r.limit {
		r.buf = append(r.buf[1:], payload)
		return
	}
	r.buf = append(r.buf, payload)
}

// Events returns a copy of the retained events, oldest first.
func (r *Recorder) Events() []*types.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.Event, 0, len(r.buf))
	for _, evt := range r.buf {
		out = append(out, evt.Clone())
	}
	return out
}

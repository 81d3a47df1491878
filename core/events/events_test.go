package events

import (
	"strconv"
	"testing"

	"nftmarket/core/types"
)

type typedEvent struct {
	kind string
}

func (e typedEvent) EventType() string { return e.kind }

type payloadEvent struct {
	evt *types.Event
}

func (e payloadEvent) EventType() string   { return e.evt.Type }
func (e payloadEvent) Event() *types.Event { return e.evt }

func TestRecorderKeepsInsertionOrder(t *testing.T) {
	rec := NewRecorder(10)
	for i := 0; i < 3; i++ {
		rec.Emit(typedEvent{kind: "evt." + strconv.Itoa(i)})
	}
	got := rec.Events()
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	for i, evt := range got {
		if want := "evt." + strconv.Itoa(i); evt.Type != want {
			t.Fatalf("event %d: got %q, want %q", i, evt.Type, want)
		}
	}
}

func TestRecorderEvictsOldest(t *testing.T) {
	rec := NewRecorder(2)
	for i := 0; i < 5; i++ {
		rec.Emit(typedEvent{kind: "evt." + strconv.Itoa(i)})
	}
	got := rec.Events()
	if len(got) != 2 {
		t.Fatalf("expected 2 retained events, got %d", len(got))
	}
	if got[0].Type != "evt.3" || got[1].Type != "evt.4" {
		t.Fatalf("expected the two newest events, got %q and %q", got[0].Type, got[1].Type)
	}
}

func TestRecorderCopiesPayloads(t *testing.T) {
	rec := NewRecorder(10)
	original := &types.Event{Type: "evt.payload", Attributes: map[string]string{"key": "value"}}
	rec.Emit(payloadEvent{evt: original})

	// Mutating the emitted payload or the returned copy must not leak into
	// the recorder.
	original.Attributes["key"] = "changed"
	got := rec.Events()
	if got[0].Attributes["key"] != "value" {
		t.Fatalf("recorder shares the emitted payload: %v", got[0].Attributes)
	}
	got[0].Attributes["key"] = "changed-again"
	if rec.Events()[0].Attributes["key"] != "value" {
		t.Fatal("recorder shares its retained payloads with callers")
	}
}

func TestRecorderNilSafety(t *testing.T) {
	rec := NewRecorder(0)
	rec.Emit(nil)
	if len(rec.Events()) != 0 {
		t.Fatal("nil event recorded")
	}
	rec.Emit(typedEvent{kind: "evt.bare"})
	got := rec.Events()
	if len(got) != 1 || got[0].Attributes == nil {
		t.Fatalf("bare event should be retained with empty attributes, got %+v", got)
	}
}

package eventbus

import "testing"

func TestSubscribeFiltersByType(t *testing.T) {
	b := New()
	stages, unsubStages := b.Subscribe(4, TypeStage)
	defer unsubStages()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()

	b.Publish(Event{Type: TypeStage, Data: "lock"})
	b.Publish(Event{Type: TypeRunDone})

	if e := <-stages; e.Data != "lock" || e.Time.IsZero() {
		t.Fatalf("stage event = %+v", e)
	}
	select {
	case e := <-stages:
		t.Fatalf("unexpected event %+v", e)
	default:
	}
	if len(all) != 2 {
		t.Fatalf("unfiltered subscriber got %d events, want 2", len(all))
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	b.Publish(Event{Type: TypeStage})
	b.Publish(Event{Type: TypeStage})
	if b.Dropped() != 1 {
		t.Fatalf("Dropped() = %d, want 1", b.Dropped())
	}
	unsub()
	unsub()
	b.Publish(Event{Type: TypeStage})
}

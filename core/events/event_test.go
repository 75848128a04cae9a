package events

import "testing"

type testEvent string

func (e testEvent) EventType() string { return string(e) }

type recorder struct{ seen []string }

func (r *recorder) Emit(evt Event) { r.seen = append(r.seen, evt.EventType()) }

func TestBufferFlushPreservesOrder(t *testing.T) {
	var buf Buffer
	buf.Emit(testEvent("a"))
	buf.Emit(nil)
	buf.Emit(testEvent("b"))
	if buf.Len() != 2 {
		t.Fatalf("expected 2 buffered events, got %d", buf.Len())
	}
	rec := &recorder{}
	buf.Flush(rec)
	if len(rec.seen) != 2 || rec.seen[0] != "a" || rec.seen[1] != "b" {
		t.Fatalf("unexpected flush order: %v", rec.seen)
	}
	if buf.Len() != 0 {
		t.Fatalf("buffer not cleared after flush")
	}
}

func TestBufferResetDropsEvents(t *testing.T) {
	var buf Buffer
	buf.Emit(testEvent("a"))
	buf.Reset()
	rec := &recorder{}
	buf.Flush(rec)
	if len(rec.seen) != 0 {
		t.Fatalf("expected no events after reset, got %v", rec.seen)
	}
}

func TestBroadcasterFansOut(t *testing.T) {
	rec := &recorder{}
	b := NewBroadcaster(rec, nil)
	ch, cancel := b.Subscribe()
	b.Emit(testEvent("escrow.created"))
	if len(rec.seen) != 1 {
		t.Fatalf("sink did not receive event")
	}
	select {
	case evt := <-ch:
		if evt.EventType() != "escrow.created" {
			t.Fatalf("unexpected event %s", evt.EventType())
		}
	default:
		t.Fatalf("subscriber did not receive event")
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed after cancel")
	}
	b.Emit(testEvent("escrow.released"))
	if len(rec.seen) != 2 {
		t.Fatalf("sink missed event after subscriber cancel")
	}
}

func TestBroadcasterDropsForSlowSubscriber(t *testing.T) {
	b := NewBroadcaster()
	_, cancel := b.Subscribe()
	defer cancel()
	for i := 0; i < defaultSubscriberBuffer+10; i++ {
		b.Emit(testEvent("tick"))
	}
}

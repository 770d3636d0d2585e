package capture

import (
	"fmt"
	"testing"
	"time"
)

func testRecord(i int) LogRecord {
	return NewRecord("GET", fmt.Sprintf("http://example.test/items/%d", i))
}

func TestRingEvictsOldestAtCapacity(t *testing.T) {
	ring := NewRing(5)
	for i := 0; i < 8; i++ {
		ring.Push(testRecord(i))
	}
	if got := ring.Len(); got != 5 {
		t.Fatalf("expected ring to hold 5 records, got %d", got)
	}
	snap := ring.Snapshot(0)
	if len(snap) != 5 {
		t.Fatalf("expected snapshot of 5, got %d", len(snap))
	}
	if snap[0].URL != "http://example.test/items/7" {
		t.Fatalf("expected newest record first, got %s", snap[0].URL)
	}
	if snap[4].URL != "http://example.test/items/3" {
		t.Fatalf("expected oldest surviving record last, got %s", snap[4].URL)
	}
}

func TestRingSnapshotLimit(t *testing.T) {
	ring := NewRing(10)
	for i := 0; i < 10; i++ {
		ring.Push(testRecord(i))
	}
	snap := ring.Snapshot(3)
	if len(snap) != 3 {
		t.Fatalf("expected 3 records, got %d", len(snap))
	}
	if snap[0].URL != "http://example.test/items/9" || snap[2].URL != "http://example.test/items/7" {
		t.Fatalf("unexpected snapshot order: %s .. %s", snap[0].URL, snap[2].URL)
	}
	if got := ring.Snapshot(100); len(got) != 10 {
		t.Fatalf("expected limit above size to return all 10, got %d", len(got))
	}
}

func TestRingClearKeepsSubscribers(t *testing.T) {
	ring := NewRing(10)
	ch, cancel := ring.Subscribe()
	defer cancel()

	ring.Push(testRecord(1))
	ring.Clear()
	if got := ring.Len(); got != 0 {
		t.Fatalf("expected empty ring after clear, got %d", got)
	}
	if snap := ring.Snapshot(0); len(snap) != 0 {
		t.Fatalf("expected empty snapshot after clear, got %d records", len(snap))
	}

	// Drain the record delivered before the clear.
	<-ch

	ring.Push(testRecord(2))
	select {
	case rec := <-ch:
		if rec.URL != "http://example.test/items/2" {
			t.Fatalf("unexpected record after clear: %s", rec.URL)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive record pushed after clear")
	}
}

func TestSubscribeDeliversAndCancelCloses(t *testing.T) {
	ring := NewRing(10)
	ch, cancel := ring.Subscribe()

	ring.Push(testRecord(42))
	select {
	case rec := <-ch:
		if rec.Path != "/items/42" {
			t.Fatalf("expected /items/42, got %s", rec.Path)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive pushed record")
	}

	cancel()
	cancel() // second cancel must be a no-op
	if _, open := <-ch; open {
		t.Fatal("expected channel to be closed after cancel")
	}

	// Pushes after cancel must not panic or block.
	ring.Push(testRecord(43))
}

func TestSlowSubscriberLosesRecordsNotCapture(t *testing.T) {
	ring := NewRing(2 * subscriberBuffer)
	ch, cancel := ring.Subscribe()
	defer cancel()

	total := subscriberBuffer + 50
	done := make(chan struct{})
	go func() {
		for i := 0; i < total; i++ {
			ring.Push(testRecord(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pushing blocked on a slow subscriber")
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	if received != subscriberBuffer {
		t.Fatalf("expected exactly %d buffered records, got %d", subscriberBuffer, received)
	}
	if got := ring.Len(); got != total {
		t.Fatalf("expected ring to keep all %d records, got %d", total, got)
	}
}

func TestNewRingDefaultCapacity(t *testing.T) {
	ring := NewRing(0)
	for i := 0; i < DefaultRingCapacity+10; i++ {
		ring.Push(testRecord(i))
	}
	if got := ring.Len(); got != DefaultRingCapacity {
		t.Fatalf("expected default capacity %d, got %d", DefaultRingCapacity, got)
	}
}

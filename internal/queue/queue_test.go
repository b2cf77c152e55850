package queue

import (
	"encoding/json"
	"io"
	"log"
	"testing"

	"handsync/internal/handover"
	"handsync/internal/store"
)

// testManager returns a queue manager over an in-memory store.
func testManager(t *testing.T) *Manager {
	t.Helper()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, log.New(io.Discard, "", 0))
}

// TestEnqueue_AssignsIdentity tests fresh id, zero retries, and timestamp.
func TestEnqueue_AssignsIdentity(t *testing.T) {
	m := testManager(t)

	item, err := m.Enqueue(OpPushDataset, handover.New())
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if item.ID == "" {
		t.Error("item has empty id")
	}
	if item.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", item.RetryCount)
	}
	if item.EnqueuedAt.IsZero() {
		t.Error("EnqueuedAt not set")
	}
}

// TestEnqueue_UniqueIDs tests the id uniqueness invariant.
func TestEnqueue_UniqueIDs(t *testing.T) {
	m := testManager(t)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		item, err := m.Enqueue(OpSaveRecord, nil)
		if err != nil {
			t.Fatalf("Enqueue() failed: %v", err)
		}
		if seen[item.ID] {
			t.Fatalf("duplicate id %s", item.ID)
		}
		seen[item.ID] = true
	}
}

// TestList_EnqueueOrder tests FIFO ordering.
func TestList_EnqueueOrder(t *testing.T) {
	m := testManager(t)

	first, _ := m.Enqueue(OpPushDataset, nil)
	second, _ := m.Enqueue(OpSaveRecord, nil)
	third, _ := m.Enqueue(OpPushDataset, nil)

	items, err := m.List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("List() returned %d items, want 3", len(items))
	}
	want := []string{first.ID, second.ID, third.ID}
	for i, id := range want {
		if items[i].ID != id {
			t.Errorf("items[%d].ID = %s, want %s", i, items[i].ID, id)
		}
	}
}

// TestRemove_Idempotent tests that removing an unknown id is a no-op.
func TestRemove_Idempotent(t *testing.T) {
	m := testManager(t)

	item, _ := m.Enqueue(OpPushDataset, nil)

	if err := m.Remove("no-such-id"); err != nil {
		t.Errorf("Remove() of unknown id failed: %v", err)
	}
	if err := m.Remove(item.ID); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	if err := m.Remove(item.ID); err != nil {
		t.Errorf("second Remove() of same id failed: %v", err)
	}

	n, _ := m.Len()
	if n != 0 {
		t.Errorf("Len() = %d, want 0", n)
	}
}

// TestBumpRetry_Monotone tests retry counter increments.
func TestBumpRetry_Monotone(t *testing.T) {
	m := testManager(t)

	item, _ := m.Enqueue(OpPushDataset, nil)

	for want := 1; want <= 3; want++ {
		updated, err := m.BumpRetry(item.ID)
		if err != nil {
			t.Fatalf("BumpRetry() failed: %v", err)
		}
		if updated.RetryCount != want {
			t.Errorf("RetryCount = %d, want %d", updated.RetryCount, want)
		}
	}

	// The bumped count must be persisted, not just returned.
	items, _ := m.List()
	if items[0].RetryCount != 3 {
		t.Errorf("persisted RetryCount = %d, want 3", items[0].RetryCount)
	}
}

// TestBumpRetry_Unknown tests the error for an unknown id.
func TestBumpRetry_Unknown(t *testing.T) {
	m := testManager(t)

	if _, err := m.BumpRetry("ghost"); err == nil {
		t.Fatal("BumpRetry() of unknown id succeeded, want error")
	}
}

// TestLoad_CorruptBlob tests the fail-open invariant: a corrupt persisted
// queue reads back as empty, and new items can still be enqueued.
func TestLoad_CorruptBlob(t *testing.T) {
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	defer st.Close()

	if err := st.Put(store.KeyQueue, "][ definitely not json"); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	m := New(st, log.New(io.Discard, "", 0))
	items, err := m.List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("List() = %d items, want 0", len(items))
	}

	if _, err := m.Enqueue(OpPushDataset, nil); err != nil {
		t.Fatalf("Enqueue() after corruption failed: %v", err)
	}
	n, _ := m.Len()
	if n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}
}

// TestPayload_RoundTrip tests that a dataset payload survives the queue.
func TestPayload_RoundTrip(t *testing.T) {
	m := testManager(t)

	ds := handover.New()
	ds.SetStage("A", "A-101", handover.StageKeyHandover, &handover.StageStatus{Completed: true})

	if _, err := m.Enqueue(OpPushDataset, ds); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	items, _ := m.List()
	var got handover.Dataset
	if err := json.Unmarshal(items[0].Payload, &got); err != nil {
		t.Fatalf("payload unmarshal failed: %v", err)
	}
	if !got.Towers["A"].Flats["A-101"][handover.StageKeyHandover].Completed {
		t.Error("payload dataset lost stage status")
	}
}

// TestClear tests wholesale queue removal.
func TestClear(t *testing.T) {
	m := testManager(t)

	m.Enqueue(OpPushDataset, nil)
	m.Enqueue(OpSaveRecord, nil)

	if err := m.Clear(); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}
	n, _ := m.Len()
	if n != 0 {
		t.Errorf("Len() after Clear = %d, want 0", n)
	}
}

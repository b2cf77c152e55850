package daemon

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"handsync/internal/handover"
	"handsync/internal/queue"
	"handsync/internal/remote"
	"handsync/internal/store"
)

// fakeRemote is a Remote with injectable behavior.
type fakeRemote struct {
	configured    bool
	pushErr       error
	pushes        int
	pullDS        handover.Dataset
	pullPerformed bool
	pullErr       error
	pulls         int
}

func (f *fakeRemote) Push(_ context.Context, _ handover.Dataset) error {
	f.pushes++
	return f.pushErr
}

func (f *fakeRemote) Pull(_ context.Context) (handover.Dataset, bool, error) {
	f.pulls++
	if f.pullErr != nil {
		return handover.Dataset{}, false, f.pullErr
	}
	return f.pullDS, f.pullPerformed, nil
}

func (f *fakeRemote) Configured() bool { return f.configured }

// countingNotifier records every notification it receives.
type countingNotifier struct {
	succeeded []Result
	failed    []error
}

func (n *countingNotifier) SyncSucceeded(res Result) { n.succeeded = append(n.succeeded, res) }
func (n *countingNotifier) SyncFailed(err error)     { n.failed = append(n.failed, err) }

func (n *countingNotifier) total() int { return len(n.succeeded) + len(n.failed) }

func newTestOrchestrator(t *testing.T, rc Remote) (*Orchestrator, *store.Store, *queue.Manager, *countingNotifier) {
	t.Helper()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	quiet := log.New(io.Discard, "", 0)
	qm := queue.New(st, quiet)
	notifier := &countingNotifier{}

	o, err := New(st, qm, rc, notifier, &Config{
		PollInterval:       time.Minute,
		StalenessThreshold: time.Minute,
		ProbeInterval:      time.Minute,
		MaxRetries:         3,
		Backoff:            Immediate{},
		Logger:             quiet,
	})
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}
	return o, st, qm, notifier
}

func testDataset(t *testing.T) handover.Dataset {
	t.Helper()
	ds := handover.New()
	ds.SetStage("A", "101", handover.StageKeyHandover, &handover.StageStatus{
		Completed: true,
		Date:      "2026-08-01",
		Actor:     "site office",
	})
	return ds
}

func TestNew_NilCollaborators(t *testing.T) {
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()
	quiet := log.New(io.Discard, "", 0)
	qm := queue.New(st, quiet)
	rc := &fakeRemote{}
	notifier := &countingNotifier{}

	if _, err := New(nil, qm, rc, notifier, nil); err == nil {
		t.Error("Expected error for nil store")
	}
	if _, err := New(st, nil, rc, notifier, nil); err == nil {
		t.Error("Expected error for nil queue manager")
	}
	if _, err := New(st, qm, nil, notifier, nil); err == nil {
		t.Error("Expected error for nil remote")
	}
	if _, err := New(st, qm, rc, nil, nil); err == nil {
		t.Error("Expected error for nil notifier")
	}
}

func TestSyncOnce_PushPullMerge(t *testing.T) {
	snapshot := handover.New()
	snapshot.SetStage("B", "202", handover.StageSnagging, &handover.StageStatus{
		Completed: true,
		Date:      "2026-08-10",
	})
	rc := &fakeRemote{configured: true, pullDS: snapshot, pullPerformed: true}
	o, st, _, notifier := newTestOrchestrator(t, rc)

	if err := st.WriteDataset(testDataset(t)); err != nil {
		t.Fatalf("Failed to seed dataset: %v", err)
	}

	res, err := o.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("SyncOnce failed: %v", err)
	}
	if !res.Pushed {
		t.Error("Expected push to be reported")
	}
	if !res.Merged {
		t.Error("Expected merge to be reported")
	}
	if rc.pushes != 1 || rc.pulls != 1 {
		t.Errorf("Expected 1 push and 1 pull, got %d and %d", rc.pushes, rc.pulls)
	}

	merged, err := st.ReadDataset()
	if err != nil {
		t.Fatalf("Failed to read merged dataset: %v", err)
	}
	local := merged.Towers["A"].Flats["101"][handover.StageKeyHandover]
	if local == nil || !local.Completed {
		t.Error("Expected local record to survive the merge")
	}
	pulled := merged.Towers["B"].Flats["202"][handover.StageSnagging]
	if pulled == nil || pulled.Date != "2026-08-10" {
		t.Error("Expected pulled record in merged dataset")
	}

	md, err := st.ReadMetadata()
	if err != nil {
		t.Fatalf("Failed to read metadata: %v", err)
	}
	if md.LastSync.IsZero() {
		t.Error("Expected last sync timestamp to be recorded")
	}

	if notifier.total() != 1 || len(notifier.succeeded) != 1 {
		t.Errorf("Expected exactly one success notification, got %d success / %d failure",
			len(notifier.succeeded), len(notifier.failed))
	}
}

func TestSyncOnce_EmptyDatasetSkipsPush(t *testing.T) {
	rc := &fakeRemote{configured: true}
	o, _, _, notifier := newTestOrchestrator(t, rc)

	res, err := o.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("SyncOnce failed: %v", err)
	}
	if rc.pushes != 0 {
		t.Errorf("Expected no push for empty dataset, got %d", rc.pushes)
	}
	if res.Pushed {
		t.Error("Expected Pushed to be false")
	}
	if notifier.total() != 1 {
		t.Errorf("Expected exactly one notification, got %d", notifier.total())
	}
}

func TestSyncOnce_PushFailureQueues(t *testing.T) {
	rc := &fakeRemote{
		configured: true,
		pushErr:    &remote.TransportError{Op: "push", Status: 503},
	}
	o, st, qm, notifier := newTestOrchestrator(t, rc)

	if err := st.WriteDataset(testDataset(t)); err != nil {
		t.Fatalf("Failed to seed dataset: %v", err)
	}

	res, err := o.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("SyncOnce failed: %v", err)
	}
	if !res.PushQueued {
		t.Error("Expected push to be queued")
	}
	if res.Pushed {
		t.Error("Expected Pushed to be false after transport failure")
	}

	// The failed push joins the queue, the same-cycle drain retries it
	// once and defers it for later.
	items, err := qm.List()
	if err != nil {
		t.Fatalf("Failed to list queue: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Expected 1 queued item, got %d", len(items))
	}
	if items[0].Op != queue.OpPushDataset {
		t.Errorf("Expected op %q, got %q", queue.OpPushDataset, items[0].Op)
	}
	if items[0].RetryCount != 1 {
		t.Errorf("Expected retry count 1 after same-cycle drain attempt, got %d", items[0].RetryCount)
	}

	// A transport failure still counts as a completed cycle.
	if len(notifier.succeeded) != 1 || len(notifier.failed) != 0 {
		t.Errorf("Expected one success notification, got %d success / %d failure",
			len(notifier.succeeded), len(notifier.failed))
	}
}

func TestSyncOnce_NonTransportPushErrorFails(t *testing.T) {
	rc := &fakeRemote{configured: true, pushErr: errors.New("marshal exploded")}
	o, st, _, notifier := newTestOrchestrator(t, rc)

	if err := st.WriteDataset(testDataset(t)); err != nil {
		t.Fatalf("Failed to seed dataset: %v", err)
	}

	if _, err := o.SyncOnce(context.Background()); err == nil {
		t.Fatal("Expected SyncOnce to fail for a non-transport push error")
	}
	if len(notifier.failed) != 1 || len(notifier.succeeded) != 0 {
		t.Errorf("Expected one failure notification, got %d success / %d failure",
			len(notifier.succeeded), len(notifier.failed))
	}
}

func TestSyncOnce_PullFailureKeepsLocalData(t *testing.T) {
	rc := &fakeRemote{
		configured: true,
		pullErr:    &remote.TransportError{Op: "pull", Status: 500},
	}
	o, st, _, notifier := newTestOrchestrator(t, rc)

	seed := testDataset(t)
	if err := st.WriteDataset(seed); err != nil {
		t.Fatalf("Failed to seed dataset: %v", err)
	}

	res, err := o.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("SyncOnce failed: %v", err)
	}
	if res.Merged {
		t.Error("Expected no merge after pull failure")
	}

	after, err := st.ReadDataset()
	if err != nil {
		t.Fatalf("Failed to read dataset: %v", err)
	}
	rec := after.Towers["A"].Flats["101"][handover.StageKeyHandover]
	if rec == nil || !rec.Completed {
		t.Error("Expected local data to survive a failed pull")
	}
	if notifier.total() != 1 || len(notifier.succeeded) != 1 {
		t.Error("Expected exactly one success notification")
	}
}

func TestSyncOnce_UnconfiguredRemoteIsNoop(t *testing.T) {
	rc := &fakeRemote{configured: false}
	o, st, _, notifier := newTestOrchestrator(t, rc)

	if err := st.WriteDataset(testDataset(t)); err != nil {
		t.Fatalf("Failed to seed dataset: %v", err)
	}

	res, err := o.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("SyncOnce failed: %v", err)
	}
	if res.Pushed || res.Merged || res.PushQueued {
		t.Errorf("Expected no-op result, got %+v", res)
	}
	if notifier.total() != 1 {
		t.Errorf("Expected exactly one notification, got %d", notifier.total())
	}
}

func TestSyncOnce_CorruptDatasetAborts(t *testing.T) {
	rc := &fakeRemote{configured: true}
	o, st, _, notifier := newTestOrchestrator(t, rc)

	if err := st.Put(store.KeyDataset, "{not json"); err != nil {
		t.Fatalf("Failed to corrupt dataset: %v", err)
	}

	if _, err := o.SyncOnce(context.Background()); err == nil {
		t.Fatal("Expected SyncOnce to fail on a corrupt dataset")
	}
	if rc.pushes != 0 {
		t.Error("Expected no push after a corrupt dataset read")
	}
	if len(notifier.failed) != 1 {
		t.Errorf("Expected one failure notification, got %d", len(notifier.failed))
	}
	if o.State() != StateIdle {
		t.Errorf("Expected state to return to idle, got %s", o.State())
	}
}

func TestDrainQueue_EvictsAfterMaxRetries(t *testing.T) {
	rc := &fakeRemote{
		configured: true,
		pushErr:    &remote.TransportError{Op: "push", Status: 503},
	}
	o, _, qm, _ := newTestOrchestrator(t, rc)

	if _, err := qm.Enqueue(queue.OpPushDataset, testDataset(t)); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	// MaxRetries is 3: two cycles keep the item alive, the third evicts it.
	for i := 0; i < 2; i++ {
		if _, err := o.SyncOnce(context.Background()); err != nil {
			t.Fatalf("SyncOnce %d failed: %v", i, err)
		}
		n, err := qm.Len()
		if err != nil {
			t.Fatalf("Failed to read queue length: %v", err)
		}
		if n != 1 {
			t.Fatalf("Expected item to survive cycle %d, queue length %d", i, n)
		}
	}

	res, err := o.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("Final SyncOnce failed: %v", err)
	}
	if res.Dropped != 1 {
		t.Errorf("Expected 1 dropped item, got %d", res.Dropped)
	}
	n, err := qm.Len()
	if err != nil {
		t.Fatalf("Failed to read queue length: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected empty queue after eviction, got %d", n)
	}
}

func TestDrainQueue_SucceedsAndRemoves(t *testing.T) {
	rc := &fakeRemote{configured: true}
	o, _, qm, _ := newTestOrchestrator(t, rc)

	if _, err := qm.Enqueue(queue.OpPushDataset, testDataset(t)); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	if _, err := qm.Enqueue(queue.OpSaveRecord, testDataset(t)); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	res, err := o.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("SyncOnce failed: %v", err)
	}
	if res.Drained != 2 {
		t.Errorf("Expected 2 drained items, got %d", res.Drained)
	}
	n, err := qm.Len()
	if err != nil {
		t.Fatalf("Failed to read queue length: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected empty queue, got %d", n)
	}
}

func TestDrainQueue_UndecodablePayloadDropped(t *testing.T) {
	rc := &fakeRemote{configured: true}
	o, _, qm, _ := newTestOrchestrator(t, rc)

	// A string payload will never decode into a dataset.
	if _, err := qm.Enqueue(queue.OpPushDataset, "not a dataset"); err != nil {
		t.Fatalf("Failed to enqueue broken item: %v", err)
	}

	res, err := o.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("SyncOnce failed: %v", err)
	}
	if res.Dropped != 1 {
		t.Errorf("Expected the broken item to be dropped, got %d", res.Dropped)
	}
	n, err := qm.Len()
	if err != nil {
		t.Fatalf("Failed to read queue length: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected empty queue, got %d", n)
	}
}

func TestDrainQueue_BackoffDefers(t *testing.T) {
	rc := &fakeRemote{configured: true}
	o, _, qm, _ := newTestOrchestrator(t, rc)
	o.config.Backoff = Constant{D: time.Hour}

	if _, err := qm.Enqueue(queue.OpPushDataset, testDataset(t)); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	res, err := o.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("SyncOnce failed: %v", err)
	}
	if res.Deferred != 1 {
		t.Errorf("Expected 1 deferred item, got %d", res.Deferred)
	}
	if rc.pushes > 1 {
		t.Errorf("Expected the deferred item not to be attempted, pushes %d", rc.pushes)
	}
}

func TestSyncOnce_RejectsWhileSyncing(t *testing.T) {
	rc := &fakeRemote{configured: false}
	o, _, _, _ := newTestOrchestrator(t, rc)

	if err := o.machine.Event(context.Background(), eventTrigger); err != nil {
		t.Fatalf("Failed to enter syncing state: %v", err)
	}
	if _, err := o.SyncOnce(context.Background()); err == nil {
		t.Error("Expected SyncOnce to refuse while a cycle is in flight")
	}
}

func TestRequestSync_Coalesces(t *testing.T) {
	rc := &fakeRemote{}
	o, _, _, _ := newTestOrchestrator(t, rc)

	o.RequestSync()
	o.RequestSync()
	o.RequestSync()

	if len(o.resync) != 1 {
		t.Errorf("Expected coalesced requests to leave 1 pending, got %d", len(o.resync))
	}
}

func TestStale(t *testing.T) {
	rc := &fakeRemote{}
	o, st, _, _ := newTestOrchestrator(t, rc)

	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return base }

	// No sync yet: always stale.
	if !o.stale() {
		t.Error("Expected fresh store to be stale")
	}

	if err := st.WriteMetadata(store.Metadata{LastSync: base.Add(-30 * time.Second)}); err != nil {
		t.Fatalf("Failed to write metadata: %v", err)
	}
	if o.stale() {
		t.Error("Expected recent sync to not be stale")
	}

	if err := st.WriteMetadata(store.Metadata{LastSync: base.Add(-2 * time.Minute)}); err != nil {
		t.Fatalf("Failed to write metadata: %v", err)
	}
	if !o.stale() {
		t.Error("Expected old sync to be stale")
	}
}

func TestCheckConnectivity_DropAndRestore(t *testing.T) {
	rc := &fakeRemote{configured: true}
	o, _, _, notifier := newTestOrchestrator(t, rc)

	online := false
	o.probe = func(context.Context) bool { return online }

	o.checkConnectivity(context.Background())
	if o.State() != StateOffline {
		t.Fatalf("Expected offline state, got %s", o.State())
	}

	// Repeated failures stay offline without extra transitions.
	o.checkConnectivity(context.Background())
	if o.State() != StateOffline {
		t.Fatalf("Expected offline state, got %s", o.State())
	}

	online = true
	o.checkConnectivity(context.Background())
	if o.State() != StateIdle {
		t.Errorf("Expected idle after restore cycle, got %s", o.State())
	}
	if len(notifier.succeeded) != 1 {
		t.Errorf("Expected restore to run one sync cycle, got %d", len(notifier.succeeded))
	}
}

func TestRun_CancelStopsLoop(t *testing.T) {
	rc := &fakeRemote{}
	o, st, _, _ := newTestOrchestrator(t, rc)
	o.probe = func(context.Context) bool { return true }

	// Fresh metadata so the startup staleness check skips syncing.
	if err := st.WriteMetadata(store.Metadata{LastSync: time.Now()}); err != nil {
		t.Fatalf("Failed to write metadata: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

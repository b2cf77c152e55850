// Package daemon drives the sync cycle between the local store and the
// remote spreadsheet-backed endpoint.
//
// The orchestrator runs a three-state machine:
//
//	idle    --trigger-->  syncing   (timer past staleness, resync request)
//	syncing --finish-->   idle      (cycle done, success or partial failure)
//	any     --drop-->     offline   (connectivity probe failed)
//	offline --restore-->  syncing   (connectivity back)
//
// One cycle is push -> pull+merge -> queue drain, strictly sequential.
// Cycles never overlap: triggers arriving while a cycle is in flight fail
// the idle->syncing transition and are coalesced, which is also what makes
// single-writer access to the store safe without locks.
//
// Failure semantics: a failed push becomes a queued retry; a failed pull
// is logged and skipped (local data stands for the cycle); queue drain
// failures are item-local. Only unexpected errors (a dataset blob that no
// longer parses, store write failures) abort the cycle. Every cycle ends
// with exactly one success or failure notification.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/looplab/fsm"

	"handsync/internal/handover"
	"handsync/internal/merge"
	"handsync/internal/queue"
	"handsync/internal/remote"
	"handsync/internal/store"
)

// Orchestrator states.
const (
	StateIdle    = "idle"
	StateSyncing = "syncing"
	StateOffline = "offline"
)

// State machine event names.
const (
	eventTrigger = "trigger"
	eventFinish  = "finish"
	eventDrop    = "drop"
	eventRestore = "restore"
)

// Remote abstracts the push/pull client so tests can substitute fakes.
// *remote.Client satisfies it.
type Remote interface {
	Push(ctx context.Context, ds handover.Dataset) error
	Pull(ctx context.Context) (handover.Dataset, bool, error)
	Configured() bool
}

// Event is a status update published to observers (the dashboard).
type Event struct {
	// Type is one of "state_change", "sync_complete", "sync_failed",
	// "queue_update".
	Type string `json:"type"`
	// State is set for state_change events.
	State string `json:"state,omitempty"`
	// Result is set for sync_complete events.
	Result *Result `json:"result,omitempty"`
	// Error is set for sync_failed events.
	Error string `json:"error,omitempty"`
	// QueueDepth is set for queue_update events.
	QueueDepth int `json:"queueDepth,omitempty"`
	// Time is when the event occurred.
	Time time.Time `json:"time"`
}

// Publisher receives orchestrator events. Implementations must not block.
type Publisher interface {
	Publish(ev Event)
}

// Config holds orchestrator tuning.
type Config struct {
	// PollInterval is how often the timer fires.
	PollInterval time.Duration

	// StalenessThreshold gates timer-triggered cycles: the timer only
	// starts a sync when the last successful one is older than this.
	// Decoupled from PollInterval so polling can stay frequent without
	// hammering the remote.
	StalenessThreshold time.Duration

	// ProbeInterval is how often connectivity is checked.
	ProbeInterval time.Duration

	// MaxRetries is the retry bound for queued operations (see Backoff).
	MaxRetries int

	// Backoff gates re-attempts of queued operations.
	Backoff Policy

	// Logger for orchestrator activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:       5 * time.Minute,
		StalenessThreshold: 10 * time.Minute,
		ProbeInterval:      30 * time.Second,
		MaxRetries:         3,
		Backoff:            Exponential{},
		Logger:             log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Orchestrator owns the sync cycle. Construct with New, then either call
// SyncOnce for a one-shot cycle or Run for the long-lived daemon loop.
type Orchestrator struct {
	store    *store.Store
	queue    *queue.Manager
	remote   Remote
	notifier Notifier
	config   *Config

	machine   *fsm.FSM
	resync    chan struct{}
	publisher Publisher

	// now and probe are injectable for tests.
	now   func() time.Time
	probe func(ctx context.Context) bool
}

// New creates an orchestrator with injected collaborators.
//
// notifier must not be nil: every cycle reports its outcome somewhere.
// Use SetPublisher to attach an optional dashboard.
func New(st *store.Store, qm *queue.Manager, rc Remote, notifier Notifier, cfg *Config) (*Orchestrator, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if qm == nil {
		return nil, fmt.Errorf("queue manager cannot be nil")
	}
	if rc == nil {
		return nil, fmt.Errorf("remote client cannot be nil")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier cannot be nil")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if cfg.Backoff == nil {
		cfg.Backoff = Exponential{}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	o := &Orchestrator{
		store:    st,
		queue:    qm,
		remote:   rc,
		notifier: notifier,
		config:   cfg,
		resync:   make(chan struct{}, 1),
		now:      time.Now,
	}
	o.probe = o.dialEndpoint

	o.machine = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventTrigger, Src: []string{StateIdle}, Dst: StateSyncing},
			{Name: eventFinish, Src: []string{StateSyncing}, Dst: StateIdle},
			{Name: eventDrop, Src: []string{StateIdle, StateSyncing}, Dst: StateOffline},
			{Name: eventRestore, Src: []string{StateOffline}, Dst: StateSyncing},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				o.publish(Event{Type: "state_change", State: e.Dst, Time: o.now()})
			},
		},
	)

	return o, nil
}

// SetPublisher attaches an event observer. Safe to leave unset.
func (o *Orchestrator) SetPublisher(p Publisher) {
	o.publisher = p
}

// SetRemote swaps the remote client, e.g. after the endpoint changed in
// the config file. Call between cycles only (the Run loop is the caller).
func (o *Orchestrator) SetRemote(rc Remote) {
	o.remote = rc
}

// State returns the current orchestrator state.
func (o *Orchestrator) State() string {
	return o.machine.Current()
}

// RequestSync asks for a sync cycle at the next opportunity. Non-blocking;
// requests arriving while one is already pending are coalesced.
func (o *Orchestrator) RequestSync() {
	select {
	case o.resync <- struct{}{}:
	default:
	}
}

// Run executes the daemon loop until ctx is cancelled: a poll timer gated
// by staleness, a connectivity probe driving offline/online transitions,
// and explicit resync requests. An initial staleness check runs at startup.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.config.Logger.Printf("Daemon started (poll=%s staleness=%s)",
		o.config.PollInterval, o.config.StalenessThreshold)

	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()
	probe := time.NewTicker(o.config.ProbeInterval)
	defer probe.Stop()

	if o.stale() {
		o.trySync(ctx, "startup")
	}

	for {
		select {
		case <-ctx.Done():
			o.config.Logger.Println("Daemon stopped")
			return nil

		case <-ticker.C:
			if o.stale() {
				o.trySync(ctx, "timer")
			}

		case <-o.resync:
			o.trySync(ctx, "resync request")

		case <-probe.C:
			o.checkConnectivity(ctx)
		}
	}
}

// SyncOnce runs a single sync cycle regardless of staleness, for the CLI
// sync command. Returns the cycle result; the notifier still fires.
func (o *Orchestrator) SyncOnce(ctx context.Context) (Result, error) {
	if err := o.machine.Event(ctx, eventTrigger); err != nil {
		return Result{}, fmt.Errorf("cannot sync in state %s", o.State())
	}
	res, err := o.runCycle(ctx)
	if ferr := o.machine.Event(ctx, eventFinish); ferr != nil {
		o.config.Logger.Printf("Warning: finish transition failed: %v", ferr)
	}
	return res, err
}

// trySync starts a cycle if the machine allows it. Triggers while syncing
// or offline are coalesced/ignored by the failed transition.
func (o *Orchestrator) trySync(ctx context.Context, reason string) {
	if err := o.machine.Event(ctx, eventTrigger); err != nil {
		o.config.Logger.Printf("Sync (%s) skipped: state %s", reason, o.State())
		return
	}
	o.config.Logger.Printf("Sync cycle started (%s)", reason)
	_, _ = o.runCycle(ctx)
	if err := o.machine.Event(ctx, eventFinish); err != nil {
		o.config.Logger.Printf("Warning: finish transition failed: %v", err)
	}
}

// checkConnectivity probes the endpoint and moves the machine between
// offline and online states. Regaining connectivity triggers a cycle
// immediately.
func (o *Orchestrator) checkConnectivity(ctx context.Context) {
	online := o.probe(ctx)

	if !online {
		if err := o.machine.Event(ctx, eventDrop); err == nil {
			o.config.Logger.Println("Connectivity lost, going offline")
		}
		return
	}

	if o.machine.Current() != StateOffline {
		return
	}
	if err := o.machine.Event(ctx, eventRestore); err != nil {
		return
	}
	o.config.Logger.Println("Connectivity restored, syncing")
	_, _ = o.runCycle(ctx)
	if err := o.machine.Event(ctx, eventFinish); err != nil {
		o.config.Logger.Printf("Warning: finish transition failed: %v", err)
	}
}

// dialEndpoint is the default connectivity probe: a TCP dial of the
// endpoint host. With no endpoint configured the probe always succeeds.
func (o *Orchestrator) dialEndpoint(ctx context.Context) bool {
	rc, ok := o.remote.(*remote.Client)
	if !ok || !rc.Configured() {
		return true
	}
	return dialHost(ctx, endpointAddr(rc))
}

func endpointAddr(rc *remote.Client) string {
	u, err := url.Parse(rc.EndpointURL())
	if err != nil || u.Host == "" {
		return ""
	}
	host := u.Host
	if u.Port() == "" {
		if u.Scheme == "http" {
			host = net.JoinHostPort(u.Hostname(), "80")
		} else {
			host = net.JoinHostPort(u.Hostname(), "443")
		}
	}
	return host
}

func dialHost(ctx context.Context, addr string) bool {
	if addr == "" {
		return true
	}
	d := net.Dialer{Timeout: 3 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// stale reports whether the last successful sync is older than the
// staleness threshold.
func (o *Orchestrator) stale() bool {
	md, err := o.store.ReadMetadata()
	if err != nil {
		o.config.Logger.Printf("Warning: failed to read metadata: %v", err)
		return true
	}
	return o.now().Sub(md.LastSync) > o.config.StalenessThreshold
}

// runCycle executes one push -> pull+merge -> drain sequence and emits
// exactly one notification.
func (o *Orchestrator) runCycle(ctx context.Context) (Result, error) {
	start := o.now()
	var res Result

	err := o.cycle(ctx, &res)

	res.Duration = o.now().Sub(start)
	res.CompletedAt = o.now()

	if err != nil {
		o.notifier.SyncFailed(err)
		o.publish(Event{Type: "sync_failed", Error: err.Error(), Time: res.CompletedAt})
		return res, err
	}

	o.notifier.SyncSucceeded(res)
	o.publish(Event{Type: "sync_complete", Result: &res, Time: res.CompletedAt})
	o.publishQueueDepth()
	return res, nil
}

func (o *Orchestrator) cycle(ctx context.Context, res *Result) error {
	ds, err := o.store.ReadDataset()
	if err != nil {
		return err
	}

	// Push. Transport failures become queued retries; the cycle goes on.
	if ds.Empty() {
		o.config.Logger.Println("Nothing to push (empty dataset)")
	} else if err := o.remote.Push(ctx, ds); err != nil {
		var te *remote.TransportError
		if !errors.As(err, &te) {
			return err
		}
		o.config.Logger.Printf("Push failed, queueing for retry: %v", err)
		if _, qerr := o.queue.Enqueue(queue.OpPushDataset, ds); qerr != nil {
			return qerr
		}
		res.PushQueued = true
	} else if o.remote.Configured() {
		res.Pushed = true
	}

	// Pull. Failures degrade the cycle to push-only; local data stands.
	snapshot, performed, err := o.remote.Pull(ctx)
	if err != nil {
		o.config.Logger.Printf("Warning: pull failed, keeping local data: %v", err)
	} else if performed {
		merged := merge.Merge(ds, snapshot)
		if err := o.store.WriteDataset(merged); err != nil {
			return err
		}
		res.Merged = true
	}

	o.drainQueue(ctx, res)

	// Steps above completed without fatal error: record the sync time.
	md, err := o.store.ReadMetadata()
	if err != nil {
		return err
	}
	md.LastSync = o.now()
	return o.store.WriteMetadata(md)
}

// drainQueue re-attempts each pending operation. One item's failure never
// blocks the others; items that exhaust MaxRetries are dropped.
func (o *Orchestrator) drainQueue(ctx context.Context, res *Result) {
	items, err := o.queue.List()
	if err != nil || len(items) == 0 {
		return
	}
	now := o.now()

	for _, item := range items {
		if !ready(o.config.Backoff, item, now) {
			res.Deferred++
			continue
		}

		err := o.dispatch(ctx, item)
		if errors.Is(err, errUndispatchable) {
			if rerr := o.queue.Remove(item.ID); rerr != nil {
				o.config.Logger.Printf("Warning: failed to remove %s: %v", item.ID, rerr)
			}
			res.Dropped++
			continue
		}
		if err != nil {
			updated, berr := o.queue.BumpRetry(item.ID)
			if berr != nil {
				o.config.Logger.Printf("Warning: failed to bump retry for %s: %v", item.ID, berr)
				continue
			}
			if updated.RetryCount >= o.config.MaxRetries {
				o.config.Logger.Printf("Dropping %s (%s) after %d attempts: %v",
					item.ID, item.Op, updated.RetryCount, err)
				if rerr := o.queue.Remove(item.ID); rerr != nil {
					o.config.Logger.Printf("Warning: failed to remove %s: %v", item.ID, rerr)
				}
				res.Dropped++
			} else {
				o.config.Logger.Printf("Retry %d/%d failed for %s (%s): %v",
					updated.RetryCount, o.config.MaxRetries, item.ID, item.Op, err)
				res.Deferred++
			}
			continue
		}

		if err := o.queue.Remove(item.ID); err != nil {
			o.config.Logger.Printf("Warning: failed to remove %s: %v", item.ID, err)
		}
		res.Drained++
	}
}

// errUndispatchable marks a queued item that can never succeed: a payload
// that no longer decodes or an operation this build does not know. The
// drain loop drops such items without burning retries.
var errUndispatchable = errors.New("undispatchable queue item")

// dispatch routes a queued item to its remote operation.
func (o *Orchestrator) dispatch(ctx context.Context, item queue.Item) error {
	switch item.Op {
	case queue.OpPushDataset, queue.OpSaveRecord:
		var ds handover.Dataset
		if err := json.Unmarshal(item.Payload, &ds); err != nil {
			o.config.Logger.Printf("Dropping %s: undecodable payload: %v", item.ID, err)
			return errUndispatchable
		}
		return o.remote.Push(ctx, ds)
	default:
		o.config.Logger.Printf("Dropping %s: unknown operation %q", item.ID, item.Op)
		return errUndispatchable
	}
}

func (o *Orchestrator) publish(ev Event) {
	if o.publisher != nil {
		o.publisher.Publish(ev)
	}
}

func (o *Orchestrator) publishQueueDepth() {
	if o.publisher == nil {
		return
	}
	n, err := o.queue.Len()
	if err != nil {
		return
	}
	o.publisher.Publish(Event{Type: "queue_update", QueueDepth: n, Time: o.now()})
}

package engine

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/statekit/internal/catalog"
	"github.com/roach88/statekit/internal/entity"
	"github.com/roach88/statekit/internal/ir"
	"github.com/roach88/statekit/internal/journal"
	"github.com/roach88/statekit/internal/metrics"
	"github.com/roach88/statekit/internal/notify"
	"github.com/roach88/statekit/internal/operation"
	"github.com/roach88/statekit/internal/state"
)

// Recorder persists applied events. Implemented by *journal.Journal.
type Recorder interface {
	Record(ctx context.Context, ev journal.Event) error
	Checkpoint(ctx context.Context, cp journal.Checkpoint) error
}

// Engine is the single-writer dispatcher.
//
// Thread-safety model:
//   - Dispatch, Enqueue, Current, Subscribe: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//   - observers run on the Run goroutine
type Engine struct {
	catalog   *catalog.Catalog
	performer Performer
	hub       *notify.Hub
	recorder  Recorder
	metrics   *metrics.Collector
	ids       RequestIDGenerator
	now       func() time.Time
	clock     *Clock
	queue     *eventQueue

	current atomic.Pointer[state.Snapshot]

	// stopped is closed when Run returns.
	stopped  chan struct{}
	stopOnce sync.Once

	// Owned by the Run goroutine.
	runCtx   context.Context
	inflight map[operation.Key]*inflight
}

// inflight tracks the request that currently owns a pending key.
type inflight struct {
	requestID string
	handle    *Handle
	cancel    context.CancelCauseFunc
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithPerformer sets the remote collaborator. Without one, Request intents
// are rejected as invalid.
func WithPerformer(p Performer) EngineOption {
	return func(e *Engine) { e.performer = p }
}

// WithHub publishes snapshots to h instead of a private hub.
func WithHub(h *notify.Hub) EngineOption {
	return func(e *Engine) { e.hub = h }
}

// WithJournal records every applied event. Journal failures are logged and
// never fail a dispatch.
func WithJournal(r Recorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

// WithMetrics reports dispatcher activity to c.
func WithMetrics(c *metrics.Collector) EngineOption {
	return func(e *Engine) { e.metrics = c }
}

// WithRequestIDs replaces the UUIDv7 request ID generator.
func WithRequestIDs(g RequestIDGenerator) EngineOption {
	return func(e *Engine) { e.ids = g }
}

// WithNow replaces the wall clock used for StartedAt/SettledAt and journal
// timestamps.
func WithNow(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithEntities starts the engine from an existing entity store, e.g. one
// rebuilt by journal.Replay.
func WithEntities(s *entity.Store) EngineOption {
	return func(e *Engine) {
		cur := e.current.Load()
		e.current.Store(cur.Next(cur.Seq, s, nil, "restore"))
	}
}

// WithStartSeq resumes the logical clock after seq.
func WithStartSeq(seq int64) EngineOption {
	return func(e *Engine) {
		e.clock = NewClockAt(seq)
		cur := e.current.Load()
		e.current.Store(cur.Next(seq, nil, nil, cur.Cause))
	}
}

// New creates an engine for the kinds in cat. Call Run to start it.
func New(cat *catalog.Catalog, opts ...EngineOption) *Engine {
	e := &Engine{
		catalog:  cat,
		hub:      notify.NewHub(),
		ids:      UUIDv7Generator{},
		now:      time.Now,
		clock:    NewClock(),
		queue:    newEventQueue(),
		stopped:  make(chan struct{}),
		inflight: make(map[operation.Key]*inflight),
	}
	e.current.Store(state.Empty())

	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Current returns the latest published snapshot.
func (e *Engine) Current() *state.Snapshot {
	return e.current.Load()
}

// Subscribe registers an observer on the engine's hub.
func (e *Engine) Subscribe(fn notify.Observer) (unsubscribe func()) {
	return e.hub.Subscribe(fn)
}

// Hub returns the hub snapshots are published to.
func (e *Engine) Hub() *notify.Hub {
	return e.hub
}

// Catalog returns the engine's operation catalog.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// Dispatch validates in, enqueues it and waits until the Run loop has
// applied it. Misuse (unknown kind, malformed intent) fails before anything
// is enqueued.
//
// For a Request the returned handle completes when the operation settles;
// the pending transition is already visible in Current when Dispatch
// returns. Handles of synchronous intents are already settled.
//
// If ctx ends after the intent was enqueued, Dispatch returns ctx.Err() but
// the intent is still applied by the loop. The error only means the caller
// stopped waiting; check Current to learn the outcome.
//
// Dispatch must not be called from an observer; use Enqueue there.
func (e *Engine) Dispatch(ctx context.Context, in Intent) (*Handle, error) {
	if err := e.validate(in); err != nil {
		return nil, err
	}

	ev := event{typ: eventIntent, intent: in, reply: make(chan reply, 1)}
	if !e.queue.Enqueue(ev) {
		return nil, NewStoppedError()
	}

	select {
	case r := <-ev.reply:
		return r.handle, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.stopped:
		select {
		case r := <-ev.reply:
			return r.handle, r.err
		default:
			return nil, NewStoppedError()
		}
	}
}

// Sync waits until every event queued before the call has been applied,
// including settlements already delivered by the performer.
func (e *Engine) Sync(ctx context.Context) error {
	ev := event{typ: eventBarrier, reply: make(chan reply, 1)}
	if !e.queue.Enqueue(ev) {
		return NewStoppedError()
	}
	select {
	case r := <-ev.reply:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return NewStoppedError()
	}
}

// Enqueue submits in without waiting for it to be applied. It is the only
// way for an observer to dispatch follow-up intents. Returns false if in is
// invalid (the reason is logged) or the engine is stopped.
func (e *Engine) Enqueue(in Intent) bool {
	if err := e.validate(in); err != nil {
		slog.Warn("intent rejected", "intent", describe(in), "error", err)
		return false
	}
	return e.queue.Enqueue(event{typ: eventIntent, intent: in})
}

// Run starts the single-writer event loop.
// Blocks until ctx is cancelled or Stop is called.
//
// ERROR HANDLING: a failure while applying an event is logged with the event
// context and processing continues with the next event.
func (e *Engine) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.runCtx = runCtx
	defer func() {
		cancel()
		e.shutdown()
	}()

	slog.Info("engine starting", "kinds", e.catalog.Len(), "seq", e.clock.Current())

	for {
		if ev, ok := e.queue.TryDequeue(); ok {
			e.processEvent(runCtx, ev)
			e.metrics.RecordQueueDepth(e.queue.Len())
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel is closed with the queue, so a closed and
			// empty queue ends the loop.
			if e.queue.Len() == 0 && e.queue.Closed() {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run applies what is already queued, then returns.
// In-flight requests are cancelled and their handles fail with ErrCodeStopped.
func (e *Engine) Stop() {
	e.queue.Close()
}

// shutdown fails everything still waiting and writes a checkpoint.
func (e *Engine) shutdown() {
	for _, ev := range e.queue.Drain() {
		if ev.reply != nil {
			ev.reply <- reply{err: NewStoppedError()}
		}
	}
	for key, fl := range e.inflight {
		fl.cancel(context.Canceled)
		fl.handle.settle(nil, NewStoppedError())
		delete(e.inflight, key)
	}
	e.metrics.RecordInflight(0)
	e.checkpoint()
	e.stopOnce.Do(func() { close(e.stopped) })
}

func (e *Engine) checkpoint() {
	if e.recorder == nil {
		return
	}
	cur := e.Current()
	digest, err := cur.Entities.Digest()
	if err != nil {
		slog.Error("checkpoint digest failed", "seq", cur.Seq, "error", err)
		return
	}
	cp := journal.Checkpoint{Seq: cur.Seq, Digest: digest, EntityCount: cur.Entities.Len(), RecordedAt: e.now()}
	if err := e.recorder.Checkpoint(context.Background(), cp); err != nil {
		slog.Error("checkpoint write failed", "seq", cur.Seq, "error", err)
	}
}

// processEvent routes an event to its handler.
// CRITICAL: called only from the Run goroutine.
func (e *Engine) processEvent(ctx context.Context, ev event) {
	switch ev.typ {
	case eventIntent:
		h, err := e.applyIntent(ctx, ev.intent)
		if err != nil {
			slog.Error("intent processing failed",
				"error", err,
				"intent", describe(ev.intent),
				"seq", e.clock.Current(),
			)
		}
		if ev.reply != nil {
			ev.reply <- reply{handle: h, err: err}
		}

	case eventBarrier:
		ev.reply <- reply{}

	case eventSettlement:
		if ev.settlement == nil {
			slog.Error("settlement event missing settlement data")
			return
		}
		e.applySettlement(ctx, ev.settlement)

	default:
		slog.Error("unknown event type", "event_type", ev.typ)
	}
}

// validate rejects intents that can never be applied.
func (e *Engine) validate(in Intent) error {
	switch in := in.(type) {
	case Upsert:
		if in.Key == "" {
			return NewInvalidIntentError("upsert requires an entity key")
		}
	case Patch:
		if in.Key == "" {
			return NewInvalidIntentError("patch requires an entity key")
		}
	case Remove:
		if in.Key == "" {
			return NewInvalidIntentError("remove requires an entity key")
		}
	case ResetOperation:
		if _, ok := e.catalog.Lookup(in.Key.Kind); !ok {
			return NewUnknownOperationError(in.Key.Kind)
		}
	case Request:
		kind, ok := e.catalog.Lookup(in.Key.Kind)
		if !ok {
			return NewUnknownOperationError(in.Key.Kind)
		}
		if in.Policy != "" && !in.Policy.Valid() {
			return NewInvalidIntentError("unknown policy %q for %s", in.Policy, in.Key)
		}
		if kind.NeedsTarget() && in.Key.Target == "" {
			return NewInvalidIntentError("%s (%s) requires a target", kind.Name, kind.Apply)
		}
		if e.performer == nil {
			return NewInvalidIntentError("no performer configured for %s", in.Key)
		}
	case nil:
		return NewInvalidIntentError("nil intent")
	}
	return nil
}

func (e *Engine) applyIntent(ctx context.Context, in Intent) (*Handle, error) {
	e.metrics.RecordDispatch(in.intentName())
	cur := e.Current()

	switch in := in.(type) {
	case Upsert:
		seq := e.clock.Next()
		e.commit(ctx, cur.Next(seq, cur.Entities.Upsert(in.Key, in.Attrs, seq), nil, "upsert "+in.Key),
			journal.Event{Kind: journal.KindUpsert, EntityKey: in.Key, Payload: in.Attrs.Clone()})
		return settledHandle(nil, nil), nil

	case Patch:
		seq := e.clock.Next()
		e.commit(ctx, cur.Next(seq, cur.Entities.Patch(in.Key, in.Attrs, seq), nil, "patch "+in.Key),
			journal.Event{Kind: journal.KindPatch, EntityKey: in.Key, Payload: in.Attrs.Clone()})
		return settledHandle(nil, nil), nil

	case Remove:
		seq := e.clock.Next()
		e.commit(ctx, cur.Next(seq, cur.Entities.Remove(in.Key), nil, "remove "+in.Key),
			journal.Event{Kind: journal.KindRemove, EntityKey: in.Key})
		return settledHandle(nil, nil), nil

	case ResetOperation:
		if cur.Operations.Status(in.Key) == operation.StatusIdle {
			slog.Debug("reset of idle operation ignored", "op", in.Key.String())
			return settledHandle(nil, nil), nil
		}
		seq := e.clock.Next()
		ops, err := cur.Operations.Reset(in.Key, seq)
		if err != nil {
			return nil, err
		}
		e.commit(ctx, cur.Next(seq, nil, ops, "reset "+in.Key.String()),
			journal.Event{Kind: journal.KindReset, OpKey: in.Key.String(), Status: string(operation.StatusIdle)})
		e.metrics.RecordTransition(in.Key.Kind, operation.StatusIdle)
		return settledHandle(nil, nil), nil

	case Request:
		return e.request(ctx, in)

	default:
		return nil, NewInvalidIntentError("unsupported intent %T", in)
	}
}

func (e *Engine) request(ctx context.Context, in Request) (*Handle, error) {
	kind, ok := e.catalog.Lookup(in.Key.Kind)
	if !ok {
		return nil, NewUnknownOperationError(in.Key.Kind)
	}
	policy := cmp.Or(in.Policy, kind.Policy)

	if fl, busy := e.inflight[in.Key]; busy {
		if policy == catalog.PolicyCoalesce {
			slog.Debug("request coalesced", "op", in.Key.String(), "request_id", fl.requestID)
			e.metrics.RecordCoalesced(kind.Name)
			return fl.handle, nil
		}
		return e.supersede(ctx, in, fl)
	}

	cur := e.Current()
	seq := e.clock.Next()
	requestID := e.ids.Generate()
	ops, err := cur.Operations.Begin(in.Key, requestID, e.now(), seq)
	if err != nil {
		return nil, err
	}

	h := newHandle(in.Key, requestID)
	e.commit(ctx, cur.Next(seq, nil, ops, "pending "+in.Key.String()),
		journal.Event{Kind: journal.KindPending, OpKey: in.Key.String(), RequestID: requestID,
			Status: string(operation.StatusPending), Payload: argsPayload(in)})
	e.metrics.RecordTransition(kind.Name, operation.StatusPending)
	e.start(in, requestID, h)
	return h, nil
}

// supersede replaces the in-flight request for in.Key. The key stays
// pending; the old call is cancelled and its resolution will be stale.
func (e *Engine) supersede(ctx context.Context, in Request, old *inflight) (*Handle, error) {
	cur := e.Current()
	seq := e.clock.Next()
	requestID := e.ids.Generate()
	ops, err := cur.Operations.Supersede(in.Key, requestID, e.now(), seq)
	if err != nil {
		return nil, err
	}

	old.cancel(ErrSuperseded)
	old.handle.settle(nil, ErrSuperseded)
	slog.Debug("request superseded",
		"op", in.Key.String(),
		"old_request_id", old.requestID,
		"request_id", requestID,
	)

	h := newHandle(in.Key, requestID)
	e.commit(ctx, cur.Next(seq, nil, ops, "supersede "+in.Key.String()),
		journal.Event{Kind: journal.KindSupersede, OpKey: in.Key.String(), RequestID: requestID,
			Status: string(operation.StatusPending), Payload: argsPayload(in)})
	e.start(in, requestID, h)
	return h, nil
}

// start hands the call to the performer. The result re-enters the queue as
// a settlement.
func (e *Engine) start(in Request, requestID string, h *Handle) {
	callCtx, cancel := context.WithCancelCause(e.runCtx)
	e.inflight[in.Key] = &inflight{requestID: requestID, handle: h, cancel: cancel}
	e.metrics.RecordInflight(len(e.inflight))

	call := Call{Key: in.Key, RequestID: requestID, Args: in.Args.Clone()}
	settle := e.settler(call, h)
	if ap, ok := e.performer.(AsyncPerformer); ok {
		ap.Start(callCtx, call, settle)
		return
	}
	go func() {
		settle(e.perform(callCtx, call))
	}()
}

// settler returns the SettleFunc for call. Only the first outcome is
// enqueued; once the engine is stopped the handle fails instead.
func (e *Engine) settler(call Call, h *Handle) SettleFunc {
	var once sync.Once
	return func(value ir.Value, err error) {
		once.Do(func() {
			s := &settlement{key: call.Key, requestID: call.RequestID, value: value, err: err}
			if !e.queue.Enqueue(event{typ: eventSettlement, settlement: s}) {
				h.settle(nil, NewStoppedError())
			}
		})
	}
}

func (e *Engine) perform(ctx context.Context, call Call) (value ir.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("performer panicked", "op", call.Key.String(), "request_id", call.RequestID, "panic", r)
			err = fmt.Errorf("performer panic: %v", r)
		}
	}()
	return e.performer.Perform(ctx, call)
}

// applySettlement applies a performer result, or discards it when a newer
// request owns the key.
func (e *Engine) applySettlement(ctx context.Context, s *settlement) {
	fl, ok := e.inflight[s.key]
	if !ok || fl.requestID != s.requestID {
		slog.Warn("discarding stale resolution",
			"op", s.key.String(),
			"request_id", s.requestID,
			"error", s.err,
		)
		e.metrics.RecordStale(s.key.Kind)
		e.record(ctx, journal.Event{Seq: e.Current().Seq, Kind: journal.KindStale, OpKey: s.key.String(),
			RequestID: s.requestID, Error: NormalizeError(s.err), Payload: s.value})
		return
	}

	delete(e.inflight, s.key)
	fl.cancel(nil)
	e.metrics.RecordInflight(len(e.inflight))

	kind, _ := e.catalog.Lookup(s.key.Kind)
	cur := e.Current()
	seq := e.clock.Next()

	if s.err == nil {
		entities, err := kind.ApplyTo(cur.Entities, s.key.Target, s.value, seq)
		if err == nil {
			e.fulfill(ctx, cur, seq, kind, s, fl, entities)
			return
		}
		s.err = &RemoteError{Code: "invalid_payload", Message: err.Error()}
	}
	e.reject(ctx, cur, seq, kind, s, fl)
}

func (e *Engine) fulfill(ctx context.Context, cur *state.Snapshot, seq int64, kind catalog.Kind, s *settlement, fl *inflight, entities *entity.Store) {
	ops, err := cur.Operations.Fulfill(s.key, s.requestID, e.now(), seq)
	if err != nil {
		slog.Error("settlement processing failed", "error", err, "op", s.key.String(), "request_id", s.requestID)
		fl.handle.settle(nil, err)
		return
	}

	e.commit(ctx, cur.Next(seq, entities, ops, "fulfilled "+s.key.String()),
		journal.Event{Kind: journal.KindFulfilled, OpKey: s.key.String(), RequestID: s.requestID,
			Status: string(operation.StatusFulfilled), EntityKey: s.key.Target,
			Apply: string(kind.Apply), KeyField: kind.KeyField, Payload: s.value})
	e.metrics.RecordTransition(kind.Name, operation.StatusFulfilled)
	slog.Info("operation fulfilled", "op", s.key.String(), "request_id", s.requestID, "seq", seq)
	fl.handle.settle(s.value, nil)
}

func (e *Engine) reject(ctx context.Context, cur *state.Snapshot, seq int64, kind catalog.Kind, s *settlement, fl *inflight) {
	msg := NormalizeError(s.err)
	ops, err := cur.Operations.Reject(s.key, s.requestID, msg, e.now(), seq)
	if err != nil {
		slog.Error("settlement processing failed", "error", err, "op", s.key.String(), "request_id", s.requestID)
		fl.handle.settle(nil, err)
		return
	}

	e.commit(ctx, cur.Next(seq, nil, ops, "rejected "+s.key.String()),
		journal.Event{Kind: journal.KindRejected, OpKey: s.key.String(), RequestID: s.requestID,
			Status: string(operation.StatusRejected), Error: msg})
	e.metrics.RecordTransition(kind.Name, operation.StatusRejected)
	slog.Info("operation rejected", "op", s.key.String(), "request_id", s.requestID, "error", msg, "seq", seq)
	fl.handle.settle(nil, s.err)
}

// commit journals ev, stores next and notifies observers. The next event
// is not dequeued until every observer has returned.
func (e *Engine) commit(ctx context.Context, next *state.Snapshot, ev journal.Event) {
	ev.Seq = next.Seq
	e.record(ctx, ev)

	e.current.Store(next)
	slog.Debug("snapshot published", "seq", next.Seq, "cause", next.Cause)

	start := time.Now()
	e.hub.Publish(next)
	e.metrics.RecordNotify(time.Since(start))
}

func (e *Engine) record(ctx context.Context, ev journal.Event) {
	if e.recorder == nil {
		return
	}
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = e.now()
	}
	if err := e.recorder.Record(ctx, ev); err != nil {
		slog.Error("journal write failed", "error", err, "seq", ev.Seq, "kind", ev.Kind, "op", ev.OpKey)
	}
}

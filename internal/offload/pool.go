package offload

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/abelbrown/studyboard/internal/logging"
	"github.com/abelbrown/studyboard/internal/otel"
)

// DefaultTimeout bounds a call when Run is given no timeout.
const DefaultTimeout = 30 * time.Second

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Handler processes one encoded request and returns an encoded reply.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Options configures a Pool. Zero values take the defaults.
type Options struct {
	MaxWorkers int           // default runtime.NumCPU()
	Timeout    time.Duration // default DefaultTimeout
	QueueSize  int           // per-worker request buffer, default 16
	RecentSize int           // finished calls kept for Recent, default 100
	Trace      *otel.Logger
}

// Result is a successful reply.
type Result struct {
	CallID   string
	Op       string
	WorkerID string
	Data     []byte
	Duration time.Duration
}

// Decode unmarshals the reply into v.
func (r *Result) Decode(v any) error {
	if err := codec.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode %s reply: %w", r.Op, err)
	}
	return nil
}

// Pool owns the registered handlers and the live workers.
type Pool struct {
	opts Options

	mu       sync.Mutex
	handlers map[string]Handler
	workers  map[string]*worker
	order    []*worker // creation order, oldest first
	inflight map[string]*Call
	closed   bool

	// spawn creates a worker. Replaced in tests to simulate failures.
	spawn func(op string, h Handler) (*worker, error)

	recent *otel.Ring[Call]

	subscribers   []chan Event
	subscribersMu sync.RWMutex

	calls      atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	timeouts   atomic.Int64
	discarded  atomic.Int64
	created    atomic.Int64
	terminated atomic.Int64
}

// NewPool creates an empty pool. Register handlers before calling Run.
func NewPool(opts Options) *Pool {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = runtime.NumCPU()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.RecentSize <= 0 {
		opts.RecentSize = 100
	}
	p := &Pool{
		opts:     opts,
		handlers: make(map[string]Handler),
		workers:  make(map[string]*worker),
		inflight: make(map[string]*Call),
		recent:   otel.NewRing[Call](opts.RecentSize),
	}
	p.spawn = p.startWorker
	return p
}

// Handle registers a raw handler for op, replacing any previous one.
func (p *Pool) Handle(op string, h Handler) {
	p.mu.Lock()
	p.handlers[op] = h
	p.mu.Unlock()
}

// Register adds a typed handler. The request is decoded into In and the
// result encoded from Out on the worker side.
func Register[In, Out any](p *Pool, op string, fn func(ctx context.Context, in In) (Out, error)) {
	p.Handle(op, func(ctx context.Context, payload []byte) ([]byte, error) {
		var in In
		if err := codec.Unmarshal(payload, &in); err != nil {
			return nil, fmt.Errorf("decode request: %w", err)
		}
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		return codec.Marshal(out)
	})
}

// Operations lists registered operation names.
func (p *Pool) Operations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ops := make([]string, 0, len(p.handlers))
	for op := range p.handlers {
		ops = append(ops, op)
	}
	return ops
}

// Do runs op and decodes the reply into T.
func Do[T any](ctx context.Context, p *Pool, op string, data any, timeout time.Duration) (T, error) {
	var out T
	res, err := p.Run(ctx, op, data, timeout)
	if err != nil {
		return out, err
	}
	if err := res.Decode(&out); err != nil {
		return out, &Error{Code: CodeProcessing, Op: op, Err: err}
	}
	return out, nil
}

// Run sends data to the worker for op and waits for exactly one outcome:
// the reply, a timeout, worker loss, or ctx cancellation. A timeout
// terminates the worker. A timeout <= 0 uses the pool default.
func (p *Pool) Run(ctx context.Context, op string, data any, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = p.opts.Timeout
	}

	payload, err := codec.Marshal(data)
	if err != nil {
		return nil, &Error{Code: CodeProcessing, Op: op, Err: fmt.Errorf("encode request: %w", err)}
	}

	w, err := p.acquire(op)
	if err != nil {
		return nil, err
	}

	c := &call{
		rec:  Call{ID: uuid.NewString(), Op: op, WorkerID: w.id, Status: StatusActive, StartedAt: time.Now()},
		done: make(chan reply, 1),
	}
	p.begin(c)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case w.in <- request{call: c, payload: payload}:
	case <-w.dead:
		return p.finish(c, nil, &Error{Code: CodeWorker, Op: op, Err: errTerminate})
	case <-ctx.Done():
		c.resolve()
		return p.finish(c, nil, &Error{Code: CodeCancelled, Op: op, Err: ctx.Err()})
	case <-timer.C:
		c.resolve()
		p.terminate(w, "timeout")
		return p.finish(c, nil, &Error{Code: CodeTimeout, Op: op, Err: fmt.Errorf("no reply within %v", timeout)})
	}

	select {
	case r := <-c.done:
		return p.finish(c, r.data, r.err)
	case <-timer.C:
		if !c.resolve() {
			r := <-c.done
			return p.finish(c, r.data, r.err)
		}
		p.terminate(w, "timeout")
		return p.finish(c, nil, &Error{Code: CodeTimeout, Op: op, Err: fmt.Errorf("no reply within %v", timeout)})
	case <-w.dead:
		if !c.resolve() {
			r := <-c.done
			return p.finish(c, r.data, r.err)
		}
		return p.finish(c, nil, &Error{Code: CodeWorker, Op: op, Err: errTerminate})
	case <-ctx.Done():
		if !c.resolve() {
			r := <-c.done
			return p.finish(c, r.data, r.err)
		}
		return p.finish(c, nil, &Error{Code: CodeCancelled, Op: op, Err: ctx.Err()})
	}
}

// acquire returns the live worker for op, creating one if needed.
func (p *Pool) acquire(op string) (*worker, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, &Error{Code: CodeWorker, Op: op, Err: errClosed}
	}
	h, ok := p.handlers[op]
	if !ok {
		p.mu.Unlock()
		return nil, &Error{Code: CodeProcessing, Op: op, Err: errUnknownOp}
	}
	if w, ok := p.workers[op]; ok {
		p.mu.Unlock()
		return w, nil
	}

	var evicted *worker
	if len(p.workers) >= p.opts.MaxWorkers && len(p.order) > 0 {
		evicted = p.order[0]
		p.removeLocked(evicted)
	}

	w, err := p.spawn(op, h)
	if err != nil {
		p.mu.Unlock()
		if evicted != nil {
			p.stop(evicted, "evicted")
		}
		return nil, &Error{Code: CodeCreate, Op: op, Err: err}
	}
	p.workers[op] = w
	p.order = append(p.order, w)
	p.mu.Unlock()

	if evicted != nil {
		p.stop(evicted, "evicted")
		p.opts.Trace.Emit(otel.Event{Kind: otel.KindOffloadEvict, Comp: "offload", Op: evicted.op})
	}
	p.created.Add(1)
	p.notify(Event{Call: Call{Op: op, WorkerID: w.id}, Change: ChangeSpawned})
	return w, nil
}

func (p *Pool) removeLocked(w *worker) {
	if cur, ok := p.workers[w.op]; ok && cur == w {
		delete(p.workers, w.op)
	}
	for i, o := range p.order {
		if o == w {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// terminate removes w from the pool and stops it.
func (p *Pool) terminate(w *worker, reason string) {
	p.mu.Lock()
	p.removeLocked(w)
	p.mu.Unlock()
	p.stop(w, reason)
}

func (p *Pool) stop(w *worker, reason string) {
	if w.kill() {
		p.terminated.Add(1)
		p.notify(Event{Call: Call{Op: w.op, WorkerID: w.id}, Change: ChangeTerminated, Reason: reason})
	}
}

// TerminateAll stops every worker. The pool stays usable.
func (p *Pool) TerminateAll() {
	p.mu.Lock()
	workers := p.order
	p.order = nil
	p.workers = make(map[string]*worker)
	p.mu.Unlock()

	for _, w := range workers {
		p.stop(w, "terminate all")
	}
}

// Close terminates every worker and rejects further calls.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.TerminateAll()
	logging.Info("Offload pool closed", "stats", p.Stats().String())
}

func (p *Pool) begin(c *call) {
	p.calls.Add(1)
	p.mu.Lock()
	rec := c.rec
	p.inflight[rec.ID] = &rec
	p.mu.Unlock()
	p.notify(Event{Call: rec, Change: ChangeStarted})
	p.opts.Trace.Emit(otel.Event{Kind: otel.KindOffloadStart, Comp: "offload", Op: rec.Op, CallID: rec.ID})
}

// finish records the outcome of c and returns the caller-facing result.
func (p *Pool) finish(c *call, data []byte, err error) (*Result, error) {
	rec := c.rec
	rec.FinishedAt = time.Now()

	p.mu.Lock()
	delete(p.inflight, rec.ID)
	p.mu.Unlock()

	if err != nil {
		rec.Status = StatusFailed
		rec.Err = err.Error()
		if oe, ok := err.(*Error); ok {
			rec.Code = oe.Code
		}
		p.failed.Add(1)
		kind := otel.KindOffloadError
		if rec.Code == CodeTimeout {
			p.timeouts.Add(1)
			kind = otel.KindOffloadTimeout
		}
		p.recent.Push(rec)
		p.notify(Event{Call: rec, Change: ChangeFailed})
		p.opts.Trace.Emit(otel.Event{Level: otel.LevelError, Kind: kind, Comp: "offload", Op: rec.Op, CallID: rec.ID, Dur: rec.Duration(), Err: rec.Err})
		return nil, err
	}

	rec.Status = StatusComplete
	p.completed.Add(1)
	p.recent.Push(rec)
	p.notify(Event{Call: rec, Change: ChangeCompleted})
	p.opts.Trace.Emit(otel.Event{Kind: otel.KindOffloadDone, Comp: "offload", Op: rec.Op, CallID: rec.ID, Dur: rec.Duration()})
	return &Result{CallID: rec.ID, Op: rec.Op, WorkerID: rec.WorkerID, Data: data, Duration: rec.Duration()}, nil
}

// discard reports a reply that arrived after its call was resolved.
func (p *Pool) discard(c *call) {
	p.discarded.Add(1)
	rec := c.rec
	p.notify(Event{Call: rec, Change: ChangeDiscarded})
	p.opts.Trace.Emit(otel.Event{Level: otel.LevelWarn, Kind: otel.KindOffloadDiscarded, Comp: "offload", Op: rec.Op, CallID: rec.ID})
}

// Recent returns finished calls, oldest first.
func (p *Pool) Recent() []Call {
	return p.recent.Snapshot()
}

// InFlight returns calls still waiting for an outcome.
func (p *Pool) InFlight() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, 0, len(p.inflight))
	for _, c := range p.inflight {
		out = append(out, *c)
	}
	return out
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	active, inflight := len(p.workers), len(p.inflight)
	p.mu.Unlock()

	return Stats{
		Calls:             p.calls.Load(),
		Completed:         p.completed.Load(),
		Failed:            p.failed.Load(),
		Timeouts:          p.timeouts.Load(),
		Discarded:         p.discarded.Load(),
		WorkersCreated:    p.created.Load(),
		WorkersTerminated: p.terminated.Load(),
		WorkersActive:     active,
		WorkersMax:        p.opts.MaxWorkers,
		InFlight:          inflight,
	}
}

// Subscribe returns a channel of pool events. Slow subscribers miss events
// rather than block the pool.
func (p *Pool) Subscribe() <-chan Event {
	ch := make(chan Event, 100)
	p.subscribersMu.Lock()
	p.subscribers = append(p.subscribers, ch)
	p.subscribersMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (p *Pool) Unsubscribe(ch <-chan Event) {
	p.subscribersMu.Lock()
	defer p.subscribersMu.Unlock()
	for i, sub := range p.subscribers {
		if sub == ch {
			p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

func (p *Pool) notify(ev Event) {
	LogEvent(ev)

	p.subscribersMu.RLock()
	defer p.subscribersMu.RUnlock()
	for _, ch := range p.subscribers {
		select {
		case ch <- ev:
		default:
			logging.Debug("Offload event dropped (subscriber full)", "op", ev.Call.Op, "change", ev.Change)
		}
	}
}

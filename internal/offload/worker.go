package offload

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type reply struct {
	data []byte
	err  error
}

// call is shared between Run and the worker. Whoever wins resolve owns the
// outcome; the loser discards its reply.
type call struct {
	rec      Call
	done     chan reply // buffered 1, written only by the resolve winner
	resolved atomic.Bool
}

func (c *call) resolve() bool {
	return c.resolved.CompareAndSwap(false, true)
}

type request struct {
	call    *call
	payload []byte
}

// worker is one goroutine serving a single operation. It processes requests
// in arrival order and exits when killed.
type worker struct {
	id      string
	op      string
	handler Handler
	in      chan request
	dead    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
	pool    *Pool
}

func (p *Pool) startWorker(op string, h Handler) (*worker, error) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{
		id:      uuid.NewString(),
		op:      op,
		handler: h,
		in:      make(chan request, p.opts.QueueSize),
		dead:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		pool:    p,
	}
	go w.loop()
	return w, nil
}

// kill stops the worker. It reports whether this call did the stopping.
func (w *worker) kill() bool {
	killed := false
	w.once.Do(func() {
		killed = true
		w.cancel()
		close(w.dead)
	})
	return killed
}

func (w *worker) loop() {
	for {
		select {
		case <-w.dead:
			return
		case req := <-w.in:
			select {
			case <-w.dead:
				return
			default:
			}
			if crashed := w.serve(req); crashed {
				w.pool.terminate(w, "panic")
				return
			}
		}
	}
}

// serve runs one request. A panicking handler resolves the call with
// WORKER_ERROR and reports crashed.
func (w *worker) serve(req request) (crashed bool) {
	c := req.call
	defer func() {
		if r := recover(); r != nil {
			crashed = true
			w.deliver(c, reply{err: &Error{Code: CodeWorker, Op: w.op, Err: fmt.Errorf("panic: %v", r)}})
		}
	}()

	data, err := w.handler(w.ctx, req.payload)
	if err != nil {
		w.deliver(c, reply{err: &Error{Code: CodeProcessing, Op: w.op, Err: err}})
		return false
	}
	w.deliver(c, reply{data: data})
	return false
}

func (w *worker) deliver(c *call, r reply) {
	if c.resolve() {
		c.done <- r
		return
	}
	w.pool.discard(c)
}

// Package background implements the task-channel event-loop primitive that
// backs both the session thread and each request processor's I/O worker
// thread (spec §5: "2+K long-lived threads"). Adapted from the teacher's
// internal/background.Worker.
package background

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrAlreadyClosed      = errors.New("background worker already closed")
	errClosedWithNilReason = errors.New("background worker closed with nil reason")
)

// CallbackFunc is one task posted to the loop, e.g. a host-state-change
// notification (spec §4.E "Host state propagation ... posted as tasks").
// Declared as an alias, not a defined type, so *Worker satisfies any
// capability interface (policy.EventLoop, pool.EventLoop, ...) that spells
// its Start method with the literal func(context.Context) signature.
type CallbackFunc = func(ctx context.Context)

// Worker must not be copied after first use.
type Worker struct {
	ctx    context.Context
	cancel context.CancelFunc

	workers  sync.WaitGroup
	once     sync.Once
	tasks    chan task
	drained  chan struct{}

	mu          sync.Mutex
	closed      bool
	closeReason error
}

type task struct {
	name string
	run  CallbackFunc
}

func NewWorker(parent context.Context) *Worker {
	w := &Worker{}
	w.ctx, w.cancel = context.WithCancel(parent)

	return w
}

func (w *Worker) init() {
	w.once.Do(func() {
		if w.ctx == nil {
			w.ctx, w.cancel = context.WithCancel(context.Background())
		}
		w.tasks = make(chan task)
		w.drained = make(chan struct{})
		go w.loop()
	})
}

func (w *Worker) Context() context.Context {
	w.init()

	return w.ctx
}

func (w *Worker) Done() <-chan struct{} {
	w.init()

	return w.ctx.Done()
}

// Start posts a task to the loop. It is a no-op once Close has begun, per
// spec §5 "no control-plane code runs on a processor thread except via
// posted tasks" — a task posted after Close is simply dropped rather than
// panicking on a closed channel.
func (w *Worker) Start(name string, f CallbackFunc) {
	w.init()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.tasks <- task{name: name, run: f}
}

func (w *Worker) loop() {
	defer close(w.drained)
	for t := range w.tasks {
		w.workers.Add(1)
		go func(t task) {
			defer w.workers.Done()
			t.run(w.ctx)
		}(t)
	}
}

// Close drains pending tasks, cancels the loop's context, and waits for
// every spawned task goroutine to join (spec §8 property #4: "every worker
// thread has joined").
func (w *Worker) Close(ctx context.Context, reason error) error {
	w.init()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()

		return ErrAlreadyClosed
	}
	w.closed = true
	if reason == nil {
		reason = errClosedWithNilReason
	}
	w.closeReason = reason
	close(w.tasks)
	w.cancel()
	w.mu.Unlock()

	<-w.drained

	joined := make(chan struct{})
	go func() {
		w.workers.Wait()
		close(joined)
	}()

	select {
	case <-joined:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) CloseReason() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.closeReason
}

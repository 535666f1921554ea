package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kmkr/telegrab-go/internal/queue"
	"github.com/kmkr/telegrab-go/internal/shutdown"
	"github.com/kmkr/telegrab-go/internal/task"
)

// waitForWorkTimeout bounds each idle poll on the queue's wakeup signal so
// a worker can re-check shutdown state even with nothing enqueued.
const waitForWorkTimeout = 5 * time.Second

// drainTimeout bounds how long a worker waits for an in-flight handler to
// finish after shutdown has been signaled, before giving up and logging.
const drainTimeout = 30 * time.Second

// Worker is a single long-running loop pulling tasks from a shared
// QueueState, dispatching to the kind-specific handler, and reporting
// final status. Safe to run many Workers over one QueueState.
type Worker struct {
	id       int
	queue    *queue.State
	shutdown *shutdown.Coordinator
	deps     *Deps
	logger   *slog.Logger
}

func NewWorker(id int, q *queue.State, sh *shutdown.Coordinator, deps *Deps, logger *slog.Logger) *Worker {
	return &Worker{id: id, queue: q, shutdown: sh, deps: deps, logger: logger}
}

// Run drives the worker's main loop until shutdown is signaled and its
// in-flight task (if any) has completed or drainTimeout elapses.
func (w *Worker) Run() {
	shutdownCh := w.shutdown.SubscribeShutdown()

	for {
		select {
		case <-shutdownCh:
			w.waitForCurrentTasks()
			return
		default:
		}

		woke := make(chan bool, 1)
		go func() { woke <- w.queue.WaitForTask(waitForWorkTimeout) }()
		select {
		case <-shutdownCh:
			w.waitForCurrentTasks()
			return
		case ok := <-woke:
			if !ok {
				continue
			}
		}

		w.ProcessOne()
	}
}

// ProcessOne executes at most one task end-to-end. Returns false if there
// was nothing to do or the worker was refused a Guard (draining).
func (w *Worker) ProcessOne() bool {
	guard := w.shutdown.StartTask()
	if guard == nil {
		return false
	}
	defer guard.Release()

	t, ok := w.queue.Dequeue()
	if !ok {
		return false
	}

	t = t.Start()
	if !w.queue.UpdateTask(t) {
		return false
	}
	w.queue.RegisterActive(t, w.id)

	result, err := w.runHandler(t)

	w.queue.UnregisterActive(t.ID)

	if err != nil {
		w.logger.Warn("task failed", "task_id", t.ID, "kind", t.Kind, "error", err)
		t = t.Fail(err.Error())
	} else {
		t = t.Complete(result)
	}
	w.queue.UpdateTask(t)
	w.queue.MarkRemoved(t.ID)

	return true
}

// runHandler dispatches t to its handler, converting any panic into an
// Invariant fault failure rather than letting it escape the worker loop.
func (w *Worker) runHandler(t task.Task) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invariant fault: handler panicked: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	progress := func(p float64) {
		w.queue.UpdateProgress(t.ID, p)
	}

	handler := dispatch(t.Kind)
	return handler(ctx, w.deps, t, progress)
}

func (w *Worker) waitForCurrentTasks() {
	deadline := time.Now().Add(drainTimeout)
	for time.Now().Before(deadline) {
		if w.shutdown.Inflight() == 0 {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	w.logger.Warn("worker drain timed out with tasks still inflight", "worker_id", w.id, "inflight", w.shutdown.Inflight())
}

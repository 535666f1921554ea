package core

import (
	"log/slog"
	"sync"

	"github.com/kmkr/telegrab-go/internal/queue"
	"github.com/kmkr/telegrab-go/internal/shutdown"
)

// WorkerPool spawns and owns N Workers sharing one QueueState.
type WorkerPool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

// NewWorkerPool constructs count Workers, each with its own id starting
// at 0.
func NewWorkerPool(count int, q *queue.State, sh *shutdown.Coordinator, deps *Deps, logger *slog.Logger) *WorkerPool {
	pool := &WorkerPool{workers: make([]*Worker, count)}
	for i := 0; i < count; i++ {
		pool.workers[i] = NewWorker(i, q, sh, deps, logger.With("worker_id", i))
	}
	return pool
}

// Start launches every worker's Run loop in its own goroutine.
func (p *WorkerPool) Start() {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run()
		}(w)
	}
}

// Wait blocks until every worker's Run loop has returned (i.e. shutdown
// has fully drained).
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

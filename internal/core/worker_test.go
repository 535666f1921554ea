package core

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kmkr/telegrab-go/internal/eventbus"
	"github.com/kmkr/telegrab-go/internal/queue"
	"github.com/kmkr/telegrab-go/internal/shutdown"
	"github.com/kmkr/telegrab-go/internal/storage"
	"github.com/kmkr/telegrab-go/internal/task"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProcessOneCompletesTaskAndRemovesFromActive(t *testing.T) {
	deps, repo, _ := newTestDeps(t)
	repo.docs[1] = storage.Doc{ID: 1, URL: "https://x", Status: storage.DocParsed, PageTitle: "Existing"}

	q := queue.New(testLogger(), nil)
	sh := shutdown.New()
	w := NewWorker(0, q, sh, deps, testLogger())

	tk := task.New(task.KindHtmlParse, task.Payload{DocID: 1})
	q.Enqueue(tk)

	require.True(t, w.ProcessOne())

	tasks := q.GetTasks()
	require.Len(t, tasks, 1)
	require.Equal(t, task.StatusCompleted, tasks[0].Status)
	require.Empty(t, q.GetActive())
}

func TestProcessOneFailsTaskOnHandlerError(t *testing.T) {
	deps, repo, ff := newTestDeps(t)
	repo.docs[1] = storage.Doc{ID: 1, URL: "https://bad"}
	ff.failURLs["https://bad"] = true

	q := queue.New(testLogger(), nil)
	sh := shutdown.New()
	w := NewWorker(0, q, sh, deps, testLogger())

	tk := task.New(task.KindHtmlParse, task.Payload{DocID: 1})
	q.Enqueue(tk)
	w.ProcessOne()

	tasks := q.GetTasks()
	require.Equal(t, task.StatusFailed, tasks[0].Status)
	require.NotEmpty(t, tasks[0].Error)
}

func TestProcessOneReturnsFalseWhenQueueEmpty(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	q := queue.New(testLogger(), nil)
	sh := shutdown.New()
	w := NewWorker(0, q, sh, deps, testLogger())

	require.False(t, w.ProcessOne())
}

func TestProcessOneRefusedAfterShutdown(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	q := queue.New(testLogger(), nil)
	sh := shutdown.New()
	sh.BeginShutdown()
	w := NewWorker(0, q, sh, deps, testLogger())

	q.Enqueue(task.New(task.KindScanDir, task.Payload{}))
	require.False(t, w.ProcessOne())
}

func TestRunHandlerRecoversFromPanic(t *testing.T) {
	// A zero-value Deps has a nil Repo; dispatching to a handler that
	// dereferences it panics, exercising runHandler's recover rather than
	// the error-returning handleUnsupported path.
	deps := &Deps{}
	q := queue.New(testLogger(), nil)
	sh := shutdown.New()
	w := NewWorker(0, q, sh, deps, testLogger())

	tk := task.New(task.KindHtmlParse, task.Payload{DocID: 1})
	_, err := w.runHandler(tk)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invariant fault")
}

func TestWorkerPoolProcessesEnqueuedTasksAndDrainsOnShutdown(t *testing.T) {
	deps, repo, _ := newTestDeps(t)
	repo.docs[1] = storage.Doc{ID: 1, URL: "https://x", Status: storage.DocParsed, PageTitle: "Title"}

	bus := eventbus.New(testLogger(), 64)
	q := queue.New(testLogger(), bus)
	sh := shutdown.New()
	pool := NewWorkerPool(2, q, sh, deps, testLogger())
	pool.Start()

	q.Enqueue(task.New(task.KindHtmlParse, task.Payload{DocID: 1}))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(q.GetTasks()) == 1 && q.GetTasks()[0].Status == task.StatusCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, task.StatusCompleted, q.GetTasks()[0].Status)

	sh.BeginShutdown()
	done := make(chan struct{})
	go func() {
		pool.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker pool did not drain after shutdown")
	}
}

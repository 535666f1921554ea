// Package queue holds the authoritative in-memory task store: the pending
// FIFO, the full task history, and the set of currently-executing tasks.
// Enqueue, UpdateTask, UpdateProgress, MarkRemoved and a non-empty Clear
// publish an eventbus.QueueEvent; Dequeue, RegisterActive,
// UnregisterActive and Cleanup publish nothing. Publication never blocks
// the mutation that caused it.
package queue

import (
	"container/list"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kmkr/telegrab-go/internal/eventbus"
	"github.com/kmkr/telegrab-go/internal/task"
)

// State is the authoritative in-memory queue. The zero value is not usable;
// construct with New.
type State struct {
	logger *slog.Logger
	bus    *eventbus.Bus

	mu      sync.RWMutex
	pending *list.List // of task.Task
	history map[string]task.Task
	active  map[string]task.ActiveTaskInfo

	signal chan struct{} // single-slot wakeup notifier
}

// New constructs an empty queue publishing events on bus.
func New(logger *slog.Logger, bus *eventbus.Bus) *State {
	return &State{
		logger:  logger,
		bus:     bus,
		pending: list.New(),
		history: make(map[string]task.Task),
		active:  make(map[string]task.ActiveTaskInfo),
		signal:  make(chan struct{}, 1),
	}
}

func (s *State) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Enqueue appends t to pending, upserts it into history, and wakes one
// waiter. Publishes TaskAdded.
func (s *State) Enqueue(t task.Task) {
	s.mu.Lock()
	s.pending.PushBack(t)
	s.history[t.ID] = t
	s.mu.Unlock()

	s.wake()
	s.publish(eventbus.QueueEvent{Kind: eventbus.TaskAdded, Task: &t})
}

// Dequeue pops the front of pending, if any. history is unchanged.
func (s *State) Dequeue() (task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	front := s.pending.Front()
	if front == nil {
		return task.Task{}, false
	}
	s.pending.Remove(front)
	return front.Value.(task.Task), true
}

// UpdateTask overwrites history[t.ID] (insert-or-replace). Always returns
// true. Publishes TaskUpdated.
func (s *State) UpdateTask(t task.Task) bool {
	s.mu.Lock()
	s.history[t.ID] = t
	s.mu.Unlock()

	s.publish(eventbus.QueueEvent{Kind: eventbus.TaskUpdated, Task: &t})
	return true
}

// RegisterActive records t as currently executing on worker w.
func (s *State) RegisterActive(t task.Task, workerID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[t.ID] = task.ActiveTaskInfo{
		TaskID:    t.ID,
		Kind:      t.Kind,
		WorkerID:  workerID,
		StartedAt: t.StartedAt,
	}
}

// UnregisterActive removes id from the active set. Returns whether it was
// present.
func (s *State) UnregisterActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[id]; !ok {
		return false
	}
	delete(s.active, id)
	return true
}

// UpdateProgress sets the advisory progress for an active task and
// publishes TaskProgress. A no-op (no event) if the task isn't active —
// dropped progress never affects correctness.
func (s *State) UpdateProgress(id string, progress float64) {
	s.mu.Lock()
	info, ok := s.active[id]
	if ok {
		p := progress
		info.Progress = &p
		s.active[id] = info
	}
	s.mu.Unlock()

	if ok {
		s.publish(eventbus.QueueEvent{Kind: eventbus.TaskProgress, TaskID: id, Progress: progress})
	}
}

// MarkRemoved publishes TaskRemoved for id. Called by a worker once a task
// has reached a terminal status and left the active set.
func (s *State) MarkRemoved(id string) {
	s.publish(eventbus.QueueEvent{Kind: eventbus.TaskRemoved, TaskID: id})
}

// Clear drains pending. Publishes QueueCleared only if pending was
// non-empty.
func (s *State) Clear() {
	s.mu.Lock()
	wasEmpty := s.pending.Len() == 0
	s.pending.Init()
	s.mu.Unlock()

	if !wasEmpty {
		s.publish(eventbus.QueueEvent{Kind: eventbus.QueueCleared})
	}
}

// Cleanup trims history: among Completed tasks, keeps the keepRecent most
// recently-created and removes the rest. Returns the number removed.
func (s *State) Cleanup(keepRecent int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var completed []task.Task
	for _, t := range s.history {
		if t.Status == task.StatusCompleted {
			completed = append(completed, t)
		}
	}
	if len(completed) <= keepRecent {
		return 0
	}

	sort.Slice(completed, func(i, j int) bool {
		return completed[i].CreatedAt.After(completed[j].CreatedAt)
	})

	removed := 0
	for _, t := range completed[keepRecent:] {
		delete(s.history, t.ID)
		removed++
	}
	return removed
}

// WaitForTask blocks until pending is non-empty, a wakeup is signaled, or
// timeout elapses (0 means wait indefinitely). Returns whether work may now
// be available.
func (s *State) WaitForTask(timeout time.Duration) bool {
	s.mu.RLock()
	hasWork := s.pending.Len() > 0
	s.mu.RUnlock()
	if hasWork {
		return true
	}

	if timeout <= 0 {
		<-s.signal
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.signal:
		return true
	case <-timer.C:
		return false
	}
}

// Size returns the number of pending tasks.
func (s *State) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending.Len()
}

// GetTasks returns a snapshot of all known tasks.
func (s *State) GetTasks() []task.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]task.Task, 0, len(s.history))
	for _, t := range s.history {
		out = append(out, t)
	}
	return out
}

// GetActive returns a snapshot of active tasks with freshly recomputed
// durations (the caller reads ActiveTaskInfo.DurationSecs()).
func (s *State) GetActive() []task.ActiveTaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]task.ActiveTaskInfo, 0, len(s.active))
	for _, info := range s.active {
		out = append(out, info)
	}
	return out
}

// FindByKindAndDoc scans history for a task of the given kind targeting
// docID that is still Pending or Processing. Used by ingress to dedupe
// repeat enqueue requests for the same doc.
func (s *State) FindByKindAndDoc(kind task.Kind, docID int32) (task.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.history {
		if t.Kind != kind || t.Payload.DocID != docID {
			continue
		}
		if t.Status == task.StatusPending || t.Status == task.StatusProcessing {
			return t, true
		}
	}
	return task.Task{}, false
}

// IsKindActive reports whether a task of the given kind is currently
// pending or active. Used by ingress to reject duplicate "run over
// everything" tasks (HtmlParseAll, ScanDir) with a 409.
func (s *State) IsKindActive(kind task.Kind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, info := range s.active {
		if info.Kind == kind {
			return true
		}
	}
	for e := s.pending.Front(); e != nil; e = e.Next() {
		if e.Value.(task.Task).Kind == kind {
			return true
		}
	}
	return false
}

func (s *State) publish(ev eventbus.QueueEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ev)
}

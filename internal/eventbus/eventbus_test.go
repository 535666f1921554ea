package eventbus

import (
	"testing"
	"time"

	"github.com/kmkr/telegrab-go/internal/task"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	b := New(nil, 4)
	ch1, cleanup1 := b.Subscribe()
	defer cleanup1()
	ch2, cleanup2 := b.Subscribe()
	defer cleanup2()

	b.Publish(QueueEvent{Kind: QueueCleared})

	for _, ch := range []<-chan QueueEvent{ch1, ch2} {
		select {
		case ev := <-ch:
			require.Equal(t, QueueCleared, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	b := New(nil, 2)
	ch, cleanup := b.Subscribe()
	defer cleanup()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(QueueEvent{Kind: TaskProgress, TaskID: "t1", Progress: float64(i) / 100})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	// Drain whatever made it through; the buffer only ever holds the most
	// recent events because older ones are dropped.
	drained := 0
	for {
		select {
		case <-ch:
			drained++
		default:
			require.LessOrEqual(t, drained, 2)
			return
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil, 1)
	ch, cleanup := b.Subscribe()
	cleanup()

	b.Publish(QueueEvent{Kind: TaskAdded, Task: &task.Task{ID: "x"}})

	_, open := <-ch
	require.False(t, open)
	require.Equal(t, 0, b.SubscriberCount())
}

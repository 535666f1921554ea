package task

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewIsPendingWithTimestamp(t *testing.T) {
	tk := New(KindHtmlParse, Payload{DocID: 7})
	require.Equal(t, StatusPending, tk.Status)
	require.NotEmpty(t, tk.ID)
	require.False(t, tk.CreatedAt.IsZero())
	require.True(t, tk.StartedAt.IsZero())
}

func TestTransitionsStampTimestampsInOrder(t *testing.T) {
	tk := New(KindPicDownload, Payload{DocID: 1})
	started := tk.Start()
	require.Equal(t, StatusProcessing, started.Status)
	require.False(t, started.StartedAt.Before(started.CreatedAt))

	done := started.Complete("ok")
	require.Equal(t, StatusCompleted, done.Status)
	require.Empty(t, done.Error)
	require.False(t, done.CompletedAt.Before(done.StartedAt))

	failed := started.Fail("boom")
	require.Equal(t, StatusFailed, failed.Status)
	require.Equal(t, "boom", failed.Error)
}

func TestKindIsImmutableAcrossTransitions(t *testing.T) {
	tk := New(KindCbzArchive, Payload{DocID: 3})
	done := tk.Start().Complete("fine")
	require.Equal(t, KindCbzArchive, done.Kind)
}

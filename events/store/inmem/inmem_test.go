package inmem

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hookweave/hookweave/events"
)

func seed(t *testing.T, s *Store, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		typ := "tool.invoked"
		if i%2 == 0 {
			typ = "agent.step"
		}
		evt := events.New(typ, fmt.Sprintf("payload-%d", i), events.WithSource("w1"))
		evt.Sequence = uint64(i)
		require.NoError(t, s.Append(context.Background(), evt))
	}
}

func TestAppendAndLoadAll(t *testing.T) {
	s := New(16)
	seed(t, s, 5)
	require.Equal(t, 5, s.Len())

	got, err := s.Load(context.Background(), events.Query{})
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, evt := range got {
		require.Equal(t, uint64(i+1), evt.Sequence)
	}
}

func TestLoadAppliesQueryConstraints(t *testing.T) {
	s := New(16)
	seed(t, s, 10)

	got, err := s.Load(context.Background(), events.Query{Pattern: "agent.*"})
	require.NoError(t, err)
	require.Len(t, got, 5)

	got, err = s.Load(context.Background(), events.Query{MinSequence: 8})
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, uint64(8), got[0].Sequence)

	got, err = s.Load(context.Background(), events.Query{Limit: 4})
	require.NoError(t, err)
	require.Len(t, got, 4)
	require.Equal(t, uint64(1), got[0].Sequence)
}

func TestRingEvictsOldestWhenFull(t *testing.T) {
	s := New(4)
	seed(t, s, 10)
	require.Equal(t, 4, s.Len())

	got, err := s.Load(context.Background(), events.Query{})
	require.NoError(t, err)
	require.Len(t, got, 4)
	require.Equal(t, uint64(7), got[0].Sequence)
	require.Equal(t, uint64(10), got[3].Sequence)
}

func TestLastSequenceTracksNewestEvent(t *testing.T) {
	s := New(4)
	last, err := s.LastSequence(context.Background())
	require.NoError(t, err)
	require.Zero(t, last)

	// Eviction never lowers the high-water mark.
	seed(t, s, 10)
	last, err = s.LastSequence(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(10), last)
}

func TestZeroCapacityFallsBackToDefault(t *testing.T) {
	s := New(0)
	seed(t, s, 3)
	require.Equal(t, 3, s.Len())
	require.NoError(t, s.Close())
}

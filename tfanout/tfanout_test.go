package tfanout_test

import (
	"slices"
	"sync"
	"testing"

	"github.com/gordian-engine/tessera/internal/ttest"
	"github.com/gordian-engine/tessera/tfanout"
	"github.com/stretchr/testify/require"
)

func TestSingle_firstWins(t *testing.T) {
	t.Parallel()

	s := tfanout.NewSingle[string]()
	s.Deliver("first")
	s.Deliver("second")

	require.Equal(t, "first", ttest.ReceiveSoon(t, s.Result()))
	ttest.NotSending(t, s.Result())
}

func TestSinkFunc(t *testing.T) {
	t.Parallel()

	var got []int
	var sink tfanout.Sink[int] = tfanout.SinkFunc[int](func(v int) { got = append(got, v) })
	sink.Deliver(1)
	sink.Deliver(2)
	require.Equal(t, []int{1, 2}, got)
}

func appendMerge(acc, v []string) []string {
	out := slices.Clone(acc)
	return append(out, v...)
}

func TestAccumulator_merges(t *testing.T) {
	t.Parallel()

	a := tfanout.NewAccumulator(2, nil, appendMerge)
	updates := a.Updates()

	ttest.NotSending(t, a.Done())

	a.Deliver([]string{"x"})
	ttest.IsSending(t, updates.Ready)
	require.Equal(t, []string{"x"}, updates.Val)
	updates = updates.Next

	a.Deliver([]string{"y", "z"})
	ttest.IsSending(t, updates.Ready)
	require.Equal(t, []string{"x", "y", "z"}, updates.Val)

	ttest.IsSending(t, a.Done())

	cur, n := a.Current()
	require.Equal(t, []string{"x", "y", "z"}, cur)
	require.Equal(t, 2, n)
}

func TestAccumulator_zeroExpected(t *testing.T) {
	t.Parallel()

	a := tfanout.NewAccumulator(0, 0, func(acc, v int) int { return acc + v })
	ttest.IsSending(t, a.Done())
}

func TestAccumulator_concurrentDeliveries(t *testing.T) {
	t.Parallel()

	const n = 16
	a := tfanout.NewAccumulator(n, 0, func(acc, v int) int { return acc + v })

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Deliver(i)
		}()
	}
	wg.Wait()

	ttest.IsSending(t, a.Done())
	cur, got := a.Current()
	require.Equal(t, n*(n-1)/2, cur)
	require.Equal(t, n, got)

	// Snapshots are monotonically increasing.
	s := a.Updates()
	prev := -1
	for range n {
		ttest.IsSending(t, s.Ready)
		require.Greater(t, s.Val, prev)
		prev = s.Val
		s = s.Next
	}
}

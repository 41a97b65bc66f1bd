package texec

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSyncTableClaimIsExclusive(t *testing.T) {
	st := newSyncTable()

	require.Equal(t, claimed, st.Claim(1))
	require.Equal(t, mustWait, st.Claim(1))

	st.MarkDone(1)
	require.Equal(t, alreadyDone, st.Claim(1))
}

func TestSyncTableWaitChanClosesOnMarkDone(t *testing.T) {
	st := newSyncTable()
	ch := st.WaitChan(5)

	select {
	case <-ch:
		t.Fatal("channel closed before MarkDone")
	default:
	}

	st.MarkDone(5)

	select {
	case <-ch:
	default:
		t.Fatal("channel should be closed after MarkDone")
	}
}

func TestSyncTableMarkDoneIsIdempotent(t *testing.T) {
	st := newSyncTable()
	st.Claim(2)
	st.MarkDone(2)
	require.NotPanics(t, func() { st.MarkDone(2) })
}

func TestSyncTableConcurrentClaimHasExactlyOneWinner(t *testing.T) {
	st := newSyncTable()
	const n = 50

	var wg sync.WaitGroup
	wins := make([]bool, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins[i] = st.Claim(9) == claimed
		}()
	}
	wg.Wait()

	count := 0
	for _, w := range wins {
		if w {
			count++
		}
	}
	require.Equal(t, 1, count)
}

package state

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterBasics(t *testing.T) {
	var r Register
	require.Equal(t, Unsubscribed, r.Get())
	r.Set(ReadReady)
	require.Equal(t, ReadReady, r.Get())
	require.True(t, r.CompareAndSwap(ReadReady, ReadDisabled))
	require.False(t, r.CompareAndSwap(ReadReady, ReadDisabled))
	require.Equal(t, ReadDisabled, r.Get())
	r.ForceReady()
	require.Equal(t, ReadReady, r.Get())
}

func TestCompareAndSwapSingleWinner(t *testing.T) {
	const contenders = 16
	for round := 0; round < 100; round++ {
		var r Register
		r.Set(ReadReady)
		var wins uint32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < contenders; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if r.CompareAndSwap(ReadReady, ReadDisabled) {
					atomic.AddUint32(&wins, 1)
				}
			}()
		}
		close(start)
		wg.Wait()
		require.Equal(t, uint32(1), wins, "exactly one CAS winner")
		require.Equal(t, ReadDisabled, r.Get())
	}
}

func TestCompletionTimeoutRace(t *testing.T) {
	// completion and timeout both CAS ReadInProgress -> ReadComplete;
	// exactly one may win.
	for round := 0; round < 100; round++ {
		var r Register
		r.Set(ReadInProgress)
		results := make(chan bool, 2)
		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- r.CompareAndSwap(ReadInProgress, ReadComplete)
			}()
		}
		wg.Wait()
		close(results)
		var wins int
		for won := range results {
			if won {
				wins++
			}
		}
		require.Equal(t, 1, wins)
	}
}

func TestStateString(t *testing.T) {
	require.Equal(t, "read-ready", ReadReady.String())
	require.Equal(t, "invalid", State(99).String())
}

package client

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEditSignal_LeadingEmitIsImmediate(t *testing.T) {
	var emits atomic.Int32
	sig := NewEditSignal(50*time.Millisecond, func() { emits.Add(1) })
	defer sig.Stop()

	sig.Signal()
	require.EqualValues(t, 1, emits.Load())
}

func TestEditSignal_BurstCoalescesToTrailingEmit(t *testing.T) {
	var emits atomic.Int32
	sig := NewEditSignal(50*time.Millisecond, func() { emits.Add(1) })
	defer sig.Stop()

	// A typing burst: many signals inside one window.
	for i := 0; i < 20; i++ {
		sig.Signal()
	}
	require.EqualValues(t, 1, emits.Load(), "only the leading emit fires inside the window")

	require.Eventually(t, func() bool { return emits.Load() == 2 },
		time.Second, 5*time.Millisecond, "the burst collapses into one trailing emit")

	// No further emits once the burst is over.
	time.Sleep(80 * time.Millisecond)
	require.EqualValues(t, 2, emits.Load())
}

func TestEditSignal_SpacedSignalsEachEmit(t *testing.T) {
	var emits atomic.Int32
	sig := NewEditSignal(20*time.Millisecond, func() { emits.Add(1) })
	defer sig.Stop()

	for i := 0; i < 3; i++ {
		sig.Signal()
		time.Sleep(40 * time.Millisecond)
	}
	require.EqualValues(t, 3, emits.Load())
}

func TestEditSignal_StopCancelsTrailingEmit(t *testing.T) {
	var emits atomic.Int32
	sig := NewEditSignal(50*time.Millisecond, func() { emits.Add(1) })

	sig.Signal()
	sig.Signal() // schedules a trailing emit
	sig.Stop()

	time.Sleep(100 * time.Millisecond)
	require.EqualValues(t, 1, emits.Load())

	sig.Signal()
	require.EqualValues(t, 1, emits.Load(), "signals after Stop are ignored")
}

package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codynhanpham/nidaq-audioplayer/internal/model"
	"github.com/codynhanpham/nidaq-audioplayer/internal/transport"
)

func loadedMachine(t *testing.T, totalSamples int64, position int64) *transport.Machine {
	t.Helper()
	m := transport.NewMachine()
	require.NoError(t, m.Load(&transport.Job{
		Asset:        model.AudioAsset{SampleRateHz: 100, TotalSamples: totalSamples},
		TotalSamples: totalSamples,
		Position:     position,
	}))
	return m
}

func TestSnapshotFromComputesProgressPercentAndDuration(t *testing.T) {
	m := loadedMachine(t, 1000, 250)
	require.NoError(t, m.Play())

	snap := snapshotFrom(m.Snapshot())
	assert.True(t, snap.Playing)
	assert.False(t, snap.AudioCompleted)
	assert.InDelta(t, 10.0, snap.Duration, 1e-9) // 1000 samples / 100 Hz
	assert.InDelta(t, 25.0, snap.ProgressPercent, 1e-9)
	assert.EqualValues(t, 250, snap.PositionSamples)
}

func TestSnapshotFromZeroTotalSamplesAvoidsDivideByZero(t *testing.T) {
	m := transport.NewMachine()
	snap := snapshotFrom(m.Snapshot())
	assert.Zero(t, snap.ProgressPercent)
	assert.Zero(t, snap.Duration)
}

func TestOnProgressMarksDirtyAndStoresLatestSnapshot(t *testing.T) {
	m := loadedMachine(t, 1000, 500)
	require.NoError(t, m.Play())
	e := New(m, 50*time.Millisecond)

	e.OnProgress()

	assert.True(t, e.dirty.Load())
	latest, ok := e.latest.Load().(Snapshot)
	require.True(t, ok)
	assert.EqualValues(t, 500, latest.PositionSamples)
}

func TestOnCompletedClearsDirtyFlag(t *testing.T) {
	m := loadedMachine(t, 1000, 1000)
	require.NoError(t, m.Play())
	e := New(m, 50*time.Millisecond)

	e.OnProgress()
	require.True(t, e.dirty.Load())

	e.OnCompleted()
	assert.False(t, e.dirty.Load())
}

func TestSubscribeAndUnsubscribeTrackSubscriberSet(t *testing.T) {
	m := transport.NewMachine()
	e := New(m, 50*time.Millisecond)

	e.mu.Lock()
	e.subs["conn-1"] = &subscriber{}
	e.mu.Unlock()

	e.Unsubscribe("conn-1")

	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Empty(t, e.subs)
}

func TestRunSkipsBroadcastWhenNotDirty(t *testing.T) {
	m := transport.NewMachine()
	e := New(m, 10*time.Millisecond)
	e.Start()
	time.Sleep(30 * time.Millisecond)
	e.Stop()
	// No subscribers and never marked dirty: nothing should have panicked,
	// and dirty remains false.
	assert.False(t, e.dirty.Load())
}

package clocksync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fep3/participant/clock"
	"github.com/fep3/participant/fep3time"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMaster struct {
	mu         sync.Mutex
	masterType MasterType
	time_      fep3time.Timestamp
	registered bool
	mask       Mask
}

func (f *fakeMaster) RegisterSyncSlave(ctx context.Context, mask Mask, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = true
	f.mask = mask
	return nil
}

func (f *fakeMaster) UnregisterSyncSlave(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = false
	return nil
}

func (f *fakeMaster) GetMasterTime(ctx context.Context) (fep3time.Timestamp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.time_, nil
}

func (f *fakeMaster) GetMasterType(ctx context.Context) (MasterType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.masterType, nil
}

type recordingEventSink struct {
	clock.NopEventSink
	mu     sync.Mutex
	events []string
}

func (r *recordingEventSink) TimeUpdating(new fep3time.Timestamp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "updating")
}

func (r *recordingEventSink) TimeResetEnd(new fep3time.Timestamp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "reset_end")
}

func TestSlaveDiscreteMasterDoesNotPoll(t *testing.T) {
	master := &fakeMaster{masterType: MasterDiscrete}
	s := NewSlave("slave-a", master, DefaultMask, time.Hour, nil)
	sink := &recordingEventSink{}

	require.NoError(t, s.Start(context.Background(), sink))
	assert.True(t, master.registered)

	require.NoError(t, s.SyncTimeEvent(context.Background(), TimeUpdating, fep3time.FromMillis(50), fep3time.Zero))
	assert.Equal(t, fep3time.Timestamp(fep3time.FromMillis(50)), s.Now())

	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, master.registered)
}

func TestSlaveContinuousMasterPolls(t *testing.T) {
	master := &fakeMaster{masterType: MasterContinuous, time_: fep3time.FromMillis(1000)}
	s := NewSlave("slave-b", master, DefaultMask, 5*time.Millisecond, nil)

	require.NoError(t, s.Start(context.Background(), &recordingEventSink{}))
	time.Sleep(20 * time.Millisecond)

	assert.True(t, s.Now() > 0)
	require.NoError(t, s.Stop(context.Background()))
}

func TestSlaveSyncTimeEventResetOnlyIfChanged(t *testing.T) {
	master := &fakeMaster{masterType: MasterDiscrete}
	s := NewSlave("slave-c", master, DefaultMask, time.Hour, nil)
	sink := &recordingEventSink{}
	require.NoError(t, s.Start(context.Background(), sink))

	require.NoError(t, s.SyncTimeEvent(context.Background(), TimeReset, fep3time.FromMillis(100), fep3time.FromMillis(100)))
	sink.mu.Lock()
	assert.Empty(t, sink.events, "reset with new==old must not fire sink callbacks")
	sink.mu.Unlock()

	require.NoError(t, s.SyncTimeEvent(context.Background(), TimeReset, fep3time.FromMillis(200), fep3time.FromMillis(100)))
	sink.mu.Lock()
	assert.Equal(t, []string{"reset_end"}, sink.events)
	sink.mu.Unlock()
}

package clocksync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fep3/participant/fep3time"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRequester struct {
	mu     sync.Mutex
	events []EventID
	delay  time.Duration
	fail   bool
}

func (r *recordingRequester) SyncTimeEvent(ctx context.Context, id EventID, new, old fep3time.Timestamp) error {
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return assertErr
	}
	r.events = append(r.events, id)
	return nil
}

func (r *recordingRequester) recorded() []EventID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventID(nil), r.events...)
}

var assertErr = &testError{"rpc exception"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestMasterDispatchOrderingPerSlave(t *testing.T) {
	m := NewMaster(MasterDiscrete, 50*time.Millisecond, nil, nil)
	req := &recordingRequester{}
	require.NoError(t, m.RegisterSlave("slave-a", req, DefaultMask))

	m.Dispatch(TimeUpdating, fep3time.FromMillis(100), fep3time.FromMillis(0))
	m.Dispatch(TimeReset, fep3time.FromMillis(200), fep3time.FromMillis(100))

	assert.Equal(t, []EventID{TimeUpdating, TimeReset}, req.recorded())
}

func TestMasterDeactivatesOnRPCError(t *testing.T) {
	m := NewMaster(MasterDiscrete, 50*time.Millisecond, nil, nil)
	req := &recordingRequester{fail: true}
	require.NoError(t, m.RegisterSlave("slave-a", req, DefaultMask))

	m.Dispatch(TimeUpdating, fep3time.FromMillis(100), fep3time.FromMillis(0))

	m.mu.Lock()
	deactivated := m.slaves["slave-a"].deactivated
	m.mu.Unlock()
	assert.True(t, deactivated)
}

func TestMasterSafetyTimeoutEscalates(t *testing.T) {
	m := NewMaster(MasterDiscrete, 10*time.Millisecond, nil, nil)
	var gotSlave string
	var gotErr error
	m.onError = func(slave string, err error) {
		gotSlave, gotErr = slave, err
	}

	req := &recordingRequester{delay: 2 * time.Second}
	require.NoError(t, m.RegisterSlave("slow-slave", req, DefaultMask))

	m.Dispatch(TimeUpdating, fep3time.FromMillis(100), fep3time.FromMillis(0))

	assert.Equal(t, "slow-slave", gotSlave)
	require.Error(t, gotErr)
}

func TestMasterUnregisterUnknownFails(t *testing.T) {
	m := NewMaster(MasterContinuous, 50*time.Millisecond, nil, nil)
	require.Error(t, m.UnregisterSlave("nope"))
}

func TestMasterMaskFiltersDispatch(t *testing.T) {
	m := NewMaster(MasterDiscrete, 50*time.Millisecond, nil, nil)
	req := &recordingRequester{}
	require.NoError(t, m.RegisterSlave("slave-a", req, MaskTimeReset)) // only subscribed to resets

	m.Dispatch(TimeUpdating, fep3time.FromMillis(100), fep3time.FromMillis(0))
	assert.Empty(t, req.recorded())

	m.Dispatch(TimeReset, fep3time.FromMillis(200), fep3time.FromMillis(100))
	assert.Equal(t, []EventID{TimeReset}, req.recorded())
}

package clock

import (
	"testing"
	"time"

	"github.com/fep3/participant/fep3time"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	events []string
}

func (r *recordingSink) TimeUpdateBegin(old, new fep3time.Timestamp) {
	r.events = append(r.events, "update_begin")
}
func (r *recordingSink) TimeUpdating(new fep3time.Timestamp) {
	r.events = append(r.events, "updating")
}
func (r *recordingSink) TimeUpdateEnd(new fep3time.Timestamp) {
	r.events = append(r.events, "update_end")
}
func (r *recordingSink) TimeResetBegin(old, new fep3time.Timestamp) {
	r.events = append(r.events, "reset_begin")
}
func (r *recordingSink) TimeResetEnd(new fep3time.Timestamp) {
	r.events = append(r.events, "reset_end")
}

func TestContinuousClockResetOnly(t *testing.T) {
	c := NewContinuousClock(NameLocalSystemRealtime)
	sink := &recordingSink{}

	require.NoError(t, c.Start(sink))
	assert.Equal(t, []string{"reset_begin", "reset_end"}, sink.events)
	assert.Equal(t, StateRunning, c.State())

	time.Sleep(time.Millisecond)
	assert.True(t, c.Now() > 0)

	require.NoError(t, c.Stop())
	assert.Equal(t, StateIdle, c.State())
}

func TestContinuousClockDoubleStartFails(t *testing.T) {
	c := NewContinuousClock("x")
	require.NoError(t, c.Start(&recordingSink{}))
	require.Error(t, c.Start(&recordingSink{}))
	require.NoError(t, c.Stop())
	require.Error(t, c.Stop())
}

func TestDiscreteClockStep(t *testing.T) {
	c := NewDiscreteClock("sim", fep3time.FromMillis(10), AFAP)
	sink := &recordingSink{}
	require.NoError(t, c.start(sink)) // use the internal start, skip the autonomous goroutine

	c.Step()
	assert.Equal(t, fep3time.Timestamp(fep3time.FromMillis(10)), c.Now())
	c.Step()
	assert.Equal(t, fep3time.Timestamp(fep3time.FromMillis(20)), c.Now())

	assert.Equal(t, []string{
		"reset_begin", "reset_end",
		"update_begin", "updating", "update_end",
		"update_begin", "updating", "update_end",
	}, sink.events)
}

func TestServiceRegisterDuplicate(t *testing.T) {
	s, err := NewService()
	require.NoError(t, err)

	err = s.Register(NewContinuousClock(NameLocalSystemRealtime))
	require.Error(t, err)
}

func TestServiceSetMainClockUnknown(t *testing.T) {
	s, err := NewService()
	require.NoError(t, err)

	err = s.SetMainClock("does_not_exist")
	require.Error(t, err)
}

func TestServiceDefaultClocksPresent(t *testing.T) {
	s, err := NewService()
	require.NoError(t, err)

	names := s.Names()
	assert.Contains(t, names, NameLocalSystemRealtime)
	assert.Contains(t, names, NameLocalSystemSimtime)
	assert.Equal(t, NameLocalSystemRealtime, s.MainClockName())
}

func TestServiceUnregisterMainClockFails(t *testing.T) {
	s, err := NewService()
	require.NoError(t, err)
	require.Error(t, s.Unregister(NameLocalSystemRealtime))
}

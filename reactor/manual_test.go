package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualDeliversReadyRegistration(t *testing.T) {
	m := NewManual()
	defer m.Close()

	require.NoError(t, m.Add(3, Readable, "tag-3"))
	m.MarkReady(3, Readable)

	events := make([]Event, 4)
	n, err := m.Wait(events, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, 3, events[0].FD)
	assert.Equal(t, Readable, events[0].Ready)
	assert.Equal(t, "tag-3", events[0].Tag)
}

func TestManualRegistrationIsOneShot(t *testing.T) {
	m := NewManual()
	defer m.Close()

	require.NoError(t, m.Add(5, Readable, "once"))
	m.MarkReady(5, Readable)

	events := make([]Event, 4)
	n, err := m.Wait(events, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// The registration was consumed; a second readiness injection for the
	// same fd must be discarded until Add is called again.
	m.MarkReady(5, Readable)
	n, err = m.Wait(events, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, m.Add(5, Readable, "again"))
	m.MarkReady(5, Readable)
	n, err = m.Wait(events, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, "again", events[0].Tag)
}

func TestManualIgnoresUninterestedReadiness(t *testing.T) {
	m := NewManual()
	defer m.Close()

	require.NoError(t, m.Add(7, Writable, "w"))
	m.MarkReady(7, Readable)

	events := make([]Event, 1)
	n, err := m.Wait(events, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "readable readiness must not satisfy a writable-only registration")
}

func TestManualWaitTimesOut(t *testing.T) {
	m := NewManual()
	defer m.Close()

	events := make([]Event, 1)
	start := time.Now()
	n, err := m.Wait(events, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestManualRemoveCancelsRegistration(t *testing.T) {
	m := NewManual()
	defer m.Close()

	require.NoError(t, m.Add(9, Readable, "r"))
	removed, err := m.Remove(9)
	require.NoError(t, err)
	assert.True(t, removed)
	m.MarkReady(9, Readable)

	removed, err = m.Remove(9)
	require.NoError(t, err)
	assert.False(t, removed, "second remove must report nothing left")

	events := make([]Event, 1)
	n, err := m.Wait(events, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestManualRemoveLosesRaceAfterDelivery(t *testing.T) {
	m := NewManual()
	defer m.Close()

	require.NoError(t, m.Add(4, Readable, nil))
	m.MarkReady(4, Readable)

	// The event is already queued for Wait; Remove arrives too late.
	removed, err := m.Remove(4)
	require.NoError(t, err)
	assert.False(t, removed)

	events := make([]Event, 1)
	n, err := m.Wait(events, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestManualAddRejectsEmptyInterest(t *testing.T) {
	m := NewManual()
	defer m.Close()

	err := m.Add(1, 0, nil)
	assert.ErrorIs(t, err, ErrNoInterest)
}

func TestManualCloseUnblocksWait(t *testing.T) {
	m := NewManual()

	done := make(chan error, 1)
	go func() {
		events := make([]Event, 1)
		_, err := m.Wait(events, -1)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, m.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock after Close")
	}
}

func TestManualWaitBatchesMultipleEvents(t *testing.T) {
	m := NewManual()
	defer m.Close()

	for fd := 1; fd <= 3; fd++ {
		require.NoError(t, m.Add(fd, Readable, fd))
		m.MarkReady(fd, Readable)
	}

	events := make([]Event, 2)
	n, err := m.Wait(events, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "batch is capped by the caller's slice")

	n, err = m.Wait(events, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "remainder survives for the next Wait")
}

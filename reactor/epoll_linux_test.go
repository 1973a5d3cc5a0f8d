//go:build linux

package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/sys/unix"
)

func pipePair(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK))
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestEpollReportsPipeReadable(t *testing.T) {
	ep, err := NewEpoll()
	require.NoError(t, err)
	defer ep.Close()

	r, w := pipePair(t)
	require.NoError(t, ep.Add(r, Readable, "pipe"))

	// Nothing written yet: Wait must time out.
	events := make([]Event, 4)
	n, err := ep.Wait(events, 20*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	_, err = unix.Write(w, []byte("x"))
	require.NoError(t, err)

	n, err = ep.Wait(events, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, r, events[0].FD)
	assert.True(t, events[0].Ready.Has(Readable))
	assert.Equal(t, "pipe", events[0].Tag)
}

func TestEpollRegistrationIsOneShot(t *testing.T) {
	ep, err := NewEpoll()
	require.NoError(t, err)
	defer ep.Close()

	r, w := pipePair(t)
	require.NoError(t, ep.Add(r, Readable, nil))

	_, err = unix.Write(w, []byte("x"))
	require.NoError(t, err)

	events := make([]Event, 4)
	n, err := ep.Wait(events, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Data is still unread, but the registration was consumed.
	n, err = ep.Wait(events, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Re-registering arms it again.
	require.NoError(t, ep.Add(r, Readable, nil))
	n, err = ep.Wait(events, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEpollWritableReportedImmediately(t *testing.T) {
	ep, err := NewEpoll()
	require.NoError(t, err)
	defer ep.Close()

	_, w := pipePair(t)
	require.NoError(t, ep.Add(w, Writable, "w"))

	events := make([]Event, 4)
	n, err := ep.Wait(events, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.True(t, events[0].Ready.Has(Writable))
}

func TestEpollRemoveBeforeFire(t *testing.T) {
	ep, err := NewEpoll()
	require.NoError(t, err)
	defer ep.Close()

	r, w := pipePair(t)
	require.NoError(t, ep.Add(r, Readable, nil))
	removed, err := ep.Remove(r)
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = unix.Write(w, []byte("x"))
	require.NoError(t, err)

	events := make([]Event, 4)
	n, err := ep.Wait(events, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEpollClosedOperationsFail(t *testing.T) {
	ep, err := NewEpoll()
	require.NoError(t, err)
	require.NoError(t, ep.Close())

	assert.ErrorIs(t, ep.Add(1, Readable, nil), ErrClosed)
	_, err = ep.Wait(make([]Event, 1), 0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, ep.Close(), "double close is a no-op")
}

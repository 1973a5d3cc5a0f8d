// Package reactor abstracts OS-level readiness notification behind one
// interface so the scheduler core never branches on platform. A backend is
// selected at build time per GOOS (epoll on linux, kqueue on the BSD family)
// with a portable in-memory backend for everything else and for tests.
package reactor

import (
	"errors"
	"time"
)

// Interest is a bit mask of readiness conditions a registration waits for.
type Interest uint32

const (
	// Readable fires when the handle can be read without blocking.
	Readable Interest = 1 << iota
	// Writable fires when the handle can be written without blocking.
	Writable
)

// Has reports whether the mask contains all bits of other.
func (i Interest) Has(other Interest) bool {
	return i&other == other
}

// Event is one readiness notification returned by Wait.
type Event struct {
	// FD is the registered handle.
	FD int
	// Ready is the observed readiness mask. It may include conditions
	// beyond the registered interest (error/hang-up states are reported
	// as both readable and writable so the owner notices either way).
	Ready Interest
	// Tag is the opaque value supplied to Add.
	Tag any
}

var (
	// ErrClosed is returned by operations on a closed reactor.
	ErrClosed = errors.New("reactor: closed")
	// ErrNoInterest is returned by Add when the interest mask is empty.
	ErrNoInterest = errors.New("reactor: empty interest mask")
)

// Reactor is the boundary contract every backend must honor.
//
// Registrations are one-shot: delivering an event for a handle consumes its
// registration, and a task re-awaiting the same handle after a partial
// operation must Add again. The core makes no assumption about edge- versus
// level-triggering beyond that rule.
type Reactor interface {
	// Add registers a handle with an interest mask and an opaque tag.
	// Re-adding a still-registered handle replaces its mask and tag.
	Add(fd int, interest Interest, tag any) error

	// Remove drops a registration before it fires. It reports whether a
	// registration was actually removed: false means the handle was
	// unknown or its event was already consumed by Wait on another
	// thread (the same contract as time.Timer.Stop).
	Remove(fd int) (bool, error)

	// Wait blocks up to timeout (indefinitely if negative, poll if zero)
	// and fills events with currently-ready registrations, returning the
	// count. A zero count with nil error means the timeout elapsed.
	Wait(events []Event, timeout time.Duration) (int, error)

	// Close releases the backend. Pending registrations are dropped.
	Close() error
}

// timeoutMillis converts a Wait timeout to the millisecond convention used
// by the OS backends: -1 blocks, 0 polls, otherwise at least 1ms so a short
// positive timeout is not silently turned into a poll.
func timeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	if timeout == 0 {
		return 0
	}
	ms := int(timeout / time.Millisecond)
	if ms == 0 {
		ms = 1
	}
	return ms
}

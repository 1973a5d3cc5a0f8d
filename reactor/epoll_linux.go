//go:build linux

package reactor

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Epoll is the linux backend, built on epoll(7) with one-shot registrations.
type Epoll struct {
	epfd int

	mu      sync.Mutex
	tags    map[int]any
	scratch []unix.EpollEvent
	closed  bool
}

// NewEpoll creates an epoll instance.
func NewEpoll() (*Epoll, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &Epoll{
		epfd: epfd,
		tags: make(map[int]any),
	}, nil
}

// NewDefault returns the platform backend for linux.
func NewDefault() (Reactor, error) {
	return NewEpoll()
}

func epollMask(interest Interest) uint32 {
	var events uint32
	if interest.Has(Readable) {
		events |= unix.EPOLLIN
	}
	if interest.Has(Writable) {
		events |= unix.EPOLLOUT
	}
	return events
}

// Add registers fd for one readiness notification.
func (e *Epoll) Add(fd int, interest Interest, tag any) error {
	if interest&(Readable|Writable) == 0 {
		return ErrNoInterest
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	ev := unix.EpollEvent{
		Events: epollMask(interest) | unix.EPOLLONESHOT,
		Fd:     int32(fd),
	}
	op := unix.EPOLL_CTL_ADD
	if _, registered := e.tags[fd]; registered {
		op = unix.EPOLL_CTL_MOD
	}
	if err := unix.EpollCtl(e.epfd, op, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl fd %d: %w", fd, err)
	}
	e.tags[fd] = tag
	return nil
}

// Remove drops a pending registration, reporting whether one existed.
func (e *Epoll) Remove(fd int) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false, ErrClosed
	}
	if _, registered := e.tags[fd]; !registered {
		return false, nil
	}
	delete(e.tags, fd)
	if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return true, fmt.Errorf("epoll_ctl del fd %d: %w", fd, err)
	}
	return true, nil
}

// Wait blocks for ready registrations and consumes each one it reports.
func (e *Epoll) Wait(events []Event, timeout time.Duration) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, ErrClosed
	}
	if cap(e.scratch) < len(events) {
		e.scratch = make([]unix.EpollEvent, len(events))
	}
	scratch := e.scratch[:len(events)]
	e.mu.Unlock()

	var n int
	var err error
	for {
		n, err = unix.EpollWait(e.epfd, scratch, timeoutMillis(timeout))
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return 0, fmt.Errorf("epoll_wait: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	count := 0
	for i := 0; i < n; i++ {
		fd := int(scratch[i].Fd)
		tag, registered := e.tags[fd]
		if !registered {
			// Raced with Remove; the one-shot already disabled it.
			continue
		}
		delete(e.tags, fd)
		// One-shot leaves the fd disabled in the interest list; fully
		// deregister so a later Add starts clean.
		_ = unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, fd, nil)

		var ready Interest
		if scratch[i].Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
			ready |= Readable
		}
		if scratch[i].Events&unix.EPOLLOUT != 0 {
			ready |= Writable
		}
		if scratch[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			ready |= Readable | Writable
		}
		events[count] = Event{FD: fd, Ready: ready, Tag: tag}
		count++
	}
	return count, nil
}

// Close releases the epoll instance.
func (e *Epoll) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.tags = nil
	if err := unix.Close(e.epfd); err != nil {
		return fmt.Errorf("close epoll fd: %w", err)
	}
	return nil
}

//go:build darwin || freebsd || openbsd || dragonfly

package reactor

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Kqueue is the BSD-family backend, built on kqueue(2) with one-shot
// registrations. Read and write interest map to separate kevent filters.
type Kqueue struct {
	kq int

	mu      sync.Mutex
	regs    map[int]kqueueReg
	scratch []unix.Kevent_t
	closed  bool
}

type kqueueReg struct {
	interest Interest
	tag      any
}

// NewKqueue creates a kqueue instance.
func NewKqueue() (*Kqueue, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("kqueue: %w", err)
	}
	return &Kqueue{
		kq:   kq,
		regs: make(map[int]kqueueReg),
	}, nil
}

// NewDefault returns the platform backend for the BSD family.
func NewDefault() (Reactor, error) {
	return NewKqueue()
}

func kqueueChanges(fd int, interest Interest, flags uint16) []unix.Kevent_t {
	var changes []unix.Kevent_t
	if interest.Has(Readable) {
		changes = append(changes, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_READ,
			Flags:  flags,
		})
	}
	if interest.Has(Writable) {
		changes = append(changes, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_WRITE,
			Flags:  flags,
		})
	}
	return changes
}

// Add registers fd for one readiness notification.
func (k *Kqueue) Add(fd int, interest Interest, tag any) error {
	if interest&(Readable|Writable) == 0 {
		return ErrNoInterest
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return ErrClosed
	}

	if prev, registered := k.regs[fd]; registered {
		// Replace: drop filters the new mask no longer wants.
		if stale := prev.interest &^ interest; stale != 0 {
			_, _ = unix.Kevent(k.kq, kqueueChanges(fd, stale, unix.EV_DELETE), nil, nil)
		}
	}
	changes := kqueueChanges(fd, interest, unix.EV_ADD|unix.EV_ONESHOT)
	if _, err := unix.Kevent(k.kq, changes, nil, nil); err != nil {
		return fmt.Errorf("kevent add fd %d: %w", fd, err)
	}
	k.regs[fd] = kqueueReg{interest: interest, tag: tag}
	return nil
}

// Remove drops a pending registration, reporting whether one existed.
func (k *Kqueue) Remove(fd int) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return false, ErrClosed
	}
	reg, registered := k.regs[fd]
	if !registered {
		return false, nil
	}
	delete(k.regs, fd)
	// One-shot filters may have fired already; EV_DELETE failures here
	// only mean there was nothing left to delete.
	_, _ = unix.Kevent(k.kq, kqueueChanges(fd, reg.interest, unix.EV_DELETE), nil, nil)
	return true, nil
}

// Wait blocks for ready registrations and consumes each one it reports.
func (k *Kqueue) Wait(events []Event, timeout time.Duration) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return 0, ErrClosed
	}
	if cap(k.scratch) < len(events) {
		k.scratch = make([]unix.Kevent_t, len(events))
	}
	scratch := k.scratch[:len(events)]
	k.mu.Unlock()

	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}

	var n int
	var err error
	for {
		n, err = unix.Kevent(k.kq, nil, scratch, ts)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return 0, fmt.Errorf("kevent wait: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	count := 0
	for i := 0; i < n; i++ {
		fd := int(scratch[i].Ident)
		reg, registered := k.regs[fd]
		if !registered {
			continue
		}

		var ready Interest
		switch scratch[i].Filter {
		case unix.EVFILT_READ:
			ready = Readable
		case unix.EVFILT_WRITE:
			ready = Writable
		default:
			continue
		}
		if scratch[i].Flags&unix.EV_EOF != 0 {
			ready |= Readable | Writable
		}

		// Both filters are one-shot; drop whichever remains so the
		// registration is fully consumed by a single delivery.
		if remaining := reg.interest &^ ready; remaining != 0 {
			_, _ = unix.Kevent(k.kq, kqueueChanges(fd, remaining, unix.EV_DELETE), nil, nil)
		}
		delete(k.regs, fd)

		events[count] = Event{FD: fd, Ready: ready, Tag: reg.tag}
		count++
	}
	return count, nil
}

// Close releases the kqueue instance.
func (k *Kqueue) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	k.regs = nil
	if err := unix.Close(k.kq); err != nil {
		return fmt.Errorf("close kqueue fd: %w", err)
	}
	return nil
}

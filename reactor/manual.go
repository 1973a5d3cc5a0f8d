package reactor

import (
	"sync"
	"time"
)

// Manual is a portable in-memory backend. Readiness is injected by calling
// MarkReady instead of being observed from the OS, which makes it the
// default on platforms without a native backend and the workhorse for
// deterministic tests of anything built on the Reactor contract.
type Manual struct {
	mu      sync.Mutex
	regs    map[int]manualReg
	pending []Event
	kick    chan struct{}
	closed  bool
}

type manualReg struct {
	interest Interest
	tag      any
}

// NewManual creates an empty manual reactor.
func NewManual() *Manual {
	return &Manual{
		regs: make(map[int]manualReg),
		kick: make(chan struct{}, 1),
	}
}

// Add registers fd for one readiness notification.
func (m *Manual) Add(fd int, interest Interest, tag any) error {
	if interest&(Readable|Writable) == 0 {
		return ErrNoInterest
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.regs[fd] = manualReg{interest: interest, tag: tag}
	return nil
}

// Remove drops a pending registration, reporting whether one existed.
func (m *Manual) Remove(fd int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	_, registered := m.regs[fd]
	delete(m.regs, fd)
	return registered, nil
}

// MarkReady injects a readiness condition for fd. If a registration is
// interested, it is consumed and queued for the next Wait; otherwise the
// condition is discarded, mirroring how an OS multiplexer only reports what
// was registered.
func (m *Manual) MarkReady(fd int, ready Interest) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	reg, registered := m.regs[fd]
	if !registered || reg.interest&ready == 0 {
		m.mu.Unlock()
		return
	}
	delete(m.regs, fd)
	m.pending = append(m.pending, Event{FD: fd, Ready: ready & reg.interest, Tag: reg.tag})
	m.mu.Unlock()

	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Wait blocks until MarkReady queues an event or the timeout elapses.
func (m *Manual) Wait(events []Event, timeout time.Duration) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	var timer *time.Timer
	var expire <-chan time.Time
	if timeout >= 0 {
		timer = time.NewTimer(timeout)
		expire = timer.C
		defer timer.Stop()
	}

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return 0, ErrClosed
		}
		if len(m.pending) > 0 {
			n := copy(events, m.pending)
			remaining := copy(m.pending, m.pending[n:])
			for i := remaining; i < len(m.pending); i++ {
				m.pending[i] = Event{} // release references
			}
			m.pending = m.pending[:remaining]
			m.mu.Unlock()
			return n, nil
		}
		m.mu.Unlock()

		select {
		case <-m.kick:
		case <-expire:
			return 0, nil
		}
	}
}

// Close releases the reactor and unblocks Wait.
func (m *Manual) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.regs = nil
	m.pending = nil
	m.mu.Unlock()

	select {
	case m.kick <- struct{}{}:
	default:
	}
	return nil
}

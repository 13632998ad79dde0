// Package eventloop is a single-threaded, level-triggered readiness loop over
// a small set of file descriptors.
//
// Every handler runs to completion on the goroutine that called Run before
// the loop waits again, so handlers never need locking among themselves.
package eventloop

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/cjeanneret/PadPan/internal/debug"
)

// Handler is a readiness source. HandleReady is called each time Fd is
// readable and must consume at most one event without blocking.
type Handler interface {
	Fd() int
	HandleReady()
}

// ErrDuplicate is returned when a descriptor is registered twice.
var ErrDuplicate = errors.New("eventloop: descriptor already registered")

// maxEvents bounds how many ready sources one wait reports.
const maxEvents = 8

// Loop dispatches readiness events to registered handlers.
type Loop struct {
	epfd     int
	handlers map[int]Handler
	events   [maxEvents]unix.EpollEvent
}

// New creates the epoll instance backing the loop.
func New() (*Loop, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &Loop{
		epfd:     fd,
		handlers: make(map[int]Handler),
	}, nil
}

// Register subscribes h for input readiness. Registrations are permanent.
func (l *Loop) Register(h Handler) error {
	fd := h.Fd()
	if _, ok := l.handlers[fd]; ok {
		return fmt.Errorf("fd %d: %w", fd, ErrDuplicate)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl add fd %d: %w", fd, err)
	}
	l.handlers[fd] = h
	debug.Verbose("eventloop: registered fd %d (%T)", fd, h)
	return nil
}

// Run waits forever, dispatching ready handlers in the order the kernel
// reports them. It only returns when the wait itself fails.
func (l *Loop) Run() error {
	for {
		if _, err := l.poll(-1); err != nil {
			debug.Errorf("eventloop: wait failed: %v", err)
			return err
		}
	}
}

// poll performs one wait with a timeout in milliseconds (-1 blocks) and
// dispatches the ready handlers. It returns how many were dispatched.
func (l *Loop) poll(msec int) (int, error) {
	n, err := unix.EpollWait(l.epfd, l.events[:], msec)
	if err != nil {
		// Go's runtime signals (preemption among them) interrupt the wait;
		// that is not a failure of the loop.
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll_wait: %w", err)
	}
	for i := 0; i < n; i++ {
		fd := int(l.events[i].Fd)
		h, ok := l.handlers[fd]
		if !ok {
			debug.Errorf("eventloop: event for unknown fd %d", fd)
			continue
		}
		h.HandleReady()
	}
	return n, nil
}

// Close releases the epoll descriptor. A Run in progress then fails its
// next wait and returns.
func (l *Loop) Close() error {
	return unix.Close(l.epfd)
}

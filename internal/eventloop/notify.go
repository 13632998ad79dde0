package eventloop

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Notifier lets other goroutines hand work to the loop goroutine. Notify may
// be called from anywhere; fn runs on the loop goroutine once per wakeup,
// however many notifications were coalesced into it.
type Notifier struct {
	r, w int
	fn   func()
}

// NewNotifier creates the wakeup pipe. Register the result with a Loop.
func NewNotifier(fn func()) (*Notifier, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("pipe2: %w", err)
	}
	return &Notifier{r: fds[0], w: fds[1], fn: fn}, nil
}

// Fd returns the read end of the wakeup pipe.
func (n *Notifier) Fd() int {
	return n.r
}

// Notify wakes the loop. A full pipe already guarantees a wakeup.
func (n *Notifier) Notify() error {
	if _, err := unix.Write(n.w, []byte{1}); err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

// HandleReady drains the pipe and runs fn.
func (n *Notifier) HandleReady() {
	var buf [64]byte
	for {
		// EAGAIN once drained; 0 once every writer is gone.
		if c, err := unix.Read(n.r, buf[:]); err != nil || c == 0 {
			break
		}
	}
	n.fn()
}

// Close releases both ends of the pipe.
func (n *Notifier) Close() error {
	werr := unix.Close(n.w)
	if err := unix.Close(n.r); err != nil {
		return err
	}
	return werr
}

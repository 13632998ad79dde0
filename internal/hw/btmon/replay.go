package btmon

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket/pcapgo"
	"golang.org/x/sys/unix"

	"github.com/cjeanneret/PadPan/internal/debug"
)

// Replay feeds frames from a recorded pcap file, paced by a timerfd so it can
// sit in the event loop in place of a live Channel.
type Replay struct {
	fd       int
	r        *pcapgo.Reader
	src      io.Closer
	callback FrameFunc
	speed    float64

	pending  []byte
	lastTS   time.Time
	frames   int
	finished bool
}

// OpenReplay opens a capture file written by Recorder (or btmon/Wireshark
// with the Linux monitor link type). speed scales the recorded pacing: 2
// plays twice as fast, 0 plays frames back to back.
func OpenReplay(path string, speed float64, cb FrameFunc) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture file: %w", err)
	}
	rp, err := NewReplay(f, speed, cb)
	if err != nil {
		f.Close()
		return nil, err
	}
	rp.src = f
	return rp, nil
}

// NewReplay reads frames from r.
func NewReplay(r io.Reader, speed float64, cb FrameFunc) (*Replay, error) {
	if speed < 0 {
		return nil, fmt.Errorf("replay speed must be >= 0, got %g", speed)
	}
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("read pcap header: %w", err)
	}
	if lt := pr.LinkType(); lt != LinkTypeMonitor {
		return nil, fmt.Errorf("unsupported link type %d, want %d", lt, LinkTypeMonitor)
	}
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("timerfd_create: %w", err)
	}
	rp := &Replay{fd: fd, r: pr, callback: cb, speed: speed}
	if err := rp.advance(); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return rp, nil
}

// Fd returns the timer descriptor.
func (rp *Replay) Fd() int {
	return rp.fd
}

// HandleReady delivers the frame whose time has come and schedules the next.
func (rp *Replay) HandleReady() {
	var expirations [8]byte
	if _, err := unix.Read(rp.fd, expirations[:]); err != nil {
		if !errors.Is(err, unix.EAGAIN) {
			debug.Errorf("btmon: replay timer read failed: %v", err)
		}
		return
	}
	if rp.pending == nil {
		return
	}

	frame := rp.pending
	if len(frame) < pseudoHeaderSize {
		debug.Errorf("btmon: skipping %d byte replay record", len(frame))
	} else {
		h := Header{
			Index:  binary.BigEndian.Uint16(frame[0:]),
			Opcode: binary.BigEndian.Uint16(frame[2:]),
			Len:    uint16(len(frame) - pseudoHeaderSize),
		}
		rp.frames++
		rp.callback(h, frame[pseudoHeaderSize:])
	}

	if err := rp.advance(); err != nil {
		debug.Errorf("btmon: replay stopped: %v", err)
	}
}

// advance reads the next record and arms the timer for it. At end of file
// the timer stays disarmed and the source goes quiet.
func (rp *Replay) advance() error {
	data, ci, err := rp.r.ReadPacketData()
	if err != nil {
		rp.pending = nil
		rp.finished = true
		if errors.Is(err, io.EOF) {
			debug.Info("Replay finished after %d frames", rp.frames)
			return nil
		}
		return fmt.Errorf("read record: %w", err)
	}

	var delay time.Duration
	if !rp.lastTS.IsZero() && rp.speed > 0 {
		delay = time.Duration(float64(ci.Timestamp.Sub(rp.lastTS)) / rp.speed)
	}
	rp.lastTS = ci.Timestamp
	rp.pending = data

	// A zero it_value disarms a timerfd, so fire as soon as possible instead.
	if delay <= 0 {
		delay = time.Nanosecond
	}
	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(delay.Nanoseconds())}
	if err := unix.TimerfdSettime(rp.fd, 0, &spec, nil); err != nil {
		return fmt.Errorf("timerfd_settime: %w", err)
	}
	return nil
}

// Finished reports whether the capture has been fully replayed.
func (rp *Replay) Finished() bool {
	return rp.finished
}

// Frames returns how many frames were delivered.
func (rp *Replay) Frames() int {
	return rp.frames
}

// Close releases the timer and the capture file.
func (rp *Replay) Close() error {
	err := unix.Close(rp.fd)
	if rp.src != nil {
		if cerr := rp.src.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

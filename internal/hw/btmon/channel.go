// Package btmon receives frames from the Linux Bluetooth HCI monitor channel,
// the passive diagnostic socket btmon uses, which sees every frame without
// taking part in pairing.
package btmon

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/cjeanneret/PadPan/internal/debug"
)

const (
	// HeaderSize is the monitor header: opcode, controller index, length.
	HeaderSize = 6
	// MaxPayload is the largest payload read per frame.
	MaxPayload = 1490
	// MaxControl is the ancillary data buffer size.
	MaxControl = 64

	hciDevNone = 0xFFFF
)

// Header precedes every monitor-channel frame.
type Header struct {
	Opcode uint16
	Index  uint16
	Len    uint16
}

// ParseHeader decodes a little-endian monitor header.
func ParseHeader(b []byte) Header {
	return Header{
		Opcode: binary.LittleEndian.Uint16(b[0:]),
		Index:  binary.LittleEndian.Uint16(b[2:]),
		Len:    binary.LittleEndian.Uint16(b[4:]),
	}
}

// FrameFunc receives one frame. payload aliases the receiver's buffer and is
// only valid until the function returns.
type FrameFunc func(h Header, payload []byte)

// Channel is a raw monitor-channel socket.
type Channel struct {
	fd       int
	callback FrameFunc
	header   [HeaderSize]byte
	data     [MaxPayload]byte
	control  [MaxControl]byte
}

// Open creates a raw HCI socket bound to the monitor channel. Requires
// CAP_NET_RAW.
func Open(cb FrameFunc) (*Channel, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.BTPROTO_HCI)
	if err != nil {
		return nil, fmt.Errorf("open bluetooth socket: %w", err)
	}
	addr := &unix.SockaddrHCI{Dev: hciDevNone, Channel: unix.HCI_CHANNEL_MONITOR}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind monitor channel: %w", err)
	}
	debug.Verbose("btmon: monitor socket fd=%d", fd)
	return NewChannel(fd, cb), nil
}

// NewChannel wraps an already open datagram socket carrying monitor frames.
func NewChannel(fd int, cb FrameFunc) *Channel {
	return &Channel{fd: fd, callback: cb}
}

// Fd returns the socket descriptor.
func (c *Channel) Fd() int {
	return c.fd
}

// HandleReady receives one frame without blocking and hands it to the
// callback. Errors drop the frame; the socket stays usable.
func (c *Channel) HandleReady() {
	n, _, _, _, err := unix.RecvmsgBuffers(c.fd, [][]byte{c.header[:], c.data[:]}, c.control[:], unix.MSG_DONTWAIT)
	// x/sys cannot express an HCI sender address; the frame itself is intact.
	if err != nil && !(errors.Is(err, unix.EAFNOSUPPORT) && n > 0) {
		debug.Errorf("btmon: failed to read frame: %v", err)
		return
	}
	if n < HeaderSize {
		debug.Errorf("btmon: dropping %d byte frame shorter than header", n)
		return
	}
	h := ParseHeader(c.header[:])
	debug.Trace("btmon: opcode=0x%04x index=%d len=%d", h.Opcode, h.Index, h.Len)
	c.callback(h, c.data[:n-HeaderSize])
}

// Close closes the socket.
func (c *Channel) Close() error {
	return unix.Close(c.fd)
}

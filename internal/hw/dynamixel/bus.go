package dynamixel

import (
	"fmt"
	"io"

	"github.com/cjeanneret/PadPan/internal/debug"
	"github.com/cjeanneret/PadPan/internal/hw/gpio"
)

// Port is the serial line the servos hang off. Read must return (0, nil)
// once its read timeout expires, as go.bug.st/serial does.
type Port interface {
	io.ReadWriteCloser
	Drain() error
	ResetInputBuffer() error
}

// Bus serializes instruction/status exchanges on a half-duplex line. The
// direction pin is driven High while transmitting and Low while listening.
type Bus struct {
	port   Port
	gpio   gpio.Driver
	dirPin int
}

// NewBus configures the direction pin and leaves the transceiver listening.
func NewBus(port Port, g gpio.Driver, dirPin int) (*Bus, error) {
	if err := g.SetupPin(dirPin, gpio.Output); err != nil {
		return nil, fmt.Errorf("setup direction pin %d: %w", dirPin, err)
	}
	if err := g.WritePin(dirPin, gpio.Low); err != nil {
		return nil, fmt.Errorf("release direction pin %d: %w", dirPin, err)
	}
	return &Bus{port: port, gpio: g, dirPin: dirPin}, nil
}

// Transact sends one instruction and, unless it was broadcast, waits for the
// matching status packet. A non-zero servo error byte is returned as *StatusError
// together with the packet.
func (b *Bus) Transact(id uint8, inst Instruction, params []byte) (*StatusPacket, error) {
	pkt := EncodeInstruction(id, inst, params)

	if err := b.port.ResetInputBuffer(); err != nil {
		return nil, fmt.Errorf("reset input buffer: %w", err)
	}
	if err := b.transmit(pkt); err != nil {
		return nil, err
	}
	if id == BroadcastID {
		return nil, nil
	}

	status, err := b.readStatus()
	if err != nil {
		return nil, fmt.Errorf("servo %d: %w", id, err)
	}
	if status.ID != id {
		return nil, fmt.Errorf("%w: reply from servo %d, expected %d", ErrMalformed, status.ID, id)
	}
	if status.Error != 0 {
		return status, &StatusError{ID: id, Faults: status.Error}
	}
	return status, nil
}

func (b *Bus) transmit(pkt []byte) error {
	if err := b.gpio.WritePin(b.dirPin, gpio.High); err != nil {
		return fmt.Errorf("claim bus: %w", err)
	}
	debug.Bus("tx", pkt)
	_, werr := b.port.Write(pkt)
	if werr == nil {
		werr = b.port.Drain()
	}
	// Always hand the line back, even when the write failed.
	if err := b.gpio.WritePin(b.dirPin, gpio.Low); err != nil && werr == nil {
		return fmt.Errorf("release bus: %w", err)
	}
	if werr != nil {
		return fmt.Errorf("write packet: %w", werr)
	}
	return nil
}

func (b *Bus) readStatus() (*StatusPacket, error) {
	// Hunt for the FF FF preamble; a servo id is never 0xFF.
	var one [1]byte
	seen := 0
	for seen < 2 {
		if err := b.readFull(one[:]); err != nil {
			return nil, err
		}
		if one[0] == headerByte {
			seen++
		} else {
			seen = 0
		}
	}

	head := []byte{headerByte, headerByte, 0, 0}
	for {
		if err := b.readFull(head[2:3]); err != nil {
			return nil, err
		}
		if head[2] != headerByte {
			break
		}
	}
	if err := b.readFull(head[3:4]); err != nil {
		return nil, err
	}

	pkt := append(head, make([]byte, head[3])...)
	if err := b.readFull(pkt[4:]); err != nil {
		return nil, err
	}
	debug.Bus("rx", pkt)
	return DecodeStatus(pkt)
}

func (b *Bus) readFull(buf []byte) error {
	for off := 0; off < len(buf); {
		n, err := b.port.Read(buf[off:])
		if err != nil {
			return fmt.Errorf("read status: %w", err)
		}
		if n == 0 {
			return ErrTimeout
		}
		off += n
	}
	return nil
}

// Ping checks that servo id answers.
func (b *Bus) Ping(id uint8) error {
	_, err := b.Transact(id, InstPing, nil)
	return err
}

// Write stores data at addr in the control table of servo id.
func (b *Bus) Write(id, addr uint8, data ...byte) error {
	params := append([]byte{addr}, data...)
	_, err := b.Transact(id, InstWrite, params)
	return err
}

// Servo returns a handle for servo id on this bus.
func (b *Bus) Servo(id uint8) *Servo {
	return &Servo{bus: b, id: id}
}

// Close releases the serial port.
func (b *Bus) Close() error {
	return b.port.Close()
}

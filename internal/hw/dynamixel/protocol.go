// Package dynamixel talks Dynamixel protocol 1.0 to AX-12A class servos over a
// half-duplex UART.
//
// Instruction packet: FF FF <id> <len> <instr> <params...> <checksum>
// Status packet:      FF FF <id> <len> <error> <params...> <checksum>
//
// <len> counts the bytes following it (params + 2) and the checksum is the
// inverted low byte of the sum of every byte between the header and itself.
package dynamixel

import (
	"errors"
	"fmt"
	"strings"
)

// Instruction is a protocol 1.0 instruction code.
type Instruction byte

const (
	InstPing  Instruction = 0x01
	InstWrite Instruction = 0x03
)

// BroadcastID addresses every servo on the bus; no status packet is returned.
const BroadcastID uint8 = 0xFE

// AX-12A control table addresses (RAM and EEPROM).
const (
	AddrModelNumber     uint8 = 0x00
	AddrID              uint8 = 0x03
	AddrCWAngleLimit    uint8 = 0x06
	AddrCCWAngleLimit   uint8 = 0x08
	AddrTorqueEnable    uint8 = 0x18
	AddrGoalPosition    uint8 = 0x1E
	AddrMovingSpeed     uint8 = 0x20
	AddrTorqueLimit     uint8 = 0x22

	controlTableSize = 0x32
)

// MaxValue is the upper bound of every 10-bit position/speed/torque register.
const MaxValue uint16 = 0x3FF

const headerByte = 0xFF

var (
	ErrTimeout    = errors.New("dynamixel: status packet timeout")
	ErrChecksum   = errors.New("dynamixel: checksum mismatch")
	ErrMalformed  = errors.New("dynamixel: malformed packet")
	ErrOutOfRange = errors.New("dynamixel: value out of range")
)

// Status error bits reported by the servo.
const (
	FaultInputVoltage byte = 1 << iota
	FaultAngleLimit
	FaultOverheating
	FaultRange
	FaultChecksum
	FaultOverload
	FaultInstruction
)

var faultNames = []string{
	"input voltage",
	"angle limit",
	"overheating",
	"range",
	"checksum",
	"overload",
	"instruction",
}

// StatusError is returned when a servo answers with a non-zero error byte.
type StatusError struct {
	ID     uint8
	Faults byte
}

func (e *StatusError) Error() string {
	var names []string
	for bit, name := range faultNames {
		if e.Faults&(1<<bit) != 0 {
			names = append(names, name)
		}
	}
	return fmt.Sprintf("dynamixel: servo %d reported fault 0x%02x (%s)", e.ID, e.Faults, strings.Join(names, ", "))
}

// StatusPacket is a decoded servo reply.
type StatusPacket struct {
	ID     uint8
	Error  byte
	Params []byte
}

func checksum(body []byte) byte {
	var sum byte
	for _, b := range body {
		sum += b
	}
	return ^sum
}

// EncodeInstruction builds an instruction packet.
func EncodeInstruction(id uint8, inst Instruction, params []byte) []byte {
	pkt := make([]byte, 0, 6+len(params))
	pkt = append(pkt, headerByte, headerByte, id, byte(len(params)+2), byte(inst))
	pkt = append(pkt, params...)
	return append(pkt, checksum(pkt[2:]))
}

// DecodeStatus parses a complete status packet, header included.
func DecodeStatus(pkt []byte) (*StatusPacket, error) {
	if len(pkt) < 6 || pkt[0] != headerByte || pkt[1] != headerByte {
		return nil, ErrMalformed
	}
	length := int(pkt[3])
	if length < 2 || len(pkt) != 4+length {
		return nil, fmt.Errorf("%w: length byte %d for %d byte packet", ErrMalformed, length, len(pkt))
	}
	if got, want := pkt[len(pkt)-1], checksum(pkt[2:len(pkt)-1]); got != want {
		return nil, fmt.Errorf("%w: got 0x%02x, want 0x%02x", ErrChecksum, got, want)
	}
	return &StatusPacket{
		ID:     pkt[2],
		Error:  pkt[4],
		Params: append([]byte(nil), pkt[5:len(pkt)-1]...),
	}, nil
}

func word(v uint16) []byte {
	return []byte{byte(v), byte(v >> 8)}
}

package dynamixel

import (
	"bytes"
	"encoding/binary"

	"github.com/cjeanneret/PadPan/internal/debug"
)

// MaxRecordedWrites bounds the write history kept by a Simulator. When it
// fills, the older half is dropped.
const MaxRecordedWrites = 4096

// WriteRecord is one control-table write seen by the Simulator.
type WriteRecord struct {
	ID   uint8
	Addr uint8
	Data []byte
}

// Simulator is an in-memory Port emulating AX-12A servos. It answers
// instruction packets written to it with status packets read back from it,
// so a Bus cannot tell it from real hardware. Used in mock mode and tests.
type Simulator struct {
	tables map[uint8]*[controlTableSize]byte
	faults map[uint8]byte
	silent map[uint8]bool
	rx     []byte
	tx     bytes.Buffer
	writes []WriteRecord
}

// NewSimulator creates servos with the given ids and factory defaults.
func NewSimulator(ids ...uint8) *Simulator {
	s := &Simulator{
		tables: make(map[uint8]*[controlTableSize]byte),
		faults: make(map[uint8]byte),
		silent: make(map[uint8]bool),
	}
	for _, id := range ids {
		var t [controlTableSize]byte
		binary.LittleEndian.PutUint16(t[AddrModelNumber:], 12)
		t[AddrID] = id
		binary.LittleEndian.PutUint16(t[AddrCCWAngleLimit:], MaxValue)
		binary.LittleEndian.PutUint16(t[AddrGoalPosition:], 512)
		binary.LittleEndian.PutUint16(t[AddrTorqueLimit:], MaxValue)
		s.tables[id] = &t
	}
	return s
}

// SetFault makes servo id report faults in every following status packet
// and ignore writes. Pass 0 to clear.
func (s *Simulator) SetFault(id uint8, faults byte) {
	s.faults[id] = faults
}

// SetSilent makes servo id stop answering, as if unplugged.
func (s *Simulator) SetSilent(id uint8, silent bool) {
	s.silent[id] = silent
}

// Word returns the 16-bit register at addr of servo id.
func (s *Simulator) Word(id, addr uint8) uint16 {
	t, ok := s.tables[id]
	if !ok {
		return 0
	}
	return binary.LittleEndian.Uint16(t[addr:])
}

// Byte returns the 8-bit register at addr of servo id.
func (s *Simulator) Byte(id, addr uint8) byte {
	t, ok := s.tables[id]
	if !ok {
		return 0
	}
	return t[addr]
}

// Writes returns the most recent accepted control-table writes, in order.
func (s *Simulator) Writes() []WriteRecord {
	return s.writes
}

// ResetWrites forgets the recorded writes.
func (s *Simulator) ResetWrites() {
	s.writes = nil
}

func (s *Simulator) record(w WriteRecord) {
	if len(s.writes) >= MaxRecordedWrites {
		keep := MaxRecordedWrites / 2
		s.writes = append(s.writes[:0], s.writes[len(s.writes)-keep:]...)
	}
	s.writes = append(s.writes, w)
}

func (s *Simulator) Write(p []byte) (int, error) {
	s.rx = append(s.rx, p...)
	for s.consume() {
	}
	return len(p), nil
}

// consume handles one complete instruction packet at the head of rx.
func (s *Simulator) consume() bool {
	start := bytes.Index(s.rx, []byte{headerByte, headerByte})
	if start < 0 {
		s.rx = s.rx[:0]
		return false
	}
	s.rx = s.rx[start:]
	if len(s.rx) < 4 {
		return false
	}
	total := 4 + int(s.rx[3])
	if len(s.rx) < total {
		return false
	}
	pkt := s.rx[:total]
	s.rx = s.rx[total:]

	if total < 6 || checksum(pkt[2:total-1]) != pkt[total-1] {
		debug.Trace("simulator: dropping corrupt packet % X", pkt)
		return true
	}
	id, inst, params := pkt[2], Instruction(pkt[4]), pkt[5:total-1]

	if id == BroadcastID {
		for target := range s.tables {
			s.execute(target, inst, params)
		}
		return true
	}
	if _, ok := s.tables[id]; !ok || s.silent[id] {
		return true
	}
	faults, reply := s.execute(id, inst, params)
	s.reply(id, faults, reply)
	return true
}

func (s *Simulator) execute(id uint8, inst Instruction, params []byte) (byte, []byte) {
	t := s.tables[id]
	if f := s.faults[id]; f != 0 {
		return f, nil
	}
	switch inst {
	case InstPing:
		return 0, nil
	case InstWrite:
		if len(params) < 2 || int(params[0])+len(params)-1 > controlTableSize {
			return FaultRange, nil
		}
		addr, data := params[0], params[1:]
		copy(t[addr:], data)
		s.record(WriteRecord{ID: id, Addr: addr, Data: append([]byte(nil), data...)})
		return 0, nil
	default:
		return FaultInstruction, nil
	}
}

func (s *Simulator) reply(id, faults byte, params []byte) {
	pkt := []byte{headerByte, headerByte, id, byte(len(params) + 2), faults}
	pkt = append(pkt, params...)
	pkt = append(pkt, checksum(pkt[2:]))
	s.tx.Write(pkt)
}

// Read returns pending status bytes, or (0, nil) when none are queued, which
// the Bus treats as a timeout.
func (s *Simulator) Read(p []byte) (int, error) {
	if s.tx.Len() == 0 {
		return 0, nil
	}
	return s.tx.Read(p)
}

func (s *Simulator) Drain() error { return nil }

func (s *Simulator) ResetInputBuffer() error {
	s.tx.Reset()
	return nil
}

func (s *Simulator) Close() error { return nil }

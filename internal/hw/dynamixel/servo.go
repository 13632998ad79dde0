package dynamixel

import "fmt"

// Servo is one AX-12A on a Bus. Every setter is a single blocking write
// transaction; nothing is retried.
type Servo struct {
	bus *Bus
	id  uint8
}

// ID returns the servo's bus id.
func (s *Servo) ID() uint8 {
	return s.id
}

func (s *Servo) writeWord(addr uint8, name string, v uint16) error {
	if v > MaxValue {
		return fmt.Errorf("servo %d %s 0x%x: %w", s.id, name, v, ErrOutOfRange)
	}
	if err := s.bus.Write(s.id, addr, word(v)...); err != nil {
		return fmt.Errorf("servo %d set %s 0x%x: %w", s.id, name, v, err)
	}
	return nil
}

// SetGoalPosition sets the position the servo seeks (0-1023, 512 centered).
func (s *Servo) SetGoalPosition(pos uint16) error {
	return s.writeWord(AddrGoalPosition, "goal position", pos)
}

// SetMovingSpeed sets the speed used to reach the goal position.
// Note that 0 means "maximum speed without control" on AX-12A firmware.
func (s *Servo) SetMovingSpeed(speed uint16) error {
	return s.writeWord(AddrMovingSpeed, "moving speed", speed)
}

// SetCWAngleLimit sets the clockwise travel bound.
func (s *Servo) SetCWAngleLimit(limit uint16) error {
	return s.writeWord(AddrCWAngleLimit, "cw angle limit", limit)
}

// SetCCWAngleLimit sets the counter-clockwise travel bound.
func (s *Servo) SetCCWAngleLimit(limit uint16) error {
	return s.writeWord(AddrCCWAngleLimit, "ccw angle limit", limit)
}

// SetTorqueLimit caps the output torque.
func (s *Servo) SetTorqueLimit(limit uint16) error {
	return s.writeWord(AddrTorqueLimit, "torque limit", limit)
}

// SetTorqueEnabled switches holding torque on or off.
func (s *Servo) SetTorqueEnabled(enabled bool) error {
	var v byte
	if enabled {
		v = 1
	}
	if err := s.bus.Write(s.id, AddrTorqueEnable, v); err != nil {
		return fmt.Errorf("servo %d set torque enabled=%t: %w", s.id, enabled, err)
	}
	return nil
}

// Ping checks that the servo answers on the bus.
func (s *Servo) Ping() error {
	if err := s.bus.Ping(s.id); err != nil {
		return fmt.Errorf("ping servo %d: %w", s.id, err)
	}
	return nil
}

// Package motion turns normalized joystick samples into speed-tiered,
// debounced commands for one servo axis.
//
// Motion is open loop: to move, the servo is given a speed tier and told to
// seek one of two bound positions; to stop, its holding torque is released.
package motion

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/PadPan/internal/debug"
)

// Actuator is the servo surface a Mapper drives. Calls are synchronous bus
// transactions and are never retried.
type Actuator interface {
	SetGoalPosition(pos uint16) error
	SetMovingSpeed(speed uint16) error
	SetCWAngleLimit(limit uint16) error
	SetCCWAngleLimit(limit uint16) error
	SetTorqueLimit(limit uint16) error
	SetTorqueEnabled(enabled bool) error
}

// Config holds the per-axis travel bounds and timing.
type Config struct {
	NeutralPosition uint16
	LowPosition     uint16 // clockwise bound, sought for negative input
	HighPosition    uint16 // counter-clockwise bound, sought for positive input
	MaxTorque       uint16
	Lockout         time.Duration // minimum spacing between command bursts
	Settle          time.Duration // pause after releasing torque on stop
	Invert          bool
}

// DefaultConfig returns the bounds and timing used on the reference mount.
func DefaultConfig() Config {
	return Config{
		NeutralPosition: 512,
		LowPosition:     400,
		HighPosition:    650,
		MaxTorque:       0x3FF,
		Lockout:         10 * time.Millisecond,
		Settle:          5 * time.Millisecond,
	}
}

// State is a snapshot of an axis.
type State struct {
	Axis            string    `json:"axis"`
	Tier            string    `json:"tier"`
	Speed           uint16    `json:"speed"`
	Positive        bool      `json:"positive"`
	StoppedPosition uint16    `json:"stopped_position"`
	LockoutUntil    time.Time `json:"lockout_until"`
	Commands        uint64    `json:"commands"`
	Failures        uint64    `json:"failures"`
}

// Mapper owns one servo axis. It is not safe for concurrent ProcessInput
// calls; State may be read from any goroutine.
type Mapper struct {
	name string
	act  Actuator
	cfg  Config

	lockoutUntil    time.Time
	tier            Tier
	positive        bool
	stoppedPosition uint16
	commands        uint64
	failures        uint64

	snapshot atomic.Pointer[State]

	now   func() time.Time
	sleep func(time.Duration)
}

// New centers the servo, programs its travel bounds and torque limit, and
// returns a stopped Mapper. The actuator stays owned by the caller.
func New(name string, act Actuator, cfg Config) (*Mapper, error) {
	if cfg.LowPosition >= cfg.HighPosition {
		return nil, fmt.Errorf("%s: low position %d must be below high position %d", name, cfg.LowPosition, cfg.HighPosition)
	}
	if err := act.SetGoalPosition(cfg.NeutralPosition); err != nil {
		return nil, fmt.Errorf("%s: center servo at %d: %w", name, cfg.NeutralPosition, err)
	}
	if err := act.SetCWAngleLimit(cfg.LowPosition); err != nil {
		return nil, fmt.Errorf("%s: set cw angle limit 0x%x: %w", name, cfg.LowPosition, err)
	}
	if err := act.SetCCWAngleLimit(cfg.HighPosition); err != nil {
		return nil, fmt.Errorf("%s: set ccw angle limit 0x%x: %w", name, cfg.HighPosition, err)
	}
	if err := act.SetTorqueLimit(cfg.MaxTorque); err != nil {
		return nil, fmt.Errorf("%s: set torque limit 0x%x: %w", name, cfg.MaxTorque, err)
	}

	m := &Mapper{
		name:            name,
		act:             act,
		cfg:             cfg,
		tier:            Stop,
		stoppedPosition: cfg.NeutralPosition,
		now:             time.Now,
		sleep:           time.Sleep,
	}
	m.lockoutUntil = m.now()
	m.publish()
	debug.Verbose("motion: %s axis ready, bounds %d..%d", name, cfg.LowPosition, cfg.HighPosition)
	return m, nil
}

// Name returns the axis name.
func (m *Mapper) Name() string {
	return m.name
}

// ProcessInput applies one sample in [-1, 1]. Samples arriving inside the
// lockout window, or matching the current tier and direction, issue no
// commands. On error the in-memory state is left as it was.
func (m *Mapper) ProcessInput(value float64) error {
	if m.now().Before(m.lockoutUntil) {
		return nil
	}
	if m.cfg.Invert {
		value = -value
	}

	tier := Quantize(value)
	if tier == Stop {
		if m.tier != Stop {
			if err := m.stop(); err != nil {
				return m.fail(fmt.Errorf("%s: stop movement at value %.4f: %w", m.name, value, err))
			}
		}
		m.arm()
		return nil
	}

	positive := value > 0
	if tier == m.tier && positive == m.positive {
		return nil
	}

	if tier != m.tier {
		debug.Live("motion: %s speed %s -> %s", m.name, m.tier, tier)
		if err := m.act.SetMovingSpeed(tier.Speed()); err != nil {
			return m.fail(fmt.Errorf("%s: set moving speed 0x%x: %w", m.name, tier.Speed(), err))
		}
	}

	target := m.cfg.LowPosition
	if positive {
		target = m.cfg.HighPosition
	}
	if err := m.act.SetGoalPosition(target); err != nil {
		return m.fail(fmt.Errorf("%s: set goal position %d: %w", m.name, target, err))
	}
	if err := m.act.SetTorqueEnabled(true); err != nil {
		return m.fail(fmt.Errorf("%s: re-enable torque: %w", m.name, err))
	}

	m.tier = tier
	m.positive = positive
	m.commands++
	m.arm()
	debug.Axis(m.name, tier.String(), positive)
	return nil
}

// stop releases holding torque so the shaft coasts to rest, then waits for
// the servo to settle. The loop is blocked for the settle delay.
func (m *Mapper) stop() error {
	if err := m.act.SetTorqueEnabled(false); err != nil {
		return fmt.Errorf("disable torque: %w", err)
	}
	m.sleep(m.cfg.Settle)
	m.tier = Stop
	m.commands++
	debug.Axis(m.name, Stop.String(), m.positive)
	return nil
}

func (m *Mapper) arm() {
	m.lockoutUntil = m.now().Add(m.cfg.Lockout)
	m.publish()
}

func (m *Mapper) fail(err error) error {
	m.failures++
	m.publish()
	debug.Error(err)
	return err
}

func (m *Mapper) publish() {
	m.snapshot.Store(&State{
		Axis:            m.name,
		Tier:            m.tier.String(),
		Speed:           m.tier.Speed(),
		Positive:        m.positive,
		StoppedPosition: m.stoppedPosition,
		LockoutUntil:    m.lockoutUntil,
		Commands:        m.commands,
		Failures:        m.failures,
	})
}

// State returns the last published snapshot of the axis.
func (m *Mapper) State() State {
	return *m.snapshot.Load()
}

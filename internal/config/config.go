package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/PadPan/internal/logic/motion"
)

// MaxConfigFileBytes caps the size of a config file read by Load.
const MaxConfigFileBytes = 64 * 1024

// Input sources.
const (
	SourceMonitor = "monitor"
	SourceReplay  = "replay"
)

// BusConfig describes the half-duplex serial line to the servos.
type BusConfig struct {
	Device       string `yaml:"device"`        // e.g., "/dev/serial0"
	BaudRate     int    `yaml:"baud_rate"`     // AX-12A factory default is 1000000
	DirectionPin int    `yaml:"direction_pin"` // BCM pin driving the buffer direction. High = transmit.
	TimeoutMs    int    `yaml:"timeout_ms"`    // status packet timeout (ms)
	Mock         bool   `yaml:"mock"`          // simulate servos instead of opening the device
}

// AxisConfig selects the servo driving one axis.
type AxisConfig struct {
	ID     int  `yaml:"id"`
	Invert bool `yaml:"invert"` // swap the bound sought for positive input
}

// MotionConfig holds travel bounds and timing shared by both axes.
type MotionConfig struct {
	NeutralPosition int `yaml:"neutral_position"`
	LowPosition     int `yaml:"low_position"`  // clockwise bound
	HighPosition    int `yaml:"high_position"` // counter-clockwise bound
	MaxTorque       int `yaml:"max_torque"`
	LockoutMs       int `yaml:"lockout_ms"` // minimum spacing between command bursts (ms)
	SettleMs        int `yaml:"settle_ms"`  // pause after releasing torque (ms)
}

// InputConfig selects where controller frames come from.
type InputConfig struct {
	Source      string   `yaml:"source"`       // "monitor" or "replay"
	ReplayFile  string   `yaml:"replay_file"`  // pcap capture for "replay"
	ReplaySpeed float64  `yaml:"replay_speed"` // pacing multiplier; 0 = back to back
	RecordFile  string   `yaml:"record_file"`  // optional pcap written while running
	Controllers []string `yaml:"controllers"`  // expected controller addresses (informational)
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int    `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	LogFile    string `yaml:"log_file"`    // optional rotated log file
	MockGPIO   bool   `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Bus      BusConfig      `yaml:"bus"`
	Pan      AxisConfig     `yaml:"pan"`
	Tilt     AxisConfig     `yaml:"tilt"`
	Motion   MotionConfig   `yaml:"motion"`
	Input    InputConfig    `yaml:"input"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath accepts only .yaml files whose parent directory is
// named "configs".
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config file must have .yaml extension: %s", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config file must be inside a configs/ directory: %s", path)
	}
	for _, elem := range strings.Split(filepath.ToSlash(clean), "/") {
		if elem == ".." {
			return fmt.Errorf("config path must not traverse directories: %s", path)
		}
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// defaultConfig holds the values used for keys absent from the file. Keys
// present in the file replace them, zero included.
func defaultConfig() Config {
	return Config{
		Bus: BusConfig{
			Device:       "/dev/serial0",
			BaudRate:     1000000,
			DirectionPin: 17,
			TimeoutMs:    20,
		},
		Tilt: AxisConfig{ID: 1},
		Pan:  AxisConfig{ID: 2},
		Motion: MotionConfig{
			NeutralPosition: 512,
			LowPosition:     400,
			HighPosition:    650,
			MaxTorque:       0x3FF,
			LockoutMs:       10,
			SettleMs:        5,
		},
		Input: InputConfig{
			Source:      SourceMonitor,
			ReplaySpeed: 1,
		},
	}
}

// Validate checks ranges.
func (c *Config) Validate() error {
	if c.Bus.Device == "" {
		return errors.New("bus.device is required")
	}
	if c.Bus.BaudRate <= 0 {
		return fmt.Errorf("bus.baud_rate must be positive, got %d", c.Bus.BaudRate)
	}
	if c.Bus.DirectionPin < 0 || c.Bus.DirectionPin > 27 {
		return fmt.Errorf("bus.direction_pin must be a BCM pin 0-27, got %d", c.Bus.DirectionPin)
	}
	if c.Bus.TimeoutMs <= 0 {
		return fmt.Errorf("bus.timeout_ms must be positive, got %d", c.Bus.TimeoutMs)
	}
	for name, axis := range map[string]AxisConfig{"pan": c.Pan, "tilt": c.Tilt} {
		if axis.ID < 0 || axis.ID > 0xFD {
			return fmt.Errorf("%s.id must be between 0 and 253, got %d", name, axis.ID)
		}
	}
	if c.Pan.ID == c.Tilt.ID {
		return fmt.Errorf("pan.id and tilt.id must differ, both are %d", c.Pan.ID)
	}

	m := c.Motion
	if m.LowPosition < 0 || m.HighPosition > 0x3FF {
		return fmt.Errorf("motion positions must be within 0-1023, got %d..%d", m.LowPosition, m.HighPosition)
	}
	if !(m.LowPosition < m.NeutralPosition && m.NeutralPosition < m.HighPosition) {
		return fmt.Errorf("motion positions must satisfy low < neutral < high, got %d < %d < %d",
			m.LowPosition, m.NeutralPosition, m.HighPosition)
	}
	if m.MaxTorque < 0 || m.MaxTorque > 0x3FF {
		return fmt.Errorf("motion.max_torque must be within 0-1023, got %d", m.MaxTorque)
	}
	if m.LockoutMs < 0 || m.SettleMs < 0 {
		return fmt.Errorf("motion timings must not be negative, got lockout %d settle %d", m.LockoutMs, m.SettleMs)
	}

	switch c.Input.Source {
	case SourceMonitor:
	case SourceReplay:
		if c.Input.ReplayFile == "" {
			return errors.New("input.replay_file is required when input.source is replay")
		}
	default:
		return fmt.Errorf("unsupported input source: %s", c.Input.Source)
	}
	if c.Input.ReplaySpeed < 0 {
		return fmt.Errorf("input.replay_speed must be >= 0, got %g", c.Input.ReplaySpeed)
	}

	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// Lockout returns the minimum spacing between command bursts.
func (c *Config) Lockout() time.Duration {
	return time.Duration(c.Motion.LockoutMs) * time.Millisecond
}

// Settle returns the pause after releasing torque.
func (c *Config) Settle() time.Duration {
	return time.Duration(c.Motion.SettleMs) * time.Millisecond
}

// BusTimeout returns how long to wait for a status packet.
func (c *Config) BusTimeout() time.Duration {
	return time.Duration(c.Bus.TimeoutMs) * time.Millisecond
}

// AxisMotion returns the mapper configuration for an axis.
func (c *Config) AxisMotion(axis AxisConfig) motion.Config {
	return motion.Config{
		NeutralPosition: uint16(c.Motion.NeutralPosition),
		LowPosition:     uint16(c.Motion.LowPosition),
		HighPosition:    uint16(c.Motion.HighPosition),
		MaxTorque:       uint16(c.Motion.MaxTorque),
		Lockout:         c.Lockout(),
		Settle:          c.Settle(),
		Invert:          axis.Invert,
	}
}

package decode

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/PadPan/internal/logic/motion"
)

type recordingAxis struct {
	name   string
	log    *[]string
	values []float64
	err    error
}

func (a *recordingAxis) ProcessInput(v float64) error {
	a.values = append(a.values, v)
	*a.log = append(*a.log, a.name)
	return a.err
}

func newAxes() (*recordingAxis, *recordingAxis, *[]string) {
	var order []string
	return &recordingAxis{name: "tilt", log: &order}, &recordingAxis{name: "pan", log: &order}, &order
}

func payload(pan, tilt uint16, size int) []byte {
	p := make([]byte, size)
	p[PanOffset] = byte(pan)
	p[PanOffset+1] = byte(pan >> 8)
	p[TiltOffset] = byte(tilt)
	p[TiltOffset+1] = byte(tilt >> 8)
	return p
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, 0.0, Normalize(0x8000))
	assert.Equal(t, -1.0, Normalize(0x0000))
	assert.InDelta(t, 0.99997, Normalize(0xFFFF), 1e-5)
	assert.Less(t, Normalize(0xFFFF), 1.0)
	assert.Equal(t, 0.5, Normalize(0xC000))
}

func TestNormalize_Monotonic(t *testing.T) {
	prev := Normalize(0)
	for raw := 1; raw <= 0xFFFF; raw++ {
		v := Normalize(uint16(raw))
		if v <= prev {
			t.Fatalf("Normalize(0x%04x)=%v not above Normalize(0x%04x)=%v", raw, v, raw-1, prev)
		}
		prev = v
	}
}

func TestProcessPacket_RoutesTiltThenPan(t *testing.T) {
	tilt, pan, order := newAxes()
	d := New(tilt, pan)

	d.ProcessPacket(payload(0xC000, 0x4000, MinPacketLength))

	assert.Equal(t, []string{"tilt", "pan"}, *order)
	assert.Equal(t, []float64{-0.5}, tilt.values)
	assert.Equal(t, []float64{0.5}, pan.values)
}

func TestProcessPacket_RejectsShortPackets(t *testing.T) {
	for _, size := range []int{0, 1, 14, 24} {
		tilt, pan, order := newAxes()
		d := New(tilt, pan)
		d.ProcessPacket(payload(0xFFFF, 0xFFFF, max(size, 14))[:size])
		assert.Empty(t, *order, "size %d reached a mapper", size)
		assert.Equal(t, uint64(1), d.Rejected())
	}
}

func TestProcessPacket_LongPacketAccepted(t *testing.T) {
	tilt, pan, _ := newAxes()
	d := New(tilt, pan)
	d.ProcessPacket(payload(0x8000, 0x8000, 64))
	assert.Len(t, tilt.values, 1)
	assert.Len(t, pan.values, 1)
	assert.Zero(t, d.Rejected())
}

func TestProcessPacket_TiltFailureSkipsPan(t *testing.T) {
	tilt, pan, order := newAxes()
	tilt.err = errors.New("bus down")
	New(tilt, pan).ProcessPacket(payload(0, 0, MinPacketLength))
	assert.Equal(t, []string{"tilt"}, *order)
}

func TestProcessPacket_PanFailureKeepsTilt(t *testing.T) {
	tilt, pan, order := newAxes()
	pan.err = errors.New("bus down")
	New(tilt, pan).ProcessPacket(payload(0, 0, MinPacketLength))
	assert.Equal(t, []string{"tilt", "pan"}, *order)
	assert.Len(t, tilt.values, 1)
}

// countingActuator counts capability calls made by real mappers.
type countingActuator struct{ calls int }

func (c *countingActuator) SetGoalPosition(uint16) error  { c.calls++; return nil }
func (c *countingActuator) SetMovingSpeed(uint16) error   { c.calls++; return nil }
func (c *countingActuator) SetCWAngleLimit(uint16) error  { c.calls++; return nil }
func (c *countingActuator) SetCCWAngleLimit(uint16) error { c.calls++; return nil }
func (c *countingActuator) SetTorqueLimit(uint16) error   { c.calls++; return nil }
func (c *countingActuator) SetTorqueEnabled(bool) error   { c.calls++; return nil }

func TestEndToEnd_CenteredSticksIssueNoCommands(t *testing.T) {
	tiltAct, panAct := &countingActuator{}, &countingActuator{}
	tilt, err := motion.New("tilt", tiltAct, motion.DefaultConfig())
	require.NoError(t, err)
	pan, err := motion.New("pan", panAct, motion.DefaultConfig())
	require.NoError(t, err)
	tiltAct.calls, panAct.calls = 0, 0

	p := make([]byte, MinPacketLength)
	copy(p[10:], []byte{0x00, 0x80, 0x00, 0x80})
	New(tilt, pan).ProcessPacket(p)

	assert.Zero(t, tiltAct.calls)
	assert.Zero(t, panAct.calls)
	assert.Equal(t, "stop", tilt.State().Tier)
	assert.Equal(t, "stop", pan.State().Tier)
}

func TestEndToEnd_FullDeflectionMovesBothAxes(t *testing.T) {
	tiltAct, panAct := &countingActuator{}, &countingActuator{}
	cfg := motion.DefaultConfig()
	cfg.Lockout = time.Hour
	tilt, err := motion.New("tilt", tiltAct, cfg)
	require.NoError(t, err)
	pan, err := motion.New("pan", panAct, cfg)
	require.NoError(t, err)
	tiltAct.calls, panAct.calls = 0, 0

	d := New(tilt, pan)
	d.ProcessPacket(payload(0xFFFF, 0x0000, MinPacketLength))
	// Second packet lands inside the lockout window.
	d.ProcessPacket(payload(0x0000, 0xFFFF, MinPacketLength))

	assert.Equal(t, 3, tiltAct.calls)
	assert.Equal(t, 3, panAct.calls)
	assert.True(t, pan.State().Positive)
	assert.False(t, tilt.State().Positive)
}

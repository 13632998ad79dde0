package dynamixel

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/PadPan/internal/hw/gpio"
)

// recordingDriver records direction pin writes.
type recordingDriver struct {
	writes []gpio.Level
}

func (d *recordingDriver) SetupPin(pin int, mode gpio.PinMode) error { return nil }

func (d *recordingDriver) WritePin(pin int, level gpio.Level) error {
	d.writes = append(d.writes, level)
	return nil
}

func (d *recordingDriver) Close() error { return nil }

func newTestBus(t *testing.T, ids ...uint8) (*Bus, *Simulator, *recordingDriver) {
	t.Helper()
	sim := NewSimulator(ids...)
	drv := &recordingDriver{}
	bus, err := NewBus(sim, drv, 17)
	require.NoError(t, err)
	drv.writes = nil
	return bus, sim, drv
}

func TestEncodeInstruction_Ping(t *testing.T) {
	// Example from the AX-12A manual: PING id 1.
	got := EncodeInstruction(1, InstPing, nil)
	want := []byte{0xFF, 0xFF, 0x01, 0x02, 0x01, 0xFB}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ping packet mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeInstruction_WriteGoal(t *testing.T) {
	// Goal position 512 on servo 1.
	got := EncodeInstruction(1, InstWrite, []byte{AddrGoalPosition, 0x00, 0x02})
	want := []byte{0xFF, 0xFF, 0x01, 0x05, 0x03, 0x1E, 0x00, 0x02, 0xD6}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("write packet mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeStatus(t *testing.T) {
	pkt := []byte{0xFF, 0xFF, 0x01, 0x02, 0x00, 0xFC}
	status, err := DecodeStatus(pkt)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), status.ID)
	assert.Zero(t, status.Error)
	assert.Empty(t, status.Params)
}

func TestDecodeStatus_Errors(t *testing.T) {
	cases := []struct {
		name string
		pkt  []byte
		want error
	}{
		{"short", []byte{0xFF, 0xFF, 0x01}, ErrMalformed},
		{"no header", []byte{0x00, 0xFF, 0x01, 0x02, 0x00, 0xFC}, ErrMalformed},
		{"length mismatch", []byte{0xFF, 0xFF, 0x01, 0x04, 0x00, 0xFC}, ErrMalformed},
		{"bad checksum", []byte{0xFF, 0xFF, 0x01, 0x02, 0x00, 0x00}, ErrChecksum},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeStatus(tc.pkt)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestStatusError_Message(t *testing.T) {
	err := &StatusError{ID: 3, Faults: FaultOverload | FaultAngleLimit}
	assert.Equal(t, "dynamixel: servo 3 reported fault 0x22 (angle limit, overload)", err.Error())
}

func TestBus_DirectionPinToggledPerTransaction(t *testing.T) {
	bus, _, drv := newTestBus(t, 1)

	require.NoError(t, bus.Ping(1))
	assert.Equal(t, []gpio.Level{gpio.High, gpio.Low}, drv.writes)
}

func TestBus_NewBusReleasesLine(t *testing.T) {
	drv := &recordingDriver{}
	_, err := NewBus(NewSimulator(), drv, 17)
	require.NoError(t, err)
	assert.Equal(t, []gpio.Level{gpio.Low}, drv.writes)
}

func TestBus_TimeoutWhenServoMissing(t *testing.T) {
	bus, _, _ := newTestBus(t, 1)
	err := bus.Ping(9)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestBus_SilentServo(t *testing.T) {
	bus, sim, _ := newTestBus(t, 1)
	sim.SetSilent(1, true)
	assert.ErrorIs(t, bus.Ping(1), ErrTimeout)
	sim.SetSilent(1, false)
	assert.NoError(t, bus.Ping(1))
}

func TestBus_BroadcastHasNoReply(t *testing.T) {
	bus, sim, _ := newTestBus(t, 1, 2)
	require.NoError(t, bus.Write(BroadcastID, AddrTorqueEnable, 1))
	assert.Equal(t, byte(1), sim.Byte(1, AddrTorqueEnable))
	assert.Equal(t, byte(1), sim.Byte(2, AddrTorqueEnable))
}

func TestBus_StatusFault(t *testing.T) {
	bus, sim, _ := newTestBus(t, 1)
	sim.SetFault(1, FaultOverheating)

	err := bus.Write(1, AddrTorqueEnable, 1)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, FaultOverheating, se.Faults)
	assert.Empty(t, sim.Writes(), "faulted servo must not apply writes")
}

func TestServo_Setters(t *testing.T) {
	bus, sim, _ := newTestBus(t, 2)
	s := bus.Servo(2)

	require.NoError(t, s.SetCWAngleLimit(400))
	require.NoError(t, s.SetCCWAngleLimit(650))
	require.NoError(t, s.SetTorqueLimit(0x3FF))
	require.NoError(t, s.SetMovingSpeed(0x0FF))
	require.NoError(t, s.SetGoalPosition(650))
	require.NoError(t, s.SetTorqueEnabled(true))

	assert.Equal(t, uint16(400), sim.Word(2, AddrCWAngleLimit))
	assert.Equal(t, uint16(650), sim.Word(2, AddrCCWAngleLimit))
	assert.Equal(t, uint16(0x3FF), sim.Word(2, AddrTorqueLimit))
	assert.Equal(t, uint16(0x0FF), sim.Word(2, AddrMovingSpeed))
	assert.Equal(t, uint16(650), sim.Word(2, AddrGoalPosition))
	assert.Equal(t, byte(1), sim.Byte(2, AddrTorqueEnable))

	want := []WriteRecord{
		{ID: 2, Addr: AddrCWAngleLimit, Data: []byte{0x90, 0x01}},
		{ID: 2, Addr: AddrCCWAngleLimit, Data: []byte{0x8A, 0x02}},
		{ID: 2, Addr: AddrTorqueLimit, Data: []byte{0xFF, 0x03}},
		{ID: 2, Addr: AddrMovingSpeed, Data: []byte{0xFF, 0x00}},
		{ID: 2, Addr: AddrGoalPosition, Data: []byte{0x8A, 0x02}},
		{ID: 2, Addr: AddrTorqueEnable, Data: []byte{0x01}},
	}
	if diff := cmp.Diff(want, sim.Writes()); diff != "" {
		t.Errorf("writes mismatch (-want +got):\n%s", diff)
	}
}

func TestServo_RejectsOutOfRange(t *testing.T) {
	bus, sim, _ := newTestBus(t, 1)
	err := bus.Servo(1).SetGoalPosition(0x400)
	assert.True(t, errors.Is(err, ErrOutOfRange))
	assert.Empty(t, sim.Writes())
}

func TestServo_Ping(t *testing.T) {
	bus, _, _ := newTestBus(t, 1)
	assert.NoError(t, bus.Servo(1).Ping())
	assert.Error(t, bus.Servo(4).Ping())
}

// noisyPort prepends garbage before every reply to exercise preamble hunting.
type noisyPort struct {
	*Simulator
	noise []byte
}

func (p *noisyPort) Read(b []byte) (int, error) {
	if len(p.noise) > 0 {
		n := copy(b, p.noise)
		p.noise = p.noise[n:]
		return n, nil
	}
	return p.Simulator.Read(b)
}

func TestBus_SkipsNoiseBeforePreamble(t *testing.T) {
	sim := NewSimulator(1)
	port := &noisyPort{Simulator: sim, noise: []byte{0x00, 0xFF, 0x42}}
	bus, err := NewBus(port, &recordingDriver{}, 17)
	require.NoError(t, err)
	assert.NoError(t, bus.Ping(1))
}

func TestSimulator_RejectsReadInstruction(t *testing.T) {
	bus, _, _ := newTestBus(t, 1)
	_, err := bus.Transact(1, Instruction(0x02), []byte{AddrGoalPosition, 2})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, FaultInstruction, se.Faults)
}

func TestSimulator_WriteHistoryIsBounded(t *testing.T) {
	bus, sim, _ := newTestBus(t, 1)
	s := bus.Servo(1)
	for i := 0; i <= MaxRecordedWrites; i++ {
		require.NoError(t, s.SetMovingSpeed(uint16(i%0x400)))
	}

	writes := sim.Writes()
	assert.LessOrEqual(t, len(writes), MaxRecordedWrites)
	assert.Equal(t, MaxRecordedWrites/2+1, len(writes))
	last := writes[len(writes)-1]
	assert.Equal(t, word(uint16(MaxRecordedWrites%0x400)), last.Data)
}

// Package decode extracts the two analog stick axes from a controller input
// report seen on the monitor channel.
package decode

import (
	"encoding/binary"

	"github.com/cjeanneret/PadPan/internal/debug"
)

const (
	// MinPacketLength guards against truncated or unrelated monitor traffic.
	MinPacketLength = 25
	// PanOffset and TiltOffset locate the little-endian 16-bit stick samples.
	PanOffset  = 10
	TiltOffset = 12
)

// AxisInput consumes normalized samples for one axis.
type AxisInput interface {
	ProcessInput(value float64) error
}

// Decoder routes stick samples to one input per axis.
type Decoder struct {
	tilt AxisInput
	pan  AxisInput

	rejected uint64
}

// New returns a decoder feeding tilt and pan.
func New(tilt, pan AxisInput) *Decoder {
	return &Decoder{tilt: tilt, pan: pan}
}

// Normalize maps a raw unsigned sample to [-1, 1): 0x8000 is centered.
func Normalize(raw uint16) float64 {
	signed := int64(raw) - 0x8000
	return 2.0 * float64(signed) / 0x10000
}

// ProcessPacket decodes one payload. Failures end processing of this packet
// only; an axis already updated is not rolled back.
func (d *Decoder) ProcessPacket(payload []byte) {
	if len(payload) < MinPacketLength {
		d.rejected++
		debug.Verbose("decode: rejecting packet, expected at least %d bytes but got %d", MinPacketLength, len(payload))
		return
	}
	if debug.IsEnabled(debug.LevelTrace) {
		debug.Packet(payload)
	}

	pan := Normalize(binary.LittleEndian.Uint16(payload[PanOffset:]))
	tilt := Normalize(binary.LittleEndian.Uint16(payload[TiltOffset:]))
	debug.Trace("decode: pan=%.4f tilt=%.4f", pan, tilt)

	if err := d.tilt.ProcessInput(tilt); err != nil {
		debug.Errorf("decode: failed to process tilt value %.4f: %v", tilt, err)
		return
	}
	if err := d.pan.ProcessInput(pan); err != nil {
		debug.Errorf("decode: failed to process pan value %.4f: %v", pan, err)
		return
	}
}

// Rejected returns how many packets were too short to decode.
func (d *Decoder) Rejected() uint64 {
	return d.rejected
}

package motion

import "math"

// Tier is a discrete commanded speed. Servos are never driven at anything
// between tiers.
type Tier int

const (
	Stop Tier = iota
	Low
	Max
)

// tierSpeeds holds the raw moving-speed register value of each tier.
var tierSpeeds = [...]uint16{
	Stop: 0,
	Low:  0x00F,
	Max:  0x0FF,
}

// NumTiers is the number of speed tiers.
const NumTiers = len(tierSpeeds)

// Speed returns the raw moving-speed value for t.
func (t Tier) Speed() uint16 {
	return tierSpeeds[t]
}

func (t Tier) String() string {
	switch t {
	case Stop:
		return "stop"
	case Low:
		return "low"
	case Max:
		return "max"
	default:
		return "unknown"
	}
}

// Quantize buckets the magnitude of value into a tier: floor(|v| * NumTiers),
// so [0, 1/3) is Stop, [1/3, 2/3) is Low and [2/3, 1] is Max. Values at or
// beyond full deflection map to Max; NaN maps to Stop.
func Quantize(value float64) Tier {
	mag := math.Abs(value)
	if math.IsNaN(mag) {
		return Stop
	}
	if mag >= 1 {
		return Max
	}
	idx := int(math.Floor(mag * float64(NumTiers)))
	return Tier(min(max(idx, 0), NumTiers-1))
}

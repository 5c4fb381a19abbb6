package sensor

import "strings"

// ParticleSensorKind identifies the optional particle sensor attached to the board.
// The value is written verbatim to the particle-sensor select register.
type ParticleSensorKind byte

const (
	ParticleSensorOff    ParticleSensorKind = 0
	ParticleSensorPPD42  ParticleSensorKind = 1
	ParticleSensorSDS011 ParticleSensorKind = 2
)

// ParticleSensorOffName is the user-facing name of ParticleSensorOff.
const ParticleSensorOffName = "off"

func (k ParticleSensorKind) String() string {
	switch k {
	case ParticleSensorPPD42:
		return "PPD42"
	case ParticleSensorSDS011:
		return "SDS011"
	default:
		return ParticleSensorOffName
	}
}

// Unit returns the concentration unit reported for this kind.
func (k ParticleSensorKind) Unit() string {
	switch k {
	case ParticleSensorPPD42:
		return "ppL"
	case ParticleSensorSDS011:
		return "ug/m3"
	default:
		return ""
	}
}

// ValidateParticleSensor resolves a user-supplied sensor name. Unknown names
// resolve to ParticleSensorOff; ok reports whether the name was recognised.
// An empty name or "off" (any case) is recognised as ParticleSensorOff.
func ValidateParticleSensor(name string) (kind ParticleSensorKind, ok bool) {
	switch n := strings.TrimSpace(name); {
	case n == "" || strings.EqualFold(n, ParticleSensorOffName):
		return ParticleSensorOff, true
	case n == "PPD42":
		return ParticleSensorPPD42, true
	case n == "SDS011":
		return ParticleSensorSDS011, true
	default:
		return ParticleSensorOff, false
	}
}

package sensor

import "fmt"

// I2C addresses of the MS430 board.
const (
	AddrSolderBridgeOpen   = 0x71
	AddrSolderBridgeClosed = 0x70
	DefaultAddress         = AddrSolderBridgeOpen
)

// settings registers
const (
	regParticleSensorSelect = 0x07
	regCyclePeriod          = 0x89
)

// commands
const (
	cmdCycleMode = 0xE4
)

// whole-category data reads
const (
	regAirData        = 0x10
	regAirQualityData = 0x11
	regLightData      = 0x12
	regSoundData      = 0x13
	regParticleData   = 0x14
)

// Byte lengths of each data category.
const (
	AirDataBytes        = 12
	AirQualityDataBytes = 10
	LightDataBytes      = 5
	SoundDataBytes      = 18
	ParticleDataBytes   = 6
)

// SoundFrequencyBands is the number of octave bands reported by the sound block.
const SoundFrequencyBands = 6

const (
	temperatureSignMask  = 0x80
	temperatureValueMask = 0x7F
)

// CyclePeriod is the interval of the sensor's autonomous measurement cycle.
type CyclePeriod byte

const (
	CyclePeriod3s   CyclePeriod = 0
	CyclePeriod100s CyclePeriod = 1
	CyclePeriod300s CyclePeriod = 2
)

// CyclePeriodFromSeconds maps a period in seconds to its register value.
func CyclePeriodFromSeconds(s int) (CyclePeriod, error) {
	switch s {
	case 3:
		return CyclePeriod3s, nil
	case 100:
		return CyclePeriod100s, nil
	case 300:
		return CyclePeriod300s, nil
	default:
		return 0, fmt.Errorf("unsupported cycle period %ds (want 3, 100 or 300)", s)
	}
}

// Seconds returns the cycle length in seconds.
func (p CyclePeriod) Seconds() int {
	switch p {
	case CyclePeriod100s:
		return 100
	case CyclePeriod300s:
		return 300
	default:
		return 3
	}
}

package sensor

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultReadyPollInterval is how often the READY line is polled.
const DefaultReadyPollInterval = 50 * time.Millisecond

// HardwareFault reports a failed bus transfer. It is not retried: a device
// that cannot be configured or read does not recover by itself.
type HardwareFault struct {
	Op  string
	Err error
}

func (e *HardwareFault) Error() string {
	return fmt.Sprintf("hardware fault: %s: %v", e.Op, e.Err)
}

func (e *HardwareFault) Unwrap() error { return e.Err }

// IsHardwareFault reports whether err wraps a *HardwareFault.
func IsHardwareFault(err error) bool {
	var hf *HardwareFault
	return errors.As(err, &hf)
}

// MS430Sensor is a session with an MS430 board running in cycle mode. It
// owns the bus for its whole lifetime.
type MS430Sensor struct {
	bus          Bus
	addr         uint16
	particle     ParticleSensorKind
	period       CyclePeriod
	pollInterval time.Duration
	log          *logrus.Entry
	now          func() time.Time
}

// NewMS430Sensor applies the particle sensor and cycle period settings and
// puts the device into cycle mode. The particle select register is left
// untouched when particle is ParticleSensorOff.
func NewMS430Sensor(bus Bus, addr uint16, particle ParticleSensorKind, period CyclePeriod, log *logrus.Entry) (*MS430Sensor, error) {
	if particle != ParticleSensorOff {
		if err := bus.WriteBlock(addr, regParticleSensorSelect, []byte{byte(particle)}); err != nil {
			return nil, &HardwareFault{Op: "select particle sensor", Err: err}
		}
	}
	if err := bus.WriteBlock(addr, regCyclePeriod, []byte{byte(period)}); err != nil {
		return nil, &HardwareFault{Op: "set cycle period", Err: err}
	}
	if err := bus.WriteCommand(addr, cmdCycleMode); err != nil {
		return nil, &HardwareFault{Op: "enter cycle mode", Err: err}
	}
	log.WithFields(logrus.Fields{
		"address":         fmt.Sprintf("0x%02X", addr),
		"particle_sensor": particle.String(),
		"cycle_period_s":  period.Seconds(),
	}).Info("sensor entered cycle mode")

	return &MS430Sensor{
		bus:          bus,
		addr:         addr,
		particle:     particle,
		period:       period,
		pollInterval: DefaultReadyPollInterval,
		log:          log,
		now:          time.Now,
	}, nil
}

// Read waits for the next READY edge and then reads all five data blocks.
// Any failed block fails the whole sample.
func (s *MS430Sensor) Read(ctx context.Context) (Sample, error) {
	if err := waitFor(ctx, s.bus.ReadyEvent, s.pollInterval); err != nil {
		return Sample{}, err
	}

	var out Sample
	blocks := []struct {
		region string
		reg    byte
		n      int
		decode func([]byte)
	}{
		{"air", regAirData, AirDataBytes, func(b []byte) { out.Air = DecodeAirData(b) }},
		// accuracy stays zero for the first minutes of self-calibration
		{"air quality", regAirQualityData, AirQualityDataBytes, func(b []byte) { out.AirQuality = DecodeAirQualityData(b) }},
		{"light", regLightData, LightDataBytes, func(b []byte) { out.Light = DecodeLightData(b) }},
		{"sound", regSoundData, SoundDataBytes, func(b []byte) { out.Sound = DecodeSoundData(b) }},
		{"particle", regParticleData, ParticleDataBytes, func(b []byte) { out.Particle = DecodeParticleData(b, s.particle) }},
	}
	for _, blk := range blocks {
		raw, err := s.bus.ReadBlock(s.addr, blk.reg, blk.n)
		if err != nil {
			return Sample{}, &HardwareFault{Op: "read " + blk.region + " data", Err: err}
		}
		if len(raw) != blk.n {
			return Sample{}, &HardwareFault{
				Op:  "read " + blk.region + " data",
				Err: errors.Errorf("short read: got %d bytes, want %d", len(raw), blk.n),
			}
		}
		blk.decode(raw)
	}
	out.Timestamp = s.now()

	s.log.WithFields(logrus.Fields{
		"aqi_accuracy":   out.AirQuality.Accuracy,
		"particle_valid": out.Particle.Valid,
	}).Debug("sample read")
	return out, nil
}

func (s *MS430Sensor) Close() error {
	return s.bus.Close()
}

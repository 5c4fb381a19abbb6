package sensor

import (
	"context"
	"sync"
	"time"
)

// DefaultSimulationDelay is the time a FakeSensor takes to produce a sample.
const DefaultSimulationDelay = 5 * time.Second

// FakeSensor returns canned readings without touching any hardware.
type FakeSensor struct {
	delay    time.Duration
	particle ParticleSensorKind
	mu       sync.Mutex
}

func NewFakeSensor(delay time.Duration, particle ParticleSensorKind) (Sensor, error) {
	return &FakeSensor{delay: delay, particle: particle}, nil
}

func (f *FakeSensor) Read(ctx context.Context) (Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delay > 0 {
		t := time.NewTimer(f.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return Sample{}, ctx.Err()
		case <-t.C:
		}
	}
	s := SimulatedSample(f.particle)
	s.Timestamp = time.Now()
	return s, nil
}

func (f *FakeSensor) Close() error { return nil }

// SimulatedSample returns the canned readings used in simulation mode.
func SimulatedSample(particle ParticleSensorKind) Sample {
	return Sample{
		Air:        AirData{TemperatureC: 20, PressurePa: 1000, HumidityPct: 50},
		AirQuality: AirQualityData{AQI: 180, CO2e: 50, BVOC: 500, Accuracy: 3},
		Light:      LightData{IlluminanceLux: 500},
		Sound:      SoundData{SPLdBA: 10, PeakAmpMPa: 20, Stable: true},
		Particle:   ParticleData{Concentration: 100, Unit: particle.Unit(), Valid: true},
	}
}

package sensor

import (
	"context"
	"time"
)

// AirData holds the values of the air data block.
type AirData struct {
	TemperatureC float64 `json:"temperature_c"`
	PressurePa   uint32  `json:"pressure_pa"`
	HumidityPct  float64 `json:"humidity_pct"`
	GasSensorOhm uint32  `json:"gas_sensor_ohm"`
}

// AirQualityData holds the values of the air quality block. AQI, CO2e and
// BVOC are not valid while Accuracy is zero (initial self-calibration).
type AirQualityData struct {
	AQI      float64 `json:"aqi"`
	CO2e     float64 `json:"co2e_ppm"`
	BVOC     float64 `json:"bvoc_ppm"`
	Accuracy uint8   `json:"accuracy"`
}

// Valid reports whether self-calibration has produced usable values.
func (d AirQualityData) Valid() bool { return d.Accuracy > 0 }

type LightData struct {
	IlluminanceLux float64 `json:"illuminance_lux"`
	WhiteLevel     uint16  `json:"white_level"`
}

type SoundData struct {
	SPLdBA     float64                      `json:"spl_dba"`
	BandSPLdB  [SoundFrequencyBands]float64 `json:"band_spl_db"`
	PeakAmpMPa float64                      `json:"peak_amp_mpa"`
	Stable     bool                         `json:"stable"`
}

// ParticleData holds the values of the particle block. Concentration is
// unreliable for about a minute after cycle mode is entered; Valid turns true
// once the sensor's filtering has settled.
type ParticleData struct {
	DutyCyclePct  float64 `json:"duty_cycle_pct"`
	Concentration float64 `json:"concentration"`
	Unit          string  `json:"unit"`
	Valid         bool    `json:"valid"`
}

// Sample is one complete set of readings from a single measurement cycle.
type Sample struct {
	Air        AirData        `json:"air"`
	AirQuality AirQualityData `json:"air_quality"`
	Light      LightData      `json:"light"`
	Sound      SoundData      `json:"sound"`
	Particle   ParticleData   `json:"particle"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Sensor produces samples. Read blocks until the next sample is available.
type Sensor interface {
	Read(ctx context.Context) (Sample, error)
	Close() error
}

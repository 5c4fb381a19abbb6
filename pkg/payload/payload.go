// Package payload turns sensor samples into the flat JSON documents
// published to the broker. All numeric values are sent as decimal strings.
package payload

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ericogr/metriful-to-mqtt/pkg/sensor"
)

// Field names of the wire payload.
const (
	FieldTemperature  = "temperature"
	FieldPressure     = "pressure"
	FieldHumidity     = "humidity"
	FieldAQI          = "aqi"
	FieldAQIString    = "aqi_string"
	FieldBVOC         = "bvoc"
	FieldSPL          = "spl"
	FieldPeakAmp      = "peak_amp"
	FieldIlluminance  = "illuminance"
	FieldParticulates = "particulates"
	FieldCO2e         = "co2e"
)

// Profile selects the precision and field set of a payload.
type Profile int

const (
	// Precise formats every quantity to two decimal places.
	Precise Profile = iota
	// Labelled uses one decimal place for most quantities, sends pressure as
	// a whole number of pascals and adds the AQI category string.
	Labelled
)

func (p Profile) String() string {
	switch p {
	case Labelled:
		return "labelled"
	default:
		return "precise"
	}
}

// ParseProfile parses a profile name.
func ParseProfile(s string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "precise":
		return Precise, nil
	case "labelled", "labeled":
		return Labelled, nil
	default:
		return 0, fmt.Errorf("unknown payload profile %q", s)
	}
}

// Payload maps field names to formatted values. It is built once per sample
// and not modified afterwards.
type Payload map[string]string

// JSON encodes the payload.
func (p Payload) JSON() ([]byte, error) {
	return json.Marshal(map[string]string(p))
}

func f1(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) }
func f2(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

// Format builds the payload for s. Values are formatted as read; callers
// decide whether warm-up or calibration state makes them trustworthy.
func Format(s sensor.Sample, p Profile) Payload {
	if p == Labelled {
		return Payload{
			FieldTemperature:  f1(s.Air.TemperatureC),
			FieldPressure:     strconv.FormatUint(uint64(s.Air.PressurePa), 10),
			FieldHumidity:     f1(s.Air.HumidityPct),
			FieldAQI:          f1(s.AirQuality.AQI),
			FieldAQIString:    InterpretAQI(s.AirQuality.AQI),
			FieldBVOC:         f2(s.AirQuality.BVOC),
			FieldSPL:          f1(s.Sound.SPLdBA),
			FieldPeakAmp:      f2(s.Sound.PeakAmpMPa),
			FieldIlluminance:  f2(s.Light.IlluminanceLux),
			FieldParticulates: f2(s.Particle.Concentration),
			FieldCO2e:         f1(s.AirQuality.CO2e),
		}
	}
	return Payload{
		FieldTemperature:  f2(s.Air.TemperatureC),
		FieldPressure:     f2(float64(s.Air.PressurePa)),
		FieldHumidity:     f2(s.Air.HumidityPct),
		FieldAQI:          f2(s.AirQuality.AQI),
		FieldBVOC:         f2(s.AirQuality.BVOC),
		FieldSPL:          f2(s.Sound.SPLdBA),
		FieldPeakAmp:      f2(s.Sound.PeakAmpMPa),
		FieldIlluminance:  f2(s.Light.IlluminanceLux),
		FieldParticulates: f2(s.Particle.Concentration),
		FieldCO2e:         f2(s.AirQuality.CO2e),
	}
}

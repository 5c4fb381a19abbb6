package payload

import (
	"encoding/json"
	"reflect"
	"sort"
	"testing"

	"github.com/ericogr/metriful-to-mqtt/pkg/sensor"
)

func sample() sensor.Sample {
	return sensor.Sample{
		Air:        sensor.AirData{TemperatureC: 21.34, PressurePa: 101325, HumidityPct: 45.6},
		AirQuality: sensor.AirQualityData{AQI: 72.4, CO2e: 612.3, BVOC: 0.87, Accuracy: 1},
		Light:      sensor.LightData{IlluminanceLux: 743.21},
		Sound:      sensor.SoundData{SPLdBA: 54.3, PeakAmpMPa: 12.34},
		Particle:   sensor.ParticleData{Concentration: 3.5, Valid: true},
	}
}

func keys(p Payload) []string {
	out := make([]string, 0, len(p))
	for k := range p {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestFormatPrecise(t *testing.T) {
	got := Format(sample(), Precise)
	want := Payload{
		"temperature":  "21.34",
		"pressure":     "101325.00",
		"humidity":     "45.60",
		"aqi":          "72.40",
		"bvoc":         "0.87",
		"spl":          "54.30",
		"peak_amp":     "12.34",
		"illuminance":  "743.21",
		"particulates": "3.50",
		"co2e":         "612.30",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("precise payload:\n got: %v\nwant: %v", got, want)
	}
	if _, ok := got[FieldAQIString]; ok {
		t.Fatalf("precise payload must not carry %s", FieldAQIString)
	}
}

func TestFormatLabelled(t *testing.T) {
	got := Format(sample(), Labelled)
	want := Payload{
		"temperature":  "21.3",
		"pressure":     "101325",
		"humidity":     "45.6",
		"aqi":          "72.4",
		"aqi_string":   "Acceptable",
		"bvoc":         "0.87",
		"spl":          "54.3",
		"peak_amp":     "12.34",
		"illuminance":  "743.21",
		"particulates": "3.50",
		"co2e":         "612.3",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("labelled payload:\n got: %v\nwant: %v", got, want)
	}
}

func TestFormatFieldSets(t *testing.T) {
	precise := []string{"aqi", "bvoc", "co2e", "humidity", "illuminance", "particulates", "peak_amp", "pressure", "spl", "temperature"}
	if got := keys(Format(sample(), Precise)); !reflect.DeepEqual(got, precise) {
		t.Fatalf("precise fields: %v", got)
	}
	labelled := append([]string{"aqi_string"}, precise...)
	sort.Strings(labelled)
	if got := keys(Format(sample(), Labelled)); !reflect.DeepEqual(got, labelled) {
		t.Fatalf("labelled fields: %v", got)
	}
}

func TestFormatUncalibratedValuesAsIs(t *testing.T) {
	s := sample()
	s.AirQuality = sensor.AirQualityData{AQI: 25, Accuracy: 0}
	if got := Format(s, Precise)[FieldAQI]; got != "25.00" {
		t.Fatalf("aqi: got %q", got)
	}
}

func TestPayloadJSONUsesStrings(t *testing.T) {
	b, err := Format(sample(), Precise).JSON()
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for k, v := range m {
		if _, ok := v.(string); !ok {
			t.Fatalf("field %s is %T, want string", k, v)
		}
	}
}

func TestInterpretAQI(t *testing.T) {
	tests := []struct {
		aqi  float64
		want string
	}{
		{0, "Good"},
		{49.9, "Good"},
		{50, "Acceptable"},
		{99.9, "Acceptable"},
		{100, "Substandard"},
		{150, "Poor"},
		{200, "Bad"},
		{299.9, "Bad"},
		{300, "Very bad"},
		{500, "Very bad"},
	}
	for _, tt := range tests {
		if got := InterpretAQI(tt.aqi); got != tt.want {
			t.Errorf("InterpretAQI(%v) = %q; want %q", tt.aqi, got, tt.want)
		}
	}
}

func TestParseProfile(t *testing.T) {
	tests := []struct {
		in   string
		want Profile
		ok   bool
	}{
		{"precise", Precise, true},
		{"Labelled", Labelled, true},
		{"labeled", Labelled, true},
		{"verbose", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseProfile(tt.in)
		if (err == nil) != tt.ok || (tt.ok && got != tt.want) {
			t.Errorf("ParseProfile(%q) = %v,%v", tt.in, got, err)
		}
	}
}

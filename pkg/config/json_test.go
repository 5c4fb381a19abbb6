package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestUnmarshalConfigJSON(t *testing.T) {
	js := `{
        "sensor_name": "porch-1",
        "particle_sensor": "PPD42",
        "cycle_period_s": 100,
        "i2c_address": 112,
        "outputs": [
            {"type":"console"},
            {"type":"mqtt","profile":"labelled","mqtt":{"server":"broker:1883","subscribe_topics":["metriful/porch-1/control"]}}
        ]
    }`

	var cfg Config
	if err := json.Unmarshal([]byte(js), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cfg.SensorName != "porch-1" || cfg.ParticleSensor != "PPD42" {
		t.Fatalf("sensor: %+v", cfg)
	}
	if cfg.CyclePeriodS != 100 || cfg.I2CAddress != 0x70 {
		t.Fatalf("cycle/address: %d %#x", cfg.CyclePeriodS, cfg.I2CAddress)
	}
	if len(cfg.Outputs) != 2 || cfg.Outputs[1].Profile != "labelled" {
		t.Fatalf("outputs: %+v", cfg.Outputs)
	}
	m := cfg.Outputs[1].MQTT
	if m.Server != "broker:1883" || m.SubscribeTopics == nil || len(*m.SubscribeTopics) != 1 {
		t.Fatalf("mqtt: %+v", m)
	}
}

func TestSubscribeTopicsEmptyListIsKept(t *testing.T) {
	tests := map[string]string{
		"metriful.json": `{"outputs":[{"type":"mqtt","mqtt":{"server":"b","subscribe_topics":[]}},{"type":"mqtt","mqtt":{"server":"c"}}]}`,
		"metriful.yaml": `outputs:
  - type: mqtt
    mqtt:
      server: b
      subscribe_topics: []
  - type: mqtt
    mqtt:
      server: c
`,
	}
	for file, body := range tests {
		t.Run(file, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), file)
			if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
				t.Fatal(err)
			}
			cfg := load(t, "-config", path)
			if got := cfg.Outputs[0].MQTT.SubscribeTopics; got == nil || len(*got) != 0 {
				t.Fatalf("explicit empty list = %v, want non-nil empty", got)
			}
			if got := cfg.Outputs[1].MQTT.SubscribeTopics; got != nil {
				t.Fatalf("unset list = %v, want nil", *got)
			}
		})
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metriful.yaml")
	yml := `sensor_name: attic
sensor_type: simulation
simulation_delay_ms: 10
outputs:
  - type: awsiot
    awsiot:
      endpoint: abc-ats.iot.eu-west-1.amazonaws.com
      cert: device.pem.crt
      key: private.pem.key
      root_ca: AmazonRootCA1.pem
      keep_alive_s: 6
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := load(t, "-config", path)
	if cfg.SensorName != "attic" || !cfg.Simulated() || cfg.SimulationDelayMs != 10 {
		t.Fatalf("cfg = %+v", cfg)
	}
	// unset keys keep their defaults
	if cfg.CyclePeriodS != 3 || cfg.I2CBus != "1" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	a := cfg.Outputs[0].AWSIoT
	if a == nil || a.Endpoint != "abc-ats.iot.eu-west-1.amazonaws.com" || a.KeepAliveS != 6 {
		t.Fatalf("awsiot: %+v", a)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadJSONFileFlagsOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metriful.json")
	if err := os.WriteFile(path, []byte(`{"sensor_name":"file","interval_ms":500}`), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := load(t, "-config", path, "-interval-ms", "200")
	if cfg.SensorName != "file" || cfg.IntervalMs != 200 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadFileErrors(t *testing.T) {
	var cfg Config
	if err := loadFile(filepath.Join(t.TempDir(), "missing.json"), &cfg); err == nil {
		t.Fatal("missing file accepted")
	}
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := loadFile(path, &cfg); err == nil {
		t.Fatal("malformed file accepted")
	}
}

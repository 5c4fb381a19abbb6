package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Output types.
const (
	OutputMQTT    = "mqtt"
	OutputAWSIoT  = "awsiot"
	OutputConsole = "console"
)

// Limits checked by Validate. I2C addresses are 7-bit, excluding reserved ones.
const (
	minI2CAddress = 0x08
	maxI2CAddress = 0x77
	maxKeepAliveS = 65535
)

// Sensor types.
const (
	SensorReal       = "real"
	SensorSimulation = "simulation"
)

type MQTTConfig struct {
	Server     string `json:"server" yaml:"server"`
	Username   string `json:"username" yaml:"username"`
	Password   string `json:"password" yaml:"password"`
	ClientID   string `json:"client_id" yaml:"client_id"`
	KeepAliveS int    `json:"keep_alive_s,omitempty" yaml:"keep_alive_s,omitempty"`
	// SubscribeTopics nil subscribes the sensor's control topic; an empty
	// list subscribes nothing.
	SubscribeTopics *[]string `json:"subscribe_topics,omitempty" yaml:"subscribe_topics,omitempty"`
}

type AWSIoTConfig struct {
	Endpoint        string    `json:"endpoint" yaml:"endpoint"`
	Port            int       `json:"port,omitempty" yaml:"port,omitempty"`
	Cert            string    `json:"cert" yaml:"cert"`
	Key             string    `json:"key" yaml:"key"`
	RootCA          string    `json:"root_ca" yaml:"root_ca"`
	ClientID        string    `json:"client_id" yaml:"client_id"`
	RuleName        string    `json:"rule_name,omitempty" yaml:"rule_name,omitempty"`
	KeepAliveS      int       `json:"keep_alive_s,omitempty" yaml:"keep_alive_s,omitempty"`
	SubscribeTopics *[]string `json:"subscribe_topics,omitempty" yaml:"subscribe_topics,omitempty"`
}

type OutputConfig struct {
	Type string `json:"type" yaml:"type"`
	// Profile is the payload profile; empty selects the type's default.
	Profile string        `json:"profile,omitempty" yaml:"profile,omitempty"`
	MQTT    *MQTTConfig   `json:"mqtt,omitempty" yaml:"mqtt,omitempty"`
	AWSIoT  *AWSIoTConfig `json:"awsiot,omitempty" yaml:"awsiot,omitempty"`
}

type Config struct {
	SensorName        string         `json:"sensor_name" yaml:"sensor_name"`
	ParticleSensor    string         `json:"particle_sensor" yaml:"particle_sensor"`
	SensorType        string         `json:"sensor_type" yaml:"sensor_type"`
	Debug             bool           `json:"debug" yaml:"debug"`
	LogFormat         string         `json:"log_format" yaml:"log_format"`
	CyclePeriodS      int            `json:"cycle_period_s" yaml:"cycle_period_s"`
	IntervalMs        int            `json:"interval_ms" yaml:"interval_ms"`
	I2CBus            string         `json:"i2c_bus" yaml:"i2c_bus"`
	I2CAddress        int            `json:"i2c_address" yaml:"i2c_address"`
	ReadyPin          string         `json:"ready_pin" yaml:"ready_pin"`
	SimulationDelayMs int            `json:"simulation_delay_ms" yaml:"simulation_delay_ms"`
	MetricsAddress    string         `json:"metrics_address" yaml:"metrics_address"`
	Outputs           []OutputConfig `json:"outputs" yaml:"outputs"`
}

func DefaultConfig() Config {
	return Config{
		ParticleSensor:    "off",
		SensorType:        SensorReal,
		LogFormat:         "text",
		CyclePeriodS:      3,
		IntervalMs:        1000,
		I2CBus:            "1",
		I2CAddress:        0x71,
		ReadyPin:          "GPIO17",
		SimulationDelayMs: 5000,
	}
}

// Simulated reports whether the sensor is bypassed.
func (c Config) Simulated() bool {
	return strings.EqualFold(c.SensorType, SensorSimulation)
}

// Validate checks the settings that cannot be recovered from. An unknown
// particle sensor is not an error here; it degrades to off at startup.
func (c Config) Validate() error {
	if strings.TrimSpace(c.SensorName) == "" {
		return errors.New("sensor name is required")
	}
	switch c.CyclePeriodS {
	case 3, 100, 300:
	default:
		return fmt.Errorf("cycle period %ds not supported (3, 100 or 300)", c.CyclePeriodS)
	}
	switch strings.ToLower(c.SensorType) {
	case SensorReal, SensorSimulation:
	default:
		return fmt.Errorf("sensor type %q not supported (real or simulation)", c.SensorType)
	}
	if c.IntervalMs <= 0 {
		return errors.New("interval-ms must be > 0")
	}
	if c.I2CAddress < minI2CAddress || c.I2CAddress > maxI2CAddress {
		return fmt.Errorf("i2c address %#x out of range (%#x-%#x)", c.I2CAddress, minI2CAddress, maxI2CAddress)
	}
	if len(c.Outputs) == 0 {
		return errors.New("no outputs configured")
	}
	for i, o := range c.Outputs {
		if err := o.validate(); err != nil {
			return fmt.Errorf("output %d (%s): %w", i, o.Type, err)
		}
	}
	return nil
}

func (o OutputConfig) validate() error {
	switch o.Profile {
	case "", "precise", "labelled", "labeled":
	default:
		return fmt.Errorf("unknown profile %q", o.Profile)
	}
	switch strings.ToLower(o.Type) {
	case OutputConsole:
		return nil
	case OutputMQTT:
		if o.MQTT == nil || o.MQTT.Server == "" {
			return errors.New("server is required")
		}
		return validKeepAlive(o.MQTT.KeepAliveS)
	case OutputAWSIoT:
		a := o.AWSIoT
		if a == nil || a.Endpoint == "" {
			return errors.New("endpoint is required")
		}
		if a.Cert == "" || a.Key == "" || a.RootCA == "" {
			return errors.New("cert, key and root CA are required")
		}
		return validKeepAlive(a.KeepAliveS)
	default:
		return fmt.Errorf("unknown output type %q", o.Type)
	}
}

// validKeepAlive bounds the keep-alive to the 16-bit field of CONNECT.
func validKeepAlive(s int) error {
	if s < 0 || s > maxKeepAliveS {
		return fmt.Errorf("keep alive %ds out of range (0-%d)", s, maxKeepAliveS)
	}
	return nil
}

// LoadFromFlags loads configuration from the process arguments.
func LoadFromFlags() (Config, error) {
	return Load(flag.CommandLine, os.Args[1:])
}

// Load builds the configuration from defaults, an optional JSON or YAML file,
// environment variables and flags, in increasing priority.
func Load(fs *flag.FlagSet, args []string) (Config, error) {
	cfgPath := fs.String("config", "", "Path to JSON or YAML config file")
	flagName := fs.String("name", "", "Sensor display name")
	flagParticle := fs.String("particle-sensor", "", "Particle sensor: PPD42|SDS011|off")
	flagSimulate := fs.Bool("simulate", false, "Bypass the hardware and publish canned readings")
	flagSensorType := fs.String("sensor-type", "", "sensor type: real|simulation")
	var flagDebug bool
	fs.BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	fs.BoolVar(&flagDebug, "d", false, "Enable debug logging (shorthand)")
	flagLogFormat := fs.String("log-format", "", "Log format: text|json")
	flagCycle := fs.Int("cycle-period", -1, "Sensor cycle period in seconds (3, 100, 300)")
	flagInterval := fs.Int("interval-ms", -1, "Sleep between cycles in ms")
	flagI2CBus := fs.String("i2c-bus", "", "I2C bus (e.g., '1' -> /dev/i2c-1)")
	flagI2CAddStr := fs.String("i2c-address", "", "I2C address (decimal or 0x hex)")
	flagReadyPin := fs.String("ready-pin", "", "GPIO connected to the READY line")
	flagSimDelay := fs.Int("simulation-delay-ms", -1, "Delay of each simulated read in ms")
	flagMetrics := fs.String("metrics-address", "", "Serve Prometheus metrics on this address")
	flagOutputs := fs.String("outputs", "", "Comma-separated outputs (console,mqtt,awsiot)")
	flagBroker := fs.String("broker", "", "MQTT broker host or host:port")
	flagMQTTUser := fs.String("mqtt-user", "", "MQTT username")
	flagMQTTPass := fs.String("mqtt-pass", "", "MQTT password")
	flagClientID := fs.String("client-id", "", "MQTT client id (default: sensor name)")
	flagEndpoint := fs.String("endpoint", "", "AWS IoT endpoint")
	flagCert := fs.String("cert", "", "Client certificate file")
	flagKey := fs.String("key", "", "Client private key file")
	flagRootCA := fs.String("root-ca", "", "Root CA file")
	flagRule := fs.String("rule-name", "", "AWS IoT rule receiving the readings")
	flagNoControl := fs.Bool("no-control-subscribe", false, "Do not subscribe to the control topic on broker outputs")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()

	if *cfgPath != "" {
		if err := loadFile(*cfgPath, &cfg); err != nil {
			return cfg, err
		}
	}

	if *flagOutputs != "" {
		// convert simple CSV of types into structured OutputConfig entries
		parts := parseCSV(*flagOutputs)
		outs := make([]OutputConfig, 0, len(parts))
		for _, p := range parts {
			outs = append(outs, OutputConfig{Type: strings.ToLower(p)})
		}
		cfg.Outputs = outs
	}

	applyEnvOverrides(&cfg)

	if *flagName != "" {
		cfg.SensorName = *flagName
	} else if fs.NArg() > 0 {
		cfg.SensorName = fs.Arg(0)
	}
	if *flagParticle != "" {
		cfg.ParticleSensor = *flagParticle
	}
	if *flagSensorType != "" {
		cfg.SensorType = *flagSensorType
	}
	if *flagSimulate {
		cfg.SensorType = SensorSimulation
	}
	if flagDebug {
		cfg.Debug = true
	}
	if *flagLogFormat != "" {
		cfg.LogFormat = *flagLogFormat
	}
	if *flagCycle != -1 {
		cfg.CyclePeriodS = *flagCycle
	}
	if *flagInterval != -1 {
		cfg.IntervalMs = *flagInterval
	}
	if *flagI2CBus != "" {
		cfg.I2CBus = *flagI2CBus
	}
	if *flagI2CAddStr != "" {
		v, err := parseIntOrHex(*flagI2CAddStr)
		if err != nil {
			return cfg, fmt.Errorf("i2c-address: %w", err)
		}
		cfg.I2CAddress = v
	}
	if *flagReadyPin != "" {
		cfg.ReadyPin = *flagReadyPin
	}
	if *flagSimDelay != -1 {
		cfg.SimulationDelayMs = *flagSimDelay
	}
	if *flagMetrics != "" {
		cfg.MetricsAddress = *flagMetrics
	}

	if *flagBroker != "" || *flagMQTTUser != "" || *flagMQTTPass != "" {
		for _, m := range cfg.mqttOutputs() {
			if *flagBroker != "" {
				m.Server = *flagBroker
			}
			if *flagMQTTUser != "" {
				m.Username = *flagMQTTUser
			}
			if *flagMQTTPass != "" {
				m.Password = *flagMQTTPass
			}
		}
	}
	if *flagEndpoint != "" || *flagCert != "" || *flagKey != "" || *flagRootCA != "" || *flagRule != "" {
		for _, a := range cfg.awsIoTOutputs() {
			if *flagEndpoint != "" {
				a.Endpoint = *flagEndpoint
			}
			if *flagCert != "" {
				a.Cert = *flagCert
			}
			if *flagKey != "" {
				a.Key = *flagKey
			}
			if *flagRootCA != "" {
				a.RootCA = *flagRootCA
			}
			if *flagRule != "" {
				a.RuleName = *flagRule
			}
		}
	}
	if *flagClientID != "" {
		for _, m := range cfg.existingMQTT() {
			m.ClientID = *flagClientID
		}
		for _, a := range cfg.existingAWSIoT() {
			a.ClientID = *flagClientID
		}
	}
	if *flagNoControl {
		for _, m := range cfg.existingMQTT() {
			m.SubscribeTopics = &[]string{}
		}
		for _, a := range cfg.existingAWSIoT() {
			a.SubscribeTopics = &[]string{}
		}
	}

	return cfg, nil
}

// loadFile decodes YAML for .yaml/.yml files and JSON otherwise.
func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, cfg)
	default:
		err = json.Unmarshal(b, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// applyEnvOverrides lets secrets and endpoints come from the environment.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("METRIFUL_SENSOR_NAME"); v != "" {
		cfg.SensorName = v
	}
	if v := os.Getenv("METRIFUL_MQTT_SERVER"); v != "" {
		for _, m := range cfg.mqttOutputs() {
			m.Server = v
		}
	}
	if v := os.Getenv("METRIFUL_MQTT_USERNAME"); v != "" {
		for _, m := range cfg.existingMQTT() {
			m.Username = v
		}
	}
	if v := os.Getenv("METRIFUL_MQTT_PASSWORD"); v != "" {
		for _, m := range cfg.existingMQTT() {
			m.Password = v
		}
	}
	if v := os.Getenv("METRIFUL_AWSIOT_ENDPOINT"); v != "" {
		for _, a := range cfg.awsIoTOutputs() {
			a.Endpoint = v
		}
	}
}

// existingMQTT returns the settings of every mqtt output.
func (c *Config) existingMQTT() []*MQTTConfig {
	var out []*MQTTConfig
	for i := range c.Outputs {
		if strings.EqualFold(c.Outputs[i].Type, OutputMQTT) {
			if c.Outputs[i].MQTT == nil {
				c.Outputs[i].MQTT = &MQTTConfig{}
			}
			out = append(out, c.Outputs[i].MQTT)
		}
	}
	return out
}

// mqttOutputs is existingMQTT, creating an mqtt output if there is none.
func (c *Config) mqttOutputs() []*MQTTConfig {
	if out := c.existingMQTT(); len(out) > 0 {
		return out
	}
	c.Outputs = append(c.Outputs, OutputConfig{Type: OutputMQTT, MQTT: &MQTTConfig{}})
	return c.existingMQTT()
}

func (c *Config) existingAWSIoT() []*AWSIoTConfig {
	var out []*AWSIoTConfig
	for i := range c.Outputs {
		if strings.EqualFold(c.Outputs[i].Type, OutputAWSIoT) {
			if c.Outputs[i].AWSIoT == nil {
				c.Outputs[i].AWSIoT = &AWSIoTConfig{}
			}
			out = append(out, c.Outputs[i].AWSIoT)
		}
	}
	return out
}

func (c *Config) awsIoTOutputs() []*AWSIoTConfig {
	if out := c.existingAWSIoT(); len(out) > 0 {
		return out
	}
	c.Outputs = append(c.Outputs, OutputConfig{Type: OutputAWSIoT, AWSIoT: &AWSIoTConfig{}})
	return c.existingAWSIoT()
}

func parseIntOrHex(s string) (int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 0)
		return int(v), err
	}
	v, err := strconv.Atoi(s)
	return v, err
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

package mqtt

import "fmt"

const (
	// TopicRoot is the base of every topic on a plain broker.
	TopicRoot = "metriful"

	// AWSRulesRoot is the AWS IoT basic ingest prefix. Messages published
	// below it go straight to the named rule without a broker round trip.
	AWSRulesRoot = "$aws/rules"

	// DefaultRuleName is the AWS IoT rule that stores readings.
	DefaultRuleName = "log_metriful"
)

// SensorTopic returns the plain broker topic for a sensor.
//
// Example: metriful/porch-1
func SensorTopic(sensorName string) string {
	return fmt.Sprintf("%s/%s", TopicRoot, sensorName)
}

// RuleTopic returns the rule-routed topic for a sensor.
//
// Example: $aws/rules/log_metriful/porch-1
func RuleTopic(ruleName, sensorName string) string {
	return fmt.Sprintf("%s/%s/%s", AWSRulesRoot, ruleName, sensorName)
}

// ControlTopic returns the topic a sensor listens on for inbound messages.
//
// Example: metriful/porch-1/control
func ControlTopic(sensorName string) string {
	return fmt.Sprintf("%s/%s/control", TopicRoot, sensorName)
}

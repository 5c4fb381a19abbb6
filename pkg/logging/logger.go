// Package logging builds the process logger.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02 15:04:05"

// New returns a logger writing to stderr. debug selects DebugLevel; format
// "json" selects the JSON formatter, anything else full-timestamp text.
func New(debug bool, format string) *logrus.Logger {
	return NewTo(os.Stderr, debug, format)
}

func NewTo(w io.Writer, debug bool, format string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)

	log.SetLevel(logrus.InfoLevel)
	if debug {
		log.SetLevel(logrus.DebugLevel)
	}

	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	}
	return log
}

// Component returns an entry tagged with the component name.
func Component(log *logrus.Logger, name string) *logrus.Entry {
	return log.WithField("component", name)
}

// Package clilog wires logrus and EVENTQ_* environment defaults into the
// eventq command line tools. Library packages never import it.
package clilog

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/velmie/eventq"
)

const envPrefix = "EVENTQ_"

// Logger adapts logrus to eventq.Logger. Key-value argument pairs become
// structured fields.
type Logger struct {
	logger *logrus.Logger
}

var _ eventq.Logger = Logger{}

// New builds a JSON logger at info level, or debug when verbose.
func New(verbose bool) Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(logrus.InfoLevel)
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	}

	return Logger{logger: l}
}

// Debug implements eventq.Logger.
func (l Logger) Debug(msg string, args ...any) {
	l.withFields(args).Debug(msg)
}

// Info implements eventq.Logger.
func (l Logger) Info(msg string, args ...any) {
	l.withFields(args).Info(msg)
}

// Warn implements eventq.Logger.
func (l Logger) Warn(msg string, args ...any) {
	l.withFields(args).Warn(msg)
}

// Error implements eventq.Logger.
func (l Logger) Error(msg string, args ...any) {
	l.withFields(args).Error(msg)
}

func (l Logger) withFields(args []any) *logrus.Entry {
	fields := logrus.Fields{}
	for i := 0; i < len(args); i += 2 {
		key := fmt.Sprintf("%v", args[i])
		val := any("<missing>")
		if i+1 < len(args) {
			val = args[i+1]
		}
		fields[key] = val
	}

	return l.logger.WithFields(fields)
}

// LoadEnv loads a .env file when one is present. A missing file is fine.
func LoadEnv() {
	_ = godotenv.Load()
}

// EnvString returns EVENTQ_<key>, or fallback when unset.
func EnvString(key, fallback string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}

	return fallback
}

// EnvDuration returns EVENTQ_<key> parsed as a duration, or fallback when
// unset or unparsable.
func EnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}

	return d
}

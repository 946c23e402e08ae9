// Package log configures logrus for gamesync.
package log

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// NewFormatter returns the text formatter used by the gamesync binary
func NewFormatter(noColors bool) logrus.Formatter {
	return &logrus.TextFormatter{
		DisableColors:    noColors,
		FullTimestamp:    true,
		TimestampFormat:  "2006-01-02 15:04:05.000",
		QuoteEmptyFields: true,
		PadLevelText:     true,
	}
}

// Setup parses level and configures logger with the gamesync formatter
func Setup(logger *logrus.Logger, level string, noColors bool) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(lvl)
	logger.SetFormatter(NewFormatter(noColors))
	logger.SetReportCaller(false)
	return nil
}

// OrDiscard returns l, or a logger that drops everything when l is nil
func OrDiscard(l logrus.FieldLogger) logrus.FieldLogger {
	if l != nil {
		return l
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	return discard
}

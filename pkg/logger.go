package pkg

import (
	"io"

	"github.com/osrg/gobgp/v3/pkg/log"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// NewLogger returns a text logger writing to out at the given level
func NewLogger(out io.Writer, level string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger, nil
}

// gobgpLogger routes gobgp server logs into a logrus logger
type gobgpLogger struct {
	logger *logrus.Logger
}

// NewGoBGPLogger adapts logger to the gobgp server logging interface
func NewGoBGPLogger(logger *logrus.Logger) log.Logger {
	return &gobgpLogger{logger: logger}
}

func (l *gobgpLogger) entry(fields log.Fields) *logrus.Entry {
	return l.logger.WithFields(logrus.Fields(fields)).WithField("component", "gobgp")
}

func (l *gobgpLogger) Panic(msg string, fields log.Fields) { l.entry(fields).Panic(msg) }
func (l *gobgpLogger) Fatal(msg string, fields log.Fields) { l.entry(fields).Fatal(msg) }
func (l *gobgpLogger) Error(msg string, fields log.Fields) { l.entry(fields).Error(msg) }
func (l *gobgpLogger) Warn(msg string, fields log.Fields)  { l.entry(fields).Warn(msg) }
func (l *gobgpLogger) Info(msg string, fields log.Fields)  { l.entry(fields).Info(msg) }
func (l *gobgpLogger) Debug(msg string, fields log.Fields) { l.entry(fields).Debug(msg) }

// logrus and gobgp number their levels the same way, panic through trace
func (l *gobgpLogger) SetLevel(level log.LogLevel) {
	l.logger.SetLevel(logrus.Level(level))
}

func (l *gobgpLogger) GetLevel() log.LogLevel {
	return log.LogLevel(l.logger.GetLevel())
}

package log

import (
	"io"

	"github.com/sirupsen/logrus"
)

// New builds the process logger: text output with millisecond timestamps.
// An unparsable level falls back to info and is reported through the returned logger.
func New(levelStr string, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	logger.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		logger.Warnf("Invalid log level '%s', using default 'info'. Error: %v", levelStr, err)
		return logger
	}
	logger.SetLevel(level)
	return logger
}

// BadgerLogrusAdapter implements badger.Logger using logrus.
// Badger's info chatter (compactions, value log replays) is demoted to debug so a build log
// only shows the ledger when something is wrong.
type BadgerLogrusAdapter struct {
	*logrus.Entry
}

// NewBadgerLogrusAdapter creates a new adapter
func NewBadgerLogrusAdapter(entry *logrus.Entry) *BadgerLogrusAdapter {
	return &BadgerLogrusAdapter{entry}
}

func (l *BadgerLogrusAdapter) Errorf(f string, v ...interface{})   { l.Entry.Errorf(f, v...) }
func (l *BadgerLogrusAdapter) Warningf(f string, v ...interface{}) { l.Entry.Warnf(f, v...) }
func (l *BadgerLogrusAdapter) Infof(f string, v ...interface{})    { l.Entry.Debugf(f, v...) }
func (l *BadgerLogrusAdapter) Debugf(f string, v ...interface{})   { l.Entry.Tracef(f, v...) }

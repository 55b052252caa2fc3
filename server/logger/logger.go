package logger

import (
	"io"
	"io/ioutil"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Logger interface is used to allow tests to inject custom loggers.
type Logger interface {
	Fatalf(string, ...interface{})
	Debugf(string, ...interface{})
	Errorf(string, ...interface{})
	Infof(string, ...interface{})
	Warnf(string, ...interface{})
	Debug(...interface{})
	Warn(...interface{})
	Info(...interface{})
	Fatal(...interface{})
	Writer() io.Writer
	SetWriter(io.Writer)
	Prefix(string)
	Silent(bool)
}

type logger struct {
	*log.Logger
	formatter *prefixFormatter

	mu      sync.Mutex
	saved   io.Writer
	silence bool
}

// NewLogger returns a new Logger instance backed by Logrus. Output goes to
// stderr because stdout carries the protocol stream.
func NewLogger(level uint32) Logger {
	l := log.New()
	l.SetLevel(log.Level(level))
	l.Out = os.Stderr
	formatter := &prefixFormatter{
		Formatter: &log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		},
	}
	l.Formatter = formatter
	return &logger{Logger: l, formatter: formatter}
}

func (l *logger) Writer() io.Writer {
	return l.Out
}

func (l *logger) SetWriter(writer io.Writer) {
	l.Out = writer
}

// Prefix sets a string prepended to every log message. An empty string
// clears it.
func (l *logger) Prefix(prefix string) {
	l.formatter.setPrefix(prefix)
}

// Silent discards all output while enabled. Disabling restores the writer
// that was active when silence was enabled. Disabling without a prior enable
// panics.
func (l *logger) Silent(enable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if enable {
		if l.silence {
			return
		}
		l.saved = l.Out
		l.Out = ioutil.Discard
		l.silence = true
		return
	}
	if !l.silence {
		panic("logger: Silent(false) called without Silent(true)")
	}
	l.Out = l.saved
	l.saved = nil
	l.silence = false
}

type prefixFormatter struct {
	log.Formatter

	mu     sync.RWMutex
	prefix string
}

func (f *prefixFormatter) setPrefix(prefix string) {
	f.mu.Lock()
	f.prefix = prefix
	f.mu.Unlock()
}

func (f *prefixFormatter) Format(entry *log.Entry) ([]byte, error) {
	f.mu.RLock()
	prefix := f.prefix
	f.mu.RUnlock()
	if prefix != "" {
		entry.Message = prefix + entry.Message
	}
	return f.Formatter.Format(entry)
}

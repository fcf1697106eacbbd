// Package runlog implements a logr.Logger that appends timestamped records
// to the host's run log while forwarding every record to another logger.
package runlog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/twpayne/go-vfs"
)

const timeFormat = "2006-01-02T15:04:05Z07:00"

// Sink is an append-only destination for log records shared by all loggers derived from it
type Sink struct {
	mu sync.Mutex
	w  io.Writer
	c  io.Closer

	// Verbosity is the highest V level written to the sink
	Verbosity int

	Now func() time.Time
}

func NewSink(w io.Writer) *Sink {
	return &Sink{w: w, Verbosity: 1, Now: time.Now}
}

// Open opens path for appending, creating it when missing
func Open(fs vfs.FS, path string) (*Sink, error) {
	f, err := fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening run log %s: %w", path, err)
	}
	s := NewSink(f)
	s.c = f
	return s, nil
}

func (s *Sink) Close() error {
	if s.c == nil {
		return nil
	}
	return s.c.Close()
}

func (s *Sink) write(severity, name, msg string, kvs []interface{}) {
	var buf bytes.Buffer

	buf.WriteString("[")
	buf.WriteString(s.Now().Format(timeFormat))
	buf.WriteString("] ")
	buf.WriteString(severity)
	buf.WriteString(" ")
	if name != "" {
		buf.WriteString(name)
		buf.WriteString(": ")
	}
	buf.WriteString(msg)

	for i := 0; i < len(kvs); i += 2 {
		buf.WriteString(" ")
		buf.WriteString(fmt.Sprint(kvs[i]))
		buf.WriteString("=")
		if i+1 < len(kvs) {
			buf.WriteString(formatValue(kvs[i+1]))
		} else {
			buf.WriteString("<missing>")
		}
	}

	buf.WriteString("\n")

	s.mu.Lock()
	defer s.mu.Unlock()

	// The run log is best-effort; a failed write must not abort the run
	_, _ = s.w.Write(buf.Bytes())
}

func formatValue(v interface{}) string {
	var s string
	switch typed := v.(type) {
	case string:
		s = typed
	case error:
		s = typed.Error()
	case fmt.Stringer:
		s = typed.String()
	default:
		s = fmt.Sprintf("%+v", typed)
	}
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

// New returns a logger writing to sink and forwarding to next
func New(sink *Sink, next logr.Logger) logr.Logger {
	return &logger{sink: sink, next: next}
}

type logger struct {
	sink   *Sink
	next   logr.Logger
	name   string
	values []interface{}
}

var _ logr.Logger = &logger{}

func (l *logger) Info(msg string, keysAndValues ...interface{}) {
	l.sink.write("INFO", l.name, msg, l.merge(keysAndValues))
	if l.next != nil {
		l.next.Info(msg, keysAndValues...)
	}
}

func (l *logger) Enabled() bool {
	return true
}

func (l *logger) Error(err error, msg string, keysAndValues ...interface{}) {
	kvs := l.merge(keysAndValues)
	kvs = append(kvs, "error", err)
	l.sink.write("ERROR", l.name, msg, kvs)
	if l.next != nil {
		l.next.Error(err, msg, keysAndValues...)
	}
}

func (l *logger) V(level int) logr.InfoLogger {
	if level <= 0 {
		return l
	}
	v := &verboseLogger{parent: l, level: level}
	if l.next != nil {
		v.next = l.next.V(level)
	}
	return v
}

func (l *logger) WithValues(keysAndValues ...interface{}) logr.Logger {
	c := *l
	c.values = l.merge(keysAndValues)
	if l.next != nil {
		c.next = l.next.WithValues(keysAndValues...)
	}
	return &c
}

func (l *logger) WithName(name string) logr.Logger {
	c := *l
	if l.name == "" {
		c.name = name
	} else {
		c.name = l.name + "." + name
	}
	if l.next != nil {
		c.next = l.next.WithName(name)
	}
	return &c
}

func (l *logger) merge(keysAndValues []interface{}) []interface{} {
	kvs := make([]interface{}, 0, len(l.values)+len(keysAndValues))
	kvs = append(kvs, l.values...)
	return append(kvs, keysAndValues...)
}

type verboseLogger struct {
	parent *logger
	next   logr.InfoLogger
	level  int
}

func (v *verboseLogger) Info(msg string, keysAndValues ...interface{}) {
	if v.level <= v.parent.sink.Verbosity {
		v.parent.sink.write(fmt.Sprintf("V%d", v.level), v.parent.name, msg, v.parent.merge(keysAndValues))
	}
	if v.next != nil {
		v.next.Info(msg, keysAndValues...)
	}
}

func (v *verboseLogger) Enabled() bool {
	return v.level <= v.parent.sink.Verbosity || (v.next != nil && v.next.Enabled())
}

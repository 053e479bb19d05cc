package logging

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TimeLayout is the timestamp format of rendered log lines.
const TimeLayout = "2006-01-02 15:04:05"

// Entry is one execution log record.
type Entry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
	// Detail entries are only surfaced in verbose mode.
	Detail bool `json:"detail,omitempty"`
}

// String renders the entry as "[2006-01-02 15:04:05] message".
func (e Entry) String() string {
	return "[" + e.Time.Format(TimeLayout) + "] " + e.Message
}

// ExecLog is an append-only, ordered execution log. It is safe for use by
// one invocation at a time; the mutex only guards readers on other
// goroutines (HTTP handlers rendering a finished run).
type ExecLog struct {
	mu      sync.Mutex
	entries []Entry
	verbose bool
	out     io.Writer
	zl      *zap.Logger
	now     func() time.Time
}

// Option configures an ExecLog.
type Option func(*ExecLog)

// WithWriter streams visible entries to w as they are appended.
func WithWriter(w io.Writer) Option {
	return func(l *ExecLog) { l.out = w }
}

// WithZap mirrors every entry to a zap logger.
func WithZap(zl *zap.Logger) Option {
	return func(l *ExecLog) { l.zl = zl }
}

// WithClock overrides the entry timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *ExecLog) { l.now = now }
}

// NewExecLog creates an execution log. Verbose controls whether detail
// entries are streamed and rendered.
func NewExecLog(verbose bool, opts ...Option) *ExecLog {
	l := &ExecLog{verbose: verbose, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Verbose reports whether detail entries are visible.
func (l *ExecLog) Verbose() bool {
	if l == nil {
		return false
	}
	return l.verbose
}

// Infof appends a regular entry.
func (l *ExecLog) Infof(format string, args ...interface{}) {
	l.add(false, fmt.Sprintf(format, args...))
}

// Detailf appends a detail entry.
func (l *ExecLog) Detailf(format string, args ...interface{}) {
	l.add(true, fmt.Sprintf(format, args...))
}

func (l *ExecLog) add(detail bool, msg string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	e := Entry{Time: l.now(), Message: msg, Detail: detail}
	l.entries = append(l.entries, e)
	out := l.out
	visible := l.verbose || !detail
	l.mu.Unlock()

	if l.zl != nil {
		if detail {
			l.zl.Debug(msg)
		} else {
			l.zl.Info(msg)
		}
	}
	if out != nil && visible {
		fmt.Fprintln(out, e.String())
	}
}

// Entries returns a copy of every entry, detail included.
func (l *ExecLog) Entries() []Entry {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Lines renders the visible entries.
func (l *ExecLog) Lines() []string {
	var lines []string
	for _, e := range l.Entries() {
		if e.Detail && !l.verbose {
			continue
		}
		lines = append(lines, e.String())
	}
	return lines
}

// Messages returns the raw messages of every entry, detail included.
func (l *ExecLog) Messages() []string {
	entries := l.Entries()
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message)
	}
	return out
}

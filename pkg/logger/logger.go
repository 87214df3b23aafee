package logger

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// DefaultMaxEntries is the history length used when New is given a size <= 0.
const DefaultMaxEntries = 256

// Entry represents a single line in the log.
type Entry struct {
	Timestamp time.Time
	Tag       string
	Detail    string
	Repeated  int
}

func (e Entry) String() string {
	s := strings.Builder{}
	s.WriteString(fmt.Sprintf("%s: %s", e.Tag, e.Detail))
	if e.Repeated > 0 {
		s.WriteString(fmt.Sprintf(" (repeat x%d)", e.Repeated+1))
	}
	s.WriteString("\n")
	return s.String()
}

// Logger keeps a bounded history of tagged entries. Consecutive identical
// entries are collapsed into one entry with a repeat count.
//
// Every device owns its own Logger so that several emulated boards can run in
// one process without their traces mixing.
type Logger struct {
	mu         sync.Mutex
	maxEntries int
	entries    []Entry
	echo       io.Writer
}

// New creates a Logger holding at most maxEntries entries.
func New(maxEntries int) *Logger {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Logger{
		maxEntries: maxEntries,
		entries:    make([]Entry, 0, 16),
	}
}

// Log adds an entry.
func (l *Logger) Log(tag, detail string) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tag = strings.ReplaceAll(tag, "\n", "")
	detail = strings.ReplaceAll(detail, "\n", "")

	var e *Entry
	if n := len(l.entries); n > 0 && l.entries[n-1].Tag == tag && l.entries[n-1].Detail == detail {
		e = &l.entries[n-1]
		e.Repeated++
		e.Timestamp = time.Now()
	} else {
		l.entries = append(l.entries, Entry{Timestamp: time.Now(), Tag: tag, Detail: detail})
		e = &l.entries[len(l.entries)-1]
	}

	if l.echo != nil {
		io.WriteString(l.echo, Entry{Tag: tag, Detail: detail}.String())
	}

	if len(l.entries) > l.maxEntries {
		l.entries = append(l.entries[:0], l.entries[len(l.entries)-l.maxEntries:]...)
	}
}

// Logf adds a formatted entry.
func (l *Logger) Logf(tag, format string, args ...interface{}) {
	l.Log(tag, fmt.Sprintf(format, args...))
}

// SetEcho prints every new entry to output as it is logged. A nil writer
// turns echo off.
func (l *Logger) SetEcho(output io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.echo = output
}

// Entries returns a copy of the current history.
func (l *Logger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := make([]Entry, len(l.entries))
	copy(c, l.entries)
	return c
}

// Write writes the whole history to output.
func (l *Logger) Write(output io.Writer) {
	for _, e := range l.Entries() {
		io.WriteString(output, e.String())
	}
}

// Tail writes the last number entries to output.
func (l *Logger) Tail(output io.Writer, number int) {
	entries := l.Entries()
	if number > len(entries) {
		number = len(entries)
	}
	if number < 0 {
		number = 0
	}
	for _, e := range entries[len(entries)-number:] {
		io.WriteString(output, e.String())
	}
}

// String returns the whole history as text.
func (l *Logger) String() string {
	s := strings.Builder{}
	l.Write(&s)
	return s.String()
}

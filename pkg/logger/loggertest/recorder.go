// Package loggertest provides a logger that records entries for assertions.
package loggertest

import (
	"sync"

	"github.com/arhansuba/zr-don-pay/pkg/logger"
)

type Entry struct {
	Level   string
	Message string
	Fields  map[string]interface{}
}

// Recorder is a logger.Logger that keeps every entry in memory.
type Recorder struct {
	mu      *sync.Mutex
	entries *[]Entry
	fields  map[string]interface{}
}

func New() *Recorder {
	return &Recorder{mu: &sync.Mutex{}, entries: &[]Entry{}}
}

func (r *Recorder) record(level, message string, fields map[string]interface{}) {
	merged := make(map[string]interface{}, len(r.fields)+len(fields))
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	r.mu.Lock()
	*r.entries = append(*r.entries, Entry{Level: level, Message: message, Fields: merged})
	r.mu.Unlock()
}

func (r *Recorder) Info(message string, fields map[string]interface{}) {
	r.record("info", message, fields)
}

func (r *Recorder) Error(message string, fields map[string]interface{}) {
	r.record("error", message, fields)
}

func (r *Recorder) Warn(message string, fields map[string]interface{}) {
	r.record("warn", message, fields)
}

func (r *Recorder) Debug(message string, fields map[string]interface{}) {
	r.record("debug", message, fields)
}

func (r *Recorder) Fatal(message string, fields map[string]interface{}) {
	r.record("fatal", message, fields)
}

// With shares the entry list with the parent.
func (r *Recorder) With(fields map[string]interface{}) logger.Logger {
	merged := make(map[string]interface{}, len(r.fields)+len(fields))
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Recorder{mu: r.mu, entries: r.entries, fields: merged}
}

func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(*r.entries))
	copy(out, *r.entries)
	return out
}

// Messages returns the entries logged with message.
func (r *Recorder) Messages(message string) []Entry {
	var out []Entry
	for _, e := range r.Entries() {
		if e.Message == message {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many entries were logged with message.
func (r *Recorder) Count(message string) int {
	return len(r.Messages(message))
}

var _ logger.Logger = (*Recorder)(nil)

// Package accesslog appends one JSON line per API call to a file.
package accesslog

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

type AccessEntry struct {
	Time       time.Time `json:"time"`
	RequestID  string    `json:"request_id,omitempty"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Action     string    `json:"action,omitempty"`
	Account    string    `json:"account,omitempty"`
	Region     string    `json:"region,omitempty"`
	Status     int       `json:"status"`
	Bytes      int64     `json:"bytes"`
	DurationMS float64   `json:"duration_ms"`
	ClientIP   string    `json:"client_ip"`
}

type AccessLogger struct {
	w   io.WriteCloser
	enc *json.Encoder
	mu  sync.Mutex
}

func NewAccessLogger(path string) (*AccessLogger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return newLogger(f), nil
}

func newLogger(w io.WriteCloser) *AccessLogger {
	return &AccessLogger{w: w, enc: json.NewEncoder(w)}
}

func (l *AccessLogger) Log(entry AccessEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enc.Encode(entry)
}

func (l *AccessLogger) Close() error {
	return l.w.Close()
}

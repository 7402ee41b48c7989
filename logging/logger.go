// Package logging implements the proxy's append-only event log: one line
// per lifecycle event, serialized and timestamped, mirrored to a zerolog
// logger and optionally recorded to a sqlite event store.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relay-cache/relay-cache/cache"
)

// Logger writes proxy lifecycle events. All methods are safe for
// concurrent use; entries within one request ID keep their order.
type Logger struct {
	mu    sync.Mutex
	out   io.Writer
	log   zerolog.Logger
	store *SQLiteStore
}

// New creates a Logger appending to the named file. An empty filename
// logs to stderr only.
func New(filename string) (*Logger, error) {
	l := &Logger{
		out: io.Discard,
		log: log.With().Str("component", "events").Logger(),
	}
	if filename != "" {
		f, err := os.OpenFile(filename, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return nil, fmt.Errorf("cannot open log file: %w", err)
		}
		l.out = f
	}
	return l, nil
}

// WithStore attaches a sqlite event store; every event is recorded there
// in addition to the log file.
func (l *Logger) WithStore(store *SQLiteStore) *Logger {
	l.store = store
	return l
}

// Close releases the underlying file and store.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.out.(io.Closer); ok {
		c.Close()
	}
	if l.store != nil {
		l.store.Close()
	}
}

// write emits one event line, serialized under the logger mutex.
func (l *Logger) write(id int64, kind, line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "[%s] %d: %s\n", time.Now().UTC().Format(time.RFC3339), id, line)
	l.log.Debug().Int64("id", id).Str("event", kind).Msg(line)
	if l.store != nil {
		if err := l.store.Record(id, kind, line); err != nil {
			l.log.Error().Err(err).Msg("Could not record event")
		}
	}
}

// NewRequest records the arrival of a parsed client request.
func (l *Logger) NewRequest(id int64, requestLine, ipFrom string) {
	l.write(id, "new_request", fmt.Sprintf("%q from %s", requestLine, ipFrom))
}

// Requesting records that the proxy is about to contact the origin.
func (l *Logger) Requesting(id int64, requestLine, originHost string) {
	l.write(id, "requesting", fmt.Sprintf("Requesting %q from %s", requestLine, originHost))
}

// Received records a parsed origin reply.
func (l *Logger) Received(id int64, statusLine, originHost string) {
	l.write(id, "received", fmt.Sprintf("Received %q from %s", statusLine, originHost))
}

// CacheRequest records the result of the cache lookup for a client request.
func (l *Logger) CacheRequest(id int64, status cache.Status, detail string) {
	switch status {
	case cache.NotInCache:
		l.write(id, "cache_request", "not in cache")
	case cache.Expired:
		l.write(id, "cache_request", "in cache, but expired at "+detail)
	case cache.RequiresValidation:
		l.write(id, "cache_request", "in cache, requires validation")
	case cache.Valid:
		l.write(id, "cache_request", "in cache, valid")
	}
}

// CacheResponse records the admission decision for a received response.
func (l *Logger) CacheResponse(id int64, status cache.Status, detail string) {
	switch status {
	case cache.NotCacheable:
		l.write(id, "cache_response", "not cacheable because "+detail)
	case cache.WillExpire:
		l.write(id, "cache_response", "cached, expires at "+detail)
	case cache.Revalidation:
		l.write(id, "cache_response", "cached, but requires re-validation")
	}
}

// Responding records the reply sent to the client.
func (l *Logger) Responding(id int64, statusLine string) {
	l.write(id, "responding", fmt.Sprintf("Responding %q", statusLine))
}

// TunnelClosed records the termination of a CONNECT tunnel.
func (l *Logger) TunnelClosed(id int64) {
	l.write(id, "tunnel_closed", "Tunnel closed")
}

// Error records a diagnostic for a request; id is -1 outside any request.
func (l *Logger) Error(id int64, message string) {
	l.write(id, "error", "ERROR "+message)
}

// Note records a free-form note for a request; id is -1 outside any request.
func (l *Logger) Note(id int64, message string) {
	l.write(id, "note", "NOTE "+message)
}

package relaycache

import "github.com/relay-cache/relay-cache/cache"

// EventLog is the sink for per-request lifecycle events. Implementations
// must be safe for concurrent use and must preserve ordering within one
// request ID. The id is -1 for events outside any request.
type EventLog interface {
	NewRequest(id int64, requestLine, ipFrom string)
	Requesting(id int64, requestLine, originHost string)
	Received(id int64, statusLine, originHost string)
	CacheRequest(id int64, status cache.Status, detail string)
	CacheResponse(id int64, status cache.Status, detail string)
	Responding(id int64, statusLine string)
	TunnelClosed(id int64)
	Error(id int64, message string)
	Note(id int64, message string)
}

// nopEventLog discards all events. Used when no sink is configured.
type nopEventLog struct{}

func (nopEventLog) NewRequest(int64, string, string)              {}
func (nopEventLog) Requesting(int64, string, string)              {}
func (nopEventLog) Received(int64, string, string)                {}
func (nopEventLog) CacheRequest(int64, cache.Status, string)      {}
func (nopEventLog) CacheResponse(int64, cache.Status, string)     {}
func (nopEventLog) Responding(int64, string)                      {}
func (nopEventLog) TunnelClosed(int64)                            {}
func (nopEventLog) Error(int64, string)                           {}
func (nopEventLog) Note(int64, string)                            {}

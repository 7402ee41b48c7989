// Package relaycache implements an HTTP/1.1 caching forward proxy: a
// per-connection request engine over a shared in-memory response cache
// with RFC-7234-style freshness and validation semantics.
package relaycache

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relay-cache/relay-cache/cache"
)

const (
	// acceptPoll is how often the accept loop re-checks the running flag.
	acceptPoll = time.Second

	// clientAcceptTimeout is the receive deadline applied right after accept.
	clientAcceptTimeout = 30 * time.Second

	// recvTimeout bounds normal in-message receives.
	recvTimeout = 10 * time.Second

	// initialReplyTimeout bounds the read of the initial origin reply.
	initialReplyTimeout = 10 * time.Second

	// tunnelIdleTimeout closes a CONNECT tunnel after this much inactivity.
	tunnelIdleTimeout = 10*time.Second + 500*time.Millisecond

	// longResponseThreshold is the content length above which a response is
	// drained to EOF before re-emission.
	longResponseThreshold = 65536
)

// Config carries the proxy configuration.
type Config struct {
	// Port to listen on.
	Port int
	// MaxEntries bounds the cache; zero selects the default.
	MaxEntries int
	// CleanupInterval for the cache expiry sweep; zero selects the default.
	CleanupInterval time.Duration
	// Events receives lifecycle events. Discarded if nil.
	Events EventLog
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Proxy is a caching forward proxy. Create it with CreateProxy, start it
// with Run, and stop it with Stop.
type Proxy struct {
	ln        net.Listener
	cache     *cache.Store
	events    EventLog
	log       zerolog.Logger
	requestID atomic.Int64
	running   atomic.Bool
	workers   sync.WaitGroup
}

// CreateProxy binds the listening socket and sets up the proxy instance.
// Bind and listen failures are fatal and returned to the caller.
func CreateProxy(config Config) (*Proxy, error) {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	logger = logger.With().Int("port", config.Port).Logger()

	events := config.Events
	if events == nil {
		events = nopEventLog{}
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", config.Port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", config.Port, err)
	}

	p := &Proxy{
		ln:     ln,
		cache:  cache.NewStore(config.MaxEntries, config.CleanupInterval, events),
		events: events,
		log:    logger,
	}
	events.Note(-1, fmt.Sprintf("Proxy started on port %d", config.Port))
	return p, nil
}

// Cache exposes the underlying store, e.g. for the admin surface.
func (p *Proxy) Cache() *cache.Store {
	return p.cache
}

// Addr returns the address the proxy is listening on.
func (p *Proxy) Addr() net.Addr {
	return p.ln.Addr()
}

// Run accepts client connections until Stop is called, dispatching each to
// its own worker goroutine. The accept loop wakes at least once per second
// to observe the shutdown flag.
func (p *Proxy) Run() {
	if p.running.CompareAndSwap(false, true) {
		p.events.Note(-1, "Proxy started and waiting for connections")
	}

	for p.running.Load() {
		if tl, ok := p.ln.(*net.TCPListener); ok {
			tl.SetDeadline(time.Now().Add(acceptPoll))
		}
		conn, err := p.ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if p.running.Load() {
				p.events.Error(-1, "Failed to accept connection")
				p.log.Error().Err(err).Msg("Accept failed")
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(clientAcceptTimeout))
		p.workers.Add(1)
		go func() {
			defer p.workers.Done()
			defer conn.Close()
			p.handleConn(conn)
		}()
	}
}

// Stop initiates graceful shutdown: no new connections are accepted, and
// Stop returns once every in-flight worker has finished.
func (p *Proxy) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	p.ln.Close()
	p.workers.Wait()
	p.events.Note(-1, "Proxy stopped")
	p.log.Info().Msg("All workers finished, proxy stopped")
}

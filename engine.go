package relaycache

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/relay-cache/relay-cache/cache"
	"github.com/relay-cache/relay-cache/httpmsg"
	"github.com/relay-cache/relay-cache/pkg/sockio"
)

// handleConn runs the per-connection state machine: read the client
// request, parse it, and dispatch on the method. Exactly one request is
// served per connection; CONNECT turns the connection into a tunnel.
func (p *Proxy) handleConn(client net.Conn) {
	raw, err := sockio.RecvUntilQuiet(client, recvTimeout)
	if err != nil {
		p.events.Error(-1, "Failed to read client request: "+err.Error())
		return
	}
	if len(raw) == 0 {
		p.events.Error(-1, "Empty request received")
		return
	}

	req, err := httpmsg.ParseRequest(raw)
	if err != nil {
		p.events.Error(-1, "Fail to parse request")
		p.sendError(client, -1, 400, "Bad Request")
		return
	}

	id := p.requestID.Add(1) - 1
	p.events.NewRequest(id, req.RequestLine, clientIP(client))
	requestsTotal.WithLabelValues(req.Method).Inc()

	switch req.Method {
	case "GET":
		p.processGet(client, req, id)
	case "POST":
		p.processPost(client, req, id)
	case "CONNECT":
		p.processConnect(client, req, id)
	default:
		p.events.Error(id, "Method "+req.Method+" not found")
		p.sendError(client, id, 501, "Not Implemented")
	}
}

// processGet serves a GET: consult the cache, revalidate a stored response
// when required, and otherwise fetch from the origin and run cache
// admission on the reply.
func (p *Proxy) processGet(client net.Conn, req *httpmsg.Request, id int64) {
	fullURL := req.Host + req.URL

	status, cached := p.cache.Get(fullURL)
	if cached != nil {
		p.events.CacheRequest(id, status, cached.ExpireTime)
	} else {
		p.events.CacheRequest(id, status, "")
	}

	if status == cache.Valid {
		client.Write(cached.Emit())
		p.events.Responding(id, cached.StatusLine())
		return
	}

	if status == cache.RequiresValidation || status == cache.Expired {
		if p.revalidate(client, req, cached, id) {
			return
		}
	}

	p.fetchAndRespond(client, req, fullURL, id)
}

// revalidate sends a conditional GET built from the stored response's
// validators. It returns true when the client has been answered: from the
// cache when the origin replied 304, or with a 502 when the origin could not
// be reached. A stored response with no validators, or a failure after the
// origin connection is open, falls through to a full fetch.
func (p *Proxy) revalidate(client net.Conn, req *httpmsg.Request, cached *httpmsg.Response, id int64) bool {
	if cached == nil {
		return false
	}
	etag := cached.ETag()
	lastModified := cached.LastModified()
	if etag == "" && lastModified == "" {
		p.events.Note(id, "Validation not possible - no validator headers")
		return false
	}

	origin, err := sockio.Dial(req.Host, originPort(req, "80"), recvTimeout)
	if err != nil {
		p.events.Error(id, "Failed to connect to server for validation")
		p.sendError(client, id, 502, "Bad Gateway")
		return true
	}
	defer origin.Close()

	if etag != "" {
		p.events.Note(id, "Using ETag for validation: "+etag)
	}
	if lastModified != "" {
		p.events.Note(id, "Using Last-Modified for validation: "+lastModified)
	}

	validation := req.WithValidators(etag, lastModified)
	p.events.Requesting(id, validation.RequestLine, req.Host)
	if _, err := origin.Write(validation.Emit()); err != nil {
		p.events.Error(id, "Error sending validation request")
		return false
	}

	raw, err := sockio.RecvUntilQuiet(origin, recvTimeout)
	if err != nil || len(raw) == 0 {
		p.events.Error(id, "Empty validation response from server")
		return false
	}

	reply, err := httpmsg.ParseResponse(raw)
	if err != nil {
		p.events.Error(id, "Failed to parse validation response")
		return false
	}
	p.events.Received(id, reply.StatusLine(), req.Host)

	if reply.StatusCode == 304 {
		p.events.Note(id, "Validation successful - using cached copy")
		revalidations.WithLabelValues("not_modified").Inc()
		client.Write(cached.Emit())
		p.events.Responding(id, cached.StatusLine())
		return true
	}

	// Content changed; the validation reply is discarded and the engine
	// re-fetches the full response.
	p.events.Note(id, "Content changed - using new response")
	revalidations.WithLabelValues("changed").Inc()
	return false
}

// fetchAndRespond performs the full origin fetch for GET: forward the
// re-emitted request, apply the body framing rules, relay to the client,
// and hand 200 replies to cache admission.
func (p *Proxy) fetchAndRespond(client net.Conn, req *httpmsg.Request, fullURL string, id int64) {
	p.events.Requesting(id, req.RequestLine, req.Host)

	origin, err := sockio.Dial(req.Host, originPort(req, "80"), recvTimeout)
	if err != nil {
		p.events.Error(id, "Failed to connect to "+req.Host)
		p.sendError(client, id, 502, "Bad Gateway")
		return
	}
	defer origin.Close()

	if _, err := origin.Write(req.Emit()); err != nil {
		p.events.Error(id, "Error sending request to server")
		p.sendError(client, id, 502, "Bad Gateway")
		return
	}

	initial, err := sockio.RecvUntilQuiet(origin, initialReplyTimeout)
	if err != nil || len(initial) == 0 {
		p.events.Error(id, "Empty response from server")
		p.sendError(client, id, 502, "Bad Gateway")
		return
	}

	res, err := httpmsg.ParseResponse(initial)
	if err != nil {
		p.events.Error(id, "Failed to parse server response")
		p.sendError(client, id, 502, "Bad Gateway")
		return
	}

	if err := p.relayBody(client, origin, res, initial, id); err != nil {
		p.events.Error(id, "Failed to process server response: "+err.Error())
		p.sendError(client, id, 502, "Bad Gateway")
		return
	}

	p.events.Received(id, res.StatusLine(), req.Host)
	if etag := res.ETag(); etag != "" {
		p.events.Note(id, "ETag: "+etag)
	}
	if cc := res.CacheControl(); cc != "" {
		p.events.Note(id, "Cache-Control: "+cc)
	}

	if res.StatusCode == 200 {
		p.handleCaching(res, fullURL, id)
	} else {
		p.events.Responding(id, res.StatusLine())
	}
}

// relayBody applies the body framing rules to the parsed initial reply:
// chunked responses are streamed through verbatim, long responses are
// drained to EOF first, short length-bounded responses are completed with
// a quiet-period read.
func (p *Proxy) relayBody(client, origin net.Conn, res *httpmsg.Response, initial []byte, id int64) error {
	switch {
	case res.IsChunked:
		p.events.Note(id, "Detected chunked encoding")
		if _, err := client.Write(initial); err != nil {
			return err
		}
		data, err := p.relayChunks(origin, client)
		if err != nil {
			return err
		}
		res.AddChunked(data)
		return nil

	case res.ContentLength > longResponseThreshold:
		p.events.Note(id, fmt.Sprintf("Detected large content: %d bytes", res.ContentLength))
		data, err := sockio.RecvAll(origin)
		if err != nil {
			return err
		}
		res.AddBody(data)
		_, err = client.Write(res.Emit())
		return err

	case res.ContentLength > 0 && len(res.Body) < res.ContentLength:
		data, err := sockio.RecvUntilQuiet(origin, recvTimeout)
		if err != nil {
			return err
		}
		res.AddBody(data)
		_, err = client.Write(res.Emit())
		return err

	default:
		_, err := client.Write(res.Emit())
		return err
	}
}

// relayChunks streams a chunked body from origin to client segment by
// segment, so the client sees true streaming. The stream ends when the
// terminating 0-length chunk has passed through, or when either side
// closes.
func (p *Proxy) relayChunks(origin, client net.Conn) ([]byte, error) {
	var data []byte
	buf := make([]byte, sockio.BufferSize)
	for {
		origin.SetReadDeadline(time.Now().Add(recvTimeout))
		n, err := origin.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
			if _, werr := client.Write(buf[:n]); werr != nil {
				return data, werr
			}
			if len(data) >= 5 && bytes.HasSuffix(data, []byte("0\r\n\r\n")) {
				return data, nil
			}
		}
		if err != nil {
			return data, nil
		}
	}
}

// handleCaching decides cache admission for a 200 reply. Non-cacheable
// responses are logged with the specific reason and dropped; admitted
// responses are logged with their expiration, or with a revalidation note
// when the expiration is empty but the response allows conditional reuse.
func (p *Proxy) handleCaching(res *httpmsg.Response, url string, id int64) {
	if !res.IsCacheable(false) {
		var reason string
		switch {
		case res.StatusCode != 200:
			reason = "status code is not 200 OK"
		case res.NoStore:
			reason = "no-store directive"
		case res.CacheMode == httpmsg.ModeNoStore:
			reason = "cache-control: no-store"
		default:
			reason = "unknown"
		}
		p.events.CacheResponse(id, cache.NotCacheable, reason)
		return
	}

	if res.ExpireTime != "" {
		p.events.CacheResponse(id, cache.WillExpire, res.ExpireTime)
	} else if res.NoCache || res.MustRevalidate {
		p.events.CacheResponse(id, cache.Revalidation, "")
	}

	p.cache.Put(url, res)
}

// processPost forwards the client request verbatim, applies the body
// framing rules to the reply, and relays it. POST responses are never
// cached.
func (p *Proxy) processPost(client net.Conn, req *httpmsg.Request, id int64) {
	p.events.Requesting(id, req.RequestLine, req.Host)

	origin, err := sockio.Dial(req.Host, originPort(req, "80"), recvTimeout)
	if err != nil {
		p.events.Error(id, "Failed to connect to "+req.Host)
		p.sendError(client, id, 502, "Bad Gateway")
		return
	}
	defer origin.Close()

	if _, err := origin.Write(req.Raw); err != nil {
		p.events.Error(id, "Error sending request to server")
		p.sendError(client, id, 502, "Bad Gateway")
		return
	}

	initial, err := sockio.RecvUntilQuiet(origin, initialReplyTimeout)
	if err != nil || len(initial) == 0 {
		p.events.Error(id, "Empty response from server")
		p.sendError(client, id, 502, "Bad Gateway")
		return
	}

	res, err := httpmsg.ParseResponse(initial)
	if err != nil {
		p.events.Error(id, "Failed to parse server response")
		p.sendError(client, id, 502, "Bad Gateway")
		return
	}

	switch {
	case res.IsChunked:
		p.events.Note(id, "Detected chunked encoding")
		if _, err := client.Write(initial); err != nil {
			return
		}
		if _, err := p.relayChunks(origin, client); err != nil {
			return
		}

	case res.ContentLength > 0 && len(res.Body) < res.ContentLength:
		p.events.Note(id, "Getting remaining body data")
		data, err := sockio.RecvAll(origin)
		if err != nil {
			p.events.Error(id, "Failed to read server response body")
			p.sendError(client, id, 502, "Bad Gateway")
			return
		}
		res.AddBody(data)
		client.Write(res.Emit())

	default:
		client.Write(res.Emit())
	}

	p.events.Received(id, res.StatusLine(), req.Host)
	p.events.Responding(id, res.StatusLine())
}

// processConnect establishes a tunnel to the origin and relays bytes in
// both directions without inspecting them.
func (p *Proxy) processConnect(client net.Conn, req *httpmsg.Request, id int64) {
	origin, err := sockio.Dial(req.Host, originPort(req, "443"), recvTimeout)
	if err != nil {
		p.events.Error(id, "Failed to connect to server for connect")
		p.sendError(client, id, 502, "Bad Gateway")
		return
	}
	defer origin.Close()

	const established = "HTTP/1.1 200 Connection established\r\n\r\n"
	if _, err := client.Write([]byte(established)); err != nil {
		return
	}
	p.events.Responding(id, "HTTP/1.1 200 Connection established")

	tunnelsOpen.Inc()
	p.tunnel(client, origin, id)
	tunnelsOpen.Dec()
	p.events.TunnelClosed(id)
}

// tunnel relays bytes between client and origin until one side closes,
// the idle timeout elapses, or the proxy shuts down.
func (p *Proxy) tunnel(client, origin net.Conn, id int64) {
	var lastActivity atomic.Int64
	lastActivity.Store(time.Now().UnixNano())

	done := make(chan string, 2)
	relay := func(dst, src net.Conn, from string) {
		buf := make([]byte, sockio.BufferSize)
		for p.running.Load() {
			src.SetReadDeadline(time.Now().Add(tunnelIdleTimeout))
			n, err := src.Read(buf)
			if n > 0 {
				lastActivity.Store(time.Now().UnixNano())
				if _, werr := dst.Write(buf[:n]); werr != nil {
					done <- "write " + from
					return
				}
			}
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					idle := time.Duration(time.Now().UnixNano() - lastActivity.Load())
					if idle < tunnelIdleTimeout {
						continue
					}
					done <- "timeout"
					return
				}
				done <- "closed by " + from
				return
			}
		}
		done <- "shutdown"
	}

	go relay(origin, client, "client")
	go relay(client, origin, "server")

	reason := <-done
	if reason == "timeout" {
		p.events.Note(id, "Tunnel timeout after 10.5 seconds of inactivity")
	} else if reason == "closed by client" || reason == "closed by server" {
		p.events.Note(id, "Connection "+reason)
	}

	// Closing both ends unblocks the peer relay.
	client.Close()
	origin.Close()
	<-done
}

// sendError synthesizes a minimal HTML error page and sends it to the
// client. The id is -1 when no request ID had been assigned yet.
func (p *Proxy) sendError(client net.Conn, id int64, statusCode int, reason string) {
	statusLine := fmt.Sprintf("HTTP/1.1 %d %s", statusCode, reason)
	body := fmt.Sprintf(
		"<html><head><title>%d %s</title></head><body><h1>%d %s</h1><p>Proxy Error</p></body></html>",
		statusCode, reason, statusCode, reason,
	)

	var b bytes.Buffer
	b.WriteString(statusLine + "\r\n")
	b.WriteString("Content-Type: text/html\r\n")
	b.WriteString("Connection: close\r\n")
	b.WriteString("Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n")
	b.WriteString(body)

	client.Write(b.Bytes())
	errorsTotal.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	p.events.Responding(id, statusLine)
}

// originPort returns the port to contact the origin on, defaulting per
// scheme when the client request named none.
func originPort(req *httpmsg.Request, def string) string {
	if req.Port != "" {
		return req.Port
	}
	return def
}

// clientIP strips the port from the connection's remote address.
func clientIP(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// Package sockio provides the timed socket primitives the proxy engine is
// built on: bounded-time connect with address iteration, quiet-period
// receive, and drain-to-EOF receive.
package sockio

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// BufferSize is the read chunk size used by all receive loops.
const BufferSize = 64 * 1024

// RecvTimeout is the read deadline applied to sockets returned by Dial.
const RecvTimeout = 10 * time.Second

// ErrUnreachable is returned by Dial when no resolved address accepts a
// connection.
var ErrUnreachable = errors.New("origin unreachable")

// Dial resolves host and attempts a TCP connection to each resolved address
// in turn, returning the first one that succeeds. The returned connection
// has a receive deadline of RecvTimeout already applied.
func Dial(host, port string, timeout time.Duration) (net.Conn, error) {
	addrs, err := net.LookupHost(host)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %s: %v", ErrUnreachable, host, err)
	}
	for _, addr := range addrs {
		conn, err := net.DialTimeout("tcp", net.JoinHostPort(addr, port), timeout)
		if err != nil {
			continue
		}
		conn.SetReadDeadline(time.Now().Add(RecvTimeout))
		return conn, nil
	}
	return nil, fmt.Errorf("%w: %s:%s", ErrUnreachable, host, port)
}

// RecvUntilQuiet reads from conn until the peer goes quiet. The read loop
// terminates when a read returns less than a full buffer, when the peer
// closes the connection, or when no data arrives within timeout. A timeout
// or a clean EOF is end-of-message, not an error; only a socket-level
// failure is returned as one.
func RecvUntilQuiet(conn net.Conn, timeout time.Duration) ([]byte, error) {
	var data []byte
	buf := make([]byte, BufferSize)
	for {
		conn.SetReadDeadline(time.Now().Add(timeout))
		n, err := conn.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
		}
		if err != nil {
			if isTimeout(err) || err == io.EOF {
				return data, nil
			}
			return data, err
		}
		if n < BufferSize {
			return data, nil
		}
	}
}

// RecvAll drains conn until the peer closes the connection. Used when the
// caller knows more body is coming and the message is close-delimited.
// Each read is bounded by RecvTimeout; a timeout ends the drain.
func RecvAll(conn net.Conn) ([]byte, error) {
	var data []byte
	buf := make([]byte, BufferSize)
	for {
		conn.SetReadDeadline(time.Now().Add(RecvTimeout))
		n, err := conn.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
		}
		if err != nil {
			if isTimeout(err) || err == io.EOF {
				return data, nil
			}
			return data, err
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

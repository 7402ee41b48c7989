package httpmsg

import (
	"strings"
	"testing"
	"time"
)

func parseResponse(t *testing.T, lines ...string) *Response {
	t.Helper()
	raw := "HTTP/1.1 200 OK\r\n" + strings.Join(lines, "\r\n") + "\r\n\r\n"
	res, err := ParseResponse([]byte(raw))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return res
}

func TestExpireTimeFromMaxAge(t *testing.T) {
	res := parseResponse(t,
		"Date: Mon, 02 Jan 2006 15:04:05 GMT",
		"Cache-Control: max-age=60",
	)
	if res.ExpireTime != "Mon, 02 Jan 2006 15:05:05 GMT" {
		t.Errorf("expire time is %q", res.ExpireTime)
	}
}

func TestExpireTimeFromExpires(t *testing.T) {
	res := parseResponse(t,
		"Expires: Tue, 03 Jan 2006 00:00:00 GMT",
	)
	if res.ExpireTime != "Tue, 03 Jan 2006 00:00:00 GMT" {
		t.Errorf("expire time is %q", res.ExpireTime)
	}
}

// max-age takes precedence over Expires.
func TestExpireTimePrecedence(t *testing.T) {
	res := parseResponse(t,
		"Date: Mon, 02 Jan 2006 15:04:05 GMT",
		"Expires: Tue, 03 Jan 2006 00:00:00 GMT",
		"Cache-Control: max-age=60",
	)
	if res.ExpireTime != "Mon, 02 Jan 2006 15:05:05 GMT" {
		t.Errorf("expire time is %q", res.ExpireTime)
	}
}

// must-revalidate with no explicit lifetime expires at the response date,
// forcing revalidation on every reuse.
func TestExpireTimeMustRevalidate(t *testing.T) {
	res := parseResponse(t,
		"Date: Mon, 02 Jan 2006 15:04:05 GMT",
		"Cache-Control: must-revalidate",
	)
	if res.ExpireTime != "Mon, 02 Jan 2006 15:04:05 GMT" {
		t.Errorf("expire time is %q", res.ExpireTime)
	}
}

// Heuristic expiration: a tenth of the Date/Last-Modified distance.
func TestExpireTimeHeuristic(t *testing.T) {
	res := parseResponse(t,
		"Date: Mon, 02 Jan 2006 15:04:05 GMT",
		"Last-Modified: Sun, 01 Jan 2006 15:04:05 GMT",
	)
	// distance is 24h, a tenth is 2h24m
	if res.ExpireTime != "Mon, 02 Jan 2006 17:28:05 GMT" {
		t.Errorf("expire time is %q", res.ExpireTime)
	}
}

func TestExpireTimeEmpty(t *testing.T) {
	res := parseResponse(t, "Content-Type: text/plain")
	if res.ExpireTime != "" {
		t.Errorf("expire time is %q, want empty", res.ExpireTime)
	}

	// no-store suppresses the heuristic
	res = parseResponse(t,
		"Date: Mon, 02 Jan 2006 15:04:05 GMT",
		"Last-Modified: Sun, 01 Jan 2006 15:04:05 GMT",
		"Cache-Control: no-store",
	)
	if res.ExpireTime != "" {
		t.Errorf("expire time is %q, want empty", res.ExpireTime)
	}
}

func TestHTTPDateRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	parsed, err := ParseHTTPDate(FormatHTTPDate(now))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !parsed.Equal(now) {
		t.Errorf("round trip changed %v to %v", now, parsed)
	}
}

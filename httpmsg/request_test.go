package httpmsg

import (
	"strings"
	"testing"
)

func TestParseRequest(t *testing.T) {
	raw := "GET http://httpbin.org/forms/post HTTP/1.1\r\n" +
		"Host: httpbin.org\r\n" +
		"User-Agent: curl/7.88\r\n" +
		"Connection: close\r\n" +
		"\r\n"

	req, err := ParseRequest([]byte(raw))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if req.Method != "GET" {
		t.Errorf("method is %q", req.Method)
	}
	if req.URL != "http://httpbin.org/forms/post" {
		t.Errorf("url is %q", req.URL)
	}
	if req.Host != "httpbin.org" || req.Port != "" {
		t.Errorf("host/port is %q/%q", req.Host, req.Port)
	}
	if req.UserAgent != "curl/7.88" {
		t.Errorf("user agent is %q", req.UserAgent)
	}
	if req.Connection != "close" {
		t.Errorf("connection is %q", req.Connection)
	}
	if req.RequestLine != "GET http://httpbin.org/forms/post HTTP/1.1" {
		t.Errorf("request line is %q", req.RequestLine)
	}
}

func TestParseRequestWithPort(t *testing.T) {
	raw := "GET /index.html HTTP/1.1\r\nHost: example.com:8080\r\n\r\n"
	req, err := ParseRequest([]byte(raw))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if req.Host != "example.com" || req.Port != "8080" {
		t.Errorf("host/port is %q/%q", req.Host, req.Port)
	}
}

func TestParseRequestMalformed(t *testing.T) {
	for _, raw := range []string{
		"GET\r\n\r\n",
		"GET /\r\n\r\n",
		"garbage\r\n\r\n",
	} {
		if _, err := ParseRequest([]byte(raw)); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}

func TestEmitHeaderOrder(t *testing.T) {
	raw := "GET http://example.com/ HTTP/1.1\r\n" +
		"If-Modified-Since: Mon, 02 Jan 2006 15:04:05 GMT\r\n" +
		"Connection: keep-alive\r\n" +
		"Host: example.com\r\n" +
		"User-Agent: test\r\n" +
		"If-None-Match: \"abc\"\r\n" +
		"\r\n"
	req, err := ParseRequest([]byte(raw))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	want := "GET http://example.com/ HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"User-Agent: test\r\n" +
		"Connection: keep-alive\r\n" +
		"If-None-Match: \"abc\"\r\n" +
		"If-Modified-Since: Mon, 02 Jan 2006 15:04:05 GMT\r\n" +
		"\r\n"
	if got := string(req.Emit()); got != want {
		t.Errorf("emit mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestEmitPortRules(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"Host: example.com", "Host: example.com\r\n"},
		{"Host: example.com:80", "Host: example.com\r\n"},
		{"Host: example.com:8080", "Host: example.com:8080\r\n"},
	}
	for _, tt := range tests {
		raw := "GET / HTTP/1.1\r\n" + tt.host + "\r\n\r\n"
		req, err := ParseRequest([]byte(raw))
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		if got := string(req.Emit()); !strings.Contains(got, tt.want) {
			t.Errorf("emit for %q does not contain %q:\n%q", tt.host, tt.want, got)
		}
	}
}

func TestWithValidators(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"
	req, _ := ParseRequest([]byte(raw))

	derived := req.WithValidators("\"abc123\"", "Mon, 02 Jan 2006 15:04:05 GMT")
	if derived.IfNoneMatch != "\"abc123\"" {
		t.Errorf("If-None-Match is %q", derived.IfNoneMatch)
	}
	if derived.IfModifiedSince != "Mon, 02 Jan 2006 15:04:05 GMT" {
		t.Errorf("If-Modified-Since is %q", derived.IfModifiedSince)
	}
	// the original request stays untouched
	if req.IfNoneMatch != "" || req.IfModifiedSince != "" {
		t.Error("original request was mutated")
	}
}

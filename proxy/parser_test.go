package proxy

import (
	"bufio"
	"strings"
	"testing"
)

func TestParseRequestLine(t *testing.T) {
	raw := "GET http://example.com/resource HTTP/1.1\r\nHost: example.com\r\n\r\n"
	req, err := ParseRequest(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if req.Method != "GET" || req.Target != "http://example.com/resource" || req.Version != "HTTP/1.1" {
		t.Fatalf("parsed %+v, want GET/http://example.com/resource/HTTP/1.1", req)
	}
	if string(req.Headers) != "Host: example.com\r\n\r\n" {
		t.Fatalf("Headers = %q", req.Headers)
	}
}

// TestMalformedRequestLineFails checks that a request line with only one
// token fails to parse instead of panicking.
func TestMalformedRequestLineFails(t *testing.T) {
	raw := "GET\r\n\r\n"
	_, err := ParseRequest(bufio.NewReader(strings.NewReader(raw)))
	if err == nil {
		t.Fatalf("ParseRequest on malformed line = nil error, want ProtocolError")
	}
	if _, ok := err.(*ProtocolError); !ok {
		t.Fatalf("error type = %T, want *ProtocolError", err)
	}
}

func TestParseRequestFailsOnPrematureEOF(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: example.com\r\n" // no terminating empty line
	_, err := ParseRequest(bufio.NewReader(strings.NewReader(raw)))
	if err == nil {
		t.Fatalf("ParseRequest on truncated headers = nil error, want ProtocolError")
	}
}

func TestParseRequestFailsOnEmptyStream(t *testing.T) {
	_, err := ParseRequest(bufio.NewReader(strings.NewReader("")))
	if err == nil {
		t.Fatalf("ParseRequest on empty stream = nil error, want ProtocolError")
	}
}

// TestRawBytesIsDeterministic exercises testable property #1: identical
// byte input yields an identical fingerprint input.
func TestRawBytesIsDeterministic(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"
	req1, err := ParseRequest(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	req2, err := ParseRequest(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if string(req1.RawBytes()) != string(req2.RawBytes()) {
		t.Fatalf("RawBytes differ across identical inputs")
	}
	if string(req1.RawBytes()) != raw {
		t.Fatalf("RawBytes = %q, want %q", req1.RawBytes(), raw)
	}
}

func TestFilterProxyHeadersStripsOnlyProxyPrefixed(t *testing.T) {
	headers := []byte("Host: example.com\r\nProxy-Authorization: secret\r\nConnection: keep-alive\r\nPROXY-Foo: bar\r\n\r\n")
	got := string(FilterProxyHeaders(headers))
	want := "Host: example.com\r\nConnection: keep-alive\r\n\r\n"
	if got != want {
		t.Fatalf("FilterProxyHeaders = %q, want %q", got, want)
	}
}

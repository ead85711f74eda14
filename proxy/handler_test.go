package proxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/otero/throttleproxy/cache"
	"github.com/otero/throttleproxy/storage"
	"github.com/otero/throttleproxy/throttle"
)

// stubUpstream accepts connections, counts them, reads one request line +
// header block off each, and replies with a fixed response.
type stubUpstream struct {
	ln       net.Listener
	requests atomic.Int64
	response []byte
}

func startStubUpstream(t *testing.T, response string) *stubUpstream {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &stubUpstream{ln: ln, response: []byte(response)}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.requests.Add(1)
			go func() {
				defer conn.Close()
				r := bufio.NewReader(conn)
				if _, err := ParseRequest(r); err != nil {
					return
				}
				conn.Write(s.response)
			}()
		}
	}()

	t.Cleanup(func() { ln.Close() })
	return s
}

func newTestHandler(t *testing.T) (*Handler, *cache.Cache) {
	t.Helper()
	c := cache.New(storage.NewMemoryBackend(), 1024, 60*time.Second)
	th := throttle.New(10 * time.Millisecond)
	h := NewHandler(c, th, NewMetrics())
	return h, c
}

// TestForwardCacheHitSkipsOrigin checks that two identical requests
// through the proxy result in exactly one origin request.
func TestForwardCacheHitSkipsOrigin(t *testing.T) {
	upstream := startStubUpstream(t, "HTTP/1.1 200 OK\r\nContent-Length: 12\r\nConnection: close\r\n\r\nHello World!")
	h, _ := newTestHandler(t)

	requestLine := fmt.Sprintf("GET http://%s/resource HTTP/1.1\r\nHost: %s\r\n\r\n", upstream.ln.Addr(), upstream.ln.Addr())

	for i := 0; i < 2; i++ {
		client, server := net.Pipe()
		done := make(chan struct{})
		go func() {
			h.Handle(context.Background(), server)
			close(done)
		}()

		client.Write([]byte(requestLine))
		buf := make([]byte, 4096)
		n, err := client.Read(buf)
		if err != nil && err != io.EOF {
			t.Fatalf("read %d: %v", i, err)
		}
		client.Close()
		<-done

		got := string(buf[:n])
		if got != "HTTP/1.1 200 OK\r\nContent-Length: 12\r\nConnection: close\r\n\r\nHello World!" {
			t.Fatalf("response %d = %q", i, got)
		}
	}

	if got := upstream.requests.Load(); got != 1 {
		t.Fatalf("upstream saw %d requests, want 1", got)
	}
}

// TestConnectTunnelRelaysVerbatim checks that a CONNECT tunnel relays bytes
// verbatim in both directions.
func TestConnectTunnelRelaysVerbatim(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn) // echo
	}()

	h, _ := newTestHandler(t)
	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		h.Handle(context.Background(), server)
		close(done)
	}()

	target := ln.Addr().String()
	client.Write([]byte(fmt.Sprintf("CONNECT %s HTTP/1.1\r\n\r\n", target)))

	reader := bufio.NewReader(client)
	status, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if status != "HTTP/1.1 200 Connection Established\r\n" {
		t.Fatalf("status line = %q", status)
	}
	// consume the blank line terminator
	if _, err := reader.ReadString('\n'); err != nil {
		t.Fatalf("read blank line: %v", err)
	}

	payload := []byte("ping-pong-payload")
	client.Write(payload)

	echoed := make([]byte, len(payload))
	if _, err := io.ReadFull(reader, echoed); err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if string(echoed) != string(payload) {
		t.Fatalf("echoed = %q, want %q", echoed, payload)
	}

	client.Close()
	<-done
}

// TestMalformedRequestDoesNotCrashHandler checks that a malformed request
// closes the connection without panicking.
func TestMalformedRequestDoesNotCrashHandler(t *testing.T) {
	h, _ := newTestHandler(t)
	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		h.Handle(context.Background(), server)
		close(done)
	}()

	client.Write([]byte("GET\r\n\r\n"))
	client.Close()
	<-done // Handle must return, not hang or panic
}

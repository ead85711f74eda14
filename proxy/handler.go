package proxy

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"

	"github.com/otero/throttleproxy/cache"
	"github.com/otero/throttleproxy/fingerprint"
	"github.com/otero/throttleproxy/pkg/logging"
	"github.com/otero/throttleproxy/throttle"
)

// Dialer opens an upstream connection. It exists so tests can substitute a
// stub without a real network, and so a caller can plug in a dialer with
// its own timeouts.
type Dialer func(ctx context.Context, network, address string) (net.Conn, error)

func defaultDialer(ctx context.Context, network, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, address)
}

// Handler is the per-connection state machine composing the request
// parser, cache, throttler, and upstream dialer.
type Handler struct {
	Cache     *cache.Cache
	Throttler *throttle.Throttler
	Dial      Dialer
	Metrics   *Metrics
}

// NewHandler wires a Handler from the given cache and throttler, using the
// real network dialer.
func NewHandler(c *cache.Cache, t *throttle.Throttler, metrics *Metrics) *Handler {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Handler{Cache: c, Throttler: t, Dial: defaultDialer, Metrics: metrics}
}

// Handle drives one accepted client connection to completion. It never
// panics on malformed input or upstream failure: every error is local to
// this connection, logged, and the connection is closed. The acceptor is
// expected to call this per connection and move on.
func (h *Handler) Handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	h.Metrics.IncConnectionsAccepted()
	log := logging.ForConnection(logging.NewConnectionID(), map[string]any{
		"remote_addr": conn.RemoteAddr().String(),
	})
	log.Event("connection_accepted", nil)

	reader := bufio.NewReader(conn)
	req, err := ParseRequest(reader)
	if err != nil {
		h.Metrics.IncProtocolErrors()
		log.Event("protocol_error", map[string]any{"error": err.Error()})
		return
	}

	if strings.EqualFold(req.Method, "CONNECT") {
		h.handleConnect(ctx, conn, reader, req, log)
		return
	}
	h.handleForward(ctx, conn, reader, req, log)
}

// handleConnect tunnels an HTTPS CONNECT request: on a cache hit it replays
// the previously tunneled bytes directly; on a miss it throttles, dials the
// target, acknowledges the tunnel, and relays bytes in both directions.
func (h *Handler) handleConnect(ctx context.Context, conn net.Conn, reader *bufio.Reader, req *Request, log *logging.Conn) {
	target := req.Target
	fp := fingerprint.Compute(target, req.RawBytes())

	if cached, ok := h.Cache.Get(ctx, fp); ok {
		h.Metrics.IncCacheHits()
		log.Event("cache_hit", map[string]any{"fingerprint": fp, "target": target})
		if _, err := conn.Write(cached); err != nil {
			h.Metrics.IncRelayErrors()
			log.Event("relay_io_error", map[string]any{"error": err.Error()})
		}
		return
	}
	h.Metrics.IncCacheMisses()

	if err := h.Throttler.Wait(ctx, target); err != nil {
		log.Event("throttle_canceled", map[string]any{"target": target, "error": err.Error()})
		return
	}

	upstream, err := h.Dial(ctx, "tcp", target)
	if err != nil {
		h.Metrics.IncDialErrors()
		log.Event("upstream_dial_error", map[string]any{"target": target, "error": err.Error()})
		return
	}
	defer upstream.Close()

	if _, err := conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		h.Metrics.IncRelayErrors()
		log.Event("relay_io_error", map[string]any{"direction": "client<-proxy", "error": err.Error()})
		return
	}

	h.relayAndCache(ctx, conn, reader, upstream, fp, log, target)
}

// handleForward handles a plain HTTP request whose target is an
// absolute-form URI: on a cache hit it replays the stored response; on a
// miss it throttles, dials the origin, rewrites the request line to
// origin-form, strips proxy-only headers, and relays the response.
func (h *Handler) handleForward(ctx context.Context, conn net.Conn, reader *bufio.Reader, req *Request, log *logging.Conn) {
	parsed, err := url.Parse(req.Target)
	if err != nil || parsed.Host == "" {
		h.Metrics.IncProtocolErrors()
		log.Event("protocol_error", map[string]any{"error": "request target is not an absolute-form URI"})
		return
	}

	host := parsed.Hostname()
	port := parsed.Port()
	if port == "" {
		port = "80"
	}
	addr := net.JoinHostPort(host, port)

	fp := fingerprint.Compute(addr, req.RawBytes())

	if cached, ok := h.Cache.Get(ctx, fp); ok {
		h.Metrics.IncCacheHits()
		log.Event("cache_hit", map[string]any{"fingerprint": fp, "upstream": addr})
		if _, err := conn.Write(cached); err != nil {
			h.Metrics.IncRelayErrors()
			log.Event("relay_io_error", map[string]any{"error": err.Error()})
		}
		return
	}
	h.Metrics.IncCacheMisses()

	if err := h.Throttler.Wait(ctx, addr); err != nil {
		log.Event("throttle_canceled", map[string]any{"upstream": addr, "error": err.Error()})
		return
	}

	upstream, err := h.Dial(ctx, "tcp", addr)
	if err != nil {
		h.Metrics.IncDialErrors()
		log.Event("upstream_dial_error", map[string]any{"upstream": addr, "error": err.Error()})
		return
	}
	defer upstream.Close()

	pathAndQuery := parsed.Path
	if pathAndQuery == "" {
		pathAndQuery = "/"
	}
	if parsed.RawQuery != "" {
		pathAndQuery += "?" + parsed.RawQuery
	}

	rewrittenLine := fmt.Sprintf("%s %s %s\r\n", req.Method, pathAndQuery, req.Version)
	filteredHeaders := FilterProxyHeaders(req.Headers)

	if _, err := upstream.Write([]byte(rewrittenLine)); err != nil {
		h.Metrics.IncRelayErrors()
		log.Event("relay_io_error", map[string]any{"direction": "proxy->upstream", "error": err.Error()})
		return
	}
	if _, err := upstream.Write(filteredHeaders); err != nil {
		h.Metrics.IncRelayErrors()
		log.Event("relay_io_error", map[string]any{"direction": "proxy->upstream", "error": err.Error()})
		return
	}

	h.relayAndCache(ctx, conn, reader, upstream, fp, log, addr)
}

// relayAndCache runs the bidirectional copy shared by both paths: a
// fire-and-forget client→upstream copy (its bytes are never cached — only
// the origin's response is a reusable artifact), and a foreground
// upstream→client copy that tees into a cache buffer. When the client side
// ends, the upstream write side is closed so the origin sees EOF. On clean
// upstream EOF the buffer is put into the cache under fp.
func (h *Handler) relayAndCache(ctx context.Context, conn net.Conn, reader *bufio.Reader, upstream net.Conn, fp string, log *logging.Conn, key string) {
	go func() {
		io.Copy(upstream, reader) //nolint:errcheck // client->upstream bytes are forwarded best-effort and never cached
		if cw, ok := upstream.(interface{ CloseWrite() error }); ok {
			cw.CloseWrite()
			return
		}
		upstream.Close()
	}()

	var buf bytes.Buffer
	n, err := io.Copy(io.MultiWriter(conn, &buf), upstream)
	h.Metrics.AddBytesRelayed(n)
	if err != nil {
		h.Metrics.IncRelayErrors()
		log.Event("relay_io_error", map[string]any{"direction": "upstream->client", "error": err.Error()})
		return
	}

	if err := h.Cache.Put(ctx, fp, buf.Bytes()); err != nil {
		h.Metrics.IncStorageErrors()
		log.Event("storage_error", map[string]any{"fingerprint": fp, "error": err.Error()})
		return
	}
	log.Event("relay_complete", map[string]any{"upstream": key, "bytes_relayed": n})
}

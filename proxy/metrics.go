package proxy

import "sync/atomic"

// Metrics holds process-wide connection counters: just the fields the
// connection handler and acceptor actually produce, not a general-purpose
// stats package.
type Metrics struct {
	connectionsAccepted atomic.Int64
	cacheHits            atomic.Int64
	cacheMisses          atomic.Int64
	dialErrors           atomic.Int64
	protocolErrors       atomic.Int64
	relayErrors          atomic.Int64
	storageErrors        atomic.Int64
	bytesRelayed         atomic.Int64
}

// NewMetrics returns a zeroed Metrics.
func NewMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) IncConnectionsAccepted() { m.connectionsAccepted.Add(1) }
func (m *Metrics) IncCacheHits()           { m.cacheHits.Add(1) }
func (m *Metrics) IncCacheMisses()         { m.cacheMisses.Add(1) }
func (m *Metrics) IncDialErrors()          { m.dialErrors.Add(1) }
func (m *Metrics) IncProtocolErrors()      { m.protocolErrors.Add(1) }
func (m *Metrics) IncRelayErrors()         { m.relayErrors.Add(1) }
func (m *Metrics) IncStorageErrors()       { m.storageErrors.Add(1) }
func (m *Metrics) AddBytesRelayed(n int64) { m.bytesRelayed.Add(n) }

// Snapshot is a point-in-time copy of every counter, safe to log or expose.
type Snapshot struct {
	ConnectionsAccepted int64
	CacheHits           int64
	CacheMisses         int64
	DialErrors          int64
	ProtocolErrors      int64
	RelayErrors         int64
	StorageErrors       int64
	BytesRelayed        int64
}

// Snapshot reads every counter. Individual fields may be mutated
// concurrently with the read; the result is a best-effort point-in-time view.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		ConnectionsAccepted: m.connectionsAccepted.Load(),
		CacheHits:           m.cacheHits.Load(),
		CacheMisses:         m.cacheMisses.Load(),
		DialErrors:          m.dialErrors.Load(),
		ProtocolErrors:      m.protocolErrors.Load(),
		RelayErrors:         m.relayErrors.Load(),
		StorageErrors:       m.storageErrors.Load(),
		BytesRelayed:        m.bytesRelayed.Load(),
	}
}

// Package logging provides structured per-connection logging for the proxy.
//
// Design Notes:
//   - Uses the standard log package for compatibility, same as the rest of
//     this codebase's ambient stack.
//   - Each accepted connection gets a correlation ID (a UUID) that threads
//     through every log line for that connection's lifetime, the same idea
//     as HTTP request-ID middleware, applied to a raw TCP connection instead
//     of an HTTP request.
//   - Log level is derived from the event: "error" fields bump the line to
//     [ERROR], everything else is [INFO].
package logging

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
)

// NewConnectionID generates a new correlation ID for an accepted connection.
func NewConnectionID() string {
	return uuid.New().String()
}

// Conn is a structured logger scoped to one connection.
type Conn struct {
	id     string
	fields map[string]any
}

// ForConnection returns a logger carrying the given connection ID and any
// base fields (remote address, etc.) on every subsequent line.
func ForConnection(id string, base map[string]any) *Conn {
	fields := make(map[string]any, len(base)+1)
	for k, v := range base {
		fields[k] = v
	}
	fields["connection_id"] = id
	return &Conn{id: id, fields: fields}
}

// ID returns the connection's correlation ID.
func (c *Conn) ID() string { return c.id }

// Event logs a structured line for this connection. extra is merged over
// the connection's base fields; an "error" entry in extra causes the line
// to be logged at [ERROR] instead of [INFO].
func (c *Conn) Event(message string, extra map[string]any) {
	entry := make(map[string]any, len(c.fields)+len(extra)+2)
	for k, v := range c.fields {
		entry[k] = v
	}
	for k, v := range extra {
		entry[k] = v
	}
	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["message"] = message

	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("[ERROR] failed to marshal log entry: %v", err)
		log.Printf("[INFO] connection_id=%s %s", c.id, message)
		return
	}

	if _, hasErr := extra["error"]; hasErr {
		log.Printf("[ERROR] %s", string(data))
		return
	}
	log.Printf("[INFO] %s", string(data))
}

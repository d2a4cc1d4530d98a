// Package stream provides the TCP fan-out layer shared by the video and
// telemetry channels: a mutex-guarded registry of live client connections
// with per-client failure isolation, length-prefixed framing, and the accept
// loop that feeds the registry.
package stream

import (
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vigil-data/breathwatch/internal/monitoring"
)

// DefaultWriteTimeout bounds each per-client write so one stalled client
// cannot stall the broadcast cycle for all clients.
const DefaultWriteTimeout = 2 * time.Second

// Framing selects how Broadcast writes payloads to clients.
type Framing int

const (
	// LengthPrefixed writes a 4-byte big-endian unsigned length followed by
	// the payload bytes. Used by the video channel and framed-JSON telemetry.
	LengthPrefixed Framing = iota

	// RawBytes writes the payload as-is. Used by line-mode telemetry, whose
	// payloads carry their own newline terminator.
	RawBytes
)

// Registry is a thread-safe set of live client connections for one channel.
// The acceptor adds connections and the broadcaster removes them on write
// failure; the underlying collection is never exposed.
type Registry struct {
	name         string
	framing      Framing
	writeTimeout time.Duration

	mu      sync.Mutex
	clients map[string]net.Conn
}

// NewRegistry creates an empty registry. name appears in log lines; a
// non-positive writeTimeout takes DefaultWriteTimeout.
func NewRegistry(name string, framing Framing, writeTimeout time.Duration) *Registry {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Registry{
		name:         name,
		framing:      framing,
		writeTimeout: writeTimeout,
		clients:      make(map[string]net.Conn),
	}
}

// Register adds a connection and returns its ID.
func (r *Registry) Register(conn net.Conn) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.clients[id] = conn
	n := len(r.clients)
	r.mu.Unlock()
	monitoring.Logf("[%s] client connected: %s (total: %d)", r.name, conn.RemoteAddr(), n)
	return id
}

// Unregister closes and removes a connection. Unknown IDs are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	conn, ok := r.clients[id]
	if ok {
		delete(r.clients, id)
	}
	n := len(r.clients)
	r.mu.Unlock()

	if ok {
		conn.Close()
		monitoring.Logf("[%s] client removed (remaining: %d)", r.name, n)
	}
}

// Len reports the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Broadcast writes payload to every registered connection. A connection
// whose write fails or exceeds the write timeout is closed and removed; the
// failure never propagates to other clients or to the caller. Returns the
// number of clients that received the full payload.
func (r *Registry) Broadcast(payload []byte) int {
	r.mu.Lock()
	conns := make(map[string]net.Conn, len(r.clients))
	for id, c := range r.clients {
		conns[id] = c
	}
	r.mu.Unlock()

	delivered := 0
	var failed []string
	for id, conn := range conns {
		if err := r.writeOne(conn, payload); err != nil {
			monitoring.Logf("[%s] dropping client %s: %v", r.name, conn.RemoteAddr(), err)
			failed = append(failed, id)
			continue
		}
		delivered++
	}

	for _, id := range failed {
		r.Unregister(id)
	}
	return delivered
}

func (r *Registry) writeOne(conn net.Conn, payload []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(r.writeTimeout)); err != nil {
		return err
	}

	if r.framing == LengthPrefixed {
		var prefix [4]byte
		binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
		if _, err := conn.Write(prefix[:]); err != nil {
			return err
		}
	}
	_, err := conn.Write(payload)
	return err
}

// CloseAll closes and clears every connection. Used at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]net.Conn)
	r.mu.Unlock()

	for _, conn := range clients {
		conn.Close()
	}
	if len(clients) > 0 {
		monitoring.Logf("[%s] closed %d clients", r.name, len(clients))
	}
}

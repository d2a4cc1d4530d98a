package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/vigil-data/breathwatch/internal/monitoring"
)

// acceptRetryDelay is how long the accept loop waits after a transient
// accept failure before trying again.
const acceptRetryDelay = time.Second

// Acceptor listens on one address and registers every accepted connection
// into its registry. It never serializes behind a client's lifetime: the
// accept loop only registers and keeps accepting.
type Acceptor struct {
	registry *Registry
	listener net.Listener
}

// NewAcceptor binds the listening socket. A bind failure is returned to the
// caller and is fatal at startup per the service's error policy.
func NewAcceptor(addr string, registry *Registry) (*Acceptor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	monitoring.Logf("[%s] listening on %s", registry.name, ln.Addr())
	return &Acceptor{registry: registry, listener: ln}, nil
}

// Addr returns the bound listen address.
func (a *Acceptor) Addr() net.Addr {
	return a.listener.Addr()
}

// Run accepts connections until the context is cancelled. Accept errors
// after a successful bind are logged and retried with a short delay; closing
// the listener (via context cancellation or Close) ends the loop.
func (a *Acceptor) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		a.listener.Close()
	}()

	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			monitoring.Logf("[%s] accept failed: %v (retrying)", a.registry.name, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(acceptRetryDelay):
			}
			continue
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			tcp.SetNoDelay(true)
		}
		a.registry.Register(conn)
	}
}

// Close stops the listener. Safe to call more than once.
func (a *Acceptor) Close() error {
	return a.listener.Close()
}

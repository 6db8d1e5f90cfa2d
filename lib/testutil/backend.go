// Package testutil provides testing utilities for respool integration
// tests.
package testutil

import (
	"net"
	"sync"
)

// MockBackend is a loopback TCP echo server standing in for a pooled
// backend. Tests can count accepted connections and forcibly drop live
// ones to trigger validation failures.
type MockBackend struct {
	mu       sync.Mutex
	listener net.Listener
	conns    []net.Conn
	accepted int
	refuse   bool
}

// NewMockBackend starts an echo server on a random loopback port.
func NewMockBackend() (*MockBackend, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	b := &MockBackend{listener: ln}
	go b.acceptLoop()
	return b, nil
}

// Addr returns the host:port the backend listens on.
func (b *MockBackend) Addr() string {
	return b.listener.Addr().String()
}

// AcceptedCount returns how many connections the backend has accepted.
func (b *MockBackend) AcceptedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accepted
}

// SetRefuse makes the backend close new connections immediately,
// simulating an overloaded or recovering service.
func (b *MockBackend) SetRefuse(refuse bool) {
	b.mu.Lock()
	b.refuse = refuse
	b.mu.Unlock()
}

// DropConnections closes every live connection, simulating a backend
// restart while clients hold pooled connections.
func (b *MockBackend) DropConnections() {
	b.mu.Lock()
	conns := b.conns
	b.conns = nil
	b.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// Close stops the listener and drops all connections.
func (b *MockBackend) Close() error {
	err := b.listener.Close()
	b.DropConnections()
	return err
}

func (b *MockBackend) acceptLoop() {
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			return
		}

		b.mu.Lock()
		b.accepted++
		if b.refuse {
			b.mu.Unlock()
			conn.Close()
			continue
		}
		b.conns = append(b.conns, conn)
		b.mu.Unlock()

		go b.echo(conn)
	}
}

func (b *MockBackend) echo(conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		if _, err := conn.Write(buf[:n]); err != nil {
			return
		}
	}
}

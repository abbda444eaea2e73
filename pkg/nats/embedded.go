package nats

import (
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServer wraps an embedded NATS server for testing.
type EmbeddedServer struct {
	server   *server.Server
	url      string
	storeDir string
}

// StartEmbeddedServer starts an embedded NATS server with JetStream
// enabled, listening on a random local port.
func StartEmbeddedServer() (*EmbeddedServer, error) {
	// An empty StoreDir would fall back to the fixed shared path
	// $TMPDIR/nats/jetstream, leaking stream and consumer state between
	// servers; each server gets its own temp directory instead.
	storeDir, err := os.MkdirTemp("", "nats-jetstream-")
	if err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1, // Random port
		JetStream: true,
		StoreDir:  storeDir,
	}

	s, err := server.NewServer(opts)
	if err != nil {
		os.RemoveAll(storeDir)
		return nil, fmt.Errorf("create embedded server: %w", err)
	}

	go s.Start()

	if !s.ReadyForConnections(5 * time.Second) {
		os.RemoveAll(storeDir)
		return nil, fmt.Errorf("server not ready")
	}

	return &EmbeddedServer{server: s, url: s.ClientURL(), storeDir: storeDir}, nil
}

// URL returns the connection URL for the embedded server.
func (e *EmbeddedServer) URL() string {
	return e.url
}

// Shutdown stops the embedded server.
func (e *EmbeddedServer) Shutdown() {
	if e.server != nil {
		e.server.Shutdown()
		e.server.WaitForShutdown()
	}
	if e.storeDir != "" {
		os.RemoveAll(e.storeDir)
	}
}

// TestConfig returns a broker config suitable for tests against an
// embedded server.
func TestConfig(serverURL string) Config {
	return Config{
		URL:           serverURL,
		StreamName:    "TEST_EVENTS",
		SubjectPrefix: "events",
		MaxAge:        time.Minute,
		MaxBytes:      10 * 1024 * 1024, // 10 MB
	}
}

// NewEmbeddedBroker starts an embedded server and a broker wired to it.
// Convenience for tests.
func NewEmbeddedBroker() (*Broker, *EmbeddedServer, error) {
	srv, err := StartEmbeddedServer()
	if err != nil {
		return nil, nil, fmt.Errorf("start embedded server: %w", err)
	}

	broker, err := NewBroker(TestConfig(srv.URL()))
	if err != nil {
		srv.Shutdown()
		return nil, nil, fmt.Errorf("create broker: %w", err)
	}
	return broker, srv, nil
}

package broker

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// StartEmbeddedServer runs an in-process NATS server with JetStream
// enabled, for single-binary deployments and end-to-end tests. The caller
// owns shutdown via srv.Shutdown().
func StartEmbeddedServer(storeDir string) (*server.Server, error) {
	opts := &server.Options{
		Port:      -1, // random available port
		JetStream: true,
		StoreDir:  storeDir,
	}

	srv, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded nats server: %w", err)
	}

	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded nats server not ready within 10s")
	}
	return srv, nil
}

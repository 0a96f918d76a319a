package common

import (
	"testing"

	"github.com/nats-io/nats-server/v2/server"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
)

// NewInProcessNATSServer starts a NATS server with JetStream enabled on a
// random port, backed by a temporary directory, and returns a connection to
// it. The server is shut down when the test finishes.
func NewInProcessNATSServer(t *testing.T) *nats.Conn {
	t.Helper()

	opts := natsserver.DefaultTestOptions
	opts.Port = server.RANDOM_PORT
	opts.JetStream = true
	opts.StoreDir = t.TempDir()

	srv := natsserver.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("failed to connect to in-process NATS server: %v", err)
	}

	return nc
}

package natsserver

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/nats-io/nats-server/v2/server"
)

const (
	defaultStoreDir = "./data/nats"
	readyTimeout    = 5 * time.Second
)

// EmbeddedServer is an in-process NATS server for single-node translators.
type EmbeddedServer struct {
	ns  *server.Server
	log *slog.Logger
}

// serverOptions builds the server options for a translator node. The node id
// becomes the server name so monitoring output identifies which translator
// hosts the bus.
func serverOptions(cfg config.BusConfig, nodeID string) *server.Options {
	storeDir := cfg.StoreDir
	if storeDir == "" {
		storeDir = defaultStoreDir
	}
	return &server.Options{
		ServerName: nodeID,
		Host:       "127.0.0.1",
		Port:       cfg.Port,
		JetStream:  true,
		StoreDir:   storeDir,
		NoSigs:     true,
	}
}

// Start runs an embedded server when cfg asks for one and returns nil
// otherwise. A port of -1 picks a random free port.
func Start(cfg config.BusConfig, nodeID string, log *slog.Logger) (*EmbeddedServer, error) {
	if !cfg.Embedded {
		return nil, nil
	}

	opts := serverOptions(cfg, nodeID)
	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, errors.New("embedded NATS server not ready for connections")
	}

	log = log.With(slog.String("component", "embedded-nats"), slog.String("server_name", ns.Name()))
	log.Info("embedded NATS server started",
		slog.String("url", ns.ClientURL()),
		slog.String("store_dir", opts.StoreDir))

	return &EmbeddedServer{ns: ns, log: log}, nil
}

// ClientURL is the address bus clients dial; empty for a nil server.
func (e *EmbeddedServer) ClientURL() string {
	if e == nil || e.ns == nil {
		return ""
	}
	return e.ns.ClientURL()
}

// Name reports the server name, which is the hosting node's id.
func (e *EmbeddedServer) Name() string {
	if e == nil || e.ns == nil {
		return ""
	}
	return e.ns.Name()
}

func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.log.Info("shutting down embedded NATS server")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}

package natsserver

import (
	"io"
	"log/slog"
	"testing"

	"github.com/loqalabs/loqa-translate/internal/config"
)

func TestServerOptionsDefaults(t *testing.T) {
	opts := serverOptions(config.BusConfig{Port: 4333}, "translator-a")
	if opts.ServerName != "translator-a" || opts.Port != 4333 {
		t.Fatalf("unexpected options %+v", opts)
	}
	if opts.StoreDir != defaultStoreDir || !opts.JetStream || !opts.NoSigs {
		t.Fatalf("unexpected store settings %+v", opts)
	}
}

func TestStartSkipsWhenNotEmbedded(t *testing.T) {
	srv, err := Start(config.BusConfig{Embedded: false}, "translator-a", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil || srv != nil {
		t.Fatalf("expected no server, got %v %v", srv, err)
	}
	if srv.ClientURL() != "" || srv.Name() != "" {
		t.Fatalf("nil server must report empty values")
	}
	srv.Shutdown()
}

func TestStartNamesServerAfterNode(t *testing.T) {
	srv, err := Start(config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}, "translator-b", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Shutdown()
	if srv.Name() != "translator-b" {
		t.Fatalf("expected server name translator-b, got %q", srv.Name())
	}
	if srv.ClientURL() == "" {
		t.Fatalf("expected client url")
	}
}

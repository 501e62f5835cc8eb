package bus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-interview/internal/config"
	"github.com/loqalabs/loqa-interview/internal/natsserver"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPersistJSON(t *testing.T) {
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}, newLogger())
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Connect(ctx, config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Close)
	if !c.Healthy() {
		t.Fatal("expected healthy connection")
	}

	for i := 0; i < 2; i++ {
		if err := c.EnsureStream("REPORTS_TEST", "reports.test"); err != nil {
			t.Fatalf("ensure stream (pass %d): %v", i, err)
		}
	}
	if err := c.PersistJSON(ctx, "reports.test", map[string]string{"session_id": "s1"}); err != nil {
		t.Fatalf("persist: %v", err)
	}
	info, err := c.JetStream().StreamInfo("REPORTS_TEST")
	if err != nil {
		t.Fatalf("stream info: %v", err)
	}
	if info.State.Msgs != 1 {
		t.Fatalf("expected 1 stored message, got %d", info.State.Msgs)
	}
	if err := c.PublishJSON("reports.other", func() {}); err == nil {
		t.Fatal("expected encode error for unsupported value")
	}
}

func TestConnectRequiresServers(t *testing.T) {
	if _, err := Connect(context.Background(), config.BusConfig{}, newLogger()); err == nil {
		t.Fatal("expected error without servers")
	}
}

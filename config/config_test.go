package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nilm987521/fep/channel"
	"github.com/nilm987521/fep/config"
)

const sampleDoc = `
channels:
  - channel_id: ATM-LINK
    role: server
    mode: dual_port
    host: 0.0.0.0
    send_port: 7001
    receive_port: 7002
    connect_timeout: 5s
    read_timeout: 30s
    heartbeat_interval: 30s
    retry_max_attempts: 3
    retry_delay: 1s
    active: true
    schema_name: iso8583-std
    schema_version: v1
  - channel_id: HOST-LINK
    role: client
    mode: unified_port
    host: 10.0.0.5
    unified_port: 9000
    auto_reconnect: true
    active: true
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "channels.yaml")
	if err := os.WriteFile(path, []byte(sampleDoc), 0o600); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	return path
}

func TestLoadParsesChannelsIntoSnapshot(t *testing.T) {
	t.Parallel()
	path := writeSample(t)

	snapshot, err := config.NewLoader(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(snapshot))
	}

	atm, ok := snapshot["ATM-LINK"]
	if !ok {
		t.Fatalf("expected ATM-LINK in snapshot")
	}
	if atm.Role != channel.RoleServer || atm.Mode != channel.ModeDualPort {
		t.Fatalf("ATM-LINK role/mode mismatch: %+v", atm)
	}
	if atm.SendPort != 7001 || atm.ReceivePort != 7002 {
		t.Fatalf("ATM-LINK ports mismatch: %+v", atm)
	}
	if atm.ConnectTimeout != 5*time.Second {
		t.Fatalf("ATM-LINK connect timeout = %v, want 5s", atm.ConnectTimeout)
	}
	if atm.Schema == nil || atm.Schema.Name != "iso8583-std" {
		t.Fatalf("ATM-LINK schema not parsed: %+v", atm.Schema)
	}

	host, ok := snapshot["HOST-LINK"]
	if !ok {
		t.Fatalf("expected HOST-LINK in snapshot")
	}
	if host.Role != channel.RoleClient || host.Mode != channel.ModeUnifiedPort {
		t.Fatalf("HOST-LINK role/mode mismatch: %+v", host)
	}
	if !host.AutoReconnect {
		t.Fatalf("HOST-LINK expected AutoReconnect=true")
	}
}

func TestLoadRejectsUnknownRole(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "channels.yaml")
	doc := "channels:\n  - channel_id: BAD\n    role: gateway\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := config.NewLoader(path).Load(); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}

func TestWatchPushesSnapshotOnChange(t *testing.T) {
	path := writeSample(t)
	loader := config.NewLoader(path)
	if _, err := loader.Load(); err != nil {
		t.Fatalf("initial load: %v", err)
	}

	changed := make(chan map[string]channel.Config, 1)
	loader.Watch(func(snapshot map[string]channel.Config, err error) {
		if err != nil {
			t.Errorf("unexpected watch error: %v", err)
			return
		}
		changed <- snapshot
	})

	updated := sampleDoc + "  - channel_id: THIRD\n    role: server\n    host: 127.0.0.1\n    send_port: 8001\n    receive_port: 8002\n    active: true\n"
	// Give the watcher a moment to arm before the file is rewritten.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case snapshot := <-changed:
		if _, ok := snapshot["THIRD"]; !ok {
			t.Fatalf("expected THIRD in reloaded snapshot, got %v", snapshot)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

package connmgr_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nilm987521/fep/channel"
	"github.com/nilm987521/fep/connmgr"
	"github.com/nilm987521/fep/iso8583"
)

func testSchema() *iso8583.Schema {
	return &iso8583.Schema{
		HasBitmap: true,
		BitmapLen: 64,
		Fields: map[int]iso8583.FieldDef{
			11: {Tag: 11, Type: iso8583.TypeNumeric, Kind: iso8583.Fixed, Length: 6},
			70: {Tag: 70, Type: iso8583.TypeNumeric, Kind: iso8583.Fixed, Length: 3},
		},
	}
}

func testResolver(cfg channel.Config) *iso8583.Codec {
	return iso8583.NewCodec(testSchema(), iso8583.FrameConfig{HeaderBytes: 4, Encoding: iso8583.ASCIIDigits})
}

func freeTCPPort(t *testing.T) int {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer lis.Close()
	return lis.Addr().(*net.TCPAddr).Port
}

func serverConfig(id string, port int) channel.Config {
	return channel.Config{
		ChannelID:   id,
		Role:        channel.RoleServer,
		Mode:        channel.ModeUnifiedPort,
		Host:        "127.0.0.1",
		UnifiedPort: port,
		Active:      true,
	}
}

// TestApplyFullConvergence checks that after ApplyFull, the
// live endpoint set exactly matches the snapshot's active channel ids.
func TestApplyFullConvergence(t *testing.T) {
	t.Parallel()

	mgr := connmgr.New(testResolver)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	portA := freeTCPPort(t)
	portB := freeTCPPort(t)

	snapshot := map[string]channel.Config{
		"A": serverConfig("A", portA),
		"B": serverConfig("B", portB),
	}
	mgr.ApplyFull(ctx, snapshot)
	defer func() {
		for _, id := range mgr.AllIDs() {
			mgr.Remove(context.Background(), id)
		}
	}()

	ids := mgr.AllIDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 live endpoints, got %d (%v)", len(ids), ids)
	}
	if mgr.GetConnection("A") == nil || mgr.GetConnection("B") == nil {
		t.Fatalf("expected both A and B to be live")
	}
}

// TestHotReconfigurationClosesStartsLeavesUntouched applies a new snapshot:
// {A:active,B:active} -> {A:active,C:active} closes B, starts C, and
// leaves A's endpoint instance untouched.
func TestHotReconfigurationClosesStartsLeavesUntouched(t *testing.T) {
	t.Parallel()

	mgr := connmgr.New(testResolver)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	portA := freeTCPPort(t)
	portB := freeTCPPort(t)
	portC := freeTCPPort(t)

	mgr.ApplyFull(ctx, map[string]channel.Config{
		"A": serverConfig("A", portA),
		"B": serverConfig("B", portB),
	})
	original := mgr.GetConnection("A")

	var mu sync.Mutex
	var events []connmgr.Event
	mgr.AddListener(func(ev connmgr.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	mgr.ApplyFull(ctx, map[string]channel.Config{
		"A": serverConfig("A", portA),
		"C": serverConfig("C", portC),
	})
	defer func() {
		for _, id := range mgr.AllIDs() {
			mgr.Remove(context.Background(), id)
		}
	}()

	if mgr.GetConnection("B") != nil {
		t.Fatalf("expected B to be torn down")
	}
	if mgr.GetConnection("C") == nil {
		t.Fatalf("expected C to be live")
	}
	if mgr.GetConnection("A") != original {
		t.Fatalf("expected A's endpoint instance to survive reconciliation untouched")
	}

	mu.Lock()
	defer mu.Unlock()
	var sawRemoved bool
	for _, ev := range events {
		if ev.Kind == connmgr.EventRemoved && ev.ChannelID == "B" {
			sawRemoved = true
		}
	}
	if !sawRemoved {
		t.Fatalf("expected an EventRemoved for channel B, got %+v", events)
	}
}

func TestRemoveDeregistersAndNotifies(t *testing.T) {
	t.Parallel()

	mgr := connmgr.New(testResolver)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	port := freeTCPPort(t)
	mgr.Add(ctx, serverConfig("A", port))
	if mgr.GetConnection("A") == nil {
		t.Fatalf("expected A to be live after Add")
	}

	mgr.Remove(context.Background(), "A")
	if mgr.GetConnection("A") != nil {
		t.Fatalf("expected A to be gone after Remove")
	}
}

package channel_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/nilm987521/fep/channel"
	"github.com/nilm987521/fep/iso8583"
)

func pingPongSchema() *iso8583.Schema {
	return &iso8583.Schema{
		HasBitmap: true,
		BitmapLen: 64,
		Fields: map[int]iso8583.FieldDef{
			11: {Tag: 11, Type: iso8583.TypeNumeric, Kind: iso8583.Fixed, Length: 6},
			39: {Tag: 39, Type: iso8583.TypeAlphaNumeric, Kind: iso8583.Fixed, Length: 2},
			70: {Tag: 70, Type: iso8583.TypeNumeric, Kind: iso8583.Fixed, Length: 3},
		},
	}
}

func testCodecFor(schema *iso8583.Schema) *iso8583.Codec {
	return iso8583.NewCodec(schema, iso8583.FrameConfig{HeaderBytes: 4, Encoding: iso8583.ASCIIDigits})
}

func freePort(t *testing.T) int {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer lis.Close()
	return lis.Addr().(*net.TCPAddr).Port
}

func TestUnifiedPortRequestResponse(t *testing.T) {
	t.Parallel()

	schema := pingPongSchema()
	port := freePort(t)

	serverCfg := channel.Config{
		ChannelID:   "srv",
		Role:        channel.RoleServer,
		Mode:        channel.ModeUnifiedPort,
		Host:        "127.0.0.1",
		UnifiedPort: port,
	}
	server := channel.New(serverCfg, testCodecFor(schema))
	server.SetHandler(func(peerID string, msg *iso8583.Message) (*iso8583.Message, error) {
		stan, _ := msg.STAN()
		resp := iso8583.NewMessage("0210", map[int][]byte{
			11: []byte(stan),
			39: []byte("00"),
		})
		return resp, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Start(ctx); err != nil {
		t.Fatalf("server start: %v", err)
	}
	defer server.Stop(context.Background())

	clientCfg := channel.Config{
		ChannelID:   "cli",
		Role:        channel.RoleClient,
		Mode:        channel.ModeUnifiedPort,
		Host:        "127.0.0.1",
		UnifiedPort: port,
	}
	client := channel.New(clientCfg, testCodecFor(schema))
	if err := client.Start(ctx); err != nil {
		t.Fatalf("client start: %v", err)
	}
	defer client.Stop(context.Background())

	stan := "000001"
	waiter, err := client.Registry().Register(stan, 3*time.Second)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	req := iso8583.NewMessage("0200", map[int][]byte{11: []byte(stan)})
	if err := client.Send(req); err != nil {
		t.Fatalf("send: %v", err)
	}

	out := waiter.Await()
	if out.Err != nil {
		t.Fatalf("unexpected Err: %v", out.Err)
	}
	if v, ok := out.Response.FieldString(39); !ok || v != "00" {
		t.Fatalf("field 39 = %q, ok=%v, want 00", v, ok)
	}
}

// TestPeerChangeNotifications checks that a server-role endpoint reports
// a peer once its socket is up and again when the peer goes away.
func TestPeerChangeNotifications(t *testing.T) {
	t.Parallel()

	schema := pingPongSchema()
	port := freePort(t)

	server := channel.New(channel.Config{
		ChannelID:   "srv-peers",
		Role:        channel.RoleServer,
		Mode:        channel.ModeUnifiedPort,
		Host:        "127.0.0.1",
		UnifiedPort: port,
	}, testCodecFor(schema))

	type peerEvent struct {
		peerID    string
		connected bool
	}
	events := make(chan peerEvent, 4)
	server.OnPeerChange(func(channelID, peerID string, connected bool) {
		events <- peerEvent{peerID: peerID, connected: connected}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Start(ctx); err != nil {
		t.Fatalf("server start: %v", err)
	}
	defer server.Stop(context.Background())

	client := channel.New(channel.Config{
		ChannelID:   "cli-peers",
		Role:        channel.RoleClient,
		Mode:        channel.ModeUnifiedPort,
		Host:        "127.0.0.1",
		UnifiedPort: port,
	}, testCodecFor(schema))
	if err := client.Start(ctx); err != nil {
		t.Fatalf("client start: %v", err)
	}

	select {
	case ev := <-events:
		if !ev.connected || ev.peerID == "" {
			t.Fatalf("first event = %+v, want connected with a peer id", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no connect notification")
	}

	if err := client.Stop(context.Background()); err != nil {
		t.Fatalf("client stop: %v", err)
	}

	select {
	case ev := <-events:
		if ev.connected {
			t.Fatalf("second event = %+v, want disconnect", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no disconnect notification")
	}
}

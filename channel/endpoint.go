package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nilm987521/fep/iso8583"
	"github.com/nilm987521/fep/pending"
)

// Handler processes one inbound request message, server role, and
// returns the response to be written back to the same peer. Client-role
// inbound traffic on the receive socket is matched to outstanding
// requests through the endpoint's pending registry instead; a Handler is
// still invoked for anything that does not correlate to a pending STAN
// (unsolicited server-pushed traffic, e.g. network management advice).
type Handler func(peerID string, msg *iso8583.Message) (*iso8583.Message, error)

// PeerObserver is notified when a peer of a server-role endpoint becomes
// fully connected (both sockets in dual-port mode, the one socket in
// unified mode) or when its directory entry is removed.
type PeerObserver func(channelID, peerID string, connected bool)

// Dialer and Listener let tests substitute in-memory transports for real
// TCP sockets without changing Endpoint's control flow.
type Dialer func(ctx context.Context, network, addr string) (net.Conn, error)
type Listener func(network, addr string) (net.Listener, error)

func defaultDialer(ctx context.Context, network, addr string) (net.Conn, error) {
	d := net.Dialer{}
	return d.DialContext(ctx, network, addr)
}

func defaultListener(network, addr string) (net.Listener, error) {
	return net.Listen(network, addr)
}

// Endpoint is the live peer instance bound to one ChannelID. At most
// one Endpoint exists per ChannelID at a time; that invariant is enforced
// by the connection manager, not by Endpoint itself.
type Endpoint struct {
	cfg   Config
	codec *iso8583.Codec
	sm    *stateMachine

	registry *pending.Registry
	handler  Handler
	peerObs  PeerObserver

	dial   Dialer
	listen Listener

	mu         sync.Mutex
	sendConn   net.Conn
	recvConn   net.Conn
	unified    net.Conn
	listeners  []net.Listener
	clients    *clientDirectory
	stopCh     chan struct{}
	stopped    bool
	hbTimer    *time.Timer
	reconnTmr  *time.Timer
	retryCount int
}

// New builds an Endpoint for cfg. codec is the message codec used to
// frame/parse traffic on this channel.
func New(cfg Config, codec *iso8583.Codec) *Endpoint {
	cfg = cfg.withDefaults()
	return &Endpoint{
		cfg:      cfg,
		codec:    codec,
		sm:       newStateMachine(cfg.ChannelID),
		registry: pending.New(),
		dial:     defaultDialer,
		listen:   defaultListener,
		clients:  newClientDirectory(),
		stopCh:   make(chan struct{}),
	}
}

// SetHandler installs the inbound message handler. Must be called before
// Start.
func (e *Endpoint) SetHandler(h Handler) { e.handler = h }

// SetTransport overrides the dial/listen functions, for tests.
func (e *Endpoint) SetTransport(d Dialer, l Listener) {
	if d != nil {
		e.dial = d
	}
	if l != nil {
		e.listen = l
	}
}

// ChannelID returns the bound channel identity.
func (e *Endpoint) ChannelID() string { return e.cfg.ChannelID }

// Config returns the endpoint's current configuration.
func (e *Endpoint) Config() Config { return e.cfg }

// State returns the current lifecycle state.
func (e *Endpoint) State() State { return e.sm.State() }

// Registry exposes the pending-request registry backing outbound
// requests on this endpoint (client role).
func (e *Endpoint) Registry() *pending.Registry { return e.registry }

// OnStateChange registers an observer invoked synchronously on every
// accepted state transition.
func (e *Endpoint) OnStateChange(o StateObserver) { e.sm.addObserver(o) }

// OnPeerChange registers the observer for server-role peer
// connect/disconnect. Must be called before Start.
func (e *Endpoint) OnPeerChange(o PeerObserver) { e.peerObs = o }

func (e *Endpoint) notifyPeer(peerID string, connected bool) {
	if e.peerObs != nil {
		e.peerObs(e.cfg.ChannelID, peerID, connected)
	}
}

// Start brings the endpoint up: dialing (client role) or listening
// (server role), in dual-port or unified-port mode. Initial connect
// failures do not destroy the endpoint: if AutoReconnect is set
// the endpoint schedules a retry and returns nil so the caller can treat
// the channel as "configured".
func (e *Endpoint) Start(ctx context.Context) error {
	e.sm.transition(Connecting)

	var err error
	if e.cfg.Role == RoleServer {
		err = e.startServer(ctx)
	} else {
		err = e.startClient(ctx)
	}
	if err != nil {
		if e.cfg.AutoReconnect {
			e.scheduleReconnect(ctx)
			return nil
		}
		e.sm.transition(Failed)
		return err
	}
	return nil
}

func (e *Endpoint) startClient(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, e.cfg.ConnectTimeout)
	defer cancel()

	if e.cfg.Mode == ModeUnifiedPort {
		conn, err := e.dial(connectCtx, "tcp", addr(e.cfg.Host, e.cfg.UnifiedPort))
		if err != nil {
			return fmt.Errorf("channel: dial unified port: %w", err)
		}
		e.mu.Lock()
		e.unified = conn
		e.mu.Unlock()
		e.sm.transition(BothConnected)
		go e.readLoop(ctx, conn, "")
		e.afterConnected(ctx)
		return nil
	}

	sendConn, err := e.dial(connectCtx, "tcp", addr(e.cfg.Host, e.cfg.SendPort))
	if err != nil {
		return fmt.Errorf("channel: dial send port: %w", err)
	}
	e.mu.Lock()
	e.sendConn = sendConn
	e.mu.Unlock()
	e.sm.transition(SendOnlyConnected)

	recvConn, err := e.dial(connectCtx, "tcp", addr(e.cfg.Host, e.cfg.ReceivePort))
	if err != nil {
		_ = sendConn.Close()
		return fmt.Errorf("channel: dial receive port: %w", err)
	}
	e.mu.Lock()
	e.recvConn = recvConn
	e.mu.Unlock()
	e.sm.transition(BothConnected)

	go e.readLoop(ctx, recvConn, "")
	e.afterConnected(ctx)
	return nil
}

func (e *Endpoint) startServer(ctx context.Context) error {
	if e.cfg.Mode == ModeUnifiedPort {
		lis, err := e.listen("tcp", addr(e.cfg.Host, e.cfg.UnifiedPort))
		if err != nil {
			return fmt.Errorf("channel: listen unified port: %w", err)
		}
		e.mu.Lock()
		e.listeners = append(e.listeners, lis)
		e.mu.Unlock()
		go e.acceptLoop(ctx, lis, func(id string, c net.Conn) {
			if e.clients.upsertUnified(id, c, e.cfg.Mode) {
				e.notifyPeer(id, true)
			}
		})
		e.sm.transition(BothConnected)
		return nil
	}

	sendLis, err := e.listen("tcp", addr(e.cfg.Host, e.cfg.SendPort))
	if err != nil {
		return fmt.Errorf("channel: listen send port: %w", err)
	}
	recvLis, err := e.listen("tcp", addr(e.cfg.Host, e.cfg.ReceivePort))
	if err != nil {
		_ = sendLis.Close()
		return fmt.Errorf("channel: listen receive port: %w", err)
	}
	e.mu.Lock()
	e.listeners = append(e.listeners, sendLis, recvLis)
	e.mu.Unlock()

	go e.acceptLoop(ctx, sendLis, func(id string, c net.Conn) {
		if e.clients.upsertSend(id, c, e.cfg.Mode) {
			e.notifyPeer(id, true)
		}
	})
	go e.acceptLoop(ctx, recvLis, func(id string, c net.Conn) {
		if e.clients.upsertRecv(id, c, e.cfg.Mode) {
			e.notifyPeer(id, true)
		}
	})
	e.sm.transition(SendOnlyConnected)
	return nil
}

func (e *Endpoint) acceptLoop(ctx context.Context, lis net.Listener, register func(string, net.Conn)) {
	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-e.stopCh:
				return
			default:
			}
			return
		}
		id := DeriveClientID(conn.RemoteAddr())
		register(id, conn)
		go e.readLoop(ctx, conn, id)
	}
}

// readLoop frames and decodes inbound traffic on conn, in socket order
// (FIFO per socket). peerID is empty for client-role (one logical
// peer per endpoint).
func (e *Endpoint) readLoop(ctx context.Context, conn net.Conn, peerID string) {
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		if e.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(e.cfg.ReadTimeout))
		}
		n, err := conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			e.onSocketClosed(ctx, conn, peerID)
			return
		}

		for {
			msg, consumed, derr := e.tryDecode(buf)
			if derr != nil || msg == nil {
				break
			}
			buf = buf[consumed:]
			e.dispatch(peerID, msg)
		}
	}
}

// tryDecode attempts to decode exactly one frame from buf, returning how
// many bytes were consumed. It returns a nil message (no error) when buf
// does not yet hold a full frame.
func (e *Endpoint) tryDecode(buf []byte) (*iso8583.Message, int, error) {
	if len(buf) < e.codec.Frame.HeaderBytes {
		return nil, 0, nil
	}
	msg, err := e.codec.Decode(buf)
	if err != nil {
		var pe *iso8583.ParseError
		if errors.As(err, &pe) && pe.Section == "header" {
			return nil, 0, nil // not enough bytes yet
		}
		return nil, 0, err
	}
	payload, consumed, _ := e.codec.Frame.ReadFrame(buf)
	_ = payload
	return msg, consumed, nil
}

func (e *Endpoint) dispatch(peerID string, msg *iso8583.Message) {
	if stan, ok := msg.STAN(); ok && e.cfg.Role == RoleClient {
		if e.registry.IsPending(stan) {
			e.registry.Complete(stan, msg)
			return
		}
	}
	if e.handler == nil {
		return
	}
	resp, err := e.handler(peerID, msg)
	if err != nil || resp == nil {
		return
	}
	_ = e.writeTo(peerID, resp)
}

func (e *Endpoint) writeTo(peerID string, msg *iso8583.Message) error {
	encoded, err := e.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("channel: encode: %w", err)
	}

	var conn net.Conn
	e.mu.Lock()
	switch {
	case e.cfg.Role == RoleClient && e.cfg.Mode == ModeUnifiedPort:
		conn = e.unified
	case e.cfg.Role == RoleClient:
		conn = e.sendConn
	default:
		for _, p := range e.clients.snapshot() {
			if p.clientID == peerID {
				if e.cfg.Mode == ModeUnifiedPort {
					conn = p.unified
				} else {
					conn = p.recv
				}
				break
			}
		}
	}
	e.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("channel: no live socket to write to for peer %q", peerID)
	}
	_, err = conn.Write(encoded)
	return err
}

// Send writes a request message (client role) on the send/unified
// socket. Callers typically pair this with Registry().Register(stan,...)
// to await the matching response.
func (e *Endpoint) Send(msg *iso8583.Message) error {
	encoded, err := e.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("channel: encode: %w", err)
	}
	e.mu.Lock()
	conn := e.sendConn
	if e.cfg.Mode == ModeUnifiedPort {
		conn = e.unified
	}
	e.mu.Unlock()
	if conn == nil {
		return errors.New("channel: not connected")
	}
	_, err = conn.Write(encoded)
	return err
}

func (e *Endpoint) afterConnected(ctx context.Context) {
	if e.cfg.Role == RoleClient {
		e.signOn()
	} else {
		e.sm.transition(SignedOn)
	}
	e.startHeartbeat(ctx)
}

// signOn issues a protocol-level sign-on (client role). The
// built-in default is a best-effort handshake: send a 0800-class message
// and consider the channel signed on once the send succeeds, since the
// ack itself correlates through the ordinary pending-registry path when
// a handler is wired to recognize it.
func (e *Endpoint) signOn() {
	msg := iso8583.NewMessage("0800", map[int][]byte{70: []byte("001")})
	if err := e.Send(msg); err != nil {
		e.sm.transition(Failed)
		return
	}
	e.sm.transition(SignedOn)
}

// SignOff issues a best-effort sign-off and closes the endpoint,
// forcing close if SignOffTimeout elapses first.
func (e *Endpoint) SignOff(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		msg := iso8583.NewMessage("0800", map[int][]byte{70: []byte("002")})
		_ = e.Send(msg)
	}()
	select {
	case <-done:
	case <-time.After(e.cfg.SignOffTimeout):
	}
	return e.Stop(ctx)
}

func (e *Endpoint) startHeartbeat(ctx context.Context) {
	if e.cfg.HeartbeatInterval <= 0 {
		return
	}
	e.mu.Lock()
	e.hbTimer = time.AfterFunc(e.cfg.HeartbeatInterval, func() { e.sendHeartbeat(ctx) })
	e.mu.Unlock()
}

func (e *Endpoint) sendHeartbeat(ctx context.Context) {
	msg := iso8583.NewMessage("0800", map[int][]byte{70: []byte("301")})
	if err := e.Send(msg); err != nil {
		e.escalateReconnect(ctx)
		return
	}
	e.mu.Lock()
	if !e.stopped {
		e.hbTimer = time.AfterFunc(e.cfg.HeartbeatInterval, func() { e.sendHeartbeat(ctx) })
	}
	e.mu.Unlock()
}

// onSocketClosed handles one socket's read loop ending: remove it from
// the client directory (server role) or treat it as connection loss
// (client role).
func (e *Endpoint) onSocketClosed(ctx context.Context, conn net.Conn, peerID string) {
	if e.cfg.Role == RoleServer {
		if e.clients.removeSocket(peerID, conn) {
			e.notifyPeer(peerID, false)
		}
		return
	}
	e.onConnectionLost(ctx)
}

// onConnectionLost cancels every pending request and, if configured,
// schedules a reconnect.
func (e *Endpoint) onConnectionLost(ctx context.Context) {
	e.registry.CancelAll(errors.New("connection lost"))
	e.escalateReconnect(ctx)
}

// escalateReconnect moves the endpoint to Reconnecting and, if
// configured, schedules a reconnect. Heartbeat failures call it directly:
// they escalate to reconnect while in-flight requests time out on their
// own schedule.
func (e *Endpoint) escalateReconnect(ctx context.Context) {
	if !e.sm.transition(Reconnecting) {
		return
	}
	if e.cfg.AutoReconnect {
		e.scheduleReconnect(ctx)
	} else {
		e.sm.transition(Closed)
	}
}

func (e *Endpoint) scheduleReconnect(ctx context.Context) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	attempt := e.retryCount
	e.retryCount++
	e.mu.Unlock()

	if e.cfg.Retry.MaxAttempts > 0 && attempt >= e.cfg.Retry.MaxAttempts {
		e.sm.transition(Failed)
		return
	}

	e.mu.Lock()
	e.reconnTmr = time.AfterFunc(e.cfg.Retry.Delay, func() {
		e.sm.transition(Connecting)
		var err error
		if e.cfg.Role == RoleServer {
			err = e.startServer(ctx)
		} else {
			err = e.startClient(ctx)
		}
		if err != nil {
			e.scheduleReconnect(ctx)
		} else {
			e.mu.Lock()
			e.retryCount = 0
			e.mu.Unlock()
		}
	})
	e.mu.Unlock()
}

// Stop closes every socket and listener and waits up to
// GracefulShutdownTimeout for that to finish; on expiry it stops waiting
// and reports Closed while the close continues in the background. No
// separate force-close step exists.
func (e *Endpoint) Stop(ctx context.Context) error {
	e.sm.transition(Closing)

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.closeAll()
	}()

	select {
	case <-done:
	case <-time.After(e.cfg.GracefulShutdownTimeout):
	}

	e.sm.transition(Closed)
	return nil
}

func (e *Endpoint) closeAll() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	close(e.stopCh)
	if e.hbTimer != nil {
		e.hbTimer.Stop()
	}
	if e.reconnTmr != nil {
		e.reconnTmr.Stop()
	}
	conns := []net.Conn{e.sendConn, e.recvConn, e.unified}
	listeners := append([]net.Listener(nil), e.listeners...)
	e.mu.Unlock()

	for _, c := range conns {
		if c != nil {
			_ = c.Close()
		}
	}
	for _, l := range listeners {
		_ = l.Close()
	}
	for _, p := range e.clients.snapshot() {
		if p.send != nil {
			_ = p.send.Close()
		}
		if p.recv != nil {
			_ = p.recv.Close()
		}
		if p.unified != nil {
			_ = p.unified.Close()
		}
	}
	_ = e.registry.Close()
}

// ConnectedClientCount returns the number of fully-directoried peers
// (server role).
func (e *Endpoint) ConnectedClientCount() int { return e.clients.count() }

func addr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

package connmgr

import (
	"context"
	"sync"
	"time"

	"github.com/nilm987521/fep/channel"
	"github.com/nilm987521/fep/iso8583"
)

// CodecResolver builds the codec to use for a given channel config,
// typically by looking up cfg.Schema in an external schema registry.
type CodecResolver func(cfg channel.Config) *iso8583.Codec

// HandlerResolver builds the inbound-message handler for a given channel
// config, usually one that feeds the transaction pipeline.
type HandlerResolver func(cfg channel.Config) channel.Handler

// Manager reconciles the declared set of channel configurations with
// live endpoints.
type Manager struct {
	resolveCodec   CodecResolver
	resolveHandler HandlerResolver

	mu        sync.RWMutex
	endpoints map[string]*channel.Endpoint
	configs   map[string]channel.Config

	listenersMu sync.Mutex
	listeners   []Listener // copy-on-write
}

// New builds a Manager. resolveCodec must not be nil.
func New(resolveCodec CodecResolver) *Manager {
	return &Manager{
		resolveCodec: resolveCodec,
		endpoints:    make(map[string]*channel.Endpoint),
		configs:      make(map[string]channel.Config),
	}
}

// SetHandlerResolver installs the per-channel inbound-message handler
// factory. Must be called before any endpoint is started; endpoints
// already live are unaffected.
func (m *Manager) SetHandlerResolver(f HandlerResolver) { m.resolveHandler = f }

// AddListener registers a lifecycle observer. Listeners are invoked
// synchronously, in registration order, and one panicking listener does
// not prevent the rest from running.
func (m *Manager) AddListener(l Listener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	next := make([]Listener, len(m.listeners)+1)
	copy(next, m.listeners)
	next[len(m.listeners)] = l
	m.listeners = next
}

func (m *Manager) notify(ev Event) {
	ev.At = timeNow()
	m.listenersMu.Lock()
	ls := m.listeners
	m.listenersMu.Unlock()
	for _, l := range ls {
		safeNotify(l, ev)
	}
}

func safeNotify(l Listener, ev Event) {
	defer func() { _ = recover() }()
	l(ev)
}

// timeNow is a seam so tests can be deterministic if ever needed; it is
// plain time.Now in production.
var timeNow = time.Now

// ApplyFull reconciles the manager's live endpoints against a complete
// configuration snapshot:
// 1. endpoints absent from the snapshot, or present but inactive, are
// closed gracefully;
// 2. active channels not yet live are built and started; start
// failures do not abort the batch;
// 3. existing endpoints whose config changed are rebuilt (current
// policy: any change triggers rebuild).
func (m *Manager) ApplyFull(ctx context.Context, snapshot map[string]channel.Config) {
	m.mu.Lock()
	toClose := make([]*channel.Endpoint, 0)
	for id, ep := range m.endpoints {
		cfg, ok := snapshot[id]
		if !ok || !cfg.Active {
			toClose = append(toClose, ep)
			delete(m.endpoints, id)
			delete(m.configs, id)
		}
	}
	m.mu.Unlock()

	for _, ep := range toClose {
		id := ep.ChannelID()
		_ = ep.Stop(ctx)
		m.notify(Event{Kind: EventRemoved, ChannelID: id})
	}

	for id, cfg := range snapshot {
		if !cfg.Active {
			continue
		}
		m.mu.RLock()
		existing, live := m.endpoints[id]
		prevCfg, hadCfg := m.configs[id]
		m.mu.RUnlock()

		switch {
		case !live:
			m.startNew(ctx, cfg)
		case hadCfg && !prevCfg.Equal(cfg):
			_ = existing.Stop(ctx)
			m.mu.Lock()
			delete(m.endpoints, id)
			m.mu.Unlock()
			m.notify(Event{Kind: EventRecreated, ChannelID: id})
			m.startNew(ctx, cfg)
		}
	}
}

// ApplyDelta applies an incremental update: added/updated channels are
// (re)started, removed channels are closed.
func (m *Manager) ApplyDelta(ctx context.Context, added, updated []channel.Config, removed []string) {
	for _, id := range removed {
		m.Remove(ctx, id)
	}
	for _, cfg := range added {
		m.startNew(ctx, cfg)
	}
	for _, cfg := range updated {
		m.mu.RLock()
		existing, live := m.endpoints[cfg.ChannelID]
		m.mu.RUnlock()
		if live {
			_ = existing.Stop(ctx)
			m.mu.Lock()
			delete(m.endpoints, cfg.ChannelID)
			m.mu.Unlock()
			m.notify(Event{Kind: EventRecreated, ChannelID: cfg.ChannelID})
		}
		m.startNew(ctx, cfg)
	}
}

func (m *Manager) startNew(ctx context.Context, cfg channel.Config) {
	codec := m.resolveCodec(cfg)
	ep := channel.New(cfg, codec)
	if m.resolveHandler != nil {
		ep.SetHandler(m.resolveHandler(cfg))
	}
	ep.OnStateChange(func(channelID string, from, to channel.State) {
		m.notify(Event{Kind: EventStateChanged, ChannelID: channelID, From: from.String(), To: to.String()})
		if to == channel.BothConnected && cfg.Role == channel.RoleServer {
			m.notify(Event{Kind: EventServerStarted, ChannelID: channelID})
		}
	})
	if cfg.Role == channel.RoleServer {
		ep.OnPeerChange(func(channelID, peerID string, connected bool) {
			kind := EventClientConnectedToServer
			if !connected {
				kind = EventClientDisconnectedFromServer
			}
			m.notify(Event{Kind: kind, ChannelID: channelID, PeerID: peerID})
		})
	}

	if err := ep.Start(ctx); err != nil {
		m.notify(Event{Kind: EventFailed, ChannelID: cfg.ChannelID, Err: err})
		// Start reports an error only when AutoReconnect is off: with it
		// on, a failed start schedules a retry and returns nil, and the
		// endpoint (client or server) is registered below. An endpoint
		// reaching this branch is therefore not registered.
		if cfg.Role != channel.RoleClient || !cfg.AutoReconnect {
			return
		}
	}

	m.mu.Lock()
	m.endpoints[cfg.ChannelID] = ep
	m.configs[cfg.ChannelID] = cfg
	m.mu.Unlock()
	m.notify(Event{Kind: EventAdded, ChannelID: cfg.ChannelID})
}

// Add starts a single channel and registers it, equivalent to a
// one-element ApplyDelta add.
func (m *Manager) Add(ctx context.Context, cfg channel.Config) {
	m.startNew(ctx, cfg)
}

// Remove closes and deregisters the endpoint for id, if any.
func (m *Manager) Remove(ctx context.Context, id string) {
	m.mu.Lock()
	ep, ok := m.endpoints[id]
	delete(m.endpoints, id)
	delete(m.configs, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	_ = ep.Stop(ctx)
	m.notify(Event{Kind: EventRemoved, ChannelID: id})
}

// Reconnect tears down and rebuilds the endpoint for id using its
// last-known configuration.
func (m *Manager) Reconnect(ctx context.Context, id string) {
	m.mu.RLock()
	cfg, ok := m.configs[id]
	m.mu.RUnlock()
	if !ok {
		return
	}
	m.mu.Lock()
	if ep, live := m.endpoints[id]; live {
		delete(m.endpoints, id)
		m.mu.Unlock()
		_ = ep.Stop(ctx)
	} else {
		m.mu.Unlock()
	}
	m.notify(Event{Kind: EventRecreated, ChannelID: id})
	m.startNew(ctx, cfg)
}

// GetConnection returns the endpoint for id, or nil if none is live.
func (m *Manager) GetConnection(id string) *channel.Endpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.endpoints[id]
}

// GetServerConnection returns the endpoint for id if it is live and
// server-role, or nil otherwise.
func (m *Manager) GetServerConnection(id string) *channel.Endpoint {
	ep := m.GetConnection(id)
	if ep == nil || ep.Config().Role != channel.RoleServer {
		return nil
	}
	return ep
}

// AllIDs, ConnectedIDs, ActiveIDs, ClientIDs, and ServerIDs return
// snapshots of the endpoint set filtered by the named predicate.
func (m *Manager) AllIDs() []string { return m.filterIDs(func(*channel.Endpoint) bool { return true }) }

func (m *Manager) ConnectedIDs() []string {
	return m.filterIDs(func(ep *channel.Endpoint) bool {
		s := ep.State()
		return s == channel.BothConnected || s == channel.SignedOn
	})
}

func (m *Manager) ActiveIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.configs))
	for id, cfg := range m.configs {
		if cfg.Active {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m *Manager) ClientIDs() []string {
	return m.filterIDs(func(ep *channel.Endpoint) bool { return ep.Config().Role == channel.RoleClient })
}

func (m *Manager) ServerIDs() []string {
	return m.filterIDs(func(ep *channel.Endpoint) bool { return ep.Config().Role == channel.RoleServer })
}

func (m *Manager) filterIDs(pred func(*channel.Endpoint) bool) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.endpoints))
	for id, ep := range m.endpoints {
		if pred(ep) {
			ids = append(ids, id)
		}
	}
	return ids
}

// StateOf returns the state of endpoint id and whether it exists.
func (m *Manager) StateOf(id string) (channel.State, bool) {
	ep := m.GetConnection(id)
	if ep == nil {
		return channel.Disconnected, false
	}
	return ep.State(), true
}

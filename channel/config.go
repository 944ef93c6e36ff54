package channel

import "time"

// Role is which side of the TCP connection this endpoint plays.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Mode selects the dual-port vs unified-port wire topology.
type Mode int

const (
	ModeDualPort Mode = iota
	ModeUnifiedPort
)

// RetryPolicy governs reconnect attempts when AutoReconnect is set.
type RetryPolicy struct {
	MaxAttempts int // 0 means unlimited
	Delay       time.Duration
}

// Config is a channel configuration record.
// It is created by registry load, mutated only via hot-reload diff, and
// destroyed when removed from configuration.
type Config struct {
	ChannelID     string
	InstitutionID string
	Role          Role
	Mode          Mode

	Host        string
	SendPort    int
	ReceivePort int
	UnifiedPort int

	ConnectTimeout          time.Duration
	ReadTimeout             time.Duration
	HeartbeatInterval       time.Duration
	SignOffTimeout          time.Duration
	GracefulShutdownTimeout time.Duration

	Retry         RetryPolicy
	AutoReconnect bool

	Active bool

	// Schema is the message-schema reference; nil falls back to the
	// codec's default schema.
	Schema *SchemaRef
}

// SchemaRef names an externally-resolved message schema. The schema
// internals themselves are an opaque, out-of-scope collaborator; we
// only need a stable reference to compare across config updates.
type SchemaRef struct {
	Name    string
	Version string
}

// Equal reports whether c and o describe the same connection. The
// connection manager rebuilds an endpoint whenever Equal is false; the
// policy is deliberately conservative, any difference triggers rebuild
// rather than diffing for the fields that would strictly require one.
func (c Config) Equal(o Config) bool {
	if c == o {
		return true
	}
	return c.ChannelID == o.ChannelID && c.InstitutionID == o.InstitutionID &&
		c.Role == o.Role && c.Mode == o.Mode &&
		c.Host == o.Host && c.SendPort == o.SendPort &&
		c.ReceivePort == o.ReceivePort && c.UnifiedPort == o.UnifiedPort &&
		c.ConnectTimeout == o.ConnectTimeout && c.ReadTimeout == o.ReadTimeout &&
		c.HeartbeatInterval == o.HeartbeatInterval &&
		c.SignOffTimeout == o.SignOffTimeout &&
		c.GracefulShutdownTimeout == o.GracefulShutdownTimeout &&
		c.Retry == o.Retry && c.AutoReconnect == o.AutoReconnect &&
		c.Active == o.Active && equalSchemaRef(c.Schema, o.Schema)
}

func equalSchemaRef(a, b *SchemaRef) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func defaultDuration(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func (c Config) withDefaults() Config {
	c.ConnectTimeout = defaultDuration(c.ConnectTimeout, 5*time.Second)
	c.ReadTimeout = defaultDuration(c.ReadTimeout, 30*time.Second)
	c.HeartbeatInterval = defaultDuration(c.HeartbeatInterval, 30*time.Second)
	c.SignOffTimeout = defaultDuration(c.SignOffTimeout, 10*time.Second)
	c.GracefulShutdownTimeout = defaultDuration(c.GracefulShutdownTimeout, 10*time.Second)
	if c.Retry.Delay <= 0 {
		c.Retry.Delay = time.Second
	}
	return c
}

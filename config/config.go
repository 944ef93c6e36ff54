// Package config loads the channel configuration document with viper
// and re-reads it on change via viper.WatchConfig's fsnotify-backed
// watcher, pushing a fresh snapshot to subscribers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/nilm987521/fep/channel"
)

// ChannelSpec is the on-disk shape of one channel configuration entry.
// Field names mirror channel.Config; Role and Mode are spelled out as
// strings in the document for readability.
type ChannelSpec struct {
	ChannelID     string `mapstructure:"channel_id"`
	InstitutionID string `mapstructure:"institution_id"`

	Role        string `mapstructure:"role"` // "client" or "server"
	Mode        string `mapstructure:"mode"` // "dual_port" or "unified_port"
	Host        string `mapstructure:"host"`
	SendPort    int    `mapstructure:"send_port"`
	ReceivePort int    `mapstructure:"receive_port"`
	UnifiedPort int    `mapstructure:"unified_port"`

	ConnectTimeout          time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	HeartbeatInterval       time.Duration `mapstructure:"heartbeat_interval"`
	SignOffTimeout          time.Duration `mapstructure:"sign_off_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`

	RetryMaxAttempts int           `mapstructure:"retry_max_attempts"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	AutoReconnect    bool          `mapstructure:"auto_reconnect"`

	Active bool `mapstructure:"active"`

	SchemaName    string `mapstructure:"schema_name"`
	SchemaVersion string `mapstructure:"schema_version"`
}

// Document is the top-level configuration document: a list of channels,
// read at startup and re-read on change.
type Document struct {
	Channels []ChannelSpec `mapstructure:"channels"`
}

// ToChannelConfig converts one ChannelSpec into a channel.Config.
func (s ChannelSpec) ToChannelConfig() (channel.Config, error) {
	var role channel.Role
	switch strings.ToLower(s.Role) {
	case "client", "":
		role = channel.RoleClient
	case "server":
		role = channel.RoleServer
	default:
		return channel.Config{}, fmt.Errorf("config: channel %q: unknown role %q", s.ChannelID, s.Role)
	}

	var mode channel.Mode
	switch strings.ToLower(s.Mode) {
	case "dual_port", "":
		mode = channel.ModeDualPort
	case "unified_port":
		mode = channel.ModeUnifiedPort
	default:
		return channel.Config{}, fmt.Errorf("config: channel %q: unknown mode %q", s.ChannelID, s.Mode)
	}

	cfg := channel.Config{
		ChannelID:               s.ChannelID,
		InstitutionID:           s.InstitutionID,
		Role:                    role,
		Mode:                    mode,
		Host:                    s.Host,
		SendPort:                s.SendPort,
		ReceivePort:             s.ReceivePort,
		UnifiedPort:             s.UnifiedPort,
		ConnectTimeout:          s.ConnectTimeout,
		ReadTimeout:             s.ReadTimeout,
		HeartbeatInterval:       s.HeartbeatInterval,
		SignOffTimeout:          s.SignOffTimeout,
		GracefulShutdownTimeout: s.GracefulShutdownTimeout,
		Retry: channel.RetryPolicy{
			MaxAttempts: s.RetryMaxAttempts,
			Delay:       s.RetryDelay,
		},
		AutoReconnect: s.AutoReconnect,
		Active:        s.Active,
	}
	if s.SchemaName != "" {
		cfg.Schema = &channel.SchemaRef{Name: s.SchemaName, Version: s.SchemaVersion}
	}
	return cfg, nil
}

// ToSnapshot converts a Document into the map[string]channel.Config
// snapshot shape connmgr.Manager.ApplyFull expects, keyed by ChannelID.
func (d Document) ToSnapshot() (map[string]channel.Config, error) {
	snapshot := make(map[string]channel.Config, len(d.Channels))
	for _, spec := range d.Channels {
		if spec.ChannelID == "" {
			return nil, fmt.Errorf("config: channel entry missing channel_id")
		}
		cfg, err := spec.ToChannelConfig()
		if err != nil {
			return nil, err
		}
		snapshot[spec.ChannelID] = cfg
	}
	return snapshot, nil
}

// Loader reads the channel configuration document from disk and, once
// Watch is called, pushes a fresh snapshot to its subscriber every time
// the file changes on disk.
type Loader struct {
	v *viper.Viper
}

// NewLoader builds a Loader bound to path. path's extension selects the
// decoder (yaml, json, toml,...); viper infers it.
func NewLoader(path string) *Loader {
	v := viper.New()
	v.SetConfigFile(path)
	return &Loader{v: v}
}

// Load reads and parses the document into a connection snapshot.
func (l *Loader) Load() (map[string]channel.Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	var doc Document
	if err := l.v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return doc.ToSnapshot()
}

// Watch begins watching the configuration file for changes (viper's
// WatchConfig, itself backed by an fsnotify.Watcher) and invokes onChange
// with a freshly parsed snapshot every time the file is written. onChange
// receives a non-nil error instead of a snapshot if the new document
// fails to parse; the previously applied snapshot is left untouched by
// the caller in that case.
func (l *Loader) Watch(onChange func(map[string]channel.Config, error)) {
	l.v.OnConfigChange(func(_ fsnotify.Event) {
		var doc Document
		if err := l.v.Unmarshal(&doc); err != nil {
			onChange(nil, fmt.Errorf("config: unmarshal: %w", err))
			return
		}
		snapshot, err := doc.ToSnapshot()
		if err != nil {
			onChange(nil, err)
			return
		}
		onChange(snapshot, nil)
	})
	l.v.WatchConfig()
}

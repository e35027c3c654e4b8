// Package config loads the runtime settings shared by the server and client.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/QYUbit/Replica/pkg/wire"
	"gopkg.in/yaml.v3"
)

// EnvPath names the environment variable holding an optional config file path.
const EnvPath = "REPLICA_CONFIG"

type Poll struct {
	TimeoutMillis int `yaml:"timeout_millis"`
	MaxIterations int `yaml:"max_iterations"`
}

func (p Poll) Timeout() time.Duration {
	return time.Duration(p.TimeoutMillis) * time.Millisecond
}

type Config struct {
	Port       int    `yaml:"port"`
	ServerHost string `yaml:"server_host"`
	Transport  string `yaml:"transport"`
	Avatar     string `yaml:"avatar"`

	ProtocolVersion             uint16 `yaml:"protocol_version"`
	DisconnectOnVersionMismatch bool   `yaml:"disconnect_on_version_mismatch"`

	TickMillis        int  `yaml:"tick_millis"`
	ServerPoll        Poll `yaml:"server_poll"`
	ClientPoll        Poll `yaml:"client_poll"`
	MaxVisibleObjects int  `yaml:"max_visible_objects"`
	MaxPacketSize     int  `yaml:"max_packet_size"`
	QueueCapacity     int  `yaml:"queue_capacity"`

	FOV         float32 `yaml:"fov"`
	AspectRatio float32 `yaml:"aspect_ratio"`

	LogLevel string `yaml:"log_level"`
}

func Defaults() Config {
	return Config{
		Port:                        8080,
		ServerHost:                  "127.0.0.1",
		Transport:                   "tcpudp",
		Avatar:                      "player",
		ProtocolVersion:             0,
		DisconnectOnVersionMismatch: true,
		TickMillis:                  15,
		ServerPoll:                  Poll{TimeoutMillis: 15, MaxIterations: 50},
		ClientPoll:                  Poll{TimeoutMillis: 20, MaxIterations: 8},
		MaxVisibleObjects:           15,
		MaxPacketSize:               2048,
		QueueCapacity:               1024,
		FOV:                         90,
		AspectRatio:                 16.0 / 9.0,
		LogLevel:                    "info",
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		return cfg, cfg.Validate()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv loads the file named by REPLICA_CONFIG, if set.
func FromEnv() (Config, error) {
	return Load(os.Getenv(EnvPath))
}

func (c Config) Tick() time.Duration {
	return time.Duration(c.TickMillis) * time.Millisecond
}

func (c Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.Port)
}

func (c Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.Transport {
	case "tcpudp", "quic", "websocket":
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}
	switch c.Avatar {
	case "player", "car":
	default:
		errs = append(errs, fmt.Errorf("unknown avatar %q", c.Avatar))
	}
	if c.TickMillis <= 0 {
		errs = append(errs, errors.New("tick_millis must be positive"))
	}
	for name, p := range map[string]Poll{"server_poll": c.ServerPoll, "client_poll": c.ClientPoll} {
		if p.TimeoutMillis < 0 || p.MaxIterations <= 0 {
			errs = append(errs, fmt.Errorf("%s: timeout must be >= 0 and iterations > 0", name))
		}
	}
	if c.MaxVisibleObjects <= 0 || c.MaxVisibleObjects > 256 {
		errs = append(errs, fmt.Errorf("max_visible_objects %d must be in 1..256", c.MaxVisibleObjects))
	}
	if c.MaxPacketSize <= 0 || c.MaxPacketSize > wire.MaxPacketSize {
		errs = append(errs, fmt.Errorf("max_packet_size %d must be in 1..%d", c.MaxPacketSize, wire.MaxPacketSize))
	}
	if c.QueueCapacity <= 0 {
		errs = append(errs, errors.New("queue_capacity must be positive"))
	}
	return errors.Join(errs...)
}

// CheckStateSize reports whether a state datagram carrying stateSize bytes
// fits in max_packet_size.
func (c Config) CheckStateSize(stateSize int) error {
	if need := wire.SizeOf[wire.StateHeader]() + stateSize; need > c.MaxPacketSize {
		return fmt.Errorf("max_packet_size %d is below the %d bytes a state datagram needs", c.MaxPacketSize, need)
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	TransportWebSocket = "websocket"
	TransportNATS      = "nats"

	SnapshotHTTP     = "http"
	SnapshotPostgres = "postgres"
	SnapshotNone     = "none"
)

// Config holds the lobby mirror configuration
type Config struct {
	Upstream struct {
		Transport        string        `yaml:"transport"`
		WebSocketURL     string        `yaml:"websocket_url"`
		HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
		PingInterval     time.Duration `yaml:"ping_interval"`
		ReconnectMin     time.Duration `yaml:"reconnect_min"`
		ReconnectMax     time.Duration `yaml:"reconnect_max"`
	} `yaml:"upstream"`

	NATS struct {
		URL           string        `yaml:"url"`
		Stream        string        `yaml:"stream"`
		Subject       string        `yaml:"subject"`
		MaxReconnects int           `yaml:"max_reconnects"`
		ReconnectWait time.Duration `yaml:"reconnect_wait"`
	} `yaml:"nats"`

	Snapshot struct {
		Source  string        `yaml:"source"`
		URL     string        `yaml:"url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"snapshot"`

	Postgres Postgres `yaml:"postgres"`

	HTTP struct {
		Port           int      `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"http"`

	Log struct {
		Level   string `yaml:"level"`
		Console bool   `yaml:"console"`
	} `yaml:"log"`

	PipelineBuffer int `yaml:"pipeline_buffer"`
}

// Default returns the configuration used when no file is present
func Default() Config {
	var c Config
	c.Upstream.Transport = TransportWebSocket
	c.Upstream.WebSocketURL = "ws://localhost:8001/ws/room_updates/"
	c.Upstream.HandshakeTimeout = 10 * time.Second
	c.Upstream.PingInterval = 30 * time.Second
	c.Upstream.ReconnectMin = time.Second
	c.Upstream.ReconnectMax = 30 * time.Second

	c.NATS.URL = "nats://localhost:4222"
	c.NATS.Stream = "ROOM_UPDATES"
	c.NATS.Subject = "rooms.updates.>"
	c.NATS.MaxReconnects = -1
	c.NATS.ReconnectWait = 2 * time.Second

	c.Snapshot.Source = SnapshotHTTP
	c.Snapshot.URL = "http://localhost:8000/api/rooms/"
	c.Snapshot.Timeout = 10 * time.Second

	c.Postgres.Port = 5432
	c.Postgres.User = "postgres"
	c.Postgres.Database = "skullking"
	c.Postgres.SSLMode = "disable"

	c.HTTP.Port = 8082
	c.Log.Level = "info"
	c.Log.Console = true
	c.PipelineBuffer = 256
	return c
}

// Load reads path over the defaults, then applies environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Upstream.Transport = getEnv("LOBBY_TRANSPORT", c.Upstream.Transport)
	c.Upstream.WebSocketURL = getEnv("LOBBY_WEBSOCKET_URL", c.Upstream.WebSocketURL)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.Snapshot.Source = getEnv("LOBBY_SNAPSHOT_SOURCE", c.Snapshot.Source)
	c.Snapshot.URL = getEnv("LOBBY_SNAPSHOT_URL", c.Snapshot.URL)
	c.Postgres.DSN = getEnv("DATABASE_URL", c.Postgres.DSN)
	c.Postgres.Host = getEnv("DB_HOST", c.Postgres.Host)
	c.Postgres.Port = getEnvAsInt("DB_PORT", c.Postgres.Port)
	c.Postgres.User = getEnv("DB_USER", c.Postgres.User)
	c.Postgres.Password = getEnv("DB_PASSWORD", c.Postgres.Password)
	c.Postgres.Database = getEnv("DB_NAME", c.Postgres.Database)
	c.Postgres.SSLMode = getEnv("DB_SSLMODE", c.Postgres.SSLMode)
	c.HTTP.Port = getEnvAsInt("PORT", c.HTTP.Port)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	if origins := getEnv("LOBBY_ALLOWED_ORIGINS", ""); origins != "" {
		c.HTTP.AllowedOrigins = splitCSV(origins)
	}
}

// Validate checks the configuration for unusable values
func (c *Config) Validate() error {
	switch c.Upstream.Transport {
	case TransportWebSocket:
		if c.Upstream.WebSocketURL == "" {
			return errors.New("upstream.websocket_url is required for the websocket transport")
		}
	case TransportNATS:
		if c.NATS.URL == "" || c.NATS.Stream == "" || c.NATS.Subject == "" {
			return errors.New("nats.url, nats.stream and nats.subject are required for the nats transport")
		}
	default:
		return fmt.Errorf("unknown upstream.transport %q", c.Upstream.Transport)
	}

	switch c.Snapshot.Source {
	case SnapshotHTTP:
		if c.Snapshot.URL == "" {
			return errors.New("snapshot.url is required for the http snapshot source")
		}
	case SnapshotPostgres:
		if c.Postgres.ConnString() == "" {
			return errors.New("postgres.dsn or postgres.host is required for the postgres snapshot source")
		}
	case SnapshotNone:
	default:
		return fmt.Errorf("unknown snapshot.source %q", c.Snapshot.Source)
	}

	if c.Upstream.ReconnectMin <= 0 || c.Upstream.ReconnectMax < c.Upstream.ReconnectMin {
		return fmt.Errorf("invalid reconnect bounds %s..%s", c.Upstream.ReconnectMin, c.Upstream.ReconnectMax)
	}
	if c.HTTP.Port <= 0 {
		return fmt.Errorf("invalid http.port %d", c.HTTP.Port)
	}
	if c.PipelineBuffer < 0 {
		return fmt.Errorf("invalid pipeline_buffer %d", c.PipelineBuffer)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func splitCSV(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

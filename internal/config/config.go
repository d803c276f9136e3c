package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/petervdpas/goopforum/internal/util"
)

// FileName is the config file inside an instance directory.
const FileName = "goopforum.json"

const (
	DriverRedis  = "redis"
	DriverGossip = "gossip"
	DriverKafka  = "kafka"
	DriverMemory = "memory"
)

type Config struct {
	Instance Instance `json:"instance"`
	Profile  Profile  `json:"profile"`
	Paths    Paths    `json:"paths"`
	Bus      Bus      `json:"bus"`
	Crypto   Crypto   `json:"crypto"`
	Viewer   Viewer   `json:"viewer"`
	Log      Log      `json:"log"`
}

type Instance struct {
	// Display name shown to operators. The instance id itself is generated
	// at every start and never configured.
	Name string `json:"name"`
}

// Profile is the local account this instance acts as.
type Profile struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Paths struct {
	DataDir string `json:"data_dir"`
}

type Bus struct {
	Driver           string `json:"driver"` // redis, gossip, kafka, memory
	Channel          string `json:"channel"`
	PublishTimeoutMs int    `json:"publish_timeout_ms"`

	RedisURL string `json:"redis_url"`

	KafkaBrokers []string `json:"kafka_brokers"`

	GossipListenPort int      `json:"gossip_listen_port"`
	GossipBootstrap  []string `json:"gossip_bootstrap"`
	GossipMDNS       bool     `json:"gossip_mdns"`
}

type Crypto struct {
	RoomKeyBits int `json:"room_key_bits"`

	// age X25519 identity ("AGE-SECRET-KEY-1...") shared by every instance
	// of the deployment. Empty disables sharing room private keys.
	DeploymentIdentity string `json:"deployment_identity"`
}

type Viewer struct {
	HTTPAddr    string `json:"http_addr"`
	HistorySize int    `json:"history_size"`
}

type Log struct {
	Level  string `json:"level"`
	Format string `json:"format"` // console or json
}

func Default() Config {
	return Config{
		Instance: Instance{
			Name: "forum",
		},
		Profile: Profile{
			Username: "admin",
		},
		Paths: Paths{
			DataDir: "data",
		},
		Bus: Bus{
			Driver:           DriverRedis,
			Channel:          "forum_channel",
			PublishTimeoutMs: 2000,
			RedisURL:         "redis://localhost:6379/0",
			GossipMDNS:       true,
		},
		Crypto: Crypto{
			RoomKeyBits: 2048,
		},
		Viewer: Viewer{
			HTTPAddr:    "127.0.0.1:8080",
			HistorySize: 50,
		},
		Log: Log{
			Level:  "info",
			Format: "console",
		},
	}
}

func (c *Config) Validate() error {
	// Profile
	if _, err := util.ValidateUsername(c.Profile.Username); err != nil {
		return fmt.Errorf("profile.username: %w", err)
	}

	// Paths
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir is required")
	}

	// Bus
	if strings.TrimSpace(c.Bus.Channel) == "" {
		return errors.New("bus.channel is required")
	}
	if c.Bus.PublishTimeoutMs <= 0 {
		return errors.New("bus.publish_timeout_ms must be > 0")
	}
	switch c.Bus.Driver {
	case DriverRedis:
		if err := validateRedisURL(c.Bus.RedisURL); err != nil {
			return fmt.Errorf("bus.redis_url: %w", err)
		}
	case DriverKafka:
		if len(c.Bus.KafkaBrokers) == 0 {
			return errors.New("bus.kafka_brokers is required for the kafka driver")
		}
		for _, b := range c.Bus.KafkaBrokers {
			if _, _, err := net.SplitHostPort(b); err != nil {
				return fmt.Errorf("bus.kafka_brokers: %q: %w", b, err)
			}
		}
	case DriverGossip:
		if c.Bus.GossipListenPort < 0 || c.Bus.GossipListenPort > 65535 {
			return errors.New("bus.gossip_listen_port must be 0..65535")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("bus.driver %q must be one of redis, gossip, kafka, memory", c.Bus.Driver)
	}

	// Crypto
	if c.Crypto.RoomKeyBits < 2048 {
		return errors.New("crypto.room_key_bits must be >= 2048")
	}
	if id := strings.TrimSpace(c.Crypto.DeploymentIdentity); id != "" && !strings.HasPrefix(id, "AGE-SECRET-KEY-1") {
		return errors.New("crypto.deployment_identity must be an age X25519 identity")
	}

	// Viewer
	if c.Viewer.HTTPAddr != "" {
		if _, _, err := net.SplitHostPort(c.Viewer.HTTPAddr); err != nil {
			return fmt.Errorf("viewer.http_addr: %w", err)
		}
	}
	if c.Viewer.HistorySize < 0 {
		return errors.New("viewer.history_size must be >= 0")
	}

	// Log
	switch c.Log.Format {
	case "console", "json":
	default:
		return errors.New("log.format must be console or json")
	}

	return nil
}

func validateRedisURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return errors.New("scheme must be redis or rediss")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func Load(path string) (Config, error) {
	cfg, err := LoadPartial(path)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadPartial reads a config file and applies environment overrides without
// validation. Useful for reading individual fields (like log.level) when full
// validation may fail.
func LoadPartial(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	ApplyEnv(&cfg)

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	ApplyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, true, err
	}
	return cfg, true, nil
}

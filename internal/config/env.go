package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads <dir>/.env into the process environment if present.
// Variables already set in the environment win.
func LoadDotEnv(dir string) {
	_ = godotenv.Load(filepath.Join(dir, ".env"))
}

// ApplyEnv overrides config fields from FORUM_* environment variables.
func ApplyEnv(c *Config) {
	setString(&c.Instance.Name, "FORUM_INSTANCE_NAME")
	setString(&c.Profile.Username, "FORUM_USERNAME")
	setString(&c.Profile.Email, "FORUM_EMAIL")
	setString(&c.Profile.Password, "FORUM_PASSWORD")
	setString(&c.Paths.DataDir, "FORUM_DATA_DIR")

	setString(&c.Bus.Driver, "FORUM_BUS_DRIVER")
	setString(&c.Bus.Channel, "FORUM_BUS_CHANNEL")
	setInt(&c.Bus.PublishTimeoutMs, "FORUM_PUBLISH_TIMEOUT_MS")
	setString(&c.Bus.RedisURL, "FORUM_REDIS_URL")
	setList(&c.Bus.KafkaBrokers, "FORUM_KAFKA_BROKERS")
	setInt(&c.Bus.GossipListenPort, "FORUM_GOSSIP_PORT")
	setList(&c.Bus.GossipBootstrap, "FORUM_GOSSIP_BOOTSTRAP")

	setString(&c.Crypto.DeploymentIdentity, "FORUM_DEPLOYMENT_IDENTITY")
	setInt(&c.Crypto.RoomKeyBits, "FORUM_ROOM_KEY_BITS")

	setString(&c.Viewer.HTTPAddr, "FORUM_HTTP_ADDR")
	setString(&c.Log.Level, "FORUM_LOG_LEVEL")
	setString(&c.Log.Format, "FORUM_LOG_FORMAT")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

// setList reads a comma-separated list.
func setList(dst *[]string, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	var out []string
	for _, entry := range strings.Split(v, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	*dst = out
}

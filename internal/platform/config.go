package platform

import (
	"os"
	"strconv"
	"time"
)

// Config is the process configuration read from the environment.
type Config struct {
	Addr         string
	DataDir      string
	SchemaDir    string
	RedisURL     string
	RedisChannel string
	CORSOrigin   string
	Debounce     time.Duration
	SendBuffer   int
}

// LoadConfig reads DOCSYNC_* variables, falling back to defaults.
func LoadConfig() Config {
	return Config{
		Addr:         getenv("DOCSYNC_ADDR", ":3001"),
		DataDir:      getenv("DOCSYNC_DATA_DIR", "./data"),
		SchemaDir:    getenv("DOCSYNC_SCHEMA_DIR", ""),
		RedisURL:     getenv("DOCSYNC_REDIS_URL", ""),
		RedisChannel: getenv("DOCSYNC_REDIS_CHANNEL", ""),
		CORSOrigin:   getenv("DOCSYNC_CORS_ORIGIN", "*"),
		Debounce:     time.Duration(getenvInt("DOCSYNC_DEBOUNCE_MS", 100)) * time.Millisecond,
		SendBuffer:   getenvInt("DOCSYNC_SEND_BUFFER", 64),
	}
}

// Options converts the configuration to engine options.
func (c Config) Options() []Option {
	return []Option{
		WithSchemaDir(c.SchemaDir),
		WithRedis(c.RedisURL),
		WithRedisChannel(c.RedisChannel),
		WithCORSOrigin(c.CORSOrigin),
		WithDebounce(c.Debounce),
		WithSendBuffer(c.SendBuffer),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Settings holds the runtime configuration of the condenser.
type Settings struct {
	Port        string
	ReportsPath string
	Storage     string
	MaxMemoryMB int64

	KafkaBrokers     []string
	KafkaInputTopic  string
	KafkaOutputTopic string
	KafkaGroup       string

	APIHost  string
	APIPort  int
	APIHTTPS bool
}

var (
	// ErrEmptyReportsPath is returned when no reports directory is configured
	ErrEmptyReportsPath = errors.New("reports path cannot be empty")

	// ErrUnknownStorage is returned for an unsupported storage backend name
	ErrUnknownStorage = errors.New("unknown storage backend")

	// ErrEmptyAPIHost is returned when the TIX API host is missing
	ErrEmptyAPIHost = errors.New("api host cannot be empty")

	// ErrInvalidAPIPort is returned for a non-positive TIX API port
	ErrInvalidAPIPort = errors.New("api port must be positive")
)

// Load reads settings from the environment. Values from envFiles (or .env
// when none are given) are loaded first and never override variables that
// are already set.
func Load(envFiles ...string) Settings {
	if err := godotenv.Load(envFiles...); err != nil && len(envFiles) > 0 {
		log.Printf("Could not load env files %v: %v", envFiles, err)
	}

	return Settings{
		Port:        getEnv("PORT", DefaultPort),
		ReportsPath: getEnv("CONDENSER_REPORTS_PATH", DefaultReportsPath),
		Storage:     strings.ToLower(getEnv("CONDENSER_STORAGE", DefaultStorage)),
		MaxMemoryMB: getEnvInt64("CONDENSER_MAX_MEMORY_MB", DefaultMaxMemoryMB),

		KafkaBrokers:     splitList(getEnv("CONDENSER_KAFKA_BROKERS", DefaultKafkaBrokers)),
		KafkaInputTopic:  getEnv("CONDENSER_KAFKA_INPUT_TOPIC", DefaultKafkaInputTopic),
		KafkaOutputTopic: getEnv("CONDENSER_KAFKA_OUTPUT_TOPIC", DefaultKafkaOutputTopic),
		KafkaGroup:       getEnv("CONDENSER_KAFKA_GROUP", DefaultKafkaGroup),

		APIHost:  os.Getenv("CONDENSER_API_HOST"),
		APIPort:  int(getEnvInt64("CONDENSER_API_PORT", DefaultAPIPort)),
		APIHTTPS: getEnvBool("CONDENSER_API_HTTPS", true),
	}
}

// Validate checks that the settings describe a runnable service.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.ReportsPath) == "" {
		return ErrEmptyReportsPath
	}
	switch s.Storage {
	case StorageFilesystem, StorageBadger, StorageMemory:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStorage, s.Storage)
	}
	if s.APIHost == "" {
		return ErrEmptyAPIHost
	}
	if s.APIPort <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, s.APIPort)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// getEnvInt64 gets an int64 from environment variable or returns default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %d", key, val, defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %t", key, val, defaultValue)
	}
	return defaultValue
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

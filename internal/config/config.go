package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreDriverFile     = "file"
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"

	defaultHistoryLimit  = 50
	defaultModelTimeout  = 120 * time.Second
	defaultMaxModelRound = 25

	defaultHTTPReadHeaderTimeout = 10 * time.Second
	defaultHTTPReadTimeout       = 120 * time.Second
	defaultHTTPIdleTimeout       = 120 * time.Second
	defaultHTTPShutdownTimeout   = 30 * time.Second
)

// HTTPConfig holds listener timeouts. WriteTimeout is zero by default because
// a chat request spans several model rounds.
type HTTPConfig struct {
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
}

type Config struct {
	Host                             string
	Port                             string
	DataDir                          string
	APIKey                           string
	StoreDriver                      string
	DatabaseURL                      string
	HistoryLimit                     int
	ModelTimeout                     time.Duration
	MaxModelRounds                   int
	SerializeConversations           bool
	OpenAIBaseURL                    string
	TwilioPublicBaseURL              string
	TwilioDisableSignatureValidation bool
	HTTP                             HTTPConfig
}

func (c Config) Addr() string {
	return c.Host + ":" + c.Port
}

func Load() Config {
	host := os.Getenv("SYNAPSE_HOST")
	if host == "" {
		host = "127.0.0.1"
	}
	port := os.Getenv("SYNAPSE_PORT")
	if port == "" {
		port = "8088"
	}
	dataDir := os.Getenv("SYNAPSE_DATA_DIR")
	if dataDir == "" {
		dataDir = ".data"
	}
	return Config{
		Host:                             host,
		Port:                             port,
		DataDir:                          dataDir,
		APIKey:                           strings.TrimSpace(os.Getenv("SYNAPSE_API_KEY")),
		StoreDriver:                      parseStoreDriver("SYNAPSE_STORE_DRIVER"),
		DatabaseURL:                      firstEnv("SYNAPSE_DATABASE_URL", "DATABASE_URL"),
		HistoryLimit:                     parsePositiveInt("SYNAPSE_HISTORY_LIMIT", defaultHistoryLimit),
		ModelTimeout:                     time.Duration(parsePositiveInt("SYNAPSE_MODEL_TIMEOUT_SECONDS", int(defaultModelTimeout/time.Second))) * time.Second,
		MaxModelRounds:                   parsePositiveInt("SYNAPSE_MAX_MODEL_ROUNDS", defaultMaxModelRound),
		SerializeConversations:           parseEnvBoolDefault("SYNAPSE_SERIALIZE_CONVERSATIONS", true),
		OpenAIBaseURL:                    strings.TrimRight(strings.TrimSpace(os.Getenv("SYNAPSE_OPENAI_BASE_URL")), "/"),
		TwilioPublicBaseURL:              strings.TrimRight(firstEnv("SYNAPSE_TWILIO_PUBLIC_BASE_URL", "TWILIO_PUBLIC_BASE_URL"), "/"),
		TwilioDisableSignatureValidation: parseEnvBool("SYNAPSE_TWILIO_DISABLE_SIGNATURE_VALIDATION") || parseEnvBool("TWILIO_DISABLE_SIGNATURE_VALIDATION"),
		HTTP: HTTPConfig{
			ReadHeaderTimeout: parseSeconds("SYNAPSE_HTTP_READ_HEADER_TIMEOUT_SECONDS", defaultHTTPReadHeaderTimeout, false),
			ReadTimeout:       parseSeconds("SYNAPSE_HTTP_READ_TIMEOUT_SECONDS", defaultHTTPReadTimeout, false),
			WriteTimeout:      parseSeconds("SYNAPSE_HTTP_WRITE_TIMEOUT_SECONDS", 0, true),
			IdleTimeout:       parseSeconds("SYNAPSE_HTTP_IDLE_TIMEOUT_SECONDS", defaultHTTPIdleTimeout, false),
			ShutdownTimeout:   parseSeconds("SYNAPSE_HTTP_SHUTDOWN_TIMEOUT_SECONDS", defaultHTTPShutdownTimeout, false),
		},
	}
}

// parseEnvBool accepts the operator spellings "1", "true" and "yes".
func parseEnvBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func parseEnvBoolDefault(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return fallback
	}
}

func parseStoreDriver(key string) string {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "postgres", "postgresql", "pg":
		return StoreDriverPostgres
	case "sqlite", "sqlite3":
		return StoreDriverSQLite
	case "file":
		fallthrough
	default:
		return StoreDriverFile
	}
}

func parsePositiveInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

// parseSeconds reads a whole number of seconds. Zero is only accepted when
// allowZero is set; anything else invalid falls back with a log line.
func parseSeconds(key string, fallback time.Duration, allowZero bool) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 || (seconds == 0 && !allowZero) {
		log.Printf("[config] invalid %s=%q, fallback to %s", key, raw, fallback)
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}

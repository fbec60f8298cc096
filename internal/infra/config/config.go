package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Desk aggregates the sync daemon configuration loaded from environment variables.
type Desk struct {
	Env            string
	HTTPAddr       string
	LogFile        string
	APIBaseURL     string
	SocketURL      string
	HTTPTimeout    time.Duration
	DialTimeout    time.Duration
	RetryBackoff   []time.Duration
	SessionDBPath  string
	AllowedOrigins []string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	S3UseSSL       bool
}

// DevServer aggregates the reference backend configuration.
type DevServer struct {
	Env              string
	HTTPAddr         string
	LogFile          string
	JWTSecret        string
	TokenTTL         time.Duration
	MongoURI         string
	MongoDB          string
	KafkaBrokers     []string
	KafkaTopicPrefix string
	UsersFixtures    string
}

// LoadDotEnv reads an optional .env file; a missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadDesk parses the daemon configuration from the current environment.
func LoadDesk() (Desk, error) {
	cfg := Desk{
		Env:           getEnv("APP_ENV", "dev"),
		HTTPAddr:      getEnv("HTTP_ADDR", ":8090"),
		LogFile:       os.Getenv("LOG_FILE"),
		APIBaseURL:    strings.TrimRight(getEnv("INQUIRY_API_URL", "http://localhost:8080"), "/"),
		SocketURL:     os.Getenv("INQUIRY_SOCKET_URL"),
		SessionDBPath: getEnv("SESSION_DB_PATH", "inquirydesk.db"),
		S3Endpoint:    os.Getenv("S3_ENDPOINT"),
		S3AccessKey:   getEnv("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:   getEnv("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:      getEnv("S3_BUCKET", "inquiry-transcripts"),
	}
	if cfg.SocketURL == "" {
		cfg.SocketURL = deriveSocketURL(cfg.APIBaseURL)
	}
	cfg.AllowedOrigins = splitAndTrim(getEnv("ALLOWED_ORIGINS", "*"))

	timeout, err := parseDurationEnv("HTTP_TIMEOUT", 10*time.Second)
	if err != nil {
		return Desk{}, err
	}
	cfg.HTTPTimeout = timeout

	dial, err := parseDurationEnv("SOCKET_DIAL_TIMEOUT", 5*time.Second)
	if err != nil {
		return Desk{}, err
	}
	cfg.DialTimeout = dial

	backoff, err := parseBackoff(getEnv("RETRY_BACKOFF", "1s,5s,30s"))
	if err != nil {
		return Desk{}, err
	}
	cfg.RetryBackoff = backoff

	useSSL, err := parseBoolEnv("S3_USE_SSL", false)
	if err != nil {
		return Desk{}, err
	}
	cfg.S3UseSSL = useSSL

	if !strings.HasPrefix(cfg.APIBaseURL, "http://") && !strings.HasPrefix(cfg.APIBaseURL, "https://") {
		return Desk{}, fmt.Errorf("INQUIRY_API_URL must be an http(s) url: %q", cfg.APIBaseURL)
	}
	return cfg, nil
}

// LoadDevServer parses the reference backend configuration.
func LoadDevServer() (DevServer, error) {
	cfg := DevServer{
		Env:              getEnv("APP_ENV", "dev"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		LogFile:          os.Getenv("LOG_FILE"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		MongoURI:         os.Getenv("MONGO_URI"),
		MongoDB:          getEnv("MONGO_DB", "inquiries"),
		KafkaTopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", ""),
		UsersFixtures:    os.Getenv("USERS_FIXTURES"),
	}
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	ttl, err := parseDurationEnv("TOKEN_TTL", 24*time.Hour)
	if err != nil {
		return DevServer{}, err
	}
	cfg.TokenTTL = ttl

	if cfg.JWTSecret == "" {
		if cfg.Env != "dev" && cfg.Env != "local" && cfg.Env != "test" {
			return DevServer{}, fmt.Errorf("JWT_SECRET is required")
		}
		cfg.JWTSecret = "dev-secret"
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func parseBoolEnv(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "yes", "y", "on":
		return true, nil
	case "0", "f", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid %s boolean: %q", key, raw)
	}
}

func parseBackoff(raw string) ([]time.Duration, error) {
	var out []time.Duration
	for _, part := range strings.Split(raw, ",") {
		val := strings.TrimSpace(part)
		if val == "" {
			continue
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid RETRY_BACKOFF component %q: %w", part, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func deriveSocketURL(apiBase string) string {
	switch {
	case strings.HasPrefix(apiBase, "https://"):
		return "wss://" + strings.TrimPrefix(apiBase, "https://") + "/socket"
	case strings.HasPrefix(apiBase, "http://"):
		return "ws://" + strings.TrimPrefix(apiBase, "http://") + "/socket"
	default:
		return apiBase + "/socket"
	}
}

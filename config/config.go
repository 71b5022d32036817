package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all client configuration
type Config struct {
	WebSocketURL         string
	BackendURL           string
	Language             string // target language, "auto" lets the backend detect it
	UseWhisper           bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	RedisAddr            string // empty disables the transcript archive
	RedisPassword        string
	ArchiveTTL           time.Duration
	TokenPath            string
	AuthRequired         bool
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		WebSocketURL:         "ws://localhost:8000/ws",
		BackendURL:           "http://localhost:8000",
		Language:             "auto",
		UseWhisper:           false,
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   2 * time.Second,
		RedisAddr:            "",
		RedisPassword:        "",
		ArchiveTTL:           7 * 24 * time.Hour,
		TokenPath:            defaultTokenPath(),
	}

	// Optional: WS_URL
	if wsURL := os.Getenv("WS_URL"); wsURL != "" {
		config.WebSocketURL = wsURL
	}

	// Optional: BACKEND_URL
	if backendURL := os.Getenv("BACKEND_URL"); backendURL != "" {
		config.BackendURL = backendURL
	}

	// Optional: LANGUAGE
	if language := os.Getenv("LANGUAGE"); language != "" {
		config.Language = language
	}

	// Optional: USE_WHISPER
	if useWhisper := os.Getenv("USE_WHISPER"); useWhisper != "" {
		w, err := strconv.ParseBool(useWhisper)
		if err != nil {
			return nil, fmt.Errorf("invalid USE_WHISPER: %w", err)
		}
		config.UseWhisper = w
	}

	// Optional: MAX_RECONNECT_ATTEMPTS
	if attempts := os.Getenv("MAX_RECONNECT_ATTEMPTS"); attempts != "" {
		a, err := strconv.Atoi(attempts)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_RECONNECT_ATTEMPTS: %w", err)
		}
		if a < 0 {
			return nil, fmt.Errorf("invalid MAX_RECONNECT_ATTEMPTS: must not be negative")
		}
		config.MaxReconnectAttempts = a
	}

	// Optional: RECONNECT_BASE_DELAY (in milliseconds)
	if delay := os.Getenv("RECONNECT_BASE_DELAY"); delay != "" {
		d, err := strconv.Atoi(delay)
		if err != nil {
			return nil, fmt.Errorf("invalid RECONNECT_BASE_DELAY: %w", err)
		}
		config.ReconnectBaseDelay = time.Duration(d) * time.Millisecond
	}

	// Optional: REDIS_ADDR
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		config.RedisAddr = redisAddr
	}

	// Optional: REDIS_PASSWORD
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.RedisPassword = redisPassword
	}

	// Optional: ARCHIVE_TTL (in hours)
	if ttl := os.Getenv("ARCHIVE_TTL"); ttl != "" {
		t, err := strconv.Atoi(ttl)
		if err != nil {
			return nil, fmt.Errorf("invalid ARCHIVE_TTL: %w", err)
		}
		config.ArchiveTTL = time.Duration(t) * time.Hour
	}

	// Optional: TOKEN_PATH
	if tokenPath := os.Getenv("TOKEN_PATH"); tokenPath != "" {
		config.TokenPath = tokenPath
	}

	// Optional: AUTH_REQUIRED
	if authRequired := os.Getenv("AUTH_REQUIRED"); authRequired != "" {
		a, err := strconv.ParseBool(authRequired)
		if err != nil {
			return nil, fmt.Errorf("invalid AUTH_REQUIRED: %w", err)
		}
		config.AuthRequired = a
	}

	return config, nil
}

func defaultTokenPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".openinterpreter-token"
	}
	return filepath.Join(home, ".openinterpreter", "token")
}

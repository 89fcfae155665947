package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Environment string

	ControllerURL     string
	HTTPTimeoutSec    int
	TLSSkipVerify     bool
	TLSCAFile         string
	TLSCertFile       string
	TLSKeyFile        string
	LineCount         int
	ReconnectSec      int
	ResyncOnReconnect bool
	ResyncSchedule    string
	WaitForBootstrap  bool
	JournalPath       string
	LogLevel          string
	LogFile           string
}

func FromEnv() Config {
	return Config{
		Environment:       stringOrDefault("SWITCHBOARD_ENV", "development"),
		ControllerURL:     stringOrDefault("SWITCHBOARD_CONTROLLER_URL", "http://exchange.local"),
		HTTPTimeoutSec:    intOrDefault("SWITCHBOARD_HTTP_TIMEOUT_SECONDS", 30),
		TLSSkipVerify:     boolOrDefault("SWITCHBOARD_TLS_SKIP_VERIFY", false),
		TLSCAFile:         strings.TrimSpace(os.Getenv("SWITCHBOARD_TLS_CA_FILE")),
		TLSCertFile:       strings.TrimSpace(os.Getenv("SWITCHBOARD_TLS_CERT_FILE")),
		TLSKeyFile:        strings.TrimSpace(os.Getenv("SWITCHBOARD_TLS_KEY_FILE")),
		LineCount:         boundedIntOrDefault("SWITCHBOARD_LINE_COUNT", 8, 64),
		ReconnectSec:      intOrDefault("SWITCHBOARD_RECONNECT_SECONDS", 2),
		ResyncOnReconnect: boolOrDefault("SWITCHBOARD_RESYNC_ON_RECONNECT", true),
		ResyncSchedule:    strings.Join(strings.Fields(os.Getenv("SWITCHBOARD_RESYNC_SCHEDULE")), " "),
		WaitForBootstrap:  boolOrDefault("SWITCHBOARD_WAIT_FOR_BOOTSTRAP", true),
		JournalPath:       strings.TrimSpace(os.Getenv("SWITCHBOARD_JOURNAL_PATH")),
		LogLevel:          logLevelOrDefault("SWITCHBOARD_LOG_LEVEL", "info"),
		LogFile:           strings.TrimSpace(os.Getenv("SWITCHBOARD_LOG_FILE")),
	}
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func stringOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

func boundedIntOrDefault(name string, fallback, max int) int {
	value := intOrDefault(name, fallback)
	if value > max {
		return fallback
	}
	return value
}

func boolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func logLevelOrDefault(name, fallback string) string {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	switch value {
	case "debug", "info", "warn", "error":
		return value
	case "warning":
		return "warn"
	default:
		return fallback
	}
}

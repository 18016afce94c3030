// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/thurstonsan/anypod/internal/log"
)

// Settings are the process-level knobs read from the environment once
// at startup. Feed definitions come from the YAML file, not from here.
type Settings struct {
	ConfigFile string
	DataDir    string
	BaseURL    string

	ServerHost      string
	ServerPort      int
	AdminServerHost string
	AdminServerPort int
	TrustedProxies  []string

	CookiesPath        string
	MaxConcurrentFeeds int
	ConfigReload       bool

	LogFormat            string
	LogLevel             string
	LogIncludeStacktrace bool

	DebugMode string

	RedisAddr string
	JoblogDir string
	JoblogTTL time.Duration

	OTELEnabled  bool
	OTELEndpoint string
	OTELProtocol string
	OTELInsecure bool
}

// FromEnv reads all settings, applying defaults for anything unset.
func FromEnv() Settings {
	s := Settings{
		ConfigFile: ParseString("CONFIG_FILE", "/config/feeds.yaml"),
		DataDir:    ParseString("DATA_DIR", "/data"),
		BaseURL:    ParseString("BASE_URL", "http://localhost:8024"),

		ServerHost:      ParseString("SERVER_HOST", "0.0.0.0"),
		ServerPort:      ParseInt("SERVER_PORT", 8024),
		AdminServerHost: ParseString("ADMIN_SERVER_HOST", "127.0.0.1"),
		AdminServerPort: ParseInt("ADMIN_SERVER_PORT", 8025),
		TrustedProxies:  ParseCSV("TRUSTED_PROXIES"),

		CookiesPath:        ParseString("COOKIES_PATH", ""),
		MaxConcurrentFeeds: ParseInt("MAX_CONCURRENT_FEEDS", 3),
		ConfigReload:       ParseBool("CONFIG_RELOAD", true),

		LogFormat:            ParseString("LOG_FORMAT", "json"),
		LogLevel:             ParseString("LOG_LEVEL", "info"),
		LogIncludeStacktrace: ParseBool("LOG_INCLUDE_STACKTRACE", false),

		DebugMode: ParseString("DEBUG_MODE", ""),

		RedisAddr: ParseString("REDIS_ADDR", ""),
		JoblogDir: ParseString("JOBLOG_DIR", ""),
		JoblogTTL: ParseDuration("JOBLOG_TTL", 336*time.Hour),

		OTELEnabled:  ParseBool("OTEL_ENABLED", false),
		OTELEndpoint: ParseString("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELProtocol: ParseString("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"),
		OTELInsecure: ParseBool("OTEL_EXPORTER_OTLP_INSECURE", false),
	}
	if s.MaxConcurrentFeeds < 1 {
		s.MaxConcurrentFeeds = 1
	}
	return s
}

// ParseString reads a string env var or returns the default. The choice
// of source is logged at debug for startup troubleshooting.
func ParseString(key, defaultValue string) string {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		logEnvChoice(logger, key, v, "environment")
		return v
	}
	logEnvChoice(logger, key, defaultValue, "default")
	return defaultValue
}

// ParseInt reads an integer env var, falling back to the default on
// absent, empty, or unparsable values.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			logEnvChoice(logger, key, v, "environment")
			return i
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Int("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
		return defaultValue
	}
	logEnvChoice(logger, key, strconv.Itoa(defaultValue), "default")
	return defaultValue
}

// ParseBool reads a boolean env var via strconv.ParseBool semantics.
func ParseBool(key string, defaultValue bool) bool {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			logEnvChoice(logger, key, v, "environment")
			return b
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Bool("default", defaultValue).
			Msg("invalid boolean in environment variable, using default")
		return defaultValue
	}
	logEnvChoice(logger, key, strconv.FormatBool(defaultValue), "default")
	return defaultValue
}

// ParseDuration reads a Go duration (e.g. "30s", "336h") from an env var.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			logEnvChoice(logger, key, v, "environment")
			return d
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Dur("default", defaultValue).
			Msg("invalid duration in environment variable, using default")
		return defaultValue
	}
	logEnvChoice(logger, key, defaultValue.String(), "default")
	return defaultValue
}

// ParseCSV reads a comma-separated env var into trimmed, non-empty parts.
func ParseCSV(key string) []string {
	raw := ParseString(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func logEnvChoice(logger zerolog.Logger, key, value, source string) {
	logger.Debug().
		Str("key", key).
		Str("value", value).
		Str("source", source).
		Msg("resolved setting")
}

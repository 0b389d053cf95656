package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates every setting of the bridge process.
type Config struct {
	Server  ServerConfig
	Sidecar SidecarConfig
	Log     LogConfig
	Windows WindowConfig
	Scan    ScanConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	sidecar, err := loadSidecarConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	windows, err := loadWindowConfig()
	if err != nil {
		return nil, err
	}

	scan, err := loadScanConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Sidecar: sidecar, Log: logCfg, Windows: windows, Scan: scan}, nil
}

// ServerConfig describes the local HTTP bridge the windows connect to.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8090"
	}

	if strings.Contains(port, ":") {
		// Allow passing ":8090" or "127.0.0.1:8090" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: "127.0.0.1:" + port}, nil
}

// SidecarConfig locates the inference/retrieval sidecar process.
type SidecarConfig struct {
	BaseURL string
	Timeout time.Duration
}

func loadSidecarConfig() (SidecarConfig, error) {
	timeoutSeconds := 30
	if override, err := parseOptionalIntEnv("SIDECAR_TIMEOUT"); err != nil {
		return SidecarConfig{}, err
	} else if override != nil {
		timeoutSeconds = *override
	}

	return SidecarConfig{
		BaseURL: getEnvOrDefault("SIDECAR_URL", "http://127.0.0.1:8000"),
		Timeout: time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// LogConfig describes the bridge log sink.
type LogConfig struct {
	File string
	Prod bool
}

func loadLogConfig() (LogConfig, error) {
	prod, err := parseBoolEnv("LOG_PROD", false)
	if err != nil {
		return LogConfig{}, err
	}
	return LogConfig{
		File: strings.TrimSpace(os.Getenv("LOG_FILE")),
		Prod: prod,
	}, nil
}

// WindowConfig governs multi-window mode.
type WindowConfig struct {
	MultiWindow bool
}

func loadWindowConfig() (WindowConfig, error) {
	multi, err := parseBoolEnv("MULTI_WINDOW", true)
	if err != nil {
		return WindowConfig{}, err
	}
	return WindowConfig{MultiWindow: multi}, nil
}

// ScanConfig bounds annotation scans on large documents.
type ScanConfig struct {
	PageLimit int
}

func loadScanConfig() (ScanConfig, error) {
	limit := 50
	if override, err := parseOptionalIntEnv("SCAN_PAGE_LIMIT"); err != nil {
		return ScanConfig{}, err
	} else if override != nil && *override > 0 {
		limit = *override
	}
	return ScanConfig{PageLimit: limit}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

// Package config loads sshexplorer settings from file, environment and flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	KeyCacheDir          = "cache_dir"
	KeyKnownHosts        = "known_hosts"
	KeyConnectionsFile   = "connections_file"
	KeyMaxDownloadSize   = "max_download_size"
	KeyBufferSize        = "buffer_size"
	KeyKeepAliveInterval = "keepalive_interval"
	KeyKeepAliveTimeout  = "keepalive_timeout"
	KeyConnectTimeout    = "connect_timeout"
	KeyLogLevel          = "log_level"
)

type Config struct {
	CacheDir          string
	KnownHosts        string
	ConnectionsFile   string
	MaxDownloadSize   int64
	BufferSize        int
	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration
	ConnectTimeout    time.Duration
	LogLevel          logrus.Level
}

// Dir is the configuration directory.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "sshexplorer")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "sshexplorer")
	}
	return ".sshexplorer"
}

func defaultCacheDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "sshexplorer")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "sshexplorer")
	}
	return filepath.Join(os.TempDir(), "sshexplorer")
}

func defaultKnownHosts() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".ssh", "known_hosts")
	}
	return "known_hosts"
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyCacheDir, defaultCacheDir())
	v.SetDefault(KeyKnownHosts, defaultKnownHosts())
	v.SetDefault(KeyConnectionsFile, filepath.Join(Dir(), "connections.yaml"))
	v.SetDefault(KeyMaxDownloadSize, "100MiB")
	v.SetDefault(KeyBufferSize, "32KiB")
	v.SetDefault(KeyKeepAliveInterval, "500ms")
	v.SetDefault(KeyKeepAliveTimeout, "5s")
	v.SetDefault(KeyConnectTimeout, "15s")
	v.SetDefault(KeyLogLevel, "info")
}

func parseSize(v *viper.Viper, key string) (int64, error) {
	raw := v.GetString(key)
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s %q: %w", key, raw, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return int64(n), nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		CacheDir:        v.GetString(KeyCacheDir),
		KnownHosts:      v.GetString(KeyKnownHosts),
		ConnectionsFile: v.GetString(KeyConnectionsFile),
	}

	var err error
	if cfg.MaxDownloadSize, err = parseSize(v, KeyMaxDownloadSize); err != nil {
		return Config{}, err
	}
	bufferSize, err := parseSize(v, KeyBufferSize)
	if err != nil {
		return Config{}, err
	}
	cfg.BufferSize = int(bufferSize)

	if cfg.KeepAliveInterval, err = parseDuration(v, KeyKeepAliveInterval); err != nil {
		return Config{}, err
	}
	if cfg.KeepAliveTimeout, err = parseDuration(v, KeyKeepAliveTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ConnectTimeout, err = parseDuration(v, KeyConnectTimeout); err != nil {
		return Config{}, err
	}

	if cfg.LogLevel, err = logrus.ParseLevel(v.GetString(KeyLogLevel)); err != nil {
		return Config{}, fmt.Errorf("failed to parse %s: %w", KeyLogLevel, err)
	}
	return cfg, nil
}

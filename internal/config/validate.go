package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Engine.Concurrency < 1 {
		return fmt.Errorf("engine.concurrency must be >= 1, got %d", cfg.Engine.Concurrency)
	}
	if cfg.Engine.Concurrency > 1000 {
		return fmt.Errorf("engine.concurrency must be <= 1000, got %d", cfg.Engine.Concurrency)
	}
	if cfg.Engine.MaxLevel < 0 {
		return fmt.Errorf("engine.max_level must be >= 0, got %d", cfg.Engine.MaxLevel)
	}
	if cfg.Engine.Tries < 0 {
		return fmt.Errorf("engine.tries must be >= 0 (0 means unlimited), got %d", cfg.Engine.Tries)
	}

	if cfg.ConnPool.MaxBodySize <= 0 {
		return fmt.Errorf("conn_pool.max_body_size must be > 0")
	}
	if cfg.ConnPool.MaxRedirects < 0 {
		return fmt.Errorf("conn_pool.max_redirects must be >= 0")
	}
	if cfg.ConnPool.MaxHostCount < 1 {
		return fmt.Errorf("conn_pool.max_host_count must be >= 1, got %d", cfg.ConnPool.MaxHostCount)
	}
	if cfg.ConnPool.MaxCount < cfg.ConnPool.MaxHostCount {
		return fmt.Errorf("conn_pool.max_count must be >= conn_pool.max_host_count")
	}
	if cfg.ConnPool.ConnectTimeout <= 0 {
		return fmt.Errorf("conn_pool.connect_timeout must be > 0")
	}
	if cfg.ConnPool.ReadTimeout <= 0 {
		return fmt.Errorf("conn_pool.read_timeout must be > 0")
	}

	if cfg.Proxy.Enabled {
		if cfg.Proxy.Rotation != "round_robin" && cfg.Proxy.Rotation != "random" {
			return fmt.Errorf("proxy.rotation must be 'round_robin' or 'random', got %q", cfg.Proxy.Rotation)
		}
		for _, proxyURL := range cfg.Proxy.URLs {
			if _, err := url.Parse(proxyURL); err != nil {
				return fmt.Errorf("invalid proxy URL %q: %w", proxyURL, err)
			}
		}
	}

	validURLTableBackends := map[string]bool{"memory": true, "sqlite": true, "mongo": true}
	if !validURLTableBackends[cfg.URLTable.Backend] {
		return fmt.Errorf("url_table.backend %q is not supported (valid: memory, sqlite, mongo)", cfg.URLTable.Backend)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}

	return nil
}

// ValidateURL checks if a URL string is valid for crawling (http, https, or ftp).
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ftp":
	default:
		return fmt.Errorf("URL scheme must be http, https, or ftp, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

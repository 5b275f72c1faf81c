package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file, environment, and CLI flags.
// Priority (highest to lowest): CLI flags > env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix("MIRRORCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("mirrorctl")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".mirrorctl"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	return Load(path)
}

// setDefaults registers default values in viper so env/flag overrides merge
// correctly instead of zeroing unset sections.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("engine.concurrency", cfg.Engine.Concurrency)
	v.SetDefault("engine.recursive", cfg.Engine.Recursive)
	v.SetDefault("engine.max_level", cfg.Engine.MaxLevel)
	v.SetDefault("engine.page_requisites", cfg.Engine.PageRequisites)
	v.SetDefault("engine.tries", cfg.Engine.Tries)
	v.SetDefault("engine.retry_connrefused", cfg.Engine.RetryConnRefused)
	v.SetDefault("engine.retry_dns_error", cfg.Engine.RetryDNSError)
	v.SetDefault("engine.content_on_error", cfg.Engine.ContentOnError)
	v.SetDefault("engine.compression_enabled", cfg.Engine.CompressionEnabled)
	v.SetDefault("engine.checkpoint_interval", cfg.Engine.CheckpointInterval)
	v.SetDefault("engine.user_agents", cfg.Engine.UserAgents)
	v.SetDefault("engine.max_requests", cfg.Engine.MaxRequests)

	v.SetDefault("conn_pool.max_host_count", cfg.ConnPool.MaxHostCount)
	v.SetDefault("conn_pool.max_count", cfg.ConnPool.MaxCount)
	v.SetDefault("conn_pool.connect_timeout", cfg.ConnPool.ConnectTimeout)
	v.SetDefault("conn_pool.read_timeout", cfg.ConnPool.ReadTimeout)
	v.SetDefault("conn_pool.duration_timeout", cfg.ConnPool.DurationTimeout)
	v.SetDefault("conn_pool.idle_timeout", cfg.ConnPool.IdleTimeout)
	v.SetDefault("conn_pool.happy_eyeballs_ttl", cfg.ConnPool.HappyEyeballsTTL)
	v.SetDefault("conn_pool.happy_eyeballs_wait", cfg.ConnPool.HappyEyeballsWait)
	v.SetDefault("conn_pool.keep_alive", cfg.ConnPool.KeepAlive)
	v.SetDefault("conn_pool.max_redirects", cfg.ConnPool.MaxRedirects)
	v.SetDefault("conn_pool.max_body_size", cfg.ConnPool.MaxBodySize)

	v.SetDefault("proxy.enabled", cfg.Proxy.Enabled)
	v.SetDefault("proxy.rotation", cfg.Proxy.Rotation)
	v.SetDefault("proxy.health_check", cfg.Proxy.HealthCheck)
	v.SetDefault("proxy.health_check_url", cfg.Proxy.HealthCheckURL)

	v.SetDefault("ftp.user", cfg.FTP.User)
	v.SetDefault("ftp.password", cfg.FTP.Password)
	v.SetDefault("ftp.data_timeout", cfg.FTP.DataTimeout)
	v.SetDefault("ftp.prefer_mlsd", cfg.FTP.PreferMLSD)
	v.SetDefault("ftp.simple_mode", cfg.FTP.SimpleMode)

	v.SetDefault("robots.enabled", cfg.Robots.Enabled)
	v.SetDefault("robots.user_agent", cfg.Robots.UserAgent)
	v.SetDefault("robots.cache_ttl", cfg.Robots.CacheTTL)

	v.SetDefault("url_table.backend", cfg.URLTable.Backend)
	v.SetDefault("url_table.dsn", cfg.URLTable.DSN)

	v.SetDefault("waiter.base", cfg.Waiter.Base)
	v.SetDefault("waiter.max", cfg.Waiter.Max)
	v.SetDefault("waiter.jitter", cfg.Waiter.Jitter)

	v.SetDefault("parser.enabled", cfg.Parser.Enabled)

	v.SetDefault("writer.output_dir", cfg.Writer.OutputDir)
	v.SetDefault("writer.metadata_suffix", cfg.Writer.MetadataSuffix)
	v.SetDefault("writer.index_html_name", cfg.Writer.IndexHTMLName)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}

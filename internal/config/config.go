package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for mirrorctl.
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"    yaml:"engine"`
	ConnPool ConnPoolConfig `mapstructure:"conn_pool" yaml:"conn_pool"`
	Proxy    ProxyConfig    `mapstructure:"proxy"     yaml:"proxy"`
	FTP      FTPConfig      `mapstructure:"ftp"       yaml:"ftp"`
	Robots   RobotsConfig   `mapstructure:"robots"    yaml:"robots"`
	URLTable URLTableConfig `mapstructure:"url_table" yaml:"url_table"`
	Waiter   WaiterConfig   `mapstructure:"waiter"    yaml:"waiter"`
	Parser   ParserConfig   `mapstructure:"parser"    yaml:"parser"`
	Pipeline PipelineConfig `mapstructure:"pipeline"  yaml:"pipeline"`
	Writer   WriterConfig   `mapstructure:"writer"    yaml:"writer"`
	Logging  LoggingConfig  `mapstructure:"logging"   yaml:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"   yaml:"metrics"`
	Status   StatusConfig   `mapstructure:"status"    yaml:"status"`
}

// EngineConfig controls the worker pool and recursion/filter policy.
type EngineConfig struct {
	Concurrency        int      `mapstructure:"concurrency"          yaml:"concurrency"`
	Recursive          bool     `mapstructure:"recursive"            yaml:"recursive"`
	MaxLevel           int      `mapstructure:"max_level"            yaml:"max_level"`
	PageRequisites     bool     `mapstructure:"page_requisites"      yaml:"page_requisites"`
	Tries              int      `mapstructure:"tries"                yaml:"tries"` // 0 = unlimited
	RetryConnRefused   bool     `mapstructure:"retry_connrefused"    yaml:"retry_connrefused"`
	RetryDNSError      bool     `mapstructure:"retry_dns_error"      yaml:"retry_dns_error"`
	ContentOnError     bool     `mapstructure:"content_on_error"     yaml:"content_on_error"`
	UserAgents         []string `mapstructure:"user_agents"          yaml:"user_agents"`
	AllowedDomains     []string `mapstructure:"allowed_domains"      yaml:"allowed_domains"`
	DisallowedDomains  []string `mapstructure:"disallowed_domains"   yaml:"disallowed_domains"`
	AllowedURLPatterns []string `mapstructure:"allowed_url_patterns" yaml:"allowed_url_patterns"`
	MaxRequests        int      `mapstructure:"max_requests"         yaml:"max_requests"`
	CompressionEnabled bool     `mapstructure:"compression_enabled"  yaml:"compression_enabled"`
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval" yaml:"checkpoint_interval"`
}

// ConnPoolConfig controls the connection pool and per-connection timeouts.
type ConnPoolConfig struct {
	MaxHostCount      int           `mapstructure:"max_host_count"       yaml:"max_host_count"`
	MaxCount          int           `mapstructure:"max_count"            yaml:"max_count"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"      yaml:"connect_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"         yaml:"read_timeout"`
	DurationTimeout   time.Duration `mapstructure:"duration_timeout"     yaml:"duration_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"         yaml:"idle_timeout"`
	HappyEyeballsTTL  time.Duration `mapstructure:"happy_eyeballs_ttl"   yaml:"happy_eyeballs_ttl"`
	HappyEyeballsWait time.Duration `mapstructure:"happy_eyeballs_wait"  yaml:"happy_eyeballs_wait"`
	TLSInsecure       bool          `mapstructure:"tls_insecure"         yaml:"tls_insecure"`
	KeepAlive         bool          `mapstructure:"keep_alive"           yaml:"keep_alive"`
	MaxRedirects      int           `mapstructure:"max_redirects"        yaml:"max_redirects"`
	MaxBodySize       int64         `mapstructure:"max_body_size"        yaml:"max_body_size"`
}

// ProxyConfig controls the HTTP-proxy tunnel (§4.3) and, optionally,
// rotation across several upstream proxies.
type ProxyConfig struct {
	Enabled            bool     `mapstructure:"enabled"              yaml:"enabled"`
	URLs               []string `mapstructure:"urls"                 yaml:"urls"`
	Rotation           string   `mapstructure:"rotation"             yaml:"rotation"` // round_robin, random
	Username            string  `mapstructure:"username"             yaml:"username"`
	Password            string  `mapstructure:"password"             yaml:"password"`
	HealthCheck        bool     `mapstructure:"health_check"         yaml:"health_check"`
	HealthCheckURL     string   `mapstructure:"health_check_url"     yaml:"health_check_url"`
}

// FTPConfig controls the FTP protocol session.
type FTPConfig struct {
	User           string        `mapstructure:"user"            yaml:"user"`
	Password       string        `mapstructure:"password"        yaml:"password"`
	DataTimeout    time.Duration `mapstructure:"data_timeout"    yaml:"data_timeout"`
	PreferMLSD     bool          `mapstructure:"prefer_mlsd"     yaml:"prefer_mlsd"`
	SimpleMode     bool          `mapstructure:"simple_mode"     yaml:"simple_mode"`
}

// RobotsConfig controls robots.txt compliance.
type RobotsConfig struct {
	Enabled   bool          `mapstructure:"enabled"    yaml:"enabled"`
	UserAgent string        `mapstructure:"user_agent" yaml:"user_agent"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"  yaml:"cache_ttl"`
}

// URLTableConfig selects the URL Table's durable backend.
type URLTableConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // memory, sqlite, mongo
	DSN     string `mapstructure:"dsn"     yaml:"dsn"`
	Mongo   MongoURLTableConfig `mapstructure:"mongo" yaml:"mongo"`
}

// MongoURLTableConfig configures the Mongo-backed URL Table/visits table.
type MongoURLTableConfig struct {
	URI        string `mapstructure:"uri"        yaml:"uri"`
	Database   string `mapstructure:"database"   yaml:"database"`
	Collection string `mapstructure:"collection" yaml:"collection"`
}

// WaiterConfig controls the politeness pacing between requests.
type WaiterConfig struct {
	Base   time.Duration `mapstructure:"base"   yaml:"base"`
	Max    time.Duration `mapstructure:"max"    yaml:"max"`
	Jitter bool          `mapstructure:"jitter" yaml:"jitter"`
}

// ParserConfig controls the optional structured-metadata extraction pass.
type ParserConfig struct {
	Enabled bool        `mapstructure:"enabled" yaml:"enabled"`
	Rules   []ParseRule `mapstructure:"rules"   yaml:"rules"`
}

// ParseRule defines a single extraction rule.
type ParseRule struct {
	Name      string `mapstructure:"name"      yaml:"name"`
	Selector  string `mapstructure:"selector"  yaml:"selector"`
	Type      string `mapstructure:"type"      yaml:"type"` // css, xpath
	Attribute string `mapstructure:"attribute" yaml:"attribute"`
}

// PipelineConfig controls the metadata enrichment middlewares.
type PipelineConfig struct {
	Middlewares []MiddlewareConfig `mapstructure:"middlewares" yaml:"middlewares"`
}

// MiddlewareConfig defines a single pipeline middleware.
type MiddlewareConfig struct {
	Name    string         `mapstructure:"name"    yaml:"name"`
	Type    string         `mapstructure:"type"    yaml:"type"`
	Options map[string]any `mapstructure:"options" yaml:"options"`
}

// WriterConfig controls where mirrored documents land on disk.
type WriterConfig struct {
	OutputDir       string `mapstructure:"output_dir"        yaml:"output_dir"`
	MetadataSuffix  string `mapstructure:"metadata_suffix"   yaml:"metadata_suffix"`
	IndexHTMLName   string `mapstructure:"index_html_name"   yaml:"index_html_name"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// StatusConfig controls the status/control HTTP endpoint exposing a running
// crawl's state and letting an operator pause/resume/stop it.
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr"    yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Concurrency:        10,
			Recursive:          true,
			MaxLevel:           5,
			Tries:              3,
			RetryConnRefused:   false,
			RetryDNSError:      false,
			CompressionEnabled: true,
			CheckpointInterval: 60 * time.Second,
			UserAgents: []string{
				"mirrorctl/1.0 (+https://github.com/mirrorctl/mirrorctl)",
			},
		},
		ConnPool: ConnPoolConfig{
			MaxHostCount:      6,
			MaxCount:          64,
			ConnectTimeout:    10 * time.Second,
			ReadTimeout:       30 * time.Second,
			DurationTimeout:   5 * time.Minute,
			IdleTimeout:       90 * time.Second,
			HappyEyeballsTTL:  10 * time.Minute,
			HappyEyeballsWait: 300 * time.Millisecond,
			KeepAlive:         true,
			MaxRedirects:      10,
			MaxBodySize:       100 * 1024 * 1024,
		},
		Proxy: ProxyConfig{
			Enabled:        false,
			Rotation:       "round_robin",
			HealthCheck:    true,
			HealthCheckURL: "https://httpbin.org/ip",
		},
		FTP: FTPConfig{
			User:        "anonymous",
			Password:    "mirrorctl@anonymous",
			DataTimeout: 30 * time.Second,
			PreferMLSD:  true,
		},
		Robots: RobotsConfig{
			Enabled:   true,
			UserAgent: "mirrorctl",
			CacheTTL:  24 * time.Hour,
		},
		URLTable: URLTableConfig{
			Backend: "memory",
			DSN:     "mirrorctl.db",
		},
		Waiter: WaiterConfig{
			Base:   1 * time.Second,
			Max:    30 * time.Second,
			Jitter: true,
		},
		Parser: ParserConfig{
			Enabled: false,
		},
		Writer: WriterConfig{
			OutputDir:      "./mirror",
			MetadataSuffix: ".meta.json",
			IndexHTMLName:  "index.html",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
		Status: StatusConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9091",
		},
	}
}

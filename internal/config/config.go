package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for crawlmaster.
type Config struct {
	Crawl   CrawlConfig   `mapstructure:"crawl"   yaml:"crawl"`
	Fetcher FetcherConfig `mapstructure:"fetcher" yaml:"fetcher"`
	Server  ServerConfig  `mapstructure:"server"  yaml:"server"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// CrawlConfig controls a single crawl job.
type CrawlConfig struct {
	PageBudget        int           `mapstructure:"page_budget"         yaml:"page_budget"`
	Delay             time.Duration `mapstructure:"delay"               yaml:"delay"`
	MaxValuesPerField int           `mapstructure:"max_values_per_field" yaml:"max_values_per_field"`
	DetailHeuristic   bool          `mapstructure:"detail_heuristic"    yaml:"detail_heuristic"`
	DetailPatterns    []string      `mapstructure:"detail_patterns"     yaml:"detail_patterns"`
	IncludeSubdomains bool          `mapstructure:"include_subdomains"  yaml:"include_subdomains"`
	RespectRobotsTxt  bool          `mapstructure:"respect_robots_txt"  yaml:"respect_robots_txt"`
}

// FetcherConfig controls the page fetcher.
type FetcherConfig struct {
	UserAgent         string            `mapstructure:"user_agent"          yaml:"user_agent"`
	RequestTimeout    time.Duration     `mapstructure:"request_timeout"     yaml:"request_timeout"`
	MaxRetries        int               `mapstructure:"max_retries"         yaml:"max_retries"`
	RetryDelay        time.Duration     `mapstructure:"retry_delay"         yaml:"retry_delay"`
	FollowRedirects   bool              `mapstructure:"follow_redirects"    yaml:"follow_redirects"`
	MaxRedirects      int               `mapstructure:"max_redirects"       yaml:"max_redirects"`
	MaxBodySize       int64             `mapstructure:"max_body_size"       yaml:"max_body_size"`
	TLSInsecure       bool              `mapstructure:"tls_insecure"        yaml:"tls_insecure"`
	IdleConnTimeout   time.Duration     `mapstructure:"idle_conn_timeout"   yaml:"idle_conn_timeout"`
	MaxIdleConns      int               `mapstructure:"max_idle_conns"      yaml:"max_idle_conns"`
	RequestsPerSecond float64           `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Headers           map[string]string `mapstructure:"headers"             yaml:"headers"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"                yaml:"addr"`
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs" yaml:"max_concurrent_jobs"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"        yaml:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"       yaml:"write_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"    yaml:"shutdown_timeout"`
}

// StorageConfig controls where completed job results go.
type StorageConfig struct {
	Types           []string `mapstructure:"types"            yaml:"types"`
	OutputDir       string   `mapstructure:"output_dir"       yaml:"output_dir"`
	MongoURI        string   `mapstructure:"mongo_uri"        yaml:"mongo_uri"`
	MongoDatabase   string   `mapstructure:"mongo_database"   yaml:"mongo_database"`
	MongoCollection string   `mapstructure:"mongo_collection" yaml:"mongo_collection"`
	SQLitePath      string   `mapstructure:"sqlite_path"      yaml:"sqlite_path"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls the metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultDetailPatterns are path fragments that usually mark content detail
// pages rather than navigation.
var DefaultDetailPatterns = []string{"/article/", "/post/", "/item/", "/product/", "/news/"}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Crawl: CrawlConfig{
			PageBudget:        20,
			Delay:             500 * time.Millisecond,
			MaxValuesPerField: 10,
			DetailHeuristic:   true,
			DetailPatterns:    append([]string(nil), DefaultDetailPatterns...),
		},
		Fetcher: FetcherConfig{
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) crawlmaster/" + Version,
			RequestTimeout:  10 * time.Second,
			RetryDelay:      time.Second,
			FollowRedirects: true,
			MaxRedirects:    10,
			MaxBodySize:     10 * 1024 * 1024, // 10MB
			IdleConnTimeout: 90 * time.Second,
			MaxIdleConns:    100,
		},
		Server: ServerConfig{
			Addr:              ":8080",
			MaxConcurrentJobs: 20,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Storage: StorageConfig{
			Types:           []string{"xlsx"},
			OutputDir:       "./downloads",
			MongoDatabase:   "crawlmaster",
			MongoCollection: "records",
			SQLitePath:      "./downloads/crawlmaster.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

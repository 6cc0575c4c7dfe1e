package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Crawl.PageBudget < 0 {
		return fmt.Errorf("crawl.page_budget must be >= 0, got %d", cfg.Crawl.PageBudget)
	}
	if cfg.Crawl.PageBudget > 500 {
		return fmt.Errorf("crawl.page_budget must be <= 500, got %d", cfg.Crawl.PageBudget)
	}
	if cfg.Crawl.Delay < 0 {
		return fmt.Errorf("crawl.delay must be >= 0")
	}
	if cfg.Crawl.MaxValuesPerField < 1 {
		return fmt.Errorf("crawl.max_values_per_field must be >= 1, got %d", cfg.Crawl.MaxValuesPerField)
	}

	if cfg.Fetcher.RequestTimeout <= 0 {
		return fmt.Errorf("fetcher.request_timeout must be > 0")
	}
	if cfg.Fetcher.MaxRetries < 0 || cfg.Fetcher.MaxRetries > 10 {
		return fmt.Errorf("fetcher.max_retries must be 0-10, got %d", cfg.Fetcher.MaxRetries)
	}
	if cfg.Fetcher.MaxBodySize <= 0 {
		return fmt.Errorf("fetcher.max_body_size must be > 0")
	}
	if cfg.Fetcher.MaxRedirects < 0 {
		return fmt.Errorf("fetcher.max_redirects must be >= 0")
	}
	if cfg.Fetcher.RequestsPerSecond < 0 {
		return fmt.Errorf("fetcher.requests_per_second must be >= 0")
	}

	if cfg.Server.MaxConcurrentJobs < 1 {
		return fmt.Errorf("server.max_concurrent_jobs must be >= 1, got %d", cfg.Server.MaxConcurrentJobs)
	}

	validStorageTypes := map[string]bool{
		"json": true, "jsonl": true, "csv": true, "xlsx": true, "mongodb": true, "sqlite": true,
	}
	for _, t := range cfg.Storage.Types {
		if !validStorageTypes[t] {
			return fmt.Errorf("storage type %q is not supported (valid: json, jsonl, csv, xlsx, mongodb, sqlite)", t)
		}
		if t == "mongodb" && cfg.Storage.MongoURI == "" {
			return fmt.Errorf("storage.mongo_uri is required for the mongodb storage type")
		}
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

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", cfg.Metrics.Path)
	}

	return nil
}

// ValidateURL checks if a URL string is valid for crawling.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/webharvest/harvester/internal/content"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig                 `mapstructure:"server"`
	Cache     CacheConfig                  `mapstructure:"cache"`
	HTTP      HTTPConfig                   `mapstructure:"http"`
	Render    RenderConfig                 `mapstructure:"render"`
	Retry     RetryConfig                  `mapstructure:"retry"`
	Storage   StorageConfig                `mapstructure:"storage"`
	Batch     BatchConfig                  `mapstructure:"batch"`
	History   HistoryConfig                `mapstructure:"history"`
	Logging   LoggingConfig                `mapstructure:"logging"`
	Platforms []content.PlatformDescriptor `mapstructure:"platforms"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CacheConfig controls the acquisition cache.
type CacheConfig struct {
	RedisURL      string `mapstructure:"redis_url"`
	ExpireSeconds int    `mapstructure:"expire_seconds"`
}

// HTTPConfig configures the direct-fetch client.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// RenderConfig configures the headless rendering subsystem.
type RenderConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	MaxParallel   int     `mapstructure:"max_parallel"`
	NavTimeoutSec int     `mapstructure:"nav_timeout_seconds"`
	DomainQPS     float64 `mapstructure:"domain_qps"`
}

// RetryConfig governs the resilience engine's backoff schedule.
type RetryConfig struct {
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// StorageConfig sets the on-disk content root.
type StorageConfig struct {
	Root string `mapstructure:"root"`
}

// BatchConfig bounds batch-mode parallelism.
type BatchConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// HistoryConfig controls the optional acquisition audit store.
type HistoryConfig struct {
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.Platforms) == 0 {
		cfg.Platforms = DefaultPlatforms()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("cache.redis_url", "redis://localhost:6379")
	v.SetDefault("cache.expire_seconds", 600)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	v.SetDefault("render.enabled", true)
	v.SetDefault("render.max_parallel", 2)
	v.SetDefault("render.nav_timeout_seconds", 30)
	v.SetDefault("render.domain_qps", 1.0)
	v.SetDefault("retry.max_retries", 2)
	v.SetDefault("retry.backoff_initial_ms", 250)
	v.SetDefault("retry.backoff_max_ms", 5000)
	v.SetDefault("storage.root", "./data")
	v.SetDefault("batch.concurrency", 3)
	v.SetDefault("history.table", "acquisitions")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Cache.ExpireSeconds <= 0 {
		return fmt.Errorf("cache.expire_seconds must be > 0")
	}
	if c.Render.Enabled && c.Render.MaxParallel <= 0 {
		return fmt.Errorf("render.max_parallel must be > 0 when rendering is enabled")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	if c.Batch.Concurrency <= 0 {
		return fmt.Errorf("batch.concurrency must be > 0")
	}
	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}
	seen := make(map[string]bool, len(c.Platforms))
	for _, p := range c.Platforms {
		if p.ID == "" {
			return fmt.Errorf("platform entries require an id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate platform id %q", p.ID)
		}
		seen[p.ID] = true
		if len(p.DomainPatterns) == 0 {
			return fmt.Errorf("platform %q has no domains", p.ID)
		}
	}
	return nil
}

// CacheTTL converts the cache expiry into a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.ExpireSeconds) * time.Second
}

// HTTPTimeout converts the client timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// DefaultPlatforms is the built-in platform table. A config file may replace
// it wholesale; entries are matched in declaration order.
func DefaultPlatforms() []content.PlatformDescriptor {
	return []content.PlatformDescriptor{
		{
			ID:             "zhihu",
			DomainPatterns: []string{"zhihu.com"},
			Rules: map[string]string{
				"title_selector":   "h1.QuestionHeader-title, h1.Post-Title",
				"content_selector": ".QuestionAnswer-content .RichContent-inner, .Post-RichTextContainer",
				"author_selector":  ".AuthorInfo-name",
			},
		},
		{
			ID:             "weixin",
			DomainPatterns: []string{"mp.weixin.qq.com"},
			Rules: map[string]string{
				"title_selector":   "#activity-name, .rich_media_title",
				"content_selector": "#js_content, .rich_media_content",
				"author_selector":  "#js_name",
			},
		},
		{
			ID:             "weibo",
			DomainPatterns: []string{"weibo.com", "s.weibo.com"},
			Rules: map[string]string{
				"list_selector":    "#pl_top_realtimehot table tbody tr",
				"title_selector":   "td.td-02 a",
				"url_selector":     "td.td-02 a",
				"hotness_selector": "td.td-02 span",
				"search_url":       "https://s.weibo.com/weibo?q=%s",
			},
		},
		{
			ID:             "xiaohongshu",
			DomainPatterns: []string{"xiaohongshu.com", "xhslink.com"},
			Rules: map[string]string{
				"title_selector":   "#detail-title",
				"content_selector": "#detail-desc",
				"author_selector":  ".author-container .username",
				"list_selector":    ".feeds-container section.note-item",
				"url_selector":     "a.cover",
				"image_selector":   "a.cover img",
				"search_url":       "https://www.xiaohongshu.com/search_result?keyword=%s",
				"render_first":     "true",
			},
		},
		{
			ID:             "douyin",
			DomainPatterns: []string{"douyin.com", "v.douyin.com"},
			Rules: map[string]string{
				"title_selector":   "h1",
				"content_selector": ".video-info-detail",
				"author_selector":  ".account-name",
				"render_first":     "true",
			},
		},
		{
			ID:             "bilibili",
			DomainPatterns: []string{"bilibili.com", "b23.tv"},
			Rules: map[string]string{
				"title_selector":   "h1.video-title",
				"content_selector": ".basic-desc-info",
				"author_selector":  ".up-name",
			},
		},
	}
}

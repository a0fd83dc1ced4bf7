// Package config はアプリケーション設定の読み込みを提供する。
// 既定値、設定ファイル（YAML）、環境変数（MEDIASYNC_プレフィックス）、
// コマンドラインフラグの順に上書きする。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hitoshi/mediasync/internal/logger"
	"github.com/hitoshi/mediasync/internal/model"
)

// EnvPrefix は環境変数のプレフィックス。
const EnvPrefix = "MEDIASYNC"

// DefaultConfigFile は--config未指定時に読み込む設定ファイル。存在しなくてもよい。
const DefaultConfigFile = "mediasync.yaml"

// ストアドライバ
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreBolt     = "bolt"
	StoreMemory   = "memory"
)

// カタログソース
const (
	SourceYouTube = "youtube"
	SourceFeed    = "feed"
)

// 転送方式
const (
	TransferCommand = "command"
	TransferHTTP    = "http"
)

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	StoreDriver string `mapstructure:"store_driver"`
	DatabaseURL string `mapstructure:"database_url"`
	BoltPath    string `mapstructure:"bolt_path"`

	// Catalog
	CatalogSource     string        `mapstructure:"catalog_source"`
	YouTubeAPIKey     string        `mapstructure:"youtube_api_key"`
	YouTubeAPIBase    string        `mapstructure:"youtube_api_base"`
	FeedURLTemplate   string        `mapstructure:"feed_url_template"`
	CatalogRatePerSec float64       `mapstructure:"catalog_rate_per_sec"`
	CatalogTimeout    time.Duration `mapstructure:"catalog_timeout"`

	// Download
	VideosDir              string        `mapstructure:"videos_dir"`
	DownloadConcurrency    int           `mapstructure:"download_concurrency"`
	TransferMode           string        `mapstructure:"transfer_mode"`
	TransferCommand        string        `mapstructure:"transfer_command"`
	TransferSourceTemplate string        `mapstructure:"transfer_source_template"`
	TransferTimeout        time.Duration `mapstructure:"transfer_timeout"`

	// Thumbnail
	ThumbnailEndpoint string `mapstructure:"thumbnail_endpoint"`
	ThumbnailBaseURL  string `mapstructure:"thumbnail_base_url"`

	// Ledger
	LedgerURL             string        `mapstructure:"ledger_url"`
	LedgerTimeout         time.Duration `mapstructure:"ledger_timeout"`
	LedgerBreakerFailures int           `mapstructure:"ledger_breaker_failures"`
	LedgerBreakerOpen     time.Duration `mapstructure:"ledger_breaker_open"`
	GroupSettleInterval   time.Duration `mapstructure:"group_settle_interval"`

	// Publish
	PublishBid         float64       `mapstructure:"publish_bid"`
	PublishLicense     string        `mapstructure:"publish_license"`
	PublishLanguage    string        `mapstructure:"publish_language"`
	PublishFeeAmount   float64       `mapstructure:"publish_fee_amount"`
	PublishFeeCurrency string        `mapstructure:"publish_fee_currency"`
	PublishFeeAddress  string        `mapstructure:"publish_fee_address"`
	PublishMaxAttempts int           `mapstructure:"publish_max_attempts"`
	PublishRetryDelay  time.Duration `mapstructure:"publish_retry_delay"`

	// Ops
	MetricsAddr string `mapstructure:"metrics_addr"`
	LogDir      string `mapstructure:"log_dir"`
	LogLevel    string `mapstructure:"log_level"`
}

// SetDefaults は既定値を登録する。
func SetDefaults(v *viper.Viper) {
	v.SetDefault("store_driver", StoreSQLite)
	v.SetDefault("database_url", "")
	v.SetDefault("bolt_path", "mediasync.db")

	v.SetDefault("catalog_source", SourceYouTube)
	v.SetDefault("youtube_api_key", "")
	v.SetDefault("youtube_api_base", "https://www.googleapis.com/youtube/v3")
	v.SetDefault("feed_url_template", "https://www.youtube.com/feeds/videos.xml?channel_id=%s")
	v.SetDefault("catalog_rate_per_sec", 5.0)
	v.SetDefault("catalog_timeout", 30*time.Second)

	v.SetDefault("videos_dir", "./videos")
	v.SetDefault("download_concurrency", 4)
	v.SetDefault("transfer_mode", TransferCommand)
	v.SetDefault("transfer_command", "yt-dlp")
	v.SetDefault("transfer_source_template", "https://www.youtube.com/watch?v=%s")
	v.SetDefault("transfer_timeout", 2*time.Hour)

	v.SetDefault("thumbnail_endpoint", "")
	v.SetDefault("thumbnail_base_url", "")

	v.SetDefault("ledger_url", "http://localhost:5279")
	v.SetDefault("ledger_timeout", 5*time.Minute)
	v.SetDefault("ledger_breaker_failures", 5)
	v.SetDefault("ledger_breaker_open", 30*time.Second)
	v.SetDefault("group_settle_interval", 60*time.Second)

	v.SetDefault("publish_bid", 0.01)
	v.SetDefault("publish_license", "Creative Commons License")
	v.SetDefault("publish_language", "en")
	v.SetDefault("publish_fee_amount", 0.0)
	v.SetDefault("publish_fee_currency", "")
	v.SetDefault("publish_fee_address", "")
	v.SetDefault("publish_max_attempts", 3)
	v.SetDefault("publish_retry_delay", 2*time.Second)

	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_dir", "./log")
	v.SetDefault("log_level", "info")
}

// NewViper は既定値と環境変数を登録したviperを生成し、設定ファイルがあれば読み込む。
// configFileが空の場合はDefaultConfigFileを探し、存在しなければ読み込まない。
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	explicit := configFile != ""
	if !explicit {
		configFile = DefaultConfigFile
	}
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !(errors.Is(err, os.ErrNotExist) || errors.As(err, &notFound)) {
			return nil, fmt.Errorf("reading config %s: %w", configFile, err)
		}
	}
	return v, nil
}

// Load はviperからConfigを読み込み、検証する。
// 不正な値はまとめてmodel.ConfigErrorとして返す。
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &model.ConfigError{Problems: []string{fmt.Sprintf("parse config: %v", err)}}
	}

	if cfg.StoreDriver == StoreSQLite && cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "db.sqlite"
	}

	if problems := cfg.validate(); len(problems) > 0 {
		return nil, &model.ConfigError{Problems: problems}
	}
	return &cfg, nil
}

func (c *Config) validate() []string {
	var problems []string

	switch c.StoreDriver {
	case StorePostgres:
		if c.DatabaseURL == "" {
			problems = append(problems, "database_url is required for store_driver=postgres")
		}
	case StoreSQLite, StoreMemory:
	case StoreBolt:
		if c.BoltPath == "" {
			problems = append(problems, "bolt_path is required for store_driver=bolt")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported store_driver %q", c.StoreDriver))
	}

	switch c.CatalogSource {
	case SourceYouTube, SourceFeed:
	default:
		problems = append(problems, fmt.Sprintf("unsupported catalog_source %q", c.CatalogSource))
	}

	switch c.TransferMode {
	case TransferCommand:
		if c.TransferCommand == "" {
			problems = append(problems, "transfer_command is required for transfer_mode=command")
		}
	case TransferHTTP:
	default:
		problems = append(problems, fmt.Sprintf("unsupported transfer_mode %q", c.TransferMode))
	}

	if c.VideosDir == "" {
		problems = append(problems, "videos_dir is required")
	}
	if c.DownloadConcurrency < 1 {
		problems = append(problems, "download_concurrency must be at least 1")
	}
	if !strings.Contains(c.TransferSourceTemplate, "%s") {
		problems = append(problems, "transfer_source_template must contain %s")
	}
	if c.PublishBid <= 0 {
		problems = append(problems, "publish_bid must be positive")
	}
	if c.PublishMaxAttempts < 1 {
		problems = append(problems, "publish_max_attempts must be at least 1")
	}
	if c.PublishFeeAmount < 0 {
		problems = append(problems, "publish_fee_amount must not be negative")
	}
	if c.PublishFeeAmount > 0 && c.PublishFeeCurrency == "" {
		problems = append(problems, "publish_fee_currency is required when publish_fee_amount is set")
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	return problems
}

// ValidateCatalog はカタログを取得するコマンド（sync）だけが必要とする設定を検証する。
// migrate・status・verifyはカタログにアクセスしないため、APIキーなしで実行できる。
func (c *Config) ValidateCatalog() error {
	if c.CatalogSource == SourceYouTube && c.YouTubeAPIKey == "" {
		return &model.ConfigError{Problems: []string{"youtube_api_key is required for catalog_source=youtube"}}
	}
	return nil
}

// HasFee は公開時に料金を設定するかを返す。
func (c *Config) HasFee() bool {
	return c.PublishFeeAmount > 0
}

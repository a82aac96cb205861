package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultHTTPAddr         = ":8080"
	defaultQueueKey         = "receipts:queue"
	defaultProcessingKey    = "receipts:processing"
	defaultClaimedKey       = "receipts:claimed"
	defaultProgressChannel  = "receipts:jobs"
	defaultMinioEndpoint    = "localhost:9000"
	defaultMinioBucket      = "receipts"
	defaultExtractorTimeout = 60 * time.Second
	defaultWorkers          = 4
	defaultJobTimeout       = 3 * time.Minute
	defaultMaxUploadBytes   = 10 << 20
	defaultRetention        = 24 * time.Hour
	defaultJanitorInterval  = time.Hour
	defaultReaperInterval   = 30 * time.Second
	defaultStaleAfter       = 5 * time.Minute
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string

	RedisAddr       string
	RedisPassword   string
	QueueKey        string
	ProcessingKey   string
	ClaimedKey      string
	ProgressChannel string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	ExtractorURL     string
	ExtractorAPIKey  string
	ExtractorTimeout time.Duration

	Workers         int
	JobTimeout      time.Duration
	MaxUploadBytes  int64
	Retention       time.Duration
	JanitorInterval time.Duration
	ReaperInterval  time.Duration
	StaleAfter      time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads the configuration from the environment and validates it.
// Values that do not parse read as zero and are reported by Validate.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := Config{
		HTTPAddr:    v.GetString("http_addr"),
		PostgresDSN: v.GetString("postgres_dsn"),

		RedisAddr:       v.GetString("redis_addr"),
		RedisPassword:   v.GetString("redis_password"),
		QueueKey:        v.GetString("redis_queue_key"),
		ProcessingKey:   v.GetString("redis_processing_key"),
		ClaimedKey:      v.GetString("redis_claimed_key"),
		ProgressChannel: v.GetString("redis_progress_channel"),

		MinioEndpoint:  v.GetString("minio_endpoint"),
		MinioAccessKey: v.GetString("minio_access_key"),
		MinioSecretKey: v.GetString("minio_secret_key"),
		MinioBucket:    v.GetString("minio_bucket"),
		MinioUseSSL:    v.GetBool("minio_use_ssl"),

		ExtractorURL:     v.GetString("extractor_url"),
		ExtractorAPIKey:  v.GetString("extractor_api_key"),
		ExtractorTimeout: v.GetDuration("extractor_timeout"),

		Workers:         v.GetInt("workers"),
		JobTimeout:      v.GetDuration("job_timeout"),
		MaxUploadBytes:  v.GetInt64("max_upload_bytes"),
		Retention:       v.GetDuration("job_retention"),
		JanitorInterval: v.GetDuration("janitor_interval"),
		ReaperInterval:  v.GetDuration("reaper_interval"),
		StaleAfter:      v.GetDuration("stale_after"),

		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", defaultHTTPAddr)
	v.SetDefault("redis_queue_key", defaultQueueKey)
	v.SetDefault("redis_processing_key", defaultProcessingKey)
	v.SetDefault("redis_claimed_key", defaultClaimedKey)
	v.SetDefault("redis_progress_channel", defaultProgressChannel)
	v.SetDefault("minio_endpoint", defaultMinioEndpoint)
	v.SetDefault("minio_bucket", defaultMinioBucket)
	v.SetDefault("minio_use_ssl", false)
	v.SetDefault("extractor_timeout", defaultExtractorTimeout)
	v.SetDefault("workers", defaultWorkers)
	v.SetDefault("job_timeout", defaultJobTimeout)
	v.SetDefault("max_upload_bytes", defaultMaxUploadBytes)
	v.SetDefault("job_retention", defaultRetention)
	v.SetDefault("janitor_interval", defaultJanitorInterval)
	v.SetDefault("reaper_interval", defaultReaperInterval)
	v.SetDefault("stale_after", defaultStaleAfter)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

}

// Validate reports every problem at once instead of stopping at the first.
func (c Config) Validate() error {
	var problems []string

	if c.PostgresDSN == "" {
		problems = append(problems, "POSTGRES_DSN is required")
	}
	if c.RedisAddr == "" {
		problems = append(problems, "REDIS_ADDR is required")
	}
	if c.ExtractorURL != "" {
		if u, err := url.Parse(c.ExtractorURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			problems = append(problems, fmt.Sprintf("invalid EXTRACTOR_URL %q: must be an http(s) url", c.ExtractorURL))
		}
	}
	if c.Workers <= 0 {
		problems = append(problems, fmt.Sprintf("invalid WORKERS %d: must be positive", c.Workers))
	}
	if c.MaxUploadBytes <= 0 {
		problems = append(problems, fmt.Sprintf("invalid MAX_UPLOAD_BYTES %d: must be positive", c.MaxUploadBytes))
	}
	if c.Retention <= 0 {
		problems = append(problems, "JOB_RETENTION must be positive")
	}
	if c.StaleAfter <= 0 {
		problems = append(problems, "STALE_AFTER must be positive")
	}
	if c.JobTimeout <= 0 {
		problems = append(problems, "JOB_TIMEOUT must be positive")
	}
	if c.JanitorInterval <= 0 || c.ReaperInterval <= 0 {
		problems = append(problems, "JANITOR_INTERVAL and REAPER_INTERVAL must be positive")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("invalid LOG_FORMAT %q: must be text or json", c.LogFormat))
	}

	if len(problems) > 0 {
		return errors.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

var dsnPassword = regexp.MustCompile(`://([^:/?#]+):([^@/]+)@`)

// RedactedDSN masks the password of a postgres url for logging.
func (c Config) RedactedDSN() string {
	return dsnPassword.ReplaceAllString(c.PostgresDSN, `://$1:****@`)
}

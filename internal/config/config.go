package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port           int           `yaml:"port"`
		MaxUploadBytes int64         `yaml:"max_upload_bytes"`
		ReadTimeout    time.Duration `yaml:"read_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Database struct {
		Driver   string `yaml:"driver"` // sqlite | mysql | postgres
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		Path     string `yaml:"path"` // sqlite file
	} `yaml:"database"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	Services struct {
		DocumentURL string `yaml:"document_url"`
	} `yaml:"services"`

	OpenAI struct {
		APIKey      string `yaml:"api_key"`
		BaseURL     string `yaml:"base_url"`
		Model       string `yaml:"model"`
		VisionModel string `yaml:"vision_model"`
	} `yaml:"openai"`

	VirusTotal struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"virustotal"`

	URLScan struct {
		APIKey       string        `yaml:"api_key"`
		BaseURL      string        `yaml:"base_url"`
		PollInterval time.Duration `yaml:"poll_interval"`
		PollAttempts int           `yaml:"poll_attempts"`
	} `yaml:"urlscan"`

	Pipeline struct {
		StageTimeout         time.Duration `yaml:"stage_timeout"`
		FetchTimeout         time.Duration `yaml:"fetch_timeout"`
		MaxDocumentBytes     int64         `yaml:"max_document_bytes"`
		DegradeURLReputation bool          `yaml:"degrade_url_reputation"`
		Retry                struct {
			MaxAttempts int           `yaml:"max_attempts"`
			BaseDelay   time.Duration `yaml:"base_delay"`
		} `yaml:"retry"`
	} `yaml:"pipeline"`

	Auth struct {
		APIKeys map[string]string `yaml:"api_keys"` // key -> client name
	} `yaml:"auth"`

	RateLimit struct {
		Capacity        int     `yaml:"capacity"`
		RefillPerSecond float64 `yaml:"refill_per_second"`
	} `yaml:"ratelimit"`

	Telemetry struct {
		Enabled  bool   `yaml:"enabled"`
		Endpoint string `yaml:"endpoint"`
		Service  string `yaml:"service"`
	} `yaml:"telemetry"`
}

// Load baca file config.yaml, lalu env override dan default.
// File yang tidak ada bukan error: semua bisa datang dari env.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, eris.Wrapf(err, "parse %s", path)
		}
	case os.IsNotExist(err):
	default:
		return nil, eris.Wrapf(err, "read %s", path)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	str := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	num := func(dst *int, key string) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	str(&c.Services.DocumentURL, "DOCUMENT_SERVICE_URL")
	str(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	str(&c.OpenAI.BaseURL, "OPENAI_BASE_URL")
	str(&c.VirusTotal.APIKey, "VT_API_KEY")
	str(&c.URLScan.APIKey, "URLSCAN_API_KEY")
	str(&c.Database.Driver, "DB_DRIVER")
	str(&c.Database.Host, "DB_HOST")
	num(&c.Database.Port, "DB_PORT")
	str(&c.Database.User, "DB_USER")
	str(&c.Database.Password, "DB_PASSWORD")
	str(&c.Database.Name, "DB_NAME")
	str(&c.Database.Path, "DB_PATH")
	str(&c.Minio.Endpoint, "MINIO_ENDPOINT")
	str(&c.Minio.AccessKey, "MINIO_ACCESS_KEY")
	str(&c.Minio.SecretKey, "MINIO_SECRET_KEY")
	str(&c.Minio.BucketName, "MINIO_BUCKET")
	str(&c.Log.Level, "LOG_LEVEL")
	num(&c.Server.Port, "PORT")
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.MaxUploadBytes <= 0 {
		c.Server.MaxUploadBytes = 50 << 20
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	// satu analisa bisa makan beberapa menit (urlscan polling)
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 5 * time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/docguard.db"
	}
	if c.Minio.BucketName == "" {
		c.Minio.BucketName = "docguard-renders"
	}
	if c.Pipeline.StageTimeout <= 0 {
		c.Pipeline.StageTimeout = 60 * time.Second
	}
	if c.Pipeline.FetchTimeout <= 0 {
		c.Pipeline.FetchTimeout = 30 * time.Second
	}
	if c.Pipeline.MaxDocumentBytes <= 0 {
		c.Pipeline.MaxDocumentBytes = c.Server.MaxUploadBytes
	}
	if c.Pipeline.Retry.MaxAttempts <= 0 {
		c.Pipeline.Retry.MaxAttempts = 1
	}
	if c.Pipeline.Retry.BaseDelay <= 0 {
		c.Pipeline.Retry.BaseDelay = 500 * time.Millisecond
	}
	if c.RateLimit.Capacity <= 0 {
		c.RateLimit.Capacity = 60
	}
	if c.RateLimit.RefillPerSecond <= 0 {
		c.RateLimit.RefillPerSecond = 1
	}
	if c.Telemetry.Service == "" {
		c.Telemetry.Service = "docguard"
	}
}

// Validate cek semua kredensial dan alamat wajib. Dipanggil sekali saat start.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OpenAI.APIKey) == "" {
		return ErrMissingOpenAIKey
	}
	if strings.TrimSpace(c.VirusTotal.APIKey) == "" {
		return ErrMissingVirusTotalKey
	}
	if strings.TrimSpace(c.URLScan.APIKey) == "" {
		return ErrMissingURLScanKey
	}
	u, err := url.Parse(c.Services.DocumentURL)
	if c.Services.DocumentURL == "" || err != nil || u.Scheme == "" || u.Host == "" {
		return ErrInvalidDocumentURL
	}
	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedDriver, c.Database.Driver)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return ErrInvalidPort
	}
	return nil
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// Helper untuk build DSN Postgres
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port),
		Path:     "/" + c.Database.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

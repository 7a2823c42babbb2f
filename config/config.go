package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Supabase  SupabaseConfig
	Scheduler SchedulerConfig
	Cache     CacheConfig
	Auth      AuthConfig
	Mail      MailConfig
	Instagram InstagramConfig
	Redis     RedisConfig
	Edge      EdgeConfig
	LogLevel  string
	LogFormat string
	LogFile   string
	RegionDir string
	Region    *RegionConfig
	Regions   map[string]*RegionConfig
}

type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	MaxBodyBytes   int64
}

type DatabaseConfig struct {
	URL        string // Supabase Postgres connection string
	SQLitePath string // used when URL is empty
}

// SupabaseConfig holds the storage credentials. Supabase Storage exposes an
// S3-compatible endpoint, so photos go through the S3 client.
type SupabaseConfig struct {
	URL             string
	StorageBucket   string
	S3Endpoint      string
	S3Region        string
	AccessKeyID     string
	SecretAccessKey string
	PublicURL       string
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type CacheConfig struct {
	TTL                time.Duration
	StaleCheckInterval time.Duration
	RefreshOnStartup   bool
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

type MailConfig struct {
	AWSRegion string
	From      string
	ContactTo string
	CareersTo string
}

type InstagramConfig struct {
	GraphURL    string
	OAuthURL    string
	AccessToken string
	AppID       string
	AppSecret   string
	RedirectURI string
	CacheTTL    time.Duration
	FeedLimit   int

	// DeletionStatusURL is where users can check a data-deletion request
	DeletionStatusURL string
}

type RedisConfig struct {
	URL string
}

type EdgeConfig struct {
	Addr        string
	OriginURL   string
	ImagePrefix string
	ImageMaxAge time.Duration
}

// RegionConfig describes one brokerage region. The YAML carries the public
// shape of the MLS feed; credentials come from the environment.
type RegionConfig struct {
	ID   string    `yaml:"id"`
	Name string    `yaml:"name"`
	MLS  MLSConfig `yaml:"mls"`
}

type MLSConfig struct {
	BaseURL             string        `yaml:"base_url"`
	Resource            string        `yaml:"resource"`
	KeyField            string        `yaml:"key_field"`
	FallbackKeyField    string        `yaml:"fallback_key_field"`
	StatusField         string        `yaml:"status_field"`
	FallbackStatusField string        `yaml:"fallback_status_field"`
	Statuses            []string      `yaml:"statuses"`
	ActiveOnly          bool          `yaml:"active_only"`
	Select              []string      `yaml:"select"`
	OfficeFilterField   string        `yaml:"office_filter_field"`
	OrderBy             string        `yaml:"order_by"`
	PageSize            int           `yaml:"page_size"`
	MaxPages            int           `yaml:"max_pages"` // 0 = follow next links until exhausted
	OfficeHeader        string        `yaml:"office_header"`
	AppNameHeader       string        `yaml:"app_name_header"`
	AppName             string        `yaml:"app_name"`
	UserAgent           string        `yaml:"user_agent"`
	Timeout             time.Duration `yaml:"timeout"`
	MaxRetries          int           `yaml:"max_retries"`

	Token    string `yaml:"-"`
	OfficeID string `yaml:"-"`
}

// Load reads the API server configuration, including the selected region.
func Load() (*Config, error) {
	cfg := fromEnv()

	if err := cfg.loadRegionConfigs(); err != nil {
		return nil, err
	}

	regionID := getEnv("BROKERAGE_REGION", "north")
	region, ok := cfg.Regions[regionID]
	if !ok {
		return nil, fmt.Errorf("unknown brokerage region %q (looked in %s)", regionID, cfg.RegionDir)
	}
	region.MLS.applyEnv(regionID)
	cfg.Region = region

	return cfg, nil
}

// LoadEdge reads configuration for the edge proxy, which needs no region.
func LoadEdge() (*Config, error) {
	cfg := fromEnv()
	if cfg.Edge.OriginURL == "" {
		return nil, fmt.Errorf("EDGE_ORIGIN_URL is required")
	}
	return cfg, nil
}

func fromEnv() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Addr:           getEnv("HTTP_ADDR", ":8080"),
			AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),
			MaxBodyBytes:   int64(getEnvInt("MAX_BODY_BYTES", 10<<20)),
		},
		Database: DatabaseConfig{
			URL:        os.Getenv("DATABASE_URL"),
			SQLitePath: getEnv("DB_PATH", "brokerage.db"),
		},
		Supabase: SupabaseConfig{
			URL:             os.Getenv("SUPABASE_URL"),
			StorageBucket:   getEnv("SUPABASE_STORAGE_BUCKET", "media"),
			S3Endpoint:      os.Getenv("SUPABASE_S3_ENDPOINT"),
			S3Region:        getEnv("SUPABASE_S3_REGION", "us-east-1"),
			AccessKeyID:     os.Getenv("SUPABASE_S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("SUPABASE_S3_SECRET_ACCESS_KEY"),
			PublicURL:       os.Getenv("SUPABASE_STORAGE_PUBLIC_URL"),
		},
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("REFRESH_CRON"),
		},
		Cache: CacheConfig{
			TTL:                getEnvDuration("CACHE_TTL", 15*time.Minute),
			StaleCheckInterval: getEnvDuration("STALE_CHECK_INTERVAL", time.Minute),
			RefreshOnStartup:   os.Getenv("REFRESH_ON_STARTUP") == "true",
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
			TokenTTL:  getEnvDuration("TOKEN_TTL", 12*time.Hour),
		},
		Mail: MailConfig{
			AWSRegion: os.Getenv("SES_REGION"),
			From:      os.Getenv("MAIL_FROM"),
			ContactTo: os.Getenv("CONTACT_TO"),
			CareersTo: getEnv("CAREERS_TO", os.Getenv("CONTACT_TO")),
		},
		Instagram: InstagramConfig{
			GraphURL:    getEnv("INSTAGRAM_GRAPH_URL", "https://graph.instagram.com"),
			OAuthURL:    getEnv("INSTAGRAM_OAUTH_URL", "https://api.instagram.com"),
			AccessToken: os.Getenv("INSTAGRAM_ACCESS_TOKEN"),
			AppID:       os.Getenv("INSTAGRAM_APP_ID"),
			AppSecret:   os.Getenv("INSTAGRAM_APP_SECRET"),
			RedirectURI: os.Getenv("INSTAGRAM_REDIRECT_URI"),
			CacheTTL:    getEnvDuration("INSTAGRAM_CACHE_TTL", time.Hour),
			FeedLimit:   getEnvInt("INSTAGRAM_FEED_LIMIT", 12),

			DeletionStatusURL: os.Getenv("INSTAGRAM_DELETION_STATUS_URL"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Edge: EdgeConfig{
			Addr:        getEnv("EDGE_ADDR", ":8787"),
			OriginURL:   os.Getenv("EDGE_ORIGIN_URL"),
			ImagePrefix: getEnv("EDGE_IMAGE_PREFIX", "/image-proxy/"),
			ImageMaxAge: getEnvDuration("EDGE_IMAGE_MAX_AGE", 365*24*time.Hour),
		},
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
		LogFile:   getEnv("LOG_FILE", "server.log"),
		RegionDir: getEnv("REGION_CONFIG_DIR", "config/regions"),
		Regions:   make(map[string]*RegionConfig),
	}

	if interval := os.Getenv("REFRESH_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err == nil {
			cfg.Scheduler.Interval = d
		}
	}

	return cfg
}

func (c *Config) loadRegionConfigs() error {
	entries, err := os.ReadDir(c.RegionDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		region, err := LoadRegionFile(filepath.Join(c.RegionDir, entry.Name()))
		if err != nil {
			return err
		}
		c.Regions[region.ID] = region
	}

	return nil
}

// LoadRegionFile parses a single region file and fills feed defaults.
func LoadRegionFile(path string) (*RegionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var region RegionConfig
	if err := yaml.Unmarshal(data, &region); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if region.ID == "" {
		region.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	region.MLS.ApplyDefaults()
	return &region, nil
}

// ApplyDefaults fills unset feed options with RESO conventions.
func (m *MLSConfig) ApplyDefaults() {
	if m.Resource == "" {
		m.Resource = "Property"
	}
	if m.KeyField == "" {
		m.KeyField = "ListingKey"
	}
	if m.FallbackKeyField == "" {
		m.FallbackKeyField = "ListingId"
	}
	if m.StatusField == "" {
		m.StatusField = "StandardStatus"
	}
	if m.FallbackStatusField == "" {
		m.FallbackStatusField = "MlsStatus"
	}
	if len(m.Statuses) == 0 {
		m.Statuses = []string{"Active", "Active Under Contract", "Pending"}
	}
	if m.PageSize <= 0 {
		m.PageSize = 200
	}
	if m.OfficeHeader == "" {
		m.OfficeHeader = "OUID"
	}
	if m.AppNameHeader == "" {
		m.AppNameHeader = "X-MLS-Application"
	}
	if m.UserAgent == "" {
		m.UserAgent = "brokerage-site/1.0"
	}
	if m.Timeout <= 0 {
		m.Timeout = 30 * time.Second
	}
	if m.MaxRetries <= 0 {
		m.MaxRetries = 3
	}
}

// applyEnv reads credentials from <REGION>_MLS_* variables.
func (m *MLSConfig) applyEnv(regionID string) {
	prefix := strings.ToUpper(regionID) + "_MLS_"
	m.Token = os.Getenv(prefix + "TOKEN")
	m.OfficeID = os.Getenv(prefix + "OFFICE_ID")
	if v := os.Getenv(prefix + "BASE_URL"); v != "" {
		m.BaseURL = v
	}
	if v := os.Getenv(prefix + "APP_NAME"); v != "" {
		m.AppName = v
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"rankpool/extract"
	"rankpool/models"
)

const (
	BackendREST     = "rest"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"

	HandlerAPI     = "api"
	HandlerStatic  = "static"
	HandlerBrowser = "browser"
)

type Config struct {
	Store       StoreConfig
	Supabase    SupabaseConfig
	Scheduler   SchedulerConfig
	Scraper     ScraperConfig
	Proxy       ProxyConfig
	SMTP        SMTPConfig
	Redis       RedisConfig
	Translate   TranslateConfig
	Archive     ArchiveConfig
	Enrichment  EnrichmentConfig
	MetricsAddr string
	DBPath      string
	LogLevel    string
	LogMaxBytes int64
	SourcesDir  string
	Sources     map[string]*SourceConfig
}

type StoreConfig struct {
	Backend string
}

type SupabaseConfig struct {
	URL        string
	ServiceKey string
	DBURL      string
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type ScraperConfig struct {
	TopN           int
	Retries        int
	BackoffBase    time.Duration
	DelayMin       time.Duration
	DelayMax       time.Duration
	FetchTimeout   time.Duration
	PersistTimeout time.Duration
	Timezone       string
}

type ProxyConfig struct {
	URL string
}

type SMTPConfig struct {
	Server   string
	Port     int
	User     string
	Password string
	To       string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type TranslateConfig struct {
	APIKey string
	Target string
}

type ArchiveConfig struct {
	Bucket   string
	Prefix   string
	Endpoint string
	Region   string
	Dir      string
}

type EnrichmentConfig struct {
	QueueURL string
	Region   string
}

// SourceConfig is one config/sources/*.yaml file.
type SourceConfig struct {
	ID           string                  `yaml:"id"`
	Name         string                  `yaml:"name"`
	Handler      string                  `yaml:"handler"`
	BaseURL      string                  `yaml:"base_url"`
	JobName      string                  `yaml:"job_name"`
	TopN         int                     `yaml:"top_n"`
	Disabled     bool                    `yaml:"disabled"`
	Request      RequestConfig           `yaml:"request"`
	Browser      BrowserConfig           `yaml:"browser"`
	BlockMarkers []string                `yaml:"block_markers"`
	Selectors    []extract.SelectorGroup `yaml:"selectors"`
	Fields       extract.FieldMap        `yaml:"fields"`
	Shapes       []string                `yaml:"shapes"`
	Categories   []models.Category       `yaml:"categories"`
}

type RequestConfig struct {
	Endpoint string            `yaml:"endpoint"`
	Method   string            `yaml:"method"`
	Params   map[string]string `yaml:"params"`
	Headers  map[string]string `yaml:"headers"`
}

type BrowserConfig struct {
	Headless       *bool  `yaml:"headless"`
	UserAgent      string `yaml:"user_agent"`
	ViewportWidth  int    `yaml:"viewport_width"`
	ViewportHeight int    `yaml:"viewport_height"`
	Mobile         bool   `yaml:"mobile"`
	Touch          bool   `yaml:"touch"`
	Locale         string `yaml:"locale"`
	WaitUntil      string `yaml:"wait_until"`
	WaitSelector   string `yaml:"wait_selector"`
	Intercept      string `yaml:"intercept"`
	LandingURL     string `yaml:"landing_url"`
	TabSelector    string `yaml:"tab_selector"`
	SettleMS       int    `yaml:"settle_ms"`
	ScrollSteps    int    `yaml:"scroll_steps"`
}

func (b BrowserConfig) IsHeadless() bool {
	return b.Headless == nil || *b.Headless
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Store: StoreConfig{
			Backend: os.Getenv("STORE_BACKEND"),
		},
		Supabase: SupabaseConfig{
			URL:        os.Getenv("SUPABASE_URL"),
			ServiceKey: os.Getenv("SUPABASE_SERVICE_KEY"),
			DBURL:      os.Getenv("DATABASE_URL"),
		},
		Scheduler: SchedulerConfig{
			Cron:     os.Getenv("SCRAPE_CRON"),
			Interval: getEnvDuration("SCRAPE_INTERVAL", 0),
		},
		Scraper: ScraperConfig{
			TopN:           getEnvInt("SCRAPE_TOP_N", extract.DefaultTopN),
			Retries:        getEnvInt("SCRAPE_RETRIES", 3),
			BackoffBase:    getEnvDuration("SCRAPE_BACKOFF_BASE", 10*time.Second),
			DelayMin:       getEnvDuration("SCRAPE_DELAY_MIN", time.Second),
			DelayMax:       getEnvDuration("SCRAPE_DELAY_MAX", 3*time.Second),
			FetchTimeout:   getEnvDuration("FETCH_TIMEOUT", 45*time.Second),
			PersistTimeout: getEnvDuration("PERSIST_TIMEOUT", 30*time.Second),
			Timezone:       getEnv("RANK_TIMEZONE", "Asia/Seoul"),
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		SMTP: SMTPConfig{
			Server:   os.Getenv("SMTP_SERVER"),
			Port:     getEnvInt("SMTP_PORT", 587),
			User:     os.Getenv("SMTP_USER"),
			Password: os.Getenv("SMTP_PASSWORD"),
			To:       os.Getenv("NOTIFICATION_EMAIL"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Translate: TranslateConfig{
			APIKey: os.Getenv("TRANSLATE_API_KEY"),
			Target: getEnv("TRANSLATE_TARGET", "en"),
		},
		Archive: ArchiveConfig{
			Bucket:   os.Getenv("ARCHIVE_BUCKET"),
			Prefix:   getEnv("ARCHIVE_PREFIX", "raw-pages"),
			Endpoint: os.Getenv("ARCHIVE_ENDPOINT"),
			Region:   getEnv("AWS_REGION", "ap-northeast-2"),
			Dir:      os.Getenv("ARCHIVE_DIR"),
		},
		Enrichment: EnrichmentConfig{
			QueueURL: os.Getenv("ENRICHMENT_QUEUE_URL"),
			Region:   getEnv("AWS_REGION", "ap-northeast-2"),
		},
		MetricsAddr: os.Getenv("METRICS_ADDR"),
		DBPath:      getEnv("DB_PATH", "rankpool.db"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogMaxBytes: int64(getEnvInt("LOG_MAX_BYTES", 2*1024*1024)),
		SourcesDir:  getEnv("SOURCES_DIR", "config/sources"),
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = defaultBackend(cfg.Supabase)
	}

	sources, err := LoadSources(cfg.SourcesDir)
	if err != nil {
		return nil, err
	}
	cfg.Sources = sources
	if !getEnvBool("BROWSER_HEADLESS", true) {
		for _, src := range sources {
			headed := false
			src.Browser.Headless = &headed
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultBackend(s SupabaseConfig) string {
	switch {
	case s.URL != "" && s.ServiceKey != "":
		return BackendREST
	case s.DBURL != "":
		return BackendPostgres
	default:
		return BackendMemory
	}
}

// LoadSources reads every *.yaml file in dir. A missing dir yields no sources.
func LoadSources(dir string) (map[string]*SourceConfig, error) {
	sources := make(map[string]*SourceConfig)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return sources, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		var src SourceConfig
		if err := yaml.Unmarshal(data, &src); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if src.ID == "" {
			src.ID = strings.TrimSuffix(entry.Name(), ext)
		}
		if src.JobName == "" {
			src.JobName = src.ID + "_ranking_crawl"
		}
		if _, dup := sources[src.ID]; dup {
			return nil, fmt.Errorf("%s: duplicate source id %q", path, src.ID)
		}
		sources[src.ID] = &src
	}

	return sources, nil
}

func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendREST:
		if c.Supabase.URL == "" || c.Supabase.ServiceKey == "" {
			return fmt.Errorf("store backend %q needs SUPABASE_URL and SUPABASE_SERVICE_KEY", c.Store.Backend)
		}
	case BackendPostgres:
		if c.Supabase.DBURL == "" {
			return fmt.Errorf("store backend %q needs DATABASE_URL", c.Store.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.Scraper.Retries < 1 {
		return fmt.Errorf("SCRAPE_RETRIES must be at least 1, got %d", c.Scraper.Retries)
	}
	if c.Scraper.DelayMin < 0 || c.Scraper.DelayMax < c.Scraper.DelayMin {
		return fmt.Errorf("invalid politeness delay range %s..%s", c.Scraper.DelayMin, c.Scraper.DelayMax)
	}
	if _, err := time.LoadLocation(c.Scraper.Timezone); err != nil {
		return fmt.Errorf("RANK_TIMEZONE: %w", err)
	}

	for _, id := range c.SourceIDs() {
		if err := c.Sources[id].Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (s *SourceConfig) Validate() error {
	switch s.Handler {
	case HandlerAPI:
		if s.Request.Endpoint == "" {
			return fmt.Errorf("source %s: api handler needs request.endpoint", s.ID)
		}
	case HandlerStatic, HandlerBrowser:
	default:
		return fmt.Errorf("source %s: unknown handler %q", s.ID, s.Handler)
	}
	if len(s.Categories) == 0 {
		return fmt.Errorf("source %s: no categories", s.ID)
	}

	seen := make(map[string]bool, len(s.Categories))
	for _, cat := range s.Categories {
		if cat.Code == "" {
			return fmt.Errorf("source %s: category %q has no code", s.ID, cat.Name)
		}
		if seen[cat.Code] {
			return fmt.Errorf("source %s: duplicate category code %q", s.ID, cat.Code)
		}
		seen[cat.Code] = true

		if s.Handler == HandlerAPI {
			continue
		}
		if cat.URL == "" && cat.Navigate == "" {
			return fmt.Errorf("source %s: category %s needs url or navigate", s.ID, cat.Code)
		}
		if cat.Navigate != "" && (s.Handler != HandlerBrowser || s.Browser.LandingURL == "") {
			return fmt.Errorf("source %s: category %s navigates in-page but no browser landing_url is set", s.ID, cat.Code)
		}
	}

	if _, err := extract.New(s.ExtractOptions()); err != nil {
		return fmt.Errorf("source %s: %w", s.ID, err)
	}
	return nil
}

func (s *SourceConfig) ExtractOptions() extract.Options {
	return extract.Options{Selectors: s.Selectors, Shapes: s.Shapes, Fields: s.Fields}
}

// EffectiveTopN prefers the source's own cap over the global one.
func (s *SourceConfig) EffectiveTopN(global int) int {
	if s.TopN > 0 {
		return s.TopN
	}
	return global
}

// SourceIDs returns enabled source ids in a stable order.
func (c *Config) SourceIDs() []string {
	ids := make([]string, 0, len(c.Sources))
	for id, s := range c.Sources {
		if !s.Disabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
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

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

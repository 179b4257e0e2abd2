package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable, e.g. DIVORCECAST_SERVER_PORT.
const EnvPrefix = "DIVORCECAST"

// ConfigFileEnv overrides the config file search.
const ConfigFileEnv = "DIVORCECAST_CONFIG"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
	Data      DataConfig      `yaml:"data" envconfig:"DATA"`
	Forecast  ForecastConfig  `yaml:"forecast" envconfig:"FORECAST"`
	Cache     CacheConfig     `yaml:"cache" envconfig:"CACHE"`
	Regions   RegionsConfig   `yaml:"regions" envconfig:"REGIONS"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	TuneTimeout     time.Duration `yaml:"tune_timeout" envconfig:"TUNE_TIMEOUT"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL"`
	Format      string `yaml:"format" envconfig:"FORMAT"`
	Output      string `yaml:"output" envconfig:"OUTPUT"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// PathsConfig contains file system paths configuration. Relative
// directories resolve against BaseDir, or the executable directory
// when BaseDir is empty.
type PathsConfig struct {
	BaseDir   string `yaml:"base_dir" envconfig:"BASE_DIR"`
	DataDir   string `yaml:"data_dir" envconfig:"DATA_DIR"`
	OutputDir string `yaml:"output_dir" envconfig:"OUTPUT_DIR"`
	LogsDir   string `yaml:"logs_dir" envconfig:"LOGS_DIR"`
}

// DataConfig names the input files inside the data directory.
type DataConfig struct {
	ModelSeries      string `yaml:"model_series" envconfig:"MODEL_SERIES"`
	Regional         string `yaml:"regional" envconfig:"REGIONAL"`
	ClassicalMetrics string `yaml:"classical_metrics" envconfig:"CLASSICAL_METRICS"`
	ClassicalRolling string `yaml:"classical_rolling" envconfig:"CLASSICAL_ROLLING"`
	SaturatingFuture string `yaml:"saturating_future" envconfig:"SATURATING_FUTURE"`
	ClassicalFuture  string `yaml:"classical_future" envconfig:"CLASSICAL_FUTURE"`
	TargetColumn     string `yaml:"target_column" envconfig:"TARGET_COLUMN"`
}

// ForecastConfig holds the default model parameters and horizon bounds.
type ForecastConfig struct {
	Growth                string  `yaml:"growth" envconfig:"GROWTH"`
	ChangepointPriorScale float64 `yaml:"changepoint_prior_scale" envconfig:"CHANGEPOINT_PRIOR_SCALE"`
	SeasonalityPriorScale float64 `yaml:"seasonality_prior_scale" envconfig:"SEASONALITY_PRIOR_SCALE"`
	YearlySeasonality     bool    `yaml:"yearly_seasonality" envconfig:"YEARLY_SEASONALITY"`
	WeeklySeasonality     bool    `yaml:"weekly_seasonality" envconfig:"WEEKLY_SEASONALITY"`
	DailySeasonality      bool    `yaml:"daily_seasonality" envconfig:"DAILY_SEASONALITY"`
	NChangepoints         int     `yaml:"n_changepoints" envconfig:"N_CHANGEPOINTS"`
	ChangepointRange      float64 `yaml:"changepoint_range" envconfig:"CHANGEPOINT_RANGE"`
	YearlyFourierOrder    int     `yaml:"yearly_fourier_order" envconfig:"YEARLY_FOURIER_ORDER"`
	IntervalWidth         float64 `yaml:"interval_width" envconfig:"INTERVAL_WIDTH"`
	MinTrainingPoints     int     `yaml:"min_training_points" envconfig:"MIN_TRAINING_POINTS"`

	FuturePeriods  int `yaml:"future_periods" envconfig:"FUTURE_PERIODS"`
	HorizonStep    int `yaml:"horizon_step" envconfig:"HORIZON_STEP"`
	DefaultHorizon int `yaml:"default_horizon" envconfig:"DEFAULT_HORIZON"`

	ZeroActualPolicy string `yaml:"zero_actual_policy" envconfig:"ZERO_ACTUAL_POLICY"`

	TuneSamples     int   `yaml:"tune_samples" envconfig:"TUNE_SAMPLES"`
	TuneSeed        int64 `yaml:"tune_seed" envconfig:"TUNE_SEED"`
	TuneConcurrency int   `yaml:"tune_concurrency" envconfig:"TUNE_CONCURRENCY"`
}

// CacheConfig selects and tunes the memoization store.
type CacheConfig struct {
	Backend       string        `yaml:"backend" envconfig:"BACKEND"`
	TTL           time.Duration `yaml:"ttl" envconfig:"TTL"`
	RedisAddr     string        `yaml:"redis_addr" envconfig:"REDIS_ADDR"`
	RedisPassword string        `yaml:"redis_password" envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" envconfig:"REDIS_DB"`
	RedisPrefix   string        `yaml:"redis_prefix" envconfig:"REDIS_PREFIX"`
	Watch         bool          `yaml:"watch" envconfig:"WATCH"`
	WarmSchedule  string        `yaml:"warm_schedule" envconfig:"WARM_SCHEDULE"`
}

// RegionsConfig points at the region scheme table.
type RegionsConfig struct {
	File            string `yaml:"file" envconfig:"FILE"`
	DefaultScheme   string `yaml:"default_scheme" envconfig:"DEFAULT_SCHEME"`
	DefaultYearFrom int    `yaml:"default_year_from" envconfig:"DEFAULT_YEAR_FROM"`
	DefaultYearTo   int    `yaml:"default_year_to" envconfig:"DEFAULT_YEAR_TO"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT"`
}

// Load builds the configuration from defaults, then the YAML file if one
// is found, then environment variables.
func Load() (*Config, error) {
	return LoadFrom(getConfigFilePath())
}

// LoadFrom is Load with an explicit config file. An empty path skips the file.
func LoadFrom(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file %s: %w", configFile, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg. Keys absent from the file
// keep their current values.
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.Security.EnableCORS && len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin must be specified")
	}

	switch c.Logging.Format {
	case "":
		c.Logging.Format = "json"
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging format %q", c.Logging.Format)
	}

	switch c.Logging.Output {
	case "console", "stdout", "file", "both":
	default:
		return fmt.Errorf("invalid logging output %q", c.Logging.Output)
	}

	if c.Data.ModelSeries == "" || c.Data.Regional == "" {
		return fmt.Errorf("model series and regional file names are required")
	}

	if c.Data.TargetColumn == "" {
		return fmt.Errorf("target column must be set")
	}

	if c.Forecast.FuturePeriods < 0 {
		return fmt.Errorf("future periods must not be negative: %d", c.Forecast.FuturePeriods)
	}

	if c.Forecast.HorizonStep <= 0 {
		return fmt.Errorf("horizon step must be positive: %d", c.Forecast.HorizonStep)
	}

	switch c.Forecast.ZeroActualPolicy {
	case "exclude", "fail":
	default:
		return fmt.Errorf("zero actual policy must be exclude or fail, got %q", c.Forecast.ZeroActualPolicy)
	}

	if c.Forecast.TuneConcurrency <= 0 {
		c.Forecast.TuneConcurrency = 1
	}

	c.Cache.Backend = strings.ToLower(c.Cache.Backend)
	switch c.Cache.Backend {
	case "memory", "none":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("redis cache backend requires redis_addr")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}

	if c.Regions.DefaultYearFrom > c.Regions.DefaultYearTo {
		return fmt.Errorf("default year range is inverted: %d > %d", c.Regions.DefaultYearFrom, c.Regions.DefaultYearTo)
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if p := os.Getenv(ConfigFileEnv); p != "" {
		return p
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
		"../configs/config.yaml",
		"../../configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  30 * time.Second,
			TuneTimeout:     5 * time.Minute,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080", "http://localhost:8501"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/divorcecast.log",
		},
		Paths: PathsConfig{
			DataDir:   "data",
			OutputDir: "output",
			LogsDir:   "logs",
		},
		Data: DataConfig{
			ModelSeries:      "divorce_all_model.csv",
			Regional:         "monthly_marriage_divorce_wide_BE.csv",
			ClassicalMetrics: "sarimax_metrics.csv",
			ClassicalRolling: "sarimax_rolling_forecast.csv",
			SaturatingFuture: "prophet_forecast_future.csv",
			ClassicalFuture:  "sarima_rolling_future_forecast.csv",
			TargetColumn:     "Divorce",
		},
		Forecast: ForecastConfig{
			Growth:                "logistic",
			ChangepointPriorScale: 1.0,
			SeasonalityPriorScale: 0.1,
			YearlySeasonality:     true,
			NChangepoints:         25,
			ChangepointRange:      0.8,
			YearlyFourierOrder:    10,
			IntervalWidth:         0.8,
			MinTrainingPoints:     12,
			FuturePeriods:         60,
			HorizonStep:           12,
			DefaultHorizon:        24,
			ZeroActualPolicy:      "exclude",
			TuneSamples:           20,
			TuneSeed:              42,
			TuneConcurrency:       4,
		},
		Cache: CacheConfig{
			Backend:      "memory",
			TTL:          time.Hour,
			RedisAddr:    "localhost:6379",
			RedisPrefix:  "divorcecast:",
			Watch:        true,
			WarmSchedule: "@every 30m",
		},
		Regions: RegionsConfig{
			DefaultYearFrom: 2560,
			DefaultYearTo:   2565,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingPeriod:      30 * time.Second,
			PongWait:        60 * time.Second,
		},
	}
}

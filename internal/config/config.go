package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	defaultEnv             = "development"
	defaultLogLevel        = "info"
	defaultHTTPHost        = "0.0.0.0"
	defaultHTTPPort        = 8080
	defaultRedisDB         = 0
	defaultCacheTTLSeconds = 30

	defaultSource           = SourceBeacon
	defaultBeaconFunction   = "users/galaxy/jc/beacon_api/generate_gre"
	defaultBeaconTimeout    = 60 * time.Second
	defaultWarehouseTable   = "gc_accounting.finance_uat.dt_gre_pnl_snapshot"
	defaultWarehouseLimit   = 1000
	defaultPricesLookback   = 365
	defaultPricesTimeout    = 30 * time.Second
	defaultPipelineWorkers  = 8
	defaultFetchTimeout     = 2 * time.Minute
	defaultPriceTimeout     = time.Minute
	defaultRabbitExchange   = "positions"
	defaultRabbitBatchSize  = 200
	defaultRabbitBatchDelay = 500 * time.Millisecond
	defaultRabbitAssembly   = 5 * time.Minute
	defaultProducerInterval = 15 * time.Minute
)

// Raw position sources.
const (
	SourceBeacon    = "beacon"
	SourceWarehouse = "warehouse"
)

// Config keeps the runtime configuration for the service.
type Config struct {
	Env         string
	LogLevel    logrus.Level
	HTTP        HTTPConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	Cache       CacheConfig
	Source      string
	Beacon      BeaconConfig
	Warehouse   WarehouseConfig
	Prices      PricesConfig
	Pipeline    PipelineConfig
	RabbitMQ    RabbitMQConfig
	Producer    ProducerConfig
	Profiling   ProfilingConfig
	TradersFile string
}

// HTTPConfig holds HTTP server related settings.
type HTTPConfig struct {
	Host string
	Port int
}

// Addr renders the listen address in host:port form.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// PostgresConfig stores database connection parameters.
type PostgresConfig struct {
	DSN string
}

// RedisConfig stores Redis connection parameters. An empty Addr disables the
// response cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CacheConfig stores cache behavior.
type CacheConfig struct {
	TTLSeconds int
}

type BeaconConfig struct {
	SecretsDir         string
	TokenFile          string
	ClientIDFile       string
	APIURL             string
	Function           string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

type WarehouseConfig struct {
	DSN      string
	Table    string
	RowLimit int
}

type PricesConfig struct {
	BaseURL      string
	APIKey       string
	MappingFile  string
	LookbackDays int
	Timeout      time.Duration
}

// PipelineConfig tunes the positions pipeline. Empty AllowedPods keeps the
// built-in allow-set.
type PipelineConfig struct {
	Workers         int
	AllowedPods     []string
	PinPricesToAsOf bool
	FetchTimeout    time.Duration
	PriceTimeout    time.Duration
}

// RabbitMQConfig stores broker settings. An empty URL disables publishing
// and consuming.
type RabbitMQConfig struct {
	URL          string
	Exchange     string
	Queue        string
	Prefetch     int
	BatchSize    int
	BatchTimeout time.Duration

	// AssemblyTimeout bounds how long the consumer waits for the rest of a
	// partially received run.
	AssemblyTimeout time.Duration
}

type ProducerConfig struct {
	Interval time.Duration
}

type ProfilingConfig struct {
	ServerAddress string
	AppName       string
}

// Load builds Config from environment variables. A .env file in the working
// directory is read first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	level, err := logrus.ParseLevel(getString("LOG_LEVEL", defaultLogLevel))
	collect(err)

	port, err := getInt("HTTP_PORT", defaultHTTPPort)
	collect(err)
	redisDB, err := getInt("REDIS_DB", defaultRedisDB)
	collect(err)
	cacheTTL, err := getInt("CACHE_TTL_SECONDS", defaultCacheTTLSeconds)
	collect(err)

	beaconTimeout, err := getDuration("BEACON_TIMEOUT", defaultBeaconTimeout)
	collect(err)
	beaconInsecure, err := getBool("BEACON_INSECURE_SKIP_VERIFY", false)
	collect(err)

	warehouseLimit, err := getInt("WAREHOUSE_ROW_LIMIT", defaultWarehouseLimit)
	collect(err)

	lookback, err := getInt("PRICES_LOOKBACK_DAYS", defaultPricesLookback)
	collect(err)
	pricesTimeout, err := getDuration("PRICES_TIMEOUT", defaultPricesTimeout)
	collect(err)

	workers, err := getInt("PIPELINE_WORKERS", defaultPipelineWorkers)
	collect(err)
	fetchTimeout, err := getDuration("PIPELINE_FETCH_TIMEOUT", defaultFetchTimeout)
	collect(err)
	priceTimeout, err := getDuration("PIPELINE_PRICE_TIMEOUT", defaultPriceTimeout)
	collect(err)

	prefetch, err := getInt("RABBITMQ_PREFETCH", 0)
	collect(err)
	batchSize, err := getInt("RABBITMQ_BATCH_SIZE", defaultRabbitBatchSize)
	collect(err)
	batchTimeout, err := getDuration("RABBITMQ_BATCH_TIMEOUT", defaultRabbitBatchDelay)
	collect(err)
	assemblyTimeout, err := getDuration("RABBITMQ_ASSEMBLY_TIMEOUT", defaultRabbitAssembly)
	collect(err)
	if err == nil && assemblyTimeout <= 0 {
		errs = append(errs, fmt.Errorf("RABBITMQ_ASSEMBLY_TIMEOUT must be positive, got %s", assemblyTimeout))
	}

	interval, err := getDuration("PRODUCER_INTERVAL", defaultProducerInterval)
	collect(err)
	if err == nil && interval <= 0 {
		errs = append(errs, fmt.Errorf("PRODUCER_INTERVAL must be positive, got %s", interval))
	}

	source := strings.ToLower(getString("DATA_SOURCE", defaultSource))
	if source != SourceBeacon && source != SourceWarehouse {
		errs = append(errs, fmt.Errorf("DATA_SOURCE must be %q or %q, got %q", SourceBeacon, SourceWarehouse, source))
	}
	// Warehouse snapshots are end-of-day, so their price history stops at
	// the as-of date unless told otherwise.
	pin, err := getBool("PIPELINE_PIN_PRICES", source == SourceWarehouse)
	collect(err)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	dsn := os.Getenv("DATABASE_DSN")
	return &Config{
		Env:      getString("APP_ENV", defaultEnv),
		LogLevel: level,
		HTTP:     HTTPConfig{Host: getString("HTTP_HOST", defaultHTTPHost), Port: port},
		Postgres: PostgresConfig{DSN: dsn},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Cache:  CacheConfig{TTLSeconds: cacheTTL},
		Source: source,
		Beacon: BeaconConfig{
			SecretsDir:         getString("BEACON_SECRETS_DIR", "."),
			TokenFile:          os.Getenv("BEACON_TOKEN_FILE"),
			ClientIDFile:       os.Getenv("BEACON_CLIENT_ID_FILE"),
			APIURL:             os.Getenv("BEACON_API_URL"),
			Function:           getString("BEACON_FUNCTION", defaultBeaconFunction),
			Timeout:            beaconTimeout,
			InsecureSkipVerify: beaconInsecure,
		},
		Warehouse: WarehouseConfig{
			DSN:      getString("WAREHOUSE_DSN", dsn),
			Table:    getString("WAREHOUSE_TABLE", defaultWarehouseTable),
			RowLimit: warehouseLimit,
		},
		Prices: PricesConfig{
			BaseURL:      os.Getenv("PRICES_BASE_URL"),
			APIKey:       os.Getenv("PRICES_API_KEY"),
			MappingFile:  os.Getenv("PRICES_MAPPING_FILE"),
			LookbackDays: lookback,
			Timeout:      pricesTimeout,
		},
		Pipeline: PipelineConfig{
			Workers:         workers,
			AllowedPods:     getList("PIPELINE_ALLOWED_PODS"),
			PinPricesToAsOf: pin,
			FetchTimeout:    fetchTimeout,
			PriceTimeout:    priceTimeout,
		},
		RabbitMQ: RabbitMQConfig{
			URL:             os.Getenv("RABBITMQ_URL"),
			Exchange:        getString("RABBITMQ_POSITIONS_EXCHANGE", defaultRabbitExchange),
			Queue:           os.Getenv("RABBITMQ_QUEUE"),
			Prefetch:        prefetch,
			BatchSize:       batchSize,
			BatchTimeout:    batchTimeout,
			AssemblyTimeout: assemblyTimeout,
		},
		Producer: ProducerConfig{Interval: interval},
		Profiling: ProfilingConfig{
			ServerAddress: os.Getenv("PYROSCOPE_SERVER_ADDRESS"),
			AppName:       getString("PYROSCOPE_APP_NAME", "riskfeed"),
		},
		TradersFile: os.Getenv("TRADERS_FILE"),
	}, nil
}

func getString(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func getInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("convert %s value %q to int: %w", key, value, err)
	}
	return parsed, nil
}

func getBool(key string, fallback bool) (bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("convert %s value %q to bool: %w", key, value, err)
	}
	return parsed, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("convert %s value %q to duration: %w", key, value, err)
	}
	return parsed, nil
}

// getList splits a comma separated variable, dropping blanks.
func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

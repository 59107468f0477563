package featengine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"featureflow/internal/features"
	"featureflow/internal/logger"
	"featureflow/internal/session"
)

// Source kinds.
const (
	SourceCSV     = "csv"
	SourceParquet = "parquet"
	SourceSQLite  = "sqlite"
	SourceRedis   = "redis"
)

// Sink names.
const (
	SinkFile    = "file"
	SinkSQLite  = "sqlite"
	SinkRedis   = "redis"
	SinkParquet = "parquet"
	SinkWS      = "ws"
)

var validSinks = map[string]bool{
	SinkFile: true, SinkSQLite: true, SinkRedis: true, SinkParquet: true, SinkWS: true,
}

// Config holds all env-parsed configuration for the feature engine service.
type Config struct {
	Symbol        string // default symbol for files without a symbol column
	Source        string
	SourcePath    string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	ConsumerGroup string
	ConsumerName  string
	BarStreams    []string // Redis stream keys; derived from SYMBOL when empty
	Sinks         []string
	OutputDir     string
	HTTPAddr      string
	LogLevel      slog.Level
	ReplaySpeed   float64
	Params        features.Params
}

// LoadConfig reads an optional .env file, then the environment. Malformed
// values are reported together rather than replaced by defaults.
func LoadConfig() (Config, error) {
	// A missing .env is normal in containers.
	_ = godotenv.Load()

	var errs []error
	intVar := func(key string, fallback int) int {
		n, err := getEnvInt(key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return n
	}

	cfg := Config{
		Symbol:        getEnv("SYMBOL", ""),
		Source:        strings.ToLower(getEnv("SOURCE", SourceCSV)),
		SourcePath:    getEnv("SOURCE_PATH", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/features.db"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		ConsumerGroup: getEnv("CONSUMER_GROUP", "featengine"),
		ConsumerName:  getEnv("CONSUMER_NAME", "worker-1"),
		BarStreams:    splitList(getEnv("BAR_STREAMS", "")),
		Sinks:         splitList(strings.ToLower(getEnv("SINKS", SinkFile))),
		OutputDir:     getEnv("OUTPUT_DIR", "data/features"),
		HTTPAddr:      getEnv("HTTP_ADDR", ":9096"),
	}

	level, err := logger.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		errs = append(errs, err)
	}
	cfg.LogLevel = level

	speed, err := strconv.ParseFloat(getEnv("REPLAY_SPEED", "0"), 64)
	if err != nil || speed < 0 {
		errs = append(errs, fmt.Errorf("config: REPLAY_SPEED must be a number >= 0, got %q", os.Getenv("REPLAY_SPEED")))
	}
	cfg.ReplaySpeed = speed

	p := features.DefaultParams()
	p.ATRPeriod = intVar("ATR_PERIOD", p.ATRPeriod)
	p.OrderFlow.FastPeriod = intVar("EMA_FAST", p.OrderFlow.FastPeriod)
	p.OrderFlow.SlowPeriod = intVar("EMA_SLOW", p.OrderFlow.SlowPeriod)
	p.OrderFlow.SignalPeriod = intVar("EMA_SIGNAL", p.OrderFlow.SignalPeriod)
	p.OrderFlow.RSIPeriod = intVar("RSI_PERIOD", p.OrderFlow.RSIPeriod)
	p.VolumeWindow = intVar("VOLUME_WINDOW", p.VolumeWindow)
	p.OrderFlow.StatsWindow = intVar("CVD_WINDOW", p.OrderFlow.StatsWindow)
	p.ReturnWindow = intVar("RETURN_WINDOW", p.ReturnWindow)
	p.MigrationWindow = intVar("MIGRATION_WINDOW", p.MigrationWindow)
	p.SessionRetentionDays = intVar("SESSION_RETENTION_DAYS", 0)

	loc, err := session.ParseLocation(getEnv("SESSION_TZ", "UTC"))
	if err != nil {
		errs = append(errs, fmt.Errorf("config: SESSION_TZ: %w", err))
	} else {
		p.Calendar = session.NewCalendar(loc)
	}
	cfg.Params = p

	if len(errs) == 0 {
		if err := cfg.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the source, sinks and window parameters.
func (c Config) Validate() error {
	switch c.Source {
	case SourceCSV, SourceParquet:
		if c.SourcePath == "" {
			return fmt.Errorf("config: SOURCE=%s requires SOURCE_PATH", c.Source)
		}
	case SourceSQLite:
	case SourceRedis:
		if len(c.BarStreams) == 0 && c.Symbol == "" {
			return errors.New("config: SOURCE=redis requires BAR_STREAMS or SYMBOL")
		}
	default:
		return fmt.Errorf("config: unknown SOURCE %q (want csv, parquet, sqlite or redis)", c.Source)
	}
	if len(c.Sinks) == 0 {
		return errors.New("config: SINKS is empty")
	}
	for _, s := range c.Sinks {
		if !validSinks[s] {
			return fmt.Errorf("config: unknown sink %q", s)
		}
	}
	return c.Params.Validate()
}

// HasSink reports whether name is among the configured sinks.
func (c Config) HasSink(name string) bool {
	for _, s := range c.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback, fmt.Errorf("config: %s must be an integer, got %q", key, v)
	}
	return n, nil
}

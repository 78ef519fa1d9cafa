package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"pt100-monitor/internal/instrument"
)

type Config struct {
	HTTPPort string
	GRPCPort string
	LogLevel string

	DbDriver   string
	DbDsn      string
	DbHost     string
	DbPort     string
	DbUser     string
	DbPassword string
	DbName     string

	InstrumentAddresses []string
	InstrumentModel     string
	Channels            []string
	ResetDelay          time.Duration

	SamplingInterval time.Duration
	ReadTimeout      time.Duration
	PersistTimeout   time.Duration
	SendTimeout      time.Duration
	MaxReadFailures  int
	ReleaseOnStop    bool
	RecordOnStart    bool

	// ControlRateLimit is control requests per second; 0 disables limiting.
	ControlRateLimit float64
}

// Load reads the configuration from the environment. Unset variables take
// their defaults; malformed ones are reported together.
func Load() (*Config, error) {
	p := &parser{}
	cfg := &Config{
		HTTPPort: p.port(EnvHTTPPort, DefaultHTTPPort),
		GRPCPort: p.port(EnvGRPCPort, DefaultGRPCPort),
		LogLevel: getEnv(EnvLogLevel, DefaultLogLevel),

		DbDriver:   getEnv(EnvDbDriver, DefaultDbDriver),
		DbDsn:      os.Getenv(EnvDbDsn),
		DbHost:     os.Getenv(EnvDbHost),
		DbPort:     os.Getenv(EnvDbPort),
		DbUser:     os.Getenv(EnvDbUser),
		DbPassword: os.Getenv(EnvDbPassword),
		DbName:     os.Getenv(EnvDbName),

		InstrumentAddresses: splitList(getEnv(EnvInstrumentAddresses, DefaultInstrumentAddresses)),
		InstrumentModel:     getEnv(EnvInstrumentModel, DefaultInstrumentModel),
		Channels:            splitList(getEnv(EnvChannels, DefaultChannels)),
		ResetDelay:          p.duration(EnvResetDelay, DefaultResetDelay),

		SamplingInterval: p.duration(EnvSamplingInterval, DefaultSamplingInterval),
		ReadTimeout:      p.duration(EnvReadTimeout, DefaultReadTimeout),
		PersistTimeout:   p.duration(EnvPersistTimeout, DefaultPersistTimeout),
		SendTimeout:      p.duration(EnvSendTimeout, DefaultSendTimeout),
		MaxReadFailures:  p.integer(EnvMaxReadFailures, DefaultMaxReadFailures),
		ReleaseOnStop:    p.boolean(EnvReleaseOnStop, DefaultReleaseOnStop),
		RecordOnStart:    p.boolean(EnvRecordOnStart, DefaultRecordOnStart),
		ControlRateLimit: p.float(EnvControlRateLimit, DefaultControlRateLimit),
	}

	if err := instrument.ValidateChannels(cfg.Channels); err != nil {
		p.fail(EnvChannels, err)
	}
	if len(cfg.InstrumentAddresses) == 0 {
		p.fail(EnvInstrumentAddresses, errors.New("at least one address is required"))
	}
	if cfg.SamplingInterval <= 0 {
		p.fail(EnvSamplingInterval, errors.New("must be positive"))
	}
	if cfg.MaxReadFailures <= 0 {
		p.fail(EnvMaxReadFailures, errors.New("must be positive"))
	}
	if cfg.ControlRateLimit < 0 {
		p.fail(EnvControlRateLimit, errors.New("must not be negative"))
	}

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Logger is the subset of the application logger used to print the config.
type Logger interface {
	Info(msg string, args ...any)
}

// LogConfig prints the effective configuration with credentials redacted.
func LogConfig(logger Logger, cfg *Config) {
	if logger == nil || cfg == nil {
		return
	}

	dsn := "not provided"
	if cfg.DbDsn != "" {
		dsn = fmt.Sprintf("set (length %d)", len(cfg.DbDsn))
	}
	password := "not provided"
	if cfg.DbPassword != "" {
		password = "set (redacted)"
	}

	logger.Info("configuration loaded",
		EnvHTTPPort, cfg.HTTPPort,
		EnvGRPCPort, cfg.GRPCPort,
		EnvLogLevel, cfg.LogLevel,
		EnvDbDriver, cfg.DbDriver,
		EnvDbDsn, dsn,
		EnvDbHost, emptyFallback(cfg.DbHost, "(not set)"),
		EnvDbPort, emptyFallback(cfg.DbPort, "(not set)"),
		EnvDbUser, emptyFallback(cfg.DbUser, "(not set)"),
		EnvDbPassword, password,
		EnvDbName, emptyFallback(cfg.DbName, "(not set)"),
		EnvInstrumentAddresses, strings.Join(cfg.InstrumentAddresses, ","),
		EnvInstrumentModel, cfg.InstrumentModel,
		EnvChannels, strings.Join(cfg.Channels, ","),
		EnvSamplingInterval, cfg.SamplingInterval.String(),
		EnvReadTimeout, cfg.ReadTimeout.String(),
		EnvPersistTimeout, cfg.PersistTimeout.String(),
		EnvSendTimeout, cfg.SendTimeout.String(),
		EnvMaxReadFailures, cfg.MaxReadFailures,
		EnvResetDelay, cfg.ResetDelay.String(),
		EnvReleaseOnStop, cfg.ReleaseOnStop,
		EnvRecordOnStart, cfg.RecordOnStart,
		EnvControlRateLimit, cfg.ControlRateLimit,
	)
}

type parser struct {
	errs []error
}

func (p *parser) fail(key string, err error) {
	p.errs = append(p.errs, fmt.Errorf("config: %s: %w", key, err))
}

func (p *parser) port(key, fallback string) string {
	value := getEnv(key, fallback)
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 || n > 65535 {
		p.fail(key, fmt.Errorf("invalid port %q", value))
		return fallback
	}
	return value
}

func (p *parser) integer(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return n
}

func (p *parser) float(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return f
}

func (p *parser) boolean(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return b
}

// duration accepts Go durations ("1500ms") and bare seconds ("5", "0.5").
func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		p.fail(key, fmt.Errorf("invalid duration %q", value))
		return fallback
	}
	return time.Duration(seconds * float64(time.Second))
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func emptyFallback(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

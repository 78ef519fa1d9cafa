package config

import "time"

const (
	EnvHTTPPort            = "HTTP_PORT"
	EnvGRPCPort            = "GRPC_PORT"
	EnvDbDriver            = "DB_DRIVER"
	EnvDbDsn               = "DB_DSN"
	EnvDbHost              = "DB_HOST"
	EnvDbPort              = "DB_PORT"
	EnvDbUser              = "DB_USER"
	EnvDbPassword          = "DB_PASSWORD"
	EnvDbName              = "DB_NAME"
	EnvLogLevel            = "LOG_LEVEL"
	EnvInstrumentAddresses = "INSTRUMENT_ADDRESSES"
	EnvInstrumentModel     = "INSTRUMENT_MODEL"
	EnvChannels            = "CHANNELS"
	EnvSamplingInterval    = "SAMPLING_INTERVAL"
	EnvReadTimeout         = "READ_TIMEOUT"
	EnvPersistTimeout      = "PERSIST_TIMEOUT"
	EnvSendTimeout         = "SEND_TIMEOUT"
	EnvMaxReadFailures     = "MAX_READ_FAILURES"
	EnvResetDelay          = "RESET_DELAY"
	EnvReleaseOnStop       = "RELEASE_ON_STOP"
	EnvRecordOnStart       = "RECORD_ON_START"
	EnvControlRateLimit    = "CONTROL_RATE_LIMIT"

	DefaultHTTPPort            = "8080"
	DefaultGRPCPort            = "50051"
	DefaultDbDriver            = "postgres"
	DefaultLogLevel            = "info"
	DefaultInstrumentAddresses = "serial://auto"
	DefaultInstrumentModel     = "34970A"
	DefaultChannels            = "205,206,207,208,209,210"
	DefaultSamplingInterval    = 5 * time.Second
	DefaultReadTimeout         = 30 * time.Second
	DefaultPersistTimeout      = 10 * time.Second
	DefaultSendTimeout         = 5 * time.Second
	DefaultMaxReadFailures     = 5
	DefaultResetDelay          = time.Second
	DefaultReleaseOnStop       = true
	DefaultRecordOnStart       = true
	DefaultControlRateLimit    = 5.0
)

package config

import (
	"fmt"
	"os"
	"strconv"
)

// Sink drivers selectable with SINK_DRIVER.
const (
	SinkClickHouse = "clickhouse"
	SinkPostgres   = "postgres"
)

// Config holds application configuration read from the environment.
type Config struct {
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool

	DestinationRoot string
	NCEIBaseURL     string

	SinkDriver         string
	ClickHouseHost     string
	ClickHousePort     string
	ClickHouseUser     string
	ClickHousePassword string
	PostgresDSN        string
}

type ErrMissingRequiredEnvVar struct {
	Name string
}

func (e *ErrMissingRequiredEnvVar) Error() string {
	return fmt.Sprintf("required environment variable %q is not set", e.Name)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func requireEnv(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", &ErrMissingRequiredEnvVar{Name: key}
	}
	return v, nil
}

// Load reads configuration from environment variables.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	config := Config{}
	var err error

	for _, v := range []struct {
		name string
		dst  *string
	}{
		{"MINIO_ENDPOINT", &config.MinIOEndpoint},
		{"MINIO_ACCESS_KEY", &config.MinIOAccessKey},
		{"MINIO_SECRET_KEY", &config.MinIOSecretKey},
		{"MINIO_BUCKET", &config.MinIOBucket},
	} {
		if *v.dst, err = requireEnv(v.name); err != nil {
			return nil, err
		}
	}

	if s := os.Getenv("MINIO_USE_SSL"); s != "" {
		config.MinIOUseSSL, err = strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("MINIO_USE_SSL: %w", err)
		}
	}

	config.DestinationRoot = getEnv("DESTINATION_ROOT", "nclimgrid")
	// empty selects the client's default endpoint
	config.NCEIBaseURL = getEnv("NCEI_BASE_URL", "")

	config.SinkDriver = getEnv("SINK_DRIVER", SinkClickHouse)
	switch config.SinkDriver {
	case SinkClickHouse:
		config.ClickHouseHost = getEnv("CLICKHOUSE_HOST", "localhost")
		config.ClickHousePort = getEnv("CLICKHOUSE_PORT", "9000")
		config.ClickHouseUser = getEnv("CLICKHOUSE_USER", "default")
		config.ClickHousePassword = getEnv("CLICKHOUSE_PASSWORD", "")
	case SinkPostgres:
		if config.PostgresDSN, err = requireEnv("POSTGRES_DSN"); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("SINK_DRIVER: unknown driver %q", config.SinkDriver)
	}

	return &config, nil
}

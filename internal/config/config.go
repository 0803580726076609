package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFileName = "varslingd.yaml"
	DefaultLogFile        = "varslingd.log"
)

// Duration parses yaml durations in time.ParseDuration form ("5s", "2m").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Altinn struct {
	Endpoint string   `yaml:"endpoint"`
	APIKey   string   `yaml:"api_key"`
	Timeout  Duration `yaml:"timeout"`
}

type Retry struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
	Factor    float64  `yaml:"factor"`
	Jitter    float64  `yaml:"jitter"`
}

type Config struct {
	DatabaseURL string `yaml:"database_url"`
	NATSURL     string `yaml:"nats_url"`
	Altinn      Altinn `yaml:"altinn"`

	IdleSleepDelay             Duration `yaml:"idle_sleep_delay"`
	RecheckEmergencyBrakeDelay Duration `yaml:"recheck_emergency_brake_delay"`
	JobBatchSize               int      `yaml:"job_batch_size"`
	PermanentErrorCodes        []string `yaml:"permanent_error_codes"`
	Retry                      Retry    `yaml:"retry"`

	LogFile string `yaml:"log_file"`
}

func DefaultConfig() *Config {
	return &Config{
		NATSURL:                    "nats://localhost:4222",
		IdleSleepDelay:             Duration(10 * time.Second),
		RecheckEmergencyBrakeDelay: Duration(1 * time.Minute),
		JobBatchSize:               50,
		// Altinn notification error codes that never heal on retry.
		PermanentErrorCodes: []string{"30304", "30307", "30308"},
		Retry: Retry{
			BaseDelay: Duration(30 * time.Second),
			MaxDelay:  Duration(30 * time.Second),
			Factor:    1.0,
		},
		Altinn:  Altinn{Timeout: Duration(30 * time.Second)},
		LogFile: DefaultLogFile,
	}
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	if c.NATSURL == "" {
		return fmt.Errorf("nats_url is required")
	}
	if c.Altinn.Endpoint == "" {
		return fmt.Errorf("altinn.endpoint is required")
	}
	if c.JobBatchSize <= 0 {
		return fmt.Errorf("job_batch_size must be positive")
	}
	return nil
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = DefaultConfigFileName
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	if url := os.Getenv("VARSLINGD_DATABASE_URL"); url != "" {
		cfg.DatabaseURL = url
	}
	if url := os.Getenv("VARSLINGD_NATS_URL"); url != "" {
		cfg.NATSURL = url
	}
	if endpoint := os.Getenv("VARSLINGD_ALTINN_ENDPOINT"); endpoint != "" {
		cfg.Altinn.Endpoint = endpoint
	}
	if key := os.Getenv("VARSLINGD_ALTINN_API_KEY"); key != "" {
		cfg.Altinn.APIKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

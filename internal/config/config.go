package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. HOMEBASE_DB_PATH.
const EnvPrefix = "HOMEBASE_"

type Config struct {
	DBPath    string       `yaml:"db_path" validate:"required"`
	LogLevel  string       `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string       `yaml:"log_format" validate:"oneof=text json"`
	Push      PushConfig   `yaml:"push"`
	Family    FamilyConfig `yaml:"family"`
}

type PushConfig struct {
	Enabled bool `yaml:"enabled"`
	// Schedule is a cron spec for reminder sweeps, e.g. "@every 1m".
	Schedule        string        `yaml:"schedule" validate:"required,cron"`
	Lookback        time.Duration `yaml:"lookback" validate:"gt=0"`
	Retention       time.Duration `yaml:"retention" validate:"gtfield=Lookback"`
	VAPIDPublicKey  string        `yaml:"vapid_public_key" validate:"required_if=Enabled true"`
	VAPIDPrivateKey string        `yaml:"vapid_private_key" validate:"required_if=Enabled true"`
	Subscriber      string        `yaml:"subscriber" validate:"omitempty,startswith=mailto:|startswith=https://"`
}

type FamilyConfig struct {
	MaxMembers     int `yaml:"max_members" validate:"gte=1,lte=100"`
	InviteAttempts int `yaml:"invite_attempts" validate:"gte=1,lte=100"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		DBPath:    "homebase.db",
		LogLevel:  "info",
		LogFormat: "text",
		Push: PushConfig{
			Schedule:   "@every 1m",
			Lookback:   15 * time.Minute,
			Retention:  30 * 24 * time.Hour,
			Subscriber: "mailto:noreply@homebase.local",
		},
		Family: FamilyConfig{
			MaxMembers:     10,
			InviteAttempts: 10,
		},
	}
}

// Load builds the configuration in layers: defaults, then the YAML file at
// path (skipped when empty or missing), then HOMEBASE_* variables from the
// process environment or the given .env files. The result is validated.
// With no envFiles, ".env" in the working directory is read if present.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	dotenv, err := readEnvFiles(envFiles)
	if err != nil {
		return nil, err
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			return v, true
		}
		v, ok := dotenv[EnvPrefix+key]
		return v, ok
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readEnvFiles(files []string) (map[string]string, error) {
	explicit := len(files) > 0
	if !explicit {
		files = []string{".env"}
	}
	vars := make(map[string]string)
	for _, f := range files {
		m, err := godotenv.Read(f)
		if err != nil {
			if !explicit && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read env file %s: %w", f, err)
		}
		for k, v := range m {
			if _, seen := vars[k]; !seen {
				vars[k] = v
			}
		}
	}
	return vars, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str("DB_PATH", &c.DBPath)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("PUSH_SCHEDULE", &c.Push.Schedule)
	str("VAPID_PUBLIC_KEY", &c.Push.VAPIDPublicKey)
	str("VAPID_PRIVATE_KEY", &c.Push.VAPIDPrivateKey)
	str("VAPID_SUBSCRIBER", &c.Push.Subscriber)

	if v, ok := lookup("PUSH_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sPUSH_ENABLED: %w", EnvPrefix, err)
		}
		c.Push.Enabled = b
	}
	for key, dst := range map[string]*time.Duration{
		"PUSH_LOOKBACK":  &c.Push.Lookback,
		"PUSH_RETENTION": &c.Push.Retention,
	} {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = d
		}
	}
	for key, dst := range map[string]*int{
		"MAX_MEMBERS":     &c.Family.MaxMembers,
		"INVITE_ATTEMPTS": &c.Family.InviteAttempts,
	} {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	err := v.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})
	if err != nil {
		panic(fmt.Sprintf("register cron validation: %v", err))
	}
	return v
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/slog"
	yaml "gopkg.in/yaml.v2"
)

// SecretValue is a string that is protected from being logged
type SecretValue string

// String returns a string representation of the secret value
func (s SecretValue) String() string {
	if s == "" {
		return ""
	}
	return "********"
}

// LogValue keeps the secret redacted in every slog handler, including JSON.
func (s SecretValue) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

// Reveal returns the raw value for the one place that needs it.
func (s SecretValue) Reveal() string {
	return string(s)
}

type ServerConfig struct {
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Driver        string      `yaml:"driver"`
	Path          string      `yaml:"path"`
	DSN           SecretValue `yaml:"dsn"`
	MongoDatabase string      `yaml:"mongo_database"`
}

type BlockchainConfig struct {
	Difficulty  int           `yaml:"difficulty"`
	SealTimeout time.Duration `yaml:"seal_timeout"`
	MaxNonce    int64         `yaml:"max_nonce"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Blockchain BlockchainConfig `yaml:"blockchain"`
	Log        LogConfig        `yaml:"log"`
}

// Default 返回未配置时使用的默认值
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:        "sqlite",
			Path:          "data/ledger.db",
			MongoDatabase: "wagerledger",
		},
		Blockchain: BlockchainConfig{
			Difficulty: 4,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads filename over the defaults. Keys absent from the file keep their
// default value.
func LoadConfig(filename string) (*Config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open config")
	}
	defer f.Close()

	cfg := Default()
	decoder := yaml.NewDecoder(f)
	decoder.SetStrict(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %s", filename)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case "postgres", "mongo":
		if c.Database.DSN == "" {
			return errors.Errorf("database.dsn is required for %s", c.Database.Driver)
		}
	default:
		return errors.Errorf("unknown database.driver %q", c.Database.Driver)
	}

	if c.Blockchain.Difficulty < 0 || c.Blockchain.Difficulty > 64 {
		return errors.Errorf("blockchain.difficulty must be between 0 and 64, got %d", c.Blockchain.Difficulty)
	}
	if c.Blockchain.SealTimeout < 0 || c.Blockchain.MaxNonce < 0 {
		return errors.New("blockchain seal limits must not be negative")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return errors.New("server timeouts must not be negative")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("unknown log.level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.Errorf("unknown log.format %q", c.Log.Format)
	}
	return nil
}

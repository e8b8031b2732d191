package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

// Version information - set by GoReleaser during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// GetVersionInfo returns a formatted version string
func GetVersionInfo() string {
	return fmt.Sprintf("pephub-auth version %s, commit %s, built at %s", version, commit, date)
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	OAuth   OAuthConfig   `mapstructure:"oauth" yaml:"oauth"`
	Ledger  LedgerConfig  `mapstructure:"ledger" yaml:"ledger"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port" yaml:"port"`
	Host         string        `mapstructure:"host" yaml:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	AllowOrigins []string      `mapstructure:"allow_origins" yaml:"allow_origins"`
}

type LoggingConfig struct {
	Level             string `mapstructure:"level" yaml:"level"`
	Format            string `mapstructure:"format" yaml:"format"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace" yaml:"disable_stacktrace"`
	OutputPath        string `mapstructure:"output_path" yaml:"output_path"`
	AppendToFile      bool   `mapstructure:"append_to_file" yaml:"append_to_file"`
	DisableConsole    bool   `mapstructure:"disable_console" yaml:"disable_console"`
}

// AuthConfig holds the credential settings shared by session tokens,
// exchange codes and developer keys.
type AuthConfig struct {
	// Secret signs every session token and developer key. Rotating it
	// invalidates all outstanding credentials.
	Secret          string        `mapstructure:"secret" yaml:"secret"`
	TokenTTL        time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	CodeTTL         time.Duration `mapstructure:"code_ttl" yaml:"code_ttl"`
	DeveloperKeyTTL time.Duration `mapstructure:"developer_key_ttl" yaml:"developer_key_ttl"`
	MaxNewKeys      int           `mapstructure:"max_new_keys" yaml:"max_new_keys"`
}

type OAuthConfig struct {
	ClientID        string        `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret    string        `mapstructure:"client_secret" yaml:"client_secret"`
	RedirectURL     string        `mapstructure:"redirect_url" yaml:"redirect_url"`
	Scopes          []string      `mapstructure:"scopes" yaml:"scopes"`
	AuthURL         string        `mapstructure:"auth_url" yaml:"auth_url"`
	TokenURL        string        `mapstructure:"token_url" yaml:"token_url"`
	APIBaseURL      string        `mapstructure:"api_base_url" yaml:"api_base_url"`
	HTTPTimeout     time.Duration `mapstructure:"http_timeout" yaml:"http_timeout"`
	ExchangeTimeout time.Duration `mapstructure:"exchange_timeout" yaml:"exchange_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst" yaml:"rate_burst"`
}

type LedgerBackend string

const (
	LedgerBackendMemory LedgerBackend = "memory"
	LedgerBackendRedis  LedgerBackend = "redis"
)

type LedgerConfig struct {
	Backend       LedgerBackend `mapstructure:"backend" yaml:"backend"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	Redis         RedisConfig   `mapstructure:"redis" yaml:"redis"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	Username  string `mapstructure:"username" yaml:"username"`
	Password  string `mapstructure:"password" yaml:"password"`
	DB        int    `mapstructure:"db" yaml:"db"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

type StorageDriver string

const (
	StorageDriverMemory StorageDriver = "memory"
	StorageDriverSQLite StorageDriver = "sqlite"
)

type StorageConfig struct {
	Driver       StorageDriver `mapstructure:"driver" yaml:"driver"`
	DSN          string        `mapstructure:"dsn" yaml:"dsn"`
	// ProjectsSeed is an optional YAML file of project facts loaded at startup
	ProjectsSeed string        `mapstructure:"projects_seed" yaml:"projects_seed"`
}

// Addr returns the listen address of the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// InitFlags initializes command line flags (without parsing)
func InitFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to a config file")
	fs.String("server.host", "", "Listen host")
	fs.Int("server.port", 0, "Listen port")
	fs.String("logging.level", "", "Log level (debug|info|warn|error)")
	fs.String("ledger.backend", "", "Exchange code ledger backend (memory|redis)")
	fs.String("storage.driver", "", "Developer key storage driver (memory|sqlite)")
	fs.String("storage.projects_seed", "", "YAML file of project facts to load at startup")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	// Empty defaults make env-only keys visible to Unmarshal.
	v.SetDefault("auth.secret", "")
	v.SetDefault("oauth.client_id", "")
	v.SetDefault("oauth.client_secret", "")
	v.SetDefault("oauth.redirect_url", "")
	v.SetDefault("ledger.redis.username", "")
	v.SetDefault("ledger.redis.password", "")
	v.SetDefault("ledger.redis.db", 0)

	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.code_ttl", 5*time.Minute)
	v.SetDefault("auth.developer_key_ttl", 90*24*time.Hour)
	v.SetDefault("auth.max_new_keys", 5)

	v.SetDefault("oauth.scopes", []string{"read:user", "read:org"})
	v.SetDefault("oauth.auth_url", "https://github.com/login/oauth/authorize")
	v.SetDefault("oauth.token_url", "https://github.com/login/oauth/access_token")
	v.SetDefault("oauth.api_base_url", "https://api.github.com")
	v.SetDefault("oauth.http_timeout", 10*time.Second)
	v.SetDefault("oauth.exchange_timeout", 15*time.Second)
	v.SetDefault("oauth.rate_limit", 50.0)
	v.SetDefault("oauth.rate_burst", 100)

	v.SetDefault("ledger.backend", string(LedgerBackendMemory))
	v.SetDefault("ledger.sweep_interval", 30*time.Second)
	v.SetDefault("ledger.redis.addr", "localhost:6379")
	v.SetDefault("ledger.redis.key_prefix", "pephub:auth:code:")

	v.SetDefault("storage.driver", string(StorageDriverMemory))
	v.SetDefault("storage.dsn", "pephub-auth.db")
	v.SetDefault("storage.projects_seed", "")
}

// Load reads configuration from flags, environment and config files. A
// missing config file is not an error; every key has a default.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PEPHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Legacy name used by existing deployments.
	if err := v.BindEnv("auth.code_ttl", "PEPHUB_AUTH_CODE_TTL", "AUTH_CODE_EXPIRATION"); err != nil {
		return nil, err
	}

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, err
		}
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/pephub-auth")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	//Loading additionals config files
	if _, err := os.Stat("/config/config.yaml"); err == nil {
		v.SetConfigFile("/config/config.yaml")
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to merge /config/config.yaml: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings the broker cannot start without.
func (c *Config) Validate() error {
	switch {
	case c.Auth.Secret == "":
		return fmt.Errorf("auth.secret is required, please adjust the config or set PEPHUB_AUTH_SECRET")
	case c.OAuth.ClientID == "":
		return fmt.Errorf("oauth.client_id is required, please adjust the config or set PEPHUB_OAUTH_CLIENT_ID")
	case c.OAuth.ClientSecret == "":
		return fmt.Errorf("oauth.client_secret is required, please adjust the config or set PEPHUB_OAUTH_CLIENT_SECRET")
	case c.OAuth.RedirectURL == "":
		return fmt.Errorf("oauth.redirect_url is required, please adjust the config or set PEPHUB_OAUTH_REDIRECT_URL")
	case c.Auth.TokenTTL <= 0, c.Auth.CodeTTL <= 0, c.Auth.DeveloperKeyTTL <= 0:
		return fmt.Errorf("auth ttl values must be positive")
	case c.Auth.MaxNewKeys < 1:
		return fmt.Errorf("auth.max_new_keys must be at least 1")
	}

	switch c.Ledger.Backend {
	case LedgerBackendMemory, LedgerBackendRedis:
	default:
		return fmt.Errorf("unsupported ledger backend: %s", c.Ledger.Backend)
	}
	switch c.Storage.Driver {
	case StorageDriverMemory, StorageDriverSQLite:
	default:
		return fmt.Errorf("unsupported storage driver: %s", c.Storage.Driver)
	}
	return nil
}

// Redacted returns a copy safe for printing.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.Auth.Secret = mask(c.Auth.Secret)
	c.OAuth.ClientSecret = mask(c.OAuth.ClientSecret)
	c.Ledger.Redis.Password = mask(c.Ledger.Redis.Password)
	return c
}

// Module exposes the loaded config and its sections to the fx graph.
func Module(cfg *Config) fx.Option {
	return fx.Module("config",
		fx.Supply(cfg),
		fx.Provide(
			func(c *Config) *AuthConfig { return &c.Auth },
			func(c *Config) *OAuthConfig { return &c.OAuth },
			func(c *Config) *LedgerConfig { return &c.Ledger },
			func(c *Config) *StorageConfig { return &c.Storage },
			func(c *Config) *ServerConfig { return &c.Server },
		),
	)
}

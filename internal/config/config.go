package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/serverpop/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix  = "SERVERPOP"
	DefaultConfigName = "serverpop"
	DefaultConfigDir  = "/etc"
	DefaultLogLevel   = LogLevelInfo
)

type SteamConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	KeyFile  string        `mapstructure:"key_file"`
	AppID    int           `mapstructure:"app_id"`
	Limit    int           `mapstructure:"limit"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Maps     []string      `mapstructure:"maps"`
}

type InfluxConfig struct {
	CredentialsFile string        `mapstructure:"credentials_file"`
	Measurement     string        `mapstructure:"measurement"`
	BatchSize       int           `mapstructure:"batch_size"`
	FlushInterval   time.Duration `mapstructure:"flush_interval"`
	JitterInterval  time.Duration `mapstructure:"jitter_interval"`
	RetryInterval   time.Duration `mapstructure:"retry_interval"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MaxRetryDelay   time.Duration `mapstructure:"max_retry_delay"`
	ExponentialBase int           `mapstructure:"exponential_base"`
}

type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

type Config struct {
	LogLevel string        `mapstructure:"log_level"`
	DryRun   bool          `mapstructure:"dry_run"`
	Lock     bool          `mapstructure:"lock"`
	Steam    SteamConfig   `mapstructure:"steam"`
	Influx   InfluxConfig  `mapstructure:"influx"`
	Archive  ArchiveConfig `mapstructure:"archive"`
	Metrics  MetricsConfig `mapstructure:"metrics"`

	// ConfigFile is the file the values were read from, empty when none was found.
	ConfigFile string `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", string(DefaultLogLevel))
	v.SetDefault("dry_run", false)
	v.SetDefault("lock", true)

	v.SetDefault("steam.endpoint", "https://api.steampowered.com/IGameServersService/GetServerList/v1/")
	v.SetDefault("steam.key_file", "steamapitoken.txt")
	v.SetDefault("steam.app_id", 730)
	v.SetDefault("steam.limit", 20000)
	v.SetDefault("steam.timeout", 60*time.Second)
	v.SetDefault("steam.maps", []string{"de_dust2", "de_mirage", "de_inferno"})

	v.SetDefault("influx.credentials_file", "influxdb_cred.json")
	v.SetDefault("influx.measurement", "player_count")
	v.SetDefault("influx.batch_size", 500)
	v.SetDefault("influx.flush_interval", 10*time.Second)
	v.SetDefault("influx.jitter_interval", 2*time.Second)
	v.SetDefault("influx.retry_interval", 5*time.Second)
	v.SetDefault("influx.max_retries", 5)
	v.SetDefault("influx.max_retry_delay", 30*time.Second)
	v.SetDefault("influx.exponential_base", 2)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.db_path", "/var/lib/serverpop/archive.db")

	v.SetDefault("metrics.textfile", "")
}

// Load reads configuration from defaults, the config file, the environment
// and args, in increasing order of precedence. args excludes the program name.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	fs := pflag.NewFlagSet(DefaultConfigName, pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configFlag := fs.String("config", "", "Path to the configuration file")
	fs.String("log-level", string(DefaultLogLevel), "Log level (debug, info, warning, error)")
	fs.Bool("dry-run", false, "Collect and aggregate without writing to InfluxDB")
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlag("log_level", fs.Lookup("log-level")); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	if err := v.BindPFlag("dry_run", fs.Lookup("dry-run")); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	configPath := o.configPath
	if *configFlag != "" {
		configPath = *configFlag
	}
	if configPath == "" {
		configPath = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("toml")
		v.AddConfigPath(DefaultConfigDir)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the values that are not validated by the components themselves.
func (c *Config) Validate() error {
	errFactory := errors.New()

	c.LogLevel = strings.ToLower(c.LogLevel)
	if c.LogLevel == "warn" {
		c.LogLevel = string(LogLevelWarning)
	}
	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	switch {
	case c.Steam.AppID <= 0:
		return errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("steam.app_id must be positive, got %d", c.Steam.AppID))
	case c.Steam.Limit <= 0:
		return errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("steam.limit must be positive, got %d", c.Steam.Limit))
	case c.Steam.KeyFile == "":
		return errFactory.WithData(errors.ErrMissingConfig, "steam.key_file")
	case c.Influx.CredentialsFile == "" && !c.DryRun:
		return errFactory.WithData(errors.ErrMissingConfig, "influx.credentials_file")
	case c.Archive.Enabled && c.Archive.DBPath == "":
		return errFactory.WithData(errors.ErrMissingConfig, "archive.db_path")
	}

	for _, m := range c.Steam.Maps {
		if m == "" || strings.ContainsAny(m, `\,`) {
			return errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("steam.maps contains invalid map name %q", m))
		}
	}

	return nil
}

package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/tau-tower/internal/auth"
)

// FileName is the config file searched for when no path is given.
const FileName = "tower"

type Config struct {
	Host    string        `mapstructure:"host"`
	Source  SourceConfig  `mapstructure:"source"`
	UDP     UDPConfig     `mapstructure:"udp"`
	Mount   MountConfig   `mapstructure:"mount"`
	Bus     BusConfig     `mapstructure:"bus"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type SourceConfig struct {
	Port         int           `mapstructure:"port"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	Backoff      time.Duration `mapstructure:"backoff"`
	WarnInterval time.Duration `mapstructure:"warn_interval"`
}

type UDPConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	MaxDatagram int    `mapstructure:"max_datagram"`
}

type MountConfig struct {
	Port          int           `mapstructure:"port"`
	Path          string        `mapstructure:"path"`
	HeaderTimeout time.Duration `mapstructure:"header_timeout"`
	StaticDir     string        `mapstructure:"static_dir"`
}

type BusConfig struct {
	Capacity int `mapstructure:"capacity"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"username":    "source.username",
	"password":    "source.password",
	"listen-port": "source.port",
	"mount-port":  "mount.port",
	"mount":       "mount.path",
}

// Load reads the relay configuration. Precedence, highest first: flags that
// were set explicitly, TAU_* environment variables, the config file, defaults.
// flags may be nil.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("source.port", 8000)
	v.SetDefault("source.username", "")
	v.SetDefault("source.password", "")
	v.SetDefault("source.backoff", 50*time.Millisecond)
	v.SetDefault("source.warn_interval", 10*time.Second)
	v.SetDefault("udp.enabled", false)
	v.SetDefault("udp.host", "127.0.0.1")
	v.SetDefault("udp.port", 8002)
	v.SetDefault("udp.max_datagram", 65507)
	v.SetDefault("mount.port", 8001)
	v.SetDefault("mount.path", "tau.ogg")
	v.SetDefault("mount.header_timeout", time.Duration(0))
	v.SetDefault("mount.static_dir", "")
	v.SetDefault("bus.capacity", 128)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	// Environment variable support
	v.SetEnvPrefix("TAU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		for _, dir := range searchPaths() {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func searchPaths() []string {
	var dirs []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dirs = append(dirs, filepath.Join(xdg, "tau"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "tau"))
	}
	return append(dirs, ".")
}

// SourceAddr is where the WebSocket ingest listens.
func (c *Config) SourceAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Source.Port))
}

// UDPAddr is where the datagram ingest binds.
func (c *Config) UDPAddr() string {
	return net.JoinHostPort(c.UDP.Host, strconv.Itoa(c.UDP.Port))
}

// MountAddr is where listeners connect.
func (c *Config) MountAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Mount.Port))
}

// MountPath returns the stream path with a leading slash.
func (c *Config) MountPath() string {
	return "/" + strings.TrimLeft(c.Mount.Path, "/")
}

// Credentials are what a source must present. The announced port is the
// listener-facing mount port.
func (c *Config) Credentials() auth.Credentials {
	return auth.Credentials{
		Username: c.Source.Username,
		Password: c.Source.Password,
		Port:     uint16(c.Mount.Port),
	}
}

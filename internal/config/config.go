package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type BrokerConfig struct {
	URL              string        `mapstructure:"url"`
	SendQueue        int           `mapstructure:"send_queue"`
	KickSlow         bool          `mapstructure:"kick_slow"`
	RegisterLimit    int           `mapstructure:"register_limit"`
	RegisterInterval time.Duration `mapstructure:"register_interval"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
}

type CaptureConfig struct {
	Kind     string `mapstructure:"kind"` // rtp | ivf
	Addr     string `mapstructure:"addr"`
	Path     string `mapstructure:"path"`
	MimeType string `mapstructure:"mime_type"`
	Loop     bool   `mapstructure:"loop"`
}

type RenderConfig struct {
	RecordPath  string `mapstructure:"record_path"`
	ForwardAddr string `mapstructure:"forward_addr"`
}

type AssistantConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type DiscoveryConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Instance string        `mapstructure:"instance"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type Config struct {
	Mode         string        `mapstructure:"mode"`
	LogLevel     string        `mapstructure:"log_level"`
	Port         int           `mapstructure:"port"`
	StaticPath   string        `mapstructure:"static_path"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	Secret       string        `mapstructure:"secret"`
	ConsoleAddr  string        `mapstructure:"console_addr"`
	ICEServers   []string      `mapstructure:"ice_servers"`
	MulticastDNS bool          `mapstructure:"multicast_dns"`
	StatsPeriod  time.Duration `mapstructure:"stats_period"`

	Broker    BrokerConfig    `mapstructure:"broker"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Render    RenderConfig    `mapstructure:"render"`
	Assistant AssistantConfig `mapstructure:"assistant"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"mode":         "mode",
	"log-level":    "log_level",
	"port":         "port",
	"console":      "console_addr",
	"broker":       "broker.url",
	"capture":      "capture.kind",
	"capture-addr": "capture.addr",
	"capture-file": "capture.path",
	"codec":        "capture.mime_type",
	"loop":         "capture.loop",
	"record":       "render.record_path",
	"forward":      "render.forward_addr",
	"mdns":         "discovery.enabled",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "novacast-dev-secret")
	v.SetDefault("console_addr", ":8090")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("multicast_dns", false)
	v.SetDefault("stats_period", "5s")

	v.SetDefault("broker.url", "ws://localhost:8080/api/ws")
	v.SetDefault("broker.send_queue", 64)
	v.SetDefault("broker.kick_slow", false)
	v.SetDefault("broker.register_limit", 20)
	v.SetDefault("broker.register_interval", "1m")
	v.SetDefault("broker.open_timeout", "10s")

	v.SetDefault("capture.kind", "rtp")
	v.SetDefault("capture.addr", "127.0.0.1:5004")
	v.SetDefault("capture.path", "")
	v.SetDefault("capture.mime_type", "video/VP8")
	v.SetDefault("capture.loop", true)

	v.SetDefault("render.record_path", "")
	v.SetDefault("render.forward_addr", "")

	v.SetDefault("assistant.api_key", "")
	v.SetDefault("assistant.model", "gemini-3-flash-preview")
	v.SetDefault("assistant.base_url", "")

	v.SetDefault("discovery.enabled", false)
	v.SetDefault("discovery.instance", "")
	v.SetDefault("discovery.timeout", "5s")
}

// Load reads config/config.<CONFIG_ENV>.yaml, then NOVACAST_* env vars,
// then any flags present in flags.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	v.SetEnvPrefix("NOVACAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("assistant.api_key", "NOVACAST_ASSISTANT_API_KEY", "API_KEY"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("broker", cfg.Broker.URL).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	switch c.Capture.Kind {
	case "rtp", "ivf":
	default:
		errs = append(errs, fmt.Errorf("unknown capture kind %q", c.Capture.Kind))
	}
	if c.PingPeriod <= 0 {
		errs = append(errs, errors.New("ping_period must be positive"))
	}
	return errors.Join(errs...)
}

package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/xpanvictor/liverelay/internal/constants/prompts"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Settings is the full relay configuration. Every key can be supplied as an
// environment variable (upper-cased), from config_<env>.yaml, or via flags.
type Settings struct {
	Host  string `mapstructure:"host"`
	Port  int    `mapstructure:"port"`
	Env   string `mapstructure:"env"`
	Debug bool   `mapstructure:"debug"`

	GeminiAPIKey              string `mapstructure:"gemini_api_key"`
	GeminiModel               string `mapstructure:"gemini_model"`
	DefaultVoice              string `mapstructure:"default_voice"`
	DefaultSystemInstruction  string `mapstructure:"default_system_instruction"`
	MaxSystemInstructionChars int    `mapstructure:"max_system_instruction_chars"`
	// PromptVersion selects the built-in prompt used when no instruction is configured.
	PromptVersion float32 `mapstructure:"prompt_version"`

	MaxPayloadBytes          int64 `mapstructure:"max_payload_bytes"`
	MaxConnections           int   `mapstructure:"max_connections"`
	MaxConnectionsPerIP      int   `mapstructure:"max_connections_per_ip"`
	MaxMessagesPerMinute     int   `mapstructure:"max_messages_per_minute"`
	ConnectAttemptsPerMinute int   `mapstructure:"connect_attempts_per_minute"`

	HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval"`
	StartTimeout        time.Duration `mapstructure:"start_timeout"`
	UpstreamIdleTimeout time.Duration `mapstructure:"upstream_idle_timeout"`
	ShutdownTimeout     time.Duration `mapstructure:"shutdown_timeout"`

	AllowedOrigins []string `mapstructure:"allowed_origins"`
	TrustProxy     bool     `mapstructure:"trust_proxy"`
	// TrustedProxies are the addresses or CIDRs allowed to set X-Forwarded-For
	// when TrustProxy is on.
	TrustedProxies []string `mapstructure:"trusted_proxies"`

	LivePath    string `mapstructure:"live_path"`
	AppProxyURL string `mapstructure:"app_proxy_url"`
	StaticDir   string `mapstructure:"static_dir"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 3000)
	v.SetDefault("env", EnvDevelopment)
	v.SetDefault("debug", false)

	v.SetDefault("gemini_api_key", "")
	v.SetDefault("gemini_model", "gemini-2.5-flash-native-audio-preview-09-2025")
	v.SetDefault("default_voice", "Puck")
	v.SetDefault("default_system_instruction", "")
	v.SetDefault("prompt_version", prompts.VOICE_ASSISTANT.CurrentVersion)
	v.SetDefault("max_system_instruction_chars", 4000)

	v.SetDefault("max_payload_bytes", 1<<20)
	v.SetDefault("max_connections", 100)
	v.SetDefault("max_connections_per_ip", 5)
	v.SetDefault("max_messages_per_minute", 1200)
	v.SetDefault("connect_attempts_per_minute", 60)

	v.SetDefault("heartbeat_interval", 30*time.Second)
	v.SetDefault("start_timeout", 15*time.Second)
	v.SetDefault("upstream_idle_timeout", time.Duration(0))
	v.SetDefault("shutdown_timeout", 10*time.Second)

	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("trust_proxy", false)
	v.SetDefault("trusted_proxies", []string{"127.0.0.1", "::1"})

	v.SetDefault("live_path", "/api/live")
	v.SetDefault("app_proxy_url", "")
	v.SetDefault("static_dir", "")
}

// Load reads settings into v. When v has no explicit config file, an optional
// config_<env>.yaml in the working directory is picked up.
func Load(v *viper.Viper) (*Settings, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v)
	v.AutomaticEnv()
	if err := v.BindEnv("env", "ENV", "NODE_ENV"); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}
	if err := v.BindEnv("gemini_api_key", "GEMINI_API_KEY", "GOOGLE_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		v.SetConfigName("config_" + genEnv(v))
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	settings.normalize()
	if err := settings.resolveInstruction(); err != nil {
		return nil, err
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &settings, nil
}

func genEnv(v *viper.Viper) string {
	env := strings.ToLower(strings.TrimSpace(v.GetString("env")))
	if env == "" || env == EnvDevelopment {
		return "dev"
	}
	return env
}

func (s *Settings) normalize() {
	s.Env = strings.ToLower(strings.TrimSpace(s.Env))
	s.GeminiAPIKey = strings.TrimSpace(s.GeminiAPIKey)
	s.DefaultVoice = strings.TrimSpace(s.DefaultVoice)

	s.AllowedOrigins = splitList(s.AllowedOrigins)
	s.TrustedProxies = splitList(s.TrustedProxies)

	if s.LivePath == "" {
		s.LivePath = "/api/live"
	}
	if !strings.HasPrefix(s.LivePath, "/") {
		s.LivePath = "/" + s.LivePath
	}
}

// splitList flattens comma-separated entries and drops blanks.
func splitList(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		// A single env value may still carry commas when it came through a yaml string.
		for _, v := range strings.Split(item, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

// resolveInstruction falls back to the selected built-in prompt version when
// no default instruction is configured.
func (s *Settings) resolveInstruction() error {
	if strings.TrimSpace(s.DefaultSystemInstruction) != "" {
		return nil
	}
	prompt, ok := prompts.VOICE_ASSISTANT.GetVersion(s.PromptVersion)
	if !ok {
		return fmt.Errorf("unknown prompt_version %v", s.PromptVersion)
	}
	s.DefaultSystemInstruction = prompt.Text()
	return nil
}

// Validate reports the first invalid setting.
func (s *Settings) Validate() error {
	switch {
	case s.Port <= 0 || s.Port > 65535:
		return fmt.Errorf("invalid port %d", s.Port)
	case s.MaxPayloadBytes <= 0:
		return errors.New("max_payload_bytes must be > 0")
	case s.MaxConnections <= 0:
		return errors.New("max_connections must be > 0")
	case s.MaxConnectionsPerIP <= 0:
		return errors.New("max_connections_per_ip must be > 0")
	case s.MaxMessagesPerMinute <= 0:
		return errors.New("max_messages_per_minute must be > 0")
	case s.ConnectAttemptsPerMinute < 0:
		return errors.New("connect_attempts_per_minute must be >= 0")
	case s.HeartbeatInterval <= 0:
		return errors.New("heartbeat_interval must be > 0")
	case s.StartTimeout <= 0:
		return errors.New("start_timeout must be > 0")
	case s.UpstreamIdleTimeout < 0:
		return errors.New("upstream_idle_timeout must be >= 0")
	case s.ShutdownTimeout <= 0:
		return errors.New("shutdown_timeout must be > 0")
	case s.MaxSystemInstructionChars <= 0:
		return errors.New("max_system_instruction_chars must be > 0")
	}
	return nil
}

func (s *Settings) IsProduction() bool {
	return s.Env == EnvProduction
}

// HasCredential reports whether the upstream API key is configured.
func (s *Settings) HasCredential() bool {
	return s.GeminiAPIKey != ""
}

func (s *Settings) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

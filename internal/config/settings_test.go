package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/xpanvictor/liverelay/internal/constants/prompts"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	s, err := Load(viper.New())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Port != 3000 {
		t.Errorf("port=%d, want 3000", s.Port)
	}
	if s.LivePath != "/api/live" {
		t.Errorf("live path=%q", s.LivePath)
	}
	if s.HeartbeatInterval != 30*time.Second {
		t.Errorf("heartbeat=%v", s.HeartbeatInterval)
	}
	if s.StartTimeout != 15*time.Second {
		t.Errorf("start timeout=%v", s.StartTimeout)
	}
	if s.ShutdownTimeout != 10*time.Second {
		t.Errorf("shutdown timeout=%v", s.ShutdownTimeout)
	}
	if s.IsProduction() {
		t.Error("default env should not be production")
	}
	if s.UpstreamIdleTimeout != 0 {
		t.Errorf("idle timeout=%v, want disabled", s.UpstreamIdleTimeout)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "8088")
	t.Setenv("NODE_ENV", "production")
	t.Setenv("GOOGLE_API_KEY", "  k-123  ")
	t.Setenv("MAX_CONNECTIONS_PER_IP", "2")
	t.Setenv("HEARTBEAT_INTERVAL", "5s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com,,")

	s, err := Load(viper.New())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Port != 8088 {
		t.Errorf("port=%d", s.Port)
	}
	if !s.IsProduction() {
		t.Errorf("env=%q, want production", s.Env)
	}
	if s.GeminiAPIKey != "k-123" || !s.HasCredential() {
		t.Errorf("api key=%q", s.GeminiAPIKey)
	}
	if s.MaxConnectionsPerIP != 2 {
		t.Errorf("per ip=%d", s.MaxConnectionsPerIP)
	}
	if s.HeartbeatInterval != 5*time.Second {
		t.Errorf("heartbeat=%v", s.HeartbeatInterval)
	}
	want := []string{"https://a.example.com", "https://b.example.com"}
	if len(s.AllowedOrigins) != len(want) {
		t.Fatalf("origins=%q, want %q", s.AllowedOrigins, want)
	}
	for i := range want {
		if s.AllowedOrigins[i] != want[i] {
			t.Errorf("origin[%d]=%q, want %q", i, s.AllowedOrigins[i], want[i])
		}
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MAX_CONNECTIONS", "0")

	if _, err := Load(viper.New()); err == nil {
		t.Fatal("expected validation error for max_connections=0")
	}
}

func TestAddr(t *testing.T) {
	s := Settings{Host: "127.0.0.1", Port: 9000}
	if got := s.Addr(); got != "127.0.0.1:9000" {
		t.Errorf("addr=%q", got)
	}
}

func TestPromptVersionSelectsInstruction(t *testing.T) {
	t.Chdir(t.TempDir())

	s, err := Load(viper.New())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if want := prompts.VOICE_ASSISTANT.GetCurrentPrompt().Text(); s.DefaultSystemInstruction != want {
		t.Errorf("default instruction=%q, want current prompt", s.DefaultSystemInstruction)
	}

	t.Setenv("PROMPT_VERSION", "0.1")
	s, err = Load(viper.New())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	old, _ := prompts.VOICE_ASSISTANT.GetVersion(0.1)
	if s.DefaultSystemInstruction != old.Text() {
		t.Errorf("instruction=%q, want version 0.1", s.DefaultSystemInstruction)
	}
}

func TestExplicitInstructionWinsOverPromptVersion(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PROMPT_VERSION", "9")
	t.Setenv("DEFAULT_SYSTEM_INSTRUCTION", "Be brief.")

	s, err := Load(viper.New())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.DefaultSystemInstruction != "Be brief." {
		t.Errorf("instruction=%q", s.DefaultSystemInstruction)
	}
}

func TestUnknownPromptVersion(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PROMPT_VERSION", "9")

	if _, err := Load(viper.New()); err == nil || !strings.Contains(err.Error(), "prompt_version") {
		t.Fatalf("err=%v, want unknown prompt_version", err)
	}
}

func TestTrustedProxies(t *testing.T) {
	t.Chdir(t.TempDir())

	s, err := Load(viper.New())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(s.TrustedProxies) != 2 || s.TrustedProxies[0] != "127.0.0.1" || s.TrustedProxies[1] != "::1" {
		t.Errorf("default trusted proxies=%q", s.TrustedProxies)
	}

	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.5")
	s, err = Load(viper.New())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(s.TrustedProxies) != 2 || s.TrustedProxies[0] != "10.0.0.0/8" || s.TrustedProxies[1] != "192.168.1.5" {
		t.Errorf("trusted proxies=%q", s.TrustedProxies)
	}
}

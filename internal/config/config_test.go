package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.ConfidenceThreshold != 0.6 {
		t.Errorf("ConfidenceThreshold = %v, want 0.6", cfg.ConfidenceThreshold)
	}
	if cfg.StateTTLMinutes != 30 {
		t.Errorf("StateTTLMinutes = %v, want 30", cfg.StateTTLMinutes)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %v, want 8080", cfg.Server.Port)
	}
	if cfg.Classifier.Adapter != "rules" {
		t.Errorf("Classifier.Adapter = %q, want rules", cfg.Classifier.Adapter)
	}
	if cfg.Digest.ListCap != 20 {
		t.Errorf("Digest.ListCap = %v, want 20", cfg.Digest.ListCap)
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ConfidenceThreshold != 0.6 {
		t.Errorf("fallback threshold = %v", cfg.ConfidenceThreshold)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{"confidence_threshold": 0.8, "server": {"port": 9999, "bot_name": "sb"}}`
	if err := os.WriteFile(path, []byte(raw), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ConfidenceThreshold != 0.8 {
		t.Errorf("threshold = %v, want 0.8", cfg.ConfidenceThreshold)
	}
	if cfg.Server.Port != 9999 || cfg.Server.BotName != "sb" {
		t.Errorf("server = %+v", cfg.Server)
	}
	// Untouched fields keep defaults.
	if cfg.StateTTLMinutes != 30 {
		t.Errorf("StateTTLMinutes = %v, want default 30", cfg.StateTTLMinutes)
	}
}

func TestResolveEnv(t *testing.T) {
	t.Setenv("SB_TEST_TOKEN", "tok-123")

	raw := `{"notifier": {"settings": {"token": "$SB_TEST_TOKEN", "room_id": "$SB_TEST_UNSET", "literal": "plain"}}}`
	resolved, err := ResolveEnv([]byte(raw))
	if err != nil {
		t.Fatalf("ResolveEnv: %v", err)
	}

	var doc struct {
		Notifier struct {
			Settings map[string]string `json:"settings"`
		} `json:"notifier"`
	}
	if err := json.Unmarshal(resolved, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if doc.Notifier.Settings["token"] != "tok-123" {
		t.Errorf("token = %q", doc.Notifier.Settings["token"])
	}
	// Unset variables stay as tokens so misconfiguration is visible.
	if doc.Notifier.Settings["room_id"] != "$SB_TEST_UNSET" {
		t.Errorf("room_id = %q", doc.Notifier.Settings["room_id"])
	}
	if doc.Notifier.Settings["literal"] != "plain" {
		t.Errorf("literal = %q", doc.Notifier.Settings["literal"])
	}
}

func TestLoadDotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# comment\nSB_DOTENV_A=alpha\nSB_DOTENV_B=\"quoted\"\nmalformed line\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SB_DOTENV_A", "")
	os.Unsetenv("SB_DOTENV_A")
	t.Setenv("SB_DOTENV_B", "already-set")

	LoadDotenv(path)

	if got := os.Getenv("SB_DOTENV_A"); got != "alpha" {
		t.Errorf("SB_DOTENV_A = %q", got)
	}
	// Existing variables win over the file.
	if got := os.Getenv("SB_DOTENV_B"); got != "already-set" {
		t.Errorf("SB_DOTENV_B = %q", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := Default()
	cfg.ConfidenceThreshold = 0.75
	cfg.Server.BotName = "sb"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ConfidenceThreshold != 0.75 {
		t.Errorf("threshold = %v", loaded.ConfidenceThreshold)
	}
	if loaded.Server.BotName != "sb" {
		t.Errorf("bot name = %q", loaded.Server.BotName)
	}
}

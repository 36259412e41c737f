package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"draftsync/internal/models"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("DRAFTSYNC_TOKEN", "secret")

	yamlContent := `
storage:
  path: "test.db"
remote:
  base_url: "https://drafts.example.com"
  token: "${DRAFTSYNC_TOKEN}"
sync:
  grace_period: 3s
  max_retries: 7
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Remote.Token != "secret" {
		t.Errorf("expected token from env, got %q", cfg.Remote.Token)
	}
	if cfg.Sync.GracePeriod != 3*time.Second {
		t.Errorf("expected grace period 3s, got %s", cfg.Sync.GracePeriod)
	}
	if cfg.Sync.MaxRetries != 7 {
		t.Errorf("expected max retries 7, got %d", cfg.Sync.MaxRetries)
	}
	if cfg.Sync.BaseDelay != models.DefaultBaseDelay {
		t.Errorf("expected default base delay, got %s", cfg.Sync.BaseDelay)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestValidateConfig(t *testing.T) {
	validSync := SyncConfig{MaxRetries: 5, BaseDelay: time.Second, GracePeriod: 5 * time.Second}

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid http config",
			cfg: Config{
				Storage: StorageConfig{Path: "path"},
				Remote:  RemoteConfig{Mode: RemoteModeHTTP, BaseURL: "http://localhost"},
				Sync:    validSync,
			},
			wantErr: false,
		},
		{
			name: "valid memory config",
			cfg: Config{
				Storage: StorageConfig{Path: "path"},
				Remote:  RemoteConfig{Mode: RemoteModeMemory},
				Sync:    validSync,
			},
			wantErr: false,
		},
		{
			name: "missing storage path",
			cfg: Config{
				Remote: RemoteConfig{Mode: RemoteModeMemory},
				Sync:   validSync,
			},
			wantErr: true,
		},
		{
			name: "http mode without base url",
			cfg: Config{
				Storage: StorageConfig{Path: "path"},
				Remote:  RemoteConfig{Mode: RemoteModeHTTP},
				Sync:    validSync,
			},
			wantErr: true,
		},
		{
			name: "unknown remote mode",
			cfg: Config{
				Storage: StorageConfig{Path: "path"},
				Remote:  RemoteConfig{Mode: "carrier-pigeon"},
				Sync:    validSync,
			},
			wantErr: true,
		},
		{
			name: "zero retries",
			cfg: Config{
				Storage: StorageConfig{Path: "path"},
				Remote:  RemoteConfig{Mode: RemoteModeMemory},
				Sync:    SyncConfig{MaxRetries: 0, BaseDelay: time.Second},
			},
			wantErr: true,
		},
		{
			name: "max delay below base delay",
			cfg: Config{
				Storage: StorageConfig{Path: "path"},
				Remote:  RemoteConfig{Mode: RemoteModeMemory},
				Sync:    SyncConfig{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: time.Millisecond},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if cfg.Remote.Mode != RemoteModeHTTP {
		t.Errorf("expected default remote mode http, got %s", cfg.Remote.Mode)
	}
	if cfg.Sync.AutosaveInterval != 60*time.Second {
		t.Errorf("expected autosave interval 60s, got %s", cfg.Sync.AutosaveInterval)
	}
	if cfg.Sync.MaxRetries != 5 {
		t.Errorf("expected max retries 5, got %d", cfg.Sync.MaxRetries)
	}
	if cfg.Sync.GracePeriod != 5*time.Second {
		t.Errorf("expected grace period 5s, got %s", cfg.Sync.GracePeriod)
	}
	if cfg.API.HTTP.Port != 8080 {
		t.Errorf("expected default http port 8080, got %d", cfg.API.HTTP.Port)
	}
	if cfg.API.Auth.HeaderAPIKey != "x-api-key" {
		t.Errorf("expected default api key header, got %s", cfg.API.Auth.HeaderAPIKey)
	}
}

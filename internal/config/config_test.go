package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.Engine.PeerKeyTTL = Duration(time.Hour)

	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("default_session = %q, want work", loaded.DefaultSession)
	}
	if loaded.Engine.PeerKeyTTL.Std() != time.Hour {
		t.Errorf("peer_key_ttl = %v, want 1h", loaded.Engine.PeerKeyTTL.Std())
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("default_session = \"x\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.DecryptWorkers != 4 {
		t.Errorf("decrypt_workers = %d, want default 4", cfg.Engine.DecryptWorkers)
	}
	if cfg.Engine.UploadMaxBytes != 16<<20 {
		t.Errorf("upload_max_bytes = %d, want default 16MiB", cfg.Engine.UploadMaxBytes)
	}
	if cfg.Engine.PresenceTTL.Std() != 6*time.Second {
		t.Errorf("presence_ttl = %v, want 6s", cfg.Engine.PresenceTTL.Std())
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.HDMaxDimension != 4096 {
		t.Errorf("hd_max_dimension = %d, want 4096", cfg.Engine.HDMaxDimension)
	}
}

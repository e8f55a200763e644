package main

import "testing"

func TestLoadConfigFlagsOverrideEnv(t *testing.T) {
	t.Setenv("CMISD_ADDR", "0.0.0.0:9000")
	t.Setenv("CMISD_STORE", "memory")

	cfg, err := loadConfig([]string{"--repository", "docs", "--debug"})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Addr != "0.0.0.0:9000" || cfg.Repository != "docs" || !cfg.Debug {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Audience != "cmis" || cfg.ChunkSize != 65536 || cfg.MaxContent != 64<<20 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}

	cfg, err = loadConfig([]string{"--addr", "127.0.0.1:1"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != "127.0.0.1:1" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
}

func TestLoadConfigRejectsBadStore(t *testing.T) {
	t.Setenv("CMISD_STORE", "memory")
	if _, err := loadConfig([]string{"--store", "disk"}); err == nil {
		t.Fatal("expected error for unknown store")
	}
	if _, err := loadConfig([]string{"--store", "redis"}); err == nil {
		t.Fatal("expected error for redis without an address")
	}
}

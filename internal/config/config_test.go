package config

import "testing"

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.Clock == nil {
		t.Fatal("Clock must never be nil")
	}
	if cfg.Clock.EpochLength() != defaultEpochLen {
		t.Fatalf("EpochLength = %d, want %d", cfg.Clock.EpochLength(), defaultEpochLen)
	}
	if cfg.OperatorUser != "controller" {
		t.Fatalf("OperatorUser = %q, want controller", cfg.OperatorUser)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv(envListenAddr, ":9090")
	t.Setenv(envEpochLength, "3600")
	t.Setenv(envGenesisTS, "1000")

	cfg := FromEnv()
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("ListenAddr = %q, want :9090", cfg.ListenAddr)
	}
	if cfg.Clock.EpochLength() != 3600 {
		t.Fatalf("EpochLength = %d, want 3600", cfg.Clock.EpochLength())
	}
	if cfg.Clock.GenesisTS() != 1000 {
		t.Fatalf("GenesisTS = %d, want 1000", cfg.Clock.GenesisTS())
	}
}

func TestFromEnvFallsBackOnBadEpochLength(t *testing.T) {
	t.Setenv(envEpochLength, "0")
	cfg := FromEnv()
	if cfg.Clock.EpochLength() != defaultEpochLen {
		t.Fatalf("EpochLength = %d, want fallback %d", cfg.Clock.EpochLength(), defaultEpochLen)
	}
}

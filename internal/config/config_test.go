package config

import "testing"

func TestLoadReadsCriticalEnvKeys(t *testing.T) {
	t.Setenv("SUPERMIX_DB_DSN", "supermix-test.db")
	t.Setenv("SUPERMIX_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("SUPERMIX_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBDSN == "" {
		t.Fatal("expected DB DSN to be set")
	}
	if cfg.JWTSigningKey != "supersecret" {
		t.Fatalf("unexpected jwt signing key: %q", cfg.JWTSigningKey)
	}
}

func TestLoadAppliesQueueDefaults(t *testing.T) {
	t.Setenv("SUPERMIX_JWT_SIGNING_KEY", "supersecret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Queue.PrefetchSize != 20 {
		t.Fatalf("unexpected prefetch size: %d", cfg.Queue.PrefetchSize)
	}
	if cfg.Queue.MinArtistGap != 5 {
		t.Fatalf("unexpected artist gap: %d", cfg.Queue.MinArtistGap)
	}
	if cfg.Queue.MaxGenreRatio != 0.4 {
		t.Fatalf("unexpected genre ratio: %v", cfg.Queue.MaxGenreRatio)
	}
	if cfg.Queue.DiscoveryRatio != 0.25 {
		t.Fatalf("unexpected discovery ratio: %v", cfg.Queue.DiscoveryRatio)
	}
}

func TestLoadRejectsInvalidQueueConfig(t *testing.T) {
	t.Setenv("SUPERMIX_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("SUPERMIX_MAX_GENRE_RATIO", "1.5")

	if _, err := Load(); err == nil {
		t.Fatal("expected config load to fail for genre ratio above 1")
	}
}

func TestLowWatermark(t *testing.T) {
	tests := []struct {
		name     string
		prefetch int
		expected int
	}{
		{"even prefetch", 20, 10},
		{"odd prefetch", 5, 2},
		{"tiny prefetch", 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := QueueConfig{PrefetchSize: tt.prefetch}
			if got := q.LowWatermark(); got != tt.expected {
				t.Errorf("LowWatermark() = %d, want %d", got, tt.expected)
			}
		})
	}
}

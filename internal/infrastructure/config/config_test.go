package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.App.Name != "Remindly" {
		t.Errorf("App.Name = %q, want Remindly", cfg.App.Name)
	}
	if cfg.Scheduler.GracePeriod != 10*time.Minute {
		t.Errorf("Scheduler.GracePeriod = %v, want 10m", cfg.Scheduler.GracePeriod)
	}
	if cfg.Materializer.Horizon != 30*24*time.Hour {
		t.Errorf("Materializer.Horizon = %v, want 720h", cfg.Materializer.Horizon)
	}
	if cfg.Sync.Enabled {
		t.Error("Sync.Enabled should default to false")
	}
	if cfg.Notifier.Provider != NotifierLog {
		t.Errorf("Notifier.Provider = %q, want %q", cfg.Notifier.Provider, NotifierLog)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("DB_PATH", "/tmp/remindly-test.db")
	t.Setenv("SCHEDULER_MAX_ATTEMPTS", "7")
	t.Setenv("SYNC_ENABLED", "true")
	t.Setenv("SYNC_PROVIDER", "memory")
	t.Setenv("SYNC_CALL_TIMEOUT", "3s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Driver != DriverSQLite {
		t.Errorf("Database.Driver = %q, want sqlite3", cfg.Database.Driver)
	}
	if !strings.Contains(cfg.Database.GetDSN(), "/tmp/remindly-test.db") {
		t.Errorf("GetDSN() = %q, want the sqlite path", cfg.Database.GetDSN())
	}
	if cfg.Scheduler.MaxAttempts != 7 {
		t.Errorf("Scheduler.MaxAttempts = %d, want 7", cfg.Scheduler.MaxAttempts)
	}
	if !cfg.Sync.Enabled || cfg.Sync.Provider != ProviderMemory {
		t.Errorf("Sync = %+v, want enabled memory provider", cfg.Sync)
	}
	if cfg.Sync.CallTimeout != 3*time.Second {
		t.Errorf("Sync.CallTimeout = %v, want 3s", cfg.Sync.CallTimeout)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "unknown driver",
			env:  map[string]string{"DB_DRIVER": "mysql"},
			want: "unsupported database driver",
		},
		{
			name: "google sync without credentials",
			env:  map[string]string{"DB_DRIVER": "memory", "SYNC_ENABLED": "true", "SYNC_PROVIDER": "google"},
			want: "google sync requires",
		},
		{
			name: "zero attempts",
			env:  map[string]string{"DB_DRIVER": "memory", "SCHEDULER_MAX_ATTEMPTS": "0"},
			want: "max attempts",
		},
		{
			name: "claim timeout shorter than delivery",
			env: map[string]string{
				"DB_DRIVER":                  "memory",
				"SCHEDULER_DELIVERY_TIMEOUT": "30s",
				"SCHEDULER_CLAIM_TIMEOUT":    "20s",
			},
			want: "must exceed the delivery timeout",
		},
		{
			name: "claim timeout equal to delivery",
			env: map[string]string{
				"DB_DRIVER":                  "memory",
				"SCHEDULER_DELIVERY_TIMEOUT": "30s",
				"SCHEDULER_CLAIM_TIMEOUT":    "30s",
			},
			want: "must exceed the delivery timeout",
		},
		{
			name: "unknown notifier",
			env:  map[string]string{"DB_DRIVER": "memory", "NOTIFIER_PROVIDER": "sms"},
			want: "unsupported notifier provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			if err == nil {
				t.Fatal("Load() expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

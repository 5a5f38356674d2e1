package config

import (
	"errors"
	"testing"
	"time"

	"github.com/honeyhiveai/honeyhive-go/core"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Source != "production" {
		t.Errorf("Source = %q, want production", cfg.Source)
	}
	if cfg.ServerURL != DefaultServerURL {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if !cfg.OTLPEnabled {
		t.Error("OTLPEnabled should default to true")
	}
	if cfg.QueueCapacity != 2048 {
		t.Errorf("QueueCapacity = %d", cfg.QueueCapacity)
	}
	if cfg.WorkerCount != 4 {
		t.Errorf("WorkerCount = %d", cfg.WorkerCount)
	}
	if cfg.RetryMaxAttempts != 4 {
		t.Errorf("RetryMaxAttempts = %d", cfg.RetryMaxAttempts)
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("HH_API_KEY", "key-from-env")
	t.Setenv("HH_PROJECT", "proj-from-env")
	t.Setenv("HH_API_URL", "https://eu.honeyhive.ai")
	t.Setenv("HH_SOURCE", "staging")
	t.Setenv("HH_VERBOSE", "true")
	t.Setenv("HH_EXPERIMENT_ID", "exp-7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.APIKey != "key-from-env" {
		t.Errorf("APIKey = %q", cfg.APIKey)
	}
	if cfg.Project != "proj-from-env" {
		t.Errorf("Project = %q", cfg.Project)
	}
	if cfg.ServerURL != "https://eu.honeyhive.ai" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.Source != "staging" {
		t.Errorf("Source = %q", cfg.Source)
	}
	if !cfg.Verbose {
		t.Error("Verbose should be true")
	}
	if cfg.ExperimentID != "exp-7" {
		t.Errorf("ExperimentID = %q", cfg.ExperimentID)
	}
}

func TestValidate(t *testing.T) {
	t.Run("missing api key", func(t *testing.T) {
		cfg := Config{Project: "p"}
		cfg.ApplyDefaults()
		err := cfg.Validate()
		if err == nil {
			t.Fatal("expected error")
		}
		if !errors.Is(err, &core.Error{Code: core.ErrConfigInvalid}) {
			t.Errorf("code = %v, want config_invalid", core.CodeOf(err))
		}
	})

	t.Run("missing project", func(t *testing.T) {
		cfg := Config{APIKey: "k"}
		cfg.ApplyDefaults()
		if cfg.Validate() == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("bad server url", func(t *testing.T) {
		cfg := Config{APIKey: "k", Project: "p", ServerURL: "not a url"}
		cfg.ApplyDefaults()
		if cfg.Validate() == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("valid", func(t *testing.T) {
		cfg := Config{APIKey: "k", Project: "p"}
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate: %v", err)
		}
	})
}

func TestApplyDefaults_PreservesExplicit(t *testing.T) {
	cfg := Config{QueueCapacity: 2, WorkerCount: 1}
	cfg.ApplyDefaults()
	if cfg.QueueCapacity != 2 {
		t.Errorf("QueueCapacity = %d, want 2", cfg.QueueCapacity)
	}
	if cfg.WorkerCount != 1 {
		t.Errorf("WorkerCount = %d, want 1", cfg.WorkerCount)
	}
	if cfg.MaxBatchSize != 128 {
		t.Errorf("MaxBatchSize = %d, want default 128", cfg.MaxBatchSize)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Config{HTTPTimeoutMS: 1500, MaxBatchDelayMS: 200, RetryBaseMS: 100, RetryCapMS: 800}
	if cfg.HTTPTimeout() != 1500*time.Millisecond {
		t.Errorf("HTTPTimeout = %v", cfg.HTTPTimeout())
	}
	if cfg.MaxBatchDelay() != 200*time.Millisecond {
		t.Errorf("MaxBatchDelay = %v", cfg.MaxBatchDelay())
	}
	if cfg.RetryBase() != 100*time.Millisecond || cfg.RetryCap() != 800*time.Millisecond {
		t.Error("retry durations wrong")
	}
}

func TestExperiment(t *testing.T) {
	cfg := Config{ExperimentID: "e1", ExperimentVariant: "b"}
	exp := cfg.Experiment()
	if exp["id"] != "e1" || exp["variant"] != "b" {
		t.Errorf("Experiment() = %v", exp)
	}
	if _, ok := exp["name"]; ok {
		t.Error("empty experiment fields should be omitted")
	}
}

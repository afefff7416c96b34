package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backend.Mode != "mock" {
		t.Fatalf("expected default backend mode mock, got %q", cfg.Backend.Mode)
	}
	if cfg.Backend.SampleRate != 24000 {
		t.Fatalf("expected default sample rate 24000, got %d", cfg.Backend.SampleRate)
	}
	if cfg.Generation.MaxSegmentChars != 150 {
		t.Fatalf("expected default max segment chars 150, got %d", cfg.Generation.MaxSegmentChars)
	}
	if cfg.Generation.MinSpeed != 0.5 || cfg.Generation.MaxSpeed != 2.0 {
		t.Fatalf("unexpected speed bounds: %v..%v", cfg.Generation.MinSpeed, cfg.Generation.MaxSpeed)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VOICEFORGE_BACKEND_MODE", "exec")
	t.Setenv("VOICEFORGE_BACKEND_COMMAND", "neutts-bridge --stdio")
	t.Setenv("VOICEFORGE_BACKEND_SAMPLE_RATE", "22050")
	t.Setenv("VOICEFORGE_VOICES_DIRECTORY", "./tmp/voices")
	t.Setenv("VOICEFORGE_GENERATION_MAX_SEGMENT_CHARS", "120")
	t.Setenv("VOICEFORGE_GENERATION_SILENCE_PADDING_MS", "60")
	t.Setenv("VOICEFORGE_HISTORY_PATH", "./tmp.db")
	t.Setenv("VOICEFORGE_HISTORY_RETENTION_DAYS", "7")
	t.Setenv("VOICEFORGE_HISTORY_MAX_RUNS", "123")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Backend.Mode != "exec" || cfg.Backend.Command != "neutts-bridge --stdio" {
		t.Fatalf("expected backend override, got %+v", cfg.Backend)
	}
	if cfg.Backend.SampleRate != 22050 {
		t.Fatalf("expected sample rate override, got %d", cfg.Backend.SampleRate)
	}
	if cfg.Voices.Directory != "./tmp/voices" {
		t.Fatalf("expected voices directory override")
	}
	if cfg.Generation.MaxSegmentChars != 120 {
		t.Fatalf("expected max segment chars override")
	}
	if cfg.Generation.SilencePaddingMS != 60 {
		t.Fatalf("expected silence padding override")
	}
	if cfg.History.Path != "./tmp.db" {
		t.Fatalf("expected history path override")
	}
	if cfg.History.RetentionDays != 7 {
		t.Fatalf("expected history retention days override")
	}
	if cfg.History.MaxRuns != 123 {
		t.Fatalf("expected history max runs override")
	}
}

func TestValidateRejectsExecWithoutCommand(t *testing.T) {
	t.Setenv("VOICEFORGE_BACKEND_MODE", "exec")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for exec mode without command")
	}
}

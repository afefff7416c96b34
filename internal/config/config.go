package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Backend     BackendConfig    `yaml:"backend"`
	Voices      VoicesConfig     `yaml:"voices"`
	Generation  GenerationConfig `yaml:"generation"`
	History     HistoryConfig    `yaml:"history"`
}

type BusConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Embedded        bool     `yaml:"embedded"`
	Port            int      `yaml:"port"`
	StoreDir        string   `yaml:"store_dir"`
	Servers         []string `yaml:"servers"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	Token           string   `yaml:"token"`
	TLSInsecure     bool     `yaml:"tls_insecure"`
	ConnectTimeout  int      `yaml:"connect_timeout_ms"`
	ChunkDurationMS int      `yaml:"chunk_duration_ms"`
}

type BackendConfig struct {
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	SampleRate int    `yaml:"sample_rate"`
}

type VoicesConfig struct {
	Directory string `yaml:"directory"`
}

type GenerationConfig struct {
	MaxSegmentChars  int     `yaml:"max_segment_chars"`
	SilencePaddingMS int     `yaml:"silence_padding_ms"`
	SegmentTimeoutMS int     `yaml:"segment_timeout_ms"`
	MinSpeed         float64 `yaml:"min_speed"`
	MaxSpeed         float64 `yaml:"max_speed"`
	DefaultSpeed     float64 `yaml:"default_speed"`
}

type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RuntimeName: "voiceforge-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:         false,
			Embedded:        true,
			Port:            4222,
			StoreDir:        "./data/nats",
			Servers:         []string{"nats://localhost:4222"},
			ConnectTimeout:  2000,
			ChunkDurationMS: 400,
		},
		Backend: BackendConfig{
			Mode:       "mock",
			SampleRate: 24000,
		},
		Voices: VoicesConfig{
			Directory: "./data/voices",
		},
		Generation: GenerationConfig{
			MaxSegmentChars:  150,
			SilencePaddingMS: 80,
			SegmentTimeoutMS: 45000,
			MinSpeed:         0.5,
			MaxSpeed:         2.0,
			DefaultSpeed:     1.0,
		},
		History: HistoryConfig{
			Enabled:       true,
			Path:          "./data/voiceforge-history.db",
			RetentionDays: 30,
			MaxRuns:       10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "VOICEFORGE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOICEFORGE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOICEFORGE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOICEFORGE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOICEFORGE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOICEFORGE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOICEFORGE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOICEFORGE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "VOICEFORGE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "VOICEFORGE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOICEFORGE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "VOICEFORGE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "VOICEFORGE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOICEFORGE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOICEFORGE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOICEFORGE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOICEFORGE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOICEFORGE_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Bus.ChunkDurationMS, "VOICEFORGE_BUS_CHUNK_DURATION_MS")
	overrideString(&cfg.Backend.Mode, "VOICEFORGE_BACKEND_MODE")
	overrideString(&cfg.Backend.Command, "VOICEFORGE_BACKEND_COMMAND")
	overrideInt(&cfg.Backend.SampleRate, "VOICEFORGE_BACKEND_SAMPLE_RATE")
	overrideString(&cfg.Voices.Directory, "VOICEFORGE_VOICES_DIRECTORY")
	overrideInt(&cfg.Generation.MaxSegmentChars, "VOICEFORGE_GENERATION_MAX_SEGMENT_CHARS")
	overrideInt(&cfg.Generation.SilencePaddingMS, "VOICEFORGE_GENERATION_SILENCE_PADDING_MS")
	overrideInt(&cfg.Generation.SegmentTimeoutMS, "VOICEFORGE_GENERATION_SEGMENT_TIMEOUT_MS")
	overrideFloat(&cfg.Generation.MinSpeed, "VOICEFORGE_GENERATION_MIN_SPEED")
	overrideFloat(&cfg.Generation.MaxSpeed, "VOICEFORGE_GENERATION_MAX_SPEED")
	overrideFloat(&cfg.Generation.DefaultSpeed, "VOICEFORGE_GENERATION_DEFAULT_SPEED")
	overrideBool(&cfg.History.Enabled, "VOICEFORGE_HISTORY_ENABLED")
	overrideString(&cfg.History.Path, "VOICEFORGE_HISTORY_PATH")
	overrideInt(&cfg.History.RetentionDays, "VOICEFORGE_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxRuns, "VOICEFORGE_HISTORY_MAX_RUNS")
	overrideBool(&cfg.History.VacuumOnStart, "VOICEFORGE_HISTORY_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else {
			if len(cfg.Bus.Servers) == 0 {
				return errors.New("bus.servers must not be empty when embedded mode is disabled")
			}
		}
		if cfg.Bus.ChunkDurationMS <= 0 {
			return errors.New("bus.chunk_duration_ms must be positive")
		}
	}
	switch cfg.Backend.Mode {
	case "mock", "exec":
	default:
		return errors.New("backend.mode must be one of mock|exec")
	}
	if cfg.Backend.Mode == "exec" && cfg.Backend.Command == "" {
		return errors.New("backend.command must be set when mode=exec")
	}
	if cfg.Backend.SampleRate <= 0 {
		return errors.New("backend.sample_rate must be positive")
	}
	if cfg.Voices.Directory == "" {
		return errors.New("voices.directory must not be empty")
	}
	if cfg.Generation.MaxSegmentChars <= 0 {
		return errors.New("generation.max_segment_chars must be positive")
	}
	if cfg.Generation.SilencePaddingMS < 0 {
		return errors.New("generation.silence_padding_ms must be >= 0")
	}
	if cfg.Generation.SegmentTimeoutMS <= 0 {
		return errors.New("generation.segment_timeout_ms must be positive")
	}
	if cfg.Generation.MinSpeed <= 0 || cfg.Generation.MaxSpeed < cfg.Generation.MinSpeed {
		return errors.New("generation speed bounds must satisfy 0 < min_speed <= max_speed")
	}
	if cfg.Generation.DefaultSpeed < cfg.Generation.MinSpeed || cfg.Generation.DefaultSpeed > cfg.Generation.MaxSpeed {
		return errors.New("generation.default_speed must be within [min_speed, max_speed]")
	}
	if cfg.History.Enabled {
		if cfg.History.Path == "" {
			return errors.New("history.path must not be empty when history is enabled")
		}
		if cfg.History.RetentionDays < 0 {
			return errors.New("history.retention_days must be >= 0")
		}
		if cfg.History.MaxRuns < 0 {
			return errors.New("history.max_runs must be >= 0")
		}
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Telemetry TelemetryConfig
	Tuner     TunerConfig
	Filter    FilterConfig
	Server    ServerConfig
	Alert     AlertConfig
	Tracing   TracingConfig
	Log       LogConfig
}

type TelemetryConfig struct {
	// BrokerURL is the MQTT broker standing in for the NetworkTables server
	// (typically a bridge process on the driver station laptop).
	BrokerURL      string
	ClientID       string
	ConnectTimeout time.Duration
	// MaxWriteRateHz caps coefficient writes to protect the robot-side peer.
	MaxWriteRateHz float64
}

// TunerConfig is the coordinator behavior block.
type TunerConfig struct {
	CoefficientFile string

	AutotuneEnabled      bool
	AutoAdvanceOnSuccess bool
	// ShotThreshold is the pending-sample count that triggers an automatic
	// optimization pass.
	ShotThreshold int
	// AutoAdvanceShotThreshold is checked independently of ShotThreshold: a
	// batch of at least this many samples that is 100% hits advances to the
	// next coefficient.
	AutoAdvanceShotThreshold  int
	MinWriteInterval          time.Duration
	ConsecutiveRejectionLimit int
	TickInterval              time.Duration

	// Optimizer policy knobs. ScoringPolicy and ScoreSign are deliberately
	// explicit configuration rather than hardcoded math.
	NInitialPoints     int
	ConvergenceWindow  int
	ConvergenceEpsilon float64
	MaxObservations    int
	ScoringPolicy      string // "hit_rate" or "weighted_hit_rate"
	ScoreSign          string // "maximize" or "minimize"
}

// FilterConfig holds the physical plausibility bounds for shot samples.
type FilterConfig struct {
	MinDistanceM   float64
	MaxDistanceM   float64
	MinPitchRad    float64
	MaxPitchRad    float64
	MinVelocityMPS float64
	MaxVelocityMPS float64
}

type ServerConfig struct {
	Port int
}

type AlertConfig struct {
	SlackWebhookURL string
	WebhookURL      string
	Cooldown        time.Duration
}

type TracingConfig struct {
	OTLPEndpoint string
	Insecure     bool
	SampleRatio  float64
}

type LogConfig struct {
	Level string
	// EventLogDir is where append-only session CSVs are written.
	EventLogDir string
}

func Load() (*Config, error) {
	cfg := &Config{
		Telemetry: TelemetryConfig{
			BrokerURL:      getEnv("TELEMETRY_BROKER_URL", "tcp://10.0.0.2:1883"),
			ClientID:       getEnv("TELEMETRY_CLIENT_ID", "mltune-tuner"),
			ConnectTimeout: time.Duration(getEnvInt("TELEMETRY_CONNECT_TIMEOUT_MS", 5000)) * time.Millisecond,
			MaxWriteRateHz: getEnvFloat("TELEMETRY_MAX_WRITE_RATE_HZ", 10),
		},
		Tuner: TunerConfig{
			CoefficientFile:           getEnv("COEFFICIENT_FILE", "coefficients.yaml"),
			AutotuneEnabled:           getEnvBool("AUTOTUNE_ENABLED", false),
			AutoAdvanceOnSuccess:      getEnvBool("AUTO_ADVANCE_ON_SUCCESS", false),
			ShotThreshold:             getEnvInt("SHOT_THRESHOLD", 10),
			AutoAdvanceShotThreshold:  getEnvInt("AUTO_ADVANCE_SHOT_THRESHOLD", 10),
			MinWriteInterval:          time.Duration(getEnvInt("MIN_WRITE_INTERVAL_MS", 1000)) * time.Millisecond,
			ConsecutiveRejectionLimit: getEnvInt("CONSECUTIVE_REJECTION_LIMIT", 3),
			TickInterval:              time.Duration(getEnvInt("TICK_INTERVAL_MS", 250)) * time.Millisecond,
			NInitialPoints:            getEnvInt("N_INITIAL_POINTS", 5),
			ConvergenceWindow:         getEnvInt("CONVERGENCE_WINDOW", 4),
			ConvergenceEpsilon:        getEnvFloat("CONVERGENCE_EPSILON", 1e-3),
			MaxObservations:           getEnvInt("MAX_OBSERVATIONS", 30),
			ScoringPolicy:             getEnv("SCORING_POLICY", "hit_rate"),
			ScoreSign:                 getEnv("SCORE_SIGN", "maximize"),
		},
		Filter: FilterConfig{
			MinDistanceM:   getEnvFloat("PHYSICAL_MIN_DISTANCE_M", 0.5),
			MaxDistanceM:   getEnvFloat("PHYSICAL_MAX_DISTANCE_M", 16.0),
			MinPitchRad:    getEnvFloat("PHYSICAL_MIN_PITCH_RAD", 0.0),
			MaxPitchRad:    getEnvFloat("PHYSICAL_MAX_PITCH_RAD", 1.4),
			MinVelocityMPS: getEnvFloat("PHYSICAL_MIN_VELOCITY_MPS", 1.0),
			MaxVelocityMPS: getEnvFloat("PHYSICAL_MAX_VELOCITY_MPS", 30.0),
		},
		Server: ServerConfig{
			Port: getEnvInt("ADMIN_PORT", 8080),
		},
		Alert: AlertConfig{
			SlackWebhookURL: getEnv("ALERT_SLACK_WEBHOOK_URL", ""),
			WebhookURL:      getEnv("ALERT_WEBHOOK_URL", ""),
			Cooldown:        time.Duration(getEnvInt("ALERT_COOLDOWN_SEC", 60)) * time.Second,
		},
		Tracing: TracingConfig{
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Insecure:     getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:  getEnvFloat("OTEL_TRACES_SAMPLE_RATIO", 1.0),
		},
		Log: LogConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			EventLogDir: getEnv("EVENT_LOG_DIR", "logs"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Telemetry.BrokerURL == "" {
		return fmt.Errorf("TELEMETRY_BROKER_URL is required")
	}
	if c.Tuner.ShotThreshold <= 0 {
		return fmt.Errorf("SHOT_THRESHOLD must be positive, got %d", c.Tuner.ShotThreshold)
	}
	if c.Tuner.AutoAdvanceShotThreshold <= 0 {
		return fmt.Errorf("AUTO_ADVANCE_SHOT_THRESHOLD must be positive, got %d", c.Tuner.AutoAdvanceShotThreshold)
	}
	if c.Tuner.MinWriteInterval < 0 {
		return fmt.Errorf("MIN_WRITE_INTERVAL_MS must not be negative")
	}
	if c.Tuner.ConsecutiveRejectionLimit <= 0 {
		return fmt.Errorf("CONSECUTIVE_REJECTION_LIMIT must be positive, got %d", c.Tuner.ConsecutiveRejectionLimit)
	}
	if c.Tuner.NInitialPoints < 1 {
		return fmt.Errorf("N_INITIAL_POINTS must be at least 1, got %d", c.Tuner.NInitialPoints)
	}
	if c.Tuner.ConvergenceWindow < 1 {
		return fmt.Errorf("CONVERGENCE_WINDOW must be at least 1, got %d", c.Tuner.ConvergenceWindow)
	}
	if c.Tuner.ConvergenceEpsilon <= 0 {
		return fmt.Errorf("CONVERGENCE_EPSILON must be positive")
	}
	switch c.Tuner.ScoringPolicy {
	case "hit_rate", "weighted_hit_rate":
	default:
		return fmt.Errorf("SCORING_POLICY must be hit_rate or weighted_hit_rate, got %q", c.Tuner.ScoringPolicy)
	}
	switch c.Tuner.ScoreSign {
	case "maximize", "minimize":
	default:
		return fmt.Errorf("SCORE_SIGN must be maximize or minimize, got %q", c.Tuner.ScoreSign)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLE_RATIO must be in [0, 1], got %v", c.Tracing.SampleRatio)
	}
	if c.Filter.MinDistanceM >= c.Filter.MaxDistanceM {
		return fmt.Errorf("physical distance bounds inverted")
	}
	if c.Filter.MinVelocityMPS >= c.Filter.MaxVelocityMPS {
		return fmt.Errorf("physical velocity bounds inverted")
	}
	if c.Filter.MinPitchRad >= c.Filter.MaxPitchRad {
		return fmt.Errorf("physical pitch bounds inverted")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

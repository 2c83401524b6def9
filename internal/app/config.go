package app

import (
	"fmt"
	"time"
)

// Config holds everything an App instance needs to run.
type Config struct {
	// DefinitionsPath points at a .hcl file or a directory of them.
	DefinitionsPath string
	// CompositionID selects the composition to run in one-shot mode. May be
	// empty when exactly one composition is defined.
	CompositionID string

	// Query engine connection.
	EngineURL    string
	EngineUserID string
	EngineToken  string
	PollInterval time.Duration

	// Client-side admission control toward the engine.
	RequestsPerSecond float64
	Burst             int
	MaxInFlight       int64

	// Workers caps concurrently dispatched nodes within a wave.
	Workers    int
	BestEffort bool

	// Execution window, in the engine's wall-clock format. Both empty means
	// the 24 hours ending now.
	WindowStart string
	WindowEnd   string

	// Parameters override node parameter values, keyed "node.param".
	Parameters map[string]any

	// APIPort switches the app into serve mode when positive.
	APIPort int

	// ProgressURL is an optional socket.io endpoint for live progress events.
	ProgressURL string

	LogFormat string
	LogLevel  string
}

// NewConfig validates a Config and applies defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.DefinitionsPath == "" {
		return nil, fmt.Errorf("definitions path is required")
	}
	if cfg.EngineURL == "" {
		return nil, fmt.Errorf("engine URL is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if (cfg.WindowStart == "") != (cfg.WindowEnd == "") {
		return nil, fmt.Errorf("window start and end must be set together")
	}
	return &cfg, nil
}

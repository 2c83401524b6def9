// Package cli translates command-line arguments into an app configuration.
package cli

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/vk/querygrid/internal/app"
)

// ExitError is an error carrying a specific process exit code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// paramFlags collects repeated -param node.param=value flags.
type paramFlags map[string]any

func (p paramFlags) String() string {
	return fmt.Sprintf("%v", map[string]any(p))
}

func (p paramFlags) Set(s string) error {
	key, raw, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return fmt.Errorf("expected node.param=value, got %q", s)
	}
	if !strings.Contains(key, ".") {
		return fmt.Errorf("parameter key %q must be qualified as node.param", key)
	}
	p[key] = parseParamValue(raw)
	return nil
}

// parseParamValue keeps CLI overrides usable for typed parameters: booleans
// and numbers are recognized, everything else stays a string.
func parseParamValue(raw string) any {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

// Parse processes command-line arguments. It returns a populated app config,
// a boolean indicating the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	flagSet := flag.NewFlagSet("querygrid", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
QueryGrid - executes composed query graphs against an asynchronous query engine.

Usage:
  querygrid [options] [DEFINITIONS_PATH]

Arguments:
  DEFINITIONS_PATH
    Path to a single .hcl file or a directory containing .hcl files.

Options:
`)
		flagSet.PrintDefaults()
	}

	definitionsFlag := flagSet.String("definitions", "", "Path to the composition definitions file or directory.")
	dFlag := flagSet.String("d", "", "Path to the composition definitions (shorthand).")
	compositionFlag := flagSet.String("composition", "", "ID of the composition to run. Optional when only one is defined.")
	engineURLFlag := flagSet.String("engine-url", "", "Base URL of the query engine API.")
	engineUserFlag := flagSet.String("engine-user", "", "User ID presented for token refresh.")
	engineTokenFlag := flagSet.String("engine-token", "", "Bearer token for the query engine.")
	pollIntervalFlag := flagSet.Duration("poll-interval", 0, "Execution status poll interval. 0 uses the client default.")
	rpsFlag := flagSet.Float64("rps", 0, "Request rate ceiling toward the engine. 0 is unlimited.")
	burstFlag := flagSet.Int("burst", 1, "Request burst allowance when -rps is set.")
	maxInFlightFlag := flagSet.Int64("max-in-flight", 0, "Concurrent request ceiling toward the engine. 0 is unlimited.")
	workersFlag := flagSet.Int("workers", 4, "Number of nodes dispatched concurrently within a wave.")
	bestEffortFlag := flagSet.Bool("best-effort", false, "Keep dispatching nodes whose upstreams failed, where their parameters allow.")
	windowStartFlag := flagSet.String("window-start", "", "Execution window start, e.g. 2026-08-25T00:00:00.")
	windowEndFlag := flagSet.String("window-end", "", "Execution window end.")
	apiPortFlag := flagSet.Int("api-port", 0, "Port for the HTTP run API. 0 runs once and exits.")
	progressURLFlag := flagSet.String("progress-url", "", "Optional socket.io endpoint for live progress events.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Logging level. Options: 'debug', 'info', 'warn', 'error'.")

	params := paramFlags{}
	flagSet.Var(params, "param", "Override a node parameter as node.param=value. Repeatable.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	path := ""
	switch {
	case *definitionsFlag != "":
		path = *definitionsFlag
	case *dFlag != "":
		path = *dFlag
	case flagSet.NArg() > 0:
		path = flagSet.Arg(0)
	}
	if path == "" {
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}
	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	config, err := app.NewConfig(app.Config{
		DefinitionsPath:   path,
		CompositionID:     *compositionFlag,
		EngineURL:         *engineURLFlag,
		EngineUserID:      *engineUserFlag,
		EngineToken:       *engineTokenFlag,
		PollInterval:      *pollIntervalFlag,
		RequestsPerSecond: *rpsFlag,
		Burst:             *burstFlag,
		MaxInFlight:       *maxInFlightFlag,
		Workers:           *workersFlag,
		BestEffort:        *bestEffortFlag,
		WindowStart:       *windowStartFlag,
		WindowEnd:         *windowEndFlag,
		Parameters:        params,
		APIPort:           *apiPortFlag,
		ProgressURL:       *progressURLFlag,
		LogFormat:         logFormat,
		LogLevel:          logLevel,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	return config, false, nil
}

// Package config provides configuration file support for atl.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/richhaase/agentic-task-loop/internal/executor"
)

// ConfigFileName is the name of the config file.
const ConfigFileName = ".atl.yaml"

// Duration is a custom type that handles YAML duration parsing.
// Supports both Go duration format ("5m", "300s") and numeric seconds.
type Duration time.Duration

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(time.Duration(v) * time.Second)
	case float64:
		*d = Duration(time.Duration(v) * time.Second)
	default:
		return fmt.Errorf("invalid duration type: %T", v)
	}
	return nil
}

// AsDuration returns the underlying time.Duration.
func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}

// Config represents the atl configuration file.
type Config struct {
	Worker            *string   `yaml:"worker_executor"`
	Auditor           *string   `yaml:"auditor_executor"`
	MaxIterations     *int      `yaml:"max_iterations"`
	InactivityTimeout *Duration `yaml:"inactivity_timeout"`
	GracePeriod       *Duration `yaml:"grace_period"`
	FlushBytes        *int      `yaml:"flush_bytes"`
	SessionDir        *string   `yaml:"session_dir"`
	Retries           *int      `yaml:"retries"`
	Concurrency       *int      `yaml:"concurrency"`
	APIBaseURL        *string   `yaml:"api_base_url"`
	APIModel          *string   `yaml:"api_model"`
}

// LoadResult contains the loaded config and any warnings encountered.
type LoadResult struct {
	Config   *Config
	Warnings []string
}

// LoadFromDirWithWarnings reads .atl.yaml from the specified directory and
// returns warnings. Returns an empty config (not error) if the file doesn't
// exist.
func LoadFromDirWithWarnings(dir string) (*LoadResult, error) {
	return LoadFromPathWithWarnings(filepath.Join(dir, ConfigFileName))
}

// LoadFromPathWithWarnings reads a config file and returns warnings for
// unknown keys. Returns an empty config (not error) if the file doesn't
// exist. Returns an error if the file exists but is invalid.
func LoadFromPathWithWarnings(path string) (*LoadResult, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &LoadResult{Config: &Config{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	warnings := checkUnknownKeys(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", ConfigFileName, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", ConfigFileName, err)
	}

	return &LoadResult{Config: &cfg, Warnings: warnings}, nil
}

// knownTopLevelKeys are the valid top-level keys in the config file.
var knownTopLevelKeys = []string{
	"worker_executor", "auditor_executor", "max_iterations",
	"inactivity_timeout", "grace_period", "flush_bytes", "session_dir",
	"retries", "concurrency", "api_base_url", "api_model",
}

// checkUnknownKeys checks for unknown keys in the YAML data and returns warnings.
func checkUnknownKeys(data []byte) []string {
	var warnings []string

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		// If we can't parse, let the main parser handle the error
		return nil
	}

	for key := range raw {
		if !slices.Contains(knownTopLevelKeys, key) {
			warning := fmt.Sprintf("unknown key %q in %s", key, ConfigFileName)
			if suggestion := findSimilar(key, knownTopLevelKeys); suggestion != "" {
				warning += fmt.Sprintf(" (did you mean %q?)", suggestion)
			}
			warnings = append(warnings, warning)
		}
	}

	return warnings
}

// findSimilar finds the most similar string from candidates using
// Levenshtein distance. Returns empty string if no candidate is similar
// enough (threshold: 3 edits).
func findSimilar(input string, candidates []string) string {
	const maxDistance = 3
	bestMatch := ""
	bestDistance := maxDistance + 1

	for _, candidate := range candidates {
		dist := levenshtein(input, candidate)
		if dist < bestDistance {
			bestDistance = dist
			bestMatch = candidate
		}
	}

	if bestDistance <= maxDistance {
		return bestMatch
	}
	return ""
}

// levenshtein calculates the Levenshtein distance between two strings.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)

	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	matrix := make([][]int, len(ra)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(rb)+1)
		matrix[i][0] = i
	}
	for j := range matrix[0] {
		matrix[0][j] = j
	}

	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			matrix[i][j] = min(
				matrix[i-1][j]+1,      // deletion
				matrix[i][j-1]+1,      // insertion
				matrix[i-1][j-1]+cost, // substitution
			)
		}
	}

	return matrix[len(ra)][len(rb)]
}

// Validate checks that all config values are valid.
func (c *Config) Validate() error {
	if c.Worker != nil && !slices.Contains(executor.SupportedKinds, *c.Worker) {
		return fmt.Errorf("worker_executor must be one of %v, got %q", executor.SupportedKinds, *c.Worker)
	}
	if c.Auditor != nil && !slices.Contains(executor.SupportedKinds, *c.Auditor) {
		return fmt.Errorf("auditor_executor must be one of %v, got %q", executor.SupportedKinds, *c.Auditor)
	}
	if c.MaxIterations != nil && *c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be >= 1, got %d", *c.MaxIterations)
	}
	if c.InactivityTimeout != nil && *c.InactivityTimeout <= 0 {
		return fmt.Errorf("inactivity_timeout must be > 0, got %s", time.Duration(*c.InactivityTimeout))
	}
	if c.GracePeriod != nil && *c.GracePeriod <= 0 {
		return fmt.Errorf("grace_period must be > 0, got %s", time.Duration(*c.GracePeriod))
	}
	if c.FlushBytes != nil && *c.FlushBytes < 1 {
		return fmt.Errorf("flush_bytes must be >= 1, got %d", *c.FlushBytes)
	}
	if c.Retries != nil && *c.Retries < 0 {
		return fmt.Errorf("retries must be >= 0, got %d", *c.Retries)
	}
	if c.Concurrency != nil && *c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", *c.Concurrency)
	}
	return nil
}

// Defaults holds the built-in default values.
var Defaults = ResolvedConfig{
	Worker:            executor.DefaultWorkerKind,
	Auditor:           executor.DefaultAuditorKind,
	MaxIterations:     5,
	InactivityTimeout: 2 * time.Minute,
	GracePeriod:       5 * time.Second,
	FlushBytes:        4096,
	SessionDir:        filepath.Join(".atl", "sessions"),
	Retries:           1,
	Concurrency:       2,
}

// ResolvedConfig holds the final resolved configuration values, threaded
// explicitly through construction rather than read from the environment
// deep in the stack.
type ResolvedConfig struct {
	Worker            string
	Auditor           string
	MaxIterations     int
	InactivityTimeout time.Duration
	GracePeriod       time.Duration
	FlushBytes        int
	SessionDir        string
	Retries           int
	Concurrency       int
	APIBaseURL        string
	APIModel          string
	APIKey            string
}

// FlagState tracks whether a flag was explicitly set.
type FlagState struct {
	WorkerSet            bool
	AuditorSet           bool
	MaxIterationsSet     bool
	InactivityTimeoutSet bool
	GracePeriodSet       bool
	FlushBytesSet        bool
	SessionDirSet        bool
	RetriesSet           bool
	ConcurrencySet       bool
	APIBaseURLSet        bool
	APIModelSet          bool
}

// EnvState captures env var values and whether they were set.
type EnvState struct {
	Worker               string
	WorkerSet            bool
	Auditor              string
	AuditorSet           bool
	MaxIterations        int
	MaxIterationsSet     bool
	InactivityTimeout    time.Duration
	InactivityTimeoutSet bool
	GracePeriod          time.Duration
	GracePeriodSet       bool
	FlushBytes           int
	FlushBytesSet        bool
	SessionDir           string
	SessionDirSet        bool
	Retries              int
	RetriesSet           bool
	Concurrency          int
	ConcurrencySet       bool
	APIBaseURL           string
	APIBaseURLSet        bool
	APIModel             string
	APIModelSet          bool
	APIKey               string
	APIKeySet            bool
}

// envDuration parses a duration env var, accepting Go duration strings or
// bare seconds.
func envDuration(v string) (time.Duration, bool) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, true
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	return 0, false
}

// LoadEnvState reads environment variables and returns their state.
func LoadEnvState() EnvState {
	var state EnvState

	if v := os.Getenv("ATL_WORKER"); v != "" {
		state.Worker = v
		state.WorkerSet = true
	}
	if v := os.Getenv("ATL_AUDITOR"); v != "" {
		state.Auditor = v
		state.AuditorSet = true
	}
	if v := os.Getenv("ATL_MAX_ITERATIONS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			state.MaxIterations = i
			state.MaxIterationsSet = true
		}
	}
	if v := os.Getenv("ATL_INACTIVITY_TIMEOUT"); v != "" {
		if d, ok := envDuration(v); ok {
			state.InactivityTimeout = d
			state.InactivityTimeoutSet = true
		}
	}
	if v := os.Getenv("ATL_GRACE_PERIOD"); v != "" {
		if d, ok := envDuration(v); ok {
			state.GracePeriod = d
			state.GracePeriodSet = true
		}
	}
	if v := os.Getenv("ATL_FLUSH_BYTES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			state.FlushBytes = i
			state.FlushBytesSet = true
		}
	}
	if v := os.Getenv("ATL_SESSION_DIR"); v != "" {
		state.SessionDir = v
		state.SessionDirSet = true
	}
	if v := os.Getenv("ATL_RETRIES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			state.Retries = i
			state.RetriesSet = true
		}
	}
	if v := os.Getenv("ATL_CONCURRENCY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			state.Concurrency = i
			state.ConcurrencySet = true
		}
	}
	if v := os.Getenv("ATL_API_BASE_URL"); v != "" {
		state.APIBaseURL = v
		state.APIBaseURLSet = true
	}
	if v := os.Getenv("ATL_API_MODEL"); v != "" {
		state.APIModel = v
		state.APIModelSet = true
	}
	if v := os.Getenv("ATL_API_KEY"); v != "" {
		state.APIKey = v
		state.APIKeySet = true
	}

	return state
}

// Resolve merges config file values with env vars and flags.
// Precedence: flags > env vars > config file > defaults
func Resolve(cfg *Config, envState EnvState, flagState FlagState, flagValues ResolvedConfig) ResolvedConfig {
	result := Defaults

	// Apply config file values (if set)
	if cfg != nil {
		if cfg.Worker != nil {
			result.Worker = *cfg.Worker
		}
		if cfg.Auditor != nil {
			result.Auditor = *cfg.Auditor
		}
		if cfg.MaxIterations != nil {
			result.MaxIterations = *cfg.MaxIterations
		}
		if cfg.InactivityTimeout != nil {
			result.InactivityTimeout = cfg.InactivityTimeout.AsDuration()
		}
		if cfg.GracePeriod != nil {
			result.GracePeriod = cfg.GracePeriod.AsDuration()
		}
		if cfg.FlushBytes != nil {
			result.FlushBytes = *cfg.FlushBytes
		}
		if cfg.SessionDir != nil {
			result.SessionDir = *cfg.SessionDir
		}
		if cfg.Retries != nil {
			result.Retries = *cfg.Retries
		}
		if cfg.Concurrency != nil {
			result.Concurrency = *cfg.Concurrency
		}
		if cfg.APIBaseURL != nil {
			result.APIBaseURL = *cfg.APIBaseURL
		}
		if cfg.APIModel != nil {
			result.APIModel = *cfg.APIModel
		}
	}

	// Apply env var values (if set)
	if envState.WorkerSet {
		result.Worker = envState.Worker
	}
	if envState.AuditorSet {
		result.Auditor = envState.Auditor
	}
	if envState.MaxIterationsSet {
		result.MaxIterations = envState.MaxIterations
	}
	if envState.InactivityTimeoutSet {
		result.InactivityTimeout = envState.InactivityTimeout
	}
	if envState.GracePeriodSet {
		result.GracePeriod = envState.GracePeriod
	}
	if envState.FlushBytesSet {
		result.FlushBytes = envState.FlushBytes
	}
	if envState.SessionDirSet {
		result.SessionDir = envState.SessionDir
	}
	if envState.RetriesSet {
		result.Retries = envState.Retries
	}
	if envState.ConcurrencySet {
		result.Concurrency = envState.Concurrency
	}
	if envState.APIBaseURLSet {
		result.APIBaseURL = envState.APIBaseURL
	}
	if envState.APIModelSet {
		result.APIModel = envState.APIModel
	}
	if envState.APIKeySet {
		result.APIKey = envState.APIKey
	}

	// Apply flag values (if explicitly set)
	if flagState.WorkerSet {
		result.Worker = flagValues.Worker
	}
	if flagState.AuditorSet {
		result.Auditor = flagValues.Auditor
	}
	if flagState.MaxIterationsSet {
		result.MaxIterations = flagValues.MaxIterations
	}
	if flagState.InactivityTimeoutSet {
		result.InactivityTimeout = flagValues.InactivityTimeout
	}
	if flagState.GracePeriodSet {
		result.GracePeriod = flagValues.GracePeriod
	}
	if flagState.FlushBytesSet {
		result.FlushBytes = flagValues.FlushBytes
	}
	if flagState.SessionDirSet {
		result.SessionDir = flagValues.SessionDir
	}
	if flagState.RetriesSet {
		result.Retries = flagValues.Retries
	}
	if flagState.ConcurrencySet {
		result.Concurrency = flagValues.Concurrency
	}
	if flagState.APIBaseURLSet {
		result.APIBaseURL = flagValues.APIBaseURL
	}
	if flagState.APIModelSet {
		result.APIModel = flagValues.APIModel
	}

	return result
}

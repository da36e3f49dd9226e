package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the root configuration for tabt, stored in ~/.tabt/config.json.
// The file supports single-line // comments for documentation purposes.
type Config struct {
	// APIBaseURL is the backend the agent syncs to.
	APIBaseURL string `json:"api_base_url"`
	// ControlAddr is the loopback address of the local control API.
	ControlAddr string `json:"control_addr"`
	// RulesFile optionally points at a YAML file of extra classifier rules.
	RulesFile    string             `json:"rules_file"`
	Log          LogConfig          `json:"log"`
	Sync         SyncConfig         `json:"sync"`
	Connectivity ConnectivityConfig `json:"connectivity"`
	Tracker      TrackerConfig      `json:"tracker"`
}

type LogConfig struct {
	Level string `json:"level"`
	JSON  bool   `json:"json"`
}

// SyncConfig holds Network Client and Sync Engine settings.
type SyncConfig struct {
	RequestTimeout    Duration   `json:"request_timeout"`
	MaxRetries        int        `json:"max_retries"`
	Backoff           []Duration `json:"backoff"`
	QueueMaxRetries   int        `json:"queue_max_retries"`
	DrainInterval     Duration   `json:"drain_interval"`
	HeartbeatInterval Duration   `json:"heartbeat_interval"`
}

type ConnectivityConfig struct {
	ProbeInterval Duration `json:"probe_interval"`
	ProbeTimeout  Duration `json:"probe_timeout"`
}

type TrackerConfig struct {
	MinDuration Duration `json:"min_duration"`
}

// Duration is a time.Duration that reads and writes Go duration strings
// ("10s", "1m30s"). Bare JSON numbers are taken as seconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		d.Duration = parsed
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("invalid duration %s", string(data))
	}
	d.Duration = time.Duration(secs * float64(time.Second))
	return nil
}

const (
	DefaultAPIBaseURL  = "http://localhost:8000"
	DefaultControlAddr = "127.0.0.1:7311"
	DefaultLogLevel    = "info"
	// DefaultMaxRetries is the number of retries after the first live attempt.
	DefaultMaxRetries = 3
	// DefaultQueueMaxRetries is the drain-pass failure count after which a
	// queued entry is dropped.
	DefaultQueueMaxRetries = 5
)

// DefaultBackoff is the fixed retry schedule. The last value repeats.
var DefaultBackoff = []time.Duration{time.Second, 5 * time.Second, 15 * time.Second}

// Default returns a Config pre-filled with the built-in defaults.
func Default() Config {
	backoff := make([]Duration, len(DefaultBackoff))
	for i, d := range DefaultBackoff {
		backoff[i] = Duration{d}
	}
	return Config{
		APIBaseURL:  DefaultAPIBaseURL,
		ControlAddr: DefaultControlAddr,
		Log:         LogConfig{Level: DefaultLogLevel},
		Sync: SyncConfig{
			RequestTimeout:    Duration{10 * time.Second},
			MaxRetries:        DefaultMaxRetries,
			Backoff:           backoff,
			QueueMaxRetries:   DefaultQueueMaxRetries,
			DrainInterval:     Duration{time.Minute},
			HeartbeatInterval: Duration{30 * time.Second},
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: Duration{30 * time.Second},
			ProbeTimeout:  Duration{5 * time.Second},
		},
		Tracker: TrackerConfig{MinDuration: Duration{5 * time.Second}},
	}
}

// BackoffSchedule returns the retry schedule as plain durations.
func (c SyncConfig) BackoffSchedule() []time.Duration {
	out := make([]time.Duration, len(c.Backoff))
	for i, d := range c.Backoff {
		out[i] = d.Duration
	}
	return out
}

// configTemplate is the annotated config written on first run.
// Lines whose trimmed content starts with // are stripped before JSON parsing,
// allowing human-readable documentation inside the file.
const configTemplate = `// tabt configuration – ~/.tabt/config.json
//
// All settings are optional; missing or zero values fall back to the
// built-in defaults shown below. Environment variables (TABT_API_URL,
// TABT_CONTROL_ADDR, TABT_LOG_LEVEL, TABT_RULES_FILE) override this file.
{
  // Backend the agent delivers activity records to.
  "api_base_url": "http://localhost:8000",

  // Loopback address of the local control API used by the browser bridge
  // and by the tabt CLI commands.
  "control_addr": "127.0.0.1:7311",

  // Optional YAML file with extra platform rules, consulted before the
  // built-in table. Relative paths resolve against ~/.tabt.
  "rules_file": "",

  "log": {
    // trace, debug, info, warn, error
    "level": "info",
    "json": false
  },

  // ── Delivery and offline queue ───────────────────────────────────────────
  "sync": {
    "request_timeout": "10s",
    // Retries after the first attempt of a live delivery, spaced by "backoff".
    "max_retries": 3,
    "backoff": ["1s", "5s", "15s"],
    // Failed drain passes after which a queued entry is dropped.
    "queue_max_retries": 5,
    "drain_interval": "1m",
    "heartbeat_interval": "30s"
  },

  "connectivity": {
    "probe_interval": "30s",
    "probe_timeout": "5s"
  },

  "tracker": {
    // Visits shorter than this are discarded.
    "min_duration": "5s"
  }
}
`

// FilePath returns the path of config.json inside base.
func FilePath(base string) string {
	return filepath.Join(base, "config.json")
}

// stripLineComments removes lines whose leading non-whitespace content starts
// with //. Only full-line comments are handled; inline comments are not stripped.
func stripLineComments(data []byte) []byte {
	var out []byte
	for _, line := range bytes.Split(data, []byte("\n")) {
		if bytes.HasPrefix(bytes.TrimLeft(line, " \t"), []byte("//")) {
			continue
		}
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out
}

// Load reads base/config.json, creating it with annotated defaults on first
// run, and then applies .env and environment overrides.
func Load(base string) (Config, error) {
	cfg, err := loadFile(FilePath(base))
	applyEnv(&cfg)
	if cfg.RulesFile != "" && !filepath.IsAbs(cfg.RulesFile) {
		cfg.RulesFile = filepath.Join(base, cfg.RulesFile)
	}
	return cfg, err
}

func loadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		// First run: write the annotated template so users can discover options.
		if writeErr := writeDefault(path); writeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not create config file %s: %v\n", path, writeErr)
		}
		return Default(), nil
	}
	if err != nil {
		return Default(), fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(stripLineComments(data), &cfg); err != nil {
		return Default(), fmt.Errorf("parsing config file %s: %w\nTip: delete the file to regenerate defaults", path, err)
	}
	fillDefaults(&cfg)
	return cfg, nil
}

// fillDefaults replaces zero or invalid values with the built-in defaults so
// callers always get a usable Config even from a partial file.
func fillDefaults(cfg *Config) {
	def := Default()
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = def.APIBaseURL
	}
	if cfg.ControlAddr == "" {
		cfg.ControlAddr = def.ControlAddr
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	fillDuration(&cfg.Sync.RequestTimeout, def.Sync.RequestTimeout)
	fillDuration(&cfg.Sync.DrainInterval, def.Sync.DrainInterval)
	fillDuration(&cfg.Sync.HeartbeatInterval, def.Sync.HeartbeatInterval)
	fillDuration(&cfg.Connectivity.ProbeInterval, def.Connectivity.ProbeInterval)
	fillDuration(&cfg.Connectivity.ProbeTimeout, def.Connectivity.ProbeTimeout)
	fillDuration(&cfg.Tracker.MinDuration, def.Tracker.MinDuration)
	if cfg.Sync.MaxRetries < 0 {
		cfg.Sync.MaxRetries = def.Sync.MaxRetries
	}
	if cfg.Sync.QueueMaxRetries <= 0 {
		cfg.Sync.QueueMaxRetries = def.Sync.QueueMaxRetries
	}
	valid := len(cfg.Sync.Backoff) > 0
	for _, d := range cfg.Sync.Backoff {
		if d.Duration < 0 {
			valid = false
		}
	}
	if !valid {
		cfg.Sync.Backoff = def.Sync.Backoff
	}
}

func fillDuration(d *Duration, fallback Duration) {
	if d.Duration <= 0 {
		*d = fallback
	}
}

// applyEnv loads a .env file from the working directory, if present, and lets
// environment variables override file values.
func applyEnv(cfg *Config) {
	_ = godotenv.Load()
	cfg.APIBaseURL = getEnv("TABT_API_URL", cfg.APIBaseURL)
	cfg.ControlAddr = getEnv("TABT_CONTROL_ADDR", cfg.ControlAddr)
	cfg.Log.Level = getEnv("TABT_LOG_LEVEL", cfg.Log.Level)
	cfg.RulesFile = getEnv("TABT_RULES_FILE", cfg.RulesFile)
	cfg.Log.JSON = getBoolEnv("TABT_LOG_JSON", cfg.Log.JSON)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// writeDefault creates the config directory and writes the annotated default
// config template.
func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crimson-sun/doccat/internal/engine/feature"
	"github.com/crimson-sun/doccat/internal/engine/maxent"
	"github.com/crimson-sun/doccat/internal/engine/tokenizer"
	"github.com/crimson-sun/doccat/internal/store"
)

// Version is the doccat release.
const Version = "0.3.0"

// Config holds all doccat configuration.
type Config struct {
	ModelName       string            `yaml:"model_name"`
	Corpus          CorpusConfig      `yaml:"corpus"`
	Training        TrainingConfig    `yaml:"training"`
	Tokenizer       tokenizer.Options `yaml:"tokenizer"`
	Embedder        EmbedderConfig    `yaml:"embedder"`
	Store           StoreConfig       `yaml:"store"`
	Server          ServerConfig      `yaml:"server"`
	Output          OutputConfig      `yaml:"output"`
	Log             LogConfig         `yaml:"log"`
	ShutdownTimeout time.Duration     `yaml:"shutdown_timeout"`
}

// CorpusConfig locates the labeled training files.
type CorpusConfig struct {
	Patterns  []string `yaml:"patterns"`  // doublestar globs
	Delimiter string   `yaml:"delimiter"` // empty: any whitespace
}

// TrainingConfig holds GIS parameters.
type TrainingConfig struct {
	Iterations int      `yaml:"iterations"`
	Cutoff     int      `yaml:"cutoff"`
	Sigma      float64  `yaml:"sigma"`
	Tolerance  float64  `yaml:"tolerance"`
	Workers    int      `yaml:"workers"`
	Extractors []string `yaml:"extractors"`
}

// EmbedderConfig enables the ONNX sentence encoder when ModelPath is set.
type EmbedderConfig struct {
	ModelPath   string  `yaml:"model_path"`
	VocabPath   string  `yaml:"vocab_path"`
	LibraryPath string  `yaml:"library_path"`
	Threads     int     `yaml:"threads"`
	Scale       float64 `yaml:"scale"`
}

// Enabled reports whether an embedder is configured.
func (e EmbedderConfig) Enabled() bool { return e.ModelPath != "" }

// StoreConfig selects where models are persisted.
type StoreConfig struct {
	Type  string `yaml:"type"` // "file", "sqlite" or "remote"
	Path  string `yaml:"path"` // directory, database file or server base URL
	Token string `yaml:"token"`
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// Token guards model uploads; empty disables them.
	Token string `yaml:"token"`
}

// OutputConfig holds output destination settings.
type OutputConfig struct {
	Format     string `yaml:"format"` // "stdout" or "file"
	Path       string `yaml:"path"`
	Pretty     bool   `yaml:"pretty"`
	Verbosity  string `yaml:"verbosity"` // "minimal", "standard", "full"
	MaxSize    int64  `yaml:"max_size"`  // file rotation threshold in bytes; 0 disables
	BufferSize int    `yaml:"buffer_size"`
	// WebhookURL, when set, also POSTs predictions there in batches.
	WebhookURL     string            `yaml:"webhook_url"`
	WebhookHeaders map[string]string `yaml:"webhook_headers"`
	// WebhookSecret, when set, signs each webhook body with HMAC-SHA256.
	WebhookSecret string `yaml:"webhook_secret"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Default returns the configuration used when no file or env var is set.
func Default() Config {
	train := maxent.DefaultTrainConfig()
	return Config{
		ModelName: "documentcategorizer",
		Corpus:    CorpusConfig{Patterns: []string{"commodityCategoryData.txt"}},
		Training: TrainingConfig{
			Iterations: train.Iterations,
			Cutoff:     train.Cutoff,
			Sigma:      train.Sigma,
			Tolerance:  train.Tolerance,
			Extractors: train.Extractors,
		},
		Tokenizer: tokenizer.DefaultOptions(),
		Embedder:  EmbedderConfig{Scale: 1},
		Store:     StoreConfig{Type: "file", Path: "models"},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
		Output: OutputConfig{
			Format:     "stdout",
			Verbosity:  "standard",
			BufferSize: 256,
		},
		Log:             LogConfig{Level: "info", Format: "text"},
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load reads the YAML file at path over the defaults, then applies DOCCAT_*
// environment overrides. An empty path or a missing file means defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

// Save writes cfg as YAML.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func applyEnv(cfg *Config) {
	cfg.ModelName = getenv("DOCCAT_MODEL_NAME", cfg.ModelName)
	cfg.Corpus.Patterns = getenvList("DOCCAT_CORPUS", cfg.Corpus.Patterns)
	cfg.Corpus.Delimiter = unescape(getenv("DOCCAT_CORPUS_DELIMITER", cfg.Corpus.Delimiter))

	cfg.Training.Iterations = getenvInt("DOCCAT_ITERATIONS", cfg.Training.Iterations)
	cfg.Training.Cutoff = getenvInt("DOCCAT_CUTOFF", cfg.Training.Cutoff)
	cfg.Training.Sigma = getenvFloat("DOCCAT_SIGMA", cfg.Training.Sigma)
	cfg.Training.Tolerance = getenvFloat("DOCCAT_TOLERANCE", cfg.Training.Tolerance)
	cfg.Training.Workers = getenvInt("DOCCAT_WORKERS", cfg.Training.Workers)
	cfg.Training.Extractors = getenvList("DOCCAT_EXTRACTORS", cfg.Training.Extractors)

	cfg.Embedder.ModelPath = getenv("DOCCAT_EMBED_MODEL", cfg.Embedder.ModelPath)
	cfg.Embedder.VocabPath = getenv("DOCCAT_EMBED_VOCAB", cfg.Embedder.VocabPath)
	cfg.Embedder.LibraryPath = getenv("DOCCAT_ONNXRUNTIME_LIB", cfg.Embedder.LibraryPath)

	cfg.Store.Type = getenv("DOCCAT_STORE", cfg.Store.Type)
	cfg.Store.Path = getenv("DOCCAT_STORE_PATH", cfg.Store.Path)
	cfg.Store.Token = getenv("DOCCAT_STORE_TOKEN", cfg.Store.Token)
	cfg.Server.Token = getenv("DOCCAT_SERVER_TOKEN", cfg.Server.Token)

	cfg.Server.Addr = getenv("DOCCAT_ADDR", cfg.Server.Addr)

	cfg.Output.Format = getenv("DOCCAT_OUTPUT", cfg.Output.Format)
	cfg.Output.Path = getenv("DOCCAT_OUTPUT_PATH", cfg.Output.Path)
	cfg.Output.Pretty = getenvBool("DOCCAT_OUTPUT_PRETTY", cfg.Output.Pretty)
	cfg.Output.Verbosity = getenv("DOCCAT_VERBOSITY", cfg.Output.Verbosity)
	cfg.Output.WebhookURL = getenv("DOCCAT_WEBHOOK_URL", cfg.Output.WebhookURL)
	cfg.Output.WebhookSecret = getenv("DOCCAT_WEBHOOK_SECRET", cfg.Output.WebhookSecret)

	cfg.Log.Level = getenv("DOCCAT_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getenv("DOCCAT_LOG_FORMAT", cfg.Log.Format)

	cfg.ShutdownTimeout = getenvDuration("DOCCAT_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
}

// TrainConfig converts the training section for the trainer.
func (c Config) TrainConfig() maxent.TrainConfig {
	return maxent.TrainConfig{
		Iterations: c.Training.Iterations,
		Cutoff:     c.Training.Cutoff,
		Sigma:      c.Training.Sigma,
		Tolerance:  c.Training.Tolerance,
		Workers:    c.Training.Workers,
		Extractors: c.Training.Extractors,
		Tokenizer:  c.Tokenizer.Flags(),
	}
}

// StoreOptions converts the store section for store.Open.
func (c Config) StoreOptions() store.Config {
	return store.Config{Type: c.Store.Type, Path: c.Store.Path, Token: c.Store.Token}
}

// Validate checks the configuration for errors. Returns all problems found,
// joined.
func (c Config) Validate() error {
	var errs []error

	if err := store.ValidateName(c.ModelName); err != nil {
		errs = append(errs, fmt.Errorf("model name: %w", err))
	}
	if c.Training.Iterations <= 0 {
		errs = append(errs, fmt.Errorf("training iterations must be positive, got %d", c.Training.Iterations))
	}
	if c.Training.Cutoff < 0 {
		errs = append(errs, fmt.Errorf("training cutoff must be >= 0, got %d", c.Training.Cutoff))
	}
	if c.Training.Sigma < 0 {
		errs = append(errs, fmt.Errorf("training sigma must be >= 0, got %g", c.Training.Sigma))
	}
	for _, d := range c.Training.Extractors {
		if d == "embedding" {
			if !c.Embedder.Enabled() {
				errs = append(errs, errors.New("extractor \"embedding\" requires embedder.model_path (DOCCAT_EMBED_MODEL)"))
			}
			continue
		}
		if _, err := feature.Get(d); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Embedder.Enabled() {
		for _, p := range []struct{ name, path string }{
			{"embedder model", c.Embedder.ModelPath},
			{"embedder vocab", c.Embedder.VocabPath},
		} {
			if _, err := os.Stat(p.path); err != nil {
				errs = append(errs, fmt.Errorf("%s file: %w", p.name, err))
			}
		}
	}

	switch c.Store.Type {
	case "file", "sqlite", "remote":
	default:
		errs = append(errs, fmt.Errorf("store type must be file, sqlite or remote, got %q", c.Store.Type))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store path is required"))
	}

	switch c.Output.Format {
	case "stdout":
	case "file":
		if c.Output.Path == "" {
			errs = append(errs, errors.New("output path is required for file output (DOCCAT_OUTPUT_PATH)"))
		}
	default:
		errs = append(errs, fmt.Errorf("output format must be stdout or file, got %q", c.Output.Format))
	}
	switch c.Output.Verbosity {
	case "minimal", "standard", "full":
	default:
		errs = append(errs, fmt.Errorf("verbosity must be minimal, standard or full, got %q", c.Output.Verbosity))
	}
	if c.Output.MaxSize < 0 {
		errs = append(errs, fmt.Errorf("output max_size must be >= 0, got %d", c.Output.MaxSize))
	}
	if u := c.Output.WebhookURL; u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		errs = append(errs, fmt.Errorf("webhook url must be http or https, got %q", u))
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log format must be text or json, got %q", c.Log.Format))
	}
	if c.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("shutdown timeout must be >= 0, got %v", c.ShutdownTimeout))
	}

	return errors.Join(errs...)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// getenvList splits a comma-separated value, dropping empty items.
func getenvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// unescape turns the two-character sequences \t and \n into their control
// characters so delimiters can be written in env vars.
func unescape(s string) string {
	return strings.NewReplacer(`\t`, "\t", `\n`, "\n").Replace(s)
}

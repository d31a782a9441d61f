// Package config resolves piimask settings from defaults, an optional
// piimask.yaml file, a .env file and PIIMASK_* environment variables, in
// increasing order of precedence.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"piimask/internal/sanitizer"
)

// EnvPrefix namespaces environment overrides, e.g. PIIMASK_SERVER_ADDR for
// server.addr.
const EnvPrefix = "PIIMASK"

// Viper keys.
const (
	KeyServerAddr        = "server.addr"
	KeyLogLevel          = "log.level"
	KeyLogFormat         = "log.format"
	KeyPatternsEnabled   = "detectors.patterns.enabled"
	KeyPatternsFile      = "detectors.patterns.file"
	KeyNEREnabled        = "detectors.ner.enabled"
	KeyNERModelDir       = "detectors.ner.model_dir"
	KeyNERMaxBytes       = "detectors.ner.max_bytes"
	KeyNERTimeoutMS      = "detectors.ner.timeout_ms"
	KeyNERMinScore       = "detectors.ner.min_score"
	KeyNERBackend        = "detectors.ner.backend"
	KeyNERLibraryPath    = "detectors.ner.library_path"
	KeyPriorities        = "priorities"
	KeyAuditLogFile      = "audit.log_file"
	KeyTraceSampleRate   = "trace_sample_rate"
	defaultConfigName    = "piimask"
	defaultAuditLogFile  = "~/.piimask/audit.log"
	defaultServerAddr    = ":8000"
	defaultNERMaxBytes   = 32 * 1024
	defaultNERTimeoutMS  = 200
	defaultNERMinScore   = 0.5
	defaultTraceSampling = 0.1
)

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type PatternsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// File replaces the built-in pattern list when set.
	File string `mapstructure:"file"`
}

type NERConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ModelDir    string  `mapstructure:"model_dir"`
	MaxBytes    int     `mapstructure:"max_bytes"`
	TimeoutMS   int     `mapstructure:"timeout_ms"`
	MinScore    float64 `mapstructure:"min_score"`
	Backend     string  `mapstructure:"backend"`
	LibraryPath string  `mapstructure:"library_path"`
}

type DetectorsConfig struct {
	Patterns PatternsConfig `mapstructure:"patterns"`
	NER      NERConfig      `mapstructure:"ner"`
}

type AuditConfig struct {
	// LogFile is the JSONL audit destination. Empty disables auditing.
	LogFile string `mapstructure:"log_file"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Detectors DetectorsConfig `mapstructure:"detectors"`
	// Priorities overrides the built-in classification ranks. It is read
	// once at startup.
	Priorities      map[string]int `mapstructure:"priorities"`
	Audit           AuditConfig    `mapstructure:"audit"`
	TraceSampleRate float64        `mapstructure:"trace_sample_rate"`
}

// NewViper returns a viper instance with defaults and environment binding
// applied. No file is read.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyServerAddr, defaultServerAddr)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")
	v.SetDefault(KeyPatternsEnabled, true)
	v.SetDefault(KeyPatternsFile, "")
	v.SetDefault(KeyNEREnabled, true)
	v.SetDefault(KeyNERModelDir, "")
	v.SetDefault(KeyNERMaxBytes, defaultNERMaxBytes)
	v.SetDefault(KeyNERTimeoutMS, defaultNERTimeoutMS)
	v.SetDefault(KeyNERMinScore, defaultNERMinScore)
	v.SetDefault(KeyNERBackend, "")
	v.SetDefault(KeyNERLibraryPath, "")
	v.SetDefault(KeyPriorities, map[string]int{})
	v.SetDefault(KeyAuditLogFile, defaultAuditLogFile)
	v.SetDefault(KeyTraceSampleRate, defaultTraceSampling)
}

// ReadFile loads path into v. With an empty path it searches the working
// directory and ~/.piimask for piimask.yaml; a missing file is then not an
// error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "read config %s", path)
		}
		return nil
	}
	v.SetConfigName(defaultConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if dir, err := ConfigDir(); err == nil {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.Wrap(err, "read config")
	}
	return nil
}

// LoadDotEnv loads environment variables from the given files, or from
// ./.env when none are given. Variables already set are not overridden and
// missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return errors.Wrapf(err, "load %s", p)
		}
	}
	return nil
}

// Load resolves v into a validated Config.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	cfg.Audit.LogFile = expandHome(cfg.Audit.LogFile)
	cfg.Detectors.Patterns.File = expandHome(cfg.Detectors.Patterns.File)
	cfg.Detectors.NER.ModelDir = expandHome(cfg.Detectors.NER.ModelDir)
	if cfg.Priorities == nil {
		cfg.Priorities = map[string]int{}
	}
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr must not be empty")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return errors.Newf("log.format must be console or json, got %q", c.Log.Format)
	}
	ner := c.Detectors.NER
	if ner.MaxBytes < 0 {
		return errors.Newf("detectors.ner.max_bytes must not be negative, got %d", ner.MaxBytes)
	}
	if ner.TimeoutMS < 0 {
		return errors.Newf("detectors.ner.timeout_ms must not be negative, got %d", ner.TimeoutMS)
	}
	if ner.MinScore < 0 || ner.MinScore > 1 {
		return errors.Newf("detectors.ner.min_score must be within [0,1], got %v", ner.MinScore)
	}
	switch strings.ToLower(ner.Backend) {
	case "", "native", "python":
	default:
		return errors.Newf("detectors.ner.backend must be native or python, got %q", ner.Backend)
	}
	for label, rank := range c.Priorities {
		if strings.TrimSpace(label) == "" {
			return errors.New("priorities must not contain an empty classification")
		}
		// Unknown classifications rank at DefaultPriority and must stay last.
		if rank < 0 || rank >= sanitizer.DefaultPriority {
			return errors.Newf("priorities.%s must be within [0,%d), got %d", label, sanitizer.DefaultPriority, rank)
		}
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return errors.Newf("trace_sample_rate must be within [0,1], got %v", c.TraceSampleRate)
	}
	return nil
}

// ConfigDir is ~/.piimask, which also holds the default audit log and models.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".piimask"), nil
}

// EnsureParentDir creates the directory that will hold path.
func EnsureParentDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

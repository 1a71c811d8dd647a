// Package config handles loading and validation of logwatch configuration.
// It loads from an optional YAML file, .env files, environment variables,
// and CLI flags, in that order of increasing precedence.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Port         int           // LOGWATCH_PORT / --port
	Host         string        // LOGWATCH_HOST (bind address, default: 0.0.0.0)
	PollInterval time.Duration // LOGWATCH_POLL_INTERVAL (seconds → Duration) / --interval
	CacheTTL     time.Duration // LOGWATCH_CACHE_TTL (seconds → Duration)

	DBPath  string // LOGWATCH_DB_PATH / --db
	ResetDB bool   // --reset flag: delete and reinitialize the database

	ProjectsDir string // LOGWATCH_PROJECTS_DIR (default: ~/.claude/projects)
	FileAgeDays int    // LOGWATCH_FILE_AGE_DAYS / --days
	MaxEntries  int    // LOGWATCH_MAX_ENTRIES / --limit

	LogLevel  string // LOGWATCH_LOG_LEVEL
	DebugMode bool   // --debug flag (foreground mode, logs to stdout)
}

// fileConfig mirrors the YAML config file layout. All fields are optional;
// zero values mean "not set" and fall through to env/defaults.
type fileConfig struct {
	Port         int    `yaml:"port"`
	Host         string `yaml:"host"`
	PollInterval int    `yaml:"poll_interval"`
	CacheTTL     int    `yaml:"cache_ttl"`
	DBPath       string `yaml:"db_path"`
	ProjectsDir  string `yaml:"projects_dir"`
	FileAgeDays  int    `yaml:"file_age_days"`
	MaxEntries   int    `yaml:"max_entries"`
	LogLevel     string `yaml:"log_level"`
}

// flagValues holds parsed CLI flags.
type flagValues struct {
	interval int
	port     int
	db       string
	days     int
	limit    int
	debug    bool
	reset    bool
}

// Load reads configuration from the config file, .env, environment
// variables, and CLI flags. Flags take precedence over environment
// variables, which take precedence over the file.
func Load() (*Config, error) {
	return loadWithArgs(os.Args[1:])
}

// loadWithArgs loads config with specific arguments (for testing).
func loadWithArgs(args []string) (*Config, error) {
	flags := &flagValues{days: -1, limit: -1}

	// Parse CLI flags manually to avoid flag.ExitOnError in tests
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--debug":
			flags.debug = true
		case arg == "--reset":
			flags.reset = true
		case strings.HasPrefix(arg, "--interval="):
			if v, err := strconv.Atoi(strings.TrimPrefix(arg, "--interval=")); err == nil {
				flags.interval = v
			}
		case arg == "--interval":
			if i+1 < len(args) {
				if v, err := strconv.Atoi(args[i+1]); err == nil {
					flags.interval = v
					i++
				}
			}
		case strings.HasPrefix(arg, "--port="):
			if v, err := strconv.Atoi(strings.TrimPrefix(arg, "--port=")); err == nil {
				flags.port = v
			}
		case arg == "--port":
			if i+1 < len(args) {
				if v, err := strconv.Atoi(args[i+1]); err == nil {
					flags.port = v
					i++
				}
			}
		case strings.HasPrefix(arg, "--days="):
			if v, err := strconv.Atoi(strings.TrimPrefix(arg, "--days=")); err == nil {
				flags.days = v
			}
		case arg == "--days":
			if i+1 < len(args) {
				if v, err := strconv.Atoi(args[i+1]); err == nil {
					flags.days = v
					i++
				}
			}
		case strings.HasPrefix(arg, "--limit="):
			if v, err := strconv.Atoi(strings.TrimPrefix(arg, "--limit=")); err == nil {
				flags.limit = v
			}
		case arg == "--limit":
			if i+1 < len(args) {
				if v, err := strconv.Atoi(args[i+1]); err == nil {
					flags.limit = v
					i++
				}
			}
		case strings.HasPrefix(arg, "--db="):
			flags.db = strings.TrimPrefix(arg, "--db=")
		case arg == "--db":
			if i+1 < len(args) {
				flags.db = args[i+1]
				i++
			}
		}
	}

	return loadFromEnvAndFlags(flags)
}

// loadFromEnvAndFlags combines the config file and environment variables
// with CLI flags.
func loadFromEnvAndFlags(flags *flagValues) (*Config, error) {
	// Try to load .env file (ignore errors - file is optional)
	_ = godotenv.Load(".env")

	cfg := &Config{FileAgeDays: -1, MaxEntries: -1}

	// Lowest-precedence layer: YAML config file
	if file := loadConfigFile(); file != nil {
		cfg.Port = file.Port
		cfg.Host = file.Host
		if file.PollInterval > 0 {
			cfg.PollInterval = time.Duration(file.PollInterval) * time.Second
		}
		if file.CacheTTL > 0 {
			cfg.CacheTTL = time.Duration(file.CacheTTL) * time.Second
		}
		if file.DBPath != "" {
			cfg.DBPath = file.DBPath
		}
		cfg.ProjectsDir = file.ProjectsDir
		if file.FileAgeDays > 0 {
			cfg.FileAgeDays = file.FileAgeDays
		}
		if file.MaxEntries > 0 {
			cfg.MaxEntries = file.MaxEntries
		}
		cfg.LogLevel = file.LogLevel
	}

	// Environment layer
	if env := os.Getenv("LOGWATCH_PORT"); env != "" {
		if v, err := strconv.Atoi(env); err == nil {
			cfg.Port = v
		}
	}
	if env := os.Getenv("LOGWATCH_HOST"); env != "" {
		cfg.Host = env
	}
	if env := os.Getenv("LOGWATCH_POLL_INTERVAL"); env != "" {
		if v, err := strconv.Atoi(env); err == nil {
			cfg.PollInterval = time.Duration(v) * time.Second
		}
	}
	if env := os.Getenv("LOGWATCH_CACHE_TTL"); env != "" {
		if v, err := strconv.Atoi(env); err == nil {
			cfg.CacheTTL = time.Duration(v) * time.Second
		}
	}
	if env := os.Getenv("LOGWATCH_DB_PATH"); env != "" {
		cfg.DBPath = env
	}
	if env := os.Getenv("LOGWATCH_PROJECTS_DIR"); env != "" {
		cfg.ProjectsDir = env
	}
	if env := os.Getenv("LOGWATCH_FILE_AGE_DAYS"); env != "" {
		if v, err := strconv.Atoi(env); err == nil {
			cfg.FileAgeDays = v
		}
	}
	if env := os.Getenv("LOGWATCH_MAX_ENTRIES"); env != "" {
		if v, err := strconv.Atoi(env); err == nil {
			cfg.MaxEntries = v
		}
	}
	if env := os.Getenv("LOGWATCH_LOG_LEVEL"); env != "" {
		cfg.LogLevel = env
	}

	// Flag layer
	if flags.interval > 0 {
		cfg.PollInterval = time.Duration(flags.interval) * time.Second
	}
	if flags.port > 0 {
		cfg.Port = flags.port
	}
	if flags.db != "" {
		cfg.DBPath = flags.db
	}
	if flags.days >= 0 {
		cfg.FileAgeDays = flags.days
	}
	if flags.limit >= 0 {
		cfg.MaxEntries = flags.limit
	}
	cfg.DebugMode = flags.debug
	cfg.ResetDB = flags.reset

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadConfigFile reads ~/.logwatch/config.yaml if present. Returns nil when
// the file does not exist or cannot be parsed; the config file is optional.
func loadConfigFile() *fileConfig {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(home, ".logwatch", "config.yaml"))
	if err != nil {
		return nil
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil
	}
	return &fc
}

// applyDefaults sets default values for empty config fields.
func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 5001
	}
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.PollInterval == 0 {
		c.PollInterval = 60 * time.Second
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 60 * time.Second
	}
	if c.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			c.DBPath = "./logwatch.db"
		} else {
			c.DBPath = filepath.Join(home, ".logwatch", "data", "logwatch.db")
		}
	}
	if c.ProjectsDir == "" {
		home, err := os.UserHomeDir()
		if err == nil && home != "" {
			c.ProjectsDir = filepath.Join(home, ".claude", "projects")
		}
	}
	if c.FileAgeDays < 0 {
		c.FileAgeDays = 2
	}
	if c.MaxEntries < 0 {
		c.MaxEntries = 500
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	minInterval := 10 * time.Second
	maxInterval := 3600 * time.Second
	if c.PollInterval < minInterval {
		return fmt.Errorf("poll interval must be at least %v", minInterval)
	}
	if c.PollInterval > maxInterval {
		return fmt.Errorf("poll interval must be at most %v", maxInterval)
	}

	if c.Port < 1024 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1024 and 65535")
	}

	if c.MaxEntries == 0 {
		return fmt.Errorf("entry limit must be positive")
	}

	return nil
}

// String returns a string representation of the config.
func (c *Config) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Config{\n")
	fmt.Fprintf(&sb, "  Port: %d,\n", c.Port)
	fmt.Fprintf(&sb, "  Host: %s,\n", c.Host)
	fmt.Fprintf(&sb, "  PollInterval: %v,\n", c.PollInterval)
	fmt.Fprintf(&sb, "  CacheTTL: %v,\n", c.CacheTTL)
	fmt.Fprintf(&sb, "  DBPath: %s,\n", c.DBPath)
	fmt.Fprintf(&sb, "  ProjectsDir: %s,\n", c.ProjectsDir)
	fmt.Fprintf(&sb, "  FileAgeDays: %d,\n", c.FileAgeDays)
	fmt.Fprintf(&sb, "  MaxEntries: %d,\n", c.MaxEntries)
	fmt.Fprintf(&sb, "  LogLevel: %s,\n", c.LogLevel)
	fmt.Fprintf(&sb, "  DebugMode: %v,\n", c.DebugMode)
	fmt.Fprintf(&sb, "}")
	return sb.String()
}

// LogWriter returns the appropriate log destination based on debug mode.
// In debug mode it returns os.Stdout; in background mode it returns a file
// handle next to the database.
func (c *Config) LogWriter() (io.Writer, error) {
	if c.DebugMode {
		return os.Stdout, nil
	}

	logPath := filepath.Join(filepath.Dir(c.DBPath), ".logwatch.log")

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return file, nil
}

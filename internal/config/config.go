// Package config provides configuration management for vidcut.
// Values are layered: defaults, then an optional TOML file, then a .env
// file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	// Default values
	DefaultPort              = 8788
	DefaultLogLevel          = "info"
	DefaultDataDir           = ".vidcut"
	DefaultFFmpeg            = "ffmpeg"
	DefaultFFprobe           = "ffprobe"
	DefaultBackend           = "ffmpeg"
	DefaultTrimWorkers       = 2
	MaxTrimWorkers           = 16
	DefaultThumbnailOffsetMs = 1000

	// Environment variable names
	EnvConfigFile      = "VIDCUT_CONFIG"
	EnvPort            = "VIDCUT_PORT"
	EnvLogLevel        = "VIDCUT_LOG_LEVEL"
	EnvDataDir         = "VIDCUT_DATA_DIR"
	EnvFFmpeg          = "VIDCUT_FFMPEG"
	EnvFFprobe         = "VIDCUT_FFPROBE"
	EnvBackend         = "VIDCUT_BACKEND"
	EnvTrimWorkers     = "VIDCUT_TRIM_WORKERS"
	EnvHeadless        = "VIDCUT_HEADLESS"
	EnvStrictCleanup   = "VIDCUT_STRICT_CLEANUP"
	EnvThumbnailOffset = "VIDCUT_THUMBNAIL_OFFSET_MS"
	EnvExportTimeout   = "VIDCUT_EXPORT_TIMEOUT"

	// File names inside the data directory
	DBFilename     = "vidcut.db"
	ConfigFilename = "config.toml"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	FFmpegPath() string
	FFprobePath() string
	Backend() string
	TrimWorkers() int
	Headless() bool
	StrictCleanup() bool
	ThumbnailOffsetMs() int64
	ExportTimeout() time.Duration
}

// FileConfig is the TOML representation. Zero values mean "not set".
type FileConfig struct {
	Port              int    `toml:"port,omitempty"`
	LogLevel          string `toml:"log_level,omitempty"`
	FFmpeg            string `toml:"ffmpeg,omitempty"`
	FFprobe           string `toml:"ffprobe,omitempty"`
	Backend           string `toml:"backend,omitempty"` // "ffmpeg" or "stub"
	TrimWorkers       int    `toml:"trim_workers,omitempty"`
	Headless          bool   `toml:"headless,omitempty"`
	StrictCleanup     bool   `toml:"strict_cleanup,omitempty"`
	ThumbnailOffsetMs *int64 `toml:"thumbnail_offset_ms,omitempty"`
	ExportTimeoutSecs int    `toml:"export_timeout_secs,omitempty"`
}

// EnvConfig is the resolved configuration.
type EnvConfig struct {
	port            int
	logLevel        string
	dataDir         string
	configFile      string
	ffmpeg          string
	ffprobe         string
	backend         string
	trimWorkers     int
	headless        bool
	strictCleanup   bool
	thumbnailOffset int64
	exportTimeout   time.Duration
}

// New creates a new EnvConfig with defaults, the config file and
// environment variable overrides. A .env file in the working directory
// is loaded first; it never overrides variables that are already set.
func New() (*EnvConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &EnvConfig{
		port:            DefaultPort,
		logLevel:        DefaultLogLevel,
		dataDir:         defaultDataDir(),
		ffmpeg:          DefaultFFmpeg,
		ffprobe:         DefaultFFprobe,
		backend:         DefaultBackend,
		trimWorkers:     DefaultTrimWorkers,
		thumbnailOffset: DefaultThumbnailOffsetMs,
	}

	// Data directory decides where the default config file lives.
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	cfg.configFile = filepath.Join(cfg.dataDir, ConfigFilename)
	explicit := false
	if cf := os.Getenv(EnvConfigFile); cf != "" {
		cfg.configFile = cf
		explicit = true
	}

	fc, err := ReadFile(cfg.configFile)
	switch {
	case err == nil:
		if err := cfg.applyFile(fc); err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.configFile, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EnvConfig) applyFile(fc *FileConfig) error {
	if fc.Port != 0 {
		if err := validatePort(fc.Port); err != nil {
			return err
		}
		c.port = fc.Port
	}
	if fc.LogLevel != "" {
		c.logLevel = fc.LogLevel
	}
	if fc.FFmpeg != "" {
		c.ffmpeg = fc.FFmpeg
	}
	if fc.FFprobe != "" {
		c.ffprobe = fc.FFprobe
	}
	if fc.Backend != "" {
		c.backend = fc.Backend
	}
	if fc.TrimWorkers != 0 {
		c.trimWorkers = clampWorkers(fc.TrimWorkers)
	}
	c.headless = c.headless || fc.Headless
	c.strictCleanup = c.strictCleanup || fc.StrictCleanup
	if fc.ThumbnailOffsetMs != nil {
		if *fc.ThumbnailOffsetMs < 0 {
			return fmt.Errorf("thumbnail_offset_ms must not be negative")
		}
		c.thumbnailOffset = *fc.ThumbnailOffsetMs
	}
	if fc.ExportTimeoutSecs < 0 {
		return fmt.Errorf("export_timeout_secs must not be negative")
	}
	if fc.ExportTimeoutSecs > 0 {
		c.exportTimeout = time.Duration(fc.ExportTimeoutSecs) * time.Second
	}
	return nil
}

func (c *EnvConfig) applyEnv() error {
	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if err := validatePort(port); err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		c.logLevel = ll
	}
	if v := os.Getenv(EnvFFmpeg); v != "" {
		c.ffmpeg = v
	}
	if v := os.Getenv(EnvFFprobe); v != "" {
		c.ffprobe = v
	}
	if v := os.Getenv(EnvBackend); v != "" {
		c.backend = strings.ToLower(v)
	}

	if v := os.Getenv(EnvTrimWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvTrimWorkers, err)
		}
		c.trimWorkers = clampWorkers(n)
	}

	for name, dst := range map[string]*bool{
		EnvHeadless:      &c.headless,
		EnvStrictCleanup: &c.strictCleanup,
	} {
		if v := os.Getenv(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", name, err)
			}
			*dst = b
		}
	}

	if v := os.Getenv(EnvThumbnailOffset); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvThumbnailOffset, err)
		}
		if n < 0 {
			return fmt.Errorf("invalid %s: must not be negative", EnvThumbnailOffset)
		}
		c.thumbnailOffset = n
	}

	if v := os.Getenv(EnvExportTimeout); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvExportTimeout, err)
		}
		if secs < 0 {
			return fmt.Errorf("invalid %s: must not be negative", EnvExportTimeout)
		}
		c.exportTimeout = time.Duration(secs) * time.Second
	}

	switch c.backend {
	case "ffmpeg", "stub":
	default:
		return fmt.Errorf("invalid backend %q: want ffmpeg or stub", c.backend)
	}
	return nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// ConfigFile returns the TOML file that was consulted.
func (c *EnvConfig) ConfigFile() string {
	return c.configFile
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpeg
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobe
}

func (c *EnvConfig) Backend() string {
	return c.backend
}

// TrimWorkers is the number of trims an export runs in parallel.
func (c *EnvConfig) TrimWorkers() int {
	return c.trimWorkers
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

func (c *EnvConfig) StrictCleanup() bool {
	return c.strictCleanup
}

// ThumbnailOffsetMs is how far after a region start the preview frame is taken.
func (c *EnvConfig) ThumbnailOffsetMs() int64 {
	return c.thumbnailOffset
}

// ExportTimeout bounds one export. Zero means no limit.
func (c *EnvConfig) ExportTimeout() time.Duration {
	return c.exportTimeout
}

// ReadFile decodes a FileConfig from path.
func ReadFile(path string) (*FileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	var fc FileConfig
	if _, err := toml.NewDecoder(f).Decode(&fc); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return &fc, nil
}

// WriteDefaults encodes the default settings as TOML.
func WriteDefaults(w io.Writer) error {
	offset := int64(DefaultThumbnailOffsetMs)
	fc := FileConfig{
		Port:              DefaultPort,
		LogLevel:          DefaultLogLevel,
		FFmpeg:            DefaultFFmpeg,
		FFprobe:           DefaultFFprobe,
		Backend:           DefaultBackend,
		TrimWorkers:       DefaultTrimWorkers,
		ThumbnailOffsetMs: &offset,
	}
	if err := toml.NewEncoder(w).Encode(fc); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Init writes the default config file at path. It refuses to overwrite.
func Init(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if err := WriteDefaults(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

func clampWorkers(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxTrimWorkers {
		return MaxTrimWorkers
	}
	return n
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

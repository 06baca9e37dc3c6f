// Package config provides configuration management for the RoadSight server.
// Values come from built-in defaults, an optional YAML file, and environment
// variable overrides, in that order. A .env file in the working directory is
// honored if present.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort          = 8080
	DefaultLogLevel      = "info"
	DefaultDataDir       = ".roadsight"
	DefaultWorkers       = 2
	DefaultFrameStride   = 10
	DefaultConfThreshold = 0.4
	DefaultDedupRadiusM  = 15.0
	DefaultShutdownGrace = 10 * time.Second

	EnvPort          = "ROADSIGHT_PORT"
	EnvLogLevel      = "ROADSIGHT_LOG_LEVEL"
	EnvDataDir       = "ROADSIGHT_DATA_DIR"
	EnvConfigFile    = "ROADSIGHT_CONFIG"
	EnvWorkers       = "ROADSIGHT_WORKERS"
	EnvFrameStride   = "ROADSIGHT_FRAME_STRIDE"
	EnvConfThreshold = "ROADSIGHT_CONFIDENCE_THRESHOLD"
	EnvDedupRadiusM  = "ROADSIGHT_DEDUP_RADIUS_M"
	EnvModelPath     = "ROADSIGHT_MODEL_PATH"
	EnvModelConfig   = "ROADSIGHT_MODEL_CONFIG"
	EnvModelClasses  = "ROADSIGHT_MODEL_CLASSES"

	DBFilename = "roadsight.db"
)

// Config holds the resolved server configuration.
type Config struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	DataDir  string `yaml:"data_dir"`

	// Workers bounds how many submissions are processed concurrently.
	Workers int `yaml:"workers"`

	// FrameStride samples every Nth frame of a submitted video.
	FrameStride int `yaml:"frame_stride"`

	// ConfThreshold filters detections before they leave the adapter.
	ConfThreshold float64 `yaml:"confidence_threshold"`

	// DedupRadiusM is the great-circle radius in meters within which two
	// observations are considered the same physical defect.
	DedupRadiusM float64 `yaml:"dedup_radius_m"`

	ModelPath    string `yaml:"model_path"`
	ModelConfig  string `yaml:"model_config"`
	ModelClasses string `yaml:"model_classes"`
}

// Load builds the configuration from defaults, the optional YAML file and
// environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:          DefaultPort,
		LogLevel:      DefaultLogLevel,
		DataDir:       defaultDataDir(),
		Workers:       DefaultWorkers,
		FrameStride:   DefaultFrameStride,
		ConfThreshold: DefaultConfThreshold,
		DedupRadiusM:  DefaultDedupRadiusM,
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.Port = port
	}
	if ll := os.Getenv(EnvLogLevel); ll != "" {
		c.LogLevel = ll
	}
	if dd := os.Getenv(EnvDataDir); dd != "" {
		c.DataDir = dd
	}
	if w := os.Getenv(EnvWorkers); w != "" {
		workers, err := strconv.Atoi(w)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvWorkers, err)
		}
		c.Workers = workers
	}
	if fs := os.Getenv(EnvFrameStride); fs != "" {
		stride, err := strconv.Atoi(fs)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvFrameStride, err)
		}
		c.FrameStride = stride
	}
	if ct := os.Getenv(EnvConfThreshold); ct != "" {
		threshold, err := strconv.ParseFloat(ct, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvConfThreshold, err)
		}
		c.ConfThreshold = threshold
	}
	if dr := os.Getenv(EnvDedupRadiusM); dr != "" {
		radius, err := strconv.ParseFloat(dr, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvDedupRadiusM, err)
		}
		c.DedupRadiusM = radius
	}
	if mp := os.Getenv(EnvModelPath); mp != "" {
		c.ModelPath = mp
	}
	if mc := os.Getenv(EnvModelConfig); mc != "" {
		c.ModelConfig = mc
	}
	if cl := os.Getenv(EnvModelClasses); cl != "" {
		c.ModelClasses = cl
	}
	return nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.FrameStride < 1 {
		return fmt.Errorf("frame_stride must be at least 1, got %d", c.FrameStride)
	}
	if c.ConfThreshold < 0 || c.ConfThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0,1], got %g", c.ConfThreshold)
	}
	if c.DedupRadiusM <= 0 {
		return fmt.Errorf("dedup_radius_m must be positive, got %g", c.DedupRadiusM)
	}
	return nil
}

// DBPath returns the full path to the SQLite database file.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, DBFilename)
}

// VideosDir returns the directory where uploaded videos are staged.
func (c *Config) VideosDir() string {
	return filepath.Join(c.DataDir, "videos")
}

// ImagesDir returns the directory where evidence images are stored.
func (c *Config) ImagesDir() string {
	return filepath.Join(c.DataDir, "images")
}

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

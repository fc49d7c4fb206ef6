// Package config loads YAML settings of the watermark remover.
//
// Every field has a default, so a config file only lists what it changes.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/LdDl/unmark/engine"
	"github.com/LdDl/unmark/media"
	"github.com/LdDl/unmark/track"
	"github.com/LdDl/unmark/trajectory"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// DetectorConfig points to the detection service
type DetectorConfig struct {
	Socket  string        `yaml:"socket"`
	Timeout time.Duration `yaml:"timeout"`
}

// SegmenterConfig tunes change-point detection on the watermark trajectory
type SegmenterConfig struct {
	// Penalty per change point, zero selects it from the data
	Penalty float64 `yaml:"penalty"`
	MinSize int     `yaml:"min_size"`
}

// MaskConfig overrides the engine's mask dilation when set
type MaskConfig struct {
	Dilate *int `yaml:"dilate"`
}

// PlannerConfig overrides segment planning of temporal engines when set
type PlannerConfig struct {
	OverlapRatio *float64 `yaml:"overlap_ratio"`
	ChunkRatio   *float64 `yaml:"chunk_ratio"`
	// MaxCoreFrames caps segment cores regardless of the clip length, zero disables
	MaxCoreFrames int `yaml:"max_core_frames"`
}

// ProgressConfig sets how often cancellation is checked
type ProgressConfig struct {
	Every int `yaml:"every"`
}

// FFmpegConfig locates the tools and tunes encoding
type FFmpegConfig struct {
	Dir                 string `yaml:"dir"`
	media.EncodeOptions `yaml:",inline"`
}

// LogConfig sets up logrus
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the root of the settings file
type Config struct {
	Engine      engine.Config   `yaml:"engine"`
	Detector    DetectorConfig  `yaml:"detector"`
	Association track.Options   `yaml:"association"`
	Segmenter   SegmenterConfig `yaml:"segmenter"`
	Mask        MaskConfig      `yaml:"mask"`
	Planner     PlannerConfig   `yaml:"planner"`
	Progress    ProgressConfig  `yaml:"progress"`
	FFmpeg      FFmpegConfig    `yaml:"ffmpeg"`
	Log         LogConfig       `yaml:"log"`
}

// Default returns settings used when no file is given
func Default() *Config {
	return &Config{
		Engine: engine.Config{
			Type:    engine.LaMa,
			Socket:  "/tmp/unmark-engine.sock",
			Timeout: engine.DefaultTimeout,
		},
		Detector: DetectorConfig{
			Socket:  "/tmp/unmark-detector.sock",
			Timeout: 10 * time.Second,
		},
		Association: track.DefaultOptions(),
		Segmenter: SegmenterConfig{
			MinSize: trajectory.DefaultMinSize,
		},
		Progress: ProgressConfig{
			Every: 10,
		},
		FFmpeg: FFmpegConfig{
			Dir:           media.DefaultDir,
			EncodeOptions: media.DefaultEncodeOptions(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file on top of Default and validates the result.
// The file must have .yaml or .yml extension and be under 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := strings.ToLower(filepath.Ext(cleanPath)); ext != ".yaml" && ext != ".yml" {
		return nil, errors.Errorf("config file must have .yaml or .yml extension, got %q", ext)
	}
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, errors.Wrap(err, "Can't stat config file")
	}
	if fileInfo.Size() > maxFileSize {
		return nil, errors.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, errors.Wrap(err, "Can't read config file")
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "Can't parse config YAML")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// Validate checks ranges of every section
func (c *Config) Validate() error {
	if _, err := engine.ProfileFor(c.Engine.Type); err != nil {
		return err
	}
	if c.Engine.Socket == "" {
		return errors.New("engine.socket is required")
	}
	a := c.Association
	if a.MaxDisappeared < 1 {
		return errors.Errorf("association.max_disappeared must be positive, got %d", a.MaxDisappeared)
	}
	if a.MinHits < 1 {
		return errors.Errorf("association.min_hits must be positive, got %d", a.MinHits)
	}
	if a.MinIoU < 0 || a.MinIoU > 1 {
		return errors.Errorf("association.min_iou must be in [0, 1], got %f", a.MinIoU)
	}
	if a.LowThresh < 0 || a.LowThresh > a.HighThresh || a.HighThresh > 1 {
		return errors.Errorf("association thresholds must satisfy 0 <= low <= high <= 1, got %f and %f", a.LowThresh, a.HighThresh)
	}
	if a.Algorithm != track.MatchingAlgorithmHungarian && a.Algorithm != track.MatchingAlgorithmGreedy {
		return errors.Errorf("association.algorithm %d is unknown", a.Algorithm)
	}
	if c.Segmenter.Penalty < 0 {
		return errors.Errorf("segmenter.penalty can't be negative, got %f", c.Segmenter.Penalty)
	}
	if c.Segmenter.MinSize < 1 {
		return errors.Errorf("segmenter.min_size must be positive, got %d", c.Segmenter.MinSize)
	}
	if c.Mask.Dilate != nil && *c.Mask.Dilate < 0 {
		return errors.Errorf("mask.dilate can't be negative, got %d", *c.Mask.Dilate)
	}
	if r := c.Planner.OverlapRatio; r != nil && (*r < 0 || *r > 0.5) {
		return errors.Errorf("planner.overlap_ratio must be in [0, 0.5], got %f", *r)
	}
	if r := c.Planner.ChunkRatio; r != nil && (*r < 0 || *r > 1) {
		return errors.Errorf("planner.chunk_ratio must be in [0, 1], got %f", *r)
	}
	if c.Planner.MaxCoreFrames < 0 {
		return errors.Errorf("planner.max_core_frames can't be negative, got %d", c.Planner.MaxCoreFrames)
	}
	if c.Progress.Every < 1 {
		return errors.Errorf("progress.every must be positive, got %d", c.Progress.Every)
	}
	if c.FFmpeg.CRF < 0 || c.FFmpeg.CRF > 51 {
		return errors.Errorf("ffmpeg.crf must be in [0, 51], got %d", c.FFmpeg.CRF)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.Errorf("log.format must be 'text' or 'json', got %q", c.Log.Format)
	}
	return nil
}

// Profile returns the engine profile with planner and mask overrides applied
func (c *Config) Profile() (engine.Profile, error) {
	p, err := engine.ProfileFor(c.Engine.Type)
	if err != nil {
		return engine.Profile{}, err
	}
	if c.Mask.Dilate != nil {
		p.Dilate = *c.Mask.Dilate
	}
	if c.Planner.OverlapRatio != nil {
		p.OverlapRatio = *c.Planner.OverlapRatio
	}
	if c.Planner.ChunkRatio != nil {
		p.ChunkRatio = *c.Planner.ChunkRatio
	}
	return p, nil
}

// ConfigureLogger applies level and format to logger
func (c *Config) ConfigureLogger(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return errors.Wrap(err, "log.level")
	}
	logger.SetLevel(level)
	if c.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// Package config loads MotionLab settings from JSON or YAML files. Every
// setting has a default, so an empty file is a valid configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/motionlab/internal/autotrack"
	"github.com/banshee-data/motionlab/internal/samples"
	"github.com/banshee-data/motionlab/internal/timeline"
)

// DefaultConfigPath is the canonical defaults file, relative to the
// repository root.
const DefaultConfigPath = "config/motionlab.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Environment variables read by ApplyEnv.
const (
	EnvFFmpeg  = "MOTIONLAB_FFMPEG"
	EnvFFprobe = "MOTIONLAB_FFPROBE"
)

// Config holds every tunable of the application. Unset fields fall back to
// the defaults returned by the Get* accessors, so partial files are safe.
type Config struct {
	// Timeline
	SeekScanLimit      *int     `json:"seek_scan_limit,omitempty" yaml:"seek_scan_limit,omitempty"`
	SeekOverrunSec     *float64 `json:"seek_overrun_sec,omitempty" yaml:"seek_overrun_sec,omitempty"`
	RewindThresholdSec *float64 `json:"rewind_threshold_sec,omitempty" yaml:"rewind_threshold_sec,omitempty"`

	// Sample store
	SampleCapacity     *int     `json:"sample_capacity,omitempty" yaml:"sample_capacity,omitempty"`
	SampleToleranceSec *float64 `json:"sample_tolerance_sec,omitempty" yaml:"sample_tolerance_sec,omitempty"`

	// Auto-tracking
	EdgeMarginPx       *float64 `json:"edge_margin_px,omitempty" yaml:"edge_margin_px,omitempty"`
	MaxJumpRatio       *float64 `json:"max_jump_ratio,omitempty" yaml:"max_jump_ratio,omitempty"`
	MaxJumpFloorPx     *float64 `json:"max_jump_floor_px,omitempty" yaml:"max_jump_floor_px,omitempty"`
	MaxRecoveries      *int     `json:"max_recoveries,omitempty" yaml:"max_recoveries,omitempty"`
	SelectionPaddingPx *float64 `json:"selection_padding_px,omitempty" yaml:"selection_padding_px,omitempty"`
	MinSelectionPx     *float64 `json:"min_selection_px,omitempty" yaml:"min_selection_px,omitempty"`
	MinRegionPx        *float64 `json:"min_region_px,omitempty" yaml:"min_region_px,omitempty"`
	ExpandedRegionPx   *float64 `json:"expanded_region_px,omitempty" yaml:"expanded_region_px,omitempty"`
	RegionShiftPx      *float64 `json:"region_shift_px,omitempty" yaml:"region_shift_px,omitempty"`
	EndEpsilonSec      *float64 `json:"end_epsilon_sec,omitempty" yaml:"end_epsilon_sec,omitempty"`
	ProcessingWidth    *int     `json:"processing_width,omitempty" yaml:"processing_width,omitempty"`

	// Media tools
	FFmpegPath  *string `json:"ffmpeg_path,omitempty" yaml:"ffmpeg_path,omitempty"`
	FFprobePath *string `json:"ffprobe_path,omitempty" yaml:"ffprobe_path,omitempty"`

	// Host loop and export
	TickInterval    *string `json:"tick_interval,omitempty" yaml:"tick_interval,omitempty"` // duration string like "16ms"
	MaxStalledSteps *int    `json:"max_stalled_steps,omitempty" yaml:"max_stalled_steps,omitempty"`
	ExportLocale    *string `json:"export_locale,omitempty" yaml:"export_locale,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// Empty returns a Config with every field unset.
func Empty() *Config { return &Config{} }

// Defaults returns a Config with every field set to its default.
func Defaults() *Config {
	e := Empty()
	return &Config{
		SeekScanLimit:      ptrInt(e.GetSeekScanLimit()),
		SeekOverrunSec:     ptrFloat64(e.GetSeekOverrunSec()),
		RewindThresholdSec: ptrFloat64(e.GetRewindThresholdSec()),
		SampleCapacity:     ptrInt(e.GetSampleCapacity()),
		SampleToleranceSec: ptrFloat64(e.GetSampleToleranceSec()),
		EdgeMarginPx:       ptrFloat64(e.GetEdgeMarginPx()),
		MaxJumpRatio:       ptrFloat64(e.GetMaxJumpRatio()),
		MaxJumpFloorPx:     ptrFloat64(e.GetMaxJumpFloorPx()),
		MaxRecoveries:      ptrInt(e.GetMaxRecoveries()),
		SelectionPaddingPx: ptrFloat64(e.GetSelectionPaddingPx()),
		MinSelectionPx:     ptrFloat64(e.GetMinSelectionPx()),
		MinRegionPx:        ptrFloat64(e.GetMinRegionPx()),
		ExpandedRegionPx:   ptrFloat64(e.GetExpandedRegionPx()),
		RegionShiftPx:      ptrFloat64(e.GetRegionShiftPx()),
		EndEpsilonSec:      ptrFloat64(e.GetEndEpsilonSec()),
		ProcessingWidth:    ptrInt(e.GetProcessingWidth()),
		FFmpegPath:         ptrString(e.GetFFmpegPath()),
		FFprobePath:        ptrString(e.GetFFprobePath()),
		TickInterval:       ptrString("16ms"),
		MaxStalledSteps:    ptrInt(e.GetMaxStalledSteps()),
		ExportLocale:       ptrString(e.GetExportLocale()),
	}
}

// Load reads a Config from a .json, .yaml or .yml file and validates it.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", cleanPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the working directory
// or one of its parents. Panics if the file cannot be loaded; intended for
// test setup.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// ApplyEnv overrides the media tool paths from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvFFmpeg); v != "" {
		c.FFmpegPath = ptrString(v)
	}
	if v := os.Getenv(EnvFFprobe); v != "" {
		c.FFprobePath = ptrString(v)
	}
}

// Validate checks the values that are set.
func (c *Config) Validate() error {
	if c.SeekScanLimit != nil && *c.SeekScanLimit <= 0 {
		return fmt.Errorf("seek_scan_limit must be positive, got %d", *c.SeekScanLimit)
	}
	if c.SeekOverrunSec != nil && *c.SeekOverrunSec <= 0 {
		return fmt.Errorf("seek_overrun_sec must be positive, got %f", *c.SeekOverrunSec)
	}
	if c.RewindThresholdSec != nil && *c.RewindThresholdSec < 0 {
		return fmt.Errorf("rewind_threshold_sec must be non-negative, got %f", *c.RewindThresholdSec)
	}
	if c.SampleCapacity != nil && *c.SampleCapacity <= 0 {
		return fmt.Errorf("sample_capacity must be positive, got %d", *c.SampleCapacity)
	}
	if c.SampleToleranceSec != nil && *c.SampleToleranceSec <= 0 {
		return fmt.Errorf("sample_tolerance_sec must be positive, got %f", *c.SampleToleranceSec)
	}
	if c.MaxJumpRatio != nil && (*c.MaxJumpRatio <= 0 || *c.MaxJumpRatio > 1) {
		return fmt.Errorf("max_jump_ratio must be in (0, 1], got %f", *c.MaxJumpRatio)
	}
	if c.MaxRecoveries != nil && *c.MaxRecoveries < 0 {
		return fmt.Errorf("max_recoveries must be non-negative, got %d", *c.MaxRecoveries)
	}
	for name, v := range map[string]*float64{
		"edge_margin_px":       c.EdgeMarginPx,
		"max_jump_floor_px":    c.MaxJumpFloorPx,
		"selection_padding_px": c.SelectionPaddingPx,
		"min_selection_px":     c.MinSelectionPx,
		"min_region_px":        c.MinRegionPx,
		"expanded_region_px":   c.ExpandedRegionPx,
		"region_shift_px":      c.RegionShiftPx,
		"end_epsilon_sec":      c.EndEpsilonSec,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", name, *v)
		}
	}
	if c.ProcessingWidth != nil && *c.ProcessingWidth < 0 {
		return fmt.Errorf("processing_width must be non-negative, got %d", *c.ProcessingWidth)
	}
	if c.TickInterval != nil && *c.TickInterval != "" {
		d, err := time.ParseDuration(*c.TickInterval)
		if err != nil {
			return fmt.Errorf("invalid tick_interval '%s': %w", *c.TickInterval, err)
		}
		if d < 0 {
			return fmt.Errorf("tick_interval must be non-negative, got %s", d)
		}
	}
	if c.MaxStalledSteps != nil && *c.MaxStalledSteps <= 0 {
		return fmt.Errorf("max_stalled_steps must be positive, got %d", *c.MaxStalledSteps)
	}
	if c.ExportLocale != nil {
		switch *c.ExportLocale {
		case "", "en", "fr":
		default:
			return fmt.Errorf("export_locale must be \"en\" or \"fr\", got %q", *c.ExportLocale)
		}
	}
	return nil
}

// GetSeekScanLimit returns the seek_scan_limit value or the default.
func (c *Config) GetSeekScanLimit() int {
	if c.SeekScanLimit == nil {
		return 1000
	}
	return *c.SeekScanLimit
}

// GetSeekOverrunSec returns the seek_overrun_sec value or the default.
func (c *Config) GetSeekOverrunSec() float64 {
	if c.SeekOverrunSec == nil {
		return 0.5
	}
	return *c.SeekOverrunSec
}

// GetRewindThresholdSec returns the rewind_threshold_sec value or the default.
func (c *Config) GetRewindThresholdSec() float64 {
	if c.RewindThresholdSec == nil {
		return 0.05
	}
	return *c.RewindThresholdSec
}

// GetSampleCapacity returns the sample_capacity value or the default.
func (c *Config) GetSampleCapacity() int {
	if c.SampleCapacity == nil {
		return samples.DefaultCapacity
	}
	return *c.SampleCapacity
}

// GetSampleToleranceSec returns the sample_tolerance_sec value or the default.
func (c *Config) GetSampleToleranceSec() float64 {
	if c.SampleToleranceSec == nil {
		return samples.DefaultTolerance
	}
	return *c.SampleToleranceSec
}

func (c *Config) GetEdgeMarginPx() float64       { return floatOr(c.EdgeMarginPx, 10) }
func (c *Config) GetMaxJumpRatio() float64       { return floatOr(c.MaxJumpRatio, 0.15) }
func (c *Config) GetMaxJumpFloorPx() float64     { return floatOr(c.MaxJumpFloorPx, 150) }
func (c *Config) GetSelectionPaddingPx() float64 { return floatOr(c.SelectionPaddingPx, 4) }
func (c *Config) GetMinSelectionPx() float64     { return floatOr(c.MinSelectionPx, 5) }
func (c *Config) GetMinRegionPx() float64        { return floatOr(c.MinRegionPx, 10) }
func (c *Config) GetExpandedRegionPx() float64   { return floatOr(c.ExpandedRegionPx, 20) }
func (c *Config) GetRegionShiftPx() float64      { return floatOr(c.RegionShiftPx, 5) }
func (c *Config) GetEndEpsilonSec() float64      { return floatOr(c.EndEpsilonSec, 0.001) }

// GetMaxRecoveries returns the max_recoveries value or the default.
func (c *Config) GetMaxRecoveries() int {
	if c.MaxRecoveries == nil {
		return 3
	}
	return *c.MaxRecoveries
}

// GetProcessingWidth returns the processing_width value or the default.
func (c *Config) GetProcessingWidth() int {
	if c.ProcessingWidth == nil {
		return 800
	}
	return *c.ProcessingWidth
}

// GetFFmpegPath returns the ffmpeg executable.
func (c *Config) GetFFmpegPath() string {
	if c.FFmpegPath == nil || *c.FFmpegPath == "" {
		return "ffmpeg"
	}
	return *c.FFmpegPath
}

// GetFFprobePath returns the ffprobe executable.
func (c *Config) GetFFprobePath() string {
	if c.FFprobePath == nil || *c.FFprobePath == "" {
		return "ffprobe"
	}
	return *c.FFprobePath
}

// GetTickInterval parses and returns the TickInterval as a time.Duration.
// Zero means the host loop steps back to back.
func (c *Config) GetTickInterval() time.Duration {
	if c.TickInterval == nil || *c.TickInterval == "" {
		return 16 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.TickInterval)
	if err != nil || d < 0 {
		return 16 * time.Millisecond
	}
	return d
}

// GetMaxStalledSteps returns how many consecutive host loop steps may pass
// without the playhead moving or a sample being added before unattended
// tracking gives up.
func (c *Config) GetMaxStalledSteps() int {
	if c.MaxStalledSteps == nil {
		return 50
	}
	return *c.MaxStalledSteps
}

// GetExportLocale returns the export_locale value or the default.
func (c *Config) GetExportLocale() string {
	if c.ExportLocale == nil || *c.ExportLocale == "" {
		return "en"
	}
	return *c.ExportLocale
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// ClockOptions returns the timeline settings.
func (c *Config) ClockOptions() timeline.Options {
	return timeline.Options{
		ScanLimit:       c.GetSeekScanLimit(),
		SeekOverrun:     c.GetSeekOverrunSec(),
		RewindThreshold: c.GetRewindThresholdSec(),
	}
}

// TrackerParams returns the auto-tracking limits.
func (c *Config) TrackerParams() autotrack.Params {
	return autotrack.Params{
		EdgeMargin:     c.GetEdgeMarginPx(),
		MaxJumpRatio:   c.GetMaxJumpRatio(),
		MaxJumpFloor:   c.GetMaxJumpFloorPx(),
		MaxRecoveries:  c.GetMaxRecoveries(),
		Padding:        c.GetSelectionPaddingPx(),
		MinSelection:   c.GetMinSelectionPx(),
		MinRegion:      c.GetMinRegionPx(),
		ExpandedRegion: c.GetExpandedRegionPx(),
		RegionShift:    c.GetRegionShiftPx(),
		EndEpsilon:     c.GetEndEpsilonSec(),
	}
}

// NewStore returns a sample store sized by the configuration.
func (c *Config) NewStore() *samples.Store {
	return samples.NewStore(c.GetSampleCapacity(), c.GetSampleToleranceSec())
}

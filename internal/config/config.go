// Package config provides configuration management for the camsift appliance.
package config

import (
	"fmt"
	"image"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration. It is loaded once at
// startup, validated, and then passed by pointer into every component
// constructor. Invalid or missing configuration is fatal at startup.
type Config struct {
	Logging      LoggingConfig    `yaml:"logging"`
	Processing   ProcessingConfig `yaml:"processing"`
	Video        VideoConfig      `yaml:"video"`
	Detection    DetectionConfig  `yaml:"detection"`
	Activity     ActivityConfig   `yaml:"activity"`
	Composite    CompositeConfig  `yaml:"composite"`
	Folders      FoldersConfig    `yaml:"folders"`
	Files        FilesConfig      `yaml:"files"`
	DiskSpace    DiskSpaceConfig  `yaml:"disk_space"`
	Masks        []MaskDef        `yaml:"masks"`
	TriggerZones []ZoneDef        `yaml:"trigger_zones"`
	Outputs      OutputsConfig    `yaml:"outputs"`
	Debug        DebugConfig      `yaml:"debug"`
}

// LoggingConfig contains log settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ProcessingConfig contains pipeline-wide settings.
type ProcessingConfig struct {
	TimeIncrementMs  int64   `yaml:"time_increment_ms"`
	MaxMemUsageMB    float64 `yaml:"max_mem_usage_mb"`
	StillWorkingSecs int     `yaml:"still_working_secs"`
	TimeoutSecs      int     `yaml:"timeout_secs"`
	MaxVideos        int     `yaml:"max_videos"`
	ProfilingAddr    string  `yaml:"profiling_addr"`
}

// VideoConfig contains source and derived image dimensions.
type VideoConfig struct {
	SourceWidth  int `yaml:"source_width"`
	SourceHeight int `yaml:"source_height"`
	LargeWidth   int `yaml:"large_width"`
	MediumWidth  int `yaml:"medium_width"`
	SmallWidth   int `yaml:"small_width"`
}

// DetectionConfig contains subject detection settings.
type DetectionConfig struct {
	BlurWidth          int     `yaml:"blur_width"`
	IntensityThreshold float32 `yaml:"intensity_threshold"`
	MorphRadius        int     `yaml:"morph_radius"`
	SubjectMinArea     float64 `yaml:"subject_min_area"`
	BoundsPadding      int     `yaml:"bounds_padding"`
	DilatePixels       int     `yaml:"dilate_pixels"`
}

// ActivityConfig contains the thresholds deciding whether a detected subject
// is moving relative to the previous frame. Either threshold alone qualifies.
type ActivityConfig struct {
	MinAreaFraction float64 `yaml:"min_area_fraction"`
	MinAreaPixels   int     `yaml:"min_area_pixels"`
}

// CompositeConfig contains composite assembly settings.
type CompositeConfig struct {
	PrimaryMinAreaFraction float64 `yaml:"primary_min_area_fraction"`
}

// FoldersConfig contains the directory layout for videos and images.
type FoldersConfig struct {
	VideoPending string `yaml:"video_pending"`
	VideoDone    string `yaml:"video_done"`
	VideoError   string `yaml:"video_error"`
	ImagesOutput string `yaml:"images_output"`
	ImagesDebug  string `yaml:"images_debug"`
}

// FilesConfig contains standalone file paths.
type FilesConfig struct {
	EventDB  string `yaml:"event_db"`
	LockFile string `yaml:"lock_file"`
}

// DiskSpaceConfig contains retention and cleanup thresholds.
type DiskSpaceConfig struct {
	MinRemainingGB      float64            `yaml:"min_remaining_gb"`
	CriticalRemainingGB float64            `yaml:"critical_remaining_gb"`
	MinGBToRemove       float64            `yaml:"min_gb_to_remove"`
	CheckIntervalSecs   int                `yaml:"check_interval_secs"`
	TargetRatios        map[string]float64 `yaml:"target_ratios"`
	NightAgeFactor      float64            `yaml:"night_age_factor"`
	NoSegmentsAgeFactor float64            `yaml:"no_segments_age_factor"`
}

// MaskDef defines one exclusion area, either as a closed contour or as a
// black-on-white mask image on disk.
type MaskDef struct {
	Type   string  `yaml:"type"` // "contour" or "image"
	Points [][]int `yaml:"points,omitempty"`
	Path   string  `yaml:"path,omitempty"`
}

// ZoneDef defines a named trigger zone as a closed contour.
type ZoneDef struct {
	Label  string  `yaml:"label"`
	Points [][]int `yaml:"points"`
}

// Contour converts the raw point list to image points.
func (z ZoneDef) Contour() []image.Point {
	return toPoints(z.Points)
}

// Contour converts the raw point list to image points.
func (m MaskDef) Contour() []image.Point {
	return toPoints(m.Points)
}

func toPoints(raw [][]int) []image.Point {
	pts := make([]image.Point, 0, len(raw))
	for _, p := range raw {
		if len(p) >= 2 {
			pts = append(pts, image.Pt(p[0], p[1]))
		}
	}
	return pts
}

// OutputsConfig selects which composite styles are persisted as output images.
type OutputsConfig struct {
	CompositeStyles []string `yaml:"composite_styles"`
}

// DebugConfig contains optional debug outputs and development switches.
type DebugConfig struct {
	CompositeStyles        []string `yaml:"composite_styles"`
	SaveAnnotated          bool     `yaml:"save_annotated"`
	SaveSubjectCrops       bool     `yaml:"save_subject_crops"`
	SaveFramesAll          bool     `yaml:"save_frames_all"`
	SaveFramesWithSubjects bool     `yaml:"save_frames_with_subjects"`
	SaveFramesActive       bool     `yaml:"save_frames_active"`
	MoveCompleteVideos     bool     `yaml:"move_complete_videos"`
	AlwaysCleanup          bool     `yaml:"always_cleanup"`
	SkipVideos             bool     `yaml:"skip_videos"`
	RunOnce                bool     `yaml:"run_once"`
}

// Load reads configuration from a YAML file and applies env var overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply environment variable overrides
	cfg.applyEnvOverrides()
	// Set defaults for any missing config values
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if level := os.Getenv("CAMSIFT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if pending := os.Getenv("CAMSIFT_PENDING_DIR"); pending != "" {
		c.Folders.VideoPending = pending
	}
	if maxMem := os.Getenv("CAMSIFT_MAX_MEM_MB"); maxMem != "" {
		if m, err := strconv.ParseFloat(maxMem, 64); err == nil {
			c.Processing.MaxMemUsageMB = m
		}
	}
	if inc := os.Getenv("CAMSIFT_TIME_INCREMENT_MS"); inc != "" {
		if i, err := strconv.ParseInt(inc, 10, 64); err == nil {
			c.Processing.TimeIncrementMs = i
		}
	}
	if maxVideos := os.Getenv("CAMSIFT_MAX_VIDEOS"); maxVideos != "" {
		if v, err := strconv.Atoi(maxVideos); err == nil {
			c.Processing.MaxVideos = v
		}
	}
}

func (c *Config) setDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Processing.TimeIncrementMs <= 0 {
		c.Processing.TimeIncrementMs = 1000
	}
	if c.Processing.MaxMemUsageMB <= 0 {
		c.Processing.MaxMemUsageMB = 2048
	}
	if c.Processing.StillWorkingSecs <= 0 {
		c.Processing.StillWorkingSecs = 180
	}
	if c.Processing.TimeoutSecs <= 0 {
		c.Processing.TimeoutSecs = 720
	}
	if c.Processing.MaxVideos == 0 {
		c.Processing.MaxVideos = -1
	}
	if c.Detection.BlurWidth <= 0 {
		c.Detection.BlurWidth = 7
	}
	if c.Detection.IntensityThreshold <= 0 {
		c.Detection.IntensityThreshold = 40
	}
	if c.Detection.MorphRadius <= 0 {
		c.Detection.MorphRadius = 15
	}
	if c.Detection.SubjectMinArea <= 0 {
		c.Detection.SubjectMinArea = 1500
	}
	if c.Detection.BoundsPadding <= 0 {
		c.Detection.BoundsPadding = 10
	}
	if c.Detection.DilatePixels <= 0 {
		c.Detection.DilatePixels = 25
	}
	if c.Activity.MinAreaFraction <= 0 {
		c.Activity.MinAreaFraction = 0.05
	}
	if c.Activity.MinAreaPixels <= 0 {
		c.Activity.MinAreaPixels = 1500
	}
	if c.Composite.PrimaryMinAreaFraction <= 0 {
		c.Composite.PrimaryMinAreaFraction = 0.75
	}
	if c.Video.LargeWidth <= 0 {
		c.Video.LargeWidth = 1024
	}
	if c.Video.MediumWidth <= 0 {
		c.Video.MediumWidth = 640
	}
	if c.Video.SmallWidth <= 0 {
		c.Video.SmallWidth = 160
	}
	if c.DiskSpace.CheckIntervalSecs <= 0 {
		c.DiskSpace.CheckIntervalSecs = 3600
	}
	if c.DiskSpace.MinGBToRemove <= 0 {
		c.DiskSpace.MinGBToRemove = 1
	}
	if c.DiskSpace.NightAgeFactor <= 0 {
		c.DiskSpace.NightAgeFactor = 1.5
	}
	if c.DiskSpace.NoSegmentsAgeFactor <= 0 {
		c.DiskSpace.NoSegmentsAgeFactor = 2.5
	}
	if len(c.Outputs.CompositeStyles) == 0 {
		c.Outputs.CompositeStyles = []string{"Primary"}
	}
}

// Validate checks that the configuration is complete and usable. A validation
// failure is fatal at startup: the process must not run half-configured.
func (c *Config) Validate() error {
	if c.Video.SourceWidth <= 0 || c.Video.SourceHeight <= 0 {
		return fmt.Errorf("config: video.source_width and video.source_height are required")
	}
	if c.Folders.VideoPending == "" {
		return fmt.Errorf("config: folders.video_pending is required")
	}
	if c.Folders.VideoDone == "" || c.Folders.VideoError == "" {
		return fmt.Errorf("config: folders.video_done and folders.video_error are required")
	}
	if c.Folders.ImagesOutput == "" || c.Folders.ImagesDebug == "" {
		return fmt.Errorf("config: folders.images_output and folders.images_debug are required")
	}
	if c.Files.EventDB == "" {
		return fmt.Errorf("config: files.event_db is required")
	}
	for i, m := range c.Masks {
		switch m.Type {
		case "contour":
			if len(m.Points) < 3 {
				return fmt.Errorf("config: masks[%d]: contour requires at least 3 points", i)
			}
		case "image":
			if m.Path == "" {
				return fmt.Errorf("config: masks[%d]: image mask requires a path", i)
			}
		default:
			return fmt.Errorf("config: masks[%d]: invalid type %q", i, m.Type)
		}
	}
	for i, z := range c.TriggerZones {
		if z.Label == "" {
			return fmt.Errorf("config: trigger_zones[%d]: label is required", i)
		}
		if len(z.Points) < 3 {
			return fmt.Errorf("config: trigger_zones[%d]: requires at least 3 points", i)
		}
	}
	return nil
}

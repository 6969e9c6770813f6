// Package config loads sentrynet's process configuration from a YAML file
// with environment-variable overrides, grounded on the teacher's
// JWT_SECRET/JWT_EXPIRY env-override convention (internal/auth/jwt.go) and
// on the sibling ts-vms example's inline `yaml.Unmarshal(data, &cfg)`
// pattern in cmd/server/main.go — generalized here into a loadable,
// struct-tagged root config rather than ts-vms's ad-hoc per-section
// structs, since sentrynet has a single process with a single config file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"sentrynet/internal/alarm"
	"sentrynet/internal/attributes"
	"sentrynet/internal/detectorpool"
	"sentrynet/internal/model"
	"sentrynet/internal/reid"
	"sentrynet/internal/taskmanager"
)

// Config is the full process configuration.
type Config struct {
	HTTPAddr      string `yaml:"http_addr"`
	MetricsAddr   string `yaml:"metrics_addr"`
	DatabasePath  string `yaml:"database_path"`
	RecordingsDir string `yaml:"recordings_dir"`

	MJPEGPortLow  int `yaml:"mjpeg_port_low"`
	MJPEGPortHigh int `yaml:"mjpeg_port_high"`
	MaxContexts   int `yaml:"max_accelerator_contexts"`

	MaxActivePipelines int `yaml:"max_active_pipelines"`

	Detection  detectorpool.Config         `yaml:"-"`
	Global     model.GlobalDetectionConfig `yaml:"-"`
	ReID       reid.Config                 `yaml:"-"`
	Alarm      alarm.Config                `yaml:"-"`
	Attributes attributes.Config           `yaml:"-"`
	TaskMgr    taskmanager.Config          `yaml:"-"`

	DetectionRaw  detectionRaw  `yaml:"detection"`
	ReIDRaw       reidRaw       `yaml:"reid"`
	AttributesRaw attributesRaw `yaml:"attributes"`

	JWTSecret string        `yaml:"-"`
	JWTExpiry time.Duration `yaml:"-"`

	RetentionMaxAge      time.Duration `yaml:"-"`
	RetentionSchedule    string        `yaml:"retention_cron"`
	RetentionMaxAgeHours int           `yaml:"retention_max_age_hours"`
}

type detectionRaw struct {
	NumWorkers          int     `yaml:"num_workers"`
	QueueSize           int     `yaml:"queue_size"`
	ConfidenceThreshold float32 `yaml:"confidence_threshold"`
	NMSIoUThreshold     float32 `yaml:"nms_iou_threshold"`
	InputWidth          int     `yaml:"input_width"`
	InputHeight         int     `yaml:"input_height"`
}

type reidRaw struct {
	MatchingEnabled     bool    `yaml:"matching_enabled"`
	SimilarityThreshold float32 `yaml:"similarity_threshold"`
	MaxTrackAgeSeconds  int     `yaml:"max_track_age_seconds"`
}

type attributesRaw struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the baseline configuration used when no file is
// present, mirroring each component's own DefaultConfig.
func Default() Config {
	cfg := Config{
		HTTPAddr:           ":8080",
		MetricsAddr:        ":9090",
		DatabasePath:       "sentrynet.db",
		RecordingsDir:      "recordings",
		MJPEGPortLow:       8160,
		MJPEGPortHigh:      8360,
		MaxContexts:        8,
		MaxActivePipelines: 64,
		Detection:          detectorpool.DefaultConfig(),
		ReID:               reid.DefaultConfig(),
		Alarm:              alarm.DefaultConfig(),
		Attributes:         attributes.DefaultConfig(),
		TaskMgr:            taskmanager.DefaultConfig(),
		RetentionSchedule:  "0 * * * *",
		RetentionMaxAge:    7 * 24 * time.Hour,
	}
	global := model.DefaultGlobalDetectionConfig()
	cfg.Global = *global
	return cfg
}

// Load reads a YAML config file at path, falling back to Default values
// for anything the file doesn't set, then applies environment overrides
// (SENTRYNET_JWT_SECRET, SENTRYNET_JWT_EXPIRY, SENTRYNET_HTTP_ADDR,
// SENTRYNET_DATABASE_PATH), the way the teacher's JWTManager reads
// JWT_SECRET/JWT_EXPIRY directly from the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
			applyRawOverrides(&cfg)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.RetentionMaxAgeHours > 0 {
		cfg.RetentionMaxAge = time.Duration(cfg.RetentionMaxAgeHours) * time.Hour
	}
	return cfg, nil
}

func applyRawOverrides(cfg *Config) {
	if cfg.DetectionRaw.NumWorkers > 0 {
		cfg.Detection.NumWorkers = cfg.DetectionRaw.NumWorkers
	}
	if cfg.DetectionRaw.QueueSize > 0 {
		cfg.Detection.QueueSize = cfg.DetectionRaw.QueueSize
	}
	if cfg.DetectionRaw.ConfidenceThreshold > 0 {
		cfg.Detection.ConfidenceThreshold = cfg.DetectionRaw.ConfidenceThreshold
		cfg.Global.Confidence = cfg.DetectionRaw.ConfidenceThreshold
	}
	if cfg.DetectionRaw.NMSIoUThreshold > 0 {
		cfg.Detection.NMSIoUThreshold = cfg.DetectionRaw.NMSIoUThreshold
		cfg.Global.NMSIoU = cfg.DetectionRaw.NMSIoUThreshold
	}
	if cfg.DetectionRaw.InputWidth > 0 {
		cfg.Detection.InputWidth = cfg.DetectionRaw.InputWidth
	}
	if cfg.DetectionRaw.InputHeight > 0 {
		cfg.Detection.InputHeight = cfg.DetectionRaw.InputHeight
	}

	if cfg.ReIDRaw.SimilarityThreshold > 0 {
		cfg.ReID.SimilarityThreshold = cfg.ReIDRaw.SimilarityThreshold
	}
	if cfg.ReIDRaw.MaxTrackAgeSeconds > 0 {
		cfg.ReID.MaxTrackAge = time.Duration(cfg.ReIDRaw.MaxTrackAgeSeconds) * time.Second
	}
	cfg.ReID.MatchingEnabled = cfg.ReIDRaw.MatchingEnabled || cfg.ReID.MatchingEnabled

	if cfg.AttributesRaw.Endpoint != "" {
		cfg.Attributes.Endpoint = cfg.AttributesRaw.Endpoint
		cfg.Attributes.Enabled = cfg.AttributesRaw.Enabled
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENTRYNET_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("SENTRYNET_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("SENTRYNET_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("SENTRYNET_JWT_EXPIRY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.JWTExpiry = d
		}
	}
	if cfg.JWTExpiry == 0 {
		cfg.JWTExpiry = 24 * time.Hour
	}
}

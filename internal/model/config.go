package model

import "time"

// GlobalDetectionConfig holds process-wide detection defaults. Mirrors the
// teacher's GlobalDetectionConfig/EffectiveConfig override pattern.
type GlobalDetectionConfig struct {
	Confidence        float32       `json:"confidence"`
	NMSIoU            float32       `json:"nms_iou"`
	MaxDetections     int           `json:"max_detections"`
	EnabledCategories []int         `json:"enabled_categories"`
	AttributeAnalysis bool          `json:"attribute_analysis"`
	MaxIdleAge        time.Duration `json:"max_idle_age"`
	ReIDInterval      time.Duration `json:"reid_interval"`
	DetectSubmitDeadline time.Duration `json:"detect_submit_deadline"`
}

// DefaultGlobalDetectionConfig returns sensible defaults.
func DefaultGlobalDetectionConfig() *GlobalDetectionConfig {
	return &GlobalDetectionConfig{
		Confidence:           0.5,
		NMSIoU:               0.45,
		MaxDetections:        100,
		EnabledCategories:    []int{0}, // person, by default
		AttributeAnalysis:    false,
		MaxIdleAge:           5 * time.Second,
		ReIDInterval:         500 * time.Millisecond,
		DetectSubmitDeadline: 200 * time.Millisecond,
	}
}

// CameraDetectionConfig holds per-camera overrides. Nil fields mean
// "inherit from global".
type CameraDetectionConfig struct {
	Confidence        *float32 `json:"confidence,omitempty"`
	NMSIoU            *float32 `json:"nms_iou,omitempty"`
	MaxDetections     *int     `json:"max_detections,omitempty"`
	EnabledCategories []int    `json:"enabled_categories,omitempty"`
	AttributeAnalysis *bool    `json:"attribute_analysis,omitempty"`
}

// EffectiveConfig is the merged camera+global configuration used by a
// running pipeline.
type EffectiveConfig struct {
	SourceID          string
	Confidence        float32
	NMSIoU            float32
	MaxDetections     int
	EnabledCategories []int
	AttributeAnalysis bool
	MaxIdleAge        time.Duration
	ReIDInterval      time.Duration
	DetectSubmitDeadline time.Duration
}

// MergeWithGlobal merges camera-specific overrides with global defaults.
func (c *CameraDetectionConfig) MergeWithGlobal(sourceID string, global *GlobalDetectionConfig) *EffectiveConfig {
	if global == nil {
		global = DefaultGlobalDetectionConfig()
	}

	eff := &EffectiveConfig{
		SourceID:             sourceID,
		Confidence:           global.Confidence,
		NMSIoU:               global.NMSIoU,
		MaxDetections:        global.MaxDetections,
		EnabledCategories:    global.EnabledCategories,
		AttributeAnalysis:    global.AttributeAnalysis,
		MaxIdleAge:           global.MaxIdleAge,
		ReIDInterval:         global.ReIDInterval,
		DetectSubmitDeadline: global.DetectSubmitDeadline,
	}

	if c == nil {
		return eff
	}
	if c.Confidence != nil {
		eff.Confidence = *c.Confidence
	}
	if c.NMSIoU != nil {
		eff.NMSIoU = *c.NMSIoU
	}
	if c.MaxDetections != nil {
		eff.MaxDetections = *c.MaxDetections
	}
	if len(c.EnabledCategories) > 0 {
		eff.EnabledCategories = c.EnabledCategories
	}
	if c.AttributeAnalysis != nil {
		eff.AttributeAnalysis = *c.AttributeAnalysis
	}
	return eff
}

// Package model holds the shared data types for sentrynet: stream sources,
// pipelines, frames, detections, tracks, events and alarm payloads.
package model

import (
	"time"
)

// Protocol identifies the wire protocol used to reach a Stream Source.
type Protocol string

const (
	ProtocolRTSP  Protocol = "rtsp"
	ProtocolONVIF Protocol = "onvif"
	ProtocolHTTP  Protocol = "http"
)

// StreamSource is immutable after creation.
type StreamSource struct {
	ID                string   `json:"id"`
	URL               string   `json:"url"`
	Protocol          Protocol `json:"protocol"`
	Width             int      `json:"width"`
	Height            int      `json:"height"`
	FPS               int      `json:"fps"`
	Username          string   `json:"username,omitempty"`
	Password          string   `json:"-"`
	Enabled           bool     `json:"enabled"`
	MJPEGPort         int      `json:"mjpeg_port"`
	DetectionEnabled  bool     `json:"detection_enabled"`
	DetectionThreads  int      `json:"detection_threads"`
}

// PipelineState is one state of the Video Pipeline state machine.
type PipelineState string

const (
	StateCreated      PipelineState = "created"
	StateInitializing PipelineState = "initializing"
	StateRunning      PipelineState = "running"
	StateDegraded     PipelineState = "degraded"
	StateStopped      PipelineState = "stopped"
)

// FrameData is a captured image plus its capture metadata.
type FrameData struct {
	SourceID    string
	Data        []byte // encoded JPEG bytes
	CaptureTS   time.Time
	SequenceNum uint64
	Width       int
	Height      int
}

// BBox is a pixel-space bounding box, left/top/width/height.
type BBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Detection is a single object detection result.
type Detection struct {
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Confidence float32 `json:"confidence"`
	Box        BBox    `json:"box"`
	ReID       []float32 `json:"-"` // unit-normalized, dimension D, optional
}

// LocalTrack is a tracker-assigned identity scoped to one pipeline.
type LocalTrack struct {
	PipelineID   string
	LocalTrackID int
	Box          BBox
	ClassID      int
	ClassName    string
	Confidence   float32
	LastSeen     time.Time
	ReID         []float32 // EMA-updated
	Confirmed    bool
}

// GlobalTrack is a cross-camera identity owned by the Cross-Camera Registry.
type GlobalTrack struct {
	GlobalID      uint64
	Members       map[string]int // source_id -> local_track_id, at most one per source
	Canonical     []float32      // canonical ReID vector
	Box           BBox
	Confidence    float32
	FirstSeen     time.Time
	LastSeen      time.Time
	Active        bool
}

// EventType tags the kind of Event raised by a pipeline.
type EventType string

const (
	EventIntrusion EventType = "intrusion"
	EventLoitering EventType = "loitering"
	EventLineCross EventType = "line_cross"
	EventCustom    EventType = "custom"
)

// Severity is a coarse priority band for an Event, independent of the
// Alarm Router's 1-5 numeric priority (AlarmPayload.Priority derives from
// it but the two are not required to be identical).
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is immutable after creation and is persisted.
type Event struct {
	ID            string                 `json:"id"`
	SourceID      string                 `json:"source_id"`
	Type          EventType              `json:"type"`
	Severity      Severity               `json:"severity"`
	Timestamp     time.Time              `json:"timestamp"`
	Box           *BBox                  `json:"box,omitempty"`
	LocalTrackID  *int                   `json:"local_track_id,omitempty"`
	GlobalTrackID *uint64                `json:"global_track_id,omitempty"`
	RuleID        string                 `json:"rule_id,omitempty"`
	ObjectID      string                 `json:"object_id,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	VideoPath     string                 `json:"video_path,omitempty"`
	Confidence    float32                `json:"confidence,omitempty"`
}

// AlarmPayload is a copy of an Event enriched with routing metadata. It
// flows through the Alarm Router only and is never persisted there.
type AlarmPayload struct {
	AlarmID       string                 `json:"alarm_id"`
	Event         Event                  `json:"-"`
	EventType     EventType              `json:"event_type"`
	CameraID      string                 `json:"camera_id"`
	RuleID        string                 `json:"rule_id,omitempty"`
	ObjectID      string                 `json:"object_id,omitempty"`
	ReIDIdentity  string                 `json:"reid_id,omitempty"`
	LocalTrackID  *int                   `json:"local_track_id,omitempty"`
	GlobalTrackID *uint64                `json:"global_track_id,omitempty"`
	Confidence    float32                `json:"confidence"`
	Timestamp     time.Time              `json:"timestamp"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	BoundingBox   *BBox                  `json:"bounding_box,omitempty"`
	Priority      int                    `json:"priority"` // 1-5, higher drains first
	TestMode      bool                   `json:"test_mode"`
}

// ChannelMethod identifies an Alarm Channel's delivery transport.
type ChannelMethod string

const (
	ChannelHTTPPost  ChannelMethod = "http-post"
	ChannelWebSocket ChannelMethod = "websocket"
	ChannelMQTT      ChannelMethod = "mqtt"
	ChannelTelegram  ChannelMethod = "telegram" // supplemented, see SPEC_FULL.md
)

// AlarmChannelConfig describes one configured delivery channel. Mutable at
// runtime.
type AlarmChannelConfig struct {
	ID           string            `json:"id"`
	Method       ChannelMethod     `json:"method"`
	Endpoint     string            `json:"endpoint"`
	Headers      map[string]string `json:"headers,omitempty"`
	Topic        string            `json:"topic,omitempty"`       // mqtt
	QoS          byte              `json:"qos,omitempty"`         // mqtt
	BotToken     string            `json:"-"`                      // telegram
	ChatID       string            `json:"-"`                      // telegram
	TimeoutMS    int               `json:"timeout_ms"`
	Enabled      bool              `json:"enabled"`
	PriorityFloor int              `json:"priority_floor"` // deliver only if payload.Priority >= floor
}

// ROI is a named closed polygon bound to a source, plus a validity window
// and rule parameters.
type ROI struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"source_id"`
	Name        string    `json:"name"`
	Points      []Point   `json:"points"`
	Enabled     bool      `json:"enabled"`
	Priority    int       `json:"priority"`
	StartTOD    *Duration `json:"start_tod,omitempty"` // time-of-day window start
	EndTOD      *Duration `json:"end_tod,omitempty"`
	Rule        RuleKind  `json:"rule"`
	MinDwellSec int       `json:"min_dwell_sec,omitempty"` // for loitering
	CooldownSec int       `json:"cooldown_sec,omitempty"`
}

// RuleKind is the behavior rule evaluated against an ROI.
type RuleKind string

const (
	RuleIntrusion RuleKind = "intrusion"
	RuleLoitering RuleKind = "loitering"
)

// Point is a pixel-space polygon vertex.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Duration is a time-of-day offset from midnight. internal/database
// stores it as whole seconds; it has no custom JSON marshaling, so JSON
// carries its nanosecond count.
type Duration time.Duration

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"sentrynet/internal/alarm"
	"sentrynet/internal/apperr"
	"sentrynet/internal/model"
)

// alarmConfigRecord is the persisted shape of one channel config,
// including the credentials model.AlarmChannelConfig deliberately omits
// from its own JSON encoding (BotToken/ChatID carry json:"-").
type alarmConfigRecord struct {
	model.AlarmChannelConfig
	BotToken string `json:"bot_token,omitempty"`
	ChatID   string `json:"chat_id,omitempty"`
}

// listAlarmConfigs serves GET /api/alarms/config.
func (s *Server) listAlarmConfigs(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		respondJSON(w, http.StatusOK, []model.AlarmChannelConfig{})
		return
	}
	raw, err := s.DB.ListAlarmConfigs()
	if err != nil {
		respondError(w, err)
		return
	}
	out := make([]model.AlarmChannelConfig, 0, len(raw))
	for _, blob := range raw {
		var rec alarmConfigRecord
		if err := json.Unmarshal(blob, &rec); err != nil {
			continue
		}
		out = append(out, rec.AlarmChannelConfig)
	}
	respondJSON(w, http.StatusOK, out)
}

// createAlarmConfig serves POST /api/alarms/config: persists the channel
// and registers it with the Alarm Router immediately.
func (s *Server) createAlarmConfig(w http.ResponseWriter, r *http.Request) {
	var rec alarmConfigRecord
	if err := decodeJSON(r, &rec); err != nil {
		respondError(w, err)
		return
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	cfg := rec.AlarmChannelConfig
	cfg.BotToken = rec.BotToken
	cfg.ChatID = rec.ChatID

	deliverer, err := s.delivererFor(cfg)
	if err != nil {
		respondError(w, err)
		return
	}

	if err := s.persistAlarmConfig(rec); err != nil {
		respondError(w, err)
		return
	}

	s.AlarmRouter.RegisterChannel(alarm.ChannelRegistration{Config: cfg, Deliverer: deliverer})
	respondJSON(w, http.StatusCreated, rec.AlarmChannelConfig)
}

func (s *Server) persistAlarmConfig(rec alarmConfigRecord) error {
	if s.DB == nil {
		return nil
	}
	blob, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.DB.SaveAlarmConfig(rec.ID, string(rec.Method), blob)
}

// delivererFor builds the Deliverer matching cfg.Method via the alarm
// package's shared constructor, reporting construction failures as
// invalid-argument control-plane errors.
func (s *Server) delivererFor(cfg model.AlarmChannelConfig) (alarm.Deliverer, error) {
	d, err := alarm.BuildDeliverer(cfg, s.AlarmHub, s.MQTTClient)
	if err != nil {
		return nil, apperr.Invalid(err.Error())
	}
	return d, nil
}

// updateAlarmConfig serves PUT /api/alarms/config/{id}.
func (s *Server) updateAlarmConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var rec alarmConfigRecord
	if err := decodeJSON(r, &rec); err != nil {
		respondError(w, err)
		return
	}
	rec.ID = id
	cfg := rec.AlarmChannelConfig
	cfg.BotToken = rec.BotToken
	cfg.ChatID = rec.ChatID

	deliverer, err := s.delivererFor(cfg)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := s.persistAlarmConfig(rec); err != nil {
		respondError(w, err)
		return
	}

	s.AlarmRouter.RegisterChannel(alarm.ChannelRegistration{Config: cfg, Deliverer: deliverer})
	respondJSON(w, http.StatusOK, rec.AlarmChannelConfig)
}

// deleteAlarmConfig serves DELETE /api/alarms/config/{id}.
func (s *Server) deleteAlarmConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.AlarmRouter.RemoveChannel(id)
	if s.DB != nil {
		if err := s.DB.DeleteAlarmConfig(id); err != nil {
			respondError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type testAlarmRequest struct {
	CameraID  string `json:"camera_id"`
	EventType string `json:"event_type"`
	Priority  int    `json:"priority"`
}

// testAlarm serves POST /api/alarms/test: injects a synthetic payload
// marked TestMode so deliverers (and anything downstream inspecting the
// field) can distinguish it from a real detection event.
func (s *Server) testAlarm(w http.ResponseWriter, r *http.Request) {
	var req testAlarmRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.Priority <= 0 {
		req.Priority = 3
	}
	eventType := model.EventCustom
	if req.EventType != "" {
		eventType = model.EventType(req.EventType)
	}

	payload := model.AlarmPayload{
		AlarmID:   uuid.NewString(),
		EventType: eventType,
		CameraID:  req.CameraID,
		Timestamp: time.Now(),
		Priority:  req.Priority,
		TestMode:  true,
	}
	s.AlarmRouter.Submit(payload)
	respondJSON(w, http.StatusAccepted, payload)
}

// getAlarmStatus serves GET /api/alarms/status.
func (s *Server) getAlarmStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.AlarmRouter.Snapshot()
	recent := s.AlarmRouter.RecentResults(20)
	respondJSON(w, http.StatusOK, map[string]any{
		"delivered":       stats.Delivered,
		"failed":          stats.Failed,
		"queue_depth":     stats.QueueDepth,
		"method_averages": stats.MethodAverages,
		"recent_results":  recent,
	})
}

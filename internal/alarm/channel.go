package alarm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"sentrynet/internal/model"
)

// DeliveryResult is the outcome of one channel delivery attempt
// (spec.md §4.6: "(config_id, method, success, duration, error)").
type DeliveryResult struct {
	ConfigID string
	Method   model.ChannelMethod
	Success  bool
	Duration time.Duration
	Err      error
	At       time.Time
}

// Deliverer delivers one Alarm Payload over one channel's transport.
type Deliverer interface {
	Deliver(ctx context.Context, cfg model.AlarmChannelConfig, payload model.AlarmPayload) error
}

// Broadcaster is satisfied by a websocket hub: it pushes a message to all
// connected clients and reports how many received it.
type Broadcaster interface {
	Broadcast(message []byte) (clients int)
}

// HTTPDeliverer posts the payload as a JSON body with configured headers
// and per-config timeout; success is any 2xx status.
type HTTPDeliverer struct {
	Client *http.Client
}

// NewHTTPDeliverer returns a deliverer with a default client; per-call
// timeout is still taken from cfg.TimeoutMS via context.
func NewHTTPDeliverer() *HTTPDeliverer {
	return &HTTPDeliverer{Client: &http.Client{}}
}

func (d *HTTPDeliverer) Deliver(ctx context.Context, cfg model.AlarmChannelConfig, payload model.AlarmPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("alarm: marshal payload: %w", err)
	}

	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alarm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("alarm: http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alarm: http post returned status %d", resp.StatusCode)
	}
	return nil
}

// WebSocketDeliverer broadcasts the payload to every connected client.
// Zero connected clients is a success-no-op when ZeroClientsIsSuccess is
// set (BuildDeliverer sets it) and a delivery error otherwise.
type WebSocketDeliverer struct {
	Hub                  Broadcaster
	ZeroClientsIsSuccess bool
}

func (d *WebSocketDeliverer) Deliver(ctx context.Context, cfg model.AlarmChannelConfig, payload model.AlarmPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("alarm: marshal payload: %w", err)
	}
	clients := d.Hub.Broadcast(body)
	if clients == 0 && !d.ZeroClientsIsSuccess {
		return fmt.Errorf("alarm: websocket broadcast reached zero clients")
	}
	return nil
}

// MQTTDeliverer publishes to the channel's configured topic and QoS.
// Success is the broker ack for QoS >= 1, local enqueue for QoS 0.
type MQTTDeliverer struct {
	Client mqtt.Client
}

func (d *MQTTDeliverer) Deliver(ctx context.Context, cfg model.AlarmChannelConfig, payload model.AlarmPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("alarm: marshal payload: %w", err)
	}

	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	token := d.Client.Publish(cfg.Topic, cfg.QoS, false, body)
	if cfg.QoS == 0 {
		return nil // local enqueue only, no broker ack to await
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("alarm: mqtt publish to %q timed out after %s", cfg.Topic, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("alarm: mqtt publish: %w", err)
	}
	return nil
}

// BuildDeliverer constructs the Deliverer matching cfg.Method. hub backs
// the websocket method and may be nil if that transport isn't
// configured; client backs mqtt the same way. Shared by the control
// plane and process startup so channel construction has one definition.
func BuildDeliverer(cfg model.AlarmChannelConfig, hub Broadcaster, client mqtt.Client) (Deliverer, error) {
	switch cfg.Method {
	case model.ChannelHTTPPost:
		return NewHTTPDeliverer(), nil
	case model.ChannelWebSocket:
		if hub == nil {
			return nil, fmt.Errorf("alarm: websocket channel %q configured without a broadcaster", cfg.ID)
		}
		return &WebSocketDeliverer{Hub: hub, ZeroClientsIsSuccess: true}, nil
	case model.ChannelMQTT:
		if client == nil {
			return nil, fmt.Errorf("alarm: mqtt channel %q configured without a client", cfg.ID)
		}
		return &MQTTDeliverer{Client: client}, nil
	case model.ChannelTelegram:
		return NewTelegramDeliverer(), nil
	default:
		return nil, fmt.Errorf("alarm: unsupported channel method %q", cfg.Method)
	}
}

// TelegramDeliverer sends a formatted text alert via the Telegram Bot
// API, grounded on the teacher's internal/telegram/bot.go HTTP pattern
// (sendMessage over the bot token/chat id), adapted into a channel
// method the Alarm Router can fan out to like any other (spec.md §3's
// channel config leaves the method tag open; this is a supplemented
// channel, see SPEC_FULL.md).
type TelegramDeliverer struct {
	Client *http.Client
}

func NewTelegramDeliverer() *TelegramDeliverer {
	return &TelegramDeliverer{Client: &http.Client{Timeout: 30 * time.Second}}
}

func (d *TelegramDeliverer) Deliver(ctx context.Context, cfg model.AlarmChannelConfig, payload model.AlarmPayload) error {
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return fmt.Errorf("alarm: telegram bot token or chat id not configured")
	}

	text := fmt.Sprintf("Alert: %s on camera %s at %s (confidence %.2f)",
		payload.EventType, payload.CameraID, payload.Timestamp.Format(time.RFC3339), payload.Confidence)

	body, err := json.Marshal(map[string]interface{}{
		"chat_id": cfg.ChatID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("alarm: marshal telegram body: %w", err)
	}

	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alarm: build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("alarm: telegram request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alarm: telegram api returned status %d", resp.StatusCode)
	}
	return nil
}

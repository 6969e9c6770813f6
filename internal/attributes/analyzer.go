// Package attributes implements the optional Person Attribute Analyzer
// (spec.md §2/§3): given a person-class crop, it calls out to an external
// attribute inference service and returns coarse demographic attributes.
// Grounded on the teacher's internal/detection/face_recognizer.go client
// shape (enabled flag, health check, multipart image upload, narrow
// result struct) but narrowed to one endpoint instead of the teacher's
// full face-identity management surface, since spec.md scopes this
// analyzer to attributes only.
package attributes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"sentrynet/internal/lockhier"
)

// Attributes is the inferred demographic summary for one person crop.
type Attributes struct {
	Age        int     `json:"age,omitempty"`
	Gender     string  `json:"gender,omitempty"`
	Confidence float32 `json:"confidence,omitempty"`
}

// Config configures the remote attribute service.
type Config struct {
	Enabled  bool
	Endpoint string
	Timeout  time.Duration
}

// DefaultConfig disables the analyzer; callers that configure an
// endpoint must also set Enabled.
func DefaultConfig() Config {
	return Config{Timeout: 10 * time.Second}
}

// Analyzer is an HTTP client for a person attribute inference service.
type Analyzer struct {
	cfg    Config
	client *http.Client

	guard   *lockhier.RWGuard
	healthy bool
}

// New constructs an Analyzer. When cfg.Enabled is false, Analyze always
// returns ErrDisabled without making a network call.
func New(cfg Config) *Analyzer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Analyzer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		guard:  lockhier.NewRWGuard(lockhier.LevelPersonStats),
	}
}

// ErrDisabled is returned by Analyze when the analyzer is not enabled.
var ErrDisabled = fmt.Errorf("attributes: analyzer disabled")

// IsHealthy reports the result of the most recent CheckHealth call.
func (a *Analyzer) IsHealthy() bool {
	a.guard.RLock()
	defer a.guard.RUnlock()
	return a.healthy
}

// CheckHealth pings the attribute service's health endpoint.
func (a *Analyzer) CheckHealth() error {
	if !a.cfg.Enabled {
		return ErrDisabled
	}
	resp, err := a.client.Get(a.cfg.Endpoint + "/health")
	if err != nil {
		a.setHealthy(false)
		return fmt.Errorf("attributes: health check: %w", err)
	}
	defer resp.Body.Close()

	ok := resp.StatusCode == http.StatusOK
	a.setHealthy(ok)
	if !ok {
		return fmt.Errorf("attributes: health check returned status %d", resp.StatusCode)
	}
	return nil
}

func (a *Analyzer) setHealthy(v bool) {
	a.guard.Lock()
	a.healthy = v
	a.guard.Unlock()
}

// Analyze submits a JPEG-encoded person crop and returns its inferred
// attributes.
func (a *Analyzer) Analyze(crop []byte) (Attributes, error) {
	if !a.cfg.Enabled {
		return Attributes{}, ErrDisabled
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="crop.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(h)
	if err != nil {
		return Attributes{}, fmt.Errorf("attributes: build request: %w", err)
	}
	if _, err := part.Write(crop); err != nil {
		return Attributes{}, fmt.Errorf("attributes: write crop: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Attributes{}, fmt.Errorf("attributes: close form: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, a.cfg.Endpoint+"/analyze", &buf)
	if err != nil {
		return Attributes{}, fmt.Errorf("attributes: build http request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := a.client.Do(req)
	if err != nil {
		return Attributes{}, fmt.Errorf("attributes: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Attributes{}, fmt.Errorf("attributes: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Attributes{}, fmt.Errorf("attributes: request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var out Attributes
	if err := json.Unmarshal(body, &out); err != nil {
		return Attributes{}, fmt.Errorf("attributes: decode response: %w", err)
	}
	return out, nil
}

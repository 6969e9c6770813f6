package attributes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnalyzeReturnsErrDisabledWhenNotEnabled(t *testing.T) {
	a := New(DefaultConfig())
	if _, err := a.Analyze([]byte("jpeg")); err != ErrDisabled {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestAnalyzeParsesServiceResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(Attributes{Age: 34, Gender: "female", Confidence: 0.88})
	}))
	defer srv.Close()

	a := New(Config{Enabled: true, Endpoint: srv.URL})
	got, err := a.Analyze([]byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Age != 34 || got.Gender != "female" {
		t.Fatalf("unexpected attributes: %+v", got)
	}
}

func TestCheckHealthTracksServiceStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := New(Config{Enabled: true, Endpoint: srv.URL})
	if err := a.CheckHealth(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.IsHealthy() {
		t.Fatalf("expected analyzer to report healthy after a 200 response")
	}
}

func TestCheckHealthReturnsErrDisabledWhenNotEnabled(t *testing.T) {
	a := New(DefaultConfig())
	if err := a.CheckHealth(); err != ErrDisabled {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"trading-dashboard/internal/mode"
	"trading-dashboard/internal/stream"

	"github.com/rs/zerolog"
)

// ============================================================================
// MOCK TYPES
// ============================================================================

type stubModeService struct {
	mu         sync.Mutex
	current    mode.Status
	currentErr error
	token      string
	tokenErr   error
	submitErr  error
}

func (s *stubModeService) CurrentMode(ctx context.Context) (*mode.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentErr != nil {
		return nil, s.currentErr
	}
	status := s.current
	return &status, nil
}

func (s *stubModeService) AntiForgeryToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokenErr != nil {
		return "", s.tokenErr
	}
	return s.token, nil
}

func (s *stubModeService) SubmitChange(ctx context.Context, target mode.Mode, confirmationText, token string) (*mode.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	return &mode.Status{Mode: target, Message: "mode updated", Timestamp: time.Now()}, nil
}

type stubDialer struct{}

func (stubDialer) Dial(ctx context.Context, endpoint string) (stream.Conn, error) {
	return nil, errors.New("not dialed in tests")
}

func newTestServer(service mode.Service) *Server {
	logger := zerolog.Nop()
	controller := mode.NewController(service, nil, nil, logger)
	dispatcher := stream.NewDispatcher(logger)
	mgr := stream.NewManager("wss://example.com/ws", stubDialer{}, stream.NewReconnectPolicy(time.Second), dispatcher, logger)

	return NewServer(ServerConfig{
		Host:           "127.0.0.1",
		Port:           0,
		AllowedOrigins: []string{"http://localhost:3000"},
	}, controller, mgr, nil, nil, nil, logger)
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

// ============================================================================
// TESTS
// ============================================================================

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(&stubModeService{current: mode.Status{Mode: mode.Paper}})

	w := doJSON(t, s, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["stream_state"] != "idle" {
		t.Errorf("stream_state = %v, want idle", body["stream_state"])
	}
}

func TestGetModeReturnsServerMode(t *testing.T) {
	s := newTestServer(&stubModeService{current: mode.Status{Mode: mode.Live, Message: "live session"}})

	w := doJSON(t, s, http.MethodGet, "/api/v1/trading/mode", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["mode"] != "live" {
		t.Errorf("mode = %v, want live", body["mode"])
	}
	if body["stale"] != false {
		t.Errorf("stale = %v, want false", body["stale"])
	}
}

func TestGetModeServesStaleCacheWhenServiceDown(t *testing.T) {
	service := &stubModeService{current: mode.Status{Mode: mode.Paper, Message: "paper"}}
	s := newTestServer(service)

	// First read populates the advisory cache.
	if w := doJSON(t, s, http.MethodGet, "/api/v1/trading/mode", nil); w.Code != http.StatusOK {
		t.Fatalf("warm-up status = %d", w.Code)
	}

	service.mu.Lock()
	service.currentErr = errors.New("connection refused")
	service.mu.Unlock()

	w := doJSON(t, s, http.MethodGet, "/api/v1/trading/mode", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 from cache", w.Code)
	}
	body := decodeBody(t, w)
	if body["stale"] != true {
		t.Errorf("stale = %v, want true", body["stale"])
	}
	if body["mode"] != "paper" {
		t.Errorf("mode = %v, want paper", body["mode"])
	}
}

func TestGetModeUnavailableWithNoCache(t *testing.T) {
	s := newTestServer(&stubModeService{currentErr: errors.New("connection refused")})

	w := doJSON(t, s, http.MethodGet, "/api/v1/trading/mode", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestChangeModeRejectsUnknownMode(t *testing.T) {
	s := newTestServer(&stubModeService{current: mode.Status{Mode: mode.Paper}})

	w := doJSON(t, s, http.MethodPost, "/api/v1/trading/mode", reqBody{"mode": "turbo"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestChangeModeBadConfirmationIsForbidden(t *testing.T) {
	s := newTestServer(&stubModeService{current: mode.Status{Mode: mode.Paper}, token: "tok"})

	w := doJSON(t, s, http.MethodPost, "/api/v1/trading/mode", reqBody{
		"mode":              "live",
		"confirmation_text": "yes please",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	body := decodeBody(t, w)
	if body["error"] != mode.ReasonBadConfirmation {
		t.Errorf("error = %v, want %q", body["error"], mode.ReasonBadConfirmation)
	}
}

func TestChangeModeRemoteRejectionIsUnprocessable(t *testing.T) {
	s := newTestServer(&stubModeService{
		current:   mode.Status{Mode: mode.Paper},
		token:     "tok",
		submitErr: &mode.RemoteError{Detail: "live trading disabled by broker"},
	})

	w := doJSON(t, s, http.MethodPost, "/api/v1/trading/mode", reqBody{
		"mode":              "live",
		"confirmation_text": mode.LiveConfirmationPhrase,
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	body := decodeBody(t, w)
	if body["error"] != "live trading disabled by broker" {
		t.Errorf("error = %v, want broker detail verbatim", body["error"])
	}
}

func TestChangeModeServiceDownIsBadGateway(t *testing.T) {
	s := newTestServer(&stubModeService{currentErr: errors.New("connection refused")})

	w := doJSON(t, s, http.MethodPost, "/api/v1/trading/mode", reqBody{"mode": "live"})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
}

func TestChangeModeSucceeds(t *testing.T) {
	s := newTestServer(&stubModeService{current: mode.Status{Mode: mode.Paper}, token: "tok"})

	w := doJSON(t, s, http.MethodPost, "/api/v1/trading/mode", reqBody{
		"mode":              "live",
		"confirmation_text": mode.LiveConfirmationPhrase,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["mode"] != "live" {
		t.Errorf("mode = %v, want live", body["mode"])
	}
}

func TestLoginDisabledWithoutAuthService(t *testing.T) {
	s := newTestServer(&stubModeService{current: mode.Status{Mode: mode.Paper}})

	w := doJSON(t, s, http.MethodPost, "/api/v1/auth/login", reqBody{"password": "pw"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestStreamStatusEndpoint(t *testing.T) {
	s := newTestServer(&stubModeService{current: mode.Status{Mode: mode.Paper}})

	w := doJSON(t, s, http.MethodGet, "/api/v1/stream/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["state"] != "idle" {
		t.Errorf("state = %v, want idle", body["state"])
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("request %d blocked inside limit", i+1)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Error("fourth request allowed over limit")
	}
	if !rl.Allow("5.6.7.8") {
		t.Error("different key blocked")
	}
}

type reqBody = map[string]interface{}

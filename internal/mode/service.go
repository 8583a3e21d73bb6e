package mode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// Service is the remote trading-mode collaborator. The HTTP implementation
// talks to the real service; tests inject a fake.
type Service interface {
	CurrentMode(ctx context.Context) (*Status, error)
	AntiForgeryToken(ctx context.Context) (string, error)
	SubmitChange(ctx context.Context, target Mode, confirmationText, token string) (*Status, error)
}

// HTTPService is the REST client for the remote mode service.
type HTTPService struct {
	baseURL    string
	credential string
	client     *http.Client
	logger     zerolog.Logger
}

// NewHTTPService validates the base address once at construction.
func NewHTTPService(baseURL, credential string, timeout time.Duration, logger zerolog.Logger) (*HTTPService, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid mode service URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("mode service URL must be http or https, got %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTPService{
		baseURL:    parsed.String(),
		credential: credential,
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "ModeService").Logger(),
	}, nil
}

func (s *HTTPService) CurrentMode(ctx context.Context) (*Status, error) {
	var status Status
	if err := s.do(ctx, http.MethodGet, "/api/v1/trading/mode", nil, &status); err != nil {
		return nil, err
	}
	if !status.Mode.Valid() {
		return nil, fmt.Errorf("mode service returned unknown mode %q", status.Mode)
	}
	return &status, nil
}

func (s *HTTPService) AntiForgeryToken(ctx context.Context) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := s.do(ctx, http.MethodGet, "/api/v1/trading/mode/token", nil, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("mode service returned an empty token")
	}
	return resp.Token, nil
}

func (s *HTTPService) SubmitChange(ctx context.Context, target Mode, confirmationText, token string) (*Status, error) {
	body := map[string]string{
		"mode":              string(target),
		"confirmation_text": confirmationText,
		"token":             token,
	}
	var status Status
	if err := s.do(ctx, http.MethodPost, "/api/v1/trading/mode", body, &status); err != nil {
		return nil, err
	}
	if !status.Mode.Valid() {
		return nil, fmt.Errorf("mode service returned unknown mode %q", status.Mode)
	}
	return &status, nil
}

func (s *HTTPService) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.credential != "" {
		req.Header.Set("Authorization", "Bearer "+s.credential)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("mode service request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read mode service response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(data, &errBody) == nil && errBody.Detail != "" {
			// Server-provided reason surfaces verbatim.
			return &RemoteError{Detail: errBody.Detail}
		}
		return &RemoteError{Detail: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode mode service response: %w", err)
		}
	}
	return nil
}

package login

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/propromo-software/propromo.chat/internal/constants"
)

// HTTPVerifier verifies credentials against the upstream propromo login API.
type HTTPVerifier struct {
	url    string
	client *http.Client
}

// NewHTTPVerifier creates a verifier for the given upstream login endpoint.
func NewHTTPVerifier(url string) *HTTPVerifier {
	return &HTTPVerifier{
		url: url,
		client: &http.Client{
			Timeout: constants.LoginUpstreamTimeout,
		},
	}
}

// Verify POSTs the credentials to the upstream API. A 200 response means
// the credentials are valid; any other status means they are not.
func (v *HTTPVerifier) Verify(ctx context.Context, email, password string) error {
	body, err := json.Marshal(map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("call upstream login API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ErrBadCredentials
	}
	return nil
}

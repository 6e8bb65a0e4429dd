package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/facultyai/mlflow-faculty/config"
)

// expirySlack is how long before the advertised expiry a cached token is
// considered stale, covering clock skew and request latency.
const expirySlack = time.Minute

// CredentialsTokenSource exchanges client credentials for short-lived
// access tokens against the platform auth service, caching the token until
// shortly before expiry. Safe for concurrent use.
type CredentialsTokenSource struct {
	authURL string
	profile config.Profile
	http    *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewCredentialsTokenSource builds a token source for the given profile.
func NewCredentialsTokenSource(profile config.Profile) *CredentialsTokenSource {
	return &CredentialsTokenSource{
		authURL: profile.ServiceURL("hudson"),
		profile: profile,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Token returns a valid access token, exchanging credentials if the cached
// one is missing or about to expire.
func (s *CredentialsTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Before(s.expires) {
		return s.token, nil
	}

	token, expiresIn, err := s.exchange(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	s.expires = time.Now().Add(expiresIn - expirySlack)
	return s.token, nil
}

func (s *CredentialsTokenSource) exchange(ctx context.Context) (string, time.Duration, error) {
	payload, err := json.Marshal(map[string]string{
		"client_id":     s.profile.ClientID,
		"client_secret": s.profile.ClientSecret,
		"grant_type":    "client_credentials",
	})
	if err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, s.authURL+"/access_tokens", bytes.NewReader(payload))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", 0, fmt.Errorf("token exchange failed: %d %s", resp.StatusCode, string(body))
	}

	var decoded struct {
		AccessToken string  `json:"access_token"`
		ExpiresIn   float64 `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", 0, fmt.Errorf("decoding token response: %w", err)
	}
	if decoded.AccessToken == "" {
		return "", 0, fmt.Errorf("token exchange returned no access token")
	}

	expiresIn := time.Duration(decoded.ExpiresIn * float64(time.Second))
	if expiresIn <= expirySlack {
		expiresIn = expirySlack * 2
	}
	return decoded.AccessToken, expiresIn, nil
}

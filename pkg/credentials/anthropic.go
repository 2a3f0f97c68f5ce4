// Package credentials manages subscription OAuth tokens for the direct
// provider path. Tokens are stored in the user's config directory and
// refreshed transparently when close to expiry.
package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const (
	// tokenEndpoint exchanges a refresh token for a new access token.
	tokenEndpoint = "https://console.anthropic.com/v1/oauth/token"
	oauthClientID = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"

	// refreshSkew refreshes tokens this long before their stated expiry so
	// a request never goes out with a token about to lapse mid-stream.
	refreshSkew = 5 * time.Minute
)

// EnvOAuthToken overrides stored credentials when set.
const EnvOAuthToken = "LOOM_OAUTH_TOKEN"

// OAuthCredentials holds a subscription access token and its refresh state.
type OAuthCredentials struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	// ExpiresAt is a unix millisecond timestamp; zero means unknown.
	ExpiresAt int64 `json:"expiresAt,omitempty"`
}

// Expiring reports whether the token is expired or within the refresh skew.
func (c *OAuthCredentials) Expiring(now time.Time) bool {
	if c.ExpiresAt == 0 {
		return false
	}
	expiry := time.UnixMilli(c.ExpiresAt)
	return !now.Add(refreshSkew).Before(expiry)
}

func credentialsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".loom", "credentials.json"), nil
}

// Load returns the stored subscription credentials. The LOOM_OAUTH_TOKEN
// environment variable takes precedence over the credentials file.
func Load() (*OAuthCredentials, error) {
	if token := os.Getenv(EnvOAuthToken); token != "" {
		return &OAuthCredentials{AccessToken: token}, nil
	}

	path, err := credentialsPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w (run 'loom login')", path, err)
	}

	var creds OAuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	if creds.AccessToken == "" {
		return nil, fmt.Errorf("no access token in %s (run 'loom login')", path)
	}
	return &creds, nil
}

// Save persists credentials with owner-only permissions.
func Save(creds *OAuthCredentials) error {
	path, err := credentialsPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create credentials dir: %w", err)
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}

type refreshRequest struct {
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Refresh exchanges the refresh token for a new access token and persists
// the result. Returns an error when no refresh token is available or the
// exchange fails; callers treat that as "subscription path unavailable",
// not as a fatal condition.
func Refresh(ctx context.Context, creds *OAuthCredentials) (*OAuthCredentials, error) {
	if creds.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token available")
	}

	body, err := json.Marshal(refreshRequest{
		GrantType:    "refresh_token",
		RefreshToken: creds.RefreshToken,
		ClientID:     oauthClientID,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token refresh failed (status %d)", resp.StatusCode)
	}

	var parsed refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse refresh response: %w", err)
	}
	if parsed.AccessToken == "" {
		return nil, fmt.Errorf("refresh response missing access token")
	}

	next := &OAuthCredentials{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = creds.RefreshToken
	}
	if parsed.ExpiresIn > 0 {
		next.ExpiresAt = time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second).UnixMilli()
	}

	if err := Save(next); err != nil {
		// Persisting is best-effort: the refreshed token is still usable
		// for this process.
		return next, nil
	}
	return next, nil
}

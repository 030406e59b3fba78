// Package auth talks to the external credential service that owns OAuth
// token acquisition, storage and refresh; this service only ever reads
// tokens from it.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Provider represents OAuth providers known to the credential service.
type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderMicrosoft Provider = "microsoft"
)

// Token represents OAuth tokens.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Client fetches OAuth tokens from the credential service.
type Client struct {
	baseURL  string
	provider Provider
	client   *http.Client
}

// NewClient creates a client bound to one provider account.
func NewClient(authServerURL string, provider Provider) *Client {
	return &Client{
		baseURL:  authServerURL,
		provider: provider,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// GetToken fetches the stored OAuth token for the configured provider.
// The credential service handles refresh.
func (c *Client) GetToken(ctx context.Context) (*Token, error) {
	url := fmt.Sprintf("%s/api/auth/accounts/%s/token", c.baseURL, c.provider)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 404 {
		return nil, fmt.Errorf("no %s account connected", c.provider)
	}

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bad status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresAt    int64  `json:"expires_at"` // unix timestamp
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &Token{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		Expiry:       time.Unix(result.ExpiresAt, 0),
	}, nil
}

// LoadStoredCredentials reports whether a usable token exists for the
// configured provider account.
func (c *Client) LoadStoredCredentials(ctx context.Context) (bool, error) {
	tok, err := c.GetToken(ctx)
	if err != nil {
		return false, err
	}
	return tok.AccessToken != "", nil
}

// quest-approval-system/services/auth_service_client.go
package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

// IdentityProvider is the slice of the auth service the workflow engine
// needs. Every privileged operation revalidates through it — the result is
// never cached across calls, and any error means unauthorized.
type IdentityProvider interface {
	IsActiveReviewer(userID string) (bool, error)
}

type AuthServiceClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

type ValidateResponse struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
}

type reviewerStatusResponse struct {
	UserID   string `json:"user_id"`
	IsActive bool   `json:"is_active"`
}

func NewAuthServiceClient(baseURL, token string) *AuthServiceClient {
	return &AuthServiceClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ValidateToken calls /validate on auth service and returns the session
// identity, or an error when there is no valid session.
func (c *AuthServiceClient) ValidateToken(accessToken string) (*ValidateResponse, error) {
	endpoint := fmt.Sprintf("%s/auth/validate", c.BaseURL)

	reqBody := map[string]string{
		"access_token": accessToken,
	}
	jsonData, _ := json.Marshal(reqBody)

	req, err := http.NewRequest("POST", endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token) // Gateway → Auth service token

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		log.Printf("AuthService /validate returned %d: %s", resp.StatusCode, string(body))
		return nil, fmt.Errorf("auth validation failed: %d", resp.StatusCode)
	}

	var out ValidateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// IsActiveReviewer asks the auth service whether userID may approve or
// reject submissions. Non-200 responses and transport errors surface as
// errors so callers fail closed.
func (c *AuthServiceClient) IsActiveReviewer(userID string) (bool, error) {
	endpoint := fmt.Sprintf("%s/auth/reviewers/%s", c.BaseURL, url.PathEscape(userID))

	req, err := http.NewRequest("GET", endpoint, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusNotFound {
		// Unknown user — not a reviewer, but not a collaborator failure
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		log.Printf("AuthService reviewer check returned %d for %s: %s", resp.StatusCode, userID, string(body))
		return false, fmt.Errorf("reviewer check failed: %d", resp.StatusCode)
	}

	var out reviewerStatusResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return false, err
	}
	return out.IsActive, nil
}

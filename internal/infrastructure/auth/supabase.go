// Package auth resolves request credentials against the Supabase auth server.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go-txstream-sse/internal/domain"
	"go-txstream-sse/internal/infrastructure/logger"
	"go-txstream-sse/internal/port/outbound"
)

const (
	DefaultCookieName = "sb-access-token"
	userPath          = "/auth/v1/user"
)

// SupabaseResolver asks GoTrue who owns an access token.
type SupabaseResolver struct {
	baseURL string
	anonKey string
	client  *http.Client
	logger  logger.Logger
}

var _ outbound.IdentityResolver = (*SupabaseResolver)(nil)

func NewSupabaseResolver(baseURL, anonKey string, client *http.Client, log logger.Logger) *SupabaseResolver {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &SupabaseResolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		client:  client,
		logger:  log.WithField("component", "auth"),
	}
}

type userResponse struct {
	ID string `json:"id"`
}

// Resolve returns the user id for accessToken. Any rejection by the auth
// server maps to domain.ErrUnauthenticated; transport failures are returned
// wrapped so callers can tell them apart.
func (r *SupabaseResolver) Resolve(ctx context.Context, accessToken string) (string, error) {
	if accessToken == "" {
		return "", domain.ErrUnauthenticated
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+userPath, nil)
	if err != nil {
		return "", fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("apikey", r.anonKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return "", domain.ErrUnauthenticated
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("auth server returned %d", resp.StatusCode)
	}

	var user userResponse
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return "", fmt.Errorf("decode auth user: %w", err)
	}
	if user.ID == "" {
		r.logger.Warn("Auth server returned a user without id")
		return "", domain.ErrUnauthenticated
	}
	return user.ID, nil
}

// TokenFromRequest extracts the access token from a Bearer Authorization
// header, falling back to the session cookie.
func TokenFromRequest(req *http.Request, cookieName string) string {
	if h := req.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	if c, err := req.Cookie(cookieName); err == nil {
		return c.Value
	}
	return ""
}

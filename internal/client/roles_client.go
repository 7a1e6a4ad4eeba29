package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sora960/paragas-agrikonek-sub003/internal/apperrors"
	"github.com/sora960/paragas-agrikonek-sub003/internal/repository"
)

// RolesClient resolves a user's role from the identity service. Raw role
// strings are canonicalized here so the rest of the codebase only ever sees
// the closed repository.Role set.
type RolesClient struct {
	baseURL string
	http    *http.Client
}

// NewRolesClient creates a roles client against the identity service.
func NewRolesClient(baseURL string, timeout time.Duration) *RolesClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RolesClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type userRoleResponse struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// GetUserRole returns the canonical role of a user. An unknown or missing
// role maps to an invalid-actor-role error.
func (c *RolesClient) GetUserRole(ctx context.Context, userID string) (repository.Role, error) {
	path := fmt.Sprintf("%s/api/v1/users/%s/role", c.baseURL, url.PathEscape(userID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to build identity request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "identity service unreachable")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", apperrors.NotFound("user", userID)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", apperrors.Newf(apperrors.ErrCodeUnavailable,
			"identity service returned %d: %s", resp.StatusCode, string(body))
	}

	var out userRoleResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to decode identity response")
	}

	role, ok := repository.CanonicalRole(out.Role)
	if !ok {
		return "", apperrors.Newf(apperrors.ErrCodeInvalidActorRole,
			"user %s holds unrecognized role %q", userID, out.Role)
	}
	return role, nil
}

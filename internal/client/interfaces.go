package client

import (
	"context"

	"github.com/sora960/paragas-agrikonek-sub003/internal/repository"
)

// RolesClientInterface resolves user roles from the identity service.
type RolesClientInterface interface {
	GetUserRole(ctx context.Context, userID string) (repository.Role, error)
}

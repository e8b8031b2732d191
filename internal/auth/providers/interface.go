package providers

import (
	"context"

	"github.com/pepkit/pephub-sub000/internal/auth/models"
)

// Provider is the upstream identity provider used by the broker.
type Provider interface {
	// AuthURL returns the provider authorization URL carrying state
	AuthURL(state string) string

	// Exchange trades an authorization code for an access token
	Exchange(ctx context.Context, code, state string) (string, error)

	// Resolve turns an access token into a verified identity
	Resolve(ctx context.Context, accessToken string) (models.Identity, error)
}

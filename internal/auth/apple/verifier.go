package apple

import (
	"context"

	"perroquet/internal/auth/models"
	"perroquet/internal/platform/credcache"
)

// Verifier binds the Apple client to its shared credential cache so callers
// never handle the bundle directly.
type Verifier struct {
	client *Client
	cache  *credcache.Cache[Data]
}

// NewVerifier constructs a Verifier around an existing client and cache.
func NewVerifier(client *Client, cache *credcache.Cache[Data]) *Verifier {
	return &Verifier{client: client, cache: cache}
}

// VerifyAuthCode resolves the current credential bundle and performs the full
// code-exchange and identity-token verification.
func (v *Verifier) VerifyAuthCode(ctx context.Context, code string, surface Surface) (*models.FederatedIdentity, error) {
	bundle, err := v.cache.Access(ctx)
	if err != nil {
		return nil, err
	}
	return v.client.VerifyAuthCode(ctx, bundle.Data, code, surface)
}

// Package shares persists share tokens by the SHA-256 of the token.
//
// Expired tokens are never removed here; they simply stop redeeming.
package shares

import (
	"context"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/models"
)

type Repository interface {
	Create(ctx context.Context, tok *models.ShareToken) error
	Get(ctx context.Context, tokenHash string) (*models.ShareToken, error)
	// Redeem atomically increments the access count of a token that is still
	// usable at now and returns the updated token. Unknown and expired tokens
	// yield (nil, nil).
	Redeem(ctx context.Context, tokenHash string, now time.Time) (*models.ShareToken, error)
}

package keys

import (
	"context"

	"github.com/dmitrijs2005/deglet/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, key *models.SigningKey) (*models.SigningKey, error)
	FindByKey(ctx context.Context, key []byte) (*models.KeyOwner, error)
	AdvanceNonce(ctx context.Context, id int64, nonce int64) (bool, error)
}

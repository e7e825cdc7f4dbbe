package blobs

import (
	"context"

	"github.com/dmitrijs2005/deglet/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, blob *models.WalletBlob) (*models.WalletBlob, error)
	CountByAccount(ctx context.Context, accountID int64) (int64, error)
	ListByAccount(ctx context.Context, accountID int64) ([]*models.WalletBlob, error)
	Exists(ctx context.Context, accountID int64, id string) (bool, error)
	UpdateIfLarger(ctx context.Context, accountID int64, id string, blob []byte) (*models.WalletBlob, error)
}

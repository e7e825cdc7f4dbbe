package cosigners

import (
	"context"

	"github.com/dmitrijs2005/deglet/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, link *models.CosignerWallet) (*models.CosignerWallet, error)
	FindByWallet(ctx context.Context, accountID int64, walletID string) (*models.CosignerWallet, error)
}

package accounts

import (
	"context"

	"github.com/dmitrijs2005/deglet/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	FindByCredentials(ctx context.Context, username, check string) (*models.Account, error)
	Lock(ctx context.Context, id int64) error
}

// Package cosigners persists the link between a wallet and the server-side
// cosigner that joined it.
package cosigners

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/deglet/internal/common"
	"github.com/dmitrijs2005/deglet/internal/dbx"
	"github.com/dmitrijs2005/deglet/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create stores a link. A wallet can have at most one; a second link yields
// common.ErrorAlreadyExists.
func (r *PostgresRepository) Create(ctx context.Context, link *models.CosignerWallet) (*models.CosignerWallet, error) {
	query :=
		`INSERT INTO cosigner_wallets (account_id, wallet_id, wallet)
		 VALUES ($1, $2, $3)
		 RETURNING id
		 `

	err := r.db.QueryRowContext(ctx, query, link.AccountID, link.WalletID, link.Wallet).Scan(&link.ID)

	if err != nil {
		if _, ok := dbx.UniqueViolation(err); ok {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return link, nil
}

func (r *PostgresRepository) FindByWallet(ctx context.Context, accountID int64, walletID string) (*models.CosignerWallet, error) {
	query :=
		`SELECT id, account_id, wallet_id, wallet FROM cosigner_wallets
		 WHERE account_id = $1 AND wallet_id = $2
		 `

	c := &models.CosignerWallet{}
	err := r.db.QueryRowContext(ctx, query, accountID, walletID).Scan(&c.ID, &c.AccountID, &c.WalletID, &c.Wallet)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return c, nil
}

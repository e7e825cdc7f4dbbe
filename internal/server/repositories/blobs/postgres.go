// Package blobs persists wallet blobs and enforces their update budget at
// the statement level.
package blobs

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

func (r *PostgresRepository) Create(ctx context.Context, blob *models.WalletBlob) (*models.WalletBlob, error) {
	query :=
		`INSERT INTO wallet_blobs (id, account_id, blob, updates_left)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		blob.ID, blob.AccountID, blob.Blob, blob.UpdatesLeft).Scan(&blob.CreatedAt)

	if err != nil {
		if _, ok := dbx.UniqueViolation(err); ok {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return blob, nil
}

func (r *PostgresRepository) CountByAccount(ctx context.Context, accountID int64) (int64, error) {
	query :=
		`SELECT count(*) FROM wallet_blobs
		 WHERE account_id = $1
		 `

	var n int64
	if err := r.db.QueryRowContext(ctx, query, accountID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return n, nil
}

func (r *PostgresRepository) ListByAccount(ctx context.Context, accountID int64) ([]*models.WalletBlob, error) {
	query :=
		`SELECT id, account_id, blob, updates_left, created_at FROM wallet_blobs
		 WHERE account_id = $1
		 ORDER BY created_at, id
		 `

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := make([]*models.WalletBlob, 0)
	for rows.Next() {
		b := &models.WalletBlob{}
		if err := rows.Scan(&b.ID, &b.AccountID, &b.Blob, &b.UpdatesLeft, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

// Exists reports whether the account owns a blob with the given id.
func (r *PostgresRepository) Exists(ctx context.Context, accountID int64, id string) (bool, error) {
	query :=
		`SELECT EXISTS (SELECT 1 FROM wallet_blobs WHERE id = $1 AND account_id = $2)
		 `

	var ok bool
	if err := r.db.QueryRowContext(ctx, query, id, accountID).Scan(&ok); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return ok, nil
}

// UpdateIfLarger replaces the stored blob and spends one update from its
// budget, but only if budget remains and the new blob is strictly longer
// than the stored one. The check and the write are a single statement, so
// concurrent callers can never spend more than the budget. When no row
// qualifies it returns common.ErrorNotFound and nothing changes.
func (r *PostgresRepository) UpdateIfLarger(ctx context.Context, accountID int64, id string, blob []byte) (*models.WalletBlob, error) {
	query :=
		`UPDATE wallet_blobs SET updates_left = updates_left - 1, blob = $3
		 WHERE id = $1 AND account_id = $2 AND updates_left > 0 AND octet_length(blob) < $4
		 RETURNING id, account_id, blob, updates_left, created_at
		 `

	b := &models.WalletBlob{}
	err := r.db.QueryRowContext(ctx, query, id, accountID, blob, len(blob)).
		Scan(&b.ID, &b.AccountID, &b.Blob, &b.UpdatesLeft, &b.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return b, nil
}

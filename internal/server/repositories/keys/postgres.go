// Package keys persists the public signing keys accounts authenticate with,
// along with the per-key replay counter.
package keys

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

func (r *PostgresRepository) Create(ctx context.Context, key *models.SigningKey) (*models.SigningKey, error) {
	query :=
		`INSERT INTO signing_keys (account_id, key, key_type, last_nonce)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		key.AccountID, key.Key, string(key.KeyType), key.LastNonce).Scan(&key.ID, &key.CreatedAt)

	if err != nil {
		if _, ok := dbx.UniqueViolation(err); ok {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return key, nil
}

// FindByKey returns the active key matching key byte for byte, joined with
// its account. Keys of deactivated accounts are reported as not found.
func (r *PostgresRepository) FindByKey(ctx context.Context, key []byte) (*models.KeyOwner, error) {
	query :=
		`SELECT k.id, k.account_id, k.key, k.key_type, k.last_nonce, k.created_at, a.username
		 FROM signing_keys k
		 JOIN accounts a ON a.id = k.account_id
		 WHERE k.key = $1 AND k.deactivated_at IS NULL AND a.deactivated_at IS NULL
		 `

	o := &models.KeyOwner{}
	var keyType string
	err := r.db.QueryRowContext(ctx, query, key).Scan(
		&o.Key.ID, &o.Key.AccountID, &o.Key.Key, &keyType, &o.Key.LastNonce, &o.Key.CreatedAt, &o.Username)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	o.Key.KeyType = models.KeyType(keyType)

	return o, nil
}

// AdvanceNonce stores nonce as the key's last nonce if it is strictly
// greater than the stored one. It reports false when another request got
// there first.
func (r *PostgresRepository) AdvanceNonce(ctx context.Context, id int64, nonce int64) (bool, error) {
	query :=
		`UPDATE signing_keys SET last_nonce = $2
		 WHERE id = $1 AND last_nonce < $2
		 `

	res, err := r.db.ExecContext(ctx, query, id, nonce)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return n == 1, nil
}

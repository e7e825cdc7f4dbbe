// Package accounts persists registered accounts.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/deglet/internal/common"
	"github.com/dmitrijs2005/deglet/internal/dbx"
	"github.com/dmitrijs2005/deglet/internal/server/models"
)

// UsernameConstraint is the unique constraint guarding account usernames.
const UsernameConstraint = "accounts_username_key"

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts account and fills in its ID and CreatedAt. A taken username
// yields common.ErrorUsernameTaken, any other unique clash (the salt)
// common.ErrorAlreadyExists.
func (r *PostgresRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	query :=
		`INSERT INTO accounts (username, user_check, salt, iterations)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		account.Username, account.UserCheck, account.Salt, account.Iterations).Scan(&account.ID, &account.CreatedAt)

	if err != nil {
		if constraint, ok := dbx.UniqueViolation(err); ok {
			if constraint == UsernameConstraint {
				return nil, common.ErrorUsernameTaken
			}
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return account, nil
}

// FindByCredentials looks up an active account by username and check code.
func (r *PostgresRepository) FindByCredentials(ctx context.Context, username, check string) (*models.Account, error) {
	query :=
		`SELECT id, username, user_check, salt, iterations, created_at FROM accounts
		 WHERE username = $1 AND user_check = $2 AND deactivated_at IS NULL
		 `

	a := &models.Account{}
	err := r.db.QueryRowContext(ctx, query, username, check).
		Scan(&a.ID, &a.Username, &a.UserCheck, &a.Salt, &a.Iterations, &a.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return a, nil
}

// Lock takes a row lock on the account for the rest of the transaction.
// Concurrent writers that count per-account rows serialize on it.
func (r *PostgresRepository) Lock(ctx context.Context, id int64) error {
	query :=
		`SELECT id FROM accounts
		 WHERE id = $1
		 FOR UPDATE
		 `

	var got int64
	err := r.db.QueryRowContext(ctx, query, id).Scan(&got)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

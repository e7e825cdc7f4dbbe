package services

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/deglet/internal/common"
	"github.com/dmitrijs2005/deglet/internal/dbx"
	"github.com/dmitrijs2005/deglet/internal/entropy"
	"github.com/dmitrijs2005/deglet/internal/logging"
	"github.com/dmitrijs2005/deglet/internal/server/apierrors"
	"github.com/dmitrijs2005/deglet/internal/server/auth"
	"github.com/dmitrijs2005/deglet/internal/server/models"
	"github.com/dmitrijs2005/deglet/internal/server/repositories/repomanager"
)

// SignupRequest holds the fields of a signup envelope.
type SignupRequest struct {
	Username   string
	Check      string
	Salt       string
	Iterations int64
	Nonce      int64
}

// UserData is what a client needs to re-derive its signing key.
type UserData struct {
	Salt       string `json:"salt"`
	Iterations int64  `json:"iterations"`
}

// UserService registers accounts and serves their key derivation
// parameters.
type UserService struct {
	db             *sql.DB
	repomanager    repomanager.RepositoryManager
	logger         logging.Logger
	minSaltEntropy float64
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger, minSaltEntropy float64) *UserService {
	return &UserService{
		db:             db,
		repomanager:    m,
		logger:         logger.With("module", "user_service"),
		minSaltEntropy: minSaltEntropy,
	}
}

// Signup verifies a self-signed signup envelope and registers the account
// together with the key that signed it. Unlike authenticated routes, a bad
// envelope here is reported with 400.
func (s *UserService) Signup(ctx context.Context, raw, audience string) error {
	env, err := auth.Verify(raw, audience)
	if err != nil {
		s.logger.Debug(ctx, "signup envelope rejected", "error", err)
		return envelopeError(err)
	}

	req, err := signupRequest(env.Claims)
	if err != nil {
		return err
	}
	if err := s.validate(ctx, req); err != nil {
		return err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		account, err := s.repomanager.Accounts(tx).Create(ctx, &models.Account{
			Username:   req.Username,
			UserCheck:  req.Check,
			Salt:       req.Salt,
			Iterations: req.Iterations,
		})
		if err != nil {
			return err
		}
		_, err = s.repomanager.Keys(tx).Create(ctx, &models.SigningKey{
			AccountID: account.ID,
			Key:       env.Header.Key,
			KeyType:   models.KeyTypePublicKey,
			LastNonce: req.Nonce,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrorUsernameTaken) {
			return apierrors.UsernameInUse
		}
		s.logger.Error(ctx, "failed to store account", "error", err)
		return apierrors.GenericError
	}

	s.logger.Info(ctx, "account created", "username", req.Username, "kid", auth.Fingerprint(env.Header.KeyID))
	return nil
}

func signupRequest(claims auth.Claims) (*SignupRequest, error) {
	var req SignupRequest
	var ok bool

	if req.Username, ok = claims.String("username"); !ok {
		return nil, apierrors.MissingArguments
	}
	if req.Check, ok = claims.String("check"); !ok || !isHexCheck(req.Check) {
		return nil, apierrors.MissingArguments
	}
	if req.Salt, ok = claims.String("salt"); !ok {
		return nil, apierrors.MissingArguments
	}
	iterations, present, err := claims.Int("iterations")
	if !present || err != nil {
		return nil, apierrors.MissingArguments
	}
	req.Iterations = iterations

	// a non-integer nonce is rejected with the other nonce failures in validate
	if req.Nonce, err = claims.Nonce(); err != nil {
		req.Nonce = -1
	}

	return &req, nil
}

func (s *UserService) validate(ctx context.Context, req *SignupRequest) error {
	if len(req.Username) > common.MaxUsernameLen {
		return apierrors.UsernameTooLong
	}
	if req.Iterations < common.MinIterCount {
		return apierrors.LowIterCount
	}

	width := max(common.MinSaltBits, 4*len(req.Salt))
	h, err := entropy.ShannonHex(req.Salt, width)
	if err != nil || h < s.minSaltEntropy {
		s.logger.Debug(ctx, "salt rejected", "entropy", h, "min", s.minSaltEntropy, "error", err)
		return apierrors.BadSalt
	}

	if req.Nonce < 0 {
		return apierrors.InvalidNonce
	}
	return nil
}

// UserData returns the salt and iteration count of the account matching
// username and check.
func (s *UserService) UserData(ctx context.Context, username, check string) (*UserData, error) {
	if username == "" || len(check) != common.UserCheckLen {
		return nil, apierrors.MissingArguments
	}

	account, err := s.repomanager.Accounts(s.db).FindByCredentials(ctx, username, check)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, apierrors.UserNotFound
		}
		return nil, fmt.Errorf("error loading account: %w", err)
	}

	return &UserData{Salt: account.Salt, Iterations: account.Iterations}, nil
}

func isHexCheck(check string) bool {
	if len(check) != common.UserCheckLen {
		return false
	}
	_, err := hex.DecodeString(check)
	return err == nil
}

// Package services contains server-side business logic. This file implements
// AuthService, the signed envelope authentication pipeline.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/deglet/internal/common"
	"github.com/dmitrijs2005/deglet/internal/logging"
	"github.com/dmitrijs2005/deglet/internal/server/apierrors"
	"github.com/dmitrijs2005/deglet/internal/server/auth"
	"github.com/dmitrijs2005/deglet/internal/server/metrics"
	"github.com/dmitrijs2005/deglet/internal/server/repositories/repomanager"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	AccountID int64
	Username  string
	KeyID     int64
	Key       string
}

// AuthService authenticates requests carried in signed envelopes. It keeps
// no session state: every request is authenticated on its own.
type AuthService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
	metrics     *metrics.Metrics
}

func NewAuthService(db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger, mx *metrics.Metrics) *AuthService {
	return &AuthService{
		db:          db,
		repomanager: m,
		logger:      logger.With("module", "auth_service"),
		metrics:     mx,
	}
}

// Authenticate runs the envelope, identity and replay stages in that order.
// The nonce is advanced and committed before it returns, so a request that
// later fails in business logic still consumes its nonce. Every rejection is
// an *apierrors.Error served with 401.
func (s *AuthService) Authenticate(ctx context.Context, raw, audience string) (*Principal, auth.Claims, error) {
	env, err := auth.Verify(raw, audience)
	if err != nil {
		apiErr := envelopeError(err)
		s.metrics.AuthOutcome(envelopeOutcome(err))
		s.logger.Debug(ctx, "envelope rejected", "error", err)
		return nil, nil, apiErr.Unauthorized()
	}

	principal, lastNonce, err := s.resolve(ctx, env)
	if err != nil {
		return nil, nil, err
	}

	if err := s.checkNonce(ctx, principal, lastNonce, env.Claims); err != nil {
		return nil, nil, err
	}

	s.metrics.AuthOutcome(metrics.AuthOK)
	return principal, env.Claims, nil
}

func (s *AuthService) resolve(ctx context.Context, env *auth.Envelope) (*Principal, int64, error) {
	owner, err := s.repomanager.Keys(s.db).FindByKey(ctx, env.Header.Key)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.metrics.AuthOutcome(metrics.AuthUnknownKey)
			s.logger.Info(ctx, "unknown signing key", "kid", auth.Fingerprint(env.Header.KeyID))
			return nil, 0, apierrors.UserNotFound.Unauthorized()
		}
		s.metrics.AuthOutcome(metrics.AuthError)
		return nil, 0, fmt.Errorf("error resolving signing key: %w", err)
	}

	return &Principal{
		AccountID: owner.Key.AccountID,
		Username:  owner.Username,
		KeyID:     owner.Key.ID,
		Key:       env.Header.KeyID,
	}, owner.Key.LastNonce, nil
}

// checkNonce accepts only nonces strictly greater than the stored one and
// records the new value with a compare-and-set, so two requests carrying
// the same nonce can never both pass.
func (s *AuthService) checkNonce(ctx context.Context, p *Principal, lastNonce int64, claims auth.Claims) error {
	nonce, err := claims.Nonce()
	if err != nil || nonce <= lastNonce {
		s.metrics.AuthOutcome(metrics.AuthReplay)
		s.logger.Info(ctx, "stale nonce", "kid", auth.Fingerprint(p.Key), "nonce", nonce, "last_nonce", lastNonce)
		return apierrors.InvalidNonce.Unauthorized()
	}

	advanced, err := s.repomanager.Keys(s.db).AdvanceNonce(ctx, p.KeyID, nonce)
	if err != nil {
		s.metrics.AuthOutcome(metrics.AuthError)
		return fmt.Errorf("error advancing nonce: %w", err)
	}
	if !advanced {
		s.metrics.AuthOutcome(metrics.AuthReplay)
		s.logger.Info(ctx, "nonce lost race", "kid", auth.Fingerprint(p.Key), "nonce", nonce)
		return apierrors.InvalidNonce.Unauthorized()
	}

	return nil
}

// envelopeError maps an auth.Verify failure to its client-facing error.
func envelopeError(err error) *apierrors.Error {
	if errors.Is(err, auth.ErrSignatureMismatch) {
		return apierrors.InvalidSignature
	}
	return apierrors.InvalidMessage
}

func envelopeOutcome(err error) string {
	if errors.Is(err, auth.ErrSignatureMismatch) {
		return metrics.AuthBadSignature
	}
	return metrics.AuthInvalidMessage
}

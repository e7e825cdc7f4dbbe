package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/deglet/internal/common"
	"github.com/dmitrijs2005/deglet/internal/dbx"
	"github.com/dmitrijs2005/deglet/internal/logging"
	"github.com/dmitrijs2005/deglet/internal/server/apierrors"
	"github.com/dmitrijs2005/deglet/internal/server/cosigner"
	"github.com/dmitrijs2005/deglet/internal/server/models"
	"github.com/dmitrijs2005/deglet/internal/server/repositories/repomanager"
)

// Cosigner is the cosigning service as seen by CosignerService.
type Cosigner interface {
	Join(ctx context.Context, secret, walletID string) (json.RawMessage, error)
	NewAddress(ctx context.Context, wallet json.RawMessage, num int64) (json.RawMessage, error)
	Balance(ctx context.Context, wallet json.RawMessage) (json.RawMessage, error)
}

// Address is a derived address. WalletID is only set for single results.
type Address struct {
	Address   json.RawMessage `json:"address"`
	Path      json.RawMessage `json:"path"`
	CreatedOn json.RawMessage `json:"createdOn"`
	WalletID  json.RawMessage `json:"walletId,omitempty"`
}

// AddressList is the result of deriving several addresses at once.
type AddressList struct {
	WalletID json.RawMessage `json:"walletId"`
	Result   []Address       `json:"result"`
}

// Balance is a wallet balance as reported by the cosigner.
type Balance struct {
	BTC json.RawMessage `json:"btc"`
}

// CosignerService proxies wallet operations to the cosigning service for
// wallets the server has joined. A nil Cosigner disables it.
type CosignerService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	cosigner    Cosigner
	logger      logging.Logger
}

func NewCosignerService(db *sql.DB, m repomanager.RepositoryManager, c Cosigner, logger logging.Logger) *CosignerService {
	return &CosignerService{
		db:          db,
		repomanager: m,
		cosigner:    c,
		logger:      logger.With("module", "cosigner_service"),
	}
}

// Enabled reports whether a cosigning service is configured.
func (s *CosignerService) Enabled() bool {
	return s.cosigner != nil
}

// Join has the server cosigner join one of the caller's wallets and records
// the link. The upstream call completes before any transaction is opened.
func (s *CosignerService) Join(ctx context.Context, accountID int64, secret, walletID string) error {
	if secret == "" || walletID == "" {
		return apierrors.MissingArguments
	}

	owned, err := s.repomanager.Blobs(s.db).Exists(ctx, accountID, walletID)
	if err != nil {
		return fmt.Errorf("error checking wallet: %w", err)
	}
	if !owned {
		return apierrors.WalletNotFound
	}

	if !s.Enabled() {
		return apierrors.CosigningDisabled
	}

	wallet, err := s.cosigner.Join(ctx, secret, walletID)
	if err != nil {
		var upErr *cosigner.UpstreamError
		if errors.As(err, &upErr) {
			return apierrors.Cosigner(upErr.Reason)
		}
		s.logger.Error(ctx, "cosigner join failed", "wallet_id", walletID, "error", err)
		return apierrors.CosignerError
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := s.repomanager.Cosigners(tx).Create(ctx, &models.CosignerWallet{
			AccountID: accountID,
			WalletID:  walletID,
			Wallet:    wallet,
		})
		return err
	})
	if err != nil {
		s.logger.Error(ctx, "failed to store cosigner wallet", "wallet_id", walletID, "error", err)
		return apierrors.GenericError
	}

	return nil
}

// NewAddress derives num addresses for a joined wallet. It returns *Address
// for a single result and *AddressList otherwise.
func (s *CosignerService) NewAddress(ctx context.Context, accountID int64, walletID string, num int64) (any, error) {
	if walletID == "" {
		return nil, apierrors.MissingArguments
	}
	if num <= 0 || num > common.MaxNewAddress {
		return nil, apierrors.InvalidAddressCount
	}

	link, err := s.link(ctx, accountID, walletID)
	if err != nil {
		return nil, err
	}

	raw, err := s.cosigner.NewAddress(ctx, json.RawMessage(link.Wallet), num)
	if err != nil {
		s.logger.Error(ctx, "cosigner address failed", "wallet_id", walletID, "error", err)
		return nil, apierrors.CosignerError
	}

	result, err := shapeAddresses(raw)
	if err != nil {
		s.logger.Error(ctx, "unexpected address payload", "wallet_id", walletID, "error", err)
		return nil, apierrors.CosignerError
	}
	return result, nil
}

// Balance reports the balance of a joined wallet.
func (s *CosignerService) Balance(ctx context.Context, accountID int64, walletID string) (*Balance, error) {
	if walletID == "" {
		return nil, apierrors.MissingArguments
	}

	link, err := s.link(ctx, accountID, walletID)
	if err != nil {
		return nil, err
	}

	raw, err := s.cosigner.Balance(ctx, json.RawMessage(link.Wallet))
	if err != nil {
		s.logger.Error(ctx, "cosigner balance failed", "wallet_id", walletID, "error", err)
		return nil, apierrors.CosignerError
	}
	return &Balance{BTC: raw}, nil
}

func (s *CosignerService) link(ctx context.Context, accountID int64, walletID string) (*models.CosignerWallet, error) {
	link, err := s.repomanager.Cosigners(s.db).FindByWallet(ctx, accountID, walletID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, apierrors.CosignerNotFound
		}
		return nil, fmt.Errorf("error loading cosigner wallet: %w", err)
	}
	if !s.Enabled() {
		return nil, apierrors.CosigningDisabled
	}
	return link, nil
}

func shapeAddresses(raw json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var single Address
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, err
		}
		return &single, nil
	}

	var many []Address
	if err := json.Unmarshal(trimmed, &many); err != nil {
		return nil, err
	}
	if len(many) == 0 {
		return nil, errors.New("empty address list")
	}

	list := &AddressList{WalletID: many[0].WalletID, Result: make([]Address, 0, len(many))}
	for _, a := range many {
		a.WalletID = nil
		list.Result = append(list.Result, a)
	}
	return list, nil
}

package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/deglet/internal/common"
	"github.com/dmitrijs2005/deglet/internal/dbx"
	"github.com/dmitrijs2005/deglet/internal/logging"
	"github.com/dmitrijs2005/deglet/internal/server/apierrors"
	"github.com/dmitrijs2005/deglet/internal/server/models"
	"github.com/dmitrijs2005/deglet/internal/server/repositories/repomanager"
)

// BlobInput carries the client supplied fields of a blob request.
// MaxChanges is nil when the client did not send one.
type BlobInput struct {
	ID         string
	Blob       string
	MaxChanges *int64
}

// BlobView is a stored blob as returned to clients.
type BlobView struct {
	ID        string `json:"id"`
	Blob      string `json:"blob"`
	CreatedAt int64  `json:"created_at"`
}

// BlobUpdate is the outcome of an update request. Only Updated is set when
// no blob qualified.
type BlobUpdate struct {
	Updated     bool   `json:"updated"`
	ID          string `json:"id,omitempty"`
	Blob        string `json:"blob,omitempty"`
	CreatedAt   int64  `json:"created_at,omitempty"`
	UpdatesLeft *int64 `json:"updates_left,omitempty"`
}

// BlobCount is the result of a count-only listing.
type BlobCount struct {
	Num int64 `json:"num"`
}

// BlobService stores opaque wallet blobs. Each account holds a bounded
// number of blobs and each blob a bounded number of updates; an update must
// grow the blob.
type BlobService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
}

func NewBlobService(db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger) *BlobService {
	return &BlobService{
		db:          db,
		repomanager: m,
		logger:      logger.With("module", "blob_service"),
	}
}

// Create stores a new blob. The account row is locked while blobs are
// counted so that concurrent creates cannot exceed the per-account limit.
func (s *BlobService) Create(ctx context.Context, accountID int64, in BlobInput) (*BlobView, error) {
	if err := validateBlob(in); err != nil {
		return nil, err
	}
	// ids are fixed-width only when stored; updates to any other id match nothing
	if len(in.ID) != common.BlobIDLen {
		return nil, apierrors.MissingArguments
	}

	blob := &models.WalletBlob{
		ID:          in.ID,
		AccountID:   accountID,
		Blob:        []byte(in.Blob),
		UpdatesLeft: clampChanges(in.MaxChanges),
	}

	var created *models.WalletBlob
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Accounts(tx).Lock(ctx, accountID); err != nil {
			return err
		}

		n, err := s.repomanager.Blobs(tx).CountByAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if n >= common.MaxBlobCount {
			return apierrors.TooManyBlobs
		}

		created, err = s.repomanager.Blobs(tx).Create(ctx, blob)
		return err
	})
	if err != nil {
		if _, ok := apierrors.FromError(err); ok {
			return nil, err
		}
		if errors.Is(err, common.ErrorAlreadyExists) {
			s.logger.Info(ctx, "duplicate blob id", "id", in.ID)
			return nil, apierrors.GenericError
		}
		return nil, fmt.Errorf("error creating blob: %w", err)
	}

	return viewOf(created), nil
}

// Update replaces a blob with a strictly longer one while its budget lasts.
// When the blob is missing, out of budget or not growing, nothing changes
// and the result reports Updated false.
func (s *BlobService) Update(ctx context.Context, accountID int64, in BlobInput) (*BlobUpdate, error) {
	if err := validateBlob(in); err != nil {
		return nil, err
	}

	b, err := s.repomanager.Blobs(s.db).UpdateIfLarger(ctx, accountID, in.ID, []byte(in.Blob))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return &BlobUpdate{Updated: false}, nil
		}
		return nil, fmt.Errorf("error updating blob: %w", err)
	}

	left := b.UpdatesLeft
	return &BlobUpdate{
		Updated:     true,
		ID:          b.ID,
		Blob:        string(b.Blob),
		CreatedAt:   b.CreatedAt.Unix(),
		UpdatesLeft: &left,
	}, nil
}

func (s *BlobService) List(ctx context.Context, accountID int64) ([]BlobView, error) {
	blobs, err := s.repomanager.Blobs(s.db).ListByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("error listing blobs: %w", err)
	}

	views := make([]BlobView, 0, len(blobs))
	for _, b := range blobs {
		views = append(views, *viewOf(b))
	}
	return views, nil
}

func (s *BlobService) Count(ctx context.Context, accountID int64) (*BlobCount, error) {
	n, err := s.repomanager.Blobs(s.db).CountByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("error counting blobs: %w", err)
	}
	return &BlobCount{Num: n}, nil
}

func validateBlob(in BlobInput) error {
	if in.ID == "" || in.Blob == "" {
		return apierrors.MissingArguments
	}
	if len(in.Blob) > common.MaxBlobLen {
		return apierrors.BlobTooLong
	}
	return nil
}

func clampChanges(v *int64) int64 {
	if v == nil {
		return common.MaxBlobChanges
	}
	return min(max(*v, 0), common.MaxBlobChanges)
}

func viewOf(b *models.WalletBlob) *BlobView {
	return &BlobView{ID: b.ID, Blob: string(b.Blob), CreatedAt: b.CreatedAt.Unix()}
}

package services

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/deglet/internal/common"
	"github.com/dmitrijs2005/deglet/internal/dbx"
	"github.com/dmitrijs2005/deglet/internal/server/models"
	"github.com/dmitrijs2005/deglet/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/deglet/internal/server/repositories/blobs"
	"github.com/dmitrijs2005/deglet/internal/server/repositories/cosigners"
	"github.com/dmitrijs2005/deglet/internal/server/repositories/keys"
)

// --- helpers ---

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

// memStore is an in-memory stand-in for the four repositories. Writes are
// not rolled back with the surrounding transaction.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[int64]*models.Account
	keys     map[int64]*models.SigningKey
	blobs    []*models.WalletBlob
	links    map[string]*models.CosignerWallet

	// errs forces an operation ("accounts.create", "blobs.count", ...) to fail.
	errs map[string]error
	// beforeAdvance runs inside AdvanceNonce before the compare-and-set.
	beforeAdvance func(s *memStore, id int64)
}

func newMemStore() *memStore {
	return &memStore{
		accounts: map[int64]*models.Account{},
		keys:     map[int64]*models.SigningKey{},
		links:    map[string]*models.CosignerWallet{},
		errs:     map[string]error{},
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

// seedAccount registers an account with a publickey signing key.
func (s *memStore) seedAccount(username string, pub ed25519.PublicKey, lastNonce int64) (accountID, keyID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := &models.Account{ID: s.id(), Username: username, UserCheck: "abcdef", Salt: username + "-salt", Iterations: 10000, CreatedAt: time.Now()}
	s.accounts[a.ID] = a
	k := &models.SigningKey{ID: s.id(), AccountID: a.ID, Key: append([]byte(nil), pub...), KeyType: models.KeyTypePublicKey, LastNonce: lastNonce}
	s.keys[k.ID] = k
	return a.ID, k.ID
}

func (s *memStore) seedBlob(accountID int64, id, blob string, updatesLeft int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs = append(s.blobs, &models.WalletBlob{ID: id, AccountID: accountID, Blob: []byte(blob), UpdatesLeft: updatesLeft, CreatedAt: time.Unix(1000, 0)})
}

func (s *memStore) lastNonce(keyID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[keyID].LastNonce
}

func (s *memStore) blob(id string) *models.WalletBlob {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.blobs {
		if b.ID == id {
			c := *b
			return &c
		}
	}
	return nil
}

func (s *memStore) counts() (accounts, keys, blobs, links int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts), len(s.keys), len(s.blobs), len(s.links)
}

type memManager struct{ s *memStore }

func (m *memManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *memManager) Accounts(dbx.DBTX) accounts.Repository        { return memAccounts{m.s} }
func (m *memManager) Keys(dbx.DBTX) keys.Repository                { return memKeys{m.s} }
func (m *memManager) Blobs(dbx.DBTX) blobs.Repository              { return memBlobs{m.s} }
func (m *memManager) Cosigners(dbx.DBTX) cosigners.Repository      { return memCosigners{m.s} }

type memAccounts struct{ s *memStore }

func (r memAccounts) Create(_ context.Context, a *models.Account) (*models.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.errs["accounts.create"]; err != nil {
		return nil, err
	}
	for _, other := range r.s.accounts {
		if other.Username == a.Username {
			return nil, common.ErrorUsernameTaken
		}
		if other.Salt == a.Salt {
			return nil, common.ErrorAlreadyExists
		}
	}
	a.ID = r.s.id()
	a.CreatedAt = time.Now()
	c := *a
	r.s.accounts[a.ID] = &c
	return a, nil
}

func (r memAccounts) FindByCredentials(_ context.Context, username, check string) (*models.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.errs["accounts.find"]; err != nil {
		return nil, err
	}
	for _, a := range r.s.accounts {
		if a.Username == username && a.UserCheck == check && a.DeactivatedAt == nil {
			c := *a
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r memAccounts) Lock(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.errs["accounts.lock"]; err != nil {
		return err
	}
	if _, ok := r.s.accounts[id]; !ok {
		return common.ErrorNotFound
	}
	return nil
}

type memKeys struct{ s *memStore }

func (r memKeys) Create(_ context.Context, k *models.SigningKey) (*models.SigningKey, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.errs["keys.create"]; err != nil {
		return nil, err
	}
	for _, other := range r.s.keys {
		if bytes.Equal(other.Key, k.Key) {
			return nil, common.ErrorAlreadyExists
		}
	}
	k.ID = r.s.id()
	c := *k
	r.s.keys[k.ID] = &c
	return k, nil
}

func (r memKeys) FindByKey(_ context.Context, key []byte) (*models.KeyOwner, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.errs["keys.find"]; err != nil {
		return nil, err
	}
	for _, k := range r.s.keys {
		a := r.s.accounts[k.AccountID]
		if bytes.Equal(k.Key, key) && k.DeactivatedAt == nil && a != nil && a.DeactivatedAt == nil {
			return &models.KeyOwner{Key: *k, Username: a.Username}, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r memKeys) AdvanceNonce(_ context.Context, id int64, nonce int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.errs["keys.advance"]; err != nil {
		return false, err
	}
	if r.s.beforeAdvance != nil {
		r.s.beforeAdvance(r.s, id)
	}
	k, ok := r.s.keys[id]
	if !ok || k.LastNonce >= nonce {
		return false, nil
	}
	k.LastNonce = nonce
	return true, nil
}

type memBlobs struct{ s *memStore }

func (r memBlobs) Create(_ context.Context, b *models.WalletBlob) (*models.WalletBlob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.errs["blobs.create"]; err != nil {
		return nil, err
	}
	for _, other := range r.s.blobs {
		if other.ID == b.ID {
			return nil, common.ErrorAlreadyExists
		}
	}
	b.CreatedAt = time.Now()
	c := *b
	r.s.blobs = append(r.s.blobs, &c)
	return b, nil
}

func (r memBlobs) CountByAccount(_ context.Context, accountID int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.errs["blobs.count"]; err != nil {
		return 0, err
	}
	var n int64
	for _, b := range r.s.blobs {
		if b.AccountID == accountID {
			n++
		}
	}
	return n, nil
}

func (r memBlobs) ListByAccount(_ context.Context, accountID int64) ([]*models.WalletBlob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.errs["blobs.list"]; err != nil {
		return nil, err
	}
	out := make([]*models.WalletBlob, 0)
	for _, b := range r.s.blobs {
		if b.AccountID == accountID {
			c := *b
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r memBlobs) Exists(_ context.Context, accountID int64, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.errs["blobs.exists"]; err != nil {
		return false, err
	}
	for _, b := range r.s.blobs {
		if b.ID == id && b.AccountID == accountID {
			return true, nil
		}
	}
	return false, nil
}

func (r memBlobs) UpdateIfLarger(_ context.Context, accountID int64, id string, blob []byte) (*models.WalletBlob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.errs["blobs.update"]; err != nil {
		return nil, err
	}
	for _, b := range r.s.blobs {
		if b.ID == id && b.AccountID == accountID && b.UpdatesLeft > 0 && len(b.Blob) < len(blob) {
			b.UpdatesLeft--
			b.Blob = append([]byte(nil), blob...)
			c := *b
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

type memCosigners struct{ s *memStore }

func (r memCosigners) Create(_ context.Context, l *models.CosignerWallet) (*models.CosignerWallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.errs["cosigners.create"]; err != nil {
		return nil, err
	}
	if _, ok := r.s.links[l.WalletID]; ok {
		return nil, common.ErrorAlreadyExists
	}
	l.ID = r.s.id()
	c := *l
	r.s.links[l.WalletID] = &c
	return l, nil
}

func (r memCosigners) FindByWallet(_ context.Context, accountID int64, walletID string) (*models.CosignerWallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.errs["cosigners.find"]; err != nil {
		return nil, err
	}
	l, ok := r.s.links[walletID]
	if !ok || l.AccountID != accountID {
		return nil, common.ErrorNotFound
	}
	c := *l
	return &c, nil
}

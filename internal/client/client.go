// Package client is a Go client for the deglet API. It derives the account
// signing key from the password, signs every request with a fresh nonce and
// opens the signed responses.
package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/deglet/internal/client/store"
	"github.com/dmitrijs2005/deglet/internal/common"
	"github.com/dmitrijs2005/deglet/internal/cryptox"
	"github.com/dmitrijs2005/deglet/internal/server/auth"
)

const maxResponseSize = 1 << 20

var (
	ErrNoSigningKey      = errors.New("client has no signing key, sign up or log in first")
	ErrUnexpectedSigner  = errors.New("response signed by an unexpected key")
	ErrMalformedResponse = errors.New("malformed response")
	ErrNoStore           = errors.New("client has no local store")
)

// APIError is an error reported by the server.
type APIError struct {
	Status int
	Code   int
	Reason string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("deglet: %d %s (HTTP %d)", e.Code, e.Reason, e.Status)
}

type Blob struct {
	ID        string `json:"id"`
	Blob      string `json:"blob"`
	CreatedAt int64  `json:"created_at"`
}

type BlobUpdate struct {
	Updated     bool   `json:"updated"`
	ID          string `json:"id,omitempty"`
	Blob        string `json:"blob,omitempty"`
	CreatedAt   int64  `json:"created_at,omitempty"`
	UpdatesLeft *int64 `json:"updates_left,omitempty"`
}

type UserData struct {
	Salt       string `json:"salt"`
	Iterations int    `json:"iterations"`
}

type Client struct {
	baseURL   string
	http      *http.Client
	serverKID string
	store     *store.Store

	mu        sync.Mutex
	key       ed25519.PrivateKey
	blobKey   []byte
	lastNonce int64
	now       func() time.Time
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithServerKey makes the client reject responses not signed by kid.
func WithServerKey(kid string) Option {
	return func(c *Client) { c.serverKID = kid }
}

// WithStore caches account parameters and wallets in s.
func WithStore(s *store.Store) Option {
	return func(c *Client) { c.store = s }
}

// WithSigningKey sets the account key directly instead of deriving it.
func WithSigningKey(key ed25519.PrivateKey) Option {
	return func(c *Client) { c.key = key }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// KeyID returns the key id of the account key, or "" when none is set.
func (c *Client) KeyID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key == nil {
		return ""
	}
	return auth.EncodePublicKey(c.key.Public().(ed25519.PublicKey))
}

// Signup creates an account with a fresh salt and leaves the client logged
// in with the derived key.
func (c *Client) Signup(ctx context.Context, username string, password []byte, iterations int) error {
	salt, err := cryptox.NewSalt()
	if err != nil {
		return err
	}
	c.setKeys(password, salt, iterations)

	err = c.call(ctx, http.MethodPost, "/user/signup", map[string]any{
		"username":   username,
		"check":      cryptox.UserCheck(username, password),
		"salt":       salt,
		"iterations": iterations,
	}, nil)
	if err != nil {
		return err
	}
	return c.saveAccount(ctx, username, salt, iterations)
}

// Login fetches the account's key derivation parameters and derives the
// signing key from password. It does not contact authenticated routes.
func (c *Client) Login(ctx context.Context, username string, password []byte) error {
	data, err := c.UserData(ctx, username, cryptox.UserCheck(username, password))
	if err != nil {
		return err
	}
	c.setKeys(password, data.Salt, data.Iterations)
	return c.saveAccount(ctx, username, data.Salt, data.Iterations)
}

// Unlock derives the keys from password and the account parameters saved in
// the local store, without contacting the server.
func (c *Client) Unlock(ctx context.Context, password []byte) (string, error) {
	if c.store == nil {
		return "", ErrNoStore
	}
	a, err := c.store.Account(ctx)
	if err != nil {
		return "", err
	}
	c.setKeys(password, a.Salt, a.Iterations)
	if c.serverKID == "" {
		c.serverKID = a.ServerKID
	}
	return a.Username, nil
}

// Logout drops the keys and the local cache.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.key, c.blobKey = nil, nil
	c.mu.Unlock()
	if c.store == nil {
		return nil
	}
	return c.store.Clear(ctx)
}

// Sync replaces the cached wallets with the server's copy and returns how
// many there are.
func (c *Client) Sync(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, ErrNoStore
	}
	blobs, err := c.Blobs(ctx)
	if err != nil {
		return 0, err
	}
	cached := make([]store.Blob, 0, len(blobs))
	for _, b := range blobs {
		cached = append(cached, store.Blob{ID: b.ID, Blob: b.Blob, CreatedAt: b.CreatedAt})
	}
	if err := c.store.ReplaceBlobs(ctx, cached); err != nil {
		return 0, err
	}
	return len(cached), nil
}

// CachedWallets lists the wallets in the local store.
func (c *Client) CachedWallets(ctx context.Context) ([]Blob, error) {
	if c.store == nil {
		return nil, ErrNoStore
	}
	cached, err := c.store.Blobs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Blob, 0, len(cached))
	for _, b := range cached {
		out = append(out, Blob{ID: b.ID, Blob: b.Blob, CreatedAt: b.CreatedAt})
	}
	return out, nil
}

func (c *Client) saveAccount(ctx context.Context, username, salt string, iterations int) error {
	if c.store == nil {
		return nil
	}
	return c.store.SaveAccount(ctx, store.Account{
		Username:   username,
		Salt:       salt,
		Iterations: iterations,
		ServerKID:  c.serverKID,
	})
}

func (c *Client) UserData(ctx context.Context, username, check string) (*UserData, error) {
	q := url.Values{"username": {username}, "check": {check}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user/data?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var out UserData
	if err := c.do(req, c.baseURL+"/user/data", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateBlob stores blob under id. A nil maxChanges leaves the server
// default.
func (c *Client) CreateBlob(ctx context.Context, id, blob string, maxChanges *int64) (*Blob, error) {
	claims := map[string]any{"id": id, "blob": blob}
	if maxChanges != nil {
		claims["maxchanges"] = *maxChanges
	}
	var out Blob
	if err := c.call(ctx, http.MethodPost, "/user/blob", claims, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateBlob(ctx context.Context, id, blob string) (*BlobUpdate, error) {
	var out BlobUpdate
	if err := c.call(ctx, http.MethodPut, "/user/blob", map[string]any{"id": id, "blob": blob}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Blobs(ctx context.Context) ([]Blob, error) {
	var out []Blob
	if err := c.call(ctx, http.MethodPost, "/user", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) BlobCount(ctx context.Context) (int64, error) {
	var out struct {
		Num int64 `json:"num"`
	}
	if err := c.call(ctx, http.MethodPost, "/user", map[string]any{"count": 1}, &out); err != nil {
		return 0, err
	}
	return out.Num, nil
}

// StoreWallet seals wallet with the blob key and stores it under id.
func (c *Client) StoreWallet(ctx context.Context, id string, wallet any, maxChanges *int64) (*Blob, error) {
	blob, err := c.seal(wallet)
	if err != nil {
		return nil, err
	}
	created, err := c.CreateBlob(ctx, id, blob, maxChanges)
	if err != nil {
		return nil, err
	}
	if c.store != nil {
		if err := c.store.PutBlob(ctx, store.Blob{ID: created.ID, Blob: created.Blob, CreatedAt: created.CreatedAt}); err != nil {
			return nil, err
		}
	}
	return created, nil
}

// UpdateWallet re-seals wallet and replaces the blob stored under id. The
// server only accepts a sealed blob longer than the current one.
func (c *Client) UpdateWallet(ctx context.Context, id string, wallet any) (*BlobUpdate, error) {
	blob, err := c.seal(wallet)
	if err != nil {
		return nil, err
	}
	upd, err := c.UpdateBlob(ctx, id, blob)
	if err != nil {
		return nil, err
	}
	if upd.Updated && c.store != nil {
		if err := c.store.PutBlob(ctx, store.Blob{ID: upd.ID, Blob: upd.Blob, CreatedAt: upd.CreatedAt}); err != nil {
			return nil, err
		}
	}
	return upd, nil
}

// OpenWallet decrypts a blob stored with StoreWallet into v.
func (c *Client) OpenWallet(b Blob, v any) error {
	c.mu.Lock()
	key := c.blobKey
	c.mu.Unlock()
	if key == nil {
		return ErrNoSigningKey
	}
	return cryptox.OpenBlob(b.Blob, key, v)
}

func (c *Client) JoinCosigner(ctx context.Context, walletID, secret string) error {
	return c.call(ctx, http.MethodPost, "/cosigner", map[string]any{"id": walletID, "secret": secret}, nil)
}

// NewAddress derives num addresses. The result is a single address object
// when num is 1 and {walletId, result} otherwise.
func (c *Client) NewAddress(ctx context.Context, walletID string, num int64) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.call(ctx, http.MethodPost, "/address", map[string]any{"id": walletID, "num": num}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Balance(ctx context.Context, walletID string) (json.RawMessage, error) {
	var out struct {
		BTC json.RawMessage `json:"btc"`
	}
	if err := c.call(ctx, http.MethodPost, "/balance", map[string]any{"id": walletID}, &out); err != nil {
		return nil, err
	}
	return out.BTC, nil
}

func (c *Client) setKeys(password []byte, salt string, iterations int) {
	key := cryptox.DeriveSigningKey(password, salt, iterations)
	blobKey := cryptox.DeriveBlobKey(password, salt)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.key, c.blobKey = key, blobKey
}

func (c *Client) seal(v any) (string, error) {
	c.mu.Lock()
	key := c.blobKey
	c.mu.Unlock()
	if key == nil {
		return "", ErrNoSigningKey
	}
	blob, err := cryptox.SealBlob(v, key)
	if err != nil {
		return "", err
	}
	if len(blob) > common.MaxBlobLen {
		return "", fmt.Errorf("sealed wallet is %d bytes, limit is %d", len(blob), common.MaxBlobLen)
	}
	return blob, nil
}

// nonce returns a value strictly greater than any returned before.
func (c *Client) nonce() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := max(c.now().UnixMicro(), c.lastNonce+1)
	c.lastNonce = n
	return n
}

// call signs claims for path and decodes the response data into out.
func (c *Client) call(ctx context.Context, method, path string, claims map[string]any, out any) error {
	c.mu.Lock()
	key := c.key
	c.mu.Unlock()
	if key == nil {
		return ErrNoSigningKey
	}

	audience := c.baseURL + path
	msg := auth.Claims{}
	for k, v := range claims {
		msg[k] = v
	}
	msg["aud"] = audience
	msg["iat"] = c.nonce()

	raw, err := auth.SignClaims(msg, key)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, audience, bytes.NewBufferString(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/jose")

	return c.do(req, audience, out)
}

func (c *Client) do(req *http.Request, audience string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return err
	}

	env, err := auth.Verify(strings.TrimSpace(string(body)), audience)
	if err != nil {
		return fmt.Errorf("%w: HTTP %d: %v", ErrMalformedResponse, resp.StatusCode, err)
	}
	if c.serverKID != "" && env.Header.KeyID != c.serverKID {
		return ErrUnexpectedSigner
	}

	data, err := json.Marshal(env.Claims["data"])
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
			Code  int    `json:"code"`
		}
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return &APIError{Status: resp.StatusCode, Code: e.Code, Reason: e.Error}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

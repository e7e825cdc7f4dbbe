package rest

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/deglet/internal/logging"
	"github.com/dmitrijs2005/deglet/internal/server/apierrors"
	"github.com/dmitrijs2005/deglet/internal/server/auth"
	"github.com/dmitrijs2005/deglet/internal/server/metrics"
	"github.com/dmitrijs2005/deglet/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(b byte) ed25519.PrivateKey {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = b
	}
	return ed25519.NewKeyFromSeed(seed)
}

var (
	serverKey = testKey(0x5a)
	clientKey = testKey(0x11)
)

// ---- fakes ----

type fakeAuth struct{}

func (fakeAuth) Authenticate(_ context.Context, raw, audience string) (*services.Principal, auth.Claims, error) {
	env, err := auth.Verify(raw, audience)
	if err != nil {
		return nil, nil, apierrors.InvalidMessage.Unauthorized()
	}
	if n, _ := env.Claims.Nonce(); n <= 0 {
		return nil, nil, apierrors.InvalidNonce.Unauthorized()
	}
	return &services.Principal{AccountID: 7, Username: "alice", Key: env.Header.KeyID}, env.Claims, nil
}

type fakeUsers struct {
	mu        sync.Mutex
	audiences []string
	signupErr error
	data      *services.UserData
	dataErr   error
}

func (f *fakeUsers) Signup(_ context.Context, raw, audience string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audiences = append(f.audiences, audience)
	if f.signupErr != nil {
		return f.signupErr
	}
	_, err := auth.Verify(raw, audience)
	if err != nil {
		return apierrors.InvalidMessage
	}
	return nil
}

func (f *fakeUsers) UserData(_ context.Context, username, check string) (*services.UserData, error) {
	if username == "" || check == "" {
		return nil, apierrors.MissingArguments
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data, f.dataErr
}

func (f *fakeUsers) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.audiences...)
}

func (f *fakeUsers) set(signupErr, dataErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signupErr, f.dataErr = signupErr, dataErr
}

type fakeBlobs struct {
	mu        sync.Mutex
	lastInput services.BlobInput
	lastOwner int64
	err       error
}

func (f *fakeBlobs) record(accountID int64, in services.BlobInput) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastOwner, f.lastInput = accountID, in
}

func (f *fakeBlobs) last() (int64, services.BlobInput) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastOwner, f.lastInput
}

func (f *fakeBlobs) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeBlobs) Create(_ context.Context, accountID int64, in services.BlobInput) (*services.BlobView, error) {
	f.record(accountID, in)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &services.BlobView{ID: in.ID, Blob: in.Blob, CreatedAt: 1700000000}, nil
}

func (f *fakeBlobs) Update(_ context.Context, accountID int64, in services.BlobInput) (*services.BlobUpdate, error) {
	f.record(accountID, in)
	return &services.BlobUpdate{Updated: false}, nil
}

func (f *fakeBlobs) List(_ context.Context, accountID int64) ([]services.BlobView, error) {
	f.record(accountID, services.BlobInput{})
	return []services.BlobView{{ID: "b1", Blob: "x", CreatedAt: 1}}, nil
}

func (f *fakeBlobs) Count(_ context.Context, accountID int64) (*services.BlobCount, error) {
	f.record(accountID, services.BlobInput{})
	return &services.BlobCount{Num: 1}, nil
}

type fakeWallets struct {
	mu      sync.Mutex
	lastNum int64
	lastID  string
}

func (f *fakeWallets) Join(_ context.Context, _ int64, secret, walletID string) error {
	if secret == "" || walletID == "" {
		return apierrors.MissingArguments
	}
	return nil
}

func (f *fakeWallets) NewAddress(_ context.Context, _ int64, walletID string, num int64) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastID, f.lastNum = walletID, num
	return &services.Address{Address: json.RawMessage(`"tb1q"`), Path: json.RawMessage(`"m/0/0"`), CreatedOn: json.RawMessage(`1`)}, nil
}

func (f *fakeWallets) num() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastNum
}

func (f *fakeWallets) Balance(_ context.Context, _ int64, walletID string) (*services.Balance, error) {
	if walletID == "" {
		return nil, apierrors.MissingArguments
	}
	return &services.Balance{BTC: json.RawMessage(`{"confirmed":5}`)}, nil
}

// ---- harness ----

type harness struct {
	srv      *httptest.Server
	users    *fakeUsers
	blobs    *fakeBlobs
	wallets  *fakeWallets
	registry *prometheus.Registry
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		users:    &fakeUsers{data: &services.UserData{Salt: "abcd", Iterations: 10000}},
		blobs:    &fakeBlobs{},
		wallets:  &fakeWallets{},
		registry: prometheus.NewRegistry(),
	}
	opts.SigningKey = serverKey
	opts.Gatherer = h.registry
	s := NewServer(opts, Services{Auth: fakeAuth{}, Users: h.users, Blobs: h.blobs, Wallets: h.wallets}, logging.Nop{}, metrics.NewMetrics(h.registry))
	h.srv = httptest.NewServer(s.Handler())
	t.Cleanup(h.srv.Close)
	return h
}

var nonceMu sync.Mutex
var lastNonce int64

func nextNonce() int64 {
	nonceMu.Lock()
	defer nonceMu.Unlock()
	lastNonce++
	return lastNonce
}

func (h *harness) sign(t *testing.T, path string, claims auth.Claims) string {
	t.Helper()
	c := auth.Claims{"aud": h.srv.URL + path, "iat": nextNonce()}
	for k, v := range claims {
		c[k] = v
	}
	raw, err := auth.SignClaims(c, clientKey)
	require.NoError(t, err)
	return raw
}

func (h *harness) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", ContentType)
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// open verifies a response envelope addressed to audience and decodes its
// data into out.
func open(t *testing.T, resp *http.Response, audience string, out any) {
	t.Helper()
	assert.Equal(t, ContentType, resp.Header.Get("Content-Type"))
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	env, err := auth.Verify(string(b), audience)
	require.NoError(t, err)
	assert.Equal(t, auth.EncodePublicKey(serverKey.Public().(ed25519.PublicKey)), env.Header.KeyID)

	data, err := json.Marshal(env.Claims["data"])
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out))
}

func requireError(t *testing.T, resp *http.Response, audience string, want *apierrors.Error, status int) {
	t.Helper()
	require.Equal(t, status, resp.StatusCode)
	var body apierrors.Body
	open(t, resp, audience, &body)
	assert.Equal(t, want.Code, body.Code)
	assert.Equal(t, want.Reason, body.Error)
}

// ---- tests ----

func TestHealth(t *testing.T) {
	h := newHarness(t, Options{})
	resp := h.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(b))
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))
}

func TestSignup_SignedSuccess(t *testing.T) {
	h := newHarness(t, Options{})
	raw := h.sign(t, "/user/signup", auth.Claims{"username": "alice"})

	resp := h.do(t, http.MethodPost, "/user/signup", raw)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	open(t, resp, h.srv.URL+"/user/signup", &body)
	assert.Empty(t, body)
	assert.Equal(t, []string{h.srv.URL + "/user/signup"}, h.users.seen())
}

func TestSignup_AudienceIgnoresQuery(t *testing.T) {
	h := newHarness(t, Options{})
	raw := h.sign(t, "/user/signup", nil)

	resp := h.do(t, http.MethodPost, "/user/signup?x=1", raw)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSignup_ErrorEnvelope(t *testing.T) {
	h := newHarness(t, Options{})
	h.users.set(apierrors.UsernameInUse, nil)

	resp := h.do(t, http.MethodPost, "/user/signup", h.sign(t, "/user/signup", nil))
	requireError(t, resp, h.srv.URL+"/user/signup", apierrors.UsernameInUse, http.StatusBadRequest)
}

func TestUnexpectedError_IsGeneric500(t *testing.T) {
	h := newHarness(t, Options{})
	h.users.set(errors.New("db down"), nil)

	resp := h.do(t, http.MethodPost, "/user/signup", h.sign(t, "/user/signup", nil))
	requireError(t, resp, h.srv.URL+"/user/signup", apierrors.GenericError, http.StatusInternalServerError)
}

func TestPublicURL_Audience(t *testing.T) {
	h := newHarness(t, Options{PublicURL: "https://wallet.example.com/"})
	aud := "https://wallet.example.com/user/signup"
	raw, err := auth.SignClaims(auth.Claims{"aud": aud, "iat": 1}, clientKey)
	require.NoError(t, err)

	resp := h.do(t, http.MethodPost, "/user/signup", raw)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	open(t, resp, aud, &body)
}

func TestUserData(t *testing.T) {
	h := newHarness(t, Options{})

	resp := h.do(t, http.MethodGet, "/user/data?username=alice&check=abcdef", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var data services.UserData
	open(t, resp, h.srv.URL+"/user/data", &data)
	assert.Equal(t, services.UserData{Salt: "abcd", Iterations: 10000}, data)

	resp = h.do(t, http.MethodGet, "/user/data", "")
	requireError(t, resp, h.srv.URL+"/user/data", apierrors.MissingArguments, http.StatusBadRequest)

	h.users.set(nil, apierrors.UserNotFound)
	resp = h.do(t, http.MethodGet, "/user/data?username=bob&check=abcdef", "")
	requireError(t, resp, h.srv.URL+"/user/data", apierrors.UserNotFound, http.StatusBadRequest)
}

func TestAuthedRoute_Rejections(t *testing.T) {
	h := newHarness(t, Options{})

	resp := h.do(t, http.MethodPost, "/user", "garbage")
	requireError(t, resp, h.srv.URL+"/user", apierrors.InvalidMessage, http.StatusUnauthorized)

	// signed for another route
	resp = h.do(t, http.MethodPost, "/user", h.sign(t, "/user/blob", nil))
	requireError(t, resp, h.srv.URL+"/user", apierrors.InvalidMessage, http.StatusUnauthorized)

	raw, err := auth.SignClaims(auth.Claims{"aud": h.srv.URL + "/user"}, clientKey)
	require.NoError(t, err)
	resp = h.do(t, http.MethodPost, "/user", raw)
	requireError(t, resp, h.srv.URL+"/user", apierrors.InvalidNonce, http.StatusUnauthorized)
}

func TestAuthedRoute_BodyTooLarge(t *testing.T) {
	h := newHarness(t, Options{})
	resp := h.do(t, http.MethodPost, "/user", strings.Repeat("a", MaxBodySize+1))
	requireError(t, resp, h.srv.URL+"/user", apierrors.InvalidMessage, http.StatusUnauthorized)
}

func TestCreateBlob_PassesClaims(t *testing.T) {
	h := newHarness(t, Options{})
	aud := h.srv.URL + "/user/blob"

	resp := h.do(t, http.MethodPost, "/user/blob", h.sign(t, "/user/blob", auth.Claims{"id": "w1", "blob": "data", "maxchanges": 3}))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view services.BlobView
	open(t, resp, aud, &view)
	assert.Equal(t, services.BlobView{ID: "w1", Blob: "data", CreatedAt: 1700000000}, view)

	owner, in := h.blobs.last()
	assert.Equal(t, int64(7), owner)
	require.NotNil(t, in.MaxChanges)
	assert.Equal(t, int64(3), *in.MaxChanges)

	resp = h.do(t, http.MethodPost, "/user/blob", h.sign(t, "/user/blob", auth.Claims{"id": "w2", "blob": "data"}))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, in = h.blobs.last()
	assert.Nil(t, in.MaxChanges)

	resp = h.do(t, http.MethodPost, "/user/blob", h.sign(t, "/user/blob", auth.Claims{"id": "w6", "blob": "data", "maxchanges": json.Number("1e19")}))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, in = h.blobs.last()
	require.NotNil(t, in.MaxChanges)
	assert.Equal(t, int64(math.MaxInt64), *in.MaxChanges, "oversized budgets saturate and are clamped by the service")

	resp = h.do(t, http.MethodPost, "/user/blob", h.sign(t, "/user/blob", auth.Claims{"id": "w3", "blob": "data", "maxchanges": "lots"}))
	requireError(t, resp, aud, apierrors.MissingArguments, http.StatusBadRequest)

	resp = h.do(t, http.MethodPost, "/user/blob", h.sign(t, "/user/blob", auth.Claims{"id": "w4"}))
	requireError(t, resp, aud, apierrors.MissingArguments, http.StatusBadRequest)

	h.blobs.fail(apierrors.TooManyBlobs)
	resp = h.do(t, http.MethodPost, "/user/blob", h.sign(t, "/user/blob", auth.Claims{"id": "w5", "blob": "data"}))
	requireError(t, resp, aud, apierrors.TooManyBlobs, http.StatusBadRequest)
}

func TestUpdateBlob(t *testing.T) {
	h := newHarness(t, Options{})

	resp := h.do(t, http.MethodPut, "/user/blob", h.sign(t, "/user/blob", auth.Claims{"id": "w1", "blob": "longer"}))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res map[string]any
	open(t, resp, h.srv.URL+"/user/blob", &res)
	assert.Equal(t, map[string]any{"updated": false}, res)
	_, in := h.blobs.last()
	assert.Equal(t, "longer", in.Blob)
}

func TestListBlobs_CountSwitch(t *testing.T) {
	h := newHarness(t, Options{})
	aud := h.srv.URL + "/user"

	resp := h.do(t, http.MethodPost, "/user", h.sign(t, "/user", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []services.BlobView
	open(t, resp, aud, &list)
	assert.Len(t, list, 1)

	resp = h.do(t, http.MethodPost, "/user", h.sign(t, "/user", auth.Claims{"count": 1}))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var count services.BlobCount
	open(t, resp, aud, &count)
	assert.Equal(t, int64(1), count.Num)
}

func TestCosignerRoutes(t *testing.T) {
	h := newHarness(t, Options{})

	resp := h.do(t, http.MethodPost, "/cosigner", h.sign(t, "/cosigner", auth.Claims{"secret": "s", "id": "w1"}))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/cosigner", h.sign(t, "/cosigner", auth.Claims{"id": "w1"}))
	requireError(t, resp, h.srv.URL+"/cosigner", apierrors.MissingArguments, http.StatusBadRequest)

	resp = h.do(t, http.MethodPost, "/address", h.sign(t, "/address", auth.Claims{"id": "w1"}))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var addr map[string]any
	open(t, resp, h.srv.URL+"/address", &addr)
	assert.Equal(t, "tb1q", addr["address"])
	assert.Equal(t, int64(1), h.wallets.num())

	resp = h.do(t, http.MethodPost, "/address", h.sign(t, "/address", auth.Claims{"id": "w1", "num": 5}))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(5), h.wallets.num())

	resp = h.do(t, http.MethodPost, "/address", h.sign(t, "/address", auth.Claims{"id": "w1", "num": "many"}))
	requireError(t, resp, h.srv.URL+"/address", apierrors.InvalidAddressCount, http.StatusBadRequest)

	resp = h.do(t, http.MethodPost, "/balance", h.sign(t, "/balance", auth.Claims{"id": "w1"}))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var bal map[string]map[string]any
	open(t, resp, h.srv.URL+"/balance", &bal)
	assert.Equal(t, float64(5), bal["btc"]["confirmed"])
}

func TestCORS_Preflight(t *testing.T) {
	h := newHarness(t, Options{AllowedOrigins: []string{"https://app.example.com"}})

	req, err := http.NewRequest(http.MethodOptions, h.srv.URL+"/user/blob", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, Options{})
	h.do(t, http.MethodGet, "/health", "")

	resp := h.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), `deglet_http_requests_total{route="/health",status="200"} 1`)
}

func TestMetrics_UnmatchedPathsShareOneSeries(t *testing.T) {
	h := newHarness(t, Options{})
	for i := 0; i < 50; i++ {
		resp := h.do(t, http.MethodGet, "/junk/"+strconv.Itoa(i), "")
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	}

	resp := h.do(t, http.MethodGet, "/metrics", "")
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	body := string(b)
	assert.Contains(t, body, `deglet_http_requests_total{route="unmatched",status="404"} 50`)
	assert.NotContains(t, body, "/junk/")
	assert.Equal(t, 1, strings.Count(body, "deglet_http_requests_total{"))
}

func TestRenderError_Deterministic(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	a, err := RenderError(apierrors.TooManyBlobs, "https://x/user/blob", serverKey, now)
	require.NoError(t, err)
	b, err := RenderError(apierrors.TooManyBlobs, "https://x/user/blob", serverKey, now)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	env, err := auth.Verify(a, "https://x/user/blob")
	require.NoError(t, err)
	data := env.Claims["data"].(map[string]any)
	assert.Equal(t, "no more blobs allowed for this account", data["error"])
	assert.Equal(t, json.Number("1429"), data["code"])
	assert.Equal(t, json.Number(strconv.FormatInt(now.Unix(), 10)), env.Claims["iat"])
}

// Package rest serves the signed envelope HTTP API. Requests and responses
// are compact JWS messages; every response, errors included, is signed with
// the server key and addressed to the URL that was requested.
package rest

import (
	"context"
	"crypto/ed25519"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/deglet/internal/logging"
	"github.com/dmitrijs2005/deglet/internal/server/auth"
	"github.com/dmitrijs2005/deglet/internal/server/metrics"
	"github.com/dmitrijs2005/deglet/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

type Authenticator interface {
	Authenticate(ctx context.Context, raw, audience string) (*services.Principal, auth.Claims, error)
}

type Users interface {
	Signup(ctx context.Context, raw, audience string) error
	UserData(ctx context.Context, username, check string) (*services.UserData, error)
}

type Blobs interface {
	Create(ctx context.Context, accountID int64, in services.BlobInput) (*services.BlobView, error)
	Update(ctx context.Context, accountID int64, in services.BlobInput) (*services.BlobUpdate, error)
	List(ctx context.Context, accountID int64) ([]services.BlobView, error)
	Count(ctx context.Context, accountID int64) (*services.BlobCount, error)
}

type Wallets interface {
	Join(ctx context.Context, accountID int64, secret, walletID string) error
	NewAddress(ctx context.Context, accountID int64, walletID string, num int64) (any, error)
	Balance(ctx context.Context, accountID int64, walletID string) (*services.Balance, error)
}

// Services groups the business operations behind the route table.
type Services struct {
	Auth    Authenticator
	Users   Users
	Blobs   Blobs
	Wallets Wallets
}

// Options configures a Server.
type Options struct {
	Address string
	// PublicURL, when set, replaces scheme and host of the request when the
	// audience is computed. Needed behind proxies that rewrite the host.
	PublicURL      string
	AllowedOrigins []string
	SigningKey     ed25519.PrivateKey
	// Gatherer backs /metrics; the default gatherer when nil.
	Gatherer prometheus.Gatherer
}

type Server struct {
	address   string
	publicURL string
	origins   []string
	gatherer  prometheus.Gatherer
	svc       Services
	respond   *responder
	logger    logging.Logger
	metrics   *metrics.Metrics
	handler   http.Handler
}

func NewServer(opts Options, svc Services, logger logging.Logger, m *metrics.Metrics) *Server {
	logger = logger.With("module", "rest_server")
	s := &Server{
		address:   opts.Address,
		publicURL: strings.TrimRight(opts.PublicURL, "/"),
		origins:   opts.AllowedOrigins,
		gatherer:  opts.Gatherer,
		svc:       svc,
		respond:   &responder{key: opts.SigningKey, now: time.Now, logger: logger},
		logger:    logger,
		metrics:   m,
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	if len(s.origins) == 0 {
		s.origins = []string{"*"}
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowedHeaders: []string{"Content-Type"},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	}))
	r.Use(limitBody)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Post("/user/signup", s.plain(s.signup))
	r.Get("/user/data", s.plain(s.userData))
	r.Post("/user/blob", s.authed(s.createBlob))
	r.Put("/user/blob", s.authed(s.updateBlob))
	r.Post("/user", s.authed(s.listBlobs))
	r.Post("/cosigner", s.authed(s.joinCosigner))
	r.Post("/address", s.authed(s.newAddress))
	r.Post("/balance", s.authed(s.balance))

	return r
}

// Run serves HTTP on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "HTTP shutdown failed", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// audience is the URL the request was sent to, without its query string.
func (s *Server) audience(r *http.Request) string {
	if s.publicURL != "" {
		return s.publicURL + r.URL.Path
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.Path
}

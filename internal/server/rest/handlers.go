package rest

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/deglet/internal/server/apierrors"
	"github.com/dmitrijs2005/deglet/internal/server/auth"
	"github.com/dmitrijs2005/deglet/internal/server/services"
)

// plainHandler serves a route that does not require an authenticated key.
type plainHandler func(r *http.Request, audience string) (any, error)

// authedHandler serves a route on behalf of an authenticated caller.
type authedHandler func(ctx context.Context, p *services.Principal, claims auth.Claims) (any, error)

func (s *Server) plain(h plainHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		audience := s.audience(r)
		result, err := h(r, audience)
		if err != nil {
			s.respond.fail(w, r, audience, err)
			return
		}
		s.respond.success(w, r, audience, result)
	}
}

func (s *Server) authed(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		audience := s.audience(r)

		raw, err := readEnvelope(r)
		if err != nil {
			s.respond.fail(w, r, audience, apierrors.InvalidMessage.Unauthorized())
			return
		}

		p, claims, err := s.svc.Auth.Authenticate(r.Context(), raw, audience)
		if err != nil {
			s.respond.fail(w, r, audience, err)
			return
		}

		result, err := h(r.Context(), p, claims)
		if err != nil {
			s.respond.fail(w, r, audience, err)
			return
		}
		s.respond.success(w, r, audience, result)
	}
}

// readEnvelope returns the request body as a compact JWS string.
func readEnvelope(r *http.Request) (string, error) {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func (s *Server) signup(r *http.Request, audience string) (any, error) {
	raw, err := readEnvelope(r)
	if err != nil {
		return nil, apierrors.InvalidMessage
	}
	if err := s.svc.Users.Signup(r.Context(), raw, audience); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (s *Server) userData(r *http.Request, _ string) (any, error) {
	q := r.URL.Query()
	return s.svc.Users.UserData(r.Context(), q.Get("username"), q.Get("check"))
}

func (s *Server) createBlob(ctx context.Context, p *services.Principal, claims auth.Claims) (any, error) {
	in, err := blobInput(claims)
	if err != nil {
		return nil, err
	}
	maxChanges, present, err := claims.Int("maxchanges")
	if err != nil {
		return nil, apierrors.MissingArguments
	}
	if present {
		in.MaxChanges = &maxChanges
	}
	return s.svc.Blobs.Create(ctx, p.AccountID, in)
}

func (s *Server) updateBlob(ctx context.Context, p *services.Principal, claims auth.Claims) (any, error) {
	in, err := blobInput(claims)
	if err != nil {
		return nil, err
	}
	return s.svc.Blobs.Update(ctx, p.AccountID, in)
}

// listBlobs returns the caller's blobs, or only their number when the
// count claim is non-zero.
func (s *Server) listBlobs(ctx context.Context, p *services.Principal, claims auth.Claims) (any, error) {
	count, _, err := claims.Int("count")
	if err != nil {
		return nil, apierrors.MissingArguments
	}
	if count != 0 {
		return s.svc.Blobs.Count(ctx, p.AccountID)
	}
	return s.svc.Blobs.List(ctx, p.AccountID)
}

func (s *Server) joinCosigner(ctx context.Context, p *services.Principal, claims auth.Claims) (any, error) {
	secret, _ := claims.String("secret")
	walletID, _ := claims.String("id")
	if err := s.svc.Wallets.Join(ctx, p.AccountID, secret, walletID); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (s *Server) newAddress(ctx context.Context, p *services.Principal, claims auth.Claims) (any, error) {
	walletID, _ := claims.String("id")
	num, present, err := claims.Int("num")
	if err != nil {
		return nil, apierrors.InvalidAddressCount
	}
	if !present {
		num = 1
	}
	return s.svc.Wallets.NewAddress(ctx, p.AccountID, walletID, num)
}

func (s *Server) balance(ctx context.Context, p *services.Principal, claims auth.Claims) (any, error) {
	walletID, _ := claims.String("id")
	return s.svc.Wallets.Balance(ctx, p.AccountID, walletID)
}

func blobInput(claims auth.Claims) (services.BlobInput, error) {
	id, _ := claims.String("id")
	blob, _ := claims.String("blob")
	if id == "" || blob == "" {
		return services.BlobInput{}, apierrors.MissingArguments
	}
	return services.BlobInput{ID: id, Blob: blob}, nil
}

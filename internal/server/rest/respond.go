package rest

import (
	"context"
	"crypto/ed25519"
	"net/http"
	"time"

	"github.com/dmitrijs2005/deglet/internal/logging"
	"github.com/dmitrijs2005/deglet/internal/server/apierrors"
	"github.com/dmitrijs2005/deglet/internal/server/auth"
)

// ContentType is the media type of every request and response envelope.
const ContentType = "application/jose"

// RenderError builds the signed error envelope reporting e to audience.
func RenderError(e *apierrors.Error, audience string, key ed25519.PrivateKey, now time.Time) (string, error) {
	return auth.Sign(e.Body(), key, audience, now)
}

// responder writes signed envelopes.
type responder struct {
	key    ed25519.PrivateKey
	now    func() time.Time
	logger logging.Logger
}

func (rs *responder) success(w http.ResponseWriter, r *http.Request, audience string, payload any) {
	if payload == nil {
		payload = struct{}{}
	}
	raw, err := auth.Sign(payload, rs.key, audience, rs.now())
	if err != nil {
		rs.logger.Error(r.Context(), "failed to sign response", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	rs.write(w, http.StatusOK, raw)
}

// fail reports err. Errors outside the apierrors taxonomy are logged and
// reported as a generic internal error.
func (rs *responder) fail(w http.ResponseWriter, r *http.Request, audience string, err error) {
	apiErr, ok := apierrors.FromError(err)
	if !ok {
		rs.logger.Error(r.Context(), "request failed", "error", err, "request_id", requestIDFrom(r.Context()))
		apiErr = apierrors.Internal
	}

	raw, err := RenderError(apiErr, audience, rs.key, rs.now())
	if err != nil {
		rs.logger.Error(r.Context(), "failed to sign error response", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	rs.write(w, apiErr.HTTPStatus(), raw)
}

func (rs *responder) write(w http.ResponseWriter, status int, raw string) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)
	_, _ = w.Write([]byte(raw))
}

type ctxKey string

const requestIDKey ctxKey = "requestID"

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

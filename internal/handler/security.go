package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/storefront/checkout/internal/domain/auth"
)

// APIKeyHeader carries the admin API key.
const APIKeyHeader = "api_key"

var errUnauthorized = errors.New("unauthorized")

// SecurityHandler authenticates admin requests via HMAC-SHA256 hashed API
// keys.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository and HMAC pepper.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// Authenticate hashes key, looks it up and compares the stored hash in
// constant time.
func (s *SecurityHandler) Authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error) {
	if key == "" {
		return nil, errUnauthorized
	}
	hash := auth.HashKey(s.pepper, key)

	info, err := s.apikeys.FindByHash(ctx, hash)
	if err != nil {
		return nil, errors.Wrap(errUnauthorized, err.Error())
	}
	if subtle.ConstantTimeCompare([]byte(hash), []byte(info.KeyHash)) != 1 {
		return nil, errUnauthorized
	}
	return info, nil
}

// Require wraps next so that it only runs for keys granting scope.
func (s *SecurityHandler) Require(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		lg := zctx.From(ctx)

		info, err := s.Authenticate(ctx, apiKey(r))
		if err != nil {
			lg.Warn("API key rejected", zap.Bool("security", true), zap.Error(err))
			writeStatus(w, http.StatusUnauthorized, "unauthorized", "a valid api key is required")
			return
		}
		if !info.HasScope(scope) {
			lg.Warn("API key lacks scope",
				zap.Bool("security", true),
				zap.String("api_key", info.Name),
				zap.String("scope", scope),
			)
			writeStatus(w, http.StatusForbidden, "forbidden", "api key does not grant "+scope)
			return
		}

		ctx = zctx.Base(ctx, lg.With(zap.String("api_key", info.Name)))
		next(w, r.WithContext(ctx))
	}
}

func apiKey(r *http.Request) string {
	if k := r.Header.Get(APIKeyHeader); k != "" {
		return k
	}
	if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

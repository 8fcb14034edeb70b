package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-fulfillment/internal/domain/auth"
	"github.com/xenking/storefront-fulfillment/pkg/httpmiddleware"
)

// APIKeyHeader carries the admin API key.
const APIKeyHeader = "api_key"

// Admin scopes.
const (
	ScopeDeliveryFee  = "orders:delivery-fee"
	ScopeCompensation = "compensation:run"
)

type userKey struct{}

func userFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(userKey{}).(int64)
	return id
}

// requireUser resolves the shopper from X-User-ID.
func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(httpmiddleware.UserIDHeader))
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeProblem(w, r, http.StatusUnauthorized, "unauthenticated", "authentication required")
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, id)
		ctx = zctx.Base(ctx, zctx.From(ctx).With(zap.Int64("user_id", id)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin authenticates the API key and checks scope.
func (h *Handler) requireAdmin(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := h.admins.Authenticate(r.Context(), r.Header.Get(APIKeyHeader))
			if errors.Is(err, auth.ErrUnauthorized) {
				writeProblem(w, r, http.StatusUnauthorized, "unauthorized", "invalid api key")
				return
			}
			if err != nil {
				writeError(w, r, err)
				return
			}
			if !key.HasScope(scope) {
				writeProblem(w, r, http.StatusForbidden, "forbidden", "api key lacks scope "+scope)
				return
			}
			ctx := zctx.Base(r.Context(), zctx.From(r.Context()).With(zap.String("api_key", key.Name)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/basket_oracle/internal/errors"
)

// CallerHeader names the account performing an administrative request.
const CallerHeader = "X-Caller"

type callerKey struct{}

// ParseCaller accepts a Neo address or a 0x-prefixed script hash.
func ParseCaller(raw string) (util.Uint160, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "0x") {
		return util.Uint160DecodeStringLE(strings.TrimPrefix(raw, "0x"))
	}
	return address.StringToUint160(raw)
}

// CallerMiddleware resolves the X-Caller header into the request context.
// Requests without the header pass through untouched; malformed values are
// rejected.
func CallerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(CallerHeader)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		caller, err := ParseCaller(raw)
		if err != nil {
			WriteError(w, errors.InvalidArgument("invalid %s header: %v", CallerHeader, err))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}

// CallerFrom returns the caller resolved by CallerMiddleware.
func CallerFrom(ctx context.Context) (util.Uint160, bool) {
	caller, ok := ctx.Value(callerKey{}).(util.Uint160)
	return caller, ok
}

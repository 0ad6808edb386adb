package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/ebogdum/hnsfs/metadata"
)

const maxRequestIDLength = 128

// V1RequestIDMiddleware tags each request with a correlation id. A
// well-formed X-Request-ID from the caller is kept so client and server logs
// share it; otherwise a new one is generated. The id is echoed back.
func V1RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(metadata.RequestIDHeader)
			if !validRequestID(requestID) {
				requestID = uuid.NewString()
			}

			w.Header().Set(metadata.RequestIDHeader, requestID)
			ctx := metadata.WithRequestID(r.Context(), requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for _, c := range id {
		if c <= ' ' || c > '~' {
			return false
		}
	}
	return true
}

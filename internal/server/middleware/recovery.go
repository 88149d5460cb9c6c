package middleware

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// errorResponse mirrors the server package's error payload. Declared here as
// well to keep middleware free of an import cycle.
type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Recovery converts panics into a logged 500 response instead of killing the
// connection.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					requestID := GetRequestID(r.Context())
					logger.Error("panic while handling request",
						zap.Any("panic", rec),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.String("request_id", requestID),
						zap.Stack("stack"),
					)

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(errorResponse{Error: errorDetail{
						Code:      "INTERNAL_ERROR",
						Message:   "internal server error",
						RequestID: requestID,
					}})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

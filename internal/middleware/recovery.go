package middleware

import (
	"fmt"
	"net/http"

	"stockledger-api/pkg/apierror"
	"stockledger-api/pkg/logger"
)

// Recovery recovers from panics and answers with a 500 envelope.
func Recovery(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logg.Error(r.Context(), "request.panic", fmt.Errorf("panic: %v", rec))

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write(apierror.InternalError("internal server error").ToJSON())
			}()

			next.ServeHTTP(w, r)
		})
	}
}

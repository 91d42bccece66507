package httpapi

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// loggingMiddleware logs one line per request, the way the teacher's
// walletserver middleware.Logger wraps every route.
func loggingMiddleware(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
			}).Info("handled request")
		})
	}
}

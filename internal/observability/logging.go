package observability

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// Logging writes one line per request. Bodies are never logged.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.Printf(
				"[http] request_id=%s method=%s path=%s status=%d bytes=%d duration_ms=%d",
				middleware.GetReqID(r.Context()), r.Method, r.URL.Path, status, ww.BytesWritten(), time.Since(start).Milliseconds(),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

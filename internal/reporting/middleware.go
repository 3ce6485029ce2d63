package reporting

import (
	"log/slog"
	"net/http"
)

type writeRecorder struct {
	http.ResponseWriter
	status int
}

func (w *writeRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// InvalidateOnWrite bumps the dashboard cache version after any successful
// mutating request passing through it. Mounting it over the billing route
// groups keeps the services free of reporting concerns.
func InvalidateOnWrite(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if service == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			rec := &writeRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if rec.status >= http.StatusBadRequest {
				return
			}
			if err := service.Invalidate(r.Context()); err != nil && logger != nil {
				logger.Warn("bump dashboard cache", slog.Any("error", err))
			}
		})
	}
}

package httpx

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	healthResponse = `{"status":"ok"}`
	readyTimeout   = 2 * time.Second
)

// healthHandler returns a simple 200 OK status for liveness checks.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.WriteString(w, healthResponse); err != nil {
		// Nothing more to do if the client connection is gone.
		return
	}
}

// ReadinessCheck reports whether a dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

// readyHandler runs every check concurrently and reports 503 if any fails.
func readyHandler(checks map[string]ReadinessCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		results := make(map[string]string, len(checks))
		failed := make(map[string]error, len(checks))
		type outcome struct {
			name string
			err  error
		}
		out := make(chan outcome, len(checks))

		var g errgroup.Group
		for name, check := range checks {
			g.Go(func() error {
				out <- outcome{name: name, err: check(ctx)}
				return nil
			})
		}
		_ = g.Wait()
		close(out)

		for o := range out {
			if o.err != nil {
				failed[o.name] = o.err
				results[o.name] = "unavailable"
				continue
			}
			results[o.name] = "ok"
		}

		if len(failed) > 0 {
			for name, err := range failed {
				logger.WarnContext(r.Context(), "readiness check failed", "dependency", name, "error", err)
			}
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": results})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "checks": results})
	}
}

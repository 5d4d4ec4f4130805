package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/warp/claims-engine/claims"
	"github.com/warp/claims-engine/generic"
	"golang.org/x/time/rate"
)

// StaffHeader carries the signed-in officer's staff ID.
const StaffHeader = "X-Staff-ID"

type staffContextKey struct{}

// staffFrom returns the officer attached by the session middleware.
func staffFrom(ctx context.Context) *claims.Staff {
	s, _ := ctx.Value(staffContextKey{}).(*claims.Staff)
	return s
}

// =============================================================================
// ACCESS LOG
// =============================================================================

func accessLog(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			remoteAddr := r.RemoteAddr
			if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				remoteAddr = host
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			entry := logger.WithFields(logrus.Fields{
				"request_id":  middleware.GetReqID(r.Context()),
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      status,
				"duration_ms": float64(time.Since(start).Microseconds()) / 1000.0,
				"bytes":       ww.BytesWritten(),
				"remote_addr": remoteAddr,
			})
			switch {
			case status >= 500:
				entry.Error("http_request")
			case status >= 400:
				entry.Warn("http_request")
			default:
				entry.Info("http_request")
			}
		})
	}
}

// =============================================================================
// SESSION
// =============================================================================

// session resolves the X-Staff-ID header against the staff table. The
// officer's region scopes every listing and report.
func (h *Handler) session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(StaffHeader))
		if id == "" {
			writeError(w, http.StatusUnauthorized, "Missing staff identity", generic.ErrUnauthorized)
			return
		}
		staff, err := h.Store.GetStaff(r.Context(), generic.StaffID(id))
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		if staff == nil {
			writeError(w, http.StatusUnauthorized, "Unknown staff member", generic.ErrUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), staffContextKey{}, staff)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// =============================================================================
// SUBMISSION RATE LIMIT
// =============================================================================

// staffLimiter hands out one token bucket per officer.
type staffLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[generic.StaffID]*rate.Limiter
}

func newStaffLimiter(perSecond float64, burst int) *staffLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &staffLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[generic.StaffID]*rate.Limiter),
	}
}

// Allow reports whether staff may submit now. A nil limiter allows all.
func (l *staffLimiter) Allow(staff generic.StaffID) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters[staff]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[staff] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

func (h *Handler) limitSubmissions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		staff := staffFrom(r.Context())
		if staff != nil && !h.limiter.Allow(staff.ID) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "Too many submissions, retry shortly", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

package transport

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"easyretouch/logging"
)

// Request headers set by the bot gateway.
const (
	HeaderUserID    = "X-User-ID"
	HeaderMessageID = "X-Message-ID"
)

type contextKey int

const userIDKey contextKey = iota

// UserFromContext returns the caller set by requireUser.
func UserFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(HeaderUserID)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing "+HeaderUserID)
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := UserFromContext(r.Context())
		if _, ok := s.admins[userID]; !ok {
			s.logger.Warn("admin access denied", logging.UserID(userID), zap.String("path", r.URL.Path))
			writeError(w, http.StatusForbidden, "access denied")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := UserFromContext(r.Context())
		if ok, retry := s.limiter.Allow(userID); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// logRequests logs one line per request. Health checks log at debug.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int(logging.KeyBytes, ww.BytesWritten()),
			logging.DurationMS(time.Since(start)),
			zap.String("request_id", chiMiddleware.GetReqID(r.Context())),
		}
		if id := r.Header.Get(HeaderUserID); id != "" {
			fields = append(fields, logging.UserID(id))
		}
		if r.URL.Path == "/healthz" {
			s.logger.Debug("request", fields...)
			return
		}
		s.logger.Info("request", fields...)
	})
}

package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"easyretouch/logging"
	"easyretouch/preset"
	"easyretouch/retouch"
)

// HeaderSessionID and HeaderCaption accompany a delivered image.
const (
	HeaderSessionID = "X-Session-ID"
	HeaderCaption   = "X-Retouch-Caption"
)

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	out := s.sessions.Start(r.Context(), UserFromContext(r.Context()), r.Header.Get(HeaderMessageID))
	writeOutcome(w, out)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	out := s.sessions.ReceiveImage(r.Context(), UserFromContext(r.Context()), data)
	writeOutcome(w, out)
}

func (s *Server) handlePreset(w http.ResponseWriter, r *http.Request) {
	p, err := preset.Parse(chi.URLParam(r, "preset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown preset")
		return
	}
	out := s.sessions.SelectPreset(r.Context(), UserFromContext(r.Context()), p)
	writeOutcome(w, out)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	writeOutcome(w, s.sessions.Cancel(r.Context(), UserFromContext(r.Context())))
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	report, err := s.admin.Report(r.Context())
	if err != nil {
		s.logger.Error("failed to build user report", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "report unavailable")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleUsersCSV(w http.ResponseWriter, r *http.Request) {
	// Buffer so a store failure still produces a clean error response.
	var buf bytes.Buffer
	if err := s.admin.ExportCSV(r.Context(), &buf); err != nil {
		s.logger.Error("failed to export users", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "export unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="users.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleSetPro(pro bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := chi.URLParam(r, "id")
		rec, err := s.admin.SetPro(r.Context(), target, pro)
		if err != nil {
			s.logger.Error("failed to change pro flag", logging.UserID(target), zap.Bool("is_pro", pro), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "update failed")
			return
		}
		s.logger.Info("pro flag changed",
			logging.UserID(target),
			zap.Bool("is_pro", pro),
			zap.String("admin_id", UserFromContext(r.Context())))
		writeJSON(w, http.StatusOK, rec)
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "id")
	rec, err := s.admin.ResetCount(r.Context(), target)
	if err != nil {
		s.logger.Error("failed to reset count", logging.UserID(target), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	s.logger.Info("retouch count reset",
		logging.UserID(target),
		zap.String("admin_id", UserFromContext(r.Context())))
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps an outcome to its HTTP status. Refusals and failures are
// still conversation replies, so they carry the outcome body.
func statusFor(kind retouch.Kind) int {
	switch kind {
	case retouch.Denied:
		return http.StatusForbidden
	case retouch.Failed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusOK
	}
}

func writeOutcome(w http.ResponseWriter, out retouch.Outcome) {
	if out.SessionID != "" {
		w.Header().Set(HeaderSessionID, out.SessionID)
	}
	if out.Kind != retouch.Delivered {
		writeJSON(w, statusFor(out.Kind), out)
		return
	}
	w.Header().Set("Content-Type", out.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Image)))
	w.Header().Set(HeaderCaption, out.Text)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Image)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

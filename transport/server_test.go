package transport

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"easyretouch/imaging"
	"easyretouch/logging"
	"easyretouch/preset"
	"easyretouch/quota"
	"easyretouch/retouch"
)

type testEnv struct {
	server *Server
	store  *quota.MemoryStore
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func newTestEnv(t *testing.T, mutate func(*Config), health Pinger) *testEnv {
	t.Helper()
	store := quota.NewMemoryStore()
	gate := quota.NewGate(store, quota.DefaultConfig(), logging.NewNop())
	pipeline := preset.NewPipeline(imaging.NewNative(), nil, preset.DefaultConfig(), logging.NewNop())
	manager := retouch.NewManager(gate, pipeline, nil, retouch.DefaultConfig(), logging.NewNop())

	cfg := DefaultConfig()
	cfg.AdminIDs = []string{"admin"}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := NewServer(manager, gate, health, cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return &testEnv{server: srv, store: store}
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if userID != "" {
		req.Header.Set(HeaderUserID, userID)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

type outcomeBody struct {
	Kind      string   `json:"kind"`
	SessionID string   `json:"session_id"`
	Text      string   `json:"text"`
	Presets   []string `json:"presets"`
}

func decodeOutcome(t *testing.T, w *httptest.ResponseRecorder) outcomeBody {
	t.Helper()
	var out outcomeBody
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode outcome: %v (body %q)", err, w.Body.String())
	}
	return out
}

func pngUpload(t *testing.T, w, h int) []byte {
	t.Helper()
	g, err := imaging.NewGrid(w, h)
	if err != nil {
		t.Fatal(err)
	}
	for i := range g.Pix {
		g.Pix[i] = uint8(i * 7)
	}
	data, err := imaging.EncodePNG(g)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestServer_RetouchFlow(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/retouch/start", nil)
	req.Header.Set(HeaderUserID, "42")
	req.Header.Set(HeaderMessageID, "m-1")
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("start status = %d", w.Code)
	}
	if got := w.Header().Get(HeaderSessionID); got != "m-1" {
		t.Errorf("session header = %q, want m-1", got)
	}
	if out := decodeOutcome(t, w); out.Kind != "instruction" || out.Text != retouch.InstructionsText {
		t.Errorf("start outcome = %+v", out)
	}

	w = env.do(t, http.MethodPost, "/v1/retouch/image", "42", pngUpload(t, 30, 20))
	if w.Code != http.StatusOK {
		t.Fatalf("image status = %d: %s", w.Code, w.Body.String())
	}
	out := decodeOutcome(t, w)
	if out.Kind != "menu" || strings.Join(out.Presets, ",") != "light,beauty,pro,neuro" {
		t.Errorf("image outcome = %+v", out)
	}

	w = env.do(t, http.MethodPost, "/v1/retouch/preset/light", "42", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("preset status = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != imaging.ContentTypeJPEG {
		t.Errorf("Content-Type = %q", ct)
	}
	if caption := w.Header().Get(HeaderCaption); !strings.HasPrefix(caption, "Retouch result:") {
		t.Errorf("caption = %q", caption)
	}
	g, err := imaging.Decode(w.Body.Bytes())
	if err != nil {
		t.Fatalf("decode delivered image: %v", err)
	}
	if g.Width != 60 || g.Height != 20 {
		t.Errorf("delivered %dx%d, want 60x20", g.Width, g.Height)
	}
}

func TestServer_OutcomeStatuses(t *testing.T) {
	tests := []struct {
		name     string
		count    int
		body     []byte
		wantCode int
		wantKind string
		wantText string
	}{
		{"limit reached", quota.DefaultMaxFree, []byte("junk"), http.StatusForbidden, "denied", retouch.LimitReachedText},
		{"bad image", 0, []byte("junk"), http.StatusUnprocessableEntity, "failed", retouch.BadImageText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil, nil)
			rec := quota.NewUserRecord("u", time.Now())
			rec.RetouchCount = tt.count
			if err := env.store.Put(context.Background(), rec); err != nil {
				t.Fatal(err)
			}

			env.do(t, http.MethodPost, "/v1/retouch/start", "u", nil)
			w := env.do(t, http.MethodPost, "/v1/retouch/image", "u", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			out := decodeOutcome(t, w)
			if out.Kind != tt.wantKind || out.Text != tt.wantText {
				t.Errorf("outcome = %+v", out)
			}
		})
	}
}

func TestServer_RequestValidation(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxBodyBytes = 16 }, nil)

	if w := env.do(t, http.MethodPost, "/v1/retouch/start", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("missing user status = %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/v1/retouch/preset/sepia", "u", nil); w.Code != http.StatusBadRequest {
		t.Errorf("unknown preset status = %d", w.Code)
	}
	env.do(t, http.MethodPost, "/v1/retouch/start", "u", nil)
	if w := env.do(t, http.MethodPost, "/v1/retouch/image", "u", make([]byte, 64)); w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized body status = %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/v1/retouch/preset/light", "nobody", nil); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("preset without session status = %d", w.Code)
	}
	w := env.do(t, http.MethodPost, "/v1/retouch/cancel", "u", nil)
	if out := decodeOutcome(t, w); out.Text != retouch.CancelledText {
		t.Errorf("cancel outcome = %+v", out)
	}
}

func TestServer_RateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.RateLimit = 2
		c.RateWindow = time.Hour
	}, nil)

	for i := 0; i < 2; i++ {
		if w := env.do(t, http.MethodPost, "/v1/retouch/start", "u", nil); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, w.Code)
		}
	}
	w := env.do(t, http.MethodPost, "/v1/retouch/start", "u", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
	if w := env.do(t, http.MethodPost, "/v1/retouch/start", "other", nil); w.Code != http.StatusOK {
		t.Errorf("other user status = %d", w.Code)
	}
}

func TestServer_Admin(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := env.do(t, http.MethodGet, "/v1/admin/users", "42", nil)
	if w.Code != http.StatusForbidden || !strings.Contains(w.Body.String(), "access denied") {
		t.Errorf("non-admin = %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/v1/admin/users/42/pro", "admin", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("set pro status = %d", w.Code)
	}
	var rec quota.UserRecord
	if err := json.NewDecoder(w.Body).Decode(&rec); err != nil {
		t.Fatal(err)
	}
	if !rec.IsPro || rec.UserID != "42" {
		t.Errorf("set pro record = %+v", rec)
	}

	stored := quota.NewUserRecord("7", time.Now())
	stored.RetouchCount = 3
	if err := env.store.Put(context.Background(), stored); err != nil {
		t.Fatal(err)
	}

	w = env.do(t, http.MethodGet, "/v1/admin/users", "admin", nil)
	var report quota.Report
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if report.Total != 2 || report.ProUsers != 1 || report.Retouches != 3 {
		t.Errorf("report = %+v", report)
	}

	w = env.do(t, http.MethodGet, "/v1/admin/users.csv", "admin", nil)
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("csv Content-Type = %q", ct)
	}
	rows, err := csv.NewReader(w.Body).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{{"user_id", "is_pro", "count"}, {"42", "true", "0"}, {"7", "false", "3"}}
	if len(rows) != len(want) {
		t.Fatalf("csv rows = %v", rows)
	}
	for i := range want {
		if strings.Join(rows[i], ",") != strings.Join(want[i], ",") {
			t.Errorf("row %d = %v, want %v", i, rows[i], want[i])
		}
	}

	w = env.do(t, http.MethodPost, "/v1/admin/users/7/reset", "admin", nil)
	if err := json.NewDecoder(w.Body).Decode(&rec); err != nil {
		t.Fatal(err)
	}
	if rec.RetouchCount != 0 {
		t.Errorf("reset count = %d", rec.RetouchCount)
	}

	w = env.do(t, http.MethodDelete, "/v1/admin/users/42/pro", "admin", nil)
	if err := json.NewDecoder(w.Body).Decode(&rec); err != nil {
		t.Fatal(err)
	}
	if rec.IsPro {
		t.Error("pro flag not revoked")
	}
}

func TestServer_Health(t *testing.T) {
	tests := []struct {
		name   string
		health Pinger
		want   int
	}{
		{"no pinger", nil, http.StatusOK},
		{"healthy", pinger{}, http.StatusOK},
		{"database down", pinger{err: errors.New("closed")}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil, tt.health)
			if w := env.do(t, http.MethodGet, "/healthz", "", nil); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	if _, err := NewServer(nil, nil, nil, DefaultConfig(), logging.NewNop()); err == nil {
		t.Error("expected error for nil sessions")
	}
}

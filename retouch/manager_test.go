package retouch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"easyretouch/db"
	"easyretouch/enhance"
	"easyretouch/imaging"
	"easyretouch/logging"
	"easyretouch/preset"
	"easyretouch/quota"
)

type memHistory struct {
	mu      sync.Mutex
	entries []db.HistoryEntry
}

func (h *memHistory) Record(e db.HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
}

func (h *memHistory) statuses() []db.HistoryStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]db.HistoryStatus, len(h.entries))
	for i, e := range h.entries {
		out[i] = e.Status
	}
	return out
}

type countingEnhancer struct {
	calls atomic.Int32
	err   error
}

func (c *countingEnhancer) Enhance(ctx context.Context, g *imaging.Grid) (*imaging.Grid, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return g.Clone(), nil
}

type fixture struct {
	manager  *Manager
	store    *quota.MemoryStore
	gate     *quota.Gate
	enhancer *countingEnhancer
	history  *memHistory
}

func newFixture(t *testing.T, records ...quota.UserRecord) *fixture {
	t.Helper()
	store := quota.NewMemoryStore()
	for _, rec := range records {
		if err := store.Put(context.Background(), rec); err != nil {
			t.Fatal(err)
		}
	}
	return newFixtureWithStore(t, store)
}

func newFixtureWithStore(t *testing.T, store *quota.MemoryStore) *fixture {
	t.Helper()
	gate := quota.NewGate(store, quota.DefaultConfig(), logging.NewNop())
	enh := &countingEnhancer{}
	pipeline := preset.NewPipeline(imaging.NewNative(), enh, preset.DefaultConfig(), logging.NewNop())
	hist := &memHistory{}
	return &fixture{
		manager:  NewManager(gate, pipeline, hist, DefaultConfig(), logging.NewNop()),
		store:    store,
		gate:     gate,
		enhancer: enh,
		history:  hist,
	}
}

func userRecord(id string, count int, pro bool) quota.UserRecord {
	rec := quota.NewUserRecord(id, time.Now())
	rec.RetouchCount = count
	rec.IsPro = pro
	return rec
}

func uploadBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	g, err := imaging.NewGrid(w, h)
	if err != nil {
		t.Fatal(err)
	}
	for i := range g.Pix {
		g.Pix[i] = uint8(i % 251)
	}
	data, err := imaging.EncodePNG(g)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func (f *fixture) count(t *testing.T, userID string) int {
	t.Helper()
	rec, err := f.store.Get(context.Background(), userID)
	if errors.Is(err, quota.ErrNotFound) {
		return 0
	}
	if err != nil {
		t.Fatal(err)
	}
	return rec.RetouchCount
}

// toMenu drives a fresh session up to the preset menu.
func (f *fixture) toMenu(t *testing.T, userID string) {
	t.Helper()
	ctx := context.Background()
	if out := f.manager.Start(ctx, userID, ""); out.Kind != Instruction {
		t.Fatalf("Start() = %+v", out)
	}
	if out := f.manager.ReceiveImage(ctx, userID, uploadBytes(t, 40, 30)); out.Kind != Menu {
		t.Fatalf("ReceiveImage() = %+v", out)
	}
}

func TestManager_EndToEndLight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out := f.manager.Start(ctx, "u1", "msg-17")
	if out.Kind != Instruction || out.Text != InstructionsText || out.SessionID != "msg-17" {
		t.Fatalf("Start() = %+v", out)
	}
	if info, ok := f.manager.Session("u1"); !ok || info.State != AwaitingImage {
		t.Fatalf("state after start = %+v, %v", info, ok)
	}

	out = f.manager.ReceiveImage(ctx, "u1", uploadBytes(t, 100, 80))
	if out.Kind != Menu || len(out.Presets) != 4 {
		t.Fatalf("ReceiveImage() = %+v", out)
	}
	if info, _ := f.manager.Session("u1"); info.State != AwaitingPreset {
		t.Fatalf("state after image = %v", info.State)
	}

	out = f.manager.SelectPreset(ctx, "u1", preset.Light)
	if out.Kind != Delivered {
		t.Fatalf("SelectPreset() = %+v", out)
	}
	if out.ContentType != imaging.ContentTypeJPEG {
		t.Errorf("ContentType = %q", out.ContentType)
	}
	result, err := imaging.Decode(out.Image)
	if err != nil {
		t.Fatalf("decode delivered image: %v", err)
	}
	if result.Width != 200 || result.Height != 80 {
		t.Errorf("delivered image = %dx%d, want 200x80", result.Width, result.Height)
	}
	if got := f.count(t, "u1"); got != 1 {
		t.Errorf("retouch_count = %d, want 1", got)
	}
	if _, ok := f.manager.Session("u1"); ok {
		t.Error("session still live after delivery")
	}
	if got := f.history.statuses(); len(got) != 1 || got[0] != db.StatusDelivered {
		t.Errorf("history = %v", got)
	}
}

func TestManager_NeuroRequiresPro(t *testing.T) {
	f := newFixture(t, userRecord("42", 0, false))
	f.toMenu(t, "42")

	out := f.manager.SelectPreset(context.Background(), "42", preset.Neuro)
	if out.Kind != Denied || out.Text != NeuroRequiresProText {
		t.Fatalf("SelectPreset(neuro) = %+v", out)
	}
	if n := f.enhancer.calls.Load(); n != 0 {
		t.Errorf("enhancer called %d times", n)
	}
	if got := f.count(t, "42"); got != 0 {
		t.Errorf("retouch_count = %d, want 0", got)
	}
	if got := f.history.statuses(); len(got) != 1 || got[0] != db.StatusNeuroDenied {
		t.Errorf("history = %v", got)
	}
}

func TestManager_NeuroForPro(t *testing.T) {
	t.Run("delivered", func(t *testing.T) {
		f := newFixture(t, userRecord("p", 100, true))
		f.toMenu(t, "p")
		out := f.manager.SelectPreset(context.Background(), "p", preset.Neuro)
		if out.Kind != Delivered {
			t.Fatalf("SelectPreset(neuro) = %+v", out)
		}
		if f.enhancer.calls.Load() != 1 {
			t.Error("enhancer not called once")
		}
		if got := f.count(t, "p"); got != 101 {
			t.Errorf("retouch_count = %d, want 101", got)
		}
	})

	t.Run("unavailable", func(t *testing.T) {
		f := newFixture(t, userRecord("p", 3, true))
		f.enhancer.err = fmt.Errorf("%w: timeout", enhance.ErrUnavailable)
		f.toMenu(t, "p")
		out := f.manager.SelectPreset(context.Background(), "p", preset.Neuro)
		if out.Kind != Failed || out.Text != EnhancementUnavailableText {
			t.Fatalf("SelectPreset(neuro) = %+v", out)
		}
		if got := f.count(t, "p"); got != 3 {
			t.Errorf("retouch_count = %d, want 3", got)
		}
		if _, ok := f.manager.Session("p"); ok {
			t.Error("session left live after failure")
		}
	})
}

func TestManager_BadImage(t *testing.T) {
	f := newFixture(t, userRecord("u", 2, false))
	ctx := context.Background()
	f.manager.Start(ctx, "u", "")

	out := f.manager.ReceiveImage(ctx, "u", []byte("this is not an image"))
	if out.Kind != Failed || out.Text != BadImageText {
		t.Fatalf("ReceiveImage() = %+v", out)
	}
	if got := f.count(t, "u"); got != 2 {
		t.Errorf("retouch_count = %d, want 2", got)
	}
	if _, ok := f.manager.Session("u"); ok {
		t.Error("session left live after bad image")
	}
	if got := f.history.statuses(); len(got) != 1 || got[0] != db.StatusBadImage {
		t.Errorf("history = %v", got)
	}
}

func TestManager_OversizedImage(t *testing.T) {
	f := newFixture(t)
	cfg := DefaultConfig()
	cfg.MaxImagePixels = 100
	f.manager = NewManager(f.gate, preset.NewPipeline(imaging.NewNative(), f.enhancer, preset.DefaultConfig(), logging.NewNop()), f.history, cfg, logging.NewNop())
	ctx := context.Background()
	f.manager.Start(ctx, "u", "")

	out := f.manager.ReceiveImage(ctx, "u", uploadBytes(t, 20, 20))
	if out.Kind != Failed || out.Text != BadImageText {
		t.Fatalf("ReceiveImage() = %+v", out)
	}
	if got := f.history.statuses(); len(got) != 1 || got[0] != db.StatusBadImage {
		t.Errorf("history = %v", got)
	}
}

func TestManager_LimitReachedSkipsDecode(t *testing.T) {
	f := newFixture(t, userRecord("u", quota.DefaultMaxFree, false))
	ctx := context.Background()
	f.manager.Start(ctx, "u", "")

	// Garbage bytes: a decode attempt would report a bad image instead.
	out := f.manager.ReceiveImage(ctx, "u", []byte{0x00, 0x01})
	if out.Kind != Denied || out.Text != LimitReachedText {
		t.Fatalf("ReceiveImage() = %+v", out)
	}
	if got := f.history.statuses(); len(got) != 1 || got[0] != db.StatusDenied {
		t.Errorf("history = %v", got)
	}
}

func TestManager_ConcurrentSelectSameSession(t *testing.T) {
	f := newFixture(t, userRecord("u", 4, false))
	f.toMenu(t, "u")

	var (
		wg       sync.WaitGroup
		outcomes = make([]Outcome, 2)
	)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = f.manager.SelectPreset(context.Background(), "u", preset.Light)
		}(i)
	}
	wg.Wait()

	delivered := 0
	for _, o := range outcomes {
		if o.Kind == Delivered {
			delivered++
		}
	}
	if delivered != 1 {
		t.Errorf("delivered %d times, want 1: %+v", delivered, outcomes)
	}
	if got := f.count(t, "u"); got != 5 {
		t.Errorf("retouch_count = %d, want 5", got)
	}
}

// TestManager_ConcurrentSelectSharedStore runs two managers over one store,
// as two bot replicas would, so both selections reach the quota gate.
func TestManager_ConcurrentSelectSharedStore(t *testing.T) {
	store := quota.NewMemoryStore()
	if err := store.Put(context.Background(), userRecord("u", 4, false)); err != nil {
		t.Fatal(err)
	}
	gate := quota.NewGate(store, quota.DefaultConfig(), logging.NewNop())
	pipeline := preset.NewPipeline(imaging.NewNative(), nil, preset.DefaultConfig(), logging.NewNop())

	managers := []*Manager{
		NewManager(gate, pipeline, nil, DefaultConfig(), logging.NewNop()),
		NewManager(gate, pipeline, nil, DefaultConfig(), logging.NewNop()),
	}
	for _, m := range managers {
		m.Start(context.Background(), "u", "")
		if out := m.ReceiveImage(context.Background(), "u", uploadBytes(t, 20, 20)); out.Kind != Menu {
			t.Fatalf("ReceiveImage() = %+v", out)
		}
	}

	var (
		wg       sync.WaitGroup
		outcomes = make([]Outcome, len(managers))
	)
	for i, m := range managers {
		wg.Add(1)
		go func(i int, m *Manager) {
			defer wg.Done()
			outcomes[i] = m.SelectPreset(context.Background(), "u", preset.Light)
		}(i, m)
	}
	wg.Wait()

	var deliveredN, deniedN int
	for _, o := range outcomes {
		switch o.Kind {
		case Delivered:
			deliveredN++
		case Denied:
			deniedN++
		}
	}
	if deliveredN != 1 || deniedN != 1 {
		t.Errorf("outcomes = %+v, want one delivered and one denied", outcomes)
	}
	rec, err := store.Get(context.Background(), "u")
	if err != nil {
		t.Fatal(err)
	}
	if rec.RetouchCount != 5 {
		t.Errorf("retouch_count = %d, want 5", rec.RetouchCount)
	}
}

func TestManager_ReentryLatestWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.manager.Start(ctx, "u", "first")
	f.manager.ReceiveImage(ctx, "u", uploadBytes(t, 10, 10))
	out := f.manager.Start(ctx, "u", "second")
	if out.SessionID != "second" {
		t.Fatalf("Start() = %+v", out)
	}

	info, ok := f.manager.Session("u")
	if !ok || info.ID != "second" || info.State != AwaitingImage {
		t.Fatalf("live session = %+v, %v", info, ok)
	}
	if f.manager.Active() != 1 {
		t.Errorf("Active() = %d, want 1", f.manager.Active())
	}
	if got := f.history.statuses(); len(got) != 1 || got[0] != db.StatusReplaced {
		t.Errorf("history = %v", got)
	}

	// The replaced session's menu no longer applies to the new session.
	if out := f.manager.SelectPreset(ctx, "u", preset.Light); out.Kind != Failed || out.Text != SessionMissingText {
		t.Errorf("SelectPreset() on fresh session = %+v", out)
	}
}

func TestManager_NoSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if out := f.manager.ReceiveImage(ctx, "ghost", uploadBytes(t, 4, 4)); out.Kind != Instruction || out.Text != StartHintText {
		t.Errorf("ReceiveImage() = %+v", out)
	}
	if out := f.manager.SelectPreset(ctx, "ghost", preset.Pro); out.Kind != Failed || out.Text != SessionMissingText {
		t.Errorf("SelectPreset() = %+v", out)
	}
	if out := f.manager.Start(ctx, "", ""); out.Kind != Failed {
		t.Errorf("Start(empty user) = %+v", out)
	}
}

func TestManager_SecondImageShowsMenuAgain(t *testing.T) {
	f := newFixture(t)
	f.toMenu(t, "u")
	out := f.manager.ReceiveImage(context.Background(), "u", uploadBytes(t, 8, 8))
	if out.Kind != Menu {
		t.Errorf("ReceiveImage() in AwaitingPreset = %+v", out)
	}
	if info, _ := f.manager.Session("u"); info.State != AwaitingPreset {
		t.Errorf("state = %v", info.State)
	}
}

func TestManager_Cancel(t *testing.T) {
	f := newFixture(t)
	f.toMenu(t, "u")

	out := f.manager.Cancel(context.Background(), "u")
	if out.Kind != Instruction || out.Text != CancelledText {
		t.Fatalf("Cancel() = %+v", out)
	}
	if f.manager.Active() != 0 {
		t.Error("session still live after cancel")
	}
	if got := f.history.statuses(); len(got) != 1 || got[0] != db.StatusCancelled {
		t.Errorf("history = %v", got)
	}
	if out := f.manager.Cancel(context.Background(), "u"); out.Text != CancelledText {
		t.Errorf("second Cancel() = %+v", out)
	}
}

func TestManager_IdleSweep(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := base
	f.manager.now = func() time.Time { return clock }

	f.manager.Start(context.Background(), "idle", "")
	clock = base.Add(10 * time.Minute)
	f.manager.Start(context.Background(), "busy", "")

	if n := f.manager.Sweep(base.Add(14 * time.Minute)); n != 0 {
		t.Errorf("Sweep() before timeout removed %d", n)
	}
	if n := f.manager.Sweep(base.Add(15 * time.Minute)); n != 1 {
		t.Errorf("Sweep() at timeout removed %d, want 1", n)
	}
	if _, ok := f.manager.Session("idle"); ok {
		t.Error("idle session survived sweep")
	}
	if _, ok := f.manager.Session("busy"); !ok {
		t.Error("recent session was swept")
	}
	if got := f.history.statuses(); len(got) != 1 || got[0] != db.StatusExpired {
		t.Errorf("history = %v", got)
	}
}

func TestManager_RunStopsWithContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.manager.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestManager_Shutdown(t *testing.T) {
	f := newFixture(t)
	f.toMenu(t, "a")
	f.manager.Start(context.Background(), "b", "")

	if err := f.manager.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if f.manager.Active() != 0 {
		t.Errorf("Active() = %d after shutdown", f.manager.Active())
	}
	if got := f.history.statuses(); len(got) != 2 {
		t.Errorf("history = %v, want two cancelled entries", got)
	}
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (quota.UserRecord, error) {
	return quota.UserRecord{}, errors.New("disk on fire")
}
func (brokenStore) Put(context.Context, quota.UserRecord) error { return errors.New("disk on fire") }
func (brokenStore) List(context.Context) ([]quota.UserRecord, error) {
	return nil, errors.New("disk on fire")
}

func TestManager_PersistenceFailure(t *testing.T) {
	gate := quota.NewGate(brokenStore{}, quota.DefaultConfig(), logging.NewNop())
	pipeline := preset.NewPipeline(imaging.NewNative(), nil, preset.DefaultConfig(), logging.NewNop())
	hist := &memHistory{}
	m := NewManager(gate, pipeline, hist, DefaultConfig(), logging.NewNop())

	m.Start(context.Background(), "u", "")
	out := m.ReceiveImage(context.Background(), "u", uploadBytes(t, 4, 4))
	if out.Kind != Failed || out.Text != GenericFailureText {
		t.Fatalf("ReceiveImage() = %+v", out)
	}
	if m.Active() != 0 {
		t.Error("session left live after persistence failure")
	}
	if got := hist.statuses(); len(got) != 1 || got[0] != db.StatusFailed {
		t.Errorf("history = %v", got)
	}
}

// slowPipeline takes delay to finish and ignores cancellation when
// ignoreCtx is set.
type slowPipeline struct {
	delay     time.Duration
	ignoreCtx bool
}

func (p slowPipeline) Apply(ctx context.Context, _ preset.Preset, g *imaging.Grid) (*imaging.Grid, error) {
	if p.ignoreCtx {
		time.Sleep(p.delay)
		return g.Clone(), nil
	}
	select {
	case <-time.After(p.delay):
		return g.Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestManager_SelectDeadline(t *testing.T) {
	tests := []struct {
		name     string
		pipeline slowPipeline
	}{
		{"pipeline ignores the deadline", slowPipeline{delay: 300 * time.Millisecond, ignoreCtx: true}},
		{"pipeline honours the deadline", slowPipeline{delay: 5 * time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := quota.NewMemoryStore()
			if err := store.Put(context.Background(), userRecord("u", 1, false)); err != nil {
				t.Fatal(err)
			}
			gate := quota.NewGate(store, quota.DefaultConfig(), logging.NewNop())
			hist := &memHistory{}
			cfg := DefaultConfig()
			cfg.SelectTimeout = 50 * time.Millisecond
			m := NewManager(gate, tt.pipeline, hist, cfg, logging.NewNop())

			ctx := context.Background()
			m.Start(ctx, "u", "")
			if out := m.ReceiveImage(ctx, "u", uploadBytes(t, 8, 8)); out.Kind != Menu {
				t.Fatalf("ReceiveImage() = %+v", out)
			}

			started := time.Now()
			out := m.SelectPreset(ctx, "u", preset.Light)
			if out.Kind != Failed || out.Text != GenericFailureText {
				t.Fatalf("SelectPreset() = %+v", out)
			}
			if elapsed := time.Since(started); elapsed > 2*time.Second {
				t.Errorf("SelectPreset() took %v", elapsed)
			}

			rec, err := store.Get(ctx, "u")
			if err != nil {
				t.Fatal(err)
			}
			if rec.RetouchCount != 1 {
				t.Errorf("retouch_count = %d, want 1", rec.RetouchCount)
			}
			if got := hist.statuses(); len(got) != 1 || got[0] != db.StatusFailed {
				t.Errorf("history = %v", got)
			}
			if m.Active() != 0 {
				t.Error("session left live after the deadline")
			}
		})
	}
}

func TestManager_ClientGoneIsNotCharged(t *testing.T) {
	f := newFixture(t, userRecord("u", 2, false))
	f.toMenu(t, "u")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := f.manager.SelectPreset(ctx, "u", preset.Light)
	if out.Kind == Delivered {
		t.Fatalf("SelectPreset() delivered on a cancelled request")
	}
	if got := f.count(t, "u"); got != 2 {
		t.Errorf("retouch_count = %d, want 2", got)
	}
}

func TestSession_Transitions(t *testing.T) {
	s := newSession("id", "u", time.Now())
	if err := s.advance(AwaitingPreset); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Idle -> AwaitingPreset error = %v", err)
	}
	if err := s.advance(AwaitingImage); err != nil {
		t.Fatalf("Idle -> AwaitingImage error = %v", err)
	}
	if err := s.advance(AwaitingPreset); err != nil {
		t.Fatalf("AwaitingImage -> AwaitingPreset error = %v", err)
	}
	if err := s.advance(Completed); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("advance to Completed should go through complete(), got %v", err)
	}
	if !s.complete() {
		t.Fatal("complete() = false")
	}
	if s.complete() {
		t.Error("second complete() = true")
	}
	if s.Original() != nil {
		t.Error("grid retained after completion")
	}
}

func TestKindAndStateStrings(t *testing.T) {
	kinds := map[Kind]string{Instruction: "instruction", Menu: "menu", Delivered: "delivered", Denied: "denied", Failed: "failed"}
	for k, want := range kinds {
		if k.String() != want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(k), k.String(), want)
		}
	}
	states := map[State]string{Idle: "idle", AwaitingImage: "awaiting_image", AwaitingPreset: "awaiting_preset", Completed: "completed"}
	for s, want := range states {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), s.String(), want)
		}
	}
}

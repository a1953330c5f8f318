package retouch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"easyretouch/db"
	"easyretouch/enhance"
	"easyretouch/imaging"
	"easyretouch/logging"
	"easyretouch/preset"
	"easyretouch/quota"
)

// Pipeline applies a preset to a grid.
type Pipeline interface {
	Apply(ctx context.Context, p preset.Preset, g *imaging.Grid) (*imaging.Grid, error)
}

// History receives one entry per terminal session outcome.
type History interface {
	Record(e db.HistoryEntry)
}

type nopHistory struct{}

func (nopHistory) Record(db.HistoryEntry) {}

// Config holds Manager settings.
type Config struct {
	// IdleTimeout forces abandoned sessions to Completed. Zero disables
	// expiry.
	IdleTimeout time.Duration
	// SweepInterval is how often Run looks for idle sessions.
	SweepInterval time.Duration
	// MaxImageBytes rejects larger uploads as unreadable. Zero means no
	// limit.
	MaxImageBytes int64
	// MaxImagePixels rejects uploads whose header declares more pixels.
	// Zero means imaging.DefaultMaxPixels.
	MaxImagePixels int64
	// Provider names the neural backend in history entries.
	Provider string
	// SelectTimeout bounds one preset selection. A selection that has not
	// finished by then fails without charging the user, so it must stay
	// below the transport's write deadline. Zero disables the bound.
	SelectTimeout time.Duration
}

// DefaultConfig returns a 15 minute idle timeout swept every minute.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:    15 * time.Minute,
		SweepInterval:  time.Minute,
		MaxImageBytes:  20 << 20,
		MaxImagePixels: imaging.DefaultMaxPixels,
	}
}

// Manager owns the live sessions and drives them through their states.
//
// Thread-Safety:
//   - different users never contend beyond the short map lock
//   - an operation claims its session by removing it from the map, so two
//     concurrent calls for the same session cannot both act on it
//   - a second preset selection for a claimed session sees no session
type Manager struct {
	gate     *quota.Gate
	pipeline Pipeline
	history  History
	config   Config
	logger   *logging.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a Manager. history may be nil.
func NewManager(gate *quota.Gate, pipeline Pipeline, history History, config Config, logger *logging.Logger) *Manager {
	if history == nil {
		history = nopHistory{}
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultConfig().SweepInterval
	}
	return &Manager{
		gate:     gate,
		pipeline: pipeline,
		history:  history,
		config:   config,
		logger:   logger.Named("sessions"),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Start opens a new session for userID and returns the upload instructions.
// sessionID may carry the originating message id; empty generates one.
//
// A session the user already had is discarded: the latest start wins.
func (m *Manager) Start(ctx context.Context, userID, sessionID string) Outcome {
	if userID == "" {
		return failed("", GenericFailureText)
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	now := m.now()
	s := newSession(sessionID, userID, now)
	_ = s.advance(AwaitingImage)

	m.mu.Lock()
	prior := m.sessions[userID]
	m.sessions[userID] = s
	m.mu.Unlock()

	if prior != nil {
		m.logger.Info("discarding previous session on re-entry",
			logging.UserID(userID),
			zap.String("previous_session_id", prior.ID),
			zap.String("previous_state", prior.State().String()),
			logging.SessionID(sessionID))
		m.finish(prior, db.StatusReplaced, "", nil, now)
	}

	m.logger.Debug("session started", logging.UserID(userID), logging.SessionID(sessionID))
	return instruction(sessionID, InstructionsText)
}

// ReceiveImage handles an upload for userID's session.
//
// The quota is checked before decoding: a user with no retouches left gets
// the limit text and the bytes are never parsed.
func (m *Manager) ReceiveImage(ctx context.Context, userID string, data []byte) Outcome {
	m.mu.Lock()
	s := m.sessions[userID]
	switch {
	case s == nil:
		m.mu.Unlock()
		return instruction("", StartHintText)
	case s.State() == AwaitingPreset:
		// Already have an image; remind the user of the choices.
		id := s.ID
		m.mu.Unlock()
		return menu(id)
	}
	delete(m.sessions, userID)
	m.mu.Unlock()

	log := m.logger.With(logging.UserID(userID), logging.SessionID(s.ID))
	s.touch(m.now())

	decision, err := m.gate.Admit(ctx, userID)
	if err != nil {
		log.Error("quota check failed", zap.Error(err))
		m.finish(s, db.StatusFailed, "", err, s.CreatedAt)
		return failed(s.ID, GenericFailureText)
	}
	if decision == quota.Denied {
		log.Info("retouch denied: free limit reached")
		m.finish(s, db.StatusDenied, "", nil, s.CreatedAt)
		return denied(s.ID, LimitReachedText)
	}

	grid, err := imaging.DecodeLimited(data, m.config.MaxImageBytes, m.config.MaxImagePixels)
	if err != nil {
		log.Info("upload rejected", zap.Int(logging.KeyBytes, len(data)), zap.Error(err))
		m.finish(s, db.StatusBadImage, "", err, s.CreatedAt)
		return failed(s.ID, BadImageText)
	}

	s.original = grid
	_ = s.advance(AwaitingPreset)
	if !m.restore(s) {
		log.Info("session replaced while decoding")
		m.finish(s, db.StatusReplaced, "", nil, s.CreatedAt)
		return instruction(s.ID, SupersededText)
	}

	log.Debug("image received", logging.Dimensions(grid.Width, grid.Height)...)
	return menu(s.ID)
}

// SelectPreset runs preset p on the session's image and completes the
// session whatever happens.
//
// The quota is reserved before the pipeline runs and committed only after
// the comparison image is built, so a failed retouch never counts.
func (m *Manager) SelectPreset(ctx context.Context, userID string, p preset.Preset) Outcome {
	s := m.claim(userID, AwaitingPreset)
	if s == nil {
		return failed("", SessionMissingText)
	}

	if m.config.SelectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.SelectTimeout)
		defer cancel()
	}

	start := m.now()
	s.touch(start)
	log := m.logger.With(
		logging.UserID(userID),
		logging.SessionID(s.ID),
		logging.Preset(p.String()))

	if !p.Valid() {
		log.Error("unknown preset selected", zap.Int("value", int(p)))
		m.finish(s, db.StatusFailed, p.String(), preset.ErrUnknownPreset, start)
		return failed(s.ID, GenericFailureText)
	}

	if p.RequiresPro() {
		pro, err := m.gate.IsPro(ctx, userID)
		if err != nil {
			log.Error("pro check failed", zap.Error(err))
			m.finish(s, db.StatusFailed, p.String(), err, start)
			return failed(s.ID, GenericFailureText)
		}
		if !pro {
			log.Info("neural preset denied for non-pro user")
			m.finish(s, db.StatusNeuroDenied, p.String(), nil, start)
			return denied(s.ID, NeuroRequiresProText)
		}
	}

	res, err := m.gate.Reserve(ctx, userID)
	if errors.Is(err, quota.ErrDenied) {
		log.Info("retouch denied at selection: free limit reached")
		m.finish(s, db.StatusDenied, p.String(), nil, start)
		return denied(s.ID, LimitReachedText)
	}
	if err != nil {
		log.Error("quota reservation failed", zap.Error(err))
		m.finish(s, db.StatusFailed, p.String(), err, start)
		return failed(s.ID, GenericFailureText)
	}
	defer res.Release()

	out, err := m.pipeline.Apply(ctx, p, s.Original())
	if err != nil {
		text := GenericFailureText
		if errors.Is(err, enhance.ErrUnavailable) {
			text = EnhancementUnavailableText
			log.Warn("neural enhancement unavailable", zap.Error(err))
		} else {
			log.Error("preset pipeline failed", zap.Error(err))
		}
		m.finish(s, db.StatusFailed, p.String(), err, start)
		return failed(s.ID, text)
	}

	image, err := imaging.EncodeSideBySide(s.Original(), out)
	if err != nil {
		log.Error("failed to build comparison image", zap.Error(err))
		m.finish(s, db.StatusFailed, p.String(), err, start)
		return failed(s.ID, GenericFailureText)
	}

	// Past the deadline the response can no longer reach the user.
	if err := ctx.Err(); err != nil {
		log.Warn("retouch finished too late to deliver, not counted",
			zap.Error(err),
			logging.DurationMS(m.now().Sub(start)))
		m.finish(s, db.StatusFailed, p.String(), err, start)
		return failed(s.ID, GenericFailureText)
	}

	rec, err := res.Commit(context.WithoutCancel(ctx))
	if err != nil {
		log.Error("failed to record retouch", zap.Error(err))
		m.finish(s, db.StatusFailed, p.String(), err, start)
		return failed(s.ID, GenericFailureText)
	}

	log.Info("retouch delivered",
		zap.Int("retouch_count", rec.RetouchCount),
		zap.Int(logging.KeyBytes, len(image)),
		logging.DurationMS(m.now().Sub(start)))
	m.finish(s, db.StatusDelivered, p.String(), nil, start)
	return delivered(s.ID, p, image, imaging.ContentTypeJPEG)
}

// Cancel discards userID's session, if any.
func (m *Manager) Cancel(ctx context.Context, userID string) Outcome {
	m.mu.Lock()
	s := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()

	if s == nil {
		return instruction("", CancelledText)
	}
	m.logger.Debug("session cancelled", logging.UserID(userID), logging.SessionID(s.ID))
	m.finish(s, db.StatusCancelled, "", nil, m.now())
	return instruction(s.ID, CancelledText)
}

// Session returns a snapshot of userID's live session. Sessions claimed by
// an in-flight operation are not visible.
func (m *Manager) Session(userID string) (SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return SessionInfo{}, false
	}
	return s.info(), true
}

// Active returns the number of live sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep completes every session idle for at least IdleTimeout and returns
// how many it removed.
func (m *Manager) Sweep(now time.Time) int {
	var stale []*Session

	m.mu.Lock()
	for userID, s := range m.sessions {
		if s.expired(now, m.config.IdleTimeout) {
			stale = append(stale, s)
			delete(m.sessions, userID)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		m.logger.Info("session expired",
			logging.UserID(s.UserID),
			logging.SessionID(s.ID),
			zap.String("state", s.State().String()))
		m.finish(s, db.StatusExpired, "", nil, now)
	}
	return len(stale)
}

// Run sweeps idle sessions every SweepInterval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	if m.config.IdleTimeout <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(m.now()); n > 0 {
				m.logger.Debug("idle sweep", zap.Int("expired", n))
			}
		}
	}
}

// Shutdown completes every live session. In-flight operations finish on
// their own.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	live := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	now := m.now()
	for _, s := range live {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.finish(s, db.StatusCancelled, "", nil, now)
	}
	if len(live) > 0 {
		m.logger.Info("released live sessions", zap.Int("count", len(live)))
	}
	return nil
}

// claim removes userID's session from the live map if it is in state. The
// caller then owns it exclusively.
func (m *Manager) claim(userID string, state State) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok || s.State() != state {
		return nil
	}
	delete(m.sessions, userID)
	return s
}

// restore puts a claimed session back unless a newer one took its place.
func (m *Manager) restore(s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.sessions[s.UserID]; taken {
		return false
	}
	m.sessions[s.UserID] = s
	return true
}

// finish is the single teardown path: it completes the session, drops its
// grids and records the outcome.
func (m *Manager) finish(s *Session, status db.HistoryStatus, presetName string, cause error, started time.Time) {
	if !s.complete() {
		return
	}

	entry := db.HistoryEntry{
		SessionID:  s.ID,
		UserID:     s.UserID,
		Preset:     presetName,
		Status:     status,
		DurationMS: m.now().Sub(started).Milliseconds(),
		CreatedAt:  m.now(),
	}
	if presetName == preset.Neuro.String() {
		entry.Provider = m.config.Provider
	}
	if cause != nil {
		entry.ErrorMessage = cause.Error()
	}
	m.history.Record(entry)
}

// Package retouch runs the per-user retouch conversation: start, receive an
// image, pick a preset, get a side-by-side comparison back.
//
// Each conversation is a Session moving through
//
//	Idle -> AwaitingImage -> AwaitingPreset -> Completed
//
// with every error going straight to Completed. The Manager keeps at most
// one live session per user and tears each one down exactly once.
package retouch

import (
	"errors"
	"fmt"
	"time"

	"easyretouch/imaging"
)

// Session errors
var (
	ErrInvalidTransition = errors.New("retouch: invalid state transition")
)

// State is a session's position in the conversation.
type State int

const (
	Idle State = iota
	AwaitingImage
	AwaitingPreset
	Completed
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingImage:
		return "awaiting_image"
	case AwaitingPreset:
		return "awaiting_preset"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitions lists the legal forward moves. Completed is reachable from
// every non-terminal state and is handled separately.
var transitions = map[State]State{
	Idle:          AwaitingImage,
	AwaitingImage: AwaitingPreset,
}

// Session is one user's retouch conversation.
//
// A Session is owned by exactly one goroutine at a time: the Manager hands
// it out by removing it from the live map (claiming) and puts it back only
// if it is still current.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time

	state        State
	lastActivity time.Time
	original     *imaging.Grid
}

func newSession(id, userID string, now time.Time) *Session {
	return &Session{
		ID:           id,
		UserID:       userID,
		CreatedAt:    now,
		state:        Idle,
		lastActivity: now,
	}
}

// State returns the current state.
func (s *Session) State() State {
	return s.state
}

// LastActivity returns when the user last interacted with the session.
func (s *Session) LastActivity() time.Time {
	return s.lastActivity
}

// Original returns the decoded upload, nil before AwaitingPreset and after
// Completed.
func (s *Session) Original() *imaging.Grid {
	return s.original
}

func (s *Session) touch(now time.Time) {
	s.lastActivity = now
}

// advance moves to the next forward state.
func (s *Session) advance(to State) error {
	if next, ok := transitions[s.state]; !ok || next != to {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
	}
	s.state = to
	return nil
}

// complete moves to the terminal state and drops the held grid. Returns
// false if the session was already completed.
func (s *Session) complete() bool {
	if s.state == Completed {
		return false
	}
	s.state = Completed
	s.original = nil
	return true
}

// expired reports whether the session has been idle for at least timeout.
func (s *Session) expired(now time.Time, timeout time.Duration) bool {
	return timeout > 0 && now.Sub(s.lastActivity) >= timeout
}

// SessionInfo is a read-only snapshot of a live session.
type SessionInfo struct {
	ID           string
	UserID       string
	State        State
	CreatedAt    time.Time
	LastActivity time.Time
}

func (s *Session) info() SessionInfo {
	return SessionInfo{
		ID:           s.ID,
		UserID:       s.UserID,
		State:        s.state,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.lastActivity,
	}
}

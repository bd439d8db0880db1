// Package live runs continuous recognition sessions over posted camera
// frames. Each session owns a centroid tracker; identities are confirmed
// by repeated consistent votes before being marked, so a single noisy
// frame never produces an attendance record.
package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campusware/rollcall/internal/database"
	"github.com/campusware/rollcall/internal/gallery"
	"github.com/campusware/rollcall/internal/imaging"
	"github.com/campusware/rollcall/internal/match"
	"github.com/campusware/rollcall/internal/pipeline"
	"github.com/campusware/rollcall/internal/quality"
	"github.com/campusware/rollcall/internal/store"
	"github.com/campusware/rollcall/internal/tracker"
)

// ErrSessionNotFound is returned for unknown or already expired sessions.
var ErrSessionNotFound = errors.New("live session not found")

const (
	// DefaultVotesToConfirm is how many consistent recognitions a track
	// needs before its identity counts.
	DefaultVotesToConfirm = 2

	// DefaultRecognizeEvery runs recognition on every Nth detected frame
	// of a track. Tracking is cheap, embedding comparison is not.
	DefaultRecognizeEvery = 3

	// DefaultMarkCooldown suppresses repeated marks for one identity
	// within a session.
	DefaultMarkCooldown = 30 * time.Second

	// DefaultIdleTTL expires sessions that stop posting frames.
	DefaultIdleTTL = 2 * time.Minute

	sweepInterval = 30 * time.Second
)

// Config tunes live session behavior. Zero values fall back to defaults.
type Config struct {
	Threshold      float32
	MinDetScore    float32
	VotesToConfirm int
	RecognizeEvery int
	MarkCooldown   time.Duration
	IdleTTL        time.Duration
	TrackerMaxDist float64
	TrackerMaxMiss int
}

func (c Config) withDefaults() Config {
	if c.Threshold == 0 {
		c.Threshold = match.DefaultThreshold
	}
	if c.MinDetScore == 0 {
		c.MinDetScore = quality.DefaultMinDetScore
	}
	if c.VotesToConfirm <= 0 {
		c.VotesToConfirm = DefaultVotesToConfirm
	}
	if c.RecognizeEvery <= 0 {
		c.RecognizeEvery = DefaultRecognizeEvery
	}
	if c.MarkCooldown <= 0 {
		c.MarkCooldown = DefaultMarkCooldown
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = DefaultIdleTTL
	}
	return c
}

// Mark is one confirmed attendance within a session.
type Mark struct {
	Identity    string    `json:"identity"`
	DisplayName string    `json:"display_name,omitempty"`
	TrackID     int       `json:"track_id"`
	Similarity  float32   `json:"similarity"`
	MarkedAt    time.Time `json:"marked_at"`
}

// TrackFace describes one tracked face in a frame result.
type TrackFace struct {
	TrackID    int          `json:"track_id"`
	Box        pipeline.Box `json:"box"`
	Identity   string       `json:"identity,omitempty"`
	Votes      int          `json:"votes"`
	Recognized bool         `json:"recognized"`
}

// FrameResult is returned for every processed frame.
type FrameResult struct {
	SessionID string      `json:"session_id"`
	Frame     int         `json:"frame"`
	Faces     []TrackFace `json:"faces"`
	NewMarks  []Mark      `json:"new_marks,omitempty"`
}

// Snapshot is the externally visible state of a session.
type Snapshot struct {
	ID           string    `json:"id"`
	SessionKey   string    `json:"session_key,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastSeen     time.Time `json:"last_seen"`
	Frames       int       `json:"frames"`
	ActiveTracks int       `json:"active_tracks"`
	Marked       []Mark    `json:"marked"`
}

type voteState struct {
	identity   string
	view       string
	similarity float32
	count      int
}

type session struct {
	id         string
	sessionKey string
	createdAt  time.Time

	mu       sync.Mutex
	tracker  *tracker.Tracker
	votes    map[int]*voteState
	lastMark map[string]time.Time
	marked   []Mark
	lastSeen time.Time
	frames   int
}

// Manager owns all live sessions.
type Manager struct {
	engine pipeline.Engine
	store  *store.Store
	cache  *gallery.Cache
	cfg    Config
	log    *zap.Logger

	identities database.IdentityStore
	events     database.EventStore

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewManager creates a session manager around a shared engine, store and
// gallery cache.
func NewManager(engine pipeline.Engine, st *store.Store, cache *gallery.Cache, cfg Config, log *zap.Logger) *Manager {
	return &Manager{
		engine:   engine,
		store:    st,
		cache:    cache,
		cfg:      cfg.withDefaults(),
		log:      log,
		sessions: make(map[string]*session),
	}
}

// AttachAudit wires the optional persistence layer. Marks then record
// attendance events and carry display names.
func (m *Manager) AttachAudit(identities database.IdentityStore, events database.EventStore) {
	m.identities = identities
	m.events = events
}

// Create starts a new session and returns its snapshot. The session key
// groups the resulting attendance events, typically course and time slot.
func (m *Manager) Create(sessionKey string) Snapshot {
	now := time.Now()
	s := &session{
		id:         uuid.NewString(),
		sessionKey: sessionKey,
		createdAt:  now,
		tracker:    tracker.New(m.cfg.TrackerMaxDist, m.cfg.TrackerMaxMiss),
		votes:      make(map[int]*voteState),
		lastMark:   make(map[string]time.Time),
		lastSeen:   now,
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.log.Info("live session created",
		zap.String("session_id", s.id),
		zap.String("session_key", sessionKey))
	return s.snapshot()
}

// Get returns the snapshot of a session.
func (m *Manager) Get(id string) (Snapshot, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), nil
}

// Delete ends a session. Deleting an unknown session is not an error.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		m.log.Info("live session closed", zap.String("session_id", id))
	}
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) lookup(id string) (*session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.mu.Lock()
	idle := time.Since(s.lastSeen)
	s.mu.Unlock()
	if idle > m.cfg.IdleTTL {
		m.Delete(id)
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// ProcessFrame runs one camera frame through the session: detection,
// tracking, periodic recognition and vote-confirmed marking.
func (m *Manager) ProcessFrame(ctx context.Context, id string, frame []byte) (FrameResult, error) {
	s, err := m.lookup(id)
	if err != nil {
		return FrameResult{}, err
	}

	img, err := imaging.Decode(frame)
	if err != nil {
		return FrameResult{}, fmt.Errorf("decode frame: %w", err)
	}
	faces, err := m.engine.Detect(ctx, img)
	if err != nil {
		return FrameResult{}, fmt.Errorf("detect: %w", err)
	}

	kept := faces[:0]
	for _, f := range faces {
		if f.Score >= m.cfg.MinDetScore {
			kept = append(kept, f)
		}
	}
	faces = kept

	g, err := m.cache.Get(m.store)
	if err != nil {
		return FrameResult{}, fmt.Errorf("load gallery: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.frames++
	s.lastSeen = time.Now()

	boxes := make([]pipeline.Box, len(faces))
	for i, f := range faces {
		boxes[i] = f.Box
	}
	assigned, expired := s.tracker.Update(boxes)
	for _, trackID := range expired {
		delete(s.votes, trackID)
	}

	result := FrameResult{
		SessionID: s.id,
		Frame:     s.frames,
		Faces:     make([]TrackFace, len(assigned)),
	}

	for i, track := range assigned {
		tf := TrackFace{TrackID: track.ID, Box: track.Box}
		vote := s.votes[track.ID]

		due := (track.Frames-1)%m.cfg.RecognizeEvery == 0
		if due && len(faces[i].Embedding) > 0 {
			tf.Recognized = true
			if best := match.Best(g, faces[i].Embedding); best.Accepted(m.cfg.Threshold) {
				vote = foldVote(vote, best)
				s.votes[track.ID] = vote
			}
		}

		if vote != nil {
			tf.Votes = vote.count
			if vote.count >= m.cfg.VotesToConfirm {
				tf.Identity = vote.identity
				// Marks ride on fresh recognitions only; tracked-but-not
				// recognized frames never re-mark.
				if tf.Recognized {
					if mark, ok := s.markLocked(ctx, m, vote, track.ID); ok {
						result.NewMarks = append(result.NewMarks, mark)
					}
				}
			}
		}
		result.Faces[i] = tf
	}

	return result, nil
}

// foldVote adds one accepted recognition to the running vote. A different
// identity restarts the count; below-threshold frames never reach here and
// leave the count alone.
func foldVote(vote *voteState, best match.Result) *voteState {
	if vote == nil || vote.identity != best.Identity {
		return &voteState{identity: best.Identity, view: best.View, similarity: best.Similarity, count: 1}
	}
	vote.count++
	if best.Similarity > vote.similarity {
		vote.similarity = best.Similarity
		vote.view = best.View
	}
	return vote
}

// markLocked records attendance for a confirmed track, at most once per
// identity per cooldown window. Caller holds s.mu.
func (s *session) markLocked(ctx context.Context, m *Manager, vote *voteState, trackID int) (Mark, bool) {
	if last, ok := s.lastMark[vote.identity]; ok && time.Since(last) < m.cfg.MarkCooldown {
		return Mark{}, false
	}

	now := time.Now()
	s.lastMark[vote.identity] = now
	mark := Mark{
		Identity:   vote.identity,
		TrackID:    trackID,
		Similarity: vote.similarity,
		MarkedAt:   now,
	}

	if m.identities != nil {
		identity, err := m.identities.Get(ctx, vote.identity)
		if err != nil {
			m.log.Warn("identity lookup failed", zap.String("identity", vote.identity), zap.Error(err))
		} else if identity != nil {
			mark.DisplayName = identity.DisplayName
		}
	}
	if m.events != nil {
		event := &database.AttendanceEvent{
			Identity:   vote.identity,
			SessionKey: s.sessionKey,
			View:       vote.view,
			Similarity: vote.similarity,
			EngineMode: m.engine.Mode(),
			CapturedAt: now,
		}
		if err := m.events.Insert(ctx, event); err != nil {
			m.log.Warn("attendance event not persisted",
				zap.String("identity", vote.identity), zap.Error(err))
		}
	}

	s.marked = append(s.marked, mark)
	m.log.Info("live attendance marked",
		zap.String("session_id", s.id),
		zap.String("identity", vote.identity),
		zap.Float32("similarity", vote.similarity))
	return mark, true
}

func (s *session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *session) snapshotLocked() Snapshot {
	marked := make([]Mark, len(s.marked))
	copy(marked, s.marked)
	return Snapshot{
		ID:           s.id,
		SessionKey:   s.sessionKey,
		CreatedAt:    s.createdAt,
		LastSeen:     s.lastSeen,
		Frames:       s.frames,
		ActiveTracks: len(s.tracker.Active()),
		Marked:       marked,
	}
}

// Run sweeps idle sessions until the context is canceled. Intended to be
// started once next to the HTTP server.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		s.mu.Lock()
		idle := time.Since(s.lastSeen)
		s.mu.Unlock()
		if idle > m.cfg.IdleTTL {
			delete(m.sessions, id)
			m.log.Info("live session expired", zap.String("session_id", id))
		}
	}
}

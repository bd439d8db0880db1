package attendance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/campusware/rollcall/internal/database"
	"github.com/campusware/rollcall/internal/gallery"
	"github.com/campusware/rollcall/internal/imaging"
	"github.com/campusware/rollcall/internal/liveness"
	"github.com/campusware/rollcall/internal/match"
	"github.com/campusware/rollcall/internal/pipeline"
	"github.com/campusware/rollcall/internal/quality"
	"github.com/campusware/rollcall/internal/store"
)

// Skip reasons, in decision order. A skipped scan is a normal outcome, not an
// error; callers surface the reason to the operator.
const (
	SkipNoFace              = "no_face"
	SkipLowDetScore         = quality.ReasonLowDetScore
	SkipBlur                = quality.ReasonBlur
	SkipLivenessUnavailable = "liveness_unavailable"
	SkipLivenessFailed      = "liveness_failed"
	SkipBelowThreshold      = "below_threshold"
	SkipNotEnrolled         = "not_enrolled"
	SkipCooldown            = "cooldown"
)

const (
	defaultTopK        = 5
	cooldownSweepLimit = 1024
)

// ScanConfig tunes the scan decision chain. Zero fields fall back to the
// standard thresholds.
type ScanConfig struct {
	Threshold       float32
	MinDetScore     float32
	BlurThreshold   float64
	RequireLiveness bool
	Liveness        liveness.Config
	Cooldown        time.Duration
	TopK            int
}

func (c ScanConfig) withDefaults() ScanConfig {
	if c.Threshold == 0 {
		c.Threshold = match.DefaultThreshold
	}
	if c.MinDetScore == 0 {
		c.MinDetScore = quality.DefaultMinDetScore
	}
	if c.BlurThreshold == 0 {
		c.BlurThreshold = quality.DefaultScanBlur
	}
	if c.Cooldown == 0 {
		c.Cooldown = database.CooldownWindow
	}
	if c.TopK == 0 {
		c.TopK = defaultTopK
	}
	return c
}

// ScanRequest is one attendance capture. SessionKey scopes the cooldown
// window; an empty key means one global session.
type ScanRequest struct {
	Image      []byte
	SessionKey string
	Debug      bool
}

// ScanResult reports the outcome of one scan. Marked is the single source of
// truth; when false, SkipReason says why.
type ScanResult struct {
	Marked      bool              `json:"marked"`
	SkipReason  string            `json:"skip_reason,omitempty"`
	Identity    string            `json:"identity,omitempty"`
	DisplayName string            `json:"display_name,omitempty"`
	View        string            `json:"view,omitempty"`
	Similarity  float32           `json:"similarity"`
	EngineMode  string            `json:"engine_mode"`
	Liveness    *liveness.Verdict `json:"liveness,omitempty"`
	EventID     int64             `json:"event_id,omitempty"`
	Debug       *ScanDebug        `json:"debug,omitempty"`
}

// ScanDebug carries the diagnostic block returned when the caller asks for it.
type ScanDebug struct {
	TopK    []match.Result `json:"top_k,omitempty"`
	Timings Timings        `json:"timings"`
}

// Timings are per-stage scan latencies in milliseconds.
type Timings struct {
	DecodeMs float64 `json:"decode_ms"`
	DetectMs float64 `json:"detect_ms"`
	MatchMs  float64 `json:"match_ms"`
	TotalMs  float64 `json:"total_ms"`
}

// Scanner runs the attendance decision chain over a shared engine, store and
// gallery cache. Safe for concurrent use.
type Scanner struct {
	engine pipeline.Engine
	store  *store.Store
	cache  *gallery.Cache
	cfg    ScanConfig
	log    *zap.Logger

	identities database.IdentityStore
	events     database.EventStore

	mu       sync.Mutex
	lastMark map[string]time.Time
}

// NewScanner creates a scanner. The engine, store and cache are required; the
// audit layer is attached separately when a database is configured.
func NewScanner(engine pipeline.Engine, st *store.Store, cache *gallery.Cache, cfg ScanConfig, log *zap.Logger) *Scanner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scanner{
		engine:   engine,
		store:    st,
		cache:    cache,
		cfg:      cfg.withDefaults(),
		log:      log,
		lastMark: make(map[string]time.Time),
	}
}

// AttachAudit wires the optional database layer. The enrollment check and
// event trail activate only for the stores that are non-nil; the scanner
// keeps working when the database is down.
func (s *Scanner) AttachAudit(identities database.IdentityStore, events database.EventStore) {
	s.identities = identities
	s.events = events
}

// Scan runs one capture through the decision chain. Errors are reserved for
// system faults; every per-capture rejection comes back as a skip reason.
func (s *Scanner) Scan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	start := time.Now()
	result := &ScanResult{EngineMode: s.engine.Mode()}
	var timings Timings

	finish := func() *ScanResult {
		if req.Debug {
			if result.Debug == nil {
				result.Debug = &ScanDebug{}
			}
			timings.TotalMs = time.Since(start).Seconds() * 1000
			result.Debug.Timings = timings
		}
		return result
	}
	skip := func(reason string) (*ScanResult, error) {
		result.SkipReason = reason
		return finish(), nil
	}

	decodeStart := time.Now()
	img, err := imaging.Decode(req.Image)
	timings.DecodeMs = time.Since(decodeStart).Seconds() * 1000
	if err != nil {
		return skip(SkipNoFace)
	}

	detectStart := time.Now()
	faces, err := s.engine.Detect(ctx, img)
	timings.DetectMs = time.Since(detectStart).Seconds() * 1000
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}
	face, ok := pipeline.BestFace(faces)
	if !ok {
		return skip(SkipNoFace)
	}

	rect := quality.ExpandAndClamp(face.Box.Rect(), img.Bounds(), quality.DefaultPadding)
	if rect.Empty() {
		return skip(SkipNoFace)
	}
	crop := imaging.Crop(img, rect)

	gate := quality.Gate{MinDetScore: s.cfg.MinDetScore, BlurThreshold: s.cfg.BlurThreshold}
	if verdict := gate.Check(crop, face.Score); !verdict.OK {
		return skip(verdict.Reason)
	}

	if s.cfg.RequireLiveness {
		lv := liveness.Evaluate(img, face, s.cfg.Liveness)
		result.Liveness = &lv
		if !lv.Checked {
			return skip(SkipLivenessUnavailable)
		}
		if !lv.Pass {
			return skip(SkipLivenessFailed)
		}
	}

	matchStart := time.Now()
	g, err := s.cache.Get(s.store)
	if err != nil {
		return nil, fmt.Errorf("load gallery: %w", err)
	}
	best := match.Best(g, face.Embedding)
	timings.MatchMs = time.Since(matchStart).Seconds() * 1000
	result.Similarity = best.Similarity
	if req.Debug {
		result.Debug = &ScanDebug{TopK: match.TopK(g, face.Embedding, s.cfg.TopK)}
	}
	if !best.Accepted(s.cfg.Threshold) {
		return skip(SkipBelowThreshold)
	}

	if s.identities != nil {
		ident, err := s.identities.Get(ctx, best.Identity)
		if err != nil {
			s.log.Warn("identity lookup failed, proceeding without enrollment check",
				zap.String("identity", best.Identity), zap.Error(err))
		} else if ident == nil {
			return skip(SkipNotEnrolled)
		} else {
			result.DisplayName = ident.DisplayName
		}
	}

	if !s.clearCooldown(ctx, best.Identity, req.SessionKey) {
		return skip(SkipCooldown)
	}

	result.Marked = true
	result.Identity = best.Identity
	result.View = best.View

	if s.events != nil {
		event := &database.AttendanceEvent{
			Identity:       best.Identity,
			SessionKey:     req.SessionKey,
			View:           best.View,
			Similarity:     best.Similarity,
			EngineMode:     s.engine.Mode(),
			ProbeEmbedding: face.Embedding,
		}
		if result.Liveness != nil {
			event.LivenessScore = result.Liveness.Score
		}
		if err := s.events.Insert(ctx, event); err != nil {
			s.log.Warn("attendance event not persisted",
				zap.String("identity", best.Identity), zap.Error(err))
		} else {
			result.EventID = event.ID
		}
	}

	s.log.Info("attendance marked",
		zap.String("identity", best.Identity),
		zap.String("session", req.SessionKey),
		zap.Float32("similarity", best.Similarity))
	return finish(), nil
}

// clearCooldown reports whether the identity may be marked now and records
// the mark time when it may. The in-memory window is authoritative; when an
// event store is attached it also covers marks from before a restart.
func (s *Scanner) clearCooldown(ctx context.Context, identity, sessionKey string) bool {
	key := identity + "|" + sessionKey
	now := time.Now()

	s.mu.Lock()
	if last, ok := s.lastMark[key]; ok && now.Sub(last) < s.cfg.Cooldown {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	if s.events != nil {
		last, err := s.events.LastForIdentity(ctx, identity, sessionKey)
		if err != nil {
			s.log.Warn("cooldown lookup failed", zap.Error(err))
		} else if last != nil && now.Sub(last.CapturedAt) < s.cfg.Cooldown {
			return false
		}
	}

	s.mu.Lock()
	s.lastMark[key] = now
	if len(s.lastMark) > cooldownSweepLimit {
		for k, t := range s.lastMark {
			if now.Sub(t) >= s.cfg.Cooldown {
				delete(s.lastMark, k)
			}
		}
	}
	s.mu.Unlock()
	return true
}

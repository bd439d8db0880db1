package attendance

import (
	"context"
	"fmt"
	"image"
	"sort"

	"go.uber.org/zap"

	"github.com/campusware/rollcall/internal/database"
	"github.com/campusware/rollcall/internal/imaging"
	"github.com/campusware/rollcall/internal/liveness"
	"github.com/campusware/rollcall/internal/pipeline"
	"github.com/campusware/rollcall/internal/quality"
	"github.com/campusware/rollcall/internal/roster"
	"github.com/campusware/rollcall/internal/store"
)

// RegisterConfig tunes the registration gates. Registration is stricter than
// scanning: these captures become the reference gallery.
type RegisterConfig struct {
	MinDetScore     float32
	BlurThreshold   float64
	RequireLiveness bool
	Liveness        liveness.Config
	MaxHashDistance int
}

func (c RegisterConfig) withDefaults() RegisterConfig {
	if c.MinDetScore == 0 {
		c.MinDetScore = quality.DefaultMinDetScore
	}
	if c.BlurThreshold == 0 {
		c.BlurThreshold = quality.DefaultRegistrationBlur
	}
	if c.MaxHashDistance == 0 {
		c.MaxHashDistance = DefaultMaxHashDistance
	}
	return c
}

// RegisterRequest is one reference capture for an identity and pose view.
type RegisterRequest struct {
	Identity    string
	DisplayName string
	View        string
	Image       []byte
	Overwrite   bool
}

// RegisterResult reports a stored capture and the enrollment progress across
// pose views.
type RegisterResult struct {
	Identity       string   `json:"identity"`
	View           string   `json:"view"`
	Samples        int      `json:"samples"`
	BlurScore      float64  `json:"blur_score"`
	CompletedViews []string `json:"completed_views"`
	MissingViews   []string `json:"missing_views"`
}

// Registrar validates and stores reference captures. Safe for concurrent use;
// per-slot consistency comes from the store's atomic writes.
type Registrar struct {
	engine pipeline.Engine
	store  *store.Store
	cfg    RegisterConfig
	log    *zap.Logger

	identities database.IdentityStore
	mirror     database.MirrorStore
}

// NewRegistrar creates a registrar over the shared engine and store.
func NewRegistrar(engine pipeline.Engine, st *store.Store, cfg RegisterConfig, log *zap.Logger) *Registrar {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registrar{
		engine: engine,
		store:  st,
		cfg:    cfg.withDefaults(),
		log:    log,
	}
}

// AttachAudit wires the optional database layer: identity records and the
// pgvector mirror. Both are best-effort; the filesystem store stays
// authoritative.
func (r *Registrar) AttachAudit(identities database.IdentityStore, mirror database.MirrorStore) {
	r.identities = identities
	r.mirror = mirror
}

// Register runs one reference capture through the registration gates and
// stores it. All rejections come back as wrapped sentinel errors from this
// package.
func (r *Registrar) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if req.Identity == "" || roster.Slug(req.Identity) != req.Identity {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIdentity, req.Identity)
	}
	if !IsValidView(req.View) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidView, req.View)
	}

	img, err := imaging.Decode(req.Image)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}

	faces, err := r.engine.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}
	if len(faces) == 0 {
		return nil, ErrNoFaceDetected
	}
	if len(faces) > 1 {
		return nil, fmt.Errorf("%w: found %d", ErrMultipleFaces, len(faces))
	}
	face := faces[0]

	rect := quality.ExpandAndClamp(face.Box.Rect(), img.Bounds(), quality.DefaultPadding)
	if rect.Empty() {
		return nil, ErrNoFaceDetected
	}
	crop := imaging.Crop(img, rect)

	gate := quality.Gate{MinDetScore: r.cfg.MinDetScore, BlurThreshold: r.cfg.BlurThreshold}
	verdict := gate.Check(crop, face.Score)
	if !verdict.OK {
		return nil, fmt.Errorf("%w: %s (blur %.1f, det %.2f)",
			ErrLowQuality, verdict.Reason, verdict.BlurScore, face.Score)
	}

	if r.cfg.RequireLiveness {
		lv := liveness.Evaluate(img, face, r.cfg.Liveness)
		if !lv.Checked {
			return nil, fmt.Errorf("%w: %s", ErrLivenessFailed, lv.Reason)
		}
		if !lv.Pass {
			return nil, fmt.Errorf("%w: score %.2f", ErrLivenessFailed, lv.Score)
		}
	}

	if !req.Overwrite && r.store.HasView(req.Identity, req.View) {
		return nil, fmt.Errorf("%w: %s/%s", ErrViewExists, req.Identity, req.View)
	}

	if dup, err := r.duplicateView(req.Identity, req.View, crop); err != nil {
		return nil, err
	} else if dup != "" {
		return nil, fmt.Errorf("%w: same capture already registered as %s", ErrDuplicateCapture, dup)
	}

	saveRes, err := r.store.Save(req.Identity, req.View, face.Embedding)
	if err != nil {
		return nil, fmt.Errorf("store embedding: %w", err)
	}
	if jpeg, err := imaging.EncodeJPEG(crop); err != nil {
		r.log.Warn("crop not persisted", zap.Error(err))
	} else if _, err := r.store.SaveCrop(req.Identity, req.View, jpeg); err != nil {
		r.log.Warn("crop not persisted", zap.Error(err))
	}

	r.upsertAudit(ctx, req)
	r.mirrorSlot(ctx, req.Identity, req.View)

	completed, err := r.store.Views(req.Identity)
	if err != nil {
		return nil, fmt.Errorf("list views: %w", err)
	}
	result := &RegisterResult{
		Identity:       req.Identity,
		View:           req.View,
		Samples:        saveRes.Count,
		BlurScore:      verdict.BlurScore,
		CompletedViews: completed,
		MissingViews:   missingViews(completed),
	}

	r.log.Info("capture registered",
		zap.String("identity", req.Identity),
		zap.String("view", req.View),
		zap.Int("samples", saveRes.Count))
	return result, nil
}

// duplicateView returns the view whose stored crop is perceptually the same
// photograph as the new capture, or "" when none is. Guards against one photo
// being re-submitted across pose views.
func (r *Registrar) duplicateView(identity, view string, crop image.Image) (string, error) {
	crops, err := r.store.Crops(identity)
	if err != nil {
		return "", fmt.Errorf("load stored crops: %w", err)
	}
	if len(crops) == 0 {
		return "", nil
	}

	views := make([]string, 0, len(crops))
	for v := range crops {
		if v != view {
			views = append(views, v)
		}
	}
	sort.Strings(views)

	newHash := imaging.Hash(crop)
	for _, otherView := range views {
		stored, err := imaging.Decode(crops[otherView])
		if err != nil {
			continue
		}
		if imaging.Similar(newHash, imaging.Hash(stored), r.cfg.MaxHashDistance) {
			return otherView, nil
		}
	}
	return "", nil
}

// missingViews returns the canonical views not yet present in completed.
func missingViews(completed []string) []string {
	have := make(map[string]bool, len(completed))
	for _, v := range completed {
		have[v] = true
	}
	missing := make([]string, 0, len(Views))
	for _, v := range Views {
		if !have[v] {
			missing = append(missing, v)
		}
	}
	return missing
}

// upsertAudit records the identity in the database when one is attached.
func (r *Registrar) upsertAudit(ctx context.Context, req RegisterRequest) {
	if r.identities == nil {
		return
	}
	name := req.DisplayName
	if name == "" {
		name = req.Identity
	}
	err := r.identities.Upsert(ctx, database.Identity{ID: req.Identity, DisplayName: name})
	if err != nil {
		r.log.Warn("identity record not persisted",
			zap.String("identity", req.Identity), zap.Error(err))
	}
}

// mirrorSlot pushes the slot's current samples to the pgvector mirror when
// one is attached and the engine dimension fits the storage column.
func (r *Registrar) mirrorSlot(ctx context.Context, identity, view string) {
	if r.mirror == nil {
		return
	}
	slot, err := r.store.Load(identity, view)
	if err != nil {
		r.log.Warn("mirror skipped, slot unreadable", zap.Error(err))
		return
	}
	if len(slot.Samples) == 0 || len(slot.Samples[0]) != database.EmbeddingDim {
		return
	}
	if err := r.mirror.UpsertMirror(ctx, identity, view, slot.Samples); err != nil {
		r.log.Warn("mirror upsert failed",
			zap.String("identity", identity), zap.String("view", view), zap.Error(err))
	}
}

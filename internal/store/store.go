// Package store persists face feature vectors on disk. Each identity owns a
// directory holding one slot file per pose view; a slot keeps up to MaxSamples
// raw vectors in insertion order, newest last. The gallery is rebuilt from
// these files, so the store also exposes the latest modification time as the
// cache validity token.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultMaxSamples caps the number of vectors kept per (identity, view).
	DefaultMaxSamples = 8

	slotExt = ".emb"
	cropExt = ".jpg"

	// Sanity bounds for slot file headers; anything outside is corruption.
	maxSlotDim   = 1 << 16
	maxSlotCount = 1 << 12
)

var slotMagic = [4]byte{'R', 'C', 'E', '1'}

// Store reads and writes per-identity vector slots under a root directory.
type Store struct {
	root       string
	maxSamples int
	log        *zap.Logger
}

// Slot is one (identity, view) sample collection loaded from disk.
type Slot struct {
	Identity string
	View     string
	Samples  [][]float32
}

// SaveResult reports where a vector landed and how many samples the slot now
// holds.
type SaveResult struct {
	Path  string
	Count int
}

// DeleteResult counts the files removed for an identity.
type DeleteResult struct {
	EmbeddingFiles int `json:"embedding_files"`
	ImageFiles     int `json:"image_files"`
}

// Stats summarizes the store contents.
type Stats struct {
	Identities int `json:"identities"`
	Slots      int `json:"slots"`
	Samples    int `json:"samples"`
}

// New creates a store rooted at dir. maxSamples <= 0 selects
// DefaultMaxSamples.
func New(root string, maxSamples int, log *zap.Logger) *Store {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{root: root, maxSamples: maxSamples, log: log}
}

// Root returns the store's base directory. Gallery caches key on it.
func (s *Store) Root() string {
	return s.root
}

// MaxSamples returns the per-slot sample cap.
func (s *Store) MaxSamples() int {
	return s.maxSamples
}

// Save appends a raw vector to the (identity, view) slot, evicting the oldest
// samples beyond the cap. A corrupt or dimension-incompatible existing slot is
// discarded and rewritten fresh; that is a data-integrity warning, not an
// error. Empty arguments are caller contract violations.
func (s *Store) Save(identity, view string, vec []float32) (SaveResult, error) {
	if identity == "" || view == "" {
		return SaveResult{}, errors.New("identity and view must not be empty")
	}
	if len(vec) == 0 {
		return SaveResult{}, errors.New("vector must not be empty")
	}

	dir := filepath.Join(s.root, identity)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return SaveResult{}, fmt.Errorf("creating identity directory: %w", err)
	}

	path := filepath.Join(dir, view+slotExt)
	samples, err := readSlotFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.Warn("discarding corrupt slot file",
			zap.String("path", path),
			zap.Error(err))
		samples = nil
	}
	if len(samples) > 0 && len(samples[0]) != len(vec) {
		s.log.Warn("discarding slot with incompatible dimension",
			zap.String("path", path),
			zap.Int("stored_dim", len(samples[0])),
			zap.Int("new_dim", len(vec)))
		samples = nil
	}

	samples = append(samples, vec)
	if len(samples) > s.maxSamples {
		samples = samples[len(samples)-s.maxSamples:]
	}

	if err := writeSlotFile(path, samples); err != nil {
		return SaveResult{}, fmt.Errorf("writing slot file: %w", err)
	}

	return SaveResult{Path: path, Count: len(samples)}, nil
}

// SaveCrop stores the aligned face crop JPEG next to the view's slot file.
func (s *Store) SaveCrop(identity, view string, jpegData []byte) (string, error) {
	if identity == "" || view == "" {
		return "", errors.New("identity and view must not be empty")
	}

	dir := filepath.Join(s.root, identity)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating identity directory: %w", err)
	}

	path := filepath.Join(dir, view+cropExt)
	if err := atomicWrite(path, jpegData); err != nil {
		return "", fmt.Errorf("writing crop image: %w", err)
	}
	return path, nil
}

// Load reads one slot. A missing slot returns fs.ErrNotExist.
func (s *Store) Load(identity, view string) (Slot, error) {
	path := filepath.Join(s.root, identity, view+slotExt)
	samples, err := readSlotFile(path)
	if err != nil {
		return Slot{}, err
	}
	return Slot{Identity: identity, View: view, Samples: samples}, nil
}

// HasView reports whether a slot exists for (identity, view).
func (s *Store) HasView(identity, view string) bool {
	_, err := os.Stat(filepath.Join(s.root, identity, view+slotExt))
	return err == nil
}

// Views lists the view names stored for an identity, sorted.
func (s *Store) Views(identity string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, identity))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing identity directory: %w", err)
	}

	var views []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), slotExt) {
			continue
		}
		views = append(views, strings.TrimSuffix(e.Name(), slotExt))
	}
	return views, nil
}

// Crops returns the stored crop JPEGs for an identity keyed by view. Used by
// the registration dedup check; unreadable files are skipped.
func (s *Store) Crops(identity string) (map[string][]byte, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, identity))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing identity directory: %w", err)
	}

	crops := make(map[string][]byte)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), cropExt) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.root, identity, e.Name()))
		if err != nil {
			s.log.Warn("skipping unreadable crop image",
				zap.String("identity", identity),
				zap.String("file", e.Name()),
				zap.Error(err))
			continue
		}
		crops[strings.TrimSuffix(e.Name(), cropExt)] = data
	}
	return crops, nil
}

// Identities lists identity directories under the root, sorted.
func (s *Store) Identities() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing store root: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// LoadAll reads every slot under the root in sorted (identity, view) order.
// Malformed or unreadable slots are skipped with a warning; they must not
// abort the scan.
func (s *Store) LoadAll() ([]Slot, error) {
	ids, err := s.Identities()
	if err != nil {
		return nil, err
	}

	var slots []Slot
	for _, id := range ids {
		views, err := s.Views(id)
		if err != nil {
			s.log.Warn("skipping unreadable identity directory",
				zap.String("identity", id),
				zap.Error(err))
			continue
		}
		for _, view := range views {
			slot, err := s.Load(id, view)
			if err != nil {
				s.log.Warn("skipping malformed slot",
					zap.String("identity", id),
					zap.String("view", view),
					zap.Error(err))
				continue
			}
			slots = append(slots, slot)
		}
	}
	return slots, nil
}

// Delete removes all stored data for an identity. Deleting an absent identity
// is not an error and reports zero counts.
func (s *Store) Delete(identity string) (DeleteResult, error) {
	if identity == "" {
		return DeleteResult{}, errors.New("identity must not be empty")
	}

	dir := filepath.Join(s.root, identity)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return DeleteResult{}, nil
	}
	if err != nil {
		return DeleteResult{}, fmt.Errorf("listing identity directory: %w", err)
	}

	var result DeleteResult
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), slotExt):
			result.EmbeddingFiles++
		case strings.HasSuffix(e.Name(), cropExt):
			result.ImageFiles++
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		return DeleteResult{}, fmt.Errorf("removing identity directory: %w", err)
	}
	return result, nil
}

// LatestMtime returns the most recent modification time across all slot files
// under the root, or the zero time when none exist. This is the gallery
// cache's validity token; the walk cost scales with gallery size.
func (s *Store) LatestMtime() (time.Time, error) {
	var latest time.Time

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, slotExt) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, fmt.Errorf("scanning store mtimes: %w", err)
	}
	return latest, nil
}

// Stat counts identities, slots and samples under the root.
func (s *Store) Stat() (Stats, error) {
	slots, err := s.LoadAll()
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	seen := make(map[string]bool)
	for _, slot := range slots {
		if !seen[slot.Identity] {
			seen[slot.Identity] = true
			stats.Identities++
		}
		stats.Slots++
		stats.Samples += len(slot.Samples)
	}
	return stats, nil
}

// readSlotFile parses a slot file into sample vectors.
func readSlotFile(path string) ([][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return nil, fmt.Errorf("reading slot header: %w", err)
	}
	if magic != slotMagic {
		return nil, fmt.Errorf("bad slot magic %q", magic)
	}

	var dim, count uint32
	if err := binary.Read(f, binary.LittleEndian, &dim); err != nil {
		return nil, fmt.Errorf("reading slot dimension: %w", err)
	}
	if err := binary.Read(f, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("reading slot count: %w", err)
	}
	if dim == 0 || dim > maxSlotDim {
		return nil, fmt.Errorf("implausible slot dimension %d", dim)
	}
	if count == 0 || count > maxSlotCount {
		return nil, fmt.Errorf("implausible slot count %d", count)
	}

	samples := make([][]float32, count)
	for i := range samples {
		samples[i] = make([]float32, dim)
		if err := binary.Read(f, binary.LittleEndian, samples[i]); err != nil {
			return nil, fmt.Errorf("reading sample %d: %w", i, err)
		}
	}
	return samples, nil
}

// writeSlotFile writes samples to a temp file in the slot's directory and
// renames it into place.
func writeSlotFile(path string, samples [][]float32) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp slot file: %w", err)
	}
	tmpName := f.Name()

	if err := writeSlot(f, samples); err != nil {
		f.Close()
		os.Remove(tmpName)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp slot file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing slot file: %w", err)
	}
	return nil
}

func writeSlot(w io.Writer, samples [][]float32) error {
	if _, err := w.Write(slotMagic[:]); err != nil {
		return fmt.Errorf("writing slot magic: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(samples[0]))); err != nil {
		return fmt.Errorf("writing slot dimension: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(samples))); err != nil {
		return fmt.Errorf("writing slot count: %w", err)
	}
	for i, sample := range samples {
		if err := binary.Write(w, binary.LittleEndian, sample); err != nil {
			return fmt.Errorf("writing sample %d: %w", i, err)
		}
	}
	return nil
}

func atomicWrite(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpName)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

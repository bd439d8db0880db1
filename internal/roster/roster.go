// Package roster imports the campus student roster into attendance
// identities. Student names arrive with diacritics and free-form casing;
// identity IDs double as embedding store directory names, so they are folded
// into filesystem-safe slugs.
package roster

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/campusware/rollcall/internal/database"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizeName normalizes a name for comparison (lowercase, no diacritics,
// spaces for dashes).
func NormalizeName(name string) string {
	name = RemoveDiacritics(name)
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", " ")
	return name
}

// Slug converts a student name into an identity ID. Diacritics are folded,
// everything outside [a-z0-9] collapses into single dashes.
func Slug(name string) string {
	name = strings.ToLower(RemoveDiacritics(name))

	var b strings.Builder
	b.Grow(len(name))
	lastDash := true
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// SyncResult summarizes one roster import run.
type SyncResult struct {
	Synced  int `json:"synced"`
	Skipped int `json:"skipped"`
}

// Sync imports enrolled students into the identity store. Existing identities
// are updated in place; students who left the program are skipped, never
// deleted. Slug collisions between distinct students fall back to a suffix
// derived from the student number.
func Sync(ctx context.Context, identities database.IdentityStore, reader database.RosterReader, log *zap.Logger) (SyncResult, error) {
	if log == nil {
		log = zap.NewNop()
	}

	students, err := reader.Students(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("read roster: %w", err)
	}

	var result SyncResult
	claimed := make(map[string]string) // slug -> external ref
	for _, s := range students {
		if !s.Enrolled {
			result.Skipped++
			continue
		}
		id := Slug(s.FullName)
		if id == "" {
			log.Warn("skipping student with unusable name",
				zap.String("external_ref", s.ExternalRef))
			result.Skipped++
			continue
		}
		if ref, taken := claimed[id]; taken && ref != s.ExternalRef {
			id = Slug(s.FullName + " " + s.ExternalRef)
		}
		claimed[id] = s.ExternalRef

		err := identities.Upsert(ctx, database.Identity{
			ID:          id,
			DisplayName: s.FullName,
			ExternalRef: s.ExternalRef,
		})
		if err != nil {
			return result, fmt.Errorf("upsert identity %s: %w", id, err)
		}
		result.Synced++
	}

	log.Info("roster sync complete",
		zap.Int("synced", result.Synced),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

// Package resolver decides which punishment is in force per type.
//
// Resolution is pure: given candidate records and an instant it returns the
// enforcement-relevant record per type. The newest issued active record wins,
// even over an older one with a later expiry, and identical issue times fall
// back to the higher ID.
package resolver

import (
	"time"

	"github.com/Proximyst/ban/internal/punishment/models"
)

// Active maps each type to its effective punishment. Types with nothing in
// force are absent from the map.
type Active map[models.Type]*models.Punishment

// Get returns the effective punishment of typ, or nil.
func (a Active) Get(typ models.Type) *models.Punishment {
	if a == nil {
		return nil
	}
	return a[typ]
}

func (a Active) Ban() *models.Punishment  { return a.Get(models.TypeBan) }
func (a Active) Mute() *models.Punishment { return a.Get(models.TypeMute) }
func (a Active) Warn() *models.Punishment { return a.Get(models.TypeWarn) }

// Clone copies the map and the records it holds.
func (a Active) Clone() Active {
	out := make(Active, len(a))
	for typ, p := range a {
		out[typ] = p.Clone()
	}
	return out
}

// Resolve selects the effective punishment per type among candidates that
// are active at asOf. Inactive candidates are ignored, so callers may pass
// unfiltered history.
func Resolve(candidates []*models.Punishment, asOf time.Time) Active {
	out := make(Active)
	for _, p := range candidates {
		if p == nil || !p.IsActiveAt(asOf) {
			continue
		}
		if cur, ok := out[p.Type]; !ok || Supersedes(p, cur) {
			out[p.Type] = p
		}
	}
	return out
}

// Merge combines resolved sets, typically of a player key and an IP key,
// applying the same supersession rule per type.
func Merge(sets ...Active) Active {
	out := make(Active)
	for _, set := range sets {
		for typ, p := range set {
			if p == nil {
				continue
			}
			if cur, ok := out[typ]; !ok || Supersedes(p, cur) {
				out[typ] = p
			}
		}
	}
	return out
}

// Supersedes reports whether a replaces b as the effective record.
func Supersedes(a, b *models.Punishment) bool {
	if !a.IssuedAt.Equal(b.IssuedAt) {
		return a.IssuedAt.After(b.IssuedAt)
	}
	return a.ID > b.ID
}

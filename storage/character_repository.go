package storage

import (
	"errors"
	"fmt"

	"github.com/arcforge/loreweaver/core"
)

// CharacterRepository is the versioned character store. Lineage history is
// append-only: versions are contiguous starting at 1 and are never deleted.
type CharacterRepository struct {
	db *Store
}

func NewCharacterRepository(db *Store) *CharacterRepository {
	return &CharacterRepository{db: db}
}

func characterKey(lineageID string, version int) string {
	return fmt.Sprintf("character:%s:v%08d", lineageID, version)
}

func maxVersionKey(lineageID string) string {
	return fmt.Sprintf("character_max:%s", lineageID)
}

func activeVersionKey(lineageID string) string {
	return fmt.Sprintf("character_active:%s", lineageID)
}

// CreateVersion persists a new character version. The supplied version must
// equal currentMax+1; anything else fails with core.ErrConflict. A losing
// compare-and-set is recomputed and retried once before surfacing.
func (r *CharacterRepository) CreateVersion(p core.CharacterProfile) (int, error) {
	if p.Version < 1 {
		return 0, fmt.Errorf("version %d: %w", p.Version, core.ErrConflict)
	}

	for attempt := 0; attempt < 2; attempt++ {
		max, err := r.maxVersion(p.LineageID)
		if err != nil {
			return 0, err
		}
		if p.Version != max+1 {
			return 0, fmt.Errorf("version %d does not extend lineage %s at %d: %w",
				p.Version, p.LineageID, max, core.ErrConflict)
		}

		var expected any
		if max > 0 {
			expected = max
		}
		err = r.db.CompareAndSwapObject(maxVersionKey(p.LineageID), expected, p.Version)
		if errors.Is(err, core.ErrConflict) && attempt == 0 {
			continue
		}
		if err != nil {
			return 0, err
		}

		if err := r.db.CompareAndSwapObject(characterKey(p.LineageID, p.Version), nil, p); err != nil {
			return 0, err
		}
		return p.Version, nil
	}
	return 0, fmt.Errorf("lineage %s version race: %w", p.LineageID, core.ErrConflict)
}

// SetActive atomically repoints the lineage's active version. The version
// must exist.
func (r *CharacterRepository) SetActive(lineageID string, version int) error {
	if _, err := r.GetVersion(lineageID, version); err != nil {
		return err
	}
	return r.db.PutObject(activeVersionKey(lineageID), version)
}

// GetActive returns the currently active character version. Fails with
// core.ErrNotFound before first initialization; a dangling active pointer is
// an integrity fault and surfaces as *core.StateError.
func (r *CharacterRepository) GetActive(lineageID string) (core.CharacterProfile, error) {
	var version int
	if err := r.db.GetObject(activeVersionKey(lineageID), &version); err != nil {
		return core.CharacterProfile{}, err
	}

	p, err := r.GetVersion(lineageID, version)
	if errors.Is(err, core.ErrNotFound) {
		return core.CharacterProfile{}, &core.StateError{
			LineageID: lineageID,
			Reason:    fmt.Sprintf("active pointer references missing version %d", version),
		}
	}
	return p, err
}

// GetVersion returns one specific character version.
func (r *CharacterRepository) GetVersion(lineageID string, version int) (core.CharacterProfile, error) {
	var p core.CharacterProfile
	if err := r.db.GetObject(characterKey(lineageID, version), &p); err != nil {
		return core.CharacterProfile{}, err
	}
	return p, nil
}

// MaxVersion reports the highest persisted version, 0 for an empty lineage.
func (r *CharacterRepository) MaxVersion(lineageID string) (int, error) {
	return r.maxVersion(lineageID)
}

func (r *CharacterRepository) maxVersion(lineageID string) (int, error) {
	var max int
	err := r.db.GetObject(maxVersionKey(lineageID), &max)
	if errors.Is(err, core.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return max, nil
}

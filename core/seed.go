package core

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// LoadSeedProfile reads a character definition file used to bootstrap a
// lineage on first run. The file carries the personality only; version
// metadata is assigned by the caller.
func LoadSeedProfile(path, lineageID string) (CharacterProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CharacterProfile{}, fmt.Errorf("reading seed character %s: %w", path, err)
	}

	var p CharacterProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return CharacterProfile{}, fmt.Errorf("parsing seed character %s: %w", path, err)
	}
	if p.Alias == "" || len(p.Traits) == 0 {
		return CharacterProfile{}, fmt.Errorf("seed character %s: alias and traits are required", path)
	}

	p.LineageID = lineageID
	p.Version = 1
	p.ParentVersion = nil
	p.CreatedAt = time.Now().UTC()
	return p, nil
}

package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PresetSettings is the tunable subset of a trade intent saved under a name
type PresetSettings struct {
	Mode              string  `json:"mode,omitempty"`
	SlippageBps       int     `json:"slippageBps,omitempty"`
	PriorityFee       uint64  `json:"priorityFee,omitempty"`
	AmountVariancePct float64 `json:"amountVariancePct,omitempty"`
	StaggerDelayMs    int     `json:"staggerDelayMs,omitempty"`
	TipLamports       uint64  `json:"tipLamports,omitempty"`
}

// Preset is a named settings bundle. Built-in presets are shared across users
// and cannot be modified or deleted.
type Preset struct {
	Name      string         `json:"name"`
	BuiltIn   bool           `json:"builtIn"`
	Settings  PresetSettings `json:"settings"`
	CreatedAt int64          `json:"createdAt,omitempty"`
	UpdatedAt int64          `json:"updatedAt,omitempty"`
}

// builtinPresets are always available and read-only
var builtinPresets = map[string]PresetSettings{
	"fast": {
		Mode:        "parallel",
		SlippageBps: 500,
		PriorityFee: 100_000,
	},
	"atomic": {
		Mode:        "bundle",
		SlippageBps: 300,
		TipLamports: 50_000,
	},
	"stealth": {
		Mode:              "sequential",
		SlippageBps:       300,
		AmountVariancePct: 15,
		StaggerDelayMs:    2000,
	},
	"aggressive": {
		Mode:        "multi-bundle",
		SlippageBps: 1000,
		PriorityFee: 500_000,
		TipLamports: 100_000,
	},
	"safe": {
		Mode:           "sequential",
		SlippageBps:    100,
		StaggerDelayMs: 1000,
	},
}

// PresetStore manages named settings bundles, keyed by user and lowercased
// preset name.
type PresetStore struct {
	db *DB
}

// NewPresetStore creates a preset store over the database
func NewPresetStore(db *DB) *PresetStore {
	return &PresetStore{db: db}
}

// Save inserts or updates a user preset. Built-in names are reserved.
func (s *PresetStore) Save(userID, name string, settings PresetSettings) error {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return fmt.Errorf("preset name required")
	}
	if _, ok := builtinPresets[key]; ok {
		return fmt.Errorf("preset %q is built-in and read-only", key)
	}

	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	now := time.Now().Unix()
	_, err = s.db.db.Exec(`
		INSERT INTO presets (user_id, name, settings, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, name) DO UPDATE SET settings = excluded.settings, updated_at = excluded.updated_at`,
		userID, key, string(data), now, now)
	return err
}

// Get resolves a preset by name, checking built-ins first
func (s *PresetStore) Get(userID, name string) (*Preset, error) {
	key := strings.ToLower(strings.TrimSpace(name))

	if settings, ok := builtinPresets[key]; ok {
		return &Preset{Name: key, BuiltIn: true, Settings: settings}, nil
	}

	var data string
	var created, updated int64
	err := s.db.db.QueryRow(`
		SELECT settings, created_at, updated_at FROM presets
		WHERE user_id = ? AND name = ?`, userID, key).Scan(&data, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("unknown preset %q", key)
	}
	if err != nil {
		return nil, err
	}

	var settings PresetSettings
	if err := json.Unmarshal([]byte(data), &settings); err != nil {
		return nil, fmt.Errorf("corrupt preset %q: %w", key, err)
	}
	return &Preset{Name: key, Settings: settings, CreatedAt: created, UpdatedAt: updated}, nil
}

// List returns built-ins followed by the user's saved presets
func (s *PresetStore) List(userID string) ([]*Preset, error) {
	var out []*Preset
	for _, name := range []string{"fast", "atomic", "stealth", "aggressive", "safe"} {
		out = append(out, &Preset{Name: name, BuiltIn: true, Settings: builtinPresets[name]})
	}

	rows, err := s.db.db.Query(`
		SELECT name, settings, created_at, updated_at FROM presets
		WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var name, data string
		var created, updated int64
		if err := rows.Scan(&name, &data, &created, &updated); err != nil {
			return nil, err
		}
		var settings PresetSettings
		if err := json.Unmarshal([]byte(data), &settings); err != nil {
			continue
		}
		out = append(out, &Preset{Name: name, Settings: settings, CreatedAt: created, UpdatedAt: updated})
	}
	return out, rows.Err()
}

// Delete removes a user preset. Built-ins cannot be deleted.
func (s *PresetStore) Delete(userID, name string) error {
	key := strings.ToLower(strings.TrimSpace(name))
	if _, ok := builtinPresets[key]; ok {
		return fmt.Errorf("preset %q is built-in and read-only", key)
	}

	res, err := s.db.db.Exec(`DELETE FROM presets WHERE user_id = ? AND name = ?`, userID, key)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("unknown preset %q", key)
	}
	return nil
}

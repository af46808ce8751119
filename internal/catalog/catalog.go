package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
)

// Character is one AI character profile. Profiles are authored offline and
// never mutated at runtime; tag lists keep their authored order.
type Character struct {
	CharID        string         `json:"char_id"`
	Name          string         `json:"name"`
	Nickname      string         `json:"nickname"`
	Description   string         `json:"description,omitempty"`
	Identity      []string       `json:"identity"`
	Personality   []string       `json:"personality"`
	SpeechFeature []string       `json:"speech_feature"`
	Abilities     map[string]int `json:"abilities,omitempty"`
}

// SceneType categorizes a scene.
type SceneType string

const (
	SceneDormitory SceneType = "dormitory"
	SceneOffice    SceneType = "office"
	SceneStreet    SceneType = "street"
	SceneCafe      SceneType = "cafe"
	SceneOther     SceneType = "other"
)

// Scene is read-only scene reference data.
type Scene struct {
	SceneID    string    `json:"scene_id"`
	SceneName  string    `json:"scene_name"`
	SceneType  SceneType `json:"scene_type"`
	Atmosphere []string  `json:"atmosphere"`
}

var ErrNotFound = errors.New("character not found")

type snapshot struct {
	characters map[string]Character
	order      []string
	scenes     map[string]Scene
}

// Catalog serves the character and scene reference data. Loading builds a
// fresh snapshot which is swapped in atomically; the read path takes no locks.
type Catalog struct {
	snap atomic.Pointer[snapshot]
}

// Load reads characters.json and scenes.json from dir.
func Load(dir string) (*Catalog, error) {
	c := &Catalog{}
	if err := c.Reload(dir); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload replaces the served snapshot. On error the previous snapshot keeps
// serving.
func (c *Catalog) Reload(dir string) error {
	snap, err := loadSnapshot(dir)
	if err != nil {
		return err
	}
	c.snap.Store(snap)
	return nil
}

func loadSnapshot(dir string) (*snapshot, error) {
	var chars []Character
	if err := readJSONFile(filepath.Join(dir, "characters.json"), &chars); err != nil {
		return nil, err
	}
	snap := &snapshot{
		characters: make(map[string]Character, len(chars)),
		order:      make([]string, 0, len(chars)),
		scenes:     make(map[string]Scene),
	}
	for i, ch := range chars {
		if ch.CharID == "" {
			return nil, fmt.Errorf("characters[%d]: char_id is required", i)
		}
		if _, dup := snap.characters[ch.CharID]; dup {
			return nil, fmt.Errorf("duplicate character %q", ch.CharID)
		}
		for category, level := range ch.Abilities {
			if level < 0 || level > 5 {
				return nil, fmt.Errorf("character %q: ability %q level %d out of range [0,5]", ch.CharID, category, level)
			}
		}
		snap.characters[ch.CharID] = ch
		snap.order = append(snap.order, ch.CharID)
	}

	var scenes []Scene
	if err := readJSONFile(filepath.Join(dir, "scenes.json"), &scenes); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		// Scene data is optional; scene hints simply never match.
	}
	for i, sc := range scenes {
		if sc.SceneID == "" {
			return nil, fmt.Errorf("scenes[%d]: scene_id is required", i)
		}
		switch sc.SceneType {
		case SceneDormitory, SceneOffice, SceneStreet, SceneCafe, SceneOther:
		default:
			return nil, fmt.Errorf("scene %q: unknown scene_type %q", sc.SceneID, sc.SceneType)
		}
		if _, dup := snap.scenes[sc.SceneID]; dup {
			return nil, fmt.Errorf("duplicate scene %q", sc.SceneID)
		}
		snap.scenes[sc.SceneID] = sc
	}

	return snap, nil
}

func readJSONFile(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}

// Character returns the profile for id.
func (c *Catalog) Character(id string) (Character, error) {
	snap := c.snap.Load()
	ch, ok := snap.characters[id]
	if !ok {
		return Character{}, ErrNotFound
	}
	return ch, nil
}

// Characters lists all profiles in load order.
func (c *Catalog) Characters() []Character {
	snap := c.snap.Load()
	out := make([]Character, 0, len(snap.order))
	for _, id := range snap.order {
		out = append(out, snap.characters[id])
	}
	return out
}

// Scene returns scene reference data for id.
func (c *Catalog) Scene(id string) (Scene, bool) {
	snap := c.snap.Load()
	sc, ok := snap.scenes[id]
	return sc, ok
}

// Len reports the number of characters.
func (c *Catalog) Len() int {
	return len(c.snap.Load().order)
}

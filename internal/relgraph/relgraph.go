package relgraph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
)

// Edge is one directed relationship record: how From behaves toward To for a
// given relationship type. Several edges may exist for the same ordered pair
// with different types.
type Edge struct {
	From          string   `json:"from"`
	To            string   `json:"to"`
	Type          string   `json:"relationship_type"`
	Intensity     int      `json:"intensity"`
	SpeechRules   []string `json:"speech_rules,omitempty"`
	Taboos        []string `json:"taboos,omitempty"`
	TypicalScenes []string `json:"typical_scenes,omitempty"`
}

type pairKey struct {
	from, to string
}

type snapshot struct {
	edges  []Edge
	byPair map[pairKey][]Edge
	byFrom map[string][]Edge
}

// Store is the read-optimized directed relationship graph. A load builds a
// complete snapshot which is swapped in atomically; readers never lock.
type Store struct {
	snap atomic.Pointer[snapshot]
}

// Load reads relationships.json from dir.
func Load(dir string) (*Store, error) {
	s := &Store{}
	if err := s.Reload(dir); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload replaces the served snapshot; on error the old snapshot keeps
// serving.
func (s *Store) Reload(dir string) error {
	raw, err := os.ReadFile(filepath.Join(dir, "relationships.json"))
	if err != nil {
		return err
	}
	var edges []Edge
	if err := json.Unmarshal(raw, &edges); err != nil {
		return fmt.Errorf("relationships.json: %w", err)
	}

	snap := &snapshot{
		byPair: make(map[pairKey][]Edge),
		byFrom: make(map[string][]Edge),
	}
	seen := make(map[string]bool)
	for i, e := range edges {
		if e.From == "" || e.To == "" || e.Type == "" {
			return fmt.Errorf("relationships[%d]: from, to and relationship_type are required", i)
		}
		if e.Intensity < 1 || e.Intensity > 10 {
			return fmt.Errorf("edge %s->%s (%s): intensity %d out of range [1,10]", e.From, e.To, e.Type, e.Intensity)
		}
		key := e.From + "\x00" + e.To + "\x00" + e.Type
		if seen[key] {
			return fmt.Errorf("duplicate edge %s->%s (%s)", e.From, e.To, e.Type)
		}
		seen[key] = true
		snap.edges = append(snap.edges, e)
		snap.byPair[pairKey{e.From, e.To}] = append(snap.byPair[pairKey{e.From, e.To}], e)
		snap.byFrom[e.From] = append(snap.byFrom[e.From], e)
	}

	// Sort once at load: intensity descending, load order breaking ties.
	for key, list := range snap.byPair {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Intensity > list[j].Intensity
		})
		snap.byPair[key] = list
	}

	s.snap.Store(snap)
	return nil
}

// EdgesFrom returns the edges for the ordered pair (from, to) sorted by
// intensity descending; equal intensities keep their load order.
func (s *Store) EdgesFrom(from, to string) []Edge {
	snap := s.snap.Load()
	list := snap.byPair[pairKey{from, to}]
	if len(list) == 0 {
		return nil
	}
	out := make([]Edge, len(list))
	copy(out, list)
	return out
}

// AllEdgesFor returns the outgoing adjacency for char in load order. This is
// a diagnostics path, not the per-message hot path.
func (s *Store) AllEdgesFor(char string) []Edge {
	snap := s.snap.Load()
	list := snap.byFrom[char]
	if len(list) == 0 {
		return nil
	}
	out := make([]Edge, len(list))
	copy(out, list)
	return out
}

// Edges returns every edge in load order.
func (s *Store) Edges() []Edge {
	snap := s.snap.Load()
	out := make([]Edge, len(snap.edges))
	copy(out, snap.edges)
	return out
}

// Len reports the number of edges.
func (s *Store) Len() int {
	return len(s.snap.Load().edges)
}

// TypeStat summarizes one relationship type across the graph.
type TypeStat struct {
	Type          string  `json:"relationship_type"`
	Count         int     `json:"count"`
	MeanIntensity float64 `json:"mean_intensity"`
}

// Degree is a character's total edge count, incoming plus outgoing.
type Degree struct {
	CharID      string `json:"char_id"`
	Connections int    `json:"connections"`
}

// NetworkStats is the relationship network analysis consumed by diagnostics.
type NetworkStats struct {
	Types        []TypeStat `json:"types"`
	TopConnected []Degree   `json:"top_connected"`
}

// Stats computes edge counts and mean intensity per relationship type, and
// ranks characters by connection degree.
func (s *Store) Stats() NetworkStats {
	snap := s.snap.Load()

	counts := make(map[string]int)
	sums := make(map[string]int)
	degrees := make(map[string]int)
	var typeOrder []string
	for _, e := range snap.edges {
		if counts[e.Type] == 0 {
			typeOrder = append(typeOrder, e.Type)
		}
		counts[e.Type]++
		sums[e.Type] += e.Intensity
		degrees[e.From]++
		degrees[e.To]++
	}

	stats := NetworkStats{}
	for _, typ := range typeOrder {
		stats.Types = append(stats.Types, TypeStat{
			Type:          typ,
			Count:         counts[typ],
			MeanIntensity: float64(sums[typ]) / float64(counts[typ]),
		})
	}
	sort.SliceStable(stats.Types, func(i, j int) bool {
		return stats.Types[i].Count > stats.Types[j].Count
	})

	for char, n := range degrees {
		stats.TopConnected = append(stats.TopConnected, Degree{CharID: char, Connections: n})
	}
	sort.Slice(stats.TopConnected, func(i, j int) bool {
		if stats.TopConnected[i].Connections != stats.TopConnected[j].Connections {
			return stats.TopConnected[i].Connections > stats.TopConnected[j].Connections
		}
		return stats.TopConnected[i].CharID < stats.TopConnected[j].CharID
	})

	return stats
}

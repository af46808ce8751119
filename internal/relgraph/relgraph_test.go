package relgraph

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeGraph(t *testing.T, relationships string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "relationships.json"), []byte(relationships), 0o644); err != nil {
		t.Fatalf("write relationships.json: %v", err)
	}
	return dir
}

const sampleGraph = `[
  {"from":"kuroko","to":"mikoto","relationship_type":"admires","intensity":10,
   "speech_rules":["addresses her as onee-sama"],"taboos":["never casual name"]},
  {"from":"kuroko","to":"mikoto","relationship_type":"roommate","intensity":7,
   "speech_rules":["shares dorm gossip"]},
  {"from":"kuroko","to":"mikoto","relationship_type":"colleague","intensity":7},
  {"from":"mikoto","to":"kuroko","relationship_type":"friend","intensity":8},
  {"from":"mikoto","to":"saten","relationship_type":"friend","intensity":6}
]`

func TestEdgesFromSortedByIntensityStable(t *testing.T) {
	s, err := Load(writeGraph(t, sampleGraph))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	edges := s.EdgesFrom("kuroko", "mikoto")
	if len(edges) != 3 {
		t.Fatalf("EdgesFrom() returned %d edges, want 3", len(edges))
	}
	gotTypes := []string{edges[0].Type, edges[1].Type, edges[2].Type}
	// intensity 10 first; the two intensity-7 edges keep load order.
	want := []string{"admires", "roommate", "colleague"}
	if !reflect.DeepEqual(gotTypes, want) {
		t.Fatalf("edge order = %v, want %v", gotTypes, want)
	}

	// Repeated calls must be idempotent.
	again := s.EdgesFrom("kuroko", "mikoto")
	if !reflect.DeepEqual(edges, again) {
		t.Fatalf("EdgesFrom() not stable across calls")
	}
}

func TestEdgesFromDirectionality(t *testing.T) {
	s, err := Load(writeGraph(t, sampleGraph))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	reverse := s.EdgesFrom("mikoto", "kuroko")
	if len(reverse) != 1 || reverse[0].Type != "friend" {
		t.Fatalf("EdgesFrom(mikoto,kuroko) = %+v", reverse)
	}
	if got := s.EdgesFrom("saten", "mikoto"); got != nil {
		t.Fatalf("EdgesFrom with no edges = %+v, want nil", got)
	}
}

func TestAllEdgesFor(t *testing.T) {
	s, err := Load(writeGraph(t, sampleGraph))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	out := s.AllEdgesFor("mikoto")
	if len(out) != 2 {
		t.Fatalf("AllEdgesFor(mikoto) returned %d edges, want 2", len(out))
	}
	if out[0].To != "kuroko" || out[1].To != "saten" {
		t.Fatalf("adjacency order = %+v", out)
	}
}

func TestLoadRejectsBadEdges(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"intensity too high", `[{"from":"a","to":"b","relationship_type":"x","intensity":11}]`},
		{"intensity zero", `[{"from":"a","to":"b","relationship_type":"x","intensity":0}]`},
		{"missing type", `[{"from":"a","to":"b","intensity":5}]`},
		{"duplicate key", `[{"from":"a","to":"b","relationship_type":"x","intensity":5},{"from":"a","to":"b","relationship_type":"x","intensity":6}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeGraph(t, tc.data)); err == nil {
				t.Fatalf("Load() should fail")
			}
		})
	}
}

func TestStats(t *testing.T) {
	s, err := Load(writeGraph(t, sampleGraph))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	stats := s.Stats()
	if len(stats.Types) != 4 {
		t.Fatalf("Types = %+v, want 4 entries", stats.Types)
	}
	if stats.Types[0].Type != "friend" || stats.Types[0].Count != 2 || stats.Types[0].MeanIntensity != 7 {
		t.Fatalf("top type = %+v", stats.Types[0])
	}
	if stats.TopConnected[0].CharID != "mikoto" || stats.TopConnected[0].Connections != 5 {
		t.Fatalf("top connected = %+v", stats.TopConnected[0])
	}
}

func TestReloadKeepsOldSnapshotOnError(t *testing.T) {
	dir := writeGraph(t, sampleGraph)
	s, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	bad := writeGraph(t, `[{"from":"a","to":"b","relationship_type":"x","intensity":42}]`)
	if err := s.Reload(bad); err == nil {
		t.Fatalf("Reload() with bad data should fail")
	}
	if s.Len() != 5 {
		t.Fatalf("Len() after failed reload = %d, want 5", s.Len())
	}
}

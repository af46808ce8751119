package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/echosoul-labs/echosoul/internal/catalog"
	"github.com/echosoul-labs/echosoul/internal/relgraph"
)

var dataDir string

var rootCmd = &cobra.Command{
	Use:   "soulctl",
	Short: "Dataset tooling for the EchoSoul dialogue engine",
	Long:  "Validates and analyzes the character, relationship and scene datasets consumed by the dialogue engine.",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "./data", "Directory holding characters.json, relationships.json and scenes.json")
	rootCmd.AddCommand(validateCmd, statsCmd)
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the datasets and report every failure",
	Run:   runValidate,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print relationship network statistics",
	Run:   runStats,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}

// runValidate re-checks the raw files instead of using the package loaders,
// which stop at the first error; an operator fixing a dataset wants the full
// list in one pass.
func runValidate(_ *cobra.Command, _ []string) {
	var problems []string
	report := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	var characters []catalog.Character
	if err := readJSON(filepath.Join(dataDir, "characters.json"), &characters); err != nil {
		exitErr("characters.json", err)
	}
	charIDs := make(map[string]bool, len(characters))
	for i, ch := range characters {
		if ch.CharID == "" {
			report("characters[%d]: char_id is required", i)
			continue
		}
		if charIDs[ch.CharID] {
			report("characters: duplicate char_id %q", ch.CharID)
		}
		charIDs[ch.CharID] = true
		for category, level := range ch.Abilities {
			if level < 0 || level > 5 {
				report("character %q: ability %q level %d out of range [0,5]", ch.CharID, category, level)
			}
		}
	}

	var scenes []catalog.Scene
	sceneIDs := make(map[string]bool)
	scenesPath := filepath.Join(dataDir, "scenes.json")
	if err := readJSON(scenesPath, &scenes); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			exitErr("scenes.json", err)
		}
	}
	for i, sc := range scenes {
		if sc.SceneID == "" {
			report("scenes[%d]: scene_id is required", i)
			continue
		}
		if sceneIDs[sc.SceneID] {
			report("scenes: duplicate scene_id %q", sc.SceneID)
		}
		sceneIDs[sc.SceneID] = true
		switch sc.SceneType {
		case catalog.SceneDormitory, catalog.SceneOffice, catalog.SceneStreet, catalog.SceneCafe, catalog.SceneOther:
		default:
			report("scene %q: unknown scene_type %q", sc.SceneID, sc.SceneType)
		}
	}

	var edges []relgraph.Edge
	if err := readJSON(filepath.Join(dataDir, "relationships.json"), &edges); err != nil {
		exitErr("relationships.json", err)
	}
	seen := make(map[string]bool, len(edges))
	for i, e := range edges {
		if e.From == "" || e.To == "" || e.Type == "" {
			report("relationships[%d]: from, to and relationship_type are required", i)
			continue
		}
		if e.Intensity < 1 || e.Intensity > 10 {
			report("edge %s->%s (%s): intensity %d out of range [1,10]", e.From, e.To, e.Type, e.Intensity)
		}
		key := e.From + "\x00" + e.To + "\x00" + e.Type
		if seen[key] {
			report("duplicate edge %s->%s (%s)", e.From, e.To, e.Type)
		}
		seen[key] = true
		if !charIDs[e.From] {
			report("edge %s->%s (%s): from endpoint is not in the catalog", e.From, e.To, e.Type)
		}
		for _, sceneID := range e.TypicalScenes {
			if len(sceneIDs) > 0 && !sceneIDs[sceneID] {
				report("edge %s->%s (%s): typical scene %q is not in scenes.json", e.From, e.To, e.Type, sceneID)
			}
		}
	}

	fmt.Printf("characters: %d\nscenes: %d\nrelationship edges: %d\n", len(characters), len(scenes), len(edges))
	if len(problems) == 0 {
		fmt.Println("ok")
		return
	}
	fmt.Printf("%d problem(s):\n", len(problems))
	for _, p := range problems {
		fmt.Println("  " + p)
	}
	os.Exit(1)
}

func runStats(_ *cobra.Command, _ []string) {
	graph, err := relgraph.Load(dataDir)
	if err != nil {
		exitErr("load relationships", err)
	}

	b, _ := json.MarshalIndent(graph.Stats(), "", "  ")
	fmt.Println(string(b))
}

func readJSON(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

package assembler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/echosoul-labs/echosoul/internal/catalog"
	"github.com/echosoul-labs/echosoul/internal/history"
	"github.com/echosoul-labs/echosoul/internal/relgraph"
)

// Directive is how the speaking character should behave toward one
// participant, derived from a single relationship edge.
type Directive struct {
	ParticipantID string   `json:"participant_id"`
	Type          string   `json:"relationship_type"`
	Intensity     int      `json:"intensity"`
	SpeechRules   []string `json:"speech_rules,omitempty"`
	Taboos        []string `json:"taboos,omitempty"`
}

// Bundle is the deterministic context payload handed to the generation
// collaborator: profile, relationship directives, scene, then recent turns,
// always in that order.
type Bundle struct {
	Character  catalog.Character `json:"character"`
	Directives []Directive       `json:"directives"`
	Scene      *catalog.Scene    `json:"scene,omitempty"`
	Turns      []history.Turn    `json:"turns"`
}

// Assembler composes context bundles. It only reads; it never writes to any
// store or touches the network.
type Assembler struct {
	catalog *catalog.Catalog
	graph   *relgraph.Store
	history history.Store
	window  int
}

func New(cat *catalog.Catalog, graph *relgraph.Store, hist history.Store, window int) *Assembler {
	if window <= 0 {
		window = 20
	}
	return &Assembler{catalog: cat, graph: graph, history: hist, window: window}
}

// Assemble builds the bundle for characterID speaking in conversationID.
// Participants are the other parties in the conversation, in caller order;
// sceneHint is matched against known scenes and silently dropped otherwise.
func (a *Assembler) Assemble(ctx context.Context, characterID, conversationID string, participants []string, sceneHint string) (Bundle, error) {
	character, err := a.catalog.Character(characterID)
	if err != nil {
		return Bundle{}, err
	}
	bundle := Bundle{Character: character}

	for _, participant := range participants {
		// EdgesFrom is already intensity-descending with a stable tie-break,
		// so directive order is fixed for identical inputs. A participant
		// without edges contributes nothing: neutral default.
		for _, edge := range a.graph.EdgesFrom(characterID, participant) {
			bundle.Directives = append(bundle.Directives, Directive{
				ParticipantID: participant,
				Type:          edge.Type,
				Intensity:     edge.Intensity,
				SpeechRules:   edge.SpeechRules,
				Taboos:        edge.Taboos,
			})
		}
	}

	if sceneHint != "" {
		if scene, ok := a.catalog.Scene(sceneHint); ok {
			bundle.Scene = &scene
		}
	}

	turns, err := a.history.Recent(ctx, conversationID, a.window)
	if err != nil {
		return Bundle{}, fmt.Errorf("recent turns: %w", err)
	}
	bundle.Turns = turns

	return bundle, nil
}

// Render serializes the bundle into the prompt text for the generator.
// Identical bundles always render to identical strings.
func (b Bundle) Render() string {
	var sb strings.Builder

	sb.WriteString("[character]\n")
	fmt.Fprintf(&sb, "id: %s\nname: %s\nnickname: %s\n", b.Character.CharID, b.Character.Name, b.Character.Nickname)
	if b.Character.Description != "" {
		fmt.Fprintf(&sb, "description: %s\n", b.Character.Description)
	}
	writeTagLine(&sb, "identity", b.Character.Identity)
	writeTagLine(&sb, "personality", b.Character.Personality)
	writeTagLine(&sb, "speech_feature", b.Character.SpeechFeature)
	if len(b.Character.Abilities) > 0 {
		categories := make([]string, 0, len(b.Character.Abilities))
		for category := range b.Character.Abilities {
			categories = append(categories, category)
		}
		sort.Strings(categories)
		parts := make([]string, 0, len(categories))
		for _, category := range categories {
			parts = append(parts, fmt.Sprintf("%s=%d", category, b.Character.Abilities[category]))
		}
		fmt.Fprintf(&sb, "abilities: %s\n", strings.Join(parts, ", "))
	}

	if len(b.Directives) > 0 {
		sb.WriteString("\n[relationships]\n")
		for _, d := range b.Directives {
			fmt.Fprintf(&sb, "toward %s (%s, intensity %d)\n", d.ParticipantID, d.Type, d.Intensity)
			for _, rule := range d.SpeechRules {
				fmt.Fprintf(&sb, "  rule: %s\n", rule)
			}
			for _, taboo := range d.Taboos {
				fmt.Fprintf(&sb, "  taboo: %s\n", taboo)
			}
		}
	}

	if b.Scene != nil {
		sb.WriteString("\n[scene]\n")
		fmt.Fprintf(&sb, "id: %s\ntype: %s\n", b.Scene.SceneID, b.Scene.SceneType)
		writeTagLine(&sb, "atmosphere", b.Scene.Atmosphere)
	}

	if len(b.Turns) > 0 {
		sb.WriteString("\n[recent_turns]\n")
		for _, turn := range b.Turns {
			fmt.Fprintf(&sb, "%d %s: %s\n", turn.TurnNum, turn.SpeakerID, turn.Content)
		}
	}

	return sb.String()
}

func writeTagLine(sb *strings.Builder, label string, tags []string) {
	if len(tags) == 0 {
		return
	}
	fmt.Fprintf(sb, "%s: %s\n", label, strings.Join(tags, ", "))
}

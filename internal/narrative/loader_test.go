package narrative

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/narrative-engine/internal/types"
)

func writeContent(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
}

func TestLoadRegistryFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writeContent(t, dir, "heist.yaml", testContentYAML)
	writeContent(t, dir, "notes.txt", "not content")
	writeContent(t, dir, "side.yml", `
quests:
  delivery:
    name: Delivery
    entry_node: pickup
    nodes:
      pickup:
        title: Pick up the package
        terminal: true
`)

	reg, err := LoadRegistry(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"corpo_heist", "delivery"}, reg.QuestIDs())
	assert.Equal(t, []string{"jackie_intro"}, reg.DialogueIDs())

	q, ok := reg.Quest("corpo_heist")
	require.True(t, ok)
	assert.Equal(t, "briefing", q.EntryNode)
	assert.Equal(t, "corpo_heist", q.Nodes["lobby"].QuestID)
	assert.Equal(t, "lobby", q.Nodes["lobby"].ID)
	assert.Equal(t, 2, q.MinLevel)

	b, owner, ok := reg.Branch("street_path")
	require.True(t, ok)
	assert.Equal(t, "corpo_heist", owner.ID)
	assert.Equal(t, "Street approach", b.Name)

	tree, ok := reg.Dialogue("jackie_intro")
	require.True(t, ok)
	assert.Equal(t, "jackie", tree.NPCID)
	assert.Equal(t, 15, tree.Nodes["greeting"].Choices[1].SkillCheck.Difficulty)

	delivery, _ := reg.Quest("delivery")
	assert.NotNil(t, delivery.RequiredQuests)
	assert.NotNil(t, delivery.MinReputation)
}

func TestLoadFromDirectoryErrors(t *testing.T) {
	// Test case 1: missing directory
	_, err := LoadFromDirectory(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	// Test case 2: duplicate quest across files
	dir := t.TempDir()
	writeContent(t, dir, "a.yaml", testContentYAML)
	writeContent(t, dir, "b.yaml", testContentYAML)
	_, err = LoadFromDirectory(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defined more than once")

	// Test case 3: malformed YAML
	dir = t.TempDir()
	writeContent(t, dir, "bad.yaml", "quests: [unclosed")
	_, err = LoadFromDirectory(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.yaml")
}

func TestBuildRegistryRejectsIncoherentContent(t *testing.T) {
	dir := t.TempDir()
	writeContent(t, dir, "broken.yaml", `
quests:
  broken:
    name: Broken
    entry_node: start
    nodes:
      start:
        title: Start
        transitions:
          - choice_id: nowhere
            to_node: missing_node
    branches:
      a:
        name: A
        conditions:
          - type: horoscope
      b:
        name: B
      c:
        name: C
    relationships:
      - {from: a, to: b, type: requires}
      - {from: b, to: a, type: requires}
      - {from: a, to: c, type: requires}
      - {from: a, to: c, type: exclusive_with}
      - {from: c, to: ghost, type: blocks}
    critical_paths:
      - id: doomed
        branches: [c, a]
`)

	_, err := LoadRegistry(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNarrativeCoherence)

	nerr, ok := AsError(err)
	require.True(t, ok)
	all := strings.Join(nerr.Reasons, "\n")
	assert.Contains(t, all, "unknown node \"missing_node\"")
	assert.Contains(t, all, "unknown condition type \"horoscope\"")
	assert.Contains(t, all, "both requires and excludes")
	assert.Contains(t, all, "requires cycle")
	assert.Contains(t, all, "references unknown branch")
	assert.Contains(t, all, "contains exclusive branches")
}

func TestRegistryRejectsDuplicateBranches(t *testing.T) {
	reg := NewRegistry()
	mk := func(id string) *types.Quest {
		return &types.Quest{
			ID:        id,
			EntryNode: "n",
			Nodes:     map[string]*types.QuestNode{"n": {Terminal: true}},
			Branches:  map[string]*types.QuestBranch{"shared": {Name: "Shared"}},
		}
	}

	require.NoError(t, reg.AddQuest(mk("one")))
	assert.Error(t, reg.AddQuest(mk("one")))
	assert.Error(t, reg.AddQuest(mk("two")))
}

func TestValidateDialogueReferences(t *testing.T) {
	var content ContentConfig
	content.Dialogues = map[string]DialogueDefinition{
		"bad": {
			NPCID: "npc",
			Root:  "nope",
			Nodes: map[string]DialogueNodeDefinition{
				"hello": {
					Speaker: "npc",
					Choices: []types.Choice{
						{ID: "lost", LeadsToNode: "void"},
						{ID: "dangling"},
						{ID: "rogue", LeadsToNode: "hello", ActivatesBranch: "unknown_branch"},
					},
				},
			},
		},
	}

	_, err := content.BuildRegistry()
	require.Error(t, err)
	nerr, _ := AsError(err)
	all := strings.Join(nerr.Reasons, "\n")
	assert.Contains(t, all, "root node \"nope\"")
	assert.Contains(t, all, "targets unknown node \"void\"")
	assert.Contains(t, all, "leads nowhere")
	assert.Contains(t, all, "unknown branch \"unknown_branch\"")
}

func TestFindCycle(t *testing.T) {
	assert.Nil(t, findCycle(map[string][]string{"a": {"b"}, "b": {"c"}}))
	cycle := findCycle(map[string][]string{"a": {"b"}, "b": {"c"}, "c": {"a"}})
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cycle)
}

func TestShippedContentIsCoherent(t *testing.T) {
	reg, err := LoadRegistry(filepath.Join("..", "..", "content"))
	require.NoError(t, err)
	assert.Contains(t, reg.QuestIDs(), "arasaka_tower")
	assert.Contains(t, reg.DialogueIDs(), "jackie_heist_prep")
}

package narrative

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/user/narrative-engine/internal/types"
	"gopkg.in/yaml.v3"
)

// QuestNodeDefinition for YAML parsing
type QuestNodeDefinition struct {
	Title       string                 `yaml:"title"`
	NPCID       string                 `yaml:"npc_id"`
	LocationID  string                 `yaml:"location_id"`
	Reward      types.Reward           `yaml:"reward"`
	Objectives  []types.Objective      `yaml:"objectives"`
	Transitions []types.NodeTransition `yaml:"transitions"`
	Terminal    bool                   `yaml:"terminal"`
}

// BranchDefinition for YAML parsing
type BranchDefinition struct {
	Name         string                  `yaml:"name"`
	Conditions   []types.BranchCondition `yaml:"conditions"`
	Consequences []types.Consequence     `yaml:"consequences"`
	EntryNode    string                  `yaml:"entry_node"`
	Nodes        []string                `yaml:"nodes"`
}

// QuestDefinition for YAML parsing
type QuestDefinition struct {
	Name           string                         `yaml:"name"`
	Description    string                         `yaml:"description"`
	RequiredQuests []string                       `yaml:"required_quests"`
	MinLevel       int                            `yaml:"min_level"`
	MinReputation  map[string]int                 `yaml:"min_reputation"`
	EntryNode      string                         `yaml:"entry_node"`
	Nodes          map[string]QuestNodeDefinition `yaml:"nodes"`
	Branches       map[string]BranchDefinition    `yaml:"branches"`
	Relationships  []types.BranchRelationship     `yaml:"relationships"`
	CriticalPaths  []types.CriticalPath           `yaml:"critical_paths"`
	Endings        []types.Ending                 `yaml:"endings"`
}

// DialogueNodeDefinition for YAML parsing
type DialogueNodeDefinition struct {
	Speaker         string         `yaml:"speaker"`
	Text            string         `yaml:"text"`
	Choices         []types.Choice `yaml:"choices"`
	EndConversation bool           `yaml:"end_conversation"`
}

// DialogueDefinition for YAML parsing
type DialogueDefinition struct {
	NPCID string                            `yaml:"npc_id"`
	Root  string                            `yaml:"root"`
	Nodes map[string]DialogueNodeDefinition `yaml:"nodes"`
}

// ContentConfig represents the structure of a content file
type ContentConfig struct {
	Quests    map[string]QuestDefinition    `yaml:"quests"`
	Dialogues map[string]DialogueDefinition `yaml:"dialogues"`
}

// LoadContentFromYAML loads quest and dialogue definitions from a YAML file
func LoadContentFromYAML(filename string) (*ContentConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read content file: %w", err)
	}

	var config ContentConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse content YAML %s: %w", filepath.Base(filename), err)
	}

	return &config, nil
}

// LoadFromDirectory merges every *.yaml and *.yml file in dir
func LoadFromDirectory(dir string) (*ContentConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read content directory: %w", err)
	}

	merged := &ContentConfig{
		Quests:    make(map[string]QuestDefinition),
		Dialogues: make(map[string]DialogueDefinition),
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		config, err := LoadContentFromYAML(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}

		for id, def := range config.Quests {
			if _, exists := merged.Quests[id]; exists {
				return nil, fmt.Errorf("quest %s defined more than once (%s)", id, name)
			}
			merged.Quests[id] = def
		}
		for id, def := range config.Dialogues {
			if _, exists := merged.Dialogues[id]; exists {
				return nil, fmt.Errorf("dialogue %s defined more than once (%s)", id, name)
			}
			merged.Dialogues[id] = def
		}
	}

	return merged, nil
}

// BuildRegistry converts definitions into templates and runs the static
// content checks. Content with violations is refused.
func (config *ContentConfig) BuildRegistry() (*Registry, error) {
	reg := NewRegistry()

	for _, id := range sortedKeys(config.Quests) {
		def := config.Quests[id]
		if err := reg.AddQuest(createQuestFromDefinition(id, &def)); err != nil {
			return nil, err
		}
	}
	for _, id := range sortedKeys(config.Dialogues) {
		def := config.Dialogues[id]
		if err := reg.AddDialogue(createDialogueFromDefinition(id, &def)); err != nil {
			return nil, err
		}
	}

	if violations := reg.Validate(); len(violations) > 0 {
		details := make([]string, len(violations))
		for i, v := range violations {
			details[i] = v.Detail
		}
		return nil, &Error{
			Code:    CodeNarrativeCoherence,
			Message: fmt.Sprintf("content has %d violation(s)", len(violations)),
			Reasons: details,
		}
	}

	return reg, nil
}

// LoadRegistry loads and validates all content in dir
func LoadRegistry(dir string) (*Registry, error) {
	config, err := LoadFromDirectory(dir)
	if err != nil {
		return nil, err
	}
	return config.BuildRegistry()
}

// createQuestFromDefinition converts a YAML definition to a Quest template
func createQuestFromDefinition(id string, def *QuestDefinition) *types.Quest {
	nodes := make(map[string]*types.QuestNode, len(def.Nodes))
	for nodeID, n := range def.Nodes {
		nodes[nodeID] = &types.QuestNode{
			ID:          nodeID,
			QuestID:     id,
			Title:       n.Title,
			NPCID:       n.NPCID,
			LocationID:  n.LocationID,
			Reward:      n.Reward,
			Objectives:  n.Objectives,
			Transitions: n.Transitions,
			Terminal:    n.Terminal,
		}
	}

	branches := make(map[string]*types.QuestBranch, len(def.Branches))
	for branchID, b := range def.Branches {
		branches[branchID] = &types.QuestBranch{
			ID:           branchID,
			QuestID:      id,
			Name:         b.Name,
			Conditions:   b.Conditions,
			Consequences: b.Consequences,
			EntryNode:    b.EntryNode,
			Nodes:        b.Nodes,
		}
	}

	// Ensure slices are not nil
	required := def.RequiredQuests
	if required == nil {
		required = []string{}
	}
	minRep := def.MinReputation
	if minRep == nil {
		minRep = map[string]int{}
	}

	return &types.Quest{
		ID:             id,
		Name:           def.Name,
		Description:    def.Description,
		RequiredQuests: required,
		MinLevel:       def.MinLevel,
		MinReputation:  minRep,
		EntryNode:      def.EntryNode,
		Nodes:          nodes,
		Branches:       branches,
		Relationships:  def.Relationships,
		CriticalPaths:  def.CriticalPaths,
		Endings:        def.Endings,
	}
}

// createDialogueFromDefinition converts a YAML definition to a DialogueTree
func createDialogueFromDefinition(id string, def *DialogueDefinition) *types.DialogueTree {
	nodes := make(map[string]*types.DialogueNode, len(def.Nodes))
	for nodeID, n := range def.Nodes {
		nodes[nodeID] = &types.DialogueNode{
			ID:              nodeID,
			Speaker:         n.Speaker,
			Text:            n.Text,
			Choices:         n.Choices,
			EndConversation: n.EndConversation,
		}
	}
	return &types.DialogueTree{
		ID:    id,
		NPCID: def.NPCID,
		Root:  def.Root,
		Nodes: nodes,
	}
}

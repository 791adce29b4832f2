package types

// ConditionType identifies the variant of a BranchCondition
type ConditionType string

const (
	ConditionQuestCompleted    ConditionType = "quest_completed"
	ConditionChoiceMade        ConditionType = "choice_made"
	ConditionReputation        ConditionType = "reputation_threshold"
	ConditionItemOwned         ConditionType = "item_owned"
	ConditionSkillLevel        ConditionType = "skill_level"
	ConditionRelationshipLevel ConditionType = "relationship_level"
	ConditionFactionStanding   ConditionType = "faction_standing"
	ConditionWorldState        ConditionType = "world_state"
)

// ConditionTypes lists every known condition variant
var ConditionTypes = []ConditionType{
	ConditionQuestCompleted,
	ConditionChoiceMade,
	ConditionReputation,
	ConditionItemOwned,
	ConditionSkillLevel,
	ConditionRelationshipLevel,
	ConditionFactionStanding,
	ConditionWorldState,
}

// BranchCondition is a predicate over a PlayerContext.
// Only the parameters relevant to Type are read.
type BranchCondition struct {
	Type     ConditionType `json:"type" yaml:"type"`
	Required bool          `json:"required" yaml:"required"`

	QuestID  string `json:"quest_id,omitempty" yaml:"quest_id"`   // quest_completed
	ChoiceID string `json:"choice_id,omitempty" yaml:"choice_id"` // choice_made
	Faction  string `json:"faction,omitempty" yaml:"faction"`     // reputation_threshold, faction_standing
	ItemID   string `json:"item_id,omitempty" yaml:"item_id"`     // item_owned
	Skill    string `json:"skill,omitempty" yaml:"skill"`         // skill_level
	NPCID    string `json:"npc_id,omitempty" yaml:"npc_id"`       // relationship_level
	Flag     string `json:"flag,omitempty" yaml:"flag"`           // world_state

	// Min is the inclusive threshold for numeric variants
	Min int `json:"min,omitempty" yaml:"min"`

	// Value is the expected flag value for world_state
	Value bool `json:"value,omitempty" yaml:"value"`
}

// ConsequenceType identifies the variant of a Consequence
type ConsequenceType string

const (
	ConsequenceReputationChange      ConsequenceType = "reputation_change"
	ConsequenceRelationshipChange    ConsequenceType = "relationship_change"
	ConsequenceItemReward            ConsequenceType = "item_reward"
	ConsequenceQuestUnlock           ConsequenceType = "quest_unlock"
	ConsequenceQuestLock             ConsequenceType = "quest_lock"
	ConsequenceWorldStateChange      ConsequenceType = "world_state_change"
	ConsequenceFactionStandingChange ConsequenceType = "faction_standing_change"
)

// ConsequenceTypes lists every known consequence variant
var ConsequenceTypes = []ConsequenceType{
	ConsequenceReputationChange,
	ConsequenceRelationshipChange,
	ConsequenceItemReward,
	ConsequenceQuestUnlock,
	ConsequenceQuestLock,
	ConsequenceWorldStateChange,
	ConsequenceFactionStandingChange,
}

// Consequence is a declarative state change triggered by a choice or event
type Consequence struct {
	ID     string          `json:"id" yaml:"id"`
	Type   ConsequenceType `json:"type" yaml:"type"`
	Target string          `json:"target" yaml:"target"` // faction, NPC, item, quest or flag
	Amount int             `json:"amount,omitempty" yaml:"amount"`
	Value  bool            `json:"value,omitempty" yaml:"value"` // world_state_change
}

// RelationshipType is the kind of edge between two branches
type RelationshipType string

const (
	RelationLeadsTo       RelationshipType = "leads_to"
	RelationExclusiveWith RelationshipType = "exclusive_with"
	RelationRequires      RelationshipType = "requires"
	RelationBlocks        RelationshipType = "blocks"
)

// BranchRelationship is a directed edge in a quest's branch graph.
// exclusive_with is treated as symmetric.
type BranchRelationship struct {
	From string           `json:"from_branch" yaml:"from"`
	To   string           `json:"to_branch" yaml:"to"`
	Type RelationshipType `json:"type" yaml:"type"`
}

// QuestBranch is a gated subgraph of a quest
type QuestBranch struct {
	ID           string            `json:"id" yaml:"id"`
	QuestID      string            `json:"quest_id" yaml:"-"`
	Name         string            `json:"name" yaml:"name"`
	Conditions   []BranchCondition `json:"conditions" yaml:"conditions"`
	Consequences []Consequence     `json:"consequences" yaml:"consequences"`

	// EntryNode moves the quest instance into the branch subgraph on activation
	EntryNode string   `json:"entry_node,omitempty" yaml:"entry_node"`
	Nodes     []string `json:"nodes,omitempty" yaml:"nodes"`
}

// CriticalPath is an ordered sequence of branches that must unlock in order
type CriticalPath struct {
	ID       string   `json:"id" yaml:"id"`
	Branches []string `json:"branches" yaml:"branches"`
}

// Reward is the bundle granted when a node or ending is reached
type Reward struct {
	Experience int      `json:"experience" yaml:"experience"`
	Currency   int      `json:"currency" yaml:"currency"`
	Items      []string `json:"items" yaml:"items"`
}

// IsEmpty reports whether the reward grants nothing
func (r Reward) IsEmpty() bool {
	return r.Experience == 0 && r.Currency == 0 && len(r.Items) == 0
}

// Objective is a player-facing goal attached to a quest node
type Objective struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description" yaml:"description"`
	Optional    bool   `json:"optional" yaml:"optional"`

	// Target is the progress that completes the objective; zero means 1
	Target int `json:"target,omitempty" yaml:"target"`
}

// ObjectiveStep advances a quest objective when a choice is taken.
// Amount defaults to 1; Complete jumps straight to the target.
type ObjectiveStep struct {
	QuestID     string `json:"quest_id,omitempty" yaml:"quest_id"` // dialogue choices only
	ObjectiveID string `json:"objective_id" yaml:"objective_id"`
	Amount      int    `json:"amount,omitempty" yaml:"amount"`
	Complete    bool   `json:"complete,omitempty" yaml:"complete"`
}

// NodeTransition is a quest-level choice offered at a node
type NodeTransition struct {
	ChoiceID        string            `json:"choice_id" yaml:"choice_id"`
	Text            string            `json:"text" yaml:"text"`
	ToNode          string            `json:"to_node" yaml:"to_node"`
	ActivatesBranch string            `json:"activates_branch,omitempty" yaml:"activates_branch"`
	Conditions      []BranchCondition `json:"conditions,omitempty" yaml:"conditions"`
	Consequences    []Consequence     `json:"consequences,omitempty" yaml:"consequences"`
	Progress        []ObjectiveStep   `json:"progress,omitempty" yaml:"progress"`
}

// QuestNode is an immutable step of a quest template
type QuestNode struct {
	ID          string           `json:"id" yaml:"id"`
	QuestID     string           `json:"quest_id" yaml:"-"`
	Title       string           `json:"title" yaml:"title"`
	NPCID       string           `json:"npc_id,omitempty" yaml:"npc_id"`
	LocationID  string           `json:"location_id,omitempty" yaml:"location_id"`
	Reward      Reward           `json:"reward" yaml:"reward"`
	Objectives  []Objective      `json:"objectives" yaml:"objectives"`
	Transitions []NodeTransition `json:"transitions" yaml:"transitions"`
	Terminal    bool             `json:"terminal" yaml:"terminal"`
}

// Ending is one possible conclusion of a quest
type Ending struct {
	ID               string            `json:"id" yaml:"id"`
	Title            string            `json:"title" yaml:"title"`
	Conditions       []BranchCondition `json:"conditions" yaml:"conditions"`
	RequiredBranches []string          `json:"required_branches" yaml:"required_branches"`
	Reward           Reward            `json:"reward" yaml:"reward"`
}

// Quest is an immutable quest template loaded from content
type Quest struct {
	ID             string                  `json:"id"`
	Name           string                  `json:"name"`
	Description    string                  `json:"description"`
	RequiredQuests []string                `json:"required_quests"`
	MinLevel       int                     `json:"min_level"`
	MinReputation  map[string]int          `json:"min_reputation"`
	EntryNode      string                  `json:"entry_node"`
	Nodes          map[string]*QuestNode   `json:"nodes"`
	Branches       map[string]*QuestBranch `json:"branches"`
	Relationships  []BranchRelationship    `json:"relationships"`
	CriticalPaths  []CriticalPath          `json:"critical_paths"`
	Endings        []Ending                `json:"endings"`
}

// SkillCheck is a probabilistic gate on a dialogue choice
type SkillCheck struct {
	Skill       string `json:"skill" yaml:"skill"`
	Difficulty  int    `json:"difficulty" yaml:"difficulty"`
	Advantage   bool   `json:"advantage" yaml:"advantage"`
	SuccessNode string `json:"success_node,omitempty" yaml:"success_node"`
	FailureNode string `json:"failure_node,omitempty" yaml:"failure_node"`
}

// Choice is an option offered at a dialogue node
type Choice struct {
	ID              string            `json:"id" yaml:"id"`
	Text            string            `json:"text" yaml:"text"`
	LeadsToNode     string            `json:"leads_to_node" yaml:"leads_to_node"`
	RequiredFlags   []string          `json:"required_flags,omitempty" yaml:"required_flags"`
	RequiredItems   []string          `json:"required_items,omitempty" yaml:"required_items"`
	Conditions      []BranchCondition `json:"conditions,omitempty" yaml:"conditions"`
	SkillCheck      *SkillCheck       `json:"skill_check,omitempty" yaml:"skill_check"`
	SetFlags        []string          `json:"set_flags,omitempty" yaml:"set_flags"`
	Consequences    []Consequence     `json:"consequences,omitempty" yaml:"consequences"`
	QuestID         string            `json:"quest_id,omitempty" yaml:"quest_id"`
	ActivatesBranch string            `json:"activates_branch,omitempty" yaml:"activates_branch"`
	Progress        []ObjectiveStep   `json:"progress,omitempty" yaml:"progress"`
	EndConversation bool              `json:"end_conversation,omitempty" yaml:"end_conversation"`
}

// DialogueNode is a node in a per-NPC conversation graph
type DialogueNode struct {
	ID              string   `json:"id" yaml:"id"`
	Speaker         string   `json:"speaker" yaml:"speaker"`
	Text            string   `json:"text" yaml:"text"`
	Choices         []Choice `json:"choices" yaml:"choices"`
	EndConversation bool     `json:"end_conversation" yaml:"end_conversation"`
}

// IsTerminal reports whether the conversation ends at this node
func (n *DialogueNode) IsTerminal() bool {
	return n.EndConversation || len(n.Choices) == 0
}

// DialogueTree is the conversation graph for one NPC
type DialogueTree struct {
	ID    string                   `json:"id"`
	NPCID string                   `json:"npc_id"`
	Root  string                   `json:"root"`
	Nodes map[string]*DialogueNode `json:"nodes"`
}

// LockedOption is a choice the character cannot take yet
type LockedOption struct {
	ChoiceID     string   `json:"choice_id"`
	Text         string   `json:"text"`
	MissingFlags []string `json:"missing_flags"`
	MissingItems []string `json:"missing_items"`
	Reasons      []string `json:"reasons"`
}

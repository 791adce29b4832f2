package types

// DialogueRequest asks the walker to take a choice at the current node
type DialogueRequest struct {
	CharacterID   string `json:"character_id"`
	TreeID        string `json:"tree_id"`
	ChoiceID      string `json:"choice_id"`
	SkillModifier int    `json:"skill_modifier"`
	Seed          *int64 `json:"seed,omitempty"`
}

// DialogueView is the live projection of a dialogue node for a character
type DialogueView struct {
	TreeID  string         `json:"tree_id"`
	NodeID  string         `json:"node_id"`
	Speaker string         `json:"speaker"`
	Text    string         `json:"text"`
	Offered []Choice       `json:"offered"`
	Locked  []LockedOption `json:"locked"`
	Ended   bool           `json:"ended"`
}

// DialogueResult is the outcome of executing a dialogue choice
type DialogueResult struct {
	PreviousNode    string                 `json:"previous_node"`
	Node            DialogueView           `json:"node"`
	SkillCheck      *SkillCheckResult      `json:"skill_check,omitempty"`
	Consequences    []StateDelta           `json:"consequences"`
	BranchActivated string                 `json:"branch_activated,omitempty"`
	NewState        *NarrativeSessionState `json:"new_state"`
}

// BranchActivationResult is the outcome of activating a quest branch
type BranchActivationResult struct {
	BranchID     string                 `json:"branch_id"`
	Deactivated  []string               `json:"deactivated"`
	Consequences []StateDelta           `json:"consequences"`
	Choice       PlayerChoice           `json:"choice"`
	NewState     *NarrativeSessionState `json:"new_state"`
}

// QuestChoiceResult is the outcome of a quest-level choice
type QuestChoiceResult struct {
	QuestID         string                 `json:"quest_id"`
	PreviousNode    string                 `json:"previous_node"`
	CurrentNode     string                 `json:"current_node"`
	BranchActivated string                 `json:"branch_activated,omitempty"`
	Completed       bool                   `json:"completed"`
	EndingID        string                 `json:"ending_id,omitempty"`
	Consequences    []StateDelta           `json:"consequences"`
	NewState        *NarrativeSessionState `json:"new_state"`
}

// BranchAvailability describes whether a branch could be activated now
type BranchAvailability struct {
	BranchID        string   `json:"branch_id"`
	Name            string   `json:"name"`
	Active          bool     `json:"active"`
	Eligible        bool     `json:"eligible"`
	Recommended     bool     `json:"recommended"`
	Score           float64  `json:"score"`
	MissingFlags    []string `json:"missing_flags"`
	MissingItems    []string `json:"missing_items"`
	Reasons         []string `json:"reasons"`
	Conflicts       []string `json:"conflicts"`
	MissingRequires []string `json:"missing_requires"`
}

// EndingAvailability describes whether an ending is reachable now
type EndingAvailability struct {
	EndingID  string   `json:"ending_id"`
	Title     string   `json:"title"`
	Available bool     `json:"available"`
	Reasons   []string `json:"reasons"`
}

// GraphNode is a vertex in a read-only graph projection
type GraphNode struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Kind   string `json:"kind"`
	Status string `json:"status,omitempty"`
}

// GraphEdge is a directed edge in a read-only graph projection
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// GraphProjection is a nodes/edges view for UI visualization
type GraphProjection struct {
	QuestID string      `json:"quest_id"`
	Nodes   []GraphNode `json:"nodes"`
	Edges   []GraphEdge `json:"edges"`
}

// ViolationKind classifies coherence violations
type ViolationKind string

const (
	ViolationExclusive        ViolationKind = "exclusive_conflict"
	ViolationRequires         ViolationKind = "requires_unsatisfied"
	ViolationCriticalPath     ViolationKind = "critical_path_order"
	ViolationUnknownReference ViolationKind = "unknown_reference"
	ViolationContradiction    ViolationKind = "contradictory_relationship"
	ViolationRequiresCycle    ViolationKind = "requires_cycle"
	ViolationUnreachablePath  ViolationKind = "unreachable_critical_path"
	ViolationInvalidVariant   ViolationKind = "invalid_variant"
	ViolationDuplicateID      ViolationKind = "duplicate_id"
)

// Violation is a single coherence problem
type Violation struct {
	Kind     ViolationKind `json:"kind"`
	QuestID  string        `json:"quest_id,omitempty"`
	Branches []string      `json:"branches,omitempty"`
	Detail   string        `json:"detail"`
}

// CoherenceReport is the output of an explicit coherence validation
type CoherenceReport struct {
	CharacterID string      `json:"character_id"`
	QuestID     string      `json:"quest_id"`
	Coherent    bool        `json:"coherent"`
	Static      []Violation `json:"static"`
	Dynamic     []Violation `json:"dynamic"`
}

// RaidSpec describes a raid party
type RaidSpec struct {
	RaidID  string   `json:"raid_id"`
	Kind    string   `json:"kind"`
	Leader  string   `json:"leader"`
	Members []string `json:"members"`
}

// PhaseAdvanceRequest asks to move a raid to its next phase
type PhaseAdvanceRequest struct {
	RaidID    string `json:"raid_id"`
	ActorID   string `json:"actor_id"`
	FromPhase string `json:"from_phase"`
	ToPhase   string `json:"to_phase"`
}

// PhaseAdvanceResult is the outcome of a raid phase advance
type PhaseAdvanceResult struct {
	RaidID        string          `json:"raid_id"`
	PreviousPhase string          `json:"previous_phase"`
	NewPhase      string          `json:"new_phase"`
	Transition    PhaseTransition `json:"transition"`
}

// AnomalyAction is a way of dealing with a reality anomaly
type AnomalyAction string

const (
	AnomalyStabilize  AnomalyAction = "stabilize"
	AnomalyNeutralize AnomalyAction = "neutralize"
	AnomalyBypass     AnomalyAction = "bypass"
)

// AnomalyRequest asks to resolve a reality anomaly
type AnomalyRequest struct {
	CharacterID string        `json:"character_id"`
	AnomalyID   string        `json:"anomaly_id"`
	Action      AnomalyAction `json:"action"`
	Severity    int           `json:"severity"`
	Seed        *int64        `json:"seed,omitempty"`
}

// AnomalyResult is the outcome of handling a reality anomaly
type AnomalyResult struct {
	AnomalyID     string        `json:"anomaly_id"`
	Action        AnomalyAction `json:"action"`
	SuccessChance float64       `json:"success_chance"`
	Success       bool          `json:"success"`
	SanityBefore  int           `json:"sanity_before"`
	SanityAfter   int           `json:"sanity_after"`
	SanityImpact  int           `json:"sanity_impact"`
	Status        string        `json:"status"`
	ThreatAfter   int           `json:"threat_after"`
	Seed          int64         `json:"seed"`
	Consequences  []StateDelta  `json:"consequences"`
}

// MemberSanity is one party member's sanity reading
type MemberSanity struct {
	CharacterID string `json:"character_id"`
	Sanity      int    `json:"sanity"`
	Status      string `json:"status"`
}

// PartySanity is a consistent sanity reading across a raid party
type PartySanity struct {
	RaidID  string         `json:"raid_id"`
	Members []MemberSanity `json:"members"`
	Min     int            `json:"min"`
	Average float64        `json:"average"`
	Status  string         `json:"status"`
}

// FlushReport summarizes one delivery pass
type FlushReport struct {
	CharacterID string               `json:"character_id"`
	Delivered   []string             `json:"delivered"`
	Duplicates  []string             `json:"duplicates"`
	Deferred    []PendingConsequence `json:"deferred"`
}

// ObjectiveStatus is an objective together with a character's progress on it
type ObjectiveStatus struct {
	ID          string `json:"id"`
	NodeID      string `json:"node_id"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Current     int    `json:"current"`
	Target      int    `json:"target"`
	Completed   bool   `json:"completed"`
	Active      bool   `json:"active"` // belongs to the quest's current node
}

package types

import "time"

// QuestStatus is the lifecycle state of a quest instance
type QuestStatus string

const (
	QuestActive    QuestStatus = "active"
	QuestCompleted QuestStatus = "completed"
	QuestAbandoned QuestStatus = "abandoned"
)

// QuestInstance is a character's run through a quest template
type QuestInstance struct {
	InstanceID   string      `json:"instance_id"`
	QuestID      string      `json:"quest_id"`
	Status       QuestStatus `json:"status"`
	CurrentNode  string      `json:"current_node"`
	VisitedNodes []string    `json:"visited_nodes"`
	EndingID     string      `json:"ending_id,omitempty"`
	StartedAt    time.Time   `json:"started_at"`
	EndedAt      *time.Time  `json:"ended_at,omitempty"`

	Progress map[string]ObjectiveProgress `json:"progress"` // objectiveID -> progress
}

// ObjectiveProgress tracks one objective of a quest instance
type ObjectiveProgress struct {
	Current   int  `json:"current"`
	Target    int  `json:"target"`
	Completed bool `json:"completed"`
}

// DialogueStatus is the walker state for one conversation
type DialogueStatus string

const (
	DialogueAtNode DialogueStatus = "at_node"
	// DialogueSkillCheckPending only exists while a check resolves inside a
	// single mutation. Committed sessions are never left in it.
	DialogueSkillCheckPending DialogueStatus = "skill_check_pending"
	DialogueEnded             DialogueStatus = "ended"
)

// DialogueSession tracks a character's position in one dialogue tree
type DialogueSession struct {
	TreeID      string         `json:"tree_id"`
	CurrentNode string         `json:"current_node"`
	Status      DialogueStatus `json:"status"`
	Visits      map[string]int `json:"visits"`
}

// ExternalState mirrors values owned by collaborator services
type ExternalState struct {
	Reputation      map[string]int  `json:"reputation"`
	Inventory       map[string]int  `json:"inventory"`
	Skills          map[string]int  `json:"skills"`
	Relationships   map[string]int  `json:"relationships"`
	FactionStanding map[string]int  `json:"faction_standing"`
	WorldState      map[string]bool `json:"world_state"`
}

// NewExternalState returns an ExternalState with all maps allocated
func NewExternalState() ExternalState {
	return ExternalState{
		Reputation:      make(map[string]int),
		Inventory:       make(map[string]int),
		Skills:          make(map[string]int),
		Relationships:   make(map[string]int),
		FactionStanding: make(map[string]int),
		WorldState:      make(map[string]bool),
	}
}

// RaidProgress is one member's view of a special raid
type RaidProgress struct {
	RaidID  string   `json:"raid_id"`
	Kind    string   `json:"kind"`
	Leader  string   `json:"leader"`
	Members []string `json:"members"`
	Phase   string   `json:"phase"`
}

// PhaseTransition records one raid phase advance
type PhaseTransition struct {
	RaidID        string    `json:"raid_id"`
	PreviousPhase string    `json:"previous_phase"`
	NewPhase      string    `json:"new_phase"`
	AdvancedBy    string    `json:"advanced_by"`
	Timestamp     time.Time `json:"timestamp"`
}

// NarrativeSessionState is the per-character narrative record
type NarrativeSessionState struct {
	CharacterID string `json:"character_id"`
	Version     int64  `json:"version"`
	Level       int    `json:"level"`

	Quests          map[string]*QuestInstance `json:"quests"`
	ArchivedQuests  []QuestInstance           `json:"archived_quests"`
	CompletedQuests map[string]bool           `json:"completed_quests"`
	UnlockedQuests  map[string]bool           `json:"unlocked_quests"`
	LockedQuests    map[string]bool           `json:"locked_quests"`

	ActiveBranches    map[string]bool `json:"active_branches"`
	ActivatedBranches map[string]bool `json:"activated_branches"`
	LockedBranches    map[string]bool `json:"locked_branches"`

	Dialogues map[string]*DialogueSession `json:"dialogues"`
	Flags     map[string]bool             `json:"flags"`

	Choices []PlayerChoice       `json:"choices"`
	Pending []PendingConsequence `json:"pending"`

	External ExternalState `json:"external"`

	Sanity int                     `json:"sanity"`
	Threat int                     `json:"threat"`
	Raids  map[string]RaidProgress `json:"raids"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewSessionState creates an empty narrative record for a character
func NewSessionState(characterID string, sanity int) *NarrativeSessionState {
	return &NarrativeSessionState{
		CharacterID:       characterID,
		Quests:            make(map[string]*QuestInstance),
		ArchivedQuests:    make([]QuestInstance, 0),
		CompletedQuests:   make(map[string]bool),
		UnlockedQuests:    make(map[string]bool),
		LockedQuests:      make(map[string]bool),
		ActiveBranches:    make(map[string]bool),
		ActivatedBranches: make(map[string]bool),
		LockedBranches:    make(map[string]bool),
		Dialogues:         make(map[string]*DialogueSession),
		Flags:             make(map[string]bool),
		Choices:           make([]PlayerChoice, 0),
		Pending:           make([]PendingConsequence, 0),
		External:          NewExternalState(),
		Sanity:            sanity,
		Raids:             make(map[string]RaidProgress),
		UpdatedAt:         time.Now(),
	}
}

// Normalize allocates any nil maps, e.g. after decoding old records
func (s *NarrativeSessionState) Normalize() {
	if s.Quests == nil {
		s.Quests = make(map[string]*QuestInstance)
	}
	for _, q := range s.Quests {
		if q.Progress == nil {
			q.Progress = make(map[string]ObjectiveProgress)
		}
	}
	if s.CompletedQuests == nil {
		s.CompletedQuests = make(map[string]bool)
	}
	if s.UnlockedQuests == nil {
		s.UnlockedQuests = make(map[string]bool)
	}
	if s.LockedQuests == nil {
		s.LockedQuests = make(map[string]bool)
	}
	if s.ActiveBranches == nil {
		s.ActiveBranches = make(map[string]bool)
	}
	if s.ActivatedBranches == nil {
		s.ActivatedBranches = make(map[string]bool)
	}
	if s.LockedBranches == nil {
		s.LockedBranches = make(map[string]bool)
	}
	if s.Dialogues == nil {
		s.Dialogues = make(map[string]*DialogueSession)
	}
	if s.Flags == nil {
		s.Flags = make(map[string]bool)
	}
	if s.Raids == nil {
		s.Raids = make(map[string]RaidProgress)
	}
	ext := &s.External
	if ext.Reputation == nil {
		ext.Reputation = make(map[string]int)
	}
	if ext.Inventory == nil {
		ext.Inventory = make(map[string]int)
	}
	if ext.Skills == nil {
		ext.Skills = make(map[string]int)
	}
	if ext.Relationships == nil {
		ext.Relationships = make(map[string]int)
	}
	if ext.FactionStanding == nil {
		ext.FactionStanding = make(map[string]int)
	}
	if ext.WorldState == nil {
		ext.WorldState = make(map[string]bool)
	}
}

// Clone returns a deep copy of the state
func (s *NarrativeSessionState) Clone() *NarrativeSessionState {
	c := *s

	c.Quests = make(map[string]*QuestInstance, len(s.Quests))
	for id, q := range s.Quests {
		qc := *q
		qc.VisitedNodes = append([]string(nil), q.VisitedNodes...)
		qc.Progress = make(map[string]ObjectiveProgress, len(q.Progress))
		for id, p := range q.Progress {
			qc.Progress[id] = p
		}
		if q.EndedAt != nil {
			t := *q.EndedAt
			qc.EndedAt = &t
		}
		c.Quests[id] = &qc
	}
	c.ArchivedQuests = append([]QuestInstance(nil), s.ArchivedQuests...)
	c.CompletedQuests = cloneBoolMap(s.CompletedQuests)
	c.UnlockedQuests = cloneBoolMap(s.UnlockedQuests)
	c.LockedQuests = cloneBoolMap(s.LockedQuests)
	c.ActiveBranches = cloneBoolMap(s.ActiveBranches)
	c.ActivatedBranches = cloneBoolMap(s.ActivatedBranches)
	c.LockedBranches = cloneBoolMap(s.LockedBranches)
	c.Flags = cloneBoolMap(s.Flags)

	c.Dialogues = make(map[string]*DialogueSession, len(s.Dialogues))
	for id, d := range s.Dialogues {
		dc := *d
		dc.Visits = cloneIntMap(d.Visits)
		c.Dialogues[id] = &dc
	}

	// history records are immutable once appended
	c.Choices = append([]PlayerChoice(nil), s.Choices...)
	c.Pending = append([]PendingConsequence(nil), s.Pending...)

	c.External = ExternalState{
		Reputation:      cloneIntMap(s.External.Reputation),
		Inventory:       cloneIntMap(s.External.Inventory),
		Skills:          cloneIntMap(s.External.Skills),
		Relationships:   cloneIntMap(s.External.Relationships),
		FactionStanding: cloneIntMap(s.External.FactionStanding),
		WorldState:      cloneBoolMap(s.External.WorldState),
	}

	c.Raids = make(map[string]RaidProgress, len(s.Raids))
	for id, r := range s.Raids {
		r.Members = append([]string(nil), r.Members...)
		c.Raids[id] = r
	}
	return &c
}

func cloneBoolMap(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneIntMap(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// PlayerContext is the read-only view fed to the condition evaluator
type PlayerContext struct {
	CharacterID     string
	Level           int
	CompletedQuests map[string]bool
	ChoicesMade     map[string]bool
	Reputation      map[string]int
	Inventory       map[string]int
	Skills          map[string]int
	Relationships   map[string]int
	FactionStanding map[string]int
	WorldState      map[string]bool
	Flags           map[string]bool
	ActiveBranches  map[string]bool
	Sanity          int
}

// Context builds a PlayerContext from the state. The maps are copies.
// Choices whose skill check failed do not count as made.
func (s *NarrativeSessionState) Context() PlayerContext {
	choices := make(map[string]bool, len(s.Choices))
	for _, c := range s.Choices {
		if c.ChoiceID != "" && !c.Failed {
			choices[c.ChoiceID] = true
		}
	}
	return PlayerContext{
		CharacterID:     s.CharacterID,
		Level:           s.Level,
		CompletedQuests: cloneBoolMap(s.CompletedQuests),
		ChoicesMade:     choices,
		Reputation:      cloneIntMap(s.External.Reputation),
		Inventory:       cloneIntMap(s.External.Inventory),
		Skills:          cloneIntMap(s.External.Skills),
		Relationships:   cloneIntMap(s.External.Relationships),
		FactionStanding: cloneIntMap(s.External.FactionStanding),
		WorldState:      cloneBoolMap(s.External.WorldState),
		Flags:           cloneBoolMap(s.Flags),
		ActiveBranches:  cloneBoolMap(s.ActiveBranches),
		Sanity:          s.Sanity,
	}
}

package types

import "time"

// DeltaTarget names the collaborator that owns the changed value
type DeltaTarget string

const (
	TargetInventory  DeltaTarget = "inventory"
	TargetReputation DeltaTarget = "reputation"
	TargetWorld      DeltaTarget = "world"
	TargetSession    DeltaTarget = "session"
)

// DeltaKind is the concrete change carried by a StateDelta
type DeltaKind string

const (
	DeltaItemGrant          DeltaKind = "item_grant"
	DeltaCurrencyGrant      DeltaKind = "currency_grant"
	DeltaExperienceGrant    DeltaKind = "experience_grant"
	DeltaReputation         DeltaKind = "reputation_change"
	DeltaRelationship       DeltaKind = "relationship_change"
	DeltaFactionStanding    DeltaKind = "faction_standing_change"
	DeltaWorldState         DeltaKind = "world_state_change"
	DeltaQuestVisibility    DeltaKind = "quest_visibility"
	DeltaBranchDeactivation DeltaKind = "branch_deactivated"
)

// StateDelta is a single change emitted by the consequence applier
type StateDelta struct {
	ConsequenceID string      `json:"consequence_id"`
	CharacterID   string      `json:"character_id"`
	Target        DeltaTarget `json:"target"`
	Kind          DeltaKind   `json:"kind"`
	Key           string      `json:"key"`
	Amount        int         `json:"amount,omitempty"`
	Previous      int         `json:"previous,omitempty"`
	Current       int         `json:"current,omitempty"`
	Value         bool        `json:"value,omitempty"`
}

// IsExternal reports whether a collaborator must receive the delta
func (d StateDelta) IsExternal() bool {
	return d.Target != TargetSession
}

// PendingConsequence is a staged delta awaiting downstream delivery
type PendingConsequence struct {
	ID             string     `json:"id"`
	CharacterID    string     `json:"character_id"`
	SourceChoiceID string     `json:"source_choice_id"`
	Delta          StateDelta `json:"delta"`
	Attempts       int        `json:"attempts"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastAttemptAt  *time.Time `json:"last_attempt_at,omitempty"`
}

// IdempotencyKey is the (characterId, consequenceId) delivery key
func (p PendingConsequence) IdempotencyKey() string {
	return p.CharacterID + ":" + p.ID
}

// ChoiceSource tells which operation produced a PlayerChoice
type ChoiceSource string

const (
	SourceQuest    ChoiceSource = "quest"
	SourceBranch   ChoiceSource = "branch"
	SourceDialogue ChoiceSource = "dialogue"
	SourceAnomaly  ChoiceSource = "anomaly"
)

// SkillCheckResult is the resolved outcome of a skill check
type SkillCheckResult struct {
	Skill           string `json:"skill"`
	Difficulty      int    `json:"difficulty"`
	Rolls           []int  `json:"rolls"`
	Roll            int    `json:"roll"`
	SkillValue      int    `json:"skill_value"`
	Modifier        int    `json:"modifier"`
	Total           int    `json:"total"`
	Margin          int    `json:"margin"`
	Success         bool   `json:"success"`
	CriticalSuccess bool   `json:"critical_success"`
	CriticalFailure bool   `json:"critical_failure"`
	AdvantageUsed   bool   `json:"advantage_used"`
	Seed            int64  `json:"seed"`
}

// PlayerChoice is an immutable history record
type PlayerChoice struct {
	ID                  string            `json:"id"`
	CharacterID         string            `json:"character_id"`
	Source              ChoiceSource      `json:"source"`
	QuestID             string            `json:"quest_id,omitempty"`
	TreeID              string            `json:"tree_id,omitempty"`
	NodeID              string            `json:"node_id"`
	ChoiceID            string            `json:"choice_id"`
	BranchID            string            `json:"branch_id,omitempty"`
	NextNodeID          string            `json:"next_node_id,omitempty"`
	SkillCheck          *SkillCheckResult `json:"skill_check,omitempty"`
	Failed              bool              `json:"failed,omitempty"` // the skill check behind the choice failed
	Consequences        []StateDelta      `json:"consequences"`
	DeactivatedBranches []string          `json:"deactivated_branches,omitempty"`
	Timestamp           time.Time         `json:"timestamp"`
}

// NarrativeEvent is a write-only notification for telemetry and live streams
type NarrativeEvent struct {
	Type        string         `json:"type"`
	CharacterID string         `json:"character_id,omitempty"`
	RaidID      string         `json:"raid_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

const (
	EventQuestStarted         = "quest_started"
	EventQuestCompleted       = "quest_completed"
	EventQuestAbandoned       = "quest_abandoned"
	EventBranchActivated      = "branch_activated"
	EventDialogueAdvanced     = "dialogue_advanced"
	EventRaidStarted          = "raid_started"
	EventRaidPhaseAdvanced    = "raid_phase_advanced"
	EventRaidMemberLeft       = "raid_member_left"
	EventAnomalyResolved      = "anomaly_resolved"
	EventSanityChanged        = "sanity_changed"
	EventConsequenceDeferred  = "consequence_deferred"
	EventConsequenceDelivered = "consequence_delivered"
)

package interfaces

import (
	"context"

	"github.com/user/narrative-engine/internal/types"
)

// DeltaDeliverer hands a staged delta to the collaborator that owns it.
// Implementations must treat idempotencyKey as a dedupe key.
type DeltaDeliverer interface {
	Deliver(ctx context.Context, delta types.StateDelta, idempotencyKey string) error
}

// SessionRepository persists narrative session records
type SessionRepository interface {
	Load(ctx context.Context, characterID string) (*types.NarrativeSessionState, error)
	Save(ctx context.Context, state *types.NarrativeSessionState) error
	Delete(ctx context.Context, characterID string) error
	List(ctx context.Context) ([]string, error)
}

// EventSink receives write-only narrative events
type EventSink interface {
	Publish(event types.NarrativeEvent)
}

// NarrativeEngine defines the operations exposed to transports
type NarrativeEngine interface {
	SyncPlayerState(ctx context.Context, characterID string, level int, external types.ExternalState) (*types.NarrativeSessionState, error)
	GetState(ctx context.Context, characterID string) (*types.NarrativeSessionState, error)
	ResetNarrative(ctx context.Context, characterID string) error

	StartQuest(ctx context.Context, characterID, questID string) (*types.QuestInstance, error)
	AbandonQuest(ctx context.Context, characterID, questID string) error
	MakeQuestChoice(ctx context.Context, characterID, questID, choiceID string) (*types.QuestChoiceResult, error)
	ActivateQuestBranch(ctx context.Context, characterID, questID, branchID, choiceID string) (*types.BranchActivationResult, error)

	StartDialogue(ctx context.Context, characterID, treeID string) (*types.DialogueView, error)
	ExecuteDialogueNode(ctx context.Context, req types.DialogueRequest) (*types.DialogueResult, error)

	GetAvailableBranches(ctx context.Context, characterID, questID string) ([]types.BranchAvailability, error)
	GetAvailableEndings(ctx context.Context, characterID, questID string) ([]types.EndingAvailability, error)
	GetObjectives(ctx context.Context, characterID, questID string) ([]types.ObjectiveStatus, error)
	GetBranchConnections(ctx context.Context, characterID, questID string) (*types.GraphProjection, error)
	GetQuestGraph(ctx context.Context, questID string) (*types.GraphProjection, error)
	ValidateBranchCoherence(ctx context.Context, characterID, questID string) (*types.CoherenceReport, error)

	GetPendingConsequences(ctx context.Context, characterID string) ([]types.PendingConsequence, error)
	FlushConsequences(ctx context.Context, characterID string) (*types.FlushReport, error)

	StartRaid(ctx context.Context, spec types.RaidSpec) error
	AdvanceRaidPhase(ctx context.Context, req types.PhaseAdvanceRequest) (*types.PhaseAdvanceResult, error)
	AdvanceBlackwallPhase(ctx context.Context, req types.PhaseAdvanceRequest) (*types.PhaseAdvanceResult, error)
	AdjustSanity(ctx context.Context, characterID string, delta int, reason string) (*types.MemberSanity, error)
	ApplyPartySanityShock(ctx context.Context, raidID string, delta int) (*types.PartySanity, error)
	HandleRealityAnomaly(ctx context.Context, req types.AnomalyRequest) (*types.AnomalyResult, error)
	GetPartySanity(ctx context.Context, raidID string) (*types.PartySanity, error)
}

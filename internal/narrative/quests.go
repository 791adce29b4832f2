package narrative

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/user/narrative-engine/internal/types"
	"go.uber.org/zap"
)

func (e *Engine) quest(questID string) (*types.Quest, error) {
	q, ok := e.registry.Quest(questID)
	if !ok {
		return nil, notFound("quest", questID)
	}
	return q, nil
}

// activeInstance returns the draft's running instance of a quest
func activeInstance(s *types.NarrativeSessionState, questID string) (*types.QuestInstance, error) {
	inst, ok := s.Quests[questID]
	if !ok {
		return nil, notFound("active quest", questID)
	}
	if inst.Status != types.QuestActive {
		return nil, newError(CodeInvalidChoice, "quest %s is %s", questID, inst.Status)
	}
	return inst, nil
}

// StartQuest creates a quest instance at the quest's entry node
func (e *Engine) StartQuest(ctx context.Context, characterID, questID string) (*types.QuestInstance, error) {
	q, err := e.quest(questID)
	if err != nil {
		return nil, err
	}

	var started types.QuestInstance
	_, err = e.store.Mutate(ctx, characterID, func(draft *types.NarrativeSessionState) error {
		if draft.LockedQuests[questID] {
			return &Error{
				Code:    CodeBranchLocked,
				Message: fmt.Sprintf("quest %s is locked", questID),
				Reasons: []string{"locked by an earlier choice"},
			}
		}
		if inst, ok := draft.Quests[questID]; ok && inst.Status == types.QuestActive {
			return newError(CodeQuestAlreadyActive, "quest %s is already active", questID)
		}
		if draft.CompletedQuests[questID] {
			return newError(CodeInvalidChoice, "quest %s is already completed", questID)
		}

		var reasons []string
		for _, req := range q.RequiredQuests {
			if !draft.CompletedQuests[req] {
				reasons = append(reasons, fmt.Sprintf("quest %s not completed", req))
			}
		}
		if draft.Level < q.MinLevel {
			reasons = append(reasons, fmt.Sprintf("level %d below %d", draft.Level, q.MinLevel))
		}
		for _, faction := range sortedKeys(q.MinReputation) {
			min := q.MinReputation[faction]
			if have := draft.External.Reputation[faction]; have < min {
				reasons = append(reasons, fmt.Sprintf("reputation with %s is %d (need %d)", faction, have, min))
			}
		}
		if len(reasons) > 0 {
			return &Error{
				Code:    CodeRequirementUnsatisfied,
				Message: fmt.Sprintf("requirements for quest %s not met", questID),
				Reasons: reasons,
			}
		}

		inst := &types.QuestInstance{
			InstanceID:   uuid.New().String(),
			QuestID:      questID,
			Status:       types.QuestActive,
			CurrentNode:  q.EntryNode,
			VisitedNodes: []string{q.EntryNode},
			StartedAt:    e.now(),
			Progress:     initProgress(q),
		}
		draft.Quests[questID] = inst
		started = *inst
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Logger.Info("Quest started",
		zap.String("character_id", characterID),
		zap.String("quest_id", questID),
		zap.String("instance_id", started.InstanceID))
	e.emit(types.NarrativeEvent{
		Type:        types.EventQuestStarted,
		CharacterID: characterID,
		Payload:     map[string]any{"quest_id": questID, "instance_id": started.InstanceID},
	})
	return &started, nil
}

// AbandonQuest archives a running quest and drops its branch state
func (e *Engine) AbandonQuest(ctx context.Context, characterID, questID string) error {
	q, err := e.quest(questID)
	if err != nil {
		return err
	}

	_, err = e.store.Mutate(ctx, characterID, func(draft *types.NarrativeSessionState) error {
		inst, err := activeInstance(draft, questID)
		if err != nil {
			return err
		}
		e.archive(draft, inst, types.QuestAbandoned)

		for branchID := range q.Branches {
			delete(draft.ActiveBranches, branchID)
			delete(draft.ActivatedBranches, branchID)
			delete(draft.LockedBranches, branchID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.Logger.Info("Quest abandoned",
		zap.String("character_id", characterID),
		zap.String("quest_id", questID))
	e.emit(types.NarrativeEvent{
		Type:        types.EventQuestAbandoned,
		CharacterID: characterID,
		Payload:     map[string]any{"quest_id": questID},
	})
	return nil
}

// archive closes an instance and moves it into the archive
func (e *Engine) archive(draft *types.NarrativeSessionState, inst *types.QuestInstance, status types.QuestStatus) {
	now := e.now()
	inst.Status = status
	inst.EndedAt = &now
	if status == types.QuestCompleted {
		completeObjectives(inst)
	}
	draft.ArchivedQuests = append(draft.ArchivedQuests, *inst)
	delete(draft.Quests, inst.QuestID)
	if status == types.QuestCompleted {
		draft.CompletedQuests[inst.QuestID] = true
	}
}

// MakeQuestChoice takes a transition offered at the quest's current node
func (e *Engine) MakeQuestChoice(ctx context.Context, characterID, questID, choiceID string) (*types.QuestChoiceResult, error) {
	q, err := e.quest(questID)
	if err != nil {
		return nil, err
	}

	result := &types.QuestChoiceResult{QuestID: questID}
	var staged int
	var deactivated []string

	next, err := e.store.Mutate(ctx, characterID, func(draft *types.NarrativeSessionState) error {
		inst, err := activeInstance(draft, questID)
		if err != nil {
			return err
		}
		node := q.Nodes[inst.CurrentNode]

		var tr *types.NodeTransition
		for i := range node.Transitions {
			if node.Transitions[i].ChoiceID == choiceID {
				tr = &node.Transitions[i]
				break
			}
		}
		if tr == nil {
			return newError(CodeInvalidChoice, "choice %s is not offered at node %s", choiceID, node.ID)
		}

		gate := EvaluateGate(tr.Conditions, draft.Context())
		logSoftGaps(e.Logger, characterID, zap.String("choice_id", choiceID), gate)
		if !gate.Open {
			return &Error{
				Code:         CodeBranchLocked,
				Message:      fmt.Sprintf("choice %s is locked", choiceID),
				MissingFlags: gate.MissingFlags,
				MissingItems: gate.MissingItems,
				Reasons:      gate.Reasons,
			}
		}

		result.PreviousNode = inst.CurrentNode
		visited := append([]string(nil), inst.VisitedNodes...)
		moveTo(inst, tr.ToNode)

		deltas, err := ApplyAll(tr.Consequences, draft.Context())
		if err != nil {
			return err
		}
		// transition effects are visible to the branch gate below
		for _, d := range deltas {
			commitDelta(draft, d)
		}
		for _, step := range tr.Progress {
			if _, err := advanceObjective(inst, q, step); err != nil {
				return err
			}
		}

		if tr.ActivatesBranch != "" {
			act, err := e.resolver.Activate(draft, q, tr.ActivatesBranch)
			if err != nil {
				return err
			}
			for _, d := range act.Deltas {
				commitDelta(draft, d)
			}
			deltas = append(deltas, act.Deltas...)
			deactivated = act.Deactivated
			result.BranchActivated = act.BranchID
		}

		current := q.Nodes[inst.CurrentNode]
		if !contains(visited, current.ID) && !current.Reward.IsEmpty() {
			rewards := RewardDeltas("node:"+current.ID, current.Reward, draft.Context())
			for _, d := range rewards {
				commitDelta(draft, d)
			}
			deltas = append(deltas, rewards...)
		}

		result.CurrentNode = inst.CurrentNode
		if current.Terminal {
			ending := e.pickEnding(q, draft)
			if ending != nil {
				result.EndingID = ending.ID
				inst.EndingID = ending.ID
				rewards := RewardDeltas("ending:"+ending.ID, ending.Reward, draft.Context())
				for _, d := range rewards {
					commitDelta(draft, d)
				}
				deltas = append(deltas, rewards...)
			}
			result.Completed = true
			e.archive(draft, inst, types.QuestCompleted)
		}

		choice := e.record(draft, types.PlayerChoice{
			Source:              types.SourceQuest,
			QuestID:             questID,
			NodeID:              result.PreviousNode,
			ChoiceID:            choiceID,
			BranchID:            result.BranchActivated,
			NextNodeID:          result.CurrentNode,
			Consequences:        deltas,
			DeactivatedBranches: deactivated,
		})
		staged = e.queue(draft, choice.ID, deltas)
		result.Consequences = choice.Consequences
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.NewState = next.Clone()
	if result.BranchActivated != "" {
		e.emitBranchActivated(characterID, questID, result.BranchActivated, deactivated)
	}
	if result.Completed {
		e.Logger.Info("Quest completed",
			zap.String("character_id", characterID),
			zap.String("quest_id", questID),
			zap.String("ending_id", result.EndingID))
		e.emit(types.NarrativeEvent{
			Type:        types.EventQuestCompleted,
			CharacterID: characterID,
			Payload:     map[string]any{"quest_id": questID, "ending_id": result.EndingID},
		})
	}
	e.flushAfterCommit(ctx, characterID, staged)
	return result, nil
}

// pickEnding returns the first ending whose conditions and branches hold
func (e *Engine) pickEnding(q *types.Quest, s *types.NarrativeSessionState) *types.Ending {
	pc := s.Context()
	for i := range q.Endings {
		ending := &q.Endings[i]
		if ok, _ := endingOpen(ending, s, pc); ok {
			return ending
		}
	}
	return nil
}

func endingOpen(ending *types.Ending, s *types.NarrativeSessionState, pc types.PlayerContext) (bool, []string) {
	gate := EvaluateGate(ending.Conditions, pc)
	reasons := append([]string{}, gate.Reasons...)
	for _, branchID := range ending.RequiredBranches {
		if !s.ActiveBranches[branchID] {
			reasons = append(reasons, fmt.Sprintf("branch %s not active", branchID))
		}
	}
	return len(reasons) == 0, reasons
}

// ActivateQuestBranch explicitly activates a branch for a character
func (e *Engine) ActivateQuestBranch(ctx context.Context, characterID, questID, branchID, choiceID string) (*types.BranchActivationResult, error) {
	q, err := e.quest(questID)
	if err != nil {
		return nil, err
	}
	if _, ok := q.Branches[branchID]; !ok {
		return nil, notFound("branch", branchID)
	}

	result := &types.BranchActivationResult{BranchID: branchID}
	var staged int

	next, err := e.store.Mutate(ctx, characterID, func(draft *types.NarrativeSessionState) error {
		var nodeID string
		if inst, ok := draft.Quests[questID]; ok {
			nodeID = inst.CurrentNode
		}

		act, err := e.resolver.Activate(draft, q, branchID)
		if err != nil {
			return err
		}
		for _, d := range act.Deltas {
			commitDelta(draft, d)
		}

		choice := e.record(draft, types.PlayerChoice{
			Source:              types.SourceBranch,
			QuestID:             questID,
			NodeID:              nodeID,
			ChoiceID:            choiceID,
			BranchID:            branchID,
			NextNodeID:          draft.Quests[questID].CurrentNode,
			Consequences:        act.Deltas,
			DeactivatedBranches: act.Deactivated,
		})
		staged = e.queue(draft, choice.ID, act.Deltas)

		result.Deactivated = nonNil(act.Deactivated)
		result.Consequences = choice.Consequences
		result.Choice = choice
		return nil
	})
	if err != nil {
		e.Logger.Debug("Branch activation refused",
			zap.String("character_id", characterID),
			zap.String("branch_id", branchID),
			zap.String("code", string(CodeOf(err))))
		return nil, err
	}

	result.NewState = next.Clone()
	e.emitBranchActivated(characterID, questID, branchID, result.Deactivated)
	e.flushAfterCommit(ctx, characterID, staged)
	return result, nil
}

func (e *Engine) emitBranchActivated(characterID, questID, branchID string, deactivated []string) {
	e.Logger.Info("Branch activated",
		zap.String("character_id", characterID),
		zap.String("quest_id", questID),
		zap.String("branch_id", branchID),
		zap.Strings("deactivated", deactivated))
	e.emit(types.NarrativeEvent{
		Type:        types.EventBranchActivated,
		CharacterID: characterID,
		Payload: map[string]any{
			"quest_id":    questID,
			"branch_id":   branchID,
			"deactivated": deactivated,
		},
	})
}

// GetAvailableBranches lists every branch of a quest with its eligibility,
// eligible branches first, then by score
func (e *Engine) GetAvailableBranches(ctx context.Context, characterID, questID string) ([]types.BranchAvailability, error) {
	q, err := e.quest(questID)
	if err != nil {
		return nil, err
	}
	state, err := e.store.Get(ctx, characterID)
	if err != nil {
		return nil, err
	}

	out := make([]types.BranchAvailability, 0, len(q.Branches))
	for _, branchID := range sortedKeys(q.Branches) {
		out = append(out, e.resolver.Availability(q, branchID, state))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Eligible != out[j].Eligible {
			return out[i].Eligible
		}
		return out[i].Score > out[j].Score
	})
	return out, nil
}

// GetAvailableEndings reports which endings the character could reach now
func (e *Engine) GetAvailableEndings(ctx context.Context, characterID, questID string) ([]types.EndingAvailability, error) {
	q, err := e.quest(questID)
	if err != nil {
		return nil, err
	}
	state, err := e.store.Get(ctx, characterID)
	if err != nil {
		return nil, err
	}

	pc := state.Context()
	out := make([]types.EndingAvailability, 0, len(q.Endings))
	for i := range q.Endings {
		ending := &q.Endings[i]
		ok, reasons := endingOpen(ending, state, pc)
		out = append(out, types.EndingAvailability{
			EndingID:  ending.ID,
			Title:     ending.Title,
			Available: ok,
			Reasons:   nonNil(reasons),
		})
	}
	return out, nil
}

// GetObjectives returns the objectives of every node the running quest has
// visited, in visit order, with the character's progress on each
func (e *Engine) GetObjectives(ctx context.Context, characterID, questID string) ([]types.ObjectiveStatus, error) {
	q, err := e.quest(questID)
	if err != nil {
		return nil, err
	}
	state, err := e.store.Get(ctx, characterID)
	if err != nil {
		return nil, err
	}
	inst, err := activeInstance(state, questID)
	if err != nil {
		return nil, err
	}

	out := []types.ObjectiveStatus{}
	for _, nodeID := range inst.VisitedNodes {
		node, ok := q.Nodes[nodeID]
		if !ok {
			continue
		}
		for _, o := range node.Objectives {
			p, ok := inst.Progress[o.ID]
			if !ok {
				p = types.ObjectiveProgress{Target: objectiveTarget(o)}
			}
			out = append(out, types.ObjectiveStatus{
				ID:          o.ID,
				NodeID:      nodeID,
				Description: o.Description,
				Optional:    o.Optional,
				Current:     p.Current,
				Target:      p.Target,
				Completed:   p.Completed,
				Active:      nodeID == inst.CurrentNode,
			})
		}
	}
	return out, nil
}

// GetBranchConnections projects a quest's branch graph annotated with the
// character's branch state
func (e *Engine) GetBranchConnections(ctx context.Context, characterID, questID string) (*types.GraphProjection, error) {
	q, err := e.quest(questID)
	if err != nil {
		return nil, err
	}
	state, err := e.store.Get(ctx, characterID)
	if err != nil {
		return nil, err
	}

	g := &types.GraphProjection{QuestID: questID, Nodes: []types.GraphNode{}, Edges: []types.GraphEdge{}}
	for _, branchID := range sortedKeys(q.Branches) {
		status := "unavailable"
		switch {
		case state.ActiveBranches[branchID]:
			status = "active"
		case state.LockedBranches[branchID]:
			status = "locked"
		case e.resolver.Availability(q, branchID, state).Eligible:
			status = "available"
		}
		g.Nodes = append(g.Nodes, types.GraphNode{
			ID:     branchID,
			Label:  q.Branches[branchID].Name,
			Kind:   "branch",
			Status: status,
		})
	}
	for _, rel := range q.Relationships {
		g.Edges = append(g.Edges, types.GraphEdge{From: rel.From, To: rel.To, Type: string(rel.Type)})
	}
	return g, nil
}

// GetQuestGraph projects a quest's node graph
func (e *Engine) GetQuestGraph(ctx context.Context, questID string) (*types.GraphProjection, error) {
	q, err := e.quest(questID)
	if err != nil {
		return nil, err
	}

	g := &types.GraphProjection{QuestID: questID, Nodes: []types.GraphNode{}, Edges: []types.GraphEdge{}}
	for _, nodeID := range sortedKeys(q.Nodes) {
		n := q.Nodes[nodeID]
		kind := "node"
		switch {
		case n.Terminal:
			kind = "terminal"
		case nodeID == q.EntryNode:
			kind = "entry"
		}
		g.Nodes = append(g.Nodes, types.GraphNode{ID: nodeID, Label: n.Title, Kind: kind})
		for _, tr := range n.Transitions {
			g.Edges = append(g.Edges, types.GraphEdge{From: nodeID, To: tr.ToNode, Type: "transition"})
		}
	}
	for _, branchID := range sortedKeys(q.Branches) {
		b := q.Branches[branchID]
		if b.EntryNode != "" {
			g.Nodes = append(g.Nodes, types.GraphNode{ID: branchID, Label: b.Name, Kind: "branch"})
			g.Edges = append(g.Edges, types.GraphEdge{From: branchID, To: b.EntryNode, Type: "branch_entry"})
		}
	}
	return g, nil
}

// ValidateBranchCoherence reports static and dynamic violations for a quest
// without changing anything
func (e *Engine) ValidateBranchCoherence(ctx context.Context, characterID, questID string) (*types.CoherenceReport, error) {
	q, err := e.quest(questID)
	if err != nil {
		return nil, err
	}
	state, err := e.store.Get(ctx, characterID)
	if err != nil {
		return nil, err
	}

	report := &types.CoherenceReport{
		CharacterID: characterID,
		QuestID:     questID,
		Static:      ValidateQuestContent(q),
		Dynamic:     CheckQuestState(q, state),
	}
	if report.Static == nil {
		report.Static = []types.Violation{}
	}
	if report.Dynamic == nil {
		report.Dynamic = []types.Violation{}
	}
	report.Coherent = len(report.Static) == 0 && len(report.Dynamic) == 0
	return report, nil
}

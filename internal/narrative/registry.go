package narrative

import (
	"fmt"
	"sort"
	"sync"

	"github.com/user/narrative-engine/internal/types"
)

// Registry holds all loaded quest and dialogue templates
type Registry struct {
	mu          sync.RWMutex
	quests      map[string]*types.Quest        // questID -> Quest
	dialogues   map[string]*types.DialogueTree // treeID -> tree
	branchQuest map[string]string              // branchID -> questID
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		quests:      make(map[string]*types.Quest),
		dialogues:   make(map[string]*types.DialogueTree),
		branchQuest: make(map[string]string),
	}
}

// AddQuest registers a quest template. Branch IDs must be unique across
// all quests.
func (r *Registry) AddQuest(q *types.Quest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.quests[q.ID]; exists {
		return fmt.Errorf("duplicate quest %s", q.ID)
	}
	for id := range q.Branches {
		if other, exists := r.branchQuest[id]; exists {
			return fmt.Errorf("branch %s declared by both %s and %s", id, other, q.ID)
		}
	}

	for id, n := range q.Nodes {
		n.ID = id
		n.QuestID = q.ID
	}
	for id, b := range q.Branches {
		b.ID = id
		b.QuestID = q.ID
		r.branchQuest[id] = q.ID
	}
	r.quests[q.ID] = q
	return nil
}

// AddDialogue registers a dialogue tree
func (r *Registry) AddDialogue(t *types.DialogueTree) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.dialogues[t.ID]; exists {
		return fmt.Errorf("duplicate dialogue %s", t.ID)
	}
	for id, n := range t.Nodes {
		n.ID = id
	}
	r.dialogues[t.ID] = t
	return nil
}

// Quest returns a quest by ID
func (r *Registry) Quest(id string) (*types.Quest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q, exists := r.quests[id]
	return q, exists
}

// Dialogue returns a dialogue tree by ID
func (r *Registry) Dialogue(id string) (*types.DialogueTree, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.dialogues[id]
	return t, exists
}

// Branch returns a branch and its owning quest
func (r *Registry) Branch(branchID string) (*types.QuestBranch, *types.Quest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	questID, exists := r.branchQuest[branchID]
	if !exists {
		return nil, nil, false
	}
	q := r.quests[questID]
	return q.Branches[branchID], q, true
}

// QuestIDs returns all quest IDs in sorted order
func (r *Registry) QuestIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.quests))
	for id := range r.quests {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DialogueIDs returns all dialogue tree IDs in sorted order
func (r *Registry) DialogueIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.dialogues))
	for id := range r.dialogues {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate runs the static content checks over everything registered
func (r *Registry) Validate() []types.Violation {
	var out []types.Violation
	for _, id := range r.QuestIDs() {
		q, _ := r.Quest(id)
		out = append(out, ValidateQuestContent(q)...)
	}
	for _, id := range r.DialogueIDs() {
		t, _ := r.Dialogue(id)
		out = append(out, r.validateDialogue(t)...)
	}
	return out
}

func (r *Registry) validateDialogue(t *types.DialogueTree) []types.Violation {
	var out []types.Violation
	bad := func(kind types.ViolationKind, format string, args ...any) {
		out = append(out, types.Violation{Kind: kind, Detail: fmt.Sprintf("dialogue %s: ", t.ID) + fmt.Sprintf(format, args...)})
	}

	if _, ok := t.Nodes[t.Root]; !ok {
		bad(types.ViolationUnknownReference, "root node %q not defined", t.Root)
	}
	for _, nodeID := range sortedKeys(t.Nodes) {
		n := t.Nodes[nodeID]
		for _, c := range n.Choices {
			if !c.EndConversation && c.LeadsToNode == "" && (c.SkillCheck == nil || c.SkillCheck.SuccessNode == "") {
				bad(types.ViolationUnknownReference, "choice %s at %s leads nowhere", c.ID, nodeID)
			}
			for _, target := range choiceTargets(c) {
				if _, ok := t.Nodes[target]; !ok {
					bad(types.ViolationUnknownReference, "choice %s at %s targets unknown node %q", c.ID, nodeID, target)
				}
			}
			for _, cond := range c.Conditions {
				if !IsKnownCondition(cond.Type) {
					bad(types.ViolationInvalidVariant, "choice %s has unknown condition type %q", c.ID, cond.Type)
				}
			}
			for _, cons := range c.Consequences {
				if !IsKnownConsequence(cons.Type) {
					bad(types.ViolationInvalidVariant, "choice %s has unknown consequence type %q", c.ID, cons.Type)
				}
			}
			for _, step := range c.Progress {
				questID := step.QuestID
				if questID == "" {
					questID = c.QuestID
				}
				r.mu.RLock()
				q, ok := r.quests[questID]
				r.mu.RUnlock()
				if !ok {
					bad(types.ViolationUnknownReference, "choice %s advances an objective of unknown quest %q", c.ID, questID)
				} else if _, _, found := findObjective(q, step.ObjectiveID); !found {
					bad(types.ViolationUnknownReference, "choice %s advances unknown objective %q", c.ID, step.ObjectiveID)
				}
			}
			if c.ActivatesBranch != "" {
				r.mu.RLock()
				questID, ok := r.branchQuest[c.ActivatesBranch]
				r.mu.RUnlock()
				if !ok {
					bad(types.ViolationUnknownReference, "choice %s activates unknown branch %q", c.ID, c.ActivatesBranch)
				} else if c.QuestID != "" && c.QuestID != questID {
					bad(types.ViolationUnknownReference, "choice %s activates branch %s outside quest %s", c.ID, c.ActivatesBranch, c.QuestID)
				}
			}
		}
	}
	return out
}

func choiceTargets(c types.Choice) []string {
	var out []string
	if c.LeadsToNode != "" {
		out = append(out, c.LeadsToNode)
	}
	if c.SkillCheck != nil {
		if c.SkillCheck.SuccessNode != "" {
			out = append(out, c.SkillCheck.SuccessNode)
		}
		if c.SkillCheck.FailureNode != "" {
			out = append(out, c.SkillCheck.FailureNode)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
